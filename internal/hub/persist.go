package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chathub/internal/domain"
)

// Store is the durable collaborator. The hub never waits on it to deliver an
// event; writes are queued and applied by a background worker.
type Store interface {
	SaveRoom(ctx context.Context, room domain.Room) error
	SaveMessage(ctx context.Context, msg domain.Message) error
	AddReaction(ctx context.Context, change domain.ReactionChange) error
	RemoveReaction(ctx context.Context, change domain.ReactionChange) error
	MarkRead(ctx context.Context, receipt domain.Receipt) error
}

const persistTimeout = 5 * time.Second

type persistJob struct {
	name string
	run  func(ctx context.Context) error
}

// persister drains a bounded queue of store writes on a single goroutine.
type persister struct {
	jobs   chan persistJob
	log    *slog.Logger
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func newPersister(size int, log *slog.Logger) *persister {
	if size <= 0 {
		size = 1024
	}
	p := &persister{
		jobs: make(chan persistJob, size),
		log:  log,
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) run() {
	defer close(p.done)
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := job.run(ctx); err != nil {
			p.log.Warn("store write failed", "op", job.name, "err", err)
		}
		cancel()
	}
}

// enqueue schedules a write without blocking. A full queue drops the write.
func (p *persister) enqueue(name string, run func(ctx context.Context) error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}
	select {
	case p.jobs <- persistJob{name: name, run: run}:
	default:
		p.log.Warn("store queue full; dropping write", "op", name)
	}
}

// close stops accepting writes and waits for queued ones until ctx expires.
func (p *persister) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
