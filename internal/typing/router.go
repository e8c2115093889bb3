// Package typing tracks ephemeral "is typing" signals per room and user, each
// backed by a single cancellable timer so a lost stop event still expires.
package typing

import (
	"sort"
	"sync"
	"time"
)

// DefaultTimeout is how long a typing signal lives without being refreshed.
const DefaultTimeout = 2000 * time.Millisecond

// Key identifies a typing signal.
type Key struct {
	RoomID string
	UserID string
}

// ExpireFunc is invoked from the timer goroutine when a signal times out. The
// callee must confirm the expiry with Router.Expire using the same generation;
// a stop or re-arm that won the race makes that call return false.
type ExpireFunc func(key Key, gen uint64)

type signal struct {
	timer *time.Timer
	gen   uint64
}

// Router keeps at most one live timer per key.
type Router struct {
	timeout  time.Duration
	onExpire ExpireFunc

	mu      sync.Mutex
	signals map[Key]*signal
	gen     uint64
}

// NewRouter creates a router. A non-positive timeout uses DefaultTimeout.
// With a nil onExpire the router confirms expiries itself.
func NewRouter(timeout time.Duration, onExpire ExpireFunc) *Router {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Router{
		timeout: timeout,
		signals: make(map[Key]*signal),
	}
	if onExpire == nil {
		onExpire = func(key Key, gen uint64) { r.Expire(key.RoomID, key.UserID, gen) }
	}
	r.onExpire = onExpire
	return r
}

// Timeout returns the configured signal lifetime.
func (r *Router) Timeout() time.Duration {
	return r.timeout
}

// Start arms the timer for the pair, or resets it if one is already live.
// It reports true only when no signal was live before.
func (r *Router) Start(roomID, userID string) bool {
	key := Key{RoomID: roomID, UserID: userID}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	gen := r.gen
	if s, ok := r.signals[key]; ok {
		s.timer.Stop()
		s.gen = gen
		s.timer = r.arm(key, gen)
		return false
	}

	r.signals[key] = &signal{gen: gen, timer: r.arm(key, gen)}
	return true
}

func (r *Router) arm(key Key, gen uint64) *time.Timer {
	return time.AfterFunc(r.timeout, func() { r.onExpire(key, gen) })
}

// Stop cancels a live signal. It returns false if none was live.
func (r *Router) Stop(roomID, userID string) bool {
	key := Key{RoomID: roomID, UserID: userID}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.signals[key]
	if !ok {
		return false
	}
	s.timer.Stop()
	delete(r.signals, key)
	return true
}

// Expire removes the signal if it is still the generation that timed out.
func (r *Router) Expire(roomID, userID string, gen uint64) bool {
	key := Key{RoomID: roomID, UserID: userID}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.signals[key]
	if !ok || s.gen != gen {
		return false
	}
	delete(r.signals, key)
	return true
}

// Active returns the users currently typing in roomID, sorted by user id.
func (r *Router) Active(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var users []string
	for key := range r.signals {
		if key.RoomID == roomID {
			users = append(users, key.UserID)
		}
	}
	sort.Strings(users)
	return users
}

// StopAll cancels every live signal without reporting expiries.
func (r *Router) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, s := range r.signals {
		s.timer.Stop()
		delete(r.signals, key)
	}
}
