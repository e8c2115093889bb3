package typing

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 30 * time.Millisecond

// expiryCounter confirms expiries the way the hub does and counts the ones that win.
type expiryCounter struct {
	router *Router
	fired  atomic.Int32
	keys   chan Key
}

func newCounter(timeout time.Duration) *expiryCounter {
	c := &expiryCounter{keys: make(chan Key, 256)}
	c.router = NewRouter(timeout, func(key Key, gen uint64) {
		if c.router.Expire(key.RoomID, key.UserID, gen) {
			c.fired.Add(1)
			c.keys <- key
		}
	})
	return c
}

// TestSignalExpiresExactlyOnce verifies a start without stop yields one expiry.
func TestSignalExpiresExactlyOnce(t *testing.T) {
	c := newCounter(testTimeout)

	assert.True(t, c.router.Start("r1", "alice"))

	select {
	case key := <-c.keys:
		assert.Equal(t, Key{RoomID: "r1", UserID: "alice"}, key)
	case <-time.After(time.Second):
		t.Fatal("typing signal did not expire")
	}

	time.Sleep(3 * testTimeout)
	assert.Equal(t, int32(1), c.fired.Load())
	assert.Empty(t, c.router.Active("r1"))
}

// TestStopCancelsTimer verifies that an explicit stop prevents the expiry.
func TestStopCancelsTimer(t *testing.T) {
	c := newCounter(testTimeout)

	c.router.Start("r1", "alice")
	assert.True(t, c.router.Stop("r1", "alice"))
	assert.False(t, c.router.Stop("r1", "alice"))

	time.Sleep(3 * testTimeout)
	assert.Equal(t, int32(0), c.fired.Load())
}

// TestRestartResetsTimer verifies that repeated starts re-arm a single timer.
func TestRestartResetsTimer(t *testing.T) {
	c := newCounter(60 * time.Millisecond)

	require.True(t, c.router.Start("r1", "alice"))
	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		assert.False(t, c.router.Start("r1", "alice"))
	}
	assert.Equal(t, int32(0), c.fired.Load(), "signal expired while being refreshed")

	select {
	case <-c.keys:
	case <-time.After(time.Second):
		t.Fatal("typing signal did not expire after refreshes stopped")
	}
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), c.fired.Load())
}

// TestStaleGenerationIsRejected verifies that an expiry for an older arm loses.
func TestStaleGenerationIsRejected(t *testing.T) {
	r := NewRouter(time.Hour, func(Key, uint64) {})
	r.Start("r1", "alice")
	r.Start("r1", "alice")

	assert.False(t, r.Expire("r1", "alice", 1))
	assert.True(t, r.Expire("r1", "alice", 2))
	assert.False(t, r.Expire("r1", "alice", 2))
	r.StopAll()
}

// TestIndependentKeys verifies that signals are keyed per room and user.
func TestIndependentKeys(t *testing.T) {
	r := NewRouter(time.Hour, nil)
	defer r.StopAll()

	assert.True(t, r.Start("r1", "alice"))
	assert.True(t, r.Start("r2", "alice"))
	assert.True(t, r.Start("r1", "bob"))

	assert.ElementsMatch(t, []string{"alice", "bob"}, r.Active("r1"))
	assert.Equal(t, []string{"alice"}, r.Active("r2"))

	r.StopAll()
	assert.Empty(t, r.Active("r1"))
}

// TestActiveIsSorted verifies that Active lists users in a stable order.
func TestActiveIsSorted(t *testing.T) {
	r := NewRouter(time.Hour, nil)
	defer r.StopAll()

	for _, user := range []string{"carol", "alice", "dave", "bob"} {
		r.Start("r1", user)
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, r.Active("r1"))
	}
}

// TestConcurrentStartStop verifies the router under parallel use.
func TestConcurrentStartStop(t *testing.T) {
	c := newCounter(5 * time.Millisecond)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.router.Start("r1", "alice")
				c.router.Stop("r1", "alice")
			}
		}()
	}
	wg.Wait()
	c.router.StopAll()
	assert.Empty(t, c.router.Active("r1"))
}

// TestDefaultTimeout verifies the fallback timeout.
func TestDefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewRouter(0, nil).Timeout())
}
