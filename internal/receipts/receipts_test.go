package receipts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMarkIsIdempotent verifies that marking a message read twice changes nothing.
func TestMarkIsIdempotent(t *testing.T) {
	l := NewLedger()

	readBy, changed := l.Mark("m1", Reader{UserID: "u1", Username: "alice"})
	assert.True(t, changed)
	assert.Equal(t, []string{"alice"}, readBy)

	readBy, changed = l.Mark("m1", Reader{UserID: "u1", Username: "alice"})
	assert.False(t, changed)
	assert.Equal(t, []string{"alice"}, readBy)
}

// TestReadOrder verifies that readers are listed in the order they read.
func TestReadOrder(t *testing.T) {
	l := NewLedger()
	l.Mark("m1", Reader{UserID: "u2", Username: "bob"})
	l.Mark("m1", Reader{UserID: "u1", Username: "alice"})
	l.Mark("m2", Reader{UserID: "u3", Username: "carol"})

	assert.Equal(t, []string{"bob", "alice"}, l.ReadBy("m1"))
	assert.Equal(t, []string{"carol"}, l.ReadBy("m2"))
	assert.Empty(t, l.ReadBy("m3"))
	assert.True(t, l.HasRead("m1", "u1"))
	assert.False(t, l.HasRead("m2", "u1"))
}
