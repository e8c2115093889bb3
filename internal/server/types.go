package server

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/chathub/internal/hub"
)

// envelope is the part of an inbound frame the transport inspects before
// handing it to the hub.
type envelope struct {
	Type hub.Kind `json:"type"`
}

// rateExempt reports whether a frame skips the per-connection rate limit.
// Typing signals are ephemeral and self-expiring, so they are not counted.
func rateExempt(raw []byte) bool {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	return env.Type == hub.KindTyping || env.Type == hub.KindStopTyping
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
