package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chathub/internal/hub"
)

const testOrigin = "http://localhost:8080"

func newWSServer(t *testing.T, cfg Config, opts ...Option) (*Server, string) {
	t.Helper()
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{testOrigin}
	}
	s := newTestServer(t, cfg, opts...)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, ev map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("Failed to send %v: %v", ev["type"], err)
	}
}

// readUntil reads events until one of the given kind arrives.
func readUntil(t *testing.T, conn *websocket.Conn, kind hub.Kind) hub.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatal(err)
		}
		var ev hub.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("Waiting for %s: %v", kind, err)
		}
		if ev.Type == kind {
			return ev
		}
	}
}

// expectNoEvent fails if an event of the given kind arrives within timeout.
func expectNoEvent(t *testing.T, conn *websocket.Conn, kind hub.Kind, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatal(err)
		}
		var ev hub.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		if ev.Type == kind {
			t.Fatalf("Unexpected %s event: %+v", kind, ev)
		}
	}
}

func joinRoom(t *testing.T, url, username string) *websocket.Conn {
	t.Helper()
	conn := dial(t, url)
	sendEvent(t, conn, map[string]any{"type": "join", "username": username})
	readUntil(t, conn, hub.KindUserList)
	return conn
}

// TestWebSocketChatFlow covers join, message echo and reactions end to end.
func TestWebSocketChatFlow(t *testing.T) {
	_, url := newWSServer(t, Config{})

	alice := joinRoom(t, url, "alice")
	bob := joinRoom(t, url, "bob")

	joined := readUntil(t, alice, hub.KindJoin)
	if joined.Username != "bob" {
		t.Errorf("join username = %q, want bob", joined.Username)
	}

	sendEvent(t, alice, map[string]any{"type": "message", "content": "hello"})
	fromAlice := readUntil(t, alice, hub.KindMessage)
	fromBob := readUntil(t, bob, hub.KindMessage)
	if fromAlice.MessageID == "" || fromAlice.MessageID != fromBob.MessageID {
		t.Fatalf("message ids differ: %q vs %q", fromAlice.MessageID, fromBob.MessageID)
	}
	if fromBob.Content != "hello" || fromBob.Username != "alice" {
		t.Errorf("bob received %+v", fromBob)
	}

	sendEvent(t, bob, map[string]any{"type": "reaction_add", "messageId": fromBob.MessageID, "emoji": "👍"})
	reaction := readUntil(t, alice, hub.KindReactionAdd)
	if reaction.Reaction == nil || reaction.Reaction.Count != 1 || reaction.Reaction.Users[0] != "bob" {
		t.Errorf("reaction = %+v", reaction.Reaction)
	}
}

// TestWebSocketLeaveAllThenShutdown verifies that a socket which left every
// room is still counted and still closed by Shutdown.
func TestWebSocketLeaveAllThenShutdown(t *testing.T) {
	s, url := newWSServer(t, Config{})

	alice := joinRoom(t, url, "alice")
	bob := joinRoom(t, url, "bob")

	sendEvent(t, alice, map[string]any{"type": "leave"})
	readUntil(t, bob, hub.KindLeave)
	if got := s.Hub().Stats().Connections; got != 2 {
		t.Errorf("connections after leave = %d, want 2", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if err := alice.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	for {
		if _, _, err := alice.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("unexpected close %v", err)
			}
			break
		}
	}
}

// TestWebSocketTypingTimeout verifies that an unrefreshed typing signal expires.
func TestWebSocketTypingTimeout(t *testing.T) {
	_, url := newWSServer(t, Config{TypingTimeout: 50 * time.Millisecond})

	alice := joinRoom(t, url, "alice")
	bob := joinRoom(t, url, "bob")

	sendEvent(t, alice, map[string]any{"type": "typing"})
	typing := readUntil(t, bob, hub.KindTyping)
	if typing.Username != "alice" {
		t.Errorf("typing username = %q", typing.Username)
	}
	stop := readUntil(t, bob, hub.KindStopTyping)
	if stop.UserID != typing.UserID {
		t.Errorf("stop_typing for %q, want %q", stop.UserID, typing.UserID)
	}
	expectNoEvent(t, bob, hub.KindStopTyping, 200*time.Millisecond)
}

// TestWebSocketDisconnectCleanup verifies that closing a socket announces the leave.
func TestWebSocketDisconnectCleanup(t *testing.T) {
	s, url := newWSServer(t, Config{})

	alice := joinRoom(t, url, "alice")
	bob := joinRoom(t, url, "bob")

	if err := alice.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		t.Fatal(err)
	}
	_ = alice.Close()

	left := readUntil(t, bob, hub.KindLeave)
	if left.Username != "alice" {
		t.Errorf("leave username = %q, want alice", left.Username)
	}
	list := readUntil(t, bob, hub.KindUserList)
	if len(list.Users) != 1 || list.Users[0] != "bob" {
		t.Errorf("user list = %v", list.Users)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().Stats().Connections != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.Hub().Stats().Connections; got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}

// TestWebSocketOriginRejected verifies the origin allow-list at upgrade.
func TestWebSocketOriginRejected(t *testing.T) {
	_, url := newWSServer(t, Config{})

	headers := http.Header{}
	headers.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(url, headers)
	if err == nil {
		_ = conn.Close()
		t.Fatal("Expected connection to fail with disallowed origin")
	}
	if resp == nil {
		t.Fatal("Expected an HTTP response")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, resp.StatusCode)
	}
}

// TestWebSocketIdentityProvider verifies that the handshake identity is used
// for attribution and client-supplied ids are ignored.
func TestWebSocketIdentityProvider(t *testing.T) {
	_, url := newWSServer(t, Config{}, WithIdentity(func(r *http.Request) string {
		return r.URL.Query().Get("user")
	}))

	conn := dial(t, url+"?user=u-42")
	sendEvent(t, conn, map[string]any{"type": "join", "username": "alice"})
	sendEvent(t, conn, map[string]any{"type": "message", "content": "hi", "userId": "spoofed"})

	msg := readUntil(t, conn, hub.KindMessage)
	if msg.UserID != "u-42" {
		t.Errorf("userId = %q, want u-42", msg.UserID)
	}
}

// TestWebSocketRateLimit verifies that chat events beyond the burst are
// dropped while typing signals are not counted.
func TestWebSocketRateLimit(t *testing.T) {
	_, url := newWSServer(t, Config{
		TypingTimeout: 10 * time.Second,
		RateLimit:     RateLimitConfig{Burst: 3, RefillInterval: time.Hour},
	})

	conn := dial(t, url)
	sendEvent(t, conn, map[string]any{"type": "join", "username": "alice"})
	readUntil(t, conn, hub.KindUserList)

	for i := 0; i < 5; i++ {
		sendEvent(t, conn, map[string]any{"type": "typing"})
	}
	for i := 0; i < 4; i++ {
		sendEvent(t, conn, map[string]any{"type": "message", "content": "spam"})
	}

	readUntil(t, conn, hub.KindMessage)
	readUntil(t, conn, hub.KindMessage)
	expectNoEvent(t, conn, hub.KindMessage, 300*time.Millisecond)
}

// TestWebSocketMessageTooLarge verifies the frame size limit.
func TestWebSocketMessageTooLarge(t *testing.T) {
	s, url := newWSServer(t, Config{MaxMessageSize: 128})

	conn := dial(t, url)
	big := strings.Repeat("x", 512)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","content":"`+big+`"}`)); err != nil {
		t.Fatal(err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("Expected connection to be closed after oversized frame")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().Stats().Connections != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.Hub().Stats().Connections; got != 0 {
		t.Errorf("connections = %d, want 0", got)
	}
}

// TestServerShutdownClosesClients verifies that Shutdown closes every socket
// and waits for the pumps.
func TestServerShutdownClosesClients(t *testing.T) {
	s, url := newWSServer(t, Config{})

	conns := []*websocket.Conn{joinRoom(t, url, "alice"), joinRoom(t, url, "bob")}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	for i, conn := range conns {
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatal(err)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
					t.Errorf("client %d: unexpected close %v", i, err)
				}
				break
			}
		}
	}
}
