package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/Tyrowin/chathub/internal/domain"
	"github.com/Tyrowin/chathub/internal/hub"
)

// IdentityFunc extracts a user id from the upgrade request. An empty result
// leaves the connection anonymous, in which case the user id is the
// connection id.
type IdentityFunc func(r *http.Request) string

// HistoryStore serves message history to the HTTP API.
type HistoryStore interface {
	RecentMessages(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithIdentity sets the identity provider consulted at handshake.
func WithIdentity(fn IdentityFunc) Option {
	return func(s *Server) { s.identity = fn }
}

// WithHistory enables the message history endpoint.
func WithHistory(store HistoryStore) Option {
	return func(s *Server) { s.history = store }
}

// WithLogger sets the logger used by the server and its clients.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// Server accepts WebSocket clients for a hub and serves the HTTP API.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	log      *slog.Logger
	origins  *originPolicy
	upgrader websocket.Upgrader
	identity IdentityFunc
	history  HistoryStore
	requests singleflight.Group

	wg sync.WaitGroup
}

// New creates a server for h.
func New(cfg Config, h *hub.Hub, opts ...Option) *Server {
	s := &Server{
		cfg: cfg.Sanitize(),
		hub: h,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.origins = newOriginPolicy(s.cfg.AllowedOrigins, s.log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Hub returns the hub the server feeds.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// start attaches the client to the hub and launches its pumps.
func (s *Server) start(client *Client) {
	s.hub.Connect(client)
	client.log.Info("client connected", "user", client.UserID())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

// Shutdown closes every client through the hub and waits for their pumps to
// finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("initiating hub shutdown")

	if err := s.hub.Shutdown(ctx); err != nil {
		s.log.Warn("hub shutdown incomplete", "err", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("hub shutdown completed successfully")
		return nil
	case <-ctx.Done():
		s.log.Warn("hub shutdown timeout reached, some client goroutines may still be running")
		return ctx.Err()
	}
}
