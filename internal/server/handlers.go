package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/chathub/internal/domain"
	"github.com/Tyrowin/chathub/internal/hub"
	"github.com/Tyrowin/chathub/internal/reactions"
	"github.com/Tyrowin/chathub/internal/rooms"
)

const (
	maxRequestBody = 4096
	historyTimeout = 10 * time.Second
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	Rooms       int       `json:"rooms"`
	Timestamp   time.Time `json:"timestamp"`
}

// MessageView is a stored message as served by the history endpoint.
type MessageView struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
	Content   string          `json:"content"`
	Timestamp int64           `json:"timestamp"`
	Reactions reactions.State `json:"reactions,omitempty"`
	ReadBy    []string        `json:"readBy,omitempty"`
}

type createRoomRequest struct {
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// WebSocketHandler upgrades the request, creates a Client bound to the
// identity provider's user id and starts its pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	var userID string
	if s.identity != nil {
		userID = s.identity(r)
	}
	s.start(NewClient(conn, s.hub, r.RemoteAddr, userID, s.cfg, s.log))
}

// HealthHandler reports liveness and occupancy.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	stats := s.hub.Stats()
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "UP",
		Connections: stats.Connections,
		Rooms:       stats.Rooms,
		Timestamp:   time.Now(),
	})
}

// ListRoomsHandler serves GET /api/rooms.
func (s *Server) ListRoomsHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.hub.Rooms())
}

// CreateRoomHandler serves POST /api/rooms.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	room, err := s.hub.CreateRoom(req.Name, req.CreatedBy)
	switch {
	case errors.Is(err, rooms.ErrInvalidRoomName):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, rooms.ErrRoomExists):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.log.Error("failed to create room", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	s.writeJSON(w, http.StatusCreated, hub.RoomInfo{
		ID:        room.ID,
		Name:      room.Name,
		CreatedAt: room.CreatedAt.UnixMilli(),
	})
}

// MembersHandler serves GET /api/rooms/{roomId}/members.
func (s *Server) MembersHandler(w http.ResponseWriter, r *http.Request) {
	members, err := s.hub.Presence(mux.Vars(r)["roomId"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, members)
}

// HistoryHandler serves GET /api/rooms/{roomId}/messages. Concurrent
// identical requests share one store query.
func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "message history is not enabled")
		return
	}

	roomID := mux.Vars(r)["roomId"]
	if !s.hub.HasRoom(roomID) {
		s.writeError(w, http.StatusNotFound, "room not found")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	// The shared query outlives any single caller hanging up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), historyTimeout)
	defer cancel()

	key := roomID + ":" + strconv.Itoa(limit)
	val, err, shared := s.requests.Do(key, func() (any, error) {
		return s.history.RecentMessages(ctx, roomID, limit)
	})
	if err != nil {
		s.log.Error("failed to load history", "room", roomID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if shared {
		s.log.Debug("history request coalesced", "room", roomID)
	}

	msgs := val.([]domain.Message)
	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = MessageView{
			ID:        m.ID,
			RoomID:    m.RoomID,
			UserID:    m.UserID,
			Username:  m.Username,
			Content:   m.Content,
			Timestamp: m.CreatedAt.UnixMilli(),
			Reactions: s.hub.Reactions(m.ID),
			ReadBy:    s.hub.ReadBy(m.ID),
		}
	}
	s.writeJSON(w, http.StatusOK, views)
}

// ReactionsHandler serves GET /api/messages/{messageId}/reactions.
func (s *Server) ReactionsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.hub.Reactions(mux.Vars(r)["messageId"]))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("error writing JSON response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
