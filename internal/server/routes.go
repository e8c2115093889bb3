package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes returns the router with the WebSocket endpoint, health check and
// the room API.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.WebSocketHandler)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rooms", s.ListRoomsHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms", s.CreateRoomHandler).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}/members", s.MembersHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}/messages", s.HistoryHandler).Methods(http.MethodGet)
	api.HandleFunc("/messages/{messageId}/reactions", s.ReactionsHandler).Methods(http.MethodGet)
	return r
}
