// Package server implements the HTTP and WebSocket edge of the chat hub.
//
// The implementation is organized into specialized files for configuration,
// origin policy, rate limiting, clients, routing, and HTTP handlers. Chat
// semantics live in the hub package; this package moves frames between
// sockets and the hub.
package server
