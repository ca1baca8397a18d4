// Package websocket pushes state change notices to watching clients.
//
// The websocket package implements:
//   - Session-scoped WebSocket connections
//   - A notice per committed state, published by the turn orchestrator
//   - Connection lifecycle management with ping/pong keepalive
//
// Architecture:
//
// The package uses a hub-and-spoke model where a central Hub owns all
// connections. Registration, removal and broadcasts are serialized through
// the hub's run loop; each client has a read and a write goroutine.
//
// Message Protocol:
//
// Outgoing messages are JSON notices:
//
//	{"session_id": "...", "event": "state_committed", "fingerprint": "123", "turn_number": 4, "is_ended": false}
//
// Notices carry no property values, so no player learns another player's
// private state. Clients react by polling GetMatchState with the
// fingerprint they last saw. Incoming messages are ignored.
//
// Usage:
//
//	hub := websocket.NewHub()
//	go hub.Run(ctx)
//
//	deps := service.NewDeps(service.Options{Notifier: hub, ...})
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, r.URL.Query().Get("session"))
//	})
//
// Concurrency:
//
// StateCommitted never blocks the orchestrator: notices go through a
// bounded queue and are dropped when it is full. A client whose own send
// buffer is full is disconnected.
package websocket
