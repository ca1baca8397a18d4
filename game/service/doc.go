// Package service provides the request/response surface of the match server.
//
// The service package implements:
//   - Matchmaking operations: find, join by alias, start, leave, cancel
//   - Action submission followed by an immediate advance
//   - State polling with acknowledgement and unchanged detection
//   - Error classification into caller visible kinds and HTTP statuses
//
// Core Interfaces:
//
// GameService is the main service interface used by every transport.
// GameCatalog lists the configured games.
//
// Architecture:
//
// The service layer sits between the transports (HTTP, WebSocket, MCP) and
// the engine components. It holds no state of its own: every component it
// uses is passed in through Deps, which is built once at process start.
//
// Usage:
//
//	deps := service.NewDeps(service.Options{
//		Store:    store.NewMemoryStore(),
//		Registry: registry,
//	})
//	svc := service.NewGameService(deps)
//
//	match, err := svc.FindMatch(ctx, service.FindMatchRequest{GameID: "rps", PlayerID: "alice"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	view, err := svc.GetMatchState(ctx, service.StateQuery{SessionID: match.SessionID, PlayerID: "alice"})
//
// Polling:
//
// A client sends back the fingerprint of the last state it saw. When that
// fingerprint is still current the poll acknowledges the player and the
// response is flagged unchanged, so rulesets waiting for every participant
// to catch up can move on.
package service
