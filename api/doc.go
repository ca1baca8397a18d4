// Package api provides the HTTP REST API of the match server.
//
// Endpoints:
//
// Matchmaking:
//   - POST /api/matches/find - Queue a player ({game_id, player_id, region?, uses_lobby?})
//   - GET /api/matches?game_id&player_id&session_id&alias - Look up a match
//   - POST /api/matches/join - Join a lobby by alias ({alias, player_id})
//   - POST /api/matches/{id}/start - Start a lobby ({player_id})
//   - POST /api/matches/leave - Leave a match or search ({player_id, session_id?, game_id?})
//   - POST /api/matches/cancel - Cancel a search ({game_id, player_id})
//
// Turns:
//   - POST /api/matches/{id}/actions - Submit an action ({player_id, payload: {public, private}})
//   - GET /api/matches/{id}/state?player_id&fingerprint - Poll the player's view
//
// Configuration:
//   - GET /api/games - List configured games
//
// Notifications:
//   - GET /ws?session=<id> - WebSocket notices of committed states
//
// Fingerprints travel as decimal strings because they use the full 64 bit
// range.
//
// Error Handling:
//
// Errors are returned as JSON with an HTTP status derived from the error
// kind (400 validation, 403 not a participant, 404 unknown, 409 conflicting
// state, 500 internal):
//
//	{
//	  "error": true,
//	  "message": "session not found"
//	}
package api
