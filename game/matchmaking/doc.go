// Package matchmaking groups searching players into sessions.
//
// The matchmaking package implements:
//   - FindMatch, which upserts a searching entry and runs a pairing pass
//   - Pairing in arrival order into batches of the ruleset's player count
//   - Bot backfill or a clean failure once the oldest player waited too long
//   - Lobby sessions joined by a short room code and started explicitly or
//     when full
//   - Leave, which frees a seat before the start and retreats after it
//
// Usage:
//
//	pool := matchmaking.NewPool(repo, registry, orchestrator, checker)
//	entry, err := pool.FindMatch(ctx, matchmaking.FindRequest{
//		GameID:   "rps",
//		PlayerID: "alice",
//	})
//
// Concurrency:
//
// A Pool serializes its own pairing and lobby changes. State writes go
// through compare-and-swap like every other writer.
package matchmaking
