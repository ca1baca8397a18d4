// Package lifecycle retires stale sessions.
//
// Every session carries a chain of delayed checks. A check that finds the
// session unchanged since the previous one deletes it together with its
// state, alias, matchmaking entries and pending actions. Lobbies that never
// started are deleted once their lobby duration elapsed. Ended sessions are
// kept for the final check delay so players can read the result.
//
// Only a player's own actions count as change: timeouts and bot turns that
// a check applies itself do not keep a session alive. Checks are reachable
// only through a Dispatcher, never from a transport.
//
// Dispatchers:
//
// LocalDispatcher keeps checks in process timers. The Redis delay queue in
// game/store/redisstore implements the same Dispatcher interface and
// survives restarts.
package lifecycle
