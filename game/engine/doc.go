// Package engine provides the session state model and the ruleset contract
// of the turn-based match server.
//
// The engine package implements:
//   - SessionState, the versioned, partially private state of one match
//   - The content fingerprint used for change detection and optimistic commits
//   - Copy-on-write cloning so candidate states never alias committed ones
//   - The Ruleset interface every game plugs into, and the game Registry
//   - Shared domain records: Session, MatchmakingEntry, PendingAction
//
// Core Types:
//
// SessionState holds public properties visible to every participant,
// one private sub-map per participant and the acknowledgement set. The
// fingerprint is recomputed from content on every call, so two states with
// the same maps always hash the same regardless of how they were produced.
//
// Usage:
//
//	st := engine.NewSessionState(0, session.ParticipantIDs)
//	next := st.Clone()
//	next.SetPublic(map[string]string{"phase": "play"}, true)
//	if !next.SameAs(st) {
//		// commit next
//	}
//
// Rulesets:
//
// A Ruleset configures itself from an opaque key/value map, seeds the first
// state of a session, validates proposed actions against the committed
// state and advances the session one logical step. AdvanceTurn returns its
// input unchanged when there is nothing to commit.
package engine
