package engine

import (
	"math/rand"
	"time"
)

// Ruleset is the pluggable turn state machine of one game.
//
// IsActionAllowed and AdvanceTurn are synchronous and must not block:
// they are pure functions of their inputs plus the supplied wall-clock time.
type Ruleset interface {
	// Name identifies the ruleset implementation ("rps", "grid").
	Name() string

	// Configure applies game specific tunables. Unknown keys are ignored,
	// missing keys keep the built-in defaults.
	Configure(settings map[string]string)

	// Settings returns the effective engine-level tunables.
	Settings() Settings

	// SeedFirstState builds turn 0 (or LobbyTurn for a lobby that has not
	// started) deterministically from the session membership.
	SeedFirstState(session *Session) *SessionState

	// IsActionAllowed decides whether the proposed change is legal against
	// the currently committed state.
	IsActionAllowed(playerID string, change Payload, session *Session, state *SessionState) bool

	// AdvanceTurn consumes the queued actions, marking each processed, and
	// returns either last itself (nothing to commit) or a new state built
	// from last.Clone().
	AdvanceTurn(now time.Time, requesterID string, session *Session, last *SessionState, actions []*PendingAction) *SessionState

	// CreateBot synthesizes a filler participant profile.
	CreateBot(rng *rand.Rand) PlayerInfo
}
