// Package enginetest provides a minimal ruleset for exercising the engine
// machinery without a real game.
package enginetest

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/wricardo/turnbased-match-server/game/engine"
)

// Counter keys.
const (
	KeyCount = "count"
	KeyInc   = "inc"
)

// Counter is a ruleset whose only move is public {"inc": "1"}. Every
// applied increment bumps the public count and the turn number. When
// EndAt is positive the session ends once the count reaches it.
type Counter struct {
	Config engine.Settings
	EndAt  int

	advances atomic.Int64
}

// NewCounter returns a counter ruleset with default settings.
func NewCounter() *Counter {
	return &Counter{Config: engine.DefaultSettings()}
}

func (c *Counter) Name() string { return "counter" }

func (c *Counter) Configure(settings map[string]string) {
	s, _ := engine.ParseSettings(settings, engine.DefaultSettings())
	c.Config = s
	c.EndAt = s.Int("end_at", c.EndAt)
}

func (c *Counter) Settings() engine.Settings { return c.Config }

// Advances reports how many times AdvanceTurn ran.
func (c *Counter) Advances() int64 { return c.advances.Load() }

func (c *Counter) SeedFirstState(session *engine.Session) *engine.SessionState {
	turn := 0
	if session.UsesLobby && !session.IsStarted {
		turn = engine.LobbyTurn
	}
	st := engine.NewSessionState(turn, session.ParticipantIDs)
	st.SetPublic(map[string]string{KeyCount: "0"}, false)
	return st
}

func (c *Counter) IsActionAllowed(playerID string, change engine.Payload, session *engine.Session, state *engine.SessionState) bool {
	if state == nil || state.IsEnded || !session.HasParticipant(playerID) {
		return false
	}
	return len(change.Private) == 0 && len(change.Public) == 1 && change.Public[KeyInc] == "1"
}

func (c *Counter) AdvanceTurn(now time.Time, requesterID string, session *engine.Session, last *engine.SessionState, actions []*engine.PendingAction) *engine.SessionState {
	c.advances.Add(1)
	if last.IsEnded {
		return last
	}
	next := last.Clone()
	changed := false
	for _, a := range actions {
		a.IsProcessed = true
		if !c.IsActionAllowed(a.PlayerID, a.Payload, session, next) {
			continue
		}
		count, _ := strconv.Atoi(next.PublicValue(KeyCount))
		count++
		next.SetPublic(map[string]string{KeyCount: strconv.Itoa(count)}, true)
		next.TurnNumber++
		if c.EndAt > 0 && count >= c.EndAt {
			next.IsEnded = true
		}
		changed = true
	}
	if !changed {
		return last
	}
	return next
}

func (c *Counter) CreateBot(rng *rand.Rand) engine.PlayerInfo {
	id := fmt.Sprintf("%sbot-%d", engine.BotPrefix, rng.Intn(1000000))
	return engine.PlayerInfo{ID: id, DisplayName: "Bot", IsBot: true}
}

// Count reads the counter of a state.
func Count(st *engine.SessionState) int {
	n, _ := strconv.Atoi(st.PublicValue(KeyCount))
	return n
}

// Inc is the payload of one increment.
func Inc() engine.Payload {
	return engine.Payload{Public: map[string]string{KeyInc: "1"}}
}
