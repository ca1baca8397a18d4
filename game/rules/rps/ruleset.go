package rps

import (
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"time"

	"github.com/wricardo/turnbased-match-server/game/engine"
)

// Name is the registry name of this ruleset.
const Name = "rps"

// KeyVictoryScore is the rps specific setting holding the winning score.
const KeyVictoryScore = "victory_score"

const defaultVictoryScore = 3

var botNames = []string{"Rocky", "Sheila", "Edward", "Papyrus", "Flint", "Origami"}

// Ruleset implements rock-paper-scissors rounds up to a victory score.
type Ruleset struct {
	settings     engine.Settings
	victoryScore int
}

// New returns the ruleset with built-in defaults.
func New() engine.Ruleset {
	return &Ruleset{settings: engine.DefaultSettings(), victoryScore: defaultVictoryScore}
}

// Name identifies the ruleset
func (r *Ruleset) Name() string { return Name }

// Configure applies tunables. Malformed values keep their defaults.
func (r *Ruleset) Configure(settings map[string]string) {
	s, err := engine.ParseSettings(settings, engine.DefaultSettings())
	if err != nil {
		log.Printf("rps: ignoring invalid settings: %v", err)
	}
	if s.Validate() != nil {
		s = engine.DefaultSettings()
		s.Raw = settings
	}
	r.settings = s
	r.victoryScore = s.Int(KeyVictoryScore, defaultVictoryScore)
	if r.victoryScore <= 0 {
		r.victoryScore = defaultVictoryScore
	}
}

// Settings returns the effective tunables
func (r *Ruleset) Settings() engine.Settings { return r.settings }

// VictoryScore returns the score that ends the match.
func (r *Ruleset) VictoryScore() int { return r.victoryScore }

// SeedFirstState builds the lobby state (turn -1) for an unstarted lobby
// session and the sync state (turn 0) otherwise.
func (r *Ruleset) SeedFirstState(session *engine.Session) *engine.SessionState {
	if session.UsesLobby && !session.IsStarted {
		st := engine.NewSessionState(engine.LobbyTurn, session.ParticipantIDs)
		st.SetPublic(map[string]string{keyPhase: phaseLobby}, false)
		return st
	}
	st := engine.NewSessionState(0, session.ParticipantIDs)
	props := map[string]string{keyPhase: phaseSync}
	for _, id := range session.ParticipantIDs {
		props[scoreKey(id)] = "0"
	}
	st.SetPublic(props, false)
	return st
}

// IsActionAllowed accepts only private "move" and "retreat" keys. A move
// must be a legal shape, submitted once, while the state is in play.
func (r *Ruleset) IsActionAllowed(playerID string, change engine.Payload, session *engine.Session, state *engine.SessionState) bool {
	if state == nil || state.IsEnded || !session.HasParticipant(playerID) {
		return false
	}
	if len(change.Public) > 0 || len(change.Private) == 0 {
		return false
	}
	for k, v := range change.Private {
		switch k {
		case privateRetreat:
			if !isTruthy(v) {
				return false
			}
		case privateMove:
			if state.PublicValue(keyPhase) != phasePlay || !isMove(v) {
				return false
			}
			if state.PrivateValue(playerID, privateMove) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// AdvanceTurn folds the queued actions into a candidate state, then runs
// the phase machine once. It returns last when nothing changed.
func (r *Ruleset) AdvanceTurn(now time.Time, requesterID string, session *engine.Session, last *engine.SessionState, actions []*engine.PendingAction) *engine.SessionState {
	if last.IsEnded || last.PublicValue(keyPhase) == phaseEnded {
		for _, a := range actions {
			a.IsProcessed = true
		}
		return last
	}

	next := last.Clone()

	// retreat flags committed by an earlier advance end the match first
	if r.applyRetreat(next, session) {
		for _, a := range actions {
			a.IsProcessed = true
		}
		return next
	}

	for _, a := range actions {
		a.IsProcessed = true
		if !r.IsActionAllowed(a.PlayerID, a.Payload, session, next) {
			continue
		}
		next.SetPrivate(a.PlayerID, a.Payload.Private, false)
	}
	if r.applyRetreat(next, session) {
		return next
	}

	switch next.PublicValue(keyPhase) {
	case phaseSync:
		if next.IsFullyAcknowledged(session) {
			r.enterPlay(next, session, now, 1)
		}
	case phasePlay:
		r.advancePlay(next, session, now)
	case phaseResult:
		r.advanceResult(next, session, now)
	}

	if next.SameAs(last) && next.TurnNumber == last.TurnNumber && next.IsEnded == last.IsEnded {
		return last
	}
	return next
}

func (r *Ruleset) enterPlay(st *engine.SessionState, session *engine.Session, now time.Time, round int) {
	st.TurnNumber = round
	st.SetPublic(map[string]string{
		keyPhase:       phasePlay,
		keyDeadline:    formatMillis(now.Add(r.settings.TurnDuration)),
		keyRoundWinner: "",
	}, true)
	st.BroadcastPrivate(privateMove, "", false)
	for _, id := range session.ParticipantIDs {
		st.SetPublic(map[string]string{revealKey(id): ""}, false)
	}
}

func (r *Ruleset) advancePlay(st *engine.SessionState, session *engine.Session, now time.Time) {
	for seat, id := range session.ParticipantIDs {
		if engine.IsBotID(id) && st.PrivateValue(id, privateMove) == "" {
			st.SetPrivate(id, map[string]string{privateMove: string(botMove(st.TurnNumber, seat))}, false)
		}
	}

	complete := true
	for _, id := range session.ParticipantIDs {
		if st.PrivateValue(id, privateMove) == "" {
			complete = false
			break
		}
	}
	deadline := parseMillis(st.PublicValue(keyDeadline))
	timedOut := !deadline.IsZero() && now.After(deadline.Add(r.settings.TurnGrace))
	if complete || timedOut {
		r.resolveRound(st, session, now)
	}
}

// resolveRound reveals every move and scores the round. Each participant
// counts the opponents it beats; a unique best count above zero wins.
func (r *Ruleset) resolveRound(st *engine.SessionState, session *engine.Session, now time.Time) {
	ids := session.ParticipantIDs
	moves := make([]Move, len(ids))
	for i, id := range ids {
		moves[i] = Move(st.PrivateValue(id, privateMove))
	}

	best, bestSeat, unique := 0, -1, false
	for i := range ids {
		wins := 0
		for j := range ids {
			if i != j && compare(moves[i], moves[j]) > 0 {
				wins++
			}
		}
		switch {
		case wins > best:
			best, bestSeat, unique = wins, i, true
		case wins == best && wins > 0:
			unique = false
		}
	}

	props := map[string]string{
		keyPhase:       phaseResult,
		keyDeadline:    formatMillis(now.Add(r.settings.ResultDuration)),
		keyRoundWinner: "",
	}
	for i, id := range ids {
		props[revealKey(id)] = string(moves[i])
	}
	if unique && bestSeat >= 0 {
		winner := ids[bestSeat]
		score := parseScore(st.PublicValue(scoreKey(winner))) + 1
		props[keyRoundWinner] = winner
		props[scoreKey(winner)] = strconv.Itoa(score)
		if score >= r.victoryScore {
			props[keyPhase] = phaseEnded
			props[keyWinner] = winner
			props[keyEndReason] = reasonVictory
			props[keyDeadline] = ""
			st.IsEnded = true
		}
	}
	st.SetPublic(props, true)
	st.BroadcastPrivate(privateMove, "", false)
}

func (r *Ruleset) advanceResult(st *engine.SessionState, session *engine.Session, now time.Time) {
	if st.IsFullyAcknowledged(session) {
		r.enterPlay(st, session, now, st.TurnNumber+1)
		return
	}
	deadline := parseMillis(st.PublicValue(keyDeadline))
	if deadline.IsZero() || !now.After(deadline.Add(r.settings.ResultGrace)) {
		return
	}

	var stayed []string
	for _, id := range session.ParticipantIDs {
		if st.HasAcknowledged(id) {
			stayed = append(stayed, id)
		}
	}
	winner, reason := "", reasonTimeout
	if len(stayed) == 1 {
		winner, reason = stayed[0], reasonForfeit
	} else if len(stayed) > 1 {
		reason = reasonForfeit
	}
	r.end(st, winner, reason)
}

// applyRetreat ends the match when any participant raised the retreat
// flag. The winner is the last participant standing, if there is one.
func (r *Ruleset) applyRetreat(st *engine.SessionState, session *engine.Session) bool {
	if st.TurnNumber == engine.LobbyTurn {
		return false
	}
	var remaining []string
	retreated := false
	for _, id := range session.ParticipantIDs {
		if isTruthy(st.PrivateValue(id, privateRetreat)) {
			retreated = true
			continue
		}
		remaining = append(remaining, id)
	}
	if !retreated {
		return false
	}
	winner := ""
	if len(remaining) == 1 {
		winner = remaining[0]
	}
	r.end(st, winner, reasonRetreat)
	return true
}

func (r *Ruleset) end(st *engine.SessionState, winner, reason string) {
	st.IsEnded = true
	st.SetPublic(map[string]string{
		keyPhase:     phaseEnded,
		keyWinner:    winner,
		keyEndReason: reason,
		keyDeadline:  "",
	}, true)
}

// CreateBot synthesizes a filler participant.
func (r *Ruleset) CreateBot(rng *rand.Rand) engine.PlayerInfo {
	name := botNames[rng.Intn(len(botNames))]
	return engine.PlayerInfo{
		ID:          fmt.Sprintf("%srps-%06d", engine.BotPrefix, rng.Intn(1000000)),
		DisplayName: name,
		IsBot:       true,
	}
}
