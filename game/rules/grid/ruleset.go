package grid

import (
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wricardo/turnbased-match-server/game/engine"
)

// Name is the registry name of this ruleset.
const Name = "grid"

// Grid specific settings keys.
const (
	KeyBoardSize       = "board_size"
	KeyLineLength      = "line_length"
	KeyPiecesPerPlayer = "pieces_per_player"
)

const (
	defaultBoardSize       = 8
	defaultLineLength      = 4
	defaultPiecesPerPlayer = 6
)

const (
	keyPhase     = "phase"
	keyCells     = "cells"
	keyCurrent   = "current"
	keyDeadline  = "deadline"
	keyWinner    = "winner"
	keyEndReason = "end_reason"
	colorPrefix  = "color."

	privateCell    = "cell"
	privateRetreat = engine.RetreatKey

	phaseLobby = "lobby"
	phasePlay  = "play"
	phaseEnded = "ended"

	reasonLine    = "line"
	reasonRetreat = "retreat"
)

var seatColors = []string{"red", "blue", "green", "yellow", "purple", "orange"}

var botNames = []string{"Pebble", "Domino", "Checkers", "Go-pher"}

// Ruleset is a placement game on a square board: players take turns
// placing (or later moving) pieces next to existing ones until someone
// lines up enough of their own color.
type Ruleset struct {
	settings        engine.Settings
	boardSize       int
	lineLength      int
	piecesPerPlayer int
}

// New returns the ruleset with built-in defaults.
func New() engine.Ruleset {
	return &Ruleset{
		settings:        engine.DefaultSettings(),
		boardSize:       defaultBoardSize,
		lineLength:      defaultLineLength,
		piecesPerPlayer: defaultPiecesPerPlayer,
	}
}

func (r *Ruleset) Name() string { return Name }

func (r *Ruleset) Settings() engine.Settings { return r.settings }

// Configure applies tunables. Malformed values keep their defaults.
func (r *Ruleset) Configure(settings map[string]string) {
	s, err := engine.ParseSettings(settings, engine.DefaultSettings())
	if err != nil {
		log.Printf("grid: ignoring invalid settings: %v", err)
	}
	if s.Validate() != nil {
		s = engine.DefaultSettings()
		s.Raw = settings
	}
	if s.MaxPlayers > len(seatColors) {
		s.MaxPlayers = len(seatColors)
	}
	r.settings = s
	r.boardSize = positive(s.Int(KeyBoardSize, defaultBoardSize), defaultBoardSize)
	r.lineLength = positive(s.Int(KeyLineLength, defaultLineLength), defaultLineLength)
	r.piecesPerPlayer = positive(s.Int(KeyPiecesPerPlayer, defaultPiecesPerPlayer), defaultPiecesPerPlayer)
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func colorKey(playerID string) string { return colorPrefix + playerID }

// SeedFirstState deals seat colors and hands the first turn to seat 0.
func (r *Ruleset) SeedFirstState(session *engine.Session) *engine.SessionState {
	if session.UsesLobby && !session.IsStarted {
		st := engine.NewSessionState(engine.LobbyTurn, session.ParticipantIDs)
		st.SetPublic(map[string]string{keyPhase: phaseLobby}, false)
		return st
	}
	st := engine.NewSessionState(0, session.ParticipantIDs)
	props := map[string]string{keyPhase: phasePlay, keyCells: ""}
	if len(session.ParticipantIDs) > 0 {
		props[keyCurrent] = session.ParticipantIDs[0]
	}
	for seat, id := range session.ParticipantIDs {
		props[colorKey(id)] = seatColors[seat%len(seatColors)]
	}
	st.SetPublic(props, false)
	return st
}

// IsActionAllowed accepts a retreat flag at any time, and a cell action
// from the current player when it is legal on the committed board.
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
		case privateCell:
			if state.PublicValue(keyPhase) != phasePlay || state.PublicValue(keyCurrent) != playerID {
				return false
			}
			action, err := parseCellAction(v)
			if err != nil || action.Color != state.PublicValue(colorKey(playerID)) {
				return false
			}
			b, err := parseBoard(state.PublicValue(keyCells))
			if err != nil || !r.legal(b, action) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (r *Ruleset) inBounds(p point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < r.boardSize && p.Y < r.boardSize
}

func (r *Ruleset) legal(b board, a cellAction) bool {
	if !r.inBounds(a.To) {
		return false
	}
	if _, taken := b[a.To]; taken {
		return false
	}
	if !a.IsMove {
		if b.count(a.Color) >= r.piecesPerPlayer {
			return false
		}
		return len(b) == 0 || b.hasNeighbour(a.To)
	}

	if !r.inBounds(a.From) || b[a.From] != a.Color {
		return false
	}
	rest := b.clone()
	delete(rest, a.From)
	if len(rest) > 0 && !rest.hasNeighbour(a.To) {
		return false
	}
	return !b.strands(a.From, a.To)
}

// AdvanceTurn applies queued actions in order, then turn timeouts and
// bot turns. It returns last when nothing changed.
func (r *Ruleset) AdvanceTurn(now time.Time, requesterID string, session *engine.Session, last *engine.SessionState, actions []*engine.PendingAction) *engine.SessionState {
	if last.IsEnded || last.PublicValue(keyPhase) != phasePlay {
		for _, a := range actions {
			a.IsProcessed = true
		}
		return last
	}

	next := last.Clone()
	if r.applyRetreat(next, session) {
		for _, a := range actions {
			a.IsProcessed = true
		}
		return next
	}

	for _, a := range actions {
		a.IsProcessed = true
		if next.IsEnded || !r.IsActionAllowed(a.PlayerID, a.Payload, session, next) {
			continue
		}
		if v, ok := a.Payload.Private[privateRetreat]; ok {
			next.SetPrivate(a.PlayerID, map[string]string{privateRetreat: v}, false)
		}
		if v, ok := a.Payload.Private[privateCell]; ok {
			action, _ := parseCellAction(v)
			r.place(next, session, a.PlayerID, action, now)
		}
	}
	if !next.IsEnded && r.applyRetreat(next, session) {
		return next
	}

	if !next.IsEnded {
		deadline := parseMillis(next.PublicValue(keyDeadline))
		switch {
		case deadline.IsZero():
			next.SetPublic(map[string]string{keyDeadline: formatMillis(now.Add(r.settings.TurnDuration))}, false)
		case now.After(deadline.Add(r.settings.TurnGrace)):
			r.passTurn(next, session, now)
		}
		r.playBots(next, session, now)
	}

	if next.SameAs(last) && next.TurnNumber == last.TurnNumber && next.IsEnded == last.IsEnded {
		return last
	}
	return next
}

// place applies an already validated cell action and either ends the
// match on a completed line or passes the turn.
func (r *Ruleset) place(st *engine.SessionState, session *engine.Session, playerID string, a cellAction, now time.Time) {
	b, _ := parseBoard(st.PublicValue(keyCells))
	if a.IsMove {
		delete(b, a.From)
	}
	b[a.To] = a.Color
	st.SetPublic(map[string]string{keyCells: b.String()}, false)

	if b.hasLine(a.Color, r.lineLength) {
		st.TurnNumber++
		r.end(st, playerID, reasonLine)
		return
	}
	r.passTurn(st, session, now)
}

func (r *Ruleset) passTurn(st *engine.SessionState, session *engine.Session, now time.Time) {
	current := session.Seat(st.PublicValue(keyCurrent))
	nextSeat := 0
	if current >= 0 && len(session.ParticipantIDs) > 0 {
		nextSeat = (current + 1) % len(session.ParticipantIDs)
	}
	nextPlayer := ""
	if len(session.ParticipantIDs) > 0 {
		nextPlayer = session.ParticipantIDs[nextSeat]
	}
	st.TurnNumber++
	st.SetPublic(map[string]string{
		keyCurrent:  nextPlayer,
		keyDeadline: formatMillis(now.Add(r.settings.TurnDuration)),
	}, true)
}

// playBots lets consecutive bot seats take their turns. Each bot places
// on the first legal cell in row-major order, or passes when it has none.
func (r *Ruleset) playBots(st *engine.SessionState, session *engine.Session, now time.Time) {
	for i := 0; i < len(session.ParticipantIDs) && !st.IsEnded; i++ {
		current := st.PublicValue(keyCurrent)
		if !engine.IsBotID(current) {
			return
		}
		b, err := parseBoard(st.PublicValue(keyCells))
		if err != nil {
			return
		}
		color := st.PublicValue(colorKey(current))
		if action, ok := r.botPlacement(b, color); ok {
			r.place(st, session, current, action, now)
		} else {
			r.passTurn(st, session, now)
		}
	}
}

func (r *Ruleset) botPlacement(b board, color string) (cellAction, bool) {
	if len(b) == 0 {
		return cellAction{To: point{r.boardSize / 2, r.boardSize / 2}, Color: color}, true
	}
	candidates := make(map[point]bool)
	for p := range b {
		for _, n := range neighbours(p) {
			if _, taken := b[n]; !taken && r.inBounds(n) {
				candidates[n] = true
			}
		}
	}
	ordered := make([]point, 0, len(candidates))
	for p := range candidates {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Y != ordered[j].Y {
			return ordered[i].Y < ordered[j].Y
		}
		return ordered[i].X < ordered[j].X
	})
	for _, p := range ordered {
		action := cellAction{To: p, Color: color}
		if r.legal(b, action) {
			return action, true
		}
	}
	return cellAction{}, false
}

func (r *Ruleset) applyRetreat(st *engine.SessionState, session *engine.Session) bool {
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
		keyCurrent:   "",
		keyDeadline:  "",
	}, true)
}

// CreateBot synthesizes a filler participant.
func (r *Ruleset) CreateBot(rng *rand.Rand) engine.PlayerInfo {
	return engine.PlayerInfo{
		ID:          fmt.Sprintf("%sgrid-%06d", engine.BotPrefix, rng.Intn(1000000)),
		DisplayName: botNames[rng.Intn(len(botNames))],
		IsBot:       true,
	}
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
