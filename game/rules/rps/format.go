package rps

import (
	"strconv"
	"strings"
	"time"

	"github.com/wricardo/turnbased-match-server/game/engine"
)

// Property micro-format of the rps ruleset. All values are strings inside
// the generic state maps.
//
// Public:
//
//	phase          lobby | sync | play | result | ended
//	deadline       unix milliseconds after which the phase times out
//	score.<id>     decimal score of a participant
//	move.<id>      move revealed at the end of a round ("" for none)
//	round_winner   participant id of the last round's winner, "" on a tie
//	winner         participant id of the match winner, "" for none
//	end_reason     victory | retreat | forfeit | timeout
//
// Private:
//
//	move           ROCK | PAPER | SCISSORS, cleared when revealed
//	retreat        "1" once the participant gave up
const (
	keyPhase       = "phase"
	keyDeadline    = "deadline"
	keyRoundWinner = "round_winner"
	keyWinner      = "winner"
	keyEndReason   = "end_reason"

	privateMove    = "move"
	privateRetreat = engine.RetreatKey

	scorePrefix = "score."
	movePrefix  = "move."
)

const (
	phaseLobby  = "lobby"
	phaseSync   = "sync"
	phasePlay   = "play"
	phaseResult = "result"
	phaseEnded  = "ended"
)

const (
	reasonVictory = "victory"
	reasonRetreat = "retreat"
	reasonForfeit = "forfeit"
	reasonTimeout = "timeout"
)

func scoreKey(playerID string) string { return scorePrefix + playerID }

func revealKey(playerID string) string { return movePrefix + playerID }

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// parseMillis returns the zero time for a missing or malformed value.
func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func parseScore(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
