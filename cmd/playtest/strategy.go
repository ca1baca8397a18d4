package main

import (
	"math/rand"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/rules/rps"
)

// Strategy picks the next action for a player's view, or nil to wait.
type Strategy interface {
	NextAction(view *View) *engine.Payload
}

// View is the last full state a player received.
type View struct {
	TurnNumber int
	Public     map[string]string
	Private    map[string]string
}

var moves = []rps.Move{rps.Rock, rps.Paper, rps.Scissors}

// rpsStrategy plays one move per round while the round is open.
type rpsStrategy struct {
	pick   func(round int) rps.Move
	played int
}

func (s *rpsStrategy) NextAction(view *View) *engine.Payload {
	if view.Public["phase"] != "play" || view.Private["move"] != "" || s.played == view.TurnNumber {
		return nil
	}
	s.played = view.TurnNumber
	move := s.pick(view.TurnNumber)
	return &engine.Payload{Private: map[string]string{"move": string(move)}}
}

// NewRandomStrategy plays uniformly random moves.
func NewRandomStrategy(rng *rand.Rand) Strategy {
	return &rpsStrategy{pick: func(int) rps.Move { return moves[rng.Intn(len(moves))] }}
}

// NewCycleStrategy plays ROCK, PAPER, SCISSORS in turn, starting at offset.
func NewCycleStrategy(offset int) Strategy {
	return &rpsStrategy{pick: func(round int) rps.Move { return moves[(round+offset)%len(moves)] }}
}

// NewFixedStrategy always plays move.
func NewFixedStrategy(move rps.Move) Strategy {
	return &rpsStrategy{pick: func(int) rps.Move { return move }}
}
