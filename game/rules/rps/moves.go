package rps

// Move is one hand shape.
type Move string

const (
	Rock     Move = "ROCK"
	Paper    Move = "PAPER"
	Scissors Move = "SCISSORS"
	NoMove   Move = ""
)

// botScript is cycled through by bots, indexed by round and seat.
var botScript = []Move{Rock, Paper, Scissors}

// beats maps each move to the move it defeats.
var beats = map[Move]Move{
	Rock:     Scissors,
	Paper:    Rock,
	Scissors: Paper,
}

func isMove(v string) bool {
	_, ok := beats[Move(v)]
	return ok
}

// compare returns 1 when a wins, -1 when b wins and 0 on a tie. An empty
// move loses to any present move; two empty moves tie.
func compare(a, b Move) int {
	switch {
	case a == b:
		return 0
	case a == NoMove:
		return -1
	case b == NoMove:
		return 1
	case beats[a] == b:
		return 1
	default:
		return -1
	}
}

func botMove(round, seat int) Move {
	if round < 1 {
		round = 1
	}
	return botScript[(round-1+seat)%len(botScript)]
}
