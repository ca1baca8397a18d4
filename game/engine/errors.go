package engine

import "errors"

// Validation errors are reported to the caller with their message and are
// never retried by the engine.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnknownGame      = errors.New("unknown game")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotParticipant   = errors.New("player is not a participant of the session")
	ErrSessionEnded     = errors.New("session already ended")
	ErrSessionStarted   = errors.New("session already started")
	ErrSessionFull      = errors.New("session is full")
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	ErrActionNotAllowed = errors.New("action not allowed")
	ErrDuplicateAction  = errors.New("duplicate action")
	ErrNoMatch          = errors.New("no match for player")
	ErrNoPlayersFound   = errors.New("no players found to match with")
)

// IsValidation reports whether err belongs to the validation family.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest, ErrUnknownGame, ErrSessionNotFound, ErrNotParticipant,
		ErrSessionEnded, ErrSessionStarted, ErrSessionFull, ErrNotEnoughPlayers,
		ErrActionNotAllowed, ErrDuplicateAction, ErrNoMatch, ErrNoPlayersFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
