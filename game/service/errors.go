package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/session"
)

// Kind classifies errors returned by the service
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// ErrorKind classifies err. Anything outside the validation family is
// internal.
func ErrorKind(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrSessionNotFound), errors.Is(err, engine.ErrUnknownGame),
		errors.Is(err, engine.ErrNoMatch), errors.Is(err, session.ErrEntryNotFound),
		errors.Is(err, session.ErrStateNotFound):
		return KindNotFound
	case errors.Is(err, engine.ErrSessionEnded), errors.Is(err, engine.ErrSessionStarted),
		errors.Is(err, engine.ErrSessionFull), errors.Is(err, engine.ErrDuplicateAction),
		errors.Is(err, engine.ErrNotEnoughPlayers):
		return KindConflict
	case engine.IsValidation(err):
		return KindValidation
	}
	return KindInternal
}

// HTTPStatus maps err to a response status code
func HTTPStatus(err error) int {
	switch ErrorKind(err) {
	case KindValidation:
		if errors.Is(err, engine.ErrNotParticipant) {
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Message is the caller visible text of err. Internal failures are not
// described beyond a generic message.
func Message(err error) string {
	if ErrorKind(err) == KindInternal {
		return "internal error, please retry"
	}
	return err.Error()
}
