package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/session"
	"github.com/wricardo/turnbased-match-server/game/turn"
)

// Outcome is what a check did with a session.
type Outcome string

const (
	OutcomeMissing      Outcome = "missing"
	OutcomeAbandoned    Outcome = "abandoned"
	OutcomeLobbyExpired Outcome = "lobby_expired"
	OutcomeFinished     Outcome = "finished"
	OutcomeRescheduled  Outcome = "rescheduled"

	// OutcomeEnded keeps an ended session until its final check.
	OutcomeEnded Outcome = "ended"
)

// Checker is the only component that deletes sessions. It periodically
// compares a session's fingerprint with the one observed last time and
// reaps sessions that stopped moving.
type Checker struct {
	repo       *session.Repository
	registry   *engine.Registry
	orch       *turn.Orchestrator
	dispatcher Dispatcher
	now        func() time.Time
}

// NewChecker creates a checker and binds it to the dispatcher.
func NewChecker(repo *session.Repository, registry *engine.Registry, orch *turn.Orchestrator, dispatcher Dispatcher) *Checker {
	c := &Checker{
		repo:       repo,
		registry:   registry,
		orch:       orch,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	dispatcher.Listen(c.handle)
	return c
}

// SetClock overrides the wall clock (tests).
func (c *Checker) SetClock(now func() time.Time) {
	c.now = now
}

// ScheduleCheck arranges a future Check of the session.
func (c *Checker) ScheduleCheck(ctx context.Context, delay time.Duration, sessionID string, fingerprint uint64) error {
	return c.dispatcher.Schedule(ctx, delay, sessionID, fingerprint)
}

func (c *Checker) handle(ctx context.Context, sessionID string, fingerprint uint64) {
	outcome, err := c.Check(ctx, sessionID, fingerprint)
	if err != nil {
		log.Printf("Lifecycle check of session %s failed: %v", sessionID, err)
		return
	}
	if outcome != OutcomeRescheduled && outcome != OutcomeEnded {
		log.Printf("Lifecycle check removed session %s (%s)", sessionID, outcome)
	}
}

// Check evaluates one session. A started session whose stored state still
// has lastFingerprint and no queued actions was abandoned and is deleted.
// Changes made by the check's own advance (timeouts, bot turns) never count
// as activity. An ended session is kept until FinalCheckDelay after it
// ended, and a lobby until LobbyDuration after it was created. Anything
// else is advanced once and rescheduled with its new fingerprint.
func (c *Checker) Check(ctx context.Context, sessionID string, lastFingerprint uint64) (Outcome, error) {
	sess, err := c.repo.GetSession(ctx, sessionID)
	if errors.Is(err, engine.ErrSessionNotFound) {
		return OutcomeMissing, c.repo.DeleteSession(ctx, &engine.Session{ID: sessionID})
	}
	if err != nil {
		return "", err
	}

	ruleset, err := c.registry.Lookup(sess.GameID)
	if err != nil {
		return OutcomeMissing, c.repo.DeleteSession(ctx, sess)
	}
	settings := ruleset.Settings()

	stored, _, err := c.repo.GetState(ctx, sessionID)
	if errors.Is(err, session.ErrStateNotFound) {
		return OutcomeMissing, c.repo.DeleteSession(ctx, sess)
	}
	if err != nil {
		return "", err
	}

	if stored.IsEnded || sess.IsEnded {
		return c.checkEnded(ctx, sess, stored, settings, lastFingerprint)
	}

	if stored.TurnNumber >= 0 && stored.Fingerprint() == lastFingerprint {
		pending, err := c.repo.ListActions(ctx, sessionID, true)
		if err != nil {
			return "", err
		}
		if len(pending) == 0 {
			return OutcomeAbandoned, c.repo.DeleteSession(ctx, sess)
		}
	}

	res, err := c.orch.Advance(ctx, turn.AdvanceRequest{SessionID: sessionID})
	if errors.Is(err, session.ErrStateNotFound) {
		return OutcomeMissing, c.repo.DeleteSession(ctx, sess)
	}
	if err != nil {
		return "", fmt.Errorf("advance before check: %w", err)
	}
	st := res.State

	if st.IsEnded {
		// the advance ended the match and scheduled its final check
		return OutcomeEnded, nil
	}
	if st.TurnNumber == engine.LobbyTurn && c.now().Sub(sess.CreatedAt) >= settings.LobbyDuration {
		return OutcomeLobbyExpired, c.repo.DeleteSession(ctx, res.Session)
	}

	if err := c.ScheduleCheck(ctx, settings.CheckDelay, sessionID, st.Fingerprint()); err != nil {
		return "", fmt.Errorf("reschedule check: %w", err)
	}
	return OutcomeRescheduled, nil
}

// checkEnded deletes an ended session once its final grace window is over.
// Earlier checks re-arm for the end of the window. A session without an end
// time falls back to the fingerprint comparison.
func (c *Checker) checkEnded(ctx context.Context, sess *engine.Session, st *engine.SessionState, settings engine.Settings, lastFingerprint uint64) (Outcome, error) {
	if sess.EndedAt.IsZero() {
		if st.Fingerprint() == lastFingerprint {
			return OutcomeAbandoned, c.repo.DeleteSession(ctx, sess)
		}
		if err := c.ScheduleCheck(ctx, settings.FinalCheckDelay, sess.ID, st.Fingerprint()); err != nil {
			return "", fmt.Errorf("reschedule final check: %w", err)
		}
		return OutcomeEnded, nil
	}

	remaining := sess.EndedAt.Add(settings.FinalCheckDelay).Sub(c.now())
	if remaining <= 0 {
		return OutcomeFinished, c.repo.DeleteSession(ctx, sess)
	}
	if err := c.ScheduleCheck(ctx, remaining, sess.ID, st.Fingerprint()); err != nil {
		return "", fmt.Errorf("reschedule final check: %w", err)
	}
	return OutcomeEnded, nil
}
