package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/session"
	"github.com/wricardo/turnbased-match-server/game/store"
	"github.com/wricardo/turnbased-match-server/internal/telemetry"
)

const tracerName = "github.com/wricardo/turnbased-match-server/game/turn"

// Notifier observes committed states.
type Notifier interface {
	StateCommitted(sess *engine.Session, st *engine.SessionState)
}

// Scheduler arranges a future lifecycle check of a session.
type Scheduler interface {
	ScheduleCheck(ctx context.Context, delay time.Duration, sessionID string, fingerprint uint64) error
}

// AdvanceRequest describes one advance step.
type AdvanceRequest struct {
	SessionID   string
	RequesterID string

	// Acknowledge marks RequesterID as having observed the stored state,
	// provided its fingerprint still equals SeenFingerprint.
	Acknowledge     bool
	SeenFingerprint uint64
}

// AdvanceResult is the outcome of an advance step.
type AdvanceResult struct {
	Session   *engine.Session
	State     *engine.SessionState
	Committed bool
	Attempts  int
}

// Orchestrator drives sessions forward: it folds pending actions into a
// candidate state through the ruleset and commits it with an optimistic
// compare-and-swap, retrying on lost races.
type Orchestrator struct {
	repo      *session.Repository
	registry  *engine.Registry
	notifier  Notifier
	scheduler Scheduler
	now       func() time.Time
	tracer    trace.Tracer
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier registers an observer of committed states.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithClock overrides the wall clock handed to rulesets.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTracer overrides the tracer (tests).
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(repo *session.Repository, registry *engine.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:     repo,
		registry: registry,
		now:      time.Now,
		tracer:   telemetry.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetScheduler wires the lifecycle scheduler once it exists.
func (o *Orchestrator) SetScheduler(s Scheduler) {
	o.scheduler = s
}

// Advance runs one step for the session. Lost commit races are retried
// until a commit succeeds, nothing is left to commit, or ctx is done.
func (o *Orchestrator) Advance(ctx context.Context, req AdvanceRequest) (*AdvanceResult, error) {
	ctx, span := o.tracer.Start(ctx, "turn.Advance", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("requester.id", req.RequesterID),
	))
	defer span.End()

	res, err := o.advance(ctx, span, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("advance.attempts", res.Attempts),
		attribute.Bool("advance.committed", res.Committed),
		attribute.Int("state.turn", res.State.TurnNumber),
	)
	return res, nil
}

func (o *Orchestrator) advance(ctx context.Context, span trace.Span, req AdvanceRequest) (*AdvanceResult, error) {
	sess, err := o.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("game.id", sess.GameID))
	ruleset, err := o.registry.Lookup(sess.GameID)
	if err != nil {
		return nil, err
	}

	owner := uuid.NewString()
	var claimed []*engine.PendingAction

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			o.release(claimed, owner)
			return nil, err
		}

		last, tag, err := o.repo.GetState(ctx, req.SessionID)
		if err != nil {
			o.release(claimed, owner)
			return nil, err
		}

		fresh, err := o.claimPending(ctx, req.SessionID, owner)
		if err != nil {
			o.release(claimed, owner)
			return nil, err
		}
		claimed = append(claimed, fresh...)
		for _, a := range claimed {
			a.IsProcessed = false
		}

		base, acked := last, false
		if req.Acknowledge && !last.IsEnded && last.Fingerprint() == req.SeenFingerprint &&
			sess.HasParticipant(req.RequesterID) && !last.HasAcknowledged(req.RequesterID) {
			base = last.Clone()
			base.Acknowledge(req.RequesterID)
			acked = true
		}

		next := ruleset.AdvanceTurn(o.now(), req.RequesterID, sess, base, claimed)
		if next == base && !acked {
			// claimed actions were consumed without effect
			o.markProcessed(ctx, claimed)
			return &AdvanceResult{Session: sess, State: last, Attempts: attempt}, nil
		}

		err = o.repo.CommitState(ctx, req.SessionID, next, tag)
		if errors.Is(err, store.ErrConflict) {
			span.AddEvent("commit conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
			continue
		}
		if err != nil {
			o.release(claimed, owner)
			return nil, fmt.Errorf("failed to commit state of %s: %w", req.SessionID, err)
		}

		o.markProcessed(ctx, claimed)
		if !last.IsEnded && next.IsEnded {
			o.finish(ctx, sess, ruleset, next)
		}
		if o.notifier != nil {
			o.notifier.StateCommitted(sess, next)
		}
		return &AdvanceResult{Session: sess, State: next, Committed: true, Attempts: attempt}, nil
	}
}

// claimPending claims every still pending action of the session. Actions
// another writer claims first are skipped.
func (o *Orchestrator) claimPending(ctx context.Context, sessionID, owner string) ([]*engine.PendingAction, error) {
	pending, err := o.repo.ListActions(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	claimed := make([]*engine.PendingAction, 0, len(pending))
	for _, a := range pending {
		err := o.repo.ClaimAction(ctx, a, owner)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			o.release(claimed, owner)
			return nil, err
		}
		claimed = append(claimed, a)
	}
	return claimed, nil
}

// release returns claimed actions to the pending pool after a failed step.
func (o *Orchestrator) release(claimed []*engine.PendingAction, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, a := range claimed {
		if err := o.repo.ReleaseAction(ctx, a, owner); err != nil {
			log.Printf("Failed to release action %s of session %s: %v", a.ID, a.SessionID, err)
		}
	}
}

// markProcessed turns claims into plain processed records once their
// effect is committed.
func (o *Orchestrator) markProcessed(ctx context.Context, claimed []*engine.PendingAction) {
	for _, a := range claimed {
		a.IsProcessed = true
		if err := o.repo.PutAction(ctx, a); err != nil {
			log.Printf("Failed to mark action %s processed: %v", a.ID, err)
		}
	}
}

// finish records the end of a session, drops its matchmaking bookkeeping
// and hands it to the lifecycle scheduler for final cleanup.
func (o *Orchestrator) finish(ctx context.Context, sess *engine.Session, ruleset engine.Ruleset, st *engine.SessionState) {
	sess.IsEnded = true
	sess.EndedAt = o.now().UTC()
	if err := o.repo.SaveSession(ctx, sess); err != nil {
		log.Printf("Failed to mark session %s ended: %v", sess.ID, err)
	}
	if err := o.repo.DeleteSessionEntries(ctx, sess); err != nil {
		log.Printf("Failed to remove matchmaking entries of session %s: %v", sess.ID, err)
	}
	if o.scheduler != nil {
		delay := ruleset.Settings().FinalCheckDelay
		if err := o.scheduler.ScheduleCheck(ctx, delay, sess.ID, st.Fingerprint()); err != nil {
			log.Printf("Failed to schedule final check of session %s: %v", sess.ID, err)
		}
	}
	log.Printf("Session %s ended at turn %d", sess.ID, st.TurnNumber)
}
