package turn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/engine/enginetest"
	"github.com/wricardo/turnbased-match-server/game/session"
	"github.com/wricardo/turnbased-match-server/game/store"
)

// MockNotifier records committed states
type MockNotifier struct {
	mu     sync.Mutex
	States []*engine.SessionState
}

func (m *MockNotifier) StateCommitted(sess *engine.Session, st *engine.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.States = append(m.States, st)
}

type scheduledCheck struct {
	Delay       time.Duration
	SessionID   string
	Fingerprint uint64
}

// MockScheduler records scheduled lifecycle checks
type MockScheduler struct {
	mu     sync.Mutex
	Checks []scheduledCheck
}

func (m *MockScheduler) ScheduleCheck(ctx context.Context, delay time.Duration, sessionID string, fingerprint uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Checks = append(m.Checks, scheduledCheck{Delay: delay, SessionID: sessionID, Fingerprint: fingerprint})
	return nil
}

// racingKV runs hook right before the first state compare-and-swap, which
// lets a test slip a competing commit in between read and write.
type racingKV struct {
	store.KV
	hook func()
}

func (r *racingKV) CompareAndSwap(ctx context.Context, item store.Item, expectedTag string) error {
	if item.Table == session.TableStates && r.hook != nil {
		h := r.hook
		r.hook = nil
		h()
	}
	return r.KV.CompareAndSwap(ctx, item, expectedTag)
}

// failingKV fails every state compare-and-swap with err.
type failingKV struct {
	store.KV
	err error
}

func (f *failingKV) CompareAndSwap(ctx context.Context, item store.Item, expectedTag string) error {
	if item.Table == session.TableStates && f.err != nil {
		return f.err
	}
	return f.KV.CompareAndSwap(ctx, item, expectedTag)
}

type fixture struct {
	repo    *session.Repository
	counter *enginetest.Counter
	orch    *Orchestrator
	intake  *Intake
	sess    *engine.Session
}

func newFixture(t *testing.T, kv store.KV, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	counter := enginetest.NewCounter()
	registry := engine.NewRegistry()
	if err := registry.Register("counter", counter); err != nil {
		t.Fatalf("Failed to register ruleset: %v", err)
	}
	repo := session.NewRepository(kv)

	sess := &engine.Session{ID: "s1", GameID: "counter", IsStarted: true, CreatedAt: time.Now()}
	sess.AddParticipant(engine.PlayerInfo{ID: "alice"})
	sess.AddParticipant(engine.PlayerInfo{ID: "bob"})
	if err := repo.CreateSession(ctx, sess); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := repo.CommitState(ctx, sess.ID, counter.SeedFirstState(sess), ""); err != nil {
		t.Fatalf("Failed to seed state: %v", err)
	}

	return &fixture{
		repo:    repo,
		counter: counter,
		orch:    NewOrchestrator(repo, registry, opts...),
		intake:  NewIntake(repo, registry, false),
		sess:    sess,
	}
}

func (f *fixture) submit(t *testing.T, playerID string) *engine.PendingAction {
	t.Helper()
	a, err := f.intake.Submit(context.Background(), f.sess.ID, playerID, enginetest.Inc())
	if err != nil {
		t.Fatalf("Failed to submit action: %v", err)
	}
	return a
}

func (f *fixture) state(t *testing.T) *engine.SessionState {
	t.Helper()
	st, _, err := f.repo.GetState(context.Background(), f.sess.ID)
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	return st
}
