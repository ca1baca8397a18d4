package matchmaking

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/engine/enginetest"
	"github.com/wricardo/turnbased-match-server/game/rules/rps"
	"github.com/wricardo/turnbased-match-server/game/session"
	"github.com/wricardo/turnbased-match-server/game/store"
	"github.com/wricardo/turnbased-match-server/game/turn"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockScheduler records scheduled lifecycle checks
type MockScheduler struct {
	mu       sync.Mutex
	Sessions []string
}

func (m *MockScheduler) ScheduleCheck(ctx context.Context, delay time.Duration, sessionID string, fingerprint uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions = append(m.Sessions, sessionID)
	return nil
}

type fixture struct {
	repo  *session.Repository
	pool  *Pool
	sched *MockScheduler
	clock *fakeClock
}

// MockKV wraps a real store; CompareAndSwapFunc, when set, runs instead of
// the wrapped CompareAndSwap.
type MockKV struct {
	store.KV
	CompareAndSwapFunc func(ctx context.Context, item store.Item, expectedTag string) error
}

func (m *MockKV) CompareAndSwap(ctx context.Context, item store.Item, expectedTag string) error {
	if m.CompareAndSwapFunc != nil {
		return m.CompareAndSwapFunc(ctx, item, expectedTag)
	}
	return m.KV.CompareAndSwap(ctx, item, expectedTag)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithKV(t, store.NewMemoryStore(), opts...)
}

func newFixtureWithKV(t *testing.T, kv store.KV, opts ...Option) *fixture {
	t.Helper()
	registry := engine.NewRegistry()

	counter := enginetest.NewCounter()
	counter.Configure(map[string]string{
		engine.KeyPlayerCount: "2",
		engine.KeyMinPlayers:  "2",
		engine.KeyMaxPlayers:  "3",
	})
	strict := enginetest.NewCounter()
	strict.Configure(map[string]string{engine.KeyNoPlayerPolicy: "fail"})
	game := rps.New()
	game.Configure(nil)

	for id, r := range map[string]engine.Ruleset{"counter": counter, "strict": strict, "rps": game} {
		if err := registry.Register(id, r); err != nil {
			t.Fatalf("Failed to register %s: %v", id, err)
		}
	}

	repo := session.NewRepository(kv)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	sched := &MockScheduler{}
	orch := turn.NewOrchestrator(repo, registry, turn.WithClock(clock.Now))
	opts = append([]Option{WithClock(clock.Now), WithRand(rand.New(rand.NewSource(1)))}, opts...)
	return &fixture{
		repo:  repo,
		pool:  NewPool(repo, registry, orch, sched, opts...),
		sched: sched,
		clock: clock,
	}
}

func (f *fixture) find(t *testing.T, gameID, playerID string, lobby bool) *engine.MatchmakingEntry {
	t.Helper()
	e, err := f.pool.FindMatch(context.Background(), FindRequest{GameID: gameID, PlayerID: playerID, UsesLobby: lobby})
	if err != nil {
		t.Fatalf("FindMatch(%s) failed: %v", playerID, err)
	}
	return e
}

func (f *fixture) entry(t *testing.T, gameID, playerID string) *engine.MatchmakingEntry {
	t.Helper()
	e, err := f.repo.GetEntry(context.Background(), gameID, playerID)
	if err != nil {
		t.Fatalf("GetEntry(%s) failed: %v", playerID, err)
	}
	return e
}

func TestFindMatchValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  FindRequest
		want error
	}{
		{"missing player", FindRequest{GameID: "counter"}, engine.ErrInvalidRequest},
		{"bot id", FindRequest{GameID: "counter", PlayerID: "~sneaky"}, engine.ErrInvalidRequest},
		{"unknown game", FindRequest{GameID: "chess", PlayerID: "alice"}, engine.ErrUnknownGame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.pool.FindMatch(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPairingBatches(t *testing.T) {
	f := newFixture(t)
	players := []string{"p1", "p2", "p3", "p4", "p5"}
	for _, id := range players {
		f.find(t, "counter", id, false)
		f.clock.Advance(time.Millisecond)
	}

	first, second := f.entry(t, "counter", "p1"), f.entry(t, "counter", "p3")
	if first.Status != engine.StatusMatched || second.Status != engine.StatusMatched {
		t.Fatalf("Expected p1 and p3 matched, got %s and %s", first.Status, second.Status)
	}
	if f.entry(t, "counter", "p2").SessionID != first.SessionID {
		t.Error("Expected p1 and p2 to share a session")
	}
	if f.entry(t, "counter", "p4").SessionID != second.SessionID {
		t.Error("Expected p3 and p4 to share a session")
	}
	if first.SessionID == second.SessionID {
		t.Error("Expected two distinct sessions")
	}
	if left := f.entry(t, "counter", "p5"); left.Status != engine.StatusSearching {
		t.Errorf("Expected p5 still searching, got %s", left.Status)
	}
	if len(f.sched.Sessions) != 2 {
		t.Errorf("Expected a first check per session, got %v", f.sched.Sessions)
	}

	st, _, err := f.repo.GetState(context.Background(), first.SessionID)
	if err != nil {
		t.Fatalf("Expected seeded state: %v", err)
	}
	if st.TurnNumber != 0 {
		t.Errorf("Expected non-lobby session to start at turn 0, got %d", st.TurnNumber)
	}
	sess, err := f.repo.GetSession(context.Background(), first.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !sess.IsStarted || sess.Alias == "" || sess.ParticipantIDs[0] != "p1" {
		t.Errorf("Unexpected session %+v", sess)
	}
}

func TestFindMatchResearchWindow(t *testing.T) {
	f := newFixture(t)
	original := f.find(t, "counter", "p1", false).Timestamp

	f.clock.Advance(time.Second)
	if again := f.find(t, "counter", "p1", false); !again.Timestamp.Equal(original) {
		t.Errorf("Expected arrival time kept within the window, got %v want %v", again.Timestamp, original)
	}

	f.clock.Advance(time.Minute)
	if later := f.find(t, "counter", "p1", false); later.Timestamp.Equal(original) {
		t.Error("Expected a fresh arrival time after the window")
	}
}

func TestFindMatchReturnsLiveSession(t *testing.T) {
	f := newFixture(t)
	f.find(t, "counter", "p1", false)
	matched := f.find(t, "counter", "p2", false)

	again := f.find(t, "counter", "p2", false)
	if again.SessionID != matched.SessionID || again.Status != engine.StatusMatched {
		t.Errorf("Expected existing match returned, got %+v", again)
	}
}

func TestNoPlayerPolicy(t *testing.T) {
	t.Run("bots fill the batch", func(t *testing.T) {
		f := newFixture(t)
		f.find(t, "counter", "p1", false)
		f.clock.Advance(engine.DefaultSettings().MaxWaitToMatchWithBots + time.Second)

		created, err := f.pool.Pair(context.Background(), "counter", engine.DefaultRegion)
		if err != nil {
			t.Fatalf("Pair failed: %v", err)
		}
		if len(created) != 1 {
			t.Fatalf("Expected one session, got %d", len(created))
		}
		sess := created[0]
		if !sess.HasBots || len(sess.ParticipantIDs) != 2 || !engine.IsBotID(sess.ParticipantIDs[1]) {
			t.Errorf("Expected p1 plus a bot, got %v", sess.ParticipantIDs)
		}
		if e := f.entry(t, "counter", "p1"); e.Status != engine.StatusMatched || e.SessionID != sess.ID {
			t.Errorf("Expected p1 matched into %s, got %+v", sess.ID, e)
		}
		if _, err := f.repo.GetEntry(context.Background(), "counter", sess.ParticipantIDs[1]); !errors.Is(err, session.ErrEntryNotFound) {
			t.Errorf("Expected no entry stored for the bot, got %v", err)
		}
	})

	t.Run("young leftovers keep waiting", func(t *testing.T) {
		f := newFixture(t)
		f.find(t, "counter", "p1", false)
		created, err := f.pool.Pair(context.Background(), "counter", engine.DefaultRegion)
		if err != nil || len(created) != 0 {
			t.Errorf("Expected nothing created, got %d, %v", len(created), err)
		}
	})

	t.Run("fail marks leftovers", func(t *testing.T) {
		f := newFixture(t)
		f.find(t, "strict", "p1", false)
		f.clock.Advance(engine.DefaultSettings().MaxWaitToMatchWithBots + time.Second)

		if _, err := f.pool.Pair(context.Background(), "strict", engine.DefaultRegion); err != nil {
			t.Fatalf("Pair failed: %v", err)
		}
		if e := f.entry(t, "strict", "p1"); e.Status != engine.StatusFailedNoPlayers {
			t.Errorf("Expected failed_no_players, got %s", e.Status)
		}

		canceled, err := f.pool.Cancel(context.Background(), "strict", "p1")
		if err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if canceled.Status != engine.StatusCanceled {
			t.Errorf("Expected canceled, got %s", canceled.Status)
		}
	})
}

func TestLobby(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithAliasGenerator(func() string { return "ROOMA" }))

	host := f.find(t, "counter", "alice", true)
	if host.Status != engine.StatusInLobby || host.Alias != "ROOMA" {
		t.Fatalf("Expected alice in lobby ROOMA, got %+v", host)
	}
	st, _, err := f.repo.GetState(ctx, host.SessionID)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if st.TurnNumber != engine.LobbyTurn {
		t.Errorf("Expected lobby turn, got %d", st.TurnNumber)
	}

	if _, err := f.pool.Start(ctx, host.SessionID, "alice"); !errors.Is(err, engine.ErrNotEnoughPlayers) {
		t.Errorf("Expected ErrNotEnoughPlayers, got %v", err)
	}

	sess, err := f.pool.JoinByAlias(ctx, "rooma", engine.PlayerInfo{ID: "bob"})
	if err != nil {
		t.Fatalf("JoinByAlias failed: %v", err)
	}
	if len(sess.ParticipantIDs) != 2 || sess.IsStarted {
		t.Fatalf("Expected two seated players in an open lobby, got %+v", sess)
	}
	st, _, _ = f.repo.GetState(ctx, sess.ID)
	if _, ok := st.Private["bob"]; !ok {
		t.Error("Expected reseeded state to include bob")
	}
	if e := f.entry(t, "counter", "bob"); e.Status != engine.StatusInLobby || e.SessionID != sess.ID {
		t.Errorf("Expected bob in lobby, got %+v", e)
	}

	if _, err := f.pool.Start(ctx, sess.ID, "mallory"); !errors.Is(err, engine.ErrNotParticipant) {
		t.Errorf("Expected ErrNotParticipant, got %v", err)
	}

	sess, err = f.pool.JoinByAlias(ctx, "ROOMA", engine.PlayerInfo{ID: "carol"})
	if err != nil {
		t.Fatalf("JoinByAlias failed: %v", err)
	}
	if !sess.IsStarted {
		t.Fatal("Expected lobby to start when it reached max players")
	}
	st, _, _ = f.repo.GetState(ctx, sess.ID)
	if st.TurnNumber != 0 {
		t.Errorf("Expected started session at turn 0, got %d", st.TurnNumber)
	}
	if e := f.entry(t, "counter", "alice"); e.Status != engine.StatusMatched {
		t.Errorf("Expected alice matched after start, got %s", e.Status)
	}

	if _, err := f.pool.JoinByAlias(ctx, "ROOMA", engine.PlayerInfo{ID: "dave"}); !errors.Is(err, engine.ErrSessionStarted) {
		t.Errorf("Expected ErrSessionStarted, got %v", err)
	}
	if _, err := f.pool.JoinByAlias(ctx, "NOPE1", engine.PlayerInfo{ID: "dave"}); !errors.Is(err, engine.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestExplicitStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	host := f.find(t, "counter", "alice", true)
	if _, err := f.pool.JoinByAlias(ctx, host.Alias, engine.PlayerInfo{ID: "bob"}); err != nil {
		t.Fatalf("JoinByAlias failed: %v", err)
	}

	sess, err := f.pool.Start(ctx, host.SessionID, "bob")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !sess.IsStarted || sess.StartedAt.IsZero() {
		t.Errorf("Expected started session, got %+v", sess)
	}
	if _, err := f.pool.Start(ctx, host.SessionID, "bob"); !errors.Is(err, engine.ErrSessionStarted) {
		t.Errorf("Expected ErrSessionStarted on second start, got %v", err)
	}
}

func TestAliasCollision(t *testing.T) {
	codes := []string{"AAAAA", "AAAAA", "BBBBB"}
	var mu sync.Mutex
	f := newFixture(t, WithAliasGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return c
	}))

	one := f.find(t, "counter", "alice", true)
	two := f.find(t, "counter", "bob", true)
	if one.Alias != "AAAAA" || two.Alias != "BBBBB" {
		t.Errorf("Expected regenerated alias on collision, got %s and %s", one.Alias, two.Alias)
	}
}

func TestFailedCreateReleasesAlias(t *testing.T) {
	kv := &MockKV{KV: store.NewMemoryStore()}
	kv.CompareAndSwapFunc = func(ctx context.Context, item store.Item, expectedTag string) error {
		if item.Table == session.TableStates {
			return errors.New("disk full")
		}
		return kv.KV.CompareAndSwap(ctx, item, expectedTag)
	}
	f := newFixtureWithKV(t, kv, WithAliasGenerator(func() string { return "ROOMX" }))
	ctx := context.Background()

	if _, err := f.pool.FindMatch(ctx, FindRequest{GameID: "counter", PlayerID: "alice", UsesLobby: true}); err == nil {
		t.Fatal("Expected FindMatch to fail when the first state cannot be written")
	}
	if id, err := f.repo.ResolveAlias(ctx, "ROOMX"); err == nil {
		t.Errorf("Expected alias released, still bound to %s", id)
	}

	// once storage recovers the same alias is free again
	kv.CompareAndSwapFunc = nil
	e := f.find(t, "counter", "alice", true)
	if e.Alias != "ROOMX" {
		t.Errorf("Expected alias ROOMX reused, got %q", e.Alias)
	}
	if len(f.sched.Sessions) != 1 {
		t.Errorf("Expected only the successful session scheduled, got %v", f.sched.Sessions)
	}
}

func TestPairingSpansUseTelemetryTracer(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(prev)

	f := newFixture(t)
	f.find(t, "counter", "alice", false)

	var pair sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "matchmaking.Pair" {
			pair = s
		}
	}
	if pair == nil {
		t.Fatal("Expected a matchmaking.Pair span")
	}
	if got := pair.InstrumentationScope().Name; got != tracerName {
		t.Errorf("Expected tracer %s, got %s", tracerName, got)
	}
}

func TestLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("before start reseeds and last player deletes", func(t *testing.T) {
		f := newFixture(t)
		host := f.find(t, "counter", "alice", true)
		if _, err := f.pool.JoinByAlias(ctx, host.Alias, engine.PlayerInfo{ID: "bob"}); err != nil {
			t.Fatalf("JoinByAlias failed: %v", err)
		}

		if err := f.pool.Leave(ctx, LeaveRequest{GameID: "counter", PlayerID: "bob"}); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}
		sess, err := f.repo.GetSession(ctx, host.SessionID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if len(sess.ParticipantIDs) != 1 || sess.ParticipantIDs[0] != "alice" {
			t.Errorf("Expected only alice seated, got %v", sess.ParticipantIDs)
		}
		st, _, _ := f.repo.GetState(ctx, sess.ID)
		if _, ok := st.Private["bob"]; ok {
			t.Error("Expected bob dropped from the reseeded state")
		}
		if _, err := f.repo.GetEntry(ctx, "counter", "bob"); !errors.Is(err, session.ErrEntryNotFound) {
			t.Errorf("Expected bob's entry removed, got %v", err)
		}

		if err := f.pool.Leave(ctx, LeaveRequest{PlayerID: "alice", SessionID: sess.ID}); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}
		if _, err := f.repo.GetSession(ctx, sess.ID); !errors.Is(err, engine.ErrSessionNotFound) {
			t.Errorf("Expected empty lobby deleted, got %v", err)
		}
	})

	t.Run("after start retreats", func(t *testing.T) {
		f := newFixture(t)
		f.find(t, "rps", "alice", false)
		matched := f.find(t, "rps", "bob", false)

		if err := f.pool.Leave(ctx, LeaveRequest{GameID: "rps", PlayerID: "alice"}); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}
		st, _, err := f.repo.GetState(ctx, matched.SessionID)
		if err != nil {
			t.Fatalf("GetState failed: %v", err)
		}
		if !st.IsEnded {
			t.Fatal("Expected retreat to end the match")
		}
		if st.PublicValue("end_reason") != "retreat" || st.PublicValue("winner") != "bob" {
			t.Errorf("Expected bob to win by retreat, got %v", st.Public)
		}
		sess, _ := f.repo.GetSession(ctx, matched.SessionID)
		if sess == nil || !sess.IsEnded {
			t.Error("Expected session marked ended")
		}
	})

	t.Run("searching entry removed", func(t *testing.T) {
		f := newFixture(t)
		f.find(t, "counter", "p1", false)
		if err := f.pool.Leave(ctx, LeaveRequest{GameID: "counter", PlayerID: "p1"}); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}
		if _, err := f.repo.GetEntry(ctx, "counter", "p1"); !errors.Is(err, session.ErrEntryNotFound) {
			t.Errorf("Expected entry removed, got %v", err)
		}
		if err := f.pool.Leave(ctx, LeaveRequest{GameID: "counter", PlayerID: "p1"}); !errors.Is(err, engine.ErrNoMatch) {
			t.Errorf("Expected ErrNoMatch, got %v", err)
		}
	})
}

func TestGenerateAlias(t *testing.T) {
	a := GenerateAlias()
	if len(a) != AliasLength {
		t.Fatalf("Expected %d characters, got %q", AliasLength, a)
	}
	for _, c := range a {
		if !containsRune(aliasChars, c) {
			t.Errorf("Unexpected character %q in %q", c, a)
		}
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
