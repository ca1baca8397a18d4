package rps

import (
	"math/rand"
	"testing"
	"time"

	"github.com/wricardo/turnbased-match-server/game/engine"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(ids ...string) *engine.Session {
	s := &engine.Session{ID: "s1", GameID: Name, IsStarted: true, CreatedAt: testNow}
	for _, id := range ids {
		s.AddParticipant(engine.PlayerInfo{ID: id, DisplayName: id, IsBot: engine.IsBotID(id)})
	}
	return s
}

func move(player string, m Move) *engine.PendingAction {
	return &engine.PendingAction{
		ID:       player + "-" + string(m),
		PlayerID: player,
		Payload:  engine.Payload{Private: map[string]string{privateMove: string(m)}},
	}
}

func newRuleset(t *testing.T, settings map[string]string) *Ruleset {
	t.Helper()
	r, ok := New().(*Ruleset)
	if !ok {
		t.Fatal("New did not return *Ruleset")
	}
	r.Configure(settings)
	return r
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b Move
		want int
	}{
		{Rock, Scissors, 1},
		{Paper, Rock, 1},
		{Scissors, Paper, 1},
		{Scissors, Rock, -1},
		{Rock, Rock, 0},
		{NoMove, Rock, -1},
		{Paper, NoMove, 1},
		{NoMove, NoMove, 0},
	}
	for _, tt := range tests {
		if got := compare(tt.a, tt.b); got != tt.want {
			t.Errorf("compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSeedFirstState(t *testing.T) {
	r := newRuleset(t, nil)

	t.Run("direct match starts in sync", func(t *testing.T) {
		st := r.SeedFirstState(newSession("alice", "bob"))
		if st.TurnNumber != 0 || st.PublicValue(keyPhase) != phaseSync {
			t.Errorf("Expected turn 0 sync, got turn %d phase %q", st.TurnNumber, st.PublicValue(keyPhase))
		}
		if st.PublicValue(scoreKey("alice")) != "0" {
			t.Errorf("Expected zero score, got %q", st.PublicValue(scoreKey("alice")))
		}
	})

	t.Run("unstarted lobby", func(t *testing.T) {
		s := newSession("alice")
		s.UsesLobby, s.IsStarted = true, false
		st := r.SeedFirstState(s)
		if st.TurnNumber != engine.LobbyTurn || st.PublicValue(keyPhase) != phaseLobby {
			t.Errorf("Expected lobby turn, got turn %d phase %q", st.TurnNumber, st.PublicValue(keyPhase))
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		s := newSession("alice", "bob")
		if r.SeedFirstState(s).Fingerprint() != r.SeedFirstState(s).Fingerprint() {
			t.Error("Expected identical seeds for identical membership")
		}
	})
}

func TestIsActionAllowed(t *testing.T) {
	r := newRuleset(t, nil)
	session := newSession("alice", "bob")
	sync := r.SeedFirstState(session)
	play := sync.Clone()
	play.SetPublic(map[string]string{keyPhase: phasePlay}, true)

	tests := []struct {
		name   string
		player string
		change engine.Payload
		state  *engine.SessionState
		want   bool
	}{
		{"move in play", "alice", engine.Payload{Private: map[string]string{privateMove: "ROCK"}}, play, true},
		{"move in sync", "alice", engine.Payload{Private: map[string]string{privateMove: "ROCK"}}, sync, false},
		{"illegal shape", "alice", engine.Payload{Private: map[string]string{privateMove: "LIZARD"}}, play, false},
		{"public key", "alice", engine.Payload{Public: map[string]string{keyPhase: phaseEnded}}, play, false},
		{"unknown private key", "alice", engine.Payload{Private: map[string]string{"score": "9"}}, play, false},
		{"stranger", "carol", engine.Payload{Private: map[string]string{privateMove: "ROCK"}}, play, false},
		{"retreat any phase", "bob", engine.Payload{Private: map[string]string{privateRetreat: "1"}}, sync, true},
		{"empty", "alice", engine.Payload{}, play, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.IsActionAllowed(tt.player, tt.change, session, tt.state); got != tt.want {
				t.Errorf("IsActionAllowed = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("second move rejected", func(t *testing.T) {
		moved := play.Clone()
		moved.SetPrivate("alice", map[string]string{privateMove: "ROCK"}, false)
		if r.IsActionAllowed("alice", engine.Payload{Private: map[string]string{privateMove: "PAPER"}}, session, moved) {
			t.Error("Expected a second move in the same round to be rejected")
		}
	})
}

func TestRoundTrip(t *testing.T) {
	r := newRuleset(t, map[string]string{KeyVictoryScore: "2"})
	session := newSession("alice", "bob")
	st := r.SeedFirstState(session)

	if got := r.AdvanceTurn(testNow, "alice", session, st, nil); got != st {
		t.Fatal("Expected no-op advance before anyone acknowledged")
	}

	acked := st.Clone()
	acked.Acknowledge("alice")
	if got := r.AdvanceTurn(testNow, "alice", session, acked, nil); got != acked {
		t.Fatal("Expected sync to wait for every participant")
	}

	acked.Acknowledge("bob")
	st = r.AdvanceTurn(testNow, "bob", session, acked, nil)
	if st.PublicValue(keyPhase) != phasePlay || st.TurnNumber != 1 {
		t.Fatalf("Expected play at turn 1, got %q at %d", st.PublicValue(keyPhase), st.TurnNumber)
	}
	if len(st.Acknowledged) != 0 {
		t.Error("Expected entering play to reset acknowledgements")
	}

	for round := 1; round <= 2; round++ {
		actions := []*engine.PendingAction{move("alice", Rock), move("bob", Scissors)}
		st = r.AdvanceTurn(testNow, "alice", session, st, actions)
		for _, a := range actions {
			if !a.IsProcessed {
				t.Errorf("Round %d: expected action %s processed", round, a.ID)
			}
		}
		if st.PublicValue(keyRoundWinner) != "alice" {
			t.Fatalf("Round %d: expected alice to win, got %q", round, st.PublicValue(keyRoundWinner))
		}
		if st.PublicValue(revealKey("bob")) != string(Scissors) {
			t.Errorf("Round %d: expected bob's move revealed, got %q", round, st.PublicValue(revealKey("bob")))
		}
		if st.PrivateValue("alice", privateMove) != "" {
			t.Errorf("Round %d: expected private moves cleared", round)
		}
		if round == 2 {
			break
		}

		if st.PublicValue(keyPhase) != phaseResult || st.PublicValue(scoreKey("alice")) != "1" {
			t.Fatalf("Expected result with score 1, got phase %q score %q", st.PublicValue(keyPhase), st.PublicValue(scoreKey("alice")))
		}
		next := st.Clone()
		next.Acknowledge("alice")
		next.Acknowledge("bob")
		st = r.AdvanceTurn(testNow, "bob", session, next, nil)
		if st.PublicValue(keyPhase) != phasePlay || st.TurnNumber != 2 {
			t.Fatalf("Expected play at turn 2, got %q at %d", st.PublicValue(keyPhase), st.TurnNumber)
		}
	}

	if !st.IsEnded || st.PublicValue(keyPhase) != phaseEnded {
		t.Fatalf("Expected ended match, got phase %q", st.PublicValue(keyPhase))
	}
	if st.PublicValue(keyWinner) != "alice" || st.PublicValue(keyEndReason) != reasonVictory {
		t.Errorf("Expected alice victory, got %q/%q", st.PublicValue(keyWinner), st.PublicValue(keyEndReason))
	}
	if got := r.AdvanceTurn(testNow.Add(time.Hour), "bob", session, st, []*engine.PendingAction{move("bob", Rock)}); got != st {
		t.Error("Expected ended state to be terminal")
	}
}

func TestTieDoesNotScore(t *testing.T) {
	r := newRuleset(t, nil)
	session := newSession("alice", "bob")
	st := r.SeedFirstState(session)
	st.SetPublic(map[string]string{keyPhase: phasePlay}, true)
	st.TurnNumber = 1

	st = r.AdvanceTurn(testNow, "alice", session, st, []*engine.PendingAction{move("alice", Paper), move("bob", Paper)})
	if st.PublicValue(keyPhase) != phaseResult {
		t.Fatalf("Expected result phase, got %q", st.PublicValue(keyPhase))
	}
	if st.PublicValue(keyRoundWinner) != "" {
		t.Errorf("Expected no round winner, got %q", st.PublicValue(keyRoundWinner))
	}
	if st.PublicValue(scoreKey("alice")) != "0" || st.PublicValue(scoreKey("bob")) != "0" {
		t.Error("Expected scores unchanged on a tie")
	}
}

func TestBotsPlayScript(t *testing.T) {
	r := newRuleset(t, nil)
	session := newSession("alice", "~bot")
	st := r.SeedFirstState(session)

	acked := st.Clone()
	acked.Acknowledge("alice")
	st = r.AdvanceTurn(testNow, "alice", session, acked, nil)
	if st.PublicValue(keyPhase) != phasePlay {
		t.Fatalf("Expected bots to count as synced, got %q", st.PublicValue(keyPhase))
	}
	if st.PrivateValue("~bot", privateMove) != "" {
		t.Error("Expected bot to move only once play is evaluated")
	}

	st = r.AdvanceTurn(testNow, "alice", session, st, []*engine.PendingAction{move("alice", Paper)})
	// round 1, seat 1 -> PAPER
	if st.PublicValue(revealKey("~bot")) != string(Paper) {
		t.Errorf("Expected scripted bot move PAPER, got %q", st.PublicValue(revealKey("~bot")))
	}
}

func TestPlayTimeout(t *testing.T) {
	r := newRuleset(t, map[string]string{engine.KeyTurnDuration: "30s", engine.KeyTurnGrace: "5s"})
	session := newSession("alice", "bob")
	st := r.SeedFirstState(session)
	st.Acknowledge("alice")
	st.Acknowledge("bob")
	st = r.AdvanceTurn(testNow, "alice", session, st, nil)
	st = r.AdvanceTurn(testNow, "alice", session, st, []*engine.PendingAction{move("alice", Rock)})

	if got := r.AdvanceTurn(testNow.Add(34*time.Second), "alice", session, st, nil); got != st {
		t.Fatal("Expected play to keep waiting inside the grace margin")
	}

	st = r.AdvanceTurn(testNow.Add(36*time.Second), "alice", session, st, nil)
	if st.PublicValue(keyPhase) != phaseResult {
		t.Fatalf("Expected timeout to resolve the round, got %q", st.PublicValue(keyPhase))
	}
	if st.PublicValue(keyRoundWinner) != "alice" {
		t.Errorf("Expected the absent move to lose, got winner %q", st.PublicValue(keyRoundWinner))
	}
}

func TestResultTimeoutForfeits(t *testing.T) {
	r := newRuleset(t, map[string]string{engine.KeyResultDuration: "10s", engine.KeyResultGrace: "2s"})
	session := newSession("alice", "bob")
	st := r.SeedFirstState(session)
	st.Acknowledge("alice")
	st.Acknowledge("bob")
	st = r.AdvanceTurn(testNow, "alice", session, st, nil)
	st = r.AdvanceTurn(testNow, "alice", session, st, []*engine.PendingAction{move("alice", Rock), move("bob", Paper)})
	if st.PublicValue(keyPhase) != phaseResult {
		t.Fatalf("Expected result phase, got %q", st.PublicValue(keyPhase))
	}

	acked := st.Clone()
	acked.Acknowledge("alice")
	st = r.AdvanceTurn(testNow.Add(13*time.Second), "alice", session, acked, nil)
	if !st.IsEnded {
		t.Fatal("Expected result timeout to end the match")
	}
	if st.PublicValue(keyWinner) != "alice" || st.PublicValue(keyEndReason) != reasonForfeit {
		t.Errorf("Expected bob to forfeit, got winner %q reason %q", st.PublicValue(keyWinner), st.PublicValue(keyEndReason))
	}
}

func TestRetreat(t *testing.T) {
	r := newRuleset(t, nil)
	session := newSession("alice", "bob")
	st := r.SeedFirstState(session)

	t.Run("flag set by leave ends next advance", func(t *testing.T) {
		flagged := st.Clone()
		flagged.SetPrivate("bob", map[string]string{privateRetreat: "1"}, false)
		next := r.AdvanceTurn(testNow, "alice", session, flagged, nil)
		if !next.IsEnded || next.PublicValue(keyEndReason) != reasonRetreat {
			t.Fatalf("Expected retreat to end the match, got %+v", next.Public)
		}
		if next.PublicValue(keyWinner) != "alice" {
			t.Errorf("Expected alice to win by retreat, got %q", next.PublicValue(keyWinner))
		}
	})

	t.Run("retreat action", func(t *testing.T) {
		action := &engine.PendingAction{ID: "r", PlayerID: "alice", Payload: engine.Payload{Private: map[string]string{privateRetreat: "1"}}}
		next := r.AdvanceTurn(testNow, "alice", session, st, []*engine.PendingAction{action})
		if !next.IsEnded || next.PublicValue(keyWinner) != "bob" {
			t.Errorf("Expected bob to win after alice retreated, got %+v", next.Public)
		}
		if !action.IsProcessed {
			t.Error("Expected retreat action processed")
		}
	})
}

func TestConfigure(t *testing.T) {
	r := newRuleset(t, map[string]string{KeyVictoryScore: "5", engine.KeyTurnDuration: "45s", "unknown": "x"})
	if r.VictoryScore() != 5 {
		t.Errorf("Expected victory score 5, got %d", r.VictoryScore())
	}
	if r.Settings().TurnDuration != 45*time.Second {
		t.Errorf("Expected 45s turn duration, got %v", r.Settings().TurnDuration)
	}

	r.Configure(map[string]string{KeyVictoryScore: "zero"})
	if r.VictoryScore() != defaultVictoryScore {
		t.Errorf("Expected default victory score, got %d", r.VictoryScore())
	}
}

func TestCreateBot(t *testing.T) {
	r := newRuleset(t, nil)
	bot := r.CreateBot(rand.New(rand.NewSource(1)))
	if !engine.IsBotID(bot.ID) || !bot.IsBot || bot.DisplayName == "" {
		t.Errorf("Unexpected bot profile: %+v", bot)
	}
}
