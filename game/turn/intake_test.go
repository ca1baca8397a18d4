package turn

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/engine/enginetest"
	"github.com/wricardo/turnbased-match-server/game/store"
)

func TestIntake_Submit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())

	t.Run("valid action is queued", func(t *testing.T) {
		a, err := f.intake.Submit(ctx, "s1", "alice", enginetest.Inc())
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if a.ID == "" || a.IsProcessed || a.Digest == "" {
			t.Errorf("Unexpected action: %+v", a)
		}
		pending, err := f.repo.ListActions(ctx, "s1", true)
		if err != nil {
			t.Fatalf("Failed to list actions: %v", err)
		}
		if len(pending) != 1 || pending[0].ID != a.ID {
			t.Errorf("Expected the action to be stored, got %v", pending)
		}
		if enginetest.Count(f.state(t)) != 0 {
			t.Error("Expected intake not to touch the state")
		}
	})

	tests := []struct {
		name    string
		session string
		player  string
		payload engine.Payload
		wantErr error
	}{
		{"empty payload", "s1", "alice", engine.Payload{}, engine.ErrInvalidRequest},
		{"missing player", "s1", "", enginetest.Inc(), engine.ErrInvalidRequest},
		{"unknown session", "nope", "alice", enginetest.Inc(), engine.ErrSessionNotFound},
		{"not a participant", "s1", "mallory", enginetest.Inc(), engine.ErrNotParticipant},
		{"illegal action", "s1", "alice", engine.Payload{Public: map[string]string{"count": "99"}}, engine.ErrActionNotAllowed},
		{"oversized value", "s1", "alice", engine.Payload{Public: map[string]string{"inc": strings.Repeat("x", engine.MaxPropertyValueLength+1)}}, engine.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.intake.Submit(ctx, tt.session, tt.player, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if !engine.IsValidation(err) {
				t.Errorf("Expected a validation error, got %v", err)
			}
		})
	}
}

func TestIntake_EndedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	f.counter.EndAt = 1
	f.submit(t, "alice")
	if _, err := f.orch.Advance(ctx, AdvanceRequest{SessionID: "s1", RequesterID: "alice"}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if _, err := f.intake.Submit(ctx, "s1", "bob", enginetest.Inc()); !errors.Is(err, engine.ErrSessionEnded) {
		t.Errorf("Expected ErrSessionEnded, got %v", err)
	}
}

func TestIntake_RejectDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())

	// default policy accepts resubmission
	f.submit(t, "alice")
	f.submit(t, "alice")

	strict := NewIntake(f.repo, f.orch.registry, true)
	if _, err := strict.Submit(ctx, "s1", "alice", enginetest.Inc()); !errors.Is(err, engine.ErrDuplicateAction) {
		t.Errorf("Expected ErrDuplicateAction, got %v", err)
	}
	if _, err := strict.Submit(ctx, "s1", "bob", enginetest.Inc()); err != nil {
		t.Errorf("Expected another player's identical action to pass, got %v", err)
	}
}

func TestDigest(t *testing.T) {
	a := engine.Payload{Public: map[string]string{"a": "1", "b": "2"}, Private: map[string]string{"move": "ROCK"}}
	b := engine.Payload{Private: map[string]string{"move": "ROCK"}, Public: map[string]string{"b": "2", "a": "1"}}
	if Digest(a) != Digest(b) {
		t.Error("Expected digest independent of map order")
	}

	moved := engine.Payload{Public: map[string]string{"a": "1", "b": "2", "move": "ROCK"}}
	if Digest(a) == Digest(moved) {
		t.Error("Expected public and private scopes to digest differently")
	}

	split := engine.Payload{Public: map[string]string{"ab": "c"}}
	joined := engine.Payload{Public: map[string]string{"a": "bc"}}
	if Digest(split) == Digest(joined) {
		t.Error("Expected key/value boundaries to matter")
	}
}
