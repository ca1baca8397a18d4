package engine

import (
	"testing"
	"time"
)

func TestParseSettings(t *testing.T) {
	t.Run("missing keys keep defaults", func(t *testing.T) {
		s, err := ParseSettings(nil, DefaultSettings())
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if s.PlayerCount != 2 || s.TurnDuration != 30*time.Second {
			t.Errorf("Expected defaults, got %+v", s)
		}
	})

	t.Run("known keys applied and unknown ignored", func(t *testing.T) {
		s, err := ParseSettings(map[string]string{
			KeyPlayerCount:    "3",
			KeyMaxPlayers:     "4",
			KeyTurnDuration:   "45s",
			KeyCheckDelay:     "1500",
			KeyNoPlayerPolicy: "FAIL",
			"victory_score":   "5",
			"something_else":  "x",
		}, DefaultSettings())
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if s.PlayerCount != 3 || s.MaxPlayers != 4 {
			t.Errorf("Expected player counts 3/4, got %d/%d", s.PlayerCount, s.MaxPlayers)
		}
		if s.TurnDuration != 45*time.Second {
			t.Errorf("Expected 45s turn duration, got %v", s.TurnDuration)
		}
		if s.CheckDelay != 1500*time.Millisecond {
			t.Errorf("Expected integer durations read as milliseconds, got %v", s.CheckDelay)
		}
		if s.NoPlayerPolicy != PolicyFail {
			t.Errorf("Expected fail policy, got %q", s.NoPlayerPolicy)
		}
		if s.Int("victory_score", 0) != 5 {
			t.Errorf("Expected raw key readable, got %d", s.Int("victory_score", 0))
		}
	})

	t.Run("malformed values keep defaults and report", func(t *testing.T) {
		s, err := ParseSettings(map[string]string{
			KeyPlayerCount:  "many",
			KeyTurnDuration: "soon",
		}, DefaultSettings())
		if err == nil {
			t.Fatal("Expected an error for malformed values")
		}
		if s.PlayerCount != 2 || s.TurnDuration != 30*time.Second {
			t.Errorf("Expected defaults to survive malformed input, got %+v", s)
		}
	})

	t.Run("inconsistent player counts", func(t *testing.T) {
		_, err := ParseSettings(map[string]string{KeyPlayerCount: "5"}, DefaultSettings())
		if err == nil {
			t.Error("Expected player_count above max_players to be reported")
		}
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Lookup("rps"); err == nil {
		t.Fatal("Expected lookup of unknown game to fail")
	}
	if err := reg.Register("", nil); err == nil {
		t.Error("Expected empty game id to be rejected")
	}
}
