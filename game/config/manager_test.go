package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeDefinition(t *testing.T, dir, name string, def any) {
	t.Helper()
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal definition: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), data, 0644); err != nil {
		t.Fatalf("Failed to write definition: %v", err)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("valid directory", func(t *testing.T) {
		dir := t.TempDir()
		writeDefinition(t, dir, "quick", &GameDefinition{
			GameID:   "quick-rps",
			Ruleset:  "rps",
			Settings: map[string]string{"victory_score": "1"},
		})

		manager, err := NewManager(dir)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		defs := manager.Definitions()
		if len(defs) != 1 || defs[0].GameID != "quick-rps" {
			t.Errorf("Expected only quick-rps, got %+v", defs)
		}
	})

	t.Run("non-existent directory", func(t *testing.T) {
		if _, err := NewManager("/non/existent/path"); err == nil {
			t.Error("Expected error for non-existent directory")
		}
	})

	t.Run("empty directory serves defaults", func(t *testing.T) {
		manager, err := NewManager(t.TempDir())
		if err != nil {
			t.Fatalf("NewManager should succeed without definitions, got error: %v", err)
		}
		defs := manager.Definitions()
		if len(defs) != 2 || defs[0].GameID != "grid" || defs[1].GameID != "rps" {
			t.Errorf("Expected built-in grid and rps, got %+v", defs)
		}
	})

	t.Run("duplicate game id", func(t *testing.T) {
		dir := t.TempDir()
		writeDefinition(t, dir, "a", &GameDefinition{GameID: "rps", Ruleset: "rps"})
		writeDefinition(t, dir, "b", &GameDefinition{GameID: "rps", Ruleset: "rps"})
		if _, err := NewManager(dir); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestLoadDefinition(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "good", &GameDefinition{GameID: "grid", Ruleset: "grid"})
	writeDefinition(t, dir, "unknown", &GameDefinition{GameID: "chess", Ruleset: "chess"})
	writeDefinition(t, dir, "badsettings", &GameDefinition{
		GameID:   "rps",
		Ruleset:  "rps",
		Settings: map[string]string{"turn_duration": "soon"},
	})
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	tests := []struct {
		name string
		want error
	}{
		{"good", nil},
		{"good.json", nil},
		{"unknown", ErrInvalidConfig},
		{"badsettings", ErrInvalidConfig},
		{"broken", ErrInvalidConfig},
		{"missing", ErrConfigNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.LoadDefinition(tt.name)
			if tt.want == nil && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if defs := manager.Definitions(); len(defs) != 1 || defs[0].GameID != "grid" {
		t.Errorf("Expected invalid files skipped, got %+v", defs)
	}
}

func TestBuildRegistry(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "rps", &GameDefinition{
		GameID:   "rps-trio",
		Ruleset:  "rps",
		Settings: map[string]string{"player_count": "3", "max_players": "3"},
	})
	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	registry, err := manager.BuildRegistry()
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}
	ruleset, err := registry.Lookup("rps-trio")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ruleset.Name() != "rps" || ruleset.Settings().PlayerCount != 3 {
		t.Errorf("Expected configured rps with 3 players, got %s/%d", ruleset.Name(), ruleset.Settings().PlayerCount)
	}

	games := manager.ListGames()
	if len(games) != 1 || games[0].PlayerCount != 3 || games[0].Ruleset != "rps" {
		t.Errorf("Unexpected games %+v", games)
	}
}

func TestSaveDefinition(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	if err := manager.SaveDefinition(&GameDefinition{GameID: "", Ruleset: "rps"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}

	def := &GameDefinition{GameID: "blitz", Ruleset: "rps", Settings: map[string]string{"turn_duration": "5s"}}
	if err := manager.SaveDefinition(def); err != nil {
		t.Fatalf("SaveDefinition failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "blitz.json")); err != nil {
		t.Errorf("Expected file written: %v", err)
	}
	loaded, err := manager.LoadDefinition("blitz")
	if err != nil {
		t.Fatalf("LoadDefinition failed: %v", err)
	}
	if loaded.Settings["turn_duration"] != "5s" {
		t.Errorf("Expected settings round trip, got %v", loaded.Settings)
	}
}

func TestBundledDefinitions(t *testing.T) {
	manager, err := NewManager(filepath.Join("..", "..", "configs"))
	if err != nil {
		t.Fatalf("Failed to load bundled configs: %v", err)
	}
	if _, err := manager.BuildRegistry(); err != nil {
		t.Errorf("Bundled configs do not build: %v", err)
	}
	for _, name := range []string{"rps", "grid"} {
		if _, err := manager.LoadDefinition(name); err != nil {
			t.Errorf("Bundled %s invalid: %v", name, err)
		}
	}
}
