package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/rules"
	"github.com/wricardo/turnbased-match-server/game/service"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// GameDefinition binds a game id to a ruleset and its settings
type GameDefinition struct {
	GameID      string            `json:"game_id"`
	Ruleset     string            `json:"ruleset"`
	Description string            `json:"description,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
}

// Validate checks that the definition names a known ruleset and that its
// settings parse.
func (d *GameDefinition) Validate() error {
	var errs []error
	if strings.TrimSpace(d.GameID) == "" {
		errs = append(errs, errors.New("game_id is required"))
	}
	if strings.ContainsAny(d.GameID, "/\\ ") {
		errs = append(errs, fmt.Errorf("game_id %q must not contain slashes or spaces", d.GameID))
	}
	known := false
	for _, name := range rules.Names() {
		if name == d.Ruleset {
			known = true
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("unknown ruleset %q (available: %v)", d.Ruleset, rules.Names()))
	}
	s, err := engine.ParseSettings(d.Settings, engine.DefaultSettings())
	if err != nil {
		errs = append(errs, err)
	}
	if err := s.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DefaultDefinitions are used when the config directory holds no game
// definition.
func DefaultDefinitions() []*GameDefinition {
	return []*GameDefinition{
		{GameID: "rps", Ruleset: "rps", Description: "Rock, paper, scissors. First to three round wins."},
		{GameID: "grid", Ruleset: "grid", Description: "Place pieces next to each other and line up four."},
	}
}

// Manager loads game definitions from JSON files and caches them
type Manager struct {
	configDir string
	defs      map[string]*GameDefinition
	mu        sync.RWMutex
}

// NewManager creates a new configuration manager and loads every
// definition in configDir.
func NewManager(configDir string) (*Manager, error) {
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("config directory does not exist: %s", configDir)
	}

	m := &Manager{
		configDir: configDir,
		defs:      make(map[string]*GameDefinition),
	}
	if err := m.Refresh(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadDefinition loads a definition by file name (without .json)
func (m *Manager) LoadDefinition(name string) (*GameDefinition, error) {
	filename := name
	if !strings.HasSuffix(filename, ".json") {
		filename = name + ".json"
	}

	data, err := os.ReadFile(filepath.Join(m.configDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var def GameDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidConfig, filename, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, filename, err)
	}
	return &def, nil
}

// Refresh reloads all definitions from disk. Files that fail to load are
// skipped; an empty directory falls back to DefaultDefinitions.
func (m *Manager) Refresh() error {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return fmt.Errorf("failed to read config directory: %w", err)
	}

	defs := make(map[string]*GameDefinition)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		def, err := m.LoadDefinition(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		if _, dup := defs[def.GameID]; dup {
			return fmt.Errorf("%w: game_id %q defined twice", ErrInvalidConfig, def.GameID)
		}
		defs[def.GameID] = def
	}
	if len(defs) == 0 {
		for _, def := range DefaultDefinitions() {
			defs[def.GameID] = def
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs = defs
	return nil
}

// Definitions returns the loaded definitions ordered by game id
func (m *Manager) Definitions() []*GameDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*GameDefinition, 0, len(m.defs))
	for _, def := range m.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

// SaveDefinition writes a definition to disk and caches it
func (m *Manager) SaveDefinition(def *GameDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(m.configDir, def.GameID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.mu.Lock()
	m.defs[def.GameID] = def
	m.mu.Unlock()
	return nil
}

// BuildRegistry instantiates one configured ruleset per definition
func (m *Manager) BuildRegistry() (*engine.Registry, error) {
	registry := engine.NewRegistry()
	for _, def := range m.Definitions() {
		ruleset, err := rules.New(def.Ruleset, def.Settings)
		if err != nil {
			return nil, fmt.Errorf("game %s: %w", def.GameID, err)
		}
		if err := registry.Register(def.GameID, ruleset); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// ListGames describes the configured games
func (m *Manager) ListGames() []*service.GameInfo {
	defs := m.Definitions()
	games := make([]*service.GameInfo, 0, len(defs))
	for _, def := range defs {
		s, _ := engine.ParseSettings(def.Settings, engine.DefaultSettings())
		games = append(games, &service.GameInfo{
			GameID:      def.GameID,
			Ruleset:     def.Ruleset,
			Description: def.Description,
			PlayerCount: s.PlayerCount,
			MinPlayers:  s.MinPlayers,
			MaxPlayers:  s.MaxPlayers,
			Settings:    def.Settings,
		})
	}
	return games
}
