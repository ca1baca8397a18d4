package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps game ids to configured rulesets. It is built once at
// process start and read concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	games map[string]Ruleset
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]Ruleset)}
}

// Register binds gameID to a configured ruleset.
func (r *Registry) Register(gameID string, ruleset Ruleset) error {
	if gameID == "" {
		return fmt.Errorf("%w: game id is required", ErrInvalidRequest)
	}
	if ruleset == nil {
		return fmt.Errorf("%w: ruleset for %q is nil", ErrInvalidRequest, gameID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.games[gameID]; exists {
		return fmt.Errorf("game %q already registered", gameID)
	}
	r.games[gameID] = ruleset
	return nil
}

// Lookup returns the ruleset bound to gameID.
func (r *Registry) Lookup(gameID string) (Ruleset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ruleset, ok := r.games[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, gameID)
	}
	return ruleset, nil
}

// GameIDs lists registered game ids in sorted order.
func (r *Registry) GameIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.games))
	for id := range r.games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
