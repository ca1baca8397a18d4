// Package rules binds ruleset names used in game definitions to their
// constructors.
package rules

import (
	"fmt"
	"sort"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/rules/grid"
	"github.com/wricardo/turnbased-match-server/game/rules/rps"
)

// Factory builds an unconfigured ruleset.
type Factory func() engine.Ruleset

var factories = map[string]Factory{
	rps.Name:  rps.New,
	grid.Name: grid.New,
}

// New returns a fresh ruleset configured with settings.
func New(name string, settings map[string]string) (engine.Ruleset, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown ruleset %q (available: %v)", name, Names())
	}
	ruleset := factory()
	ruleset.Configure(settings)
	return ruleset, nil
}

// Names lists the known ruleset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
