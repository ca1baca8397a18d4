// Package validate checks game definition JSON files before the server
// loads them. It checks:
//   - JSON structure and required fields
//   - That the ruleset exists and the engine settings parse and agree
//   - Ruleset specific integer settings (victory score, board geometry)
//   - Settings keys nobody reads, reported as warnings
//   - Duplicate game ids across the directory
package validate

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wricardo/turnbased-match-server/game/config"
	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/rules/grid"
	"github.com/wricardo/turnbased-match-server/game/rules/rps"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found. Warnings never make a
// file invalid.
type ValidationResult struct {
	File     string
	GameID   string
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

var engineKeys = map[string]bool{
	engine.KeyPlayerCount:     true,
	engine.KeyMinPlayers:      true,
	engine.KeyMaxPlayers:      true,
	engine.KeyMaxWait:         true,
	engine.KeyNoPlayerPolicy:  true,
	engine.KeyLobbyDuration:   true,
	engine.KeyCheckDelay:      true,
	engine.KeyFinalCheckDelay: true,
	engine.KeyTurnDuration:    true,
	engine.KeyTurnGrace:       true,
	engine.KeyResultDuration:  true,
	engine.KeyResultGrace:     true,
	engine.KeyResearchWindow:  true,
}

// rulesetKeys lists the positive integer settings each ruleset reads.
var rulesetKeys = map[string][]string{
	rps.Name:  {rps.KeyVictoryScore},
	grid.Name: {grid.KeyBoardSize, grid.KeyLineLength, grid.KeyPiecesPerPlayer},
}

// ValidateFile loads and validates a single game definition file.
func ValidateFile(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	var def config.GameDefinition
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		result.fail("Invalid JSON: %v", err)
		return result
	}
	result.GameID = def.GameID

	if err := def.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			result.fail("%s", line)
		}
	}

	ints := map[string]int{}
	for _, key := range rulesetKeys[def.Ruleset] {
		v, ok := def.Settings[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			result.fail("%s: expected positive integer, got %q", key, v)
			continue
		}
		ints[key] = n
	}
	if def.Ruleset == grid.Name {
		size, line := ints[grid.KeyBoardSize], ints[grid.KeyLineLength]
		if size > 0 && line > size {
			result.fail("%s (%d) cannot exceed %s (%d)", grid.KeyLineLength, line, grid.KeyBoardSize, size)
		}
	}

	var unused []string
	for key := range def.Settings {
		if engineKeys[key] || contains(rulesetKeys[def.Ruleset], key) {
			continue
		}
		unused = append(unused, key)
	}
	sort.Strings(unused)
	for _, key := range unused {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Setting %q is not read by ruleset %s", key, def.Ruleset))
	}

	// Add informational data
	if result.Valid {
		s, _ := engine.ParseSettings(def.Settings, engine.DefaultSettings())
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Game: %s", def.GameID))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Ruleset: %s", def.Ruleset))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Players: %d (lobby %d-%d)", s.PlayerCount, s.MinPlayers, s.MaxPlayers))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ No players after %s: %s", s.MaxWaitToMatchWithBots, s.NoPlayerPolicy))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Turn: %s (+%s grace)", s.TurnDuration, s.TurnGrace))
	}

	return result
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ValidateDir validates every *.json file in dir and flags game ids that
// appear in more than one file.
func ValidateDir(dir string) ([]ValidationResult, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("error finding config files: %w", err)
	}
	sort.Strings(files)

	results := make([]ValidationResult, 0, len(files))
	seen := map[string]string{}
	for _, file := range files {
		result := ValidateFile(file)
		if result.GameID != "" {
			if first, ok := seen[result.GameID]; ok {
				result.fail("game_id %q already defined in %s", result.GameID, first)
			} else {
				seen[result.GameID] = result.File
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// Report prints a concise report of results and returns whether every file
// is valid.
func Report(w io.Writer, results []ValidationResult) bool {
	allValid := true
	for _, result := range results {
		fmt.Fprintf(w, "\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Fprintln(w, "✅ VALID")
			for _, info := range result.Errors {
				fmt.Fprintln(w, "  "+info)
			}
		} else {
			fmt.Fprintln(w, "❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") {
					fmt.Fprintln(w, "  ❌ "+err)
				}
			}
		}
		for _, warning := range result.Warnings {
			fmt.Fprintln(w, "  ⚠️ "+warning)
		}
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 40))
	switch {
	case len(results) == 0:
		fmt.Fprintln(w, "⚠️ No game definitions found, the server will use its built-in games")
	case allValid:
		fmt.Fprintln(w, "✅ All game definitions are valid!")
	default:
		fmt.Fprintln(w, "❌ Some game definitions have errors")
	}
	return allValid
}
