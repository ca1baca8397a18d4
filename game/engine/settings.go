package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NoPlayerPolicy decides what happens to searching players once the oldest
// of them waited longer than MaxWaitToMatchWithBots.
type NoPlayerPolicy string

const (
	PolicyBots NoPlayerPolicy = "bots"
	PolicyFail NoPlayerPolicy = "fail"
)

// Settings keys understood by ParseSettings. Rulesets may read additional
// keys from Settings.Raw.
const (
	KeyPlayerCount     = "player_count"
	KeyMinPlayers      = "min_players"
	KeyMaxPlayers      = "max_players"
	KeyMaxWait         = "max_wait_to_match_with_bots"
	KeyNoPlayerPolicy  = "no_player_policy"
	KeyLobbyDuration   = "lobby_duration"
	KeyCheckDelay      = "check_delay"
	KeyFinalCheckDelay = "final_check_delay"
	KeyTurnDuration    = "turn_duration"
	KeyTurnGrace       = "turn_grace"
	KeyResultDuration  = "result_duration"
	KeyResultGrace     = "result_grace"
	KeyResearchWindow  = "research_window"
)

// Settings are the engine-level tunables every ruleset exposes.
type Settings struct {
	PlayerCount            int            `json:"player_count"`
	MinPlayers             int            `json:"min_players"`
	MaxPlayers             int            `json:"max_players"`
	MaxWaitToMatchWithBots time.Duration  `json:"max_wait_to_match_with_bots"`
	NoPlayerPolicy         NoPlayerPolicy `json:"no_player_policy"`
	LobbyDuration          time.Duration  `json:"lobby_duration"`
	CheckDelay             time.Duration  `json:"check_delay"`
	FinalCheckDelay        time.Duration  `json:"final_check_delay"`
	TurnDuration           time.Duration  `json:"turn_duration"`
	TurnGrace              time.Duration  `json:"turn_grace"`
	ResultDuration         time.Duration  `json:"result_duration"`
	ResultGrace            time.Duration  `json:"result_grace"`
	ResearchWindow         time.Duration  `json:"research_window"`

	// Raw keeps the original key/value map for ruleset specific keys.
	Raw map[string]string `json:"raw,omitempty"`
}

// DefaultSettings returns the built-in defaults shared by the bundled rulesets.
func DefaultSettings() Settings {
	return Settings{
		PlayerCount:            2,
		MinPlayers:             2,
		MaxPlayers:             2,
		MaxWaitToMatchWithBots: 20 * time.Second,
		NoPlayerPolicy:         PolicyBots,
		LobbyDuration:          10 * time.Minute,
		CheckDelay:             5 * time.Minute,
		FinalCheckDelay:        15 * time.Minute,
		TurnDuration:           30 * time.Second,
		TurnGrace:              5 * time.Second,
		ResultDuration:         15 * time.Second,
		ResultGrace:            5 * time.Second,
		ResearchWindow:         10 * time.Second,
	}
}

// ParseSettings applies raw onto defaults. Unknown keys are ignored and
// missing keys keep their default. Malformed values also keep their default;
// they are reported through the returned error so callers can decide
// whether to surface them.
func ParseSettings(raw map[string]string, defaults Settings) (Settings, error) {
	s := defaults
	s.Raw = make(map[string]string, len(raw))
	for k, v := range raw {
		s.Raw[k] = v
	}

	var errs []error
	intField := func(key string, dst *int) {
		v, ok := raw[key]
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s: expected positive integer, got %q", key, v))
			return
		}
		*dst = n
	}
	durationField := func(key string, dst *time.Duration) {
		v, ok := raw[key]
		if !ok {
			return
		}
		d, err := ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}

	intField(KeyPlayerCount, &s.PlayerCount)
	intField(KeyMinPlayers, &s.MinPlayers)
	intField(KeyMaxPlayers, &s.MaxPlayers)
	durationField(KeyMaxWait, &s.MaxWaitToMatchWithBots)
	durationField(KeyLobbyDuration, &s.LobbyDuration)
	durationField(KeyCheckDelay, &s.CheckDelay)
	durationField(KeyFinalCheckDelay, &s.FinalCheckDelay)
	durationField(KeyTurnDuration, &s.TurnDuration)
	durationField(KeyTurnGrace, &s.TurnGrace)
	durationField(KeyResultDuration, &s.ResultDuration)
	durationField(KeyResultGrace, &s.ResultGrace)
	durationField(KeyResearchWindow, &s.ResearchWindow)

	if v, ok := raw[KeyNoPlayerPolicy]; ok {
		switch p := NoPlayerPolicy(strings.ToLower(strings.TrimSpace(v))); p {
		case PolicyBots, PolicyFail:
			s.NoPlayerPolicy = p
		default:
			errs = append(errs, fmt.Errorf("%s: expected %q or %q, got %q", KeyNoPlayerPolicy, PolicyBots, PolicyFail, v))
		}
	}

	if err := s.Validate(); err != nil {
		errs = append(errs, err)
	}
	return s, errors.Join(errs...)
}

// Validate checks cross-field consistency.
func (s Settings) Validate() error {
	if s.MinPlayers > s.MaxPlayers {
		return fmt.Errorf("settings validation: min_players (%d) exceeds max_players (%d)", s.MinPlayers, s.MaxPlayers)
	}
	if s.PlayerCount < s.MinPlayers || s.PlayerCount > s.MaxPlayers {
		return fmt.Errorf("settings validation: player_count (%d) must be between min_players (%d) and max_players (%d)",
			s.PlayerCount, s.MinPlayers, s.MaxPlayers)
	}
	if s.CheckDelay <= 0 {
		return fmt.Errorf("settings validation: check_delay must be positive")
	}
	return nil
}

// ParseDuration accepts Go duration strings ("30s", "5m") and bare
// integers, which are read as milliseconds.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative duration %q", v)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}

// Int reads a ruleset specific integer from Raw, falling back to def.
func (s Settings) Int(key string, def int) int {
	v, ok := s.Raw[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
