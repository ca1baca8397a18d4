// Package config provides configuration management for the match server.
//
// The config package handles:
//   - Loading game definitions from JSON files
//   - Definition validation against the known rulesets
//   - Building the game registry at process start
//   - Process settings read from TURNENGINE_* environment variables
//
// Definition Format:
//
// Each JSON file in the config directory defines one game:
//
//	{
//	  "game_id": "rps",
//	  "ruleset": "rps",
//	  "description": "Best of five",
//	  "settings": {"victory_score": "3", "turn_duration": "20s"}
//	}
//
// Settings are opaque strings handed to the ruleset. Durations accept Go
// duration syntax or a bare number of milliseconds.
//
// Usage:
//
//	manager, err := config.NewManager("configs")
//	if err != nil {
//		log.Fatal(err)
//	}
//	registry, err := manager.BuildRegistry()
//
// An empty config directory serves the built-in rps and grid games.
package config
