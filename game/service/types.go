package service

import "github.com/wricardo/turnbased-match-server/game/engine"

// FindMatchRequest asks to be matched into a session
type FindMatchRequest struct {
	GameID      string `json:"game_id"`
	PlayerID    string `json:"player_id"`
	Region      string `json:"region,omitempty"`
	UsesLobby   bool   `json:"uses_lobby,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// MatchQuery locates a match by session id, alias, or the player's entry
type MatchQuery struct {
	GameID    string `json:"game_id"`
	PlayerID  string `json:"player_id"`
	SessionID string `json:"session_id,omitempty"`
	Alias     string `json:"alias,omitempty"`
}

// JoinMatchRequest joins a lobby by its alias
type JoinMatchRequest struct {
	Alias       string `json:"alias"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// LeaveMatchRequest leaves a session or a search
type LeaveMatchRequest struct {
	GameID    string `json:"game_id,omitempty"`
	PlayerID  string `json:"player_id"`
	SessionID string `json:"session_id,omitempty"`
}

// SendActionRequest submits one player intent
type SendActionRequest struct {
	SessionID string         `json:"session_id"`
	PlayerID  string         `json:"player_id"`
	Payload   engine.Payload `json:"payload"`
}

// StateQuery polls the state of a session. LastFingerprint is the
// fingerprint the player saw last, zero when none.
type StateQuery struct {
	SessionID       string `json:"session_id"`
	PlayerID        string `json:"player_id"`
	LastFingerprint uint64 `json:"last_fingerprint,string"`
}

// MatchInfo describes a player's match, or the search for one
type MatchInfo struct {
	GameID       string              `json:"game_id"`
	Status       engine.MatchStatus  `json:"status,omitempty"`
	SessionID    string              `json:"session_id,omitempty"`
	Alias        string              `json:"alias,omitempty"`
	Region       string              `json:"region,omitempty"`
	Participants []engine.PlayerInfo `json:"participants,omitempty"`
	UsesLobby    bool                `json:"uses_lobby"`
	IsStarted    bool                `json:"is_started"`
	IsEnded      bool                `json:"is_ended"`
	HasBots      bool                `json:"has_bots"`
}

// ActionResult reports an accepted action and the state after the
// advance it triggered
type ActionResult struct {
	ActionID    string `json:"action_id"`
	SessionID   string `json:"session_id"`
	Committed   bool   `json:"committed"`
	TurnNumber  int    `json:"turn_number"`
	Fingerprint uint64 `json:"fingerprint,string"`
	IsEnded     bool   `json:"is_ended"`
}

// StateResult is one player's view of a session. When Unchanged is set
// the state still has the fingerprint the player sent and the property
// maps are omitted.
type StateResult struct {
	SessionID    string            `json:"session_id"`
	Unchanged    bool              `json:"unchanged"`
	Fingerprint  uint64            `json:"fingerprint,string"`
	TurnNumber   int               `json:"turn_number"`
	IsEnded      bool              `json:"is_ended"`
	Acknowledged bool              `json:"acknowledged"`
	Public       map[string]string `json:"public,omitempty"`
	Private      map[string]string `json:"private,omitempty"`
}

// GameInfo provides information about a configured game
type GameInfo struct {
	GameID      string            `json:"game_id"`
	Ruleset     string            `json:"ruleset"`
	Description string            `json:"description,omitempty"`
	PlayerCount int               `json:"player_count"`
	MinPlayers  int               `json:"min_players"`
	MaxPlayers  int               `json:"max_players"`
	Settings    map[string]string `json:"settings,omitempty"`
}

func matchInfo(sess *engine.Session, entry *engine.MatchmakingEntry) *MatchInfo {
	info := &MatchInfo{}
	if entry != nil {
		info.GameID = entry.GameID
		info.Status = entry.Status
		info.SessionID = entry.SessionID
		info.Alias = entry.Alias
		info.Region = entry.Region
		info.UsesLobby = entry.UsesLobby
	}
	if sess != nil {
		info.GameID = sess.GameID
		info.SessionID = sess.ID
		info.Alias = sess.Alias
		info.Region = sess.Region
		info.Participants = append([]engine.PlayerInfo(nil), sess.Participants...)
		info.UsesLobby = sess.UsesLobby
		info.IsStarted = sess.IsStarted
		info.IsEnded = sess.IsEnded
		info.HasBots = sess.HasBots
	}
	return info
}
