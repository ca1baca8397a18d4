package engine

import (
	"strings"
	"time"
)

const (
	// BotPrefix marks a participant id as a synthetic filler player. Bots are
	// never tracked in the matchmaking table and always count as acknowledged.
	BotPrefix = "~"

	// LobbyTurn is the turn number of a session that has not started yet.
	LobbyTurn = -1

	// RetreatKey is the private key a participant's leave request sets once
	// the session started. Rulesets fold it into an ended outcome.
	RetreatKey = "retreat"

	// DefaultRegion is used when a find-match request names no region.
	DefaultRegion = "default"

	// Validation limits for stored properties
	MaxPropertyKeyLength   = 128
	MaxPropertyValueLength = 4096
	MaxPayloadEntries      = 32
)

// IsBotID reports whether the participant id belongs to a bot.
func IsBotID(id string) bool {
	return strings.HasPrefix(id, BotPrefix)
}

// PlayerInfo is the public profile of a participant
type PlayerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
	IsBot       bool   `json:"is_bot,omitempty"`
}

// Session is a match's identity and membership. ParticipantIDs and
// Participants are parallel slices kept in seat order.
type Session struct {
	ID             string       `json:"id"`
	GameID         string       `json:"game_id"`
	Alias          string       `json:"alias"`
	Region         string       `json:"region"`
	ParticipantIDs []string     `json:"participant_ids"`
	Participants   []PlayerInfo `json:"participants"`
	UsesLobby      bool         `json:"uses_lobby"`
	IsStarted      bool         `json:"is_started"`
	IsEnded        bool         `json:"is_ended"`
	HasBots        bool         `json:"has_bots"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      time.Time    `json:"started_at,omitempty"`
	EndedAt        time.Time    `json:"ended_at,omitempty"`
}

// HasParticipant reports whether playerID is seated in the session.
func (s *Session) HasParticipant(playerID string) bool {
	return s.Seat(playerID) >= 0
}

// Seat returns the seat index of playerID, or -1.
func (s *Session) Seat(playerID string) int {
	for i, id := range s.ParticipantIDs {
		if id == playerID {
			return i
		}
	}
	return -1
}

// AddParticipant appends a participant keeping both membership slices aligned.
func (s *Session) AddParticipant(info PlayerInfo) {
	s.ParticipantIDs = append(s.ParticipantIDs, info.ID)
	s.Participants = append(s.Participants, info)
	if info.IsBot || IsBotID(info.ID) {
		s.HasBots = true
	}
}

// RemoveParticipant drops playerID from both membership slices.
func (s *Session) RemoveParticipant(playerID string) bool {
	seat := s.Seat(playerID)
	if seat < 0 {
		return false
	}
	s.ParticipantIDs = append(s.ParticipantIDs[:seat:seat], s.ParticipantIDs[seat+1:]...)
	s.Participants = append(s.Participants[:seat:seat], s.Participants[seat+1:]...)
	return true
}

// HumanIDs returns the ids of all non-bot participants in seat order.
func (s *Session) HumanIDs() []string {
	ids := make([]string, 0, len(s.ParticipantIDs))
	for _, id := range s.ParticipantIDs {
		if !IsBotID(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// MatchStatus is the search state of a matchmaking entry
type MatchStatus string

const (
	StatusSearching       MatchStatus = "searching"
	StatusMatched         MatchStatus = "matched"
	StatusInLobby         MatchStatus = "in_lobby"
	StatusFailedNoPlayers MatchStatus = "failed_no_players"
	StatusCanceled        MatchStatus = "canceled"
)

// MatchmakingEntry is one player's (or bot's) search state for a game.
type MatchmakingEntry struct {
	PlayerID  string      `json:"player_id"`
	GameID    string      `json:"game_id"`
	Region    string      `json:"region"`
	SessionID string      `json:"session_id,omitempty"`
	Alias     string      `json:"alias,omitempty"`
	UsesLobby bool        `json:"uses_lobby"`
	Status    MatchStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Info      PlayerInfo  `json:"info"`
}

// Payload is a proposed change: public key/values plus the submitting
// player's own private key/values.
type Payload struct {
	Public  map[string]string `json:"public,omitempty"`
	Private map[string]string `json:"private,omitempty"`
}

// IsEmpty reports whether the payload carries no changes at all.
func (p Payload) IsEmpty() bool {
	return len(p.Public) == 0 && len(p.Private) == 0
}

// PendingAction is a queued, not yet applied player intent.
type PendingAction struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	PlayerID    string    `json:"player_id"`
	Payload     Payload   `json:"payload"`
	IsProcessed bool      `json:"is_processed"`
	CreatedAt   time.Time `json:"created_at"`
	Digest      string    `json:"digest"`
}
