package engine

import (
	"fmt"
	"sort"
	"strings"
)

// SessionState is the single source of truth for one match at one turn.
//
// Public properties are visible to every participant, Private holds one
// sub-map per participant visible only to its owner. Acknowledged records
// which participants confirmed receipt of the current turn.
type SessionState struct {
	TurnNumber   int                          `json:"turn_number"`
	IsEnded      bool                         `json:"is_ended"`
	Public       map[string]string            `json:"public"`
	Private      map[string]map[string]string `json:"private"`
	Acknowledged map[string]bool              `json:"acknowledged"`
}

// NewSessionState returns an empty state with one private sub-map per participant.
func NewSessionState(turn int, participantIDs []string) *SessionState {
	st := &SessionState{
		TurnNumber:   turn,
		Public:       make(map[string]string),
		Private:      make(map[string]map[string]string, len(participantIDs)),
		Acknowledged: make(map[string]bool),
	}
	for _, id := range participantIDs {
		st.Private[id] = make(map[string]string)
	}
	return st
}

// Clone deep-copies the state so a candidate never aliases the committed one.
func (s *SessionState) Clone() *SessionState {
	c := &SessionState{
		TurnNumber:   s.TurnNumber,
		IsEnded:      s.IsEnded,
		Public:       make(map[string]string, len(s.Public)),
		Private:      make(map[string]map[string]string, len(s.Private)),
		Acknowledged: make(map[string]bool, len(s.Acknowledged)),
	}
	for k, v := range s.Public {
		c.Public[k] = v
	}
	for id, props := range s.Private {
		sub := make(map[string]string, len(props))
		for k, v := range props {
			sub[k] = v
		}
		c.Private[id] = sub
	}
	for id, ok := range s.Acknowledged {
		if ok {
			c.Acknowledged[id] = true
		}
	}
	return c
}

// Fingerprint returns the content hash over public and private properties.
func (s *SessionState) Fingerprint() uint64 {
	return fingerprint(s.Public, s.Private)
}

// Acknowledge records that playerID has observed the current turn.
// It returns false when the player had already acknowledged.
func (s *SessionState) Acknowledge(playerID string) bool {
	if s.Acknowledged == nil {
		s.Acknowledged = make(map[string]bool)
	}
	if s.Acknowledged[playerID] {
		return false
	}
	s.Acknowledged[playerID] = true
	return true
}

// HasAcknowledged reports whether playerID acknowledged the current turn.
// Bots always have.
func (s *SessionState) HasAcknowledged(playerID string) bool {
	return IsBotID(playerID) || s.Acknowledged[playerID]
}

// IsFullyAcknowledged reports whether every participant of the session
// acknowledged the current turn.
func (s *SessionState) IsFullyAcknowledged(session *Session) bool {
	for _, id := range session.ParticipantIDs {
		if !s.HasAcknowledged(id) {
			return false
		}
	}
	return true
}

// ClearAcknowledgements resets the acknowledgement set (turn advance).
func (s *SessionState) ClearAcknowledgements() {
	s.Acknowledged = make(map[string]bool)
}

// SetPublic upserts public properties.
func (s *SessionState) SetPublic(props map[string]string, resetAck bool) {
	if s.Public == nil {
		s.Public = make(map[string]string, len(props))
	}
	for k, v := range props {
		s.Public[k] = v
	}
	if resetAck {
		s.ClearAcknowledgements()
	}
}

// SetPrivate upserts private properties of a single participant.
func (s *SessionState) SetPrivate(playerID string, props map[string]string, resetAck bool) {
	if s.Private == nil {
		s.Private = make(map[string]map[string]string)
	}
	sub, ok := s.Private[playerID]
	if !ok {
		sub = make(map[string]string, len(props))
		s.Private[playerID] = sub
	}
	for k, v := range props {
		sub[k] = v
	}
	if resetAck {
		s.ClearAcknowledgements()
	}
}

// BroadcastPrivate upserts the same private key in every participant's sub-map.
func (s *SessionState) BroadcastPrivate(key, value string, resetAck bool) {
	for _, sub := range s.Private {
		sub[key] = value
	}
	if resetAck {
		s.ClearAcknowledgements()
	}
}

// PublicValue returns a public property, or "" when unset.
func (s *SessionState) PublicValue(key string) string {
	return s.Public[key]
}

// PrivateValue returns a participant's private property, or "" when unset.
func (s *SessionState) PrivateValue(playerID, key string) string {
	return s.Private[playerID][key]
}

// SameAs reports whether two states are indistinguishable: same content
// fingerprint and same acknowledgement set.
func (s *SessionState) SameAs(other *SessionState) bool {
	if other == nil {
		return false
	}
	if s.Fingerprint() != other.Fingerprint() {
		return false
	}
	return ackKey(s.Acknowledged) == ackKey(other.Acknowledged)
}

// Token is the concurrency token stored next to a committed state. Two
// states share a token iff they are SameAs each other and agree on turn
// number and ended flag.
func (s *SessionState) Token() string {
	ended := 0
	if s.IsEnded {
		ended = 1
	}
	return fmt.Sprintf("%016x:%d:%d:%016x", s.Fingerprint(), s.TurnNumber, ended, hashField(fingerprintSeed, ackKey(s.Acknowledged)))
}

// View is the slice of a state visible to one participant.
type View struct {
	TurnNumber  int               `json:"turn_number"`
	IsEnded     bool              `json:"is_ended"`
	Public      map[string]string `json:"public"`
	Private     map[string]string `json:"private"`
	Fingerprint uint64            `json:"fingerprint"`
}

// View returns the public properties plus playerID's own private properties.
func (s *SessionState) View(playerID string) View {
	c := s.Clone()
	private := c.Private[playerID]
	if private == nil {
		private = map[string]string{}
	}
	return View{
		TurnNumber:  s.TurnNumber,
		IsEnded:     s.IsEnded,
		Public:      c.Public,
		Private:     private,
		Fingerprint: s.Fingerprint(),
	}
}

func ackKey(acks map[string]bool) string {
	ids := make([]string, 0, len(acks))
	for id, ok := range acks {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}
