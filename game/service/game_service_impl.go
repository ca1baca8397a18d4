package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/matchmaking"
	"github.com/wricardo/turnbased-match-server/game/turn"
)

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	deps *Deps
}

// NewGameService creates a new game service instance
func NewGameService(deps *Deps) GameService {
	return &gameServiceImpl{deps: deps}
}

// FindMatch queues the player and returns the resulting entry
func (s *gameServiceImpl) FindMatch(ctx context.Context, req FindMatchRequest) (*MatchInfo, error) {
	entry, err := s.deps.Pool.FindMatch(ctx, matchmaking.FindRequest{
		GameID:    req.GameID,
		PlayerID:  req.PlayerID,
		Region:    req.Region,
		UsesLobby: req.UsesLobby,
		Info:      engine.PlayerInfo{ID: req.PlayerID, DisplayName: req.DisplayName, Avatar: req.Avatar},
	})
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, entry)
}

// GetMatch looks a match up by session id, then alias, then the player's
// matchmaking entry. A still searching entry triggers a pairing pass so
// the max wait policy fires even when no other player arrives.
func (s *gameServiceImpl) GetMatch(ctx context.Context, q MatchQuery) (*MatchInfo, error) {
	switch {
	case q.SessionID != "":
		sess, err := s.deps.Repo.GetSession(ctx, q.SessionID)
		if err != nil {
			return nil, err
		}
		return matchInfo(sess, nil), nil
	case q.Alias != "":
		id, err := s.deps.Repo.ResolveAlias(ctx, strings.ToUpper(strings.TrimSpace(q.Alias)))
		if err != nil {
			return nil, err
		}
		sess, err := s.deps.Repo.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		return matchInfo(sess, nil), nil
	}

	if q.GameID == "" || q.PlayerID == "" {
		return nil, fmt.Errorf("%w: session id, alias, or game id and player id are required", engine.ErrInvalidRequest)
	}
	entry, err := s.deps.Repo.GetEntry(ctx, q.GameID, q.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrNoMatch, err)
	}
	if entry.Status == engine.StatusSearching {
		if _, err := s.deps.Pool.Pair(ctx, entry.GameID, entry.Region); err != nil {
			return nil, err
		}
		if entry, err = s.deps.Repo.GetEntry(ctx, q.GameID, q.PlayerID); err != nil {
			return nil, err
		}
	}
	return s.describe(ctx, entry)
}

func (s *gameServiceImpl) describe(ctx context.Context, entry *engine.MatchmakingEntry) (*MatchInfo, error) {
	if entry.SessionID == "" {
		return matchInfo(nil, entry), nil
	}
	sess, err := s.deps.Repo.GetSession(ctx, entry.SessionID)
	if err != nil {
		return nil, err
	}
	info := matchInfo(sess, nil)
	info.Status = entry.Status
	return info, nil
}

// JoinMatch seats the player in a lobby
func (s *gameServiceImpl) JoinMatch(ctx context.Context, req JoinMatchRequest) (*MatchInfo, error) {
	sess, err := s.deps.Pool.JoinByAlias(ctx, req.Alias, engine.PlayerInfo{
		ID:          req.PlayerID,
		DisplayName: req.DisplayName,
		Avatar:      req.Avatar,
	})
	if err != nil {
		return nil, err
	}
	info := matchInfo(sess, nil)
	info.Status = engine.StatusInLobby
	if sess.IsStarted {
		info.Status = engine.StatusMatched
	}
	return info, nil
}

// StartMatch starts a lobby
func (s *gameServiceImpl) StartMatch(ctx context.Context, sessionID, playerID string) (*MatchInfo, error) {
	sess, err := s.deps.Pool.Start(ctx, sessionID, playerID)
	if err != nil {
		return nil, err
	}
	info := matchInfo(sess, nil)
	info.Status = engine.StatusMatched
	return info, nil
}

// LeaveMatch leaves a session or the search for one
func (s *gameServiceImpl) LeaveMatch(ctx context.Context, req LeaveMatchRequest) error {
	return s.deps.Pool.Leave(ctx, matchmaking.LeaveRequest{
		GameID:    req.GameID,
		PlayerID:  req.PlayerID,
		SessionID: req.SessionID,
	})
}

// CancelSearch stops a pending search
func (s *gameServiceImpl) CancelSearch(ctx context.Context, gameID, playerID string) (*MatchInfo, error) {
	entry, err := s.deps.Pool.Cancel(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	return matchInfo(nil, entry), nil
}

// SendAction queues the action and immediately runs one advance so the
// sender sees its effect without waiting for another poll.
func (s *gameServiceImpl) SendAction(ctx context.Context, req SendActionRequest) (*ActionResult, error) {
	action, err := s.deps.Intake.Submit(ctx, req.SessionID, req.PlayerID, req.Payload)
	if err != nil {
		return nil, err
	}
	res, err := s.deps.Orchestrator.Advance(ctx, turn.AdvanceRequest{SessionID: req.SessionID, RequesterID: req.PlayerID})
	if err != nil {
		return nil, err
	}
	return &ActionResult{
		ActionID:    action.ID,
		SessionID:   req.SessionID,
		Committed:   res.Committed,
		TurnNumber:  res.State.TurnNumber,
		Fingerprint: res.State.Fingerprint(),
		IsEnded:     res.State.IsEnded,
	}, nil
}

// GetMatchState advances the session, acknowledging the player when the
// fingerprint they saw is still current, and returns their view. A state
// whose fingerprint still equals LastFingerprint is reported unchanged.
func (s *gameServiceImpl) GetMatchState(ctx context.Context, q StateQuery) (*StateResult, error) {
	if q.SessionID == "" || q.PlayerID == "" {
		return nil, fmt.Errorf("%w: session id and player id are required", engine.ErrInvalidRequest)
	}
	sess, err := s.deps.Repo.GetSession(ctx, q.SessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasParticipant(q.PlayerID) {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotParticipant, q.PlayerID)
	}

	res, err := s.deps.Orchestrator.Advance(ctx, turn.AdvanceRequest{
		SessionID:       q.SessionID,
		RequesterID:     q.PlayerID,
		Acknowledge:     q.LastFingerprint != 0,
		SeenFingerprint: q.LastFingerprint,
	})
	if err != nil {
		return nil, err
	}

	st := res.State
	view := st.View(q.PlayerID)
	out := &StateResult{
		SessionID:    q.SessionID,
		Fingerprint:  view.Fingerprint,
		TurnNumber:   st.TurnNumber,
		IsEnded:      st.IsEnded,
		Acknowledged: st.HasAcknowledged(q.PlayerID),
	}
	if q.LastFingerprint != 0 && view.Fingerprint == q.LastFingerprint {
		out.Unchanged = true
		return out, nil
	}
	out.Public = view.Public
	out.Private = view.Private
	return out, nil
}

// ListGames returns the configured games. Without a catalog it describes
// the registry alone.
func (s *gameServiceImpl) ListGames(ctx context.Context) ([]*GameInfo, error) {
	if s.deps.Games != nil {
		return s.deps.Games.ListGames(), nil
	}
	var games []*GameInfo
	for _, id := range s.deps.Registry.GameIDs() {
		r, err := s.deps.Registry.Lookup(id)
		if err != nil {
			continue
		}
		settings := r.Settings()
		games = append(games, &GameInfo{
			GameID:      id,
			Ruleset:     r.Name(),
			PlayerCount: settings.PlayerCount,
			MinPlayers:  settings.MinPlayers,
			MaxPlayers:  settings.MaxPlayers,
		})
	}
	sort.Slice(games, func(i, j int) bool { return games[i].GameID < games[j].GameID })
	return games, nil
}
