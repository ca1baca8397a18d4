package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/store"
)

// Table and partition names used on the KV store.
const (
	TableSessions    = "sessions"
	TableStates      = "states"
	TableAliases     = "aliases"
	TableMatchmaking = "matchmaking"
	TableActions     = "actions"

	partitionSession = "session"
	partitionState   = "state"
	partitionAlias   = "alias"
)

var (
	ErrAliasTaken    = errors.New("alias already in use")
	ErrStateNotFound = errors.New("session state not found")
	ErrEntryNotFound = errors.New("matchmaking entry not found")
)

// Repository stores typed session records as JSON on a store.KV.
// It keeps no state of its own, so any number of server processes can
// share one backend.
type Repository struct {
	kv store.KV
}

// NewRepository creates a repository over kv
func NewRepository(kv store.KV) *Repository {
	return &Repository{kv: kv}
}

// KV returns the underlying store.
func (r *Repository) KV() store.KV {
	return r.kv
}

// CreateSession stores a new session; an existing id is a conflict.
func (r *Repository) CreateSession(ctx context.Context, s *engine.Session) error {
	item, err := encode(TableSessions, partitionSession, s.ID, s)
	if err != nil {
		return err
	}
	if err := r.kv.CompareAndSwap(ctx, item, ""); err != nil {
		return fmt.Errorf("failed to create session %s: %w", s.ID, err)
	}
	return nil
}

// SaveSession upserts the session record.
func (r *Repository) SaveSession(ctx context.Context, s *engine.Session) error {
	item, err := encode(TableSessions, partitionSession, s.ID, s)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, item); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession loads a session or returns engine.ErrSessionNotFound.
func (r *Repository) GetSession(ctx context.Context, id string) (*engine.Session, error) {
	var s engine.Session
	if _, err := r.get(ctx, TableSessions, partitionSession, id, &s); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", engine.ErrSessionNotFound, id)
		}
		return nil, err
	}
	return &s, nil
}

// GetState loads the committed state and its concurrency tag.
func (r *Repository) GetState(ctx context.Context, sessionID string) (*engine.SessionState, string, error) {
	var st engine.SessionState
	tag, err := r.get(ctx, TableStates, partitionState, sessionID, &st)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s", ErrStateNotFound, sessionID)
		}
		return nil, "", err
	}
	if st.Public == nil {
		st.Public = make(map[string]string)
	}
	if st.Private == nil {
		st.Private = make(map[string]map[string]string)
	}
	if st.Acknowledged == nil {
		st.Acknowledged = make(map[string]bool)
	}
	return &st, tag, nil
}

// CommitState writes st only if the stored tag still equals expectedTag
// (empty: the state must not exist yet). The new tag is st.Token(). A lost
// race returns store.ErrConflict.
func (r *Repository) CommitState(ctx context.Context, sessionID string, st *engine.SessionState, expectedTag string) error {
	item, err := encode(TableStates, partitionState, sessionID, st)
	if err != nil {
		return err
	}
	item.Tag = st.Token()
	return r.kv.CompareAndSwap(ctx, item, expectedTag)
}

// ReserveAlias binds alias to sessionID unless it is already bound.
func (r *Repository) ReserveAlias(ctx context.Context, alias, sessionID string) error {
	item := store.Item{Table: TableAliases, Partition: partitionAlias, Key: alias, Value: []byte(sessionID)}
	err := r.kv.CompareAndSwap(ctx, item, "")
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %s", ErrAliasTaken, alias)
	}
	return err
}

// ResolveAlias returns the session id bound to alias.
func (r *Repository) ResolveAlias(ctx context.Context, alias string) (string, error) {
	item, err := r.kv.Get(ctx, TableAliases, partitionAlias, alias)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: alias %s", engine.ErrSessionNotFound, alias)
		}
		return "", err
	}
	return string(item.Value), nil
}

// GetEntry loads one player's matchmaking entry for a game.
func (r *Repository) GetEntry(ctx context.Context, gameID, playerID string) (*engine.MatchmakingEntry, error) {
	var e engine.MatchmakingEntry
	if _, err := r.get(ctx, TableMatchmaking, gameID, playerID, &e); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrEntryNotFound, gameID, playerID)
		}
		return nil, err
	}
	return &e, nil
}

// PutEntry upserts a matchmaking entry. Bot entries are never stored.
func (r *Repository) PutEntry(ctx context.Context, e *engine.MatchmakingEntry) error {
	if engine.IsBotID(e.PlayerID) {
		return nil
	}
	item, err := encode(TableMatchmaking, e.GameID, e.PlayerID, e)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, item); err != nil {
		return fmt.Errorf("failed to save entry %s/%s: %w", e.GameID, e.PlayerID, err)
	}
	return nil
}

// DeleteEntry removes a matchmaking entry.
func (r *Repository) DeleteEntry(ctx context.Context, gameID, playerID string) error {
	return r.kv.Delete(ctx, TableMatchmaking, gameID, playerID)
}

// ListEntries returns every matchmaking entry of a game ordered by player id.
func (r *Repository) ListEntries(ctx context.Context, gameID string) ([]*engine.MatchmakingEntry, error) {
	items, err := r.kv.Scan(ctx, TableMatchmaking, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entries of %s: %w", gameID, err)
	}
	entries := make([]*engine.MatchmakingEntry, 0, len(items))
	for _, item := range items {
		var e engine.MatchmakingEntry
		if err := json.Unmarshal(item.Value, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry %s: %w", item.Key, err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// actionKey orders actions by creation time, then id, under plain string
// comparison.
func actionKey(a *engine.PendingAction) string {
	ts := strconv.FormatInt(a.CreatedAt.UnixNano(), 10)
	for len(ts) < 20 {
		ts = "0" + ts
	}
	return ts + "-" + a.ID
}

// Action record tags. A pending action is claimed by exactly one
// advancing writer through CompareAndSwap before it is folded into a state.
const (
	actionTagPending   = "pending"
	actionTagProcessed = "processed"
	actionClaimPrefix  = "claimed:"
)

// PutAction upserts a pending action unconditionally.
func (r *Repository) PutAction(ctx context.Context, a *engine.PendingAction) error {
	item, err := encode(TableActions, a.SessionID, actionKey(a), a)
	if err != nil {
		return err
	}
	item.Tag = actionTagPending
	if a.IsProcessed {
		item.Tag = actionTagProcessed
	}
	if err := r.kv.Put(ctx, item); err != nil {
		return fmt.Errorf("failed to save action %s: %w", a.ID, err)
	}
	return nil
}

// ClaimAction marks a still pending action processed on behalf of owner.
// It returns store.ErrConflict when another writer claimed it first.
func (r *Repository) ClaimAction(ctx context.Context, a *engine.PendingAction, owner string) error {
	claimed := *a
	claimed.IsProcessed = true
	item, err := encode(TableActions, a.SessionID, actionKey(a), &claimed)
	if err != nil {
		return err
	}
	item.Tag = actionClaimPrefix + owner
	return r.kv.CompareAndSwap(ctx, item, actionTagPending)
}

// ReleaseAction returns an action claimed by owner to the pending pool.
func (r *Repository) ReleaseAction(ctx context.Context, a *engine.PendingAction, owner string) error {
	released := *a
	released.IsProcessed = false
	item, err := encode(TableActions, a.SessionID, actionKey(a), &released)
	if err != nil {
		return err
	}
	item.Tag = actionTagPending
	return r.kv.CompareAndSwap(ctx, item, actionClaimPrefix+owner)
}

// ListActions returns the session's actions oldest first. With
// unprocessedOnly set, processed actions are filtered out.
func (r *Repository) ListActions(ctx context.Context, sessionID string, unprocessedOnly bool) ([]*engine.PendingAction, error) {
	items, err := r.kv.Scan(ctx, TableActions, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan actions of %s: %w", sessionID, err)
	}
	actions := make([]*engine.PendingAction, 0, len(items))
	for _, item := range items {
		var a engine.PendingAction
		if err := json.Unmarshal(item.Value, &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action %s: %w", item.Key, err)
		}
		if unprocessedOnly && a.IsProcessed {
			continue
		}
		actions = append(actions, &a)
	}
	sort.SliceStable(actions, func(i, j int) bool {
		if !actions[i].CreatedAt.Equal(actions[j].CreatedAt) {
			return actions[i].CreatedAt.Before(actions[j].CreatedAt)
		}
		return actions[i].ID < actions[j].ID
	})
	return actions, nil
}

// DeleteSession removes the session together with its state, alias,
// pending actions and the matchmaking entries still pointing at it.
// Every step tolerates records that are already gone.
func (r *Repository) DeleteSession(ctx context.Context, s *engine.Session) error {
	var errs []error

	if err := r.kv.Delete(ctx, TableStates, partitionState, s.ID); err != nil {
		errs = append(errs, err)
	}
	if s.Alias != "" {
		if err := r.kv.Delete(ctx, TableAliases, partitionAlias, s.Alias); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.DeleteSessionEntries(ctx, s); err != nil {
		errs = append(errs, err)
	}
	items, err := r.kv.Scan(ctx, TableActions, s.ID)
	if err != nil {
		errs = append(errs, err)
	}
	for _, item := range items {
		if err := r.kv.Delete(ctx, TableActions, s.ID, item.Key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.kv.Delete(ctx, TableSessions, partitionSession, s.ID); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", s.ID, err)
	}
	return nil
}

// DeleteSessionEntries removes the matchmaking entries of the session's
// human participants that still reference it. Entries a player already
// moved to another session are left alone.
func (r *Repository) DeleteSessionEntries(ctx context.Context, s *engine.Session) error {
	var errs []error
	for _, id := range s.HumanIDs() {
		e, err := r.GetEntry(ctx, s.GameID, id)
		if errors.Is(err, ErrEntryNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if e.SessionID != s.ID {
			continue
		}
		if err := r.DeleteEntry(ctx, s.GameID, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encode(table, partition, key string, v any) (store.Item, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return store.Item{}, fmt.Errorf("failed to marshal %s record: %w", table, err)
	}
	return store.Item{Table: table, Partition: partition, Key: key, Value: data}, nil
}

func (r *Repository) get(ctx context.Context, table, partition, key string, dst any) (string, error) {
	item, err := r.kv.Get(ctx, table, partition, key)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(item.Value, dst); err != nil {
		return "", fmt.Errorf("failed to unmarshal %s record: %w", table, err)
	}
	return item.Tag, nil
}
