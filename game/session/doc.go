// Package session provides typed persistence for match sessions.
//
// The session package implements:
//   - Session records keyed by session id
//   - Committed session states guarded by a concurrency tag
//   - Human readable aliases resolving to session ids
//   - Matchmaking entries, one per player and game
//   - Pending actions, listed oldest first
//
// Core Types:
//
// Repository maps each record kind onto a (table, partition, key) address
// of a store.KV and encodes records as JSON. It holds no cache, so every
// read observes the latest committed write of any process sharing the
// backend.
//
// Concurrency:
//
// Sessions, entries and actions are last-writer-wins upserts. States are
// only ever written through CommitState, which compares the stored tag
// with the one the caller read and fails with store.ErrConflict when
// another writer got there first.
//
// Usage:
//
//	repo := session.NewRepository(store.NewMemoryStore())
//
//	if err := repo.CreateSession(ctx, sess); err != nil {
//		return err
//	}
//	st, tag, err := repo.GetState(ctx, sess.ID)
//	if err != nil {
//		return err
//	}
//	next := st.Clone()
//	next.SetPublic(map[string]string{"phase": "play"}, true)
//	err = repo.CommitState(ctx, sess.ID, next, tag)
//
// Cleanup:
//
// DeleteSession cascades to the state, alias, matchmaking entries and
// pending actions of the session.
package session
