package turn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/session"
)

// Intake validates player intents and queues them as pending actions.
// It never mutates a session state.
type Intake struct {
	repo             *session.Repository
	registry         *engine.Registry
	rejectDuplicates bool
	now              func() time.Time
}

// NewIntake creates an intake. With rejectDuplicates set, an action whose
// digest equals one of the same player's still unprocessed actions is
// refused with engine.ErrDuplicateAction.
func NewIntake(repo *session.Repository, registry *engine.Registry, rejectDuplicates bool) *Intake {
	return &Intake{repo: repo, registry: registry, rejectDuplicates: rejectDuplicates, now: time.Now}
}

// Submit validates payload against the committed state and persists it as
// an unprocessed action.
func (in *Intake) Submit(ctx context.Context, sessionID, playerID string, payload engine.Payload) (*engine.PendingAction, error) {
	if sessionID == "" || playerID == "" {
		return nil, fmt.Errorf("%w: session id and player id are required", engine.ErrInvalidRequest)
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	sess, err := in.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasParticipant(playerID) {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotParticipant, playerID)
	}
	if sess.IsEnded {
		return nil, engine.ErrSessionEnded
	}

	ruleset, err := in.registry.Lookup(sess.GameID)
	if err != nil {
		return nil, err
	}
	state, _, err := in.repo.GetState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.IsEnded {
		return nil, engine.ErrSessionEnded
	}
	if !ruleset.IsActionAllowed(playerID, payload, sess, state) {
		return nil, engine.ErrActionNotAllowed
	}

	digest := Digest(payload)
	if in.rejectDuplicates {
		pending, err := in.repo.ListActions(ctx, sessionID, true)
		if err != nil {
			return nil, err
		}
		for _, a := range pending {
			if a.PlayerID == playerID && a.Digest == digest {
				return nil, engine.ErrDuplicateAction
			}
		}
	}

	action := &engine.PendingAction{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		PlayerID:  playerID,
		Payload:   payload,
		CreatedAt: in.now().UTC(),
		Digest:    digest,
	}
	if err := in.repo.PutAction(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}

func validatePayload(p engine.Payload) error {
	if p.IsEmpty() {
		return fmt.Errorf("%w: payload is empty", engine.ErrInvalidRequest)
	}
	if len(p.Public)+len(p.Private) > engine.MaxPayloadEntries {
		return fmt.Errorf("%w: payload has more than %d entries", engine.ErrInvalidRequest, engine.MaxPayloadEntries)
	}
	for _, props := range []map[string]string{p.Public, p.Private} {
		for k, v := range props {
			if k == "" || len(k) > engine.MaxPropertyKeyLength {
				return fmt.Errorf("%w: invalid property key %q", engine.ErrInvalidRequest, k)
			}
			if len(v) > engine.MaxPropertyValueLength {
				return fmt.Errorf("%w: value of %q is too long", engine.ErrInvalidRequest, k)
			}
		}
	}
	return nil
}

// Digest is the SHA-256 of the payload in canonical form (scope, then
// sorted keys), hex encoded.
func Digest(p engine.Payload) string {
	var b strings.Builder
	write := func(scope string, props map[string]string) {
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s%d:%s%d:%s\n", scope, len(k), k, len(props[k]), props[k])
		}
	}
	write("p", p.Public)
	write("s", p.Private)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
