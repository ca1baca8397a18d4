package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/session"
	"github.com/wricardo/turnbased-match-server/game/store"
	"github.com/wricardo/turnbased-match-server/game/turn"
	"github.com/wricardo/turnbased-match-server/internal/telemetry"
)

const tracerName = "github.com/wricardo/turnbased-match-server/game/matchmaking"

// FindRequest asks to be matched into a session of a game.
type FindRequest struct {
	GameID    string
	PlayerID  string
	Region    string
	UsesLobby bool
	Info      engine.PlayerInfo
}

// LeaveRequest leaves a session, or the search for one. SessionID may be
// empty when the player's matchmaking entry for GameID names the session.
type LeaveRequest struct {
	GameID    string
	PlayerID  string
	SessionID string
}

// Pool groups searching players into sessions.
//
// Pairing and lobby membership changes are serialized inside one process.
// Entries and sessions are plain upserts, so several processes pairing the
// same game concurrently may both pick up an entry.
type Pool struct {
	repo      *session.Repository
	registry  *engine.Registry
	orch      *turn.Orchestrator
	scheduler turn.Scheduler
	tracer    trace.Tracer
	now       func() time.Time
	newAlias  func() string

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Pool)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithTracer sets the tracer used for matchmaking spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pool) { p.tracer = t }
}

// WithAliasGenerator replaces the room code generator.
func WithAliasGenerator(gen func() string) Option {
	return func(p *Pool) { p.newAlias = gen }
}

// WithRand sets the random source handed to rulesets creating bots.
func WithRand(rng *rand.Rand) Option {
	return func(p *Pool) { p.rng = rng }
}

// NewPool creates a matchmaking pool. scheduler receives the first
// lifecycle check of every created session and may be nil.
func NewPool(repo *session.Repository, registry *engine.Registry, orch *turn.Orchestrator, scheduler turn.Scheduler, opts ...Option) *Pool {
	p := &Pool{
		repo:      repo,
		registry:  registry,
		orch:      orch,
		scheduler: scheduler,
		tracer:    telemetry.Tracer(tracerName),
		now:       time.Now,
		newAlias:  GenerateAlias,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FindMatch upserts a searching entry for the player and runs a pairing
// pass. A player already matched into a live session gets that entry back.
// Searching again within the research window keeps the original arrival
// time, so polling does not cost a player their place.
func (p *Pool) FindMatch(ctx context.Context, req FindRequest) (*engine.MatchmakingEntry, error) {
	if req.GameID == "" || req.PlayerID == "" {
		return nil, fmt.Errorf("%w: game id and player id are required", engine.ErrInvalidRequest)
	}
	if engine.IsBotID(req.PlayerID) {
		return nil, fmt.Errorf("%w: player id must not start with %q", engine.ErrInvalidRequest, engine.BotPrefix)
	}
	ruleset, err := p.registry.Lookup(req.GameID)
	if err != nil {
		return nil, err
	}
	if req.Region == "" {
		req.Region = engine.DefaultRegion
	}

	now := p.now().UTC()
	entry := &engine.MatchmakingEntry{
		PlayerID:  req.PlayerID,
		GameID:    req.GameID,
		Region:    req.Region,
		UsesLobby: req.UsesLobby,
		Status:    engine.StatusSearching,
		Timestamp: now,
		Info:      playerInfo(req.PlayerID, req.Info),
	}

	existing, err := p.repo.GetEntry(ctx, req.GameID, req.PlayerID)
	switch {
	case errors.Is(err, session.ErrEntryNotFound):
	case err != nil:
		return nil, err
	case p.isLive(ctx, existing):
		return existing, nil
	case existing.Status == engine.StatusSearching && now.Sub(existing.Timestamp) < ruleset.Settings().ResearchWindow:
		entry.Timestamp = existing.Timestamp
	}

	if err := p.repo.PutEntry(ctx, entry); err != nil {
		return nil, err
	}
	if _, err := p.Pair(ctx, req.GameID, req.Region); err != nil {
		return nil, err
	}
	return p.repo.GetEntry(ctx, req.GameID, req.PlayerID)
}

// isLive reports whether the entry points at a session that still exists
// and has not ended.
func (p *Pool) isLive(ctx context.Context, e *engine.MatchmakingEntry) bool {
	if e.SessionID == "" || (e.Status != engine.StatusMatched && e.Status != engine.StatusInLobby) {
		return false
	}
	sess, err := p.repo.GetSession(ctx, e.SessionID)
	return err == nil && !sess.IsEnded
}

// Pair runs one pairing pass over the searching entries of a game and
// region and returns the sessions it created.
func (p *Pool) Pair(ctx context.Context, gameID, region string) ([]*engine.Session, error) {
	ctx, span := p.tracer.Start(ctx, "matchmaking.Pair", trace.WithAttributes(
		attribute.String("game.id", gameID),
		attribute.String("region", region),
	))
	defer span.End()

	created, err := p.pair(ctx, gameID, region)
	span.SetAttributes(attribute.Int("sessions.created", len(created)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return created, err
}

func (p *Pool) pair(ctx context.Context, gameID, region string) ([]*engine.Session, error) {
	ruleset, err := p.registry.Lookup(gameID)
	if err != nil {
		return nil, err
	}
	settings := ruleset.Settings()

	p.mu.Lock()
	defer p.mu.Unlock()

	all, err := p.repo.ListEntries(ctx, gameID)
	if err != nil {
		return nil, err
	}
	var lobbies, waiting []*engine.MatchmakingEntry
	for _, e := range all {
		if e.Status != engine.StatusSearching || e.Region != region {
			continue
		}
		if e.UsesLobby {
			lobbies = append(lobbies, e)
		} else {
			waiting = append(waiting, e)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		if !waiting[i].Timestamp.Equal(waiting[j].Timestamp) {
			return waiting[i].Timestamp.Before(waiting[j].Timestamp)
		}
		return waiting[i].PlayerID < waiting[j].PlayerID
	})

	var created []*engine.Session
	for _, e := range lobbies {
		sess, err := p.createSession(ctx, ruleset, []*engine.MatchmakingEntry{e}, false, true)
		if err != nil {
			return created, err
		}
		created = append(created, sess)
	}

	size := settings.PlayerCount
	for len(waiting) >= size {
		sess, err := p.createSession(ctx, ruleset, waiting[:size], false, false)
		if err != nil {
			return created, err
		}
		created = append(created, sess)
		waiting = waiting[size:]
	}

	if len(waiting) == 0 || p.now().Sub(waiting[0].Timestamp) < settings.MaxWaitToMatchWithBots {
		return created, nil
	}

	switch settings.NoPlayerPolicy {
	case engine.PolicyFail:
		for _, e := range waiting {
			e.Status = engine.StatusFailedNoPlayers
			if err := p.repo.PutEntry(ctx, e); err != nil {
				return created, err
			}
		}
		log.Printf("No players found for %d searching entries of %s/%s", len(waiting), gameID, region)
	default:
		batch := append([]*engine.MatchmakingEntry(nil), waiting...)
		batch = append(batch, p.bots(ruleset, batch, size-len(batch))...)
		sess, err := p.createSession(ctx, ruleset, batch, true, false)
		if err != nil {
			return created, err
		}
		created = append(created, sess)
	}
	return created, nil
}

// bots creates n bot entries whose ids do not collide with the batch.
// Called with p.mu held.
func (p *Pool) bots(ruleset engine.Ruleset, batch []*engine.MatchmakingEntry, n int) []*engine.MatchmakingEntry {
	taken := make(map[string]bool, len(batch)+n)
	for _, e := range batch {
		taken[e.PlayerID] = true
	}
	out := make([]*engine.MatchmakingEntry, 0, n)
	for len(out) < n {
		info := ruleset.CreateBot(p.rng)
		if !engine.IsBotID(info.ID) {
			info.ID = engine.BotPrefix + info.ID
		}
		if taken[info.ID] {
			info.ID = fmt.Sprintf("%s-%d", info.ID, len(taken))
		}
		taken[info.ID] = true
		info.IsBot = true
		out = append(out, &engine.MatchmakingEntry{PlayerID: info.ID, GameID: batch[0].GameID, Region: batch[0].Region, Info: info})
	}
	return out
}

// CreateSession creates a session from the given entries, in seat order.
// Lobby sessions wait for more players; all others start at turn 0.
func (p *Pool) CreateSession(ctx context.Context, gameID string, entries []*engine.MatchmakingEntry, hasBots, isLobby bool) (*engine.Session, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: a session needs at least one entry", engine.ErrInvalidRequest)
	}
	ruleset, err := p.registry.Lookup(gameID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createSession(ctx, ruleset, entries, hasBots, isLobby)
}

func (p *Pool) createSession(ctx context.Context, ruleset engine.Ruleset, entries []*engine.MatchmakingEntry, hasBots, isLobby bool) (*engine.Session, error) {
	ctx, span := p.tracer.Start(ctx, "matchmaking.CreateSession")
	defer span.End()

	now := p.now().UTC()
	sess := &engine.Session{
		ID:        uuid.NewString(),
		GameID:    entries[0].GameID,
		Region:    entries[0].Region,
		UsesLobby: isLobby,
		IsStarted: !isLobby,
		HasBots:   hasBots,
		CreatedAt: now,
	}
	if sess.IsStarted {
		sess.StartedAt = now
	}
	for _, e := range entries {
		sess.AddParticipant(playerInfo(e.PlayerID, e.Info))
	}
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("game.id", sess.GameID),
		attribute.Int("session.participants", len(sess.ParticipantIDs)),
		attribute.Bool("session.lobby", isLobby),
	)

	alias, err := p.reserveAlias(ctx, sess.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	sess.Alias = alias

	if err := p.repo.CreateSession(ctx, sess); err != nil {
		span.RecordError(err)
		p.discard(sess)
		return nil, err
	}
	st := ruleset.SeedFirstState(sess)
	if err := p.repo.CommitState(ctx, sess.ID, st, ""); err != nil {
		span.RecordError(err)
		p.discard(sess)
		return nil, err
	}

	status := engine.StatusMatched
	if isLobby {
		status = engine.StatusInLobby
	}
	for _, e := range entries {
		e.Status = status
		e.SessionID = sess.ID
		e.Alias = sess.Alias
		if err := p.repo.PutEntry(ctx, e); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if p.scheduler != nil {
		if err := p.scheduler.ScheduleCheck(ctx, ruleset.Settings().CheckDelay, sess.ID, st.Fingerprint()); err != nil {
			log.Printf("Failed to schedule first check of session %s: %v", sess.ID, err)
		}
	}
	log.Printf("Created session %s (%s) for %s with %d participants", sess.ID, sess.Alias, sess.GameID, len(sess.ParticipantIDs))
	return sess, nil
}

// discard removes what a failed createSession already wrote, so the alias
// does not stay bound to a session that never existed.
func (p *Pool) discard(sess *engine.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.repo.DeleteSession(ctx, sess); err != nil {
		log.Printf("Failed to discard half created session %s: %v", sess.ID, err)
	}
}

func (p *Pool) reserveAlias(ctx context.Context, sessionID string) (string, error) {
	for range maxAliasAttempts {
		alias := p.newAlias()
		err := p.repo.ReserveAlias(ctx, alias, sessionID)
		if errors.Is(err, session.ErrAliasTaken) {
			continue
		}
		if err != nil {
			return "", err
		}
		return alias, nil
	}
	return "", fmt.Errorf("failed to find a free alias after %d attempts", maxAliasAttempts)
}

// JoinByAlias seats the player in a lobby session that has not started and
// is not full, then reseeds its first state. Reaching the ruleset's
// maximum player count starts the session.
func (p *Pool) JoinByAlias(ctx context.Context, alias string, info engine.PlayerInfo) (*engine.Session, error) {
	if alias == "" || info.ID == "" {
		return nil, fmt.Errorf("%w: alias and player id are required", engine.ErrInvalidRequest)
	}
	sessionID, err := p.repo.ResolveAlias(ctx, strings.ToUpper(strings.TrimSpace(alias)))
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sess, err := p.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ruleset, err := p.registry.Lookup(sess.GameID)
	if err != nil {
		return nil, err
	}
	switch {
	case sess.IsEnded:
		return nil, engine.ErrSessionEnded
	case sess.HasParticipant(info.ID):
		return sess, nil
	case !sess.UsesLobby || sess.IsStarted:
		return nil, engine.ErrSessionStarted
	case len(sess.ParticipantIDs) >= ruleset.Settings().MaxPlayers:
		return nil, engine.ErrSessionFull
	}

	sess.AddParticipant(playerInfo(info.ID, info))
	if err := p.repo.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	entry := &engine.MatchmakingEntry{
		PlayerID:  info.ID,
		GameID:    sess.GameID,
		Region:    sess.Region,
		SessionID: sess.ID,
		Alias:     sess.Alias,
		UsesLobby: true,
		Status:    engine.StatusInLobby,
		Timestamp: p.now().UTC(),
		Info:      playerInfo(info.ID, info),
	}
	if err := p.repo.PutEntry(ctx, entry); err != nil {
		return nil, err
	}

	if len(sess.ParticipantIDs) >= ruleset.Settings().MaxPlayers {
		return sess, p.start(ctx, ruleset, sess)
	}
	if _, err := p.reseed(ctx, ruleset, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Start starts a lobby session on behalf of one of its participants.
func (p *Pool) Start(ctx context.Context, sessionID, playerID string) (*engine.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, err := p.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ruleset, err := p.registry.Lookup(sess.GameID)
	if err != nil {
		return nil, err
	}
	switch {
	case !sess.HasParticipant(playerID):
		return nil, fmt.Errorf("%w: %s", engine.ErrNotParticipant, playerID)
	case sess.IsEnded:
		return nil, engine.ErrSessionEnded
	case sess.IsStarted:
		return nil, engine.ErrSessionStarted
	case len(sess.ParticipantIDs) < ruleset.Settings().MinPlayers:
		return nil, fmt.Errorf("%w: %d of %d", engine.ErrNotEnoughPlayers, len(sess.ParticipantIDs), ruleset.Settings().MinPlayers)
	}
	return sess, p.start(ctx, ruleset, sess)
}

// start marks the session started and seeds turn 0. Called with p.mu held.
func (p *Pool) start(ctx context.Context, ruleset engine.Ruleset, sess *engine.Session) error {
	sess.IsStarted = true
	sess.StartedAt = p.now().UTC()
	if err := p.repo.SaveSession(ctx, sess); err != nil {
		return err
	}
	if _, err := p.reseed(ctx, ruleset, sess); err != nil {
		return err
	}
	for _, id := range sess.HumanIDs() {
		e, err := p.repo.GetEntry(ctx, sess.GameID, id)
		if err != nil || e.SessionID != sess.ID {
			continue
		}
		e.Status = engine.StatusMatched
		if err := p.repo.PutEntry(ctx, e); err != nil {
			return err
		}
	}
	log.Printf("Started session %s with %d participants", sess.ID, len(sess.ParticipantIDs))
	return nil
}

// reseed replaces the session state with a freshly seeded one.
func (p *Pool) reseed(ctx context.Context, ruleset engine.Ruleset, sess *engine.Session) (*engine.SessionState, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, tag, err := p.repo.GetState(ctx, sess.ID)
		if err != nil && !errors.Is(err, session.ErrStateNotFound) {
			return nil, err
		}
		st := ruleset.SeedFirstState(sess)
		err = p.repo.CommitState(ctx, sess.ID, st, tag)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

// Leave takes the player out of a session. Before the session started the
// player simply loses their seat and the state is reseeded; a lobby left
// without humans is deleted. After the start the player's retreat flag is
// committed and one advance folds it into the outcome. Without a session,
// a searching entry is canceled.
func (p *Pool) Leave(ctx context.Context, req LeaveRequest) error {
	if req.PlayerID == "" {
		return fmt.Errorf("%w: player id is required", engine.ErrInvalidRequest)
	}
	if req.SessionID == "" {
		if req.GameID == "" {
			return fmt.Errorf("%w: game id or session id is required", engine.ErrInvalidRequest)
		}
		e, err := p.repo.GetEntry(ctx, req.GameID, req.PlayerID)
		if errors.Is(err, session.ErrEntryNotFound) {
			return fmt.Errorf("%w: %s", engine.ErrNoMatch, req.PlayerID)
		}
		if err != nil {
			return err
		}
		if e.SessionID == "" {
			return p.repo.DeleteEntry(ctx, req.GameID, req.PlayerID)
		}
		req.SessionID = e.SessionID
	}

	p.mu.Lock()
	sess, err := p.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if !sess.HasParticipant(req.PlayerID) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrNotParticipant, req.PlayerID)
	}
	if err := p.dropEntry(ctx, sess, req.PlayerID); err != nil {
		p.mu.Unlock()
		return err
	}
	if sess.IsEnded {
		p.mu.Unlock()
		return nil
	}
	if !sess.IsStarted {
		defer p.mu.Unlock()
		return p.leaveBeforeStart(ctx, sess, req.PlayerID)
	}
	p.mu.Unlock()

	if err := p.retreat(ctx, sess.ID, req.PlayerID); err != nil {
		return err
	}
	_, err = p.orch.Advance(ctx, turn.AdvanceRequest{SessionID: sess.ID, RequesterID: req.PlayerID})
	return err
}

func (p *Pool) dropEntry(ctx context.Context, sess *engine.Session, playerID string) error {
	e, err := p.repo.GetEntry(ctx, sess.GameID, playerID)
	if errors.Is(err, session.ErrEntryNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if e.SessionID != sess.ID {
		return nil
	}
	return p.repo.DeleteEntry(ctx, sess.GameID, playerID)
}

func (p *Pool) leaveBeforeStart(ctx context.Context, sess *engine.Session, playerID string) error {
	sess.RemoveParticipant(playerID)
	if len(sess.HumanIDs()) == 0 {
		log.Printf("Last player left lobby %s", sess.ID)
		return p.repo.DeleteSession(ctx, sess)
	}
	ruleset, err := p.registry.Lookup(sess.GameID)
	if err != nil {
		return err
	}
	if err := p.repo.SaveSession(ctx, sess); err != nil {
		return err
	}
	_, err = p.reseed(ctx, ruleset, sess)
	return err
}

// retreat commits the player's private retreat flag.
func (p *Pool) retreat(ctx context.Context, sessionID, playerID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, tag, err := p.repo.GetState(ctx, sessionID)
		if err != nil {
			return err
		}
		if st.IsEnded || st.PrivateValue(playerID, engine.RetreatKey) == "1" {
			return nil
		}
		next := st.Clone()
		next.SetPrivate(playerID, map[string]string{engine.RetreatKey: "1"}, false)
		err = p.repo.CommitState(ctx, sessionID, next, tag)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return err
	}
}

// Cancel stops a player's search. Only searching or failed entries can be
// canceled.
func (p *Pool) Cancel(ctx context.Context, gameID, playerID string) (*engine.MatchmakingEntry, error) {
	e, err := p.repo.GetEntry(ctx, gameID, playerID)
	if errors.Is(err, session.ErrEntryNotFound) {
		return nil, fmt.Errorf("%w: %s", engine.ErrNoMatch, playerID)
	}
	if err != nil {
		return nil, err
	}
	if e.Status != engine.StatusSearching && e.Status != engine.StatusFailedNoPlayers {
		return nil, fmt.Errorf("%w: entry is %s", engine.ErrInvalidRequest, e.Status)
	}
	e.Status = engine.StatusCanceled
	if err := p.repo.PutEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func playerInfo(id string, info engine.PlayerInfo) engine.PlayerInfo {
	info.ID = id
	if info.DisplayName == "" {
		info.DisplayName = id
	}
	if engine.IsBotID(id) {
		info.IsBot = true
	}
	return info
}
