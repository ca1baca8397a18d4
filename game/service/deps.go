package service

import (
	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/lifecycle"
	"github.com/wricardo/turnbased-match-server/game/matchmaking"
	"github.com/wricardo/turnbased-match-server/game/session"
	"github.com/wricardo/turnbased-match-server/game/store"
	"github.com/wricardo/turnbased-match-server/game/turn"
)

// Deps is every component a GameService needs. It is built once at
// process start and passed down explicitly.
type Deps struct {
	Repo         *session.Repository
	Registry     *engine.Registry
	Intake       *turn.Intake
	Orchestrator *turn.Orchestrator
	Pool         *matchmaking.Pool
	Checker      *lifecycle.Checker
	Games        GameCatalog
}

// Options configures NewDeps
type Options struct {
	Store            store.KV
	Registry         *engine.Registry
	Games            GameCatalog
	Dispatcher       lifecycle.Dispatcher
	Notifier         turn.Notifier
	RejectDuplicates bool
}

// NewDeps wires the engine components over one store. Without a
// dispatcher lifecycle checks run on in-process timers.
func NewDeps(opts Options) *Deps {
	repo := session.NewRepository(opts.Store)

	var orchOpts []turn.Option
	if opts.Notifier != nil {
		orchOpts = append(orchOpts, turn.WithNotifier(opts.Notifier))
	}
	orch := turn.NewOrchestrator(repo, opts.Registry, orchOpts...)

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = lifecycle.NewLocalDispatcher(0)
	}
	checker := lifecycle.NewChecker(repo, opts.Registry, orch, dispatcher)
	orch.SetScheduler(checker)

	return &Deps{
		Repo:         repo,
		Registry:     opts.Registry,
		Intake:       turn.NewIntake(repo, opts.Registry, opts.RejectDuplicates),
		Orchestrator: orch,
		Pool:         matchmaking.NewPool(repo, opts.Registry, orch, checker),
		Checker:      checker,
		Games:        opts.Games,
	}
}
