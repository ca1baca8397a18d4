// Command playtest drives automated players through matches against a
// running server. Each player queues, waits for a session, and plays until
// the match ends, polling its state and acknowledging every state it sees.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/urfave/cli/v3"
)

// Outcome is how one player's match ended.
type Outcome struct {
	PlayerID  string
	SessionID string
	Winner    string
	Reason    string
	Rounds    int
	Actions   int
	Err       error
}

// play runs one player from queueing to the end of its match.
func play(ctx context.Context, c *Client, gameID string, strategy Strategy, interval time.Duration, verbose bool) Outcome {
	out := Outcome{PlayerID: c.playerID}

	if _, err := c.FindMatch(ctx, gameID); err != nil {
		out.Err = fmt.Errorf("find match: %w", err)
		return out
	}
	match, err := c.WaitForMatch(ctx, gameID, interval)
	if err != nil {
		out.Err = err
		return out
	}
	out.SessionID = match.SessionID
	if verbose {
		log.Printf("[%s] matched into %s with %d players", c.playerID, match.SessionID, len(match.Participants))
	}

	view := &View{}
	for {
		state, err := c.Poll(ctx)
		if err != nil {
			out.Err = fmt.Errorf("poll: %w", err)
			return out
		}
		if !state.Unchanged {
			view = &View{TurnNumber: state.TurnNumber, Public: state.Public, Private: state.Private}
			if verbose {
				log.Printf("[%s] turn %d phase %s", c.playerID, state.TurnNumber, view.Public["phase"])
			}
		}
		if state.IsEnded {
			out.Winner = view.Public["winner"]
			out.Reason = view.Public["end_reason"]
			out.Rounds = view.TurnNumber
			return out
		}

		if payload := strategy.NextAction(view); payload != nil {
			if _, err := c.Send(ctx, *payload); err != nil {
				log.Printf("[%s] action rejected: %v", c.playerID, err)
			} else {
				out.Actions++
			}
			continue
		}

		select {
		case <-ctx.Done():
			if err := c.Leave(context.Background()); err != nil {
				log.Printf("[%s] leave failed: %v", c.playerID, err)
			}
			out.Err = ctx.Err()
			return out
		case <-time.After(interval):
		}
	}
}

func newStrategy(name string, seat int, rng *rand.Rand) (Strategy, error) {
	switch name {
	case "random":
		return NewRandomStrategy(rand.New(rand.NewSource(rng.Int63()))), nil
	case "cycle":
		return NewCycleStrategy(seat), nil
	}
	return nil, fmt.Errorf("unknown strategy %q (random, cycle)", name)
}

// runAll plays every player concurrently and returns their outcomes in
// player order.
func runAll(ctx context.Context, baseURL, gameID string, players int, strategyName string, interval time.Duration, seed int64, verbose bool) ([]Outcome, error) {
	rng := rand.New(rand.NewSource(seed))
	outcomes := make([]Outcome, players)

	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		strategy, err := newStrategy(strategyName, i, rng)
		if err != nil {
			return nil, err
		}
		client := NewClient(baseURL, fmt.Sprintf("playtest-%d-%d", seed, i))

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = play(ctx, client, gameID, strategy, interval, verbose)
		}(i)
		// stagger queueing so entries get distinct timestamps
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()
	return outcomes, nil
}

func report(outcomes []Outcome) (failed int) {
	wins := map[string]int{}
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			log.Printf("❌ %s: %v", o.PlayerID, o.Err)
			continue
		}
		result := "lost"
		switch o.Winner {
		case o.PlayerID:
			result = "won"
			wins[o.Reason]++
		case "":
			result = "no winner"
		}
		log.Printf("%s %s in %s after %d rounds (%s, %d actions)", o.PlayerID, result, o.SessionID, o.Rounds, o.Reason, o.Actions)
	}

	reasons := make([]string, 0, len(wins))
	for r := range wins {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		log.Printf("Wins by %s: %d", r, wins[r])
	}
	return failed
}

func main() {
	cmd := &cli.Command{
		Name:  "playtest",
		Usage: "Play automated matches against a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "Server URL"},
			&cli.StringFlag{Name: "game", Value: "rps", Usage: "Game id to queue for"},
			&cli.IntFlag{Name: "players", Value: 2, Usage: "Number of concurrent players"},
			&cli.StringFlag{Name: "strategy", Value: "random", Usage: "Move strategy: random or cycle"},
			&cli.DurationFlag{Name: "poll", Value: 200 * time.Millisecond, Usage: "Poll interval"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute, Usage: "Give up after this long"},
			&cli.Int64Flag{Name: "seed", Value: time.Now().UnixNano(), Usage: "Random seed (also names the players)"},
			&cli.BoolFlag{Name: "v", Usage: "Verbose output"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			log.Printf("Connecting to game server at %s", cmd.String("url"))
			outcomes, err := runAll(ctx, cmd.String("url"), cmd.String("game"), int(cmd.Int("players")),
				cmd.String("strategy"), cmd.Duration("poll"), cmd.Int64("seed"), cmd.Bool("v"))
			if err != nil {
				return err
			}
			if failed := report(outcomes); failed > 0 {
				return fmt.Errorf("%d of %d players failed", failed, len(outcomes))
			}
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
