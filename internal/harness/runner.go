// Package harness drives complete matches against a running server over its
// public API, the way real clients would.
package harness

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const phaseCount = 3

// Config controls one harness match.
type Config struct {
	BaseURL      string
	Label        string   // prefix for player names
	Humans       int      // real seats, each driven by its own client
	Synthetic    []string // skill tier per synthetic seat
	Ranked       bool
	Prompt       string
	Words        int // approximate words per submission
	PollInterval time.Duration
	PhaseTimeout time.Duration
	UseWS        bool
	Seed         uint64
}

func (c *Config) applyDefaults() {
	if c.Label == "" {
		c.Label = "harness"
	}
	if c.Humans <= 0 {
		c.Humans = 1
	}
	if c.Prompt == "" {
		c.Prompt = "Describe a place that changed the way you think about home."
	}
	if c.Words <= 0 {
		c.Words = 150
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PhaseTimeout <= 0 {
		c.PhaseTimeout = 2 * time.Minute
	}
}

// PhaseResult holds every real player's graded outcome for one phase.
type PhaseResult struct {
	Phase    int                       `json:"phase"`
	Outcomes map[string]*SubmitOutcome `json:"outcomes"`
	Elapsed  time.Duration             `json:"elapsed"`
}

// Result summarizes a harness match.
type Result struct {
	MatchID   string         `json:"match_id"`
	SessionID string         `json:"session_id"`
	Phases    []*PhaseResult `json:"phases"`
	Completed bool           `json:"completed"`
	Elapsed   time.Duration  `json:"elapsed"`
}

// Runner plays one match through all phases.
type Runner struct {
	cfg     Config
	players []*Client
	rng     *rand.Rand
	mu      sync.Mutex
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	cfg.applyDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Runner{cfg: cfg, rng: rand.New(rand.NewPCG(seed, seed>>1))}
}

// Run logs in the players, forms the match and plays every phase to completion.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	log.Info().Str("label", r.cfg.Label).Int("humans", r.cfg.Humans).Int("synthetic", len(r.cfg.Synthetic)).
		Msg("Starting harness match")

	for i := 1; i <= r.cfg.Humans; i++ {
		c := NewClient(fmt.Sprintf("%s-%d", r.cfg.Label, i), r.cfg.BaseURL)
		if err := c.Login(ctx); err != nil {
			return nil, fmt.Errorf("login %s: %w", c.Name(), err)
		}
		r.players = append(r.players, c)
	}
	lead := r.players[0]

	in := CreateMatchInput{Prompt: r.cfg.Prompt, Ranked: r.cfg.Ranked}
	for _, c := range r.players {
		in.Humans = append(in.Humans, HumanSeat{PlayerID: c.UserID(), DisplayName: c.Name(), RankLevel: 10})
	}
	for i, tier := range r.cfg.Synthetic {
		in.Synthetic = append(in.Synthetic, SyntheticSeat{DisplayName: fmt.Sprintf("Synthetic %d", i+1), SkillTier: tier})
	}
	created, err := lead.CreateMatch(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}
	log.Info().Str("matchId", created.MatchID).Str("sessionId", created.SessionID).Msg("Match created")

	if r.cfg.UseWS {
		if err := lead.ConnectWS(); err != nil {
			return nil, fmt.Errorf("ws connect: %w", err)
		}
		defer lead.CloseWS()
		if err := lead.SubscribeSession(created.SessionID); err != nil {
			return nil, fmt.Errorf("ws subscribe: %w", err)
		}
	}

	res := &Result{MatchID: created.MatchID, SessionID: created.SessionID}
	for phase := 1; phase <= phaseCount; phase++ {
		pr, err := r.playPhase(ctx, created.SessionID, phase)
		if err != nil {
			return res, fmt.Errorf("phase %d: %w", phase, err)
		}
		res.Phases = append(res.Phases, pr)

		done, err := r.waitForAdvance(ctx, created.SessionID, phase)
		if err != nil {
			return res, fmt.Errorf("phase %d: %w", phase, err)
		}
		if done {
			res.Completed = true
			break
		}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// playPhase requests backfill and submits for every real player concurrently.
func (r *Runner) playPhase(ctx context.Context, sessionID string, phase int) (*PhaseResult, error) {
	start := time.Now()
	if err := r.players[0].Backfill(ctx, sessionID, phase); err != nil {
		log.Warn().Err(err).Int("phase", phase).Msg("Backfill request failed, continuing")
	}

	pr := &PhaseResult{Phase: phase, Outcomes: make(map[string]*SubmitOutcome)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range r.players {
		content := r.compose(phase)
		g.Go(func() error {
			out, err := c.Submit(gctx, sessionID, phase, content)
			if err != nil {
				return fmt.Errorf("submit %s: %w", c.Name(), err)
			}
			mu.Lock()
			pr.Outcomes[c.UserID()] = out
			mu.Unlock()
			log.Info().Str("player", c.Name()).Int("phase", phase).Float64("score", out.Score).Int("rank", out.Rank).
				Bool("fallback", out.Fallback).Msg("Submission graded")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	pr.Elapsed = time.Since(start)
	return pr, nil
}

// waitForAdvance blocks until the session leaves phase. It reports true once the
// session is completed.
func (r *Runner) waitForAdvance(ctx context.Context, sessionID string, phase int) (bool, error) {
	lead := r.players[0]
	deadline := time.NewTimer(r.cfg.PhaseTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var events <-chan WSEvent
	if r.cfg.UseWS {
		events = lead.Events()
	}

	for {
		s, err := lead.GetSession(ctx, sessionID)
		if err != nil {
			return false, err
		}
		if s.State == "completed" {
			return true, nil
		}
		if s.Phase > phase {
			return false, nil
		}
		if obs, err := lead.RequestTransition(ctx, sessionID, phase); err != nil {
			var se *StatusError
			if !errors.As(err, &se) || se.Code >= 500 {
				return false, err
			}
			log.Debug().Err(err).Int("phase", phase).Msg("Transition request rejected")
		} else {
			log.Debug().Str("observation", obs).Int("phase", phase).Msg("Transition requested")
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, fmt.Errorf("timeout waiting for session %s to leave phase %d", sessionID, phase)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			log.Debug().Str("type", ev.Type).Msg("Session event")
		case <-ticker.C:
		}
	}
}

var vocabulary = strings.Fields(`the morning light fell across an old kitchen table where my grandmother
kept letters from a town none of us had visited and every evening she read one aloud
while the radio hummed quietly beside a window that looked over fields of barley
I remember how the smell of bread and rain made the house feel larger than it was
years later standing in a crowded station I understood that home was never a building
but a habit of attention a way of noticing small things and keeping them safe`)

// compose builds a submission of roughly cfg.Words words for phase.
func (r *Runner) compose(phase int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	switch phase {
	case 2:
		b.WriteString("Feedback: the strongest part is the opening image. ")
	case 3:
		b.WriteString("Revised: ")
	}
	for i := 0; i < r.cfg.Words; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(vocabulary[r.rng.IntN(len(vocabulary))])
		if i%14 == 13 {
			b.WriteByte('.')
		}
	}
	b.WriteByte('.')
	return b.String()
}
