package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/freeeve/writing-arena/internal/llm"
	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

// SyntheticConfig controls synthetic participant generation and submission timing.
type SyntheticConfig struct {
	DelayMin        time.Duration
	DelayMax        time.Duration
	GenerateTimeout time.Duration
	Parallelism     int
}

// SyntheticService backfills synthetic seats: it generates an artifact per seat,
// inserts it once per player and phase, and schedules a delayed submission.
type SyntheticService struct {
	matches   repository.MatchStore
	generator llm.Generator
	recorder  *SubmissionRecorder
	scheduler Scheduler
	cfg       SyntheticConfig
	now       func() time.Time

	group singleflight.Group
}

// NewSyntheticService creates a SyntheticService.
func NewSyntheticService(matches repository.MatchStore, generator llm.Generator, recorder *SubmissionRecorder, scheduler Scheduler, cfg SyntheticConfig) *SyntheticService {
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 40 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &SyntheticService{
		matches:   matches,
		generator: generator,
		recorder:  recorder,
		scheduler: scheduler,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Backfill generates artifacts for every synthetic seat of the match that has none for
// phase yet and returns how many this call inserted. Concurrent calls in this process
// share one run; across processes the store's insert-if-absent keeps one entry per seat.
func (s *SyntheticService) Backfill(ctx context.Context, matchID string, phase arena.Phase) (int, error) {
	key := fmt.Sprintf("%s:%d", matchID, phase)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.backfill(ctx, matchID, phase)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *SyntheticService) backfill(ctx context.Context, matchID string, phase arena.Phase) (int, error) {
	m, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 0, ErrMatchNotFound
	}
	l := log.With().Str("matchId", matchID).Int("phase", int(phase)).Logger()

	have := make(map[string]bool)
	for _, a := range m.Artifacts[phase] {
		have[a.PlayerID] = true
	}
	var missing []model.Player
	for _, p := range m.SyntheticPlayers() {
		if !have[p.PlayerID] {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	inserted := make([]bool, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, seat := range missing {
		g.Go(func() error {
			a := s.generate(gctx, m, seat, phase)
			ok, err := s.matches.InsertArtifact(gctx, matchID, phase, a)
			if err != nil {
				return err
			}
			if !ok {
				l.Debug().Str("playerId", seat.PlayerID).Msg("Artifact already present, skipping")
				return nil
			}
			inserted[i] = true
			s.scheduleSubmission(m.SessionID, seat.PlayerID, phase, a)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("backfill: %w", err)
	}

	n := 0
	for _, ok := range inserted {
		if ok {
			n++
		}
	}
	l.Info().Int("inserted", n).Int("missing", len(missing)).Msg("Synthetic backfill finished")
	return n, nil
}

// generate asks the generation service for the seat's text and falls back to a
// canned artifact on any failure.
func (s *SyntheticService) generate(ctx context.Context, m *model.Match, seat model.Player, phase arena.Phase) model.SyntheticArtifact {
	req := llm.GenerateRequest{
		Prompt: m.Prompt,
		Phase:  phase,
		Tier:   arena.LookupSkillTier(seat.SkillTier),
	}
	if phase == arena.PhaseRevision {
		for _, a := range m.Artifacts[arena.PhaseDraft] {
			if a.PlayerID == seat.PlayerID {
				req.Prior = a.Content
			}
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	a := model.SyntheticArtifact{PlayerID: seat.PlayerID, CreatedAt: s.now().UTC()}
	text, err := s.generator.Generate(genCtx, req)
	if err != nil {
		log.Warn().Err(err).Str("matchId", m.ID).Str("playerId", seat.PlayerID).Int("phase", int(phase)).
			Msg("Generation failed, using canned artifact")
		text = cannedArtifact(seat.PlayerID, phase)
		a.Canned = true
	}
	a.Content = text
	a.WordCount = arena.WordCount(text)
	return a
}

// scheduleSubmission records the synthetic player's submission after a human-like delay.
// The submission carries no score; synthetic seats are ranked with the cohort.
func (s *SyntheticService) scheduleSubmission(sessionID, playerID string, phase arena.Phase, a model.SyntheticArtifact) {
	delay := arena.Jitter(s.cfg.DelayMin, s.cfg.DelayMax)
	name := fmt.Sprintf("synthetic-submit:%s:%s:%d", sessionID, playerID, phase)
	err := s.scheduler.After(delay, name, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := s.recorder.Record(ctx, sessionID, playerID, phase, model.SubmissionPayload{
			Content:   a.Content,
			WordCount: a.WordCount,
		})
		if err != nil {
			log.Error().Err(err).Str("sessionId", sessionID).Str("playerId", playerID).Msg("Synthetic submission failed")
		}
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Str("playerId", playerID).Msg("Failed to schedule synthetic submission")
	}
}
