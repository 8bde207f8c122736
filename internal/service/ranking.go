package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/llm"
	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

const (
	invalidFeedback = "Submission was empty, so it was not graded."
	expiredFeedback = "Time expired before a submission was made."
)

// RankingConfig holds the artifact wait and grading retry policy.
type RankingConfig struct {
	ArtifactPollInterval time.Duration
	ArtifactPollAttempts int
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// GapRecorder receives weakness signals from graded submissions.
type GapRecorder interface {
	RecordGapSignals(ctx context.Context, userID string, gaps []arena.GapSignal, source, submissionID string) error
}

// Backfiller generates missing synthetic artifacts for a phase.
type Backfiller interface {
	Backfill(ctx context.Context, matchID string, phase arena.Phase) (int, error)
}

// SubmitRequest is one real player's submission for a phase.
type SubmitRequest struct {
	SessionID string
	PlayerID  string
	Phase     arena.Phase
	Content   string
	// Expired marks a placeholder made by the deadline sweeper.
	Expired bool
}

// SubmitResult is what the submitting player gets back.
type SubmitResult struct {
	Phase    arena.Phase     `json:"phase"`
	Score    float64         `json:"score"`
	Rank     int             `json:"rank,omitempty"`
	Feedback model.Feedback  `json:"feedback"`
	Rankings []model.Ranking `json:"rankings,omitempty"`
	Fallback bool            `json:"fallback"`
	Invalid  bool            `json:"invalid"`
}

// RankingOrchestrator grades a phase's whole cohort in one call and persists the
// rankings before recording the caller's submission.
type RankingOrchestrator struct {
	matches     repository.MatchStore
	sessions    repository.SessionStore
	grader      llm.Grader
	recorder    *SubmissionRecorder
	gaps        GapRecorder
	backfiller  Backfiller
	broadcaster Broadcaster
	cfg         RankingConfig
	now         func() time.Time
}

// NewRankingOrchestrator creates a RankingOrchestrator. gaps and backfiller may be nil.
func NewRankingOrchestrator(
	matches repository.MatchStore,
	sessions repository.SessionStore,
	grader llm.Grader,
	recorder *SubmissionRecorder,
	gaps GapRecorder,
	backfiller Backfiller,
	broadcaster Broadcaster,
	cfg RankingConfig,
) *RankingOrchestrator {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * time.Second
	}
	if cfg.ArtifactPollAttempts <= 0 {
		cfg.ArtifactPollAttempts = 15
	}
	if cfg.ArtifactPollInterval <= 0 {
		cfg.ArtifactPollInterval = 2 * time.Second
	}
	return &RankingOrchestrator{
		matches:     matches,
		sessions:    sessions,
		grader:      grader,
		recorder:    recorder,
		gaps:        gaps,
		backfiller:  backfiller,
		broadcaster: broadcaster,
		cfg:         cfg,
		now:         time.Now,
	}
}

// cohortMember is one participant's submission as assembled for grading.
type cohortMember struct {
	playerID  string
	content   string
	words     int
	at        time.Time
	synthetic bool
	invalid   bool
	note      string // feedback summary kept for an invalid member
}

// Submit grades the caller's submission together with everything already submitted
// for the phase, persists rankings and feedback, then records the submission.
// Grading failures fall back to the mock scorer; only store failures are returned.
func (o *RankingOrchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	s, err := o.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if s.State == arena.SessionCompleted {
		return nil, ErrMatchCompleted
	}
	if req.Phase != s.Phase {
		return nil, ErrWrongPhase
	}
	sp, ok := s.Players[req.PlayerID]
	if !ok {
		return nil, ErrNotInMatch
	}
	if sp.IsAI {
		return nil, ErrSyntheticPlayer
	}
	m, err := o.matches.GetMatch(ctx, s.MatchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMatchNotFound
	}
	l := log.With().Str("matchId", m.ID).Str("sessionId", s.ID).Int("phase", int(req.Phase)).
		Str("playerId", req.PlayerID).Logger()

	content := strings.TrimSpace(req.Content)
	if req.Expired || content == "" {
		return o.submitInvalid(ctx, m, req, l)
	}

	artifacts := o.waitForArtifacts(ctx, m, req.Phase, l)
	self := cohortMember{playerID: req.PlayerID, content: content, words: arena.WordCount(content), at: o.now()}
	if sub, ok := s.Submission(req.PlayerID, req.Phase); ok && sub.SubmittedAt != nil {
		self.at = *sub.SubmittedAt
	}
	cohort := o.assembleCohort(s, req.Phase, artifacts, &self)

	results, fallback := o.grade(ctx, m, req.Phase, cohort, l)
	rankings, feedback := normalize(cohort, results, fallback)

	// Grading is slow; a phase that closed meanwhile already has its final rankings.
	if cur, err := o.sessions.GetSession(ctx, s.ID); err != nil {
		return nil, err
	} else if cur == nil || cur.Phase != req.Phase || cur.AllPlayersReady {
		return nil, ErrWrongPhase
	}

	if err := o.matches.SaveRankings(ctx, m.ID, req.Phase, rankings, feedback); err != nil {
		return nil, fmt.Errorf("persist rankings: %w", err)
	}
	l.Info().Int("cohort", len(cohort)).Bool("fallback", fallback).Msg("Rankings persisted")

	mine := feedback[req.PlayerID]
	score := mine.Score
	if _, err := o.recorder.Record(ctx, s.ID, req.PlayerID, req.Phase, model.SubmissionPayload{
		Content:   content,
		WordCount: arena.WordCount(content),
		Score:     &score,
	}); err != nil {
		return nil, fmt.Errorf("record submission: %w", err)
	}

	o.broadcaster.BroadcastSessionEvent(s.ID, EventRankingsReady, map[string]any{
		"phase":    int(req.Phase),
		"fallback": fallback,
	})

	if !fallback {
		o.recordGaps(ctx, m, req.Phase, req.PlayerID, mine, l)
	}

	res := &SubmitResult{
		Phase:    req.Phase,
		Score:    score,
		Feedback: mine,
		Rankings: rankings,
		Fallback: fallback,
	}
	for _, r := range rankings {
		if r.PlayerID == req.PlayerID {
			res.Rank = r.Rank
		}
	}
	return res, nil
}

// submitInvalid records a zero score and placeholder feedback without grading.
func (o *RankingOrchestrator) submitInvalid(ctx context.Context, m *model.Match, req SubmitRequest, l zerolog.Logger) (*SubmitResult, error) {
	zero := 0.0
	wrote, err := o.recorder.Record(ctx, req.SessionID, req.PlayerID, req.Phase, model.SubmissionPayload{
		Content:  strings.TrimSpace(req.Content),
		Score:    &zero,
		IfAbsent: req.Expired,
	})
	if err != nil {
		return nil, fmt.Errorf("record submission: %w", err)
	}
	fb := model.Feedback{Summary: invalidFeedback, Strengths: []string{}, Improvements: []string{}}
	if req.Expired {
		fb.Summary = expiredFeedback
	}
	if wrote {
		if err := o.matches.SaveFeedback(ctx, m.ID, req.Phase, req.PlayerID, fb); err != nil {
			return nil, fmt.Errorf("persist feedback: %w", err)
		}
	}
	l.Info().Bool("expired", req.Expired).Bool("written", wrote).Msg("Ungraded submission recorded")
	return &SubmitResult{Phase: req.Phase, Feedback: fb, Invalid: true}, nil
}

// waitForArtifacts polls until every synthetic seat has an artifact for phase or the
// attempt budget runs out, then returns whatever is present.
func (o *RankingOrchestrator) waitForArtifacts(ctx context.Context, m *model.Match, phase arena.Phase, l zerolog.Logger) []model.SyntheticArtifact {
	want := len(m.SyntheticPlayers())
	if want == 0 {
		return nil
	}
	var arts []model.SyntheticArtifact
	for attempt := 1; attempt <= o.cfg.ArtifactPollAttempts; attempt++ {
		var err error
		arts, err = o.matches.Artifacts(ctx, m.ID, phase)
		if err != nil {
			l.Warn().Err(err).Int("attempt", attempt).Msg("Artifact read failed")
		} else if len(arts) >= want {
			return arts
		}
		if attempt == 1 && o.backfiller != nil {
			go func() {
				bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
				defer cancel()
				if _, err := o.backfiller.Backfill(bctx, m.ID, phase); err != nil {
					l.Warn().Err(err).Msg("Backfill from ranking wait failed")
				}
			}()
		}
		if attempt == o.cfg.ArtifactPollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return arts
		case <-time.After(o.cfg.ArtifactPollInterval):
		}
	}
	l.Warn().Int("have", len(arts)).Int("want", want).Msg("Synthetic artifacts incomplete, grading available cohort")
	return arts
}

// assembleCohort orders every known submission for phase by submission time. When
// self is set it replaces anything stored for that player.
func (o *RankingOrchestrator) assembleCohort(s *model.Session, phase arena.Phase, arts []model.SyntheticArtifact, self *cohortMember) []cohortMember {
	now := o.now()
	var cohort []cohortMember
	for _, id := range s.RealPlayerIDs() {
		if self != nil && id == self.playerID {
			continue
		}
		sub, ok := s.Submission(id, phase)
		if !ok || !sub.Submitted {
			continue
		}
		at := now
		if sub.SubmittedAt != nil {
			at = *sub.SubmittedAt
		}
		c := strings.TrimSpace(sub.Content)
		cohort = append(cohort, cohortMember{playerID: id, content: c, words: arena.WordCount(c), at: at, invalid: c == ""})
	}
	if self != nil {
		cohort = append(cohort, *self)
	}
	for _, a := range arts {
		cohort = append(cohort, cohortMember{playerID: a.PlayerID, content: a.Content, words: a.WordCount, at: a.CreatedAt, synthetic: true})
	}
	sort.SliceStable(cohort, func(i, j int) bool {
		if !cohort[i].at.Equal(cohort[j].at) {
			return cohort[i].at.Before(cohort[j].at)
		}
		return cohort[i].playerID < cohort[j].playerID
	})
	return cohort
}

// FinalizePhase makes sure rankings[phase] covers the whole cohort before the phase
// closes. Submissions graded concurrently each saw only part of the cohort, and an
// empty or expired last entry never reaches the grader, so the stored rankings can be
// missing players. It reports false while real players are still outstanding.
// Grading failures fall back to the mock scorer; only store failures are returned.
func (o *RankingOrchestrator) FinalizePhase(ctx context.Context, sessionID string, phase arena.Phase) (bool, error) {
	s, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if s == nil {
		return false, ErrSessionNotFound
	}
	if s.State == arena.SessionCompleted || s.Phase != phase || s.AllPlayersReady {
		// Closed already; the transition routine reports it.
		return true, nil
	}
	if !s.AllRealSubmitted(phase) {
		return false, nil
	}
	m, err := o.matches.GetMatch(ctx, s.MatchID)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, ErrMatchNotFound
	}
	l := log.With().Str("matchId", m.ID).Str("sessionId", s.ID).Int("phase", int(phase)).Logger()

	artifacts := o.waitForArtifacts(ctx, m, phase, l)
	cohort := o.assembleCohort(s, phase, artifacts, nil)
	for i := range cohort {
		if cohort[i].invalid {
			cohort[i].note = m.Feedback[cohort[i].playerID][phase].Summary
		}
	}

	stored, err := o.matches.Rankings(ctx, m.ID, phase)
	if err != nil {
		return false, err
	}
	if coversMembers(stored, cohort) {
		return true, nil
	}

	results, fallback := o.grade(ctx, m, phase, cohort, l)
	rankings, feedback := normalize(cohort, results, fallback)
	if err := o.matches.SaveRankings(ctx, m.ID, phase, rankings, feedback); err != nil {
		return false, fmt.Errorf("persist final rankings: %w", err)
	}
	l.Info().Int("cohort", len(cohort)).Int("previous", len(stored)).Bool("fallback", fallback).
		Msg("Final rankings persisted")

	o.broadcaster.BroadcastSessionEvent(s.ID, EventRankingsReady, map[string]any{
		"phase":    int(phase),
		"fallback": fallback,
		"final":    true,
	})
	if !fallback {
		for _, c := range cohort {
			if !c.synthetic && !c.invalid {
				o.recordGaps(ctx, m, phase, c.playerID, feedback[c.playerID], l)
			}
		}
	}
	return true, nil
}

// coversMembers reports whether stored has exactly one ranking per cohort member.
func coversMembers(stored []model.Ranking, cohort []cohortMember) bool {
	if len(stored) != len(cohort) {
		return false
	}
	want := make(map[string]bool, len(cohort))
	for _, c := range cohort {
		want[c.playerID] = true
	}
	for _, r := range stored {
		if !want[r.PlayerID] {
			return false
		}
		delete(want, r.PlayerID)
	}
	return len(want) == 0
}

// recordGaps forwards a graded player's weakness signals. The submission id is stable
// per player and phase, so repeated gradings never double-count.
func (o *RankingOrchestrator) recordGaps(ctx context.Context, m *model.Match, phase arena.Phase, playerID string, fb model.Feedback, l zerolog.Logger) {
	if o.gaps == nil || len(fb.Gaps) == 0 {
		return
	}
	source := "practice-match"
	if m.Ranked {
		source = "ranked-match"
	}
	submissionID := fmt.Sprintf("%s:%s:%s", m.ID, phase.Key(), playerID)
	if err := o.gaps.RecordGapSignals(ctx, playerID, fb.Gaps, source, submissionID); err != nil {
		l.Error().Err(err).Str("playerId", playerID).Msg("Failed to record skill gap signals")
	}
}

// grade calls the grading service with retry and backoff. It returns the graded
// entries, or nil and fallback=true when the service is unusable.
func (o *RankingOrchestrator) grade(ctx context.Context, m *model.Match, phase arena.Phase, cohort []cohortMember, l zerolog.Logger) ([]llm.GradedEntry, bool) {
	req := llm.GradeRequest{MatchID: m.ID, Prompt: m.Prompt, Phase: phase}
	want := make(map[string]bool)
	for _, c := range cohort {
		if c.invalid {
			continue
		}
		req.Cohort = append(req.Cohort, llm.CohortEntry{PlayerID: c.playerID, Content: c.content, WordCount: c.words})
		want[c.playerID] = true
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.InitialBackoff
	b.MaxInterval = o.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0

	var results []llm.GradedEntry
	attempt := 0
	op := func() error {
		attempt++
		out, err := o.grader.GradeCohort(ctx, req)
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		if err := coversCohort(out, want); err != nil {
			return err
		}
		results = out
		return nil
	}
	notify := func(err error, wait time.Duration) {
		l.Warn().Err(err).Int("attempt", attempt).Dur("retryIn", wait).Msg("Grading failed, retrying")
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.cfg.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		l.Warn().Err(err).Int("attempts", attempt).Msg("Grading unavailable, using fallback scores")
		return nil, true
	}
	return results, false
}

func coversCohort(out []llm.GradedEntry, want map[string]bool) error {
	seen := make(map[string]bool, len(out))
	for _, e := range out {
		if want[e.PlayerID] {
			seen[e.PlayerID] = true
		}
	}
	if len(seen) != len(want) {
		return fmt.Errorf("%w: graded %d of %d submissions", llm.ErrMalformedResponse, len(seen), len(want))
	}
	return nil
}

// normalize turns service output (or the fallback scorer) into exactly one clamped
// ranking per cohort member with ranks recomputed from scores.
func normalize(cohort []cohortMember, results []llm.GradedEntry, fallback bool) ([]model.Ranking, map[string]model.Feedback) {
	graded := make(map[string]llm.GradedEntry, len(results))
	for _, e := range results {
		if _, dup := graded[e.PlayerID]; !dup {
			graded[e.PlayerID] = e
		}
	}

	feedback := make(map[string]model.Feedback, len(cohort))
	scored := make([]arena.Scored, 0, len(cohort))
	for i, c := range cohort {
		fb := model.Feedback{Strengths: []string{}, Improvements: []string{}}
		switch {
		case c.invalid:
			fb.Summary = invalidFeedback
			if c.note != "" {
				fb.Summary = c.note
			}
		case fallback:
			fb.Score = arena.FallbackScore(c.words)
			fb.Summary = arena.FallbackFeedback
			fb.Fallback = true
		default:
			e := graded[c.playerID]
			fb.Score = arena.ClampScore(e.Score)
			fb.Summary = e.Summary
			fb.Gaps = e.Gaps
			if e.Strengths != nil {
				fb.Strengths = e.Strengths
			}
			if e.Improvements != nil {
				fb.Improvements = e.Improvements
			}
		}
		feedback[c.playerID] = fb
		scored = append(scored, arena.Scored{PlayerID: c.playerID, Score: fb.Score, Order: i})
	}

	ranks := arena.AssignRanks(scored)
	rankings := make([]model.Ranking, 0, len(cohort))
	for _, c := range cohort {
		fb := feedback[c.playerID]
		rankings = append(rankings, model.Ranking{
			PlayerID:     c.playerID,
			Score:        fb.Score,
			Rank:         ranks[c.playerID],
			Strengths:    fb.Strengths,
			Improvements: fb.Improvements,
			Fallback:     fb.Fallback,
		})
	}
	sort.SliceStable(rankings, func(i, j int) bool { return rankings[i].Rank < rankings[j].Rank })
	return rankings, feedback
}
