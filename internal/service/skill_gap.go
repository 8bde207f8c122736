package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

// SkillGapService tracks recurring weaknesses per criterion and gates ranked play.
type SkillGapService struct {
	repo    repository.SkillGapRepository
	mastery repository.MasteryReader
	policy  arena.Policy
	now     func() time.Time
}

// NewSkillGapService creates a SkillGapService using the given rule table.
func NewSkillGapService(repo repository.SkillGapRepository, mastery repository.MasteryReader, policy arena.Policy) *SkillGapService {
	return &SkillGapService{repo: repo, mastery: mastery, policy: policy, now: time.Now}
}

// RecordGapSignals appends one occurrence per signal to the user's rolling history.
// Signals already recorded for the same submission are ignored.
func (s *SkillGapService) RecordGapSignals(ctx context.Context, userID string, gaps []arena.GapSignal, source, submissionID string) error {
	if len(gaps) == 0 {
		return nil
	}
	byCriterion := make(map[string][]arena.GapSignal)
	var criteria []string
	for _, g := range gaps {
		if g.Criterion == "" {
			continue
		}
		if _, err := arena.ParseSeverity(string(g.Severity)); err != nil {
			log.Warn().Str("userId", userID).Str("criterion", g.Criterion).Str("severity", string(g.Severity)).
				Msg("Dropping gap signal with unknown severity")
			continue
		}
		if _, ok := byCriterion[g.Criterion]; !ok {
			criteria = append(criteria, g.Criterion)
		}
		byCriterion[g.Criterion] = append(byCriterion[g.Criterion], g)
	}
	if len(criteria) == 0 {
		return nil
	}

	now := s.now().UTC()
	err := s.repo.UpdateGaps(ctx, userID, criteria, func(hs map[string]*arena.CriterionHistory) error {
		for _, c := range criteria {
			h, ok := hs[c]
			if !ok {
				h = &arena.CriterionHistory{Criterion: c}
				hs[c] = h
			}
			if submissionID != "" && hasSubmission(h, submissionID) {
				continue
			}
			for _, g := range byCriterion[c] {
				s.policy.Record(h, arena.Occurrence{
					At:           now,
					Source:       source,
					Severity:     g.Severity,
					Score:        g.Score,
					SubmissionID: submissionID,
				})
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record gap signals: %w", err)
	}
	return nil
}

func hasSubmission(h *arena.CriterionHistory, submissionID string) bool {
	for _, o := range h.Occurrences {
		if o.SubmissionID == submissionID {
			return true
		}
	}
	return false
}

// ListGaps returns the user's tracked criteria, or an empty slice.
func (s *SkillGapService) ListGaps(ctx context.Context, userID string) ([]arena.CriterionHistory, error) {
	hs, err := s.repo.ListGaps(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list gaps: %w", err)
	}
	if hs == nil {
		hs = []arena.CriterionHistory{}
	}
	return hs, nil
}

// CheckBlocked reports whether the user may enter ranked play.
func (s *SkillGapService) CheckBlocked(ctx context.Context, userID string) (arena.BlockResult, error) {
	hs, err := s.repo.ListGaps(ctx, userID)
	if err != nil {
		return arena.BlockResult{}, fmt.Errorf("check blocked: %w", err)
	}
	return s.policy.Evaluate(hs, s.now().UTC()), nil
}

// RefreshMastery resolves every active criterion whose remediation lessons are all
// mastered and returns the criteria it resolved.
func (s *SkillGapService) RefreshMastery(ctx context.Context, userID string) ([]string, error) {
	mastered, err := s.mastery.MasteredLessons(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read mastery: %w", err)
	}
	now := s.now().UTC()
	var resolved []string
	err = s.repo.UpdateGaps(ctx, userID, nil, func(hs map[string]*arena.CriterionHistory) error {
		for c, h := range hs {
			if s.policy.Resolve(h, mastered, now) {
				resolved = append(resolved, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("refresh mastery: %w", err)
	}
	if len(resolved) > 0 {
		log.Info().Str("userId", userID).Strs("criteria", resolved).Msg("Skill gaps resolved")
	}
	return resolved, nil
}
