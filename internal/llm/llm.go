// Package llm talks to the external grading/ranking and generation services.
package llm

import (
	"context"
	"errors"

	"github.com/freeeve/writing-arena/pkg/arena"
)

var (
	ErrMissingAPIKey     = errors.New("llm: missing API key")
	ErrEmptyResponse     = errors.New("llm: empty response")
	ErrMalformedResponse = errors.New("llm: malformed response")
)

// CohortEntry is one participant's submission as sent for grading.
type CohortEntry struct {
	PlayerID  string `json:"playerId"`
	Content   string `json:"content"`
	WordCount int    `json:"wordCount"`
}

// GradeRequest asks for a comparative grade of a whole cohort.
type GradeRequest struct {
	MatchID string
	Prompt  string
	Phase   arena.Phase
	Cohort  []CohortEntry
}

// GradedEntry is the service's verdict on one cohort member.
type GradedEntry struct {
	PlayerID     string            `json:"playerId"`
	Score        float64           `json:"score"`
	Rank         int               `json:"rank"`
	Strengths    []string          `json:"strengths"`
	Improvements []string          `json:"improvements"`
	Summary      string            `json:"summary"`
	Gaps         []arena.GapSignal `json:"gaps"`
}

// Grader ranks a cohort in one call.
type Grader interface {
	GradeCohort(ctx context.Context, req GradeRequest) ([]GradedEntry, error)
}

// GenerateRequest describes the artifact a synthetic participant should produce.
type GenerateRequest struct {
	Prompt string
	Phase  arena.Phase
	Tier   arena.SkillTier
	// Prior is the participant's previous-phase text, used for revision.
	Prior string
}

// Generator produces synthetic participant text.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
