package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/freeeve/writing-arena/pkg/arena"
)

func TestParseGrading(t *testing.T) {
	payload := `{"results":[
		{"playerId":"a","score":81,"rank":1,"strengths":["voice"],"improvements":["pacing"],
		 "gaps":[{"criterion":"grammar","severity":"low","score":60}]},
		{"playerId":"b","score":64,"rank":2,"strengths":[],"improvements":["thesis"]}]}`

	got, err := parseGrading(payload)
	if err != nil {
		t.Fatalf("parseGrading: %v", err)
	}
	if len(got) != 2 || got[0].PlayerID != "a" || got[0].Score != 81 {
		t.Fatalf("unexpected results: %+v", got)
	}
	if len(got[0].Gaps) != 1 || got[0].Gaps[0].Severity != arena.SeverityLow {
		t.Errorf("gaps = %+v", got[0].Gaps)
	}
}

func TestParseGrading_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"empty", "  ", ErrEmptyResponse},
		{"not json", "the essays were great", ErrMalformedResponse},
		{"no results", `{"results":[]}`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseGrading(tt.payload); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGemini_MissingKey(t *testing.T) {
	c := NewGeminiClient(GeminiConfig{})
	if _, err := c.GradeCohort(context.Background(), GradeRequest{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("GradeCohort err = %v", err)
	}
	if _, err := c.Generate(context.Background(), GenerateRequest{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Generate err = %v", err)
	}
}

func TestGenerationPrompt_UsesTierAndPhase(t *testing.T) {
	tier := arena.LookupSkillTier("novice")
	p := generationPrompt(GenerateRequest{Prompt: "A day at the sea", Phase: arena.PhaseRevision, Tier: tier, Prior: "old draft"})
	for _, want := range []string{"Revise", "A day at the sea", "about 90 words", "old draft"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestGradingPrompt_IncludesCohort(t *testing.T) {
	p, err := gradingPrompt(GradeRequest{
		Prompt: "Argue for or against homework",
		Phase:  arena.PhaseDraft,
		Cohort: []CohortEntry{{PlayerID: "p1", Content: "Homework builds habits."}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p, `"playerId":"p1"`) || !strings.Contains(p, "draft") {
		t.Errorf("prompt = %s", p)
	}
}
