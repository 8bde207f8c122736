package llm

import (
	"encoding/json"
	"fmt"

	"github.com/freeeve/writing-arena/pkg/arena"
)

const gradingSystemPrompt = `You grade a cohort of student writing submissions against each other.
Score every submission from 0 to 100 relative to the cohort, rank them 1..N with no ties,
and return every playerId exactly once.`

const generationSystemPrompt = `You write as a student in a timed writing exercise. Output only the student's text.`

func gradingPrompt(req GradeRequest) (string, error) {
	cohort, err := json.Marshal(req.Cohort)
	if err != nil {
		return "", fmt.Errorf("marshal cohort: %w", err)
	}
	return fmt.Sprintf("Phase: %s\nPrompt: %s\nSubmissions:\n%s", req.Phase, req.Prompt, cohort), nil
}

func generationPrompt(req GenerateRequest) string {
	task := "Write a first draft responding to the prompt."
	switch req.Phase {
	case arena.PhaseFeedback:
		task = "Write peer feedback on a classmate's draft for the prompt: two things that work and two to improve."
	case arena.PhaseRevision:
		task = "Revise your draft using the feedback you received."
	}
	p := fmt.Sprintf("%s\nPrompt: %s\nLength: about %d words.\nQuality: %s.",
		task, req.Prompt, req.Tier.TargetWords, req.Tier.ErrorDensity)
	if req.Prior != "" {
		p += "\nYour earlier draft:\n" + req.Prior
	}
	return p
}

func gradingSchema() map[string]any {
	str := map[string]any{"type": "string"}
	strList := map[string]any{"type": "array", "items": str}
	gap := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"criterion": str,
			"severity":  map[string]any{"type": "string", "enum": []string{string(arena.SeverityLow), string(arena.SeverityMedium), string(arena.SeverityHigh)}},
			"score":     map[string]any{"type": "number"},
		},
		"required": []string{"criterion", "severity"},
	}
	entry := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"playerId":     str,
			"score":        map[string]any{"type": "number", "minimum": arena.MinScore, "maximum": arena.MaxScore},
			"rank":         map[string]any{"type": "integer", "minimum": 1},
			"strengths":    strList,
			"improvements": strList,
			"summary":      str,
			"gaps":         map[string]any{"type": "array", "items": gap},
		},
		"required": []string{"playerId", "score", "rank", "strengths", "improvements"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"results": map[string]any{"type": "array", "items": entry},
		},
		"required": []string{"results"},
	}
}
