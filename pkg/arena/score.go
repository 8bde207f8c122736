package arena

import (
	"math"
	"sort"
	"strings"
	"time"
)

const (
	MinScore = 0.0
	MaxScore = 100.0

	// FallbackJitter bounds the pseudo-random offset applied by FallbackScore.
	FallbackJitter = 5.0

	// FallbackFeedback marks a score that did not come from the grading service.
	FallbackFeedback = "[fallback] automated scoring unavailable"

	fallbackBase     = 40.0
	fallbackSpan     = 40.0
	fallbackFullWord = 300
)

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ClampScore bounds s to [MinScore, MaxScore]. NaN maps to MinScore.
func ClampScore(s float64) float64 {
	if math.IsNaN(s) || s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// FallbackBase is the jitter-free part of the fallback score for a given word count.
func FallbackBase(words int) float64 {
	if words < 0 {
		words = 0
	}
	if words > fallbackFullWord {
		words = fallbackFullWord
	}
	return fallbackBase + fallbackSpan*float64(words)/fallbackFullWord
}

// FallbackScore is the deterministic-bounded mock scorer used when grading is unavailable.
// Two calls with the same word count differ by at most 2*FallbackJitter.
func FallbackScore(words int) float64 {
	jitter := (randFloat64()*2 - 1) * FallbackJitter
	s := ClampScore(FallbackBase(words) + jitter)
	return math.Round(s*10) / 10
}

// Jitter returns a uniformly random duration in [min, max].
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(randInt64N(int64(max-min)+1))
}

// Scored is one cohort member's score prior to rank assignment. Order is the
// member's position in submission order and breaks score ties.
type Scored struct {
	PlayerID string
	Score    float64
	Order    int
}

// AssignRanks orders entries by descending score with ties broken by submission order
// and returns the 1-based rank for each player. Ranks are always a permutation of 1..N.
func AssignRanks(entries []Scored) map[string]int {
	sorted := make([]Scored, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Order < sorted[j].Order
	})
	ranks := make(map[string]int, len(sorted))
	for i, e := range sorted {
		ranks[e.PlayerID] = i + 1
	}
	return ranks
}
