package arena

import (
	"fmt"
	"sort"
	"time"
)

// Severity grades how serious a weakness in one criterion was.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) level() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if sev.level() == 0 {
		return "", fmt.Errorf("invalid severity %q", s)
	}
	return sev, nil
}

// GapStatus is whether a criterion still counts toward blocking.
type GapStatus string

const (
	GapActive   GapStatus = "active"
	GapResolved GapStatus = "resolved"
)

// GapSignal is one weakness reported by the grading step for a submission.
type GapSignal struct {
	Criterion string   `json:"criterion"`
	Severity  Severity `json:"severity"`
	Score     float64  `json:"score"`
}

// Occurrence is one entry in a criterion's rolling history.
type Occurrence struct {
	At           time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	Severity     Severity  `json:"severity"`
	Score        float64   `json:"score"`
	SubmissionID string    `json:"submission_id,omitempty"`
}

// CriterionHistory is the tracked state of a single criterion for one user.
type CriterionHistory struct {
	Criterion   string       `json:"criterion"`
	Status      GapStatus    `json:"status"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
	Occurrences []Occurrence `json:"occurrences"`
}

// Rule is the time window and repeat threshold for one severity.
type Rule struct {
	Window    time.Duration
	Threshold int
}

// Policy decides blocking from criterion histories. It holds no state of its own.
type Policy struct {
	Rules        map[Severity]Rule
	HistoryLimit int
	// Remediation maps a criterion to the lessons that must be mastered to resolve it.
	Remediation map[string][]string
}

// BlockResult answers whether a user may enter ranked play.
type BlockResult struct {
	Blocked             bool     `json:"blocked"`
	BlockingCriteria    []string `json:"blocking_criteria"`
	RequiredRemediation []string `json:"required_remediation"`
}

const day = 24 * time.Hour

// DefaultPolicy returns the standard rule table: escalating severity needs fewer repeats
// inside a shorter window.
func DefaultPolicy() Policy {
	return Policy{
		Rules: map[Severity]Rule{
			SeverityHigh:   {Window: 7 * day, Threshold: 3},
			SeverityMedium: {Window: 14 * day, Threshold: 4},
			SeverityLow:    {Window: 30 * day, Threshold: 5},
		},
		HistoryLimit: 20,
		Remediation: map[string][]string{
			"thesis":       {"lesson-thesis-basics", "lesson-thesis-arguable-claims"},
			"evidence":     {"lesson-evidence-selection", "lesson-evidence-integration"},
			"organization": {"lesson-paragraph-structure", "lesson-transitions"},
			"grammar":      {"lesson-sentence-boundaries", "lesson-agreement"},
			"style":        {"lesson-word-choice", "lesson-sentence-variety"},
			"conventions":  {"lesson-punctuation", "lesson-capitalization"},
		},
	}
}

// Record appends an occurrence to h, trimming the history to HistoryLimit entries.
// A resolved criterion is reactivated by any occurrence after its resolution.
func (p Policy) Record(h *CriterionHistory, occ Occurrence) {
	h.Occurrences = append(h.Occurrences, occ)
	sort.SliceStable(h.Occurrences, func(i, j int) bool {
		return h.Occurrences[i].At.Before(h.Occurrences[j].At)
	})
	if p.HistoryLimit > 0 && len(h.Occurrences) > p.HistoryLimit {
		h.Occurrences = h.Occurrences[len(h.Occurrences)-p.HistoryLimit:]
	}
	if h.Status == "" {
		h.Status = GapActive
	}
	if h.Status == GapResolved && (h.ResolvedAt == nil || occ.At.After(*h.ResolvedAt)) {
		h.Status = GapActive
	}
}

// Triggered reports the most severe level at which h meets its threshold at time now.
// Occurrences of a severity count toward every level at or below it. Occurrences from
// before a resolution never count again.
func (p Policy) Triggered(h CriterionHistory, now time.Time) (Severity, bool) {
	if h.Status == GapResolved {
		return "", false
	}
	for _, sev := range []Severity{SeverityHigh, SeverityMedium, SeverityLow} {
		rule, ok := p.Rules[sev]
		if !ok || rule.Threshold <= 0 {
			continue
		}
		from := now.Add(-rule.Window)
		count := 0
		for _, o := range h.Occurrences {
			if o.Severity.level() < sev.level() {
				continue
			}
			if o.At.Before(from) || o.At.After(now) {
				continue
			}
			if h.ResolvedAt != nil && !o.At.After(*h.ResolvedAt) {
				continue
			}
			count++
		}
		if count >= rule.Threshold {
			return sev, true
		}
	}
	return "", false
}

// Evaluate computes the block result over all of a user's criteria.
func (p Policy) Evaluate(histories []CriterionHistory, now time.Time) BlockResult {
	res := BlockResult{BlockingCriteria: []string{}, RequiredRemediation: []string{}}
	seen := make(map[string]bool)
	for _, h := range histories {
		if _, ok := p.Triggered(h, now); !ok {
			continue
		}
		res.Blocked = true
		res.BlockingCriteria = append(res.BlockingCriteria, h.Criterion)
		for _, lesson := range p.Remediation[h.Criterion] {
			if !seen[lesson] {
				seen[lesson] = true
				res.RequiredRemediation = append(res.RequiredRemediation, lesson)
			}
		}
	}
	sort.Strings(res.BlockingCriteria)
	sort.Strings(res.RequiredRemediation)
	return res
}

// Resolvable reports whether every remediation lesson for criterion is mastered.
// A criterion with no remediation lessons cannot be resolved through mastery.
func (p Policy) Resolvable(criterion string, mastered map[string]bool) bool {
	lessons := p.Remediation[criterion]
	if len(lessons) == 0 {
		return false
	}
	for _, l := range lessons {
		if !mastered[l] {
			return false
		}
	}
	return true
}

// Resolve marks h resolved at time now when its remediation is fully mastered.
// It returns true when the status changed.
func (p Policy) Resolve(h *CriterionHistory, mastered map[string]bool, now time.Time) bool {
	if h.Status == GapResolved || !p.Resolvable(h.Criterion, mastered) {
		return false
	}
	h.Status = GapResolved
	t := now
	h.ResolvedAt = &t
	return true
}
