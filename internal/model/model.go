package model

import (
	"sort"
	"time"

	"github.com/freeeve/writing-arena/pkg/arena"
)

// Player is a participant descriptor fixed at match creation.
type Player struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	IsSynthetic bool   `json:"is_synthetic"`
	RankLevel   int    `json:"rank_level"`
	SkillTier   string `json:"skill_tier,omitempty"` // synthetic seats only
}

// Match is the low-churn record of a match: roster, prompt, rankings and feedback.
type Match struct {
	ID        string                              `json:"id"`
	SessionID string                              `json:"session_id"`
	Prompt    string                              `json:"prompt"`
	Ranked    bool                                `json:"ranked"`
	Players   []Player                            `json:"players"`
	CreatedAt time.Time                           `json:"created_at"`
	Rankings  map[arena.Phase][]Ranking           `json:"rankings,omitempty"`
	Feedback  map[string]map[arena.Phase]Feedback `json:"feedback,omitempty"`
	Artifacts map[arena.Phase][]SyntheticArtifact `json:"synthetic_artifacts,omitempty"`
}

// SyntheticPlayers returns the synthetic seats in roster order.
func (m *Match) SyntheticPlayers() []Player {
	var out []Player
	for _, p := range m.Players {
		if p.IsSynthetic {
			out = append(out, p)
		}
	}
	return out
}

// HumanPlayers returns the real seats in roster order.
func (m *Match) HumanPlayers() []Player {
	var out []Player
	for _, p := range m.Players {
		if !p.IsSynthetic {
			out = append(out, p)
		}
	}
	return out
}

// Player looks up a roster entry by id.
func (m *Match) Player(id string) (Player, bool) {
	for _, p := range m.Players {
		if p.PlayerID == id {
			return p, true
		}
	}
	return Player{}, false
}

// SyntheticArtifact is generated content for one synthetic seat in one phase.
type SyntheticArtifact struct {
	PlayerID  string    `json:"player_id"`
	Content   string    `json:"content"`
	WordCount int       `json:"word_count"`
	Canned    bool      `json:"canned,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ranking is one player's cohort-relative result for a phase.
type Ranking struct {
	PlayerID     string   `json:"player_id"`
	Score        float64  `json:"score"`
	Rank         int      `json:"rank"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Fallback     bool     `json:"fallback,omitempty"`
}

// Feedback is the per-player structured feedback persisted alongside rankings.
type Feedback struct {
	Score        float64           `json:"score"`
	Summary      string            `json:"summary"`
	Strengths    []string          `json:"strengths"`
	Improvements []string          `json:"improvements"`
	Gaps         []arena.GapSignal `json:"gaps,omitempty"`
	Fallback     bool              `json:"fallback,omitempty"`
}

// PhaseSubmission is a player's output for one phase as held in the session.
type PhaseSubmission struct {
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	Content     string     `json:"content"`
	WordCount   int        `json:"word_count"`
	Score       *float64   `json:"score,omitempty"` // provisional; match rankings are authoritative
}

// SubmissionPayload is what a caller hands to the submission recorder.
type SubmissionPayload struct {
	Content   string   `json:"content"`
	WordCount int      `json:"word_count"`
	Score     *float64 `json:"score,omitempty"`
	// IfAbsent leaves an existing submission untouched; used for deadline placeholders.
	IfAbsent  bool     `json:"-"`
}

// SessionPlayer is a player's entry in the session's player map.
type SessionPlayer struct {
	IsAI   bool                            `json:"is_ai"`
	Phases map[arena.Phase]PhaseSubmission `json:"phases"`
}

// Session is the high-churn coordination record of a live match.
type Session struct {
	ID              string                    `json:"id"`
	MatchID         string                    `json:"match_id"`
	Phase           arena.Phase               `json:"phase"`
	PhaseDuration   int                       `json:"phase_duration"` // seconds
	PhaseStart      map[arena.Phase]time.Time `json:"phase_start"`
	ReadyCount      int                       `json:"ready_count"`
	AllPlayersReady bool                      `json:"all_players_ready"`
	CompletedPhase  int                       `json:"completed_phase"`
	State           arena.SessionState        `json:"state"`
	UpdatedAt       time.Time                 `json:"updated_at"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
	Players         map[string]*SessionPlayer `json:"players"`
}

// RealPlayerIDs returns the ids of non-synthetic players, sorted.
func (s *Session) RealPlayerIDs() []string {
	var ids []string
	for id, p := range s.Players {
		if !p.IsAI {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Submission returns the player's entry for phase, if any.
func (s *Session) Submission(playerID string, phase arena.Phase) (PhaseSubmission, bool) {
	p, ok := s.Players[playerID]
	if !ok {
		return PhaseSubmission{}, false
	}
	sub, ok := p.Phases[phase]
	return sub, ok
}

// RealSubmittedCount counts real players flagged submitted for phase.
func (s *Session) RealSubmittedCount(phase arena.Phase) (submitted, total int) {
	for _, p := range s.Players {
		if p.IsAI {
			continue
		}
		total++
		if sub, ok := p.Phases[phase]; ok && sub.Submitted {
			submitted++
		}
	}
	return submitted, total
}

// AllRealSubmitted reports whether every real player has submitted for phase.
func (s *Session) AllRealSubmitted(phase arena.Phase) bool {
	submitted, total := s.RealSubmittedCount(phase)
	return total > 0 && submitted == total
}

// Deadline is when the current phase's time runs out, or zero if unknown.
func (s *Session) Deadline() time.Time {
	start, ok := s.PhaseStart[s.Phase]
	if !ok {
		return time.Time{}
	}
	return start.Add(time.Duration(s.PhaseDuration) * time.Second)
}

// TransitionOutcome is the typed result of one guarded transition attempt.
type TransitionOutcome int

const (
	TransitionNotFound TransitionOutcome = iota - 1
	TransitionAlreadyDone
	TransitionPerformed
	TransitionNotReady
)

func (o TransitionOutcome) String() string {
	switch o {
	case TransitionNotFound:
		return "not_found"
	case TransitionAlreadyDone:
		return "already_transitioned"
	case TransitionPerformed:
		return "transitioned"
	case TransitionNotReady:
		return "not_ready"
	}
	return "unknown"
}

// TransitionResult describes the session after a transition attempt.
type TransitionResult struct {
	Outcome   TransitionOutcome `json:"outcome"`
	Phase     arena.Phase       `json:"phase"`
	Completed bool              `json:"completed"`
}
