package repository

import (
	"context"
	"time"

	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/pkg/arena"
)

// MatchStore holds Match Records: roster, prompt, synthetic artifacts, rankings and feedback.
type MatchStore interface {
	CreateMatch(ctx context.Context, m *model.Match) error
	GetMatch(ctx context.Context, matchID string) (*model.Match, error)
	// InsertArtifact adds an artifact unless one already exists for that player and phase.
	// It reports whether this call inserted it.
	InsertArtifact(ctx context.Context, matchID string, phase arena.Phase, a model.SyntheticArtifact) (bool, error)
	Artifacts(ctx context.Context, matchID string, phase arena.Phase) ([]model.SyntheticArtifact, error)
	// SaveRankings writes rankings[phase] and every player's feedback for phase in one operation.
	SaveRankings(ctx context.Context, matchID string, phase arena.Phase, rankings []model.Ranking, feedback map[string]model.Feedback) error
	// SaveFeedback writes one player's feedback for phase without touching rankings.
	SaveFeedback(ctx context.Context, matchID string, phase arena.Phase, playerID string, fb model.Feedback) error
	Rankings(ctx context.Context, matchID string, phase arena.Phase) ([]model.Ranking, error)
}

// SessionStore holds Session Records and performs the guarded phase transition.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	// RecordSubmission writes the player's phase entry, flips submitted and keeps the
	// first submission time. It reports whether anything was written.
	RecordSubmission(ctx context.Context, sessionID, playerID string, phase arena.Phase, p model.SubmissionPayload, at time.Time) (bool, error)
	// Transition atomically checks that from is current, not yet transitioned and fully
	// submitted by real players, and if so advances the session.
	Transition(ctx context.Context, sessionID string, from arena.Phase, nextDuration time.Duration, at time.Time) (model.TransitionResult, error)
	ActiveSessions(ctx context.Context) ([]string, error)
}

// SessionWatcher delivers session change notifications.
type SessionWatcher interface {
	// WatchSessions returns a channel of changed session ids, closed when ctx ends.
	WatchSessions(ctx context.Context) (<-chan string, error)
}

// SkillGapRepository persists per-user, per-criterion rolling history.
type SkillGapRepository interface {
	ListGaps(ctx context.Context, userID string) ([]arena.CriterionHistory, error)
	// UpdateGaps runs fn over the user's histories for the named criteria under a row
	// lock and persists whatever fn leaves in the map.
	UpdateGaps(ctx context.Context, userID string, criteria []string, fn func(map[string]*arena.CriterionHistory) error) error
}

// MasteryReader is the read side of the mastery-tracking collaborator.
type MasteryReader interface {
	MasteredLessons(ctx context.Context, userID string) (map[string]bool, error)
}
