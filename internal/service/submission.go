package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

// SubmissionRecorder writes a player's phase output into the session. It does not
// retry; callers own retry.
type SubmissionRecorder struct {
	sessions    repository.SessionStore
	broadcaster Broadcaster
	now         func() time.Time
}

// NewSubmissionRecorder creates a SubmissionRecorder.
func NewSubmissionRecorder(sessions repository.SessionStore, broadcaster Broadcaster) *SubmissionRecorder {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &SubmissionRecorder{sessions: sessions, broadcaster: broadcaster, now: time.Now}
}

// Record stores the payload as the player's submission for phase. A repeated call
// with the same payload leaves the stored content unchanged. It reports whether the
// write happened, which is only false for IfAbsent payloads.
func (r *SubmissionRecorder) Record(ctx context.Context, sessionID, playerID string, phase arena.Phase, p model.SubmissionPayload) (bool, error) {
	if !phase.Valid() {
		return false, fmt.Errorf("record submission: invalid phase %d", phase)
	}
	if p.WordCount == 0 {
		p.WordCount = arena.WordCount(p.Content)
	}
	wrote, err := r.sessions.RecordSubmission(ctx, sessionID, playerID, phase, p, r.now())
	if errors.Is(err, repository.ErrNotFound) {
		return false, ErrSessionNotFound
	}
	if err != nil {
		return false, err
	}
	if wrote {
		log.Debug().Str("sessionId", sessionID).Str("playerId", playerID).Int("phase", int(phase)).
			Int("words", p.WordCount).Msg("Submission recorded")
		r.broadcaster.BroadcastSessionEvent(sessionID, EventPlayerSubmitted, map[string]any{
			"player_id": playerID,
			"phase":     int(phase),
		})
	}
	return wrote, nil
}
