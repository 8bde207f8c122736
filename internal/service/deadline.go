package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

// Submitter records a real player's submission for a phase.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
}

// DeadlineSweeper fills in placeholder submissions for real players who let a phase
// run out. It never transitions; the phase monitor does that once everyone has an entry.
type DeadlineSweeper struct {
	sessions  repository.SessionStore
	submitter Submitter
	grace     time.Duration
	now       func() time.Time
}

// NewDeadlineSweeper creates a DeadlineSweeper.
func NewDeadlineSweeper(sessions repository.SessionStore, submitter Submitter, grace time.Duration) *DeadlineSweeper {
	return &DeadlineSweeper{sessions: sessions, submitter: submitter, grace: grace, now: time.Now}
}

// Sweep checks every active session once and returns how many placeholders it wrote.
func (d *DeadlineSweeper) Sweep(ctx context.Context) int {
	ids, err := d.sessions.ActiveSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Deadline sweep: failed to list active sessions")
		return 0
	}
	now := d.now()
	written := 0
	for _, id := range ids {
		s, err := d.sessions.GetSession(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("sessionId", id).Msg("Deadline sweep: failed to read session")
			continue
		}
		if s == nil || s.State == arena.SessionCompleted {
			continue
		}
		deadline := s.Deadline()
		if deadline.IsZero() || now.Before(deadline.Add(d.grace)) {
			continue
		}
		for _, playerID := range s.RealPlayerIDs() {
			if sub, ok := s.Submission(playerID, s.Phase); ok && sub.Submitted {
				continue
			}
			_, err := d.submitter.Submit(ctx, SubmitRequest{
				SessionID: id,
				PlayerID:  playerID,
				Phase:     s.Phase,
				Expired:   true,
			})
			if err != nil {
				log.Error().Err(err).Str("sessionId", id).Str("playerId", playerID).Msg("Deadline sweep: placeholder failed")
				continue
			}
			written++
			log.Info().Str("sessionId", id).Str("playerId", playerID).Int("phase", int(s.Phase)).
				Time("deadline", deadline).Msg("Phase deadline passed, placeholder submitted")
		}
	}
	return written
}
