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

// TransitionConfig holds the polling policy and phase durations for transitions.
type TransitionConfig struct {
	PollInterval   time.Duration
	MaxAttempts    int
	PhaseDurations [arena.PhaseCount]time.Duration
}

// PhaseFinalizer persists a phase's complete cohort rankings. It reports false
// while the phase still has outstanding real players.
type PhaseFinalizer interface {
	FinalizePhase(ctx context.Context, sessionID string, phase arena.Phase) (bool, error)
}

// TransitionTrigger runs the guarded phase transition. Any number of callers may
// attempt the same transition; the store's atomic check-and-write makes exactly one
// of them perform it.
type TransitionTrigger struct {
	sessions    repository.SessionStore
	broadcaster Broadcaster
	cfg         TransitionConfig
	now         func() time.Time

	// onAdvance runs after this caller performed a non-terminal transition.
	onAdvance func(sessionID string, phase arena.Phase)
	finalizer PhaseFinalizer
}

// NewTransitionTrigger creates a TransitionTrigger.
func NewTransitionTrigger(sessions repository.SessionStore, broadcaster Broadcaster, cfg TransitionConfig) *TransitionTrigger {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	return &TransitionTrigger{sessions: sessions, broadcaster: broadcaster, cfg: cfg, now: time.Now}
}

// SetAdvanceHook registers a callback invoked when this trigger advances a session to
// a new phase. Used to start synthetic backfill for that phase.
func (t *TransitionTrigger) SetAdvanceHook(fn func(sessionID string, phase arena.Phase)) {
	t.onAdvance = fn
}

// SetFinalizer registers the step that completes rankings[phase] before each
// transition, so the next phase never starts on a partial cohort.
func (t *TransitionTrigger) SetFinalizer(f PhaseFinalizer) {
	t.finalizer = f
}

func (t *TransitionTrigger) durationFor(p arena.Phase) time.Duration {
	if !p.Valid() {
		return 0
	}
	return t.cfg.PhaseDurations[p-1]
}

// AttemptTransition tries to leave phase from once immediately, then polls until it
// succeeds, the session has moved past from, or the attempt budget runs out.
// It returns true only if this call performed the transition.
func (t *TransitionTrigger) AttemptTransition(ctx context.Context, sessionID string, from arena.Phase) (bool, error) {
	l := log.With().Str("sessionId", sessionID).Int("fromPhase", int(from)).Logger()

	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(t.cfg.PollInterval):
			}
			// Stop once another caller has moved the session on.
			s, err := t.sessions.GetSession(ctx, sessionID)
			if err != nil {
				lastErr = err
				l.Warn().Err(err).Int("attempt", attempt).Msg("Session read failed while polling transition")
				continue
			}
			if s == nil {
				return false, ErrSessionNotFound
			}
			if s.Phase != from || s.State == arena.SessionCompleted {
				l.Debug().Int("phase", int(s.Phase)).Msg("Session already advanced, stopping")
				return false, nil
			}
		}

		done, performed, err := t.tryOnce(ctx, sessionID, from)
		if done {
			return performed, err
		}
		if err != nil {
			lastErr = err
			l.Warn().Err(err).Int("attempt", attempt).Msg("Transition attempt failed")
		}
	}

	if lastErr != nil {
		return false, fmt.Errorf("transition %s from phase %d: %w", sessionID, from, lastErr)
	}
	return false, ErrTransitionStalled
}

// tryOnce runs one guarded transition. done reports that polling should stop.
func (t *TransitionTrigger) tryOnce(ctx context.Context, sessionID string, from arena.Phase) (done, performed bool, err error) {
	if t.finalizer != nil {
		ready, err := t.finalizer.FinalizePhase(ctx, sessionID, from)
		if errors.Is(err, ErrSessionNotFound) {
			return true, false, err
		}
		if err != nil || !ready {
			return false, false, err
		}
	}

	next, terminal := arena.Next(from)
	res, err := t.sessions.Transition(ctx, sessionID, from, t.durationFor(next), t.now())
	if err != nil {
		return false, false, err
	}

	switch res.Outcome {
	case model.TransitionNotFound:
		return true, false, ErrSessionNotFound
	case model.TransitionAlreadyDone:
		log.Debug().Str("sessionId", sessionID).Int("fromPhase", int(from)).Msg("Phase already transitioned")
		return true, false, nil
	case model.TransitionNotReady:
		return false, false, nil
	}

	if terminal {
		log.Info().Str("sessionId", sessionID).Msg("Match completed")
		t.broadcaster.BroadcastSessionEvent(sessionID, EventMatchCompleted, map[string]any{"final_phase": int(from)})
		return true, true, nil
	}

	log.Info().Str("sessionId", sessionID).Int("fromPhase", int(from)).Int("toPhase", int(res.Phase)).
		Msg("Phase transitioned")
	t.broadcaster.BroadcastSessionEvent(sessionID, EventPhaseChanged, map[string]any{
		"phase":          int(res.Phase),
		"phase_duration": int(t.durationFor(res.Phase) / time.Second),
	})
	if t.onAdvance != nil {
		t.onAdvance(sessionID, res.Phase)
	}
	return true, true, nil
}
