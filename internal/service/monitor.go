package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

// Transitioner attempts a guarded phase transition.
type Transitioner interface {
	AttemptTransition(ctx context.Context, sessionID string, from arena.Phase) (bool, error)
}

// Observation is what the monitor concluded from one look at a session.
type Observation int

const (
	ObservedCompleted Observation = iota // session is finished; nothing more to watch
	ObservedWaiting                      // real players still have to submit
	ObservedAdvanced                     // guard already consumed for this phase
	ObservedInFlight                     // this monitor already has an attempt running
	ObservedTriggered                    // a transition attempt was started
)

func (o Observation) String() string {
	switch o {
	case ObservedCompleted:
		return "completed"
	case ObservedWaiting:
		return "waiting"
	case ObservedAdvanced:
		return "advanced"
	case ObservedInFlight:
		return "in_flight"
	case ObservedTriggered:
		return "triggered"
	}
	return "unknown"
}

// PhaseMonitor watches sessions and starts a transition when every real player has
// submitted. Many monitors may run at once; correctness rests on the transition
// routine, the in-flight guard only avoids redundant work inside this process.
type PhaseMonitor struct {
	sessions repository.SessionStore
	trigger  Transitioner
	timeout  time.Duration

	inflight sync.Map // "sessionID:phase" -> struct{}
	wg       sync.WaitGroup
}

// NewPhaseMonitor creates a PhaseMonitor. timeout bounds each background attempt.
func NewPhaseMonitor(sessions repository.SessionStore, trigger Transitioner, timeout time.Duration) *PhaseMonitor {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &PhaseMonitor{sessions: sessions, trigger: trigger, timeout: timeout}
}

// ObserveSession loads the session and observes it.
func (m *PhaseMonitor) ObserveSession(ctx context.Context, sessionID string) (Observation, error) {
	s, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return ObservedWaiting, err
	}
	if s == nil {
		return ObservedCompleted, ErrSessionNotFound
	}
	return m.Observe(ctx, s), nil
}

// ObservePhase is ObserveSession for a caller that believes the session is in phase.
// A session already past phase reports ObservedAdvanced without any attempt.
func (m *PhaseMonitor) ObservePhase(ctx context.Context, sessionID string, phase arena.Phase) (Observation, error) {
	s, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return ObservedWaiting, err
	}
	if s == nil {
		return ObservedCompleted, ErrSessionNotFound
	}
	switch {
	case s.State == arena.SessionCompleted:
		return ObservedCompleted, nil
	case s.Phase > phase:
		return ObservedAdvanced, nil
	case s.Phase < phase:
		return ObservedWaiting, nil
	}
	return m.Observe(ctx, s), nil
}

// Observe inspects a snapshot of the session for its current phase.
func (m *PhaseMonitor) Observe(ctx context.Context, s *model.Session) Observation {
	if s.State == arena.SessionCompleted {
		return ObservedCompleted
	}
	phase := s.Phase
	if !s.AllRealSubmitted(phase) {
		return ObservedWaiting
	}
	if s.AllPlayersReady {
		return ObservedAdvanced
	}

	key := fmt.Sprintf("%s:%d", s.ID, phase)
	if _, busy := m.inflight.LoadOrStore(key, struct{}{}); busy {
		return ObservedInFlight
	}

	sessionID := s.ID
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.inflight.Delete(key)

		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		performed, err := m.trigger.AttemptTransition(attemptCtx, sessionID, phase)
		if err != nil {
			log.Error().Err(err).Str("sessionId", sessionID).Int("phase", int(phase)).Msg("Transition attempt failed")
			return
		}
		log.Debug().Str("sessionId", sessionID).Int("phase", int(phase)).Bool("performed", performed).
			Msg("Transition attempt finished")
	}()
	return ObservedTriggered
}

// Wait blocks until every background attempt started by Observe has returned.
func (m *PhaseMonitor) Wait() {
	m.wg.Wait()
}
