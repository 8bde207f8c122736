package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/repository"
)

// SessionListener feeds session changes to the phase monitor. It subscribes to change
// notifications and also polls active sessions, so a missed notification only delays
// an observation by one poll interval.
type SessionListener struct {
	watcher     repository.SessionWatcher
	sessions    repository.SessionStore
	monitor     *PhaseMonitor
	broadcaster Broadcaster
	interval    time.Duration
}

// NewSessionListener creates a SessionListener.
func NewSessionListener(watcher repository.SessionWatcher, sessions repository.SessionStore, monitor *PhaseMonitor, broadcaster Broadcaster, interval time.Duration) *SessionListener {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &SessionListener{watcher: watcher, sessions: sessions, monitor: monitor, broadcaster: broadcaster, interval: interval}
}

// Start listens for notifications in the background and polls until ctx is done.
func (l *SessionListener) Start(ctx context.Context) {
	go l.listen(ctx)
	l.poll(ctx)
}

func (l *SessionListener) listen(ctx context.Context) {
	ch, err := l.watcher.WatchSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Session change subscription failed, relying on polling")
		return
	}
	log.Info().Msg("Session listener started")
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-ch:
			if !ok {
				return
			}
			l.broadcaster.BroadcastSessionEvent(id, EventSessionChanged, nil)
			l.observe(ctx, id)
		}
	}
}

func (l *SessionListener) poll(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", l.interval).Msg("Session poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session poller stopped")
			return
		case <-ticker.C:
			l.checkActive(ctx)
		}
	}
}

func (l *SessionListener) checkActive(ctx context.Context) {
	ids, err := l.sessions.ActiveSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active sessions")
		return
	}
	for _, id := range ids {
		l.observe(ctx, id)
	}
}

func (l *SessionListener) observe(ctx context.Context, sessionID string) {
	obs, err := l.monitor.ObserveSession(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("Session observation failed")
		return
	}
	if obs == ObservedTriggered {
		log.Info().Str("sessionId", sessionID).Msg("All players submitted, transition triggered")
	}
}
