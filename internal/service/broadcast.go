package service

import "time"

// Session event types pushed to connected clients.
const (
	EventPlayerSubmitted = "player_submitted"
	EventSessionChanged  = "session_changed"
	EventPhaseChanged    = "phase_changed"
	EventRankingsReady   = "rankings_ready"
	EventMatchCompleted  = "match_completed"
)

// Broadcaster sends real-time events to connected clients.
// Implemented by the WebSocket hub.
type Broadcaster interface {
	BroadcastSessionEvent(sessionID string, eventType string, data any)
}

// NoopBroadcaster is a no-op implementation for testing or when WS is disabled.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastSessionEvent(string, string, any) {}

// Scheduler runs a function once after a delay.
type Scheduler interface {
	After(d time.Duration, name string, fn func()) error
}
