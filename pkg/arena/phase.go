package arena

import "fmt"

// Phase is one of the three ordered stages of a match.
type Phase int

const (
	PhaseDraft    Phase = 1
	PhaseFeedback Phase = 2
	PhaseRevision Phase = 3
)

// PhaseCount is the fixed number of phases in a match.
const PhaseCount = 3

// AllPhases returns the phases in play order.
func AllPhases() []Phase {
	return []Phase{PhaseDraft, PhaseFeedback, PhaseRevision}
}

// ParsePhase converts a phase number into a Phase, rejecting anything outside 1..3.
func ParsePhase(n int) (Phase, error) {
	p := Phase(n)
	if !p.Valid() {
		return 0, fmt.Errorf("invalid phase %d", n)
	}
	return p, nil
}

// Valid reports whether p is one of the three match phases.
func (p Phase) Valid() bool {
	return p >= PhaseDraft && p <= PhaseRevision
}

// Key returns the store key for the phase, e.g. "phase2".
func (p Phase) Key() string {
	return fmt.Sprintf("phase%d", int(p))
}

func (p Phase) String() string {
	switch p {
	case PhaseDraft:
		return "draft"
	case PhaseFeedback:
		return "feedback"
	case PhaseRevision:
		return "revision"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Next is the single transition table for a match: it returns the phase that follows p,
// or terminal=true when p is the last phase and the session completes instead.
func Next(p Phase) (next Phase, terminal bool) {
	switch p {
	case PhaseDraft:
		return PhaseFeedback, false
	case PhaseFeedback:
		return PhaseRevision, false
	}
	return 0, true
}

// SessionState is the lifecycle state of a live session.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionCompleted SessionState = "completed"
)
