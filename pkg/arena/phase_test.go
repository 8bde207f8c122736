package arena

import "testing"

func TestNext_TransitionTable(t *testing.T) {
	tests := []struct {
		from     Phase
		want     Phase
		terminal bool
	}{
		{PhaseDraft, PhaseFeedback, false},
		{PhaseFeedback, PhaseRevision, false},
		{PhaseRevision, 0, true},
	}
	for _, tt := range tests {
		got, terminal := Next(tt.from)
		if got != tt.want || terminal != tt.terminal {
			t.Errorf("Next(%v) = (%v, %v), want (%v, %v)", tt.from, got, terminal, tt.want, tt.terminal)
		}
	}
}

func TestNext_NeverRegresses(t *testing.T) {
	for _, p := range AllPhases() {
		next, terminal := Next(p)
		if !terminal && next <= p {
			t.Errorf("Next(%v) = %v, expected a later phase", p, next)
		}
	}
}

func TestParsePhase(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		if _, err := ParsePhase(n); err != nil {
			t.Errorf("ParsePhase(%d): %v", n, err)
		}
	}
	for _, n := range []int{0, 4, -1} {
		if _, err := ParsePhase(n); err == nil {
			t.Errorf("ParsePhase(%d) should fail", n)
		}
	}
}

func TestPhase_Key(t *testing.T) {
	if got := PhaseFeedback.Key(); got != "phase2" {
		t.Errorf("Key = %q, want phase2", got)
	}
}
