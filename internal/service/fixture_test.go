package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/freeeve/writing-arena/internal/model"
	redisrepo "github.com/freeeve/writing-arena/internal/repository/redis"
	"github.com/freeeve/writing-arena/pkg/arena"
)

var testDurations = [arena.PhaseCount]time.Duration{5 * time.Minute, 3 * time.Minute, 4 * time.Minute}

// fixture wires the orchestrator against a miniredis-backed store.
type fixture struct {
	store     *redisrepo.Client
	grader    *mockGrader
	generator *mockGenerator
	scheduler *mockScheduler
	bc        *mockBroadcaster
	gaps      *mockGapRecorder

	recorder  *SubmissionRecorder
	synthetic *SyntheticService
	ranking   *RankingOrchestrator
	trigger   *TransitionTrigger
	monitor   *PhaseMonitor
	matches   *MatchService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     setupStore(t),
		grader:    &mockGrader{},
		generator: &mockGenerator{},
		scheduler: &mockScheduler{},
		bc:        &mockBroadcaster{},
		gaps:      &mockGapRecorder{},
	}
	f.recorder = NewSubmissionRecorder(f.store, f.bc)
	f.synthetic = NewSyntheticService(f.store, f.generator, f.recorder, f.scheduler, SyntheticConfig{
		DelayMin: 2 * time.Second,
		DelayMax: 6 * time.Second,
	})
	f.ranking = NewRankingOrchestrator(f.store, f.store, f.grader, f.recorder, f.gaps, nil, f.bc, RankingConfig{
		ArtifactPollInterval: 5 * time.Millisecond,
		ArtifactPollAttempts: 4,
		MaxAttempts:          3,
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           2 * time.Millisecond,
	})
	f.trigger = NewTransitionTrigger(f.store, f.bc, TransitionConfig{
		PollInterval:   10 * time.Millisecond,
		MaxAttempts:    20,
		PhaseDurations: testDurations,
	})
	f.trigger.SetFinalizer(f.ranking)
	f.monitor = NewPhaseMonitor(f.store, f.trigger, 5*time.Second)
	f.matches = NewMatchService(f.store, f.store, nil, nil, testDurations)
	return f
}

// createMatch forms a match with the given number of human and synthetic seats.
// Humans are named h1..hN.
func (f *fixture) createMatch(t *testing.T, humans, synthetic int) (*model.Match, *model.Session) {
	t.Helper()
	req := CreateMatchRequest{Prompt: "Should schools start later in the morning?"}
	for i := 1; i <= humans; i++ {
		req.Humans = append(req.Humans, HumanSeat{PlayerID: fmt.Sprintf("h%d", i), DisplayName: fmt.Sprintf("Human %d", i)})
	}
	for i := 1; i <= synthetic; i++ {
		req.Synthetic = append(req.Synthetic, SyntheticSeat{DisplayName: fmt.Sprintf("Bot %d", i), SkillTier: "novice"})
	}
	m, s, err := f.matches.CreateMatch(context.Background(), req)
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m, s
}

func (f *fixture) session(t *testing.T, id string) *model.Session {
	t.Helper()
	s, err := f.store.GetSession(context.Background(), id)
	if err != nil || s == nil {
		t.Fatalf("get session %s: %v", id, err)
	}
	return s
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}
