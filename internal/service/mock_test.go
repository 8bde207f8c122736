package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/freeeve/writing-arena/internal/llm"
	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/internal/repository"
	redisrepo "github.com/freeeve/writing-arena/internal/repository/redis"
	"github.com/freeeve/writing-arena/pkg/arena"
)

func setupStore(t *testing.T) *redisrepo.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisrepo.NewClientFromPool(rdb)
}

// --- grader ---

type mockGrader struct {
	mu     sync.Mutex
	calls  int
	cohort []llm.CohortEntry
	fn     func(call int, req llm.GradeRequest) ([]llm.GradedEntry, error)
}

func (g *mockGrader) GradeCohort(_ context.Context, req llm.GradeRequest) ([]llm.GradedEntry, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.cohort = req.Cohort
	g.mu.Unlock()
	if g.fn != nil {
		return g.fn(call, req)
	}
	return gradeByLength(req), nil
}

func (g *mockGrader) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// gradeByLength scores each entry by word count, the way a cooperative service would.
func gradeByLength(req llm.GradeRequest) []llm.GradedEntry {
	out := make([]llm.GradedEntry, 0, len(req.Cohort))
	for i, c := range req.Cohort {
		out = append(out, llm.GradedEntry{
			PlayerID:     c.PlayerID,
			Score:        float64(20 + c.WordCount),
			Rank:         i + 1,
			Strengths:    []string{"clear voice"},
			Improvements: []string{"more evidence"},
			Summary:      "graded",
		})
	}
	return out
}

// --- generator ---

type mockGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (g *mockGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	return "generated text for " + req.Phase.String() + " at tier " + req.Tier.Name, nil
}

func (g *mockGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// --- scheduler ---

type scheduledJob struct {
	delay time.Duration
	name  string
	fn    func()
}

// mockScheduler records jobs; RunAll executes them synchronously.
type mockScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
}

func (s *mockScheduler) After(d time.Duration, name string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, scheduledJob{delay: d, name: name, fn: fn})
	return nil
}

func (s *mockScheduler) RunAll() {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = nil
	s.mu.Unlock()
	for _, j := range jobs {
		j.fn()
	}
}

func (s *mockScheduler) Jobs() []scheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduledJob(nil), s.jobs...)
}

// --- broadcaster ---

type broadcastEvent struct {
	sessionID string
	eventType string
	data      any
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (b *mockBroadcaster) BroadcastSessionEvent(sessionID, eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{sessionID, eventType, data})
}

func (b *mockBroadcaster) Count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

// --- skill gaps ---

type mockGapRepo struct {
	mu   sync.Mutex
	gaps map[string]map[string]*arena.CriterionHistory
}

func newMockGapRepo() *mockGapRepo {
	return &mockGapRepo{gaps: make(map[string]map[string]*arena.CriterionHistory)}
}

func (m *mockGapRepo) ListGaps(_ context.Context, userID string) ([]arena.CriterionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []arena.CriterionHistory
	for _, h := range m.gaps[userID] {
		out = append(out, *h)
	}
	return out, nil
}

func (m *mockGapRepo) UpdateGaps(_ context.Context, userID string, criteria []string, fn func(map[string]*arena.CriterionHistory) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.gaps[userID]
	if user == nil {
		user = make(map[string]*arena.CriterionHistory)
	}
	work := make(map[string]*arena.CriterionHistory)
	if criteria == nil {
		for c, h := range user {
			cp := *h
			work[c] = &cp
		}
	}
	for _, c := range criteria {
		if h, ok := user[c]; ok {
			cp := *h
			work[c] = &cp
		} else {
			work[c] = &arena.CriterionHistory{Criterion: c, Status: arena.GapActive}
		}
	}
	if err := fn(work); err != nil {
		return err
	}
	for c, h := range work {
		user[c] = h
	}
	m.gaps[userID] = user
	return nil
}

type mockMastery struct {
	lessons map[string]map[string]bool
	err     error
}

func (m *mockMastery) MasteredLessons(_ context.Context, userID string) (map[string]bool, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.lessons[userID], nil
}

type recordedGaps struct {
	userID       string
	gaps         []arena.GapSignal
	source       string
	submissionID string
}

type mockGapRecorder struct {
	mu    sync.Mutex
	calls []recordedGaps
}

func (m *mockGapRecorder) RecordGapSignals(_ context.Context, userID string, gaps []arena.GapSignal, source, submissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedGaps{userID, gaps, source, submissionID})
	return nil
}

// --- failure injection ---

var errStoreDown = errors.New("store unreachable")

// flakySessions fails selected session operations.
type flakySessions struct {
	repository.SessionStore
	failTransitions int
	failRecord      bool
	mu              sync.Mutex
}

func (f *flakySessions) Transition(ctx context.Context, sessionID string, from arena.Phase, d time.Duration, at time.Time) (model.TransitionResult, error) {
	f.mu.Lock()
	if f.failTransitions > 0 {
		f.failTransitions--
		f.mu.Unlock()
		return model.TransitionResult{}, errStoreDown
	}
	f.mu.Unlock()
	return f.SessionStore.Transition(ctx, sessionID, from, d, at)
}

func (f *flakySessions) RecordSubmission(ctx context.Context, sessionID, playerID string, phase arena.Phase, p model.SubmissionPayload, at time.Time) (bool, error) {
	if f.failRecord {
		return false, errStoreDown
	}
	return f.SessionStore.RecordSubmission(ctx, sessionID, playerID, phase, p, at)
}

// failingMatches fails ranking writes.
type failingMatches struct {
	repository.MatchStore
}

func (failingMatches) SaveRankings(context.Context, string, arena.Phase, []model.Ranking, map[string]model.Feedback) error {
	return errStoreDown
}
