package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

func setupStore(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewClientFromPool(rdb), mr
}

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newSession(id string, humans []string, synthetic []string) *model.Session {
	s := &model.Session{
		ID:            id,
		MatchID:       "m-" + id,
		Phase:         arena.PhaseDraft,
		PhaseDuration: 300,
		PhaseStart:    map[arena.Phase]time.Time{arena.PhaseDraft: t0},
		State:         arena.SessionActive,
		UpdatedAt:     t0,
		Players:       make(map[string]*model.SessionPlayer),
	}
	for _, h := range humans {
		s.Players[h] = &model.SessionPlayer{}
	}
	for _, a := range synthetic {
		s.Players[a] = &model.SessionPlayer{IsAI: true}
	}
	return s
}

func submitAll(t *testing.T, c *Client, sessionID string, phase arena.Phase, players ...string) {
	t.Helper()
	ctx := context.Background()
	for _, p := range players {
		_, err := c.RecordSubmission(ctx, sessionID, p, phase, model.SubmissionPayload{Content: "text by " + p, WordCount: 3}, t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("RecordSubmission(%s): %v", p, err)
		}
	}
}

func TestSession_CreateAndGet(t *testing.T) {
	c, _ := setupStore(t)
	ctx := context.Background()

	if err := c.CreateSession(ctx, newSession("s1", []string{"alice", "bob"}, []string{"ai-1"})); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	s, err := c.GetSession(ctx, "s1")
	if err != nil || s == nil {
		t.Fatalf("GetSession: %v %v", s, err)
	}
	if s.Phase != arena.PhaseDraft || s.PhaseDuration != 300 || s.State != arena.SessionActive {
		t.Errorf("unexpected session header: %+v", s)
	}
	if !s.PhaseStart[arena.PhaseDraft].Equal(t0) {
		t.Errorf("phase1 start = %v", s.PhaseStart[arena.PhaseDraft])
	}
	if len(s.Players) != 3 || !s.Players["ai-1"].IsAI || s.Players["alice"].IsAI {
		t.Errorf("players decoded wrong: %+v", s.Players)
	}

	active, err := c.ActiveSessions(ctx)
	if err != nil || len(active) != 1 || active[0] != "s1" {
		t.Errorf("ActiveSessions = %v, %v", active, err)
	}
}

func TestSession_GetMissing(t *testing.T) {
	c, _ := setupStore(t)
	s, err := c.GetSession(context.Background(), "nope")
	if err != nil || s != nil {
		t.Fatalf("expected nil, nil; got %v, %v", s, err)
	}
}

func TestRecordSubmission_Idempotent(t *testing.T) {
	c, _ := setupStore(t)
	ctx := context.Background()
	c.CreateSession(ctx, newSession("s1", []string{"alice", "bob"}, nil))

	score := 71.5
	payload := model.SubmissionPayload{Content: "my essay", WordCount: 2, Score: &score}
	if _, err := c.RecordSubmission(ctx, "s1", "alice", arena.PhaseDraft, payload, t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RecordSubmission(ctx, "s1", "alice", arena.PhaseDraft, payload, t0.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	s, _ := c.GetSession(ctx, "s1")
	sub, ok := s.Submission("alice", arena.PhaseDraft)
	if !ok || !sub.Submitted {
		t.Fatalf("submission missing: %+v", sub)
	}
	if sub.Content != "my essay" || sub.WordCount != 2 || sub.Score == nil || *sub.Score != 71.5 {
		t.Errorf("content changed: %+v", sub)
	}
	if sub.SubmittedAt == nil || !sub.SubmittedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("submittedAt = %v, want first submission time", sub.SubmittedAt)
	}
	if s.ReadyCount != 1 {
		t.Errorf("readyCount = %d, want 1", s.ReadyCount)
	}
}

func TestRecordSubmission_MissingSession(t *testing.T) {
	c, _ := setupStore(t)
	_, err := c.RecordSubmission(context.Background(), "nope", "alice", arena.PhaseDraft, model.SubmissionPayload{}, t0)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordSubmission_IfAbsentKeepsExisting(t *testing.T) {
	c, _ := setupStore(t)
	ctx := context.Background()
	c.CreateSession(ctx, newSession("s1", []string{"alice"}, nil))

	c.RecordSubmission(ctx, "s1", "alice", arena.PhaseDraft, model.SubmissionPayload{Content: "real work", WordCount: 2}, t0)
	wrote, err := c.RecordSubmission(ctx, "s1", "alice", arena.PhaseDraft, model.SubmissionPayload{IfAbsent: true}, t0.Add(time.Hour))
	if err != nil || wrote {
		t.Fatalf("placeholder over a real submission: wrote=%v err=%v", wrote, err)
	}
	s, _ := c.GetSession(ctx, "s1")
	if sub, _ := s.Submission("alice", arena.PhaseDraft); sub.Content != "real work" {
		t.Errorf("content = %q", sub.Content)
	}
}

func TestTransition_NotReadyUntilAllRealPlayersSubmit(t *testing.T) {
	c, _ := setupStore(t)
	ctx := context.Background()
	c.CreateSession(ctx, newSession("s1", []string{"alice", "bob"}, []string{"ai-1"}))
	submitAll(t, c, "s1", arena.PhaseDraft, "alice")

	res, err := c.Transition(ctx, "s1", arena.PhaseDraft, 180*time.Second, t0.Add(5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.TransitionNotReady {
		t.Fatalf("outcome = %v, want not_ready", res.Outcome)
	}

	// Synthetic seats never gate completion.
	submitAll(t, c, "s1", arena.PhaseDraft, "bob")
	res, err = c.Transition(ctx, "s1", arena.PhaseDraft, 180*time.Second, t0.Add(5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.TransitionPerformed || res.Phase != arena.PhaseFeedback {
		t.Fatalf("result = %+v, want transitioned to phase 2", res)
	}

	s, _ := c.GetSession(ctx, "s1")
	if s.Phase != arena.PhaseFeedback || s.PhaseDuration != 180 {
		t.Errorf("config = phase %d duration %d", s.Phase, s.PhaseDuration)
	}
	if s.AllPlayersReady {
		t.Error("allPlayersReady must start false for the new phase")
	}
	if s.CompletedPhase != 1 || s.ReadyCount != 0 {
		t.Errorf("coordination = completed %d ready %d", s.CompletedPhase, s.ReadyCount)
	}
	if !s.PhaseStart[arena.PhaseFeedback].Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("phase2 start = %v", s.PhaseStart[arena.PhaseFeedback])
	}
}

func TestTransition_ConcurrentCallersAdvanceOnce(t *testing.T) {
	c, mr := setupStore(t)
	ctx := context.Background()
	c.CreateSession(ctx, newSession("s1", []string{"alice", "bob"}, []string{"ai-1", "ai-2"}))
	submitAll(t, c, "s1", arena.PhaseDraft, "alice", "bob")

	const callers = 12
	var wg sync.WaitGroup
	outcomes := make([]model.TransitionOutcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Transition(ctx, "s1", arena.PhaseDraft, time.Minute, t0.Add(time.Duration(i+1)*time.Second))
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			outcomes[i] = res.Outcome
		}(i)
	}
	wg.Wait()

	performed := 0
	for _, o := range outcomes {
		switch o {
		case model.TransitionPerformed:
			performed++
		case model.TransitionAlreadyDone:
		default:
			t.Errorf("unexpected outcome %v", o)
		}
	}
	if performed != 1 {
		t.Fatalf("performed = %d, want exactly 1", performed)
	}

	stamp := mr.HGet("session:s1", "timing.phase2StartTime")
	res, _ := c.Transition(ctx, "s1", arena.PhaseDraft, time.Minute, t0.Add(time.Hour))
	if res.Outcome != model.TransitionAlreadyDone || res.Phase != arena.PhaseFeedback {
		t.Errorf("late caller = %+v", res)
	}
	if got := mr.HGet("session:s1", "timing.phase2StartTime"); got != stamp {
		t.Errorf("phase2 start restamped: %s -> %s", stamp, got)
	}
	if got := mr.HGet("session:s1", "config.phase"); got != "2" {
		t.Errorf("config.phase = %s, want 2", got)
	}
}

func TestTransition_TerminalCompletesSession(t *testing.T) {
	c, _ := setupStore(t)
	ctx := context.Background()
	c.CreateSession(ctx, newSession("s1", []string{"alice"}, nil))

	for _, p := range []arena.Phase{arena.PhaseDraft, arena.PhaseFeedback, arena.PhaseRevision} {
		submitAll(t, c, "s1", p, "alice")
		res, err := c.Transition(ctx, "s1", p, time.Minute, t0.Add(time.Duration(p)*time.Hour))
		if err != nil || res.Outcome != model.TransitionPerformed {
			t.Fatalf("phase %d: %+v %v", p, res, err)
		}
	}

	s, _ := c.GetSession(ctx, "s1")
	if s.State != arena.SessionCompleted || s.Phase != arena.PhaseRevision || !s.AllPlayersReady {
		t.Fatalf("session = state %s phase %d ready %v", s.State, s.Phase, s.AllPlayersReady)
	}
	if s.CompletedAt == nil {
		t.Error("completedAt not set")
	}
	active, _ := c.ActiveSessions(ctx)
	if len(active) != 0 {
		t.Errorf("completed session still active: %v", active)
	}

	res, _ := c.Transition(ctx, "s1", arena.PhaseRevision, time.Minute, t0.Add(9*time.Hour))
	if res.Outcome != model.TransitionAlreadyDone {
		t.Errorf("second terminal transition = %v", res.Outcome)
	}
}

func TestTransition_MissingSession(t *testing.T) {
	c, _ := setupStore(t)
	res, err := c.Transition(context.Background(), "ghost", arena.PhaseDraft, time.Minute, t0)
	if err != nil || res.Outcome != model.TransitionNotFound {
		t.Fatalf("got %+v %v", res, err)
	}
}

func TestInsertArtifact_FirstWriterWins(t *testing.T) {
	c, _ := setupStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.InsertArtifact(ctx, "m1", arena.PhaseDraft, model.SyntheticArtifact{
				PlayerID: "ai-1", Content: "version", WordCount: i, CreatedAt: t0,
			})
			if err != nil {
				t.Errorf("insert: %v", err)
			}
		}(i)
	}
	wg.Wait()
	c.InsertArtifact(ctx, "m1", arena.PhaseDraft, model.SyntheticArtifact{PlayerID: "ai-2", Content: "other", CreatedAt: t0.Add(time.Second)})

	arts, err := c.Artifacts(ctx, "m1", arena.PhaseDraft)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 2 {
		t.Fatalf("artifacts = %d, want 2 (one per player)", len(arts))
	}
	if arts[0].PlayerID != "ai-1" || arts[1].PlayerID != "ai-2" {
		t.Errorf("order = %s, %s", arts[0].PlayerID, arts[1].PlayerID)
	}

	ok, _ := c.InsertArtifact(ctx, "m1", arena.PhaseDraft, model.SyntheticArtifact{PlayerID: "ai-1"})
	if ok {
		t.Error("duplicate insert reported success")
	}
}

func TestMatch_RoundTripWithRankings(t *testing.T) {
	c, _ := setupStore(t)
	ctx := context.Background()
	m := &model.Match{
		ID:        "m1",
		SessionID: "s1",
		Prompt:    "Describe a place you love.",
		Ranked:    true,
		CreatedAt: t0,
		Players: []model.Player{
			{PlayerID: "alice", DisplayName: "Alice", RankLevel: 3},
			{PlayerID: "ai-1", DisplayName: "Quill", IsSynthetic: true, SkillTier: "intermediate"},
		},
	}
	if err := c.CreateMatch(ctx, m); err != nil {
		t.Fatal(err)
	}
	c.InsertArtifact(ctx, "m1", arena.PhaseDraft, model.SyntheticArtifact{PlayerID: "ai-1", Content: "x", CreatedAt: t0})

	rankings := []model.Ranking{
		{PlayerID: "ai-1", Score: 80, Rank: 1},
		{PlayerID: "alice", Score: 60, Rank: 2},
	}
	feedback := map[string]model.Feedback{
		"alice": {Score: 60, Summary: "solid"},
		"ai-1":  {Score: 80, Summary: "vivid"},
	}
	if err := c.SaveRankings(ctx, "m1", arena.PhaseDraft, rankings, feedback); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetMatch(ctx, "m1")
	if err != nil || got == nil {
		t.Fatalf("GetMatch: %v %v", got, err)
	}
	if !got.Ranked || got.Prompt != m.Prompt || len(got.Players) != 2 {
		t.Errorf("header = %+v", got)
	}
	if len(got.Rankings[arena.PhaseDraft]) != 2 || got.Rankings[arena.PhaseDraft][0].PlayerID != "ai-1" {
		t.Errorf("rankings = %+v", got.Rankings)
	}
	if got.Feedback["alice"][arena.PhaseDraft].Summary != "solid" {
		t.Errorf("feedback = %+v", got.Feedback)
	}
	if len(got.Artifacts[arena.PhaseDraft]) != 1 {
		t.Errorf("artifacts = %+v", got.Artifacts)
	}

	rs, err := c.Rankings(ctx, "m1", arena.PhaseFeedback)
	if err != nil || rs != nil {
		t.Errorf("phase 2 rankings = %v %v, want none", rs, err)
	}
}

func TestWatchSessions_ReceivesChanges(t *testing.T) {
	c, _ := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.WatchSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c.CreateSession(ctx, newSession("s9", []string{"alice"}, nil))

	select {
	case id := <-ch:
		if id != "s9" {
			t.Errorf("id = %q, want s9", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestSessionIDFromChannel(t *testing.T) {
	if id, ok := sessionIDFromChannel("session:abc:changed"); !ok || id != "abc" {
		t.Errorf("got %q %v", id, ok)
	}
	if _, ok := sessionIDFromChannel("match:abc"); ok {
		t.Error("non-session channel accepted")
	}
}
