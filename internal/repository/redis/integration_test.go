//go:build integration

package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/internal/testutil"
	"github.com/freeeve/writing-arena/pkg/arena"
)

// Two pools against a real server stand in for two application processes.
func TestIntegration_TransitionAcrossClients(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	testutil.CleanupRedis(t, rdb)

	other := redis.NewClient(rdb.Options())
	t.Cleanup(func() { other.Close() })
	clients := []*Client{NewClientFromPool(rdb), NewClientFromPool(other)}

	ctx := context.Background()
	id := uuid.NewString()
	if err := clients[0].CreateSession(ctx, newSession(id, []string{"h1", "h2"}, []string{"ai-1"})); err != nil {
		t.Fatalf("create: %v", err)
	}
	submitAll(t, clients[1], id, arena.PhaseDraft, "h1", "h2")

	var performed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			res, err := c.Transition(ctx, id, arena.PhaseDraft, 180*time.Second, time.Now())
			if err != nil {
				t.Errorf("transition: %v", err)
				return
			}
			if res.Outcome == model.TransitionPerformed {
				performed.Add(1)
			}
		}(clients[i%2])
	}
	wg.Wait()

	if n := performed.Load(); n != 1 {
		t.Errorf("performed = %d, want 1", n)
	}
	s, err := clients[0].GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Phase != arena.PhaseFeedback || s.PhaseDuration != 180 {
		t.Errorf("phase=%d duration=%d, want 2/180", s.Phase, s.PhaseDuration)
	}
}

func TestIntegration_WatchAcrossClients(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	testutil.CleanupRedis(t, rdb)
	watcher := NewClientFromPool(rdb)
	writer := NewClientFromPool(redis.NewClient(rdb.Options()))
	t.Cleanup(func() { writer.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := watcher.WatchSessions(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	id := uuid.NewString()
	if err := writer.CreateSession(ctx, newSession(id, []string{"h1"}, nil)); err != nil {
		t.Fatalf("create: %v", err)
	}
	submitAll(t, writer, id, arena.PhaseDraft, "h1")

	select {
	case got := <-ch:
		if got != id {
			t.Errorf("notified %s, want %s", got, id)
		}
	case <-ctx.Done():
		t.Fatal("no change notification received")
	}
}
