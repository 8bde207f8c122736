package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAfter_RunsOnce(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	var runs atomic.Int32
	done := make(chan struct{})
	err = s.After(50*time.Millisecond, "once", func() {
		if runs.Add(1) == 1 {
			close(done)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("delayed task never ran")
	}
	time.Sleep(200 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
}

func TestAfter_NonPositiveDelayRunsImmediately(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	done := make(chan struct{})
	if err := s.After(-time.Second, "now", func() { close(done) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("immediate task never ran")
	}
}

func TestEvery_Repeats(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	var runs atomic.Int32
	if err := s.Every(30*time.Millisecond, "tick", func() { runs.Add(1) }); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("runs = %d, want at least 3", runs.Load())
	}
}
