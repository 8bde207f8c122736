package service

import (
	"context"
	"errors"
	"testing"

	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/pkg/arena"
)

func TestRecordIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, s := f.createMatch(t, 2, 0)
	ctx := context.Background()

	p := model.SubmissionPayload{Content: "The bell should ring later."}
	for i := 0; i < 3; i++ {
		if _, err := f.recorder.Record(ctx, s.ID, "h1", arena.PhaseDraft, p); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got := f.session(t, s.ID)
	sub, ok := got.Submission("h1", arena.PhaseDraft)
	if !ok || !sub.Submitted {
		t.Fatal("expected h1 submitted")
	}
	if sub.Content != p.Content {
		t.Errorf("content = %q, want %q", sub.Content, p.Content)
	}
	if sub.WordCount != 5 {
		t.Errorf("word count = %d, want 5", sub.WordCount)
	}
	if n, total := got.RealSubmittedCount(arena.PhaseDraft); n != 1 || total != 2 {
		t.Errorf("submitted = %d/%d, want 1/2", n, total)
	}
}

func TestRecordBroadcastsSubmission(t *testing.T) {
	f := newFixture(t)
	_, s := f.createMatch(t, 1, 0)

	if _, err := f.recorder.Record(context.Background(), s.ID, "h1", arena.PhaseDraft, model.SubmissionPayload{Content: "text"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if n := f.bc.Count(EventPlayerSubmitted); n != 1 {
		t.Errorf("player_submitted events = %d, want 1", n)
	}
}

func TestRecordIfAbsentKeepsExisting(t *testing.T) {
	f := newFixture(t)
	_, s := f.createMatch(t, 1, 0)
	ctx := context.Background()

	if _, err := f.recorder.Record(ctx, s.ID, "h1", arena.PhaseDraft, model.SubmissionPayload{Content: "real essay"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	wrote, err := f.recorder.Record(ctx, s.ID, "h1", arena.PhaseDraft, model.SubmissionPayload{IfAbsent: true})
	if err != nil {
		t.Fatalf("record placeholder: %v", err)
	}
	if wrote {
		t.Error("placeholder should not overwrite a real submission")
	}
	sub, _ := f.session(t, s.ID).Submission("h1", arena.PhaseDraft)
	if sub.Content != "real essay" {
		t.Errorf("content = %q, want real essay", sub.Content)
	}
	if n := f.bc.Count(EventPlayerSubmitted); n != 1 {
		t.Errorf("player_submitted events = %d, want 1", n)
	}
}

func TestRecordMissingSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.recorder.Record(context.Background(), "nope", "h1", arena.PhaseDraft, model.SubmissionPayload{Content: "x"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRecordRejectsInvalidPhase(t *testing.T) {
	f := newFixture(t)
	_, s := f.createMatch(t, 1, 0)
	if _, err := f.recorder.Record(context.Background(), s.ID, "h1", arena.Phase(4), model.SubmissionPayload{Content: "x"}); err == nil {
		t.Error("expected error for phase 4")
	}
}
