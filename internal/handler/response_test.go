package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/freeeve/writing-arena/internal/service"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"id": "m1"})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type=application/json, got %s", ct)
	}
	var result map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result["id"] != "m1" {
		t.Errorf("unexpected body: %v", result)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, "missing field")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	var result map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result["error"] != "missing field" {
		t.Errorf("expected error=missing field, got %s", result["error"])
	}
}

func TestDecodeValid(t *testing.T) {
	type body struct {
		Content string `json:"content" validate:"required,max=10"`
	}
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"ok", `{"content":"hello"}`, false},
		{"missing", `{}`, true},
		{"too long", `{"content":"this is far too long"}`, true},
		{"not json", `nope`, true},
		{"empty", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			var b body
			err := decodeValid(req, &b)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPhaseParam(t *testing.T) {
	for _, tt := range []struct {
		value string
		ok    bool
	}{{"1", true}, {"3", true}, {"0", false}, {"4", false}, {"draft", false}} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.SetPathValue("phase", tt.value)
		_, err := phaseParam(req)
		if (err == nil) != tt.ok {
			t.Errorf("phase %q: err = %v, want ok=%v", tt.value, err, tt.ok)
		}
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", service.ErrMatchNotFound), http.StatusNotFound},
		{service.ErrNotInMatch, http.StatusForbidden},
		{service.ErrSyntheticPlayer, http.StatusForbidden},
		{service.ErrRankedBlocked, http.StatusForbidden},
		{service.ErrWrongPhase, http.StatusConflict},
		{service.ErrMatchCompleted, http.StatusConflict},
		{service.ErrInvalidRoster, http.StatusUnprocessableEntity},
		{fmt.Errorf("redis: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeServiceError(rec, tt.err)
		if rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}
