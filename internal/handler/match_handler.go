package handler

import (
	"net/http"
	"slices"

	"github.com/freeeve/writing-arena/internal/auth"
	"github.com/freeeve/writing-arena/internal/service"
)

// MatchHandler handles match formation and record reads.
type MatchHandler struct {
	matchSvc *service.MatchService
}

// NewMatchHandler creates a MatchHandler.
func NewMatchHandler(matchSvc *service.MatchService) *MatchHandler {
	return &MatchHandler{matchSvc: matchSvc}
}

type createMatchResponse struct {
	MatchID   string `json:"match_id"`
	SessionID string `json:"session_id"`
	Phase     int    `json:"phase"`
	Duration  int    `json:"phase_duration"`
	Ranked    bool   `json:"ranked"`
}

// CreateMatch handles POST /api/v1/matches. The caller must hold one of the human seats.
func (h *MatchHandler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	var req service.CreateMatchRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !slices.ContainsFunc(req.Humans, func(s service.HumanSeat) bool { return s.PlayerID == userID }) {
		writeError(w, http.StatusForbidden, "caller must be one of the human players")
		return
	}

	m, s, err := h.matchSvc.CreateMatch(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createMatchResponse{
		MatchID:   m.ID,
		SessionID: s.ID,
		Phase:     int(s.Phase),
		Duration:  s.PhaseDuration,
		Ranked:    m.Ranked,
	})
}

// GetMatch handles GET /api/v1/matches/{id}
func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.matchSvc.GetMatch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *MatchHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.matchSvc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Backfill handles POST /api/v1/sessions/{id}/phases/{phase}/backfill.
// Generation runs in the background; the response only acknowledges the request.
func (h *MatchHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	phase, err := phaseParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.matchSvc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if _, ok := s.Players[auth.UserIDFromContext(r.Context())]; !ok {
		writeServiceError(w, service.ErrNotInMatch)
		return
	}
	h.matchSvc.StartBackfill(s.MatchID, phase)
	writeJSON(w, http.StatusAccepted, map[string]any{"match_id": s.MatchID, "phase": int(phase)})
}
