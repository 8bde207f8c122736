package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/auth"
	"github.com/freeeve/writing-arena/internal/logger"
	"github.com/freeeve/writing-arena/internal/service"
)

// SubmissionHandler handles phase submissions and client-initiated transitions.
type SubmissionHandler struct {
	ranking *service.RankingOrchestrator
	monitor *service.PhaseMonitor
}

// NewSubmissionHandler creates a SubmissionHandler.
func NewSubmissionHandler(ranking *service.RankingOrchestrator, monitor *service.PhaseMonitor) *SubmissionHandler {
	return &SubmissionHandler{ranking: ranking, monitor: monitor}
}

type submitRequest struct {
	Content string `json:"content" validate:"max=20000"`
}

// Submit handles POST /api/v1/sessions/{id}/phases/{phase}/submissions.
// The response carries the caller's score and the cohort rankings. Afterwards the
// session is observed so the phase advances as soon as everyone is in.
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	phase, err := phaseParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req submitRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := r.PathValue("id")
	res, err := h.ranking.Submit(r.Context(), service.SubmitRequest{
		SessionID: sessionID,
		PlayerID:  userID,
		Phase:     phase,
		Content:   req.Content,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if _, err := h.monitor.ObserveSession(r.Context(), sessionID); err != nil {
		l := logger.ForSession(r.Context(), sessionID, int(phase))
		l.Warn().Err(err).Msg("Observation after submit failed")
	}
	writeJSON(w, http.StatusOK, res)
}

// Transition handles POST /api/v1/sessions/{id}/phases/{phase}/transition.
// Any player may ask; the attempt runs in the background and the guarded
// transition decides whether anything happens.
func (h *SubmissionHandler) Transition(w http.ResponseWriter, r *http.Request) {
	phase, err := phaseParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := r.PathValue("id")
	obs, err := h.monitor.ObservePhase(r.Context(), sessionID, phase)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Debug().Str("sessionId", sessionID).Int("phase", int(phase)).Stringer("observation", obs).
		Msg("Client transition request")

	status := http.StatusOK
	if obs == service.ObservedTriggered {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]string{"observation": obs.String()})
}
