package handler

import (
	"net/http"

	"github.com/freeeve/writing-arena/internal/auth"
	"github.com/freeeve/writing-arena/internal/service"
)

// SkillGapHandler exposes ranked eligibility and mastery refresh.
type SkillGapHandler struct {
	gaps *service.SkillGapService
}

// NewSkillGapHandler creates a SkillGapHandler.
func NewSkillGapHandler(gaps *service.SkillGapService) *SkillGapHandler {
	return &SkillGapHandler{gaps: gaps}
}

// RankedEligibility handles GET /api/v1/users/me/ranked-eligibility
func (h *SkillGapHandler) RankedEligibility(w http.ResponseWriter, r *http.Request) {
	res, err := h.gaps.CheckBlocked(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SkillGaps handles GET /api/v1/users/me/skill-gaps
func (h *SkillGapHandler) SkillGaps(w http.ResponseWriter, r *http.Request) {
	hs, err := h.gaps.ListGaps(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hs)
}

// RefreshMastery handles POST /api/v1/users/{id}/mastery/refresh.
// Players may only refresh themselves; "me" names the caller.
func (h *SkillGapHandler) RefreshMastery(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if id := r.PathValue("id"); id != "me" && id != userID {
		writeError(w, http.StatusForbidden, "cannot refresh another player's mastery")
		return
	}
	resolved, err := h.gaps.RefreshMastery(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if resolved == nil {
		resolved = []string{}
	}
	res, err := h.gaps.CheckBlocked(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resolved":    resolved,
		"eligibility": res,
	})
}
