package handler

import (
	"net/http"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/auth"
)

var devNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,32}$`)

// AuthHandler issues tokens. Player identity is owned by an external system; the
// dev login exists for local play and the harness.
type AuthHandler struct {
	jwtMgr  *auth.JWTManager
	devMode bool
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(jwtMgr *auth.JWTManager, devMode bool) *AuthHandler {
	return &AuthHandler{jwtMgr: jwtMgr, devMode: devMode}
}

// RefreshToken exchanges a refresh token for a new token pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	claims, err := h.jwtMgr.ValidateToken(req.RefreshToken, auth.KindRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	tokens, err := h.jwtMgr.GenerateTokenPair(claims.UserID, claims.DisplayName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// DevLogin returns a token pair for player "dev-{name}".
// Only available in dev mode.
func (h *AuthHandler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if !h.devMode {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	name := r.URL.Query().Get("name")
	if !devNamePattern.MatchString(name) {
		writeError(w, http.StatusBadRequest, "name must be 1-32 letters, digits, '-' or '_'")
		return
	}

	playerID := "dev-" + name
	tokens, err := h.jwtMgr.GenerateTokenPair(playerID, name)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Failed to issue dev token")
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}
