package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/freeeve/writing-arena/internal/auth"
	"github.com/freeeve/writing-arena/internal/middleware"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Routes collects the handlers served by the API.
type Routes struct {
	JWT          *auth.JWTManager
	Auth         *AuthHandler
	Matches      *MatchHandler
	Submissions  *SubmissionHandler
	SkillGaps    *SkillGapHandler
	WS           *WSHandler
	Health       map[string]HealthCheck
	SubmitPerMin int
}

// NewRouter builds the HTTP handler with global middleware applied.
func NewRouter(rt Routes) http.Handler {
	mux := http.NewServeMux()
	authMw := auth.Middleware(rt.JWT)

	mux.HandleFunc("GET /healthz", healthz(rt.Health))

	// Auth (public)
	mux.HandleFunc("POST /auth/refresh", rt.Auth.RefreshToken)
	mux.HandleFunc("GET /auth/dev", rt.Auth.DevLogin)

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("POST /matches", rt.Matches.CreateMatch)
	api.HandleFunc("GET /matches/{id}", rt.Matches.GetMatch)
	api.HandleFunc("GET /sessions/{id}", rt.Matches.GetSession)
	api.HandleFunc("POST /sessions/{id}/phases/{phase}/backfill", rt.Matches.Backfill)
	api.Handle("POST /sessions/{id}/phases/{phase}/submissions",
		middleware.RateLimit(rt.SubmitPerMin)(http.HandlerFunc(rt.Submissions.Submit)))
	api.HandleFunc("POST /sessions/{id}/phases/{phase}/transition", rt.Submissions.Transition)
	api.HandleFunc("GET /users/me/ranked-eligibility", rt.SkillGaps.RankedEligibility)
	api.HandleFunc("GET /users/me/skill-gaps", rt.SkillGaps.SkillGaps)
	api.HandleFunc("POST /users/{id}/mastery/refresh", rt.SkillGaps.RefreshMastery)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	if rt.WS != nil {
		mux.HandleFunc("GET /api/v1/ws", rt.WS.ServeWS)
	}

	return middleware.Chain(mux, middleware.Recover, middleware.Logger, middleware.CORS("*"), middleware.JSON)
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		writeJSON(w, code, status)
	}
}
