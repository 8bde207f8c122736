package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/auth"
	"github.com/freeeve/writing-arena/internal/config"
	"github.com/freeeve/writing-arena/internal/handler"
	"github.com/freeeve/writing-arena/internal/llm"
	"github.com/freeeve/writing-arena/internal/logger"
	"github.com/freeeve/writing-arena/internal/repository/postgres"
	redisrepo "github.com/freeeve/writing-arena/internal/repository/redis"
	"github.com/freeeve/writing-arena/internal/scheduler"
	"github.com/freeeve/writing-arena/internal/service"
	"github.com/freeeve/writing-arena/pkg/arena"
)

func main() {
	logger.Init()
	cfg := config.Load()
	log.Info().Str("port", cfg.Port).Bool("devMode", cfg.DevMode).Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database (skill-gap history and mastery)
	db, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Database migration failed")
	}

	// Redis (match and session records)
	store, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer store.Close()

	// Repos
	gapRepo := postgres.NewSkillGapRepo(db)
	masteryRepo := postgres.NewMasteryRepo(db)

	// External generation and grading
	gemini := llm.NewGeminiClient(llm.GeminiConfig{
		APIKey:          cfg.GeminiAPIKey,
		GradingModel:    cfg.GradingModel,
		GenerationModel: cfg.GenerationModel,
		Timeout:         cfg.LLMTimeout,
	})
	if cfg.GeminiAPIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY not set, grading falls back and synthetic players use canned text")
	}

	sched, err := scheduler.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Scheduler start failed")
	}

	// WebSocket hub
	wsHub := handler.NewHub()

	// Services
	durations := cfg.PhaseDurations
	recorder := service.NewSubmissionRecorder(store, wsHub)
	synthetic := service.NewSyntheticService(store, gemini, recorder, sched, service.SyntheticConfig{
		DelayMin:        cfg.SyntheticDelayMin,
		DelayMax:        cfg.SyntheticDelayMax,
		GenerateTimeout: cfg.LLMTimeout,
	})
	gapSvc := service.NewSkillGapService(gapRepo, masteryRepo, arena.DefaultPolicy())
	ranking := service.NewRankingOrchestrator(store, store, gemini, recorder, gapSvc, synthetic, wsHub, service.RankingConfig{
		ArtifactPollInterval: cfg.ArtifactPollInterval,
		ArtifactPollAttempts: cfg.ArtifactPollAttempts,
		MaxAttempts:          cfg.GradingMaxAttempts,
		InitialBackoff:       cfg.GradingInitialBackoff,
	})
	trigger := service.NewTransitionTrigger(store, wsHub, service.TransitionConfig{
		PollInterval:   cfg.TransitionPollInterval,
		MaxAttempts:    cfg.TransitionMaxAttempts,
		PhaseDurations: durations,
	})
	monitor := service.NewPhaseMonitor(store, trigger, 2*time.Minute)
	matchSvc := service.NewMatchService(store, store, gapSvc, synthetic, durations)
	trigger.SetFinalizer(ranking)
	trigger.SetAdvanceHook(matchSvc.StartBackfillForSession)

	listener := service.NewSessionListener(store, store, monitor, wsHub, cfg.MonitorPollInterval)
	sweeper := service.NewDeadlineSweeper(store, ranking, cfg.DeadlineGrace)
	err = sched.Every(cfg.DeadlineSweepInterval, "deadline-sweep", func() {
		sweepCtx, sweepCancel := context.WithTimeout(ctx, cfg.DeadlineSweepInterval*3)
		defer sweepCancel()
		if n := sweeper.Sweep(sweepCtx); n > 0 {
			log.Info().Int("placeholders", n).Msg("Deadline sweep finished")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule deadline sweep")
	}

	// Handlers
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)
	root := handler.NewRouter(handler.Routes{
		JWT:         jwtMgr,
		Auth:        handler.NewAuthHandler(jwtMgr, cfg.DevMode),
		Matches:     handler.NewMatchHandler(matchSvc),
		Submissions: handler.NewSubmissionHandler(ranking, monitor),
		SkillGaps:   handler.NewSkillGapHandler(gapSvc),
		WS:          handler.NewWSHandler(wsHub, jwtMgr, store),
		Health: map[string]handler.HealthCheck{
			"redis":    store.Ping,
			"postgres": db.PingContext,
		},
		SubmitPerMin: cfg.SubmitRatePerMin,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // grading with retries runs inside the submit request
		IdleTimeout:  60 * time.Second,
	}

	// Start session listener
	go listener.Start(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if err := sched.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Scheduler shutdown error")
	}
	monitor.Wait()
	log.Info().Msg("Server stopped")
}
