// CodeClash backend server - matchmaking, live matches, sandboxed judging,
// leaderboards and coaching over HTTP/WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/codeclash-io/codeclash/pkg/ai"
	"github.com/codeclash-io/codeclash/pkg/api"
	"github.com/codeclash-io/codeclash/pkg/cleanup"
	"github.com/codeclash-io/codeclash/pkg/coaching"
	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/database"
	"github.com/codeclash-io/codeclash/pkg/execqueue"
	"github.com/codeclash-io/codeclash/pkg/judge0"
	"github.com/codeclash-io/codeclash/pkg/judging"
	"github.com/codeclash-io/codeclash/pkg/leaderboard"
	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/matchmaking"
	"github.com/codeclash-io/codeclash/pkg/ratelimit"
	"github.com/codeclash-io/codeclash/pkg/realtime"
	"github.com/codeclash-io/codeclash/pkg/sandbox"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/pkg/store"
	"github.com/codeclash-io/codeclash/pkg/version"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to the environment file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load env file, continuing with process environment",
			"path", *envFile, "error", err)
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	slog.Info("Starting CodeClash", "version", version.Full())

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistent store.
	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL, schema up to date")

	// Ephemeral store.
	st, err := store.NewRedisStore(ctx, store.RedisConfig{
		URL:      cfg.Redis.URL,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	// Execution backend: container sandbox or cloud judge, by config.
	var executor sandbox.Executor
	var dockerExec *sandbox.DockerExecutor
	switch cfg.CloudJudge.Backend {
	case config.BackendJudge0:
		executor = judge0.New(cfg.CloudJudge)
		slog.Info("Using cloud judge backend", "base_url", cfg.CloudJudge.BaseURL)
	default:
		dockerExec, err = sandbox.NewDockerExecutor(ctx, cfg.Sandbox)
		if err != nil {
			slog.Error("Failed to initialize sandbox executor", "error", err)
			os.Exit(1)
		}
		dockerExec.Start(ctx)
		defer dockerExec.Stop()
		executor = dockerExec
		slog.Info("Using container sandbox backend")
	}

	execQueue := execqueue.New(executor, cfg.ExecQueue)
	execQueue.Start(ctx)
	defer execQueue.Stop()

	// AI provider (optional, deterministic fallback otherwise).
	var provider ai.Provider
	if cfg.AI.Enabled() {
		provider = ai.NewOpenAIProvider(cfg.AI)
		slog.Info("AI provider enabled", "model", cfg.AI.Model)
	}

	// Services.
	users := services.NewUserService(dbClient)
	matches := services.NewMatchService(dbClient)
	challenges := services.NewChallengeService(dbClient)
	analyses := services.NewAnalysisService(dbClient)

	limiter := ratelimit.New(st)
	board := leaderboard.New(st)
	hub := realtime.NewHub()
	engine := judging.New(execQueue, provider)

	emitter := api.NewMatchEmitter(hub, challenges)
	matchSM := match.NewService(st, matches, challenges, engine, users, board, emitter)
	emitter.SetMatchService(matchSM)

	mmQueue := matchmaking.NewQueue(st)
	processor := matchmaking.NewProcessor(mmQueue, challenges, matchSM, hub, cfg.Matchmaking)
	processor.Start(ctx)
	defer processor.Stop()

	sweeper := cleanup.NewService(cfg.Cleanup, matchSM, challenges)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	coach := coaching.New(analyses, provider, limiter)
	auth := api.NewAuthService(users, st)
	moderator := realtime.NewChatModerator(limiter)

	server := api.NewServer(api.Deps{
		Config:     cfg,
		DB:         dbClient,
		Store:      st,
		Auth:       auth,
		Users:      users,
		Matches:    matches,
		Challenges: challenges,
		MatchSM:    matchSM,
		MMQueue:    mmQueue,
		ExecQueue:  execQueue,
		Board:      board,
		Coach:      coach,
		Hub:        hub,
		Limiter:    limiter,
		Moderator:  moderator,
	})

	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
