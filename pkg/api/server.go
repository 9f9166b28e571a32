// Package api provides the HTTP and WebSocket edge for the platform.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/coaching"
	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/database"
	"github.com/codeclash-io/codeclash/pkg/execqueue"
	"github.com/codeclash-io/codeclash/pkg/leaderboard"
	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/matchmaking"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/ratelimit"
	"github.com/codeclash-io/codeclash/pkg/realtime"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/pkg/store"
)

// authAPI is the slice of AuthService the edge consumes; substituted in
// tests.
type authAPI interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, *models.User, error)
	VerifyToken(ctx context.Context, token string) (string, error)
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	cfg        *config.Config
	db         *database.Client
	store      store.Store
	auth       authAPI
	users      *services.UserService
	matches    *services.MatchService
	challenges *services.ChallengeService
	matchSM    *match.Service
	mmQueue    *matchmaking.Queue
	execQueue  *execqueue.Queue
	board      *leaderboard.Leaderboard
	coach      *coaching.Coach
	hub        *realtime.Hub
	limiter    *ratelimit.Limiter
	moderator  *realtime.ChatModerator
}

// Deps bundles the server's collaborators.
type Deps struct {
	Config     *config.Config
	DB         *database.Client
	Store      store.Store
	Auth       *AuthService
	Users      *services.UserService
	Matches    *services.MatchService
	Challenges *services.ChallengeService
	MatchSM    *match.Service
	MMQueue    *matchmaking.Queue
	ExecQueue  *execqueue.Queue
	Board      *leaderboard.Leaderboard
	Coach      *coaching.Coach
	Hub        *realtime.Hub
	Limiter    *ratelimit.Limiter
	Moderator  *realtime.ChatModerator
}

// NewServer builds the router.
func NewServer(d Deps) *Server {
	s := &Server{
		engine:     gin.New(),
		cfg:        d.Config,
		db:         d.DB,
		store:      d.Store,
		auth:       d.Auth,
		users:      d.Users,
		matches:    d.Matches,
		challenges: d.Challenges,
		matchSM:    d.MatchSM,
		mmQueue:    d.MMQueue,
		execQueue:  d.ExecQueue,
		board:      d.Board,
		coach:      d.Coach,
		hub:        d.Hub,
		limiter:    d.Limiter,
		moderator:  d.Moderator,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestIDMiddleware())
	s.engine.Use(corsMiddleware(s.cfg.Server.AllowedOrigins))

	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")

	// Authentication.
	authRule := ratelimit.Rule{Limit: 10, Window: time.Minute}
	v1.POST("/auth/register", s.rateLimitMiddleware("auth", authRule), s.registerHandler)
	v1.POST("/auth/login", s.rateLimitMiddleware("auth", authRule), s.loginHandler)

	authed := v1.Group("", s.authMiddleware())

	// Users.
	authed.GET("/auth/me", s.currentUserHandler)
	authed.GET("/users/:id", s.userProfileHandler)
	authed.PUT("/users/me", s.updateProfileHandler)
	authed.GET("/users/:id/stats", s.userStatsHandler)
	authed.GET("/users/:id/matches", s.matchHistoryHandler)

	// Matchmaking.
	authed.POST("/matchmaking/queue", s.joinQueueHandler)
	authed.DELETE("/matchmaking/queue", s.leaveQueueHandler)
	authed.POST("/matchmaking/custom", s.customMatchHandler)

	// Code execution.
	execRule := ratelimit.Rule{Limit: 30, Window: time.Minute}
	authed.POST("/execute", s.rateLimitMiddleware("execute", execRule), s.executeHandler)

	// Matches.
	authed.GET("/matches/active", s.activeMatchesHandler)
	authed.GET("/matches/:id", s.getMatchHandler)
	authed.GET("/matches/:id/replay", s.replayHandler)
	authed.POST("/matches/:id/spectate", s.spectateHandler)
	authed.GET("/matches/:id/chat", s.chatHistoryHandler)

	// Leaderboard.
	authed.GET("/leaderboard", s.leaderboardHandler)
	authed.GET("/leaderboard/rank", s.rankHandler)

	// Coaching.
	authed.POST("/coach/hint", s.requestHintHandler)
	authed.GET("/coach/hints/:matchId", s.matchHintsHandler)
	authed.POST("/coach/analysis/:matchId", s.generateAnalysisHandler)
	authed.GET("/coach/analysis/:matchId", s.getAnalysisHandler)
	authed.GET("/coach/history", s.analysisHistoryHandler)
	authed.GET("/coach/summary", s.coachSummaryHandler)
	authed.GET("/coach/timeline", s.coachTimelineHandler)
	authed.GET("/coach/trends", s.coachTrendsHandler)
	authed.GET("/coach/weaknesses", s.weaknessHandler)

	// WebSocket (token validated at handshake inside the handler).
	s.engine.GET("/ws", s.wsHandler)
}

// Handler exposes the router (tests).
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves on the configured port (blocking).
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    ":" + s.cfg.Server.Port,
		Handler: s.engine,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports process and dependency health.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	var dbHealth database.HealthStatus
	if s.db != nil {
		var err error
		dbHealth, err = database.Health(reqCtx, s.db)
		if err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	storeOK := true
	if s.store != nil {
		if err := s.store.Ping(reqCtx); err != nil {
			storeOK = false
			status = "degraded"
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
		"database":  dbHealth,
		"store":     gin.H{"connected": storeOK},
		"realtime":  gin.H{"connected_users": s.hub.ConnectedUsers()},
		"exec_queue": gin.H{
			"depth": s.execQueue.Depth(),
		},
	})
}
