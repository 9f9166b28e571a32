package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/coaching"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/services"
)

type hintRequest struct {
	MatchID string `json:"match_id" binding:"required"`
	Level   int    `json:"level"`
}

func (s *Server) requestHintHandler(c *gin.Context) {
	var req hintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	if req.Level == 0 {
		req.Level = 1
	}
	userID := currentUserID(c)

	state, err := s.matchSM.Get(c.Request.Context(), req.MatchID)
	if err != nil {
		respondError(c, err)
		return
	}
	player, ok := state.PlayerFor(userID)
	if !ok {
		respondError(c, services.ErrForbidden)
		return
	}
	challenge, err := s.challenges.GetChallenge(c.Request.Context(), state.ChallengeID)
	if err != nil {
		respondError(c, err)
		return
	}

	hint, err := s.coach.RequestHint(c.Request.Context(), req.MatchID, userID,
		req.Level, challenge, player.Code, player.Language)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hint)
}

func (s *Server) matchHintsHandler(c *gin.Context) {
	hints, err := s.coach.HintsForMatch(c.Request.Context(), c.Param("matchId"), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hints": hints})
}

// generateAnalysisHandler produces (or returns the stored) post-match
// analysis for the caller's submission.
func (s *Server) generateAnalysisHandler(c *gin.Context) {
	matchID := c.Param("matchId")
	userID := currentUserID(c)

	row, err := s.matches.GetMatch(c.Request.Context(), matchID)
	if err != nil {
		respondError(c, err)
		return
	}
	if row.Player1ID != userID && row.Player2ID != userID {
		respondError(c, services.ErrForbidden)
		return
	}
	if row.Status != models.MatchStatusCompleted {
		respondError(c, services.ErrConflict)
		return
	}

	challenge, err := s.challenges.GetChallenge(c.Request.Context(), row.ChallengeID)
	if err != nil {
		respondError(c, err)
		return
	}

	// The player's final code lives in the ephemeral state while it is
	// retained; after expiry the analysis runs on an empty submission.
	code, language := "", models.LanguageJavaScript
	passed, total := 0, len(challenge.TestCases)
	if state, stateErr := s.matchSM.Get(c.Request.Context(), matchID); stateErr == nil {
		if player, ok := state.PlayerFor(userID); ok {
			code, language = player.Code, player.Language
		}
	}
	if outcome, outErr := s.matchSM.Outcome(c.Request.Context(), matchID); outErr == nil {
		if result, ok := outcome.Breakdown[userID]; ok {
			passed = result.PassedTests
			total = result.TotalTests
		}
	}

	analysis, err := s.coach.GenerateAnalysis(c.Request.Context(), matchID, userID,
		challenge, code, language, passed, total)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, analysis)
}

func (s *Server) getAnalysisHandler(c *gin.Context) {
	analysis, err := s.coach.GetAnalysis(c.Request.Context(), c.Param("matchId"), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (s *Server) analysisHistoryHandler(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		respondError(c, services.NewValidationError("page", "must be an integer"))
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil {
		respondError(c, services.NewValidationError("pageSize", "must be an integer"))
		return
	}

	result, err := s.coach.History(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) coachSummaryHandler(c *gin.Context) {
	summary, err := s.coach.CategorizedSummary(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": summary})
}

func (s *Server) coachTimelineHandler(c *gin.Context) {
	timeline, err := s.coach.Timeline(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeline": timeline})
}

func (s *Server) coachTrendsHandler(c *gin.Context) {
	trends, err := s.coach.Trends(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": trends})
}

func (s *Server) weaknessHandler(c *gin.Context) {
	profile, err := s.coach.WeaknessProfile(c.Request.Context(), currentUserID(c))
	if err != nil {
		if errors.Is(err, coaching.ErrInsufficientData) {
			c.JSON(http.StatusOK, gin.H{
				"available": false,
				"reason":    err.Error(),
			})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": true, "profile": profile})
}
