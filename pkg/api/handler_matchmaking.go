package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/matchmaking"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/services"
)

type joinQueueRequest struct {
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
}

type joinQueueResponse struct {
	Queued            bool `json:"queued"`
	EstimatedWaitSecs int  `json:"estimated_wait_seconds"`
}

func (s *Server) joinQueueHandler(c *gin.Context) {
	var req joinQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = string(models.DifficultyAny)
	}
	if req.Language == "" {
		req.Language = "any"
	}
	partition := matchmaking.Partition{
		Difficulty: models.Difficulty(req.Difficulty),
		Language:   req.Language,
	}
	if !matchmaking.ValidPartition(partition) {
		respondError(c, services.NewValidationError("difficulty/language", "unknown queue partition"))
		return
	}

	userID := currentUserID(c)
	user, err := s.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	estimate, err := s.mmQueue.Enqueue(c.Request.Context(), partition, userID, user.Rating)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, joinQueueResponse{Queued: true, EstimatedWaitSecs: estimate})
}

func (s *Server) leaveQueueHandler(c *gin.Context) {
	if err := s.mmQueue.RemoveUser(c.Request.Context(), currentUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": false})
}

type customMatchRequest struct {
	OpponentID  string `json:"opponent_id" binding:"required"`
	ChallengeID string `json:"challenge_id" binding:"required"`
}

func (s *Server) customMatchHandler(c *gin.Context) {
	var req customMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}

	challenge, err := s.challenges.GetChallenge(c.Request.Context(), req.ChallengeID)
	if err != nil {
		respondError(c, err)
		return
	}

	userID := currentUserID(c)
	state, err := s.matchSM.CreateLobby(c.Request.Context(), challenge, userID, req.OpponentID)
	if err != nil {
		respondError(c, err)
		return
	}

	s.hub.NotifyMatchFound(userID, state, challenge, req.OpponentID)
	s.hub.NotifyMatchFound(req.OpponentID, state, challenge, userID)
	c.JSON(http.StatusCreated, state)
}
