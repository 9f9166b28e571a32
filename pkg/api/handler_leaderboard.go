package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/pkg/store"
)

func (s *Server) leaderboardHandler(c *gin.Context) {
	period := models.LeaderboardPeriod(c.DefaultQuery("period", string(models.PeriodAllTime)))
	if !models.ValidPeriod(period) {
		respondError(c, services.NewValidationError("period", "must be daily, weekly or all-time"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "25"))
	if err != nil || limit < 1 || limit > 100 {
		respondError(c, services.NewValidationError("limit", "must be between 1 and 100"))
		return
	}

	entries, err := s.board.TopN(c.Request.Context(), period, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "entries": entries})
}

func (s *Server) rankHandler(c *gin.Context) {
	period := models.LeaderboardPeriod(c.DefaultQuery("period", string(models.PeriodAllTime)))
	if !models.ValidPeriod(period) {
		respondError(c, services.NewValidationError("period", "must be daily, weekly or all-time"))
		return
	}
	userID := c.DefaultQuery("user_id", currentUserID(c))

	entry, err := s.board.Rank(c.Request.Context(), period, userID)
	if err != nil {
		if errors.Is(err, store.ErrNil) {
			respondError(c, services.ErrNotFound)
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
