package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/services"
)

func (s *Server) userProfileHandler(c *gin.Context) {
	user, err := s.users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	// Only the owner sees their email.
	if user.ID != currentUserID(c) {
		user.Email = ""
	}
	c.JSON(http.StatusOK, user)
}

type updateProfileRequest struct {
	Username string `json:"username" binding:"required"`
}

func (s *Server) updateProfileHandler(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	user, err := s.users.UpdateProfile(c.Request.Context(), currentUserID(c), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) userStatsHandler(c *gin.Context) {
	stats, err := s.users.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) matchHistoryHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		respondError(c, services.NewValidationError("limit", "must be an integer"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		respondError(c, services.NewValidationError("offset", "must be an integer"))
		return
	}

	page, err := s.matches.History(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
