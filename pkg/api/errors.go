package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/execqueue"
	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/services"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// respondError maps service-layer error kinds to HTTP responses.
func respondError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: validErr.Error()})
		return
	}

	var rateErr *services.RateLimitedError
	if errors.As(err, &rateErr) {
		c.Header("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, errorResponse{Error: rateErr.Error()})
		return
	}

	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, match.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "resource not found"})
	case errors.Is(err, ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
	case errors.Is(err, services.ErrForbidden), errors.Is(err, match.ErrNotParticipant):
		c.JSON(http.StatusForbidden, errorResponse{Error: "forbidden"})
	case errors.Is(err, services.ErrAlreadyExists):
		c.JSON(http.StatusConflict, errorResponse{Error: "resource already exists"})
	case errors.Is(err, services.ErrConflict),
		errors.Is(err, match.ErrMatchOver),
		errors.Is(err, match.ErrNotActive):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrUnavailable),
		errors.Is(err, execqueue.ErrQueueFull),
		errors.Is(err, execqueue.ErrQueueStopped):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "service temporarily unavailable"})
	default:
		requestID, _ := c.Get(contextKeyRequestID)
		slog.Error("Unexpected service error",
			"path", c.FullPath(), "request_id", requestID, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
