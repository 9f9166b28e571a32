package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/codeclash-io/codeclash/pkg/execqueue"
	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func runRespondError(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)
	respondError(c, err)
	return w
}

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", services.NewValidationError("field", "bad"), http.StatusBadRequest},
		{"not found", services.ErrNotFound, http.StatusNotFound},
		{"match not found", match.ErrNotFound, http.StatusNotFound},
		{"unauthorized", ErrInvalidCredentials, http.StatusUnauthorized},
		{"forbidden", services.ErrForbidden, http.StatusForbidden},
		{"not participant", match.ErrNotParticipant, http.StatusForbidden},
		{"already exists", services.ErrAlreadyExists, http.StatusConflict},
		{"conflict", services.ErrConflict, http.StatusConflict},
		{"match over", match.ErrMatchOver, http.StatusConflict},
		{"not active", match.ErrNotActive, http.StatusConflict},
		{"unavailable", services.ErrUnavailable, http.StatusServiceUnavailable},
		{"queue full", execqueue.ErrQueueFull, http.StatusServiceUnavailable},
		{"wrapped conflict", fmt.Errorf("ctx: %w", services.ErrConflict), http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := runRespondError(t, c.err)
			assert.Equal(t, c.code, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestRespondErrorRateLimitedSetsRetryAfter(t *testing.T) {
	w := runRespondError(t, &services.RateLimitedError{RetryAfter: 30 * time.Second})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "31", w.Header().Get("Retry-After"))
}

func TestRespondErrorHidesInternalDetails(t *testing.T) {
	w := runRespondError(t, errors.New("pq: secret table missing"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret table")
}
