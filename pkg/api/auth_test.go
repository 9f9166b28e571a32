package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/store"
)

func TestVerifyTokenAgainstStore(t *testing.T) {
	mem := store.NewMemoryStore()
	auth := NewAuthService(nil, mem)
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, tokenKey("tok-1"), "alice", 0))

	userID, err := auth.VerifyToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, err = auth.VerifyToken(ctx, "unknown")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.VerifyToken(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterPasswordPolicy(t *testing.T) {
	auth := NewAuthService(nil, store.NewMemoryStore())
	_, err := auth.Register(context.Background(), "alice", "a@example.com", "short")
	assert.Error(t, err, "passwords under 8 characters are rejected before any DB access")
}

func TestExecuteHandlerValidation(t *testing.T) {
	s := &Server{cfg: &config.Config{}}

	run := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")
		s.executeHandler(c)
		return w
	}

	// Out-of-range timeouts are rejected at the boundary values.
	assert.Equal(t, http.StatusBadRequest,
		run(`{"code":"x","language":"python","timeout_ms":99}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		run(`{"code":"x","language":"python","timeout_ms":10001}`).Code)

	// Unsupported language and missing fields are rejected.
	assert.Equal(t, http.StatusBadRequest,
		run(`{"code":"x","language":"cobol","timeout_ms":1000}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		run(`{"language":"python"}`).Code)
}
