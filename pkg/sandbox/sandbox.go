// Package sandbox runs untrusted player code inside resource-limited
// containers with no network access, and defines the Executor contract
// shared with the cloud judge adapter.
package sandbox

import (
	"context"
	"fmt"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// Executor runs one piece of untrusted code and reports a uniform result.
// A wall-clock timeout is reported in the result (TimedOut=true,
// ExitCode=124), never as an error.
type Executor interface {
	Execute(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResult, error)
}

// ValidateRequest normalizes and checks an execution request. A zero
// TimeoutMs becomes the default; out-of-range values are rejected.
func ValidateRequest(req *models.ExecutionRequest) error {
	if !models.SupportedLanguage(req.Language) {
		return fmt.Errorf("unsupported language %q", req.Language)
	}
	if req.Code == "" {
		return fmt.Errorf("code must not be empty")
	}
	if req.TimeoutMs == 0 {
		req.TimeoutMs = models.DefaultExecutionTimeoutMs
	}
	if req.TimeoutMs < models.MinExecutionTimeoutMs || req.TimeoutMs > models.MaxExecutionTimeoutMs {
		return fmt.Errorf("timeoutMs must be between %d and %d, got %d",
			models.MinExecutionTimeoutMs, models.MaxExecutionTimeoutMs, req.TimeoutMs)
	}
	return nil
}
