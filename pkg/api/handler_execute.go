package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/judging"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/services"
)

type executeTestCase struct {
	Input          any `json:"input"`
	ExpectedOutput any `json:"expected_output"`
}

type executeRequest struct {
	Code      string            `json:"code" binding:"required"`
	Language  string            `json:"language" binding:"required"`
	TestCases []executeTestCase `json:"test_cases"`
	TimeoutMs int               `json:"timeout_ms"`
}

type executeCaseResult struct {
	Index  int                     `json:"index"`
	Passed *bool                   `json:"passed,omitempty"` // nil when no expected output was given
	Result *models.ExecutionResult `json:"result"`
}

type executeResponse struct {
	Results     []executeCaseResult `json:"results"`
	PassedCount int                 `json:"passed_count"`
	TotalCases  int                 `json:"total_cases"`
}

// executeHandler runs ad-hoc code against optional test cases.
func (s *Server) executeHandler(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	if req.TimeoutMs == 0 {
		req.TimeoutMs = models.DefaultExecutionTimeoutMs
	}
	if req.TimeoutMs < models.MinExecutionTimeoutMs || req.TimeoutMs > models.MaxExecutionTimeoutMs {
		respondError(c, services.NewValidationError("timeoutMs", "out of range"))
		return
	}
	if !models.SupportedLanguage(req.Language) {
		respondError(c, services.NewValidationError("language", "unsupported language"))
		return
	}

	// No test cases: a single bare run.
	cases := req.TestCases
	if len(cases) == 0 {
		cases = []executeTestCase{{}}
	}

	resp := executeResponse{TotalCases: len(cases)}
	for i, tc := range cases {
		input := ""
		if tc.Input != nil {
			raw, err := json.Marshal(tc.Input)
			if err != nil {
				respondError(c, services.NewValidationError("testCases", "unencodable input"))
				return
			}
			input = string(raw)
		}

		handle, err := s.execQueue.Enqueue(models.ExecutionRequest{
			Language:  req.Language,
			Code:      req.Code,
			TestInput: input,
			TimeoutMs: req.TimeoutMs,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		wait := time.Duration(req.TimeoutMs)*time.Millisecond + 30*time.Second
		result, err := s.execQueue.AwaitResult(c.Request.Context(), handle, wait)
		if err != nil {
			respondError(c, err)
			return
		}

		caseResult := executeCaseResult{Index: i, Result: result}
		if tc.ExpectedOutput != nil {
			passed := result.ExitCode == 0 && !result.TimedOut &&
				judging.OutputMatches(result.Stdout, tc.ExpectedOutput)
			caseResult.Passed = &passed
			if passed {
				resp.PassedCount++
			}
		}
		resp.Results = append(resp.Results, caseResult)
	}

	// A timed-out single run surfaces 408 per the error contract while
	// still carrying the uniform result body.
	status := http.StatusOK
	if len(resp.Results) == 1 && resp.Results[0].Result.TimedOut {
		status = http.StatusRequestTimeout
	}
	c.JSON(status, resp)
}
