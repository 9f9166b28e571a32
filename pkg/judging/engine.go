// Package judging scores submissions: weighted correctness over per-test
// executions, efficiency, quality (AI-assisted with deterministic
// fallback), creativity, and winner determination.
package judging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/codeclash-io/codeclash/pkg/ai"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// Runner is the execution queue surface the engine drives. Satisfied by
// *execqueue.Queue.
type Runner interface {
	Enqueue(req models.ExecutionRequest) (string, error)
	AwaitResult(ctx context.Context, handle string, waitTimeout time.Duration) (*models.ExecutionResult, error)
}

// awaitSlack pads the per-job wait beyond the execution timeout to cover
// queueing and retries.
const awaitSlack = 30 * time.Second

// Final-score weights.
const (
	weightCorrectness = 0.4
	weightEfficiency  = 0.3
	weightQuality     = 0.2
	weightCreativity  = 0.1
)

// Engine judges one submission at a time.
type Engine struct {
	runner   Runner
	provider ai.Provider // optional; nil disables AI quality scoring
	fallback *ai.Fallback
}

// New creates a judging engine. provider may be nil.
func New(runner Runner, provider ai.Provider) *Engine {
	return &Engine{
		runner:   runner,
		provider: provider,
		fallback: ai.NewFallback(),
	}
}

// Judge runs every test case in a fresh execution and aggregates the four
// score dimensions into a final 0–1000 score.
func (e *Engine) Judge(ctx context.Context, code, language string, challenge *models.Challenge) (*models.Result, error) {
	result := &models.Result{TotalTests: len(challenge.TestCases)}

	timeoutMs := challenge.TimeLimitSeconds * 1000
	if timeoutMs < models.MinExecutionTimeoutMs || timeoutMs > models.MaxExecutionTimeoutMs {
		timeoutMs = models.MaxExecutionTimeoutMs
	}

	var (
		passedWeight, totalWeight float64
		totalTimeMs               int64
		peakMem                   int64
	)
	for i, tc := range challenge.TestCases {
		weight := tc.Weight
		totalWeight += weight

		tr, execResult, err := e.runTestCase(ctx, code, language, timeoutMs, i, tc)
		if err != nil {
			return nil, fmt.Errorf("running test case %d: %w", i, err)
		}
		result.TestResults = append(result.TestResults, *tr)
		if tr.Passed {
			result.PassedTests++
			passedWeight += weight
			totalTimeMs += execResult.ExecutionTimeMs
			if execResult.MemoryBytes > peakMem {
				peakMem = execResult.MemoryBytes
			}
		}
	}

	// Zero-weight suites degrade to equal weighting.
	if totalWeight == 0 && result.TotalTests > 0 {
		passedWeight = float64(result.PassedTests)
		totalWeight = float64(result.TotalTests)
	}
	if totalWeight > 0 {
		result.Correctness = passedWeight / totalWeight * 10
	}

	if result.PassedTests > 0 {
		result.AvgTimeMs = float64(totalTimeMs) / float64(result.PassedTests)
		result.PeakMemBytes = peakMem
		result.Efficiency = efficiencyScore(result.AvgTimeMs, peakMem, challenge.OptimalExecutionTime)
	}

	result.Quality = e.qualityScore(ctx, code, language)
	result.Creativity = creativityScore(code, result.PassedTests)
	result.FinalScore = 100 * (weightCorrectness*result.Correctness +
		weightEfficiency*result.Efficiency +
		weightQuality*result.Quality +
		weightCreativity*result.Creativity)

	return result, nil
}

// runTestCase executes one test in a fresh sandbox and evaluates it.
func (e *Engine) runTestCase(ctx context.Context, code, language string, timeoutMs, index int, tc models.TestCase) (*models.TestResult, *models.ExecutionResult, error) {
	input, err := json.Marshal(tc.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding test input: %w", err)
	}

	handle, err := e.runner.Enqueue(models.ExecutionRequest{
		Language:  language,
		Code:      code,
		TestInput: string(input),
		TimeoutMs: timeoutMs,
	})
	if err != nil {
		return nil, nil, err
	}

	wait := time.Duration(timeoutMs)*time.Millisecond + awaitSlack
	execResult, err := e.runner.AwaitResult(ctx, handle, wait)
	if err != nil {
		return nil, nil, err
	}

	tr := &models.TestResult{
		Index:           index,
		Hidden:          tc.IsHidden,
		ExecutionTimeMs: execResult.ExecutionTimeMs,
		MemoryBytes:     execResult.MemoryBytes,
		TimedOut:        execResult.TimedOut,
		Stderr:          execResult.Stderr,
	}
	tr.Passed = execResult.ExitCode == 0 && !execResult.TimedOut &&
		OutputMatches(execResult.Stdout, tc.ExpectedOutput)
	if !tc.IsHidden {
		tr.ActualOutput = strings.TrimSpace(execResult.Stdout)
	}
	return tr, execResult, nil
}

// OutputMatches parses candidate stdout as JSON and deep-compares it with
// the expected output. On parse failure it retries the last non-empty
// line; failing that, it falls back to a trimmed string comparison.
func OutputMatches(stdout string, expected any) bool {
	trimmed := strings.TrimSpace(stdout)

	if actual, ok := parseJSON(trimmed); ok {
		return deepEqualJSON(actual, expected)
	}
	if last := lastNonEmptyLine(trimmed); last != "" {
		if actual, ok := parseJSON(last); ok {
			return deepEqualJSON(actual, expected)
		}
	}

	expectedStr, isStr := expected.(string)
	if !isStr {
		raw, err := json.Marshal(expected)
		if err != nil {
			return false
		}
		expectedStr = string(raw)
	}
	return trimmed == strings.TrimSpace(expectedStr) ||
		lastNonEmptyLine(trimmed) == strings.TrimSpace(expectedStr)
}

func parseJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// deepEqualJSON compares after normalizing both sides through a JSON
// round-trip, so 3 and 3.0 or differently-typed slices compare equal.
func deepEqualJSON(actual, expected any) bool {
	normalized, err := json.Marshal(expected)
	if err != nil {
		return false
	}
	var expectedNorm any
	if err := json.Unmarshal(normalized, &expectedNorm); err != nil {
		return false
	}
	return reflect.DeepEqual(actual, expectedNorm)
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// qualityScore consults the AI provider when configured, falling back to
// the deterministic heuristic on any failure.
func (e *Engine) qualityScore(ctx context.Context, code, language string) float64 {
	if e.provider != nil {
		if scores, err := e.provider.ScoreQuality(ctx, code, language); err == nil {
			return scores.Overall()
		} else {
			slog.Warn("AI quality scoring failed, using heuristic", "error", err)
		}
	}
	scores, _ := e.fallback.ScoreQuality(ctx, code, language)
	return scores.Overall()
}
