package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// Fallback is the deterministic provider used when no external model is
// configured or a call fails. Every output satisfies the same invariants
// as the model-backed path: hints are non-empty, analyses carry 3–5
// non-empty suggestions, quality sub-scores stay in [0,10].
type Fallback struct{}

var _ Provider = (*Fallback)(nil)

// NewFallback creates the deterministic provider.
func NewFallback() *Fallback { return &Fallback{} }

// GenerateHint derives a hint from the challenge's tags and difficulty.
func (f *Fallback) GenerateHint(_ context.Context, req HintRequest) (string, error) {
	tag := "the core data structure"
	if len(req.Challenge.Tags) > 0 {
		tag = req.Challenge.Tags[0]
	}
	switch {
	case req.Level <= 1:
		return fmt.Sprintf("Think about %s and how the expected output relates to the input shape.", tag), nil
	case req.Level == 2:
		return fmt.Sprintf("A common approach for %s problems at %s difficulty is to process the input in a single pass while tracking intermediate state.", tag, req.Challenge.Difficulty), nil
	default:
		return fmt.Sprintf("Break the problem into: parse the input, apply the %s technique, and print the result in the exact expected format. Check edge cases like empty input.", tag), nil
	}
}

// AnalyzeCode produces a structural review without calling any model.
func (f *Fallback) AnalyzeCode(_ context.Context, req AnalysisRequest) (*models.Analysis, error) {
	scores, _ := f.ScoreQuality(context.Background(), req.Code, req.Language)

	suggestions := []string{
		"Add comments around the non-obvious steps of your solution.",
		"Extract repeated logic into named helper functions.",
		"Handle empty and single-element inputs explicitly.",
	}
	if req.Total > 0 && req.Passed < req.Total {
		suggestions = append(suggestions,
			fmt.Sprintf("Revisit the %d failing test case(s); compare your output format against the expected output exactly.", req.Total-req.Passed))
	}
	if !strings.Contains(req.Code, "try") && !strings.Contains(req.Code, "except") &&
		!strings.Contains(req.Code, "catch") {
		suggestions = append(suggestions, "Guard against malformed input instead of assuming the happy path.")
	}
	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}

	patterns := []string{"iteration"}
	if strings.Contains(req.Code, "sort") {
		patterns = append(patterns, "sorting")
	}
	if countFunctions(req.Code) > 1 {
		patterns = append(patterns, "decomposition")
	}

	ratio := 0.0
	if req.Total > 0 {
		ratio = float64(req.Passed) / float64(req.Total)
	}

	return &models.Analysis{
		Complexity: models.ComplexityFinding{
			Time:    "O(n)",
			Space:   "O(n)",
			Comment: "Estimated from a single-pass structure; verify against nested loops.",
		},
		Readability: models.ReadabilityFinding{
			Score:   scores.Structure,
			Comment: fmt.Sprintf("Passed %.0f%% of tests.", ratio*100),
		},
		Approach: models.ApproachFinding{
			Summary:  "Direct implementation of the problem statement.",
			Patterns: patterns,
		},
		Suggestions: suggestions,
	}, nil
}

// ScoreQuality applies the deterministic heuristic: empty or minimal code
// (stripped length < 20 or fewer than 2 non-blank lines) scores 0 across
// all sub-scores; otherwise additive credit per signal, capped at 10.
func (f *Fallback) ScoreQuality(_ context.Context, code, _ string) (*QualityScores, error) {
	stripped := strings.TrimSpace(code)
	nonBlank := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			nonBlank++
		}
	}
	if len(stripped) < 20 || nonBlank < 2 {
		return &QualityScores{}, nil
	}

	var s QualityScores

	// Structure: length bands, indentation, function definitions, returns.
	switch {
	case len(stripped) > 600:
		s.Structure += 2
	case len(stripped) > 120:
		s.Structure += 4
	default:
		s.Structure += 3
	}
	if strings.Contains(code, "\n    ") || strings.Contains(code, "\n\t") {
		s.Structure += 3
	}
	if countFunctions(code) > 0 {
		s.Structure += 2
	}
	if strings.Contains(code, "return") {
		s.Structure += 1
	}

	// Naming: meaningful identifiers beyond single letters.
	words := strings.FieldsFunc(code, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9' || r == '_')
	})
	meaningful := 0
	for _, w := range words {
		if len(w) >= 4 {
			meaningful++
		}
	}
	switch {
	case meaningful >= 10:
		s.Naming = 8
	case meaningful >= 4:
		s.Naming = 6
	default:
		s.Naming = 3
	}

	// Robustness: equality hygiene, null guards, error handling.
	if !strings.Contains(code, "==") || strings.Contains(code, "===") {
		s.Robustness += 3
	}
	if strings.Contains(code, "null") || strings.Contains(code, "None") ||
		strings.Contains(code, "undefined") || strings.Contains(code, "nil") {
		s.Robustness += 3
	}
	if strings.Contains(code, "try") || strings.Contains(code, "except") ||
		strings.Contains(code, "catch") {
		s.Robustness += 4
	}

	// Style: comment markers and at least five non-blank lines.
	if strings.Contains(code, "//") || strings.Contains(code, "#") ||
		strings.Contains(code, "/*") {
		s.Style += 5
	}
	if nonBlank >= 5 {
		s.Style += 3
	}

	cap10 := func(v *float64) {
		if *v > 10 {
			*v = 10
		}
	}
	cap10(&s.Structure)
	cap10(&s.Naming)
	cap10(&s.Robustness)
	cap10(&s.Style)
	return &s, nil
}

// countFunctions counts function definitions across supported languages.
func countFunctions(code string) int {
	return strings.Count(code, "def ") +
		strings.Count(code, "function ") +
		strings.Count(code, "func ") +
		strings.Count(code, "=>")
}
