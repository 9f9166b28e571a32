package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/models"
)

func testChallenge() *models.Challenge {
	return &models.Challenge{
		ID:          "ch-1",
		Title:       "Two Sum",
		Description: "Find two numbers adding to target.",
		Difficulty:  models.DifficultyEasy,
		Tags:        []string{"hash-map", "arrays"},
	}
}

func TestFallbackHintLevels(t *testing.T) {
	f := NewFallback()
	seen := map[string]bool{}
	for level := 1; level <= 3; level++ {
		hint, err := f.GenerateHint(context.Background(), HintRequest{
			Challenge: testChallenge(),
			Code:      "x",
			Level:     level,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, hint)
		assert.False(t, seen[hint], "each level produces a distinct hint")
		seen[hint] = true
	}
}

func TestFallbackHintUsesTags(t *testing.T) {
	f := NewFallback()
	hint, err := f.GenerateHint(context.Background(), HintRequest{
		Challenge: testChallenge(), Level: 1,
	})
	require.NoError(t, err)
	assert.Contains(t, hint, "hash-map")
}

func TestFallbackAnalysisSuggestionBounds(t *testing.T) {
	f := NewFallback()
	cases := []AnalysisRequest{
		{Challenge: testChallenge(), Code: "def solve(numbers):\n    return sorted(numbers)\n", Language: "python", Passed: 3, Total: 3},
		{Challenge: testChallenge(), Code: "short", Language: "python", Passed: 0, Total: 3},
		{Challenge: testChallenge(), Code: strings.Repeat("try:\n    pass\n", 30), Language: "python", Passed: 1, Total: 3},
	}
	for i, req := range cases {
		a, err := f.AnalyzeCode(context.Background(), req)
		require.NoError(t, err, "case %d", i)
		assert.GreaterOrEqual(t, len(a.Suggestions), 3, "case %d", i)
		assert.LessOrEqual(t, len(a.Suggestions), 5, "case %d", i)
		for _, s := range a.Suggestions {
			assert.NotEmpty(t, s)
		}
		assert.NotEmpty(t, a.Complexity.Time)
		assert.NotEmpty(t, a.Approach.Summary)
	}
}

func TestQualityMinimalCodeScoresZero(t *testing.T) {
	f := NewFallback()

	for _, code := range []string{"", "x", "print(1)", "a\n"} {
		s, err := f.ScoreQuality(context.Background(), code, "python")
		require.NoError(t, err)
		assert.Equal(t, QualityScores{}, *s, "code %q must score zero everywhere", code)
		assert.Equal(t, 0.0, s.Overall())
	}
}

func TestQualityScoresStayInRange(t *testing.T) {
	f := NewFallback()
	code := `// Solve using a hash map for constant lookups.
function solveChallenge(numbers, target) {
    const seenValues = new Map();
    try {
        for (const currentValue of numbers) {
            if (seenValues.has(target - currentValue) && currentValue !== null) {
                return [seenValues.get(target - currentValue), currentValue];
            }
            seenValues.set(currentValue, currentValue);
        }
    } catch (problem) {
        return [];
    }
    return [];
}`
	s, err := f.ScoreQuality(context.Background(), code, "javascript")
	require.NoError(t, err)
	for name, v := range map[string]float64{
		"structure": s.Structure, "naming": s.Naming,
		"robustness": s.Robustness, "style": s.Style,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 10.0, name)
	}
	assert.Greater(t, s.Overall(), 5.0, "well-formed code scores above the midline")
}
