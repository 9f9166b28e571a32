// Package coaching aggregates per-match analyses into summaries, trends
// and weakness profiles, and serves rate-limited hints.
package coaching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/codeclash-io/codeclash/pkg/ai"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/ratelimit"
	"github.com/codeclash-io/codeclash/pkg/services"
)

// trendWindow caps trend series at the last N matches per category.
const trendWindow = 10

// hintRule throttles hint generation per user.
var hintRule = ratelimit.Rule{Limit: 5, Window: time.Minute}

// ErrInsufficientData is returned while a user has fewer than the
// threshold of analysed matches.
var ErrInsufficientData = errors.New("not enough analysed matches")

// AnalysisStore is the persistence surface (satisfied by
// *services.AnalysisService).
type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, a *models.Analysis) (*models.Analysis, error)
	GetAnalysis(ctx context.Context, matchID, userID string) (*models.Analysis, error)
	History(ctx context.Context, userID string, page, pageSize int) (*models.AnalysisPage, error)
	Timeline(ctx context.Context, userID string) ([]*models.Analysis, error)
	Recent(ctx context.Context, userID string, n int) ([]*models.Analysis, error)
	CountForUser(ctx context.Context, userID string) (int, error)
	SaveHint(ctx context.Context, h *models.Hint) (*models.Hint, error)
	HintsForMatch(ctx context.Context, matchID, userID string) ([]*models.Hint, error)
}

// CategoryFeedback is one categorized-summary bucket.
type CategoryFeedback struct {
	Category     string                `json:"category"`
	Observations []models.PatternCount `json:"observations,omitempty"`
	Average      float64               `json:"average,omitempty"`
	Samples      int                   `json:"samples"`
}

// Coach is the aggregator over stored analyses.
type Coach struct {
	analyses AnalysisStore
	provider ai.Provider // optional
	fallback *ai.Fallback
	limiter  *ratelimit.Limiter
}

// New creates a coach. provider and limiter may be nil.
func New(analyses AnalysisStore, provider ai.Provider, limiter *ratelimit.Limiter) *Coach {
	return &Coach{
		analyses: analyses,
		provider: provider,
		fallback: ai.NewFallback(),
		limiter:  limiter,
	}
}

// RequestHint produces and stores one hint, throttled per user. The
// external provider is consulted first; any failure falls back to the
// deterministic hint.
func (c *Coach) RequestHint(ctx context.Context, matchID, userID string, level int, challenge *models.Challenge, code, language string) (*models.Hint, error) {
	if level < 1 || level > 3 {
		return nil, services.NewValidationError("level", "must be between 1 and 3")
	}
	if c.limiter != nil {
		decision := c.limiter.Check(ctx, userID, "hint", hintRule)
		if !decision.Allowed {
			return nil, &services.RateLimitedError{RetryAfter: time.Until(decision.ResetAt)}
		}
	}

	req := ai.HintRequest{Challenge: challenge, Code: code, Language: language, Level: level}
	text, err := c.generateHint(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.analyses.SaveHint(ctx, &models.Hint{
		MatchID: matchID,
		UserID:  userID,
		Level:   level,
		Text:    text,
	})
}

func (c *Coach) generateHint(ctx context.Context, req ai.HintRequest) (string, error) {
	if c.provider != nil {
		if text, err := c.provider.GenerateHint(ctx, req); err == nil {
			return text, nil
		} else {
			slog.Warn("AI hint generation failed, using fallback", "error", err)
		}
	}
	return c.fallback.GenerateHint(ctx, req)
}

// GenerateAnalysis produces and stores the post-match analysis for one
// player. Re-generation returns the already-stored record.
func (c *Coach) GenerateAnalysis(ctx context.Context, matchID, userID string, challenge *models.Challenge, code, language string, passed, total int) (*models.Analysis, error) {
	if existing, err := c.analyses.GetAnalysis(ctx, matchID, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}

	req := ai.AnalysisRequest{
		Challenge: challenge, Code: code, Language: language,
		Passed: passed, Total: total,
	}
	analysis, err := c.analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	analysis.MatchID = matchID
	analysis.UserID = userID

	hints, err := c.analyses.HintsForMatch(ctx, matchID, userID)
	if err == nil {
		analysis.HintsUsed = len(hints)
	}

	saved, err := c.analyses.SaveAnalysis(ctx, analysis)
	if errors.Is(err, services.ErrAlreadyExists) {
		return c.analyses.GetAnalysis(ctx, matchID, userID)
	}
	return saved, err
}

func (c *Coach) analyze(ctx context.Context, req ai.AnalysisRequest) (*models.Analysis, error) {
	if c.provider != nil {
		if a, err := c.provider.AnalyzeCode(ctx, req); err == nil {
			return a, nil
		} else {
			slog.Warn("AI analysis failed, using fallback", "error", err)
		}
	}
	return c.fallback.AnalyzeCode(ctx, req)
}

// HintsForMatch lists hints already delivered to a user in one match.
func (c *Coach) HintsForMatch(ctx context.Context, matchID, userID string) ([]*models.Hint, error) {
	return c.analyses.HintsForMatch(ctx, matchID, userID)
}

// GetAnalysis loads one stored record.
func (c *Coach) GetAnalysis(ctx context.Context, matchID, userID string) (*models.Analysis, error) {
	return c.analyses.GetAnalysis(ctx, matchID, userID)
}

// History returns a page of the user's analyses (newest first).
func (c *Coach) History(ctx context.Context, userID string, page, pageSize int) (*models.AnalysisPage, error) {
	return c.analyses.History(ctx, userID, page, pageSize)
}

// Timeline returns the user's analyses in ascending chronological order.
func (c *Coach) Timeline(ctx context.Context, userID string) ([]*models.Analysis, error) {
	return c.analyses.Timeline(ctx, userID)
}

// CategorizedSummary aggregates over exactly the four fixed categories.
func (c *Coach) CategorizedSummary(ctx context.Context, userID string) (map[string]CategoryFeedback, error) {
	all, err := c.analyses.Timeline(ctx, userID)
	if err != nil {
		return nil, err
	}

	timeCounts := map[string]int{}
	spaceCounts := map[string]int{}
	patternCounts := map[string]int{}
	var readabilitySum float64

	for _, a := range all {
		if a.Complexity.Time != "" {
			timeCounts[a.Complexity.Time]++
		}
		if a.Complexity.Space != "" {
			spaceCounts[a.Complexity.Space]++
		}
		for _, p := range a.Approach.Patterns {
			patternCounts[p]++
		}
		readabilitySum += a.Readability.Score
	}

	n := len(all)
	avgReadability := 0.0
	if n > 0 {
		avgReadability = readabilitySum / float64(n)
	}

	return map[string]CategoryFeedback{
		models.CategoryTimeComplexity: {
			Category: models.CategoryTimeComplexity, Observations: topCounts(timeCounts, 0), Samples: n,
		},
		models.CategorySpaceComplexity: {
			Category: models.CategorySpaceComplexity, Observations: topCounts(spaceCounts, 0), Samples: n,
		},
		models.CategoryReadability: {
			Category: models.CategoryReadability, Average: avgReadability, Samples: n,
		},
		models.CategoryPatterns: {
			Category: models.CategoryPatterns, Observations: topCounts(patternCounts, 0), Samples: n,
		},
	}, nil
}

// Trends returns per-category series over at most the last ten matches,
// in ascending chronological order.
func (c *Coach) Trends(ctx context.Context, userID string) (map[string][]models.TrendPoint, error) {
	recent, err := c.analyses.Recent(ctx, userID, trendWindow)
	if err != nil {
		return nil, err
	}
	// Recent is newest-first; trends read oldest-first.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	trends := map[string][]models.TrendPoint{
		models.CategoryTimeComplexity:  {},
		models.CategorySpaceComplexity: {},
		models.CategoryReadability:     {},
		models.CategoryPatterns:        {},
	}
	for _, a := range recent {
		trends[models.CategoryTimeComplexity] = append(trends[models.CategoryTimeComplexity],
			models.TrendPoint{MatchID: a.MatchID, Value: complexityValue(a.Complexity.Time), Timestamp: a.CreatedAt})
		trends[models.CategorySpaceComplexity] = append(trends[models.CategorySpaceComplexity],
			models.TrendPoint{MatchID: a.MatchID, Value: complexityValue(a.Complexity.Space), Timestamp: a.CreatedAt})
		trends[models.CategoryReadability] = append(trends[models.CategoryReadability],
			models.TrendPoint{MatchID: a.MatchID, Value: a.Readability.Score, Timestamp: a.CreatedAt})
		trends[models.CategoryPatterns] = append(trends[models.CategoryPatterns],
			models.TrendPoint{MatchID: a.MatchID, Value: float64(len(a.Approach.Patterns)), Timestamp: a.CreatedAt})
	}
	return trends, nil
}

// WeaknessProfile aggregates recurring weakness signals. Detection is
// withheld until the user has at least five analysed matches; the summary
// reports the top three patterns by frequency.
func (c *Coach) WeaknessProfile(ctx context.Context, userID string) (*models.WeaknessProfile, error) {
	count, err := c.analyses.CountForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count < models.MinAnalysesForWeakness {
		return nil, fmt.Errorf("%w: have %d, need %d",
			ErrInsufficientData, count, models.MinAnalysesForWeakness)
	}

	all, err := c.analyses.Timeline(ctx, userID)
	if err != nil {
		return nil, err
	}

	signals := map[string]int{}
	for _, a := range all {
		if a.Readability.Score > 0 && a.Readability.Score < 5 {
			signals["readability"]++
		}
		if isSuperlinear(a.Complexity.Time) {
			signals["time_complexity"]++
		}
		if len(a.Bugs) > 0 {
			signals["edge_case_handling"]++
		}
		if a.HintsUsed > 2 {
			signals["hint_reliance"]++
		}
	}

	return &models.WeaknessProfile{
		UserID:      userID,
		TopPatterns: topCounts(signals, 3),
		Analysed:    count,
		UpdatedAt:   time.Now(),
	}, nil
}

// topCounts sorts counts descending (ties alphabetical); limit 0 keeps all.
func topCounts(counts map[string]int, limit int) []models.PatternCount {
	out := make([]models.PatternCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, models.PatternCount{Pattern: p, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Pattern < out[j].Pattern
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// complexityValue maps big-O labels onto a 0–10 scale for trending.
func complexityValue(label string) float64 {
	switch strings.ReplaceAll(strings.ToLower(label), " ", "") {
	case "o(1)":
		return 10
	case "o(logn)":
		return 9
	case "o(n)":
		return 8
	case "o(nlogn)":
		return 6
	case "o(n^2)", "o(n2)":
		return 4
	case "":
		return 0
	default:
		return 2
	}
}

func isSuperlinear(label string) bool {
	return complexityValue(label) > 0 && complexityValue(label) <= 4
}
