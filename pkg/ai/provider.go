// Package ai defines the text-producing capability used for hints, code
// analyses and quality scoring. Every consumer must tolerate the external
// provider being absent or failing: the Fallback implementation satisfies
// all output invariants deterministically.
package ai

import (
	"context"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// HintRequest asks for one progressive hint.
type HintRequest struct {
	Challenge *models.Challenge
	Code      string
	Language  string
	Level     int // 1 = nudge … 3 = near-solution
}

// AnalysisRequest asks for a post-match code review.
type AnalysisRequest struct {
	Challenge *models.Challenge
	Code      string
	Language  string
	Passed    int
	Total     int
}

// QualityScores are the four 0–10 sub-scores of the quality dimension.
type QualityScores struct {
	Structure  float64 `json:"structure"`
	Naming     float64 `json:"naming"`
	Robustness float64 `json:"robustness"`
	Style      float64 `json:"style"`
}

// Overall is the mean of the four sub-scores.
func (q QualityScores) Overall() float64 {
	return (q.Structure + q.Naming + q.Robustness + q.Style) / 4
}

// Provider produces hints, analyses and quality scores. Implementations
// may call an external model; callers always have a deterministic fallback.
type Provider interface {
	GenerateHint(ctx context.Context, req HintRequest) (string, error)
	AnalyzeCode(ctx context.Context, req AnalysisRequest) (*models.Analysis, error)
	ScoreQuality(ctx context.Context, code, language string) (*QualityScores, error)
}
