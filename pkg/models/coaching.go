package models

import "time"

// Analysis categories exposed by the categorized summary. Exactly these
// four are reported; stored findings outside them are ignored by summaries.
const (
	CategoryTimeComplexity  = "time_complexity"
	CategorySpaceComplexity = "space_complexity"
	CategoryReadability     = "readability"
	CategoryPatterns        = "patterns"
)

// AnalysisCategories lists the summary categories in reporting order.
var AnalysisCategories = []string{
	CategoryTimeComplexity,
	CategorySpaceComplexity,
	CategoryReadability,
	CategoryPatterns,
}

// ComplexityFinding holds the complexity sub-object of an analysis.
type ComplexityFinding struct {
	Time    string `json:"time"`
	Space   string `json:"space"`
	Comment string `json:"comment,omitempty"`
}

// ReadabilityFinding scores structure and naming on a 0–10 scale.
type ReadabilityFinding struct {
	Score   float64 `json:"score"`
	Comment string  `json:"comment,omitempty"`
}

// ApproachFinding describes the solution strategy and its patterns.
type ApproachFinding struct {
	Summary  string   `json:"summary"`
	Patterns []string `json:"patterns,omitempty"`
}

// BugFinding is one suspected defect.
type BugFinding struct {
	Line        int    `json:"line,omitempty"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
}

// Analysis is a persisted per-match, per-user coaching record.
// Suggestions always holds 3–5 non-empty entries.
type Analysis struct {
	ID          string             `json:"id"`
	MatchID     string             `json:"match_id"`
	UserID      string             `json:"user_id"`
	Complexity  ComplexityFinding  `json:"complexity"`
	Readability ReadabilityFinding `json:"readability"`
	Approach    ApproachFinding    `json:"approach"`
	Suggestions []string           `json:"suggestions"`
	Bugs        []BugFinding       `json:"bugs,omitempty"`
	HintsUsed   int                `json:"hints_used"`
	CreatedAt   time.Time          `json:"created_at"`
}

// AnalysisPage is a paginated history response with the true total count.
type AnalysisPage struct {
	Analyses   []*Analysis `json:"analyses"`
	TotalCount int         `json:"total_count"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
}

// TrendPoint is one sample in a per-category trend series.
type TrendPoint struct {
	MatchID   string    `json:"match_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// WeaknessProfile aggregates recurring findings. Not surfaced until the
// user has at least MinAnalysesForWeakness analysed matches.
type WeaknessProfile struct {
	UserID      string         `json:"user_id"`
	TopPatterns []PatternCount `json:"top_patterns"` // top 3 by frequency
	Analysed    int            `json:"analysed"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PatternCount pairs a recurring pattern with its frequency.
type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// MinAnalysesForWeakness is the detection threshold for weakness profiles.
const MinAnalysesForWeakness = 5

// Hint is a stored coaching hint for a match.
type Hint struct {
	ID        string    `json:"id"`
	MatchID   string    `json:"match_id"`
	UserID    string    `json:"user_id"`
	Level     int       `json:"level"` // 1 = nudge … 3 = near-solution
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
