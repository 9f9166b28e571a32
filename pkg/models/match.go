// Package models defines the shared domain types exchanged between the
// ephemeral state store, the persistent services, and the API edge.
package models

import "time"

// MatchStatus represents the lifecycle state of a match.
type MatchStatus string

// Match lifecycle states.
const (
	MatchStatusWaiting   MatchStatus = "waiting"
	MatchStatusLobby     MatchStatus = "lobby"
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusAbandoned MatchStatus = "abandoned"
)

// Terminal reports whether no further mutations may persist in this state.
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusCompleted || s == MatchStatusAbandoned
}

// CursorPosition is a player's editor cursor.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// PlayerState holds the per-player fields of an in-flight match.
// ready and submitted are monotonic: they transition false→true only.
type PlayerState struct {
	Code        string         `json:"code"`
	Cursor      CursorPosition `json:"cursor"`
	Language    string         `json:"language"`
	Ready       bool           `json:"ready"`
	Submitted   bool           `json:"submitted"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
}

// MatchState is the ephemeral view of a match, owned by the match state
// machine. TTL one hour, extended on activity.
type MatchState struct {
	ID          string      `json:"id"`
	ChallengeID string      `json:"challenge_id"`
	Player1ID   string      `json:"player1_id"`
	Player2ID   string      `json:"player2_id"`
	Status      MatchStatus `json:"status"`
	Player1     PlayerState `json:"player1"`
	Player2     PlayerState `json:"player2"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// PlayerFor returns the state of the given player and true, or false when
// the user is not a participant.
func (m *MatchState) PlayerFor(userID string) (*PlayerState, bool) {
	switch userID {
	case m.Player1ID:
		return &m.Player1, true
	case m.Player2ID:
		return &m.Player2, true
	}
	return nil, false
}

// OpponentOf returns the other participant's user id.
func (m *MatchState) OpponentOf(userID string) string {
	if userID == m.Player1ID {
		return m.Player2ID
	}
	return m.Player1ID
}

// Match is the persistent match row, source of truth for completed history.
// Its StartedAt is authoritative over the ephemeral value.
type Match struct {
	ID           string      `json:"id"`
	ChallengeID  string      `json:"challenge_id"`
	Player1ID    string      `json:"player1_id"`
	Player2ID    string      `json:"player2_id"`
	WinnerID     *string     `json:"winner_id,omitempty"`
	Player1Score *float64    `json:"player1_score,omitempty"`
	Player2Score *float64    `json:"player2_score,omitempty"`
	Status       MatchStatus `json:"status"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// MatchListResponse contains a paginated match history page.
type MatchListResponse struct {
	Matches    []*Match `json:"matches"`
	TotalCount int      `json:"total_count"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
}

// MatchOutcome is the persisted result of a completed match.
type MatchOutcome struct {
	MatchID      string             `json:"match_id"`
	WinnerID     string             `json:"winner_id,omitempty"` // empty on tie
	Tie          bool               `json:"tie"`
	Player1Score float64            `json:"player1_score"`
	Player2Score float64            `json:"player2_score"`
	Breakdown    map[string]*Result `json:"breakdown,omitempty"` // userID → judged result
	CompletedAt  time.Time          `json:"completed_at"`
}

// Result is the judged outcome for one player (see judging engine).
type Result struct {
	Correctness  float64      `json:"correctness"`
	Efficiency   float64      `json:"efficiency"`
	Quality      float64      `json:"quality"`
	Creativity   float64      `json:"creativity"`
	FinalScore   float64      `json:"final_score"`
	PassedTests  int          `json:"passed_tests"`
	TotalTests   int          `json:"total_tests"`
	TestResults  []TestResult `json:"test_results,omitempty"`
	Feedback     string       `json:"feedback,omitempty"`
	AvgTimeMs    float64      `json:"avg_time_ms"`
	PeakMemBytes int64        `json:"peak_mem_bytes"`
}

// TestResult records a single test-case evaluation.
type TestResult struct {
	Index           int    `json:"index"`
	Passed          bool   `json:"passed"`
	Hidden          bool   `json:"hidden"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	MemoryBytes     int64  `json:"memory_bytes"`
	TimedOut        bool   `json:"timed_out"`
	Stderr          string `json:"stderr,omitempty"`
	ActualOutput    string `json:"actual_output,omitempty"` // withheld for hidden cases
}
