package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeclash-io/codeclash/pkg/database"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// Suggestion count bounds enforced on every stored analysis.
const (
	MinSuggestions = 3
	MaxSuggestions = 5
)

// MaxAnalysisPageSize caps history pagination.
const MaxAnalysisPageSize = 100

// AnalysisService persists per-match coaching analyses and hints.
type AnalysisService struct {
	db *database.Client
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(db *database.Client) *AnalysisService {
	return &AnalysisService{db: db}
}

// SaveAnalysis validates and stores an analysis record. One record per
// (match, user); a duplicate yields ErrAlreadyExists.
func (s *AnalysisService) SaveAnalysis(ctx context.Context, a *models.Analysis) (*models.Analysis, error) {
	if a.MatchID == "" {
		return nil, NewValidationError("matchId", "must not be empty")
	}
	if a.UserID == "" {
		return nil, NewValidationError("userId", "must not be empty")
	}
	if len(a.Suggestions) < MinSuggestions || len(a.Suggestions) > MaxSuggestions {
		return nil, NewValidationError("suggestions",
			fmt.Sprintf("must contain between %d and %d entries", MinSuggestions, MaxSuggestions))
	}
	for i, sug := range a.Suggestions {
		if sug == "" {
			return nil, NewValidationError("suggestions", fmt.Sprintf("entry %d is empty", i))
		}
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	complexity, _ := json.Marshal(a.Complexity)
	readability, _ := json.Marshal(a.Readability)
	approach, _ := json.Marshal(a.Approach)
	suggestions, _ := json.Marshal(a.Suggestions)
	bugs, _ := json.Marshal(a.Bugs)

	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO analyses
		 (id, match_id, user_id, complexity, readability, approach, suggestions, bugs, hints_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.MatchID, a.UserID, complexity, readability, approach,
		suggestions, bugs, a.HintsUsed, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("analysis for match %s user %s: %w", a.MatchID, a.UserID, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("inserting analysis: %w", err)
	}
	return a, nil
}

// GetAnalysis loads the record for one match and user.
func (s *AnalysisService) GetAnalysis(ctx context.Context, matchID, userID string) (*models.Analysis, error) {
	row := s.db.Pool().QueryRow(ctx,
		analysisSelect+` WHERE match_id = $1 AND user_id = $2`, matchID, userID)
	return scanAnalysis(row)
}

// History returns a page of the user's analyses, newest first, with the
// true total count. page is 1-based; pageSize is capped at 100.
func (s *AnalysisService) History(ctx context.Context, userID string, page, pageSize int) (*models.AnalysisPage, error) {
	if page < 1 {
		return nil, NewValidationError("page", "must be at least 1")
	}
	if pageSize < 1 {
		return nil, NewValidationError("pageSize", "must be at least 1")
	}
	if pageSize > MaxAnalysisPageSize {
		pageSize = MaxAnalysisPageSize
	}

	var total int
	if err := s.db.Pool().QueryRow(ctx,
		`SELECT count(*) FROM analyses WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting analyses: %w", err)
	}

	rows, err := s.db.Pool().Query(ctx,
		analysisSelect+` WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("querying analysis history: %w", err)
	}
	defer rows.Close()

	analyses, err := collectAnalyses(rows)
	if err != nil {
		return nil, err
	}
	return &models.AnalysisPage{
		Analyses:   analyses,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Timeline returns all of a user's analyses in ascending chronological order.
func (s *AnalysisService) Timeline(ctx context.Context, userID string) ([]*models.Analysis, error) {
	rows, err := s.db.Pool().Query(ctx,
		analysisSelect+` WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying analysis timeline: %w", err)
	}
	defer rows.Close()
	return collectAnalyses(rows)
}

// Recent returns the user's last n analyses, newest first.
func (s *AnalysisService) Recent(ctx context.Context, userID string, n int) ([]*models.Analysis, error) {
	rows, err := s.db.Pool().Query(ctx,
		analysisSelect+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, n)
	if err != nil {
		return nil, fmt.Errorf("querying recent analyses: %w", err)
	}
	defer rows.Close()
	return collectAnalyses(rows)
}

// CountForUser returns how many analyses the user has accumulated.
func (s *AnalysisService) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.Pool().QueryRow(ctx,
		`SELECT count(*) FROM analyses WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting analyses: %w", err)
	}
	return n, nil
}

// SaveHint stores a delivered hint.
func (s *AnalysisService) SaveHint(ctx context.Context, h *models.Hint) (*models.Hint, error) {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO hints (id, match_id, user_id, level, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.MatchID, h.UserID, h.Level, h.Text, h.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting hint: %w", err)
	}
	return h, nil
}

// HintsForMatch returns all hints delivered to a user in one match.
func (s *AnalysisService) HintsForMatch(ctx context.Context, matchID, userID string) ([]*models.Hint, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, match_id, user_id, level, text, created_at
		 FROM hints WHERE match_id = $1 AND user_id = $2
		 ORDER BY created_at ASC`, matchID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying hints: %w", err)
	}
	defer rows.Close()

	var out []*models.Hint
	for rows.Next() {
		var h models.Hint
		if err := rows.Scan(&h.ID, &h.MatchID, &h.UserID, &h.Level, &h.Text, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning hint: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

const analysisSelect = `SELECT id, match_id, user_id, complexity, readability,
	approach, suggestions, bugs, hints_used, created_at
	FROM analyses`

func scanAnalysis(row pgx.Row) (*models.Analysis, error) {
	var (
		a                                             models.Analysis
		complexity, readability, approach, sugs, bugs []byte
	)
	err := row.Scan(&a.ID, &a.MatchID, &a.UserID, &complexity, &readability,
		&approach, &sugs, &bugs, &a.HintsUsed, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning analysis: %w", err)
	}
	if err := json.Unmarshal(complexity, &a.Complexity); err != nil {
		return nil, fmt.Errorf("decoding complexity: %w", err)
	}
	if err := json.Unmarshal(readability, &a.Readability); err != nil {
		return nil, fmt.Errorf("decoding readability: %w", err)
	}
	if err := json.Unmarshal(approach, &a.Approach); err != nil {
		return nil, fmt.Errorf("decoding approach: %w", err)
	}
	if err := json.Unmarshal(sugs, &a.Suggestions); err != nil {
		return nil, fmt.Errorf("decoding suggestions: %w", err)
	}
	if err := json.Unmarshal(bugs, &a.Bugs); err != nil {
		return nil, fmt.Errorf("decoding bugs: %w", err)
	}
	return &a, nil
}

func collectAnalyses(rows pgx.Rows) ([]*models.Analysis, error) {
	var out []*models.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
