package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/codeclash-io/codeclash/pkg/database"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// ChallengeService manages the problem catalogue.
type ChallengeService struct {
	db *database.Client
}

// NewChallengeService creates a new challenge service.
func NewChallengeService(db *database.Client) *ChallengeService {
	return &ChallengeService{db: db}
}

// CreateChallenge inserts a challenge. Test cases must carry non-negative
// weights; zero-weight cases are allowed and contribute nothing.
func (s *ChallengeService) CreateChallenge(ctx context.Context, c *models.Challenge) (*models.Challenge, error) {
	if c.Title == "" {
		return nil, NewValidationError("title", "must not be empty")
	}
	if !models.ValidDifficulty(c.Difficulty) {
		return nil, NewValidationError("difficulty", fmt.Sprintf("unknown difficulty %q", c.Difficulty))
	}
	if c.TimeLimitSeconds <= 0 {
		return nil, NewValidationError("timeLimitSeconds", "must be positive")
	}
	for i, tc := range c.TestCases {
		if tc.Weight < 0 {
			return nil, NewValidationError("testCases", fmt.Sprintf("case %d has negative weight", i))
		}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	testCases, err := json.Marshal(c.TestCases)
	if err != nil {
		return nil, fmt.Errorf("encoding test cases: %w", err)
	}
	starter, err := json.Marshal(c.StarterCode)
	if err != nil {
		return nil, fmt.Errorf("encoding starter code: %w", err)
	}
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}

	_, err = s.db.Pool().Exec(ctx,
		`INSERT INTO challenges
		 (id, title, description, difficulty, time_limit_seconds, test_cases,
		  starter_code, optimal_solution, optimal_execution_time, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Title, c.Description, c.Difficulty, c.TimeLimitSeconds,
		testCases, starter, nullIfEmpty(c.OptimalSolution),
		nullIfZero(c.OptimalExecutionTime), tags)
	if err != nil {
		return nil, fmt.Errorf("inserting challenge: %w", err)
	}
	return c, nil
}

// GetChallenge loads one challenge with its full (hidden included) tests.
func (s *ChallengeService) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	row := s.db.Pool().QueryRow(ctx, challengeSelect+` WHERE id = $1`, id)
	return scanChallenge(row)
}

// RandomByDifficulty picks a uniformly random challenge matching the
// difficulty filter; DifficultyAny draws from the whole catalogue.
func (s *ChallengeService) RandomByDifficulty(ctx context.Context, difficulty models.Difficulty) (*models.Challenge, error) {
	query := challengeSelect
	var args []any
	if difficulty != models.DifficultyAny && difficulty != "" {
		query += ` WHERE difficulty = $1`
		args = append(args, difficulty)
	}

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying challenges: %w", err)
	}
	defer rows.Close()

	var all []*models.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no challenges for difficulty %q: %w", difficulty, ErrNotFound)
	}
	return all[rand.IntN(len(all))], nil
}

// ListChallenges returns the public view of the catalogue.
func (s *ChallengeService) ListChallenges(ctx context.Context) ([]*models.Challenge, error) {
	rows, err := s.db.Pool().Query(ctx, challengeSelect+` ORDER BY difficulty, title`)
	if err != nil {
		return nil, fmt.Errorf("querying challenges: %w", err)
	}
	defer rows.Close()

	var out []*models.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c.PublicView())
	}
	return out, rows.Err()
}

const challengeSelect = `SELECT id, title, description, difficulty,
	time_limit_seconds, test_cases, starter_code, optimal_solution,
	optimal_execution_time, tags
	FROM challenges`

func scanChallenge(row pgx.Row) (*models.Challenge, error) {
	var (
		c                        models.Challenge
		testCases, starter, tags []byte
		optimalSolution          *string
		optimalTime              *float64
	)
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Difficulty,
		&c.TimeLimitSeconds, &testCases, &starter, &optimalSolution,
		&optimalTime, &tags)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning challenge: %w", err)
	}
	if err := json.Unmarshal(testCases, &c.TestCases); err != nil {
		return nil, fmt.Errorf("decoding test cases: %w", err)
	}
	if err := json.Unmarshal(starter, &c.StarterCode); err != nil {
		return nil, fmt.Errorf("decoding starter code: %w", err)
	}
	if err := json.Unmarshal(tags, &c.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if optimalSolution != nil {
		c.OptimalSolution = *optimalSolution
	}
	if optimalTime != nil {
		c.OptimalExecutionTime = *optimalTime
	}
	return &c, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}
