package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/codeclash-io/codeclash/pkg/database"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// Pagination bounds for match history.
const (
	MaxHistoryLimit = 100
)

// MatchService manages persistent match rows — the source of truth for
// completed history. In-flight state lives in the ephemeral store and is
// owned by the match state machine.
type MatchService struct {
	db *database.Client
}

// NewMatchService creates a new match service.
func NewMatchService(db *database.Client) *MatchService {
	return &MatchService{db: db}
}

// CreateMatch inserts a match row in lobby status and returns it.
func (s *MatchService) CreateMatch(ctx context.Context, challengeID, player1ID, player2ID string) (*models.Match, error) {
	if player1ID == player2ID {
		return nil, NewValidationError("player2Id", "players must be distinct")
	}
	m := &models.Match{
		ID:          uuid.New().String(),
		ChallengeID: challengeID,
		Player1ID:   player1ID,
		Player2ID:   player2ID,
		Status:      models.MatchStatusLobby,
		CreatedAt:   time.Now(),
	}
	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO matches (id, challenge_id, player1_id, player2_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ChallengeID, m.Player1ID, m.Player2ID, m.Status, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting match: %w", err)
	}
	return m, nil
}

// GetMatch loads one match row.
func (s *MatchService) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	row := s.db.Pool().QueryRow(ctx, matchSelect+` WHERE id = $1`, id)
	return scanMatch(row)
}

// SetStarted records the authoritative start instant at the lobby→active
// edge. It writes started_at only once: a later call sets the status to
// active again but keeps the first start instant.
func (s *MatchService) SetStarted(ctx context.Context, id string, startedAt time.Time) error {
	_, err := s.db.Pool().Exec(ctx,
		`UPDATE matches SET status = $2, started_at = COALESCE(started_at, $3) WHERE id = $1`,
		id, models.MatchStatusActive, startedAt)
	if err != nil {
		return fmt.Errorf("marking match started: %w", err)
	}
	return nil
}

// CompleteMatch persists the judged outcome. It only transitions rows that
// are not already terminal; a terminal row yields ErrConflict so callers
// fall back to the stored outcome.
func (s *MatchService) CompleteMatch(ctx context.Context, id string, outcome *models.MatchOutcome) error {
	var winner *string
	if !outcome.Tie && outcome.WinnerID != "" {
		winner = &outcome.WinnerID
	}
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE matches
		 SET status = $2, winner_id = $3, player1_score = $4, player2_score = $5, completed_at = $6
		 WHERE id = $1 AND status NOT IN ($7, $8)`,
		id, models.MatchStatusCompleted, winner,
		outcome.Player1Score, outcome.Player2Score, outcome.CompletedAt,
		models.MatchStatusCompleted, models.MatchStatusAbandoned)
	if err != nil {
		return fmt.Errorf("completing match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.GetMatch(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("match %s already %s: %w", id, existing.Status, ErrConflict)
	}
	return nil
}

// AbandonMatch marks a non-terminal match abandoned.
func (s *MatchService) AbandonMatch(ctx context.Context, id string) error {
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE matches SET status = $2, completed_at = now()
		 WHERE id = $1 AND status NOT IN ($3, $4)`,
		id, models.MatchStatusAbandoned,
		models.MatchStatusCompleted, models.MatchStatusAbandoned)
	if err != nil {
		return fmt.Errorf("abandoning match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("match %s already terminal: %w", id, ErrConflict)
	}
	return nil
}

// History returns a user's matches, newest first. limit ∈ [1,100]; the
// response carries the true total count.
func (s *MatchService) History(ctx context.Context, userID string, limit, offset int) (*models.MatchListResponse, error) {
	if limit < 1 || limit > MaxHistoryLimit {
		return nil, NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", MaxHistoryLimit))
	}
	if offset < 0 {
		return nil, NewValidationError("offset", "must not be negative")
	}

	var total int
	err := s.db.Pool().QueryRow(ctx,
		`SELECT count(*) FROM matches WHERE player1_id = $1 OR player2_id = $1`,
		userID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("counting matches: %w", err)
	}

	rows, err := s.db.Pool().Query(ctx,
		matchSelect+` WHERE player1_id = $1 OR player2_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying match history: %w", err)
	}
	defer rows.Close()

	matches, err := collectMatches(rows)
	if err != nil {
		return nil, err
	}
	return &models.MatchListResponse{
		Matches:    matches,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// ListByStatus returns matches in a given status, oldest first.
func (s *MatchService) ListByStatus(ctx context.Context, status models.MatchStatus, limit int) ([]*models.Match, error) {
	rows, err := s.db.Pool().Query(ctx,
		matchSelect+` WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("querying matches by status: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

const matchSelect = `SELECT id, challenge_id, player1_id, player2_id, winner_id,
	player1_score, player2_score, status, started_at, completed_at, created_at
	FROM matches`

func scanMatch(row pgx.Row) (*models.Match, error) {
	var m models.Match
	err := row.Scan(&m.ID, &m.ChallengeID, &m.Player1ID, &m.Player2ID, &m.WinnerID,
		&m.Player1Score, &m.Player2Score, &m.Status, &m.StartedAt, &m.CompletedAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning match: %w", err)
	}
	return &m, nil
}

func collectMatches(rows pgx.Rows) ([]*models.Match, error) {
	var out []*models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
