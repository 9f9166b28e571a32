// Package services implements the persistent layer: users, matches,
// challenges and coaching analyses over PostgreSQL.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeclash-io/codeclash/pkg/database"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// UserService manages account rows. Credential verification happens at the
// edge; this service only stores profile, rating and win/loss data.
type UserService struct {
	db *database.Client
}

// NewUserService creates a new user service.
func NewUserService(db *database.Client) *UserService {
	return &UserService{db: db}
}

// CreateUser inserts a new account with the default rating. passwordHash
// is the already-hashed credential (the edge owns hashing).
func (s *UserService) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, NewValidationError("username", "must not be empty")
	}
	if email = strings.TrimSpace(email); email == "" {
		return nil, NewValidationError("email", "must not be empty")
	}
	if passwordHash == "" {
		return nil, NewValidationError("password", "must not be empty")
	}

	u := &models.User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		Rating:    models.DefaultRating,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, rating, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, passwordHash, u.Rating, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("user %q: %w", username, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// GetUser loads a user by id.
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT id, username, email, rating, wins, losses, ties, created_at
		 FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByUsername loads a user by username.
func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT id, username, email, rating, wins, losses, ties, created_at
		 FROM users WHERE username = $1`, username)
	return scanUser(row)
}

// Credentials returns the stored password hash for login verification.
func (s *UserService) Credentials(ctx context.Context, username string) (userID, passwordHash string, err error) {
	err = s.db.Pool().QueryRow(ctx,
		`SELECT id, password_hash FROM users WHERE username = $1`, username).
		Scan(&userID, &passwordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("reading credentials: %w", err)
	}
	return userID, passwordHash, nil
}

// UpdateProfile changes mutable profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, id, username string) (*models.User, error) {
	if username = strings.TrimSpace(username); username == "" {
		return nil, NewValidationError("username", "must not be empty")
	}
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE users SET username = $2 WHERE id = $1`, id, username)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("username %q: %w", username, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("updating user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

// Stats returns the aggregate profile view.
func (s *UserService) Stats(ctx context.Context, id string) (*models.UserStats, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	total := u.Wins + u.Losses + u.Ties
	stats := &models.UserStats{
		UserID:       u.ID,
		Rating:       u.Rating,
		Wins:         u.Wins,
		Losses:       u.Losses,
		Ties:         u.Ties,
		TotalMatches: total,
	}
	if total > 0 {
		stats.WinRate = float64(u.Wins) / float64(total)
	}
	return stats, nil
}

// ApplyMatchResult adjusts both players' ratings and win/loss counters in
// one transaction. winnerID empty means a tie. Returns the new ratings.
func (s *UserService) ApplyMatchResult(ctx context.Context, player1ID, player2ID, winnerID string, delta int) (r1, r2 int, err error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	apply := func(userID string, ratingDelta int, col string) (int, error) {
		var rating int
		err := tx.QueryRow(ctx, fmt.Sprintf(
			`UPDATE users
			 SET rating = GREATEST(rating + $2, 0), %s = %s + 1
			 WHERE id = $1
			 RETURNING rating`, col, col),
			userID, ratingDelta).Scan(&rating)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return rating, err
	}

	switch winnerID {
	case "":
		if r1, err = apply(player1ID, 0, "ties"); err != nil {
			return 0, 0, err
		}
		if r2, err = apply(player2ID, 0, "ties"); err != nil {
			return 0, 0, err
		}
	case player1ID:
		if r1, err = apply(player1ID, delta, "wins"); err != nil {
			return 0, 0, err
		}
		if r2, err = apply(player2ID, -delta, "losses"); err != nil {
			return 0, 0, err
		}
	case player2ID:
		if r1, err = apply(player1ID, -delta, "losses"); err != nil {
			return 0, 0, err
		}
		if r2, err = apply(player2ID, delta, "wins"); err != nil {
			return 0, 0, err
		}
	default:
		return 0, 0, NewValidationError("winnerId", "not a participant")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("committing rating update: %w", err)
	}
	return r1, r2, nil
}

// DeleteUser removes an account row.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.db.Pool().Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Rating, &u.Wins, &u.Losses, &u.Ties, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}
