package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/pkg/store"
)

// tokenTTL bounds a session token's lifetime.
const tokenTTL = 24 * time.Hour

// ErrInvalidCredentials is returned for bad username/password pairs and
// for unknown or expired tokens.
var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenVerifier resolves an opaque token to a user id. Both the HTTP
// middleware and the WebSocket handshake consume this.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// AuthService issues and verifies opaque session tokens backed by the
// ephemeral store.
type AuthService struct {
	users *services.UserService
	store store.Store
}

// NewAuthService creates an auth service.
func NewAuthService(users *services.UserService, st store.Store) *AuthService {
	return &AuthService{users: users, store: st}
}

func tokenKey(token string) string { return "authtoken:" + token }

// Register creates an account with a bcrypt-hashed password.
func (a *AuthService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	if len(password) < 8 {
		return nil, services.NewValidationError("password", "must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return a.users.CreateUser(ctx, username, email, string(hash))
}

// Login verifies the password and issues a session token.
func (a *AuthService) Login(ctx context.Context, username, password string) (token string, user *models.User, err error) {
	userID, hash, err := a.users.Credentials(ctx, username)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token = uuid.New().String()
	if err := a.store.Set(ctx, tokenKey(token), userID, tokenTTL); err != nil {
		return "", nil, fmt.Errorf("storing session token: %w", err)
	}

	user, err = a.users.GetUser(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// VerifyToken resolves a token to its user id.
func (a *AuthService) VerifyToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidCredentials
	}
	userID, err := a.store.Get(ctx, tokenKey(token))
	if err != nil {
		if errors.Is(err, store.ErrNil) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	return userID, nil
}
