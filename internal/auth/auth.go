// Package auth issues and resolves the opaque tokens that identify a
// connecting transport, and owns password verification.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"parley/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	loginFailedMessage = "login failed"
)

var ErrLoginFailed = errors.New(loginFailedMessage)

// CredentialStore is the persistent user record the service checks
// passwords against.
type CredentialStore interface {
	CreateUser(user models.User, passwordHash string) error
	GetCredentials(username string) (models.User, string, error)
}

type CreateUserRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type Config struct {
	TokenExpiry time.Duration
}

// loginState tracks consecutive failed attempts to throttle brute force.
type loginState struct {
	Failed      int64
	LastAttempt int64
}

type Service struct {
	cfg        Config
	store      CredentialStore
	liveTokens geche.Geche[string, string]
	attempts   *geche.Locker[string, *loginState]
	now        func() time.Time
}

func NewService(ctx context.Context, cfg Config, store CredentialStore) *Service {
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = DefaultTokenExpiry
	}
	return &Service{
		cfg:        cfg,
		store:      store,
		liveTokens: geche.NewMapTTLCache[string, string](ctx, cfg.TokenExpiry, time.Minute),
		attempts:   geche.NewLocker[string, *loginState](geche.NewMapCache[string, *loginState]()),
		now:        time.Now,
	}
}

// CreateUser registers a new user and issues their first token in the
// same step, so account creation and token issuance stay one explicit
// workflow.
func (s *Service) CreateUser(req CreateUserRequest) (models.User, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		ID:        uuid.NewString(),
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		CreatedAt: s.now().Unix(),
	}
	if err := s.store.CreateUser(user, string(hash)); err != nil {
		return models.User{}, "", err
	}

	token, err := s.issueToken(user.Username)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// Login verifies the password and returns a fresh token plus its
// expiry. Consecutive failures back off quadratically.
func (s *Service) Login(username, password string) (string, int64, error) {
	now := s.now()

	tx := s.attempts.Lock()
	defer tx.Unlock()

	state, err := tx.Get(username)
	if err != nil {
		state = &loginState{}
		tx.Set(username, state)
	}

	if state.Failed > 3 {
		nextAttempt := state.LastAttempt + 30*(state.Failed*state.Failed)
		if now.Unix() < nextAttempt {
			return "", 0, fmt.Errorf("too many failed login attempts, next attempt in %d seconds", nextAttempt-now.Unix())
		}
	}

	user, hash, err := s.store.GetCredentials(username)
	if err != nil {
		return "", 0, ErrLoginFailed
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		state.Failed++
		state.LastAttempt = now.Unix()
		return "", 0, ErrLoginFailed
	}

	token, err := s.issueToken(user.Username)
	if err != nil {
		slog.Error("login failed", "username", username, "error", err)
		return "", 0, errors.New("internal error")
	}

	state.Failed = 0
	state.LastAttempt = now.Unix()
	return token, now.Unix() + int64(s.cfg.TokenExpiry.Seconds()), nil
}

// Username resolves a live token to the username it was issued to.
func (s *Service) Username(token string) (string, error) {
	return s.liveTokens.Get(token)
}

// Logoff revokes the token.
func (s *Service) Logoff(token string) error {
	return s.liveTokens.Del(token)
}

func (s *Service) issueToken(username string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(b)
	s.liveTokens.Set(token, username)
	return token, nil
}
