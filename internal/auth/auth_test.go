package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"parley/internal/models"

	"golang.org/x/crypto/bcrypt"
)

type memStore struct {
	users  map[string]models.User
	hashes map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]models.User),
		hashes: make(map[string]string),
	}
}

func (m *memStore) CreateUser(user models.User, passwordHash string) error {
	if _, ok := m.users[user.Username]; ok {
		return models.ErrUserExists
	}
	m.users[user.Username] = user
	m.hashes[user.Username] = passwordHash
	return nil
}

func (m *memStore) GetCredentials(username string) (models.User, string, error) {
	user, ok := m.users[username]
	if !ok {
		return models.User{}, "", models.ErrNotFound
	}
	return user, m.hashes[username], nil
}

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := newMemStore()
	svc := NewService(ctx, Config{TokenExpiry: time.Hour}, store)
	return svc, store
}

func TestService_CreateUser(t *testing.T) {
	svc, store := newTestService(t)

	user, token, err := svc.CreateUser(CreateUserRequest{
		FirstName: "Alice",
		LastName:  "Smith",
		Username:  "alice",
		Email:     "alice@example.com",
		Password:  "secret",
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.Username != "alice" || user.ID == "" {
		t.Errorf("unexpected user %+v", user)
	}
	if token == "" {
		t.Error("expected a token issued on creation")
	}

	// The issued token resolves immediately.
	username, err := svc.Username(token)
	if err != nil {
		t.Fatalf("Username failed: %v", err)
	}
	if username != "alice" {
		t.Errorf("expected alice, got %s", username)
	}

	// Stored hash is a real bcrypt hash of the password.
	_, hash, _ := store.GetCredentials("alice")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}

	if _, _, err := svc.CreateUser(CreateUserRequest{Username: "alice", Password: "x"}); !errors.Is(err, models.ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestService_Login(t *testing.T) {
	svc, _ := newTestService(t)
	if _, _, err := svc.CreateUser(CreateUserRequest{Username: "alice", Password: "secret"}); err != nil {
		t.Fatal(err)
	}

	token, expiry, err := svc.Login("alice", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token == "" {
		t.Error("expected a token")
	}
	if expiry <= time.Now().Unix() {
		t.Errorf("expected future expiry, got %d", expiry)
	}

	if _, _, err := svc.Login("alice", "wrong"); !errors.Is(err, ErrLoginFailed) {
		t.Errorf("expected ErrLoginFailed, got %v", err)
	}
	if _, _, err := svc.Login("nobody", "secret"); !errors.Is(err, ErrLoginFailed) {
		t.Errorf("expected ErrLoginFailed for unknown user, got %v", err)
	}
}

func TestService_LoginThrottle(t *testing.T) {
	svc, _ := newTestService(t)
	if _, _, err := svc.CreateUser(CreateUserRequest{Username: "alice", Password: "secret"}); err != nil {
		t.Fatal(err)
	}

	currentTime := time.Unix(1700000000, 0)
	svc.now = func() time.Time { return currentTime }

	for i := 0; i < 4; i++ {
		if _, _, err := svc.Login("alice", "wrong"); !errors.Is(err, ErrLoginFailed) {
			t.Fatalf("attempt %d: expected ErrLoginFailed, got %v", i, err)
		}
	}

	// Even the correct password is rejected while throttled.
	if _, _, err := svc.Login("alice", "secret"); err == nil || errors.Is(err, ErrLoginFailed) {
		t.Errorf("expected throttle error, got %v", err)
	}

	// Once the backoff window passes, login succeeds and resets state.
	currentTime = currentTime.Add(time.Hour)
	if _, _, err := svc.Login("alice", "secret"); err != nil {
		t.Errorf("expected login to succeed after backoff, got %v", err)
	}
}

func TestService_Logoff(t *testing.T) {
	svc, _ := newTestService(t)
	_, token, err := svc.CreateUser(CreateUserRequest{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Logoff(token); err != nil {
		t.Fatalf("Logoff failed: %v", err)
	}
	if _, err := svc.Username(token); err == nil {
		t.Error("expected revoked token to stop resolving")
	}
}
