package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"parley/internal/auth"
	"parley/internal/config"
	"parley/internal/content"
	"parley/internal/storage"
)

// AddUser creates a user directly against the store with a random
// password and prints the credentials. Meant for bootstrapping a fresh
// installation from the command line.
func AddUser(username string, cfg *config.Config) error {
	if err := content.ValidateUsername(username); err != nil {
		return err
	}

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	password, err := randomPassword()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authService := auth.NewService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, store)
	if _, _, err := authService.CreateUser(auth.CreateUserRequest{
		Username: username,
		Password: password,
	}); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("Username:  %s\n", username)
	fmt.Printf("Password:  %s\n\n", password)
	fmt.Println("Please share these credentials with the user and ask them to change the password.")
	return nil
}

func randomPassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
