// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/khushalkhule/chatprodigy-ai/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// Service provides email/password authentication
type Service struct {
	store UserStore
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, username, email, passwordHash string) (store.User, error)
}

var (
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError marks input the caller can correct, as opposed to a
// storage failure.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// RegisterRequest contains registration parameters
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(strings.ToLower(req.Email))

	if username == "" || email == "" || req.Password == "" {
		return store.User{}, ValidationError("username, email, and password are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, ValidationError("password must be at least 8 characters")
	}

	// Check if email already exists
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, email, string(hash))
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user by email and password
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup email: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	return user, nil
}
