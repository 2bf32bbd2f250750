package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/khushalkhule/chatprodigy-ai/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type fakeUserStore struct {
	getUserByEmailFn func(context.Context, string) (store.User, error)
	createUserFn     func(context.Context, string, string, string) (store.User, error)
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(ctx context.Context, username, email, passwordHash string) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, username, email, passwordHash)
	}
	return store.User{ID: 1, Username: username, Email: email, PasswordHash: passwordHash}, nil
}

func TestRegisterHashesPasswordAndNormalizesEmail(t *testing.T) {
	var createdEmail, createdHash string
	fs := &fakeUserStore{
		createUserFn: func(_ context.Context, username, email, passwordHash string) (store.User, error) {
			createdEmail = email
			createdHash = passwordHash
			return store.User{ID: 7, Username: username, Email: email, PasswordHash: passwordHash}, nil
		},
	}
	svc := NewService(fs)

	user, err := svc.Register(context.Background(), RegisterRequest{
		Username: "  avery  ",
		Email:    "  Avery@Example.COM ",
		Password: "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "avery" {
		t.Fatalf("expected trimmed username avery, got %q", user.Username)
	}
	if createdEmail != "avery@example.com" {
		t.Fatalf("expected lowercased email, got %q", createdEmail)
	}
	if createdHash == "hunter2hunter2" {
		t.Fatal("expected password to be hashed, got plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(createdHash), []byte("hunter2hunter2")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := NewService(&fakeUserStore{})
	_, err := svc.Register(context.Background(), RegisterRequest{
		Username: "avery",
		Email:    "avery@example.com",
		Password: "short",
	})
	if err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	fs := &fakeUserStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: 1, Email: "avery@example.com"}, nil
		},
	}
	svc := NewService(fs)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Username: "avery",
		Email:    "avery@example.com",
		Password: "hunter2hunter2",
	})
	if err != ErrEmailExists {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestSignInAcceptsCorrectPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	fs := &fakeUserStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: 7, Username: "avery", Email: "avery@example.com", PasswordHash: string(hash)}, nil
		},
	}
	svc := NewService(fs)

	user, err := svc.SignIn(context.Background(), "avery@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if user.ID != 7 {
		t.Fatalf("expected user 7, got %d", user.ID)
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	fs := &fakeUserStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: 7, PasswordHash: string(hash)}, nil
		},
	}
	svc := NewService(fs)

	if _, err := svc.SignIn(context.Background(), "avery@example.com", "wrong-password"); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestSignInDoesNotRevealUnknownEmail(t *testing.T) {
	svc := NewService(&fakeUserStore{})
	_, err := svc.SignIn(context.Background(), "nobody@example.com", "hunter2hunter2")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err.Error() != "invalid email or password" {
		t.Fatalf("expected generic credentials error, got %q", err.Error())
	}
}

func TestSignInStorageFailureIsNotACredentialsError(t *testing.T) {
	fs := &fakeUserStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{}, errors.New("connection refused")
		},
	}
	svc := NewService(fs)

	_, err := svc.SignIn(context.Background(), "avery@example.com", "hunter2hunter2")
	if err == nil {
		t.Fatal("expected error for storage failure")
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("storage failure must not read as bad credentials")
	}
}

func TestRegisterStorageFailureIsNotAValidationError(t *testing.T) {
	fs := &fakeUserStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{}, errors.New("connection refused")
		},
	}
	svc := NewService(fs)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Username: "avery",
		Email:    "avery@example.com",
		Password: "hunter2hunter2",
	})
	if err == nil {
		t.Fatal("expected error for storage failure")
	}
	var invalid ValidationError
	if errors.As(err, &invalid) {
		t.Fatalf("storage failure must not read as a validation error, got %v", err)
	}
	if errors.Is(err, ErrEmailExists) {
		t.Fatalf("storage failure must not read as a duplicate email, got %v", err)
	}
}
