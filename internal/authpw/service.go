// Package authpw provides email/password authentication and magic links.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mdcms/api/internal/auth"
	"mdcms/api/internal/store"
)

const (
	minPasswordLength = 8
	magicLinkTTL      = 15 * time.Minute
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrLinkInvalid        = errors.New("invalid or expired link")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	MarkUserVerified(ctx context.Context, userID string) error
	CreateMagicLink(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	ConsumeMagicLink(ctx context.Context, tokenHash string) (string, error)
}

// Service provides email/password authentication
type Service struct {
	store UserStore
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUp creates a new user account and returns it.
func (s *Service) SignUp(ctx context.Context, email, password string) (store.User, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return store.User{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return store.User{}, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("check email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user by email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// IssueMagicLink creates a single-use sign-in token for the given email.
// Only the token's hash is stored. The raw token is returned to the caller
// so it can be mailed out; an empty token with nil error means the email is
// not registered, which callers must not reveal.
func (s *Service) IssueMagicLink(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return "", ErrInvalidEmail
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate magic link token: %w", err)
	}
	expiresAt := time.Now().Add(magicLinkTTL)
	if err := s.store.CreateMagicLink(ctx, auth.HashToken(token), user.ID, expiresAt); err != nil {
		return "", fmt.Errorf("save magic link: %w", err)
	}
	return token, nil
}

// RedeemMagicLink consumes a magic link token and returns the signed-in
// user. Redeeming also marks the account's email as verified.
func (s *Service) RedeemMagicLink(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, ErrLinkInvalid
	}

	userID, err := s.store.ConsumeMagicLink(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrLinkInvalid
		}
		return store.User{}, fmt.Errorf("consume magic link: %w", err)
	}

	if err := s.store.MarkUserVerified(ctx, userID); err != nil {
		return store.User{}, fmt.Errorf("mark user verified: %w", err)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(email, " \t")
}

// generateToken creates a secure random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
