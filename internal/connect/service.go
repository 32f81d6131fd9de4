// Package connect manages the GitHub authorization handshake: pending
// state tokens, their expiry, and the one-time exchange that binds a
// GitHub account and access token to a local user.
package connect

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"mdcms/api/internal/github"
	"mdcms/api/internal/store"
)

const (
	// DefaultTTL is how long a pending authorization stays redeemable.
	DefaultTTL = 10 * time.Minute
	// DefaultSweepInterval is how often expired entries are purged.
	DefaultSweepInterval = time.Minute
)

var (
	// ErrInvalidState marks a state token that is absent, already
	// consumed, or past its expiry window.
	ErrInvalidState = errors.New("connect: invalid or expired state token")
	// ErrAlreadyConnected means the user must disconnect before starting
	// a new authorization.
	ErrAlreadyConnected = errors.New("connect: account already connected")
	// ErrProjectsExist blocks disconnecting while projects still
	// reference the connection.
	ErrProjectsExist = errors.New("connect: projects still reference this connection")
)

// UserStore is the persistence surface the state machine needs.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	SetGitHubConnection(ctx context.Context, userID, githubID, username, token string) error
	ClearGitHubConnection(ctx context.Context, userID string) error
	CountProjectsByUser(ctx context.Context, userID string) (int, error)
}

// Exchanger is the OAuth side of the handshake.
type Exchanger interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
}

// IdentityAPI fetches the remote identity behind a fresh token.
type IdentityAPI interface {
	AuthenticatedUser(ctx context.Context, token string) (github.Account, error)
}

type pendingAuth struct {
	userID   string
	issuedAt time.Time
}

// Service owns the in-memory pending-authorization map. State is
// process-wide and not persisted; an interrupted authorization must be
// restarted by the user.
type Service struct {
	users         UserStore
	oauth         Exchanger
	api           IdentityAPI
	ttl           time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	pending map[string]pendingAuth

	done chan struct{}
}

func New(users UserStore, oauth Exchanger, api IdentityAPI, ttl, sweepInterval time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	s := &Service{
		users:         users,
		oauth:         oauth,
		api:           api,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		pending:       make(map[string]pendingAuth),
		done:          make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the background sweep.
func (s *Service) Close() {
	close(s.done)
}

// Begin issues a state token for userID and returns the provider URL to
// redirect to. Fails with ErrAlreadyConnected while a credential exists.
func (s *Service) Begin(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	if user.GitHubAccessToken != "" {
		return "", ErrAlreadyConnected
	}

	state, err := newStateToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.pending[state] = pendingAuth{userID: userID, issuedAt: time.Now()}
	s.mu.Unlock()

	return s.oauth.AuthorizeURL(state), nil
}

// Complete consumes the state token, exchanges the authorization code for
// an access token, fetches the GitHub identity, and persists the
// connection. The token is removed on first use; replay and expired
// tokens both fail with ErrInvalidState.
func (s *Service) Complete(ctx context.Context, state, code string) (string, github.Account, error) {
	s.mu.Lock()
	entry, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()

	// Expiry is checked at use time; the sweep only bounds memory.
	if !ok || time.Since(entry.issuedAt) > s.ttl {
		return "", github.Account{}, ErrInvalidState
	}

	token, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return "", github.Account{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	account, err := s.api.AuthenticatedUser(ctx, token)
	if err != nil {
		return "", github.Account{}, fmt.Errorf("fetch github identity: %w", err)
	}

	githubID := strconv.FormatInt(account.ID, 10)
	if err := s.users.SetGitHubConnection(ctx, entry.userID, githubID, account.Login, token); err != nil {
		return "", github.Account{}, fmt.Errorf("persist connection: %w", err)
	}
	return entry.userID, account, nil
}

// Disconnect clears the stored credential. Fails with ErrProjectsExist
// while any project of the user still depends on the connection.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	count, err := s.users.CountProjectsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("count projects: %w", err)
	}
	if count > 0 {
		return ErrProjectsExist
	}
	if err := s.users.ClearGitHubConnection(ctx, userID); err != nil {
		return fmt.Errorf("clear connection: %w", err)
	}
	return nil
}

// PendingCount reports the number of outstanding authorizations.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Service) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-s.done:
			return
		}
	}
}

func (s *Service) removeExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for state, entry := range s.pending {
		if now.Sub(entry.issuedAt) > s.ttl {
			delete(s.pending, state)
		}
	}
}

func newStateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
