package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

var (
	ErrNotConfigured   = errors.New("auth: sign-in is not configured")
	ErrInvalidState    = errors.New("auth: invalid or expired state")
	ErrSessionNotFound = errors.New("auth: session not found")
)

const (
	stateTTL        = 10 * time.Minute
	maxPendingState = 1000
	maxSessions     = 10000
)

// ProfileStore receives signed-in user profiles.
type ProfileStore interface {
	UpsertUserProfile(ctx context.Context, u user.User) error
}

// Change describes a sign-in or sign-out.
type Change struct {
	User     user.User
	SignedIn bool
}

// Listener observes identity changes.
type Listener func(ctx context.Context, change Change)

// Service manages the OAuth handshake and signed-in sessions.
type Service struct {
	provider Provider
	profiles ProfileStore
	logger   log.Logger

	states   *expirable.LRU[string, struct{}]
	sessions *expirable.LRU[string, user.User]

	mu        sync.Mutex
	listeners []Listener
}

// NewService creates the service. provider may be nil when sign-in is not
// configured; profiles may be nil without remote storage.
func NewService(provider Provider, profiles ProfileStore, sessionTTL time.Duration, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	if sessionTTL <= 0 {
		sessionTTL = 30 * 24 * time.Hour
	}
	return &Service{
		provider: provider,
		profiles: profiles,
		logger:   logger,
		states:   expirable.NewLRU[string, struct{}](maxPendingState, nil, stateTTL),
		sessions: expirable.NewLRU[string, user.User](maxSessions, nil, sessionTTL),
	}
}

func (s *Service) Enabled() bool {
	return s.provider != nil
}

func (s *Service) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// BeginSignIn returns the provider URL and the state it must echo back.
func (s *Service) BeginSignIn() (string, string, error) {
	if !s.Enabled() {
		return "", "", ErrNotConfigured
	}
	state := uuid.NewString()
	s.states.Add(state, struct{}{})
	return s.provider.AuthCodeURL(state), state, nil
}

// CompleteSignIn validates state, exchanges code and opens a session.
func (s *Service) CompleteSignIn(ctx context.Context, state, code string) (string, user.User, error) {
	if !s.Enabled() {
		return "", user.User{}, ErrNotConfigured
	}
	if state == "" || !s.states.Remove(state) {
		return "", user.User{}, ErrInvalidState
	}

	u, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.logger.Warnf(ctx, "[auth] sign-in failed: %v", err)
		return "", user.User{}, fmt.Errorf("sign in: %w", err)
	}

	if s.profiles != nil {
		if err := s.profiles.UpsertUserProfile(ctx, u); err != nil {
			s.logger.Errorf(ctx, "[auth] save profile %s: %v", u.UID, err)
		}
	}

	token := uuid.NewString()
	s.sessions.Add(token, u)
	s.logger.Infof(ctx, "[auth] signed in %s", u.UID)
	s.notify(ctx, Change{User: u, SignedIn: true})
	return token, u, nil
}

// Lookup returns the user behind token.
func (s *Service) Lookup(token string) (user.User, bool) {
	if token == "" {
		return user.User{}, false
	}
	return s.sessions.Get(token)
}

// SignOut ends the session behind token.
func (s *Service) SignOut(ctx context.Context, token string) error {
	u, ok := s.sessions.Peek(token)
	if !ok {
		return ErrSessionNotFound
	}
	s.sessions.Remove(token)
	s.logger.Infof(ctx, "[auth] signed out %s", u.UID)
	s.notify(ctx, Change{User: u, SignedIn: false})
	return nil
}

func (s *Service) notify(ctx context.Context, change Change) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(ctx, change)
	}
}
