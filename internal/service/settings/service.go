package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	model "github.com/zhouzirui/abby/backend/internal/model/settings"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

var ErrInvalidSettings = errors.New("settings: invalid update")

// Store persists an owner's settings record.
type Store interface {
	LoadSettings(ctx context.Context, owner string) (model.Settings, error)
	SaveSettings(ctx context.Context, owner string, s model.Settings) error
}

// Listener observes settings changes.
type Listener func(ctx context.Context, owner string, old, updated model.Settings)

// Service 管理用户设置与引导流程状态。
type Service struct {
	store  Store
	logger log.Logger

	mu        sync.Mutex
	listeners []Listener
}

func NewService(store Store, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// OnChange registers l for every successful mutation.
func (s *Service) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) Get(ctx context.Context, owner string) (model.Settings, error) {
	return s.store.LoadSettings(ctx, owner)
}

// Update applies patch and persists the result.
func (s *Service) Update(ctx context.Context, owner string, patch model.Patch) (model.Settings, error) {
	if patch == (model.Patch{}) {
		return model.Settings{}, fmt.Errorf("%w: no fields to update", ErrInvalidSettings)
	}
	return s.mutate(ctx, owner, patch.Apply)
}

// CompleteOnboarding stores the choices made on the onboarding screen. The
// TTS prompt counts as seen afterwards.
func (s *Service) CompleteOnboarding(ctx context.Context, owner, name string, tts bool, voiceName string) (model.Settings, error) {
	return s.mutate(ctx, owner, func(cur model.Settings) model.Settings {
		cur.TherapistName = name
		cur.TTSEnabled = tts
		cur.VoiceName = voiceName
		cur.HasSeenTTSPrompt = true
		cur.HasCompletedOnboarding = true
		return cur
	})
}

// Reset restores the defaults.
func (s *Service) Reset(ctx context.Context, owner string) (model.Settings, error) {
	return s.mutate(ctx, owner, func(model.Settings) model.Settings {
		return model.Default()
	})
}

func (s *Service) mutate(ctx context.Context, owner string, fn func(model.Settings) model.Settings) (model.Settings, error) {
	s.mu.Lock()
	old, err := s.store.LoadSettings(ctx, owner)
	if err != nil {
		s.mu.Unlock()
		return model.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	updated := fn(old).Normalize()
	if err := s.store.SaveSettings(ctx, owner, updated); err != nil {
		s.mu.Unlock()
		return model.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(ctx, owner, old, updated)
	}
	s.logger.Debugf(ctx, "[settings] updated %s: %+v", owner, updated)
	return updated, nil
}
