package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zhouzirui/abby/backend/internal/model/activity"
	"github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/internal/model/settings"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

// Local is the always-on, per-owner typed store over a KV.
type Local struct {
	kv     KV
	logger log.Logger

	// serialises read-modify-write of check-ins
	mu sync.Mutex
}

func NewLocal(kv KV, logger log.Logger) *Local {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Local{kv: kv, logger: logger}
}

func ownerKey(owner, name string) string {
	return owner + "/" + name
}

// LoadSessions returns the owner's sessions keyed by id. A missing blob is
// an empty map; invalid records are dropped and logged.
func (l *Local) LoadSessions(ctx context.Context, owner string) (map[string]chat.Session, error) {
	data, err := l.kv.Load(ctx, ownerKey(owner, SessionsKey))
	if errors.Is(err, ErrKeyNotFound) {
		return map[string]chat.Session{}, nil
	}
	if err != nil {
		return nil, err
	}

	sessions, rejected, err := chat.DecodeSessions(data)
	if err != nil {
		return nil, err
	}
	for _, r := range rejected {
		l.logger.Warnf(ctx, "[store] dropped session record for %s: %v", owner, r)
	}
	return sessions, nil
}

func (l *Local) SaveSessions(ctx context.Context, owner string, sessions []chat.Session) error {
	data, err := chat.EncodeSessions(sessions)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	return l.kv.Save(ctx, ownerKey(owner, SessionsKey), data)
}

// LoadSettings returns defaults when nothing is stored. A malformed blob is
// logged and also yields defaults.
func (l *Local) LoadSettings(ctx context.Context, owner string) (settings.Settings, error) {
	data, err := l.kv.Load(ctx, ownerKey(owner, SettingsKey))
	if errors.Is(err, ErrKeyNotFound) {
		return settings.Default(), nil
	}
	if err != nil {
		return settings.Default(), err
	}

	s, err := settings.Decode(data)
	if err != nil {
		l.logger.Warnf(ctx, "[store] malformed settings for %s: %v", owner, err)
	}
	return s, nil
}

func (l *Local) SaveSettings(ctx context.Context, owner string, s settings.Settings) error {
	data, err := json.Marshal(s.Normalize())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return l.kv.Save(ctx, ownerKey(owner, SettingsKey), data)
}

// LoadCheckIns returns check-ins oldest first.
func (l *Local) LoadCheckIns(ctx context.Context, owner string) ([]activity.CheckIn, error) {
	data, err := l.kv.Load(ctx, ownerKey(owner, CheckInsKey))
	if errors.Is(err, ErrKeyNotFound) {
		return []activity.CheckIn{}, nil
	}
	if err != nil {
		return nil, err
	}

	var out []activity.CheckIn
	if err := json.Unmarshal(data, &out); err != nil {
		l.logger.Warnf(ctx, "[store] malformed check-ins for %s: %v", owner, err)
		return []activity.CheckIn{}, nil
	}
	return out, nil
}

func (l *Local) AppendCheckIn(ctx context.Context, owner string, c activity.CheckIn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.LoadCheckIns(ctx, owner)
	if err != nil {
		return err
	}
	data, err := json.Marshal(append(existing, c))
	if err != nil {
		return fmt.Errorf("encode check-ins: %w", err)
	}
	return l.kv.Save(ctx, ownerKey(owner, CheckInsKey), data)
}

// Clear removes everything stored for owner.
func (l *Local) Clear(ctx context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.kv.Delete(ctx,
		ownerKey(owner, SessionsKey),
		ownerKey(owner, SettingsKey),
		ownerKey(owner, CheckInsKey),
	)
}
