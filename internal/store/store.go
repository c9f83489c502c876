// Package store persists conversations, settings and check-ins.
package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/abby/backend/internal/model/activity"
	"github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/internal/model/user"
)

var (
	ErrKeyNotFound = errors.New("store: key not found")
	ErrInvalidKey  = errors.New("store: invalid key")
)

// Local storage keys, namespaced per owner.
const (
	SessionsKey = "therapy_sessions"
	SettingsKey = "therapy_settings"
	CheckInsKey = "therapy_checkins"
)

// KV is a byte-oriented key value store.
type KV interface {
	// Load returns ErrKeyNotFound when key is absent.
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	// Delete ignores keys that do not exist.
	Delete(ctx context.Context, keys ...string) error
}

// Remote is the signed-in user's data store.
type Remote interface {
	// UpsertSession writes the session row and every message in it.
	UpsertSession(ctx context.Context, userID string, session chat.Session) error

	UpsertMessage(ctx context.Context, sessionID string, msg chat.Message) error

	// LoadSessions returns the user's sessions most recent first, messages oldest first.
	LoadSessions(ctx context.Context, userID string) ([]chat.Session, error)

	UpsertUserProfile(ctx context.Context, u user.User) error

	SaveCheckIn(ctx context.Context, userID string, checkIn activity.CheckIn) error

	// DeleteUserData removes sessions, messages and check-ins. The profile is kept.
	DeleteUserData(ctx context.Context, userID string) error

	Ping(ctx context.Context) error

	Close() error
}
