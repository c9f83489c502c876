package activity

import (
	"context"
	"time"

	"github.com/google/uuid"

	model "github.com/zhouzirui/abby/backend/internal/model/activity"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

// Store keeps an owner's check-ins on the device cache.
type Store interface {
	LoadCheckIns(ctx context.Context, owner string) ([]model.CheckIn, error)
	AppendCheckIn(ctx context.Context, owner string, c model.CheckIn) error
}

// RemoteStore mirrors check-ins for signed-in users.
type RemoteStore interface {
	SaveCheckIn(ctx context.Context, userID string, c model.CheckIn) error
}

type Options struct {
	Remote RemoteStore
	Logger log.Logger
	Clock  func() time.Time
	NewID  func() string
}

// Service 提供呼吸练习与情绪打卡。
type Service struct {
	local  Store
	remote RemoteStore
	logger log.Logger
	clock  func() time.Time
	newID  func() string
}

func NewService(local Store, opts Options) *Service {
	s := &Service{
		local:  local,
		remote: opts.Remote,
		logger: opts.Logger,
		clock:  opts.Clock,
		newID:  opts.NewID,
	}
	if s.logger == nil {
		s.logger = log.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

func (s *Service) Breathing() model.BreathingPattern {
	return model.BoxBreathing()
}

func (s *Service) Scales() []model.EmotionScale {
	return model.DefaultEmotionScales()
}

// Record validates and stores a check-in. The local write must succeed; the
// remote mirror is best effort and only attempted when u is non-nil.
func (s *Service) Record(ctx context.Context, owner string, u *user.User, values map[string]int) (model.CheckIn, error) {
	c := model.CheckIn{
		ID:        s.newID(),
		Values:    make(map[string]int, len(values)),
		Timestamp: s.clock().UnixMilli(),
	}
	for k, v := range values {
		c.Values[k] = v
	}
	if err := c.Validate(); err != nil {
		return model.CheckIn{}, err
	}

	if err := s.local.AppendCheckIn(ctx, owner, c); err != nil {
		return model.CheckIn{}, err
	}

	if u != nil && s.remote != nil {
		if err := s.remote.SaveCheckIn(ctx, u.UID, c); err != nil {
			s.logger.Warnf(ctx, "[store] remote check-in for %s failed: %v", u.UID, err)
		}
	}
	return c, nil
}

// History returns the owner's check-ins oldest first.
func (s *Service) History(ctx context.Context, owner string) ([]model.CheckIn, error) {
	return s.local.LoadCheckIns(ctx, owner)
}
