package conversation_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/abby/backend/internal/model/activity"
	"github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/internal/model/persona"
	"github.com/zhouzirui/abby/backend/internal/model/settings"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	"github.com/zhouzirui/abby/backend/internal/service/ai"
)

type reply struct {
	text string
	err  error
}

// scriptedChats hands out chats that answer from a shared script.
type scriptedChats struct {
	mu      sync.Mutex
	replies []reply
	starts  [][]chat.Message
	names   []string
	sent    []string
	block   chan struct{}
	entered chan struct{}
}

func (f *scriptedChats) StartChat(p persona.Persona, history []chat.Message) ai.Chat {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, chat.CloneMessages(history))
	f.names = append(f.names, p.Name)
	return &scriptedChat{f: f}
}

func (f *scriptedChats) lastStart() []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[len(f.starts)-1]
}

func (f *scriptedChats) lastName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[len(f.names)-1]
}

type scriptedChat struct {
	f *scriptedChats
}

func (c *scriptedChat) Send(ctx context.Context, text string) (string, error) {
	c.f.mu.Lock()
	block, entered := c.f.block, c.f.entered
	c.f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}

	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.sent = append(c.f.sent, text)
	if len(c.f.replies) == 0 {
		return "reply to " + text, nil
	}
	r := c.f.replies[0]
	c.f.replies = c.f.replies[1:]
	return r.text, r.err
}

func (c *scriptedChat) Stream(ctx context.Context, text string, onDelta func(string)) (string, error) {
	out, err := c.Send(ctx, text)
	if err == nil && onDelta != nil {
		onDelta(out)
	}
	return out, err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

// Now advances one second per call.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeLocal struct {
	mu       sync.Mutex
	sessions map[string]map[string]chat.Session
	settings map[string]settings.Settings
	saves    int
	saveErr  error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{
		sessions: make(map[string]map[string]chat.Session),
		settings: make(map[string]settings.Settings),
	}
}

func (l *fakeLocal) seed(owner string, sessions ...chat.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessions[owner] == nil {
		l.sessions[owner] = make(map[string]chat.Session)
	}
	for _, s := range sessions {
		l.sessions[owner][s.ID] = s.Clone()
	}
}

func (l *fakeLocal) stored(owner string) map[string]chat.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]chat.Session)
	for id, s := range l.sessions[owner] {
		out[id] = s.Clone()
	}
	return out
}

func (l *fakeLocal) LoadSessions(_ context.Context, owner string) (map[string]chat.Session, error) {
	return l.stored(owner), nil
}

func (l *fakeLocal) SaveSessions(_ context.Context, owner string, sessions []chat.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saves++
	if l.saveErr != nil {
		return l.saveErr
	}
	m := make(map[string]chat.Session, len(sessions))
	for _, s := range sessions {
		m[s.ID] = s.Clone()
	}
	l.sessions[owner] = m
	return nil
}

func (l *fakeLocal) LoadSettings(_ context.Context, owner string) (settings.Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.settings[owner]; ok {
		return s, nil
	}
	return settings.Default(), nil
}

func (l *fakeLocal) Clear(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, owner)
	delete(l.settings, owner)
	return nil
}

type fakeRemote struct {
	mu       sync.Mutex
	sessions map[string]map[string]chat.Session
	deleted  []string
	loadErr  error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{sessions: make(map[string]map[string]chat.Session)}
}

func (r *fakeRemote) UpsertSession(_ context.Context, userID string, s chat.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[userID] == nil {
		r.sessions[userID] = make(map[string]chat.Session)
	}
	cur, ok := r.sessions[userID][s.ID]
	if ok && len(s.Messages) == 0 {
		s.Messages = cur.Messages
	}
	r.sessions[userID][s.ID] = s.Clone()
	return nil
}

func (r *fakeRemote) UpsertMessage(_ context.Context, sessionID string, m chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, byID := range r.sessions {
		if s, ok := byID[sessionID]; ok {
			s.Messages = append(chat.CloneMessages(s.Messages), m)
			byID[sessionID] = s
			return nil
		}
	}
	return errors.New("unknown session")
}

func (r *fakeRemote) LoadSessions(_ context.Context, userID string) ([]chat.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	var out []chat.Session
	for _, s := range r.sessions[userID] {
		out = append(out, s.Clone())
	}
	chat.SortSessions(out)
	return out, nil
}

func (r *fakeRemote) UpsertUserProfile(context.Context, user.User) error { return nil }

func (r *fakeRemote) SaveCheckIn(context.Context, string, activity.CheckIn) error { return nil }

func (r *fakeRemote) DeleteUserData(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
	r.deleted = append(r.deleted, userID)
	return nil
}

func (r *fakeRemote) Ping(context.Context) error { return nil }

func (r *fakeRemote) Close() error { return nil }

type recordingSpeaker struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSpeaker) Enqueue(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
}
