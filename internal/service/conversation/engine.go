// Package conversation owns an owner's sessions, the visible message list
// and the turn state machine around the model.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/internal/model/persona"
	"github.com/zhouzirui/abby/backend/internal/model/settings"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	"github.com/zhouzirui/abby/backend/internal/service/ai"
	"github.com/zhouzirui/abby/backend/internal/store"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

var (
	ErrEmptyMessage    = errors.New("conversation: message is empty")
	ErrBusy            = errors.New("conversation: awaiting response")
	ErrSessionNotFound = errors.New("conversation: session not found")
)

// FallbackReply replaces the bot reply when the model call fails.
const FallbackReply = "I'm having trouble connecting right now. Please try again in a moment."

// Phase is the turn state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseAwaiting Phase = "awaiting_response"
)

// State is a snapshot of an engine. It never aliases engine memory.
type State struct {
	Sessions      []chat.Session `json:"sessions"`
	CurrentID     string         `json:"currentSessionId"`
	Messages      []chat.Message `json:"messages"`
	Phase         Phase          `json:"phase"`
	Typing        bool           `json:"isTyping"`
	Fresh         bool           `json:"isFreshChat"`
	TherapistName string         `json:"therapistName"`
	TTSEnabled    bool           `json:"ttsEnabled"`
}

// LocalStore is the always-on persistence the engine mirrors to.
type LocalStore interface {
	LoadSessions(ctx context.Context, owner string) (map[string]chat.Session, error)
	SaveSessions(ctx context.Context, owner string, sessions []chat.Session) error
	LoadSettings(ctx context.Context, owner string) (settings.Settings, error)
	Clear(ctx context.Context, owner string) error
}

// Speaker queues a bot message for speech.
type Speaker interface {
	Enqueue(id, text string)
}

// Deps are an engine's collaborators. Remote, Speaker and Publisher are optional.
type Deps struct {
	Owner string
	// User is set for signed-in owners; remote persistence is keyed by its UID.
	User *user.User

	Chats     ai.ChatFactory
	Local     LocalStore
	Remote    store.Remote
	Speaker   Speaker
	Publisher Publisher
	Logger    log.Logger

	// Stream makes SendMessage use Chat.Stream and publish delta events.
	Stream bool
	Clock  func() time.Time
	NewID  func() string
}

// Engine is the conversation controller for one owner.
type Engine struct {
	owner  string
	user   *user.User
	chats  ai.ChatFactory
	local  LocalStore
	remote store.Remote

	speaker   Speaker
	publisher Publisher
	logger    log.Logger
	stream    bool
	clock     func() time.Time
	newID     func() string

	mu        sync.Mutex
	sessions  []chat.Session
	currentID string
	phase     Phase
	fresh     bool
	greeting  chat.Message
	settings  settings.Settings
	chat      ai.Chat
	chatGen   uint64

	pending sync.WaitGroup
	localW  *writer
	remoteW *writer
}

// New creates an engine with empty state. Call LoadInitialState before use.
func New(deps Deps) *Engine {
	e := &Engine{
		owner:     deps.Owner,
		user:      deps.User,
		chats:     deps.Chats,
		local:     deps.Local,
		remote:    deps.Remote,
		speaker:   deps.Speaker,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		stream:    deps.Stream,
		clock:     deps.Clock,
		newID:     deps.NewID,
		phase:     PhaseIdle,
		settings:  settings.Default(),
	}
	if e.chats == nil {
		e.chats = ai.Unavailable{}
	}
	if e.logger == nil {
		e.logger = log.NewNop()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.user == nil {
		e.remote = nil
	}
	e.localW = newWriter(&e.pending)
	e.remoteW = newWriter(&e.pending)
	e.chat = e.chats.StartChat(e.personaLocked(), nil)
	return e
}

// Owner returns the owner id the engine serves.
func (e *Engine) Owner() string {
	return e.owner
}

// LoadInitialState reads persisted sessions and settings and selects today's
// session, else the most recently touched one, else nothing.
func (e *Engine) LoadInitialState(ctx context.Context) (State, error) {
	e.localW.barrier()

	byID, err := e.local.LoadSessions(ctx, e.owner)
	if err != nil {
		e.logger.Errorf(ctx, "[store] load local sessions for %s: %v", e.owner, err)
		byID = map[string]chat.Session{}
	}
	sessions := make([]chat.Session, 0, len(byID))
	for _, s := range byID {
		sessions = append(sessions, s)
	}

	var push []chat.Session
	if e.remote != nil {
		remote, err := e.remote.LoadSessions(ctx, e.user.UID)
		if err != nil {
			e.logger.Errorf(ctx, "[store] load remote sessions for %s: %v", e.user.UID, err)
		} else {
			sessions = store.MergeSessions(sessions, remote)
			push = localWinners(sessions, remote)
		}
	}
	chat.SortSessions(sessions)

	st, err := e.local.LoadSettings(ctx, e.owner)
	if err != nil {
		e.logger.Errorf(ctx, "[store] load settings for %s: %v", e.owner, err)
		st = settings.Default()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseIdle {
		return e.snapshotLocked(), ErrBusy
	}

	e.sessions = sessions
	e.settings = st.Normalize()
	e.fresh = false
	e.currentID = ""

	today := chat.DayKey(e.clock())
	if i := chat.FindByDate(e.sessions, today); i >= 0 {
		e.currentID = e.sessions[i].ID
	} else if len(e.sessions) > 0 {
		e.currentID = e.sessions[0].ID
	}
	e.resetChatLocked()

	if e.remote != nil {
		// keep the offline cache in line with the merged view
		e.saveLocalLocked()
		uid := e.user.UID
		for _, sess := range push {
			e.remoteW.submit(func() {
				if err := e.remote.UpsertSession(context.Background(), uid, sess); err != nil {
					e.logger.Errorf(context.Background(), "[store] push session %s: %v", sess.ID, err)
				}
			})
		}
	}

	snap := e.snapshotLocked()
	e.publishLocked(Event{Type: EventState, State: &snap})
	return snap, nil
}

// State returns a snapshot of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Turn is the outcome of one exchange with the model.
type Turn struct {
	SessionID string
	User      chat.Message
	Reply     chat.Message
	State     State
}

// SendMessage appends the user turn to today's session, asks the model and
// appends its reply. Model failures become FallbackReply and are not returned.
func (e *Engine) SendMessage(ctx context.Context, text string) (State, error) {
	turn, err := e.Send(ctx, text)
	return turn.State, err
}

// Send is SendMessage returning the messages it appended.
func (e *Engine) Send(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{State: e.State()}, ErrEmptyMessage
	}

	e.mu.Lock()
	if e.phase != PhaseIdle {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return Turn{State: snap}, ErrBusy
	}
	// Wait covers the turn until its reply is queued for persistence.
	e.pending.Add(1)
	defer e.pending.Done()

	sessionID := e.todaySessionLocked()
	if e.fresh || e.currentID != sessionID {
		// the model must see today's history, not the session on screen
		e.currentID = sessionID
		e.fresh = false
		e.resetChatLocked()
	}
	userMsg := e.appendLocked(sessionID, chat.RoleUser, text)
	e.phase = PhaseAwaiting
	c := e.chat
	gen := e.chatGen

	e.publishLocked(Event{Type: EventMessage, Message: &userMsg})
	e.publishLocked(Event{Type: EventTyping, Typing: true})
	e.persistLocked(sessionID, userMsg)
	e.mu.Unlock()

	reply, err := e.ask(context.WithoutCancel(ctx), c, text)
	if err != nil {
		e.logger.Errorf(ctx, "[chat] model call failed for %s: %v", e.owner, err)
		reply = FallbackReply
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	botMsg := e.appendLocked(sessionID, chat.RoleBot, reply)
	e.phase = PhaseIdle
	if gen != e.chatGen && sessionID == e.currentID && !e.fresh {
		// the chat was replaced mid-turn and has not seen this exchange
		e.resetChatLocked()
	}

	e.publishLocked(Event{Type: EventMessage, Message: &botMsg})
	e.publishLocked(Event{Type: EventTyping, Typing: false})
	e.persistLocked(sessionID, botMsg)
	if e.settings.TTSEnabled && e.speaker != nil {
		e.speaker.Enqueue(botMsg.ID, botMsg.Content)
	}

	snap := e.snapshotLocked()
	e.publishLocked(Event{Type: EventState, State: &snap})
	return Turn{SessionID: sessionID, User: userMsg, Reply: botMsg, State: snap}, nil
}

func (e *Engine) ask(ctx context.Context, c ai.Chat, text string) (string, error) {
	if !e.stream {
		return c.Send(ctx, text)
	}
	return c.Stream(ctx, text, func(delta string) {
		if e.publisher != nil {
			e.publisher.Publish(e.owner, Event{Type: EventDelta, Delta: delta})
		}
	})
}

// StartNewSession shows today's conversation if it has messages, otherwise a
// fresh chat with only the transient greeting.
func (e *Engine) StartNewSession(ctx context.Context) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	today := chat.DayKey(e.clock())
	i := chat.FindByDate(e.sessions, today)
	if i >= 0 && len(e.sessions[i].Messages) > 0 {
		e.currentID = e.sessions[i].ID
		e.fresh = false
	} else {
		e.currentID = ""
		if i >= 0 {
			e.currentID = e.sessions[i].ID
		}
		e.fresh = true
		e.greeting = chat.Message{
			ID:        e.newID(),
			Role:      chat.RoleBot,
			Content:   persona.Greeting(e.settings.TherapistName),
			Timestamp: chat.Millis(e.clock()),
		}
	}
	e.resetChatLocked()

	snap := e.snapshotLocked()
	e.publishLocked(Event{Type: EventState, State: &snap})
	e.logger.Debugf(ctx, "[chat] new session view for %s fresh=%t", e.owner, e.fresh)
	return snap
}

// SelectSession makes id the current session.
func (e *Engine) SelectSession(ctx context.Context, id string) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if chat.FindByID(e.sessions, id) < 0 {
		return e.snapshotLocked(), ErrSessionNotFound
	}
	e.currentID = id
	e.fresh = false
	e.resetChatLocked()

	snap := e.snapshotLocked()
	e.publishLocked(Event{Type: EventState, State: &snap})
	return snap, nil
}

// ClearAllData wipes the owner's local data, and remote data in the
// background, then resets to an empty state with default settings.
func (e *Engine) ClearAllData(ctx context.Context) error {
	e.mu.Lock()
	if e.phase != PhaseIdle {
		e.mu.Unlock()
		return ErrBusy
	}

	e.sessions = nil
	e.currentID = ""
	e.fresh = false
	e.greeting = chat.Message{}
	e.settings = settings.Default()
	e.resetChatLocked()

	done := make(chan struct{})
	owner := e.owner
	e.localW.submit(func() {
		defer close(done)
		if err := e.local.Clear(context.Background(), owner); err != nil {
			e.logger.Errorf(context.Background(), "[store] clear local data for %s: %v", owner, err)
		}
	})
	if e.remote != nil {
		uid := e.user.UID
		e.remoteW.submit(func() {
			if err := e.remote.DeleteUserData(context.Background(), uid); err != nil {
				e.logger.Errorf(context.Background(), "[store] delete remote data for %s: %v", uid, err)
			}
		})
	}

	e.publishLocked(Event{Type: EventCleared})
	snap := e.snapshotLocked()
	e.publishLocked(Event{Type: EventState, State: &snap})
	e.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}
	e.logger.Infof(ctx, "[chat] cleared all data for %s", owner)
	return nil
}

// ApplySettings takes new settings. A therapist name change restarts the
// model chat with the visible history.
func (e *Engine) ApplySettings(s settings.Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s = s.Normalize()
	renamed := s.TherapistName != e.settings.TherapistName
	e.settings = s
	if !renamed {
		return
	}
	if e.fresh {
		e.greeting.Content = persona.Greeting(s.TherapistName)
	}
	e.resetChatLocked()

	snap := e.snapshotLocked()
	e.publishLocked(Event{Type: EventState, State: &snap})
}

// Wait blocks until an in-flight turn and queued persistence have finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

func (e *Engine) personaLocked() persona.Persona {
	return persona.FromSettings(e.settings, e.user)
}

// resetChatLocked restarts the model chat from the visible messages.
func (e *Engine) resetChatLocked() {
	e.chat = e.chats.StartChat(e.personaLocked(), e.messagesLocked())
	e.chatGen++
}

func (e *Engine) messagesLocked() []chat.Message {
	if e.fresh {
		return []chat.Message{e.greeting}
	}
	if i := chat.FindByID(e.sessions, e.currentID); i >= 0 {
		return chat.CloneMessages(e.sessions[i].Messages)
	}
	return []chat.Message{}
}

// todaySessionLocked returns today's session id, creating the session if needed.
func (e *Engine) todaySessionLocked() string {
	now := e.clock()
	today := chat.DayKey(now)
	if i := chat.FindByDate(e.sessions, today); i >= 0 {
		return e.sessions[i].ID
	}

	s := chat.Session{
		ID:        e.newID(),
		Date:      today,
		Messages:  []chat.Message{},
		Timestamp: chat.Millis(now),
	}
	e.sessions = append([]chat.Session{s}, e.sessions...)
	return s.ID
}

// appendLocked adds a message to the session and refreshes its timestamp.
func (e *Engine) appendLocked(sessionID string, role chat.Role, content string) chat.Message {
	ts := chat.Millis(e.clock())
	msg := chat.Message{ID: e.newID(), Role: role, Content: content}

	i := chat.FindByID(e.sessions, sessionID)
	if i < 0 {
		msg.Timestamp = ts
		return msg
	}

	s := e.sessions[i]
	if n := len(s.Messages); n > 0 && s.Messages[n-1].Timestamp > ts {
		ts = s.Messages[n-1].Timestamp
	}
	msg.Timestamp = ts

	messages := make([]chat.Message, len(s.Messages), len(s.Messages)+1)
	copy(messages, s.Messages)
	s.Messages = append(messages, msg)
	if ts > s.Timestamp {
		s.Timestamp = ts
	}
	e.sessions[i] = s
	chat.SortSessions(e.sessions)
	return msg
}

func (e *Engine) snapshotLocked() State {
	sessions := make([]chat.Session, len(e.sessions))
	for i, s := range e.sessions {
		sessions[i] = s.Clone()
	}
	return State{
		Sessions:      sessions,
		CurrentID:     e.currentID,
		Messages:      e.messagesLocked(),
		Phase:         e.phase,
		Typing:        e.phase == PhaseAwaiting,
		Fresh:         e.fresh,
		TherapistName: e.settings.TherapistName,
		TTSEnabled:    e.settings.TTSEnabled,
	}
}

func (e *Engine) publishLocked(ev Event) {
	if e.publisher != nil {
		e.publisher.Publish(e.owner, ev)
	}
}

// persistLocked queues a local save of every session and, for signed-in
// owners, a remote upsert of msg.
func (e *Engine) persistLocked(sessionID string, msg chat.Message) {
	e.saveLocalLocked()

	if e.remote == nil {
		return
	}
	i := chat.FindByID(e.sessions, sessionID)
	if i < 0 {
		return
	}
	sess := e.sessions[i].Clone()
	sess.Messages = nil
	uid := e.user.UID
	e.remoteW.submit(func() {
		ctx := context.Background()
		if err := e.remote.UpsertSession(ctx, uid, sess); err != nil {
			e.logger.Errorf(ctx, "[store] upsert remote session %s: %v", sess.ID, err)
			return
		}
		if err := e.remote.UpsertMessage(ctx, sess.ID, msg); err != nil {
			e.logger.Errorf(ctx, "[store] upsert remote message %s: %v", msg.ID, err)
		}
	})
}

// localWinners returns merged sessions the remote store has not seen yet.
func localWinners(merged, remote []chat.Session) []chat.Session {
	remoteTS := make(map[string]int64, len(remote))
	for _, s := range remote {
		remoteTS[s.ID] = s.Timestamp
	}
	var out []chat.Session
	for _, s := range merged {
		if ts, ok := remoteTS[s.ID]; !ok || ts < s.Timestamp {
			out = append(out, s.Clone())
		}
	}
	return out
}

func (e *Engine) saveLocalLocked() {
	sessions := make([]chat.Session, len(e.sessions))
	for i, s := range e.sessions {
		sessions[i] = s.Clone()
	}
	owner := e.owner
	e.localW.submitSnapshot(func() {
		if err := e.local.SaveSessions(context.Background(), owner, sessions); err != nil {
			e.logger.Errorf(context.Background(), "[store] save local sessions for %s: %v", owner, err)
		}
	})
}
