package conversation

import (
	"context"
	"sync"

	"github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

// EventType names what changed.
type EventType string

const (
	EventState   EventType = "state"
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventDelta   EventType = "delta"
	EventCleared EventType = "cleared"
	EventAudio   EventType = "audio"
)

// Audio is synthesised speech for a bot message.
type Audio struct {
	MessageID string `json:"messageId"`
	Format    string `json:"format"`
	Data      []byte `json:"data"`
}

// Event is delivered to an owner's subscribers.
type Event struct {
	Type    EventType     `json:"type"`
	State   *State        `json:"state,omitempty"`
	Message *chat.Message `json:"message,omitempty"`
	Typing  bool          `json:"typing,omitempty"`
	Delta   string        `json:"delta,omitempty"`
	Audio   *Audio        `json:"audio,omitempty"`
}

// Publisher receives engine events.
type Publisher interface {
	Publish(owner string, ev Event)
}

const defaultSubscriberBuffer = 32

// Broker fans events out to each owner's subscribers.
type Broker struct {
	logger log.Logger
	buffer int

	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker(logger log.Logger) *Broker {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Broker{
		logger: logger,
		buffer: defaultSubscriberBuffer,
		subs:   make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers a subscriber for owner. Call cancel to unsubscribe;
// the channel is closed afterwards.
func (b *Broker) Subscribe(owner string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.subs[owner] == nil {
		b.subs[owner] = make(map[chan Event]struct{})
	}
	b.subs[owner][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[owner], ch)
			if len(b.subs[owner]) == 0 {
				delete(b.subs, owner)
			}
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish never blocks: a full subscriber misses the event.
func (b *Broker) Publish(owner string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[owner] {
		select {
		case ch <- ev:
		default:
			b.logger.Warnf(context.Background(), "[chat] dropped %s event for slow subscriber of %s", ev.Type, owner)
		}
	}
}

// Subscribers reports how many subscribers owner has.
func (b *Broker) Subscribers(owner string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[owner])
}
