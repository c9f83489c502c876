package chat

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the calendar-day key format used by Session.Date.
const DateLayout = "2006-01-02"

var ErrInvalidSession = errors.New("invalid session")

// Session holds one calendar day's conversation.
type Session struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Messages  []Message `json:"messages"`
	Timestamp int64     `json:"timestamp"`
}

// DayKey formats t as the UTC calendar day.
func DayKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Millis converts t to Unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Validate checks ids, the date key and message ordering.
func (s Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSession)
	}
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return fmt.Errorf("%w: bad date %q", ErrInvalidSession, s.Date)
	}
	var last int64
	for i, m := range s.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: message %d: %v", ErrInvalidSession, i, err)
		}
		if m.Timestamp < last {
			return fmt.Errorf("%w: message %d out of order", ErrInvalidSession, i)
		}
		last = m.Timestamp
	}
	return nil
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Messages = CloneMessages(s.Messages)
	return out
}

// CloneMessages copies a message slice; nil stays nil.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

// SortSessions orders sessions most recently touched first.
func SortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].Timestamp != sessions[j].Timestamp {
			return sessions[i].Timestamp > sessions[j].Timestamp
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// FindByDate returns the index of the session dated day, or -1.
func FindByDate(sessions []Session, day string) int {
	for i, s := range sessions {
		if s.Date == day {
			return i
		}
	}
	return -1
}

// FindByID returns the index of the session with id, or -1.
func FindByID(sessions []Session, id string) int {
	for i, s := range sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}
