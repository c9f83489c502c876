package chat

import (
	"errors"
	"testing"
	"time"
)

func TestTrimLeadingBot(t *testing.T) {
	msgs := []Message{
		{ID: "g", Role: RoleBot, Content: "hi"},
		{ID: "u1", Role: RoleUser, Content: "hello"},
		{ID: "b1", Role: RoleBot, Content: "hey"},
	}

	got := TrimLeadingBot(msgs)
	if len(got) != 2 || got[0].ID != "u1" {
		t.Fatalf("unexpected trimmed history: %+v", got)
	}
	if TrimLeadingBot(msgs[:1]) != nil {
		t.Fatal("bot-only history should trim to nil")
	}
}

func TestSessionValidateOrdering(t *testing.T) {
	s := Session{
		ID:   "s1",
		Date: "2025-01-02",
		Messages: []Message{
			{ID: "a", Role: RoleUser, Content: "x", Timestamp: 20},
			{ID: "b", Role: RoleBot, Content: "y", Timestamp: 10},
		},
	}
	if err := s.Validate(); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ordering error, got %v", err)
	}

	s.Messages[1].Timestamp = 20
	if err := s.Validate(); err != nil {
		t.Fatalf("equal timestamps are fine: %v", err)
	}
}

func TestDecodeSessionsDropsInvalidRecords(t *testing.T) {
	blob := []byte(`{
		"ok": {"id":"ok","date":"2025-03-01","messages":[{"id":"m","role":"user","content":"hi","timestamp":1}],"timestamp":5},
		"badrole": {"id":"badrole","date":"2025-03-01","messages":[{"id":"m","role":"system","content":"x","timestamp":1}],"timestamp":5},
		"mismatch": {"id":"other","date":"2025-03-01","messages":[],"timestamp":5},
		"baddate": {"id":"baddate","date":"March","messages":[],"timestamp":5},
		"empty": {"id":"empty","date":"2025-03-02","timestamp":1}
	}`)

	sessions, rejected, err := DecodeSessions(blob)
	if err != nil {
		t.Fatalf("DecodeSessions err: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 valid sessions, got %d", len(sessions))
	}
	if len(rejected) != 3 {
		t.Fatalf("expected 3 rejections, got %d", len(rejected))
	}
	if sessions["empty"].Messages == nil {
		t.Fatal("missing messages should decode as an empty list")
	}
}

func TestDecodeSessionsRejectsNonObject(t *testing.T) {
	if _, _, err := DecodeSessions([]byte(`[1,2]`)); err == nil {
		t.Fatal("expected error for array blob")
	}
}

func TestSortSessionsMostRecentFirst(t *testing.T) {
	sessions := []Session{{ID: "a", Timestamp: 1}, {ID: "c", Timestamp: 3}, {ID: "b", Timestamp: 3}}
	SortSessions(sessions)
	if sessions[0].ID != "b" || sessions[1].ID != "c" || sessions[2].ID != "a" {
		t.Fatalf("unexpected order: %+v", sessions)
	}
}

func TestDayKeyIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	ts := time.Date(2025, 5, 2, 3, 0, 0, 0, loc)
	if got := DayKey(ts); got != "2025-05-01" {
		t.Fatalf("expected UTC day, got %s", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := Session{ID: "s", Messages: []Message{{ID: "m", Content: "a"}}}
	c := s.Clone()
	c.Messages[0].Content = "b"
	if s.Messages[0].Content != "a" {
		t.Fatal("clone shares message storage")
	}
}
