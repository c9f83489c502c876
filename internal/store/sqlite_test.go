package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/zhouzirui/abby/backend/internal/model/activity"
	"github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/internal/model/user"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "abby.db"))
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteUpsertAndLoadOrdering(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)

	older := chat.Session{ID: "s-old", Date: "2026-10-16", Timestamp: 100, Messages: []chat.Message{
		{ID: "m1", Role: chat.RoleUser, Content: "first", Timestamp: 90},
	}}
	newer := chat.Session{ID: "s-new", Date: "2026-10-17", Timestamp: 300, Messages: []chat.Message{
		{ID: "m2", Role: chat.RoleUser, Content: "hello", Timestamp: 200},
		{ID: "m3", Role: chat.RoleBot, Content: "hi there", Timestamp: 250},
	}}
	for _, s := range []chat.Session{older, newer} {
		if err := db.UpsertSession(ctx, "u1", s); err != nil {
			t.Fatalf("UpsertSession err: %v", err)
		}
	}
	if err := db.UpsertSession(ctx, "u2", chat.Session{ID: "other", Date: "2026-10-17", Timestamp: 999}); err != nil {
		t.Fatalf("UpsertSession err: %v", err)
	}

	// later write of the same session updates it in place
	newer.Timestamp = 400
	if err := db.UpsertSession(ctx, "u1", newer); err != nil {
		t.Fatalf("UpsertSession err: %v", err)
	}
	if err := db.UpsertMessage(ctx, "s-new", chat.Message{ID: "m4", Role: chat.RoleUser, Content: "more", Timestamp: 260}); err != nil {
		t.Fatalf("UpsertMessage err: %v", err)
	}

	got, err := db.LoadSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadSessions err: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s-new" || got[1].ID != "s-old" {
		t.Fatalf("unexpected session order %+v", got)
	}
	if got[0].Timestamp != 400 {
		t.Fatalf("expected updated timestamp, got %d", got[0].Timestamp)
	}
	var contents []string
	for _, m := range got[0].Messages {
		contents = append(contents, m.Content)
	}
	if len(contents) != 3 || contents[0] != "hello" || contents[1] != "hi there" || contents[2] != "more" {
		t.Fatalf("unexpected message order %v", contents)
	}
	if got[0].Messages[1].Role != chat.RoleBot {
		t.Fatalf("role not preserved: %+v", got[0].Messages[1])
	}
}

func TestSQLiteDeleteUserDataKeepsProfile(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)

	u := user.User{UID: "u1", DisplayName: user.StringPtr("Jo March")}
	if err := db.UpsertUserProfile(ctx, u); err != nil {
		t.Fatalf("UpsertUserProfile err: %v", err)
	}
	sess := chat.Session{ID: "s1", Date: "2026-10-17", Timestamp: 1, Messages: []chat.Message{{ID: "m1", Role: chat.RoleUser, Content: "hi", Timestamp: 1}}}
	if err := db.UpsertSession(ctx, "u1", sess); err != nil {
		t.Fatalf("UpsertSession err: %v", err)
	}
	if err := db.SaveCheckIn(ctx, "u1", activity.CheckIn{ID: "c1", Values: map[string]int{"mood": 60}, Timestamp: 1}); err != nil {
		t.Fatalf("SaveCheckIn err: %v", err)
	}

	if err := db.DeleteUserData(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUserData err: %v", err)
	}

	got, err := db.LoadSessions(ctx, "u1")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no sessions, got %+v, %v", got, err)
	}
	profile, err := db.userProfile(ctx, "u1")
	if err != nil || profile == nil || profile.FirstName() != "Jo" || profile.Email != nil {
		t.Fatalf("expected profile to survive, got %+v, %v", profile, err)
	}

	missing, err := db.userProfile(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("expected nil profile, got %+v, %v", missing, err)
	}
}
