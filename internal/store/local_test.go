package store

import (
	"context"
	"testing"

	"github.com/zhouzirui/abby/backend/internal/model/activity"
	"github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/internal/model/settings"
)

func newTestLocal(t *testing.T) (*Local, *FileKV) {
	t.Helper()
	kv := NewFileKV(t.TempDir())
	return NewLocal(kv, nil), kv
}

func TestLocalSessionsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, _ := newTestLocal(t)

	empty, err := local.LoadSessions(ctx, "anon_a")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty sessions, got %v, %v", empty, err)
	}

	sess := chat.Session{
		ID:        "s1",
		Date:      "2026-10-17",
		Timestamp: 20,
		Messages:  []chat.Message{{ID: "m1", Role: chat.RoleUser, Content: "hi", Timestamp: 10}},
	}
	if err := local.SaveSessions(ctx, "anon_a", []chat.Session{sess}); err != nil {
		t.Fatalf("SaveSessions err: %v", err)
	}

	got, err := local.LoadSessions(ctx, "anon_a")
	if err != nil {
		t.Fatalf("LoadSessions err: %v", err)
	}
	if len(got) != 1 || got["s1"].Messages[0].Content != "hi" {
		t.Fatalf("unexpected sessions %+v", got)
	}

	other, _ := local.LoadSessions(ctx, "anon_b")
	if len(other) != 0 {
		t.Fatal("owners must not share sessions")
	}
}

func TestLocalDropsInvalidSessionRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, kv := newTestLocal(t)

	blob := `{
		"good": {"id": "good", "date": "2026-10-17", "messages": [], "timestamp": 1},
		"bad":  {"id": "bad", "date": "not-a-date", "messages": [], "timestamp": 1}
	}`
	if err := kv.Save(ctx, "anon_a/"+SessionsKey, []byte(blob)); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	got, err := local.LoadSessions(ctx, "anon_a")
	if err != nil {
		t.Fatalf("LoadSessions err: %v", err)
	}
	if _, ok := got["good"]; !ok || len(got) != 1 {
		t.Fatalf("expected only the valid record, got %+v", got)
	}
}

func TestLocalSettingsDefaultsAndMerge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, kv := newTestLocal(t)

	s, err := local.LoadSettings(ctx, "anon_a")
	if err != nil || s != settings.Default() {
		t.Fatalf("expected defaults, got %+v, %v", s, err)
	}

	if err := kv.Save(ctx, "anon_a/"+SettingsKey, []byte(`{"ttsEnabled": true}`)); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	s, _ = local.LoadSettings(ctx, "anon_a")
	if !s.TTSEnabled || s.TherapistName != settings.DefaultTherapistName {
		t.Fatalf("expected merge over defaults, got %+v", s)
	}

	if err := kv.Save(ctx, "anon_a/"+SettingsKey, []byte(`not json`)); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	s, err = local.LoadSettings(ctx, "anon_a")
	if err != nil || s != settings.Default() {
		t.Fatalf("malformed settings should yield defaults, got %+v, %v", s, err)
	}
}

func TestLocalCheckInsAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, _ := newTestLocal(t)

	for i, v := range []int{30, 70} {
		c := activity.CheckIn{ID: string(rune('a' + i)), Values: map[string]int{"mood": v}, Timestamp: int64(i)}
		if err := local.AppendCheckIn(ctx, "anon_a", c); err != nil {
			t.Fatalf("AppendCheckIn err: %v", err)
		}
	}
	got, err := local.LoadCheckIns(ctx, "anon_a")
	if err != nil || len(got) != 2 || got[1].Values["mood"] != 70 {
		t.Fatalf("unexpected check-ins %+v, %v", got, err)
	}

	if err := local.SaveSettings(ctx, "anon_a", settings.Settings{TherapistName: "Sam"}); err != nil {
		t.Fatalf("SaveSettings err: %v", err)
	}
	if err := local.Clear(ctx, "anon_a"); err != nil {
		t.Fatalf("Clear err: %v", err)
	}

	got, _ = local.LoadCheckIns(ctx, "anon_a")
	s, _ := local.LoadSettings(ctx, "anon_a")
	if len(got) != 0 || s != settings.Default() {
		t.Fatalf("expected cleared data, got %+v %+v", got, s)
	}
}
