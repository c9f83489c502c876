package activity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	model "github.com/zhouzirui/abby/backend/internal/model/activity"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	"github.com/zhouzirui/abby/backend/internal/service/activity"
	"github.com/zhouzirui/abby/backend/internal/store"
)

type fakeRemote struct {
	saved []model.CheckIn
	err   error
}

func (f *fakeRemote) SaveCheckIn(_ context.Context, _ string, c model.CheckIn) error {
	f.saved = append(f.saved, c)
	return f.err
}

func newService(t *testing.T, remote activity.RemoteStore) (*activity.Service, *store.Local) {
	t.Helper()
	local := store.NewLocal(store.NewFileKV(t.TempDir()), nil)
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	n := 0
	svc := activity.NewService(local, activity.Options{
		Remote: remote,
		Clock:  func() time.Time { return now },
		NewID: func() string {
			n++
			return "checkin-" + string(rune('0'+n))
		},
	})
	return svc, local
}

func TestRecordStoresLocallyForAnonymousOwner(t *testing.T) {
	remote := &fakeRemote{}
	svc, _ := newService(t, remote)
	ctx := context.Background()

	c, err := svc.Record(ctx, "anon_1", nil, map[string]int{"anxiety": 70, "mood": 30})
	if err != nil {
		t.Fatalf("Record err: %v", err)
	}
	if c.ID != "checkin-1" || c.Timestamp != time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC).UnixMilli() {
		t.Fatalf("unexpected check-in %+v", c)
	}
	if len(remote.saved) != 0 {
		t.Fatal("anonymous owners must not reach the remote store")
	}

	history, err := svc.History(ctx, "anon_1")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 1 || history[0].Values["anxiety"] != 70 {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestRecordMirrorsSignedInUser(t *testing.T) {
	remote := &fakeRemote{err: errors.New("offline")}
	svc, _ := newService(t, remote)

	u := &user.User{UID: "google-1"}
	if _, err := svc.Record(context.Background(), "google-1", u, map[string]int{"energy": 50}); err != nil {
		t.Fatalf("remote failure must not fail the record: %v", err)
	}
	if len(remote.saved) != 1 {
		t.Fatalf("expected one remote save, got %d", len(remote.saved))
	}
}

func TestRecordRejectsInvalidValues(t *testing.T) {
	svc, _ := newService(t, nil)
	cases := []map[string]int{
		nil,
		{"anxiety": 101},
		{"joy": 10},
	}
	for _, values := range cases {
		if _, err := svc.Record(context.Background(), "anon_1", nil, values); !errors.Is(err, model.ErrInvalidCheckIn) {
			t.Fatalf("Record(%v) err = %v, want ErrInvalidCheckIn", values, err)
		}
	}
}

func TestBreathingAndScales(t *testing.T) {
	svc, _ := newService(t, nil)
	if svc.Breathing().CycleMS() != 16000 {
		t.Fatalf("unexpected cycle %d", svc.Breathing().CycleMS())
	}
	if len(svc.Scales()) != 4 {
		t.Fatalf("unexpected scales %+v", svc.Scales())
	}
}
