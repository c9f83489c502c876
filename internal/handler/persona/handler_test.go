package persona

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/abby/backend/internal/middleware"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	"github.com/zhouzirui/abby/backend/internal/service/settings"
	"github.com/zhouzirui/abby/backend/internal/store"
)

func TestTherapistUsesSettingsAndUser(t *testing.T) {
	svc := settings.NewService(store.NewLocal(store.NewFileKV(t.TempDir()), nil), nil)
	if _, err := svc.CompleteOnboarding(context.Background(), "g-1", "Sam", true, "Karen"); err != nil {
		t.Fatalf("CompleteOnboarding err: %v", err)
	}

	r := chi.NewRouter()
	New(svc, nil).RegisterRoutes(r)

	u := &user.User{UID: "g-1", DisplayName: user.StringPtr("Ada Lovelace")}
	req := httptest.NewRequest(http.MethodGet, "/therapist", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), "g-1", u))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body therapistResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Name != "Sam" || body.ClientName != "Ada" || body.VoiceName != "Karen" {
		t.Fatalf("unexpected persona %+v", body)
	}
	if !strings.Contains(body.Greeting, "Hi from your therapist, Sam.") {
		t.Fatalf("unexpected greeting %q", body.Greeting)
	}
}

func TestTherapistDefaultsForNewOwner(t *testing.T) {
	svc := settings.NewService(store.NewLocal(store.NewFileKV(t.TempDir()), nil), nil)
	r := chi.NewRouter()
	New(svc, nil).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/therapist", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), "anon_0123456789abcdef0123456789abcdef", nil))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var body therapistResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body.Name != "Abby" || body.ClientName != "" {
		t.Fatalf("unexpected persona %+v", body)
	}
}
