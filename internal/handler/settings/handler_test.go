package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/abby/backend/internal/middleware"
	model "github.com/zhouzirui/abby/backend/internal/model/settings"
	service "github.com/zhouzirui/abby/backend/internal/service/settings"
	"github.com/zhouzirui/abby/backend/internal/store"
)

const testOwner = "anon_0123456789abcdef0123456789abcdef"

func setup(t *testing.T) (*chi.Mux, *service.Service) {
	t.Helper()
	svc := service.NewService(store.NewLocal(store.NewFileKV(t.TempDir()), nil), nil)
	r := chi.NewRouter()
	New(svc, nil).RegisterRoutes(r)
	return r, svc
}

func do(t *testing.T, r http.Handler, method, path, body string) model.Settings {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(middleware.WithIdentity(req.Context(), testOwner, nil))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("%s %s: expected 200, got %d: %s", method, path, rr.Code, rr.Body.String())
	}
	var s model.Settings
	if err := json.Unmarshal(rr.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	return s
}

func TestGetReturnsDefaults(t *testing.T) {
	r, _ := setup(t)
	if got := do(t, r, http.MethodGet, "/settings", ""); got != model.Default() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestOnboardingFlow(t *testing.T) {
	r, svc := setup(t)

	var changed []string
	svc.OnChange(func(_ context.Context, owner string, old, updated model.Settings) {
		changed = append(changed, owner+":"+updated.TherapistName)
	})

	got := do(t, r, http.MethodPost, "/settings/onboarding", `{"therapistName":" Sam ","ttsEnabled":true,"voiceName":"Samantha"}`)
	if got.TherapistName != "Sam" || !got.TTSEnabled || !got.HasSeenTTSPrompt || !got.HasCompletedOnboarding || got.VoiceName != "Samantha" {
		t.Fatalf("unexpected settings %+v", got)
	}
	if len(changed) != 1 || changed[0] != testOwner+":Sam" {
		t.Fatalf("unexpected change notifications %v", changed)
	}

	got = do(t, r, http.MethodPut, "/settings", `{"therapistName":""}`)
	if got.TherapistName != "Abby" || !got.TTSEnabled {
		t.Fatalf("expected name fallback only, got %+v", got)
	}

	got = do(t, r, http.MethodDelete, "/settings", "")
	if got != model.Default() {
		t.Fatalf("expected reset, got %+v", got)
	}
}

func TestTTSPrompt(t *testing.T) {
	r, _ := setup(t)

	got := do(t, r, http.MethodPost, "/settings/tts-prompt", `{}`)
	if !got.HasSeenTTSPrompt || got.TTSEnabled {
		t.Fatalf("dismissed prompt should only be marked seen, got %+v", got)
	}
	got = do(t, r, http.MethodPost, "/settings/tts-prompt", `{"enable":true}`)
	if !got.TTSEnabled {
		t.Fatalf("expected tts enabled, got %+v", got)
	}
}

func TestUpdateRejectsEmptyPatch(t *testing.T) {
	r, _ := setup(t)
	req := httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{}`))
	req = req.WithContext(middleware.WithIdentity(req.Context(), testOwner, nil))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
