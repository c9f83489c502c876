package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/abby/backend/internal/middleware"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	service "github.com/zhouzirui/abby/backend/internal/service/auth"
)

type fakeProvider struct{ user user.User }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.test/auth?state=" + state
}

func (p *fakeProvider) Exchange(context.Context, string) (user.User, error) {
	return p.user, nil
}

func newRouter(svc *service.Service) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Identity(svc, false))
	New(svc, Options{FrontendURL: "http://app.test/"}, nil).RegisterRoutes(r)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSignInRoundTrip(t *testing.T) {
	svc := service.NewService(&fakeProvider{user: user.User{UID: "g-42", DisplayName: user.StringPtr("Ada Lovelace")}}, nil, time.Hour, nil)
	var changes []service.Change
	svc.OnChange(func(_ context.Context, c service.Change) { changes = append(changes, c) })
	r := newRouter(svc)

	login := serve(r, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	if login.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", login.Code)
	}
	loc, err := url.Parse(login.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	state := loc.Query().Get("state")

	cb := serve(r, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state="+state, nil))
	if cb.Code != http.StatusFound || cb.Header().Get("Location") != "http://app.test/" {
		t.Fatalf("unexpected callback response %d %q", cb.Code, cb.Header().Get("Location"))
	}
	session := cookieNamed(cb, middleware.AuthCookieName)
	if session == nil || session.Value == "" {
		t.Fatal("expected session cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(session)
	me := serve(r, req)
	var body meResponse
	if err := json.Unmarshal(me.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if !body.SignedIn || body.User == nil || body.User.UID != "g-42" || !body.SignInEnabled {
		t.Fatalf("unexpected me response %+v", body)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(session)
	out := serve(r, req)
	if out.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", out.Code)
	}
	if c := cookieNamed(out, middleware.AuthCookieName); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", c)
	}
	if _, ok := svc.Lookup(session.Value); ok {
		t.Fatal("session should be gone after logout")
	}
	if len(changes) != 2 || !changes[0].SignedIn || changes[1].SignedIn {
		t.Fatalf("unexpected changes %+v", changes)
	}
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	svc := service.NewService(&fakeProvider{}, nil, time.Hour, nil)
	rr := serve(newRouter(svc), httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=forged", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestNotConfigured(t *testing.T) {
	svc := service.NewService(nil, nil, time.Hour, nil)
	r := newRouter(svc)

	if rr := serve(r, httptest.NewRequest(http.MethodGet, "/auth/login", nil)); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	me := serve(r, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	var body meResponse
	_ = json.Unmarshal(me.Body.Bytes(), &body)
	if body.SignedIn || body.SignInEnabled {
		t.Fatalf("unexpected me response %+v", body)
	}
}
