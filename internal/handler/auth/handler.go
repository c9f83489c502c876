package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/abby/backend/internal/middleware"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	service "github.com/zhouzirui/abby/backend/internal/service/auth"
	"github.com/zhouzirui/abby/backend/pkg/log"
	"github.com/zhouzirui/abby/backend/pkg/utils"
)

// Options controls the session cookie and where the browser lands after sign-in.
type Options struct {
	FrontendURL  string
	SessionTTL   time.Duration
	CookieSecure bool
}

// Handler 登录流程的HTTP处理器
type Handler struct {
	auth   *service.Service
	opts   Options
	logger log.Logger
}

func New(auth *service.Service, opts Options, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	if opts.FrontendURL == "" {
		opts.FrontendURL = "/"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * 24 * time.Hour
	}
	return &Handler{auth: auth, opts: opts, logger: logger}
}

// RegisterRoutes 注册登录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", h.handleLogin)
		r.Get("/callback", h.handleCallback)
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	url, _, err := h.auth.BeginSignIn()
	if errors.Is(err, service.ErrNotConfigured) {
		utils.RespondError(w, http.StatusServiceUnavailable, "sign-in is not configured")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to start sign-in")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.logger.Infof(r.Context(), "[auth] provider returned %s", e)
		http.Redirect(w, r, h.opts.FrontendURL, http.StatusFound)
		return
	}

	token, u, err := h.auth.CompleteSignIn(r.Context(), q.Get("state"), q.Get("code"))
	switch {
	case errors.Is(err, service.ErrNotConfigured):
		utils.RespondError(w, http.StatusServiceUnavailable, "sign-in is not configured")
		return
	case errors.Is(err, service.ErrInvalidState):
		utils.RespondError(w, http.StatusBadRequest, "invalid or expired sign-in state")
		return
	case err != nil:
		utils.RespondError(w, http.StatusBadGateway, "sign-in failed")
		return
	}

	middleware.SetAuthCookie(w, token, h.opts.SessionTTL, h.opts.CookieSecure)
	h.logger.Debugf(r.Context(), "[auth] session cookie set for %s", u.UID)
	http.Redirect(w, r, h.opts.FrontendURL, http.StatusFound)
}

// handleLogout always clears the cookie; an unknown token is not an error.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := middleware.AuthToken(r.Context())
	if token != "" {
		if err := h.auth.SignOut(r.Context(), token); err != nil && !errors.Is(err, service.ErrSessionNotFound) {
			h.logger.Warnf(r.Context(), "[auth] sign out: %v", err)
		}
	}
	middleware.ClearAuthCookie(w, h.opts.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	SignedIn      bool       `json:"signedIn"`
	SignInEnabled bool       `json:"signInEnabled"`
	User          *user.User `json:"user,omitempty"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u := middleware.User(r.Context())
	utils.RespondJSON(w, http.StatusOK, meResponse{
		SignedIn:      u != nil,
		SignInEnabled: h.auth.Enabled(),
		User:          u,
	})
}
