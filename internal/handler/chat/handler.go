package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/abby/backend/internal/analysis/intent"
	"github.com/zhouzirui/abby/backend/internal/middleware"
	"github.com/zhouzirui/abby/backend/internal/model/activity"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	"github.com/zhouzirui/abby/backend/internal/service/conversation"
	"github.com/zhouzirui/abby/backend/pkg/log"
	"github.com/zhouzirui/abby/backend/pkg/utils"
)

// Engines resolves the conversation engine of an owner.
type Engines interface {
	Get(ctx context.Context, owner string, u *user.User) (*conversation.Engine, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	engines Engines
	limiter *middleware.RateLimiter
	logger  log.Logger
}

// New 创建聊天处理器。limiter 为 nil 时不限流。
func New(engines Engines, limiter *middleware.RateLimiter, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{engines: engines, limiter: limiter, logger: logger}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/state", h.handleState)
		r.Get("/sessions", h.handleListSessions)
		r.Post("/sessions/new", h.handleNewSession)
		r.Post("/sessions/{id}/select", h.handleSelectSession)
		r.Delete("/data", h.handleClearData)

		send := r
		if h.limiter != nil {
			send = r.With(h.limiter.Middleware)
		}
		send.Post("/messages", h.handleSendMessage)
	})
}

// Engine returns the engine of the request's owner, writing an error response on failure.
func Engine(w http.ResponseWriter, r *http.Request, engines Engines, logger log.Logger) (*conversation.Engine, bool) {
	ctx := r.Context()
	owner := middleware.Owner(ctx)
	if owner == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return nil, false
	}
	e, err := engines.Get(ctx, owner, middleware.User(ctx))
	if err != nil {
		logger.Errorf(ctx, "[chat] load engine for %s: %v", owner, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load conversation")
		return nil, false
	}
	return e, true
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	e, ok := Engine(w, r, h.engines, h.logger)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, e.State())
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	e, ok := Engine(w, r, h.engines, h.logger)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": e.State().Sessions})
}

type sendRequest struct {
	Text            string `json:"text"`
	RouteActivities bool   `json:"routeActivities"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.RouteActivities {
		if kind := intent.Detect(payload.Text); kind != activity.None {
			utils.RespondJSON(w, http.StatusOK, map[string]activity.Kind{"activity": kind})
			return
		}
	}

	e, ok := Engine(w, r, h.engines, h.logger)
	if !ok {
		return
	}

	state, err := e.SendMessage(r.Context(), payload.Text)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, "message text is required")
	case errors.Is(err, conversation.ErrBusy):
		utils.RespondError(w, http.StatusConflict, "a reply is already pending")
	case err != nil:
		h.logger.Errorf(r.Context(), "[chat] send message: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to send message")
	default:
		utils.RespondJSON(w, http.StatusOK, state)
	}
}

func (h *Handler) handleNewSession(w http.ResponseWriter, r *http.Request) {
	e, ok := Engine(w, r, h.engines, h.logger)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, e.StartNewSession(r.Context()))
}

func (h *Handler) handleSelectSession(w http.ResponseWriter, r *http.Request) {
	e, ok := Engine(w, r, h.engines, h.logger)
	if !ok {
		return
	}

	state, err := e.SelectSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, conversation.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}

func (h *Handler) handleClearData(w http.ResponseWriter, r *http.Request) {
	e, ok := Engine(w, r, h.engines, h.logger)
	if !ok {
		return
	}

	if err := e.ClearAllData(r.Context()); err != nil {
		if errors.Is(err, conversation.ErrBusy) {
			utils.RespondError(w, http.StatusConflict, "a reply is already pending")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to clear data")
		return
	}
	utils.RespondJSON(w, http.StatusOK, e.State())
}
