package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/abby/backend/internal/middleware"
	"github.com/zhouzirui/abby/backend/internal/model/persona"
	"github.com/zhouzirui/abby/backend/internal/service/settings"
	"github.com/zhouzirui/abby/backend/pkg/log"
	"github.com/zhouzirui/abby/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	settings *settings.Service
	logger   log.Logger
}

// New 创建persona处理器
func New(settings *settings.Service, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{settings: settings, logger: logger}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/therapist", h.handleTherapist)
}

type therapistResponse struct {
	persona.Persona
	Greeting string `json:"greeting"`
}

// handleTherapist 返回当前用户的治疗师人设
func (h *Handler) handleTherapist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.Owner(ctx)
	if owner == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	s, err := h.settings.Get(ctx, owner)
	if err != nil {
		h.logger.Errorf(ctx, "[persona] load settings for %s: %v", owner, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load therapist")
		return
	}

	p := persona.FromSettings(s, middleware.User(ctx))
	utils.RespondJSON(w, http.StatusOK, therapistResponse{Persona: p, Greeting: p.Greeting()})
}
