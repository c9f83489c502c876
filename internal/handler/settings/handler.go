package settings

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/abby/backend/internal/middleware"
	model "github.com/zhouzirui/abby/backend/internal/model/settings"
	service "github.com/zhouzirui/abby/backend/internal/service/settings"
	"github.com/zhouzirui/abby/backend/pkg/log"
	"github.com/zhouzirui/abby/backend/pkg/utils"
)

// Handler 设置与引导流程的HTTP处理器
type Handler struct {
	settings *service.Service
	logger   log.Logger
}

func New(settings *service.Service, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{settings: settings, logger: logger}
}

// RegisterRoutes 注册设置相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleReset)
		r.Post("/onboarding", h.handleOnboarding)
		r.Post("/tts-prompt", h.handleTTSPrompt)
	})
}

func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.Owner(r.Context())
	if id == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return "", false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, s model.Settings, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSettings):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Errorf(r.Context(), "[settings] %s %s: %v", r.Method, r.URL.Path, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to update settings")
	default:
		utils.RespondJSON(w, http.StatusOK, s)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := owner(w, r)
	if !ok {
		return
	}
	s, err := h.settings.Get(r.Context(), id)
	if err != nil {
		h.logger.Errorf(r.Context(), "[settings] load %s: %v", id, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	utils.RespondJSON(w, http.StatusOK, s)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := owner(w, r)
	if !ok {
		return
	}
	var patch model.Patch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.settings.Update(r.Context(), id, patch)
	h.respond(w, r, s, err)
}

type onboardingRequest struct {
	TherapistName string `json:"therapistName"`
	TTSEnabled    bool   `json:"ttsEnabled"`
	VoiceName     string `json:"voiceName"`
}

func (h *Handler) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	id, ok := owner(w, r)
	if !ok {
		return
	}
	var req onboardingRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.settings.CompleteOnboarding(r.Context(), id, req.TherapistName, req.TTSEnabled, req.VoiceName)
	h.respond(w, r, s, err)
}

// handleTTSPrompt records the answer to the one-time voice prompt. Without
// an answer the prompt is only marked as seen.
func (h *Handler) handleTTSPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := owner(w, r)
	if !ok {
		return
	}
	var req struct {
		Enable *bool `json:"enable"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	seen := true
	patch := model.Patch{HasSeenTTSPrompt: &seen, TTSEnabled: req.Enable}
	s, err := h.settings.Update(r.Context(), id, patch)
	h.respond(w, r, s, err)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	id, ok := owner(w, r)
	if !ok {
		return
	}
	s, err := h.settings.Reset(r.Context(), id)
	h.respond(w, r, s, err)
}
