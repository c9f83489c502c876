package activity

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/abby/backend/internal/middleware"
	model "github.com/zhouzirui/abby/backend/internal/model/activity"
	service "github.com/zhouzirui/abby/backend/internal/service/activity"
	"github.com/zhouzirui/abby/backend/pkg/log"
	"github.com/zhouzirui/abby/backend/pkg/utils"
)

// Handler 呼吸练习与情绪打卡的HTTP处理器
type Handler struct {
	activities *service.Service
	logger     log.Logger
}

func New(activities *service.Service, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{activities: activities, logger: logger}
}

// RegisterRoutes 注册活动相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/activities", func(r chi.Router) {
		r.Get("/breathing", h.handleBreathing)
		r.Get("/emotions", h.handleScales)
		r.Post("/emotions", h.handleCheckIn)
		r.Get("/emotions/history", h.handleHistory)
	})
}

type breathingResponse struct {
	model.BreathingPattern
	CycleMS int `json:"cycleMs"`
}

func (h *Handler) handleBreathing(w http.ResponseWriter, r *http.Request) {
	p := h.activities.Breathing()
	utils.RespondJSON(w, http.StatusOK, breathingResponse{BreathingPattern: p, CycleMS: p.CycleMS()})
}

func (h *Handler) handleScales(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"scales": h.activities.Scales()})
}

type checkInResponse struct {
	model.CheckIn
	Trends map[string]string `json:"trends"`
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.Owner(ctx)
	if owner == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req struct {
		Values map[string]int `json:"values"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.activities.Record(ctx, owner, middleware.User(ctx), req.Values)
	if errors.Is(err, model.ErrInvalidCheckIn) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Errorf(ctx, "[activity] record check-in for %s: %v", owner, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save check-in")
		return
	}

	trends := make(map[string]string, len(c.Values))
	for id, v := range c.Values {
		trends[id] = model.Trend(v)
	}
	utils.RespondJSON(w, http.StatusCreated, checkInResponse{CheckIn: c, Trends: trends})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.Owner(ctx)
	if owner == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	history, err := h.activities.History(ctx, owner)
	if err != nil {
		h.logger.Errorf(ctx, "[activity] load history for %s: %v", owner, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if history == nil {
		history = []model.CheckIn{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"checkIns": history})
}
