package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	chathandler "github.com/zhouzirui/abby/backend/internal/handler/chat"
	"github.com/zhouzirui/abby/backend/internal/middleware"
	"github.com/zhouzirui/abby/backend/internal/service/conversation"
	"github.com/zhouzirui/abby/backend/pkg/log"
	"github.com/zhouzirui/abby/backend/pkg/utils"
)

const defaultHeartbeat = 25 * time.Second

// Subscriber delivers an owner's conversation events.
type Subscriber interface {
	Subscribe(owner string) (<-chan conversation.Event, func())
	Subscribers(owner string) int
}

// Handler pushes conversation events to the browser via Server-Sent Events
type Handler struct {
	engines   chathandler.Engines
	events    Subscriber
	logger    log.Logger
	heartbeat time.Duration
}

// New creates a new stream handler
func New(engines chathandler.Engines, events Subscriber, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{engines: engines, events: events, logger: logger, heartbeat: defaultHeartbeat}
}

// RegisterRoutes 注册事件流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/events", h.handleEvents)
}

// handleEvents subscribes before taking the snapshot so no event between the
// two is lost. The first event is always the current state.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	engine, ok := chathandler.Engine(w, r, h.engines, h.logger)
	if !ok {
		return
	}

	ctx := r.Context()
	owner := middleware.Owner(ctx)
	events, cancel := h.events.Subscribe(owner)
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	state := engine.State()
	if err := utils.SendSSEEvent(w, flusher, string(conversation.EventState), conversation.Event{
		Type:  conversation.EventState,
		State: &state,
	}); err != nil {
		return
	}
	h.logger.Debugf(ctx, "[stream] subscriber attached for %s (%d open)", owner, h.events.Subscribers(owner))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugf(ctx, "[stream] subscriber detached for %s", owner)
			return
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				h.logger.Warnf(ctx, "[stream] write %s event for %s: %v", ev.Type, owner, err)
				return
			}
		}
	}
}
