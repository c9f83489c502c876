package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	activityhandler "github.com/zhouzirui/abby/backend/internal/handler/activity"
	authhandler "github.com/zhouzirui/abby/backend/internal/handler/auth"
	"github.com/zhouzirui/abby/backend/internal/handler/chat"
	"github.com/zhouzirui/abby/backend/internal/handler/persona"
	settingshandler "github.com/zhouzirui/abby/backend/internal/handler/settings"
	"github.com/zhouzirui/abby/backend/internal/handler/speech"
	"github.com/zhouzirui/abby/backend/internal/handler/stream"
	"github.com/zhouzirui/abby/backend/internal/middleware"
	settingsmodel "github.com/zhouzirui/abby/backend/internal/model/settings"
	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
	activityservice "github.com/zhouzirui/abby/backend/internal/service/activity"
	authservice "github.com/zhouzirui/abby/backend/internal/service/auth"
	"github.com/zhouzirui/abby/backend/internal/service/conversation"
	settingsservice "github.com/zhouzirui/abby/backend/internal/service/settings"
	speechservice "github.com/zhouzirui/abby/backend/internal/service/speech"
	"github.com/zhouzirui/abby/backend/pkg/log"
	"github.com/zhouzirui/abby/backend/pkg/utils"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Registry   *conversation.Registry
	Broker     *conversation.Broker
	Settings   *settingsservice.Service
	Auth       *authservice.Service
	Activities *activityservice.Service
	Speech     speech.SpeechService
	Limiter    *middleware.RateLimiter

	AllowedOrigins []string
	AuthOptions    authhandler.Options
	Logger         log.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(deps.AllowedOrigins))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		api.Group(func(api chi.Router) {
			api.Use(middleware.Identity(deps.Auth, deps.AuthOptions.CookieSecure))

			chat.New(deps.Registry, deps.Limiter, deps.Logger).RegisterRoutes(api)
			stream.New(deps.Registry, deps.Broker, deps.Logger).RegisterRoutes(api)
			settingshandler.New(deps.Settings, deps.Logger).RegisterRoutes(api)
			persona.New(deps.Settings, deps.Logger).RegisterRoutes(api)
			activityhandler.New(deps.Activities, deps.Logger).RegisterRoutes(api)
			authhandler.New(deps.Auth, deps.AuthOptions, deps.Logger).RegisterRoutes(api)
			speech.New(deps.Speech, deps.Registry, deps.Settings, deps.Logger).RegisterRoutes(api)
		})
	})

	return r
}

// BindEngines keeps loaded conversation engines in step with settings and
// sign-in changes. A sign-in or sign-out reloads the user's engine so the
// next request merges or drops remote data. The registry's OnEvict hook
// releases the owner's speech queue.
func BindEngines(registry *conversation.Registry, settings *settingsservice.Service, auth *authservice.Service) {
	settings.OnChange(func(_ context.Context, owner string, _, updated settingsmodel.Settings) {
		if e, ok := registry.Lookup(owner); ok {
			e.ApplySettings(updated)
		}
	})
	auth.OnChange(func(_ context.Context, change authservice.Change) {
		registry.Drop(change.User.UID)
	})
}

// SpeakerFor adapts a queue pool to the registry's SpeakerFor hook.
func SpeakerFor(queues *speechservice.QueuePool) func(owner string) conversation.Speaker {
	return func(owner string) conversation.Speaker {
		if q := queues.For(owner); q != nil {
			return q
		}
		return nil
	}
}

// AudioSink publishes synthesised speech to the owner's event subscribers.
func AudioSink(broker *conversation.Broker) func(owner, id string, resp *speechmodel.TTSResponse) {
	return func(owner, id string, resp *speechmodel.TTSResponse) {
		broker.Publish(owner, conversation.Event{
			Type: conversation.EventAudio,
			Audio: &conversation.Audio{
				MessageID: id,
				Format:    resp.Format,
				Data:      resp.AudioData,
			},
		})
	}
}

// VoiceFor resolves an owner's configured voice for the TTS queue.
func VoiceFor(settings *settingsservice.Service, logger log.Logger) func(ctx context.Context, owner string) string {
	return func(ctx context.Context, owner string) string {
		s, err := settings.Get(ctx, owner)
		if err != nil {
			logger.Warnf(ctx, "[tts] load voice for %s: %v", owner, err)
			return ""
		}
		return s.VoiceName
	}
}
