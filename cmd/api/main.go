package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/abby/backend/internal/config"
	"github.com/zhouzirui/abby/backend/internal/handler"
	authhandler "github.com/zhouzirui/abby/backend/internal/handler/auth"
	"github.com/zhouzirui/abby/backend/internal/middleware"
	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
	"github.com/zhouzirui/abby/backend/internal/service/activity"
	"github.com/zhouzirui/abby/backend/internal/service/ai"
	"github.com/zhouzirui/abby/backend/internal/service/auth"
	"github.com/zhouzirui/abby/backend/internal/service/conversation"
	"github.com/zhouzirui/abby/backend/internal/service/settings"
	"github.com/zhouzirui/abby/backend/internal/service/speech"
	"github.com/zhouzirui/abby/backend/internal/store"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env 可选，缺失时仅使用系统环境变量
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Init(log.ZapConfig{Level: "info"}).Fatalf(ctx, "failed to load configuration: %v", err)
	}

	logger := log.Init(log.ZapConfig{
		Level:        cfg.Logger.Level,
		Mode:         cfg.Logger.Mode,
		Encoding:     cfg.Logger.Encoding,
		ColorEnabled: cfg.Logger.ColorEnabled,
	})
	defer logger.Sync()
	if envErr != nil {
		logger.Debugf(ctx, "no .env file loaded: %v", envErr)
	}

	local := store.NewLocal(store.NewFileKV(cfg.Storage.DataDir), logger)

	// 远端存储仅对登录用户生效；接口变量保持 nil 以免出现 typed-nil
	var (
		remote     store.Remote
		profiles   auth.ProfileStore
		checkIns   activity.RemoteStore
		sqliteConn *store.SQLite
	)
	if cfg.Storage.RemoteEnabled {
		sqliteConn, err = store.NewSQLite(cfg.Storage.DatabasePath)
		if err != nil {
			logger.Fatalf(ctx, "failed to open remote store: %v", err)
		}
		remote, profiles, checkIns = sqliteConn, sqliteConn, sqliteConn
		logger.Infof(ctx, "[store] remote store at %s", cfg.Storage.DatabasePath)
	}

	var chats ai.ChatFactory = ai.Unavailable{}
	if chatModel, err := ai.NewChatModel(ctx, cfg.AI); err != nil {
		logger.Warnf(ctx, "AI provider %q unavailable, replies fall back to the apology message: %v", cfg.AI.Provider, err)
	} else if svc, err := ai.NewService(ctx, chatModel, ai.Options{Logger: logger}); err != nil {
		logger.Warnf(ctx, "failed to initialise AI service: %v", err)
	} else {
		chats = svc
		logger.Infof(ctx, "AI service initialised with provider %s", cfg.AI.Provider)
	}

	speechSvc := speech.NewService(speechmodel.SpeechConfig{
		AppID:       cfg.Speech.AppID,
		AccessToken: cfg.Speech.AccessToken,
		AccessKey:   cfg.Speech.AccessKey,
		SecretKey:   cfg.Speech.SecretKey,
		ASRLanguage: cfg.Speech.ASRLanguage,
		TTSVoice:    cfg.Speech.TTSVoice,
		TTSSpeed:    cfg.Speech.TTSSpeed,
		TTSVolume:   cfg.Speech.TTSVolume,
		TTSLanguage: cfg.Speech.TTSLanguage,
		Timeout:     cfg.Speech.Timeout,
	}, logger)
	if !speechSvc.Enabled() {
		logger.Info(ctx, "speech credentials not configured, voice features disabled")
	}

	settingsSvc := settings.NewService(local, logger)
	broker := conversation.NewBroker(logger)

	var queues *speech.QueuePool
	registryCfg := conversation.RegistryConfig{
		Chats:     chats,
		Local:     local,
		Remote:    remote,
		Publisher: broker,
		Logger:    logger,
		Stream:    cfg.AI.Stream,
		IdleTTL:   cfg.Conversation.IdleTTL,
	}
	if speechSvc.Enabled() {
		queues = speech.NewQueuePool(speech.PoolConfig{
			Synth:  speechSvc,
			Voice:  handler.VoiceFor(settingsSvc, logger),
			Sink:   handler.AudioSink(broker),
			Logger: logger,
		})
		registryCfg.SpeakerFor = handler.SpeakerFor(queues)
		registryCfg.OnEvict = queues.Drop
	}
	registry := conversation.NewRegistry(registryCfg)

	var provider auth.Provider
	if cfg.Auth.GoogleEnabled() {
		provider = auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     cfg.Auth.GoogleClientID,
			ClientSecret: cfg.Auth.GoogleClientSecret,
			RedirectURL:  cfg.Auth.RedirectURL,
		})
	} else {
		logger.Info(ctx, "[auth] Google sign-in not configured, anonymous mode only")
	}
	authSvc := auth.NewService(provider, profiles, cfg.Auth.SessionTTL, logger)

	handler.BindEngines(registry, settingsSvc, authSvc)

	router := handler.NewRouter(handler.Deps{
		Registry:       registry,
		Broker:         broker,
		Settings:       settingsSvc,
		Auth:           authSvc,
		Activities:     activity.NewService(local, activity.Options{Remote: checkIns, Logger: logger}),
		Speech:         speechSvc,
		Limiter:        middleware.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AuthOptions: authhandler.Options{
			FrontendURL:  cfg.Auth.FrontendURL,
			SessionTTL:   cfg.Auth.SessionTTL,
			CookieSecure: cfg.Auth.CookieSecure,
		},
		Logger: logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPServer.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Infof(ctx, "Abby backend listening on %s (%s)", srv.Addr, cfg.Environment.Name)
	if err := runServer(ctx, srv); err != nil {
		logger.Errorf(ctx, "server error: %v", err)
	}

	// 等待落盘完成后再释放资源
	registry.Wait()
	if queues != nil {
		queues.Close()
	}
	if sqliteConn != nil {
		if err := sqliteConn.Close(); err != nil {
			logger.Warnf(context.Background(), "[store] close remote store: %v", err)
		}
	}
	logger.Info(context.Background(), "shutdown complete")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
