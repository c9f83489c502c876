package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/viper"
)

// AI provider names accepted by ai.provider.
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Environment  EnvironmentConfig
	HTTPServer   HTTPServerConfig
	Logger       LoggerConfig
	CORS         CORSConfig
	AI           AIConfig
	Speech       SpeechConfig
	Storage      StorageConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Conversation ConversationConfig
}

type EnvironmentConfig struct {
	Name string
}

// HTTPServerConfig 描述 HTTP 服务配置。
type HTTPServerConfig struct {
	Addr string
}

type LoggerConfig struct {
	Level        string
	Mode         string
	Encoding     string
	ColorEnabled bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string
	Stream   bool
	Gemini   GeminiConfig
	Ark      ArkConfig
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type ArkConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID       string
	AccessToken string
	AccessKey   string
	SecretKey   string
	ASRLanguage string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string
	Timeout     int
}

type StorageConfig struct {
	DataDir       string
	DatabasePath  string
	RemoteEnabled bool
}

type AuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	RedirectURL        string
	FrontendURL        string
	SessionTTL         time.Duration
	CookieSecure       bool
}

type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

type ConversationConfig struct {
	IdleTTL time.Duration
}

// Load 读取 config.yaml（可选）与环境变量。
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/abby/")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Environment.Name = v.GetString("environment.name")
	cfg.HTTPServer.Addr = normalizeAddr(v.GetString("http_server.addr"))
	if port := strings.TrimSpace(v.GetString("port")); port != "" {
		cfg.HTTPServer.Addr = normalizeAddr(port)
	}

	cfg.Logger.Level = v.GetString("logger.level")
	cfg.Logger.Mode = v.GetString("logger.mode")
	cfg.Logger.Encoding = v.GetString("logger.encoding")
	cfg.Logger.ColorEnabled = v.GetBool("logger.color_enabled")

	cfg.CORS.AllowedOrigins = splitList(v.GetStringSlice("cors.allowed_origins"))

	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(v.GetString("ai.provider")))
	cfg.AI.Stream = v.GetBool("ai.stream")
	cfg.AI.Gemini = GeminiConfig{
		APIKey:  strings.TrimSpace(v.GetString("ai.gemini.api_key")),
		Model:   v.GetString("ai.gemini.model"),
		BaseURL: v.GetString("ai.gemini.base_url"),
		Timeout: v.GetDuration("ai.gemini.timeout"),
	}
	cfg.AI.Ark = ArkConfig{
		APIKey:    strings.TrimSpace(v.GetString("ai.ark.api_key")),
		AccessKey: strings.TrimSpace(v.GetString("ai.ark.access_key")),
		SecretKey: strings.TrimSpace(v.GetString("ai.ark.secret_key")),
		Model:     strings.TrimSpace(v.GetString("ai.ark.model")),
		BaseURL:   v.GetString("ai.ark.base_url"),
		Region:    v.GetString("ai.ark.region"),
	}
	if v.IsSet("ai.ark.temperature") {
		val := float32(v.GetFloat64("ai.ark.temperature"))
		cfg.AI.Ark.Temperature = &val
	}
	if v.IsSet("ai.ark.top_p") {
		val := float32(v.GetFloat64("ai.ark.top_p"))
		cfg.AI.Ark.TopP = &val
	}
	if v.IsSet("ai.ark.max_tokens") {
		val := v.GetInt("ai.ark.max_tokens")
		cfg.AI.Ark.MaxTokens = &val
	}

	cfg.Speech = SpeechConfig{
		AppID:       strings.TrimSpace(v.GetString("speech.app_id")),
		AccessToken: strings.TrimSpace(v.GetString("speech.access_token")),
		AccessKey:   strings.TrimSpace(v.GetString("speech.access_key")),
		SecretKey:   strings.TrimSpace(v.GetString("speech.secret_key")),
		ASRLanguage: v.GetString("speech.asr_language"),
		TTSVoice:    v.GetString("speech.tts_voice"),
		TTSSpeed:    float32(v.GetFloat64("speech.tts_speed")),
		TTSVolume:   float32(v.GetFloat64("speech.tts_volume")),
		TTSLanguage: v.GetString("speech.tts_language"),
		Timeout:     v.GetInt("speech.timeout"),
	}

	cfg.Storage = StorageConfig{
		DataDir:       v.GetString("storage.data_dir"),
		DatabasePath:  strings.TrimSpace(v.GetString("storage.database_path")),
		RemoteEnabled: v.GetBool("storage.remote_enabled"),
	}

	cfg.Auth = AuthConfig{
		GoogleClientID:     strings.TrimSpace(v.GetString("auth.google_client_id")),
		GoogleClientSecret: strings.TrimSpace(v.GetString("auth.google_client_secret")),
		RedirectURL:        strings.TrimSpace(v.GetString("auth.redirect_url")),
		FrontendURL:        strings.TrimSpace(v.GetString("auth.frontend_url")),
		SessionTTL:         v.GetDuration("auth.session_ttl"),
		CookieSecure:       v.GetBool("auth.cookie_secure"),
	}

	cfg.RateLimit = RateLimitConfig{
		PerMinute: v.GetInt("rate_limit.per_minute"),
		Burst:     v.GetInt("rate_limit.burst"),
	}

	cfg.Conversation.IdleTTL = v.GetDuration("conversation.idle_ttl")

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment.name", "development")
	v.SetDefault("http_server.addr", ":8080")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.mode", "development")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.color_enabled", true)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})

	v.SetDefault("ai.provider", ProviderGemini)
	v.SetDefault("ai.stream", false)
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("ai.gemini.timeout", 60*time.Second)
	v.SetDefault("ai.ark.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("ai.ark.region", "cn-beijing")

	v.SetDefault("speech.asr_language", "en-US")
	v.SetDefault("speech.tts_language", "en-US")
	v.SetDefault("speech.tts_speed", 1.1)
	v.SetDefault("speech.tts_volume", 1.0)
	v.SetDefault("speech.timeout", 30)

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.remote_enabled", false)

	v.SetDefault("auth.session_ttl", 30*24*time.Hour)
	v.SetDefault("auth.cookie_secure", false)

	v.SetDefault("rate_limit.per_minute", 20)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("conversation.idle_ttl", "30m")
}

// Validate 校验配置组合是否合法。
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case "", ProviderGemini, ProviderArk:
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}

	if c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.per_minute and rate_limit.burst must be positive")
	}

	if c.Storage.RemoteEnabled && c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required when storage.remote_enabled is true")
	}

	hasID := c.Auth.GoogleClientID != ""
	hasSecret := c.Auth.GoogleClientSecret != ""
	if hasID != hasSecret || (hasID && c.Auth.RedirectURL == "") {
		return fmt.Errorf("auth: google_client_id, google_client_secret and redirect_url must be set together")
	}

	return nil
}

// Enabled 表示是否配置了可用的大模型凭证。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.Gemini.APIKey != ""
	case ProviderArk:
		return c.Ark.Enabled()
	default:
		return false
	}
}

func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用 Ark 配置创建一个模型实例。
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ai.ark.api_key + ai.ark.model or an AK/SK pair")
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		TopP:        c.TopP,
	})
}

// Enabled 表示语音凭证是否齐全。
func (c SpeechConfig) Enabled() bool {
	return c.AppID != "" && c.AccessToken != ""
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c AuthConfig) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.RedirectURL != ""
}

func normalizeAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ":8080"
	}
	if strings.Contains(raw, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return raw
	}
	return ":" + raw
}

// splitList accepts both yaml lists and a single comma separated env value.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
