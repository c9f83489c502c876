package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	chathandler "github.com/zhouzirui/abby/backend/internal/handler/chat"
	"github.com/zhouzirui/abby/backend/internal/middleware"
	"github.com/zhouzirui/abby/backend/internal/model/settings"
	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/abby/backend/internal/service/speech"
	"github.com/zhouzirui/abby/backend/pkg/log"
	"github.com/zhouzirui/abby/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	Enabled() bool
	speechsvc.Transcriber
	speechsvc.Synthesizer
}

// SettingsSource provides the owner's preferred voice.
type SettingsSource interface {
	Get(ctx context.Context, owner string) (settings.Settings, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speech   SpeechService
	engines  chathandler.Engines
	settings SettingsSource
	logger   log.Logger
}

// New 创建语音处理器
func New(speech SpeechService, engines chathandler.Engines, settings SettingsSource, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{speech: speech, engines: engines, settings: settings, logger: logger}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Post("/transcribe", h.handleTranscribe)
		r.Post("/synthesize", h.handleSynthesize)
		r.Get("/ws", h.handleWebSocket)
	})
}

func (h *Handler) available(w http.ResponseWriter) bool {
	if h.speech == nil || !h.speech.Enabled() {
		utils.RespondError(w, http.StatusServiceUnavailable, speechsvc.ErrUnavailable.Error())
		return false
	}
	return true
}

// voiceFor returns the owner's configured voice, or "" for the default speaker.
func (h *Handler) voiceFor(ctx context.Context, owner string) string {
	if h.settings == nil || owner == "" {
		return ""
	}
	s, err := h.settings.Get(ctx, owner)
	if err != nil {
		h.logger.Warnf(ctx, "[tts] load voice for %s: %v", owner, err)
		return ""
	}
	return s.VoiceName
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "speech",
		"enabled": h.speech != nil && h.speech.Enabled(),
	})
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = inferAudioFormat(header.Filename)
	}

	owner := middleware.Owner(r.Context())
	tr, err := h.speech.Transcribe(r.Context(), owner, audio, format, nil)
	switch {
	case errors.Is(err, speechsvc.ErrNoAudio):
		utils.RespondError(w, http.StatusBadRequest, "audio file is empty")
	case errors.Is(err, speechsvc.ErrUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		h.logger.Errorf(r.Context(), "[asr] transcribe for %s: %v", owner, err)
		utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
	default:
		utils.RespondJSON(w, http.StatusOK, tr)
	}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// handleSynthesize 处理文本转语音请求，返回音频字节
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	var req synthesizeRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx := r.Context()
	owner := middleware.Owner(ctx)
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = h.voiceFor(ctx, owner)
	}

	resp, err := h.speech.Synthesize(ctx, speechsvc.ReplyRequest(owner, voice, req.Text))
	if err != nil {
		h.logger.Errorf(ctx, "[tts] synthesize for %s: %v", owner, err)
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	writeAudio(w, h.logger, ctx, resp)
}

func writeAudio(w http.ResponseWriter, logger log.Logger, ctx context.Context, resp *speechmodel.TTSResponse) {
	format := resp.Format
	if format == "" {
		format = speechmodel.DefaultFormat
	}
	contentType := "audio/" + format
	if format == "mp3" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "inline; filename=speech."+format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		logger.Warnf(ctx, "[tts] write audio response: %v", err)
	}
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".mp3", ".wav", ".webm", ".ogg", ".pcm":
		return ext[1:]
	default:
		return "wav"
	}
}
