package speech

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/zhouzirui/abby/backend/internal/analysis/emotion"
	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// Transcriber turns one utterance of audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, sessionID string, audio []byte, format string, onInterim func(speechmodel.Transcript)) (speechmodel.Transcript, error)
}

// Service 语音服务，封装 ASR 与 TTS 客户端
type Service struct {
	config speechmodel.SpeechConfig
	tts    *VolcengineTTSClient
	asr    *VolcengineASRClient
	logger log.Logger
}

// NewService 创建语音服务实例
func NewService(config speechmodel.SpeechConfig, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	cfg := config.WithDefaults()
	return &Service{
		config: cfg,
		tts:    NewVolcengineTTSClient(&cfg, logger),
		asr:    NewVolcengineASRClient(&cfg, logger),
		logger: logger,
	}
}

// Enabled reports whether credentials are configured.
func (s *Service) Enabled() bool {
	_, _, err := resolveCredentials(&s.config)
	return err == nil
}

func (s *Service) timeout() time.Duration {
	return time.Duration(s.config.Timeout) * time.Second
}

// Transcribe recognises a single utterance. The returned transcript is final;
// its text is empty when no speech was detected.
func (s *Service) Transcribe(ctx context.Context, sessionID string, audio []byte, format string, onInterim func(speechmodel.Transcript)) (speechmodel.Transcript, error) {
	if !s.Enabled() {
		return speechmodel.Transcript{}, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	resp, err := s.asr.Transcribe(ctx, &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audio),
		Format:    format,
		Language:  s.config.ASRLanguage,
	}, onInterim)
	if err != nil {
		return speechmodel.Transcript{}, err
	}
	return speechmodel.Transcript{Text: resp.Text, IsFinal: true}, nil
}

// Synthesize 合成语音，未指定的参数使用配置默认值
func (s *Service) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if !s.Enabled() {
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	r := *req
	if strings.TrimSpace(r.Language) == "" {
		r.Language = s.config.TTSLanguage
	}
	if r.Speed <= 0 {
		r.Speed = s.config.TTSSpeed
	}
	return s.tts.Synthesize(ctx, &r)
}

// ReplyRequest builds a TTS request for a bot reply, adding emotion parameters
// when the resolved voice supports them.
func ReplyRequest(sessionID, voice, text string) *speechmodel.TTSRequest {
	req := &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Format:    speechmodel.DefaultFormat,
	}
	decision := emotion.Analyze("", text)
	if ok, label, scale := ComputeEmotionParameters(NormalizeVoiceAlias(voice), decision); ok {
		req.Emotion = label
		req.EmotionScale = scale
	}
	return req
}
