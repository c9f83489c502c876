package speech

import (
	"io"
	"strings"
	"time"
)

// Default locale and speed for the English voice channel.
const (
	DefaultLanguage = "en-US"
	DefaultSpeed    = float32(1.1)
	DefaultFormat   = "mp3"
)

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	AppID       string `json:"appId"`
	AccessToken string `json:"accessToken"`
	AccessKey   string `json:"accessKey"`
	SecretKey   string `json:"secretKey"`

	ASRLanguage string `json:"asrLanguage"`

	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	Timeout int `json:"timeout"` // seconds
}

// WithDefaults fills unset locale, speed and timeout values.
func (c SpeechConfig) WithDefaults() SpeechConfig {
	if strings.TrimSpace(c.ASRLanguage) == "" {
		c.ASRLanguage = DefaultLanguage
	}
	if strings.TrimSpace(c.TTSLanguage) == "" {
		c.TTSLanguage = DefaultLanguage
	}
	if c.TTSSpeed <= 0 {
		c.TTSSpeed = DefaultSpeed
	}
	if c.TTSVolume <= 0 {
		c.TTSVolume = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30
	}
	return c
}

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`   // wav, pcm, webm
	Language  string    `json:"language"` // en-US
}

// ASRResponse 语音识别响应
type ASRResponse struct {
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Duration   int64     `json:"duration"` // milliseconds
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Speed     float32 `json:"speed"`  // 0.5-2.0
	Volume    float32 `json:"volume"` // 0.0-1.0
	Format    string  `json:"format"`
	Language  string  `json:"language"`
	// Emotion and EmotionScale are only honoured by emotion-capable voices.
	Emotion      string  `json:"emotion,omitempty"`
	EmotionScale float32 `json:"emotionScale,omitempty"`
}

// TTSResponse 语音合成响应
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Duration  int64     `json:"duration"` // milliseconds
	Format    string    `json:"format"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Transcript is an interim or final recognition result.
type Transcript struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// Voice describes a selectable synthesis voice.
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

var preferredVoiceNames = []string{"samantha", "karen", "google"}

// PreferredVoice picks a voice from the list: a preferred name, then any
// English voice, then the first. ok is false for an empty list.
func PreferredVoice(voices []Voice) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	for _, v := range voices {
		name := strings.ToLower(v.Name)
		for _, want := range preferredVoiceNames {
			if strings.Contains(name, want) {
				return v, true
			}
		}
	}
	for _, v := range voices {
		if strings.HasPrefix(strings.ToLower(v.Lang), "en") {
			return v, true
		}
	}
	return voices[0], true
}
