package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

const ttsEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// DefaultSpeaker is the English voice used when neither request nor config name one.
const DefaultSpeaker = "en_female_amy_jupiter_bigtts"

// VolcengineTTSClient 火山引擎 TTS WebSocket 客户端
type VolcengineTTSClient struct {
	config   *speechmodel.SpeechConfig
	dialer   *websocket.Dialer
	endpoint string
	logger   log.Logger
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Additions   string                   `json:"additions,omitempty"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
	Emotion         string  `json:"emotion,omitempty"`
	EmotionScale    float32 `json:"emotion_scale,omitempty"`
}

// NewVolcengineTTSClient 创建 TTS 客户端
func NewVolcengineTTSClient(config *speechmodel.SpeechConfig, logger log.Logger) *VolcengineTTSClient {
	if logger == nil {
		logger = log.NewNop()
	}
	return &VolcengineTTSClient{
		config:   config,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		endpoint: ttsEndpoint,
		logger:   logger,
	}
}

// Synthesize 合成整段语音。遇到资源与音色不匹配时依次尝试候选资源和候选音色。
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("tts text is empty")
	}

	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	encoding := normalizeEncoding(req.Format)
	speakers := resolveTTSSpeakerCandidates(req.Voice, c.config.TTSVoice)
	var lastMismatch error

	for speakerIdx, speaker := range speakers {
		for resourceIdx, resourceID := range resolveTTSResourceCandidates(speaker) {
			resp, attemptErr := c.synthesizeWithResource(ctx, req, appKey, accessKey, speaker, encoding, resourceID)
			if attemptErr == nil {
				if resourceIdx > 0 || speakerIdx > 0 {
					c.logger.Infof(ctx, "[tts] voice %s succeeded with fallback resource %s", speaker, resourceID)
				}
				return resp, nil
			}
			if !isResourceMismatchError(attemptErr) {
				return nil, attemptErr
			}
			c.logger.Warnf(ctx, "[tts] voice %s resource %s mismatch: %v", speaker, resourceID, attemptErr)
			lastMismatch = attemptErr
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("tts: no compatible resource for voices %v", speakers)
}

func (c *VolcengineTTSClient) synthesizeWithResource(
	ctx context.Context,
	req *speechmodel.TTSRequest,
	appKey, accessKey, speaker, encoding, resourceID string,
) (*speechmodel.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("connect tts websocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.logger.Debugf(ctx, "[tts] connected with logid: %s", logid)
		}
	}

	// ReadMessage 不感知 ctx，取消时关闭连接使其返回
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	ttsReq, userUID := c.buildTTSRequest(req, speaker, encoding)
	payload, err := json.Marshal(ttsReq)
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, EncodeFrame(NewFullClientRequest(payload, NoCompression))); err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read tts response: %w", err)
		}

		frame, err := DecodeFrame(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode tts frame: %w", err)
		}

		switch frame.Header.MessageType {
		case ErrorMessage:
			body, err := framePayload(frame)
			if err != nil {
				return nil, fmt.Errorf("decode tts error frame: %w", err)
			}
			return nil, fmt.Errorf("tts error %d: %s", frame.ErrorCode, string(body))

		case AudioOnlyServerResponse:
			chunk, err := framePayload(frame)
			if err != nil {
				return nil, fmt.Errorf("decompress audio chunk: %w", err)
			}
			audio.Write(chunk)

		case FullServerResponse:
			body, err := framePayload(frame)
			if err != nil {
				return nil, fmt.Errorf("decompress tts payload: %w", err)
			}

			var serverResp ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &serverResp); err != nil {
					c.logger.Warnf(ctx, "[tts] unmarshal response payload: %v", err)
				} else {
					if serverResp.Code != 0 && serverResp.Code != 3000 && serverResp.Code != 20000000 {
						return nil, fmt.Errorf("tts api error %d: %s", serverResp.Code, serverResp.Message)
					}
					if serverResp.ReqID != "" {
						reqID = serverResp.ReqID
					}
					if d, err := strconv.ParseInt(serverResp.Addition.Duration, 10, 64); err == nil {
						duration = d
					}
					if serverResp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(serverResp.Data)
						if err != nil {
							return nil, fmt.Errorf("decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := (frame.hasEvent() && frame.EventType == EventTypeSessionFinished) ||
				frame.IsLastPacket() || serverResp.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, errors.New("tts audio is empty")
			}
			if reqID == "" {
				reqID = connectID
			}
			sessionID := strings.TrimSpace(req.SessionID)
			if sessionID == "" {
				sessionID = userUID
			}
			return &speechmodel.TTSResponse{
				SessionID: sessionID,
				AudioData: audio.Bytes(),
				Duration:  duration,
				Format:    encoding,
				RequestID: reqID,
				CreatedAt: time.Now(),
			}, nil

		default:
			c.logger.Debugf(ctx, "[tts] ignoring frame type %d", frame.Header.MessageType)
		}
	}
}

func (c *VolcengineTTSClient) buildTTSRequest(req *speechmodel.TTSRequest, speaker, encoding string) (*volcengineTTSRequest, string) {
	out := &volcengineTTSRequest{}

	uid := strings.TrimSpace(req.SessionID)
	if uid == "" {
		uid = uuid.NewString()
	}
	out.User.UID = uid

	out.ReqParams.Speaker = speaker
	out.ReqParams.Text = req.Text
	out.ReqParams.AudioParams.Format = encoding
	out.ReqParams.AudioParams.SampleRate = 24000
	out.ReqParams.AudioParams.EnableTimestamp = true

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		out.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		out.ReqParams.AudioParams.VolumeRatio = volume
	}

	if req.Emotion != "" {
		out.ReqParams.AudioParams.Emotion = req.Emotion
		out.ReqParams.AudioParams.EmotionScale = req.EmotionScale
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = strings.TrimSpace(c.config.TTSLanguage)
	}
	out.ReqParams.Language = language
	out.ReqParams.Additions = `{"disable_markdown_filter":false}`

	return out, uid
}

// normalizeEncoding 服务端不支持 wav 直出，统一回落到 mp3
func normalizeEncoding(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "", "wav":
		return speechmodel.DefaultFormat
	default:
		return format
	}
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "jupiter", "mars", "venus", "uranus"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

// voiceAliases maps client-facing voice names onto Volcengine English speakers.
var voiceAliases = map[string]string{
	"default":  DefaultSpeaker,
	"abby":     DefaultSpeaker,
	"samantha": "en_female_candice_emo_v2_mars_bigtts",
	"karen":    "en_female_skye_emo_v2_mars_bigtts",
	"google":   DefaultSpeaker,
	"daniel":   "en_male_glen_emo_v2_mars_bigtts",
}

// NormalizeVoiceAlias resolves a client voice name, leaving unknown names untouched.
func NormalizeVoiceAlias(voice string) string {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return ""
	}
	lower := strings.ToLower(voice)
	if mapped, ok := voiceAliases[lower]; ok {
		return mapped
	}
	// 浏览器音色名形如 "Samantha (en-US)"
	for alias, mapped := range voiceAliases {
		if alias != "default" && strings.HasPrefix(lower, alias+" ") {
			return mapped
		}
	}
	return voice
}

func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string
	add := func(s string) {
		s = NormalizeVoiceAlias(s)
		if s == "" {
			return
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)
	add(DefaultSpeaker)
	return candidates
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
