package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

const (
	asrEndpoint   = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"
	asrResourceID = "volc.bigasr.sauc.duration"

	// 16kHz 16bit 单声道 200ms
	asrChunkSize     = 6400
	asrChunkInterval = 200 * time.Millisecond
)

// ErrNoAudio is returned when a recognition request carries no audio bytes.
var ErrNoAudio = errors.New("no audio data to send")

// VolcengineASRClient 火山引擎流式 ASR 客户端。一次请求对应一句话（非连续识别）。
type VolcengineASRClient struct {
	config        *speechmodel.SpeechConfig
	dialer        *websocket.Dialer
	endpoint      string
	chunkInterval time.Duration
	logger        log.Logger
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

type volcengineASRRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// NewVolcengineASRClient 创建 ASR 客户端
func NewVolcengineASRClient(config *speechmodel.SpeechConfig, logger log.Logger) *VolcengineASRClient {
	if logger == nil {
		logger = log.NewNop()
	}
	return &VolcengineASRClient{
		config:        config,
		dialer:        &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		endpoint:      asrEndpoint,
		chunkInterval: asrChunkInterval,
		logger:        logger,
	}
}

// Transcribe streams req.AudioData to the recogniser. Interim transcripts are
// passed to onInterim when it is non-nil. An empty final transcript is not an error.
func (c *VolcengineASRClient) Transcribe(ctx context.Context, req *speechmodel.ASRRequest, onInterim func(speechmodel.Transcript)) (*speechmodel.ASRResponse, error) {
	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	if req.AudioData == nil {
		return nil, ErrNoAudio
	}
	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", asrResourceID)
	header.Set("X-Api-Connect-Id", sessionID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("connect asr websocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.logger.Debugf(ctx, "[asr] connected with logid: %s", logid)
		}
	}

	payload, err := json.Marshal(c.buildASRRequest(req, sessionID))
	if err != nil {
		return nil, fmt.Errorf("marshal asr request: %w", err)
	}
	compressed, err := Compress(payload, GzipCompression)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, EncodeFrame(NewFullClientRequest(compressed, GzipCompression))); err != nil {
		return nil, fmt.Errorf("send asr request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// 收发并行：服务端提前报错时可以及时停止发送
	type result struct {
		resp *speechmodel.ASRResponse
		err  error
	}
	recvCh := make(chan result, 1)
	go func() {
		r, err := c.receive(ctx, conn, sessionID, onInterim)
		recvCh <- result{r, err}
	}()

	sendErrCh := make(chan error, 1)
	go func() {
		sendErrCh <- c.sendAudio(ctx, conn, audio)
	}()

	for {
		select {
		case err := <-sendErrCh:
			if err != nil {
				return nil, fmt.Errorf("send audio: %w", err)
			}
			sendErrCh = nil
		case r := <-recvCh:
			return r.resp, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *VolcengineASRClient) buildASRRequest(req *speechmodel.ASRRequest, sessionID string) *volcengineASRRequest {
	out := &volcengineASRRequest{}
	out.User.UID = sessionID

	out.Audio.Format = strings.TrimSpace(req.Format)
	if out.Audio.Format == "" {
		out.Audio.Format = "wav"
	}
	out.Audio.Language = strings.TrimSpace(req.Language)
	if out.Audio.Language == "" {
		out.Audio.Language = c.config.ASRLanguage
	}
	if out.Audio.Language == "" {
		out.Audio.Language = speechmodel.DefaultLanguage
	}
	out.Audio.Codec = "raw"
	out.Audio.Rate = 16000
	out.Audio.Bits = 16
	out.Audio.Channel = 1

	out.Request.ModelName = "bigmodel"
	out.Request.EnableITN = true
	out.Request.EnablePunc = true
	out.Request.ShowUtterances = true
	out.Request.ResultType = "full"
	out.Request.EndWindowSize = 800
	return out
}

func (c *VolcengineASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	sequence := int32(2) // 首帧占用 1
	for start := 0; start < len(audio); start += asrChunkSize {
		end := min(start+asrChunkSize, len(audio))
		isLast := end == len(audio)

		chunk, err := Compress(audio[start:end], GzipCompression)
		if err != nil {
			return err
		}
		frame := NewAudioOnlyRequest(chunk, sequence, isLast, GzipCompression)
		if err := conn.WriteMessage(websocket.BinaryMessage, EncodeFrame(frame)); err != nil {
			return fmt.Errorf("write audio chunk: %w", err)
		}
		if isLast {
			return nil
		}
		sequence++

		if c.chunkInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.chunkInterval):
			}
		}
	}
	return nil
}

func (c *VolcengineASRClient) receive(ctx context.Context, conn *websocket.Conn, sessionID string, onInterim func(speechmodel.Transcript)) (*speechmodel.ASRResponse, error) {
	var (
		text     string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read asr response: %w", err)
		}

		frame, err := DecodeFrame(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode asr frame: %w", err)
		}

		switch frame.Header.MessageType {
		case ErrorMessage:
			body, err := framePayload(frame)
			if err != nil {
				return nil, fmt.Errorf("decode asr error frame: %w", err)
			}
			return nil, fmt.Errorf("asr error %d: %s", frame.ErrorCode, string(body))

		case FullServerResponse:
			body, err := framePayload(frame)
			if err != nil {
				return nil, fmt.Errorf("decompress asr payload: %w", err)
			}

			var serverResp asrServerMessage
			if err := json.Unmarshal(body, &serverResp); err != nil {
				c.logger.Warnf(ctx, "[asr] unmarshal response: %v", err)
				continue
			}
			if serverResp.Code != 0 && serverResp.Code != 20000000 {
				return nil, fmt.Errorf("asr api error %d: %s", serverResp.Code, serverResp.Message)
			}

			candidate := serverResp.Result.Text
			if candidate == "" {
				candidate = joinUtterances(serverResp.Result.Utterances)
			}
			if candidate != "" {
				text = candidate
			}
			if serverResp.AudioInfo.Duration > 0 {
				duration = serverResp.AudioInfo.Duration
			}

			if frame.IsLastPacket() || serverResp.Sequence < 0 {
				if text == "" {
					c.logger.Infof(ctx, "[asr] no speech detected for session %s", sessionID)
				}
				return &speechmodel.ASRResponse{
					SessionID:  sessionID,
					Text:       strings.TrimSpace(text),
					Confidence: estimateConfidence(text),
					Duration:   duration,
					RequestID:  sessionID,
					CreatedAt:  time.Now(),
				}, nil
			}

			if onInterim != nil && candidate != "" {
				onInterim(speechmodel.Transcript{Text: candidate})
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func estimateConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}
