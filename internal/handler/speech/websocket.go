package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	chathandler "github.com/zhouzirui/abby/backend/internal/handler/chat"
	"github.com/zhouzirui/abby/backend/internal/middleware"
	chatmodel "github.com/zhouzirui/abby/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
	"github.com/zhouzirui/abby/backend/internal/model/user"
	"github.com/zhouzirui/abby/backend/internal/service/conversation"
	speechsvc "github.com/zhouzirui/abby/backend/internal/service/speech"
)

const (
	readTimeout    = 60 * time.Second
	writeTimeout   = 10 * time.Second
	pingInterval   = 54 * time.Second
	maxBufferedPCM = 10 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS 中间件已校验来源
	CheckOrigin: func(*http.Request) bool { return true },
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AudioMessage 音频消息，audioData 为 base64
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
	IsFinal   bool   `json:"isFinal"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	Voice      string `json:"voice"`
	ASREnabled *bool  `json:"asrEnabled,omitempty"`
	TTSEnabled *bool  `json:"ttsEnabled,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msgType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(outgoingMessage{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

type connectionState struct {
	id          string
	owner       string
	user        *user.User
	voice       string
	asrEnabled  bool
	ttsEnabled  bool
	audioFormat string
	buffer      bytes.Buffer
}

func newConnectionState(owner, voice string, tts bool) *connectionState {
	return &connectionState{
		id:         uuid.NewString(),
		owner:      owner,
		voice:      voice,
		asrEnabled: true,
		ttsEnabled: tts,
	}
}

// applyConfig 更新连接级别的语音设置
func (s *connectionState) applyConfig(cfg ConfigMessage) {
	if v := strings.TrimSpace(cfg.Voice); v != "" {
		s.voice = v
	}
	if cfg.ASREnabled != nil {
		s.asrEnabled = *cfg.ASREnabled
	}
	if cfg.TTSEnabled != nil {
		s.ttsEnabled = *cfg.TTSEnabled
	}
}

// handleWebSocket 处理语音通道连接。回复经由会话引擎生成，SSE 订阅者同样可见。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	// 预先加载引擎，每轮对话再重新取一次以免拿到已回收的实例
	if _, ok := chathandler.Engine(w, r, h.engines, h.logger); !ok {
		return
	}

	owner := middleware.Owner(r.Context())
	state := newConnectionState(owner, h.voiceFor(r.Context(), owner), false)
	state.user = middleware.User(r.Context())

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf(r.Context(), "[websocket] upgrade failed: %v", err)
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	h.logger.Infof(ctx, "[websocket] connection %s opened for %s", state.id, owner)
	defer h.logger.Infof(ctx, "[websocket] connection %s closed", state.id)

	_ = raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go pingLoop(ctx, conn)

	_ = conn.send("connected", map[string]any{
		"connectionId": state.id,
		"voice":        state.voice,
		"tts":          state.ttsEnabled,
	})

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnf(ctx, "[websocket] read error: %v", err)
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(readTimeout))
		h.handleMessage(ctx, conn, state, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *wsConn, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "audio":
		h.handleAudioMessage(ctx, conn, state, msg.Data)
	case "text":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			sendError(conn, "invalid text payload")
			return
		}
		h.processUserText(ctx, conn, state, text.Text)
	case "config":
		var cfg ConfigMessage
		if err := json.Unmarshal(msg.Data, &cfg); err != nil {
			sendError(conn, "invalid config payload")
			return
		}
		state.applyConfig(cfg)
		_ = conn.send("config", map[string]any{
			"voice": state.voice,
			"asr":   state.asrEnabled,
			"tts":   state.ttsEnabled,
		})
	default:
		sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) handleAudioMessage(ctx context.Context, conn *wsConn, state *connectionState, raw json.RawMessage) {
	if !state.asrEnabled {
		sendError(conn, "speech recognition is disabled")
		return
	}

	var audio AudioMessage
	if err := json.Unmarshal(raw, &audio); err != nil {
		sendError(conn, "invalid audio payload")
		return
	}
	if state.buffer.Len()+len(audio.AudioData) > maxBufferedPCM {
		state.buffer.Reset()
		sendError(conn, "utterance too long")
		return
	}
	state.buffer.Write(audio.AudioData)
	if audio.Format != "" {
		state.audioFormat = audio.Format
	}
	if !audio.IsFinal {
		return
	}

	data := bytes.Clone(state.buffer.Bytes())
	state.buffer.Reset()
	if len(data) == 0 {
		return
	}

	format := state.audioFormat
	if format == "" {
		format = "wav"
	}
	h.logger.Debugf(ctx, "[asr] connection %s utterance bytes=%d format=%s", state.id, len(data), format)

	tr, err := h.speech.Transcribe(ctx, state.owner, data, format, func(interim speechmodel.Transcript) {
		_ = conn.send("asr", interim)
	})
	if err != nil {
		h.logger.Errorf(ctx, "[asr] connection %s: %v", state.id, err)
		sendError(conn, "speech recognition failed")
		return
	}
	_ = conn.send("asr", tr)

	if strings.TrimSpace(tr.Text) == "" {
		return
	}
	h.processUserText(ctx, conn, state, tr.Text)
}

// processUserText sends text through the conversation engine and returns the
// bot reply, spoken when the connection has TTS on.
func (h *Handler) processUserText(ctx context.Context, conn *wsConn, state *connectionState, text string) {
	engine, err := h.engines.Get(ctx, state.owner, state.user)
	if err != nil {
		h.logger.Errorf(ctx, "[websocket] load engine for %s: %v", state.owner, err)
		sendError(conn, "failed to load conversation")
		return
	}

	turn, err := engine.Send(ctx, text)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return
	case errors.Is(err, conversation.ErrBusy):
		sendError(conn, "a reply is already pending")
		return
	case err != nil:
		h.logger.Errorf(ctx, "[websocket] send message: %v", err)
		sendError(conn, "failed to send message")
		return
	}

	// 使用本轮追加的回复，当前视图可能已切到别的会话
	reply := turn.Reply
	_ = conn.send("reply", reply)

	if state.ttsEnabled {
		h.sendTTS(ctx, conn, state, reply)
	}
}

func (h *Handler) sendTTS(ctx context.Context, conn *wsConn, state *connectionState, msg chatmodel.Message) {
	resp, err := h.speech.Synthesize(ctx, speechsvc.ReplyRequest(state.owner, state.voice, msg.Content))
	if err != nil {
		h.logger.Errorf(ctx, "[tts] connection %s: %v", state.id, err)
		_ = conn.send("tts", map[string]any{"messageId": msg.ID, "error": "synthesis failed"})
		return
	}
	if len(resp.AudioData) == 0 {
		return
	}
	_ = conn.send("tts", map[string]any{
		"messageId": msg.ID,
		"audioData": resp.AudioData,
		"format":    resp.Format,
	})
}

func sendError(conn *wsConn, message string) {
	_ = conn.send("error", map[string]string{"message": message})
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
