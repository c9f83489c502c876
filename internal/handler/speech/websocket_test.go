package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	chatmodel "github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/internal/store"
)

func boolPtr(v bool) *bool { return &v }

func TestApplyConfigUpdatesState(t *testing.T) {
	state := newConnectionState(testOwner, "Karen", false)

	state.applyConfig(ConfigMessage{Voice: "  ", ASREnabled: boolPtr(false), TTSEnabled: boolPtr(true)})
	if state.voice != "Karen" {
		t.Fatalf("blank voice must not override, got %q", state.voice)
	}
	if state.asrEnabled || !state.ttsEnabled {
		t.Fatalf("unexpected flags asr=%t tts=%t", state.asrEnabled, state.ttsEnabled)
	}

	state.applyConfig(ConfigMessage{Voice: "Daniel"})
	if state.voice != "Daniel" || !state.ttsEnabled {
		t.Fatalf("unexpected state %+v", state)
	}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (c *wsClient) send(msgType string, data any) {
	c.t.Helper()
	raw, _ := json.Marshal(data)
	if err := c.conn.WriteJSON(map[string]any{"type": msgType, "data": json.RawMessage(raw)}); err != nil {
		c.t.Fatalf("write %s: %v", msgType, err)
	}
}

func (c *wsClient) expect(msgType string) map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := c.conn.ReadJSON(&msg); err != nil {
		c.t.Fatalf("read %s: %v", msgType, err)
	}
	if msg.Type != msgType {
		c.t.Fatalf("expected %s message, got %s %+v", msgType, msg.Type, msg.Data)
	}
	return msg.Data
}

func dial(t *testing.T, svc *fakeSpeechService) *wsClient {
	t.Helper()
	return dialHandler(t, newRouter(t, svc))
}

func dialHandler(t *testing.T, h http.Handler) *wsClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/speech/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func TestWebSocketTextTurn(t *testing.T) {
	svc := &fakeSpeechService{enabled: true}
	c := dial(t, svc)

	hello := c.expect("connected")
	if hello["voice"] != "Karen" || hello["tts"] != false {
		t.Fatalf("unexpected hello %+v", hello)
	}

	c.send("text", TextMessage{Text: "hello"})
	reply := c.expect("reply")
	if reply["content"] != "echo: hello" || reply["role"] != "bot" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	c.send("config", ConfigMessage{TTSEnabled: boolPtr(true)})
	if cfg := c.expect("config"); cfg["tts"] != true {
		t.Fatalf("unexpected config ack %+v", cfg)
	}

	c.send("text", TextMessage{Text: "again"})
	reply = c.expect("reply")
	tts := c.expect("tts")
	if tts["messageId"] != reply["id"] || tts["format"] != "mp3" {
		t.Fatalf("unexpected tts %+v for reply %+v", tts, reply)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.texts) != 1 || svc.texts[0] != "echo: again" || svc.voices[0] != "Karen" {
		t.Fatalf("unexpected synthesis %v %v", svc.texts, svc.voices)
	}
}

func TestWebSocketAudioTurn(t *testing.T) {
	svc := &fakeSpeechService{enabled: true}
	c := dial(t, svc)
	c.expect("connected")

	c.send("audio", AudioMessage{AudioData: []byte("part1-"), Format: "pcm"})
	c.send("audio", AudioMessage{AudioData: []byte("part2"), IsFinal: true})

	if interim := c.expect("asr"); interim["text"] != "I feel" || interim["isFinal"] != false {
		t.Fatalf("unexpected interim %+v", interim)
	}
	if final := c.expect("asr"); final["text"] != "I feel calm" || final["isFinal"] != true {
		t.Fatalf("unexpected final %+v", final)
	}
	if reply := c.expect("reply"); reply["content"] != "echo: I feel calm" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if string(svc.transcribed) != "part1-part2" || svc.format != "pcm" {
		t.Fatalf("unexpected utterance %q format %q", svc.transcribed, svc.format)
	}
}

func TestWebSocketRejectsUnknownType(t *testing.T) {
	c := dial(t, &fakeSpeechService{enabled: true})
	c.expect("connected")

	c.send("video", map[string]string{})
	if e := c.expect("error"); !strings.Contains(e["message"].(string), "video") {
		t.Fatalf("unexpected error %+v", e)
	}
}

func TestWebSocketReplyWhileViewingOlderSession(t *testing.T) {
	local := store.NewLocal(store.NewFileKV(t.TempDir()), nil)
	old := chatmodel.Session{
		ID:        "old",
		Date:      "2020-01-01",
		Timestamp: 1,
		Messages: []chatmodel.Message{
			{ID: "old-1", Role: chatmodel.RoleUser, Content: "long ago", Timestamp: 1},
			{ID: "old-2", Role: chatmodel.RoleBot, Content: "old reply", Timestamp: 2},
		},
	}
	if err := local.SaveSessions(context.Background(), testOwner, []chatmodel.Session{old}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h, reg := newRouterWithLocal(t, &fakeSpeechService{enabled: true}, local)
	c := dialHandler(t, h)
	c.expect("connected")

	engine, ok := reg.Lookup(testOwner)
	if !ok {
		t.Fatalf("engine not loaded for %s", testOwner)
	}
	if _, err := engine.SelectSession(context.Background(), "old"); err != nil {
		t.Fatalf("SelectSession err: %v", err)
	}

	c.send("text", TextMessage{Text: "today"})
	reply := c.expect("reply")
	if reply["content"] != "echo: today" || reply["id"] == "old-2" {
		t.Fatalf("reply taken from the viewed session: %+v", reply)
	}

	st := engine.State()
	if st.CurrentID == "old" {
		t.Fatalf("turn should land in today's session, state %+v", st)
	}
	if last := st.Messages[len(st.Messages)-1]; last.ID != reply["id"] {
		t.Fatalf("reply id %v does not match appended %+v", reply["id"], last)
	}
}
