package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/abby/backend/internal/middleware"
	chatmodel "github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
	"github.com/zhouzirui/abby/backend/internal/service/activity"
	"github.com/zhouzirui/abby/backend/internal/service/ai"
	"github.com/zhouzirui/abby/backend/internal/service/auth"
	"github.com/zhouzirui/abby/backend/internal/service/conversation"
	"github.com/zhouzirui/abby/backend/internal/service/settings"
	speechservice "github.com/zhouzirui/abby/backend/internal/service/speech"
	"github.com/zhouzirui/abby/backend/internal/store"
)

type echoChats struct{}

func (echoChats) StartChat(p persona.Persona, _ []chatmodel.Message) ai.Chat {
	return echoChat{name: p.Name}
}

type echoChat struct{ name string }

func (c echoChat) Send(_ context.Context, text string) (string, error) {
	return c.name + " heard: " + text, nil
}

func (c echoChat) Stream(ctx context.Context, text string, onDelta func(string)) (string, error) {
	reply, _ := c.Send(ctx, text)
	onDelta(reply)
	return reply, nil
}

type app struct {
	handler  http.Handler
	registry *conversation.Registry
	broker   *conversation.Broker
}

func newApp(t *testing.T) *app {
	t.Helper()
	local := store.NewLocal(store.NewFileKV(t.TempDir()), nil)
	broker := conversation.NewBroker(nil)
	registry := conversation.NewRegistry(conversation.RegistryConfig{
		Chats:     echoChats{},
		Local:     local,
		Publisher: broker,
	})
	t.Cleanup(registry.Wait)

	settingsSvc := settings.NewService(local, nil)
	authSvc := auth.NewService(nil, nil, time.Hour, nil)
	BindEngines(registry, settingsSvc, authSvc)

	h := NewRouter(Deps{
		Registry:       registry,
		Broker:         broker,
		Settings:       settingsSvc,
		Auth:           authSvc,
		Activities:     activity.NewService(local, activity.Options{}),
		Speech:         speechservice.NewService(speechmodel.SpeechConfig{}, nil),
		AllowedOrigins: []string{"http://app.test"},
	})
	return &app{handler: h, registry: registry, broker: broker}
}

func (a *app) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func deviceCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.AnonCookieName {
			return c
		}
	}
	t.Fatal("no device cookie issued")
	return nil
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	rr := a.do(t, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health %d %s", rr.Code, rr.Body.String())
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("health must not issue identity cookies")
	}
}

func TestConversationFollowsDeviceCookie(t *testing.T) {
	a := newApp(t)

	first := a.do(t, http.MethodGet, "/api/chat/state", "")
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	device := deviceCookie(t, first)
	if !middleware.IsAnonID(device.Value) {
		t.Fatalf("unexpected device id %q", device.Value)
	}

	rr := a.do(t, http.MethodPost, "/api/chat/messages", `{"text":"hello"}`, device)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// a different device sees an empty history
	other := a.do(t, http.MethodGet, "/api/chat/state", "")
	var st conversation.State
	_ = json.Unmarshal(other.Body.Bytes(), &st)
	if len(st.Sessions) != 0 {
		t.Fatalf("expected isolated owner, got %+v", st.Sessions)
	}

	rr = a.do(t, http.MethodGet, "/api/chat/state", "", device)
	_ = json.Unmarshal(rr.Body.Bytes(), &st)
	if len(st.Messages) != 2 || st.Messages[1].Content != "Abby heard: hello" {
		t.Fatalf("unexpected state %+v", st.Messages)
	}
}

func TestSettingsChangeRenamesLoadedEngine(t *testing.T) {
	a := newApp(t)
	device := deviceCookie(t, a.do(t, http.MethodGet, "/api/chat/state", ""))

	if rr := a.do(t, http.MethodPut, "/api/settings", `{"therapistName":"Sam"}`, device); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr := a.do(t, http.MethodPost, "/api/chat/messages", `{"text":"hi"}`, device)
	var st conversation.State
	_ = json.Unmarshal(rr.Body.Bytes(), &st)
	if st.TherapistName != "Sam" || st.Messages[len(st.Messages)-1].Content != "Sam heard: hi" {
		t.Fatalf("engine did not pick up the new name: %+v", st)
	}
}

func TestSpeechUnavailableWithoutCredentials(t *testing.T) {
	a := newApp(t)
	rr := a.do(t, http.MethodPost, "/api/speech/synthesize", `{"text":"hi"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	a := newApp(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/chat/messages", nil)
	req.Header.Set("Origin", "http://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://app.test" {
		t.Fatalf("unexpected allow origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestAudioSinkPublishesEvent(t *testing.T) {
	broker := conversation.NewBroker(nil)
	events, cancel := broker.Subscribe("anon_x")
	defer cancel()

	AudioSink(broker)("anon_x", "m1", &speechmodel.TTSResponse{AudioData: []byte("abc"), Format: "mp3"})

	select {
	case ev := <-events:
		if ev.Type != conversation.EventAudio || ev.Audio.MessageID != "m1" || string(ev.Audio.Data) != "abc" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no audio event")
	}
}

type silentSynth struct{}

func (silentSynth) Synthesize(context.Context, *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	return &speechmodel.TTSResponse{Format: "mp3"}, nil
}

func TestIdleOwnerReleasesSpeechQueue(t *testing.T) {
	const owner = "anon_0123456789abcdef0123456789abcdef"
	queues := speechservice.NewQueuePool(speechservice.PoolConfig{Synth: silentSynth{}})
	t.Cleanup(queues.Close)

	released := make(chan string, 4)
	registry := conversation.NewRegistry(conversation.RegistryConfig{
		Chats:      echoChats{},
		Local:      store.NewLocal(store.NewFileKV(t.TempDir()), nil),
		SpeakerFor: SpeakerFor(queues),
		IdleTTL:    50 * time.Millisecond,
		OnEvict: func(o string) {
			queues.Drop(o)
			select {
			case released <- o:
			default:
			}
		},
	})
	t.Cleanup(registry.Wait)

	if _, err := registry.Get(context.Background(), owner, nil); err != nil {
		t.Fatalf("Get err: %v", err)
	}
	q := queues.For(owner)

	select {
	case got := <-released:
		if got != owner {
			t.Fatalf("released %s, want %s", got, owner)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle engine was never released")
	}
	if _, ok := registry.Lookup(owner); ok {
		t.Fatal("engine still registered after release")
	}
	if queues.For(owner) == q {
		t.Fatal("speech queue still held after release")
	}
}
