package homeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeVoiceEvent, PipelineEvent{
		Type: EventTTSEnd,
		Data: map[string]string{"url": "http://example/tts.mp3"},
	})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if env.Timestamp == 0 {
		t.Error("Timestamp not set")
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	var ev PipelineEvent
	if err := decoded.ParseData(&ev); err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if ev.Type != EventTTSEnd {
		t.Errorf("event = %q, want %q", ev.Type, EventTTSEnd)
	}
	if ev.Get("url") != "http://example/tts.mp3" {
		t.Errorf("url = %q", ev.Get("url"))
	}
}

func TestEnvelopeParseData_NilData(t *testing.T) {
	env := &Envelope{Type: TypeAnnounceFinished}
	var req AnnounceRequest
	if err := env.ParseData(&req); err != nil {
		t.Errorf("ParseData(nil) error = %v", err)
	}
}

// testBackend is a minimal websocket backend for client tests.
type testBackend struct {
	t        *testing.T
	upgrader websocket.Upgrader
	received chan Envelope
	conns    chan *websocket.Conn
}

func newTestBackend(t *testing.T) (*testBackend, *httptest.Server) {
	b := &testBackend{
		t:        t,
		received: make(chan Envelope, 16),
		conns:    make(chan *websocket.Conn, 1),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		b.conns <- conn
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			b.received <- env
		}
	}))
	return b, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (b *testBackend) waitEnvelope() Envelope {
	b.t.Helper()
	select {
	case env := <-b.received:
		return env
	case <-time.After(2 * time.Second):
		b.t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestClient_StartConversationReachesBackend(t *testing.T) {
	backend, srv := newTestBackend(t)
	defer srv.Close()

	client := NewClient(wsURL(srv), "bench-sat")
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.Connected() {
		t.Fatal("Connected() = false after Connect")
	}

	if err := client.StartConversation(StartOptions{UseVAD: true}); err != nil {
		t.Fatalf("StartConversation() error = %v", err)
	}

	env := backend.waitEnvelope()
	if env.Type != TypeVoiceRequest {
		t.Fatalf("type = %q, want %q", env.Type, TypeVoiceRequest)
	}
	var req VoiceRequest
	if err := env.ParseData(&req); err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if !req.Start || !req.UseVAD {
		t.Errorf("request = %+v, want start+use_vad", req)
	}
}

func TestClient_DispatchesPipelineEvents(t *testing.T) {
	backend, srv := newTestBackend(t)
	defer srv.Close()

	events := make(chan PipelineEvent, 1)
	client := NewClient(wsURL(srv), "bench-sat")
	client.SetCallbacks(Callbacks{
		OnPipelineEvent: func(ev PipelineEvent) { events <- ev },
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	conn := <-backend.conns
	env, _ := NewEnvelope(TypeVoiceEvent, PipelineEvent{Type: EventRunStart})
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("backend write: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != EventRunStart {
			t.Errorf("event = %q, want run_start", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pipeline event")
	}
}

func TestClient_DisconnectCallback(t *testing.T) {
	backend, srv := newTestBackend(t)
	defer srv.Close()

	disconnected := make(chan struct{})
	client := NewClient(wsURL(srv), "bench-sat")
	client.SetCallbacks(Callbacks{
		OnDisconnect: func(err error) { close(disconnected) },
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn := <-backend.conns
	conn.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect never fired")
	}
	if client.Connected() {
		t.Error("Connected() = true after disconnect")
	}
}

func TestClient_SendWhenDisconnected(t *testing.T) {
	client := NewClient("ws://localhost:1", "bench-sat")
	if err := client.WriteAudio([]byte{1, 2}); err != ErrNotConnected {
		t.Errorf("WriteAudio() error = %v, want ErrNotConnected", err)
	}
}
