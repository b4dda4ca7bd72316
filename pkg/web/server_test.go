package web

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/ohf-voice/go-satellite/pkg/satellite"
)

type fakeController struct {
	status     satellite.Status
	commands   []string
	intensity  int
	nightMode  bool
	ledUpdates int
}

func (f *fakeController) Status() satellite.Status { return f.status }
func (f *fakeController) Command(cmd string)       { f.commands = append(f.commands, cmd) }

func (f *fakeController) SetLEDIntensity(percent int) {
	f.intensity = percent
	f.ledUpdates++
}

func (f *fakeController) SetLEDNightMode(enabled bool) {
	f.nightMode = enabled
	f.ledUpdates++
}

func newTestServer() (*Server, *fakeController) {
	ctrl := &fakeController{
		status: satellite.Status{
			Name:      "kitchen",
			Connected: true,
			Gate: satellite.GateStatus{
				Attention: "IDLE",
				Counters:  satellite.Counters{VisionRequests: 3, VisionSuccesses: 2},
			},
		},
	}
	return NewServer(ctrl, "0"), ctrl
}

func TestServer_Status(t *testing.T) {
	s, _ := newTestServer()

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var got satellite.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "kitchen" || !got.Connected {
		t.Errorf("status = %+v", got)
	}
}

func TestServer_Counters(t *testing.T) {
	s, _ := newTestServer()

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/counters", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var got satellite.Counters
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.VisionRequests != 3 || got.VisionSuccesses != 2 {
		t.Errorf("counters = %+v", got)
	}
}

func TestServer_Command(t *testing.T) {
	s, ctrl := newTestServer()

	resp, err := s.app.Test(httptest.NewRequest("POST", "/api/command/mute_toggle", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(ctrl.commands) != 1 || ctrl.commands[0] != "mute_toggle" {
		t.Errorf("commands = %v", ctrl.commands)
	}

	// Mixed case is normalized before dispatch.
	resp, err = s.app.Test(httptest.NewRequest("POST", "/api/command/Volume_Up", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if len(ctrl.commands) != 2 || ctrl.commands[1] != "volume_up" {
		t.Errorf("commands = %v", ctrl.commands)
	}
}

func TestServer_CommandUnknown(t *testing.T) {
	s, ctrl := newTestServer()

	resp, err := s.app.Test(httptest.NewRequest("POST", "/api/command/rm_rf", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if len(ctrl.commands) != 0 {
		t.Errorf("unknown command reached the engine: %v", ctrl.commands)
	}
}

func TestServer_LED(t *testing.T) {
	s, ctrl := newTestServer()

	req := httptest.NewRequest("POST", "/api/led",
		strings.NewReader(`{"intensity": 40, "night_mode": true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ctrl.intensity != 40 || !ctrl.nightMode || ctrl.ledUpdates != 2 {
		t.Errorf("led state = %d/%v (%d updates)", ctrl.intensity, ctrl.nightMode, ctrl.ledUpdates)
	}
}

func TestServer_LEDEmptyBody(t *testing.T) {
	s, ctrl := newTestServer()

	req := httptest.NewRequest("POST", "/api/led", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if ctrl.ledUpdates != 0 {
		t.Error("empty update reached the engine")
	}
}

func TestServer_EventBuffer(t *testing.T) {
	s, _ := newTestServer()

	s.PublishEvent("wake_word", map[string]any{"phrase": "okay nabu"})
	s.PublishEvent("tts_finished", nil)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/events", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var got []EventEntry
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Event != "wake_word" || got[1].Event != "tts_finished" {
		t.Errorf("events = %+v", got)
	}
	if got[0].Data["phrase"] != "okay nabu" {
		t.Errorf("event data = %v", got[0].Data)
	}
}

func TestServer_EventBufferTrims(t *testing.T) {
	s, _ := newTestServer()

	for i := 0; i < maxEventBuffer+10; i++ {
		s.PublishEvent("run_start", nil)
	}

	s.eventsMu.RLock()
	n := len(s.events)
	s.eventsMu.RUnlock()
	if n != maxEventBuffer {
		t.Errorf("buffer length = %d, want %d", n, maxEventBuffer)
	}
}

func TestServer_WSUpgradeRequired(t *testing.T) {
	s, _ := newTestServer()

	resp, err := s.app.Test(httptest.NewRequest("GET", "/ws/status", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d (%s), want 426", resp.StatusCode, body)
	}
}
