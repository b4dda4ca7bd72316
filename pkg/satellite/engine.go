package satellite

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"time"

	"github.com/ohf-voice/go-satellite/internal/config"
	"github.com/ohf-voice/go-satellite/internal/log"
	"github.com/ohf-voice/go-satellite/pkg/audio"
	"github.com/ohf-voice/go-satellite/pkg/busipc"
	"github.com/ohf-voice/go-satellite/pkg/distance"
	"github.com/ohf-voice/go-satellite/pkg/homeapi"
	"github.com/ohf-voice/go-satellite/pkg/wakeword"
)

const (
	pollInterval            = time.Second
	distancePublishInterval = 5 * time.Second
	volumeStep              = 5
)

// Deps are the collaborators the engine wires together. Bus, System, and
// Broadcast may be nil/absent; the engine degrades gracefully.
type Deps struct {
	Config   *config.Config
	Backend  homeapi.Session
	Bus      *busipc.Endpoint
	Reader   distance.Reader
	Music    audio.Player
	Announce audio.Player

	Bridge     *wakeword.Bridge
	Detectors  []wakeword.Detector
	StopWordID string

	System *SystemControl

	// Broadcast mirrors bus events to in-process consumers (web dashboard).
	Broadcast func(event string, data map[string]any)
}

// Engine owns the single goroutine on which all gate and lifecycle state is
// mutated. External events (bus messages, backend callbacks, playback
// completions, web commands) enter through Dispatch; the 1 Hz ticker drives
// the distance poll and timeout sweeps.
type Engine struct {
	cfg       *config.Config
	settings  *Settings
	gate      *Gate
	lifecycle *Lifecycle

	bus        *busipc.Endpoint
	reader     distance.Reader
	bridge     *wakeword.Bridge
	detectors  []wakeword.Detector
	stopWordID string
	system     *SystemControl
	broadcast  func(event string, data map[string]any)

	tasks chan func()
	now   func() time.Time

	lastDistancePublish time.Time
	ledIntensity        int
	ledNightMode        bool
}

// New builds and wires the engine. Run must be called before Dispatch-based
// entry points (bus handlers, backend callbacks) can make progress.
func New(d Deps) *Engine {
	e := &Engine{
		cfg:          d.Config,
		settings:     SettingsFrom(d.Config.Triggers),
		bus:          d.Bus,
		reader:       d.Reader,
		bridge:       d.Bridge,
		detectors:    d.Detectors,
		stopWordID:   d.StopWordID,
		system:       d.System,
		broadcast:    d.Broadcast,
		tasks:        make(chan func(), 64),
		now:          time.Now,
		ledIntensity: 100,
	}
	if e.reader == nil {
		e.reader = distance.NoSensor{}
	}
	if e.broadcast == nil {
		e.broadcast = func(string, map[string]any) {}
	}

	e.lifecycle = NewLifecycle(e.settings, d.Config.Sounds, d.Backend, d.Music, d.Announce)
	e.gate = NewGate(e.settings, e.lifecycle)
	e.lifecycle.SetGate(e.gate)
	e.lifecycle.SetDispatcher(e.Dispatch)
	e.lifecycle.SetEventEmitter(e.emitEvent)
	e.gate.SetAttentionListener(func(state string) {
		e.broadcast("attention", map[string]any{"state": state})
	})

	if e.bus != nil {
		visdPath := filepath.Join(d.Config.IPCDir, busipc.VisionSocket)
		e.gate.SetGlanceRequester(func(requestID, reason string) {
			e.bus.Send(visdPath, "VISION_GLANCE_REQUEST", map[string]any{
				"request_id": requestID,
				"reason":     reason,
			})
		})
		e.bus.SetMessageHandler(func(msg busipc.Message) {
			e.Dispatch(func() { e.handleBusMessage(msg) })
		})
	}

	return e
}

// Callbacks returns the backend session callbacks, each re-entering the
// engine goroutine.
func (e *Engine) Callbacks() homeapi.Callbacks {
	return homeapi.Callbacks{
		OnConnect: func() {
			e.Dispatch(func() {
				e.lifecycle.HandleConnect()
				e.publishLEDState()
			})
		},
		OnDisconnect: func(err error) {
			e.Dispatch(e.lifecycle.HandleDisconnect)
		},
		OnPipelineEvent: func(ev homeapi.PipelineEvent) {
			e.Dispatch(func() { e.lifecycle.HandlePipelineEvent(ev) })
		},
		OnAnnounce: func(req homeapi.AnnounceRequest) {
			e.Dispatch(func() { e.lifecycle.HandleAnnounce(req) })
		},
		OnTimerEvent: func(ev homeapi.TimerEvent) {
			e.Dispatch(func() { e.lifecycle.HandleTimerEvent(ev) })
		},
	}
}

// Dispatch schedules f onto the engine goroutine. Safe to call from any
// goroutine; blocks only when the task queue is saturated.
func (e *Engine) Dispatch(f func()) {
	e.tasks <- f
}

// Run executes the engine loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var chunks <-chan []byte
	if e.bridge != nil {
		chunks = e.bridge.Chunks()
	}

	log.Info("engine running",
		"wake_word", e.settings.WakeWordEnabled,
		"distance", e.settings.DistanceEnabled,
		"vision", e.settings.VisionEnabled)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-e.tasks:
			f()
		case <-ticker.C:
			e.poll()
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			e.handleChunk(chunk)
		}
	}
}

// poll is the 1 Hz tick: read the sensor, re-evaluate the gate, publish the
// distance reading periodically.
func (e *Engine) poll() {
	now := e.now()

	mm, ok := e.reader.ReadDistanceMM()
	e.gate.SetDistance(mm, ok)
	e.gate.Tick()

	if now.Sub(e.lastDistancePublish) >= distancePublishInterval {
		e.lastDistancePublish = now
		data := map[string]any{"ok": ok}
		if ok {
			data["mm"] = mm
		}
		e.broadcast("distance", data)
	}
}

// handleChunk scores one microphone chunk against every loaded detector and
// routes activations: the stop word interrupts playback, anything else is a
// wake word. The chunk is also forwarded to an open capture session.
func (e *Engine) handleChunk(chunk []byte) {
	e.lifecycle.WriteAudio(chunk)

	for _, det := range e.detectors {
		res := det.Score(chunk)
		if !res.Activated {
			continue
		}
		log.Debug("detector activated",
			"id", det.ID(), "score", res.Score, "threshold", res.Threshold)

		if det.ID() == e.stopWordID {
			if e.lifecycle.StopWordArmed() {
				e.lifecycle.Stop()
			}
			continue
		}
		e.lifecycle.Wakeup(det.Phrase())
	}
}

// handleBusMessage routes one inbound control message. Runs on the engine
// goroutine.
func (e *Engine) handleBusMessage(msg busipc.Message) {
	switch msg.Type {
	case "VISION_GLANCE_RESULT":
		e.gate.HandleGlanceResult(GlanceResult{
			RequestID:  msg.String("request_id"),
			State:      msg.String("state"),
			Confidence: msg.Float("confidence"),
			LatencyMS:  msg.Float("latency_ms"),
			Error:      msg.String("error"),
		})
	case "VOLUME_DELTA":
		if steps := msg.Int("steps"); steps != 0 {
			e.adjustVolume(steps)
		}
	case "VOLUME_STEP":
		dir := msg.Int("direction")
		if dir == 0 {
			dir = msg.Int("steps")
		}
		switch {
		case dir > 0:
			e.adjustVolume(volumeStep)
		case dir < 0:
			e.adjustVolume(-volumeStep)
		}
	case "MANUAL_WAKE":
		e.lifecycle.StartDirectListening(TriggerManual)
	case "CANCEL":
		e.lifecycle.Cancel()
	case "WAKE_WORD":
		// Detection from an out-of-process scorer.
		e.lifecycle.Wakeup(msg.String("phrase"))
	case "STOP_WORD":
		if e.lifecycle.StopWordArmed() {
			e.lifecycle.Stop()
		}
	case "AUDIO_CHUNK":
		// Microphone audio from the capture process, base64 in "data".
		if e.bridge != nil {
			if data, err := base64.StdEncoding.DecodeString(msg.String("data")); err == nil {
				e.bridge.Push(data)
			} else {
				log.Debug("dropping malformed audio chunk", "error", err)
			}
		}
	default:
		e.runCommand(msg.Command())
	}
}

// Command executes a named control command from any goroutine (web UI).
func (e *Engine) Command(cmd string) {
	e.Dispatch(func() { e.runCommand(cmd) })
}

func (e *Engine) runCommand(cmd string) {
	switch cmd {
	case "mute_toggle":
		e.lifecycle.ToggleMute()
	case "mute_on":
		e.lifecycle.SetMuted(true)
	case "mute_off":
		e.lifecycle.SetMuted(false)
	case "volume_up":
		e.adjustVolume(volumeStep)
	case "volume_down":
		e.adjustVolume(-volumeStep)
	case "manual_wake":
		e.lifecycle.StartDirectListening(TriggerManual)
	case "cancel":
		e.lifecycle.Cancel()
	case "shutdown":
		if e.system != nil {
			e.system.Shutdown()
		}
	case "reboot":
		if e.system != nil {
			e.system.Reboot()
		}
	default:
		log.Debug("ignoring unknown command", "command", cmd)
	}
}

func (e *Engine) adjustVolume(step int) {
	if e.system == nil {
		return
	}
	volume := e.system.AdjustVolume(step)
	e.broadcast("volume", map[string]any{"value": volume})
}

// SetLEDIntensity publishes a new LED brightness to the LED controller.
func (e *Engine) SetLEDIntensity(percent int) {
	e.Dispatch(func() {
		e.ledIntensity = clampPercent(percent)
		e.emitEvent("led_intensity", map[string]any{"value": e.ledIntensity})
	})
}

// SetLEDNightMode publishes the LED night-mode flag.
func (e *Engine) SetLEDNightMode(enabled bool) {
	e.Dispatch(func() {
		e.ledNightMode = enabled
		e.emitEvent("led_night_mode", map[string]any{"value": e.ledNightMode})
	})
}

func (e *Engine) publishLEDState() {
	e.emitEvent("led_intensity", map[string]any{"value": e.ledIntensity})
	e.emitEvent("led_night_mode", map[string]any{"value": e.ledNightMode})
}

// emitEvent fans an event out to the GPIO/LED process over the bus and to
// in-process consumers.
func (e *Engine) emitEvent(event string, data map[string]any) {
	if e.bus != nil {
		gpioPath := filepath.Join(e.cfg.IPCDir, busipc.GPIOEventSocket)
		e.bus.SendEvent(gpioPath, event, data)
	}
	e.broadcast(event, data)
}

// Status is the full diagnostics snapshot served by the web dashboard.
type Status struct {
	Name           string     `json:"name"`
	Connected      bool       `json:"connected"`
	Muted          bool       `json:"muted"`
	Streaming      bool       `json:"streaming"`
	Trigger        string     `json:"trigger,omitempty"`
	PipelineActive bool       `json:"pipeline_active"`
	Gate           GateStatus `json:"gate"`
	DroppedChunks  uint64     `json:"dropped_chunks"`
	LEDIntensity   int        `json:"led_intensity"`
	LEDNightMode   bool       `json:"led_night_mode"`
}

// Status snapshots engine state from any goroutine. Requires Run to be
// active; returns the zero Status after a one-second wait otherwise.
func (e *Engine) Status() Status {
	result := make(chan Status, 1)
	e.Dispatch(func() { result <- e.status() })
	select {
	case s := <-result:
		return s
	case <-time.After(time.Second):
		return Status{}
	}
}

func (e *Engine) status() Status {
	s := Status{
		Name:           e.cfg.Name,
		Muted:          e.settings.Muted,
		Streaming:      e.lifecycle.Streaming(),
		Trigger:        e.lifecycle.ActiveTrigger(),
		PipelineActive: e.lifecycle.PipelineActive(),
		Gate:           e.gate.Status(),
		LEDIntensity:   e.ledIntensity,
		LEDNightMode:   e.ledNightMode,
	}
	s.Connected = e.lifecycle.backend.Connected()
	if e.bridge != nil {
		s.DroppedChunks = e.bridge.Dropped()
	}
	return s
}
