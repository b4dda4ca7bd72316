package satellite

import (
	"time"

	"github.com/ohf-voice/go-satellite/internal/config"
	"github.com/ohf-voice/go-satellite/pkg/homeapi"
)

// fakeClock drives the gate deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeSession records backend interactions.
type fakeSession struct {
	connected bool
	startErr  error
	starts    []homeapi.StartOptions
	stops     int
	frames    int
	acks      int
}

func (s *fakeSession) Connected() bool { return s.connected }

func (s *fakeSession) StartConversation(opts homeapi.StartOptions) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.starts = append(s.starts, opts)
	return nil
}

func (s *fakeSession) StopConversation() error {
	s.stops++
	return nil
}

func (s *fakeSession) WriteAudio(chunk []byte) error {
	s.frames++
	return nil
}

func (s *fakeSession) AnnounceFinished() error {
	s.acks++
	return nil
}

// fakePlayer records playback requests; tests complete them explicitly.
type fakePlayer struct {
	plays   [][]string
	dones   []func()
	stops   int
	ducks   int
	unducks int
	playing bool
}

func (p *fakePlayer) Play(urls []string, done func()) {
	p.plays = append(p.plays, urls)
	p.dones = append(p.dones, done)
	p.playing = true
}

func (p *fakePlayer) Stop()           { p.stops++; p.playing = false }
func (p *fakePlayer) Pause()          {}
func (p *fakePlayer) Resume()         {}
func (p *fakePlayer) Duck()           { p.ducks++ }
func (p *fakePlayer) Unduck()         { p.unducks++ }
func (p *fakePlayer) SetVolume(int)   {}
func (p *fakePlayer) IsPlaying() bool { return p.playing }

// finishLast simulates the last queued playback ending naturally.
func (p *fakePlayer) finishLast() {
	p.playing = false
	if n := len(p.dones); n > 0 {
		if done := p.dones[n-1]; done != nil {
			done()
		}
	}
}

func (p *fakePlayer) lastPlay() []string {
	if len(p.plays) == 0 {
		return nil
	}
	return p.plays[len(p.plays)-1]
}

type glanceRequest struct {
	id     string
	reason string
}

type busEvent struct {
	name string
	data map[string]any
}

// harness wires a gate and lifecycle against fakes with a fake clock.
type harness struct {
	clock     *fakeClock
	settings  *Settings
	backend   *fakeSession
	music     *fakePlayer
	announce  *fakePlayer
	lifecycle *Lifecycle
	gate      *Gate
	glances   []glanceRequest
	events    []busEvent
}

func newHarness(mutate func(*Settings)) *harness {
	h := &harness{
		clock: newFakeClock(),
		settings: &Settings{
			DistanceThresholdMM: 150,
			Refractory:          2 * time.Second,
			VisionCooldown:      5 * time.Second,
			VisionMinConfidence: 0.6,
			EngagedVADWindow:    4 * time.Second,
		},
		backend:  &fakeSession{connected: true},
		music:    &fakePlayer{},
		announce: &fakePlayer{},
	}
	if mutate != nil {
		mutate(h.settings)
	}

	sounds := config.Sounds{
		Wakeup:        "wakeup.mp3",
		Mute:          "mute.mp3",
		Unmute:        "unmute.mp3",
		Processing:    "processing.mp3",
		TimerFinished: "timer.mp3",
	}
	h.lifecycle = NewLifecycle(h.settings, sounds, h.backend, h.music, h.announce)
	h.gate = NewGate(h.settings, h.lifecycle)
	h.gate.now = h.clock.Now
	h.lifecycle.SetGate(h.gate)
	h.lifecycle.SetEventEmitter(func(name string, data map[string]any) {
		h.events = append(h.events, busEvent{name: name, data: data})
	})
	h.gate.SetGlanceRequester(func(id, reason string) {
		h.glances = append(h.glances, glanceRequest{id: id, reason: reason})
	})
	return h
}

// tick feeds one distance reading and runs the 1 Hz evaluation.
func (h *harness) tick(mm float64, ok bool) {
	h.gate.SetDistance(mm, ok)
	h.gate.Tick()
}

func (h *harness) hasEvent(name string) bool {
	for _, ev := range h.events {
		if ev.name == name {
			return true
		}
	}
	return false
}

func (h *harness) lastEvent(name string) (busEvent, bool) {
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].name == name {
			return h.events[i], true
		}
	}
	return busEvent{}, false
}
