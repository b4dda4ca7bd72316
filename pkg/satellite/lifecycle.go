package satellite

import (
	"time"

	"github.com/ohf-voice/go-satellite/internal/config"
	"github.com/ohf-voice/go-satellite/internal/log"
	"github.com/ohf-voice/go-satellite/pkg/audio"
	"github.com/ohf-voice/go-satellite/pkg/homeapi"
)

// timerChimeSpacing is the pause between timer-finished chime repeats.
const timerChimeSpacing = time.Second

// triggerGate is the slice of the fusion gate the lifecycle reports into.
type triggerGate interface {
	WakeWordAllowed() bool
	ConfirmVoiceActivity()
	SessionEnded()
	CancelCycle()
	Reset()
}

// Lifecycle owns the per-connection session record and drives ducking,
// audio streaming, chained TTS/announcement playback, continue-conversation,
// and timer-interrupt behavior from the backend's pipeline events and local
// commands. All methods must be called from the engine goroutine; playback
// completion callbacks re-enter through the dispatcher.
type Lifecycle struct {
	settings *Settings
	sounds   config.Sounds
	backend  homeapi.Session
	music    audio.Player
	announce audio.Player

	gate     triggerGate
	emit     func(event string, data map[string]any)
	dispatch func(func())

	chimeSpacing time.Duration

	streaming            bool
	trigger              string
	pipelineActive       bool
	ttsURL               string
	ttsPlayed            bool
	continueConversation bool
	timerFinished        bool
	stopWordArmed        bool
}

// NewLifecycle creates a lifecycle around one backend session and the two
// media players (background music and announcements/TTS).
func NewLifecycle(settings *Settings, sounds config.Sounds, backend homeapi.Session, music, announce audio.Player) *Lifecycle {
	return &Lifecycle{
		settings:     settings,
		sounds:       sounds,
		backend:      backend,
		music:        music,
		announce:     announce,
		emit:         func(string, map[string]any) {},
		dispatch:     func(f func()) { f() },
		chimeSpacing: timerChimeSpacing,
	}
}

// SetGate wires the fusion gate hooks.
func (l *Lifecycle) SetGate(g triggerGate) { l.gate = g }

// SetEventEmitter installs the bus event sink.
func (l *Lifecycle) SetEventEmitter(fn func(event string, data map[string]any)) {
	l.emit = fn
}

// SetDispatcher installs the function that schedules work back onto the
// engine goroutine; playback done callbacks arrive on player goroutines and
// must be re-entered through it.
func (l *Lifecycle) SetDispatcher(fn func(func())) { l.dispatch = fn }

// Streaming reports whether microphone audio is being sent to the backend.
func (l *Lifecycle) Streaming() bool { return l.streaming }

// PipelineActive reports whether a voice run is in flight.
func (l *Lifecycle) PipelineActive() bool { return l.pipelineActive }

// ActiveTrigger returns the source that opened the current session, or "".
func (l *Lifecycle) ActiveTrigger() string { return l.trigger }

// StopWordArmed reports whether the "stop" phrase should interrupt playback.
func (l *Lifecycle) StopWordArmed() bool { return l.stopWordArmed }

// StartDirectListening opens a capture session without a wake word, tagged
// with the given trigger source. Distance and manual triggers ask the
// backend to run VAD since there is no phrase to anchor on.
func (l *Lifecycle) StartDirectListening(trigger string) bool {
	if l.settings.Muted || !l.backend.Connected() || l.streaming {
		return false
	}

	opts := homeapi.StartOptions{
		UseVAD: trigger == TriggerDistance || trigger == TriggerManual,
	}
	if err := l.backend.StartConversation(opts); err != nil {
		log.Warn("direct listening start failed", "trigger", trigger, "error", err)
		return false
	}

	l.streaming = true
	l.trigger = trigger
	l.duck()
	if l.settings.DistanceSoundEnabled && l.sounds.Wakeup != "" {
		l.announce.Play([]string{l.sounds.Wakeup}, nil)
	}
	l.emit("direct_listening", map[string]any{"trigger": trigger})
	log.Info("direct listening started", "trigger", trigger)
	return true
}

// StopDistanceListening cancels a distance-originated session. Sessions
// opened by other triggers are left alone.
func (l *Lifecycle) StopDistanceListening(reason string) {
	if !l.streaming || l.trigger != TriggerDistance {
		return
	}

	if err := l.backend.StopConversation(); err != nil {
		log.Debug("stop conversation failed", "error", err)
	}
	l.streaming = false
	l.trigger = ""
	l.emit("distance_trigger_cancelled", map[string]any{"reason": reason})
	log.Info("distance listening cancelled", "reason", reason)
}

// Wakeup handles a wake-word activation from the detector loop.
func (l *Lifecycle) Wakeup(phrase string) {
	if !l.settings.WakeWordEnabled {
		return
	}

	if l.timerFinished {
		// Wake word doubles as "stop the timer chime".
		l.timerFinished = false
		l.announce.Stop()
		log.Debug("timer chime stopped by wake word")
		return
	}

	if l.settings.Muted {
		return
	}

	if !l.gate.WakeWordAllowed() {
		log.Debug("wake word ignored, prerequisites not satisfied", "phrase", phrase)
		return
	}

	l.emit("wake_word", map[string]any{"phrase": phrase})
	if err := l.backend.StartConversation(homeapi.StartOptions{WakeWordPhrase: phrase}); err != nil {
		log.Warn("wake word session start failed", "error", err)
		return
	}
	l.duck()
	l.streaming = true
	l.trigger = TriggerWakeWord
	if l.sounds.Wakeup != "" {
		l.announce.Play([]string{l.sounds.Wakeup}, nil)
	}
	log.Info("wake word session started", "phrase", phrase)
}

// HandlePipelineEvent consumes one typed pipeline event from the backend.
func (l *Lifecycle) HandlePipelineEvent(ev homeapi.PipelineEvent) {
	log.Debug("pipeline event", "type", ev.Type)
	l.emit("voice_event", map[string]any{"type": string(ev.Type)})

	switch ev.Type {
	case homeapi.EventRunStart:
		l.pipelineActive = true
		l.ttsURL = ev.Get("url")
		l.ttsPlayed = false
		l.continueConversation = false
		l.emit("run_start", nil)

	case homeapi.EventIntentStart:
		if !l.settings.ThinkingSoundEnabled {
			return
		}
		l.emit("intent_start", nil)
		if l.sounds.Processing != "" {
			l.stopWordArmed = true
			l.duck()
			l.announce.Play([]string{l.sounds.Processing}, nil)
		}

	case homeapi.EventSTTStart, homeapi.EventSTTVADStart:
		l.emit("listening_start", nil)
		if ev.Type == homeapi.EventSTTVADStart && l.trigger == TriggerDistance {
			l.gate.ConfirmVoiceActivity()
		}

	case homeapi.EventSTTEnd, homeapi.EventSTTVADEnd:
		// The backend no longer wants audio, regardless of local state.
		l.emit("listening_end", nil)
		l.streaming = false
		l.trigger = ""

	case homeapi.EventIntentProgress:
		if ev.Get("tts_start_streaming") == "1" {
			l.playTTS()
		}

	case homeapi.EventIntentEnd:
		if ev.Get("continue_conversation") == "1" {
			l.continueConversation = true
		}

	case homeapi.EventTTSStart, homeapi.EventTTSStreamStart:
		l.emit("tts_start", nil)

	case homeapi.EventTTSEnd:
		l.emit("tts_end", nil)
		l.ttsURL = ev.Get("url")
		l.playTTS()

	case homeapi.EventRunEnd:
		l.pipelineActive = false
		l.streaming = false
		l.trigger = ""
		l.gate.SessionEnded()
		l.emit("run_end", nil)
		if !l.ttsPlayed {
			// The run produced no audio; synthesize completion so the
			// continue/unduck chain still fires.
			l.ttsFinished()
		}
		l.ttsPlayed = false

	case homeapi.EventError:
		log.Warn("pipeline error", "code", ev.Get("code"), "message", ev.Get("message"))
	}
}

// HandleAnnounce plays a backend-initiated announcement: optional
// preannounce chime, then the media, then the finished acknowledgment.
func (l *Lifecycle) HandleAnnounce(req homeapi.AnnounceRequest) {
	log.Debug("announcing", "text", req.Text)

	var urls []string
	if req.PreannounceMediaID != "" {
		urls = append(urls, req.PreannounceMediaID)
	}
	urls = append(urls, req.MediaID)

	l.stopWordArmed = true
	l.continueConversation = req.StartConversation
	l.duck()
	l.announce.Play(urls, func() { l.dispatch(l.ttsFinished) })
}

// HandleTimerEvent reacts to assistant timer updates; only the finished
// transition matters here.
func (l *Lifecycle) HandleTimerEvent(ev homeapi.TimerEvent) {
	if ev.Type != homeapi.TimerFinished || l.timerFinished {
		return
	}
	l.stopWordArmed = true
	l.timerFinished = true
	l.duck()
	l.playTimerFinished()
}

// Stop is barge-in: the user said "stop" or pressed cancel on the panel.
func (l *Lifecycle) Stop() {
	l.stopWordArmed = false
	l.announce.Stop()

	if l.timerFinished {
		l.timerFinished = false
		log.Debug("timer chime stopped")
		return
	}

	log.Debug("response stopped manually")
	l.ttsFinished()
}

// Cancel aborts the current capture session and lifts the trigger pause.
func (l *Lifecycle) Cancel() {
	if l.streaming {
		if err := l.backend.StopConversation(); err != nil {
			log.Debug("stop conversation failed", "error", err)
		}
		l.streaming = false
		l.trigger = ""
	}
	l.gate.CancelCycle()
}

// SetMuted mutes or unmutes the assistant. Muting silences playback and
// audio streaming immediately; the fusion gate refuses new admissions while
// muted.
func (l *Lifecycle) SetMuted(muted bool) {
	l.settings.Muted = muted
	l.emit("muted", map[string]any{"value": muted})

	if muted {
		l.streaming = false
		l.announce.Stop()
		l.stopWordArmed = false
		if l.sounds.Mute != "" {
			l.announce.Play([]string{l.sounds.Mute}, nil)
		}
		log.Debug("assistant muted")
		return
	}

	if l.sounds.Unmute != "" {
		l.announce.Play([]string{l.sounds.Unmute}, nil)
	}
	log.Debug("assistant unmuted")
}

// ToggleMute flips the mute state.
func (l *Lifecycle) ToggleMute() {
	l.SetMuted(!l.settings.Muted)
}

// WriteAudio forwards one microphone chunk while a session is streaming.
func (l *Lifecycle) WriteAudio(chunk []byte) {
	if !l.streaming || l.settings.Muted {
		return
	}
	if err := l.backend.WriteAudio(chunk); err != nil {
		log.Debug("audio write failed", "error", err)
	}
}

// HandleConnect is called when the backend session is established.
func (l *Lifecycle) HandleConnect() {
	l.emit("ha_connected", nil)
	log.Info("backend connected")
}

// HandleDisconnect resets every session flag so sibling processes return to
// idle visuals and the gate re-arms from scratch.
func (l *Lifecycle) HandleDisconnect() {
	l.pipelineActive = false
	l.streaming = false
	l.trigger = ""
	l.ttsURL = ""
	l.ttsPlayed = false
	l.continueConversation = false
	l.timerFinished = false
	l.stopWordArmed = false

	l.music.Stop()
	l.announce.Stop()
	l.gate.Reset()

	l.emit("ha_disconnected", nil)
	log.Info("backend disconnected, waiting for reconnection")
}

// playTTS begins TTS playback once per run, arming the stop word so the
// user can interrupt.
func (l *Lifecycle) playTTS() {
	if l.ttsURL == "" || l.ttsPlayed {
		return
	}
	l.ttsPlayed = true
	l.stopWordArmed = true
	log.Debug("playing tts response", "url", l.ttsURL)
	l.announce.Play([]string{l.ttsURL}, func() { l.dispatch(l.ttsFinished) })
}

// ttsFinished runs the completion chain exactly once per playback: notify
// the bus, acknowledge the backend, then either continue the conversation
// or restore background media.
func (l *Lifecycle) ttsFinished() {
	l.emit("tts_finished", nil)
	l.stopWordArmed = false
	if err := l.backend.AnnounceFinished(); err != nil {
		log.Debug("announce finished ack failed", "error", err)
	}

	if l.continueConversation {
		if err := l.backend.StartConversation(homeapi.StartOptions{}); err != nil {
			log.Warn("continue conversation failed", "error", err)
		} else {
			l.streaming = true
			log.Debug("continuing conversation")
		}
		return
	}

	l.unduck()
}

// playTimerFinished loops the finished chime with a short pause between
// repeats until stopped.
func (l *Lifecycle) playTimerFinished() {
	if !l.timerFinished {
		l.unduck()
		return
	}
	l.announce.Play([]string{l.sounds.TimerFinished}, func() {
		time.AfterFunc(l.chimeSpacing, func() {
			l.dispatch(l.playTimerFinished)
		})
	})
}

func (l *Lifecycle) duck() {
	l.music.Duck()
}

func (l *Lifecycle) unduck() {
	l.music.Unduck()
}
