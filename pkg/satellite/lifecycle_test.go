package satellite

import (
	"testing"
	"time"

	"github.com/ohf-voice/go-satellite/pkg/homeapi"
)

func TestLifecycle_ChainedAnnouncePlaysBothAndCompletesOnce(t *testing.T) {
	h := newHarness(nil)

	h.lifecycle.HandleAnnounce(homeapi.AnnounceRequest{
		PreannounceMediaID: "chime.mp3",
		MediaID:            "message.mp3",
	})

	got := h.announce.lastPlay()
	if len(got) != 2 || got[0] != "chime.mp3" || got[1] != "message.mp3" {
		t.Fatalf("playlist = %v, want [chime.mp3 message.mp3]", got)
	}
	if !h.lifecycle.StopWordArmed() {
		t.Error("stop word not armed during announcement")
	}
	if h.music.ducks != 1 {
		t.Errorf("ducks = %d, want 1", h.music.ducks)
	}

	h.announce.finishLast()

	if h.backend.acks != 1 {
		t.Errorf("announce-finished acks = %d, want exactly 1", h.backend.acks)
	}
	if h.music.unducks != 1 {
		t.Errorf("unducks = %d, want 1", h.music.unducks)
	}
	if h.lifecycle.StopWordArmed() {
		t.Error("stop word still armed after completion")
	}
	if !h.hasEvent("tts_finished") {
		t.Error("tts_finished event not emitted")
	}
}

func TestLifecycle_AnnounceStartConversation(t *testing.T) {
	h := newHarness(nil)

	h.lifecycle.HandleAnnounce(homeapi.AnnounceRequest{
		MediaID:           "message.mp3",
		StartConversation: true,
	})
	h.announce.finishLast()

	if len(h.backend.starts) != 1 {
		t.Fatalf("starts = %d, want conversation opened after announce", len(h.backend.starts))
	}
	if !h.lifecycle.Streaming() {
		t.Error("not streaming after continue-conversation")
	}
	if h.music.unducks != 0 {
		t.Error("unducked despite continuing the conversation")
	}
}

func TestLifecycle_MuteSuppression(t *testing.T) {
	h := newHarness(func(s *Settings) {
		s.DistanceEnabled = true
		s.DistanceSoundEnabled = true
	})

	// Open a distance-triggered session, then mute mid-session.
	h.tick(100, true)
	if !h.lifecycle.Streaming() {
		t.Fatal("session did not open")
	}

	stopsBefore := h.announce.stops
	h.lifecycle.SetMuted(true)

	if h.lifecycle.Streaming() {
		t.Error("still streaming after mute")
	}
	if h.announce.stops != stopsBefore+1 {
		t.Errorf("announce stops = %d, want %d", h.announce.stops, stopsBefore+1)
	}
	if got := h.announce.lastPlay(); len(got) != 1 || got[0] != "mute.mp3" {
		t.Errorf("mute cue = %v", got)
	}
	if ev, ok := h.lastEvent("muted"); !ok || ev.data["value"] != true {
		t.Errorf("muted event = %+v", ev)
	}

	// No trigger source may open a session while muted.
	startsBefore := len(h.backend.starts)
	if h.lifecycle.StartDirectListening(TriggerManual) {
		t.Error("manual trigger admitted while muted")
	}
	h.settings.WakeWordEnabled = true
	h.lifecycle.Wakeup("okay nabu")
	if len(h.backend.starts) != startsBefore {
		t.Error("a trigger opened a session while muted")
	}

	h.lifecycle.SetMuted(false)
	if got := h.announce.lastPlay(); len(got) != 1 || got[0] != "unmute.mp3" {
		t.Errorf("unmute cue = %v", got)
	}
}

func TestLifecycle_TTSEndPlaysAndCompletes(t *testing.T) {
	h := newHarness(func(s *Settings) { s.WakeWordEnabled = true })

	h.lifecycle.Wakeup("okay nabu")
	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{Type: homeapi.EventRunStart})
	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{
		Type: homeapi.EventTTSEnd,
		Data: map[string]string{"url": "http://backend/tts.mp3"},
	})

	if got := h.announce.lastPlay(); len(got) != 1 || got[0] != "http://backend/tts.mp3" {
		t.Fatalf("tts playlist = %v", got)
	}
	if !h.lifecycle.StopWordArmed() {
		t.Error("stop word not armed during TTS")
	}

	// A second tts_end for the same run must not restart playback.
	plays := len(h.announce.plays)
	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{
		Type: homeapi.EventTTSEnd,
		Data: map[string]string{"url": "http://backend/tts.mp3"},
	})
	if len(h.announce.plays) != plays {
		t.Error("tts played twice for one run")
	}

	h.announce.finishLast()
	if h.backend.acks != 1 {
		t.Errorf("acks = %d, want 1", h.backend.acks)
	}
}

func TestLifecycle_EarlyStreamStartsTTS(t *testing.T) {
	h := newHarness(nil)

	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{
		Type: homeapi.EventRunStart,
		Data: map[string]string{"url": "http://backend/early.mp3"},
	})
	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{
		Type: homeapi.EventIntentProgress,
		Data: map[string]string{"tts_start_streaming": "1"},
	})

	if got := h.announce.lastPlay(); len(got) != 1 || got[0] != "http://backend/early.mp3" {
		t.Errorf("early stream playlist = %v", got)
	}
}

func TestLifecycle_RunEndWithoutTTSSynthesizesCompletion(t *testing.T) {
	h := newHarness(nil)

	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{Type: homeapi.EventRunStart})
	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{Type: homeapi.EventRunEnd})

	if h.backend.acks != 1 {
		t.Errorf("acks = %d, want synthesized completion", h.backend.acks)
	}
	if h.lifecycle.PipelineActive() {
		t.Error("pipeline still active after run_end")
	}
	if h.music.unducks != 1 {
		t.Errorf("unducks = %d, want 1", h.music.unducks)
	}
}

func TestLifecycle_ContinueConversation(t *testing.T) {
	h := newHarness(nil)

	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{Type: homeapi.EventRunStart})
	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{
		Type: homeapi.EventIntentEnd,
		Data: map[string]string{"continue_conversation": "1"},
	})
	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{
		Type: homeapi.EventTTSEnd,
		Data: map[string]string{"url": "http://backend/tts.mp3"},
	})
	h.announce.finishLast()

	if len(h.backend.starts) != 1 {
		t.Fatalf("starts = %d, want re-opened capture", len(h.backend.starts))
	}
	if !h.lifecycle.Streaming() {
		t.Error("not streaming after continue-conversation")
	}
}

func TestLifecycle_SttEndClearsStreaming(t *testing.T) {
	h := newHarness(func(s *Settings) { s.WakeWordEnabled = true })

	h.lifecycle.Wakeup("okay nabu")
	if !h.lifecycle.Streaming() {
		t.Fatal("wake word did not open a session")
	}

	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{Type: homeapi.EventSTTEnd})

	if h.lifecycle.Streaming() {
		t.Error("still streaming after stt_end")
	}
	if h.lifecycle.ActiveTrigger() != "" {
		t.Errorf("trigger = %q, want cleared", h.lifecycle.ActiveTrigger())
	}
	if !h.hasEvent("listening_end") {
		t.Error("listening_end event not emitted")
	}
}

func TestLifecycle_VADStartConfirmsDistanceSession(t *testing.T) {
	h := newHarness(func(s *Settings) { s.DistanceEnabled = true })

	h.tick(100, true)
	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{Type: homeapi.EventSTTVADStart})

	if !h.gate.engagedDeadline.IsZero() {
		t.Error("engaged deadline not cleared by VAD start")
	}
	if h.gate.attention != AttentionListening {
		t.Errorf("attention = %q, want LISTENING", h.gate.attention)
	}
}

func TestLifecycle_StopBargeIn(t *testing.T) {
	h := newHarness(nil)

	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{Type: homeapi.EventRunStart})
	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{
		Type: homeapi.EventTTSEnd,
		Data: map[string]string{"url": "http://backend/tts.mp3"},
	})

	h.lifecycle.Stop()

	if h.announce.stops != 1 {
		t.Errorf("announce stops = %d, want 1", h.announce.stops)
	}
	if h.backend.acks != 1 {
		t.Errorf("acks = %d, want completion chain after manual stop", h.backend.acks)
	}
	if h.lifecycle.StopWordArmed() {
		t.Error("stop word still armed")
	}
}

func TestLifecycle_TimerFinishedChime(t *testing.T) {
	h := newHarness(nil)
	h.lifecycle.chimeSpacing = time.Millisecond

	h.lifecycle.HandleTimerEvent(homeapi.TimerEvent{Type: homeapi.TimerFinished})

	if got := h.announce.lastPlay(); len(got) != 1 || got[0] != "timer.mp3" {
		t.Fatalf("chime playlist = %v", got)
	}
	if !h.lifecycle.StopWordArmed() {
		t.Error("stop word not armed for the timer chime")
	}
	if h.music.ducks != 1 {
		t.Errorf("ducks = %d, want 1", h.music.ducks)
	}

	// A duplicate finished event must not stack a second chime loop.
	plays := len(h.announce.plays)
	h.lifecycle.HandleTimerEvent(homeapi.TimerEvent{Type: homeapi.TimerFinished})
	if len(h.announce.plays) != plays {
		t.Error("duplicate timer event restarted the chime")
	}

	// Stopping the chime silences only the timer; no completion chain.
	h.lifecycle.Stop()
	if h.backend.acks != 0 {
		t.Error("timer stop ran the TTS completion chain")
	}
	if h.lifecycle.timerFinished {
		t.Error("timerFinished flag not cleared")
	}
}

func TestLifecycle_WakeWordStopsTimerChime(t *testing.T) {
	h := newHarness(func(s *Settings) { s.WakeWordEnabled = true })

	h.lifecycle.HandleTimerEvent(homeapi.TimerEvent{Type: homeapi.TimerFinished})
	h.lifecycle.Wakeup("okay nabu")

	if len(h.backend.starts) != 0 {
		t.Error("wake word opened a session instead of stopping the chime")
	}
	if h.lifecycle.timerFinished {
		t.Error("chime still marked active")
	}
	if h.announce.stops != 1 {
		t.Errorf("announce stops = %d, want 1", h.announce.stops)
	}
}

func TestLifecycle_ThinkingSound(t *testing.T) {
	h := newHarness(func(s *Settings) { s.ThinkingSoundEnabled = true })

	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{Type: homeapi.EventIntentStart})

	if got := h.announce.lastPlay(); len(got) != 1 || got[0] != "processing.mp3" {
		t.Errorf("processing cue = %v", got)
	}
	if !h.lifecycle.StopWordArmed() {
		t.Error("stop word not armed with the processing cue")
	}

	disabled := newHarness(nil)
	disabled.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{Type: homeapi.EventIntentStart})
	if len(disabled.announce.plays) != 0 {
		t.Error("processing cue played while thinking sound disabled")
	}
}

func TestLifecycle_WriteAudio(t *testing.T) {
	h := newHarness(func(s *Settings) { s.WakeWordEnabled = true })

	h.lifecycle.WriteAudio([]byte{1})
	if h.backend.frames != 0 {
		t.Error("audio forwarded without a session")
	}

	h.lifecycle.Wakeup("okay nabu")
	h.lifecycle.WriteAudio([]byte{1})
	if h.backend.frames != 1 {
		t.Errorf("frames = %d, want 1", h.backend.frames)
	}

	h.settings.Muted = true
	h.lifecycle.WriteAudio([]byte{1})
	if h.backend.frames != 1 {
		t.Error("audio forwarded while muted")
	}
}

func TestLifecycle_DisconnectResetsEverything(t *testing.T) {
	h := newHarness(func(s *Settings) { s.DistanceEnabled = true })

	h.tick(100, true)
	h.lifecycle.HandlePipelineEvent(homeapi.PipelineEvent{Type: homeapi.EventRunStart})
	h.lifecycle.HandleTimerEvent(homeapi.TimerEvent{Type: homeapi.TimerFinished})

	h.lifecycle.HandleDisconnect()

	if h.lifecycle.Streaming() || h.lifecycle.PipelineActive() ||
		h.lifecycle.ActiveTrigger() != "" || h.lifecycle.StopWordArmed() ||
		h.lifecycle.timerFinished {
		t.Error("session flags survived disconnect")
	}
	if h.music.stops != 1 || h.announce.stops != 1 {
		t.Errorf("players not stopped: music=%d announce=%d", h.music.stops, h.announce.stops)
	}
	if h.gate.latched {
		t.Error("gate latch survived disconnect")
	}
	if !h.hasEvent("ha_disconnected") {
		t.Error("ha_disconnected event not emitted")
	}
}

func TestLifecycle_CancelCommand(t *testing.T) {
	h := newHarness(func(s *Settings) { s.DistanceEnabled = true })

	h.tick(100, true)
	h.gate.rearmRequired = true
	h.gate.pausedUntilCycleEnd = true

	h.lifecycle.Cancel()

	if h.lifecycle.Streaming() {
		t.Error("still streaming after cancel")
	}
	if h.backend.stops != 1 {
		t.Errorf("stops = %d, want 1", h.backend.stops)
	}
	if h.gate.rearmRequired || h.gate.pausedUntilCycleEnd {
		t.Error("cancel did not lift the trigger pause")
	}
}

func TestLifecycle_DirectListeningRequiresConnection(t *testing.T) {
	h := newHarness(nil)
	h.backend.connected = false

	if h.lifecycle.StartDirectListening(TriggerManual) {
		t.Error("session opened while disconnected")
	}
}
