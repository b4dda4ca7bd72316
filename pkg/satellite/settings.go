// Package satellite implements the control core of the voice satellite: the
// trigger fusion gate that decides when a listening session may open, and
// the session lifecycle that drives it against the remote assistant backend.
package satellite

import (
	"time"

	"github.com/ohf-voice/go-satellite/internal/config"
)

// Trigger sources recorded as the active session's listening trigger.
const (
	TriggerWakeWord = "wake_word"
	TriggerDistance = "distance"
	TriggerManual   = "manual"
)

// Attention states exposed for diagnostics. Mutated only by the fusion gate
// on the engine goroutine.
const (
	AttentionIdle              = "IDLE"
	AttentionWaitWakeWord      = "WAIT_WAKE_WORD"
	AttentionDistanceRequired  = "DISTANCE_REQUIRED"
	AttentionVisionGlance      = "VISION_GLANCE"
	AttentionVisionCooldown    = "VISION_COOLDOWN"
	AttentionVisionTimeout     = "VISION_TIMEOUT"
	AttentionVisionError       = "VISION_ERROR"
	AttentionVisionUnavailable = "VISION_UNAVAILABLE"
	AttentionFaceToward        = "FACE_TOWARD"
	AttentionFaceAway          = "FACE_AWAY"
	AttentionNoFace            = "NO_FACE"
	AttentionListening         = "LISTENING"
	AttentionVADTimeout        = "VAD_TIMEOUT"
)

// Settings holds the runtime-tunable trigger parameters plus the mute flag.
// All fields are read and written only on the engine goroutine.
type Settings struct {
	WakeWordEnabled      bool
	DistanceEnabled      bool
	DistanceSoundEnabled bool
	DistanceThresholdMM  float64
	Refractory           time.Duration
	VisionEnabled        bool
	AttentionRequired    bool
	VisionCooldown       time.Duration
	VisionMinConfidence  float64
	EngagedVADWindow     time.Duration
	ThinkingSoundEnabled bool

	Muted bool
}

// SettingsFrom converts the static trigger configuration into the runtime
// settings record.
func SettingsFrom(t config.Triggers) *Settings {
	return &Settings{
		WakeWordEnabled:      t.WakeWordEnabled,
		DistanceEnabled:      t.DistanceEnabled,
		DistanceSoundEnabled: t.DistanceSoundEnabled,
		DistanceThresholdMM:  t.DistanceThresholdMM,
		Refractory:           secondsToDuration(t.RefractorySeconds),
		VisionEnabled:        t.VisionEnabled,
		AttentionRequired:    t.AttentionRequired,
		VisionCooldown:       secondsToDuration(t.VisionCooldownSeconds),
		VisionMinConfidence:  t.VisionMinConfidence,
		EngagedVADWindow:     secondsToDuration(t.EngagedVADWindowSeconds),
		ThinkingSoundEnabled: t.ThinkingSoundEnabled,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Counters are the trigger diagnostics exposed upstream.
type Counters struct {
	VisionRequests         int `json:"vision_requests"`
	VisionTimeouts         int `json:"vision_timeouts"`
	VisionSuccesses        int `json:"vision_successes"`
	FalseTriggersPrevented int `json:"false_triggers_prevented"`
}
