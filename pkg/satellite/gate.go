package satellite

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ohf-voice/go-satellite/internal/log"
)

const (
	// glanceTimeout bounds one vision round trip; the daemon must answer
	// within this budget or the request is written off.
	glanceTimeout = 2 * time.Second

	// visionPauseCeiling caps the mid-conversation trigger pause in case
	// the run-end event is lost.
	visionPauseCeiling = 30 * time.Second

	// vadRetryCooldown shortens the vision cooldown after a VAD timeout so
	// a fresh attempt is not excessively delayed.
	vadRetryCooldown = 2 * time.Second
)

// sessionControl is the narrow slice of the lifecycle the gate drives.
type sessionControl interface {
	StartDirectListening(trigger string) bool
	StopDistanceListening(reason string)
	Streaming() bool
	PipelineActive() bool
	ActiveTrigger() string
}

// GlanceResult is the vision daemon's verdict for one glance request.
type GlanceResult struct {
	RequestID  string
	State      string
	Confidence float64
	LatencyMS  float64
	Error      string
}

// Gate is the trigger fusion state machine. It merges the distance poll,
// wake-word activations, and vision glance results into a single admission
// decision. All methods must be called from the engine goroutine.
type Gate struct {
	settings *Settings
	session  sessionControl

	// requestGlance sends a VISION_GLANCE_REQUEST over the bus. nil means
	// the bus is unavailable and vision degrades to a fallback admit.
	requestGlance func(requestID, reason string)

	onAttention func(state string)
	now         func() time.Time

	distanceMM float64
	distanceOK bool

	latched     bool
	chainOpen   bool // admission chain in progress for the current latch
	lastTrigger time.Time

	pendingID     string
	glanceSentAt  time.Time
	cooldownUntil time.Time

	passUntil           time.Time
	rearmRequired       bool
	pausedUntilCycleEnd bool
	pauseDeadline       time.Time
	engagedDeadline     time.Time

	attention         string
	lastVisionError   string
	lastVisionLatency time.Duration

	counters Counters
}

// NewGate creates a gate bound to the given settings and session control.
func NewGate(settings *Settings, session sessionControl) *Gate {
	return &Gate{
		settings:  settings,
		session:   session,
		now:       time.Now,
		attention: AttentionIdle,
	}
}

// SetGlanceRequester installs the bus adapter used to reach the vision
// daemon. Without one, vision gating degrades as if the daemon were down.
func (g *Gate) SetGlanceRequester(fn func(requestID, reason string)) {
	g.requestGlance = fn
}

// SetAttentionListener installs an observer notified on every attention
// state change (diagnostics broadcast).
func (g *Gate) SetAttentionListener(fn func(state string)) {
	g.onAttention = fn
}

func (g *Gate) setAttention(state string) {
	if g.attention == state {
		return
	}
	g.attention = state
	if g.onAttention != nil {
		g.onAttention(state)
	}
}

// SetDistance records the latest sensor poll. ok=false means no reading
// (sensor error or out of sensor range), treated the same as no target.
func (g *Gate) SetDistance(mm float64, ok bool) {
	g.distanceMM = mm
	g.distanceOK = ok
}

// Tick re-evaluates the gate: distance admission, glance timeout, and the
// engaged-VAD deadline sweep. Called at 1 Hz by the engine.
func (g *Gate) Tick() {
	now := g.now()

	g.handleDistanceActivation(now)

	if g.pendingID != "" && now.Sub(g.glanceSentAt) > glanceTimeout {
		g.pendingID = ""
		g.cooldownUntil = now.Add(g.settings.VisionCooldown)
		g.passUntil = time.Time{}
		g.lastVisionError = "timeout"
		g.counters.VisionTimeouts++
		g.setAttention(AttentionVisionTimeout)
		if g.settings.AttentionRequired {
			g.counters.FalseTriggersPrevented++
		} else {
			g.completeDetectionChain(now, "vision_timeout_fallback")
		}
		log.Info("vision glance timed out",
			"timeouts", g.counters.VisionTimeouts,
			"prevented", g.counters.FalseTriggersPrevented)
	}

	if g.session.Streaming() && g.session.ActiveTrigger() == TriggerDistance &&
		!g.engagedDeadline.IsZero() && now.After(g.engagedDeadline) {
		g.setAttention(AttentionVADTimeout)
		g.session.StopDistanceListening("vad_timeout")
		g.engagedDeadline = time.Time{}
		g.latched = false
		g.chainOpen = false
		cooldown := g.settings.VisionCooldown
		if cooldown > vadRetryCooldown {
			cooldown = vadRetryCooldown
		}
		g.cooldownUntil = now.Add(cooldown)
		log.Info("engaged window expired without voice activity")
	}
}

// handleDistanceActivation is the distance/vision arm of the admission rule.
func (g *Gate) handleDistanceActivation(now time.Time) {
	if g.pausedUntilCycleEnd && !now.Before(g.pauseDeadline) {
		g.pausedUntilCycleEnd = false
		g.pauseDeadline = time.Time{}
	}

	// Out-of-range (or a failed read) cancels a distance-originated session
	// and clears the latch even mid-session.
	if g.settings.DistanceEnabled {
		threshold := math.Max(1, g.settings.DistanceThresholdMM)
		if !g.distanceOK || g.distanceMM > threshold {
			g.session.StopDistanceListening("out_of_range")
			g.engagedDeadline = time.Time{}
			g.latched = false
			g.chainOpen = false
			g.passUntil = time.Time{}
			if g.visionGateEnabled() {
				g.setAttention(AttentionDistanceRequired)
			}
			return
		}
	}

	if g.settings.Muted || g.session.PipelineActive() || g.session.Streaming() || g.pausedUntilCycleEnd {
		return
	}

	if !g.settings.DistanceEnabled {
		// Vision-only mode: keep glancing so a confirmed face can open an
		// engaged window without a distance trigger. With wake word enabled
		// the glance is requested on detection instead.
		if !g.settings.WakeWordEnabled && g.visionGateEnabled() && g.pendingID == "" {
			if !now.Before(g.cooldownUntil) {
				g.sendGlance(now, "vision_only")
			} else {
				g.setAttention(AttentionVisionCooldown)
			}
		}
		g.latched = false
		g.chainOpen = false
		return
	}

	if g.latched {
		if !g.chainOpen {
			// Still in range since the last admission. No second trigger
			// until the reading leaves range.
			return
		}
	} else {
		if now.Sub(g.lastTrigger) < g.settings.Refractory {
			return
		}
		g.lastTrigger = now
		g.latched = true
		g.chainOpen = true
	}

	if !g.visionGateEnabled() {
		g.completeDetectionChain(now, "distance_only")
		return
	}

	if !now.After(g.passUntil) {
		g.completeDetectionChain(now, "attention")
		return
	}

	if g.pendingID == "" {
		if now.Before(g.cooldownUntil) {
			g.setAttention(AttentionVisionCooldown)
			return
		}
		g.sendGlance(now, "distance_activation")
	}
}

// WakeWordAllowed pre-checks the wake-word admission prerequisites: distance
// in range when distance activation is on, and a passed attention gate when
// vision is on. A false return may have started a glance whose acceptance
// opens the pass window for the next detection.
func (g *Gate) WakeWordAllowed() bool {
	now := g.now()

	if g.settings.DistanceEnabled && !g.distanceInRange() {
		g.setAttention(AttentionDistanceRequired)
		return false
	}

	if !g.visionGateEnabled() {
		return true
	}

	if !now.After(g.passUntil) {
		return true
	}

	if g.pendingID == "" {
		if !now.Before(g.cooldownUntil) {
			g.sendGlance(now, "wake_word_gate")
		} else {
			g.setAttention(AttentionVisionCooldown)
		}
	}
	return false
}

// HandleGlanceResult consumes a VISION_GLANCE_RESULT from the bus. Results
// whose request id does not match the pending request are stale or
// duplicate and are ignored.
func (g *Gate) HandleGlanceResult(res GlanceResult) {
	now := g.now()

	id := strings.TrimSpace(res.RequestID)
	if id == "" || id != g.pendingID {
		log.Debug("ignoring stale vision result", "request_id", id)
		return
	}

	g.pendingID = ""
	g.cooldownUntil = now.Add(g.settings.VisionCooldown)

	state := strings.ToUpper(strings.TrimSpace(res.State))
	g.lastVisionLatency = time.Duration(math.Max(0, res.LatencyMS) * float64(time.Millisecond))
	g.lastVisionError = strings.TrimSpace(res.Error)

	if g.lastVisionError != "" {
		g.passUntil = time.Time{}
		g.setAttention(AttentionVisionError)
		if g.settings.AttentionRequired {
			g.counters.VisionTimeouts++
			g.counters.FalseTriggersPrevented++
		} else {
			g.completeDetectionChain(now, "vision_error_fallback")
		}
		log.Info("vision glance failed", "request_id", id, "error", g.lastVisionError)
		return
	}

	var accepted bool
	if g.settings.AttentionRequired {
		accepted = state == AttentionFaceToward && res.Confidence >= g.settings.VisionMinConfidence
	} else {
		// Relaxed mode: any detected face counts, toward or away.
		accepted = state == AttentionFaceToward || state == AttentionFaceAway
	}

	acceptedState := state
	if state != AttentionFaceToward && state != AttentionFaceAway {
		acceptedState = AttentionFaceToward
	}

	if accepted {
		if g.rearmRequired {
			// The current distance session already consumed an accept;
			// suppress until the cycle ends.
			g.setAttention(acceptedState)
			log.Debug("vision accept ignored until cycle end", "request_id", id)
			return
		}
		g.counters.VisionSuccesses++
		window := g.settings.EngagedVADWindow
		if window < time.Second {
			window = time.Second
		}
		g.passUntil = now.Add(window)
		g.setAttention(acceptedState)
		g.completeDetectionChain(now, "attention")
		if g.session.Streaming() && g.session.ActiveTrigger() == TriggerDistance {
			g.pausedUntilCycleEnd = true
			g.pauseDeadline = now.Add(visionPauseCeiling)
			g.rearmRequired = true
		}
		log.Info("vision glance accepted",
			"request_id", id,
			"confidence", res.Confidence,
			"successes", g.counters.VisionSuccesses)
		return
	}

	g.passUntil = time.Time{}
	if state == "" {
		state = AttentionNoFace
	}
	g.setAttention(state)
	if strings.HasPrefix(state, "NO_") {
		g.rearmRequired = false
	}
	if g.settings.AttentionRequired {
		g.counters.FalseTriggersPrevented++
	} else {
		g.completeDetectionChain(now, "distance_only")
	}
	log.Info("vision glance rejected",
		"request_id", id,
		"state", state,
		"confidence", res.Confidence,
		"prevented", g.counters.FalseTriggersPrevented)
}

// completeDetectionChain finishes the admission chain once every enabled
// prerequisite has passed.
func (g *Gate) completeDetectionChain(now time.Time, reason string) {
	g.chainOpen = false

	if !g.settings.WakeWordEnabled && !g.settings.DistanceEnabled {
		if reason == "attention" {
			g.beginEngagedWindow(now, reason)
			if g.session.Streaming() {
				return
			}
		}
		g.engagedDeadline = time.Time{}
		g.setAttention(AttentionIdle)
		return
	}

	if g.settings.WakeWordEnabled {
		// The wake-word callback path owns the final admission.
		g.engagedDeadline = time.Time{}
		g.setAttention(AttentionWaitWakeWord)
		return
	}

	g.beginEngagedWindow(now, reason)
}

// beginEngagedWindow opens a distance-tagged session and arms the VAD
// deadline: voice activity must be observed before it expires.
func (g *Gate) beginEngagedWindow(now time.Time, reason string) {
	if !g.session.StartDirectListening(TriggerDistance) {
		return
	}
	window := g.settings.EngagedVADWindow
	if window < 500*time.Millisecond {
		window = 500 * time.Millisecond
	}
	g.engagedDeadline = now.Add(window)
	g.setAttention("ENGAGED_" + strings.ToUpper(reason))
}

func (g *Gate) sendGlance(now time.Time, reason string) {
	if g.requestGlance == nil {
		g.lastVisionError = "bus_unavailable"
		g.setAttention(AttentionVisionUnavailable)
		g.completeDetectionChain(now, "distance_only")
		return
	}

	requestID := "vg-" + uuid.NewString()
	g.pendingID = requestID
	g.glanceSentAt = now
	g.counters.VisionRequests++
	g.lastVisionError = ""
	g.setAttention(AttentionVisionGlance)
	g.requestGlance(requestID, reason)
	log.Info("vision glance requested",
		"request_id", requestID,
		"reason", reason,
		"requests", g.counters.VisionRequests)
}

// ConfirmVoiceActivity is called when the backend reports VAD start for a
// distance-triggered session: the engaged window closed successfully.
func (g *Gate) ConfirmVoiceActivity() {
	g.engagedDeadline = time.Time{}
	g.setAttention(AttentionListening)
}

// SessionEnded is called on run end; the mid-conversation trigger pause is
// lifted.
func (g *Gate) SessionEnded() {
	g.pausedUntilCycleEnd = false
	g.pauseDeadline = time.Time{}
	g.engagedDeadline = time.Time{}
}

// CancelCycle is called on an explicit cancel command.
func (g *Gate) CancelCycle() {
	g.pausedUntilCycleEnd = false
	g.pauseDeadline = time.Time{}
	g.rearmRequired = false
}

// Reset clears every latch and in-flight wait; called on backend disconnect.
func (g *Gate) Reset() {
	g.latched = false
	g.chainOpen = false
	g.pendingID = ""
	g.passUntil = time.Time{}
	g.rearmRequired = false
	g.pausedUntilCycleEnd = false
	g.pauseDeadline = time.Time{}
	g.engagedDeadline = time.Time{}
}

func (g *Gate) visionGateEnabled() bool {
	// AttentionRequired only changes acceptance strictness, not whether
	// the gate runs.
	return g.settings.VisionEnabled
}

func (g *Gate) distanceInRange() bool {
	if !g.settings.DistanceEnabled {
		return true
	}
	return g.distanceOK && g.distanceMM <= math.Max(1, g.settings.DistanceThresholdMM)
}

// GateStatus is a diagnostics snapshot of the gate.
type GateStatus struct {
	Attention           string   `json:"attention"`
	DistanceMM          *float64 `json:"distance_mm"`
	Latched             bool     `json:"latched"`
	GlancePending       bool     `json:"glance_pending"`
	VisionSearching     bool     `json:"vision_searching"`
	FacePresent         bool     `json:"face_present"`
	LastVisionError     string   `json:"last_vision_error,omitempty"`
	LastVisionLatencyMS float64  `json:"last_vision_latency_ms"`
	Counters            Counters `json:"counters"`
}

// Status reports the current gate state for diagnostics.
func (g *Gate) Status() GateStatus {
	now := g.now()
	st := GateStatus{
		Attention:           g.attention,
		Latched:             g.latched,
		GlancePending:       g.pendingID != "",
		LastVisionError:     g.lastVisionError,
		LastVisionLatencyMS: float64(g.lastVisionLatency) / float64(time.Millisecond),
		Counters:            g.counters,
	}
	if g.distanceOK {
		mm := g.distanceMM
		st.DistanceMM = &mm
	}
	st.FacePresent = g.attention == AttentionFaceToward ||
		g.attention == "ENGAGED_ATTENTION" ||
		!now.After(g.passUntil)
	if g.visionGateEnabled() {
		st.VisionSearching = g.pendingID != "" || now.Before(g.cooldownUntil)
	}
	return st
}
