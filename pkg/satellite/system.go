package satellite

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/ohf-voice/go-satellite/internal/log"
)

var (
	volumeRe  = regexp.MustCompile(`\[(\d{1,3})%\]`)
	controlRe = regexp.MustCompile(`Simple mixer control '([^']+)',\d+`)
)

// volumeFallbacks are tried in order when the configured mixer control does
// not exist on the device.
var volumeFallbacks = []string{"Master", "Speaker", "PCM", "Capture"}

// SystemControl adjusts the ALSA system volume and runs power actions.
// Failures are logged and swallowed; the user just sees no state change.
type SystemControl struct {
	device  string
	control string

	// overridable for tests
	run func(name string, arg ...string) ([]byte, error)
}

// NewSystemControl creates a controller for the given ALSA device and mixer
// control. Empty device uses the default card; empty control defaults to
// Master with automatic fallback.
func NewSystemControl(device, control string) *SystemControl {
	if control == "" {
		control = "Master"
	}
	return &SystemControl{
		device:  device,
		control: control,
		run: func(name string, arg ...string) ([]byte, error) {
			return exec.Command(name, arg...).CombinedOutput()
		},
	}
}

// Volume reads the current system volume percentage, or 0 when it cannot be
// determined.
func (s *SystemControl) Volume() int {
	control := s.resolveControl()
	out, err := s.run("amixer", s.amixerArgs("sget", control)...)
	if err != nil {
		log.Warn("unable to read system volume", "control", control, "error", err)
		return 0
	}
	if m := volumeRe.FindSubmatch(out); m != nil {
		v, _ := strconv.Atoi(string(m[1]))
		return clampPercent(v)
	}
	log.Warn("unable to parse system volume", "control", control)
	return 0
}

// SetVolume sets the system volume percentage, reporting success.
func (s *SystemControl) SetVolume(percent int) bool {
	target := clampPercent(percent)
	control := s.resolveControl()
	if _, err := s.run("amixer", s.amixerArgs("sset", control, fmt.Sprintf("%d%%", target))...); err != nil {
		log.Warn("unable to set system volume", "target", target, "control", control, "error", err)
		return false
	}
	return true
}

// AdjustVolume applies a relative step and returns the resulting volume.
func (s *SystemControl) AdjustVolume(step int) int {
	current := s.Volume()
	target := clampPercent(current + step)
	if target != current && s.SetVolume(target) {
		log.Debug("system volume adjusted", "volume", target)
		return target
	}
	return current
}

// resolveControl probes the configured mixer control and falls back to a
// known-good one when it is missing.
func (s *SystemControl) resolveControl() string {
	if _, err := s.run("amixer", s.amixerArgs("sget", s.control)...); err == nil {
		return s.control
	}

	available := s.listControls()
	for _, name := range volumeFallbacks {
		for _, have := range available {
			if name == have {
				if name != s.control {
					log.Warn("mixer control not available, using fallback",
						"configured", s.control, "fallback", name)
					s.control = name
				}
				return name
			}
		}
	}
	if len(available) > 0 {
		s.control = available[0]
		return s.control
	}
	return s.control
}

func (s *SystemControl) listControls() []string {
	out, err := s.run("amixer", s.amixerArgs("scontrols")...)
	if err != nil {
		return nil
	}
	var controls []string
	for _, m := range controlRe.FindAllSubmatch(out, -1) {
		controls = append(controls, string(m[1]))
	}
	return controls
}

func (s *SystemControl) amixerArgs(action string, extra ...string) []string {
	var args []string
	if s.device != "" {
		args = append(args, "-D", s.device)
	}
	args = append(args, action)
	return append(args, extra...)
}

// Shutdown powers the device off.
func (s *SystemControl) Shutdown() { s.systemctl("poweroff") }

// Reboot restarts the device.
func (s *SystemControl) Reboot() { s.systemctl("reboot") }

// systemctl tries the passwordless-sudo form first, then a plain call for
// setups where the daemon user has the needed polkit rights.
func (s *SystemControl) systemctl(action string) {
	attempts := [][]string{
		{"sudo", "-n", "systemctl", action},
		{"systemctl", action},
	}
	var lastErr error
	for _, cmd := range attempts {
		if _, err := s.run(cmd[0], cmd[1:]...); err == nil {
			log.Info("system action executed", "action", action)
			return
		} else {
			lastErr = err
		}
	}
	log.Error("system action failed", "action", action, "error", lastErr)
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
