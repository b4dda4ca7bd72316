// Package audio provides media playback for the satellite. Two players are
// used at runtime: one for background music, one for announcements/TTS.
// Playback runs in an mpv subprocess; live volume changes (ducking) go over
// mpv's JSON IPC socket.
package audio

import (
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/ohf-voice/go-satellite/internal/log"
)

// Player is the playback surface the session lifecycle drives. Callers
// never touch player internals directly; all mutation goes through these
// methods (shared-resource rule).
type Player interface {
	// Play replaces any current playback with the given URLs, played in
	// order. done is invoked exactly once when the last item finishes
	// naturally; it is not invoked when playback is stopped or replaced.
	Play(urls []string, done func())

	// Stop cancels playback without invoking the done callback.
	Stop()

	// Pause suspends playback; Resume continues it.
	Pause()
	Resume()

	// Duck lowers volume for assistant interaction; Unduck restores it.
	Duck()
	Unduck()

	// SetVolume sets the playback volume (0-100). Duck volume follows at
	// half of the configured value.
	SetVolume(percent int)

	// IsPlaying reports whether something is currently playing.
	IsPlaying() bool
}

// MPVPlayer plays media with an mpv subprocess.
type MPVPlayer struct {
	device  string
	ipcPath string

	mu      sync.Mutex
	cmd     *exec.Cmd
	playing bool
	gen     int // playback generation; guards stale done callbacks

	volume       int
	duckVolume   int
	unduckVolume int

	// overridable for tests
	execCommand func(name string, arg ...string) *exec.Cmd
}

// NewMPVPlayer creates a player. device selects the audio output (mpv
// --audio-device syntax, e.g. "alsa/default"); empty uses the default.
// ipcDir hosts the per-player mpv IPC socket; name keeps the two players'
// sockets apart.
func NewMPVPlayer(device, ipcDir, name string) *MPVPlayer {
	return &MPVPlayer{
		device:       device,
		ipcPath:      filepath.Join(ipcDir, name+"-mpv.sock"),
		volume:       100,
		duckVolume:   50,
		unduckVolume: 100,
		execCommand:  exec.Command,
	}
}

// Play implements Player.
func (p *MPVPlayer) Play(urls []string, done func()) {
	if len(urls) == 0 {
		if done != nil {
			done()
		}
		return
	}

	p.mu.Lock()
	p.stopLocked()
	p.gen++
	gen := p.gen

	args := []string{
		"--no-video",
		"--really-quiet",
		fmt.Sprintf("--volume=%d", p.volume),
		fmt.Sprintf("--input-ipc-server=%s", p.ipcPath),
	}
	if p.device != "" {
		args = append(args, "--audio-device="+p.device)
	}
	args = append(args, urls...)

	cmd := p.execCommand("mpv", args...)
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		log.Warn("playback failed to start", "urls", urls, "error", err)
		return
	}
	p.cmd = cmd
	p.playing = true
	p.mu.Unlock()

	log.Debug("playing", "urls", urls)

	go p.wait(gen, cmd, done)
}

func (p *MPVPlayer) wait(gen int, cmd *exec.Cmd, done func()) {
	err := cmd.Wait()

	p.mu.Lock()
	if gen != p.gen {
		// Replaced or stopped; the newer playback owns the state.
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.cmd = nil
	p.mu.Unlock()

	if err != nil {
		log.Debug("playback process exited", "error", err)
	}
	if done != nil {
		done()
	}
}

// Stop implements Player.
func (p *MPVPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// stopLocked kills the current playback without invoking its callback.
// Caller must hold mu.
func (p *MPVPlayer) stopLocked() {
	p.gen++
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.cmd = nil
	p.playing = false
}

// Pause implements Player.
func (p *MPVPlayer) Pause() {
	p.signal(syscall.SIGSTOP)
}

// Resume implements Player.
func (p *MPVPlayer) Resume() {
	p.signal(syscall.SIGCONT)
}

func (p *MPVPlayer) signal(sig syscall.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(sig)
	}
}

// Duck implements Player.
func (p *MPVPlayer) Duck() {
	p.mu.Lock()
	p.volume = p.duckVolume
	vol := p.volume
	p.mu.Unlock()
	p.setLiveVolume(vol)
}

// Unduck implements Player.
func (p *MPVPlayer) Unduck() {
	p.mu.Lock()
	p.volume = p.unduckVolume
	vol := p.volume
	p.mu.Unlock()
	p.setLiveVolume(vol)
}

// SetVolume implements Player.
func (p *MPVPlayer) SetVolume(percent int) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	p.mu.Lock()
	p.unduckVolume = percent
	p.duckVolume = percent / 2
	p.volume = percent
	p.mu.Unlock()
	p.setLiveVolume(percent)
}

// IsPlaying implements Player.
func (p *MPVPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// setLiveVolume adjusts the running mpv instance over its IPC socket.
// Fire-and-forget: a dead or absent socket just means nothing is playing.
func (p *MPVPlayer) setLiveVolume(percent int) {
	conn, err := net.Dial("unix", p.ipcPath)
	if err != nil {
		return
	}
	defer conn.Close()
	fmt.Fprintf(conn, `{"command":["set_property","volume",%d]}`+"\n", percent)
}
