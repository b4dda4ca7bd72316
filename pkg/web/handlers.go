package web

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/ohf-voice/go-satellite/pkg/hub"
)

// commands accepted over the HTTP surface; anything else is rejected before
// it reaches the engine.
var knownCommands = map[string]bool{
	"mute_toggle": true,
	"mute_on":     true,
	"mute_off":    true,
	"volume_up":   true,
	"volume_down": true,
	"manual_wake": true,
	"cancel":      true,
	"shutdown":    true,
	"reboot":      true,
}

// handleStatus returns the full engine snapshot.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

// handleCounters returns just the trigger-fusion counters.
func (s *Server) handleCounters(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status().Gate.Counters)
}

// handleGetEvents returns the buffered event history.
func (s *Server) handleGetEvents(c *fiber.Ctx) error {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	return c.JSON(s.events)
}

// handleCommand executes a named control command.
func (s *Server) handleCommand(c *fiber.Ctx) error {
	name := strings.ToLower(strings.TrimSpace(c.Params("name")))
	if !knownCommands[name] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown command: " + name,
		})
	}
	s.ctrl.Command(name)
	return c.JSON(fiber.Map{"command": name, "accepted": true})
}

// LEDRequest is the request body for LED adjustments; omitted fields are
// left unchanged.
type LEDRequest struct {
	Intensity *int  `json:"intensity"`
	NightMode *bool `json:"night_mode"`
}

// handleLED updates LED brightness and night mode.
func (s *Server) handleLED(c *fiber.Ctx) error {
	var req LEDRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid body: " + err.Error(),
		})
	}
	if req.Intensity == nil && req.NightMode == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "nothing to update",
		})
	}
	if req.Intensity != nil {
		s.ctrl.SetLEDIntensity(*req.Intensity)
	}
	if req.NightMode != nil {
		s.ctrl.SetLEDNightMode(*req.NightMode)
	}
	return c.JSON(fiber.Map{"accepted": true})
}

// handleStatusWS streams status snapshots; the current one is sent on
// connect.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	c.WriteJSON(s.ctrl.Status())
	hub.NewClient(s.statusHub, c).Run()
}

// handleEventsWS streams live bus events after replaying recent history.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	s.eventsMu.RLock()
	for _, entry := range s.events {
		c.WriteJSON(entry)
	}
	s.eventsMu.RUnlock()

	hub.NewClient(s.eventHub, c).Run()
}
