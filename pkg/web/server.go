// Package web serves the local diagnostics surface: status and counter
// snapshots, the command endpoint, and live status/event streams.
package web

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/ohf-voice/go-satellite/internal/log"
	"github.com/ohf-voice/go-satellite/pkg/hub"
	"github.com/ohf-voice/go-satellite/pkg/satellite"
)

// statusPushInterval is how often the live status stream is refreshed.
const statusPushInterval = time.Second

// maxEventBuffer bounds the replayable event history.
const maxEventBuffer = 500

// Controller is the slice of the engine the dashboard drives.
type Controller interface {
	Status() satellite.Status
	Command(cmd string)
	SetLEDIntensity(percent int)
	SetLEDNightMode(enabled bool)
}

// EventEntry is one bus event as shown in the dashboard history.
type EventEntry struct {
	Time  string         `json:"time"`
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Server is the diagnostics HTTP/websocket server.
type Server struct {
	app  *fiber.App
	ctrl Controller
	port string

	events   []EventEntry
	eventsMu sync.RWMutex

	statusHub *hub.Hub
	eventHub  *hub.Hub
}

// NewServer builds the server around an engine controller.
func NewServer(ctrl Controller, port string) *Server {
	s := &Server{
		ctrl:      ctrl,
		port:      port,
		events:    make([]EventEntry, 0, maxEventBuffer),
		statusHub: hub.New("status"),
		eventHub:  hub.New("events"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Satellite Diagnostics",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/counters", s.handleCounters)
	api.Get("/events", s.handleGetEvents)
	api.Post("/command/:name", s.handleCommand)
	api.Post("/led", s.handleLED)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// Run starts the hubs, the status push loop, and the listener. It returns
// when the listener fails or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run()
	go s.eventHub.Run()
	go s.pushStatus(ctx)

	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			log.Debug("web server shutdown", "error", err)
		}
	}()

	log.Info("diagnostics server listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// PublishEvent records a bus event and streams it to connected clients.
// Safe to call from any goroutine, including the engine's.
func (s *Server) PublishEvent(event string, data map[string]any) {
	entry := EventEntry{
		Time:  time.Now().Format("15:04:05"),
		Event: event,
		Data:  data,
	}

	s.eventsMu.Lock()
	s.events = append(s.events, entry)
	if len(s.events) > maxEventBuffer {
		s.events = s.events[1:]
	}
	s.eventsMu.Unlock()

	if err := s.eventHub.BroadcastJSON(entry); err != nil {
		log.Debug("event broadcast failed", "event", event, "error", err)
	}
}

// pushStatus refreshes the live status stream once a second while anyone
// is listening.
func (s *Server) pushStatus(ctx context.Context) {
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			s.statusHub.BroadcastJSON(s.ctrl.Status())
		}
	}
}
