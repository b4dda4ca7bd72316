// satellited is the voice-satellite control daemon: it fuses the local
// trigger sources, drives the assistant session, and exposes the control
// socket and the diagnostics server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ohf-voice/go-satellite/internal/config"
	"github.com/ohf-voice/go-satellite/internal/log"
	"github.com/ohf-voice/go-satellite/pkg/audio"
	"github.com/ohf-voice/go-satellite/pkg/busipc"
	"github.com/ohf-voice/go-satellite/pkg/distance"
	"github.com/ohf-voice/go-satellite/pkg/homeapi"
	"github.com/ohf-voice/go-satellite/pkg/satellite"
	"github.com/ohf-voice/go-satellite/pkg/wakeword"
	"github.com/ohf-voice/go-satellite/pkg/web"
)

const reconnectInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", "/etc/satellite/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "satellited: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Init(cfg.LogLevel)
	log.Info("satellited starting", "name", cfg.Name, "backend", cfg.BackendURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.IPCDir, 0o755); err != nil {
		return fmt.Errorf("create ipc dir: %w", err)
	}

	bus, err := busipc.NewEndpoint(cfg.IPCDir, busipc.ControlSocket, "satellited")
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer bus.Close()

	var reader distance.Reader = distance.NoSensor{}
	if cfg.DistanceSensorPath != "" {
		reader = distance.NewIIOReader(cfg.DistanceSensorPath, 1)
	} else if cfg.Triggers.DistanceEnabled {
		log.Warn("distance trigger enabled without a sensor path; readings will stay out of range")
	}

	music := audio.NewMPVPlayer(cfg.AudioDevice, cfg.IPCDir, "music")
	announce := audio.NewMPVPlayer(cfg.AudioDevice, cfg.IPCDir, "announce")
	defer music.Stop()
	defer announce.Stop()

	backend := homeapi.NewClient(cfg.BackendURL, cfg.Name)
	defer backend.Close()

	// The web server publishes engine events, and the engine needs the
	// publisher at construction time; bridge the cycle through a variable
	// that is set before Run starts delivering events.
	var server *web.Server
	engine := satellite.New(satellite.Deps{
		Config:   cfg,
		Backend:  backend,
		Bus:      bus,
		Reader:   reader,
		Music:    music,
		Announce: announce,
		Bridge:   wakeword.NewBridge(0),
		System:   satellite.NewSystemControl(cfg.SystemVolumeDevice, cfg.SystemVolumeControl),
		Broadcast: func(event string, data map[string]any) {
			if server != nil {
				server.PublishEvent(event, data)
			}
		},
	})
	server = web.NewServer(engine, strconv.Itoa(cfg.WebPort))

	backend.SetCallbacks(engine.Callbacks())
	go maintainBackend(ctx, backend)

	go func() {
		if err := server.Run(ctx); err != nil {
			log.Error("diagnostics server failed", "error", err)
		}
	}()

	err = engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("satellited stopped")
		return nil
	}
	return err
}

// maintainBackend keeps one backend session alive, redialing after
// disconnects until ctx is cancelled.
func maintainBackend(ctx context.Context, backend *homeapi.Client) {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		if !backend.Connected() {
			if err := backend.Connect(ctx); err != nil {
				log.Warn("backend connection failed, retrying", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
