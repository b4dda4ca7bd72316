package busipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/ohf-voice/go-satellite/internal/log"
)

// Handler receives a normalized message envelope.
type Handler func(Message)

// CommandHandler receives a bare lowercase command string derived from a
// message (payload.command, or the lowercased type).
type CommandHandler func(cmd string)

// Endpoint is one process's connection to the local bus: an inbound bound
// datagram socket and fire-and-forget sends addressed by destination path.
// The inbound path is an exclusive resource; only one endpoint per process
// may bind it.
type Endpoint struct {
	dir    string
	path   string
	source string
	conn   *net.UnixConn

	mu         sync.Mutex
	msgHandler Handler
	cmdHandler CommandHandler
	listeners  map[int]Handler
	nextListen int

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewEndpoint binds the named socket inside dir and starts the receive loop.
// A stale socket file from a previous crash is removed before binding.
func NewEndpoint(dir, name, source string) (*Endpoint, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("busipc: create ipc dir %q: %w", dir, err)
	}
	// Sibling processes run under different users on the device.
	_ = os.Chmod(dir, 0o777)

	path := filepath.Join(dir, name)
	_ = os.Remove(path)

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("busipc: bind %q: %w", path, err)
	}
	_ = os.Chmod(path, 0o666)

	e := &Endpoint{
		dir:       dir,
		path:      path,
		source:    source,
		conn:      conn,
		listeners: map[int]Handler{},
		done:      make(chan struct{}),
	}

	e.wg.Add(1)
	go e.readLoop()

	log.Info("bus endpoint ready", "path", path, "source", source)
	return e, nil
}

// Path returns the bound socket path.
func (e *Endpoint) Path() string { return e.path }

// SetMessageHandler sets the handler receiving every valid inbound envelope.
func (e *Endpoint) SetMessageHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgHandler = h
}

// SetCommandHandler sets the handler receiving the derived command string
// for every valid inbound envelope.
func (e *Endpoint) SetCommandHandler(h CommandHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cmdHandler = h
}

// AddListener registers an in-process callback invoked synchronously for
// every locally emitted event, so a process can react to its own bus output
// without a socket round trip. Returns an id for RemoveListener.
func (e *Endpoint) AddListener(h Handler) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextListen++
	e.listeners[e.nextListen] = h
	return e.nextListen
}

// RemoveListener unregisters a listener added with AddListener.
func (e *Endpoint) RemoveListener(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, id)
}

// Send emits a fire-and-forget message to the socket at dest. A missing or
// unbound destination means the peer is not running and is silently
// dropped; Send never returns an error to the caller. In-process listeners
// are invoked synchronously with the same envelope before the socket write.
func (e *Endpoint) Send(dest, msgType string, payload map[string]any) {
	msg := New(msgType, payload, e.source)

	e.mu.Lock()
	listeners := make([]Handler, 0, len(e.listeners))
	for _, h := range e.listeners {
		listeners = append(listeners, h)
	}
	e.mu.Unlock()
	for _, h := range listeners {
		h(msg)
	}

	if dest == "" {
		return
	}

	data, err := msg.Encode()
	if err != nil {
		log.Warn("bus send encode failed", "type", msg.Type, "error", err)
		return
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: dest, Net: "unixgram"})
	if err != nil {
		// Peer not listening; expected when the companion process is down.
		log.Debug("bus peer unavailable", "dest", dest, "type", msg.Type)
		return
	}
	defer conn.Close()

	if _, err := conn.Write(data); err != nil {
		log.Debug("bus send failed", "dest", dest, "type", msg.Type, "error", err)
	}
}

// SendEvent emits a legacy-style named event to dest. The event name rides
// in the payload next to the caller's data, matching what the GPIO and
// front-panel processes expect.
func (e *Endpoint) SendEvent(dest, event string, data map[string]any) {
	payload := map[string]any{"event": event}
	for k, v := range data {
		payload[k] = v
	}
	e.Send(dest, LegacyEventType, payload)
}

// Close stops the receive loop and removes the socket file.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		err = e.conn.Close()
		e.wg.Wait()
		if rmErr := os.Remove(e.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("bus socket cleanup failed", "path", e.path, "error", rmErr)
		}
	})
	return err
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()

	buf := make([]byte, 64*1024)
	for {
		n, _, err := e.conn.ReadFromUnix(buf)
		if err != nil {
			select {
			case <-e.done:
				return
			default:
			}
			log.Warn("bus read failed", "path", e.path, "error", err)
			return
		}

		msg, err := Normalize(buf[:n])
		if err != nil {
			// Malformed packets are dropped, never crash the endpoint.
			log.Warn("dropping invalid bus packet", "path", e.path, "error", err)
			continue
		}

		e.mu.Lock()
		msgHandler := e.msgHandler
		cmdHandler := e.cmdHandler
		e.mu.Unlock()

		if msgHandler != nil {
			msgHandler(msg)
		}
		if cmdHandler != nil {
			cmdHandler(msg.Command())
		}
	}
}
