package homeapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Common errors returned by the client.
var (
	ErrNotConnected = errors.New("homeapi: not connected")
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Client is the websocket implementation of Session. One Client owns one
// connection to the assistant backend; the daemon reconnects by calling
// Connect again after OnDisconnect fires.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	callbacks Callbacks

	connMu    sync.Mutex
	conn      *websocket.Conn
	connected bool

	cancel context.CancelFunc
}

// NewClient creates a client for the backend at url. name identifies this
// satellite in the connection handshake query.
func NewClient(url, name string) *Client {
	return &Client{
		url:    url,
		name:   name,
		logger: slog.Default().With("component", "homeapi"),
	}
}

// SetCallbacks installs the session callbacks. Must be called before Connect.
func (c *Client) SetCallbacks(cb Callbacks) {
	c.callbacks = cb
}

// Connect establishes the websocket connection and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	headers := http.Header{}
	headers.Set("X-Satellite-Name", c.name)

	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		cancel()
		if resp != nil {
			return fmt.Errorf("homeapi: dial %s (status %d): %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("homeapi: dial %s: %w", c.url, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	c.logger.Info("connected to backend", "url", c.url)
	if c.callbacks.OnConnect != nil {
		c.callbacks.OnConnect()
	}

	go c.readLoop(ctx)
	return nil
}

// Connected reports whether the session is established.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connected
}

// Close tears down the connection without firing OnDisconnect.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// StartConversation opens a capture session.
func (c *Client) StartConversation(opts StartOptions) error {
	return c.send(TypeVoiceRequest, VoiceRequest{
		Start:          true,
		WakeWordPhrase: opts.WakeWordPhrase,
		UseVAD:         opts.UseVAD,
	})
}

// StopConversation closes the capture session.
func (c *Client) StopConversation() error {
	return c.send(TypeVoiceRequest, VoiceRequest{Start: false})
}

// WriteAudio sends one microphone chunk to the backend.
func (c *Client) WriteAudio(chunk []byte) error {
	return c.send(TypeAudio, AudioFrame{
		Data: base64.StdEncoding.EncodeToString(chunk),
	})
}

// AnnounceFinished acknowledges completed announcement playback.
func (c *Client) AnnounceFinished() error {
	return c.send(TypeAnnounceFinished, nil)
}

func (c *Client) send(msgType MessageType, data interface{}) error {
	env, err := NewEnvelope(msgType, data)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("homeapi: write %s: %w", msgType, err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("backend read failed", "error", err)
			}
			c.handleDisconnect(err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("dropping invalid backend packet", "error", err)
			continue
		}
		c.dispatch(&env)
	}
}

func (c *Client) dispatch(env *Envelope) {
	switch env.Type {
	case TypeVoiceEvent:
		var ev PipelineEvent
		if err := env.ParseData(&ev); err != nil {
			c.logger.Warn("bad voice_event payload", "error", err)
			return
		}
		if c.callbacks.OnPipelineEvent != nil {
			c.callbacks.OnPipelineEvent(ev)
		}

	case TypeAnnounce:
		var req AnnounceRequest
		if err := env.ParseData(&req); err != nil {
			c.logger.Warn("bad announce payload", "error", err)
			return
		}
		if c.callbacks.OnAnnounce != nil {
			c.callbacks.OnAnnounce(req)
		}

	case TypeTimerEvent:
		var ev TimerEvent
		if err := env.ParseData(&ev); err != nil {
			c.logger.Warn("bad timer_event payload", "error", err)
			return
		}
		if c.callbacks.OnTimerEvent != nil {
			c.callbacks.OnTimerEvent(ev)
		}

	default:
		c.logger.Debug("ignoring unknown backend message", "type", env.Type)
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if wasConnected && c.callbacks.OnDisconnect != nil {
		c.callbacks.OnDisconnect(err)
	}
}
