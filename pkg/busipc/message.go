// Package busipc implements the local inter-process message bus used by the
// satellite core and its sibling processes (LED controller, front panel,
// vision daemon). Transport is unix datagram sockets: at-most-once delivery,
// FIFO within one socket pair, no ordering across sockets.
package busipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Well-known socket file names inside the IPC directory.
const (
	ControlSocket   = "control.sock"     // commands into the satellite core
	GPIOEventSocket = "gpio-events.sock" // events out to the LED/GPIO process
	VisionSocket    = "visd.sock"        // requests to the vision daemon
)

// LegacyEventType is the canonical type assigned to bare {"event": ...}
// packets from older sibling processes.
const LegacyEventType = "LEGACY_EVENT"

// Errors returned by Normalize. Callers drop the packet in both cases.
var (
	ErrNotObject = errors.New("busipc: packet is not a JSON object")
	ErrEmptyType = errors.New("busipc: message type is empty")
)

// Message is the uniform envelope every bus packet is normalized into.
// Type is upper-cased canonical; Timestamp is unix seconds.
type Message struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp float64        `json:"timestamp,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// New builds a Message with the current timestamp. The type is upper-cased.
func New(msgType string, payload map[string]any, source string) Message {
	return Message{
		Type:      strings.ToUpper(strings.TrimSpace(msgType)),
		Payload:   payload,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Source:    source,
	}
}

// Encode returns the compact JSON encoding of the message.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("busipc: encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Command derives the bare lowercase command string for command-style
// dispatch: payload.command when present, the lowercased type otherwise.
func (m Message) Command() string {
	if cmd, ok := m.Payload["command"].(string); ok {
		if cmd = strings.ToLower(strings.TrimSpace(cmd)); cmd != "" {
			return cmd
		}
	}
	return strings.ToLower(m.Type)
}

// String returns the payload value for key as a trimmed string.
func (m Message) String(key string) string {
	v, ok := m.Payload[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Float returns the payload value for key as a float64, or 0.
func (m Message) Float(key string) float64 {
	switch v := m.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		var f float64
		fmt.Sscanf(strings.TrimSpace(v), "%g", &f)
		return f
	default:
		return 0
	}
}

// Int returns the payload value for key rounded to an int, or 0.
func (m Message) Int(key string) int {
	return int(m.Float(key))
}

// Normalize parses a raw packet into the canonical envelope. Three shapes
// are accepted from the wire:
//
//	{"type": T, "payload": {...}, ...}   — canonical
//	{"cmd": C}                           — legacy command packet
//	{"event": E, ...}                    — legacy event packet
//
// Anything that is not a JSON object, or that normalizes to an empty type,
// is rejected and must be dropped by the caller.
func Normalize(raw []byte) (Message, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return Message{}, ErrNotObject
	}

	msg := Message{
		Timestamp: floatField(obj, "timestamp"),
		Source:    stringField(obj, "source"),
	}

	switch {
	case stringField(obj, "type") != "":
		msg.Type = strings.ToUpper(stringField(obj, "type"))
		if payload, ok := obj["payload"].(map[string]any); ok {
			msg.Payload = payload
		} else {
			msg.Payload = map[string]any{}
		}

	case stringField(obj, "cmd") != "":
		cmd := stringField(obj, "cmd")
		msg.Type = strings.ToUpper(cmd)
		msg.Payload = map[string]any{"command": strings.ToLower(cmd)}

	case stringField(obj, "event") != "":
		// Fold the event name and any extra fields into the payload.
		payload := make(map[string]any, len(obj))
		payload["event"] = stringField(obj, "event")
		for k, v := range obj {
			if k == "event" || k == "timestamp" || k == "source" {
				continue
			}
			payload[k] = v
		}
		msg.Type = LegacyEventType
		msg.Payload = payload

	default:
		return Message{}, ErrEmptyType
	}

	if msg.Type == "" {
		return Message{}, ErrEmptyType
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	return msg, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func floatField(obj map[string]any, key string) float64 {
	f, _ := obj[key].(float64)
	return f
}
