// Package homeapi speaks the message-oriented session protocol between the
// satellite and the remote assistant backend. The wire encoding is a typed
// JSON envelope over a websocket; the rest of the system only sees the typed
// events and requests defined here.
package homeapi

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of a protocol envelope.
type MessageType string

const (
	// Satellite → backend
	TypeVoiceRequest     MessageType = "voice_request"     // start/stop capture
	TypeAudio            MessageType = "audio"             // microphone audio frame
	TypeAnnounceFinished MessageType = "announce_finished" // announcement playback done

	// Backend → satellite
	TypeVoiceEvent MessageType = "voice_event" // pipeline event
	TypeAnnounce   MessageType = "announce"    // play an announcement
	TypeTimerEvent MessageType = "timer_event" // assistant timer update
)

// Envelope is the base wrapper for all protocol messages.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope creates an envelope with the current timestamp.
func NewEnvelope(msgType MessageType, data interface{}) (*Envelope, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("homeapi: marshal %s: %w", msgType, err)
		}
	}
	return &Envelope{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the envelope data into the provided struct.
func (e *Envelope) ParseData(v interface{}) error {
	if e.Data == nil {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// EventType identifies a pipeline event emitted by the backend while a
// voice run is in flight.
type EventType string

const (
	EventRunStart       EventType = "run_start"
	EventRunEnd         EventType = "run_end"
	EventIntentStart    EventType = "intent_start"
	EventIntentProgress EventType = "intent_progress"
	EventIntentEnd      EventType = "intent_end"
	EventSTTStart       EventType = "stt_start"
	EventSTTEnd         EventType = "stt_end"
	EventSTTVADStart    EventType = "stt_vad_start"
	EventSTTVADEnd      EventType = "stt_vad_end"
	EventTTSStart       EventType = "tts_start"
	EventTTSStreamStart EventType = "tts_stream_start"
	EventTTSEnd         EventType = "tts_end"
	EventError          EventType = "error"
)

// PipelineEvent is a single pipeline event with its string-valued metadata
// (e.g. "url" on tts_end, "tts_start_streaming" on intent_progress).
type PipelineEvent struct {
	Type EventType         `json:"event"`
	Data map[string]string `json:"data,omitempty"`
}

// Get returns the named metadata value or "".
func (ev PipelineEvent) Get(key string) string {
	return ev.Data[key]
}

// VoiceRequest asks the backend to start or stop a capture session.
type VoiceRequest struct {
	Start          bool   `json:"start"`
	WakeWordPhrase string `json:"wake_word_phrase,omitempty"`
	UseVAD         bool   `json:"use_vad,omitempty"` // backend detects voice start/end
}

// AudioFrame carries one microphone chunk (base64-encoded PCM16 mono).
type AudioFrame struct {
	Data string `json:"data"`
}

// AnnounceRequest asks the satellite to play an announcement outside of a
// wake-triggered run. PreannounceMediaID, when set, plays before MediaID.
type AnnounceRequest struct {
	Text               string `json:"text,omitempty"`
	MediaID            string `json:"media_id"`
	PreannounceMediaID string `json:"preannounce_media_id,omitempty"`
	StartConversation  bool   `json:"start_conversation,omitempty"`
}

// TimerEventType identifies assistant timer transitions.
type TimerEventType string

const (
	TimerStarted   TimerEventType = "started"
	TimerUpdated   TimerEventType = "updated"
	TimerCancelled TimerEventType = "cancelled"
	TimerFinished  TimerEventType = "finished"
)

// TimerEvent is an assistant timer update.
type TimerEvent struct {
	Type        TimerEventType `json:"event"`
	TimerID     string         `json:"timer_id,omitempty"`
	Name        string         `json:"name,omitempty"`
	SecondsLeft int            `json:"seconds_left,omitempty"`
}

// StartOptions configures a capture session start.
type StartOptions struct {
	// WakeWordPhrase is set when a wake word opened the session.
	WakeWordPhrase string

	// UseVAD asks the backend to run voice-activity detection; used for
	// distance/manual triggers that have no wake word.
	UseVAD bool
}

// Session is the satellite's handle on one backend connection. Implemented
// by Client; fakes implement it in tests.
type Session interface {
	// Connected reports whether the session is established.
	Connected() bool

	// StartConversation opens a capture session.
	StartConversation(opts StartOptions) error

	// StopConversation closes the capture session.
	StopConversation() error

	// WriteAudio sends one microphone chunk to the backend.
	WriteAudio(chunk []byte) error

	// AnnounceFinished acknowledges completed announcement playback.
	AnnounceFinished() error
}

// Callbacks groups the session callbacks for convenience.
type Callbacks struct {
	OnConnect       func()
	OnDisconnect    func(err error)
	OnPipelineEvent func(PipelineEvent)
	OnAnnounce      func(AnnounceRequest)
	OnTimerEvent    func(TimerEvent)
}
