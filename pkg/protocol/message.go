// Package protocol implements the presence wire format: Phoenix-style JSON
// envelopes carried in websocket text frames.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TopicPrefix prefixes every canvas topic name.
const TopicPrefix = "presence:canvases:"

// ErrMalformed is returned by Decode for frames that are not valid envelopes.
var ErrMalformed = errors.New("malformed message")

// Event represents the event name of a message
type Event string

const (
	EventJoin         Event = "phx_join"
	EventLeave        Event = "phx_leave"
	EventUpdateMeta   Event = "update_meta"
	EventPing         Event = "ping"
	EventReply        Event = "phx_reply"
	EventRemoteJoin   Event = "remote_join"
	EventRemoteLeave  Event = "remote_leave"
	EventRemoteUpdate Event = "remote_update"
)

// String returns the wire name of the event
func (e Event) String() string {
	return string(e)
}

// Known reports whether e is one of the protocol's events.
func (e Event) Known() bool {
	switch e {
	case EventJoin, EventLeave, EventUpdateMeta, EventPing,
		EventReply, EventRemoteJoin, EventRemoteLeave, EventRemoteUpdate:
		return true
	default:
		return false
	}
}

// Message is a single protocol envelope
type Message struct {
	Event   Event
	Topic   string
	Payload json.RawMessage
	Ref     string
}

// wireMessage is the JSON shape of a Message. Pointer fields let Decode tell
// a missing key from an empty value.
type wireMessage struct {
	Event   *string         `json:"event"`
	Topic   *string         `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	Ref     json.RawMessage `json:"ref,omitempty"`
}

// NewMessage builds a message for a canvas, marshaling payload to JSON.
func NewMessage(event Event, canvasID string, payload any, ref string) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return Message{
		Event:   event,
		Topic:   TopicName(canvasID),
		Payload: data,
		Ref:     ref,
	}, nil
}

// Encode encodes the message into a JSON text frame
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m.toWire())
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode decodes a JSON text frame into the message. Frames without an event,
// a topic or an object payload are rejected with ErrMalformed.
func (m *Message) Decode(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to decode message: %w: %v", ErrMalformed, err)
	}
	if w.Event == nil || w.Topic == nil {
		return fmt.Errorf("failed to decode message: %w: missing event or topic", ErrMalformed)
	}
	if !isObject(w.Payload) {
		return fmt.Errorf("failed to decode message: %w: payload is not an object", ErrMalformed)
	}
	m.fromWire(&w)
	return nil
}

// CanvasID returns the canvas addressed by the message topic. The second
// result is false for topics outside the presence namespace.
func (m *Message) CanvasID() (string, bool) {
	return CanvasIDFromTopic(m.Topic)
}

// UnmarshalPayload decodes the payload into v.
func (m *Message) UnmarshalPayload(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Event, err)
	}
	return nil
}

// TopicName returns the topic for a canvas.
func TopicName(canvasID string) string {
	return TopicPrefix + canvasID
}

// CanvasIDFromTopic strips the presence prefix from a topic.
func CanvasIDFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, TopicPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func (m *Message) toWire() *wireMessage {
	event := string(m.Event)
	topic := m.Topic
	payload := m.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	ref, _ := json.Marshal(m.Ref)
	return &wireMessage{
		Event:   &event,
		Topic:   &topic,
		Payload: payload,
		Ref:     ref,
	}
}

// fromWire populates the message from a validated wireMessage.
// A ref that is not a string is treated as absent.
func (m *Message) fromWire(w *wireMessage) {
	m.Event = Event(*w.Event)
	m.Topic = *w.Topic
	m.Payload = append(json.RawMessage(nil), w.Payload...)
	m.Ref = ""
	if len(w.Ref) > 0 {
		var ref string
		if err := json.Unmarshal(w.Ref, &ref); err == nil {
			m.Ref = ref
		}
	}
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
