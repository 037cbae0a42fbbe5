// Package telephony covers the Twilio side of the bridge: the Media Streams
// websocket protocol and outbound call creation through the REST API.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Media Streams event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventClear     = "clear"
)

// Message is one Media Streams frame in either direction.
type Message struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
}

// StartPayload arrives once per stream and carries the call identity plus the
// custom parameters set in the TwiML <Stream>.
type StartPayload struct {
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// MediaPayload carries base64 µ-law audio.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// Parse decodes one inbound frame.
func Parse(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("malformed media stream message: %w", err)
	}
	return &m, nil
}

// Audio decodes the media payload of an inbound media message.
func (m *Message) Audio() ([]byte, error) {
	if m.Media == nil {
		return nil, fmt.Errorf("media message without payload")
	}
	return base64.StdEncoding.DecodeString(m.Media.Payload)
}

// MediaMessage builds an outbound playback frame.
func MediaMessage(streamSID string, audio []byte) Message {
	return Message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
}

// ClearMessage tells Twilio to discard audio it has already buffered for
// playback. Sent on interruption.
func ClearMessage(streamSID string) Message {
	return Message{Event: EventClear, StreamSID: streamSID}
}

// Conn is the telephony socket as the bridge sees it.
type Conn interface {
	WriteJSON(v any) error
}

// Writer serializes writes to a media-stream websocket; the drain loop and
// control messages share one socket and gorilla allows a single writer.
type Writer struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewWriter wraps an upgraded media-stream connection.
func NewWriter(ws *websocket.Conn) *Writer {
	return &Writer{ws: ws}
}

// WriteJSON sends one frame.
func (w *Writer) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ws.WriteJSON(v)
}
