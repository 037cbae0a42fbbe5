// Package convai speaks the ElevenLabs Conversational AI websocket protocol:
// a typed JSON event stream in both directions plus a pool of pre-warmed
// conversation sockets.
package convai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventType enumerates the known server event kinds.
type EventType string

const (
	EventConversationMetadata EventType = "conversation_initiation_metadata"
	EventAudio                EventType = "audio"
	EventAgentResponse        EventType = "agent_response"
	EventUserTranscript       EventType = "user_transcript"
	EventInterruption         EventType = "interruption"
	EventPing                 EventType = "ping"
	EventVADScore             EventType = "vad_score"
	EventUnknown              EventType = "unknown"
)

// ServerEvent is one decoded message from the agent. Only the fields for the
// event's Type are populated.
type ServerEvent struct {
	Type    EventType
	RawType string // wire value, kept for unknown types

	// conversation_initiation_metadata
	AgentOutputFormat string
	UserInputFormat   string

	// audio
	Audio   []byte
	EventID int

	// agent_response / user_transcript
	Text string

	// ping
	PingMs int

	// vad_score
	VADScore float64
}

// Wire structures. The server nests each event's payload under a
// "<type>_event" object next to the type tag.
type serverMessage struct {
	Type     string `json:"type"`
	Metadata *struct {
		AgentOutputAudioFormat string `json:"agent_output_audio_format"`
		UserInputAudioFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event"`
	Audio *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int    `json:"event_id"`
	} `json:"audio_event"`
	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event"`
	UserTranscription *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event"`
	Interruption *struct {
		EventID int `json:"event_id"`
	} `json:"interruption_event"`
	Ping *struct {
		EventID int `json:"event_id"`
		PingMs  int `json:"ping_ms"`
	} `json:"ping_event"`
	VADScore *struct {
		VADScore float64 `json:"vad_score"`
	} `json:"vad_score_event"`
}

// ParseServerEvent decodes one raw websocket frame. Unknown event types are
// not an error; they come back with Type == EventUnknown so callers can log
// and move on.
func ParseServerEvent(raw []byte) (*ServerEvent, error) {
	var m serverMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("malformed agent event: %w", err)
	}

	ev := &ServerEvent{RawType: m.Type}
	switch EventType(m.Type) {
	case EventConversationMetadata:
		ev.Type = EventConversationMetadata
		if m.Metadata != nil {
			ev.AgentOutputFormat = m.Metadata.AgentOutputAudioFormat
			ev.UserInputFormat = m.Metadata.UserInputAudioFormat
		}
	case EventAudio:
		ev.Type = EventAudio
		if m.Audio == nil {
			return nil, fmt.Errorf("audio event without audio_event payload")
		}
		audio, err := base64.StdEncoding.DecodeString(m.Audio.AudioBase64)
		if err != nil {
			return nil, fmt.Errorf("audio event payload: %w", err)
		}
		ev.Audio = audio
		ev.EventID = m.Audio.EventID
	case EventAgentResponse:
		ev.Type = EventAgentResponse
		if m.AgentResponse != nil {
			ev.Text = m.AgentResponse.AgentResponse
		}
	case EventUserTranscript:
		ev.Type = EventUserTranscript
		if m.UserTranscription != nil {
			ev.Text = m.UserTranscription.UserTranscript
		}
	case EventInterruption:
		ev.Type = EventInterruption
		if m.Interruption != nil {
			ev.EventID = m.Interruption.EventID
		}
	case EventPing:
		ev.Type = EventPing
		if m.Ping != nil {
			ev.EventID = m.Ping.EventID
			ev.PingMs = m.Ping.PingMs
		}
	case EventVADScore:
		ev.Type = EventVADScore
		if m.VADScore != nil {
			ev.VADScore = m.VADScore.VADScore
		}
	default:
		ev.Type = EventUnknown
	}
	return ev, nil
}

// InitiationMessage opens a conversation. DynamicVariables must contain every
// key the agent template references; the server rejects missing keys, so
// values default to "" rather than being omitted.
type InitiationMessage struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

// NewInitiationMessage wraps a complete dynamic-variable map.
func NewInitiationMessage(vars map[string]string) InitiationMessage {
	return InitiationMessage{Type: "conversation_initiation_client_data", DynamicVariables: vars}
}

// AudioChunk carries one user audio frame. Audio chunks are the only client
// message without a type tag.
type AudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// NewAudioChunk base64-encodes a PCM frame for the wire.
func NewAudioChunk(pcm []byte) AudioChunk {
	return AudioChunk{UserAudioChunk: base64.StdEncoding.EncodeToString(pcm)}
}

// Pong answers a ping, echoing its event id.
type Pong struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// NewPong builds the reply for a ping event id.
func NewPong(eventID int) Pong {
	return Pong{Type: "pong", EventID: eventID}
}

// UserActivity tells the agent the caller started speaking.
type UserActivity struct {
	Type string `json:"type"`
}

// NewUserActivity builds the activity signal.
func NewUserActivity() UserActivity {
	return UserActivity{Type: "user_activity"}
}
