package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client event types (relay → engine).
const (
	TypeSessionUpdate            = "session.update"
	TypeResponseCreate           = "response.create"
	TypeInputAudioBufferAppend   = "input_audio_buffer.append"
	TypeConversationItemTruncate = "conversation.item.truncate"
	TypeConversationItemCreate   = "conversation.item.create"
)

// Server event types (engine → relay).
const (
	TypeResponseAudioDelta        = "response.audio.delta"
	TypeResponseContentPartDone   = "response.content_part.done"
	TypeSpeechStarted             = "input_audio_buffer.speech_started"
	TypeSpeechStopped             = "input_audio_buffer.speech_stopped"
	TypeInputTranscriptCompleted  = "conversation.item.input_audio_transcription.completed"
	TypeFunctionCallArgumentsDone = "response.function_call_arguments.done"
	TypeError                     = "error"
	TypeRateLimitsUpdated         = "rate_limits.updated"
	TypeInputAudioBufferCommitted = "input_audio_buffer.committed"
	TypeSessionCreated            = "session.created"
	TypeSessionUpdated            = "session.updated"
	TypeResponseDone              = "response.done"
	TypeResponseContentDone       = "response.content.done"
)

// loggedTypes are server events that are reported but never acted on.
var loggedTypes = map[string]bool{
	TypeError:                     true,
	TypeResponseContentDone:       true,
	TypeRateLimitsUpdated:         true,
	TypeResponseDone:              true,
	TypeInputAudioBufferCommitted: true,
	TypeSpeechStopped:             true,
	TypeSpeechStarted:             true,
	TypeSessionCreated:            true,
}

// IsLogged reports whether an event type belongs to the fixed set the relay
// logs at info level.
func IsLogged(eventType string) bool {
	return loggedTypes[eventType]
}

// SessionUpdate configures the engine session.
type SessionUpdate struct {
	Type    string         `json:"type"`
	Session map[string]any `json:"session"`
}

// NewSessionUpdate wraps a session configuration object.
func NewSessionUpdate(session map[string]any) SessionUpdate {
	return SessionUpdate{Type: TypeSessionUpdate, Session: session}
}

// ResponseCreate asks the engine to begin a turn.
type ResponseCreate struct {
	Type string `json:"type"`
}

// NewResponseCreate returns a response.create event.
func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

// InputAudioBufferAppend forwards caller audio. Audio is base64, passed
// through unmodified.
type InputAudioBufferAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewInputAudioBufferAppend returns an input_audio_buffer.append event.
func NewInputAudioBufferAppend(audio string) InputAudioBufferAppend {
	return InputAudioBufferAppend{Type: TypeInputAudioBufferAppend, Audio: audio}
}

// ConversationItemTruncate discards assistant audio past AudioEndMS.
type ConversationItemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

// NewConversationItemTruncate returns a truncate event for the first
// content part of itemID.
func NewConversationItemTruncate(itemID string, audioEndMS int64) ConversationItemTruncate {
	return ConversationItemTruncate{
		Type:       TypeConversationItemTruncate,
		ItemID:     itemID,
		AudioEndMS: audioEndMS,
	}
}

// ConversationItemCreate adds an item to the conversation.
type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ConversationItem is a conversation message.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one part of a conversation message.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewUserText returns a conversation.item.create event carrying one user
// text message.
func NewUserText(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// ServerEvent is a parsed engine event.
type ServerEvent interface {
	EventType() string
}

// AudioDelta is one chunk of assistant audio.
type AudioDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

// ContentPartDone carries a finished assistant transcript fragment.
type ContentPartDone struct {
	ItemID     string
	Transcript string
}

// SpeechStarted reports caller voice activity on the input buffer.
type SpeechStarted struct {
	ItemID       string
	AudioStartMS int64
}

// InputTranscriptCompleted carries a finished caller transcript fragment.
type InputTranscriptCompleted struct {
	ItemID     string
	Transcript string
}

// FunctionCallArgumentsDone reports a completed function invocation.
type FunctionCallArgumentsDone struct {
	CallID    string
	Name      string
	Arguments string
}

// DecodeArguments decodes the JSON-encoded arguments. Empty arguments decode
// to an empty map.
func (e FunctionCallArgumentsDone) DecodeArguments() (map[string]any, error) {
	args := map[string]any{}
	if e.Arguments == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(e.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", e.Name, err)
	}
	return args, nil
}

// ErrorEvent is an engine-reported error.
type ErrorEvent struct {
	Code    string
	Kind    string
	Message string
}

// InfoEvent is an event the relay only logs.
type InfoEvent struct {
	Type string
}

// UnknownEvent is any event with an unrecognized type.
type UnknownEvent struct {
	Type string
}

func (AudioDelta) EventType() string                { return TypeResponseAudioDelta }
func (ContentPartDone) EventType() string           { return TypeResponseContentPartDone }
func (SpeechStarted) EventType() string             { return TypeSpeechStarted }
func (InputTranscriptCompleted) EventType() string  { return TypeInputTranscriptCompleted }
func (FunctionCallArgumentsDone) EventType() string { return TypeFunctionCallArgumentsDone }
func (ErrorEvent) EventType() string                { return TypeError }
func (e InfoEvent) EventType() string               { return e.Type }
func (e UnknownEvent) EventType() string            { return e.Type }

// ParseError reports a malformed engine event.
type ParseError struct {
	Type string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed realtime event: %v", e.Err)
	}
	return fmt.Sprintf("malformed %q realtime event: %v", e.Type, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errMissingField = errors.New("missing required field")

type serverMessage struct {
	Type       string       `json:"type"`
	ResponseID string       `json:"response_id,omitempty"`
	ItemID     string       `json:"item_id,omitempty"`
	CallID     string       `json:"call_id,omitempty"`
	Delta      *string      `json:"delta,omitempty"`
	Transcript *string      `json:"transcript,omitempty"`
	Name       string       `json:"name,omitempty"`
	Arguments  string       `json:"arguments,omitempty"`
	AudioStart int64        `json:"audio_start_ms,omitempty"`
	Part       *contentPart `json:"part,omitempty"`
	Content    *contentPart `json:"content,omitempty"`
	Error      *errorBody   `json:"error,omitempty"`
}

type contentPart struct {
	Type       string  `json:"type"`
	Transcript *string `json:"transcript,omitempty"`
	Text       *string `json:"text,omitempty"`
}

type errorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseServerEvent decodes one engine event. Required fields are checked
// strictly; unrecognized types yield an UnknownEvent.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ParseError{Err: err}
	}
	if msg.Type == "" {
		return nil, &ParseError{Err: fmt.Errorf("%w: type", errMissingField)}
	}

	switch msg.Type {
	case TypeResponseAudioDelta:
		if msg.Delta == nil {
			return nil, &ParseError{Type: msg.Type, Err: fmt.Errorf("%w: delta", errMissingField)}
		}
		return AudioDelta{ResponseID: msg.ResponseID, ItemID: msg.ItemID, Delta: *msg.Delta}, nil

	case TypeResponseContentPartDone:
		transcript, ok := msg.Content.transcript()
		if !ok {
			transcript, ok = msg.Part.transcript()
		}
		if !ok {
			return nil, &ParseError{Type: msg.Type, Err: fmt.Errorf("%w: content.transcript", errMissingField)}
		}
		return ContentPartDone{ItemID: msg.ItemID, Transcript: transcript}, nil

	case TypeSpeechStarted:
		return SpeechStarted{ItemID: msg.ItemID, AudioStartMS: msg.AudioStart}, nil

	case TypeInputTranscriptCompleted:
		if msg.Transcript == nil {
			return nil, &ParseError{Type: msg.Type, Err: fmt.Errorf("%w: transcript", errMissingField)}
		}
		return InputTranscriptCompleted{ItemID: msg.ItemID, Transcript: *msg.Transcript}, nil

	case TypeFunctionCallArgumentsDone:
		if msg.Name == "" {
			return nil, &ParseError{Type: msg.Type, Err: fmt.Errorf("%w: name", errMissingField)}
		}
		return FunctionCallArgumentsDone{CallID: msg.CallID, Name: msg.Name, Arguments: msg.Arguments}, nil

	case TypeError:
		ev := ErrorEvent{}
		if msg.Error != nil {
			ev.Code = msg.Error.Code
			ev.Kind = msg.Error.Type
			ev.Message = msg.Error.Message
		}
		return ev, nil
	}

	if loggedTypes[msg.Type] || msg.Type == TypeSessionUpdated {
		return InfoEvent{Type: msg.Type}, nil
	}
	return UnknownEvent{Type: msg.Type}, nil
}

func (p *contentPart) transcript() (string, bool) {
	if p == nil {
		return "", false
	}
	if p.Transcript != nil {
		return *p.Transcript, true
	}
	if p.Text != nil {
		return *p.Text, true
	}
	return "", false
}
