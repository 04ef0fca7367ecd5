package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EventType is the `event` discriminator of a Media Streams message.
type EventType string

// Media Streams event names.
const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventMark      EventType = "mark"
	EventStop      EventType = "stop"
	EventHangup    EventType = "hangup"
	EventDTMF      EventType = "dtmf"
	EventClear     EventType = "clear"
)

// Event is a parsed inbound Media Streams message.
type Event interface {
	EventType() EventType
}

// ConnectedEvent is the first message Twilio sends on a new stream.
type ConnectedEvent struct {
	Protocol string
	Version  string
}

// StartEvent carries the stream and call identifiers.
type StartEvent struct {
	StreamSID        string
	AccountSID       string
	CallSID          string
	Tracks           []string
	MediaFormat      MediaFormat
	CustomParameters map[string]string
}

// MediaEvent carries one inbound audio frame. Payload is the base64 audio
// exactly as received.
type MediaEvent struct {
	Track     string
	Chunk     string
	Timestamp int64
	Payload   string
}

// MarkEvent acknowledges playback of a previously sent mark.
type MarkEvent struct {
	Name string
}

// HangupEvent reports the end of the call. Reason is the event name that
// produced it ("hangup" or "stop").
type HangupEvent struct {
	Reason  string
	CallSID string
}

// DTMFEvent carries a keypad digit.
type DTMFEvent struct {
	Digit string
}

// UnknownEvent is any message with an unrecognized event name.
type UnknownEvent struct {
	Name string
}

func (ConnectedEvent) EventType() EventType { return EventConnected }
func (StartEvent) EventType() EventType     { return EventStart }
func (MediaEvent) EventType() EventType     { return EventMedia }
func (MarkEvent) EventType() EventType      { return EventMark }
func (e HangupEvent) EventType() EventType {
	if e.Reason == string(EventStop) {
		return EventStop
	}
	return EventHangup
}
func (DTMFEvent) EventType() EventType      { return EventDTMF }
func (e UnknownEvent) EventType() EventType { return EventType(e.Name) }

// MediaFormat describes the audio encoding of the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// ParseError reports a malformed inbound message.
type ParseError struct {
	Event string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("malformed media stream message: %v", e.Err)
	}
	return fmt.Sprintf("malformed %q media stream message: %v", e.Event, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errMissingField = errors.New("missing required field")

// Twilio Media Streams message types.
type mediaMessage struct {
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid,omitempty"`
	Protocol  string          `json:"protocol,omitempty"`
	Version   string          `json:"version,omitempty"`
	Start     *startMessage   `json:"start,omitempty"`
	Media     *mediaPayload   `json:"media,omitempty"`
	Mark      *markMessage    `json:"mark,omitempty"`
	Stop      *stopMessage    `json:"stop,omitempty"`
	DTMF      *dtmfMessage    `json:"dtmf,omitempty"`
}

type startMessage struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  MediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	Track     string          `json:"track,omitempty"`
	Chunk     string          `json:"chunk,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Payload   string          `json:"payload"`
}

type markMessage struct {
	Name string `json:"name"`
}

type stopMessage struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type dtmfMessage struct {
	Digit string `json:"digit"`
}

// ParseEvent decodes one inbound Media Streams message. Unrecognized event
// names yield an UnknownEvent rather than an error.
func ParseEvent(data []byte) (Event, error) {
	var msg mediaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ParseError{Err: err}
	}
	if msg.Event == "" {
		return nil, &ParseError{Err: fmt.Errorf("%w: event", errMissingField)}
	}

	switch EventType(msg.Event) {
	case EventConnected:
		return ConnectedEvent{Protocol: msg.Protocol, Version: msg.Version}, nil

	case EventStart:
		if msg.Start == nil || msg.Start.StreamSID == "" {
			return nil, &ParseError{Event: msg.Event, Err: fmt.Errorf("%w: start.streamSid", errMissingField)}
		}
		return StartEvent{
			StreamSID:        msg.Start.StreamSID,
			AccountSID:       msg.Start.AccountSID,
			CallSID:          msg.Start.CallSID,
			Tracks:           msg.Start.Tracks,
			MediaFormat:      msg.Start.MediaFormat,
			CustomParameters: msg.Start.CustomParams,
		}, nil

	case EventMedia:
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil, &ParseError{Event: msg.Event, Err: fmt.Errorf("%w: media.payload", errMissingField)}
		}
		ts, err := parseTimestamp(msg.Media.Timestamp)
		if err != nil {
			return nil, &ParseError{Event: msg.Event, Err: err}
		}
		return MediaEvent{
			Track:     msg.Media.Track,
			Chunk:     msg.Media.Chunk,
			Timestamp: ts,
			Payload:   msg.Media.Payload,
		}, nil

	case EventMark:
		var name string
		if msg.Mark != nil {
			name = msg.Mark.Name
		}
		return MarkEvent{Name: name}, nil

	case EventStop:
		var callSID string
		if msg.Stop != nil {
			callSID = msg.Stop.CallSID
		}
		return HangupEvent{Reason: string(EventStop), CallSID: callSID}, nil

	case EventHangup:
		return HangupEvent{Reason: string(EventHangup)}, nil

	case EventDTMF:
		var digit string
		if msg.DTMF != nil {
			digit = msg.DTMF.Digit
		}
		return DTMFEvent{Digit: digit}, nil

	default:
		return UnknownEvent{Name: msg.Event}, nil
	}
}

// parseTimestamp accepts the millisecond timestamp as either a JSON string
// (what Twilio sends) or a JSON number.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: media.timestamp", errMissingField)
	}
	s := string(raw)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("invalid media.timestamp: %w", err)
		}
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid media.timestamp: %w", err)
	}
	if ts < 0 {
		return 0, fmt.Errorf("invalid media.timestamp: negative value %d", ts)
	}
	return ts, nil
}

// outbound message shapes

type outboundMedia struct {
	Event     EventType       `json:"event"`
	StreamSID string          `json:"streamSid"`
	Media     outboundPayload `json:"media"`
}

type outboundPayload struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     EventType   `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      markMessage `json:"mark"`
}

type outboundClear struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
}
