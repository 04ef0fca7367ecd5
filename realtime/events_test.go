package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerEvent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ServerEvent
	}{
		{
			name: "audio delta",
			in:   `{"type":"response.audio.delta","response_id":"r1","item_id":"a1","output_index":0,"content_index":0,"delta":"AAEC"}`,
			want: AudioDelta{ResponseID: "r1", ItemID: "a1", Delta: "AAEC"},
		},
		{
			name: "audio delta without item",
			in:   `{"type":"response.audio.delta","delta":"AAEC"}`,
			want: AudioDelta{Delta: "AAEC"},
		},
		{
			name: "content part done with content",
			in:   `{"type":"response.content_part.done","item_id":"a1","content":{"type":"audio","transcript":"Hello there"}}`,
			want: ContentPartDone{ItemID: "a1", Transcript: "Hello there"},
		},
		{
			name: "content part done with part",
			in:   `{"type":"response.content_part.done","item_id":"a1","part":{"type":"audio","transcript":"Hi"}}`,
			want: ContentPartDone{ItemID: "a1", Transcript: "Hi"},
		},
		{
			name: "content part done with text part",
			in:   `{"type":"response.content_part.done","part":{"type":"text","text":"Hi"}}`,
			want: ContentPartDone{Transcript: "Hi"},
		},
		{
			name: "speech started",
			in:   `{"type":"input_audio_buffer.speech_started","audio_start_ms":1000,"item_id":"u1"}`,
			want: SpeechStarted{ItemID: "u1", AudioStartMS: 1000},
		},
		{
			name: "caller transcript",
			in:   `{"type":"conversation.item.input_audio_transcription.completed","item_id":"u1","content_index":0,"transcript":"I need an appointment"}`,
			want: InputTranscriptCompleted{ItemID: "u1", Transcript: "I need an appointment"},
		},
		{
			name: "function call",
			in:   `{"type":"response.function_call_arguments.done","call_id":"c1","name":"hangup_call","arguments":"{\"reason\":\"done\"}"}`,
			want: FunctionCallArgumentsDone{CallID: "c1", Name: "hangup_call", Arguments: `{"reason":"done"}`},
		},
		{
			name: "error",
			in:   `{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`,
			want: ErrorEvent{Code: "bad", Kind: "invalid_request_error", Message: "nope"},
		},
		{
			name: "logged only",
			in:   `{"type":"rate_limits.updated","rate_limits":[]}`,
			want: InfoEvent{Type: TypeRateLimitsUpdated},
		},
		{
			name: "session updated",
			in:   `{"type":"session.updated","session":{}}`,
			want: InfoEvent{Type: TypeSessionUpdated},
		},
		{
			name: "unknown",
			in:   `{"type":"response.output_item.added"}`,
			want: UnknownEvent{Type: "response.output_item.added"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServerEvent([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.EventType(), got.EventType())
		})
	}
}

func TestParseServerEventMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
		typ  string
	}{
		{name: "not json", in: `not json`},
		{name: "no type", in: `{"delta":"AA=="}`},
		{name: "audio delta without delta", in: `{"type":"response.audio.delta","item_id":"a1"}`, typ: TypeResponseAudioDelta},
		{name: "content part without transcript", in: `{"type":"response.content_part.done","part":{"type":"audio"}}`, typ: TypeResponseContentPartDone},
		{name: "caller transcript missing", in: `{"type":"conversation.item.input_audio_transcription.completed"}`, typ: TypeInputTranscriptCompleted},
		{name: "function call without name", in: `{"type":"response.function_call_arguments.done","arguments":"{}"}`, typ: TypeFunctionCallArgumentsDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseServerEvent([]byte(tt.in))
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.typ, perr.Type)
		})
	}
}

func TestDecodeArguments(t *testing.T) {
	args, err := FunctionCallArgumentsDone{Name: "hangup_call", Arguments: `{"reason":"done"}`}.DecodeArguments()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"reason": "done"}, args)

	args, err = FunctionCallArgumentsDone{Name: "hangup_call"}.DecodeArguments()
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = FunctionCallArgumentsDone{Name: "hangup_call", Arguments: `{`}.DecodeArguments()
	assert.Error(t, err)
}

func TestClientEventShapes(t *testing.T) {
	tests := []struct {
		name  string
		event any
		want  string
	}{
		{
			name:  "truncate",
			event: NewConversationItemTruncate("a1", 640),
			want:  `{"type":"conversation.item.truncate","item_id":"a1","content_index":0,"audio_end_ms":640}`,
		},
		{
			name:  "append",
			event: NewInputAudioBufferAppend("AAEC"),
			want:  `{"type":"input_audio_buffer.append","audio":"AAEC"}`,
		},
		{
			name:  "response create",
			event: NewResponseCreate(),
			want:  `{"type":"response.create"}`,
		},
		{
			name:  "user text",
			event: NewUserText("close the call now with the customer"),
			want: `{"type":"conversation.item.create","item":{"type":"message","role":"user",` +
				`"content":[{"type":"input_text","text":"close the call now with the customer"}]}}`,
		},
		{
			name:  "session update",
			event: NewSessionUpdate(map[string]any{"voice": "alloy"}),
			want:  `{"type":"session.update","session":{"voice":"alloy"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestIsLogged(t *testing.T) {
	assert.True(t, IsLogged(TypeSessionCreated))
	assert.True(t, IsLogged(TypeSpeechStarted))
	assert.False(t, IsLogged(TypeResponseAudioDelta))
}
