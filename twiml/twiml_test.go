package twiml

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaStream(t *testing.T) {
	doc, err := MediaStream("wss://relay.example.com/media-stream", 1, nil).Marshal()
	require.NoError(t, err)

	want := xml.Header + `<Response>
    <Pause length="1"></Pause>
    <Connect>
        <Stream url="wss://relay.example.com/media-stream"></Stream>
    </Connect>
</Response>`
	assert.Equal(t, want, doc)
}

func TestMediaStreamParameters(t *testing.T) {
	doc := MediaStream("wss://h/media-stream", 0, map[string]string{
		"direction": "both",
		"caller":    "+15550100",
	}).String()

	assert.NotContains(t, doc, "<Pause")
	caller := strings.Index(doc, `<Parameter name="caller" value="+15550100">`)
	direction := strings.Index(doc, `<Parameter name="direction" value="both">`)
	require.NotEqual(t, -1, caller)
	require.NotEqual(t, -1, direction)
	assert.Less(t, caller, direction)
}

func TestResponseVerbsKeepOrder(t *testing.T) {
	doc := NewResponse(
		Say{Voice: "alice", Text: "Goodbye & thanks"},
		Pause{Length: 2},
		Hangup{},
	).String()

	say := strings.Index(doc, `<Say voice="alice">Goodbye &amp; thanks</Say>`)
	pause := strings.Index(doc, `<Pause length="2"></Pause>`)
	hangup := strings.Index(doc, `<Hangup></Hangup>`)
	require.NotEqual(t, -1, say)
	assert.Less(t, say, pause)
	assert.Less(t, pause, hangup)
}

func TestReject(t *testing.T) {
	doc, err := Reject("Goodbye.").Marshal()
	require.NoError(t, err)
	say := strings.Index(doc, `<Say>Goodbye.</Say>`)
	hangup := strings.Index(doc, `<Hangup></Hangup>`)
	require.True(t, say > 0 && hangup > say, doc)

	doc, err = Reject("").Marshal()
	require.NoError(t, err)
	assert.NotContains(t, doc, "<Say")
	assert.Contains(t, doc, "<Hangup></Hangup>")
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"relay.example.com", "wss://relay.example.com/media-stream"},
		{"https://relay.example.com/", "wss://relay.example.com/media-stream"},
		{"http://localhost:8080", "wss://localhost:8080/media-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StreamURL(tt.host), tt.host)
	}
}
