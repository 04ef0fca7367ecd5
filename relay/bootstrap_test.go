package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSessionConfig(t *testing.T) {
	template := map[string]any{
		"voice":       "alloy",
		"temperature": 0.8,
		"turn_detection": map[string]any{
			"type":      "server_vad",
			"threshold": 0.5,
		},
	}

	session, err := BuildSessionConfig(template, "Be brief.", Tunables{
		Temperature:             0.6,
		Voice:                   "shimmer",
		Threshold:               0.7,
		SilenceDurationMS:       500,
		PrefixPaddingMS:         300,
		MaxResponseOutputTokens: 4096,
	})
	require.NoError(t, err)

	assert.Equal(t, "Be brief.", session["instructions"])
	assert.Equal(t, 0.6, session["temperature"])
	assert.Equal(t, "shimmer", session["voice"])
	assert.Equal(t, 4096, session["max_response_output_tokens"])

	td := session["turn_detection"].(map[string]any)
	assert.Equal(t, "server_vad", td["type"])
	assert.Equal(t, 0.7, td["threshold"])
	assert.Equal(t, 500, td["silence_duration_ms"])
	assert.Equal(t, 300, td["prefix_padding_ms"])

	// The template is left untouched.
	assert.Equal(t, "alloy", template["voice"])
	assert.Equal(t, 0.5, template["turn_detection"].(map[string]any)["threshold"])
	assert.NotContains(t, template, "instructions")
}

func TestBuildSessionConfigZeroTunablesKeepTemplate(t *testing.T) {
	template := map[string]any{"voice": "alloy", "temperature": 0.8}

	session, err := BuildSessionConfig(template, "hi", Tunables{})
	require.NoError(t, err)
	assert.Equal(t, "alloy", session["voice"])
	assert.Equal(t, 0.8, session["temperature"])
	assert.NotContains(t, session, "max_response_output_tokens")
	assert.Equal(t, map[string]any{"type": "server_vad"}, session["turn_detection"])
}

func TestBuildSessionConfigRejectsBadTurnDetection(t *testing.T) {
	_, err := BuildSessionConfig(map[string]any{"turn_detection": "server_vad"}, "hi", Tunables{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBootstrap)
}

func TestBootstrapSendsSessionUpdateThenResponseCreate(t *testing.T) {
	eng := newFakeEngine()

	err := Bootstrap(context.Background(), eng, defaultSource(), Tunables{Voice: "echo"}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"session.update", "response.create"}, eng.types())
	session := eng.events()[0]["session"].(map[string]any)
	assert.Equal(t, "echo", session["voice"])
	assert.Equal(t, "You are a helpful agent.", session["instructions"])
}

func TestBootstrapFailures(t *testing.T) {
	tests := []struct {
		name   string
		source *fakeSource
		send   error
	}{
		{name: "template unreadable", source: &fakeSource{templateErr: errors.New("no such file")}},
		{name: "instructions unreadable", source: &fakeSource{template: map[string]any{}, instrErr: errors.New("denied")}},
		{name: "engine send fails", source: defaultSource(), send: errLegClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			eng.sendErr = tt.send

			err := Bootstrap(context.Background(), eng, tt.source, Tunables{}, discardLogger())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBootstrap)
			assert.Empty(t, eng.events())
		})
	}
}
