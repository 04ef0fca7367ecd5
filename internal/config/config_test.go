package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/voicerelay/relay"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, DefaultSessionTemplate, cfg.SessionTemplate)
	assert.Equal(t, DefaultInstructions, cfg.Instructions)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, DefaultAPIVersion, cfg.Azure.APIVersion)
	assert.Equal(t, relay.Tunables{}, cfg.Tunables)
}

func TestFromLookupTunables(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"GPT_AUDIO_TEMPRATURE":          "0.7",
		"GPT_AUDIO_THRESHOLD":           "0.55",
		"GPT_AUDIO_MAX_TOKEN":           "1024",
		"GPT_AUDIO_SILENCE_DURATION_MS": "600",
		"GPT_AUDIO_PREFIX_PADDING_MS":   "250",
		"GPT_AUDIO_VOICE_NAME":          " shimmer ",
		"VOICERELAY_POLL_INTERVAL":      "250ms",
	}))
	require.NoError(t, err)

	assert.Equal(t, relay.Tunables{
		Temperature:             0.7,
		Voice:                   "shimmer",
		Threshold:               0.55,
		SilenceDurationMS:       600,
		PrefixPaddingMS:         250,
		MaxResponseOutputTokens: 1024,
	}, cfg.Tunables)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
}

func TestFromLookupAcceptsCorrectTemperatureSpelling(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{"GPT_AUDIO_TEMPERATURE": "0.9"}))
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Tunables.Temperature)
}

func TestFromLookupRejectsBadNumbers(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{
		"GPT_AUDIO_THRESHOLD":      "high",
		"GPT_AUDIO_MAX_TOKEN":      "1.5",
		"VOICERELAY_WRITE_TIMEOUT": "-1s",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GPT_AUDIO_THRESHOLD")
	assert.Contains(t, err.Error(), "GPT_AUDIO_MAX_TOKEN")
	assert.Contains(t, err.Error(), "VOICERELAY_WRITE_TIMEOUT")
}

func TestValidateListsAllMissing(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"TWILIO_ACCOUNT_SID":   "AC1",
		"AZURE_OPENAI_API_KEY": "k",
	}))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	for _, name := range []string{"TWILIO_AUTH_TOKEN", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT_NAME", "API_AUTH_USERNAME", "API_AUTH_PASSWORD"} {
		assert.Contains(t, err.Error(), name)
	}
	assert.NotContains(t, err.Error(), "TWILIO_ACCOUNT_SID")
}

func TestChatDeploymentFallsBack(t *testing.T) {
	cfg := &Config{Azure: Azure{Deployment: "gpt-4o-realtime"}}
	assert.Equal(t, "gpt-4o-realtime", cfg.ChatDeployment())
	cfg.Azure.ChatDeployment = "gpt-4o"
	assert.Equal(t, "gpt-4o", cfg.ChatDeployment())
}
