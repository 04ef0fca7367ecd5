// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentplexus/voicerelay/relay"
)

// Defaults.
const (
	DefaultAddr            = ":8080"
	DefaultSessionTemplate = "config/gpt_audio_session_template.json"
	DefaultInstructions    = "config/system_instructions.txt"
	DefaultAPIVersion      = "2024-10-01-preview"
	DefaultPollInterval    = time.Second
	DefaultWriteTimeout    = 10 * time.Second
)

// Twilio holds the telephony account settings.
type Twilio struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

// Azure holds the Azure OpenAI settings.
type Azure struct {
	APIKey         string
	Endpoint       string
	Deployment     string
	APIVersion     string
	ChatDeployment string
}

// Config is the full service configuration.
type Config struct {
	Addr            string
	PublicHost      string
	SessionTemplate string
	Instructions    string
	PollInterval    time.Duration
	WriteTimeout    time.Duration
	LogLevel        string
	LogFormat       string

	AuthUsername string
	AuthPassword string

	Twilio   Twilio
	Azure    Azure
	Tunables relay.Tunables
}

// Load reads .env if present and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, which has the signature of
// os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}

	cfg := &Config{
		Addr:            e.str("VOICERELAY_ADDR", DefaultAddr),
		PublicHost:      e.str("VOICERELAY_PUBLIC_HOST", ""),
		SessionTemplate: e.str("VOICERELAY_SESSION_TEMPLATE", DefaultSessionTemplate),
		Instructions:    e.str("VOICERELAY_INSTRUCTIONS", DefaultInstructions),
		PollInterval:    e.duration("VOICERELAY_POLL_INTERVAL", DefaultPollInterval),
		WriteTimeout:    e.duration("VOICERELAY_WRITE_TIMEOUT", DefaultWriteTimeout),
		LogLevel:        e.str("LOG_LEVEL", "info"),
		LogFormat:       e.str("LOG_FORMAT", "text"),

		AuthUsername: e.str("API_AUTH_USERNAME", ""),
		AuthPassword: e.str("API_AUTH_PASSWORD", ""),

		Twilio: Twilio{
			AccountSID:  e.str("TWILIO_ACCOUNT_SID", ""),
			AuthToken:   e.str("TWILIO_AUTH_TOKEN", ""),
			PhoneNumber: e.str("TWILIO_PHONE_NUMBER", ""),
		},
		Azure: Azure{
			APIKey:         e.str("AZURE_OPENAI_API_KEY", ""),
			Endpoint:       e.str("AZURE_OPENAI_ENDPOINT", ""),
			Deployment:     e.str("AZURE_OPENAI_DEPLOYMENT_NAME", ""),
			APIVersion:     e.str("AZURE_OPENAI_API_VERSION", DefaultAPIVersion),
			ChatDeployment: e.str("AZURE_OPENAI_CHAT_DEPLOYMENT_NAME", ""),
		},
	}

	temperatureKey := "GPT_AUDIO_TEMPRATURE"
	if _, ok := lookup(temperatureKey); !ok {
		temperatureKey = "GPT_AUDIO_TEMPERATURE"
	}
	cfg.Tunables = relay.Tunables{
		Temperature:             e.number(temperatureKey),
		Voice:                   e.str("GPT_AUDIO_VOICE_NAME", ""),
		Threshold:               e.number("GPT_AUDIO_THRESHOLD"),
		SilenceDurationMS:       e.integer("GPT_AUDIO_SILENCE_DURATION_MS"),
		PrefixPaddingMS:         e.integer("GPT_AUDIO_PREFIX_PADDING_MS"),
		MaxResponseOutputTokens: e.integer("GPT_AUDIO_MAX_TOKEN"),
	}

	if len(e.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(e.errs...))
	}
	return cfg, nil
}

// Validate reports every missing setting needed to serve calls.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"TWILIO_ACCOUNT_SID", c.Twilio.AccountSID},
		{"TWILIO_AUTH_TOKEN", c.Twilio.AuthToken},
		{"AZURE_OPENAI_API_KEY", c.Azure.APIKey},
		{"AZURE_OPENAI_ENDPOINT", c.Azure.Endpoint},
		{"AZURE_OPENAI_DEPLOYMENT_NAME", c.Azure.Deployment},
		{"API_AUTH_USERNAME", c.AuthUsername},
		{"API_AUTH_PASSWORD", c.AuthPassword},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ChatDeployment returns the deployment used for text chat, falling back
// to the realtime deployment.
func (c *Config) ChatDeployment() string {
	if c.Azure.ChatDeployment != "" {
		return c.Azure.ChatDeployment
	}
	return c.Azure.Deployment
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) number(key string) float64 {
	v := e.str(key, "")
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
	}
	return f
}

func (e *env) integer(key string) int {
	v := e.str(key, "")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	if d <= 0 {
		e.errs = append(e.errs, fmt.Errorf("%s: must be positive", key))
		return def
	}
	return d
}
