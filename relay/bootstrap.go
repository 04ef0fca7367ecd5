package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentplexus/voicerelay/realtime"
)

// ErrBootstrap is wrapped by every session bootstrap failure.
var ErrBootstrap = errors.New("session bootstrap failed")

// SessionSource supplies the session template and the instruction text.
type SessionSource interface {
	SessionTemplate(ctx context.Context) (map[string]any, error)
	Instructions(ctx context.Context) (string, error)
}

// Tunables are the per-call engine settings merged into the session
// template. Zero values leave the template's setting in place.
type Tunables struct {
	Temperature             float64
	Voice                   string
	Threshold               float64
	SilenceDurationMS       int
	PrefixPaddingMS         int
	MaxResponseOutputTokens int
}

// BuildSessionConfig merges instructions and tunables into a copy of the
// session template. The template itself is not modified.
func BuildSessionConfig(template map[string]any, instructions string, t Tunables) (map[string]any, error) {
	session, err := cloneObject(template)
	if err != nil {
		return nil, fmt.Errorf("%w: copy session template: %v", ErrBootstrap, err)
	}

	session["instructions"] = instructions
	if t.Temperature > 0 {
		session["temperature"] = t.Temperature
	}
	if t.Voice != "" {
		session["voice"] = t.Voice
	}
	if t.MaxResponseOutputTokens > 0 {
		session["max_response_output_tokens"] = t.MaxResponseOutputTokens
	}

	var turnDetection map[string]any
	switch td := session["turn_detection"].(type) {
	case nil:
		turnDetection = map[string]any{"type": "server_vad"}
	case map[string]any:
		turnDetection = td
	default:
		return nil, fmt.Errorf("%w: turn_detection must be an object, got %T", ErrBootstrap, td)
	}
	if t.Threshold > 0 {
		turnDetection["threshold"] = t.Threshold
	}
	if t.SilenceDurationMS > 0 {
		turnDetection["silence_duration_ms"] = t.SilenceDurationMS
	}
	if t.PrefixPaddingMS > 0 {
		turnDetection["prefix_padding_ms"] = t.PrefixPaddingMS
	}
	session["turn_detection"] = turnDetection

	if _, err := json.Marshal(session); err != nil {
		return nil, fmt.Errorf("%w: encode session: %v", ErrBootstrap, err)
	}
	return session, nil
}

// cloneObject deep-copies a JSON object by round-tripping it.
func cloneObject(src map[string]any) (map[string]any, error) {
	dst := map[string]any{}
	if src == nil {
		return dst, nil
	}
	data, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Bootstrap configures the engine session and starts the first turn. It
// must complete before any caller audio is relayed.
func Bootstrap(ctx context.Context, engine Engine, src SessionSource, t Tunables, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	template, err := src.SessionTemplate(ctx)
	if err != nil {
		return fmt.Errorf("%w: load session template: %v", ErrBootstrap, err)
	}
	logger.Info("session template loaded")

	instructions, err := src.Instructions(ctx)
	if err != nil {
		return fmt.Errorf("%w: load instructions: %v", ErrBootstrap, err)
	}
	logger.Info("system instructions loaded")

	session, err := BuildSessionConfig(template, instructions, t)
	if err != nil {
		return err
	}

	if err := engine.Send(realtime.NewSessionUpdate(session)); err != nil {
		return fmt.Errorf("%w: send session update: %v", ErrBootstrap, err)
	}
	logger.Info("session update sent")

	if err := engine.Send(realtime.NewResponseCreate()); err != nil {
		return fmt.Errorf("%w: send response create: %v", ErrBootstrap, err)
	}
	logger.Info("conversation started")
	return nil
}
