// Package chat sends single-turn text prompts to an Azure OpenAI chat
// deployment.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	// DefaultAPIVersion is the chat completions API version.
	DefaultAPIVersion = "2024-08-01-preview"

	// DefaultMaxTokens caps each completion.
	DefaultMaxTokens = 500
)

// ErrEmptyPrompt is returned when there is nothing to send.
var ErrEmptyPrompt = errors.New("prompt is required")

// Config configures a Client.
type Config struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Deployment string
	MaxTokens  int64
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client completes text prompts.
type Client struct {
	client     openai.Client
	deployment string
	maxTokens  int64
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" || cfg.Deployment == "" {
		return nil, errors.New("chat: endpoint, api key and deployment are required")
	}

	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}

	opts := []option.RequestOption{
		azure.WithEndpoint(endpoint, version),
		azure.WithAPIKey(cfg.APIKey),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		client:     openai.NewClient(opts...),
		deployment: cfg.Deployment,
		maxTokens:  maxTokens,
		logger:     logger,
	}, nil
}

// Complete sends prompt as a user message and returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(c.deployment),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		MaxTokens: openai.Int(c.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}

	c.logger.Info("chat completion received",
		"deployment", c.deployment,
		"finish_reason", resp.Choices[0].FinishReason,
		"total_tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}
