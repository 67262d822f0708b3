package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/parleykit/parley/types"
)

// Config configures the oracle client.
type Config struct {
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Model       string        `yaml:"model" env:"MODEL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Temperature float32       `yaml:"temperature" env:"TEMPERATURE"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Model:       openai.GPT4o,
		Timeout:     30 * time.Second,
		Temperature: 0.2,
	}
}

// chatCompleter is the slice of the OpenAI client the oracle uses.
// Tests substitute a fake.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Metrics receives one event per oracle round trip. Implementations must
// be safe for concurrent use.
type Metrics interface {
	RecordOracleCall(operation, status string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordOracleCall(string, string, time.Duration) {}

// Client talks to an OpenAI-compatible chat API.
type Client struct {
	api     chatCompleter
	cfg     Config
	metrics Metrics
	logger  *zap.Logger
}

// New creates an oracle client from the config.
func New(cfg Config, logger *zap.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return newClient(openai.NewClientWithConfig(apiCfg), cfg, logger)
}

func newClient(api chatCompleter, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		api:     api,
		cfg:     cfg,
		metrics: nopMetrics{},
		logger:  logger.With(zap.String("component", "reasoning_oracle")),
	}
}

// WithMetrics attaches an instrumentation sink and returns the client.
func (c *Client) WithMetrics(metrics Metrics) *Client {
	if metrics != nil {
		c.metrics = metrics
	}
	return c
}

// complete runs one chat completion under the configured timeout, with a
// single retry for transient failures. The timeout spans both attempts:
// a caller never waits longer than cfg.Timeout. The operation names the
// caller for instrumentation.
func (c *Client) complete(ctx context.Context, operation, system, user string) (string, error) {
	start := time.Now()
	content, err := c.completeOnce(ctx, system, user)
	c.metrics.RecordOracleCall(operation, callStatus(err), time.Since(start))
	return content, err
}

func (c *Client) completeOnce(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", types.NewError(types.ErrOracleFailure, "oracle returned no choices")
			}
			return resp.Choices[0].Message.Content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("oracle call failed, retrying once",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	if errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", types.NewError(types.ErrOracleTimeout, "oracle call timed out").
			WithCause(lastErr).WithRetryable(true)
	}
	return "", types.NewError(types.ErrOracleFailure, "oracle call failed").WithCause(lastErr)
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case types.IsCode(err, types.ErrOracleTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// decodeJSON parses the oracle's answer, tolerating prose or code fences
// around the JSON object.
func decodeJSON(content string, v any) error {
	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return types.NewError(types.ErrOracleFailure, "oracle returned malformed JSON").WithCause(err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
