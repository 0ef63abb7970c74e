// ABOUTME: OpenRouter chat-completions client with request pacing.
// ABOUTME: Every call waits on a token bucket so a swarm cannot exceed the configured rate.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL           = "https://openrouter.ai/api/v1"
	DefaultTimeout           = 60 * time.Second
	DefaultRequestsPerMinute = 30

	// maxErrorBody bounds how much of a failed response is echoed into errors.
	maxErrorBody = 512
)

// OpenRouterClient talks to an OpenAI-compatible chat completions endpoint.
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenRouterClient creates a client from cfg, filling unset fields with defaults.
func NewOpenRouterClient(cfg Config, logger *slog.Logger) *OpenRouterClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}

	return &OpenRouterClient{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		logger:       logger.With("component", "llm"),
	}
}

// Chat sends messages and returns the first choice's content.
func (c *OpenRouterClient) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: waiting for rate limiter: %w", ErrRequestFailed, err)
	}

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Title", "coven-swarm")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %w", ErrRequestFailed, err)
	}

	c.logger.Debug("chat completion",
		"model", model,
		"status", resp.StatusCode,
		"latency", time.Since(start),
	)

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, truncate(raw))
		}
		return "", fmt.Errorf("%w: decoding response: %w", ErrRequestFailed, err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrAPI, parsed.Error.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return parsed.Choices[0].Message.Content, nil
}

// truncate limits an error body to maxErrorBody bytes on a rune boundary.
func truncate(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	n := maxErrorBody
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n])
}
