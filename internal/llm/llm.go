// ABOUTME: Reasoning client abstraction used by mission agents to plan commands.
// ABOUTME: Selects the OpenRouter client or the offline simulation from config.

package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultModel is used when a mission does not name one.
const DefaultModel = "anthropic/claude-3.5-sonnet"

// placeholderKey is the sample key shipped in example configs.
const placeholderKey = "your_key"

var (
	ErrRequestFailed = errors.New("llm request failed")
	ErrEmptyResponse = errors.New("llm returned no choices")
	ErrAPI           = errors.New("llm api error")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client produces a completion for a conversation.
type Client interface {
	Chat(ctx context.Context, messages []Message, model string) (string, error)
}

// Config holds reasoning client settings.
type Config struct {
	APIKey            string
	BaseURL           string
	DefaultModel      string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Simulated reports whether cfg selects the offline client.
func (c Config) Simulated() bool {
	return c.APIKey == "" || c.APIKey == placeholderKey
}

// New returns an OpenRouter client, or the simulation when no usable key is configured.
func New(cfg Config, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Simulated() {
		logger.Info("no llm api key configured, using simulated reasoning")
		return NewSimulatedClient()
	}
	return NewOpenRouterClient(cfg, logger)
}

// Model describes a selectable model.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Context  int    `json:"context"`
	Pricing  string `json:"pricing"`
}

var models = []Model{
	{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", Provider: "Anthropic", Context: 200000, Pricing: "$3/$15"},
	{ID: "anthropic/claude-3-opus", Name: "Claude 3 Opus", Provider: "Anthropic", Context: 200000, Pricing: "$15/$75"},
	{ID: "anthropic/claude-3-haiku", Name: "Claude 3 Haiku", Provider: "Anthropic", Context: 200000, Pricing: "$0.25/$1.25"},
	{ID: "openai/gpt-4o", Name: "GPT-4o", Provider: "OpenAI", Context: 128000, Pricing: "$5/$15"},
	{ID: "openai/gpt-4o-mini", Name: "GPT-4o Mini", Provider: "OpenAI", Context: 128000, Pricing: "$0.15/$0.60"},
	{ID: "google/gemini-pro-1.5", Name: "Gemini Pro 1.5", Provider: "Google", Context: 2800000, Pricing: "$1.25/$5"},
	{ID: "meta-llama/llama-3.1-405b-instruct", Name: "Llama 3.1 405B", Provider: "Meta", Context: 131072, Pricing: "$3/$3"},
	{ID: "meta-llama/llama-3.1-70b-instruct", Name: "Llama 3.1 70B", Provider: "Meta", Context: 131072, Pricing: "$0.52/$0.75"},
	{ID: "mistralai/mistral-large", Name: "Mistral Large", Provider: "Mistral", Context: 128000, Pricing: "$2/$6"},
	{ID: "deepseek/deepseek-chat", Name: "DeepSeek Chat", Provider: "DeepSeek", Context: 128000, Pricing: "$0.14/$0.28"},
}

// Models returns the selectable model catalog.
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}
