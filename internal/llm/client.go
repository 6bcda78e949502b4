package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	envProvider = "LLM_PROVIDER" // "anthropic" or "openai"
)

// Client generates a text completion for a single request.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Response struct {
	Text string
}

// NewClientWithLogger creates a client based on LLM_PROVIDER.
// Defaults to Anthropic if not specified.
func NewClientWithLogger(logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic"
	}

	switch provider {
	case "openai":
		return NewOpenAIWithLogger(logger)
	case "anthropic":
		return NewAnthropicWithLogger(logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", provider)
	}
}
