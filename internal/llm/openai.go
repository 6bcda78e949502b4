package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	envOpenAIAPIKey    = "OPENAI_API_KEY"
	envOpenAIModel     = "OPENAI_MODEL"
	defaultOpenAIModel = "gpt-4o-mini"

	openAIMaxTokens      = 900
	openAIMaxRetries     = 3
	openAIRetryBaseDelay = 500 * time.Millisecond
	openAIMaxRequestSize = 200000 // ~200KB
)

type openAIClient struct {
	api    *openai.Client
	model  string
	logger zerolog.Logger
}

func NewOpenAIFromEnv() (Client, error) {
	key := strings.TrimSpace(os.Getenv(envOpenAIAPIKey))
	if key == "" {
		return nil, fmt.Errorf("missing %s", envOpenAIAPIKey)
	}
	model := strings.TrimSpace(os.Getenv(envOpenAIModel))
	if model == "" {
		model = defaultOpenAIModel
	}
	model = strings.Trim(model, "\"'")
	return &openAIClient{
		api:    openai.NewClient(key),
		model:  model,
		logger: zerolog.Nop(),
	}, nil
}

func NewOpenAIWithLogger(logger zerolog.Logger) (Client, error) {
	client, err := NewOpenAIFromEnv()
	if err != nil {
		return nil, err
	}
	if oc, ok := client.(*openAIClient); ok {
		oc.logger = logger
	}
	return client, nil
}

func (c *openAIClient) Name() string { return c.model }

func (c *openAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}

	for i, m := range req.Messages {
		if len(m.Content) > openAIMaxRequestSize {
			c.logger.Warn().Int("message_idx", i).Int("size", len(m.Content)).Msg("message too large, truncating")
			req.Messages[i].Content = m.Content[:openAIMaxRequestSize] + "... [truncated]"
		}
	}
	if len(req.System) > openAIMaxRequestSize {
		c.logger.Warn().Int("size", len(req.System)).Msg("system prompt too large, truncating")
		req.System = req.System[:openAIMaxRequestSize] + "... [truncated]"
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	budget := req.MaxTokens
	if budget <= 0 {
		budget = openAIMaxTokens
	}

	var lastErr error
	for attempt := 0; attempt <= openAIMaxRetries; attempt++ {
		if attempt > 0 {
			delay := openAIRetryBaseDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying OpenAI API call")
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		c.logger.Debug().
			Str("model", c.model).
			Int("messages", len(messages)).
			Int("max_tokens", budget).
			Msg("OpenAI API request")

		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   budget,
		})
		if err != nil {
			lastErr = fmt.Errorf("openai: %w", err)
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) {
				c.logger.Error().
					Int("status", apiErr.HTTPStatusCode).
					Str("error_type", apiErr.Type).
					Int("attempt", attempt).
					Msg("OpenAI API error")
				// Retry on 429 (rate limit) and 5xx errors
				if (apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500) && attempt < openAIMaxRetries {
					continue
				}
				return Response{}, lastErr
			}
			// Network-level errors are retryable
			if attempt < openAIMaxRetries {
				continue
			}
			return Response{}, lastErr
		}

		if len(resp.Choices) == 0 {
			return Response{}, fmt.Errorf("no choices in response")
		}
		text := resp.Choices[0].Message.Content
		if text == "" {
			return Response{}, fmt.Errorf("empty response content")
		}

		c.logger.Debug().
			Str("finish_reason", string(resp.Choices[0].FinishReason)).
			Int("prompt_tokens", resp.Usage.PromptTokens).
			Int("completion_tokens", resp.Usage.CompletionTokens).
			Msg("OpenAI API success")

		return Response{Text: text}, nil
	}

	return Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}
