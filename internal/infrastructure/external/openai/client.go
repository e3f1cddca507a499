package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/agent"
	"github.com/feilong2k/codemaestro/internal/application/port"
)

// ClientConfig holds the chat model parameters
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Client implements port.LLMClient on the OpenAI chat completions API
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// NewClient creates a new OpenAI chat client
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}

	return &Client{
		client:      openai.NewClientWithConfig(oaCfg),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
}

// Chat sends the conversation and returns the first choice
func (c *Client) Chat(ctx context.Context, messages []port.Message) (*port.ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    toOpenAIRole(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		kind := classifyError(ctx, err)
		c.logger.Error("OpenAI API call failed",
			zap.String("model", c.model),
			zap.NamedError("kind", kind),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", kind, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", agent.ErrUpstream)
	}

	c.logger.Debug("OpenAI chat completed",
		zap.String("model", c.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return &port.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: port.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func toOpenAIRole(role string) string {
	switch role {
	case port.RoleSystem:
		return openai.ChatMessageRoleSystem
	case port.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// classifyError maps transport and API errors onto agent failure kinds
func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return agent.ErrTimeout
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests:
		return agent.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return agent.ErrUnauthorized
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return agent.ErrTimeout
	default:
		return agent.ErrUpstream
	}
}

// Verify interface compliance
var _ port.LLMClient = (*Client)(nil)
