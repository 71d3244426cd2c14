package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/run-bigpig/nova-gateway/pkg/identity"
	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
	"github.com/run-bigpig/nova-gateway/pkg/retry"
)

// DefaultModel is used when WithModel is not given
const DefaultModel = "gpt-4-turbo"

// OpenAIClient implements the LLM interface for OpenAI
type OpenAIClient struct {
	Client        *openai.Client
	Model         string
	logger        logging.Logger
	retryExecutor *retry.Executor

	baseURL    string
	httpClient *http.Client
}

// Option represents an option for configuring the OpenAI client
type Option func(*OpenAIClient)

// WithModel sets the model for the OpenAI client
func WithModel(model string) Option {
	return func(c *OpenAIClient) {
		if model != "" {
			c.Model = model
		}
	}
}

// WithLogger sets the logger for the OpenAI client
func WithLogger(logger logging.Logger) Option {
	return func(c *OpenAIClient) {
		c.logger = logger
	}
}

// WithRetry configures retry policy for the client
func WithRetry(opts ...retry.Option) Option {
	return func(c *OpenAIClient) {
		c.retryExecutor = retry.NewExecutor(retry.NewPolicy(opts...))
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint
func WithBaseURL(baseURL string) Option {
	return func(c *OpenAIClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the transport
func WithHTTPClient(client *http.Client) Option {
	return func(c *OpenAIClient) {
		c.httpClient = client
	}
}

// NewClient creates a new OpenAI client
func NewClient(apiKey string, options ...Option) *OpenAIClient {
	client := &OpenAIClient{
		Model:         DefaultModel,
		logger:        logging.New(),
		retryExecutor: retry.NewExecutor(retry.NewPolicy()),
	}

	for _, option := range options {
		option(client)
	}

	config := openai.DefaultConfig(apiKey)
	if client.baseURL != "" {
		config.BaseURL = client.baseURL
	}
	if client.httpClient != nil {
		config.HTTPClient = client.httpClient
	}
	client.Client = openai.NewClientWithConfig(config)

	return client
}

// Name implements interfaces.LLM
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Generate sends prompt as the user message of a chat completion
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (string, error) {
	params := interfaces.NewGenerateOptions(0.7, options...)
	req := c.buildRequest(ctx, prompt, params)

	var resp openai.ChatCompletionResponse
	operation := func() error {
		c.logger.Debug(ctx, "Executing OpenAI API request", map[string]interface{}{
			"model":           c.Model,
			"temperature":     req.Temperature,
			"max_tokens":      req.MaxTokens,
			"messages":        len(req.Messages),
			"response_format": req.ResponseFormat != nil,
		})

		var err error
		resp, err = c.Client.CreateChatCompletion(ctx, req)
		if err != nil {
			c.logger.Error(ctx, "Error from OpenAI API", map[string]interface{}{
				"error": err.Error(),
				"model": c.Model,
			})
			err = fmt.Errorf("failed to generate text: %w", err)
			if !retryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	}

	var err error
	if c.retryExecutor != nil {
		err = c.retryExecutor.Execute(ctx, operation)
	} else {
		err = operation()
	}
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI API")
	}
	c.logger.Debug(ctx, "Successfully received response from OpenAI", map[string]interface{}{
		"model":         c.Model,
		"finish_reason": string(resp.Choices[0].FinishReason),
	})
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) buildRequest(ctx context.Context, prompt string, params *interfaces.GenerateOptions) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if params.SystemMessage != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: params.SystemMessage,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    c.Model,
		Messages: messages,
	}

	if cfg := params.LLMConfig; cfg != nil {
		req.Temperature = float32(cfg.Temperature)
		// go-openai drops a zero temperature from the payload, which means 1.0 server side
		if cfg.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
		req.TopP = float32(cfg.TopP)
		req.MaxTokens = cfg.MaxTokens
		req.Stop = cfg.StopSequences
	}

	if rf := params.ResponseFormat; rf != nil {
		switch rf.Type {
		case interfaces.ResponseFormatJSON:
			if rf.Schema != nil {
				req.ResponseFormat = &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
					JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
						Name:   rf.Name,
						Schema: rf.Schema,
					},
				}
			} else {
				req.ResponseFormat = &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONObject,
				}
			}
		case interfaces.ResponseFormatText:
		}
	}

	if subject, ok := identity.Subject(ctx); ok {
		req.User = subject
	}
	return req
}

// retryable reports whether err is worth another attempt: rate limits,
// server errors and anything that never got an HTTP status.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
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

	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
