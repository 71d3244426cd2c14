package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/run-bigpig/nova-gateway/pkg/identity"
	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
	"github.com/run-bigpig/nova-gateway/pkg/retry"
)

// ModelName constants for supported Anthropic models
const (
	Claude35Haiku  = "claude-3-5-haiku-latest"
	Claude35Sonnet = "claude-3-5-sonnet-latest"
	Claude3Opus    = "claude-3-opus-latest"
	Claude37Sonnet = "claude-3-7-sonnet-latest"
)

const (
	// DefaultBaseURL is the public Messages API host
	DefaultBaseURL = "https://api.anthropic.com"
	// DefaultMaxTokens is sent when the caller sets no budget; the API requires one.
	DefaultMaxTokens = 2048
	apiVersion       = "2023-06-01"
)

// AnthropicClient implements the LLM interface for Anthropic
type AnthropicClient struct {
	APIKey        string
	Model         string
	BaseURL       string
	HTTPClient    *http.Client
	logger        logging.Logger
	retryExecutor *retry.Executor
}

// Option represents an option for configuring the Anthropic client
type Option func(*AnthropicClient)

// WithModel sets the model for the Anthropic client
func WithModel(model string) Option {
	return func(c *AnthropicClient) {
		c.Model = model
	}
}

// WithLogger sets the logger for the Anthropic client
func WithLogger(logger logging.Logger) Option {
	return func(c *AnthropicClient) {
		c.logger = logger
	}
}

// WithRetry configures retry policy for the client
func WithRetry(opts ...retry.Option) Option {
	return func(c *AnthropicClient) {
		c.retryExecutor = retry.NewExecutor(retry.NewPolicy(opts...))
	}
}

// WithBaseURL sets the base URL for the Anthropic API
func WithBaseURL(baseURL string) Option {
	return func(c *AnthropicClient) {
		c.BaseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the Anthropic client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *AnthropicClient) {
		c.HTTPClient = httpClient
	}
}

// NewClient creates a new Anthropic client
func NewClient(apiKey string, options ...Option) *AnthropicClient {
	client := &AnthropicClient{
		APIKey:        apiKey,
		Model:         Claude37Sonnet,
		BaseURL:       DefaultBaseURL,
		HTTPClient:    &http.Client{Timeout: 60 * time.Second},
		logger:        logging.New(),
		retryExecutor: retry.NewExecutor(retry.NewPolicy()),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// Message represents a message for Anthropic API
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Metadata identifies the end user to the API
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// CompletionRequest represents a request for Anthropic API
type CompletionRequest struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          float64   `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	System        string    `json:"system,omitempty"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

// ContentBlock represents a content block in Anthropic API response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CompletionResponse represents a response from Anthropic API
type CompletionResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// APIError is a non-200 reply from the Messages API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("error from Anthropic API (status %d): %s", e.StatusCode, e.Body)
}

// jsonPrefill opens the assistant turn so the reply continues a JSON object.
const jsonPrefill = "{"

// Generate generates text from a prompt
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (string, error) {
	if c.Model == "" {
		return "", fmt.Errorf("model not specified: use WithModel option when creating the client")
	}

	params := interfaces.NewGenerateOptions(0.7, options...)
	req := c.buildRequest(ctx, prompt, params)
	prefilled := jsonMode(params)

	var resp CompletionResponse
	operation := func() error {
		c.logger.Debug(ctx, "Executing Anthropic API request", map[string]interface{}{
			"model":      c.Model,
			"max_tokens": req.MaxTokens,
			"system":     req.System != "",
			"json":       prefilled,
		})

		out, err := c.send(ctx, req)
		if err != nil {
			c.logger.Error(ctx, "Error from Anthropic API", map[string]interface{}{
				"error": err.Error(),
				"model": c.Model,
			})
			if !retryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		resp = out
		return nil
	}

	if err := c.retryExecutor.Execute(ctx, operation); err != nil {
		return "", err
	}

	var contentText []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			contentText = append(contentText, block.Text)
		}
	}
	if len(contentText) == 0 {
		return "", fmt.Errorf("no text content in response")
	}

	text := strings.Join(contentText, "\n")
	if prefilled {
		text = jsonPrefill + text
	}
	return text, nil
}

func (c *AnthropicClient) buildRequest(ctx context.Context, prompt string, params *interfaces.GenerateOptions) CompletionRequest {
	temperature := params.LLMConfig.Temperature
	req := CompletionRequest{
		Model:         c.Model,
		Messages:      []Message{{Role: "user", Content: prompt}},
		MaxTokens:     DefaultMaxTokens,
		Temperature:   &temperature,
		TopP:          params.LLMConfig.TopP,
		StopSequences: params.LLMConfig.StopSequences,
		System:        params.SystemMessage,
	}
	if params.LLMConfig.MaxTokens > 0 {
		req.MaxTokens = params.LLMConfig.MaxTokens
	}
	if jsonMode(params) {
		req.Messages = append(req.Messages, Message{Role: "assistant", Content: jsonPrefill})
	}
	if subject, ok := identity.Subject(ctx); ok {
		req.Metadata = &Metadata{UserID: subject}
	}
	return req
}

func (c *AnthropicClient) send(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return CompletionResponse{}, &APIError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var resp CompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return CompletionResponse{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return resp, nil
}

func jsonMode(params *interfaces.GenerateOptions) bool {
	return params.ResponseFormat != nil && params.ResponseFormat.Type == interfaces.ResponseFormatJSON
}

// retryable reports whether a failed call is worth repeating. Rate limits,
// overload (529) and server errors are; other API errors are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// Name implements interfaces.LLM.Name
func (c *AnthropicClient) Name() string {
	return "anthropic"
}
