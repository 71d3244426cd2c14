package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/option"

	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
)

// VertexAI model constants
const (
	ModelGemini15Pro   = "gemini-1.5-pro"
	ModelGemini15Flash = "gemini-1.5-flash"
	ModelGemini20Flash = "gemini-2.0-flash"
)

// DefaultModel is the default Vertex AI model
const DefaultModel = ModelGemini15Pro

// Client represents a Vertex AI client
type Client struct {
	client          *genai.Client
	model           string
	projectID       string
	location        string
	maxRetries      int
	retryDelay      time.Duration
	logger          logging.Logger
	credentialsFile string
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithModel sets the model for the client
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithLocation sets the location for the client
func WithLocation(location string) ClientOption {
	return func(c *Client) {
		if location != "" {
			c.location = location
		}
	}
}

// WithMaxRetries sets the maximum number of retries
func WithMaxRetries(maxRetries int) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

// WithRetryDelay sets the retry delay
func WithRetryDelay(delay time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = delay
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCredentialsFile sets the path to the service account credentials file
func WithCredentialsFile(credentialsFile string) ClientOption {
	return func(c *Client) {
		c.credentialsFile = credentialsFile
	}
}

func newUnconnected(projectID string, options ...ClientOption) *Client {
	client := &Client{
		model:      DefaultModel,
		projectID:  projectID,
		location:   "us-central1",
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range options {
		opt(client)
	}
	if client.logger == nil {
		client.logger = logging.New()
	}
	return client
}

// NewClient creates a new Vertex AI client
func NewClient(ctx context.Context, projectID string, options ...ClientOption) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}

	client := newUnconnected(projectID, options...)

	var clientOptions []option.ClientOption
	if client.credentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(client.credentialsFile))
	}

	vertexClient, err := genai.NewClient(ctx, projectID, client.location, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	client.client = vertexClient
	return client, nil
}

// Name returns the client name
func (c *Client) Name() string {
	return fmt.Sprintf("vertex:%s", c.model)
}

// Generate implements interfaces.LLM.Generate
func (c *Client) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (string, error) {
	if c.client == nil {
		return "", errors.New("vertex client is not connected")
	}
	params := interfaces.NewGenerateOptions(0.7, options...)

	model := c.client.GenerativeModel(c.model)
	configureModel(model, params)

	var response *genai.GenerateContentResponse
	err := c.withRetry(ctx, func() error {
		var genErr error
		response, genErr = model.GenerateContent(ctx, genai.Text(prompt))
		return genErr
	})
	if err != nil {
		c.logger.Error(ctx, "Error from Vertex AI", map[string]interface{}{
			"error": err.Error(),
			"model": c.model,
		})
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return responseText(response)
}

// configureModel maps generation options onto the model
func configureModel(model *genai.GenerativeModel, params *interfaces.GenerateOptions) {
	if params.SystemMessage != "" {
		model.SystemInstruction = &genai.Content{
			Role:  "system",
			Parts: []genai.Part{genai.Text(params.SystemMessage)},
		}
	}

	if cfg := params.LLMConfig; cfg != nil {
		model.SetTemperature(float32(cfg.Temperature))
		if cfg.TopP > 0 {
			model.SetTopP(float32(cfg.TopP))
		}
		if cfg.MaxTokens > 0 {
			model.SetMaxOutputTokens(int32(cfg.MaxTokens))
		}
		if len(cfg.StopSequences) > 0 {
			model.StopSequences = cfg.StopSequences
		}
	}

	if rf := params.ResponseFormat; rf != nil && rf.Type == interfaces.ResponseFormatJSON {
		model.ResponseMIMEType = "application/json"
	}
}

func responseText(response *genai.GenerateContentResponse) (string, error) {
	if response == nil || len(response.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := response.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var result strings.Builder
	for _, part := range candidate.Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			result.WriteString(string(textPart))
		}
	}
	return result.String(), nil
}

// withRetry executes the function with exponential backoff retry logic
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = c.retryDelay
	exponentialBackoff.MaxElapsedTime = 0

	var b backoff.BackOff = exponentialBackoff
	if c.maxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(c.maxRetries))
	}

	return backoff.Retry(func() error {
		err := fn()
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// Close closes the Vertex AI client
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
