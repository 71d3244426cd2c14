package interfaces

import "context"

// LLM represents a large language model provider
type LLM interface {
	// Generate generates text based on the provided prompt
	Generate(ctx context.Context, prompt string, options ...GenerateOption) (string, error)

	// Name returns the name of the LLM provider
	Name() string
}

// GenerateOption represents options for text generation
type GenerateOption func(options *GenerateOptions)

// GenerateOptions contains configuration for text generation
type GenerateOptions struct {
	LLMConfig      *LLMConfig      // LLM config for the generation
	SystemMessage  string          // System message for chat models
	ResponseFormat *ResponseFormat // Optional expected response format
}

type LLMConfig struct {
	Temperature   float64  // Temperature for the generation
	TopP          float64  // Top P for the generation
	MaxTokens     int      // Upper bound on completion tokens, 0 means provider default
	StopSequences []string // Stop sequences for the generation
}

// NewGenerateOptions applies options on top of the given default temperature.
func NewGenerateOptions(defaultTemperature float64, options ...GenerateOption) *GenerateOptions {
	params := &GenerateOptions{
		LLMConfig: &LLMConfig{
			Temperature: defaultTemperature,
		},
	}
	for _, option := range options {
		if option != nil {
			option(params)
		}
	}
	return params
}

// WithTemperature creates a GenerateOption to set the temperature
func WithTemperature(temperature float64) GenerateOption {
	return func(options *GenerateOptions) {
		options.config().Temperature = temperature
	}
}

// WithTopP creates a GenerateOption to set the top_p
func WithTopP(topP float64) GenerateOption {
	return func(options *GenerateOptions) {
		options.config().TopP = topP
	}
}

// WithMaxTokens caps the number of completion tokens
func WithMaxTokens(maxTokens int) GenerateOption {
	return func(options *GenerateOptions) {
		options.config().MaxTokens = maxTokens
	}
}

// WithStopSequences creates a GenerateOption to set the stop sequences
func WithStopSequences(stopSequences []string) GenerateOption {
	return func(options *GenerateOptions) {
		options.config().StopSequences = stopSequences
	}
}

// WithSystemMessage creates a GenerateOption to set the system message
func WithSystemMessage(systemMessage string) GenerateOption {
	return func(options *GenerateOptions) {
		options.SystemMessage = systemMessage
	}
}

// WithResponseFormat creates a GenerateOption to set the response format
func WithResponseFormat(format ResponseFormat) GenerateOption {
	return func(options *GenerateOptions) {
		options.ResponseFormat = &format
	}
}

func (o *GenerateOptions) config() *LLMConfig {
	if o.LLMConfig == nil {
		o.LLMConfig = &LLMConfig{}
	}
	return o.LLMConfig
}
