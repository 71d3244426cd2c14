package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
	"github.com/run-bigpig/nova-gateway/pkg/llm"
)

type echoLLM struct{}

func (echoLLM) Generate(_ context.Context, prompt string, _ ...interfaces.GenerateOption) (string, error) {
	return prompt, nil
}

func (echoLLM) Name() string { return "echo" }

func TestBackendVariants(t *testing.T) {
	configured := llm.Configured(echoLLM{})
	client, ok := configured.Client()
	assert.True(t, ok)
	assert.True(t, configured.IsConfigured())
	assert.Equal(t, "echo", configured.Name())
	assert.Empty(t, configured.Reason())
	assert.NotNil(t, client)

	unconfigured := llm.Unconfigured("missing OPENAI_API_KEY")
	client, ok = unconfigured.Client()
	assert.False(t, ok)
	assert.Nil(t, client)
	assert.Equal(t, "unconfigured", unconfigured.Name())
	assert.Equal(t, "missing OPENAI_API_KEY", unconfigured.Reason())
}

func TestConfiguredNilClientIsUnconfigured(t *testing.T) {
	b := llm.Configured(nil)
	assert.False(t, b.IsConfigured())
	assert.NotEmpty(t, b.Reason())

	var zero llm.Backend
	assert.False(t, zero.IsConfigured())
	assert.Equal(t, "LLM client not configured.", zero.Reason())
}
