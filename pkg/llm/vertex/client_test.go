package vertex

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
)

func TestClientConfiguration(t *testing.T) {
	tests := []struct {
		name       string
		options    []ClientOption
		model      string
		location   string
		maxRetries int
		retryDelay time.Duration
	}{
		{
			name:       "default configuration",
			model:      DefaultModel,
			location:   "us-central1",
			maxRetries: 3,
			retryDelay: time.Second,
		},
		{
			name: "custom configuration",
			options: []ClientOption{
				WithModel(ModelGemini15Flash),
				WithLocation("us-west1"),
				WithMaxRetries(5),
				WithRetryDelay(2 * time.Second),
			},
			model:      ModelGemini15Flash,
			location:   "us-west1",
			maxRetries: 5,
			retryDelay: 2 * time.Second,
		},
		{
			name:       "blank model keeps default",
			options:    []ClientOption{WithModel("")},
			model:      DefaultModel,
			location:   "us-central1",
			maxRetries: 3,
			retryDelay: time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newUnconnected("test-project", tt.options...)
			assert.Equal(t, tt.model, client.model)
			assert.Equal(t, tt.location, client.location)
			assert.Equal(t, tt.maxRetries, client.maxRetries)
			assert.Equal(t, tt.retryDelay, client.retryDelay)
			assert.Equal(t, "vertex:"+tt.model, client.Name())
		})
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	assert.Error(t, err)
}

func TestConfigureModelForCritic(t *testing.T) {
	model := &genai.GenerativeModel{}
	configureModel(model, interfaces.NewGenerateOptions(0.7,
		interfaces.WithSystemMessage("You are a critic."),
		interfaces.WithTemperature(0),
		interfaces.WithMaxTokens(200),
		interfaces.WithResponseFormat(interfaces.JSONObject),
	))

	require.NotNil(t, model.SystemInstruction)
	assert.Equal(t, []genai.Part{genai.Text("You are a critic.")}, model.SystemInstruction.Parts)
	require.NotNil(t, model.Temperature)
	assert.Equal(t, float32(0), *model.Temperature)
	require.NotNil(t, model.MaxOutputTokens)
	assert.Equal(t, int32(200), *model.MaxOutputTokens)
	assert.Equal(t, "application/json", model.ResponseMIMEType)
}

func TestConfigureModelForGeneration(t *testing.T) {
	model := &genai.GenerativeModel{}
	configureModel(model, interfaces.NewGenerateOptions(0.7))

	assert.Nil(t, model.SystemInstruction)
	require.NotNil(t, model.Temperature)
	assert.InDelta(t, 0.7, *model.Temperature, 1e-6)
	assert.Nil(t, model.MaxOutputTokens)
	assert.Empty(t, model.ResponseMIMEType)
}

func TestResponseText(t *testing.T) {
	text, err := responseText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("Par"), genai.Text("is.")}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", text)

	_, err = responseText(&genai.GenerateContentResponse{})
	assert.Error(t, err)
}

func TestWithRetry(t *testing.T) {
	client := newUnconnected("p", WithMaxRetries(2), WithRetryDelay(time.Millisecond), WithLogger(logging.Nop()))

	calls := 0
	err := client.withRetry(context.Background(), func() error {
		calls++
		return errors.New("unavailable")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = client.withRetry(context.Background(), func() error {
		calls++
		return context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestGenerateWithoutConnection(t *testing.T) {
	client := newUnconnected("p", WithLogger(logging.Nop()))
	_, err := client.Generate(context.Background(), "hi")
	assert.Error(t, err)
}
