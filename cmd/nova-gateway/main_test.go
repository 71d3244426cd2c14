package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/run-bigpig/nova-gateway/pkg/audit"
	"github.com/run-bigpig/nova-gateway/pkg/config"
	"github.com/run-bigpig/nova-gateway/pkg/critic"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
)

func TestBuildWithoutBackend(t *testing.T) {
	redis := miniredis.RunT(t)

	cfg := config.Default()
	cfg.LLM.Provider = config.ProviderNone
	cfg.Audit.Sinks = []string{config.SinkConsole, config.SinkSQLite, config.SinkRedis}
	cfg.Audit.SQLitePath = filepath.Join(t.TempDir(), "audit.db")
	cfg.Audit.RedisURL = "redis://" + redis.Addr()
	require.NoError(t, cfg.Validate())

	a, err := build(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, false, health["llm_configured"])

	resp, err = http.Post(srv.URL+"/v1/nova-chat", "application/json", strings.NewReader(`{"prompt":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/logs/verify")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuildBackend(t *testing.T) {
	a := &app{}

	backend, err := buildBackend(context.Background(), config.LLMConfig{Provider: config.ProviderOpenAI}, logging.Nop(), a)
	require.NoError(t, err)
	assert.False(t, backend.IsConfigured())
	assert.Contains(t, backend.Reason(), "OPENAI_API_KEY")

	backend, err = buildBackend(context.Background(), config.LLMConfig{Provider: config.ProviderOpenAI, APIKey: "sk-test", MaxRetries: 2}, logging.Nop(), a)
	require.NoError(t, err)
	assert.True(t, backend.IsConfigured())
	assert.Equal(t, "openai", backend.Name())

	backend, err = buildBackend(context.Background(), config.LLMConfig{Provider: config.ProviderAnthropic, AnthropicAPIKey: "sk-ant"}, logging.Nop(), a)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", backend.Name())

	backend, err = buildBackend(context.Background(), config.LLMConfig{Provider: config.ProviderVertex}, logging.Nop(), a)
	require.NoError(t, err)
	assert.False(t, backend.IsConfigured())

	_, err = buildBackend(context.Background(), config.LLMConfig{Provider: "bard"}, logging.Nop(), a)
	assert.Error(t, err)
	assert.Empty(t, a.closers)
}

func TestBuildSinkPutsReadersFirst(t *testing.T) {
	a := &app{}
	sink, err := buildSink(context.Background(), config.AuditConfig{
		Sinks: []string{config.SinkConsole, config.SinkMemory},
		Chain: true,
	}, logging.Nop(), a)
	require.NoError(t, err)

	chain, ok := sink.(*audit.ChainSink)
	require.True(t, ok)
	fanout, ok := chain.Unwrap().(*audit.FanoutSink)
	require.True(t, ok)
	require.Len(t, fanout.Sinks(), 2)
	assert.IsType(t, &audit.MemorySink{}, fanout.Sinks()[0])

	_, ok = audit.AsReader(sink)
	assert.True(t, ok)

	sink, err = buildSink(context.Background(), config.AuditConfig{Sinks: []string{config.SinkConsole}}, logging.Nop(), a)
	require.NoError(t, err)
	assert.IsType(t, &audit.ConsoleSink{}, sink)
}

func TestLoadTemplates(t *testing.T) {
	security, policy, err := loadTemplates(context.Background(), "")
	require.NoError(t, err)
	assert.Same(t, critic.DefaultSecurityTemplate, security)
	assert.Same(t, critic.DefaultPolicyTemplate, policy)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, critic.PolicyTemplateID+".tmpl"),
		[]byte("Judge against {{.Policy}} and reply in JSON."), 0o600))

	security, policy, err = loadTemplates(context.Background(), dir)
	require.NoError(t, err)
	assert.Same(t, critic.DefaultSecurityTemplate, security)
	rendered, err := policy.Render(map[string]interface{}{"Policy": "Be kind."})
	require.NoError(t, err)
	assert.Equal(t, "Judge against Be kind. and reply in JSON.", rendered)
}

func TestAttemptsCountsRetriesAfterFirstCall(t *testing.T) {
	assert.Equal(t, int32(1), attempts(0))
	assert.Equal(t, int32(1), attempts(-2))
	assert.Equal(t, int32(4), attempts(3))
}
