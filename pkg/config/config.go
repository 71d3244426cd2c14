// Package config loads the gateway configuration from a YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/run-bigpig/nova-gateway/pkg/critic"
)

// Config is the complete gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	LLM        LLMConfig        `yaml:"llm"`
	Critics    CriticsConfig    `yaml:"critics"`
	Generation GenerationConfig `yaml:"generation"`
	Audit      AuditConfig      `yaml:"audit"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	BodyLimit       int64         `yaml:"body_limit"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures bearer token validation
type AuthConfig struct {
	Required   bool          `yaml:"required"`
	SigningKey string        `yaml:"signing_key"`
	Issuer     string        `yaml:"issuer"`
	Leeway     time.Duration `yaml:"leeway"`
}

// Enabled reports whether tokens are validated at all
func (a AuthConfig) Enabled() bool {
	return a.SigningKey != ""
}

// LLM providers
const (
	ProviderOpenAI    = "openai"
	ProviderVertex    = "vertex"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// LLMConfig selects and configures the single backend shared by all stages
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	VertexProject     string `yaml:"vertex_project"`
	VertexLocation    string `yaml:"vertex_location"`
	VertexCredentials string `yaml:"vertex_credentials"`

	// MaxRetries counts retries after the first call.
	MaxRetries int `yaml:"max_retries"`
}

// CriticsConfig configures both critics
type CriticsConfig struct {
	SecurityMode string        `yaml:"security_failure_mode"`
	PolicyMode   string        `yaml:"policy_failure_mode"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxTokens    int           `yaml:"max_tokens"`
	// TemplateDir holds optional security_critic / policy_critic overrides.
	TemplateDir string `yaml:"template_dir"`
}

// GenerationConfig configures the primary model call
type GenerationConfig struct {
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
}

// Audit sink names
const (
	SinkConsole  = "console"
	SinkMemory   = "memory"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
)

// AuditConfig selects the audit sinks. Records go to every listed sink.
type AuditConfig struct {
	Sinks   []string      `yaml:"sinks"`
	Chain   bool          `yaml:"chain"`
	Strict  bool          `yaml:"strict"`
	Timeout time.Duration `yaml:"timeout"`

	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`

	RedisURL       string `yaml:"redis_url"`
	RedisKey       string `yaml:"redis_key"`
	RedisRetention int64  `yaml:"redis_retention"`
}

// HasSink reports whether name is among the configured sinks
func (a AuditConfig) HasSink(name string) bool {
	for _, s := range a.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// TracingConfig configures OpenTelemetry and Langfuse
type TracingConfig struct {
	OTel     OTelConfig     `yaml:"otel"`
	Langfuse LangfuseConfig `yaml:"langfuse"`
}

type OTelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
}

type LangfuseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	PublicKey   string `yaml:"public_key"`
	SecretKey   string `yaml:"secret_key"`
	Host        string `yaml:"host"`
	Environment string `yaml:"environment"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			CORSOrigins:     []string{"http://localhost", "http://localhost:3000", "http://localhost:8000"},
			BodyLimit:       1 << 20,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Provider:       ProviderOpenAI,
			VertexLocation: "us-central1",
			MaxRetries:     3,
		},
		Critics: CriticsConfig{
			SecurityMode: "fail-open",
			PolicyMode:   "fail-open",
			Timeout:      10 * time.Second,
			MaxTokens:    200,
		},
		Generation: GenerationConfig{
			Timeout:     60 * time.Second,
			Temperature: 0.7,
		},
		Audit: AuditConfig{
			Sinks:   []string{SinkConsole, SinkMemory},
			Chain:   true,
			Timeout: 5 * time.Second,
		},
		Tracing: TracingConfig{
			OTel: OTelConfig{
				ServiceName: "nova-gateway",
				Endpoint:    "localhost:4317",
				Insecure:    true,
			},
			Langfuse: LangfuseConfig{
				Host:        "https://cloud.langfuse.com",
				Environment: "development",
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path on top of Default and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if !isValidFilePath(path) {
			return Config{}, fmt.Errorf("invalid config file path: %s", path)
		}
		data, err := os.ReadFile(path) // #nosec G304 - Path is validated with isValidFilePath() before use
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode unmarshals YAML onto cfg, rejecting unknown keys
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("NOVA_ADDR", &c.Server.Addr)
	list("NOVA_CORS_ORIGINS", &c.Server.CORSOrigins)

	boolean("NOVA_AUTH_REQUIRED", &c.Auth.Required)
	str("NOVA_JWT_SIGNING_KEY", &c.Auth.SigningKey)
	str("NOVA_JWT_ISSUER", &c.Auth.Issuer)

	str("NOVA_LLM_PROVIDER", &c.LLM.Provider)
	str("NOVA_LLM_MODEL", &c.LLM.Model)
	str("OPENAI_API_KEY", &c.LLM.APIKey)
	str("NOVA_OPENAI_BASE_URL", &c.LLM.BaseURL)
	str("ANTHROPIC_API_KEY", &c.LLM.AnthropicAPIKey)
	str("NOVA_VERTEX_PROJECT", &c.LLM.VertexProject)
	str("NOVA_VERTEX_LOCATION", &c.LLM.VertexLocation)
	str("GOOGLE_APPLICATION_CREDENTIALS", &c.LLM.VertexCredentials)

	str("NOVA_SECURITY_FAILURE_MODE", &c.Critics.SecurityMode)
	str("NOVA_POLICY_FAILURE_MODE", &c.Critics.PolicyMode)
	duration("NOVA_CRITIC_TIMEOUT", &c.Critics.Timeout)
	str("NOVA_TEMPLATE_DIR", &c.Critics.TemplateDir)

	duration("NOVA_GENERATION_TIMEOUT", &c.Generation.Timeout)
	str("NOVA_SYSTEM_PROMPT", &c.Generation.SystemPrompt)

	list("NOVA_AUDIT_SINKS", &c.Audit.Sinks)
	boolean("NOVA_AUDIT_CHAIN", &c.Audit.Chain)
	boolean("NOVA_AUDIT_STRICT", &c.Audit.Strict)
	str("NOVA_SQLITE_PATH", &c.Audit.SQLitePath)
	str("NOVA_POSTGRES_DSN", &c.Audit.PostgresDSN)
	str("NOVA_REDIS_URL", &c.Audit.RedisURL)

	boolean("NOVA_OTEL_ENABLED", &c.Tracing.OTel.Enabled)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.OTel.Endpoint)
	str("LANGFUSE_PUBLIC_KEY", &c.Tracing.Langfuse.PublicKey)
	str("LANGFUSE_SECRET_KEY", &c.Tracing.Langfuse.SecretKey)
	str("LANGFUSE_HOST", &c.Tracing.Langfuse.Host)
	str("LANGFUSE_ENVIRONMENT", &c.Tracing.Langfuse.Environment)
	boolean("NOVA_LANGFUSE_ENABLED", &c.Tracing.Langfuse.Enabled)

	str("NOVA_LOG_LEVEL", &c.Logging.Level)
	boolean("NOVA_LOG_JSON", &c.Logging.JSON)

	return errors.Join(errs...)
}

// Validate checks the configuration is internally consistent. A missing API
// key is not an error: the gateway then runs with an unconfigured backend.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.BodyLimit <= 0 {
		errs = append(errs, errors.New("server.body_limit must be positive"))
	}

	if c.Auth.Required && c.Auth.SigningKey == "" {
		errs = append(errs, errors.New("auth.signing_key is required when auth.required is set"))
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderVertex, ProviderAnthropic, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of openai, vertex, anthropic, none", c.LLM.Provider))
	}

	if _, err := critic.ParseFailureMode(c.Critics.SecurityMode); err != nil {
		errs = append(errs, fmt.Errorf("critics.security_failure_mode: %w", err))
	}
	if _, err := critic.ParseFailureMode(c.Critics.PolicyMode); err != nil {
		errs = append(errs, fmt.Errorf("critics.policy_failure_mode: %w", err))
	}
	if c.Critics.Timeout < 0 || c.Generation.Timeout < 0 || c.Audit.Timeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}

	if len(c.Audit.Sinks) == 0 {
		errs = append(errs, errors.New("audit.sinks must name at least one sink"))
	}
	for _, sink := range c.Audit.Sinks {
		switch sink {
		case SinkConsole, SinkMemory:
		case SinkSQLite:
			if c.Audit.SQLitePath == "" {
				errs = append(errs, errors.New("audit.sqlite_path is required for the sqlite sink"))
			}
		case SinkPostgres:
			if c.Audit.PostgresDSN == "" {
				errs = append(errs, errors.New("audit.postgres_dsn is required for the postgres sink"))
			}
		case SinkRedis:
			if c.Audit.RedisURL == "" {
				errs = append(errs, errors.New("audit.redis_url is required for the redis sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown audit sink %q", sink))
		}
	}

	if c.Tracing.Langfuse.Enabled && (c.Tracing.Langfuse.PublicKey == "" || c.Tracing.Langfuse.SecretKey == "") {
		errs = append(errs, errors.New("tracing.langfuse requires public_key and secret_key"))
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// isValidFilePath checks if a file path is valid and safe
func isValidFilePath(filePath string) bool {
	if filePath == "" {
		return false
	}

	cleanPath := filepath.Clean(filePath)

	// Check for path traversal attempts
	if strings.Contains(cleanPath, "..") {
		return false
	}

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return false
	}

	// Pseudo filesystems could lead to sensitive information disclosure
	if strings.HasPrefix(absPath, "/proc") ||
		strings.HasPrefix(absPath, "/sys") ||
		strings.HasPrefix(absPath, "/dev") {
		return false
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return false
	}

	// Regular files only, not directories or devices
	return fileInfo.Mode().IsRegular()
}
