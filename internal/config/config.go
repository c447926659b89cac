// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tool-set names.
const (
	Reasoning    = "reasoning"
	Automation   = "automation"
	NLAutomation = "nl-automation"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	ServiceVersion   string
	LogLevel         string
	AllowedOrigins   []string
	SweepInterval    time.Duration
	JournalDBPath    string // empty disables the call journal
	JournalRetention time.Duration

	Transport   TransportConfig
	Credential  CredentialConfig
	Browser     BrowserConfig
	Interpreter InterpreterConfig
	Toolsets    map[string]ToolsetConfig
}

// TransportConfig controls the SSE and WebSocket transports.
type TransportConfig struct {
	HeartbeatInterval time.Duration
	RetryDelay        time.Duration
	MaxRequestBytes   int64
}

// CredentialConfig is the shape accepted for the automation credential.
type CredentialConfig struct {
	APIKey    string
	Prefix    string
	MinLength int
}

// BrowserConfig selects the automation backend.
type BrowserConfig struct {
	Backend          string // "simulated" or "playwright"
	Headless         bool
	DockerImage      string // non-empty runs the browser server in a container
	ContainerRuntime string // Docker runtime: "" = default (runc), "runsc" = gVisor
}

// InterpreterConfig selects how instructions become actions.
type InterpreterConfig struct {
	Kind          string // "rules", "openai" or "grpc"
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	GrpcAddr      string
	Timeout       time.Duration
}

// ToolsetConfig is the per tool-set mount configuration.
type ToolsetConfig struct {
	Enabled        bool
	Prefix         string
	SessionTimeout time.Duration
}

// toolsetOverride mirrors ToolsetConfig with optional fields for the YAML file.
type toolsetOverride struct {
	Enabled        *bool  `yaml:"enabled"`
	Prefix         string `yaml:"prefix"`
	SessionTimeout string `yaml:"sessionTimeout"`
}

type toolsetsFile struct {
	Toolsets map[string]toolsetOverride `yaml:"toolsets"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		ServiceVersion:   getEnv("SERVICE_VERSION", "1.0.0"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		JournalDBPath:    getEnv("JOURNAL_DB_PATH", ""),
		JournalRetention: getEnvDuration("JOURNAL_RETENTION", 7*24*time.Hour),
		Transport: TransportConfig{
			HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
			RetryDelay:        getEnvDuration("SSE_RETRY", 5*time.Second),
			MaxRequestBytes:   int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		},
		Credential: CredentialConfig{
			APIKey:    getEnv("AUTOMATION_API_KEY", ""),
			Prefix:    getEnv("CREDENTIAL_PREFIX", "sk-"),
			MinLength: getEnvInt("CREDENTIAL_MIN_LENGTH", 20),
		},
		Browser: BrowserConfig{
			Backend:          strings.ToLower(getEnv("BROWSER_BACKEND", "simulated")),
			Headless:         getEnvBool("BROWSER_HEADLESS", true),
			DockerImage:      getEnv("BROWSER_DOCKER_IMAGE", ""),
			ContainerRuntime: getEnv("CONTAINER_RUNTIME", ""),
		},
		Interpreter: InterpreterConfig{
			Kind:          strings.ToLower(getEnv("INTERPRETER", "rules")),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			GrpcAddr:      getEnv("INTERPRETER_GRPC_ADDR", "localhost:50051"),
			Timeout:       getEnvDuration("INTERPRETER_TIMEOUT", 20*time.Second),
		},
		Toolsets: map[string]ToolsetConfig{
			Reasoning: {
				Enabled:        getEnvBool("REASONING_ENABLED", true),
				Prefix:         "/reasoning",
				SessionTimeout: getEnvDuration("REASONING_SESSION_TIMEOUT", time.Hour),
			},
			Automation: {
				Enabled:        getEnvBool("AUTOMATION_ENABLED", true),
				Prefix:         "/automation",
				SessionTimeout: getEnvDuration("AUTOMATION_SESSION_TIMEOUT", 30*time.Minute),
			},
			NLAutomation: {
				Enabled:        getEnvBool("NL_AUTOMATION_ENABLED", true),
				Prefix:         "/nl-automation",
				SessionTimeout: getEnvDuration("NL_AUTOMATION_SESSION_TIMEOUT", time.Hour),
			},
		},
	}

	if path := getEnv("TOOLSETS_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read TOOLSETS_FILE: %w", err)
		}
		if err := cfg.ApplyToolsetsYAML(data); err != nil {
			return nil, fmt.Errorf("parse TOOLSETS_FILE: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyToolsetsYAML merges tool-set overrides of the form
//
//	toolsets:
//	  reasoning: {enabled: true, prefix: /think, sessionTimeout: 2h}
func (c *Config) ApplyToolsetsYAML(data []byte) error {
	var file toolsetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	for name, o := range file.Toolsets {
		ts, ok := c.Toolsets[name]
		if !ok {
			return fmt.Errorf("unknown tool-set %q", name)
		}
		if o.Enabled != nil {
			ts.Enabled = *o.Enabled
		}
		if o.Prefix != "" {
			ts.Prefix = o.Prefix
		}
		if o.SessionTimeout != "" {
			d, err := time.ParseDuration(o.SessionTimeout)
			if err != nil {
				return fmt.Errorf("tool-set %q: sessionTimeout: %w", name, err)
			}
			ts.SessionTimeout = d
		}
		c.Toolsets[name] = ts
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Transport.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be > 0")
	}
	if c.Transport.MaxRequestBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.Credential.MinLength < 0 {
		return fmt.Errorf("CREDENTIAL_MIN_LENGTH must be >= 0")
	}
	switch c.Browser.Backend {
	case "simulated", "playwright":
	default:
		return fmt.Errorf("BROWSER_BACKEND must be simulated or playwright, got %q", c.Browser.Backend)
	}
	switch c.Interpreter.Kind {
	case "rules":
	case "openai":
		if c.Interpreter.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when INTERPRETER=openai")
		}
	case "grpc":
		if c.Interpreter.GrpcAddr == "" {
			return fmt.Errorf("INTERPRETER_GRPC_ADDR is required when INTERPRETER=grpc")
		}
	default:
		return fmt.Errorf("INTERPRETER must be rules, openai or grpc, got %q", c.Interpreter.Kind)
	}

	prefixes := make(map[string]string)
	for name, ts := range c.Toolsets {
		if !ts.Enabled {
			continue
		}
		if !strings.HasPrefix(ts.Prefix, "/") || ts.Prefix == "/" {
			return fmt.Errorf("tool-set %q prefix must start with / and not be the root, got %q", name, ts.Prefix)
		}
		if ts.SessionTimeout <= 0 {
			return fmt.Errorf("tool-set %q session timeout must be > 0", name)
		}
		if other, dup := prefixes[ts.Prefix]; dup {
			return fmt.Errorf("tool-sets %q and %q share prefix %q", other, name, ts.Prefix)
		}
		prefixes[ts.Prefix] = name
	}
	return nil
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
