package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ideaflow/internal/events"
)

// FileName is the config file looked up in the working directory.
const FileName = "ideaflow.yml"

// Config models ideaflow.yml.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Storage  StorageConfig   `yaml:"storage"`
	Auth     AuthConfig      `yaml:"auth"`
	Analysis AnalysisConfig  `yaml:"analysis"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Log      LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
	// DevMode exposes internal error details in API responses.
	DevMode bool `yaml:"dev_mode"`
}

const (
	BackendSQLite   = "sqlite"
	BackendJSONFile = "jsonfile"
)

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	UsersFile string        `yaml:"users_file"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type AnalysisConfig struct {
	Objectives []string         `yaml:"objectives"`
	Generative GenerativeConfig `yaml:"generative"`
}

type GenerativeConfig struct {
	Enabled         bool          `yaml:"enabled"`
	URL             string        `yaml:"url"`
	Model           string        `yaml:"model"`
	APIKeyEnv       string        `yaml:"api_key_env"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	DisableFallback bool          `yaml:"disable_fallback"`
}

// APIKey reads the key from the configured environment variable.
func (g GenerativeConfig) APIKey() string {
	if g.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(g.APIKeyEnv)
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsEnabled treats a missing enabled flag as true.
func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Storage.Backend {
	case BackendSQLite, BackendJSONFile:
	default:
		return fmt.Errorf("config.storage.backend must be %q or %q", BackendSQLite, BackendJSONFile)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("config.storage.path is required")
	}
	if strings.TrimSpace(c.Auth.UsersFile) == "" {
		return fmt.Errorf("config.auth.users_file is required")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("config.auth.token_ttl must not be negative")
	}
	seen := map[string]bool{}
	for _, obj := range c.Analysis.Objectives {
		if strings.TrimSpace(obj) == "" {
			return fmt.Errorf("config.analysis.objectives contains an empty objective")
		}
		if seen[obj] {
			return fmt.Errorf("config.analysis.objectives lists %q twice", obj)
		}
		seen[obj] = true
	}
	if g := c.Analysis.Generative; g.Enabled {
		if _, err := url.ParseRequestURI(g.URL); err != nil {
			return fmt.Errorf("config.analysis.generative.url: %w", err)
		}
		if strings.TrimSpace(g.Model) == "" {
			return fmt.Errorf("config.analysis.generative.model is required when enabled")
		}
		if g.MaxAttempts < 1 {
			return fmt.Errorf("config.analysis.generative.max_attempts must be at least 1")
		}
	}
	known := map[string]bool{}
	for _, t := range events.Types {
		known[t] = true
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if !known[evt] {
				return fmt.Errorf("config.webhooks[%d] references unknown event %s", i, evt)
			}
		}
	}
	if len(c.Webhooks) > 0 && c.Storage.Backend != BackendSQLite {
		return fmt.Errorf("config.webhooks require the %s storage backend", BackendSQLite)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName)
}

// Load reads and validates the config at path. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:3001
  base_path: /api
  dev_mode: false

storage:
  backend: sqlite
  path: data/ideaflow.db

auth:
  jwt_secret: ""
  users_file: data/users.yaml
  token_ttl: 24h

analysis:
  objectives:
    - Capacity
    - Profitability
    - Audit & Compliance
    - Customer Satisfaction
    - Employee Engagement
  generative:
    enabled: false
    url: https://api.openai.com/v1
    model: gpt-4o-mini
    api_key_env: IDEAFLOW_GENAI_API_KEY
    timeout: 30s
    max_attempts: 3
    backoff_base: 500ms
    max_backoff: 10s
    disable_fallback: false

webhooks: []

log:
  level: info
  format: text
`
