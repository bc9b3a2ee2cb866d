package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-level settings: credentials, collaborator endpoints
// and where the three domain documents live.
type Config struct {
	Todoist TodoistConfig `yaml:"todoist"`
	LLM     LLMConfig     `yaml:"llm"`
	Paths   PathsConfig   `yaml:"paths"`
	Fetcher FetcherConfig `yaml:"fetcher"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`

	// Mock selects the deterministic labeling and re-ranking engines.
	Mock bool `yaml:"mock"`
}

// TodoistConfig configures the task service client.
type TodoistConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
	SyncURL string `yaml:"sync_url" validate:"required,url"`
	Project string `yaml:"project" validate:"required"`
	Timeout string `yaml:"timeout"`
}

// LLMConfig configures the language-model transport.
type LLMConfig struct {
	Provider string `yaml:"provider" validate:"oneof=openai gemini none"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// PathsConfig locates configuration documents and local state.
type PathsConfig struct {
	Rules     string `yaml:"rules" validate:"required"`
	TaskSense string `yaml:"task_sense" validate:"required"`
	Ranking   string `yaml:"ranking" validate:"required"`
	State     string `yaml:"state" validate:"required"`
	Database  string `yaml:"database" validate:"required"`
}

// FetcherConfig configures page title fetching.
type FetcherConfig struct {
	Timeout   string `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Todoist: TodoistConfig{
			BaseURL: "https://api.todoist.com/rest/v2",
			SyncURL: "https://api.todoist.com/sync/v9",
			Project: "Inbox",
			Timeout: "30s",
		},
		LLM: LLMConfig{
			Provider: "none",
			Model:    "gpt-3.5-turbo",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "30s",
		},
		Paths: PathsConfig{
			Rules:     "rules.json",
			TaskSense: "task_sense_config.json",
			Ranking:   "ranking_config.json",
			State:     filepath.Join(".triage", "last_run"),
			Database:  filepath.Join(".triage", "triage.db"),
		},
		Fetcher: FetcherConfig{
			Timeout:   "10s",
			UserAgent: "Mozilla/5.0 (compatible; triage/1.0)",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, &Error{Path: path, Err: fmt.Errorf("parse: %w", err)}
			}
		case os.IsNotExist(err):
		default:
			return nil, &Error{Path: path, Err: fmt.Errorf("read: %w", err)}
		}
	}

	cfg.applyEnvOverrides()

	if err := validate.Struct(cfg); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. This is the only
// place the process environment is consulted.
func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("TODOIST_API_TOKEN"); token != "" {
		c.Todoist.Token = strings.TrimSpace(token)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = strings.TrimSpace(key)
		if c.LLM.Provider == "" || c.LLM.Provider == "none" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = strings.TrimSpace(key)
	}
	if p := os.Getenv("TRIAGE_LLM_PROVIDER"); p != "" {
		c.LLM.Provider = strings.ToLower(p)
		if c.LLM.Provider == "gemini" {
			if key := os.Getenv("GEMINI_API_KEY"); key != "" {
				c.LLM.APIKey = strings.TrimSpace(key)
			}
		}
	}
	if v := os.Getenv("GPT_MOCK_MODE"); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		c.Mock = true
	}
	if path := os.Getenv("RANKING_CONFIG_PATH"); path != "" {
		c.Paths.Ranking = path
	}
	if path := os.Getenv("TRIAGE_DB"); path != "" {
		c.Paths.Database = path
	}
}

// TodoistTimeout returns the task service timeout.
func (c *Config) TodoistTimeout() time.Duration {
	return parseDuration(c.Todoist.Timeout, 30*time.Second)
}

// LLMTimeout returns the language-model call timeout.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 30*time.Second)
}

// FetchTimeout returns the page fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return parseDuration(c.Fetcher.Timeout, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
