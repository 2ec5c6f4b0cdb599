// Package config provides configuration loading and validation for the
// server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the port the API listens on when none is configured.
const DefaultPort = 8000

// Config represents the configuration that can be loaded from a JSON or
// YAML file. All fields are optional; missing values come from the
// environment or defaults.
type Config struct {
	// Server
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
	CORSOrigin string `json:"cors_origin,omitempty" yaml:"cors_origin,omitempty"`

	// Storage for wizard sessions; DatabaseURL and SQLitePath are exclusive.
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`

	// LLM
	LLMProvider string `json:"llm_provider,omitempty" yaml:"llm_provider,omitempty"`
	OllamaURL   string `json:"ollama_url,omitempty" yaml:"ollama_url,omitempty"`
	OllamaModel string `json:"ollama_model,omitempty" yaml:"ollama_model,omitempty"`
	GeminiModel string `json:"gemini_model,omitempty" yaml:"gemini_model,omitempty"`
	APIKey      string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Gemini API key

	// Optional integrations
	AMQPURL      string `json:"amqp_url,omitempty" yaml:"amqp_url,omitempty"`
	AMQPExchange string `json:"amqp_exchange,omitempty" yaml:"amqp_exchange,omitempty"`
	ExportBucket string `json:"export_bucket,omitempty" yaml:"export_bucket,omitempty"`

	// ParseRoot is the only directory /parse-local may read; empty disables it.
	ParseRoot string `json:"parse_root,omitempty" yaml:"parse_root,omitempty"`

	// Behavior
	UseBrowser bool `json:"use_browser,omitempty" yaml:"use_browser,omitempty"` // Render job postings in headless Chrome when HTTP text is thin
	Verbose    bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// LoadConfig loads configuration from a file. Files ending in .yaml or .yml
// are parsed as YAML, everything else as JSON.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// FromEnv reads the configuration from environment variables. Unset
// variables leave fields empty so file values can take over.
func FromEnv() Config {
	cfg := Config{
		CORSOrigin:   os.Getenv("CORS_ORIGIN"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SQLitePath:   os.Getenv("SQLITE_PATH"),
		LLMProvider:  os.Getenv("LLM_PROVIDER"),
		OllamaURL:    os.Getenv("OLLAMA_URL"),
		OllamaModel:  os.Getenv("OLLAMA_MODEL"),
		GeminiModel:  os.Getenv("GEMINI_MODEL"),
		APIKey:       os.Getenv("GEMINI_API_KEY"),
		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: os.Getenv("AMQP_EXCHANGE"),
		ExportBucket: os.Getenv("EXPORT_BUCKET"),
		ParseRoot:    os.Getenv("PARSE_ROOT"),
	}
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		cfg.Port = port
	}
	if v, err := strconv.ParseBool(os.Getenv("USE_BROWSER")); err == nil {
		cfg.UseBrowser = v
	}
	return cfg
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		return fmt.Errorf("config error: 'database_url' and 'sqlite_path' are mutually exclusive")
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535, got %d", c.Port)
	}

	switch strings.ToLower(c.LLMProvider) {
	case "", "ollama", "gemini":
	default:
		return fmt.Errorf("config error: unknown llm_provider %q", c.LLMProvider)
	}

	if c.SQLitePath != "" && c.SQLitePath != ":memory:" {
		dir := filepath.Dir(c.SQLitePath)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("config error: sqlite directory not found: %s", dir)
		}
	}

	if c.ParseRoot != "" {
		if info, err := os.Stat(c.ParseRoot); err != nil || !info.IsDir() {
			return fmt.Errorf("config error: parse_root is not a directory: %s", c.ParseRoot)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from
// defaults. The CLI uses it to layer env over the config file.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.CORSOrigin == "" {
		result.CORSOrigin = defaults.CORSOrigin
	}
	// A store chosen explicitly wins over the other kind in defaults.
	if result.DatabaseURL == "" && result.SQLitePath == "" {
		result.DatabaseURL = defaults.DatabaseURL
		result.SQLitePath = defaults.SQLitePath
	}
	if result.LLMProvider == "" {
		result.LLMProvider = defaults.LLMProvider
	}
	if result.OllamaURL == "" {
		result.OllamaURL = defaults.OllamaURL
	}
	if result.OllamaModel == "" {
		result.OllamaModel = defaults.OllamaModel
	}
	if result.GeminiModel == "" {
		result.GeminiModel = defaults.GeminiModel
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.AMQPURL == "" {
		result.AMQPURL = defaults.AMQPURL
	}
	if result.AMQPExchange == "" {
		result.AMQPExchange = defaults.AMQPExchange
	}
	if result.ExportBucket == "" {
		result.ExportBucket = defaults.ExportBucket
	}
	if result.ParseRoot == "" {
		result.ParseRoot = defaults.ParseRoot
	}

	if result.Port == 0 {
		if defaults.Port > 0 {
			result.Port = defaults.Port
		} else {
			result.Port = DefaultPort
		}
	}

	// Bool fields: cannot distinguish unset from false, so either side
	// enabling them wins.
	result.UseBrowser = result.UseBrowser || defaults.UseBrowser
	result.Verbose = result.Verbose || defaults.Verbose

	return result
}
