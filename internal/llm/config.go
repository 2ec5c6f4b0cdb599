// Package llm provides centralized LLM configuration and client abstractions.
// Collaborator endpoints pick a model tier; the configured provider maps it to a model.
package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for short answers: company inference, keyword lists
	TierLite ModelTier = "lite"
	// TierStandard is for structured output: section parsing, ATS gap checks
	TierStandard ModelTier = "standard"
	// TierAdvanced is for rewriting the resume
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderOllama is a local Ollama runtime
	ProviderOllama Provider = "ollama"
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

// Defaults for the local Ollama runtime.
const (
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaModel   = "gemma3:1b"
	DefaultOllamaTimeout = 180 * time.Second
)

// Config holds the model configuration for the application
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
	// BaseURL is the Ollama server URL. Unused by Gemini.
	BaseURL string
	// Timeout bounds a single generation request.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration (local Ollama)
func DefaultConfig() *Config {
	return DefaultOllamaConfig()
}

// DefaultOllamaConfig returns a configuration using one local model for every tier
func DefaultOllamaConfig() *Config {
	return &Config{
		Provider: ProviderOllama,
		Models: map[ModelTier]string{
			TierStandard: DefaultOllamaModel,
		},
		BaseURL: DefaultOllamaURL,
		Timeout: DefaultOllamaTimeout,
	}
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Timeout: 60 * time.Second,
	}
}

// ConfigFromEnv builds a configuration from LLM_PROVIDER, OLLAMA_URL,
// OLLAMA_MODEL, OLLAMA_TIMEOUT (seconds) and GEMINI_MODEL.
func ConfigFromEnv() (*Config, error) {
	provider := Provider(strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER"))))

	switch provider {
	case "", ProviderOllama:
		cfg := DefaultOllamaConfig()
		if v := os.Getenv("OLLAMA_URL"); v != "" {
			cfg.BaseURL = v
		}
		if v := os.Getenv("OLLAMA_MODEL"); v != "" {
			cfg.Models[TierStandard] = v
		}
		if v := os.Getenv("OLLAMA_TIMEOUT"); v != "" {
			secs, err := strconv.ParseFloat(v, 64)
			if err != nil || secs <= 0 {
				return nil, fmt.Errorf("invalid OLLAMA_TIMEOUT %q", v)
			}
			cfg.Timeout = time.Duration(secs * float64(time.Second))
		}
		return cfg, nil
	case ProviderGemini:
		cfg := DefaultGeminiConfig()
		if v := os.Getenv("GEMINI_MODEL"); v != "" {
			cfg = cfg.WithModel(TierAdvanced, v)
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider: c.Provider,
		Models:   make(map[ModelTier]string),
		BaseURL:  c.BaseURL,
		Timeout:  c.Timeout,
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}
