package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// ProviderError reports a failed or unusable upstream model response.
type ProviderError struct {
	Provider Provider
	Stage    string
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Stage, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// OllamaClient implements Client for a local Ollama runtime
type OllamaClient struct {
	client *api.Client
	config *Config
}

// NewOllamaClient creates a client for the Ollama server at config.BaseURL
func NewOllamaClient(config *Config) (*OllamaClient, error) {
	base := config.BaseURL
	if base == "" {
		base = DefaultOllamaURL
	}
	parsedURL, err := url.Parse(base)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Ollama URL %q", base)
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	return &OllamaClient{
		client: api.NewClient(parsedURL, httpClient),
		config: config,
	}, nil
}

// GenerateContent generates text content using the specified model tier
func (c *OllamaClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return c.generate(ctx, prompt, tier, nil)
}

// GenerateJSON generates JSON content using the specified model tier
func (c *OllamaClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	text, err := c.generate(ctx, prompt, tier, json.RawMessage(`"json"`))
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

func (c *OllamaClient) generate(ctx context.Context, prompt string, tier ModelTier, format json.RawMessage) (string, error) {
	model := c.config.GetModel(tier)
	if model == "" {
		return "", fmt.Errorf("no model configured for tier %s", tier)
	}

	stream := false
	req := &api.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: &stream,
		Format: format,
		Options: map[string]any{
			"temperature": 0.1,
		},
	}

	log.Printf("[llm] ollama generate model=%s prompt_len=%d", model, len(prompt))

	var response api.GenerateResponse
	err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		perr := &ProviderError{Provider: ProviderOllama, Stage: "generate", Message: "request failed", Cause: err}
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			perr.Message = c.missingModelMessage(ctx, model)
		}
		return "", perr
	}

	text := strings.TrimSpace(response.Response)
	if text == "" {
		return "", &ProviderError{Provider: ProviderOllama, Stage: "empty-response", Message: "model returned no text"}
	}
	return text, nil
}

// missingModelMessage distinguishes a model that is not pulled from other failures.
func (c *OllamaClient) missingModelMessage(ctx context.Context, model string) string {
	models, err := c.ListModels(ctx)
	if err != nil {
		return fmt.Sprintf("cannot reach Ollama: %v", err)
	}
	for _, m := range models {
		if m == model {
			return "request failed"
		}
	}
	available := strings.Join(models, ", ")
	if available == "" {
		available = "NONE"
	}
	return fmt.Sprintf("model '%s' not found in Ollama. Available: %s. Pull it with: ollama pull %s",
		model, available, strings.SplitN(model, ":", 2)[0])
}

// ListModels returns the names of the models installed on the server
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOllama, Stage: "tags", Message: "failed to list models", Cause: err}
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// GetModel returns the model name for a tier
func (c *OllamaClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (c *OllamaClient) Close() error {
	return nil
}

var (
	_ Client      = (*OllamaClient)(nil)
	_ ModelLister = (*OllamaClient)(nil)
	_ Client      = (*GeminiClient)(nil)
)
