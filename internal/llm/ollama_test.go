package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOllama struct {
	models   []string
	response string
	requests []map[string]any
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, _ *http.Request) {
		models := make([]map[string]string, 0, len(f.models))
		for _, m := range f.models {
			models = append(models, map[string]string{"name": m, "model": m})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.requests = append(f.requests, body)

		model, _ := body["model"].(string)
		found := false
		for _, m := range f.models {
			found = found || m == model
		}
		if !found {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "model '" + model + "' not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": model, "response": f.response, "done": true})
	})
	return mux
}

func newTestOllama(t *testing.T, fake *fakeOllama, model string) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultOllamaConfig()
	cfg.BaseURL = srv.URL
	cfg.Models[TierStandard] = model
	cfg.Timeout = 5 * time.Second

	client, err := NewOllamaClient(cfg)
	require.NoError(t, err)
	return client
}

func TestOllamaClient_GenerateContent(t *testing.T) {
	fake := &fakeOllama{models: []string{"gemma3:1b"}, response: "  Acme Corp \n"}
	client := newTestOllama(t, fake, "gemma3:1b")

	text, err := client.GenerateContent(context.Background(), "who is hiring?", TierLite)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", text)

	require.Len(t, fake.requests, 1)
	assert.Equal(t, "gemma3:1b", fake.requests[0]["model"])
	assert.Equal(t, false, fake.requests[0]["stream"])
	assert.Nil(t, fake.requests[0]["format"])
}

func TestOllamaClient_GenerateJSON(t *testing.T) {
	fake := &fakeOllama{models: []string{"gemma3:1b"}, response: "Sure!\n```json\n[\"Go\",\"SQL\"]\n```"}
	client := newTestOllama(t, fake, "gemma3:1b")

	text, err := client.GenerateJSON(context.Background(), "keywords", TierStandard)
	require.NoError(t, err)
	assert.Equal(t, `["Go","SQL"]`, text)
	assert.Equal(t, "json", fake.requests[0]["format"])
}

func TestOllamaClient_MissingModel(t *testing.T) {
	fake := &fakeOllama{models: []string{"llama3.2:3b"}}
	client := newTestOllama(t, fake, "gemma3:1b")

	_, err := client.GenerateContent(context.Background(), "prompt", TierStandard)
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ProviderOllama, perr.Provider)
	assert.Contains(t, perr.Message, "Available: llama3.2:3b")
	assert.Contains(t, perr.Message, "ollama pull gemma3")
}

func TestOllamaClient_EmptyResponse(t *testing.T) {
	fake := &fakeOllama{models: []string{"gemma3:1b"}, response: "   "}
	client := newTestOllama(t, fake, "gemma3:1b")

	_, err := client.GenerateContent(context.Background(), "prompt", TierStandard)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "empty-response", perr.Stage)
}

func TestOllamaClient_ListModels(t *testing.T) {
	fake := &fakeOllama{models: []string{"gemma3:1b", "llama3.2:3b"}}
	client := newTestOllama(t, fake, "gemma3:1b")

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemma3:1b", "llama3.2:3b"}, models)
}

func TestNewOllamaClient_InvalidURL(t *testing.T) {
	cfg := DefaultOllamaConfig()
	cfg.BaseURL = "not a url"
	_, err := NewOllamaClient(cfg)
	assert.Error(t, err)
}

func TestNewClient_UnsupportedProvider(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{Provider: "watson"}, "")
	assert.Error(t, err)

	_, err = NewClient(context.Background(), DefaultGeminiConfig(), "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "API key"))
}

func TestBuildExtractionPrompt(t *testing.T) {
	prompt := BuildExtractionPrompt(ATSGapSchema(),
		LabeledInput{Label: "RESUME", Text: "Go developer"},
		LabeledInput{Label: "JOB DESCRIPTION", Text: "Needs Python"},
	)

	assert.Contains(t, prompt, `"missing_requirements": ["string"] (required)`)
	assert.Less(t, strings.Index(prompt, "RESUME:"), strings.Index(prompt, "JOB DESCRIPTION:\n"))
	assert.Contains(t, prompt, "\"\"\"\nNeeds Python\n\"\"\"")

	sections := BuildExtractionPrompt(ResumeSectionsSchema())
	for _, f := range []string{"profile", "summary", "education", "skills", "work_experience", "projects"} {
		assert.Contains(t, sections, `"`+f+`"`)
	}
}
