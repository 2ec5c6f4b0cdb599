package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jonathan/resume-tailor/internal/config"
	"github.com/jonathan/resume-tailor/internal/db"
	"github.com/jonathan/resume-tailor/internal/db/sqlite"
	"github.com/jonathan/resume-tailor/internal/llm"
)

// DefaultSQLitePath is used when neither a database URL nor a SQLite path
// is configured.
const DefaultSQLitePath = "resume_tailor.db"

// loadConfig layers the environment under the optional config file and
// validates the result.
func loadConfig(path string) (config.Config, error) {
	env := config.FromEnv()
	cfg := env.MergeWithDefaults(config.Config{})
	if path != "" {
		fileCfg, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = fileCfg.MergeWithDefaults(env)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// llmConfig builds the model configuration. LLM_PROVIDER and friends are
// read first; explicit config values override them.
func llmConfig(cfg config.Config) (*llm.Config, error) {
	lc, err := llm.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	switch llm.Provider(strings.ToLower(cfg.LLMProvider)) {
	case llm.ProviderGemini:
		if lc.Provider != llm.ProviderGemini {
			lc = llm.DefaultGeminiConfig()
		}
		if cfg.GeminiModel != "" {
			lc = lc.WithModel(llm.TierAdvanced, cfg.GeminiModel)
		}
	case llm.ProviderOllama:
		if lc.Provider != llm.ProviderOllama {
			lc = llm.DefaultOllamaConfig()
		}
	}
	if lc.Provider == llm.ProviderOllama {
		if cfg.OllamaURL != "" {
			lc.BaseURL = cfg.OllamaURL
		}
		if cfg.OllamaModel != "" {
			lc.Models[llm.TierStandard] = cfg.OllamaModel
		}
	}
	if lc.Provider == llm.ProviderGemini && cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
	}
	return lc, nil
}

func newLLMClient(ctx context.Context, cfg config.Config) (llm.Client, *llm.Config, error) {
	lc, err := llmConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	client, err := llm.NewClient(ctx, lc, cfg.APIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, lc, nil
}

// openStore connects to Postgres when a database URL is configured and to
// SQLite otherwise, and applies the schema.
func openStore(ctx context.Context, cfg config.Config) (db.Store, error) {
	if cfg.DatabaseURL != "" {
		pg, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		log.Printf("[store] using postgres")
		return pg, nil
	}

	path := cfg.SQLitePath
	if path == "" {
		path = DefaultSQLitePath
	}
	store, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	log.Printf("[store] using sqlite at %s", path)
	return store, nil
}
