package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig is the limit for one route. A Path ending in "/" matches
// every path below it.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int           // requests per Window; 0 means unlimited
	Window time.Duration
	Burst  int // bucket capacity, Limit when 0
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTTL         time.Duration // buckets unused for this long are dropped
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// DefaultConfig is used when no configuration is given.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    600,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Whitelist:       map[string]bool{},
		Blacklist:       map[string]bool{},
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// LoadConfig reads RATE_LIMIT_* environment variables over DefaultConfig.
func LoadConfig() *Config {
	if !getEnvBool("RATE_LIMIT_ENABLED", true) {
		return &Config{Enabled: false}
	}

	cfg := DefaultConfig()
	cfg.DefaultLimit = getEnvInt("RATE_LIMIT_DEFAULT_LIMIT", cfg.DefaultLimit)
	cfg.DefaultWindow = getEnvDuration("RATE_LIMIT_DEFAULT_WINDOW", cfg.DefaultWindow)
	cfg.CleanupInterval = getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.Whitelist = parseIPList(os.Getenv("RATE_LIMIT_WHITELIST"))
	cfg.Blacklist = parseIPList(os.Getenv("RATE_LIMIT_BLACKLIST"))

	llmLimit := getEnvInt("RATE_LIMIT_LLM_PER_HOUR", 0)
	if llmLimit > 0 {
		for i := range cfg.EndpointConfigs {
			if cfg.EndpointConfigs[i].Window == time.Hour {
				cfg.EndpointConfigs[i].Limit = llmLimit
			}
		}
	}
	return cfg
}

// DefaultEndpointConfigs returns the per-route limits.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// LLM-backed collaborators
		{Path: "/tailor", Method: "POST", Limit: 60, Window: time.Hour, Burst: 5},
		{Path: "/tailor/all", Method: "POST", Limit: 60, Window: time.Hour, Burst: 5},
		{Path: "/keywords", Method: "POST", Limit: 60, Window: time.Hour, Burst: 5},
		{Path: "/infer-company", Method: "POST", Limit: 60, Window: time.Hour, Burst: 5},
		{Path: "/parse-structured", Method: "POST", Limit: 60, Window: time.Hour, Burst: 5},
		{Path: "/ats-check", Method: "POST", Limit: 60, Window: time.Hour, Burst: 5},

		// Document and network work
		{Path: "/parse", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/parse-local", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/export", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/fetch-job", Method: "POST", Limit: 30, Window: time.Minute, Burst: 5},

		// Wizard sessions
		{Path: "/sessions", Method: "POST", Limit: 30, Window: time.Minute, Burst: 10},
		{Path: "/sessions/", Method: "POST", Limit: 300, Window: time.Minute, Burst: 30},
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parseIPList parses a comma-separated list of IP addresses.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
