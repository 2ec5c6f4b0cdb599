package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
)

// DefaultSessionTokenHours is how long a wizard session token stays valid.
const DefaultSessionTokenHours = 72

// JWTConfig holds configuration for signing wizard session tokens.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
	// Ephemeral is set when the secret was generated at startup; tokens do
	// not survive a restart.
	Ephemeral bool
}

// NewJWTConfig creates a JWT configuration from JWT_SECRET and
// JWT_EXPIRATION_HOURS (default 72). Without JWT_SECRET a random secret is
// generated.
func NewJWTConfig() (*JWTConfig, error) {
	config := &JWTConfig{
		Secret:          os.Getenv("JWT_SECRET"),
		ExpirationHours: DefaultSessionTokenHours,
	}

	if v := os.Getenv("JWT_EXPIRATION_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_EXPIRATION_HOURS: %v", err)
		}
		config.ExpirationHours = hours
	}

	if config.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		config.Secret = secret
		config.Ephemeral = true
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}

	return config, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// normalize validates the configuration.
func (c *JWTConfig) normalize() error {
	if len(c.Secret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.ExpirationHours < 1 {
		return fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1 hour, got: %d", c.ExpirationHours)
	}
	return nil
}
