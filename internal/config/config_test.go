// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	t.Run("should carry the challenge parameters", func(t *testing.T) {
		cfg := NewDefaultConfig()

		assert.Equal(t, 30, cfg.Challenge.TotalSteps)
		assert.Equal(t, 295*time.Second, cfg.Challenge.TimeBudget)
		assert.Equal(t, 15*time.Second, cfg.Challenge.StepTimeout)
		assert.Equal(t, 5, cfg.Challenge.MaxAttempts)
		assert.Equal(t, 3, cfg.Challenge.StuckThreshold)
		assert.Equal(t, "wo_session", cfg.Challenge.SessionKey)
		assert.Equal(t, "WO_2024_CHALLENGE", cfg.Challenge.CryptoKey)
	})

	t.Run("should validate out of the box", func(t *testing.T) {
		assert.NoError(t, NewDefaultConfig().Validate())
	})

	t.Run("should default to a headless browser", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.True(t, cfg.Browser.Headless)
		assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	})
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("should apply overrides on top of defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("challenge.total_steps", 10)
		v.Set("challenge.time_budget", "60s")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.Challenge.TotalSteps)
		assert.Equal(t, time.Minute, cfg.Challenge.TimeBudget)
		assert.Equal(t, 5, cfg.Challenge.MaxAttempts, "untouched keys keep their defaults")
	})

	t.Run("should read the API key from the environment", func(t *testing.T) {
		t.Setenv("WEBNAV_LLM_API_KEY", "key-from-env")

		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "key-from-env", cfg.LLM.APIKey)
	})

	t.Run("should reject an invalid configuration", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("challenge.total_steps", 0)

		_, err := NewConfigFromViper(v)
		assert.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errStr string
	}{
		{name: "should reject an empty URL", mutate: func(c *Config) { c.Challenge.URL = "" }, errStr: "challenge.url"},
		{name: "should reject a non-positive budget", mutate: func(c *Config) { c.Challenge.TimeBudget = 0 }, errStr: "time_budget"},
		{name: "should reject a non-positive attempt limit", mutate: func(c *Config) { c.Challenge.MaxAttempts = 0 }, errStr: "max_attempts"},
		{
			name: "should reject a stuck threshold above the attempt limit",
			mutate: func(c *Config) {
				c.Challenge.StuckThreshold = 9
				c.Challenge.MaxAttempts = 5
			},
			errStr: "stuck_threshold",
		},
		{name: "should reject a missing crypto key", mutate: func(c *Config) { c.Challenge.CryptoKey = "" }, errStr: "crypto_key"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errStr)
		})
	}
}
