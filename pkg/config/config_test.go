package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8787", cfg.ListenAddr)
	assert.Equal(t, "policies/lumyn-support.v0.yml", cfg.PolicyPath)
	assert.Equal(t, ".lumyn/lumyn.db", cfg.StorePath)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, "default", cfg.RedactionProfile)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Zero(t, cfg.RateRPM)
	assert.Empty(t, cfg.PostgresDSN)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LUMYN_LISTEN_ADDR", ":9000")
	t.Setenv("LUMYN_TOP_K", "10")
	t.Setenv("LUMYN_POLICY_MODE", "advisory")
	t.Setenv("LUMYN_RATE_RPM", "120")
	t.Setenv("LUMYN_API_SECRET", "s3cret")

	cfg := Load()
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.TopK)
	assert.Equal(t, "advisory", cfg.PolicyMode)
	assert.Equal(t, 120, cfg.RateRPM)
	assert.Equal(t, "s3cret", cfg.APISecret)
}

func TestTopKFallbackOnGarbage(t *testing.T) {
	t.Setenv("LUMYN_TOP_K", "many")
	assert.Equal(t, 5, Load().TopK)
}
