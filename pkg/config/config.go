// Package config loads runtime configuration from environment variables.
package config

import (
	"os"
	"strconv"
)

// Config holds server and engine configuration.
type Config struct {
	ListenAddr       string
	PolicyPath       string
	StorePath        string
	PostgresDSN      string
	TopK             int
	RedactionProfile string
	PolicyMode       string
	LogLevel         string

	// APISecret enables bearer-token auth on the HTTP surface when set.
	APISecret string

	// RedisAddr enables the read-through record cache when set.
	RedisAddr string

	// OTLPEndpoint enables trace and metric export when set.
	OTLPEndpoint string

	// RateRPM caps decide requests per minute per client; 0 disables.
	RateRPM int

	// ArchiveURL is the default destination for exported decision packs.
	ArchiveURL string

	// SchemaDir overrides the embedded schemas when set.
	SchemaDir string
}

// Load reads configuration from the LUMYN_* environment variables, falling
// back to workspace defaults.
func Load() *Config {
	return &Config{
		ListenAddr:       getenv("LUMYN_LISTEN_ADDR", ":8787"),
		PolicyPath:       getenv("LUMYN_POLICY_PATH", "policies/lumyn-support.v0.yml"),
		StorePath:        getenv("LUMYN_STORE_PATH", ".lumyn/lumyn.db"),
		PostgresDSN:      os.Getenv("LUMYN_POSTGRES_DSN"),
		TopK:             getenvInt("LUMYN_TOP_K", 5),
		RedactionProfile: getenv("LUMYN_REDACTION_PROFILE", "default"),
		PolicyMode:       os.Getenv("LUMYN_POLICY_MODE"),
		LogLevel:         getenv("LUMYN_LOG_LEVEL", "INFO"),
		APISecret:        os.Getenv("LUMYN_API_SECRET"),
		RedisAddr:        os.Getenv("LUMYN_REDIS_ADDR"),
		OTLPEndpoint:     os.Getenv("LUMYN_OTLP_ENDPOINT"),
		RateRPM:          getenvInt("LUMYN_RATE_RPM", 0),
		ArchiveURL:       os.Getenv("LUMYN_ARCHIVE_URL"),
		SchemaDir:        os.Getenv("LUMYN_SCHEMA_DIR"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
