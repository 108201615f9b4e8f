// Package config loads PolicyPulse configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings consumed by the sync and analysis engines.
type Config struct {
	DatabaseURL    string
	UpstreamAPIKey string
	ModelAPIKey    string
	ModelBaseURL   string
	ModelName      string

	CacheTTL         time.Duration
	MaxContextTokens int
	SafetyBuffer     int
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RateLimitDelay   time.Duration

	MaxConcurrentAnalyses  int
	MonitoredJurisdictions []string
}

// Load loads configuration from environment variables, applying defaults for
// anything unset.
func Load() *Config {
	return &Config{
		DatabaseURL:    getString("DATABASE_URL", "postgres://policypulse@localhost:5432/policypulse?sslmode=disable"),
		UpstreamAPIKey: os.Getenv("UPSTREAM_API_KEY"),
		ModelAPIKey:    os.Getenv("MODEL_API_KEY"),
		ModelBaseURL:   getString("MODEL_BASE_URL", "https://api.openai.com/v1"),
		ModelName:      getString("MODEL_NAME", "gpt-4o"),

		CacheTTL:         time.Duration(getInt("CACHE_TTL_MINUTES", 30)) * time.Minute,
		MaxContextTokens: getInt("MAX_CONTEXT_TOKENS", 120000),
		SafetyBuffer:     getInt("SAFETY_BUFFER", 20000),
		MaxRetries:       getInt("MAX_RETRIES", 3),
		RetryBaseDelay:   getSeconds("RETRY_BASE_DELAY", 1.0),
		RateLimitDelay:   getSeconds("RATE_LIMIT_DELAY", 1.0),

		MaxConcurrentAnalyses:  getInt("MAX_CONCURRENT_ANALYSES", 5),
		MonitoredJurisdictions: getList("MONITORED_JURISDICTIONS", []string{"US", "TX"}),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getSeconds(key string, def float64) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return time.Duration(def * float64(time.Second))
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
