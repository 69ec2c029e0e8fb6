package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the voicepilot orchestrator and worker.
type Config struct {
	API       APIConfig
	LLM       LLMConfig
	Browser   BrowserConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Telemetry TelemetryConfig
}

type APIConfig struct {
	Host string
	Port int
}

type LLMConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

type BrowserConfig struct {
	AgentURL string
	Timeout  time.Duration
}

type DatabaseConfig struct {
	// URL is the Postgres connection string. Empty means the in-memory
	// store is used (local dev, tests).
	URL      string
	MinConns int
	MaxConns int
}

type RedisConfig struct {
	URL string
}

// WorkerConfig drives the periodic worker process.
type WorkerConfig struct {
	// APICoreURL is the orchestrator's HTTP origin. Worker jobs are
	// HTTP-only against it, never direct DB access.
	APICoreURL    string
	LLMRuntimeURL string
	// HealthCheckEveryNMinutes must divide 60; misconfigured values
	// fall back to 5.
	HealthCheckEveryNMinutes int
	DailyBriefingHour        int
	DailyBriefingMinute      int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// ApprovalTimeout is how long the executor waits for a step approval
// before failing the task.
func (c *Config) ApprovalTimeout() time.Duration {
	return envDuration("APPROVAL_TIMEOUT", 300*time.Second)
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		API: APIConfig{
			Host: envStr("API_HOST", "0.0.0.0"),
			Port: envInt("API_PORT", 8000),
		},
		LLM: LLMConfig{
			BaseURL: envStr("LLM_BASE_URL", "http://localhost:11434/v1"),
			Model:   envStr("LLM_MODEL", "qwen2.5:7b"),
			Timeout: envDuration("LLM_TIMEOUT", 120*time.Second),
		},
		Browser: BrowserConfig{
			AgentURL: envStr("BROWSER_AGENT_URL", "http://localhost:8001"),
			Timeout:  envDuration("BROWSER_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			URL:      envStr("DATABASE_URL", ""),
			MinConns: envInt("DATABASE_MIN_CONNECTIONS", 2),
			MaxConns: envInt("DATABASE_MAX_CONNECTIONS", 10),
		},
		Redis: RedisConfig{
			URL: envStr("REDIS_URL", "redis://localhost:6379"),
		},
		Worker: WorkerConfig{
			APICoreURL:               envStr("API_CORE_URL", "http://localhost:8000"),
			LLMRuntimeURL:            envStr("LLM_RUNTIME_URL", "http://localhost:11434"),
			HealthCheckEveryNMinutes: envInt("HEALTH_CHECK_EVERY_N_MINUTES", 5),
			DailyBriefingHour:        envInt("DAILY_BRIEFING_HOUR", 8),
			DailyBriefingMinute:      envInt("DAILY_BRIEFING_MINUTE", 0),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "voicepilot"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts either a Go duration string ("120s") or a bare
// number of seconds, matching how the original deployment configured
// its timeouts.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
