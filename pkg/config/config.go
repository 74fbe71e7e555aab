package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the runtime's environment-sourced configuration. It is
// deliberately flat — every field maps to exactly one env var — the way
// a 12-factor process is configured.
type Config struct {
	LogLevel string

	PolicyPath string
	RulesPath  string

	TraceSinkKind string // "file", "postgres", "sqlite", "s3"
	TraceFilePath string
	TraceDSN      string
	TraceQueueCap int

	SandboxRoot     string
	BlockPrivateNet bool

	MaxFlowDepth int

	DefaultMaxCostUSD    float64
	DefaultMaxTokens     int64
	DefaultMaxBurnPerMin float64
	DefaultMaxAPICalls   int64
	DefaultMaxUSDPerHour float64

	EnrichTimeout time.Duration

	OTelExporterEndpoint string

	ReplayCacheSize int
	ReplayCacheTTL  time.Duration
}

// Load reads Config from the process environment, applying the same
// safe-default-for-dev-mode posture throughout.
func Load() *Config {
	return &Config{
		LogLevel: getenvDefault("LOG_LEVEL", "INFO"),

		PolicyPath: getenvDefault("FAILCORE_POLICY_PATH", "./policy.yaml"),
		RulesPath:  getenvDefault("FAILCORE_RULES_PATH", "./rules.yaml"),

		TraceSinkKind: getenvDefault("FAILCORE_TRACE_SINK", "file"),
		TraceFilePath: getenvDefault("FAILCORE_TRACE_FILE", "./trace.jsonl"),
		TraceDSN:      os.Getenv("FAILCORE_TRACE_DSN"),
		TraceQueueCap: getenvInt("FAILCORE_TRACE_QUEUE_CAP", 1024),

		SandboxRoot:     getenvDefault("FAILCORE_SANDBOX_ROOT", ""),
		BlockPrivateNet: getenvBool("FAILCORE_BLOCK_PRIVATE_NET", true),

		MaxFlowDepth: getenvInt("FAILCORE_MAX_FLOW_DEPTH", 10),

		DefaultMaxCostUSD:    getenvFloat("FAILCORE_MAX_COST_USD", 0),
		DefaultMaxTokens:     int64(getenvInt("FAILCORE_MAX_TOKENS", 0)),
		DefaultMaxBurnPerMin: getenvFloat("FAILCORE_MAX_BURN_PER_MIN_USD", 0),
		DefaultMaxAPICalls:   int64(getenvInt("FAILCORE_MAX_API_CALLS", 0)),
		DefaultMaxUSDPerHour: getenvFloat("FAILCORE_MAX_USD_PER_HOUR", 0),

		EnrichTimeout: getenvDuration("FAILCORE_ENRICH_TIMEOUT", 200*time.Millisecond),

		OTelExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		ReplayCacheSize: getenvInt("FAILCORE_REPLAY_CACHE_SIZE", 4096),
		ReplayCacheTTL:  getenvDuration("FAILCORE_REPLAY_CACHE_TTL", 10*time.Minute),
	}
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
