// Package config provides configuration loading for the repurposing service.
package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the repurposing service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Postgres configuration
	PostgresURL          string
	PostgresPollInterval time.Duration

	// RunStore configuration
	RunStoreType string // "memory", "redis" or "postgres"
	RunStoreTTL  time.Duration
	EventMaxLen  int64

	// Engine
	MaxConcurrentAgents int
	DefaultMode         string
	StageTimeout        time.Duration
	RankExpression      string
	RecoverOnStart      bool

	// Resilience
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BreakerThreshold int
	BreakerRecovery  time.Duration
	ToolTimeout      time.Duration
	DependencyRPS    float64
	DependencyBurst  int

	// Critique defaults applied when a request leaves them unset
	QualityThreshold float64
	MaxIterations    int

	// LLM
	LLMProvider string // gemini, openai, ollama, mock
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMTimeout  time.Duration

	// Transcription; empty endpoint uses the built-in sample transcript
	TranscribeURL          string
	TranscribeTimeout      time.Duration
	TranscribeClientID     string
	TranscribeClientSecret string
	TranscribeTokenURL     string
	TranscribeScopes       []string

	// Artifact export; empty bucket disables export
	S3Endpoint   string
	S3Bucket     string
	S3Region     string
	S3AccessKey  string
	S3SecretKey  string
	S3UseSSL     bool
	S3PathPrefix string
	S3URLExpiry  time.Duration

	// Tracing; empty endpoint disables export
	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string

	// OIDC configuration
	OIDCIssuer   string
	OIDCClientID string
	OIDCEnabled  bool

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Flow templates directory; empty disables the watcher
	FlowsDir string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file, then configuration from environment
// variables with sensible defaults. Variables already set win over .env.
func Load() *Config {
	if err := godotenv.Load(getEnv("ENV_FILE", ".env")); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read env file", slog.Any("error", err))
	}

	return &Config{
		// Server
		Port:          getEnv("PORT", "7070"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// Postgres
		PostgresURL:          getEnv("DATABASE_URL", ""),
		PostgresPollInterval: getDuration("PG_POLL_INTERVAL", 500*time.Millisecond),

		// RunStore
		RunStoreType: getEnv("REPURPOSE_RUNSTORE", "memory"),
		RunStoreTTL:  getDuration("RUNSTORE_TTL", 7*24*time.Hour),
		EventMaxLen:  getInt64("EVENT_MAX_LEN", 5000),

		// Engine
		MaxConcurrentAgents: getInt("MAX_CONCURRENT_AGENTS", 4),
		DefaultMode:         getEnv("EXECUTION_MODE", "PARALLEL"),
		StageTimeout:        getDuration("STAGE_TIMEOUT", 2*time.Minute),
		RankExpression:      getEnv("ADAPTIVE_RANK_EXPR", ""),
		RecoverOnStart:      getBool("RECOVER_ON_START", true),

		// Resilience
		RetryMaxAttempts: getInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getDuration("RETRY_MAX_DELAY", 30*time.Second),
		BreakerThreshold: getInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecovery:  getDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
		ToolTimeout:      getDuration("TOOL_TIMEOUT", 30*time.Second),
		DependencyRPS:    getFloat("DEPENDENCY_RPS", 0),
		DependencyBurst:  getInt("DEPENDENCY_BURST", 1),

		// Critique
		QualityThreshold: getFloat("QUALITY_THRESHOLD", 0.8),
		MaxIterations:    getInt("MAX_ITERATIONS", 3),

		// LLM
		LLMProvider: getEnv("LLM_PROVIDER", "mock"),
		LLMModel:    getEnv("LLM_MODEL", ""),
		LLMAPIKey:   getEnv("LLM_API_KEY", ""),
		LLMBaseURL:  getEnv("LLM_BASE_URL", ""),
		LLMTimeout:  getDuration("LLM_TIMEOUT", 60*time.Second),

		// Transcription
		TranscribeURL:          getEnv("TRANSCRIBE_URL", ""),
		TranscribeTimeout:      getDuration("TRANSCRIBE_TIMEOUT", 5*time.Minute),
		TranscribeClientID:     getEnv("TRANSCRIBE_CLIENT_ID", ""),
		TranscribeClientSecret: getEnv("TRANSCRIBE_CLIENT_SECRET", ""),
		TranscribeTokenURL:     getEnv("TRANSCRIBE_TOKEN_URL", ""),
		TranscribeScopes:       getStringSlice("TRANSCRIBE_SCOPES", nil),

		// Export
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3Region:     getEnv("S3_REGION", ""),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
		S3UseSSL:     getBool("S3_USE_SSL", false),
		S3PathPrefix: getEnv("S3_PATH_PREFIX", ""),
		S3URLExpiry:  getDuration("S3_URL_EXPIRY", 24*time.Hour),

		// Tracing
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "repurpose-orchestrator"),

		// OIDC
		OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
		OIDCClientID: getEnv("OIDC_CLIENT_ID", ""),
		OIDCEnabled:  getBool("OIDC_ENABLED", false),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		FlowsDir: getEnv("FLOWS_DIR", ""),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultVal
}
