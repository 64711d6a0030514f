// Package config provides environment configuration for the session vault.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Local storage
	DatabasePath string
	// MaxItemSize is the per-item cap of the underlying store.
	MaxItemSize int
	// ChunkSize is the split size for oversized values.
	ChunkSize int
	// ActiveSessionCap bounds locally retained active sessions.
	ActiveSessionCap int

	// Remote sync
	RemoteURL        string
	RemoteAPIKey     string
	SyncTimeout      time.Duration
	SyncDebounce     time.Duration
	SyncMinInterval  time.Duration
	ReachabilityTime time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSEnabled  bool

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Local storage
		DatabasePath:     getEnv("DATABASE_PATH", "sessionvault.db"),
		MaxItemSize:      getIntEnv("STORAGE_MAX_ITEM_SIZE", 512*1024),
		ChunkSize:        getIntEnv("STORAGE_CHUNK_SIZE", 256*1024),
		ActiveSessionCap: getIntEnv("ACTIVE_SESSION_CAP", 10),

		// Remote sync
		RemoteURL:        getEnv("REMOTE_URL", ""),
		RemoteAPIKey:     getEnv("REMOTE_API_KEY", ""),
		SyncTimeout:      getDurationEnv("SYNC_TIMEOUT", 10*time.Second),
		SyncDebounce:     getDurationEnv("SYNC_DEBOUNCE_DELAY", 2*time.Second),
		SyncMinInterval:  getDurationEnv("SYNC_MIN_INTERVAL", 5*time.Second),
		ReachabilityTime: getDurationEnv("REACHABILITY_TIMEOUT", 3*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "openai"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
