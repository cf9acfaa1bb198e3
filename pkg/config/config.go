package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string
	DataDir  string

	// Adapter mode: "bridge" talks to real MT5 terminal bridges,
	// "sim" runs against in-memory terminals.
	AdapterMode string

	// Master terminal bridge
	MasterAccountID string
	MasterBridgeURL string

	// Copier terminal bridges, parsed from COPIER_BRIDGES
	// ("accountID=http://host:port", comma separated).
	CopierBridges []BridgeEndpoint

	// Copy rules
	CopyRatio       float64 // scaled volume = master volume * ratio
	CopyFixedLot    float64 // if > 0, overrides ratio with a fixed lot
	MaxRetries      int
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
	AdapterTimeout  time.Duration
	SlippagePoints  int
	FillingMode     string
	CopyCloses      bool
	CommentTracking bool
	CopyInterval    time.Duration

	// Bridge event stream
	WSDialTimeout           time.Duration
	WSPongTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int

	// Normalizer dedupe
	DedupeTTL    time.Duration
	DedupeBucket time.Duration

	// Engine
	EventBufferSize int
	WorkerCount     int

	// Order submission rate limit (requests per second, 0 = unlimited)
	OrderRateLimit float64
	OrderRateBurst int

	// Dashboard push
	PushBufferSize int

	// Storage
	StorageMode  string // "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// BridgeEndpoint identifies one copier terminal bridge.
type BridgeEndpoint struct {
	AccountID string
	URL       string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "5000"),
		DataDir:  getEnvOrDefault("DATA_DIR", defaultDataDir()),

		AdapterMode: getEnvOrDefault("ADAPTER_MODE", "sim"),

		// Master bridge defaults
		MasterAccountID: getEnvOrDefault("MASTER_ACCOUNT_ID", "master"),
		MasterBridgeURL: getEnvOrDefault("MASTER_BRIDGE_URL", "http://localhost:8787"),

		// Copy rule defaults
		CopyRatio:       getFloat64OrDefault("COPY_RATIO", 1.0),
		CopyFixedLot:    getFloat64OrDefault("COPY_FIXED_LOT", 0),
		MaxRetries:      getIntOrDefault("COPY_MAX_RETRIES", 3),
		RetryBackoffMin: getDurationOrDefault("COPY_RETRY_BACKOFF_MIN", 500*time.Millisecond),
		RetryBackoffMax: getDurationOrDefault("COPY_RETRY_BACKOFF_MAX", 10*time.Second),
		AdapterTimeout:  getDurationOrDefault("ADAPTER_TIMEOUT", 5*time.Second),
		SlippagePoints:  getIntOrDefault("COPY_SLIPPAGE_POINTS", 20),
		FillingMode:     getEnvOrDefault("COPY_FILLING_MODE", "FOK"),
		CopyCloses:      getBoolOrDefault("COPY_CLOSES", true),
		CommentTracking: getBoolOrDefault("COPY_COMMENT_TRACKING", true),
		CopyInterval:    getDurationOrDefault("COPY_INTERVAL", 50*time.Millisecond),

		// Stream defaults
		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPongTimeout:           getDurationOrDefault("WS_PONG_TIMEOUT", 15*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		WSMessageBufferSize:     getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", 1000),

		// Normalizer defaults
		DedupeTTL:    getDurationOrDefault("DEDUPE_TTL", 5*time.Minute),
		DedupeBucket: getDurationOrDefault("DEDUPE_BUCKET", 1*time.Second),

		// Engine defaults
		EventBufferSize: getIntOrDefault("EVENT_BUFFER_SIZE", 1000),
		WorkerCount:     getIntOrDefault("ENGINE_WORKER_COUNT", 8),

		// Rate limit defaults
		OrderRateLimit: getFloat64OrDefault("ORDER_RATE_LIMIT", 10),
		OrderRateBurst: getIntOrDefault("ORDER_RATE_BURST", 5),

		// Push defaults
		PushBufferSize: getIntOrDefault("PUSH_BUFFER_SIZE", 64),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "copier"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "copier123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "mt5_copier"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	bridges, err := parseBridges(os.Getenv("COPIER_BRIDGES"))
	if err != nil {
		return nil, fmt.Errorf("parse COPIER_BRIDGES: %w", err)
	}
	cfg.CopierBridges = bridges

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.AdapterMode != "bridge" && c.AdapterMode != "sim" {
		return fmt.Errorf("ADAPTER_MODE must be 'bridge' or 'sim', got %q", c.AdapterMode)
	}

	if c.AdapterMode == "bridge" && len(c.CopierBridges) == 0 {
		return fmt.Errorf("COPIER_BRIDGES cannot be empty in bridge mode")
	}

	if c.CopyRatio <= 0 && c.CopyFixedLot <= 0 {
		return fmt.Errorf("one of COPY_RATIO or COPY_FIXED_LOT must be positive")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("COPY_MAX_RETRIES cannot be negative, got %d", c.MaxRetries)
	}

	if c.RetryBackoffMin <= 0 || c.RetryBackoffMax < c.RetryBackoffMin {
		return fmt.Errorf("invalid retry backoff range [%s, %s]", c.RetryBackoffMin, c.RetryBackoffMax)
	}

	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("ADAPTER_TIMEOUT must be positive, got %s", c.AdapterTimeout)
	}

	if c.FillingMode != "FOK" && c.FillingMode != "IOC" {
		return fmt.Errorf("COPY_FILLING_MODE must be 'FOK' or 'IOC', got %q", c.FillingMode)
	}

	if c.WorkerCount <= 0 {
		return fmt.Errorf("ENGINE_WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}

	if c.StorageMode != "postgres" && c.StorageMode != "console" {
		return fmt.Errorf("STORAGE_MODE must be 'postgres' or 'console', got %q", c.StorageMode)
	}

	return nil
}

func parseBridges(raw string) ([]BridgeEndpoint, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	bridges := make([]BridgeEndpoint, 0, len(parts))
	seen := make(map[string]bool, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idx := strings.Index(part, "=")
		if idx <= 0 || idx == len(part)-1 {
			return nil, fmt.Errorf("entry %q must be accountID=url", part)
		}

		id := part[:idx]
		if seen[id] {
			return nil, fmt.Errorf("duplicate account id %q", id)
		}
		seen[id] = true

		bridges = append(bridges, BridgeEndpoint{AccountID: id, URL: part[idx+1:]})
	}

	return bridges, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mt5-copier"
	}
	return filepath.Join(home, ".mt5-copier")
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
