package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `json:"server"`
	MongoDB   MongoDBConfig   `json:"mongodb"`
	RPC       RPCConfig       `json:"rpc"`
	Protocol  ProtocolConfig  `json:"protocol"`
	Cache     CacheConfig     `json:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI              string        `json:"uri"`
	Database         string        `json:"database"`
	APIKeyCollection string        `json:"api_key_collection"`
	ConnectTimeout   time.Duration `json:"connect_timeout"`
	MaxPoolSize      uint64        `json:"max_pool_size"`
}

// RPCConfig holds Sui RPC configuration
type RPCConfig struct {
	Endpoint   string        `json:"endpoint"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
}

// ProtocolConfig holds lending-protocol integration configuration
type ProtocolConfig struct {
	// SDKEndpoint is the base URL of the lending-SDK sidecar service.
	SDKEndpoint string        `json:"sdk_endpoint"`
	SDKTimeout  time.Duration `json:"sdk_timeout"`

	// ObligationKeyType is the Move struct type of obligation key objects,
	// used for direct owned-object scans.
	ObligationKeyType string `json:"obligation_key_type"`

	// ObligationCacheTTL bounds how long a resolved obligation ID is
	// trusted before re-querying the chain.
	ObligationCacheTTL time.Duration `json:"obligation_cache_ttl"`

	// MarketDataTTL bounds minimum-borrow and market-data caching.
	MarketDataTTL time.Duration `json:"market_data_ttl"`

	// BufferExemptSymbol skips the minimum-borrow safety buffer. The
	// protocol's on-chain minimum for this coin already accounts for
	// rounding.
	BufferExemptSymbol string `json:"buffer_exempt_symbol"`

	// AllowCreateOnQueryFailure restores the legacy availability-favoring
	// behavior of treating a failed portfolio query as "no obligation"
	// and falling through to creation. Off by default: the failure
	// surfaces to the caller instead, avoiding spurious duplicates.
	AllowCreateOnQueryFailure bool `json:"allow_create_on_query_failure"`
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	CleanupInterval time.Duration `json:"cleanup_interval"`
	MaxSize         int           `json:"max_size"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	WindowSize        time.Duration `json:"window_size"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`

	// BuildCost is the budget cost charged to transaction-building
	// requests; reads cost a single unit.
	BuildCost int `json:"build_cost"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string   `json:"level"`
	Environment string   `json:"environment"`
	OutputPaths []string `json:"output_paths"`
}

// LoadConfig loads configuration from environment variables with defaults.
// A .env file in the working directory is honored when present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		MongoDB: MongoDBConfig{
			URI:              getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:         getEnv("MONGODB_DATABASE", "sui_lending_api"),
			APIKeyCollection: getEnv("MONGODB_APIKEY_COLLECTION", "api_keys"),
			ConnectTimeout:   getDurationEnv("MONGODB_CONNECT_TIMEOUT", 10*time.Second),
			MaxPoolSize:      getUint64Env("MONGODB_MAX_POOL_SIZE", 100),
		},
		RPC: RPCConfig{
			Endpoint:   getEnv("SUI_RPC_ENDPOINT", "https://fullnode.mainnet.sui.io"),
			Timeout:    getDurationEnv("SUI_RPC_TIMEOUT", 30*time.Second),
			MaxRetries: getIntEnv("SUI_RPC_MAX_RETRIES", 3),
			RetryDelay: getDurationEnv("SUI_RPC_RETRY_DELAY", 1*time.Second),
		},
		Protocol: ProtocolConfig{
			SDKEndpoint:               getEnv("PROTOCOL_SDK_ENDPOINT", "http://localhost:3001"),
			SDKTimeout:                getDurationEnv("PROTOCOL_SDK_TIMEOUT", 30*time.Second),
			ObligationKeyType:         getEnv("PROTOCOL_OBLIGATION_KEY_TYPE", "0xefe8b36d5b2e43728cc323298626b83177803521d195cfb11e15b910e892fddf::obligation::ObligationKey"),
			ObligationCacheTTL:        getDurationEnv("PROTOCOL_OBLIGATION_CACHE_TTL", 300*time.Second),
			MarketDataTTL:             getDurationEnv("PROTOCOL_MARKET_DATA_TTL", 60*time.Second),
			BufferExemptSymbol:        getEnv("PROTOCOL_BUFFER_EXEMPT_SYMBOL", "USDC"),
			AllowCreateOnQueryFailure: getBoolEnv("PROTOCOL_ALLOW_CREATE_ON_QUERY_FAILURE", false),
		},
		Cache: CacheConfig{
			CleanupInterval: getDurationEnv("CACHE_CLEANUP_INTERVAL", 60*time.Second),
			MaxSize:         getIntEnv("CACHE_MAX_SIZE", 10000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getIntEnv("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
			WindowSize:        getDurationEnv("RATE_LIMIT_WINDOW_SIZE", time.Minute),
			CleanupInterval:   getDurationEnv("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
			BuildCost:         getIntEnv("RATE_LIMIT_BUILD_COST", 5),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: getEnv("LOG_ENVIRONMENT", "development"),
			OutputPaths: getStringSliceEnv("LOG_OUTPUT_PATHS", []string{"stdout"}),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getUint64Env(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uint64Value, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uint64Value
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Simple comma-separated parsing
		return []string{value}
	}
	return defaultValue
}
