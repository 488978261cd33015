package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 所有環境變數只在這裡讀取
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Data layout
	DataDir    string // per-symbol CSV files live here
	StocksFile string // stocks_config.txt

	// Collection
	LookbackDays int

	// External APIs
	TWSE SourceConfig
	TPEX SourceConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// SourceConfig holds per-source HTTP parameters
type SourceConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RequestDelay time.Duration
	MaxRetries   int
}

// Load reads configuration from environment variables
// ⭐ SSOT: 只有這個函式呼叫 os.Getenv()
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8087"),
		Env:  getEnv("ENV", "development"),

		DataDir:    getEnv("DATA_DIR", "data"),
		StocksFile: getEnv("STOCKS_FILE", "stocks_config.txt"),

		LookbackDays: getEnvAsInt("LOOKBACK_DAYS", 365),

		TWSE: SourceConfig{
			BaseURL:      getEnv("TWSE_BASE_URL", "https://www.twse.com.tw"),
			Timeout:      getEnvAsDuration("TWSE_TIMEOUT", "30s"),
			RequestDelay: getEnvAsDuration("TWSE_REQUEST_DELAY", "2s"),
			MaxRetries:   getEnvAsInt("TWSE_MAX_RETRIES", 3),
		},
		TPEX: SourceConfig{
			BaseURL:      getEnv("TPEX_BASE_URL", "https://www.tpex.org.tw"),
			Timeout:      getEnvAsDuration("TPEX_TIMEOUT", "30s"),
			RequestDelay: getEnvAsDuration("TPEX_REQUEST_DELAY", "1s"),
			MaxRetries:   getEnvAsInt("TPEX_MAX_RETRIES", 3),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.LookbackDays <= 0 {
		return fmt.Errorf("LOOKBACK_DAYS must be positive, got %d", c.LookbackDays)
	}

	if c.TWSE.MaxRetries < 1 || c.TPEX.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
