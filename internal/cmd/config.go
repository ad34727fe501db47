package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the scheduler's runtime configuration, read from environment
// variables with a .env fallback for development.
type Config struct {
	// Postgres
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// NATS
	NATSURL string

	// Room catalog; empty means the built-in default catalog.
	RoomsConfigPath string

	// Engine tuning
	LiquidityThreshold int
	GenerationTimeout  time.Duration
	LockTTL            time.Duration
	DedupTTL           time.Duration

	// Proof source
	ProofSourceURL string

	// Ops HTTP server
	OpsPort int

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"
}

// requiredEnvVars must be set outside development.
var requiredEnvVars = []string{
	"DB_PASSWORD",
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnvAsInt("DB_PORT", 5432),
		DBUser:             getEnv("DB_USER", "postgres"),
		DBPassword:         getEnv("DB_PASSWORD", ""),
		DBName:             getEnv("DB_NAME", "wheelhouse"),
		DBSSLMode:          getEnv("DB_SSLMODE", "disable"),
		NATSURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		RoomsConfigPath:    getEnv("ROOMS_CONFIG", ""),
		LiquidityThreshold: getEnvAsInt("LIQUIDITY_THRESHOLD", 100),
		GenerationTimeout:  time.Duration(getEnvAsInt("GENERATION_TIMEOUT_SEC", 20)) * time.Second,
		LockTTL:            time.Duration(getEnvAsInt("LOCK_TTL_SEC", 30)) * time.Second,
		DedupTTL:           time.Duration(getEnvAsInt("DEDUP_TTL_SEC", 45)) * time.Second,
		ProofSourceURL:     getEnv("PROOF_SOURCE_URL", ""),
		OpsPort:            getEnvAsInt("OPS_PORT", 8080),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
	}

	if err := validateEnv(); err != nil {
		return nil, err
	}
	if cfg.LockTTL < cfg.GenerationTimeout {
		return nil, fmt.Errorf("LOCK_TTL_SEC (%s) must exceed GENERATION_TIMEOUT_SEC (%s)",
			cfg.LockTTL, cfg.GenerationTimeout)
	}
	return cfg, nil
}

// validateEnv checks the variables that have no safe default.
func validateEnv() error {
	var missing []string
	for _, name := range requiredEnvVars {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DSN returns the Postgres connection URL.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
