// Package config loads service configuration from the environment. A .env
// file is honored in development; every value has a documented default so
// the server starts with only the secrets provided.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Engine backends.
const (
	EngineLocal  = "local"
	EngineDocker = "docker"
)

// Config holds all runtime configuration for the service.
type Config struct {
	ListenAddr string

	// Datastore
	StoreBackend string
	PostgresDSN  string

	// Engine
	EngineBackend string
	Model         string
	APIKey        string
	APIBaseURL    string
	Headless      bool

	// Timeouts
	InitTimeout     time.Duration
	ActTimeout      time.Duration
	NavTimeout      time.Duration
	ShutdownTimeout time.Duration

	// Auth
	JWTSecret string
	DevToken  string

	// Limits
	RequestsPerHour    int
	RequestBurst       int
	SessionsPerProject int
	MaxLaunches        int
}

// Load reads configuration from the environment, applying defaults.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	// Missing .env is fine; system environment wins either way.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		StoreBackend:       getEnv("STORE_BACKEND", StoreMemory),
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		EngineBackend:      getEnv("ENGINE_BACKEND", EngineLocal),
		Model:              getEnv("ENGINE_MODEL", "gpt-4o"),
		APIKey:             os.Getenv("OPENAI_API_KEY"),
		APIBaseURL:         os.Getenv("OPENAI_BASE_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		DevToken:           os.Getenv("DEV_TOKEN"),
		RequestsPerHour:    getEnvInt("RATE_LIMIT_PER_HOUR", 100),
		RequestBurst:       getEnvInt("RATE_LIMIT_BURST", 10),
		SessionsPerProject: getEnvInt("SESSIONS_PER_PROJECT", 10),
		MaxLaunches:        getEnvInt("ENGINE_MAX_LAUNCHES", 4),
	}

	headless, err := strconv.ParseBool(getEnv("ENGINE_HEADLESS", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid ENGINE_HEADLESS: %w", err)
	}
	cfg.Headless = headless

	for _, d := range []struct {
		name string
		def  string
		dst  *time.Duration
	}{
		{"INIT_TIMEOUT", "60s", &cfg.InitTimeout},
		{"ACT_TIMEOUT", "90s", &cfg.ActTimeout},
		{"NAV_TIMEOUT", "30s", &cfg.NavTimeout},
		{"SHUTDOWN_TIMEOUT", "15s", &cfg.ShutdownTimeout},
	} {
		v, err := time.ParseDuration(getEnv(d.name, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.EngineBackend {
	case EngineLocal, EngineDocker:
	default:
		return fmt.Errorf("unknown ENGINE_BACKEND %q", c.EngineBackend)
	}

	if c.JWTSecret == "" && c.DevToken == "" {
		return fmt.Errorf("one of JWT_SECRET or DEV_TOKEN must be set")
	}

	if c.SessionsPerProject < 1 {
		return fmt.Errorf("SESSIONS_PER_PROJECT must be at least 1")
	}
	if c.MaxLaunches < 1 {
		return fmt.Errorf("ENGINE_MAX_LAUNCHES must be at least 1")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
