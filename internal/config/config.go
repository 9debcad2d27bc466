// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/vehicle-care/internal/schedule"
)

// Store backends selectable with STORE.
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds everything the server and tools need at startup.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	Store    string
	MongoURI string
	MongoDB  string

	JWTSecret string
	JWTExpiry time.Duration

	CatalogFile      string
	DueHorizon       int64
	DueSoonThreshold int64

	MQTTBroker   string
	MQTTClientID string

	RateLimitRequests int
	RateLimitWindow   time.Duration
	// TrustProxy makes the rate limiter key clients by X-Forwarded-For.
	TrustProxy bool
}

// Load reads the configuration. Outside production a .env file in the working
// directory is loaded first; variables already set in the environment win.
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Warn("Failed to load .env file")
		}
	}

	cfg := &Config{
		Env:               getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Store:             strings.ToLower(getEnv("STORE", StoreMongo)),
		MongoURI:          getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:           getEnv("MONGO_DB", "vehicle_care"),
		JWTSecret:         getEnv("JWT_SECRET", "default-secret-key-change-in-production"),
		CatalogFile:       os.Getenv("CATALOG_FILE"),
		MQTTBroker:        os.Getenv("MQTT_BROKER"),
		MQTTClientID:      getEnv("MQTT_CLIENT_ID", "vehicle-care"),
		JWTExpiry:         24 * time.Hour,
		DueHorizon:        schedule.DefaultHorizon,
		DueSoonThreshold:  schedule.DefaultDueSoonThreshold,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	}

	var err error
	if cfg.JWTExpiry, err = getDuration("JWT_EXPIRY", cfg.JWTExpiry); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", cfg.RateLimitWindow); err != nil {
		return nil, err
	}
	if cfg.DueHorizon, err = getInt64("DUE_HORIZON", cfg.DueHorizon); err != nil {
		return nil, err
	}
	if cfg.DueSoonThreshold, err = getInt64("DUE_SOON_THRESHOLD", cfg.DueSoonThreshold); err != nil {
		return nil, err
	}
	n, err := getInt64("RATE_LIMIT_REQUESTS", int64(cfg.RateLimitRequests))
	if err != nil {
		return nil, err
	}
	cfg.RateLimitRequests = int(n)
	if cfg.TrustProxy, err = getBool("TRUST_PROXY", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Store != StoreMongo && c.Store != StoreMemory {
		return fmt.Errorf("%w: STORE must be %q or %q, got %q", ErrInvalidConfig, StoreMongo, StoreMemory, c.Store)
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalidConfig)
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Policy returns the due-service policy configured for the engine.
func (c *Config) Policy() schedule.Policy {
	return schedule.Policy{Horizon: c.DueHorizon, DueSoonThreshold: c.DueSoonThreshold}
}

// Catalog loads CATALOG_FILE, or returns the built-in catalog when unset.
func (c *Config) Catalog() (*schedule.Catalog, error) {
	if c.CatalogFile == "" {
		return schedule.DefaultCatalog(), nil
	}
	return schedule.LoadCatalog(c.CatalogFile)
}

// Planner builds the engine from the configured catalog and policy.
func (c *Config) Planner() (*schedule.Planner, error) {
	catalog, err := c.Catalog()
	if err != nil {
		return nil, err
	}
	return schedule.NewPlanner(catalog, c.Policy())
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, key, v)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidConfig, key, v)
	}
	return d, nil
}
