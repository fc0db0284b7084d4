// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultJWTSecret       = "dev-secret-change-in-production"
	defaultIdentityHashKey = "dev-identity-key-change-in-production"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port         int
	Environment  string // "development" | "staging" | "production"
	MaxBodyBytes int64

	// Database
	DatabaseURL string
	AutoMigrate bool

	// Security
	JWTSecret       string
	AllowedOrigins  []string
	IdentityHeader  string
	IdentityHashKey string

	// CSRF double-submit cookie
	CSRFCookieName string
	CSRFHeaderName string
	CSRFTTL        time.Duration

	// Rate limiting
	RateLimitBackend       string // "memory" | "redis"
	RateLimitCapacity      int
	RateLimitWindow        time.Duration
	RateLimitBackoffBase   time.Duration
	RateLimitBackoffMax    time.Duration
	RateLimitMaxIdentities int
	RateLimitFailOpen      bool

	// Redis (for the shared rate limiter)
	RedisURL string

	// Submissions
	DailyReportQuota       int
	MaxImageBytes          int64
	AllowedImageTypes      []string
	ImageProbeTimeout      time.Duration
	AllowPrivateImageHosts bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvInt("PORT", 8080),
		Environment:  getEnv("ENVIRONMENT", "development"),
		MaxBodyBytes: getEnvInt64("MAX_BODY_BYTES", 8<<20),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		AutoMigrate: getEnvBool("AUTO_MIGRATE", true),

		JWTSecret:       getEnv("JWT_SECRET", defaultJWTSecret),
		AllowedOrigins:  splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		IdentityHeader:  getEnv("IDENTITY_HEADER", "X-Forwarded-For"),
		IdentityHashKey: getEnv("IDENTITY_HASH_KEY", defaultIdentityHashKey),

		CSRFCookieName: getEnv("CSRF_COOKIE_NAME", "csrf_token"),
		CSRFHeaderName: getEnv("CSRF_HEADER_NAME", "X-CSRF-Token"),
		CSRFTTL:        getEnvDuration("CSRF_TTL", 24*time.Hour),

		RateLimitBackend:       strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
		RateLimitCapacity:      getEnvInt("RATE_LIMIT_CAPACITY", 5),
		RateLimitWindow:        getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitBackoffBase:   getEnvDuration("RATE_LIMIT_BACKOFF_BASE", time.Second),
		RateLimitBackoffMax:    getEnvDuration("RATE_LIMIT_BACKOFF_MAX", 5*time.Minute),
		RateLimitMaxIdentities: getEnvInt("RATE_LIMIT_MAX_IDENTITIES", 10000),
		RateLimitFailOpen:      getEnvBool("RATE_LIMIT_FAIL_OPEN", false),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		DailyReportQuota:       getEnvInt("DAILY_REPORT_QUOTA", 3),
		MaxImageBytes:          getEnvInt64("MAX_IMAGE_BYTES", 5<<20),
		AllowedImageTypes:      splitCSV(getEnv("ALLOWED_IMAGE_TYPES", "image/jpeg,image/png,image/webp,image/gif")),
		ImageProbeTimeout:      getEnvDuration("IMAGE_PROBE_TIMEOUT", 5*time.Second),
		AllowPrivateImageHosts: getEnvBool("ALLOW_PRIVATE_IMAGE_HOSTS", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and, in production, required secrets.
func (c *Config) Validate() error {
	if c.RateLimitCapacity <= 0 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RateLimitBackoffBase <= 0 || c.RateLimitBackoffMax < c.RateLimitBackoffBase {
		return fmt.Errorf("RATE_LIMIT_BACKOFF_MAX must be >= RATE_LIMIT_BACKOFF_BASE > 0")
	}
	if c.RateLimitMaxIdentities <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_IDENTITIES must be positive")
	}
	if c.RateLimitBackend != "memory" && c.RateLimitBackend != "redis" {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimitBackend)
	}
	if c.DailyReportQuota <= 0 {
		return fmt.Errorf("DAILY_REPORT_QUOTA must be positive")
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be positive")
	}
	if len(c.AllowedImageTypes) == 0 {
		return fmt.Errorf("ALLOWED_IMAGE_TYPES must not be empty")
	}
	if c.CSRFCookieName == "" || c.CSRFHeaderName == "" || c.CSRFTTL <= 0 {
		return fmt.Errorf("CSRF cookie name, header name and TTL must be set")
	}
	if c.IdentityHeader == "" {
		return fmt.Errorf("IDENTITY_HEADER must be set")
	}

	// Validate required fields in production
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.IdentityHashKey == defaultIdentityHashKey {
			return fmt.Errorf("IDENTITY_HASH_KEY must be set in production")
		}
	}
	return nil
}

// IsProduction reports whether secure cookies and strict checks apply.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
