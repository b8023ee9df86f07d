package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/obs"
)

// MinSecretLength is the minimum signing secret length in bytes.
const MinSecretLength = 32

// devSecret is only ever used when APP_ENV=development.
const devSecret = "development-only-signing-secret-change-me"

// Config holds all application configuration.
type Config struct {
	Env           string
	Server        ServerConfig
	Auth          AuthConfig
	Database      DatabaseConfig
	Audit         AuditConfig
	RateLimit     RateLimitConfig
	Log           obs.LogConfig
	SnowflakeNode int64
}

// ServerConfig holds HTTP and gRPC listener settings.
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
}

// AuthConfig holds token and password hashing settings.
type AuthConfig struct {
	Secret       string
	Issuer       string
	TokenTTL     time.Duration
	PasswordAlgo string
	BcryptCost   int

	// AllowRoleSelection lets POST /auth/register pick a role above the default.
	AllowRoleSelection bool

	// UsingDevSecret is set when Secret fell back to the development default.
	UsingDevSecret bool
}

// DatabaseConfig holds the user and audit store connection. An empty DSN
// selects the in-memory stores.
type DatabaseConfig struct {
	Driver         string
	DSN            string
	MaxOpenConns   int
	ConnectTimeout time.Duration
}

// AuditConfig holds audit queue and file sink settings.
type AuditConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
	FilePath     string
	RotationTime time.Duration
	MaxAge       time.Duration
}

// RateLimitConfig throttles the credential endpoints per client IP.
type RateLimitConfig struct {
	Burst     int
	PerSecond float64
	// Window and Requests apply to the Redis limiter.
	Window   time.Duration
	Requests int
	RedisURL string
}

// Load reads configuration from the environment, after loading a .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:           strings.ToLower(getEnv("APP_ENV", "production")),
		Server:        loadServerConfig(),
		Auth:          loadAuthConfig(),
		Database:      loadDatabaseConfig(),
		Audit:         loadAuditConfig(),
		RateLimit:     loadRateLimitConfig(),
		Log:           obs.LogConfigFromEnv(),
		SnowflakeNode: int64(getEnvInt("SNOWFLAKE_NODE", 1)),
	}
	if cfg.Auth.Secret == "" && cfg.IsDevelopment() {
		cfg.Auth.Secret = devSecret
		cfg.Auth.UsingDevSecret = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether APP_ENV=development.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getEnv("GRPC_ADDR", ""),
		ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxBodyBytes:    int64(getEnvInt("HTTP_MAX_BODY_BYTES", 1<<20)),
		TrustProxy:      getEnvBool("HTTP_TRUST_PROXY", false),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Secret:       os.Getenv("AUTH_JWT_SECRET"),
		Issuer:       getEnv("AUTH_ISSUER", "fms-auth"),
		TokenTTL:     getEnvDuration("AUTH_TOKEN_TTL", time.Hour),
		PasswordAlgo: strings.ToLower(getEnv("AUTH_PASSWORD_ALGO", "bcrypt")),
		BcryptCost:   getEnvInt("AUTH_BCRYPT_COST", 12),

		AllowRoleSelection: getEnvBool("AUTH_ALLOW_ROLE_SELECTION", true),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:         getEnv("DB_DRIVER", "pgx"),
		DSN:            os.Getenv("DB_DSN"),
		MaxOpenConns:   getEnvInt("DB_MAX_OPEN_CONNS", 10),
		ConnectTimeout: getEnvDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		QueueSize:    getEnvInt("AUDIT_QUEUE_SIZE", 1024),
		WriteTimeout: getEnvDuration("AUDIT_WRITE_TIMEOUT", 2*time.Second),
		FilePath:     os.Getenv("AUDIT_FILE"),
		RotationTime: getEnvDuration("AUDIT_ROTATION", 24*time.Hour),
		MaxAge:       getEnvDuration("AUDIT_MAX_AGE", 90*24*time.Hour),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Burst:     getEnvInt("RATE_LIMIT_BURST", 10),
		PerSecond: getEnvFloat("RATE_LIMIT_PER_SECOND", 1),
		Window:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		Requests:  getEnvInt("RATE_LIMIT_REQUESTS", 60),
		RedisURL:  os.Getenv("REDIS_URL"),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	} else if len(c.Auth.Secret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("AUTH_JWT_SECRET must be at least %d bytes", MinSecretLength))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("AUTH_TOKEN_TTL must be positive"))
	}
	switch c.Auth.PasswordAlgo {
	case "bcrypt":
		if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
			errs = append(errs, fmt.Errorf("AUTH_BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
		}
	case "argon2id":
	default:
		errs = append(errs, fmt.Errorf("unsupported AUTH_PASSWORD_ALGO %q", c.Auth.PasswordAlgo))
	}

	switch c.Database.Driver {
	case "pgx", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}

	if c.Audit.QueueSize <= 0 {
		errs = append(errs, errors.New("AUDIT_QUEUE_SIZE must be positive"))
	}
	if c.Audit.WriteTimeout <= 0 {
		errs = append(errs, errors.New("AUDIT_WRITE_TIMEOUT must be positive"))
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST and RATE_LIMIT_PER_SECOND must be positive"))
	}
	if c.RateLimit.RedisURL != "" && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		errs = append(errs, errors.New("SNOWFLAKE_NODE must be between 0 and 1023"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
