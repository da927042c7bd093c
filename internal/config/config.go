package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/secrets"
)

// Identity store backends
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Revocation ledger backends
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
	LedgerSQLite   = "sqlite"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Ledger    LedgerConfig
	Redis     RedisConfig
	Email     EmailConfig
	RateLimit RateLimitConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	LogFormat       string // json or text
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	StorageBackend  string
	TrustedProxies  []string // CIDR ranges allowed to set X-Forwarded-For
}

type AuthConfig struct {
	JWTSecret           string
	SealKey             []byte
	Issuer              string
	AccessTokenExpiry   time.Duration
	RefreshTokenExpiry  time.Duration
	ReuseDetection      bool
	TimingFloor         time.Duration
	TimingJitterMs      int
	BcryptCost          int
	RecoveryCASAttempts int
	TOTPIssuer          string
	Quotas              models.Quotas
	CleanupInterval     time.Duration
}

type LedgerConfig struct {
	Backend    string
	Timeout    time.Duration
	RetryDelay time.Duration
	Retries    int
	SQLitePath string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type EmailConfig struct {
	Enabled     bool
	Region      string
	FromAddress string
}

type RateLimitConfig struct {
	LoginMaxFailures int
	LoginWindow      time.Duration
	IPRequestsPerMin int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	sealKeyEncoded := getEnv("SEAL_KEY", "")
	if sealKeyEncoded == "" {
		return nil, fmt.Errorf("SEAL_KEY is required")
	}
	sealKey, err := secrets.DecodeKey(sealKeyEncoded)
	if err != nil {
		return nil, fmt.Errorf("SEAL_KEY: %w", err)
	}
	if len(sealKey) != secrets.SealKeyLength {
		return nil, fmt.Errorf("SEAL_KEY must decode to %d bytes (got %d)", secrets.SealKeyLength, len(sealKey))
	}

	env := getEnv("ENV", "development")
	issuer := getEnv("TOKEN_ISSUER", "warden")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			LogFormat:       getEnv("LOG_FORMAT", defaultLogFormat(env)),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			StorageBackend:  getEnv("STORAGE_BACKEND", StoragePostgres),
			TrustedProxies:  getEnvAsList("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			SealKey:             sealKey,
			Issuer:              issuer,
			AccessTokenExpiry:   getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:  getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			ReuseDetection:      getEnvAsBool("REFRESH_REUSE_DETECTION", true),
			TimingFloor:         getEnvAsDuration("TIMING_FLOOR", 10*time.Millisecond),
			TimingJitterMs:      getEnvAsInt("TIMING_JITTER_MS", 0),
			BcryptCost:          getEnvAsInt("BCRYPT_COST", 14),
			RecoveryCASAttempts: getEnvAsInt("RECOVERY_CAS_ATTEMPTS", 5),
			TOTPIssuer:          getEnv("TOTP_ISSUER", issuer),
			Quotas: models.Quotas{
				DailyScans:      getEnvAsInt("QUOTA_DAILY_SCANS", 10),
				ConcurrentScans: getEnvAsInt("QUOTA_CONCURRENT_SCANS", 2),
				Plan:            getEnv("QUOTA_PLAN", "free"),
			},
			CleanupInterval: getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
		},
		Ledger: LedgerConfig{
			Backend:    getEnv("LEDGER_BACKEND", LedgerPostgres),
			Timeout:    getEnvAsDuration("LEDGER_TIMEOUT", 2*time.Second),
			RetryDelay: getEnvAsDuration("LEDGER_RETRY_DELAY", 50*time.Millisecond),
			Retries:    getEnvAsInt("LEDGER_RETRIES", 1),
			SQLitePath: getEnv("SQLITE_PATH", "warden-ledger.db"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "warden:"),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			Region:      getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		},
		RateLimit: RateLimitConfig{
			LoginMaxFailures: getEnvAsInt("LOGIN_MAX_FAILURES", 8),
			LoginWindow:      getEnvAsDuration("LOGIN_FAILURE_WINDOW", 15*time.Minute),
			IPRequestsPerMin: getEnvAsInt("IP_REQUESTS_PER_MINUTE", 20),
		},
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Server.StorageBackend {
	case StoragePostgres:
	case StorageMemory:
		if c.Server.Env == "production" {
			return fmt.Errorf("STORAGE_BACKEND=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Server.StorageBackend)
	}

	switch c.Ledger.Backend {
	case LedgerPostgres, LedgerRedis, LedgerSQLite:
	case LedgerMemory:
		if c.Server.Env == "production" {
			return fmt.Errorf("LEDGER_BACKEND=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Ledger.Backend)
	}

	if c.UsesPostgres() && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}

	if c.Auth.AccessTokenExpiry <= 0 || c.Auth.RefreshTokenExpiry <= 0 {
		return fmt.Errorf("token expiries must be positive")
	}
	if c.Auth.RefreshTokenExpiry < c.Auth.AccessTokenExpiry {
		return fmt.Errorf("REFRESH_TOKEN_EXPIRY must not be shorter than ACCESS_TOKEN_EXPIRY")
	}
	if c.Ledger.Timeout <= 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must be positive")
	}
	if c.Email.Enabled && c.Email.FromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when EMAIL_ENABLED is set")
	}
	return nil
}

// UsesPostgres reports whether any component needs the database
func (c *Config) UsesPostgres() bool {
	return c.Server.StorageBackend == StoragePostgres || c.Ledger.Backend == LedgerPostgres
}

// MaxCredentialLifetime is how long a blacklisted id must stay queryable
func (c *AuthConfig) MaxCredentialLifetime() time.Duration {
	if c.RefreshTokenExpiry > c.AccessTokenExpiry {
		return c.RefreshTokenExpiry
	}
	return c.AccessTokenExpiry
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := secrets.MinSigningKeyLength
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func defaultLogFormat(env string) string {
	if env == "production" {
		return "json"
	}
	return "text"
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
