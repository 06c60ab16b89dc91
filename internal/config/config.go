package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/carebridge/accountsec/internal/models"
	"github.com/joho/godotenv"
)

// Lockout identity key scopes
const (
	LockoutScopeAccount   = "account"
	LockoutScopeAccountIP = "account_ip"
)

// Lockout store backends
const (
	LockoutStorePostgres = "postgres"
	LockoutStoreRedis    = "redis"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	TwoFactor TwoFactorConfig
	Phone     PhoneConfig
	Session   SessionConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Email     EmailConfig
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
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// GenericErrors collapses verification failure messages into one text.
	GenericErrors bool
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	LockoutKeyScope   string
	LockoutStore      string
	CleanupInterval   time.Duration
	LoginRateLimit    int
	StepUpRateLimit   int
	TimingMinDuration time.Duration
	TimingJitter      time.Duration
	AttemptRetention  time.Duration
	BootstrapEmail    string
	BootstrapPassword string
}

type TwoFactorConfig struct {
	Issuer        string
	EncryptionKey []byte // 32 bytes, AES-256
	SetupWindow   time.Duration
}

type PhoneConfig struct {
	CodeTTL           time.Duration
	MaxAttempts       int
	SendRateLimit     int
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	RetentionInterval time.Duration
}

type SessionConfig struct {
	Policy        models.SessionTimeoutPolicy
	PollInterval  time.Duration
	SweepInterval time.Duration
}

type RedisConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	FromName    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "accountsec"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			GenericErrors:  getEnvAsBool("SECURITY_GENERIC_ERRORS", env == "production"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 12*time.Hour),
			LockoutKeyScope:   getEnv("LOCKOUT_KEY_SCOPE", LockoutScopeAccount),
			LockoutStore:      getEnv("LOCKOUT_STORE", LockoutStorePostgres),
			CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			LoginRateLimit:    getEnvAsInt("LOGIN_RATE_LIMIT_PER_MINUTE", 20),
			StepUpRateLimit:   getEnvAsInt("STEP_UP_RATE_LIMIT_PER_HOUR", 30),
			TimingMinDuration: getEnvAsDuration("AUTH_FAILURE_MIN_DURATION", 300*time.Millisecond),
			TimingJitter:      getEnvAsDuration("AUTH_FAILURE_JITTER", 100*time.Millisecond),
			AttemptRetention:  getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 24*time.Hour),
			BootstrapEmail:    getEnv("BOOTSTRAP_EMAIL", ""),
			BootstrapPassword: getEnv("BOOTSTRAP_PASSWORD", ""),
		},
		TwoFactor: TwoFactorConfig{
			Issuer:      getEnv("TOTP_ISSUER", "CareBridge"),
			SetupWindow: getEnvAsDuration("TOTP_SETUP_WINDOW", 15*time.Minute),
		},
		Phone: PhoneConfig{
			CodeTTL:           getEnvAsDuration("PHONE_CODE_TTL", 10*time.Minute),
			MaxAttempts:       getEnvAsInt("PHONE_CODE_MAX_ATTEMPTS", 3),
			SendRateLimit:     getEnvAsInt("PHONE_SEND_RATE_LIMIT_PER_HOUR", 5),
			TwilioAccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
			TwilioFromNumber:  getEnv("TWILIO_FROM_NUMBER", ""),
			RetentionInterval: getEnvAsDuration("PHONE_CODE_RETENTION", 24*time.Hour),
		},
		Session: SessionConfig{
			Policy: models.SessionTimeoutPolicy{
				IdleTimeout:     getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
				WarningLeadTime: getEnvAsDuration("SESSION_WARNING_LEAD_TIME", 5*time.Minute),
			},
			PollInterval:  getEnvAsDuration("SESSION_POLL_INTERVAL", 30*time.Second),
			SweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 1*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_SECURITY_EVENTS_TOPIC", "security-events"),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			FromName:    getEnv("EMAIL_FROM_NAME", "CareBridge Security"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	key, err := parseEncryptionKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}
	cfg.TwoFactor.EncryptionKey = key

	if err := cfg.Session.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session timeout policy: %w", err)
	}

	switch cfg.Auth.LockoutKeyScope {
	case LockoutScopeAccount, LockoutScopeAccountIP:
	default:
		return nil, fmt.Errorf("LOCKOUT_KEY_SCOPE must be %q or %q (got %q)",
			LockoutScopeAccount, LockoutScopeAccountIP, cfg.Auth.LockoutKeyScope)
	}

	switch cfg.Auth.LockoutStore {
	case LockoutStorePostgres:
	case LockoutStoreRedis:
		if cfg.Redis.URL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when LOCKOUT_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("LOCKOUT_STORE must be %q or %q (got %q)",
			LockoutStorePostgres, LockoutStoreRedis, cfg.Auth.LockoutStore)
	}

	if cfg.Phone.MaxAttempts < 1 {
		return nil, fmt.Errorf("PHONE_CODE_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
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

// parseEncryptionKey decodes the base64 AES-256 key used for TOTP secrets.
func parseEncryptionKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// TwilioEnabled reports whether SMS should go through Twilio.
func (c *PhoneConfig) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
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

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		origins := splitList(getEnv("ALLOWED_ORIGINS", ""))
		if origins == nil {
			return []string{}
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
