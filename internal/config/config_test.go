package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 32 zero bytes, base64
const testEncryptionKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("TOTP_ENCRYPTION_KEY", testEncryptionKey)
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Session.Policy.IdleTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Session.Policy.WarningLeadTime)
	assert.Equal(t, 30*time.Second, cfg.Session.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Phone.CodeTTL)
	assert.Equal(t, 3, cfg.Phone.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.TwoFactor.SetupWindow)
	assert.Len(t, cfg.TwoFactor.EncryptionKey, 32)
	assert.Equal(t, LockoutScopeAccount, cfg.Auth.LockoutKeyScope)
	assert.Equal(t, LockoutStorePostgres, cfg.Auth.LockoutStore)
	assert.False(t, cfg.Phone.TwilioEnabled())
	assert.Nil(t, cfg.Kafka.Brokers)
}

func TestServerConfig_Timeouts_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.actual, tt.name)
	}
}

func TestServerConfig_Timeouts_InvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	// Invalid duration should fall back to default
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"jwt secret", "JWT_SECRET"},
		{"db password", "DB_PASSWORD"},
		{"encryption key", "TOTP_ENCRYPTION_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.unset)
		})
	}
}

func TestLoad_ShortEncryptionKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOTP_ENCRYPTION_KEY", "c2hvcnQ=")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoad_WarningLeadMustBeShorterThanIdle(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_IDLE_TIMEOUT", "5m")
	t.Setenv("SESSION_WARNING_LEAD_TIME", "5m")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session timeout policy")
}

func TestLoad_LockoutScope(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOCKOUT_KEY_SCOPE", LockoutScopeAccountIP)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, LockoutScopeAccountIP, cfg.Auth.LockoutKeyScope)

	t.Setenv("LOCKOUT_KEY_SCOPE", "device")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_RedisStoreRequiresURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOCKOUT_STORE", LockoutStoreRedis)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, LockoutStoreRedis, cfg.Auth.LockoutStore)
}

func TestValidateJWTSecret(t *testing.T) {
	assert.Error(t, validateJWTSecret("short", "development"))
	assert.Error(t, validateJWTSecret("sixteen-chars-ok", "production"))
	assert.NoError(t, validateJWTSecret("sixteen-chars-ok", "development"))
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitList(" a:9092, ,b:9092 "))
}
