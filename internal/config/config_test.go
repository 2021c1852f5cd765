package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodSecret = "0123456789abcdef0123456789abcdef-test"

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, k := range []string{"HTTP_ADDR", "APP_ENV", "JWT_SECRET", "TOKEN_TTL", "ADMIN_MAX_QUOTA",
		"PASSWORD_HASHER", "BCRYPT_COST", "REDIS_URL", "NOTIFY_CHANNEL", "CORS_ORIGINS", "LOGIN_RATE_PER_MINUTE", "TRUST_PROXY_HEADERS"} {
		t.Setenv(k, "")
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"JWT_SECRET": goodSecret})

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 14, cfg.AdminMaxQuota)
	assert.Equal(t, "bcrypt", cfg.PasswordHasher)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, DefaultNotifyChannel, cfg.NotifyChannel)
	assert.Empty(t, cfg.CORSOrigins)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.TrustProxyHeaders)
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	setEnv(t, map[string]string{
		"JWT_SECRET":            goodSecret,
		"APP_ENV":               "Production",
		"TOKEN_TTL":             "2h",
		"ADMIN_MAX_QUOTA":       "3",
		"PASSWORD_HASHER":       "ARGON2ID",
		"CORS_ORIGINS":          "https://a.example, https://b.example ,",
		"LOGIN_RATE_PER_MINUTE": "5",
		"TRUST_PROXY_HEADERS":   "true",
	})

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 3, cfg.AdminMaxQuota)
	assert.Equal(t, "argon2id", cfg.PasswordHasher)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 5, cfg.LoginRatePerMinute)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestConfigFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"bad ttl", map[string]string{"JWT_SECRET": goodSecret, "TOKEN_TTL": "soon"}},
		{"negative quota", map[string]string{"JWT_SECRET": goodSecret, "ADMIN_MAX_QUOTA": "-1"}},
		{"unknown hasher", map[string]string{"JWT_SECRET": goodSecret, "PASSWORD_HASHER": "md5"}},
		{"bcrypt cost too low", map[string]string{"JWT_SECRET": goodSecret, "BCRYPT_COST": "3"}},
		{"bcrypt cost too high", map[string]string{"JWT_SECRET": goodSecret, "BCRYPT_COST": "32"}},
		{"bad proxy flag", map[string]string{"JWT_SECRET": goodSecret, "TRUST_PROXY_HEADERS": "maybe"}},
		{"zero rate", map[string]string{"JWT_SECRET": goodSecret, "LOGIN_RATE_PER_MINUTE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			_, err := ConfigFromEnv()
			require.Error(t, err)
		})
	}
}

func TestConfigFromEnv_BcryptCostBounds(t *testing.T) {
	for _, cost := range []string{"4", "31"} {
		setEnv(t, map[string]string{"JWT_SECRET": goodSecret, "BCRYPT_COST": cost})
		_, err := ConfigFromEnv()
		require.NoError(t, err, cost)
	}
}

func TestValidateSecret(t *testing.T) {
	require.ErrorIs(t, ValidateSecret(""), ErrInsecureSecret)
	require.ErrorIs(t, ValidateSecret("short"), ErrInsecureSecret)
	require.ErrorIs(t, ValidateSecret("Development-Secret-Change-In-Production"), ErrInsecureSecret)
	require.NoError(t, ValidateSecret(goodSecret))
}
