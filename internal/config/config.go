// Package config holds the identity service settings read from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultHTTPAddr           = "0.0.0.0:8431"
	DefaultTokenTTL           = 24 * time.Hour
	DefaultAdminMaxQuota      = 14
	DefaultBcryptCost         = 12
	DefaultLoginRatePerMinute = 20
	DefaultNotifyChannel      = "identity:notifications"

	// MinSecretLength is the minimum accepted JWT_SECRET length in bytes.
	MinSecretLength = 32
)

var ErrInsecureSecret = errors.New("insecure jwt secret")

// placeholders that ship in sample .env files and tutorials.
var insecureSecrets = map[string]struct{}{
	"secret":                    {},
	"secretkey":                 {},
	"changeme":                  {},
	"change-me":                 {},
	"your-secret-key":           {},
	"your_jwt_secret":           {},
	"your-super-secret-jwt-key": {},
	"your-256-bit-secret":       {},
	"fallback-secret":           {},
	"development-secret-change-in-production": {},
}

type Config struct {
	HTTPAddr           string
	Env                string
	JWTSecret          string
	TokenTTL           time.Duration
	AdminMaxQuota      int
	PasswordHasher     string
	BcryptCost         int
	RedisURL           string
	NotifyChannel      string
	CORSOrigins        []string
	LoginRatePerMinute int
	TrustProxyHeaders  bool
}

// ConfigFromEnv reads the service config from env vars and validates it.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:           getenv("HTTP_ADDR", DefaultHTTPAddr),
		Env:                getenv("APP_ENV", "development"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		TokenTTL:           DefaultTokenTTL,
		AdminMaxQuota:      DefaultAdminMaxQuota,
		PasswordHasher:     strings.ToLower(getenv("PASSWORD_HASHER", "bcrypt")),
		BcryptCost:         DefaultBcryptCost,
		RedisURL:           os.Getenv("REDIS_URL"),
		NotifyChannel:      getenv("NOTIFY_CHANNEL", DefaultNotifyChannel),
		LoginRatePerMinute: DefaultLoginRatePerMinute,
	}

	if v := os.Getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_TTL %q", v)
		}
		cfg.TokenTTL = d
	}
	if v := os.Getenv("ADMIN_MAX_QUOTA"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid ADMIN_MAX_QUOTA %q", v)
		}
		cfg.AdminMaxQuota = n
	}
	if v := os.Getenv("BCRYPT_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BCRYPT_COST %q", v)
		}
		cfg.BcryptCost = n
	}
	if v := os.Getenv("TRUST_PROXY_HEADERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TRUST_PROXY_HEADERS %q", v)
		}
		cfg.TrustProxyHeaders = b
	}
	if v := os.Getenv("LOGIN_RATE_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid LOGIN_RATE_PER_MINUTE %q", v)
		}
		cfg.LoginRatePerMinute = n
	}
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service must not start with.
func (c Config) Validate() error {
	if err := ValidateSecret(c.JWTSecret); err != nil {
		return err
	}
	switch c.PasswordHasher {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("unsupported PASSWORD_HASHER %q", c.PasswordHasher)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

// IsProduction reports whether cookies must carry the Secure flag.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// ValidateSecret rejects empty, short and well-known placeholder secrets.
func ValidateSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: JWT_SECRET is empty", ErrInsecureSecret)
	}
	if _, ok := insecureSecrets[strings.ToLower(secret)]; ok {
		return fmt.Errorf("%w: JWT_SECRET is a known placeholder", ErrInsecureSecret)
	}
	if len(secret) < MinSecretLength {
		return fmt.Errorf("%w: JWT_SECRET must be at least %d bytes", ErrInsecureSecret, MinSecretLength)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
