package authcore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/stef9github/ReactDjango-Hub-sub008/jwt"
)

// Config is the full engine configuration. Zero values are filled from
// DefaultConfig by the builder; Validate runs at Build time.
type Config struct {
	RedisPrefix string `env:"AUTHCORE_REDIS_PREFIX"`

	JWT       JWTConfig
	Password  PasswordConfig
	Session   SessionConfig
	MFA       MFAConfig
	RateLimit RateLimitConfig
	Lockout   LockoutConfig
	Authz     AuthzConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// JWTConfig holds token signing material and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration `env:"AUTHCORE_ACCESS_TTL"`
	SigningMethod string        `env:"AUTHCORE_JWT_METHOD"`
	// HS256Key is consumed when SigningMethod is "hs256"; Ed25519 key pairs
	// are set programmatically.
	HS256Key   []byte `env:"AUTHCORE_JWT_HS256_KEY"`
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string        `env:"AUTHCORE_JWT_ISSUER"`
	Audience   string        `env:"AUTHCORE_JWT_AUDIENCE"`
	Leeway     time.Duration `env:"AUTHCORE_JWT_LEEWAY"`
	KeyID      string        `env:"AUTHCORE_JWT_KID"`
}

// PasswordConfig holds Argon2id cost parameters plus policy. Memory is KiB.
type PasswordConfig struct {
	Memory      uint32 `env:"AUTHCORE_ARGON2_MEMORY"`
	Time        uint32 `env:"AUTHCORE_ARGON2_TIME"`
	Parallelism uint8  `env:"AUTHCORE_ARGON2_PARALLELISM"`
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int `env:"AUTHCORE_PASSWORD_MIN_LENGTH"`
}

// SessionConfig bounds refresh-token family lifetime.
type SessionConfig struct {
	TTL time.Duration `env:"AUTHCORE_SESSION_TTL"`
}

// MFAConfig tunes the challenge engine.
type MFAConfig struct {
	CodeDigits       int           `env:"AUTHCORE_MFA_CODE_DIGITS"`
	ChallengeTTL     time.Duration `env:"AUTHCORE_MFA_CHALLENGE_TTL"`
	MaxAttempts      int           `env:"AUTHCORE_MFA_MAX_ATTEMPTS"`
	TOTPIssuer       string        `env:"AUTHCORE_TOTP_ISSUER"`
	TOTPSkew         int           `env:"AUTHCORE_TOTP_SKEW"`
	BackupCodeCount  int           `env:"AUTHCORE_BACKUP_CODE_COUNT"`
	BackupCodeLength int
	// LowCodeWarning is the remaining-pool threshold below which backup
	// code verification flags the principal to regenerate.
	LowCodeWarning int `env:"AUTHCORE_BACKUP_CODE_WARNING"`
	// SealKey encrypts method secrets and destinations at rest; 32 bytes,
	// base64 when sourced from the environment.
	SealKey []byte
}

// WindowLimit is one sliding-window budget.
type WindowLimit struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds per-action sliding-window budgets.
type RateLimitConfig struct {
	Login         WindowLimit
	MFAChallenge  WindowLimit
	PasswordReset WindowLimit
	Register      WindowLimit
}

// LockoutConfig escalates repeated login failures independently of the
// sliding window, so the lock survives window resets.
type LockoutConfig struct {
	Threshold int           `env:"AUTHCORE_LOCKOUT_THRESHOLD"`
	Duration  time.Duration `env:"AUTHCORE_LOCKOUT_DURATION"`
}

// AuthzConfig tunes permission resolution.
type AuthzConfig struct {
	DenyOverride bool          `env:"AUTHCORE_AUTHZ_DENY_OVERRIDE"`
	CacheTTL     time.Duration `env:"AUTHCORE_AUTHZ_CACHE_TTL"`
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"AUTHCORE_AUDIT_ENABLED"`
	BufferSize int  `env:"AUTHCORE_AUDIT_BUFFER"`
}

// MetricsConfig controls Prometheus registration.
type MetricsConfig struct {
	Enabled   bool   `env:"AUTHCORE_METRICS_ENABLED"`
	Namespace string `env:"AUTHCORE_METRICS_NAMESPACE"`
}

// DefaultConfig returns the baseline configuration: 15m access tokens, 30d
// session families, 5-attempt lockout for 15 minutes, deny-override on.
func DefaultConfig() Config {
	return Config{
		RedisPrefix: "ias",
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: string(jwt.MethodEd25519),
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   10,
		},
		Session: SessionConfig{
			TTL: 30 * 24 * time.Hour,
		},
		MFA: MFAConfig{
			CodeDigits:       6,
			ChallengeTTL:     5 * time.Minute,
			MaxAttempts:      5,
			TOTPIssuer:       "authcore",
			TOTPSkew:         1,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
			LowCodeWarning:   3,
		},
		RateLimit: RateLimitConfig{
			Login:         WindowLimit{Limit: 10, Window: time.Minute},
			MFAChallenge:  WindowLimit{Limit: 5, Window: 5 * time.Minute},
			PasswordReset: WindowLimit{Limit: 3, Window: 15 * time.Minute},
			Register:      WindowLimit{Limit: 5, Window: time.Hour},
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		Authz: AuthzConfig{
			DenyOverride: true,
			CacheTTL:     15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "authcore",
		},
	}
}

// ConfigFromEnv layers AUTHCORE_* environment variables over the defaults.
// Key material in the environment is base64-encoded.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}

	if raw, err := env.ParseAs[struct {
		SealKey string `env:"AUTHCORE_MFA_SEAL_KEY"`
	}](); err == nil && raw.SealKey != "" {
		key, err := base64.StdEncoding.DecodeString(raw.SealKey)
		if err != nil {
			return Config{}, fmt.Errorf("decode AUTHCORE_MFA_SEAL_KEY: %w", err)
		}
		cfg.MFA.SealKey = key
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 || c.JWT.AccessTTL > time.Hour {
		return errors.New("JWT.AccessTTL must be in (0, 1h]")
	}
	if c.Session.TTL <= c.JWT.AccessTTL {
		return errors.New("Session.TTL must exceed JWT.AccessTTL")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodEd25519, jwt.MethodHS256:
	default:
		return fmt.Errorf("unsupported JWT.SigningMethod %q", c.JWT.SigningMethod)
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password.MinLength must be at least 8")
	}
	if c.MFA.CodeDigits < 4 || c.MFA.CodeDigits > 10 {
		return errors.New("MFA.CodeDigits must be in [4, 10]")
	}
	if c.MFA.ChallengeTTL <= 0 || c.MFA.MaxAttempts <= 0 {
		return errors.New("MFA challenge TTL and attempts must be positive")
	}
	if len(c.MFA.SealKey) != 0 && len(c.MFA.SealKey) != 32 {
		return errors.New("MFA.SealKey must be 32 bytes when set")
	}
	if c.Lockout.Threshold <= 0 || c.Lockout.Duration <= 0 {
		return errors.New("lockout threshold and duration must be positive")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("Audit.BufferSize must be non-negative")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.HS256Key = cloneBytes(c.JWT.HS256Key)
	out.JWT.PrivateKey = cloneBytes(c.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(c.JWT.PublicKey)
	out.MFA.SealKey = cloneBytes(c.MFA.SealKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
