package goSentinel

import (
	"errors"
	"time"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override what differs; Builder.Build validates the result.
type Config struct {
	Lockout  LockoutConfig
	Tokens   TokenConfig
	Session  SessionConfig
	MFA      MFAConfig
	Risk     RiskConfig
	Audit    AuditConfig
	Store    StoreConfig
	Password PasswordConfig
	Metrics  MetricsConfig
	Notify   NotifyConfig
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig sets the failed-attempt threshold and lock duration.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures the access and refresh token kinds. Each kind has
// its own key material; identical private keys are rejected.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" or "hs256"

	AccessPrivateKey  []byte
	AccessPublicKey   []byte
	RefreshPrivateKey []byte
	RefreshPublicKey  []byte

	Issuer   string
	Audience string
	Leeway   time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the Redis session manager.
type SessionConfig struct {
	RedisPrefix     string
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration
	// MaxConcurrent is the global per identity and tenant cap; a tenant's
	// MaxConcurrentSessions overrides it.
	MaxConcurrent int
	// Retention keeps ended session records readable for audit lookups.
	Retention  time.Duration
	SweepBatch int
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig configures TOTP and backup codes.
type MFAConfig struct {
	Issuer          string
	Skew            uint // accepted 30s steps on either side
	BackupCodeCount int
	MaxAttempts     int // wrong codes before verification pauses
	AttemptCooldown time.Duration
}

/*
====================================
RISK CONFIG
====================================
*/

// RiskConfig tunes the login risk scorer.
type RiskConfig struct {
	FailedAttemptWindow time.Duration
	FailedAttemptCap    float64
	SuspiciousThreshold float64
	// Location is used for the off-hours rule. nil means UTC.
	Location *time.Location
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the asynchronous audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	Retention  time.Duration
	// TokenFailureRate throttles token.verify.failed events (events per
	// second, shared by all callers). Zero disables throttling.
	TokenFailureRate  float64
	TokenFailureBurst int
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig bounds every store call.
type StoreConfig struct {
	Timeout      time.Duration
	RetryBackoff time.Duration
	MaxRetries   uint64
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id cost parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig bounds lockout and suspicious-login notifications.
type NotifyConfig struct {
	Timeout time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Token keys are left empty.
func DefaultConfig() Config {
	return Config{
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    15 * time.Minute,
		},
		Tokens: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "goSentinel",
		},
		Session: SessionConfig{
			RedisPrefix:     "sentinel",
			IdleTimeout:     30 * time.Minute,
			AbsoluteTimeout: 12 * time.Hour,
			MaxConcurrent:   5,
			Retention:       24 * time.Hour,
			SweepBatch:      256,
		},
		MFA: MFAConfig{
			Issuer:          "goSentinel",
			Skew:            2,
			BackupCodeCount: 10,
			MaxAttempts:     5,
			AttemptCooldown: time.Minute,
		},
		Risk: RiskConfig{
			FailedAttemptWindow: 15 * time.Minute,
			FailedAttemptCap:    0.6,
			SuspiciousThreshold: 0.7,
			Location:            time.UTC,
		},
		Audit: AuditConfig{
			Enabled:           true,
			BufferSize:        1024,
			DropIfFull:        true,
			Retention:         90 * 24 * time.Hour,
			TokenFailureRate:  50,
			TokenFailureBurst: 100,
		},
		Store: StoreConfig{
			Timeout:      2 * time.Second,
			RetryBackoff: 50 * time.Millisecond,
			MaxRetries:   1,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.AccessPrivateKey = cloneBytes(cfg.Tokens.AccessPrivateKey)
	out.Tokens.AccessPublicKey = cloneBytes(cfg.Tokens.AccessPublicKey)
	out.Tokens.RefreshPrivateKey = cloneBytes(cfg.Tokens.RefreshPrivateKey)
	out.Tokens.RefreshPublicKey = cloneBytes(cfg.Tokens.RefreshPublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks ranges and cross-field constraints. Key material itself is
// validated when the token manager is built.
func (c *Config) Validate() error {
	// Lockout
	if c.Lockout.MaxAttempts <= 0 {
		return errors.New("Lockout MaxAttempts must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Tokens
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL <= 0 {
		return errors.New("Tokens RefreshTTL must be > 0")
	}
	if c.Tokens.AccessTTL >= c.Tokens.RefreshTTL {
		return errors.New("Tokens AccessTTL must be shorter than RefreshTTL")
	}
	if c.Tokens.SigningMethod != "ed25519" && c.Tokens.SigningMethod != "hs256" {
		return errors.New("unsupported token signing method")
	}
	if len(c.Tokens.AccessPrivateKey) == 0 || len(c.Tokens.RefreshPrivateKey) == 0 {
		return errors.New("Tokens require access and refresh private keys")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.IdleTimeout <= 0 {
		return errors.New("Session IdleTimeout must be > 0")
	}
	if c.Session.AbsoluteTimeout < c.Session.IdleTimeout {
		return errors.New("Session AbsoluteTimeout must be >= IdleTimeout")
	}
	if c.Session.MaxConcurrent <= 0 {
		return errors.New("Session MaxConcurrent must be > 0")
	}
	if c.Session.Retention < 0 {
		return errors.New("Session Retention must be >= 0")
	}

	// MFA
	if c.MFA.Issuer == "" {
		return errors.New("MFA Issuer must not be empty")
	}
	if c.MFA.Skew > 10 {
		return errors.New("MFA Skew must be <= 10")
	}
	if c.MFA.BackupCodeCount <= 0 || c.MFA.BackupCodeCount > 100 {
		return errors.New("MFA BackupCodeCount must be in 1..100")
	}
	if c.MFA.MaxAttempts <= 0 || c.MFA.AttemptCooldown <= 0 {
		return errors.New("MFA MaxAttempts and AttemptCooldown must be > 0")
	}

	// Risk
	if c.Risk.SuspiciousThreshold < 0 || c.Risk.SuspiciousThreshold > 1 {
		return errors.New("Risk SuspiciousThreshold must be in [0,1]")
	}
	if c.Risk.FailedAttemptCap < 0 || c.Risk.FailedAttemptCap > 1 {
		return errors.New("Risk FailedAttemptCap must be in [0,1]")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.Retention <= 0 {
		return errors.New("Audit Retention must be > 0")
	}
	if c.Audit.TokenFailureRate < 0 {
		return errors.New("Audit TokenFailureRate must be >= 0")
	}

	// Store
	if c.Store.Timeout <= 0 {
		return errors.New("Store Timeout must be > 0")
	}
	if c.Store.MaxRetries > 5 {
		return errors.New("Store MaxRetries must be <= 5")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	return nil
}
