package goSentinel

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"
)

type lockoutEnv struct {
	MaxAttempts int           `env:"SENTINEL_LOCKOUT_MAX_ATTEMPTS" env-default:"5"`
	Duration    time.Duration `env:"SENTINEL_LOCKOUT_DURATION" env-default:"15m"`
}

type tokenEnv struct {
	AccessTTL     time.Duration `env:"SENTINEL_ACCESS_TTL" env-default:"15m"`
	RefreshTTL    time.Duration `env:"SENTINEL_REFRESH_TTL" env-default:"168h"`
	SigningMethod string        `env:"SENTINEL_SIGNING_METHOD" env-default:"ed25519"`
	Issuer        string        `env:"SENTINEL_TOKEN_ISSUER" env-default:"goSentinel"`
	Audience      string        `env:"SENTINEL_TOKEN_AUDIENCE"`
	Leeway        time.Duration `env:"SENTINEL_TOKEN_LEEWAY" env-default:"0s"`

	// Keys are PEM or base64; they are decoded separately.
	AccessPrivate  string `env:"SENTINEL_ACCESS_PRIVATE_KEY"`
	AccessPublic   string `env:"SENTINEL_ACCESS_PUBLIC_KEY"`
	RefreshPrivate string `env:"SENTINEL_REFRESH_PRIVATE_KEY"`
	RefreshPublic  string `env:"SENTINEL_REFRESH_PUBLIC_KEY"`
}

type sessionEnv struct {
	RedisPrefix     string        `env:"SENTINEL_SESSION_PREFIX" env-default:"sentinel"`
	IdleTimeout     time.Duration `env:"SENTINEL_SESSION_IDLE_TIMEOUT" env-default:"30m"`
	AbsoluteTimeout time.Duration `env:"SENTINEL_SESSION_ABSOLUTE_TIMEOUT" env-default:"12h"`
	MaxConcurrent   int           `env:"SENTINEL_SESSION_MAX_CONCURRENT" env-default:"5"`
	Retention       time.Duration `env:"SENTINEL_SESSION_RETENTION" env-default:"24h"`
	SweepBatch      int           `env:"SENTINEL_SESSION_SWEEP_BATCH" env-default:"256"`
}

type mfaEnv struct {
	Issuer          string        `env:"SENTINEL_MFA_ISSUER" env-default:"goSentinel"`
	Skew            uint          `env:"SENTINEL_MFA_WINDOW" env-default:"2"`
	BackupCodeCount int           `env:"SENTINEL_MFA_BACKUP_CODES" env-default:"10"`
	MaxAttempts     int           `env:"SENTINEL_MFA_MAX_ATTEMPTS" env-default:"5"`
	AttemptCooldown time.Duration `env:"SENTINEL_MFA_ATTEMPT_COOLDOWN" env-default:"1m"`
}

type riskEnv struct {
	FailedAttemptWindow time.Duration `env:"SENTINEL_RISK_FAILURE_WINDOW" env-default:"15m"`
	FailedAttemptCap    float64       `env:"SENTINEL_RISK_FAILURE_CAP" env-default:"0.6"`
	SuspiciousThreshold float64       `env:"SENTINEL_RISK_THRESHOLD" env-default:"0.7"`
	TimeZone            string        `env:"SENTINEL_RISK_TIMEZONE" env-default:"UTC"`
}

type auditEnv struct {
	Enabled           bool          `env:"SENTINEL_AUDIT_ENABLED" env-default:"true"`
	BufferSize        int           `env:"SENTINEL_AUDIT_BUFFER" env-default:"1024"`
	DropIfFull        bool          `env:"SENTINEL_AUDIT_DROP_IF_FULL" env-default:"true"`
	Retention         time.Duration `env:"SENTINEL_AUDIT_RETENTION" env-default:"2160h"`
	TokenFailureRate  float64       `env:"SENTINEL_AUDIT_TOKEN_FAILURE_RATE" env-default:"50"`
	TokenFailureBurst int           `env:"SENTINEL_AUDIT_TOKEN_FAILURE_BURST" env-default:"100"`
}

type storeEnv struct {
	Timeout      time.Duration `env:"SENTINEL_STORE_TIMEOUT" env-default:"2s"`
	RetryBackoff time.Duration `env:"SENTINEL_STORE_RETRY_BACKOFF" env-default:"50ms"`
	MaxRetries   uint64        `env:"SENTINEL_STORE_MAX_RETRIES" env-default:"1"`
}

type passwordEnv struct {
	Memory         uint32 `env:"SENTINEL_ARGON2_MEMORY_KB" env-default:"65536"`
	Time           uint32 `env:"SENTINEL_ARGON2_TIME" env-default:"3"`
	Parallelism    uint8  `env:"SENTINEL_ARGON2_PARALLELISM" env-default:"2"`
	SaltLength     uint32 `env:"SENTINEL_ARGON2_SALT_LENGTH" env-default:"16"`
	KeyLength      uint32 `env:"SENTINEL_ARGON2_KEY_LENGTH" env-default:"32"`
	UpgradeOnLogin bool   `env:"SENTINEL_ARGON2_UPGRADE_ON_LOGIN" env-default:"true"`
}

type metricsEnv struct {
	Enabled                 bool `env:"SENTINEL_METRICS_ENABLED" env-default:"true"`
	EnableLatencyHistograms bool `env:"SENTINEL_METRICS_LATENCY" env-default:"false"`
}

type notifyEnv struct {
	Timeout time.Duration `env:"SENTINEL_NOTIFY_TIMEOUT" env-default:"10s"`
}

type envConfig struct {
	Lockout  lockoutEnv
	Tokens   tokenEnv
	Session  sessionEnv
	MFA      mfaEnv
	Risk     riskEnv
	Audit    auditEnv
	Store    storeEnv
	Password passwordEnv
	Metrics  metricsEnv
	Notify   notifyEnv
}

// LoadConfigFromEnv reads SENTINEL_* variables over DefaultConfig. The result
// is not validated; Builder.Build does that.
func LoadConfigFromEnv() (Config, error) {
	var env envConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return env.toConfig()
}

// ConfigEnvUsage returns a description of every recognized variable.
func ConfigEnvUsage() string {
	var env envConfig
	desc, err := cleanenv.GetDescription(&env, nil)
	if err != nil {
		return ""
	}
	return desc
}

func (env *envConfig) toConfig() (Config, error) {
	cfg := DefaultConfig()

	sections := []struct {
		name     string
		to, from interface{}
	}{
		{"lockout", &cfg.Lockout, &env.Lockout},
		{"tokens", &cfg.Tokens, &env.Tokens},
		{"session", &cfg.Session, &env.Session},
		{"mfa", &cfg.MFA, &env.MFA},
		{"risk", &cfg.Risk, &env.Risk},
		{"audit", &cfg.Audit, &env.Audit},
		{"store", &cfg.Store, &env.Store},
		{"password", &cfg.Password, &env.Password},
		{"metrics", &cfg.Metrics, &env.Metrics},
		{"notify", &cfg.Notify, &env.Notify},
	}
	for _, s := range sections {
		if err := copier.Copy(s.to, s.from); err != nil {
			return Config{}, fmt.Errorf("copy %s config: %w", s.name, err)
		}
	}

	loc, err := time.LoadLocation(env.Risk.TimeZone)
	if err != nil {
		return Config{}, fmt.Errorf("risk timezone: %w", err)
	}
	cfg.Risk.Location = loc

	keys := []struct {
		dst *[]byte
		src string
	}{
		{&cfg.Tokens.AccessPrivateKey, env.Tokens.AccessPrivate},
		{&cfg.Tokens.AccessPublicKey, env.Tokens.AccessPublic},
		{&cfg.Tokens.RefreshPrivateKey, env.Tokens.RefreshPrivate},
		{&cfg.Tokens.RefreshPublicKey, env.Tokens.RefreshPublic},
	}
	for _, k := range keys {
		*k.dst = decodeKey(k.src)
	}

	return cfg, nil
}

// decodeKey accepts PEM text or standard base64; anything else is used as
// raw bytes (an HMAC secret).
func decodeKey(s string) []byte {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s)
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	return []byte(s)
}
