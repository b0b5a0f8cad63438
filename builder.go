package goSentinel

import (
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goSentinel/internal/audit"
	"github.com/MrEthical07/goSentinel/internal/limiters"
	"github.com/MrEthical07/goSentinel/jwt"
	"github.com/MrEthical07/goSentinel/notify"
	"github.com/MrEthical07/goSentinel/password"
	"github.com/MrEthical07/goSentinel/risk"
	"github.com/MrEthical07/goSentinel/session"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Builder assembles an Engine. A Builder is single use: configure it during
// initialization, call Build once and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	credentials CredentialStore
	tenants     TenantDirectory
	auditStore  AuditStore
	auditSink   AuditSink
	notifier    notify.Notifier
	logger      *slog.Logger
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions and MFA attempt counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

func (b *Builder) WithTenantDirectory(dir TenantDirectory) *Builder {
	b.tenants = dir
	return b
}

// WithAuditStore persists every audit event and enables the audit-log based
// failure count used by risk scoring.
func (b *Builder) WithAuditStore(store AuditStore) *Builder {
	b.auditStore = store
	return b
}

// WithAuditSink adds a sink that receives every event in addition to the
// audit store.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for sessions, tokens, lockouts and audit
// timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(jwt.Config{
		Access: jwt.KeyConfig{
			TTL:           cfg.Tokens.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.Tokens.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Tokens.AccessPrivateKey),
			PublicKey:     cloneBytes(cfg.Tokens.AccessPublicKey),
		},
		Refresh: jwt.KeyConfig{
			TTL:           cfg.Tokens.RefreshTTL,
			SigningMethod: jwt.SigningMethod(cfg.Tokens.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Tokens.RefreshPrivateKey),
			PublicKey:     cloneBytes(cfg.Tokens.RefreshPublicKey),
		},
		Issuer:   cfg.Tokens.Issuer,
		Audience: cfg.Tokens.Audience,
		Leeway:   cfg.Tokens.Leeway,
	})
	if err != nil {
		return nil, err
	}
	tokens.WithClock(now)

	// -------- PASSWORDS --------
	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	sessions := session.NewStore(b.redis, session.Config{
		Prefix:          cfg.Session.RedisPrefix,
		IdleTimeout:     cfg.Session.IdleTimeout,
		AbsoluteTimeout: cfg.Session.AbsoluteTimeout,
		Retention:       cfg.Session.Retention,
		SweepBatch:      cfg.Session.SweepBatch,
	})

	// -------- AUDIT --------
	var sinks internalaudit.MultiSink
	var storeSink *internalaudit.StoreSink
	if b.auditStore != nil {
		storeSink = internalaudit.NewStoreSink(b.auditStore, cfg.Store.Timeout, logger)
		sinks = append(sinks, storeSink)
	}
	if b.auditSink != nil {
		sinks = append(sinks, b.auditSink)
	}
	dispatcher := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sinks, logger)

	var tokenFailures *rate.Limiter
	if cfg.Audit.TokenFailureRate > 0 {
		tokenFailures = rate.NewLimiter(rate.Limit(cfg.Audit.TokenFailureRate), cfg.Audit.TokenFailureBurst)
	}

	engine := &Engine{
		config:      cloneConfig(cfg),
		logger:      logger,
		credentials: b.credentials,
		tenants:     b.tenants,
		auditStore:  b.auditStore,
		sessions:    sessions,
		tokens:      tokens,
		hasher:      hasher,
		scorer: risk.NewScorer(risk.Config{
			FailedAttemptWindow: cfg.Risk.FailedAttemptWindow,
			FailedAttemptCap:    cfg.Risk.FailedAttemptCap,
			SuspiciousThreshold: cfg.Risk.SuspiciousThreshold,
			Location:            cfg.Risk.Location,
		}),
		audit: dispatcher,
		mfaLimiter: limiters.NewMFALimiter(b.redis, limiters.MFAConfig{
			Prefix:      cfg.Session.RedisPrefix,
			MaxAttempts: cfg.MFA.MaxAttempts,
			Cooldown:    cfg.MFA.AttemptCooldown,
		}),
		storeSink:           storeSink,
		metrics:             NewMetrics(cfg.Metrics),
		notifier:            b.notifier,
		now:                 now,
		tokenFailureLimiter: tokenFailures,
	}

	b.built = true
	return engine, nil
}
