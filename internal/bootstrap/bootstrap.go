// Package bootstrap wires an Engine from the process environment for the
// binaries under cmd/.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/redis/go-redis/v9"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/notify"
	"github.com/MrEthical07/goSentinel/store/pgstore"
	"github.com/MrEthical07/goSentinel/store/redisstore"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type SMTPEnv struct {
	Host     string `env:"SENTINEL_SMTP_HOST" env-description:"SMTP relay; notifications are disabled when empty"`
	Port     int    `env:"SENTINEL_SMTP_PORT" env-default:"587"`
	TLS      bool   `env:"SENTINEL_SMTP_TLS" env-default:"true"`
	Username string `env:"SENTINEL_SMTP_USERNAME"`
	Password string `env:"SENTINEL_SMTP_PASSWORD"`
	From     string `env:"SENTINEL_SMTP_FROM"`
}

// Env is the process-level configuration. Engine options are read separately
// by goSentinel.LoadConfigFromEnv.
type Env struct {
	HTTPAddr   string `env:"SENTINEL_HTTP_ADDR" env-default:":8080"`
	TrustProxy bool   `env:"SENTINEL_TRUST_PROXY" env-default:"false"`
	LogLevel   string `env:"SENTINEL_LOG_LEVEL" env-default:"info"`

	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Backend selects where identities, tenants and audit events live.
	// Sessions are always in Redis.
	Backend     string `env:"SENTINEL_STORE_BACKEND" env-default:"redis"`
	DatabaseURL string `env:"DATABASE_URL"`

	SMTP SMTPEnv
}

func LoadEnv() (Env, error) {
	var env Env
	if err := cleanenv.ReadEnv(&env); err != nil {
		return Env{}, fmt.Errorf("read environment: %w", err)
	}
	env.Backend = strings.ToLower(strings.TrimSpace(env.Backend))
	return env, nil
}

// NewLogger returns a JSON logger at level (debug, info, warn, error).
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Runtime owns everything Open created.
type Runtime struct {
	Engine   *goSentinel.Engine
	Redis    redis.UniversalClient
	Postgres *pgstore.Store

	closers []func()
}

// Close releases resources in reverse order of creation.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Open connects to the configured stores and builds the engine.
func Open(ctx context.Context, env Env, cfg goSentinel.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}

	rdb := redis.NewClient(&redis.Options{
		Addr:     env.RedisAddr,
		Password: env.RedisPassword,
		DB:       env.RedisDB,
	})
	rt.Redis = rdb
	rt.closers = append(rt.closers, func() { _ = rdb.Close() })

	var (
		credentials goSentinel.CredentialStore
		tenants     goSentinel.TenantDirectory
		auditLog    goSentinel.AuditStore
	)
	switch env.Backend {
	case BackendRedis, "":
		store := redisstore.New(rdb, redisstore.WithPrefix(cfg.Session.RedisPrefix))
		credentials, tenants, auditLog = store, store, store
	case BackendPostgres:
		if env.DatabaseURL == "" {
			rt.Close()
			return nil, fmt.Errorf("DATABASE_URL is required for the %s backend", BackendPostgres)
		}
		pg, err := pgstore.Open(ctx, env.DatabaseURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		rt.Postgres = pg
		rt.closers = append(rt.closers, func() { _ = pg.Close() })
		credentials, tenants, auditLog = pg, pg, pg
	default:
		rt.Close()
		return nil, fmt.Errorf("unknown store backend %q", env.Backend)
	}

	b := goSentinel.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(credentials).
		WithTenantDirectory(tenants).
		WithAuditStore(auditLog).
		WithLogger(logger)

	if env.SMTP.Host != "" {
		n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     env.SMTP.Host,
			Port:     env.SMTP.Port,
			TLS:      env.SMTP.TLS,
			Username: env.SMTP.Username,
			Password: env.SMTP.Password,
			From:     env.SMTP.From,
			Timeout:  cfg.Notify.Timeout,
		})
		if err != nil {
			rt.Close()
			return nil, err
		}
		b = b.WithNotifier(n)
	}

	engine, err := b.Build()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	rt.Engine = engine
	rt.closers = append(rt.closers, engine.Close)

	if err := engine.Ping(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}
