// Package sentineltest builds engines backed by miniredis for tests of the
// transport packages.
package sentineltest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/password"
	"github.com/MrEthical07/goSentinel/portal"
	"github.com/MrEthical07/goSentinel/store/redisstore"
)

const (
	Password     = "correct horse battery staple"
	TenantID     = "t-acme"
	TenantDomain = "acme.test"
)

// Env is a built engine plus the stores behind it.
type Env struct {
	Engine *goSentinel.Engine
	Store  *redisstore.Store
	Redis  *miniredis.Miniredis
	Client *redis.Client
	Config goSentinel.Config

	hasher *password.Hasher
}

// Config returns DefaultConfig with HMAC keys and cheap argon2 parameters.
func Config() goSentinel.Config {
	cfg := goSentinel.DefaultConfig()
	cfg.Tokens.SigningMethod = "hs256"
	cfg.Tokens.AccessPrivateKey = []byte("access-secret-0123456789abcdef0123")
	cfg.Tokens.RefreshPrivateKey = []byte("refresh-secret-0123456789abcdef012")
	cfg.Password = goSentinel.PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Store.RetryBackoff = time.Millisecond
	return cfg
}

// New builds an engine with one active tenant. mutate may be nil.
func New(t testing.TB, mutate func(*goSentinel.Config)) *Env {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := Config()
	if mutate != nil {
		mutate(&cfg)
	}

	store := redisstore.New(rdb)
	engine, err := goSentinel.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithTenantDirectory(store).
		WithAuditStore(store).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}

	env := &Env{Engine: engine, Store: store, Redis: mr, Client: rdb, Config: cfg, hasher: hasher}
	if err := store.PutTenant(context.Background(), &goSentinel.Tenant{ID: TenantID, Domain: TenantDomain, IsActive: true}); err != nil {
		t.Fatalf("put tenant: %v", err)
	}
	return env
}

// PutIdentity stores an active identity in the default tenant with Password.
func (env *Env) PutIdentity(t testing.TB, id, email string, role portal.Role) *goSentinel.Identity {
	t.Helper()
	hash, err := env.hasher.Hash(Password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	identity := &goSentinel.Identity{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		TenantID:     TenantID,
		IsActive:     true,
	}
	if err := env.Store.PutIdentity(context.Background(), identity); err != nil {
		t.Fatalf("put identity: %v", err)
	}
	return identity
}

// Login logs email in on the client portal and fails the test on error.
func (env *Env) Login(t testing.TB, email string) *goSentinel.LoginResult {
	t.Helper()
	res, err := env.Engine.Login(context.Background(), goSentinel.LoginRequest{
		Email:        email,
		Password:     Password,
		TenantDomain: TenantDomain,
		Portal:       portal.PortalClient,
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return res
}
