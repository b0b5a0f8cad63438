package goSentinel_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
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
	testPassword = "correct horse battery staple"
	tenantDomain = "acme.test"
	tenantID     = "t-acme"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// a weekday morning keeps the off-hours rule quiet
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine *goSentinel.Engine
	store  *redisstore.Store
	redis  *miniredis.Miniredis
	rdb    *redis.Client
	clock  *fakeClock
	events *eventLog
	hasher *password.Hasher
}

func testConfig() goSentinel.Config {
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

func newTestEnv(t *testing.T, mutate func(*goSentinel.Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := newFakeClock()
	store := redisstore.New(rdb)
	events := &eventLog{}

	engine, err := goSentinel.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithTenantDirectory(store).
		WithAuditStore(store).
		WithAuditSink(events).
		WithClock(clock.Now).
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

	env := &testEnv{engine: engine, store: store, redis: mr, rdb: rdb, clock: clock, events: events, hasher: hasher}
	env.putTenant(t, &goSentinel.Tenant{ID: tenantID, Domain: tenantDomain, IsActive: true})
	return env
}

func (env *testEnv) putTenant(t *testing.T, tenant *goSentinel.Tenant) {
	t.Helper()
	if err := env.store.PutTenant(context.Background(), tenant); err != nil {
		t.Fatalf("put tenant: %v", err)
	}
}

func (env *testEnv) putIdentity(t *testing.T, id, email string, role portal.Role, mutate func(*goSentinel.Identity)) *goSentinel.Identity {
	t.Helper()
	hash, err := env.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	identity := &goSentinel.Identity{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		TenantID:     tenantID,
		IsActive:     true,
	}
	if mutate != nil {
		mutate(identity)
	}
	if err := env.store.PutIdentity(context.Background(), identity); err != nil {
		t.Fatalf("put identity: %v", err)
	}
	return identity
}

func requestCtx() context.Context {
	return goSentinel.WithRequestMeta(context.Background(), goSentinel.RequestMeta{
		IP:        "203.0.113.7",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)",
		Method:    "POST",
		Path:      "/login",
	})
}

func clientLogin(email string) goSentinel.LoginRequest {
	return goSentinel.LoginRequest{
		Email:        email,
		Password:     testPassword,
		TenantDomain: tenantDomain,
		Portal:       portal.PortalClient,
	}
}

// eventLog records every audit event delivered by the dispatcher.
type eventLog struct {
	mu     sync.Mutex
	events []goSentinel.AuditEvent
}

func (l *eventLog) Emit(_ context.Context, event goSentinel.AuditEvent) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func (l *eventLog) last(eventType string) (goSentinel.AuditEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].EventType == eventType {
			return l.events[i], true
		}
	}
	return goSentinel.AuditEvent{}, false
}

// waitFor polls until at least n events of eventType were delivered.
func (l *eventLog) waitFor(t *testing.T, eventType string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.count(eventType) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d %s events, got %d", n, eventType, l.count(eventType))
}

// waitExactly waits for n events of eventType and then checks that no
// further ones arrive shortly after.
func (l *eventLog) waitExactly(t *testing.T, eventType string, n int) {
	t.Helper()
	if n > 0 {
		l.waitFor(t, eventType, n)
	}
	time.Sleep(50 * time.Millisecond)
	if got := l.count(eventType); got != n {
		t.Fatalf("expected exactly %d %s events, got %d", n, eventType, got)
	}
}
