package redisstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/portal"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, WithPrefix("t"), WithPurgeBatch(2)), mr
}

func seedIdentity(t *testing.T, s *Store, email string) *goSentinel.Identity {
	t.Helper()
	id := &goSentinel.Identity{
		Email:        email,
		PasswordHash: "$argon2id$stub",
		Role:         portal.RoleEmployee,
		TenantID:     "tenant-a",
		IsActive:     true,
		Security: goSentinel.SecurityState{
			IPAllowlist: []string{"10.0.0.0/8", "192.0.2.1"},
		},
	}
	if err := s.PutIdentity(context.Background(), id); err != nil {
		t.Fatalf("put identity: %v", err)
	}
	return id
}

func TestIdentityRoundTrip(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()
	seeded := seedIdentity(t, s, "Alice@Example.com ")

	if seeded.ID == "" {
		t.Fatal("expected generated id")
	}
	got, err := s.FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if got.ID != seeded.ID || got.Email != "alice@example.com" || got.Role != portal.RoleEmployee {
		t.Fatalf("unexpected identity %+v", got)
	}
	if !got.IsActive || got.TenantID != "tenant-a" {
		t.Fatalf("unexpected flags %+v", got)
	}
	if len(got.Security.IPAllowlist) != 2 || got.Security.IPAllowlist[1] != "192.0.2.1" {
		t.Fatalf("unexpected allowlist %v", got.Security.IPAllowlist)
	}

	if _, err := s.FindByEmail(ctx, "nobody@example.com"); !errors.Is(err, goSentinel.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
	if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, goSentinel.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestRecordFailureLocksAtThreshold(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()
	id := seedIdentity(t, s, "a@example.com").ID
	now := time.UnixMilli(1_772_000_000_000)

	for i := 1; i <= 4; i++ {
		res, err := s.RecordFailure(ctx, id, uuid.NewString(), now, 5, 15*time.Minute)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if res.FailedAttempts != i || !res.LockedUntil.IsZero() {
			t.Fatalf("failure %d: unexpected result %+v", i, res)
		}
	}
	res, err := s.RecordFailure(ctx, id, uuid.NewString(), now, 5, 15*time.Minute)
	if err != nil {
		t.Fatalf("fifth failure: %v", err)
	}
	if res.FailedAttempts != 5 || !res.LockedUntil.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("expected lock on fifth failure, got %+v", res)
	}

	got, _ := s.FindByID(ctx, id)
	if !got.Security.LockedUntil.Equal(now.Add(15*time.Minute)) || !got.Security.LastFailedAt.Equal(now) {
		t.Fatalf("unexpected stored state %+v", got.Security)
	}
}

func TestRecordFailureAfterExpiredLockRestarts(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()
	id := seedIdentity(t, s, "a@example.com").ID
	now := time.UnixMilli(1_772_000_000_000)

	for i := 0; i < 3; i++ {
		if _, err := s.RecordFailure(ctx, id, uuid.NewString(), now, 3, time.Minute); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	later := now.Add(2 * time.Minute)
	res, err := s.RecordFailure(ctx, id, uuid.NewString(), later, 3, time.Minute)
	if err != nil {
		t.Fatalf("record after expiry: %v", err)
	}
	if res.FailedAttempts != 1 || !res.LockedUntil.IsZero() {
		t.Fatalf("expected counter restart, got %+v", res)
	}
}

func TestRecordFailureConcurrentLocksOnce(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()
	id := seedIdentity(t, s, "a@example.com").ID
	now := time.UnixMilli(1_772_000_000_000)

	var hitThreshold atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.RecordFailure(ctx, id, uuid.NewString(), now, 5, time.Minute)
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if res.FailedAttempts == 5 {
				hitThreshold.Add(1)
			}
		}()
	}
	wg.Wait()

	if hitThreshold.Load() != 1 {
		t.Fatalf("expected exactly one caller to cross the threshold, got %d", hitThreshold.Load())
	}
	got, _ := s.FindByID(ctx, id)
	if got.Security.FailedAttempts != 20 {
		t.Fatalf("expected 20 failures, got %d", got.Security.FailedAttempts)
	}
}

func TestRecordFailureUnknownIdentity(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	_, err := s.RecordFailure(context.Background(), "ghost", uuid.NewString(), time.Now(), 5, time.Minute)
	if !errors.Is(err, goSentinel.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestResetAndUnlockExpired(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	ctx := context.Background()
	a := seedIdentity(t, s, "a@example.com").ID
	b := seedIdentity(t, s, "b@example.com").ID
	now := time.UnixMilli(1_772_000_000_000)

	if _, err := s.RecordFailure(ctx, a, uuid.NewString(), now, 1, time.Minute); err != nil {
		t.Fatalf("lock a: %v", err)
	}
	if _, err := s.RecordFailure(ctx, b, uuid.NewString(), now, 1, time.Hour); err != nil {
		t.Fatalf("lock b: %v", err)
	}

	ids, err := s.UnlockExpired(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if len(ids) != 1 || ids[0] != a {
		t.Fatalf("expected only %s unlocked, got %v", a, ids)
	}
	got, _ := s.FindByID(ctx, a)
	if got.Security.FailedAttempts != 0 || !got.Security.LockedUntil.IsZero() {
		t.Fatalf("expected cleared state, got %+v", got.Security)
	}

	if err := s.ResetFailures(ctx, b); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := mr.ZMembers("t:locked"); len(n) != 0 {
		t.Fatalf("expected empty lock index, got %v", n)
	}
	if err := s.ResetFailures(ctx, "ghost"); !errors.Is(err, goSentinel.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
	if mr.Exists("t:id:ghost") {
		t.Fatal("reset must not create records")
	}
}

func TestMFAStateAndBackupCodes(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()
	id := seedIdentity(t, s, "a@example.com").ID

	if err := s.SetMFASecret(ctx, id, "SECRET", []string{"h1", "h2"}); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	got, _ := s.FindByID(ctx, id)
	if got.Security.MFASecret != "SECRET" || got.Security.MFAEnabled || len(got.Security.BackupCodes) != 2 {
		t.Fatalf("unexpected pending state %+v", got.Security)
	}

	if err := s.EnableMFA(ctx, id); err != nil {
		t.Fatalf("enable: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeBackupCode(ctx, id, "h1", uuid.NewString())
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected one successful consumption, got %d", wins.Load())
	}

	if err := s.DisableMFA(ctx, id); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ = s.FindByID(ctx, id)
	if got.Security.MFAEnabled || got.Security.MFASecret != "" || len(got.Security.BackupCodes) != 0 {
		t.Fatalf("expected cleared mfa state, got %+v", got.Security)
	}

	if err := s.SetMFASecret(ctx, "ghost", "S", nil); !errors.Is(err, goSentinel.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestRecordFailureRepeatedAttemptCountsOnce(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()
	id := seedIdentity(t, s, "a@example.com").ID
	now := time.Now()

	first, err := s.RecordFailure(ctx, id, "attempt-1", now, 2, time.Minute)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	again, err := s.RecordFailure(ctx, id, "attempt-1", now.Add(time.Second), 2, time.Minute)
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if first.FailedAttempts != 1 || again.FailedAttempts != 1 || !again.LockedUntil.IsZero() {
		t.Fatalf("expected one counted failure, got %+v then %+v", first, again)
	}

	next, err := s.RecordFailure(ctx, id, "attempt-2", now, 2, time.Minute)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if next.FailedAttempts != 2 || next.LockedUntil.IsZero() {
		t.Fatalf("expected lock on second distinct attempt, got %+v", next)
	}
	repeat, err := s.RecordFailure(ctx, id, "attempt-2", now, 2, time.Minute)
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if repeat.FailedAttempts != 2 || !repeat.LockedUntil.Equal(next.LockedUntil) {
		t.Fatalf("repeat changed lock state: %+v vs %+v", repeat, next)
	}
}

func TestConsumeBackupCodeRepeatedAttempt(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()
	id := seedIdentity(t, s, "a@example.com").ID
	if err := s.SetMFASecret(ctx, id, "SECRET", []string{"h1", "h2"}); err != nil {
		t.Fatalf("set secret: %v", err)
	}

	ok, err := s.ConsumeBackupCode(ctx, id, "h1", "attempt-1")
	if err != nil || !ok {
		t.Fatalf("consume: ok=%v err=%v", ok, err)
	}
	ok, err = s.ConsumeBackupCode(ctx, id, "h1", "attempt-1")
	if err != nil || !ok {
		t.Fatalf("repeat of consuming attempt should report true: ok=%v err=%v", ok, err)
	}
	ok, err = s.ConsumeBackupCode(ctx, id, "h1", "attempt-2")
	if err != nil || ok {
		t.Fatalf("new attempt must not reuse spent code: ok=%v err=%v", ok, err)
	}
	got, _ := s.FindByID(ctx, id)
	if len(got.Security.BackupCodes) != 1 || got.Security.BackupCodes[0] != "h2" {
		t.Fatalf("unexpected remaining codes %v", got.Security.BackupCodes)
	}
}

func TestTenants(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()

	tenant := &goSentinel.Tenant{Domain: "Acme.example", IsActive: true, MaxConcurrentSessions: 3}
	if err := s.PutTenant(ctx, tenant); err != nil {
		t.Fatalf("put tenant: %v", err)
	}
	got, err := s.TenantByDomain(ctx, "acme.example")
	if err != nil {
		t.Fatalf("by domain: %v", err)
	}
	if got.ID != tenant.ID || !got.IsActive || got.MaxConcurrentSessions != 3 {
		t.Fatalf("unexpected tenant %+v", got)
	}
	if _, err := s.TenantByDomain(ctx, "unknown.example"); !errors.Is(err, goSentinel.ErrTenantNotResolved) {
		t.Fatalf("expected ErrTenantNotResolved, got %v", err)
	}
}

func TestAuditAppendCountPurge(t *testing.T) {
	s, _ := newRedisStoreTest(t)
	ctx := context.Background()
	base := time.UnixMilli(1_772_000_000_000).UTC()

	events := []goSentinel.AuditEvent{
		{ID: "e1", Timestamp: base.Add(-2 * time.Hour), EventType: "user.login.failed", IdentityID: "u1"},
		{ID: "e2", Timestamp: base.Add(-10 * time.Minute), EventType: "user.login.failed", IdentityID: "u1"},
		{ID: "e3", Timestamp: base.Add(-5 * time.Minute), EventType: "user.login.failed", IdentityID: "u1"},
		{ID: "e4", Timestamp: base.Add(-5 * time.Minute), EventType: "user.login.success", IdentityID: "u1"},
		{ID: "e5", Timestamp: base.Add(-3 * time.Hour), EventType: "user.login.failed"},
	}
	for _, ev := range events {
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("append %s: %v", ev.ID, err)
		}
	}

	n, err := s.CountSince(ctx, "u1", "user.login.failed", base.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 recent failures, got %d", n)
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Timestamp.Before(recent[1].Timestamp) {
		t.Fatalf("expected newest first, got %+v", recent)
	}

	purged, err := s.Purge(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}
	n, _ = s.CountSince(ctx, "u1", "user.login.failed", base.Add(-24*time.Hour))
	if n != 2 {
		t.Fatalf("expected purged event dropped from index, got %d", n)
	}
	if again, _ := s.Purge(ctx, base.Add(-time.Hour)); again != 0 {
		t.Fatalf("expected idempotent purge, got %d", again)
	}
}

func TestRedisDownIsStoreUnavailable(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	mr.Close()

	_, err := s.FindByEmail(context.Background(), "a@example.com")
	if !errors.Is(err, goSentinel.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
