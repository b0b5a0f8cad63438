package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newSessionStoreTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewStore(rdb, Config{
		Prefix:          "t",
		IdleTimeout:     30 * time.Minute,
		AbsoluteTimeout: 12 * time.Hour,
		Retention:       time.Hour,
		SweepBatch:      2,
	})
	return store, mr
}

func newSession(id string, at time.Time) *Session {
	return &Session{
		ID:         id,
		IdentityID: "u1",
		TenantID:   "t1",
		Portal:     "client",
		Nonce:      "n-" + id,
		CreatedAt:  at,
		Risk:       Risk{Score: 0.2},
		Device:     Device{IP: "10.0.0.1", UserAgent: "curl", Type: "desktop", Location: "private"},
	}
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()

	res, err := s.Create(ctx, newSession("s1", base), 5, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.SessionID != "s1" || res.Reused || len(res.Evicted) != 0 {
		t.Fatalf("unexpected create result: %+v", res)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateActive || got.IdentityID != "u1" || got.Nonce != "n-s1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if !got.CreatedAt.Equal(base) || !got.LastActivityAt.Equal(base) {
		t.Fatalf("unexpected timestamps: %v %v", got.CreatedAt, got.LastActivityAt)
	}
	if got.Risk.Score != 0.2 || got.Device.Location != "private" {
		t.Fatalf("unexpected risk/device: %+v %+v", got.Risk, got.Device)
	}

	if _, err := s.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateEvictsOldestAtCap(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		if _, err := s.Create(ctx, newSession(id, base.Add(time.Duration(i)*time.Second)), 5, false); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	res, err := s.Create(ctx, newSession("s5", base.Add(10*time.Second)), 5, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Evicted) != 1 || res.Evicted[0].ID != "s0" || res.Evicted[0].State != StateEvicted {
		t.Fatalf("expected s0 evicted, got %+v", res.Evicted)
	}

	n, err := s.CountActive(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 active sessions, got %d", n)
	}

	old, _ := s.Get(ctx, "s0")
	if old.State != StateEvicted || old.Blacklisted {
		t.Fatalf("evicted session should be evicted and not blacklisted: %+v", old)
	}
	v, err := s.Validate(ctx, "s0", "n-s0", true, base.Add(11*time.Second))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.Status != StatusInactive || v.State != StateEvicted {
		t.Fatalf("expected evicted session to be inactive, got %+v", v)
	}
}

func TestCreateConcurrentRespectsCap(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%02d", i)
			if _, err := s.Create(ctx, newSession(id, base.Add(time.Duration(i)*time.Millisecond)), 3, false); err != nil {
				t.Errorf("create %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	n, err := s.CountActive(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected cap of 3 active sessions, got %d", n)
	}
}

func TestCreateReusesSuperSessionOnSamePortal(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()

	first := newSession("s1", base)
	first.SuperAccount = true
	if _, err := s.Create(ctx, first, 5, true); err != nil {
		t.Fatalf("create: %v", err)
	}

	second := newSession("s2", base.Add(time.Minute))
	second.SuperAccount = true
	second.Nonce = "fresh"
	second.LastActivityAt = base.Add(time.Minute)
	second.Device.IP = "10.0.0.9"
	res, err := s.Create(ctx, second, 5, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.Reused || res.SessionID != "s1" {
		t.Fatalf("expected reuse of s1, got %+v", res)
	}

	got, _ := s.Get(ctx, "s1")
	if got.Nonce != "fresh" || got.Device.IP != "10.0.0.9" {
		t.Fatalf("reused session not refreshed: %+v", got)
	}
	if !got.CreatedAt.Equal(base) || !got.LastActivityAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected reuse timestamps: %v %v", got.CreatedAt, got.LastActivityAt)
	}

	other := newSession("s3", base.Add(2*time.Minute))
	other.Portal = "admin"
	res, err = s.Create(ctx, other, 5, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Reused || res.SessionID != "s3" {
		t.Fatalf("a different portal must get a new session, got %+v", res)
	}
}

func TestValidateNonceAndTouch(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, newSession("s1", base), 5, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := base.Add(10 * time.Minute)
	res, err := s.Validate(ctx, "s1", "n-s1", true, later)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Status != StatusValid || res.IdentityID != "u1" || res.Portal != "client" {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, _ := s.Get(ctx, "s1")
	if !got.LastActivityAt.Equal(later) {
		t.Fatalf("expected last activity bumped, got %v", got.LastActivityAt)
	}

	res, _ = s.Validate(ctx, "s1", "stale", false, later)
	if res.Status != StatusNonceMismatch {
		t.Fatalf("expected nonce mismatch, got %+v", res)
	}
	res, _ = s.Validate(ctx, "nope", "x", false, later)
	if res.Status != StatusNotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
}

func TestValidateExpiresLazily(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, newSession("s1", base), 5, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := s.Validate(ctx, "s1", "n-s1", true, base.Add(31*time.Minute))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Status != StatusExpired || res.State != StateIdleExpired {
		t.Fatalf("expected inline idle expiry, got %+v", res)
	}

	res, _ = s.Validate(ctx, "s1", "n-s1", true, base.Add(32*time.Minute))
	if res.Status != StatusInactive {
		t.Fatalf("second validate must observe the terminal state, got %+v", res)
	}

	ended, err := s.SweepIdle(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ended) != 0 {
		t.Fatalf("sweep must not transition an already ended session: %+v", ended)
	}
}

func TestRotateCompareAndSwap(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, newSession("s1", base), 5, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := base.Add(time.Minute)
	res, err := s.Rotate(ctx, "s1", "n-s1", "n2", now)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if res.Status != StatusValid {
		t.Fatalf("expected rotation, got %+v", res)
	}

	res, _ = s.Rotate(ctx, "s1", "n-s1", "n3", now)
	if res.Status != StatusNonceMismatch {
		t.Fatalf("replayed nonce must not rotate, got %+v", res)
	}
	if res, _ := s.Validate(ctx, "s1", "n2", false, now); res.Status != StatusValid {
		t.Fatalf("rotated nonce should validate, got %+v", res)
	}
}

func TestRotateRepeatAfterLostReply(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, newSession("s1", base), 5, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := base.Add(time.Minute)
	for i := 0; i < 2; i++ {
		res, err := s.Rotate(ctx, "s1", "n-s1", "n2", now)
		if err != nil {
			t.Fatalf("rotate %d: %v", i, err)
		}
		if res.Status != StatusValid {
			t.Fatalf("rotate %d: expected valid, got %+v", i, res)
		}
	}
	if res, _ := s.Validate(ctx, "s1", "n2", false, now); res.Status != StatusValid {
		t.Fatalf("expected n2 to stay current, got %+v", res)
	}

	if _, _, err := s.Transition(ctx, "s1", StateLoggedOut, true, now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if res, _ := s.Rotate(ctx, "s1", "n-s1", "n2", now); res.Status != StatusBlacklisted {
		t.Fatalf("repeat on a blacklisted session must fail, got %+v", res)
	}
}

func TestTransitionIsOnce(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, newSession("s1", base), 5, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	ended, ok, err := s.Transition(ctx, "s1", StateLoggedOut, true, base.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("transition: ok=%v err=%v", ok, err)
	}
	if ended.IdentityID != "u1" || ended.TenantID != "t1" || ended.Portal != "client" {
		t.Fatalf("unexpected ended: %+v", ended)
	}

	if _, ok, _ := s.Transition(ctx, "s1", StateBlacklisted, true, base.Add(2*time.Minute)); ok {
		t.Fatal("second transition must report no change")
	}
	got, _ := s.Get(ctx, "s1")
	if got.State != StateLoggedOut || !got.Blacklisted || got.EndedAt.IsZero() {
		t.Fatalf("unexpected ended session: %+v", got)
	}
	res, _ := s.Validate(ctx, "s1", "n-s1", false, base.Add(3*time.Minute))
	if res.Status != StatusBlacklisted {
		t.Fatalf("expected blacklisted, got %+v", res)
	}

	if _, _, err := s.Transition(ctx, "s1", StateActive, false, base); err == nil {
		t.Fatal("expected error for non-terminal target")
	}
	if _, ok, err := s.Transition(ctx, "missing", StateLoggedOut, true, base); ok || err != nil {
		t.Fatalf("missing session: ok=%v err=%v", ok, err)
	}
}

func TestSweepIdleIsIdempotent(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sess := newSession(fmt.Sprintf("s%d", i), base)
		sess.IdentityID = fmt.Sprintf("u%d", i)
		if _, err := s.Create(ctx, sess, 5, false); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := s.Validate(ctx, "s4", "n-s4", true, base.Add(20*time.Minute)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	now := base.Add(40 * time.Minute)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total []Ended
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ended, err := s.SweepIdle(ctx, now)
			if err != nil {
				t.Errorf("sweep: %v", err)
				return
			}
			mu.Lock()
			total = append(total, ended...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(total) != 4 {
		t.Fatalf("expected each idle session ended exactly once, got %d: %+v", len(total), total)
	}
	seen := map[string]bool{}
	for _, e := range total {
		if seen[e.ID] {
			t.Fatalf("session %s ended twice", e.ID)
		}
		seen[e.ID] = true
		if e.State != StateIdleExpired {
			t.Fatalf("unexpected state %s", e.State)
		}
	}
	if seen["s4"] {
		t.Fatal("recently active session must survive the sweep")
	}

	again, err := s.SweepIdle(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second sweep must be a no-op, got %+v", again)
	}
}

func TestSweepExpired(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, newSession("old", base), 5, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, newSession("new", base.Add(6*time.Hour)), 5, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	ended, err := s.SweepExpired(ctx, base.Add(13*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ended) != 1 || ended[0].ID != "old" || ended[0].State != StateAbsoluteExpired {
		t.Fatalf("unexpected sweep result: %+v", ended)
	}
}

func TestListActiveAndIdentityIndex(t *testing.T) {
	s, _ := newSessionStoreTest(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Create(ctx, newSession(id, base), 5, false); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, _, err := s.Transition(ctx, "b", StateLoggedOut, true, base); err != nil {
		t.Fatalf("transition: %v", err)
	}

	list, err := s.ListActive(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(list))
	}
	ids, err := s.ActiveForIdentity(ctx, "u1")
	if err != nil {
		t.Fatalf("active for identity: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected identity index of 2, got %v", ids)
	}
}

func TestRecordExpiresAfterRetention(t *testing.T) {
	s, mr := newSessionStoreTest(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, newSession("s1", base), 5, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	mr.FastForward(13*time.Hour + time.Minute)
	if _, err := s.Get(ctx, "s1"); err != ErrNotFound {
		t.Fatalf("expected record to be purged, got %v", err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	s, mr := newSessionStoreTest(t)
	mr.Close()
	if _, err := s.Create(context.Background(), newSession("s1", base), 5, false); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
