package password

import (
	"errors"
	"strings"
	"testing"
)

// testConfig keeps the KDF cheap; production parameters live in goSentinel.DefaultConfig.
func testConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newTestHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t, testConfig())

	hash, err := h.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := h.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail, ok=%v err=%v", ok, err)
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	h := newTestHasher(t, testConfig())
	hash, _ := h.Hash("padded-password")
	parts := strings.Split(hash, "$")
	parts[4] += "=="
	ok, err := h.Verify("padded-password", strings.Join(parts, "$"))
	if err != nil || !ok {
		t.Fatalf("expected padded salt to verify, ok=%v err=%v", ok, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t, testConfig())
	for _, bad := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
	} {
		if _, err := h.Verify("whatever", bad); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("expected ErrMalformedHash for %q, got %v", bad, err)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	old := newTestHasher(t, testConfig())
	hash, _ := old.Hash("test-password")

	stronger := testConfig()
	stronger.Time = 2
	upgraded := newTestHasher(t, stronger)

	needs, err := upgraded.NeedsUpgrade(hash)
	if err != nil || !needs {
		t.Fatalf("expected upgrade to be needed, needs=%v err=%v", needs, err)
	}
	needs, err = old.NeedsUpgrade(hash)
	if err != nil || needs {
		t.Fatalf("expected no upgrade for same config, needs=%v err=%v", needs, err)
	}
}

func TestVerifyDummyAlwaysFalse(t *testing.T) {
	h := newTestHasher(t, testConfig())
	if h.VerifyDummy("dummy-password-for-unknown-accounts") {
		t.Fatal("dummy verification must never succeed")
	}
}

func TestRejectsOversizedPassword(t *testing.T) {
	h := newTestHasher(t, testConfig())
	long := strings.Repeat("a", maxPassBytes+1)
	if _, err := h.Hash(long); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if _, err := h.Verify(long, "$argon2id$"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong on verify, got %v", err)
	}
}

func TestNewRejectsWeakConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SaltLength = 8
	if _, err := New(cfg); err == nil {
		t.Fatal("expected weak salt length to be rejected")
	}
}
