package goSentinel_test

import (
	"context"
	"testing"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/internal/sentineltest"
	"github.com/MrEthical07/goSentinel/jwt"
	"github.com/MrEthical07/goSentinel/portal"
)

func newBenchmarkEnv(b *testing.B) *sentineltest.Env {
	b.Helper()
	env := sentineltest.New(b, func(cfg *goSentinel.Config) {
		cfg.Metrics.Enabled = false
		cfg.Audit.Enabled = false
	})
	env.PutIdentity(b, "u1", "alice@acme.test", portal.RoleClient)
	return env
}

func BenchmarkVerify(b *testing.B) {
	env := newBenchmarkEnv(b)
	res := env.Login(b, "alice@acme.test")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.Engine.Verify(context.Background(), res.AccessToken, jwt.KindAccess); err != nil {
			b.Fatalf("verify failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	env := newBenchmarkEnv(b)
	refresh := env.Login(b, "alice@acme.test").RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := env.Engine.Refresh(context.Background(), refresh)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		refresh = pair.RefreshToken
	}
}

// BenchmarkLogin is dominated by argon2 even with the cheap test parameters.
func BenchmarkLogin(b *testing.B) {
	env := newBenchmarkEnv(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := env.Login(b, "alice@acme.test")
		if err := env.Engine.Logout(context.Background(), res.RefreshToken); err != nil {
			b.Fatalf("logout failed: %v", err)
		}
	}
}
