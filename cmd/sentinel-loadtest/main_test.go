package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSentinel/session"
)

func TestSeedHonorsCap(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := session.NewStore(rdb, session.Config{Prefix: "lt", IdleTimeout: time.Hour, AbsoluteTimeout: 2 * time.Hour})
	live, evicted, err := seed(context.Background(), store, 30, 3, 4)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(live) != 12 || evicted != 18 {
		t.Fatalf("expected 12 live and 18 evicted, got %d and %d", len(live), evicted)
	}

	stats := runPhase(50, 4, 1, func(r *rand.Rand, _ int) bool {
		st := &live[r.Intn(len(live))]
		res, err := store.Validate(context.Background(), st.id, st.nonce, false, time.Now())
		return err == nil && res.Status == session.StatusValid
	})
	if stats.ops != 50 || stats.failures != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %v", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %v", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty = %v", got)
	}
}
