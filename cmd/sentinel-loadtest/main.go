// Command sentinel-loadtest measures the Redis session manager under
// concurrent validate and rotate traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSentinel/session"
)

type sessionState struct {
	id    string
	nonce string
	mu    sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		identities  = flag.Int("identities", 20000, "distinct identities the sessions are spread over")
		limit       = flag.Int("cap", 5, "concurrent-session cap per identity")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (validate + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "sentinel-load", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *identities <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, identities, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := session.NewStore(client, session.Config{
		Prefix:          *prefix,
		IdleTimeout:     time.Hour,
		AbsoluteTimeout: 12 * time.Hour,
		Retention:       time.Hour,
	})

	fmt.Printf("seeding %d sessions over %d identities (cap %d)...\n", *sessions, *identities, *limit)
	startSeed := time.Now()
	states, evicted, err := seed(ctx, store, *sessions, *identities, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s, %d evicted by the cap\n", time.Since(startSeed).Round(time.Millisecond), evicted)

	validateStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, _ int) bool {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		nonce := st.nonce
		st.mu.Unlock()
		res, err := store.Validate(ctx, st.id, nonce, true, time.Now())
		return err == nil && res.Status == session.StatusValid
	})
	rotateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, i int) bool {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		next := st.nonce + "." + strconv.Itoa(i)
		res, err := store.Rotate(ctx, st.id, st.nonce, next, time.Now())
		if err != nil || res.Status != session.StatusValid {
			return false
		}
		st.nonce = next
		return true
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("rotate", rotateStats)
}

// seed creates sessions round-robin over identities and returns the ones
// still active once the cap has evicted the rest.
func seed(ctx context.Context, store *session.Store, n, identities, limit int) ([]sessionState, int, error) {
	all := make([]sessionState, n)
	evicted := make(map[string]struct{})
	now := time.Now()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("sid-%d", i)
		nonce := fmt.Sprintf("n-%d", i)
		res, err := store.Create(ctx, &session.Session{
			ID:         id,
			IdentityID: fmt.Sprintf("u-%d", i%identities),
			TenantID:   "t-load",
			Portal:     "client",
			Nonce:      nonce,
			CreatedAt:  now.Add(time.Duration(i) * time.Microsecond),
		}, limit, false)
		if err != nil {
			return nil, 0, err
		}
		for _, e := range res.Evicted {
			evicted[e.ID] = struct{}{}
		}
		all[i] = sessionState{id: id, nonce: nonce}
	}

	live := make([]sessionState, 0, n-len(evicted))
	for i := range all {
		if _, gone := evicted[all[i].id]; !gone {
			live = append(live, sessionState{id: all[i].id, nonce: all[i].nonce})
		}
	}
	return live, len(evicted), nil
}

func runPhase(ops, concurrency int, seedMul int64, op func(r *rand.Rand, i int) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedMul))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				ok := op(r, i)
				d := time.Since(t0)
				if !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
