package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/opentoken"
	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/session"
	"github.com/MrEthical07/opentoken/signature"
	"github.com/MrEthical07/opentoken/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type sessionState struct {
	id     string
	secret string
}

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (get + authenticate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		pepper      = flag.String("pepper", "loadtest-pepper", "account id hash salt")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	kv := redisstore.New(client)

	cfg := opentoken.DefaultConfig()
	cfg.Hash.AccountID.Salt = []byte(*pepper)
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := opentoken.New().WithConfig(cfg).WithStore(kv).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	keyer, err := hash.NewKeyer(cfg.Hash.AccountID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keyer: %v\n", err)
		os.Exit(1)
	}
	store := session.NewStore(kv, keyer, cfg.Session.StoragePrefix)

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		states[i] = sessionState{
			id:     fmt.Sprintf("loadtest-session-%08d", i),
			secret: fmt.Sprintf("loadtest-secret-%08d", i),
		}
		if err := store.Save(ctx, buildSession(states[i])); err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	getStats := runPhase(states, *ops, *concurrency, 7919, func(st sessionState) error {
		_, err := store.Get(ctx, st.id)
		return err
	})
	authStats := runPhase(states, *ops, *concurrency, 6151, func(st sessionState) error {
		r, err := signedRequest(st)
		if err != nil {
			return err
		}
		_, err = engine.Authenticate(ctx, r)
		return err
	})

	fmt.Println("---- results ----")
	printStats("session-get", getStats)
	printStats("authenticate", authStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: signature_rejected=%d latency_buckets=%v\n",
		snap.Counters[opentoken.MetricSignatureRejected],
		snap.Histograms[opentoken.MetricAuthenticateLatency],
	)
}

// runPhase calls op ops times over random sessions and records the latency
// of each call. Signing is part of the measured time for authenticate.
func runPhase(states []sessionState, ops, concurrency int, seed int64, op func(sessionState) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				t0 := time.Now()
				err := op(states[idx])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func signedRequest(st sessionState) (*http.Request, error) {
	r, err := http.NewRequest(http.MethodGet, "http://loadtest.local/v1/tokens", nil)
	if err != nil {
		return nil, err
	}
	signer := signature.Signer{AccessCode: st.id, Secret: []byte(st.secret)}
	if err := signer.Sign(r); err != nil {
		return nil, err
	}
	return r, nil
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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

func buildSession(st sessionState) *session.Session {
	now := time.Now()
	return &session.Session{
		ID:        st.id,
		AccountID: "loadtest-account",
		Secret:    st.secret,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(24 * time.Hour).Unix(),
	}
}
