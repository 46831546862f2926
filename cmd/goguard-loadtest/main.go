package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	mrand "math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	promexport "github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type subjectState struct {
	id      string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		subjects    = flag.Int("subjects", 10000, "number of subjects to seed with credentials")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (evaluate + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		namespace   = flag.String("namespace", "gglt", "store key namespace")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
		verbose     = flag.Bool("v", false, "log guard warnings to stderr")
	)
	flag.Parse()

	if *subjects <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency, and ops must be > 0")
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

	guard, err := buildGuard(client, *namespace, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer guard.Close()

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: promexport.NewCollector(guard).Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
		fmt.Printf("serving metrics on %s\n", *metricsAddr)
	}

	states := make([]subjectState, *subjects)
	fmt.Printf("seeding %d subjects...\n", *subjects)
	startSeed := time.Now()
	for i := range states {
		id := fmt.Sprintf("subject-%d", i)
		pair, err := guard.IssueCredentials(ctx, id, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		states[i].id = id
		states[i].refresh = pair.RefreshToken
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	evaluateStats := runPhase(*ops, *concurrency, 7919, func(r *mrand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		v, err := guard.Evaluate(ctx, goGuard.Attempt{
			Identifier: s.id,
			Address:    fmt.Sprintf("198.51.%d.%d", r.Intn(256), 1+r.Intn(254)),
			UserAgent:  "goguard-loadtest/1.0 (benchmark harness)",
			Action:     goGuard.ActionAPI,
		})
		if err != nil {
			return err
		}
		if len(v.Degraded) > 0 {
			return errors.New("degraded")
		}
		return nil
	})
	rotateStats := runPhase(*ops, *concurrency, 6151, func(r *mrand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := guard.RotateCredentials(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.refresh = pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("evaluate", evaluateStats)
	printStats("rotate", rotateStats)

	snap := guard.MetricsSnapshot()
	fmt.Printf("allowed=%d rate_limited=%d rotated=%d replays=%d\n",
		snap.Counters[goGuard.MetricGateAllowed],
		snap.Counters[goGuard.MetricGateRateLimited],
		snap.Counters[goGuard.MetricCredentialsRotated],
		snap.Counters[goGuard.MetricTokenReplay],
	)
}

func buildGuard(client redis.UniversalClient, namespace string, verbose bool) (*goGuard.Guard, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	cfg := goGuard.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.Store.Namespace = namespace
	cfg.Store.Timeout = 2 * time.Second
	cfg.RateLimit.MaxPerMinute = 1 << 30
	cfg.RateLimit.MaxPerHour = 1 << 30
	cfg.RateLimit.MaxPerDay = 1 << 30
	cfg.Violation.SweepOnResponse = false

	logger := zerolog.Nop()
	if verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	}
	return goGuard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(logger).
		WithLatencyHistograms(true).
		Build()
}

func runPhase(ops, concurrency int, seed int64, op func(r *mrand.Rand, i int) error) phaseStats {
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
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
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
