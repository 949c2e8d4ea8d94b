// Command rotation-loadtest measures Authenticate latency and checks that
// concurrent requests replaying the same expired credentials produce exactly
// one successor per rotation.
package main

import (
	"context"
	"flag"
	"fmt"
	"maps"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	clientIP  = "198.51.100.20"
	userAgent = "rotation-loadtest"
)

// channels is one client's cookie jar and session, shared by value between
// replays of the same credentials.
type channels struct {
	mu      sync.Mutex
	cookies map[string]string
	session map[string]string
}

type mapJar struct{ c *channels }

func (j mapJar) Get(name string) (string, bool) {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	v, ok := j.c.cookies[name]
	return v, ok
}

func (j mapJar) SetSigned(name, value string, _ goSession.CookieOptions) {
	j.c.mu.Lock()
	j.c.cookies[name] = value
	j.c.mu.Unlock()
}

func (j mapJar) Clear(name string) {
	j.c.mu.Lock()
	delete(j.c.cookies, name)
	j.c.mu.Unlock()
}

type mapBag struct{ c *channels }

func (b mapBag) Get(key string) (string, bool) {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	v, ok := b.c.session[key]
	return v, ok
}

func (b mapBag) Set(key, value string) {
	b.c.mu.Lock()
	b.c.session[key] = value
	b.c.mu.Unlock()
}

func (b mapBag) Delete(key string) {
	b.c.mu.Lock()
	delete(b.c.session, key)
	b.c.mu.Unlock()
}

func newChannels() *channels {
	return &channels{cookies: map[string]string{}, session: map[string]string{}}
}

func (c *channels) clone() *channels {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &channels{cookies: maps.Clone(c.cookies), session: maps.Clone(c.session)}
}

func (c *channels) request() goSession.Request {
	return goSession.Request{Cookies: mapJar{c}, Session: mapBag{c}, IP: clientIP, UserAgent: userAgent}
}

type unitState struct {
	userID string
	creds  *channels
}

// skewClock lets the rotation phase jump past the access token lifetime.
type skewClock struct{ offset atomic.Int64 }

func (c *skewClock) Now() time.Time { return time.Now().Add(time.Duration(c.offset.Load())) }

func (c *skewClock) Advance(d time.Duration) { c.offset.Add(int64(d)) }

func main() {
	var (
		units       = flag.Int("units", 1000, "number of users to log in, one device each")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "authenticate calls in the read phase")
		rounds      = flag.Int("rounds", 3, "rotation rounds; every unit rotates once per round")
		burst       = flag.Int("burst", 8, "concurrent replays of the same credentials per rotation")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "redis key prefix")
		distributed = flag.Bool("distributed-lock", false, "use the redis rotation lock instead of the in-process one")
	)
	flag.Parse()

	if *units <= 0 || *concurrency <= 0 || *ops <= 0 || *rounds <= 0 || *burst <= 0 {
		fmt.Fprintln(os.Stderr, "units, concurrency, ops, rounds and burst must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  *redis.Client
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goSession.DefaultConfig()
	cfg.Device.Secret = []byte("rotation-loadtest-device-secret-0123456789")
	cfg.Store.RedisPrefix = *prefix
	cfg.Lock.Distributed = *distributed
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	clock := &skewClock{}
	engine, err := goSession.New().WithConfig(cfg).WithRedis(client).WithClock(clock.Now).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]unitState, *units)
	fmt.Printf("logging in %d units...\n", *units)
	startSeed := time.Now()
	for i := range states {
		userID := fmt.Sprintf("u-%d", i)
		res, err := engine.Login(ctx, userID, clientIP, userAgent)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		creds := newChannels()
		if _, err := engine.WriteCredentials(creds.request(), res); err != nil {
			fmt.Fprintf(os.Stderr, "write credentials failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = unitState{userID: userID, creds: creds}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	readStats := runAuthenticatePhase(ctx, engine, states, *ops, *concurrency)

	var rotation rotationReport
	for round := 0; round < *rounds; round++ {
		clock.Advance(cfg.JWT.AccessTTL + cfg.Revocation.GracePeriod + time.Second)
		rotation.merge(runRotationRound(ctx, engine, states, *burst, *concurrency))
	}

	leaked := countActive(ctx, engine, states)

	fmt.Println("---- results ----")
	printStats("authenticate", readStats)
	printStats("rotation", rotation.stats())
	fmt.Printf("rotations=%d shared=%d rejected=%d exclusivity_violations=%d lost_units=%d active_units=%d/%d\n",
		rotation.rotations, rotation.shared, rotation.rejected, rotation.violations, rotation.lost, leaked, len(states))
	snap := engine.MetricsSnapshot()
	fmt.Printf("metrics: rotation_success=%d rotation_shared=%d grace_accepted=%d\n",
		snap.Counters[goSession.MetricRotationSuccess],
		snap.Counters[goSession.MetricRotationShared],
		snap.Counters[goSession.MetricGraceAccepted],
	)

	if rotation.violations > 0 || rotation.lost > 0 || leaked != len(states) {
		os.Exit(1)
	}
}

func runAuthenticatePhase(ctx context.Context, engine *goSession.Engine, states []unitState, ops, concurrency int) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				creds := states[r.Intn(len(states))].creds.clone()
				t0 := time.Now()
				res, err := engine.Authenticate(ctx, creds.request())
				d := time.Since(t0)
				if err != nil || res.State != goSession.StateAccessValid {
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

type rotationReport struct {
	total      time.Duration
	latencies  []time.Duration
	rotations  int64
	shared     int64
	rejected   int64
	violations int64
	lost       int64
}

func (r *rotationReport) merge(o rotationReport) {
	r.total += o.total
	r.latencies = append(r.latencies, o.latencies...)
	r.rotations += o.rotations
	r.shared += o.shared
	r.rejected += o.rejected
	r.violations += o.violations
	r.lost += o.lost
}

func (r *rotationReport) stats() phaseStats {
	return computeStats(r.total, r.latencies, r.rejected)
}

// runRotationRound rotates every unit once. Each rotation is attempted by
// burst goroutines replaying identical expired credentials at the same time.
func runRotationRound(ctx context.Context, engine *goSession.Engine, states []unitState, burst, concurrency int) rotationReport {
	var (
		wg     sync.WaitGroup
		cursor int64
		mu     sync.Mutex
		report rotationReport
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(states) {
					return
				}
				out := rotateOnce(ctx, engine, &states[i], burst)
				mu.Lock()
				report.merge(out)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	report.total = time.Since(start)
	return report
}

func rotateOnce(ctx context.Context, engine *goSession.Engine, state *unitState, burst int) rotationReport {
	type attempt struct {
		creds   *channels
		res     goSession.AuthResult
		err     error
		latency time.Duration
	}

	attempts := make([]attempt, burst)
	for i := range attempts {
		attempts[i].creds = state.creds.clone()
	}

	var wg sync.WaitGroup
	gate := make(chan struct{})
	for i := range attempts {
		wg.Add(1)
		go func(a *attempt) {
			defer wg.Done()
			<-gate
			t0 := time.Now()
			a.res, a.err = engine.Authenticate(ctx, a.creds.request())
			a.latency = time.Since(t0)
		}(&attempts[i])
	}
	close(gate)
	wg.Wait()

	var report rotationReport
	successors := map[string]*channels{}
	for _, a := range attempts {
		report.latencies = append(report.latencies, a.latency)
		if a.err != nil || a.res.Context == nil {
			report.rejected++
			continue
		}
		if a.res.Shared {
			report.shared++
		}
		successors[a.res.Context.RefreshTokenID()] = a.creds
	}

	switch len(successors) {
	case 0:
		report.lost++
	case 1:
		report.rotations++
		for _, creds := range successors {
			state.creds = creds
		}
	default:
		report.violations++
		for _, creds := range successors {
			state.creds = creds
			break
		}
	}
	return report
}

// countActive returns how many units still hold exactly one live record.
func countActive(ctx context.Context, engine *goSession.Engine, states []unitState) int {
	n := 0
	for _, s := range states {
		active, err := engine.ListActiveUnits(ctx, s.userID)
		if err == nil && len(active) == 1 {
			n++
		}
	}
	return n
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
