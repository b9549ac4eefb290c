package validator

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/probe"
)

// Reliability layer tuning.
const (
	// reliabilityResponseThreshold is the latency a single probe is
	// held against; the load sub-test allows up to twice this at p95.
	reliabilityResponseThreshold = 5 * time.Second

	// reliabilityLoadRequests and reliabilityLoadConcurrency shape the
	// load sub-test burst.
	reliabilityLoadRequests    = 20
	reliabilityLoadConcurrency = 5

	// reliabilityBurstRequests is the request count for the resource
	// usage sub-test.
	reliabilityBurstRequests = 50

	// reliabilityHeapThreshold and reliabilityGoroutineThreshold bound
	// acceptable resource growth across the burst.
	reliabilityHeapThreshold      = 10 * 1024 * 1024
	reliabilityGoroutineThreshold = 50
)

// reliabilityWeights are the sub-test weights, summing to 1.
var reliabilityWeights = map[string]float64{
	"stability":       0.25,
	"load":            0.20,
	"fault_recovery":  0.20,
	"network_quality": 0.20,
	"resource_usage":  0.15,
}

// ReliabilityValidator runs the five reliability sub-tests: sustained
// stability over time, behavior under concurrent load, recovery after a
// pause, network quality (loss and jitter), and resource growth on the
// caller's side across a request burst.
type ReliabilityValidator struct {
	// probeURL is the endpoint probed by every sub-test; a 200 counts
	// as success.
	probeURL string

	// stabilityDuration and stabilityInterval shape the stability
	// sub-test: one probe per interval across the duration.
	stabilityDuration time.Duration
	stabilityInterval time.Duration

	// recoveryAttempts and recoveryInterval shape the fault recovery
	// sub-test.
	recoveryAttempts int
	recoveryInterval time.Duration

	// pingCount is the probe count for the network quality sub-test.
	pingCount int

	// loadRequests and loadConcurrency shape the load sub-test.
	loadRequests    int
	loadConcurrency int
}

// NewReliabilityValidator creates a reliability layer from the
// configured sub-test tuning.
func NewReliabilityValidator(cfg *config.Config) *ReliabilityValidator {
	return &ReliabilityValidator{
		probeURL:          cfg.HTTPProbeURL,
		stabilityDuration: cfg.StabilityDuration,
		stabilityInterval: cfg.StabilityInterval,
		recoveryAttempts:  cfg.RecoveryAttempts,
		recoveryInterval:  cfg.RecoveryInterval,
		pingCount:         cfg.PingCount,
		loadRequests:      reliabilityLoadRequests,
		loadConcurrency:   reliabilityLoadConcurrency,
	}
}

// Name returns the layer name.
func (v *ReliabilityValidator) Name() string { return "reliability" }

// Run implements Layer.
func (v *ReliabilityValidator) Run(ctx context.Context, client *probe.Client) model.ValidationResult {
	return v.Validate(ctx, client)
}

// Validate runs all sub-tests in sequence and weights their scores.
// Sub-tests run sequentially so one does not distort another's timing.
func (v *ReliabilityValidator) Validate(ctx context.Context, client *probe.Client) *model.ReliabilityResult {
	start := time.Now()
	result := &model.ReliabilityResult{
		LayerOutcome: model.LayerOutcome{LayerName: v.Name()},
		SubTests:     map[string]*model.ReliabilitySubTest{},
	}

	subTests := []struct {
		name string
		run  func(context.Context, *probe.Client) *model.ReliabilitySubTest
	}{
		{"stability", v.stability},
		{"load", v.load},
		{"fault_recovery", v.faultRecovery},
		{"network_quality", v.networkQuality},
		{"resource_usage", v.resourceUsage},
	}

	var score float64
	for _, st := range subTests {
		if ctx.Err() != nil {
			result.ErrorList = append(result.ErrorList, ctx.Err().Error())
			break
		}
		sub := st.run(ctx, client)
		result.SubTests[st.name] = sub
		score += sub.Score * reliabilityWeights[st.name]
	}

	result.ScoreVal = clampScore(score)
	result.PassedVal = result.ScoreVal >= 60
	result.Elapsed = time.Since(start)
	return result
}

// stability probes the relay at a fixed interval across the window and
// measures success rate and latency spread.
func (v *ReliabilityValidator) stability(ctx context.Context, client *probe.Client) *model.ReliabilitySubTest {
	probes := int(v.stabilityDuration / v.stabilityInterval)
	if probes < 1 {
		probes = 1
	}

	var times []float64
	successes := 0
	for i := 0; i < probes; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, v.stabilityInterval); err != nil {
				break
			}
		}
		res, err := client.GetExpect(ctx, v.probeURL, http.StatusOK)
		if err != nil {
			continue
		}
		successes++
		times = append(times, res.Elapsed.Seconds())
	}

	rate := float64(successes) / float64(probes)
	avg := mean(times)
	sd := stddev(times)

	threshold := reliabilityResponseThreshold.Seconds()
	score := rate*70 + math.Max(0, 1-avg/threshold)*20 + math.Max(0, 1-sd/2)*10
	return &model.ReliabilitySubTest{
		Name:   "stability",
		Score:  clampScore(score),
		Passed: rate >= 0.95 && avg <= threshold && sd <= 2,
		Metrics: map[string]float64{
			"probes":       float64(probes),
			"success_rate": rate,
			"avg_time":     avg,
			"stdev":        sd,
		},
	}
}

// load fires a bounded-concurrency burst and checks that the relay
// holds its success rate and tail latency.
func (v *ReliabilityValidator) load(ctx context.Context, client *probe.Client) *model.ReliabilitySubTest {
	var mu sync.Mutex
	var times []float64
	successes := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.loadConcurrency)
	for i := 0; i < v.loadRequests; i++ {
		g.Go(func() error {
			res, err := client.GetExpect(gctx, v.probeURL, http.StatusOK)
			if err != nil {
				return nil
			}
			mu.Lock()
			successes++
			times = append(times, res.Elapsed.Seconds())
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	rate := float64(successes) / float64(v.loadRequests)
	p95 := percentile(times, 0.95)
	p95Limit := 2 * reliabilityResponseThreshold.Seconds()

	score := rate*70 + math.Max(0, 1-p95/p95Limit)*30
	return &model.ReliabilitySubTest{
		Name:   "load",
		Score:  clampScore(score),
		Passed: rate >= 0.90 && p95 <= p95Limit,
		Metrics: map[string]float64{
			"requests":     float64(v.loadRequests),
			"success_rate": rate,
			"p95":          p95,
		},
	}
}

// faultRecovery pauses, then re-probes the relay a few times and
// measures how quickly it answers again. Free relays drop idle
// connections aggressively; a usable one must accept fresh ones.
func (v *ReliabilityValidator) faultRecovery(ctx context.Context, client *probe.Client) *model.ReliabilitySubTest {
	attempts := v.recoveryAttempts
	if attempts < 1 {
		attempts = 1
	}

	if err := sleepCtx(ctx, v.recoveryInterval); err != nil {
		return &model.ReliabilitySubTest{Name: "fault_recovery", Metrics: map[string]float64{}}
	}

	successes := 0
	firstRecovery := -1.0
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, v.recoveryInterval); err != nil {
				break
			}
		}
		if _, err := client.GetExpect(ctx, v.probeURL, http.StatusOK); err == nil {
			successes++
			if firstRecovery < 0 {
				firstRecovery = float64(i+1) * v.recoveryInterval.Seconds()
			}
		}
	}

	rate := float64(successes) / float64(attempts)
	metrics := map[string]float64{
		"attempts":      float64(attempts),
		"recovery_rate": rate,
	}
	if firstRecovery >= 0 {
		metrics["first_recovery_secs"] = firstRecovery
	}
	return &model.ReliabilitySubTest{
		Name:    "fault_recovery",
		Score:   clampScore(rate * 100),
		Passed:  rate >= 0.80,
		Metrics: metrics,
	}
}

// networkQuality sends a series of small probes and derives packet-loss
// and jitter figures from the HTTP round trips.
func (v *ReliabilityValidator) networkQuality(ctx context.Context, client *probe.Client) *model.ReliabilitySubTest {
	count := v.pingCount
	if count < 2 {
		count = 2
	}

	var times []float64
	failures := 0
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			failures += count - i
			break
		}
		res, err := client.GetExpect(ctx, v.probeURL, http.StatusOK)
		if err != nil {
			failures++
			continue
		}
		times = append(times, res.Elapsed.Seconds())
	}

	loss := float64(failures) / float64(count)

	// Jitter as the mean absolute difference between consecutive round
	// trips, the same shape RFC 3550 uses for RTP.
	var jitter float64
	if len(times) >= 2 {
		var sum float64
		for i := 1; i < len(times); i++ {
			sum += math.Abs(times[i] - times[i-1])
		}
		jitter = sum / float64(len(times)-1)
	}

	score := (1-loss)*60 + (1-math.Min(jitter/0.1, 1))*40
	return &model.ReliabilitySubTest{
		Name:   "network_quality",
		Score:  clampScore(score),
		Passed: loss <= 0.05 && jitter <= 0.05,
		Metrics: map[string]float64{
			"probes":      float64(count),
			"packet_loss": loss,
			"jitter":      jitter,
		},
	}
}

// resourceUsage measures caller-side resource growth across a request
// burst. A relay that strings connections along without closing them
// shows up as heap and goroutine growth here.
func (v *ReliabilityValidator) resourceUsage(ctx context.Context, client *probe.Client) *model.ReliabilitySubTest {
	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	goroutinesBefore := runtime.NumGoroutine()

	for i := 0; i < reliabilityBurstRequests; i++ {
		if ctx.Err() != nil {
			break
		}
		// Failures are irrelevant here; only what they cost us counts.
		_, _ = client.Get(ctx, v.probeURL)
	}

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	goroutinesAfter := runtime.NumGoroutine()

	var heapInc float64
	if after.HeapAlloc > before.HeapAlloc {
		heapInc = float64(after.HeapAlloc - before.HeapAlloc)
	}
	var goroutineInc float64
	if goroutinesAfter > goroutinesBefore {
		goroutineInc = float64(goroutinesAfter - goroutinesBefore)
	}

	heapScore := math.Max(0, (1-math.Min(heapInc/reliabilityHeapThreshold, 1))*50)
	goroutineScore := math.Max(0, (1-math.Min(goroutineInc/reliabilityGoroutineThreshold, 1))*50)

	leakRisk := heapInc > reliabilityHeapThreshold/2 || goroutineInc > reliabilityGoroutineThreshold/2
	metrics := map[string]float64{
		"heap_increase_bytes": heapInc,
		"goroutine_increase":  goroutineInc,
	}
	if leakRisk {
		metrics["leak_risk"] = 1
	}
	return &model.ReliabilitySubTest{
		Name:    "resource_usage",
		Score:   clampScore(heapScore + goroutineScore),
		Passed:  !leakRisk,
		Metrics: metrics,
	}
}

// subTestSummary formats sub-test outcomes for logs.
func subTestSummary(r *model.ReliabilityResult) string {
	return fmt.Sprintf("stability=%.0f load=%.0f recovery=%.0f network=%.0f resource=%.0f",
		subScore(r, "stability"), subScore(r, "load"), subScore(r, "fault_recovery"),
		subScore(r, "network_quality"), subScore(r, "resource_usage"))
}

// subScore returns a sub-test score or 0 when the sub-test never ran.
func subScore(r *model.ReliabilityResult, name string) float64 {
	if s, ok := r.SubTests[name]; ok {
		return s.Score
	}
	return 0
}
