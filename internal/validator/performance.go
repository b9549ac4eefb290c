package validator

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/probe"
)

// Performance layer tuning.
const (
	// performanceRunsPerSize is how many timed downloads run per
	// payload size.
	performanceRunsPerSize = 3
)

// performancePayloadSizes are the download payload sizes in bytes,
// smallest first. The spread from 1KB to 1MB separates relays that
// only handle tiny responses from ones that sustain real transfers.
var performancePayloadSizes = []int{1 * 1024, 10 * 1024, 100 * 1024, 1024 * 1024}

// PerformanceValidator measures download throughput, latency,
// size-scaling consistency, and jitter through the relay.
type PerformanceValidator struct {
	// urlTemplate is the download target; %d is replaced with the
	// payload size in bytes.
	urlTemplate string

	// sizes are the payload sizes to download.
	sizes []int

	// runsPerSize is the number of timed downloads per size.
	runsPerSize int
}

// NewPerformanceValidator creates a performance layer from the
// configured download endpoint.
func NewPerformanceValidator(cfg *config.Config) *PerformanceValidator {
	return &PerformanceValidator{
		urlTemplate: cfg.PerformanceURL,
		sizes:       performancePayloadSizes,
		runsPerSize: performanceRunsPerSize,
	}
}

// Name returns the layer name.
func (v *PerformanceValidator) Name() string { return "performance" }

// Run implements Layer.
func (v *PerformanceValidator) Run(ctx context.Context, client *probe.Client) model.ValidationResult {
	return v.Validate(ctx, client)
}

// Validate downloads each payload size several times and scores the
// measurements. Individual download failures are recorded and skipped;
// the layer fails only when no download succeeds at all.
func (v *PerformanceValidator) Validate(ctx context.Context, client *probe.Client) *model.PerformanceResult {
	start := time.Now()
	result := &model.PerformanceResult{
		LayerOutcome: model.LayerOutcome{LayerName: v.Name()},
	}

	// Per-size mean download time (seconds), for the consistency
	// calculation. Zero means every run of that size failed.
	sizeMeans := make([]float64, len(v.sizes))

	var allTimes []float64
	var throughputs []float64
	totalRuns := 0
	okRuns := 0

	for i, size := range v.sizes {
		target := fmt.Sprintf(v.urlTemplate, size)
		var times []float64
		for run := 0; run < v.runsPerSize; run++ {
			totalRuns++
			res, err := client.GetExpect(ctx, target, http.StatusOK)
			if err != nil {
				result.ErrorList = append(result.ErrorList,
					fmt.Sprintf("size %d run %d: %v", size, run+1, err))
				if ctx.Err() != nil {
					result.Elapsed = time.Since(start)
					return result
				}
				continue
			}
			okRuns++
			secs := res.Elapsed.Seconds()
			times = append(times, secs)
			allTimes = append(allTimes, secs)
			if secs > 0 {
				throughputs = append(throughputs, float64(res.BodySize)*8/1000/secs)
			}
		}
		sizeMeans[i] = mean(times)
	}

	result.DetailMap = map[string]any{
		"runs_total": totalRuns,
		"runs_ok":    okRuns,
	}
	result.Elapsed = time.Since(start)

	if okRuns == 0 {
		return result
	}

	result.ThroughputKbps = mean(throughputs)
	result.AvgLatency = mean(allTimes)
	result.Consistency = consistency(v.sizes, sizeMeans)
	if m := mean(allTimes); m > 0 {
		result.Jitter = stddev(allTimes) / m
	}

	result.PassedVal = okRuns*2 >= totalRuns
	result.ScoreVal = v.score(result)
	return result
}

// score combines the four measurements into the layer score.
func (v *PerformanceValidator) score(r *model.PerformanceResult) float64 {
	score := throughputBucket(r.ThroughputKbps)
	score += latencyBucket(r.AvgLatency)
	score += r.Consistency * 20
	score += math.Max(0, 1-r.Jitter) * 10
	return clampScore(score)
}

// consistency measures how proportionally download time scaled with
// payload size, normalized to the smallest size with a measurement.
// Returns a value in [0, 1]; 1.0 means perfectly proportional scaling.
func consistency(sizes []int, sizeMeans []float64) float64 {
	base := -1
	for i, m := range sizeMeans {
		if m > 0 {
			base = i
			break
		}
	}
	if base < 0 {
		return 0
	}

	var deviations []float64
	for i := base + 1; i < len(sizeMeans); i++ {
		if sizeMeans[i] <= 0 {
			continue
		}
		expected := float64(sizes[i]) / float64(sizes[base])
		actual := sizeMeans[i] / sizeMeans[base]
		deviations = append(deviations, math.Abs(actual-expected)/expected)
	}
	if len(deviations) == 0 {
		// A single measured size cannot show scaling behavior; grant
		// half credit rather than rewarding or punishing blindly.
		return 0.5
	}

	c := 1 - mean(deviations)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// throughputBucket maps average throughput (kbps) to score points.
func throughputBucket(kbps float64) float64 {
	switch {
	case kbps >= 1000:
		return 40
	case kbps >= 500:
		return 32
	case kbps >= 100:
		return 24
	case kbps >= 50:
		return 16
	default:
		return 8
	}
}

// latencyBucket maps average download time (seconds) to score points.
func latencyBucket(seconds float64) float64 {
	switch {
	case seconds <= 1:
		return 30
	case seconds <= 3:
		return 24
	case seconds <= 5:
		return 18
	default:
		return 12
	}
}
