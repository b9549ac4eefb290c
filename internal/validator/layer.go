package validator

import (
	"context"
	"math"
	"time"

	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/probe"
)

// Layer defines the interface for one validation layer.
// Each layer implementation must provide this interface to be used
// by the comprehensive validator.
//
// Design decision: We use an interface rather than a concrete type because:
//  1. The five layers require vastly different implementations
//  2. Allows for easy mocking in tests
//  3. The comprehensive validator can iterate layers uniformly
type Layer interface {
	// Run executes the layer against the relay behind the client and
	// returns its result. Failures are folded into the result; Run
	// itself only stops early on context cancellation.
	Run(ctx context.Context, client *probe.Client) model.ValidationResult

	// Name returns the layer name (e.g. "connectivity").
	Name() string
}

// clampScore bounds a score to [0, 100].
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// mean returns the arithmetic mean of values, or 0 for an empty slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev returns the population standard deviation of values.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// percentile returns the p-th percentile (0 < p <= 1) of values using
// nearest-rank on a sorted copy.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	// Insertion sort; probe sample sets are small.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
