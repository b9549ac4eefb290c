package validator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/probe"
)

// Connectivity scoring constants.
const (
	// connectivityBaseScore is granted when at least one protocol probe
	// reaches its endpoint.
	connectivityBaseScore = 50.0

	// connectivityBothBonus is granted when both the HTTP and HTTPS
	// probes succeed.
	connectivityBothBonus = 20.0
)

// ConnectivityValidator checks whether a relay can actually carry HTTP
// and HTTPS traffic end to end. The HTTP probe expects a 200 from an
// IP-echo endpoint; the HTTPS probe expects a 204 from a
// generate_204-style endpoint, which proves the CONNECT tunnel works
// without depending on response body contents.
type ConnectivityValidator struct {
	// httpURL is the plain-HTTP probe target.
	httpURL string

	// httpsURL is the HTTPS probe target.
	httpsURL string

	// maxRetries is the per-probe retry budget.
	maxRetries int

	// retryDelay is the base delay for linear retry backoff: attempt n
	// waits n * retryDelay.
	retryDelay time.Duration
}

// NewConnectivityValidator creates a connectivity layer from the
// configured probe endpoints and retry budget.
func NewConnectivityValidator(cfg *config.Config) *ConnectivityValidator {
	return &ConnectivityValidator{
		httpURL:    cfg.HTTPProbeURL,
		httpsURL:   cfg.HTTPSProbeURL,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Name returns the layer name.
func (v *ConnectivityValidator) Name() string { return "connectivity" }

// Run implements Layer.
func (v *ConnectivityValidator) Run(ctx context.Context, client *probe.Client) model.ValidationResult {
	return v.Validate(ctx, client)
}

// Validate probes both endpoints through the relay and scores the result.
func (v *ConnectivityValidator) Validate(ctx context.Context, client *probe.Client) *model.ConnectivityResult {
	start := time.Now()
	result := &model.ConnectivityResult{
		LayerOutcome: model.LayerOutcome{LayerName: v.Name()},
	}
	result.DetailMap = map[string]any{
		"http_url":  v.httpURL,
		"https_url": v.httpsURL,
	}

	httpElapsed, err := v.probeWithRetry(ctx, client, v.httpURL, http.StatusOK)
	if err != nil {
		kind := probe.ClassifyError(err)
		result.DetailMap["http_error_kind"] = string(kind)
		result.ErrorList = append(result.ErrorList, fmt.Sprintf("http %s: %s", kind, err))
	} else {
		result.HTTPReachable = true
		result.HTTPTime = httpElapsed.Seconds()
	}

	httpsElapsed, err := v.probeWithRetry(ctx, client, v.httpsURL, http.StatusNoContent)
	if err != nil {
		kind := probe.ClassifyError(err)
		result.DetailMap["https_error_kind"] = string(kind)
		result.ErrorList = append(result.ErrorList, fmt.Sprintf("https %s: %s", kind, err))
	} else {
		result.HTTPSReachable = true
		result.HTTPSTime = httpsElapsed.Seconds()
	}

	result.PassedVal = result.HTTPReachable || result.HTTPSReachable
	result.ScoreVal = v.score(result)
	result.Elapsed = time.Since(start)
	return result
}

// probeWithRetry issues the probe up to maxRetries times with linear
// backoff and returns the latency of the first success.
func (v *ConnectivityValidator) probeWithRetry(ctx context.Context, client *probe.Client, target string, wantStatus int) (time.Duration, error) {
	var lastErr error
	for attempt := 1; attempt <= v.maxRetries; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, time.Duration(attempt-1)*v.retryDelay); err != nil {
				return 0, err
			}
		}
		res, err := client.GetExpect(ctx, target, wantStatus)
		if err == nil {
			return res.Elapsed, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	return 0, lastErr
}

// score computes the connectivity score: 50 base when anything is
// reachable, plus a response-time bonus per protocol (halved so two
// protocols share the bonus range), plus 20 when both work.
func (v *ConnectivityValidator) score(r *model.ConnectivityResult) float64 {
	if !r.HTTPReachable && !r.HTTPSReachable {
		return 0
	}

	score := connectivityBaseScore
	if r.HTTPReachable {
		score += timeBonus(r.HTTPTime) / 2
	}
	if r.HTTPSReachable {
		score += timeBonus(r.HTTPSTime) / 2
	}
	if r.HTTPReachable && r.HTTPSReachable {
		score += connectivityBothBonus
	}
	return clampScore(score)
}

// timeBonus buckets a probe latency (seconds) into a score bonus.
func timeBonus(seconds float64) float64 {
	switch {
	case seconds <= 1:
		return 30
	case seconds <= 3:
		return 25
	case seconds <= 5:
		return 20
	default:
		return 15
	}
}
