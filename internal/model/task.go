package model

import "time"

// TaskRecord is one scheduler job outcome kept in the bounded task
// history.
type TaskRecord struct {
	// Task is the job name (fetch, validate, cleanup, report).
	Task string `json:"task"`

	// Started is when the job began.
	Started time.Time `json:"started"`

	// Duration is how long the job ran.
	Duration time.Duration `json:"duration"`

	// Success reports whether the job completed without error.
	Success bool `json:"success"`

	// Detail is a human-readable outcome summary; on failure it holds
	// the error text.
	Detail string `json:"detail,omitempty"`
}

// UsageStats tracks per-proxy usage by the rotator.
// All counters are cumulative for the process lifetime.
type UsageStats struct {
	// ProxyKey is the identity key of the proxy these stats describe.
	ProxyKey string `json:"proxy_key"`

	// TotalRequests counts requests routed through the proxy.
	TotalRequests int `json:"total_requests"`

	// SuccessfulRequests and FailedRequests partition TotalRequests.
	SuccessfulRequests int `json:"successful_requests"`
	FailedRequests     int `json:"failed_requests"`

	// BlockedRequests counts failures reported as target-side blocks.
	// Blocks also count toward FailedRequests.
	BlockedRequests int `json:"blocked_requests"`

	// ConsecutiveFailures is the current failure streak; reset on success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastUsed is when the proxy last served a request.
	LastUsed time.Time `json:"last_used,omitempty"`
}

// SuccessRate returns the fraction of requests that succeeded, or zero
// when the proxy has never been used.
func (u *UsageStats) SuccessRate() float64 {
	if u.TotalRequests == 0 {
		return 0
	}
	return float64(u.SuccessfulRequests) / float64(u.TotalRequests)
}
