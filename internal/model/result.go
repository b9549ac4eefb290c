package model

import "time"

// ValidationResult is the common capability of every validation layer
// outcome: a bounded score, a pass/fail verdict, structured detail,
// recorded errors, and the wall time the layer spent.
//
// Design decision: We use one interface implemented by per-layer result
// structs rather than a single catch-all struct with optional fields.
// Each layer carries typed detail (throughput, leak flags, consensus
// data) that would otherwise degrade into a map of maybe-present keys.
type ValidationResult interface {
	// Layer returns the layer name (e.g. "connectivity").
	Layer() string

	// Score returns the layer score in [0, 100].
	Score() float64

	// Passed reports whether the layer considers the proxy usable.
	Passed() bool

	// Details returns structured, layer-specific measurement detail
	// for reports and persistence.
	Details() map[string]any

	// Errors returns the probe errors recorded during the layer run.
	// A non-empty slice does not imply failure; layers tolerate
	// partial endpoint failures.
	Errors() []string

	// ExecutionTime returns how long the layer run took.
	ExecutionTime() time.Duration
}

// LayerOutcome holds the fields shared by all layer results.
// Embed it in a per-layer result struct and override Layer().
type LayerOutcome struct {
	LayerName string         `json:"layer"`
	ScoreVal  float64        `json:"score"`
	PassedVal bool           `json:"passed"`
	DetailMap map[string]any `json:"details,omitempty"`
	ErrorList []string       `json:"errors,omitempty"`
	Elapsed   time.Duration  `json:"execution_time"`
}

// Layer returns the layer name.
func (o *LayerOutcome) Layer() string { return o.LayerName }

// Score returns the layer score in [0, 100].
func (o *LayerOutcome) Score() float64 { return o.ScoreVal }

// Passed reports whether the layer passed.
func (o *LayerOutcome) Passed() bool { return o.PassedVal }

// Details returns the structured detail map.
func (o *LayerOutcome) Details() map[string]any {
	if o.DetailMap == nil {
		return map[string]any{}
	}
	return o.DetailMap
}

// Errors returns recorded probe errors.
func (o *LayerOutcome) Errors() []string { return o.ErrorList }

// ExecutionTime returns the layer run duration.
func (o *LayerOutcome) ExecutionTime() time.Duration { return o.Elapsed }

// ConnectivityResult is the connectivity layer outcome.
type ConnectivityResult struct {
	LayerOutcome

	// HTTPReachable is true if the plain-HTTP probe succeeded.
	HTTPReachable bool `json:"http_reachable"`

	// HTTPSReachable is true if the HTTPS probe succeeded.
	HTTPSReachable bool `json:"https_reachable"`

	// HTTPTime is the plain-HTTP probe latency in seconds.
	HTTPTime float64 `json:"http_time"`

	// HTTPSTime is the HTTPS probe latency in seconds.
	HTTPSTime float64 `json:"https_time"`
}

// PerformanceResult is the performance layer outcome.
type PerformanceResult struct {
	LayerOutcome

	// ThroughputKbps is the average download throughput in kilobits
	// per second across all payload sizes and runs.
	ThroughputKbps float64 `json:"throughput_kbps"`

	// AvgLatency is the average per-download time in seconds.
	AvgLatency float64 `json:"avg_latency"`

	// Consistency measures how proportionally download time scaled
	// with payload size, in [0, 1]. 1.0 means perfectly proportional.
	Consistency float64 `json:"consistency"`

	// Jitter is the coefficient of variation (stdev/mean) of
	// download times. Lower is steadier.
	Jitter float64 `json:"jitter"`
}

// GeolocationResult is the geolocation layer outcome.
type GeolocationResult struct {
	LayerOutcome

	// Country is the consensus country, empty when the vote share
	// stayed below the consensus threshold.
	Country string `json:"country,omitempty"`

	// City is the consensus city, empty without consensus.
	City string `json:"city,omitempty"`

	// Latitude and Longitude are the consensus centroid coordinates.
	// Only meaningful when CoordinateConsensus is true.
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// CountryConsistency is the winning country's weighted vote share.
	CountryConsistency float64 `json:"country_consistency"`

	// CityConsistency is the winning (city, country) pair's weighted
	// vote share.
	CityConsistency float64 `json:"city_consistency"`

	// CoordinateConsensus is true when reported coordinates clustered
	// within the precision threshold.
	CoordinateConsensus bool `json:"coordinate_consensus"`

	// PrecisionKm is the mean distance in kilometers from each
	// reported coordinate to the centroid.
	PrecisionKm float64 `json:"precision_km"`

	// ServicesQueried and ServicesSucceeded count the geolocation
	// sources used for the consensus.
	ServicesQueried   int `json:"services_queried"`
	ServicesSucceeded int `json:"services_succeeded"`
}

// AnonymityLevel classifies how well a proxy masks the caller.
type AnonymityLevel string

// Anonymity levels, strongest first.
const (
	// AnonymityElite means no leak signal was detected.
	AnonymityElite AnonymityLevel = "elite"

	// AnonymityAnonymous means exactly one leak signal was detected.
	AnonymityAnonymous AnonymityLevel = "anonymous"

	// AnonymityDistorting means two or three leak signals were detected.
	AnonymityDistorting AnonymityLevel = "distorting"

	// AnonymityTransparent means four or more leak signals were
	// detected; the proxy exposes the caller.
	AnonymityTransparent AnonymityLevel = "transparent"
)

// ClassifyAnonymity maps a leak count to an anonymity level.
func ClassifyAnonymity(leakCount int) AnonymityLevel {
	switch {
	case leakCount <= 0:
		return AnonymityElite
	case leakCount == 1:
		return AnonymityAnonymous
	case leakCount <= 3:
		return AnonymityDistorting
	default:
		return AnonymityTransparent
	}
}

// AnonymityResult is the anonymity layer outcome.
type AnonymityResult struct {
	LayerOutcome

	// Level is the anonymity classification derived from LeakCount.
	Level AnonymityLevel `json:"level"`

	// LeakCount is the number of positive leak signals.
	LeakCount int `json:"leak_count"`

	// Leaks names the positive leak signals (e.g. "ip_echo",
	// "via_header").
	Leaks []string `json:"leaks,omitempty"`
}

// ReliabilityResult is the reliability layer outcome.
type ReliabilityResult struct {
	LayerOutcome

	// SubTests holds the per-sub-test results keyed by name
	// (stability, load, fault_recovery, network_quality,
	// resource_usage).
	SubTests map[string]*ReliabilitySubTest `json:"sub_tests"`
}

// ReliabilitySubTest is one reliability sub-test outcome.
type ReliabilitySubTest struct {
	// Name identifies the sub-test.
	Name string `json:"name"`

	// Score is the sub-test score in [0, 100].
	Score float64 `json:"score"`

	// Passed reports whether the sub-test met its threshold.
	Passed bool `json:"passed"`

	// Metrics holds the sub-test measurements (success rates,
	// latencies, loss rates).
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Grade is the letter classification derived from the overall score.
type Grade string

// Grade bands from best to worst.
const (
	GradeAPlus Grade = "A+"
	GradeA     Grade = "A"
	GradeBPlus Grade = "B+"
	GradeB     Grade = "B"
	GradeC     Grade = "C"
	GradeF     Grade = "F"
)

// ComprehensiveResult is one proxy's full verdict: the five layer
// results, the weighted overall score, the letter grade, and the usage
// recommendation. It is created fresh on every validation pass and
// never mutated afterwards.
type ComprehensiveResult struct {
	// ProxyKey is the identity key of the validated record.
	ProxyKey string `json:"proxy_key"`

	// Connectivity through Reliability are the per-layer outcomes.
	// A layer that could not run at all is represented by a failed
	// result with score zero, never by nil.
	Connectivity *ConnectivityResult `json:"connectivity"`
	Performance  *PerformanceResult  `json:"performance"`
	Geolocation  *GeolocationResult  `json:"geolocation"`
	Anonymity    *AnonymityResult    `json:"anonymity"`
	Reliability  *ReliabilityResult  `json:"reliability"`

	// OverallScore is the weighted combination of the layer scores.
	OverallScore float64 `json:"overall_score"`

	// Grade is the letter classification of OverallScore.
	Grade Grade `json:"grade"`

	// Recommendation is the fixed usage guidance for the grade band.
	Recommendation string `json:"recommendation"`

	// TestDuration is the wall time of the whole validation pass.
	TestDuration time.Duration `json:"test_duration"`

	// Timestamp is when the validation pass finished.
	Timestamp time.Time `json:"timestamp"`
}

// Layers returns the five layer results in weight order.
func (c *ComprehensiveResult) Layers() []ValidationResult {
	return []ValidationResult{
		c.Connectivity,
		c.Performance,
		c.Geolocation,
		c.Anonymity,
		c.Reliability,
	}
}
