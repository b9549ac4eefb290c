package validator

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/geoloc"
	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/probe"
)

// Comprehensive runs all five validation layers against one proxy
// record and combines them into a graded verdict.
//
// Design decision: Layers run sequentially, connectivity first, because:
//  1. A relay that fails connectivity entirely cannot answer the other
//     layers; probing it 100 more times just burns the probe budget
//  2. Concurrent layers through one relay distort each other's latency
//     and jitter measurements
type Comprehensive struct {
	// cfg provides probe endpoints, timeouts, and the user agent.
	cfg *config.Config

	// connectivity through reliability are the five layers.
	connectivity *ConnectivityValidator
	performance  *PerformanceValidator
	geolocation  *GeolocationValidator
	anonymity    *AnonymityValidator
	reliability  *ReliabilityValidator

	// logger receives per-layer progress at debug level.
	logger *slog.Logger
}

// ComprehensiveOption configures a Comprehensive validator.
type ComprehensiveOption func(*Comprehensive)

// WithLogger sets the logger for validation progress.
func WithLogger(logger *slog.Logger) ComprehensiveOption {
	return func(c *Comprehensive) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithGeolocationEngine replaces the consensus engine, mainly so tests
// can point the services at local servers.
func WithGeolocationEngine(engine *geoloc.Engine) ComprehensiveOption {
	return func(c *Comprehensive) {
		c.geolocation = NewGeolocationValidator(engine)
	}
}

// WithAnonymityValidator replaces the anonymity layer.
func WithAnonymityValidator(v *AnonymityValidator) ComprehensiveOption {
	return func(c *Comprehensive) {
		if v != nil {
			c.anonymity = v
		}
	}
}

// NewComprehensive creates a comprehensive validator with all five
// layers built from the configuration.
func NewComprehensive(cfg *config.Config, opts ...ComprehensiveOption) *Comprehensive {
	c := &Comprehensive{
		cfg:          cfg,
		connectivity: NewConnectivityValidator(cfg),
		performance:  NewPerformanceValidator(cfg),
		geolocation:  NewGeolocationValidator(nil),
		anonymity:    NewAnonymityValidator(cfg),
		reliability:  NewReliabilityValidator(cfg),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate runs the full five-layer validation of one record.
// It returns an error only when the record cannot be probed at all
// (invalid address or protocol); probe failures during the layers are
// folded into the per-layer results.
func (c *Comprehensive) Validate(ctx context.Context, record *model.ProxyRecord) (*model.ComprehensiveResult, error) {
	client, err := probe.NewClient(record,
		probe.WithTimeout(c.cfg.ValidationTimeout),
		probe.WithUserAgent(c.cfg.UserAgent),
	)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &model.ComprehensiveResult{ProxyKey: record.Key()}

	result.Connectivity = c.connectivity.Validate(ctx, client)
	c.logger.Debug("connectivity layer done",
		"proxy", record.Key(),
		"score", result.Connectivity.Score(),
		"passed", result.Connectivity.Passed())

	if result.Connectivity.Passed() && ctx.Err() == nil {
		result.Performance = c.performance.Validate(ctx, client)
		c.logger.Debug("performance layer done",
			"proxy", record.Key(), "score", result.Performance.Score())

		result.Geolocation = c.geolocation.Validate(ctx, client)
		c.logger.Debug("geolocation layer done",
			"proxy", record.Key(),
			"score", result.Geolocation.Score(),
			"country", result.Geolocation.Country)

		result.Anonymity = c.anonymity.Validate(ctx, client)
		c.logger.Debug("anonymity layer done",
			"proxy", record.Key(),
			"score", result.Anonymity.Score(),
			"level", string(result.Anonymity.Level))

		result.Reliability = c.reliability.Validate(ctx, client)
		c.logger.Debug("reliability layer done",
			"proxy", record.Key(),
			"score", result.Reliability.Score(),
			"sub_tests", subTestSummary(result.Reliability))
	} else {
		// An unreachable relay scores zero everywhere; the remaining
		// layers are filled with failed results, never nil.
		result.Performance = &model.PerformanceResult{
			LayerOutcome: model.LayerOutcome{LayerName: c.performance.Name()}}
		result.Geolocation = &model.GeolocationResult{
			LayerOutcome: model.LayerOutcome{LayerName: c.geolocation.Name()}}
		result.Anonymity = &model.AnonymityResult{
			LayerOutcome: model.LayerOutcome{LayerName: c.anonymity.Name()},
			Level:        model.AnonymityTransparent}
		result.Reliability = &model.ReliabilityResult{
			LayerOutcome: model.LayerOutcome{LayerName: c.reliability.Name()},
			SubTests:     map[string]*model.ReliabilitySubTest{}}
	}

	result.OverallScore = OverallScore(result)
	result.Grade = GradeFor(result.OverallScore)
	result.Recommendation = RecommendationFor(result.Grade)
	result.TestDuration = time.Since(start)
	result.Timestamp = time.Now()

	c.logger.Info("validation finished",
		"proxy", record.Key(),
		"score", result.OverallScore,
		"grade", string(result.Grade),
		"duration", result.TestDuration)
	return result, nil
}
