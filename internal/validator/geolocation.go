package validator

import (
	"context"
	"time"

	"github.com/nao1215/proxyscan/internal/geoloc"
	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/probe"
)

// GeolocationValidator resolves the relay's exit location through the
// multi-service consensus engine and scores how consistently the
// services agreed.
type GeolocationValidator struct {
	// engine performs the fan-out lookups and the weighted vote.
	engine *geoloc.Engine
}

// NewGeolocationValidator creates a geolocation layer backed by the
// given consensus engine. A nil engine gets the default service set.
func NewGeolocationValidator(engine *geoloc.Engine) *GeolocationValidator {
	if engine == nil {
		engine = geoloc.NewEngine()
	}
	return &GeolocationValidator{engine: engine}
}

// Name returns the layer name.
func (v *GeolocationValidator) Name() string { return "geolocation" }

// Run implements Layer.
func (v *GeolocationValidator) Run(ctx context.Context, client *probe.Client) model.ValidationResult {
	return v.Validate(ctx, client)
}

// Validate resolves the exit location and maps the consensus quality to
// the layer score. The layer passes when the weighted country vote
// reached its threshold.
func (v *GeolocationValidator) Validate(ctx context.Context, client *probe.Client) *model.GeolocationResult {
	start := time.Now()
	result := &model.GeolocationResult{
		LayerOutcome: model.LayerOutcome{LayerName: v.Name()},
	}

	consensus, err := v.engine.Resolve(ctx, client)
	if err != nil {
		result.ErrorList = append(result.ErrorList, err.Error())
		result.Elapsed = time.Since(start)
		return result
	}

	result.Country = consensus.Country
	result.City = consensus.City
	result.Latitude = consensus.Latitude
	result.Longitude = consensus.Longitude
	result.CountryConsistency = consensus.CountryConsistency
	result.CityConsistency = consensus.CityConsistency
	result.CoordinateConsensus = consensus.CoordinateOK
	result.PrecisionKm = consensus.PrecisionKm
	result.ServicesQueried = consensus.Queried
	result.ServicesSucceeded = consensus.Succeeded
	result.ErrorList = append(result.ErrorList, consensus.Errors...)

	result.PassedVal = consensus.Country != ""
	result.ScoreVal = v.score(consensus)
	result.DetailMap = map[string]any{
		"completeness": consensus.Completeness,
	}
	result.Elapsed = time.Since(start)
	return result
}

// score bands the consensus metrics into the layer score.
func (v *GeolocationValidator) score(c *geoloc.Consensus) float64 {
	if c.Succeeded == 0 {
		return 0
	}

	var score float64
	switch {
	case c.CountryConsistency >= 0.8:
		score += 40
	case c.CountryConsistency >= 0.6:
		score += 32
	case c.CountryConsistency >= 0.4:
		score += 24
	default:
		score += 16
	}

	switch {
	case c.CityConsistency >= 0.7:
		score += 30
	case c.CityConsistency >= 0.5:
		score += 24
	case c.CityConsistency >= 0.3:
		score += 18
	default:
		score += 12
	}

	switch {
	case c.CoordinateOK && c.PrecisionKm <= 10:
		score += 20
	case c.CoordinateOK && c.PrecisionKm <= 50:
		score += 16
	case c.PrecisionKm <= 100:
		score += 12
	default:
		score += 8
	}

	score += c.Completeness * 10
	return clampScore(score)
}
