package geoloc

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/proxyscan/internal/probe"
)

// Consensus thresholds. Country uses a stricter share than city
// because country databases are more reliable: a split country vote
// signals a genuinely ambiguous exit, while city data is noisy even
// for well-located relays.
const (
	// DefaultCountryThreshold is the weighted vote share a country
	// needs to win consensus.
	DefaultCountryThreshold = 0.6

	// DefaultCityThreshold is the weighted vote share a (city, country)
	// pair needs to win consensus.
	DefaultCityThreshold = 0.5

	// DefaultCoordinateThresholdKm is the maximum mean distance from
	// reported coordinates to their centroid for coordinate consensus.
	DefaultCoordinateThresholdKm = 50.0

	// MinVoteWeight floors a response's vote weight so even a
	// low-confidence service is never entirely silenced.
	MinVoteWeight = 0.1

	// earthRadiusKm is the mean Earth radius used by the haversine
	// distance.
	earthRadiusKm = 6371.0
)

// Consensus is the aggregated location verdict for one proxy.
type Consensus struct {
	// Country is the winning country code, empty when the vote share
	// stayed below the threshold.
	Country string

	// CountryConsistency is the winning country's weighted vote share,
	// reported even without consensus.
	CountryConsistency float64

	// City is the winning city, empty without consensus.
	City string

	// CityConsistency is the winning (city, country) pair's share.
	CityConsistency float64

	// Latitude and Longitude are the coordinate centroid. Only
	// meaningful when CoordinateOK is true.
	Latitude  float64
	Longitude float64

	// CoordinateOK is true when reported coordinates clustered within
	// the precision threshold.
	CoordinateOK bool

	// PrecisionKm is the mean distance from each reported coordinate
	// to the centroid, reported even without consensus.
	PrecisionKm float64

	// Completeness is the mean response completeness across the
	// answers that arrived.
	Completeness float64

	// Queried and Succeeded count the services involved.
	Queried   int
	Succeeded int

	// Errors holds per-service failure descriptions.
	Errors []string
}

// Engine aggregates independent geolocation answers into a Consensus.
type Engine struct {
	// services are the providers queried per proxy.
	services []Service

	// countryThreshold, cityThreshold, and coordinateThresholdKm are
	// the consensus acceptance bounds.
	countryThreshold      float64
	cityThreshold         float64
	coordinateThresholdKm float64

	// logger is used for per-service failure logging.
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithServices replaces the default service set.
func WithServices(services []Service) EngineOption {
	return func(e *Engine) {
		if len(services) > 0 {
			e.services = services
		}
	}
}

// WithThresholds overrides the consensus acceptance bounds.
func WithThresholds(country, city, coordinateKm float64) EngineOption {
	return func(e *Engine) {
		e.countryThreshold = country
		e.cityThreshold = city
		e.coordinateThresholdKm = coordinateKm
	}
}

// WithEngineLogger sets a custom logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a consensus engine over the default service set.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		services:              DefaultServices(),
		countryThreshold:      DefaultCountryThreshold,
		cityThreshold:         DefaultCityThreshold,
		coordinateThresholdKm: DefaultCoordinateThresholdKm,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Resolve queries every service concurrently through the given probe
// client and aggregates the answers. Individual service failures are
// tolerated; the consensus is computed over whatever arrived. Resolve
// only errors when the context is cancelled.
func (e *Engine) Resolve(ctx context.Context, client *probe.Client) (*Consensus, error) {
	locations := make([]*Location, len(e.services))
	failures := make([]string, len(e.services))

	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, svc := range e.services {
		g.Go(func() error {
			loc, err := svc.Lookup(ctx, client)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[i] = fmt.Sprintf("%s: %v", svc.Name(), err)
				e.logger.Debug("geolocation lookup failed",
					"service", svc.Name(),
					"proxy", client.Record().Key(),
					"error", err,
				)
				// Per-service failures stay in the consensus report.
				return nil
			}
			locations[i] = loc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var arrived []*Location
	var errs []string
	for i := range e.services {
		if locations[i] != nil {
			arrived = append(arrived, locations[i])
		} else if failures[i] != "" {
			errs = append(errs, failures[i])
		}
	}

	consensus := e.aggregate(arrived)
	consensus.Queried = len(e.services)
	consensus.Succeeded = len(arrived)
	consensus.Errors = errs
	return consensus, nil
}

// aggregate computes the consensus over the answers that arrived.
func (e *Engine) aggregate(locations []*Location) *Consensus {
	c := &Consensus{}
	if len(locations) == 0 {
		return c
	}

	c.Country, c.CountryConsistency = weightedVote(locations, e.countryThreshold, func(l *Location) string {
		return l.Country
	})

	city, share := weightedVote(locations, e.cityThreshold, func(l *Location) string {
		if l.City == "" {
			return ""
		}
		// City names repeat across countries, so the vote is keyed by
		// the pair.
		return l.City + "," + l.Country
	})
	c.CityConsistency = share
	if city != "" {
		// Strip the country suffix back off the winning key.
		for _, l := range locations {
			if l.City != "" && l.City+","+l.Country == city {
				c.City = l.City
				break
			}
		}
	}

	c.Latitude, c.Longitude, c.PrecisionKm, c.CoordinateOK = e.coordinateConsensus(locations)
	if !c.CoordinateOK {
		c.Latitude = 0
		c.Longitude = 0
	}

	var completeness float64
	for _, l := range locations {
		completeness += l.Completeness()
	}
	c.Completeness = completeness / float64(len(locations))

	return c
}

// weightedVote tallies confidence-weighted votes for the key function
// and returns the winning key (empty if its share is below threshold)
// together with the winner's share. Responses with an empty key abstain.
func weightedVote(locations []*Location, threshold float64, key func(*Location) string) (string, float64) {
	votes := make(map[string]float64)
	var total float64

	for _, l := range locations {
		k := key(l)
		if k == "" {
			continue
		}
		w := math.Max(MinVoteWeight, l.Confidence)
		votes[k] += w
		total += w
	}
	if total == 0 {
		return "", 0
	}

	var winner string
	var best float64
	for k, w := range votes {
		if w > best {
			winner = k
			best = w
		}
	}

	share := best / total
	if share < threshold {
		return "", share
	}
	return winner, share
}

// coordinateConsensus computes the centroid of the reported coordinates
// and accepts it when the mean haversine distance from each point to
// the centroid is within the precision threshold.
func (e *Engine) coordinateConsensus(locations []*Location) (lat, lon, precisionKm float64, ok bool) {
	var points []*Location
	for _, l := range locations {
		if l.HasCoordinates {
			points = append(points, l)
		}
	}
	if len(points) == 0 {
		return 0, 0, 0, false
	}

	for _, p := range points {
		lat += p.Latitude
		lon += p.Longitude
	}
	lat /= float64(len(points))
	lon /= float64(len(points))

	var sum float64
	for _, p := range points {
		sum += Haversine(lat, lon, p.Latitude, p.Longitude)
	}
	precisionKm = sum / float64(len(points))

	return lat, lon, precisionKm, precisionKm <= e.coordinateThresholdKm
}

// Haversine returns the great-circle distance in kilometers between
// two points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	rlat1 := lat1 * degToRad
	rlat2 := lat2 * degToRad
	dlat := (lat2 - lat1) * degToRad
	dlon := (lon2 - lon1) * degToRad

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlon/2)*math.Sin(dlon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
