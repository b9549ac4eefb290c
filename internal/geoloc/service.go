package geoloc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/proxyscan/internal/probe"
)

// Location is one geolocation service's answer for a proxy's exit IP.
type Location struct {
	// IP is the address the service reported on.
	IP string

	// Country is the ISO 3166-1 alpha-2 country code.
	Country string

	// Region and City locate the exit more precisely. Often empty for
	// datacenter ranges.
	Region string
	City   string

	// Latitude and Longitude are the reported coordinates.
	// HasCoordinates distinguishes a real (0, 0) report from absence.
	Latitude       float64
	Longitude      float64
	HasCoordinates bool

	// ISP is the reported network operator.
	ISP string

	// Confidence is the service's weight in consensus voting, in
	// (0, 1]. Fixed per service based on observed database quality.
	Confidence float64

	// Source names the service that produced this answer.
	Source string
}

// Completeness returns the fraction of useful fields this answer
// filled in, used as the response-completeness share of the
// geolocation score.
func (l *Location) Completeness() float64 {
	filled := 0
	if l.Country != "" {
		filled++
	}
	if l.City != "" {
		filled++
	}
	if l.HasCoordinates {
		filled++
	}
	if l.ISP != "" {
		filled++
	}
	return float64(filled) / 4
}

// Service is one geolocation provider queried through the proxy under
// test, so the provider reports the proxy's exit address rather than
// the caller's.
type Service interface {
	// Lookup queries the service through the given probe client.
	Lookup(ctx context.Context, client *probe.Client) (*Location, error)

	// Name returns the service identifier used in logs and details.
	Name() string
}

// retryingLookup runs one service query with linear backoff.
// Free geolocation services rate-limit and drop requests routinely;
// a small retry budget recovers most transient failures.
func retryingLookup(ctx context.Context, maxRetries int, fetch func(context.Context) (*Location, error)) (*Location, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		loc, err := fetch(ctx)
		if err == nil {
			return loc, nil
		}
		lastErr = err

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
	}
	return nil, lastErr
}

// IPAPIService queries ip-api.com.
type IPAPIService struct {
	// BaseURL is the query endpoint; overridable for tests.
	BaseURL string

	// MaxRetries is the per-lookup retry budget.
	MaxRetries int
}

// NewIPAPIService creates an ip-api.com client with defaults.
func NewIPAPIService() *IPAPIService {
	return &IPAPIService{BaseURL: "http://ip-api.com/json", MaxRetries: 3}
}

// Name returns the service identifier.
func (s *IPAPIService) Name() string { return "ip-api" }

// Lookup implements Service.
func (s *IPAPIService) Lookup(ctx context.Context, client *probe.Client) (*Location, error) {
	return retryingLookup(ctx, s.MaxRetries, func(ctx context.Context) (*Location, error) {
		res, err := client.GetExpect(ctx, s.BaseURL, 200)
		if err != nil {
			return nil, err
		}

		var payload struct {
			Status      string  `json:"status"`
			Query       string  `json:"query"`
			Country     string  `json:"country"`
			CountryCode string  `json:"countryCode"` //nolint:tagliatelle // ip-api field name
			RegionName  string  `json:"regionName"`  //nolint:tagliatelle // ip-api field name
			City        string  `json:"city"`
			Lat         float64 `json:"lat"`
			Lon         float64 `json:"lon"`
			ISP         string  `json:"isp"`
		}
		if err := json.Unmarshal(res.Body, &payload); err != nil {
			return nil, fmt.Errorf("ip-api response: %w", err)
		}
		if payload.Status != "success" {
			return nil, fmt.Errorf("ip-api lookup failed for %s", client.Record().IP)
		}

		return &Location{
			IP:             payload.Query,
			Country:        strings.ToUpper(payload.CountryCode),
			Region:         payload.RegionName,
			City:           payload.City,
			Latitude:       payload.Lat,
			Longitude:      payload.Lon,
			HasCoordinates: payload.Lat != 0 || payload.Lon != 0,
			ISP:            payload.ISP,
			Confidence:     0.9,
			Source:         s.Name(),
		}, nil
	})
}

// IPInfoService queries ipinfo.io.
type IPInfoService struct {
	// BaseURL is the query endpoint; overridable for tests.
	BaseURL string

	// MaxRetries is the per-lookup retry budget.
	MaxRetries int
}

// NewIPInfoService creates an ipinfo.io client with defaults.
func NewIPInfoService() *IPInfoService {
	return &IPInfoService{BaseURL: "https://ipinfo.io/json", MaxRetries: 3}
}

// Name returns the service identifier.
func (s *IPInfoService) Name() string { return "ipinfo" }

// Lookup implements Service.
func (s *IPInfoService) Lookup(ctx context.Context, client *probe.Client) (*Location, error) {
	return retryingLookup(ctx, s.MaxRetries, func(ctx context.Context) (*Location, error) {
		res, err := client.GetExpect(ctx, s.BaseURL, 200)
		if err != nil {
			return nil, err
		}

		var payload struct {
			IP      string `json:"ip"`
			Country string `json:"country"`
			Region  string `json:"region"`
			City    string `json:"city"`
			Loc     string `json:"loc"`
			Org     string `json:"org"`
		}
		if err := json.Unmarshal(res.Body, &payload); err != nil {
			return nil, fmt.Errorf("ipinfo response: %w", err)
		}

		loc := &Location{
			IP:         payload.IP,
			Country:    strings.ToUpper(payload.Country),
			Region:     payload.Region,
			City:       payload.City,
			ISP:        payload.Org,
			Confidence: 0.85,
			Source:     s.Name(),
		}

		// "loc" is "lat,lon" as a single string.
		if parts := strings.Split(payload.Loc, ","); len(parts) == 2 {
			lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			lon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if latErr == nil && lonErr == nil {
				loc.Latitude = lat
				loc.Longitude = lon
				loc.HasCoordinates = true
			}
		}

		return loc, nil
	})
}

// IPWhoisService queries ipwho.is.
type IPWhoisService struct {
	// BaseURL is the query endpoint; overridable for tests.
	BaseURL string

	// MaxRetries is the per-lookup retry budget.
	MaxRetries int
}

// NewIPWhoisService creates an ipwho.is client with defaults.
func NewIPWhoisService() *IPWhoisService {
	return &IPWhoisService{BaseURL: "http://ipwho.is/", MaxRetries: 3}
}

// Name returns the service identifier.
func (s *IPWhoisService) Name() string { return "ipwhois" }

// Lookup implements Service.
func (s *IPWhoisService) Lookup(ctx context.Context, client *probe.Client) (*Location, error) {
	return retryingLookup(ctx, s.MaxRetries, func(ctx context.Context) (*Location, error) {
		res, err := client.GetExpect(ctx, s.BaseURL, 200)
		if err != nil {
			return nil, err
		}

		var payload struct {
			Success     bool    `json:"success"`
			IP          string  `json:"ip"`
			CountryCode string  `json:"country_code"`
			Region      string  `json:"region"`
			City        string  `json:"city"`
			Latitude    float64 `json:"latitude"`
			Longitude   float64 `json:"longitude"`
			Connection  struct {
				ISP string `json:"isp"`
			} `json:"connection"`
		}
		if err := json.Unmarshal(res.Body, &payload); err != nil {
			return nil, fmt.Errorf("ipwhois response: %w", err)
		}
		if !payload.Success {
			return nil, fmt.Errorf("ipwhois lookup failed for %s", client.Record().IP)
		}

		return &Location{
			IP:             payload.IP,
			Country:        strings.ToUpper(payload.CountryCode),
			Region:         payload.Region,
			City:           payload.City,
			Latitude:       payload.Latitude,
			Longitude:      payload.Longitude,
			HasCoordinates: payload.Latitude != 0 || payload.Longitude != 0,
			ISP:            payload.Connection.ISP,
			Confidence:     0.7,
			Source:         s.Name(),
		}, nil
	})
}

// DefaultServices returns the standard service set used for consensus.
// Three independent providers is the minimum for a meaningful vote.
func DefaultServices() []Service {
	return []Service{
		NewIPAPIService(),
		NewIPInfoService(),
		NewIPWhoisService(),
	}
}
