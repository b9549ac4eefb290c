package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/nao1215/proxyscan/internal/model"
)

// Statistics is a point-in-time view of the pool.
type Statistics struct {
	// Total is the number of records in the pool.
	Total int `json:"total"`

	// ByStatus counts records per lifecycle status.
	ByStatus map[model.Status]int `json:"by_status"`

	// ByProtocol counts valid records per protocol.
	ByProtocol map[string]int `json:"by_protocol"`

	// ByCountry counts valid records per country, keyed by display
	// name when the stored value is a known region code.
	ByCountry map[string]int `json:"by_country"`

	// AvgResponseTime is the mean response time of the valid pool in
	// seconds, zero when the valid pool is empty.
	AvgResponseTime float64 `json:"avg_response_time"`

	// GeneratedAt is when the snapshot was taken.
	GeneratedAt time.Time `json:"generated_at"`
}

// Statistics derives a pool snapshot and persists it for later
// retrieval by the stats command.
func (r *Registry) Statistics(ctx context.Context) (*Statistics, error) {
	byStatus, err := r.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count proxies: %w", err)
	}

	byProtocol, err := r.store.ValidDistribution(ctx, "protocol")
	if err != nil {
		return nil, fmt.Errorf("failed to derive protocol distribution: %w", err)
	}
	byCountry, err := r.store.ValidDistribution(ctx, "country")
	if err != nil {
		return nil, fmt.Errorf("failed to derive country distribution: %w", err)
	}

	avg, err := r.store.AvgValidResponseTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to derive average response time: %w", err)
	}

	stats := &Statistics{
		ByStatus:        byStatus,
		ByProtocol:      map[string]int(byProtocol),
		ByCountry:       make(map[string]int, len(byCountry)),
		AvgResponseTime: avg,
		GeneratedAt:     time.Now().UTC(),
	}
	for _, count := range byStatus {
		stats.Total += count
	}
	for code, count := range byCountry {
		stats.ByCountry[countryName(code)] += count
	}

	snapshot, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize statistics: %w", err)
	}
	if err := r.store.SaveStatsSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to persist statistics: %w", err)
	}
	return stats, nil
}

// countryName converts an ISO 3166-1 alpha-2 code to its English
// display name. Values that are not two-letter codes (sources also
// publish full names) pass through unchanged.
func countryName(code string) string {
	if len(code) != 2 {
		return code
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	if name := display.English.Regions().Name(region); name != "" {
		return name
	}
	return code
}
