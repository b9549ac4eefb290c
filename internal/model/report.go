package model

import "time"

// PoolReport is the exportable view of the proxy pool: the proxy list
// to publish plus the aggregate numbers the summary sections show.
type PoolReport struct {
	// GeneratedAt is when the report was assembled.
	GeneratedAt time.Time `json:"generated_at"`

	// Total is the number of records across all statuses.
	Total int `json:"total"`

	// ByStatus counts records per lifecycle status.
	ByStatus map[Status]int `json:"by_status,omitempty"`

	// ByProtocol counts the exported proxies per protocol.
	ByProtocol map[string]int `json:"by_protocol,omitempty"`

	// ByCountry counts the exported proxies per country.
	ByCountry map[string]int `json:"by_country,omitempty"`

	// AvgResponseTime is the mean response time of the exported
	// proxies in seconds.
	AvgResponseTime float64 `json:"avg_response_time"`

	// Proxies is the exported proxy list, usually the valid pool.
	Proxies []*ProxyRecord `json:"proxies"`
}

// NewPoolReport assembles a report over the given proxy list, deriving
// the per-protocol and per-country counts and the average response
// time from the list itself.
func NewPoolReport(proxies []*ProxyRecord) *PoolReport {
	report := &PoolReport{
		GeneratedAt: time.Now().UTC(),
		Total:       len(proxies),
		ByStatus:    make(map[Status]int),
		ByProtocol:  make(map[string]int),
		ByCountry:   make(map[string]int),
		Proxies:     proxies,
	}

	var totalResponse float64
	measured := 0
	for _, proxy := range proxies {
		report.ByStatus[proxy.Status]++
		report.ByProtocol[proxy.Protocol.String()]++
		if proxy.Country != "" {
			report.ByCountry[proxy.Country]++
		}
		if proxy.ResponseTime > 0 {
			totalResponse += proxy.ResponseTime
			measured++
		}
	}
	if measured > 0 {
		report.AvgResponseTime = totalResponse / float64(measured)
	}
	return report
}

// ValidCount returns how many exported proxies are in the valid state.
func (r *PoolReport) ValidCount() int {
	return r.ByStatus[StatusValid]
}
