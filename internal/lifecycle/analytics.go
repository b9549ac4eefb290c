package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/nao1215/proxyscan/internal/model"
)

// hourBucketFormat groups event timestamps into hourly buckets.
const hourBucketFormat = "2006-01-02 15:00"

// Analytics is a derived view over the lifecycle event log.
type Analytics struct {
	// Since is the start of the analyzed window.
	Since time.Time `json:"since"`

	// TotalEvents is the number of events in the window.
	TotalEvents int `json:"total_events"`

	// CountsByKind counts events per kind.
	CountsByKind map[model.EventKind]int `json:"counts_by_kind"`

	// ValidRateByProtocol is becameValid / validated per protocol.
	ValidRateByProtocol map[string]float64 `json:"valid_rate_by_protocol"`

	// ValidRateBySource is becameValid / validated per source.
	ValidRateBySource map[string]float64 `json:"valid_rate_by_source"`

	// EventsPerHour buckets event counts by hour ("2006-01-02 15:00").
	EventsPerHour map[string]int `json:"events_per_hour"`

	// AvgLifecycleHours is the mean time between a record's first and
	// last event in the window, over records with more than one event.
	AvgLifecycleHours float64 `json:"avg_lifecycle_hours"`
}

// Analyze derives analytics from the event log for events at or after
// since.
func (m *Manager) Analyze(ctx context.Context, since time.Time) (*Analytics, error) {
	events, err := m.store.ListEventsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	a := &Analytics{
		Since:               since,
		TotalEvents:         len(events),
		CountsByKind:        make(map[model.EventKind]int),
		ValidRateByProtocol: make(map[string]float64),
		ValidRateBySource:   make(map[string]float64),
		EventsPerHour:       make(map[string]int),
	}

	validatedByProtocol := map[string]int{}
	becameValidByProtocol := map[string]int{}
	validatedBySource := map[string]int{}
	becameValidBySource := map[string]int{}

	type span struct{ first, last time.Time }
	spans := map[string]*span{}

	for _, event := range events {
		a.CountsByKind[event.Kind]++
		a.EventsPerHour[event.Timestamp.Format(hourBucketFormat)]++

		protocol := protocolFromKey(event.ProxyKey)
		source, _ := event.Details["source"].(string)

		switch event.Kind {
		case model.EventValidated:
			validatedByProtocol[protocol]++
			if source != "" {
				validatedBySource[source]++
			}
		case model.EventBecameValid:
			becameValidByProtocol[protocol]++
			if source != "" {
				becameValidBySource[source]++
			}
		}

		sp, ok := spans[event.ProxyKey]
		if !ok {
			spans[event.ProxyKey] = &span{first: event.Timestamp, last: event.Timestamp}
			continue
		}
		if event.Timestamp.Before(sp.first) {
			sp.first = event.Timestamp
		}
		if event.Timestamp.After(sp.last) {
			sp.last = event.Timestamp
		}
	}

	for protocol, validated := range validatedByProtocol {
		if validated > 0 {
			a.ValidRateByProtocol[protocol] = float64(becameValidByProtocol[protocol]) / float64(validated)
		}
	}
	for source, validated := range validatedBySource {
		if validated > 0 {
			a.ValidRateBySource[source] = float64(becameValidBySource[source]) / float64(validated)
		}
	}

	var totalHours float64
	tracked := 0
	for _, sp := range spans {
		if sp.last.After(sp.first) {
			totalHours += sp.last.Sub(sp.first).Hours()
			tracked++
		}
	}
	if tracked > 0 {
		a.AvgLifecycleHours = totalHours / float64(tracked)
	}

	return a, nil
}

// protocolFromKey extracts the protocol from an "ip:port:protocol" key.
func protocolFromKey(key string) string {
	idx := strings.LastIndex(key, ":")
	if idx < 0 || idx == len(key)-1 {
		return ""
	}
	return key[idx+1:]
}
