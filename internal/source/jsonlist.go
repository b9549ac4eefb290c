package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nao1215/proxyscan/internal/model"
)

// JSONListFetcher parses JSON array lists. Each entry carries at least
// an address; protocol, country, and anonymity are optional:
//
//	[{"ip": "203.0.113.9", "port": 8080, "protocol": "http",
//	  "country": "DE", "anonymity": "elite"}, ...]
//
// Ports appear both as numbers and as strings in the wild, so the
// field tolerates either.
type JSONListFetcher struct {
	baseFetcher
}

// jsonEntry is one list entry. Unknown fields are ignored.
type jsonEntry struct {
	IP        string          `json:"ip"`
	Host      string          `json:"host"`
	Port      json.RawMessage `json:"port"`
	Protocol  string          `json:"protocol"`
	Country   string          `json:"country"`
	Anonymity string          `json:"anonymity"`
}

// Fetch implements Fetcher.
func (f *JSONListFetcher) Fetch(ctx context.Context) ([]*model.ProxyRecord, error) {
	body, err := f.download(ctx)
	if err != nil {
		return nil, err
	}

	var entries []jsonEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("source %q: %w", f.src.Name, err)
	}

	var records []*model.ProxyRecord
	for _, entry := range entries {
		ip := entry.IP
		if ip == "" {
			ip = entry.Host
		}
		port, ok := parsePort(entry.Port)
		if !ok {
			continue
		}

		record, err := f.newRecord(ip, port, entry.Protocol)
		if err != nil {
			continue
		}
		record.Country = entry.Country
		record.AnonymityClaim = entry.Anonymity
		records = append(records, record)
	}
	return records, nil
}

// parsePort reads a port that may be a JSON number or string.
func parsePort(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return asInt, true
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if p, err := strconv.Atoi(asString); err == nil {
			return p, true
		}
	}
	return 0, false
}
