package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/proxyscan/internal/model"
)

// UpsertProxy inserts a fetched record or refreshes the provenance of
// an existing one. Status, fail count, and test timestamps of an
// existing record are deliberately left alone: a re-fetch from a list
// says nothing about whether the relay still works. It reports whether
// the record was new.
func (s *Store) UpsertProxy(ctx context.Context, record *model.ProxyRecord) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM proxies WHERE ip = ? AND port = ? AND protocol = ?`,
		record.IP, record.Port, record.Protocol.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check proxy existence: %w", err)
	}

	query := `
	INSERT INTO proxies (ip, port, protocol, country, anonymity_claim, status, first_seen, source)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(ip, port, protocol) DO UPDATE SET
		country = CASE WHEN excluded.country != '' THEN excluded.country ELSE proxies.country END,
		anonymity_claim = CASE WHEN excluded.anonymity_claim != '' THEN excluded.anonymity_claim ELSE proxies.anonymity_claim END,
		source = excluded.source
	`
	_, err = s.db.ExecContext(ctx, query,
		record.IP,
		record.Port,
		record.Protocol.String(),
		record.Country,
		record.AnonymityClaim,
		record.Status.String(),
		formatTimestamp(record.FirstSeen),
		record.Source,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert proxy: %w", err)
	}
	return exists == 0, nil
}

// SaveProxy writes back the mutable state of a record after validation
// or a lifecycle transition.
func (s *Store) SaveProxy(ctx context.Context, record *model.ProxyRecord) error {
	query := `
	UPDATE proxies SET
		country = ?,
		anonymity_claim = ?,
		status = ?,
		response_time = ?,
		fail_count = ?,
		last_tested = ?,
		last_success = ?
	WHERE ip = ? AND port = ? AND protocol = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		record.Country,
		record.AnonymityClaim,
		record.Status.String(),
		record.ResponseTime,
		record.FailCount,
		formatTimestamp(record.LastTested),
		formatTimestamp(record.LastSuccess),
		record.IP,
		record.Port,
		record.Protocol.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save proxy: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save proxy: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("proxy %s not found", record.Key())
	}
	return nil
}

// GetProxy retrieves one record by identity. It returns nil without an
// error when the record does not exist.
func (s *Store) GetProxy(ctx context.Context, ip string, port int, protocol model.Protocol) (*model.ProxyRecord, error) {
	query := proxySelectColumns + ` WHERE ip = ? AND port = ? AND protocol = ?`

	record, err := scanProxy(s.db.QueryRowContext(ctx, query, ip, port, protocol.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proxy: %w", err)
	}
	return record, nil
}

// ListByStatus returns records in one status partition, most recently
// tested first. A limit of 0 means no limit.
func (s *Store) ListByStatus(ctx context.Context, status model.Status, limit int) ([]*model.ProxyRecord, error) {
	query := proxySelectColumns + ` WHERE status = ? ORDER BY last_tested DESC, ip, port`
	args := []any{status.String()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.queryProxies(ctx, query, args...)
}

// ListRetryEligible returns temp-invalid records whose last test is at
// or before the cutoff, oldest first so starved records go first.
func (s *Store) ListRetryEligible(ctx context.Context, cutoff time.Time, limit int) ([]*model.ProxyRecord, error) {
	query := proxySelectColumns + `
	WHERE status = ? AND (last_tested IS NULL OR last_tested <= ?)
	ORDER BY last_tested ASC`
	args := []any{model.StatusTempInvalid.String(), formatTimestamp(cutoff)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.queryProxies(ctx, query, args...)
}

// DeleteOlderThan removes records whose last test (or first sighting,
// for never-tested records) is before the cutoff. It returns the keys
// of the removed records so the caller can log their removal.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	where := `(COALESCE(last_tested, first_seen) IS NOT NULL AND COALESCE(last_tested, first_seen) < ?)`

	rows, err := s.db.QueryContext(ctx,
		`SELECT ip, port, protocol FROM proxies WHERE `+where, formatTimestamp(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale proxies: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var ip, protocol string
		var port int
		if err := rows.Scan(&ip, &port, &protocol); err != nil {
			return nil, fmt.Errorf("failed to scan stale proxy: %w", err)
		}
		keys = append(keys, fmt.Sprintf("%s:%d:%s", ip, port, protocol))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM proxies WHERE `+where, formatTimestamp(cutoff)); err != nil {
		return nil, fmt.Errorf("failed to delete stale proxies: %w", err)
	}
	return keys, nil
}

// CountByStatus returns the pool size of every status partition.
func (s *Store) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM proxies GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count proxies: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		parsed, err := model.ParseStatus(status)
		if err != nil {
			continue // unknown status rows are ignored, not fatal
		}
		counts[parsed] = count
	}
	return counts, rows.Err()
}

// Distribution aggregates the valid pool over one column.
type Distribution map[string]int

// ValidDistribution returns how the valid pool distributes over the
// given dimension ("protocol" or "country").
func (s *Store) ValidDistribution(ctx context.Context, dimension string) (Distribution, error) {
	var column string
	switch dimension {
	case "protocol":
		column = "protocol"
	case "country":
		column = "country"
	default:
		return nil, fmt.Errorf("unknown distribution dimension %q", dimension)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM proxies WHERE status = ? GROUP BY `+column,
		model.StatusValid.String())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s distribution: %w", dimension, err)
	}
	defer rows.Close()

	dist := make(Distribution)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		dist[key] = count
	}
	return dist, rows.Err()
}

// AvgValidResponseTime returns the mean response time in seconds over
// the valid pool, 0 when the pool is empty.
func (s *Store) AvgValidResponseTime(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(response_time) FROM proxies WHERE status = ?`,
		model.StatusValid.String()).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to average response time: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// SaveResult persists one comprehensive validation result.
func (s *Store) SaveResult(ctx context.Context, result *model.ComprehensiveResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO validation_results (proxy_key, timestamp, overall_score, grade, result_json)
	VALUES (?, ?, ?, ?, ?)`,
		result.ProxyKey,
		formatTimestamp(result.Timestamp),
		result.OverallScore,
		string(result.Grade),
		string(resultJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// LatestResult retrieves the most recent validation result for a proxy.
// It returns nil without an error when the proxy was never validated.
func (s *Store) LatestResult(ctx context.Context, proxyKey string) (*model.ComprehensiveResult, error) {
	var resultJSON string
	err := s.db.QueryRowContext(ctx, `
	SELECT result_json FROM validation_results
	WHERE proxy_key = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT 1`, proxyKey).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result model.ComprehensiveResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	return &result, nil
}

// proxySelectColumns is the shared SELECT clause for proxy rows.
const proxySelectColumns = `
SELECT ip, port, protocol, country, anonymity_claim, status, response_time,
       fail_count, first_seen, last_tested, last_success, source
FROM proxies`

// rowScanner abstracts sql.Row and sql.Rows for scanProxy.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanProxy reads one proxy row.
func scanProxy(row rowScanner) (*model.ProxyRecord, error) {
	var record model.ProxyRecord
	var protocol, status string
	var firstSeen, lastTested, lastSuccess sql.NullString

	err := row.Scan(
		&record.IP,
		&record.Port,
		&protocol,
		&record.Country,
		&record.AnonymityClaim,
		&status,
		&record.ResponseTime,
		&record.FailCount,
		&firstSeen,
		&lastTested,
		&lastSuccess,
		&record.Source,
	)
	if err != nil {
		return nil, err
	}

	parsedProtocol, err := model.ParseProtocol(protocol)
	if err != nil {
		return nil, err
	}
	parsedStatus, err := model.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	record.Protocol = parsedProtocol
	record.Status = parsedStatus
	record.FirstSeen = scanTimestamp(firstSeen)
	record.LastTested = scanTimestamp(lastTested)
	record.LastSuccess = scanTimestamp(lastSuccess)
	return &record, nil
}

// queryProxies runs a proxy SELECT and scans all rows.
func (s *Store) queryProxies(ctx context.Context, query string, args ...any) ([]*model.ProxyRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxies: %w", err)
	}
	defer rows.Close()

	var records []*model.ProxyRecord
	for rows.Next() {
		record, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proxy: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
