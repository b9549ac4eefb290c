package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/proxyscan/internal/model"
)

// InsertLifecycleEvent appends one event to the log and trims the log
// back to its cap, oldest entries first.
func (s *Store) InsertLifecycleEvent(ctx context.Context, event *model.LifecycleEvent) error {
	var detailsJSON string
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to serialize event details: %w", err)
		}
		detailsJSON = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO lifecycle_events (proxy_key, kind, timestamp, previous_status, new_status, details)
	VALUES (?, ?, ?, ?, ?, ?)`,
		event.ProxyKey,
		string(event.Kind),
		formatTimestamp(event.Timestamp),
		event.PreviousStatus.String(),
		event.NewStatus.String(),
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lifecycle event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	DELETE FROM lifecycle_events WHERE id IN (
		SELECT id FROM lifecycle_events ORDER BY id DESC LIMIT -1 OFFSET ?
	)`, s.eventLogCap)
	if err != nil {
		return fmt.Errorf("failed to trim lifecycle events: %w", err)
	}
	return nil
}

// ListLifecycleEvents returns events, newest first. A non-empty
// proxyKey filters to one proxy; a limit of 0 means no limit.
func (s *Store) ListLifecycleEvents(ctx context.Context, proxyKey string, limit int) ([]*model.LifecycleEvent, error) {
	query := `
	SELECT proxy_key, kind, timestamp, previous_status, new_status, details
	FROM lifecycle_events`
	var args []any
	if proxyKey != "" {
		query += ` WHERE proxy_key = ?`
		args = append(args, proxyKey)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lifecycle events: %w", err)
	}
	defer rows.Close()

	var events []*model.LifecycleEvent
	for rows.Next() {
		event, err := scanLifecycleEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListEventsSince returns events at or after the given time, oldest
// first, for analytics passes.
func (s *Store) ListEventsSince(ctx context.Context, since time.Time) ([]*model.LifecycleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT proxy_key, kind, timestamp, previous_status, new_status, details
	FROM lifecycle_events
	WHERE timestamp >= ?
	ORDER BY id ASC`, formatTimestamp(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query lifecycle events: %w", err)
	}
	defer rows.Close()

	var events []*model.LifecycleEvent
	for rows.Next() {
		event, err := scanLifecycleEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountEvents returns the current size of the event log.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lifecycle_events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count lifecycle events: %w", err)
	}
	return count, nil
}

// scanLifecycleEvent reads one event row.
func scanLifecycleEvent(rows *sql.Rows) (*model.LifecycleEvent, error) {
	var event model.LifecycleEvent
	var kind, previous, next, detailsJSON string
	var timestamp sql.NullString

	if err := rows.Scan(&event.ProxyKey, &kind, &timestamp, &previous, &next, &detailsJSON); err != nil {
		return nil, fmt.Errorf("failed to scan lifecycle event: %w", err)
	}
	event.Kind = model.EventKind(kind)
	event.Timestamp = scanTimestamp(timestamp)
	event.PreviousStatus = model.Status(previous)
	event.NewStatus = model.Status(next)
	if detailsJSON != "" {
		if err := json.Unmarshal([]byte(detailsJSON), &event.Details); err != nil {
			return nil, fmt.Errorf("failed to parse event details: %w", err)
		}
	}
	return &event, nil
}

// InsertTaskRecord appends one scheduler run to the task history and
// trims the history back to its cap.
func (s *Store) InsertTaskRecord(ctx context.Context, record *model.TaskRecord) error {
	success := 0
	if record.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO task_history (task, started, duration_ms, success, detail)
	VALUES (?, ?, ?, ?, ?)`,
		record.Task,
		formatTimestamp(record.Started),
		record.Duration.Milliseconds(),
		success,
		record.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	DELETE FROM task_history WHERE id IN (
		SELECT id FROM task_history ORDER BY id DESC LIMIT -1 OFFSET ?
	)`, s.taskHistoryCap)
	if err != nil {
		return fmt.Errorf("failed to trim task history: %w", err)
	}
	return nil
}

// ListTaskHistory returns scheduler runs, newest first. A limit of 0
// means no limit.
func (s *Store) ListTaskHistory(ctx context.Context, limit int) ([]*model.TaskRecord, error) {
	query := `SELECT task, started, duration_ms, success, detail FROM task_history ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task history: %w", err)
	}
	defer rows.Close()

	var records []*model.TaskRecord
	for rows.Next() {
		var record model.TaskRecord
		var started sql.NullString
		var durationMs int64
		var success int

		if err := rows.Scan(&record.Task, &started, &durationMs, &success, &record.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan task record: %w", err)
		}
		record.Started = scanTimestamp(started)
		record.Duration = time.Duration(durationMs) * time.Millisecond
		record.Success = success != 0
		records = append(records, &record)
	}
	return records, rows.Err()
}

// SaveStatsSnapshot stores one statistics snapshot as JSON.
func (s *Store) SaveStatsSnapshot(ctx context.Context, snapshotJSON []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stats_snapshots (snapshot_json) VALUES (?)`, string(snapshotJSON))
	if err != nil {
		return fmt.Errorf("failed to save stats snapshot: %w", err)
	}
	return nil
}

// LatestStatsSnapshot returns the most recent snapshot JSON, or nil
// when none has been stored.
func (s *Store) LatestStatsSnapshot(ctx context.Context) ([]byte, error) {
	var snapshotJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM stats_snapshots ORDER BY id DESC LIMIT 1`).Scan(&snapshotJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stats snapshot: %w", err)
	}
	return []byte(snapshotJSON), nil
}
