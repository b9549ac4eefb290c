package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/proxyscan/internal/lifecycle"
	"github.com/nao1215/proxyscan/internal/model"
)

// Snapshot file names written by ExportPool and ExportAnalytics.
const (
	// ExportJSONFile is the JSON snapshot of the pool.
	ExportJSONFile = "proxies.json"
	// ExportCSVFile is the CSV snapshot of the pool.
	ExportCSVFile = "proxies.csv"
	// ExportMarkdownFile is the Markdown snapshot of the pool.
	ExportMarkdownFile = "proxies.md"
	// ExportAnalyticsFile is the JSON snapshot of the lifecycle
	// analytics.
	ExportAnalyticsFile = "analytics.json"
)

// ExportPool writes the pool report into dir as JSON, CSV and Markdown
// snapshot files, replacing any previous snapshots.
func ExportPool(poolReport *model.PoolReport, dir string) error {
	exports := []struct {
		file  string
		build func(f *os.File) Writer
	}{
		{ExportJSONFile, func(f *os.File) Writer { return NewJSONWriter(f, WithPrettyPrint()) }},
		{ExportCSVFile, func(f *os.File) Writer { return NewCSVWriter(f) }},
		{ExportMarkdownFile, func(f *os.File) Writer { return NewMarkdownWriter(f) }},
	}
	for _, export := range exports {
		path := filepath.Join(dir, export.file)
		f, err := os.Create(path) //nolint:gosec // Snapshot path derives from the configured data dir
		if err != nil {
			return fmt.Errorf("failed to create report file %s: %w", path, err)
		}
		if _, werr := export.build(f).Write(poolReport); werr != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write report %s: %w", path, werr)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close report file %s: %w", path, err)
		}
	}
	return nil
}

// ExportAnalytics writes the lifecycle analytics into dir as a JSON
// snapshot file, replacing any previous snapshot.
func ExportAnalytics(analytics *lifecycle.Analytics, dir string) error {
	data, err := json.MarshalIndent(analytics, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal analytics: %w", err)
	}

	path := filepath.Join(dir, ExportAnalyticsFile)
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write analytics file %s: %w", path, err)
	}
	return nil
}
