package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/nao1215/proxyscan/internal/model"
)

// SimpleWriter outputs human-readable text reports.
// This format is designed for terminal display with clear section
// formatting.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors by default because:
// 1. It works in all terminals without compatibility issues
// 2. It's easier to pipe to files or other tools
// 3. Color can be added as an option later if needed
type SimpleWriter struct {
	baseWriter

	// maxProxies caps how many proxies are listed; zero means all.
	maxProxies int

	// verbose enables additional detail in the output.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithMaxProxies caps the proxy list at n entries.
func WithMaxProxies(n int) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.maxProxies = n
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		maxProxies: 0,
		verbose:    false,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the pool report in human-readable format.
func (w *SimpleWriter) Write(report *model.PoolReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeSummary(&sb, report)
	w.writeDistributions(&sb, report)
	w.writeProxies(&sb, report)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the report header with generation information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.PoolReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                         PROXY POOL REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Generated:      %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05 MST")))
	sb.WriteString(fmt.Sprintf("Proxies Listed: %d\n", len(report.Proxies)))
	sb.WriteString("\n")
}

// writeSummary writes the status summary section.
func (w *SimpleWriter) writeSummary(sb *strings.Builder, report *model.PoolReport) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("STATUS SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	for _, status := range model.AllStatuses {
		sb.WriteString(fmt.Sprintf("  %-13s %d\n", strings.ToUpper(status.String())+":", report.ByStatus[status]))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  TOTAL:        %d proxies\n", report.Total))
	if report.AvgResponseTime > 0 {
		sb.WriteString(fmt.Sprintf("  AVG RESPONSE: %.2fs\n", report.AvgResponseTime))
	}
	sb.WriteString("\n")
}

// writeDistributions writes the protocol and country breakdowns.
func (w *SimpleWriter) writeDistributions(sb *strings.Builder, report *model.PoolReport) {
	if len(report.ByProtocol) == 0 && len(report.ByCountry) == 0 {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("DISTRIBUTION\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	for _, key := range sortedKeys(report.ByProtocol) {
		sb.WriteString(fmt.Sprintf("  [+] %-8s %d\n", key, report.ByProtocol[key]))
	}
	if len(report.ByCountry) > 0 {
		sb.WriteString("\n")
		for _, key := range sortedKeys(report.ByCountry) {
			sb.WriteString(fmt.Sprintf("  [+] %-20s %d\n", key, report.ByCountry[key]))
		}
	}
	sb.WriteString("\n")
}

// writeProxies writes the proxy list.
func (w *SimpleWriter) writeProxies(sb *strings.Builder, report *model.PoolReport) {
	if len(report.Proxies) == 0 {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("PROXIES\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	listed := report.Proxies
	truncated := 0
	if w.maxProxies > 0 && len(listed) > w.maxProxies {
		truncated = len(listed) - w.maxProxies
		listed = listed[:w.maxProxies]
	}

	for _, proxy := range listed {
		sb.WriteString(fmt.Sprintf("  * %-21s %-7s %.2fs", proxy.Addr(), proxy.Protocol, proxy.ResponseTime))
		if proxy.Country != "" {
			sb.WriteString("  " + proxy.Country)
		}
		sb.WriteString("\n")
		if w.verbose {
			sb.WriteString(fmt.Sprintf("    Source: %s  Status: %s  Failures: %d\n",
				proxy.Source, proxy.Status, proxy.FailCount))
		}
	}
	if truncated > 0 {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", truncated))
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by proxyscan\n")
	sb.WriteString("https://github.com/nao1215/proxyscan\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}

// sortedKeys returns the map keys in lexical order for stable output.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
