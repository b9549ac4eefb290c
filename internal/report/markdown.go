package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/proxyscan/internal/model"
)

// MarkdownWriter outputs pool reports in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter

	// maxProxies caps how many proxies land in the table; zero means all.
	maxProxies int
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithMarkdownMaxProxies caps the proxy table at n rows.
func WithMarkdownMaxProxies(n int) MarkdownWriterOption {
	return func(w *MarkdownWriter) {
		w.maxProxies = n
	}
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the pool report in Markdown format.
func (w *MarkdownWriter) Write(report *model.PoolReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeSummary(md, report)
	w.writeProxyTable(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with generation information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.PoolReport) {
	md.H1("Proxy Pool Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", report.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Proxies Listed", strconv.Itoa(len(report.Proxies))},
			{"Avg Response Time", fmt.Sprintf("%.2fs", report.AvgResponseTime)},
		},
	})
	md.PlainText("")
}

// writeSummary writes the status summary with a distribution chart.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *model.PoolReport) {
	md.H2("Pool Summary")
	md.PlainText("")

	rows := make([][]string, 0, len(model.AllStatuses)+1)
	for _, status := range model.AllStatuses {
		rows = append(rows, []string{status.String(), strconv.Itoa(report.ByStatus[status])})
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(report.Total) + "**"})
	md.Table(markdown.TableSet{
		Header: []string{"Status", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(report.ByProtocol) > 0 {
		w.writePieChart(md, report)
	}
	w.writeAlert(md, report)
}

// writePieChart writes a mermaid pie chart of the protocol distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, report *model.PoolReport) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Protocol Distribution"),
		piechart.WithShowData(true),
	)

	for _, protocol := range sortedKeys(report.ByProtocol) {
		chart.LabelAndIntValue(protocol, uint64(report.ByProtocol[protocol]))
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an appropriate alert based on the pool health.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *model.PoolReport) {
	valid := report.ValidCount()
	switch {
	case len(report.Proxies) == 0:
		md.Cautionf("The pool is empty. Run a fetch and validation cycle first.")
	case valid == 0:
		md.Warningf("No valid proxies in the exported list.")
	default:
		md.Tip(fmt.Sprintf("%d proxies are ready for use.", valid))
	}
	md.PlainText("")
}

// writeProxyTable writes the exported proxy list as a table.
func (w *MarkdownWriter) writeProxyTable(md *markdown.Markdown, report *model.PoolReport) {
	md.H2("Proxies")
	md.PlainText("")

	if len(report.Proxies) == 0 {
		md.PlainText("No proxies to list.")
		md.PlainText("")
		return
	}

	listed := report.Proxies
	truncated := 0
	if w.maxProxies > 0 && len(listed) > w.maxProxies {
		truncated = len(listed) - w.maxProxies
		listed = listed[:w.maxProxies]
	}

	rows := make([][]string, len(listed))
	for i, proxy := range listed {
		country := proxy.Country
		if country == "" {
			country = "-"
		}
		rows[i] = []string{
			"`" + proxy.Addr() + "`",
			proxy.Protocol.String(),
			country,
			fmt.Sprintf("%.2fs", proxy.ResponseTime),
			proxy.Status.String(),
			proxy.Source,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Address", "Protocol", "Country", "Response", "Status", "Source"},
		Rows:   rows,
	})
	md.PlainText("")

	if truncated > 0 {
		md.PlainTextf("*... and %d more proxies not shown.*", truncated)
		md.PlainText("")
	}
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [proxyscan](https://github.com/nao1215/proxyscan)*")
}
