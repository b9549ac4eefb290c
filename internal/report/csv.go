package report

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/nao1215/proxyscan/internal/model"
)

// csvHeader is the fixed column order of exported proxy lists.
// Downstream scripts rely on this order; append new columns at the end.
var csvHeader = []string{
	"ip", "port", "protocol", "country", "anonymity",
	"response_time", "status", "source",
}

// CSVWriter outputs the proxy list as CSV.
// This format is designed for spreadsheets and shell tooling; the
// aggregate report sections are not representable and are omitted.
type CSVWriter struct {
	baseWriter
}

// NewCSVWriter creates a CSVWriter that outputs to the given writer.
func NewCSVWriter(output io.Writer) *CSVWriter {
	return &CSVWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the proxy list as CSV with one row per proxy.
func (w *CSVWriter) Write(report *model.PoolReport) (int, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	for _, proxy := range report.Proxies {
		row := []string{
			proxy.IP,
			strconv.Itoa(proxy.Port),
			proxy.Protocol.String(),
			proxy.Country,
			proxy.AnonymityClaim,
			strconv.FormatFloat(proxy.ResponseTime, 'f', 3, 64),
			proxy.Status.String(),
			proxy.Source,
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}

	return w.output.Write(buf.Bytes())
}
