package source

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/proxyscan/internal/model"
)

// HTMLTableFetcher parses table-based proxy listing pages. It locates
// the IP and port columns from the table header and tolerates extra
// columns; country and anonymity columns are picked up when present.
type HTMLTableFetcher struct {
	baseFetcher
}

// columnIndexes maps the table columns of interest to their positions.
// A value of -1 means the column is absent.
type columnIndexes struct {
	ip        int
	port      int
	country   int
	anonymity int
}

// Fetch implements Fetcher.
func (f *HTMLTableFetcher) Fetch(ctx context.Context) ([]*model.ProxyRecord, error) {
	body, err := f.download(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var records []*model.ProxyRecord
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		cols := headerColumns(table)
		if cols.ip < 0 || cols.port < 0 {
			return true // not a proxy table, keep looking
		}

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() <= cols.port {
				return
			}

			ip := strings.TrimSpace(cells.Eq(cols.ip).Text())
			port, err := strconv.Atoi(strings.TrimSpace(cells.Eq(cols.port).Text()))
			if err != nil {
				return
			}

			record, err := f.newRecord(ip, port, "")
			if err != nil {
				return
			}
			if cols.country >= 0 && cells.Length() > cols.country {
				record.Country = strings.TrimSpace(cells.Eq(cols.country).Text())
			}
			if cols.anonymity >= 0 && cells.Length() > cols.anonymity {
				record.AnonymityClaim = strings.ToLower(strings.TrimSpace(cells.Eq(cols.anonymity).Text()))
			}
			records = append(records, record)
		})
		return false // first matching table wins
	})

	return records, nil
}

// headerColumns reads the table header and locates the columns.
func headerColumns(table *goquery.Selection) columnIndexes {
	cols := columnIndexes{ip: -1, port: -1, country: -1, anonymity: -1}
	table.Find("th").Each(func(i int, th *goquery.Selection) {
		switch heading := strings.ToLower(strings.TrimSpace(th.Text())); {
		case strings.Contains(heading, "ip") || strings.Contains(heading, "address"):
			if cols.ip < 0 {
				cols.ip = i
			}
		case strings.Contains(heading, "port"):
			if cols.port < 0 {
				cols.port = i
			}
		case strings.Contains(heading, "country"):
			if cols.country < 0 {
				cols.country = i
			}
		case strings.Contains(heading, "anonymity"):
			if cols.anonymity < 0 {
				cols.anonymity = i
			}
		}
	})
	return cols
}
