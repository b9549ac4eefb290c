package source

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/nao1215/proxyscan/internal/model"
)

// TextListFetcher parses plain text lists with one proxy per line.
// Lines look like "203.0.113.9:8080" or "socks5://203.0.113.9:1080";
// blank lines and # comments are skipped.
type TextListFetcher struct {
	baseFetcher
}

// Fetch implements Fetcher.
func (f *TextListFetcher) Fetch(ctx context.Context) ([]*model.ProxyRecord, error) {
	body, err := f.download(ctx)
	if err != nil {
		return nil, err
	}

	var records []*model.ProxyRecord
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ip, port, protocol, ok := parseProxyLine(line)
		if !ok {
			continue
		}
		record, err := f.newRecord(ip, port, protocol)
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// parseProxyLine splits one list line into its parts. The protocol is
// empty when the line carries only host:port.
func parseProxyLine(line string) (ip string, port int, protocol string, ok bool) {
	if idx := strings.Index(line, "://"); idx >= 0 {
		protocol = line[:idx]
		line = line[idx+3:]
	}

	host, portStr, err := net.SplitHostPort(line)
	if err != nil {
		return "", 0, "", false
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, "", false
	}
	return host, p, protocol, true
}
