package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/model"
)

// maxListBytes bounds how much of a proxy list payload is read.
// The largest public lists are a few hundred KB; 8MB leaves headroom
// without letting a bad origin exhaust memory.
const maxListBytes = 8 * 1024 * 1024

// Fetcher retrieves candidate proxy records from one origin.
//
// Design decision: We use an interface rather than a concrete type because:
//  1. Text, JSON, and HTML origins require different parsers
//  2. Allows for easy mocking in tests
//  3. The registry can fan out over origins uniformly
type Fetcher interface {
	// Fetch downloads and parses the origin's current list.
	// Unparseable individual entries are skipped, not errors; Fetch
	// errors only when the origin itself cannot be read.
	Fetch(ctx context.Context) ([]*model.ProxyRecord, error)

	// Name returns the configured origin name.
	Name() string
}

// New creates the fetcher matching the source's configured format.
func New(src config.Source, opts ...Option) (Fetcher, error) {
	base := newBaseFetcher(src, opts...)
	switch src.Format {
	case "text":
		return &TextListFetcher{baseFetcher: base}, nil
	case "json":
		return &JSONListFetcher{baseFetcher: base}, nil
	case "html":
		return &HTMLTableFetcher{baseFetcher: base}, nil
	default:
		return nil, fmt.Errorf("unknown source format %q for source %q", src.Format, src.Name)
	}
}

// Option configures a fetcher.
type Option func(*baseFetcher)

// WithHTTPClient replaces the HTTP client used to download lists.
func WithHTTPClient(client *http.Client) Option {
	return func(b *baseFetcher) {
		if client != nil {
			b.client = client
		}
	}
}

// WithUserAgent sets the User-Agent header for list downloads.
func WithUserAgent(ua string) Option {
	return func(b *baseFetcher) {
		b.userAgent = ua
	}
}

// baseFetcher holds what every format-specific fetcher shares: the
// origin definition, the HTTP client, and the download helper.
type baseFetcher struct {
	src       config.Source
	client    *http.Client
	userAgent string
}

func newBaseFetcher(src config.Source, opts ...Option) baseFetcher {
	b := baseFetcher{
		src:       src,
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: config.DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Name returns the configured origin name.
func (b *baseFetcher) Name() string { return b.src.Name }

// download retrieves the origin's payload.
func (b *baseFetcher) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for source %q: %w", b.src.Name, err)
	}
	req.Header.Set("User-Agent", b.userAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", b.src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source %q answered status %d", b.src.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", b.src.Name, err)
	}
	return body, nil
}

// newRecord builds an untested record attributed to this origin.
// Entries with a bad address or unknown protocol return an error and
// are skipped by the callers.
func (b *baseFetcher) newRecord(ip string, port int, protocol string) (*model.ProxyRecord, error) {
	proto := protocol
	if proto == "" {
		proto = b.src.Protocol
	}
	parsed, err := model.ParseProtocol(proto)
	if err != nil {
		return nil, err
	}

	record := model.NewProxyRecord(ip, port, parsed)
	record.Source = b.src.Name
	record.FirstSeen = time.Now()
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return record, nil
}
