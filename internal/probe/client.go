package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"
	"h12.io/socks"

	"github.com/nao1215/proxyscan/internal/model"
)

// DefaultMaxBodySize limits the response body bytes read per probe.
// 2MB covers the largest performance-layer payload (1MB) with room for
// encoding overhead while preventing memory exhaustion from a
// misbehaving relay.
const DefaultMaxBodySize = 2 * 1024 * 1024

// Client issues HTTP requests routed through one proxy record.
//
// Design decision: We build one http.Client per proxy record rather
// than sharing a client with per-request proxy selection because:
//  1. SOCKS tunnels need a per-proxy DialContext, not a Proxy func
//  2. Connection pooling per relay keeps probes of one relay honest
//  3. A broken relay's stuck connections cannot leak into another
//     relay's measurements
type Client struct {
	// httpClient is configured to route through the proxy.
	httpClient *http.Client

	// record is the proxy this client probes.
	record *model.ProxyRecord

	// userAgent is sent with every probe request.
	userAgent string

	// maxBodySize bounds response body reads.
	maxBodySize int64

	// timeout is the per-request timeout.
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithUserAgent sets the User-Agent header for probe requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithMaxBodySize sets the response body read limit.
func WithMaxBodySize(size int64) Option {
	return func(c *Client) {
		if size > 0 {
			c.maxBodySize = size
		}
	}
}

// NewClient creates a probe client routed through the given proxy record.
func NewClient(record *model.ProxyRecord, opts ...Option) (*Client, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		record:      record,
		userAgent:   "proxyscan/1.0",
		maxBodySize: DefaultMaxBodySize,
		timeout:     15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	transport, err := transportFor(record, c.timeout)
	if err != nil {
		return nil, err
	}

	c.httpClient = &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		// Redirect targets chosen by an untrusted relay are not followed;
		// a redirect to an unexpected status is a probe failure.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return c, nil
}

// transportFor builds the HTTP transport that tunnels through the record.
func transportFor(record *model.ProxyRecord, timeout time.Duration) (*http.Transport, error) {
	transport := &http.Transport{
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          2,
	}

	switch record.Protocol {
	case model.ProtocolHTTP:
		proxyURL, err := url.Parse(record.URL())
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", record.URL(), err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)

	case model.ProtocolSOCKS5:
		dialer, err := xproxy.SOCKS5("tcp", record.Addr(), nil, &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", record.Addr(), err)
		}
		ctxDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support context", record.Addr())
		}
		transport.DialContext = ctxDialer.DialContext

	case model.ProtocolSOCKS4:
		// golang.org/x/net/proxy has no SOCKS4 support, so the legacy
		// protocol goes through h12.io/socks instead.
		dial := socks.Dial(fmt.Sprintf("socks4://%s?timeout=%s", record.Addr(), timeout))
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return dial(network, addr)
		}

	default:
		return nil, fmt.Errorf("unknown proxy protocol %q", record.Protocol)
	}

	return transport, nil
}

// Record returns the proxy record this client probes.
func (c *Client) Record() *model.ProxyRecord {
	return c.record
}

// Result is one timed probe response.
type Result struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Elapsed is the wall time from request start to body fully read.
	Elapsed time.Duration

	// BodySize is the number of body bytes read (bounded by the
	// client's body size limit).
	BodySize int64

	// Body holds the read body bytes.
	Body []byte

	// Header is the response header.
	Header http.Header
}

// Get issues a timed GET through the proxy and reads the body up to
// the configured limit. The returned error is a transport or read
// error; an unexpected status is not an error at this level.
func (c *Client) Get(ctx context.Context, target string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, err
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Elapsed:    time.Since(start),
		BodySize:   int64(len(body)),
		Body:       body,
		Header:     resp.Header.Clone(),
	}, nil
}

// GetExpect issues a timed GET and requires the given status code.
// A response with any other status returns an UnexpectedStatusError.
func (c *Client) GetExpect(ctx context.Context, target string, wantStatus int) (*Result, error) {
	res, err := c.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != wantStatus {
		return res, &UnexpectedStatusError{Got: res.StatusCode, Want: wantStatus}
	}
	return res, nil
}
