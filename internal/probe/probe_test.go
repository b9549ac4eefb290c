package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/nao1215/proxyscan/internal/model"
)

// recordForServer builds an HTTP proxy record pointing at a test server.
// httptest servers are plain HTTP endpoints, so treating one as an HTTP
// forward proxy lets Get exercise the full transport path: the request
// is sent to the server with an absolute-form URL, which the handler
// can inspect.
func recordForServer(t *testing.T, srv *httptest.Server) *model.ProxyRecord {
	t.Helper()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return model.NewProxyRecord(u.Hostname(), port, model.ProtocolHTTP)
}

func TestClientGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); !strings.Contains(got, "proxyscan") {
			t.Errorf("User-Agent = %q, want proxyscan identifier", got)
		}
		w.Header().Set("X-Probe", "ok")
		_, _ = w.Write([]byte(`{"ip": "203.0.113.10"}`))
	}))
	defer srv.Close()

	client, err := NewClient(recordForServer(t, srv))
	if err != nil {
		t.Fatalf("NewClient() unexpected error: %v", err)
	}

	res, err := client.Get(context.Background(), "http://example.invalid/ip")
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}

	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", res.StatusCode)
	}
	if res.Elapsed <= 0 {
		t.Error("Elapsed not measured")
	}
	if res.Header.Get("X-Probe") != "ok" {
		t.Error("response header not captured")
	}
	if ExtractIP(res.Body) != "203.0.113.10" {
		t.Errorf("body = %q, want IP echo payload", res.Body)
	}
}

func TestClientGetExpect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client, err := NewClient(recordForServer(t, srv))
	if err != nil {
		t.Fatalf("NewClient() unexpected error: %v", err)
	}

	_, err = client.GetExpect(context.Background(), "http://example.invalid/", http.StatusOK)

	var statusErr *UnexpectedStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("GetExpect() error = %v, want UnexpectedStatusError", err)
	}
	if statusErr.Got != http.StatusForbidden || statusErr.Want != http.StatusOK {
		t.Errorf("status error = %+v, want got 403 want 200", statusErr)
	}
}

func TestClientTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client, err := NewClient(recordForServer(t, srv), WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() unexpected error: %v", err)
	}

	_, err = client.Get(context.Background(), "http://example.invalid/slow")
	if err == nil {
		t.Fatal("Get() expected timeout error")
	}
	if kind := ClassifyError(err); kind != ErrorTimeout {
		t.Errorf("ClassifyError() = %v, want %v", kind, ErrorTimeout)
	}
}

func TestClientBodyLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	client, err := NewClient(recordForServer(t, srv), WithMaxBodySize(1024))
	if err != nil {
		t.Fatalf("NewClient() unexpected error: %v", err)
	}

	res, err := client.Get(context.Background(), "http://example.invalid/big")
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if res.BodySize != 1024 {
		t.Errorf("BodySize = %d, want capped at 1024", res.BodySize)
	}
}

func TestNewClientRejectsBadRecord(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(model.NewProxyRecord("", 8080, model.ProtocolHTTP)); err == nil {
		t.Error("NewClient() expected error for empty host")
	}
	if _, err := NewClient(model.NewProxyRecord("203.0.113.10", 0, model.ProtocolSOCKS5)); err == nil {
		t.Error("NewClient() expected error for port zero")
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ErrorTimeout},
		{name: "refused", err: syscall.ECONNREFUSED, want: ErrorRefused},
		{name: "refused in message", err: errors.New("socks connect: connection refused"), want: ErrorRefused},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "example.invalid"}, want: ErrorDNS},
		{name: "bad status", err: &UnexpectedStatusError{Got: 502, Want: 200}, want: ErrorBadStatus},
		{name: "other", err: errors.New("malformed handshake"), want: ErrorOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExtractIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "ipify json", body: `{"ip":"203.0.113.10"}`, want: "203.0.113.10"},
		{name: "httpbin origin", body: `{"origin": "203.0.113.10"}`, want: "203.0.113.10"},
		{name: "httpbin origin with proxy chain", body: `{"origin": "203.0.113.10, 198.51.100.1"}`, want: "203.0.113.10"},
		{name: "plain text", body: "203.0.113.10\n", want: "203.0.113.10"},
		{name: "embedded in html", body: "<p>Your IP: 203.0.113.10</p>", want: "203.0.113.10"},
		{name: "no ip", body: "hello", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ExtractIP([]byte(tt.body)); got != tt.want {
				t.Errorf("ExtractIP(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestRealIP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"198.51.100.7"}`))
	}))
	defer srv.Close()

	ip, err := RealIP(context.Background(), srv.URL, time.Second)
	if err != nil {
		t.Fatalf("RealIP() unexpected error: %v", err)
	}
	if ip != "198.51.100.7" {
		t.Errorf("RealIP() = %q, want 198.51.100.7", ip)
	}
}
