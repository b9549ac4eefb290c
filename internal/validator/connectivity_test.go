package validator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/probe"
)

// newTestClient builds a probe client whose HTTP forward proxy is the
// given test server; target URLs with fake hosts all land on the
// server's handler, which sees them as absolute URIs.
func newTestClient(t *testing.T, srv *httptest.Server) *probe.Client {
	t.Helper()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}

	client, err := probe.NewClient(
		model.NewProxyRecord(u.Hostname(), port, model.ProtocolHTTP),
		probe.WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestConnectivityValidatorBothReachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/generate_204") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"ip": "203.0.113.9"}`))
	}))
	defer srv.Close()

	v := &ConnectivityValidator{
		httpURL:    "http://probe.invalid/ip",
		httpsURL:   "http://probe.invalid/generate_204",
		maxRetries: 1,
		retryDelay: time.Millisecond,
	}

	got := v.Validate(context.Background(), newTestClient(t, srv))
	if !got.HTTPReachable || !got.HTTPSReachable {
		t.Fatalf("reachable = (%v, %v), want both true; errors: %v",
			got.HTTPReachable, got.HTTPSReachable, got.Errors())
	}
	if !got.Passed() {
		t.Error("Passed() = false, want true")
	}
	// Local round trips are well under a second: 50 base + 15 + 15
	// per-protocol bonus + 20 both-protocol bonus.
	if got.Score() != 100 {
		t.Errorf("Score() = %v, want 100", got.Score())
	}
}

func TestConnectivityValidatorHTTPOnly(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/generate_204") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ip": "203.0.113.9"}`))
	}))
	defer srv.Close()

	v := &ConnectivityValidator{
		httpURL:    "http://probe.invalid/ip",
		httpsURL:   "http://probe.invalid/generate_204",
		maxRetries: 1,
		retryDelay: time.Millisecond,
	}

	got := v.Validate(context.Background(), newTestClient(t, srv))
	if !got.HTTPReachable || got.HTTPSReachable {
		t.Fatalf("reachable = (%v, %v), want (true, false)", got.HTTPReachable, got.HTTPSReachable)
	}
	if !got.Passed() {
		t.Error("Passed() = false, want true with one protocol up")
	}
	// 50 base + 30/2 time bonus, no both-protocol bonus.
	if got.Score() != 65 {
		t.Errorf("Score() = %v, want 65", got.Score())
	}
	if len(got.Errors()) != 1 {
		t.Errorf("len(Errors()) = %d, want 1", len(got.Errors()))
	}
}

func TestConnectivityValidatorUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := &ConnectivityValidator{
		httpURL:    "http://probe.invalid/ip",
		httpsURL:   "http://probe.invalid/generate_204",
		maxRetries: 2,
		retryDelay: time.Millisecond,
	}

	got := v.Validate(context.Background(), newTestClient(t, srv))
	if got.Passed() {
		t.Error("Passed() = true, want false")
	}
	if got.Score() != 0 {
		t.Errorf("Score() = %v, want 0", got.Score())
	}
}

func TestConnectivityValidatorRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/generate_204") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		// First HTTP probe attempt fails, the retry succeeds.
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ip": "203.0.113.9"}`))
	}))
	defer srv.Close()

	v := &ConnectivityValidator{
		httpURL:    "http://probe.invalid/ip",
		httpsURL:   "http://probe.invalid/generate_204",
		maxRetries: 3,
		retryDelay: time.Millisecond,
	}

	got := v.Validate(context.Background(), newTestClient(t, srv))
	if !got.HTTPReachable {
		t.Errorf("HTTPReachable = false, want true after retry; errors: %v", got.Errors())
	}
}

func TestConnectivityValidatorRespectsCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := &ConnectivityValidator{
		httpURL:    "http://probe.invalid/ip",
		httpsURL:   "http://probe.invalid/generate_204",
		maxRetries: 5,
		retryDelay: time.Minute,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := v.Validate(ctx, newTestClient(t, srv))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Validate() took %v, should stop on context deadline", elapsed)
	}
	if got.Passed() {
		t.Error("Passed() = true, want false")
	}
}

// TestConnectivityValidatorClassifiesFailures tests that failed probes
// carry a classified error kind in the layer errors and details.
func TestConnectivityValidatorClassifiesFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := &ConnectivityValidator{
		httpURL:    "http://probe.invalid/ip",
		httpsURL:   "http://probe.invalid/generate_204",
		maxRetries: 1,
		retryDelay: time.Millisecond,
	}
	result := v.Validate(context.Background(), newTestClient(t, srv))

	if result.PassedVal {
		t.Fatal("expected both probes to fail")
	}
	if got := result.DetailMap["http_error_kind"]; got != string(probe.ErrorBadStatus) {
		t.Errorf("http_error_kind = %v, want %s", got, probe.ErrorBadStatus)
	}
	if got := result.DetailMap["https_error_kind"]; got != string(probe.ErrorBadStatus) {
		t.Errorf("https_error_kind = %v, want %s", got, probe.ErrorBadStatus)
	}
	if len(result.ErrorList) != 2 {
		t.Fatalf("expected 2 errors, got %v", result.ErrorList)
	}
	for _, msg := range result.ErrorList {
		if !strings.Contains(msg, string(probe.ErrorBadStatus)) {
			t.Errorf("expected a classified error, got %q", msg)
		}
	}
}
