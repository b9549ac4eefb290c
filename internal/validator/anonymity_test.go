package validator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/probe"
)

const testRealIP = "198.51.100.7"

// anonymityServer serves both the direct real-IP lookup (relative path
// /realip) and the proxied echo endpoints (absolute URIs with fake
// hosts). extraHeaders are injected into the header-echo response as if
// the relay had added them.
func anonymityServer(echoIP string, extraHeaders map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/realip":
			_, _ = w.Write([]byte(`{"ip": "` + testRealIP + `"}`))
		case r.URL.Host == "headers.invalid":
			headers := map[string]string{
				"User-Agent":      r.Header.Get("User-Agent"),
				"Accept":          r.Header.Get("Accept"),
				"Accept-Encoding": "gzip",
			}
			for name, value := range extraHeaders {
				headers[name] = value
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"headers": headers})
		default:
			_, _ = w.Write([]byte(`{"ip": "` + echoIP + `"}`))
		}
	}))
}

func anonymityValidatorFor(srv *httptest.Server) *AnonymityValidator {
	return &AnonymityValidator{
		EchoEndpoints: []string{
			"http://echo1.invalid/ip",
			"http://echo2.invalid/ip",
			"http://echo3.invalid/ip",
		},
		RealIPEndpoints: []string{srv.URL + "/realip"},
		HeaderEchoURL:   "http://headers.invalid/headers",
		timeout:         5 * time.Second,
		userAgent:       "proxyscan/1.0",
	}
}

func TestAnonymityValidatorElite(t *testing.T) {
	t.Parallel()

	srv := anonymityServer("203.0.113.9", nil)
	defer srv.Close()

	got := anonymityValidatorFor(srv).Validate(context.Background(), newTestClient(t, srv))
	if got.Level != model.AnonymityElite {
		t.Fatalf("Level = %v, want elite; leaks: %v", got.Level, got.Leaks)
	}
	if got.Score() != 100 {
		t.Errorf("Score() = %v, want 100", got.Score())
	}
	if !got.Passed() {
		t.Error("Passed() = false, want true")
	}
}

func TestAnonymityValidatorIPEchoLeak(t *testing.T) {
	t.Parallel()

	// The echo services see the caller's real address through the relay.
	srv := anonymityServer(testRealIP, nil)
	defer srv.Close()

	got := anonymityValidatorFor(srv).Validate(context.Background(), newTestClient(t, srv))
	if got.Level != model.AnonymityAnonymous {
		t.Fatalf("Level = %v, want anonymous; leaks: %v", got.Level, got.Leaks)
	}
	if got.LeakCount != 1 {
		t.Errorf("LeakCount = %d, want 1 (three echoing services are one signal)", got.LeakCount)
	}
	// Base 80 for anonymous, minus 10 for the single leak.
	if got.Score() != 70 {
		t.Errorf("Score() = %v, want 70", got.Score())
	}
}

func TestAnonymityValidatorHeaderLeaks(t *testing.T) {
	t.Parallel()

	srv := anonymityServer("203.0.113.9", map[string]string{
		"X-Forwarded-For": testRealIP,
		"Via":             "1.1 relay.example",
	})
	defer srv.Close()

	got := anonymityValidatorFor(srv).Validate(context.Background(), newTestClient(t, srv))
	if got.LeakCount != 2 {
		t.Fatalf("LeakCount = %d, want 2; leaks: %v", got.LeakCount, got.Leaks)
	}
	if got.Level != model.AnonymityDistorting {
		t.Errorf("Level = %v, want distorting", got.Level)
	}
	// Base 60 for distorting, minus 15 per leak.
	if got.Score() != 30 {
		t.Errorf("Score() = %v, want 30", got.Score())
	}
	if got.Passed() {
		t.Error("Passed() = true, want false")
	}
}

func TestAnonymityValidatorForwardedWithoutRealIP(t *testing.T) {
	t.Parallel()

	// X-Forwarded-For carrying someone else's address is not a leak of
	// the caller.
	srv := anonymityServer("203.0.113.9", map[string]string{
		"X-Forwarded-For": "203.0.113.50",
	})
	defer srv.Close()

	got := anonymityValidatorFor(srv).Validate(context.Background(), newTestClient(t, srv))
	if got.LeakCount != 0 {
		t.Errorf("LeakCount = %d, want 0; leaks: %v", got.LeakCount, got.Leaks)
	}
}

func TestAnonymityValidatorWebRTCHeuristic(t *testing.T) {
	t.Parallel()

	// The real address shows up in a header outside the known set.
	srv := anonymityServer("203.0.113.9", map[string]string{
		"X-Debug-Client": testRealIP,
	})
	defer srv.Close()

	got := anonymityValidatorFor(srv).Validate(context.Background(), newTestClient(t, srv))
	found := false
	for _, leak := range got.Leaks {
		if leak == "webrtc_heuristic" {
			found = true
		}
	}
	if !found {
		t.Errorf("Leaks = %v, want webrtc_heuristic present", got.Leaks)
	}
	if heuristic, ok := got.Details()["heuristic"].(bool); !ok || !heuristic {
		t.Error("details should mark the header scan as heuristic")
	}
}

func TestAnonymityValidatorRealIPLookupFails(t *testing.T) {
	t.Parallel()

	srv := anonymityServer("203.0.113.9", nil)
	defer srv.Close()

	v := anonymityValidatorFor(srv)
	v.RealIPEndpoints = []string{srv.URL + "/missing-endpoint-404"}

	// The handler answers 200 with an IP for unknown paths, so point at
	// a server that is gone instead.
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	v.RealIPEndpoints = []string{gone.URL}
	gone.Close()

	got := v.Validate(context.Background(), newTestClient(t, srv))
	if got.Passed() {
		t.Error("Passed() = true, want false when the real IP is unknown")
	}
	if got.Score() != 0 {
		t.Errorf("Score() = %v, want 0", got.Score())
	}
	if len(got.Errors()) == 0 {
		t.Error("Errors() is empty, want the lookup failure recorded")
	}
}

// TestAnonymityValidatorSOCKS4DNSHeuristic tests that the
// protocol-inferred DNS signal is flagged for SOCKS4 relays and
// labeled as a heuristic in the details.
func TestAnonymityValidatorSOCKS4DNSHeuristic(t *testing.T) {
	t.Parallel()

	srv := anonymityServer("203.0.113.9", nil)
	defer srv.Close()

	// Port 1 refuses the SOCKS handshake, so every proxied check fails
	// with an error; only the protocol-level DNS signal remains.
	record := model.NewProxyRecord("127.0.0.1", 1, model.ProtocolSOCKS4)
	client, err := probe.NewClient(record, probe.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}

	got := anonymityValidatorFor(srv).Validate(context.Background(), client)

	found := false
	for _, leak := range got.Leaks {
		if leak == "dns_heuristic" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a dns_heuristic signal for SOCKS4, got %v", got.Leaks)
	}
	if got.DetailMap["dns_heuristic"] != true {
		t.Error("expected the DNS signal to be labeled heuristic")
	}
	if got.DetailMap["dns_remote_resolution"] != false {
		t.Error("expected SOCKS4 to report local name resolution")
	}
}

// TestAnonymityValidatorRemoteResolutionDetail tests that remotely
// resolving protocols are not flagged by the DNS heuristic.
func TestAnonymityValidatorRemoteResolutionDetail(t *testing.T) {
	t.Parallel()

	srv := anonymityServer("203.0.113.9", nil)
	defer srv.Close()

	got := anonymityValidatorFor(srv).Validate(context.Background(), newTestClient(t, srv))

	for _, leak := range got.Leaks {
		if leak == "dns_heuristic" {
			t.Fatalf("unexpected DNS signal for an HTTP relay: %v", got.Leaks)
		}
	}
	if got.DetailMap["dns_remote_resolution"] != true {
		t.Error("expected HTTP relays to report remote name resolution")
	}
}
