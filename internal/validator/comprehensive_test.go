package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/geoloc"
	"github.com/nao1215/proxyscan/internal/model"
)

// validationServer answers every endpoint the five layers hit, keyed by
// the fake host in the absolute URI. connectivityUp controls whether the
// connectivity endpoints answer.
func validationServer(connectivityUp bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/realip" {
			_, _ = w.Write([]byte(`{"ip": "` + testRealIP + `"}`))
			return
		}

		switch r.URL.Host {
		case "probe.invalid", "rel.invalid":
			if !connectivityUp {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			if strings.HasSuffix(r.URL.Path, "/generate_204") {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			_, _ = w.Write([]byte(`{"ip": "203.0.113.9"}`))

		case "perf.invalid":
			parts := strings.Split(r.URL.Path, "/")
			n, err := strconv.Atoi(parts[len(parts)-1])
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write(bytes.Repeat([]byte{0xAB}, n))

		case "geo.invalid":
			_, _ = w.Write([]byte(`{
				"status": "success",
				"query": "203.0.113.9",
				"countryCode": "DE",
				"regionName": "Berlin",
				"city": "Berlin",
				"lat": 52.52,
				"lon": 13.405,
				"isp": "Example Carrier"
			}`))

		case "headers.invalid":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"headers": map[string]string{
					"User-Agent": r.Header.Get("User-Agent"),
					"Accept":     r.Header.Get("Accept"),
				},
			})

		default:
			// IP-echo endpoints.
			_, _ = w.Write([]byte(`{"ip": "203.0.113.9"}`))
		}
	}))
}

// comprehensiveFor wires a Comprehensive validator whose every endpoint
// routes to the test server acting as an HTTP forward proxy.
func comprehensiveFor(t *testing.T, srv *httptest.Server) (*Comprehensive, *model.ProxyRecord) {
	t.Helper()

	cfg := config.NewConfig()
	cfg.HTTPProbeURL = "http://probe.invalid/ip"
	cfg.HTTPSProbeURL = "http://probe.invalid/generate_204"
	cfg.PerformanceURL = "http://perf.invalid/bytes/%d"
	cfg.ValidationTimeout = 10 * time.Second
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	cfg.StabilityDuration = 40 * time.Millisecond
	cfg.StabilityInterval = 10 * time.Millisecond
	cfg.RecoveryAttempts = 2
	cfg.RecoveryInterval = 5 * time.Millisecond
	cfg.PingCount = 5

	geoService := geoloc.NewIPAPIService()
	geoService.BaseURL = "http://geo.invalid/json"
	geoService.MaxRetries = 1
	engine := geoloc.NewEngine(geoloc.WithServices([]geoloc.Service{geoService}))

	anonymity := &AnonymityValidator{
		EchoEndpoints: []string{
			"http://echo1.invalid/ip",
			"http://echo2.invalid/ip",
			"http://echo3.invalid/ip",
		},
		RealIPEndpoints: []string{srv.URL + "/realip"},
		HeaderEchoURL:   "http://headers.invalid/headers",
		timeout:         5 * time.Second,
		userAgent:       cfg.UserAgent,
	}

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	record := model.NewProxyRecord(u.Hostname(), port, model.ProtocolHTTP)

	v := NewComprehensive(cfg,
		WithGeolocationEngine(engine),
		WithAnonymityValidator(anonymity),
	)
	return v, record
}

func TestComprehensiveValidateHealthyRelay(t *testing.T) {
	t.Parallel()

	srv := validationServer(true)
	defer srv.Close()

	v, record := comprehensiveFor(t, srv)
	got, err := v.Validate(context.Background(), record)
	if err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	if got.ProxyKey != record.Key() {
		t.Errorf("ProxyKey = %q, want %q", got.ProxyKey, record.Key())
	}
	for _, layer := range got.Layers() {
		if layer == nil {
			t.Fatal("Layers() contains nil")
		}
	}
	if !got.Connectivity.Passed() {
		t.Fatalf("connectivity failed: %v", got.Connectivity.Errors())
	}
	if got.Geolocation.Country != "DE" {
		t.Errorf("Geolocation.Country = %q, want DE", got.Geolocation.Country)
	}
	if got.Anonymity.Level != model.AnonymityElite {
		t.Errorf("Anonymity.Level = %v, want elite; leaks: %v", got.Anonymity.Level, got.Anonymity.Leaks)
	}
	if got.OverallScore <= 0 || got.OverallScore > 100 {
		t.Errorf("OverallScore = %v, want in (0, 100]", got.OverallScore)
	}
	if got.Grade == model.GradeF {
		t.Errorf("Grade = F with a healthy relay (score %v)", got.OverallScore)
	}
	if got.Recommendation == "" {
		t.Error("Recommendation is empty")
	}
	if got.TestDuration <= 0 {
		t.Error("TestDuration not recorded")
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp not recorded")
	}
}

func TestComprehensiveValidateSkipsLayersWhenUnreachable(t *testing.T) {
	t.Parallel()

	srv := validationServer(false)
	defer srv.Close()

	v, record := comprehensiveFor(t, srv)
	got, err := v.Validate(context.Background(), record)
	if err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	if got.Connectivity.Passed() {
		t.Fatal("connectivity passed against a dead relay")
	}
	for _, layer := range got.Layers() {
		if layer == nil {
			t.Fatal("Layers() contains nil; skipped layers must be zero results")
		}
		if layer.Score() != 0 {
			t.Errorf("layer %q score = %v, want 0", layer.Layer(), layer.Score())
		}
	}
	if got.OverallScore != 0 {
		t.Errorf("OverallScore = %v, want 0", got.OverallScore)
	}
	if got.Grade != model.GradeF {
		t.Errorf("Grade = %v, want F", got.Grade)
	}
}

func TestComprehensiveValidateRejectsBadRecord(t *testing.T) {
	t.Parallel()

	v := NewComprehensive(config.NewConfig())
	if _, err := v.Validate(context.Background(), model.NewProxyRecord("", 0, model.ProtocolHTTP)); err == nil {
		t.Error("Validate() expected error for an invalid record")
	}
}
