package geoloc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/probe"
)

// proxyClientFor builds a probe client whose HTTP forward proxy is the
// given test server, so every service query lands on the test handler.
func proxyClientFor(t *testing.T, srv *httptest.Server) *probe.Client {
	t.Helper()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}

	client, err := probe.NewClient(model.NewProxyRecord(u.Hostname(), port, model.ProtocolHTTP))
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestIPAPIServiceLookup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"status": "success",
			"query": "203.0.113.10",
			"country": "Germany",
			"countryCode": "de",
			"regionName": "Berlin",
			"city": "Berlin",
			"lat": 52.52,
			"lon": 13.405,
			"isp": "Example Carrier"
		}`))
	}))
	defer srv.Close()

	svc := NewIPAPIService()
	svc.BaseURL = "http://ip-api.example.invalid/json"
	svc.MaxRetries = 1

	got, err := svc.Lookup(context.Background(), proxyClientFor(t, srv))
	if err != nil {
		t.Fatalf("Lookup() unexpected error: %v", err)
	}

	if got.Country != "DE" {
		t.Errorf("Country = %q, want DE (uppercased)", got.Country)
	}
	if got.City != "Berlin" {
		t.Errorf("City = %q, want Berlin", got.City)
	}
	if !got.HasCoordinates || got.Latitude != 52.52 {
		t.Errorf("coordinates = (%v, %v, has=%v), want (52.52, 13.405, true)", got.Latitude, got.Longitude, got.HasCoordinates)
	}
	if got.Source != "ip-api" {
		t.Errorf("Source = %q, want ip-api", got.Source)
	}
}

func TestIPAPIServiceLookupFailureStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "fail", "message": "private range"}`))
	}))
	defer srv.Close()

	svc := NewIPAPIService()
	svc.BaseURL = "http://ip-api.example.invalid/json"
	svc.MaxRetries = 1

	if _, err := svc.Lookup(context.Background(), proxyClientFor(t, srv)); err == nil {
		t.Error("Lookup() expected error for fail status")
	}
}

func TestIPInfoServiceLookup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"ip": "203.0.113.10",
			"country": "DE",
			"region": "Berlin",
			"city": "Berlin",
			"loc": "52.5200,13.4050",
			"org": "AS64496 Example Carrier"
		}`))
	}))
	defer srv.Close()

	svc := NewIPInfoService()
	svc.BaseURL = "http://ipinfo.example.invalid/json"
	svc.MaxRetries = 1

	got, err := svc.Lookup(context.Background(), proxyClientFor(t, srv))
	if err != nil {
		t.Fatalf("Lookup() unexpected error: %v", err)
	}

	if !got.HasCoordinates {
		t.Fatal("HasCoordinates = false, want loc string parsed")
	}
	if got.Latitude != 52.52 || got.Longitude != 13.405 {
		t.Errorf("coordinates = (%v, %v), want (52.52, 13.405)", got.Latitude, got.Longitude)
	}
}

func TestIPInfoServiceLookupMalformedLoc(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ip": "203.0.113.10", "country": "DE", "loc": "not-coordinates"}`))
	}))
	defer srv.Close()

	svc := NewIPInfoService()
	svc.BaseURL = "http://ipinfo.example.invalid/json"
	svc.MaxRetries = 1

	got, err := svc.Lookup(context.Background(), proxyClientFor(t, srv))
	if err != nil {
		t.Fatalf("Lookup() unexpected error: %v", err)
	}
	if got.HasCoordinates {
		t.Error("HasCoordinates = true, want false for malformed loc")
	}
	if got.Country != "DE" {
		t.Errorf("Country = %q, want DE despite malformed loc", got.Country)
	}
}

func TestIPWhoisServiceLookup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"success": true,
			"ip": "203.0.113.10",
			"country_code": "DE",
			"region": "Berlin",
			"city": "Berlin",
			"latitude": 52.52,
			"longitude": 13.405,
			"connection": {"isp": "Example Carrier"}
		}`))
	}))
	defer srv.Close()

	svc := NewIPWhoisService()
	svc.BaseURL = "http://ipwhois.example.invalid/"
	svc.MaxRetries = 1

	got, err := svc.Lookup(context.Background(), proxyClientFor(t, srv))
	if err != nil {
		t.Fatalf("Lookup() unexpected error: %v", err)
	}
	if got.ISP != "Example Carrier" {
		t.Errorf("ISP = %q, want Example Carrier", got.ISP)
	}
	if got.Confidence <= 0 || got.Confidence > 1 {
		t.Errorf("Confidence = %v, want in (0, 1]", got.Confidence)
	}
}

func TestEngineResolveTolerantOfFailures(t *testing.T) {
	t.Parallel()

	// One handler serves all three services: ip-api succeeds, the
	// others return server errors.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Host == "ip-api.example.invalid" {
			_, _ = w.Write([]byte(`{"status":"success","query":"203.0.113.10","countryCode":"DE","city":"Berlin","lat":52.52,"lon":13.405}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ipapi := NewIPAPIService()
	ipapi.BaseURL = "http://ip-api.example.invalid/json"
	ipapi.MaxRetries = 1

	ipinfo := NewIPInfoService()
	ipinfo.BaseURL = "http://ipinfo.example.invalid/json"
	ipinfo.MaxRetries = 1

	whois := NewIPWhoisService()
	whois.BaseURL = "http://ipwhois.example.invalid/"
	whois.MaxRetries = 1

	e := NewEngine(WithServices([]Service{ipapi, ipinfo, whois}))

	c, err := e.Resolve(context.Background(), proxyClientFor(t, srv))
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}

	if c.Queried != 3 {
		t.Errorf("Queried = %d, want 3", c.Queried)
	}
	if c.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", c.Succeeded)
	}
	if len(c.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2", len(c.Errors))
	}
	if c.Country != "DE" {
		t.Errorf("Country = %q, want DE from the single surviving answer", c.Country)
	}
}
