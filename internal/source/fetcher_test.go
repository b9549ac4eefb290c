package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/model"
)

func serveBody(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := New(config.Source{Name: "bad", URL: "http://example.invalid", Format: "xml"})
	if err == nil {
		t.Error("New() expected error for unknown format")
	}
}

func TestTextListFetcher(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, "text/plain", `
# free proxies, updated hourly
203.0.113.9:8080
203.0.113.10:3128

socks5://203.0.113.11:1080
not-a-proxy-line
203.0.113.12:notaport
`)

	f, err := New(config.Source{
		Name: "test-text", URL: srv.URL, Protocol: "http", Format: "text",
	})
	if err != nil {
		t.Fatal(err)
	}

	records, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}

	if records[0].Key() != "203.0.113.9:8080:http" {
		t.Errorf("records[0].Key() = %q, want 203.0.113.9:8080:http", records[0].Key())
	}
	// The scheme prefix overrides the source-level protocol.
	if records[2].Protocol != model.ProtocolSOCKS5 {
		t.Errorf("records[2].Protocol = %v, want socks5", records[2].Protocol)
	}

	for i, r := range records {
		if r.Status != model.StatusUntested {
			t.Errorf("records[%d].Status = %v, want untested", i, r.Status)
		}
		if r.Source != "test-text" {
			t.Errorf("records[%d].Source = %q, want test-text", i, r.Source)
		}
		if r.FirstSeen.IsZero() {
			t.Errorf("records[%d].FirstSeen not set", i)
		}
	}
}

func TestJSONListFetcher(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, "application/json", `[
		{"ip": "203.0.113.9", "port": 8080, "protocol": "http", "country": "DE", "anonymity": "elite"},
		{"host": "203.0.113.10", "port": "1080", "protocol": "socks5"},
		{"ip": "203.0.113.11", "port": 3128},
		{"ip": "", "port": 8080, "protocol": "http"},
		{"ip": "203.0.113.13", "port": 99999, "protocol": "http"},
		{"ip": "203.0.113.14", "port": 8080, "protocol": "gopher"}
	]`)

	f, err := New(config.Source{
		Name: "test-json", URL: srv.URL, Protocol: "http", Format: "json",
	})
	if err != nil {
		t.Fatal(err)
	}

	records, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3 (blank ip, bad port, bad protocol skipped)", len(records))
	}

	if records[0].Country != "DE" || records[0].AnonymityClaim != "elite" {
		t.Errorf("records[0] country/anonymity = %q/%q, want DE/elite",
			records[0].Country, records[0].AnonymityClaim)
	}
	// String port and host alias are accepted.
	if records[1].Key() != "203.0.113.10:1080:socks5" {
		t.Errorf("records[1].Key() = %q, want 203.0.113.10:1080:socks5", records[1].Key())
	}
	// Missing protocol falls back to the source-level protocol.
	if records[2].Protocol != model.ProtocolHTTP {
		t.Errorf("records[2].Protocol = %v, want http", records[2].Protocol)
	}
}

func TestJSONListFetcherMalformedPayload(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, "application/json", `{"not": "an array"}`)

	f, err := New(config.Source{
		Name: "test-json", URL: srv.URL, Protocol: "http", Format: "json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Error("Fetch() expected error for malformed payload")
	}
}

func TestHTMLTableFetcher(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, "text/html", `<html><body>
<table>
  <thead>
    <tr><th>IP Address</th><th>Port</th><th>Country</th><th>Anonymity</th><th>Last Checked</th></tr>
  </thead>
  <tbody>
    <tr><td>203.0.113.9</td><td>8080</td><td>Germany</td><td>Elite</td><td>1 min ago</td></tr>
    <tr><td>203.0.113.10</td><td>3128</td><td>France</td><td>Transparent</td><td>2 min ago</td></tr>
    <tr><td>203.0.113.11</td><td>bogus</td><td>Spain</td><td>Elite</td><td>3 min ago</td></tr>
  </tbody>
</table>
</body></html>`)

	f, err := New(config.Source{
		Name: "test-html", URL: srv.URL, Protocol: "http", Format: "html",
	})
	if err != nil {
		t.Fatal(err)
	}

	records, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2 (bogus port row skipped)", len(records))
	}

	if records[0].Key() != "203.0.113.9:8080:http" {
		t.Errorf("records[0].Key() = %q, want 203.0.113.9:8080:http", records[0].Key())
	}
	if records[0].Country != "Germany" {
		t.Errorf("records[0].Country = %q, want Germany", records[0].Country)
	}
	if records[0].AnonymityClaim != "elite" {
		t.Errorf("records[0].AnonymityClaim = %q, want elite", records[0].AnonymityClaim)
	}
}

func TestHTMLTableFetcherNoProxyTable(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, "text/html", `<html><body>
<table><tr><th>Name</th><th>Price</th></tr><tr><td>widget</td><td>9.99</td></tr></table>
</body></html>`)

	f, err := New(config.Source{
		Name: "test-html", URL: srv.URL, Protocol: "http", Format: "html",
	})
	if err != nil {
		t.Fatal(err)
	}

	records, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
}

func TestFetcherOriginErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	f, err := New(config.Source{
		Name: "blocked", URL: srv.URL, Protocol: "http", Format: "text",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Error("Fetch() expected error for non-200 origin")
	}
}
