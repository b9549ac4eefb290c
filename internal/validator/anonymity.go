package validator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/probe"
)

// DefaultHeaderEchoURL reflects the request headers the relay forwarded.
const DefaultHeaderEchoURL = "https://httpbin.org/headers"

// leakHeaders are the forwarded-for style headers a relay may inject.
// X-Forwarded-For and X-Real-IP leak the caller's address directly;
// Via and X-Proxy-ID disclose that a relay is in the path.
var leakHeaders = []string{"X-Forwarded-For", "X-Real-Ip", "Via", "X-Proxy-Id"}

// commonHeaderValues are widely seen request header values. A relay
// whose forwarded headers hash to one of these blends into normal
// traffic; unusual values make requests fingerprintable.
var commonHeaderValues = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0",
	"*/*",
	"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"gzip, deflate, br",
	"gzip, deflate",
	"en-US,en;q=0.9",
	"en-US,en;q=0.5",
}

// AnonymityValidator detects how much caller information a relay leaks.
// It compares the caller's real public IP against what IP-echo services
// see through the relay, inspects the headers the relay forwards, and
// classifies the relay into an anonymity level from the distinct leak
// signals found.
type AnonymityValidator struct {
	// EchoEndpoints are the IP-echo services queried through the relay;
	// overridable for tests. At least three independent endpoints keep
	// one broken service from deciding the verdict.
	EchoEndpoints []string

	// RealIPEndpoints are queried directly (no relay) to learn the
	// caller's real public IP; overridable for tests.
	RealIPEndpoints []string

	// HeaderEchoURL reflects forwarded request headers; overridable for
	// tests.
	HeaderEchoURL string

	// timeout bounds the direct real-IP lookup.
	timeout time.Duration

	// userAgent is the value the probe client sends, used as the
	// expected echo for the header comparison.
	userAgent string
}

// NewAnonymityValidator creates an anonymity layer from the configured
// echo endpoints.
func NewAnonymityValidator(cfg *config.Config) *AnonymityValidator {
	return &AnonymityValidator{
		EchoEndpoints:   cfg.IPEchoEndpoints,
		RealIPEndpoints: cfg.IPEchoEndpoints,
		HeaderEchoURL:   DefaultHeaderEchoURL,
		timeout:         cfg.ValidationTimeout,
		userAgent:       cfg.UserAgent,
	}
}

// Name returns the layer name.
func (v *AnonymityValidator) Name() string { return "anonymity" }

// Run implements Layer.
func (v *AnonymityValidator) Run(ctx context.Context, client *probe.Client) model.ValidationResult {
	return v.Validate(ctx, client)
}

// Validate runs the leak checks and classifies the relay.
// Each distinct signal counts once: an IP echoed by three services is
// one leak, not three.
func (v *AnonymityValidator) Validate(ctx context.Context, client *probe.Client) *model.AnonymityResult {
	start := time.Now()
	result := &model.AnonymityResult{
		LayerOutcome: model.LayerOutcome{LayerName: v.Name()},
	}
	result.DetailMap = map[string]any{}

	realIP, err := v.lookupRealIP(ctx)
	if err != nil {
		// Without the real IP no comparison is possible; the layer
		// reports failure instead of guessing.
		result.ErrorList = append(result.ErrorList, "real ip lookup: "+err.Error())
		result.Elapsed = time.Since(start)
		return result
	}

	var leaks []string
	if leaked, errs := v.checkIPEcho(ctx, client, realIP); leaked {
		leaks = append(leaks, "ip_echo")
		result.ErrorList = append(result.ErrorList, errs...)
	} else {
		result.ErrorList = append(result.ErrorList, errs...)
	}

	headerLeaks, heuristics, errs := v.checkHeaders(ctx, client, realIP, result.DetailMap)
	leaks = append(leaks, headerLeaks...)
	leaks = append(leaks, heuristics...)
	result.ErrorList = append(result.ErrorList, errs...)

	// SOCKS4 carries destination addresses as IPs, so the hostname is
	// resolved by the caller's own resolver and the lookup is visible
	// outside the tunnel. HTTP proxies and SOCKS5 resolve remotely.
	// This is inferred from the protocol, not measured against the
	// relay's resolver, so it counts as a low-confidence signal like
	// the WebRTC and locale checks.
	if client.Record().Protocol == model.ProtocolSOCKS4 {
		leaks = append(leaks, "dns_heuristic")
	}
	result.DetailMap["dns_heuristic"] = true
	result.DetailMap["dns_remote_resolution"] = client.Record().Protocol != model.ProtocolSOCKS4

	result.Leaks = leaks
	result.LeakCount = len(leaks)
	result.Level = model.ClassifyAnonymity(result.LeakCount)
	result.PassedVal = result.Level == model.AnonymityElite || result.Level == model.AnonymityAnonymous
	result.ScoreVal = v.score(result.Level, result.LeakCount)
	result.Elapsed = time.Since(start)
	return result
}

// lookupRealIP queries the direct endpoints in order until one answers.
func (v *AnonymityValidator) lookupRealIP(ctx context.Context) (string, error) {
	var lastErr error
	for _, endpoint := range v.RealIPEndpoints {
		ip, err := probe.RealIP(ctx, endpoint, v.timeout)
		if err == nil {
			return ip, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no real-ip endpoints configured")
	}
	return "", lastErr
}

// checkIPEcho queries every echo endpoint through the relay in parallel
// and reports whether any response exposed the real IP. Endpoint
// failures are returned as errors but tolerated; the check needs only
// the endpoints that answered.
func (v *AnonymityValidator) checkIPEcho(ctx context.Context, client *probe.Client, realIP string) (bool, []string) {
	var mu sync.Mutex
	var errs []string
	leaked := false

	g, gctx := errgroup.WithContext(ctx)
	for _, endpoint := range v.EchoEndpoints {
		g.Go(func() error {
			res, err := client.Get(gctx, endpoint)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("echo %s: %v", endpoint, err))
				return nil
			}
			if strings.Contains(string(res.Body), realIP) {
				leaked = true
			}
			return nil
		})
	}
	_ = g.Wait()
	return leaked, errs
}

// checkHeaders fetches the header-echo endpoint through the relay and
// inspects what arrived on the far side. It returns definite header
// leaks, low-confidence heuristic signals, and probe errors.
func (v *AnonymityValidator) checkHeaders(ctx context.Context, client *probe.Client, realIP string, details map[string]any) (leaks, heuristics, errs []string) {
	res, err := client.Get(ctx, v.HeaderEchoURL)
	if err != nil {
		return nil, nil, []string{"header echo: " + err.Error()}
	}

	var payload struct {
		Headers map[string]string `json:"headers"`
	}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return nil, nil, []string{"header echo: " + err.Error()}
	}

	echoed := make(map[string]string, len(payload.Headers))
	for name, value := range payload.Headers {
		echoed[strings.ToLower(name)] = value
	}

	for _, name := range leakHeaders {
		value, ok := echoed[strings.ToLower(name)]
		if !ok {
			continue
		}
		switch strings.ToLower(name) {
		case "x-forwarded-for", "x-real-ip":
			if strings.Contains(value, realIP) {
				leaks = append(leaks, "header:"+name)
			}
		default:
			// Via and X-Proxy-ID disclose the relay even without the
			// caller's address.
			leaks = append(leaks, "header:"+name)
		}
	}

	// Heuristic checks. A header scan cannot observe real WebRTC or
	// browser timezone behavior, so these are low-confidence signals.
	details["heuristic"] = true
	known := map[string]bool{}
	for _, name := range leakHeaders {
		known[strings.ToLower(name)] = true
	}
	for name, value := range echoed {
		if known[name] {
			continue
		}
		if strings.Contains(value, realIP) {
			heuristics = append(heuristics, "webrtc_heuristic")
			break
		}
	}
	if lang, ok := echoed["accept-language"]; ok && lang != "" && !strings.HasPrefix(lang, "en") {
		// The probe sends no Accept-Language; a value in the echo was
		// injected by the relay and narrows down its locale.
		heuristics = append(heuristics, "locale_heuristic")
	}

	details["fingerprint"] = v.fingerprint(echoed)
	return leaks, heuristics, nil
}

// fingerprint hashes the identifying request headers the relay forwarded
// and scores how common each value is. This is reporting detail only;
// it does not count as a leak.
func (v *AnonymityValidator) fingerprint(echoed map[string]string) map[string]any {
	common := make(map[string]bool, len(commonHeaderValues))
	for _, value := range commonHeaderValues {
		sum := sha3.Sum256([]byte(value))
		common[string(sum[:])] = true
	}

	fields := []string{"user-agent", "accept", "accept-encoding", "accept-language"}
	hashes := make(map[string]string, len(fields))
	matches := 0
	present := 0
	for _, field := range fields {
		value, ok := echoed[field]
		if !ok {
			continue
		}
		present++
		sum := sha3.Sum256([]byte(value))
		hashes[field] = hex.EncodeToString(sum[:8])
		if common[string(sum[:])] {
			matches++
		}
	}

	commonality := 0.0
	if present > 0 {
		commonality = float64(matches) / float64(present)
	}
	return map[string]any{
		"hashes":      hashes,
		"commonality": commonality,
	}
}

// score maps the anonymity level and leak count to the layer score.
func (v *AnonymityValidator) score(level model.AnonymityLevel, leakCount int) float64 {
	var base float64
	switch level {
	case model.AnonymityElite:
		base = 100
	case model.AnonymityAnonymous:
		base = 80
	case model.AnonymityDistorting:
		base = 60
	default:
		base = 40
	}

	switch {
	case leakCount == 1:
		base -= 10
	case leakCount >= 2:
		base -= 15 * float64(leakCount)
	}
	return clampScore(base)
}
