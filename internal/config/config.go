package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// These values mirror typical free-proxy churn characteristics: pools
// turn over quickly, individual relays are slow, and third-party
// endpoints rate-limit aggressive probing.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "proxyscan"

	// DefaultMaxProxiesPerFetch caps how many candidate records one
	// fetch pass may ingest. Public lists publish tens of thousands of
	// mostly-dead entries; validating more than ~1000 per cycle wastes
	// probe budget on duplicates of known-bad relays.
	DefaultMaxProxiesPerFetch = 1000

	// DefaultValidationTimeout is the per-probe timeout. Free relays
	// routinely take 5-10 seconds to answer; 15 seconds keeps slow but
	// working relays while still bounding a stuck probe.
	DefaultValidationTimeout = 15 * time.Second

	// DefaultMaxConcurrentValidations bounds in-flight probes during a
	// batch validation pass. Unbounded fan-out against third-party
	// endpoints is a correctness bug, not just a performance concern.
	DefaultMaxConcurrentValidations = 50

	// DefaultMaxFailCount is the consecutive-failure threshold at which
	// a record becomes permanently invalid. Three strikes tolerates
	// transient network noise without keeping dead relays alive.
	DefaultMaxFailCount = 3

	// DefaultTempInvalidRetry is the cooldown before a temp-invalid
	// record becomes eligible for revalidation. Free relays often
	// recover within hours as their operators cycle them.
	DefaultTempInvalidRetry = 6 * time.Hour

	// DefaultValidationBatchSize is how many records one scheduled
	// validation pass processes.
	DefaultValidationBatchSize = 100

	// DefaultCleanupMaxAgeDays is the age bound for cleanup: records
	// not tested for this many days are removed from every partition.
	DefaultCleanupMaxAgeDays = 30

	// Scheduler intervals. Fetching more often than validation can keep
	// up just grows the untested backlog, so fetch runs at half the
	// validation frequency.
	DefaultFetchInterval    = 6 * time.Hour
	DefaultValidateInterval = 3 * time.Hour
	DefaultCleanupInterval  = 24 * time.Hour
	DefaultReportInterval   = 12 * time.Hour

	// DefaultMinValidProxies is the valid-pool size below which a
	// low-pool notification fires after a validation pass.
	DefaultMinValidProxies = 50

	// DefaultMaxRetries is the per-probe retry budget with linear backoff.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the base delay between probe retries.
	// Attempt n waits n * DefaultRetryDelay.
	DefaultRetryDelay = time.Second

	// DefaultRotationInterval is the request count after which the
	// rotator switches relays even if the current one is healthy.
	DefaultRotationInterval = 5

	// DefaultRotationCooldown is the maximum time the rotator keeps one
	// relay before switching regardless of request count.
	DefaultRotationCooldown = 5 * time.Minute

	// DefaultMaxConsecutiveFailures is the failure streak at which the
	// rotator abandons the current relay and marks it invalid.
	DefaultMaxConsecutiveFailures = 3

	// DefaultRotationFreshScore is the selection score granted to a
	// relay that has never served a request. 70 ranks fresh relays
	// above mediocre seasoned ones but below a reliably succeeding one.
	// Tune down to prefer proven relays.
	DefaultRotationFreshScore = 70.0

	// DefaultUserAgent identifies proxyscan in probe requests.
	DefaultUserAgent = "proxyscan/1.0 (+https://github.com/nao1215/proxyscan)"

	// DefaultHTTPProbeURL is the plain-HTTP connectivity target; it
	// must answer 200 with the caller's apparent IP in the body.
	DefaultHTTPProbeURL = "http://httpbin.org/ip"

	// DefaultHTTPSProbeURL is the HTTPS connectivity target; a
	// generate_204-style endpoint that answers 204 with an empty body.
	DefaultHTTPSProbeURL = "https://www.google.com/generate_204"

	// DefaultPerformanceURL is the download target template for the
	// performance layer. The %d is replaced with the payload size in
	// bytes.
	DefaultPerformanceURL = "https://httpbin.org/bytes/%d"

	// Reliability sub-test tuning. The stability window is kept short
	// enough that a full five-layer validation of one relay stays
	// under two minutes.
	DefaultStabilityDuration = 60 * time.Second
	DefaultStabilityInterval = 5 * time.Second
	DefaultRecoveryAttempts  = 5
	DefaultRecoveryInterval  = 5 * time.Second
	DefaultPingCount         = 20
)

// DefaultIPEchoEndpoints are the "what is my IP" services the anonymity
// layer queries through the relay. At least three independent endpoints
// are needed so one lying or broken service cannot decide the verdict.
func DefaultIPEchoEndpoints() []string {
	return []string{
		"https://api.ipify.org?format=json",
		"https://api.ip.sb/jsonip",
		"https://httpbin.org/ip",
	}
}

// Source is one configured fetch origin for candidate proxies.
type Source struct {
	// Name identifies the source in logs, lifecycle events, and
	// record provenance.
	Name string `yaml:"name"`

	// URL is the endpoint serving the proxy list.
	URL string `yaml:"url"`

	// Protocol is the proxy protocol the source lists (http, socks4,
	// socks5). Required for formats that do not carry the protocol
	// per entry.
	Protocol string `yaml:"protocol"`

	// Format is the payload format: "text" (one ip:port per line),
	// "json" (array of records), or "html" (table-based listing page).
	Format string `yaml:"format"`
}

// DefaultSources returns the built-in fetch origins: the proxifly
// public lists, one per protocol.
func DefaultSources() []Source {
	const base = "https://cdn.jsdelivr.net/gh/proxifly/free-proxy-list@main/proxies/protocols"
	return []Source{
		{Name: "proxifly-http", URL: base + "/http/data.txt", Protocol: "http", Format: "text"},
		{Name: "proxifly-socks4", URL: base + "/socks4/data.txt", Protocol: "socks4", Format: "text"},
		{Name: "proxifly-socks5", URL: base + "/socks5/data.txt", Protocol: "socks5", Format: "text"},
	}
}

// Config holds all configuration options for proxyscan.
// It is populated from defaults, then the optional YAML config file,
// then CLI flags, and passed through the application by dependency
// injection rather than global state.
//
// Design decision: We use a single flat struct instead of nested
// sub-configs per component. The option count is manageable, every
// component receives the same struct, and flat fields keep the YAML
// file and CLI flag mapping obvious.
type Config struct {
	// Verbose enables debug-level log output.
	Verbose bool

	// DataDir is the directory for the SQLite database and exported
	// report snapshots. Defaults to the XDG data directory.
	DataDir string

	// ConfigFilePath is the path to the YAML configuration file.
	// If empty, .proxyscan.yml is searched in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// MaxProxiesPerFetch caps how many records one fetch pass ingests
	// across all sources combined.
	MaxProxiesPerFetch int

	// ValidationTimeout is the timeout applied to each individual
	// network probe. There is deliberately no whole-batch timeout: one
	// stuck relay must not abort the others.
	ValidationTimeout time.Duration

	// MaxConcurrentValidations bounds simultaneous in-flight record
	// validations during a batch pass.
	MaxConcurrentValidations int

	// MaxFailCount is the consecutive-failure threshold for the
	// invalid (terminal) status.
	MaxFailCount int

	// TempInvalidRetry is the cooldown before temp-invalid records are
	// eligible for revalidation.
	TempInvalidRetry time.Duration

	// RetryInvalidProxies enables the temp-invalid retry pass that
	// runs before each scheduled validation.
	RetryInvalidProxies bool

	// ValidationBatchSize is how many records one scheduled validation
	// pass processes.
	ValidationBatchSize int

	// CleanupMaxAgeDays is the age bound for cleanup; records whose
	// last test is older are removed.
	CleanupMaxAgeDays int

	// Scheduler job intervals.
	FetchInterval    time.Duration
	ValidateInterval time.Duration
	CleanupInterval  time.Duration
	ReportInterval   time.Duration

	// NotifyOnLowValid fires a notification when the valid pool drops
	// below MinValidProxies after a validation pass.
	NotifyOnLowValid bool

	// MinValidProxies is the low-pool notification threshold.
	MinValidProxies int

	// NotifyOnErrors fires a notification when a scheduled job fails.
	NotifyOnErrors bool

	// MaxRetries is the per-probe retry budget.
	MaxRetries int

	// RetryDelay is the base delay for linear probe retry backoff.
	RetryDelay time.Duration

	// RotationInterval is the request count per relay before rotation.
	RotationInterval int

	// RotationCooldown is the elapsed-time bound before rotation.
	RotationCooldown time.Duration

	// MaxConsecutiveFailures is the rotator's failure-streak bound.
	MaxConsecutiveFailures int

	// RotationFreshScore is the selection score for never-used relays.
	RotationFreshScore float64

	// UserAgent is sent with every probe request.
	UserAgent string

	// HTTPProbeURL and HTTPSProbeURL are the connectivity targets.
	HTTPProbeURL  string
	HTTPSProbeURL string

	// PerformanceURL is the download target template for the
	// performance layer ("%d" is the payload size in bytes).
	PerformanceURL string

	// IPEchoEndpoints are the anonymity layer's IP-echo services.
	IPEchoEndpoints []string

	// Sources are the configured fetch origins.
	Sources []Source

	// Reliability sub-test tuning.
	StabilityDuration time.Duration
	StabilityInterval time.Duration
	RecoveryAttempts  int
	RecoveryInterval  time.Duration
	PingCount         int
}

// NewConfig creates a new Config with default values.
// All fields are set to safe defaults that work without a config file.
//
// Design decision: We use a constructor instead of relying on zero
// values because almost every default is non-zero. The constructor
// also documents in one place what the defaults are.
func NewConfig() *Config {
	return &Config{
		DataDir:                  XDGDataDir(),
		MaxProxiesPerFetch:       DefaultMaxProxiesPerFetch,
		ValidationTimeout:        DefaultValidationTimeout,
		MaxConcurrentValidations: DefaultMaxConcurrentValidations,
		MaxFailCount:             DefaultMaxFailCount,
		TempInvalidRetry:         DefaultTempInvalidRetry,
		RetryInvalidProxies:      true,
		ValidationBatchSize:      DefaultValidationBatchSize,
		CleanupMaxAgeDays:        DefaultCleanupMaxAgeDays,
		FetchInterval:            DefaultFetchInterval,
		ValidateInterval:         DefaultValidateInterval,
		CleanupInterval:          DefaultCleanupInterval,
		ReportInterval:           DefaultReportInterval,
		NotifyOnLowValid:         true,
		MinValidProxies:          DefaultMinValidProxies,
		NotifyOnErrors:           true,
		MaxRetries:               DefaultMaxRetries,
		RetryDelay:               DefaultRetryDelay,
		RotationInterval:         DefaultRotationInterval,
		RotationCooldown:         DefaultRotationCooldown,
		MaxConsecutiveFailures:   DefaultMaxConsecutiveFailures,
		RotationFreshScore:       DefaultRotationFreshScore,
		UserAgent:                DefaultUserAgent,
		HTTPProbeURL:             DefaultHTTPProbeURL,
		HTTPSProbeURL:            DefaultHTTPSProbeURL,
		PerformanceURL:           DefaultPerformanceURL,
		IPEchoEndpoints:          DefaultIPEchoEndpoints(),
		Sources:                  DefaultSources(),
		StabilityDuration:        DefaultStabilityDuration,
		StabilityInterval:        DefaultStabilityInterval,
		RecoveryAttempts:         DefaultRecoveryAttempts,
		RecoveryInterval:         DefaultRecoveryInterval,
		PingCount:                DefaultPingCount,
	}
}

// XDGDataDir returns the XDG data directory for proxyscan.
// On Linux: ~/.local/share/proxyscan
// On macOS: ~/Library/Application Support/proxyscan
// On Windows: %LOCALAPPDATA%\proxyscan
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for proxyscan.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns a specific sentinel error describing what is invalid.
//
// Design decision: Validation happens once after flag and file
// parsing, before any component is constructed, so every component can
// assume a well-formed Config. We return the first error found rather
// than collecting all errors because fixing one often makes others
// irrelevant.
func (c *Config) Validate() error {
	if c.MaxProxiesPerFetch <= 0 {
		return ErrInvalidMaxProxies
	}
	if c.ValidationTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxConcurrentValidations <= 0 {
		return ErrInvalidConcurrency
	}
	if c.MaxFailCount <= 0 {
		return ErrInvalidMaxFailCount
	}
	if c.TempInvalidRetry < 0 {
		return ErrInvalidRetryCooldown
	}
	if c.ValidationBatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.CleanupMaxAgeDays <= 0 {
		return ErrInvalidCleanupAge
	}
	if c.FetchInterval <= 0 || c.ValidateInterval <= 0 || c.CleanupInterval <= 0 || c.ReportInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.MinValidProxies < 0 {
		return ErrInvalidThreshold
	}
	if c.MaxRetries <= 0 {
		return ErrInvalidMaxRetries
	}
	if c.RotationInterval <= 0 {
		return ErrInvalidRotationInterval
	}
	if c.MaxConsecutiveFailures <= 0 {
		return ErrInvalidMaxFailCount
	}
	if len(c.Sources) == 0 {
		return ErrNoSources
	}
	for _, s := range c.Sources {
		if err := s.validate(); err != nil {
			return err
		}
	}
	return nil
}

// validate checks a single source definition.
func (s Source) validate() error {
	if s.Name == "" || s.URL == "" {
		return ErrInvalidSource
	}
	switch s.Format {
	case "text", "json", "html":
	default:
		return ErrInvalidSourceFormat
	}
	switch s.Protocol {
	case "http", "socks4", "socks5":
		return nil
	case "":
		// JSON sources may carry the protocol per entry.
		if s.Format == "json" {
			return nil
		}
		return ErrInvalidSourceProtocol
	default:
		return ErrInvalidSourceProtocol
	}
}
