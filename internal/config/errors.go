package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrInvalidMaxProxies is returned when the per-fetch proxy cap is
	// not positive. A cap of zero would make every fetch pass a no-op.
	ErrInvalidMaxProxies = errors.New("invalid max proxies per fetch: must be positive")

	// ErrInvalidTimeout is returned when the validation timeout is not
	// positive. A zero timeout would fail every probe immediately.
	ErrInvalidTimeout = errors.New("invalid validation timeout: must be positive")

	// ErrInvalidConcurrency is returned when the concurrent validation
	// bound is not positive. The bound is mandatory; zero would either
	// mean no validation or unbounded fan-out depending on interpretation,
	// both wrong.
	ErrInvalidConcurrency = errors.New("invalid max concurrent validations: must be positive")

	// ErrInvalidMaxFailCount is returned when the consecutive-failure
	// threshold is not positive. A threshold of zero would invalidate
	// every record on its first failure with no temp-invalid stage.
	ErrInvalidMaxFailCount = errors.New("invalid max fail count: must be positive")

	// ErrInvalidRetryCooldown is returned when the temp-invalid retry
	// cooldown is negative. Use 0 to make records immediately eligible.
	ErrInvalidRetryCooldown = errors.New("invalid temp-invalid retry cooldown: must be non-negative")

	// ErrInvalidBatchSize is returned when the validation batch size is
	// not positive.
	ErrInvalidBatchSize = errors.New("invalid validation batch size: must be positive")

	// ErrInvalidCleanupAge is returned when the cleanup age bound is not
	// positive. Cleanup with a zero age bound would remove every record.
	ErrInvalidCleanupAge = errors.New("invalid cleanup max age: must be positive")

	// ErrInvalidInterval is returned when any scheduler interval is not
	// positive.
	ErrInvalidInterval = errors.New("invalid scheduler interval: must be positive")

	// ErrInvalidThreshold is returned when the low-pool notification
	// threshold is negative.
	ErrInvalidThreshold = errors.New("invalid min valid proxies threshold: must be non-negative")

	// ErrInvalidMaxRetries is returned when the probe retry budget is
	// not positive.
	ErrInvalidMaxRetries = errors.New("invalid max retries: must be positive")

	// ErrInvalidRotationInterval is returned when the rotation request
	// count is not positive.
	ErrInvalidRotationInterval = errors.New("invalid rotation interval: must be positive")

	// ErrNoSources is returned when no proxy source is configured.
	// With zero sources a fetch pass can never produce records.
	ErrNoSources = errors.New("no proxy sources configured")

	// ErrInvalidSource is returned when a source is missing its name or URL.
	ErrInvalidSource = errors.New("invalid proxy source: name and url are required")

	// ErrInvalidSourceFormat is returned for an unknown source payload
	// format. Supported formats: text, json, html.
	ErrInvalidSourceFormat = errors.New("invalid proxy source format: must be text, json, or html")

	// ErrInvalidSourceProtocol is returned for an unknown source protocol.
	// Supported protocols: http, socks4, socks5.
	ErrInvalidSourceProtocol = errors.New("invalid proxy source protocol: must be http, socks4, or socks5")
)
