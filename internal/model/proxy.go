package model

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Protocol identifies how a request is tunneled through a proxy.
type Protocol string

// Supported proxy protocols.
const (
	// ProtocolHTTP is a plain HTTP forward proxy (CONNECT for HTTPS).
	ProtocolHTTP Protocol = "http"

	// ProtocolSOCKS4 is the legacy SOCKS4 protocol (no auth, IPv4 only).
	ProtocolSOCKS4 Protocol = "socks4"

	// ProtocolSOCKS5 is the SOCKS5 protocol (RFC 1928).
	ProtocolSOCKS5 Protocol = "socks5"
)

// AllProtocols lists every supported protocol in a stable order.
var AllProtocols = []Protocol{ProtocolHTTP, ProtocolSOCKS4, ProtocolSOCKS5}

// ParseProtocol converts a string into a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case ProtocolHTTP, ProtocolSOCKS4, ProtocolSOCKS5:
		return Protocol(s), nil
	default:
		return "", fmt.Errorf("unknown proxy protocol %q", s)
	}
}

// String returns the string form of the protocol.
func (p Protocol) String() string {
	return string(p)
}

// ProxyRecord is one relay candidate tracked by the registry.
//
// Design decision: We use a single struct for all statuses rather than
// status-specific types because records move between statuses constantly;
// the Status field plus the state machine in status.go keeps the
// transitions explicit while persistence stays uniform.
type ProxyRecord struct {
	// IP is the proxy host address (IPv4 or IPv6 literal, or hostname).
	IP string `json:"ip"`

	// Port is the proxy TCP port (1-65535).
	Port int `json:"port"`

	// Protocol is how requests are tunneled through this proxy.
	Protocol Protocol `json:"protocol"`

	// Country is the source-reported country code. Untrusted until
	// confirmed by the geolocation consensus layer.
	Country string `json:"country,omitempty"`

	// AnonymityClaim is the anonymity level reported by the fetch
	// source (e.g. "elite", "anonymous"). Untrusted; the anonymity
	// validation layer produces the authoritative classification.
	AnonymityClaim string `json:"anonymity,omitempty"`

	// Status is the current health state. See the state machine
	// documented on the Status type.
	Status Status `json:"status"`

	// ResponseTime is the last measured connectivity latency in seconds.
	ResponseTime float64 `json:"response_time"`

	// FailCount is the number of consecutive failed validations.
	// Reset to zero on any successful validation.
	FailCount int `json:"fail_count"`

	// FirstSeen is when this record first entered the registry.
	FirstSeen time.Time `json:"first_seen,omitempty"`

	// LastTested is when this record was last validated (success or failure).
	LastTested time.Time `json:"last_tested,omitempty"`

	// LastSuccess is when this record last passed validation.
	LastSuccess time.Time `json:"last_success,omitempty"`

	// Source names the fetch origin that produced this record.
	Source string `json:"source,omitempty"`
}

// NewProxyRecord creates an untested record for the given endpoint.
func NewProxyRecord(ip string, port int, protocol Protocol) *ProxyRecord {
	return &ProxyRecord{
		IP:       ip,
		Port:     port,
		Protocol: protocol,
		Status:   StatusUntested,
	}
}

// Key returns the identity key used for de-duplication across sources.
// Two records with the same key are the same proxy regardless of which
// source reported them.
func (r *ProxyRecord) Key() string {
	return fmt.Sprintf("%s:%d:%s", r.IP, r.Port, r.Protocol)
}

// Addr returns the host:port address of the proxy.
func (r *ProxyRecord) Addr() string {
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}

// URL returns the proxy endpoint as a URL (e.g. "socks5://1.2.3.4:1080").
func (r *ProxyRecord) URL() string {
	return fmt.Sprintf("%s://%s", r.Protocol, r.Addr())
}

// Validate checks that the record describes a usable endpoint.
func (r *ProxyRecord) Validate() error {
	if r.IP == "" {
		return fmt.Errorf("proxy record has empty host")
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("proxy record has invalid port %d", r.Port)
	}
	if _, err := ParseProtocol(string(r.Protocol)); err != nil {
		return err
	}
	return nil
}

// MarkSuccess applies a successful validation outcome: the record
// becomes valid, the consecutive failure count resets, and the
// measured response time is stored.
func (r *ProxyRecord) MarkSuccess(responseTime float64, now time.Time) error {
	if !r.Status.CanTransitionTo(StatusValid) {
		return fmt.Errorf("invalid status transition %s -> %s for %s", r.Status, StatusValid, r.Key())
	}
	r.Status = StatusValid
	r.FailCount = 0
	r.ResponseTime = responseTime
	r.LastTested = now
	r.LastSuccess = now
	return nil
}

// MarkFailure applies a failed validation outcome: the consecutive
// failure count increases and the record becomes temp-invalid, or
// invalid once the count reaches maxFailCount.
func (r *ProxyRecord) MarkFailure(now time.Time, maxFailCount int) error {
	next := StatusTempInvalid
	if r.FailCount+1 >= maxFailCount {
		next = StatusInvalid
	}
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid status transition %s -> %s for %s", r.Status, next, r.Key())
	}
	r.FailCount++
	r.Status = next
	r.LastTested = now
	return nil
}

// MarkRetry re-queues a temp-invalid record for validation after its
// cooldown elapsed. It is an error to retry a record in any other status.
func (r *ProxyRecord) MarkRetry() error {
	if r.Status != StatusTempInvalid {
		return fmt.Errorf("cannot retry %s record %s", r.Status, r.Key())
	}
	r.Status = StatusUntested
	return nil
}

// RetryEligible reports whether a temp-invalid record has passed its
// cooldown and may be re-queued for validation.
func (r *ProxyRecord) RetryEligible(now time.Time, cooldown time.Duration) bool {
	if r.Status != StatusTempInvalid {
		return false
	}
	if r.LastTested.IsZero() {
		return true
	}
	return now.Sub(r.LastTested) >= cooldown
}
