package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies a failed probe for failure statistics and
// lifecycle event details. All kinds are transient from the process's
// point of view: a classified probe failure increments the record's
// failure count but is never propagated as a process-level error.
type ErrorKind string

// Probe error kinds.
const (
	// ErrorTimeout covers deadline and context-cancellation failures.
	ErrorTimeout ErrorKind = "timeout"

	// ErrorRefused covers connection-refused and connection-reset failures.
	ErrorRefused ErrorKind = "refused"

	// ErrorDNS covers name-resolution failures.
	ErrorDNS ErrorKind = "dns"

	// ErrorBadStatus covers responses with an unexpected HTTP status.
	ErrorBadStatus ErrorKind = "bad_status"

	// ErrorOther covers everything else (protocol errors, truncated
	// bodies, malformed SOCKS handshakes).
	ErrorOther ErrorKind = "other"
)

// ClassifyError maps a probe error to its kind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorOther
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ErrorRefused
	}

	var statusErr *UnexpectedStatusError
	if errors.As(err, &statusErr) {
		return ErrorBadStatus
	}

	// SOCKS dialers wrap refused connections without preserving the
	// syscall error, so fall back to string matching.
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return ErrorRefused
	}

	return ErrorOther
}

// UnexpectedStatusError reports a probe response whose HTTP status did
// not match the expected success status.
type UnexpectedStatusError struct {
	// Got is the received HTTP status code.
	Got int

	// Want is the expected HTTP status code.
	Want int
}

// Error implements the error interface.
func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (want %d)", e.Got, e.Want)
}
