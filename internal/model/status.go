package model

import "fmt"

// Status represents the health state of a proxy record.
// The state machine is strict: a record starts as StatusUntested,
// becomes StatusValid or StatusTempInvalid/StatusInvalid after
// validation, and StatusInvalid is terminal (only age-based cleanup
// removes invalid records).
//
// Design decision: We use a string-typed enum rather than an int enum
// because the value is persisted in SQLite and exported in JSON/CSV;
// a readable string survives schema evolution and is self-describing
// in exported files.
type Status string

// Proxy status values.
const (
	// StatusUntested marks a record that has never been validated,
	// or a temp-invalid record that passed its cooldown and was
	// re-queued for retry.
	StatusUntested Status = "untested"

	// StatusValid marks a record whose last validation succeeded.
	StatusValid Status = "valid"

	// StatusTempInvalid marks a record whose last validation failed
	// but whose consecutive failure count is still below the
	// configured maximum. It becomes eligible for retry after the
	// cooldown period elapses.
	StatusTempInvalid Status = "temp_invalid"

	// StatusInvalid marks a record whose consecutive failure count
	// reached the configured maximum. This state is terminal.
	StatusInvalid Status = "invalid"
)

// AllStatuses lists every status value in a stable order.
// Used to iterate over persistence partitions and statistics buckets.
var AllStatuses = []Status{StatusUntested, StatusValid, StatusTempInvalid, StatusInvalid}

// ParseStatus converts a string into a Status.
// It returns an error for unknown values so that corrupted persisted
// state is detected at load time rather than propagating silently.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUntested, StatusValid, StatusTempInvalid, StatusInvalid:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown proxy status %q", s)
	}
}

// Valid reports whether the status is one of the defined values.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// String returns the string form of the status.
func (s Status) String() string {
	return string(s)
}

// CanTransitionTo reports whether moving from s to next is allowed by
// the state machine. Self-transitions are allowed (re-validating a
// valid record that stays valid is a no-op transition).
//
// Allowed transitions:
//
//	untested     -> valid | temp_invalid | invalid
//	valid        -> valid | temp_invalid | invalid
//	temp_invalid -> untested | invalid | temp_invalid
//	invalid      -> (terminal)
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusUntested:
		return next == StatusValid || next == StatusTempInvalid || next == StatusInvalid
	case StatusValid:
		return next == StatusTempInvalid || next == StatusInvalid
	case StatusTempInvalid:
		return next == StatusUntested || next == StatusInvalid
	case StatusInvalid:
		return false
	default:
		return false
	}
}
