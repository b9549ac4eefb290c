package model

import "time"

// EventKind identifies a lifecycle event type.
type EventKind string

// Lifecycle event kinds.
const (
	// EventFetched is logged when a record enters the registry from a source.
	EventFetched EventKind = "fetched"

	// EventValidated is logged for every completed validation of a record,
	// regardless of outcome.
	EventValidated EventKind = "validated"

	// EventBecameValid is logged when a record transitions into StatusValid.
	EventBecameValid EventKind = "became_valid"

	// EventBecameTempInvalid is logged when a record transitions into
	// StatusTempInvalid.
	EventBecameTempInvalid EventKind = "became_temp_invalid"

	// EventBecameInvalid is logged when a record transitions into
	// StatusInvalid.
	EventBecameInvalid EventKind = "became_invalid"

	// EventRetried is logged when a temp-invalid record passes its
	// cooldown and is re-queued as untested.
	EventRetried EventKind = "retried"

	// EventCleanedUp is logged when age-based cleanup removes a record.
	EventCleanedUp EventKind = "cleaned_up"
)

// LifecycleEvent is one immutable entry in the append-only event log.
// The log is capped; oldest entries are dropped first.
type LifecycleEvent struct {
	// ProxyKey is the identity key of the record the event concerns.
	ProxyKey string `json:"proxy_key"`

	// Kind is the event type.
	Kind EventKind `json:"kind"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// PreviousStatus and NewStatus capture the status transition, when
	// the event represents one. Both are empty for non-transition
	// events such as EventFetched.
	PreviousStatus Status `json:"previous_status,omitempty"`
	NewStatus      Status `json:"new_status,omitempty"`

	// Details holds free-form event context (source name, failure
	// reason, record age at cleanup).
	Details map[string]any `json:"details,omitempty"`
}

// TransitionEvent maps a status transition to the lifecycle event kind
// that records it. It returns false when the transition has no
// dedicated event (e.g. valid -> valid).
func TransitionEvent(previous, next Status) (EventKind, bool) {
	if previous == next {
		return "", false
	}
	switch next {
	case StatusValid:
		return EventBecameValid, true
	case StatusTempInvalid:
		return EventBecameTempInvalid, true
	case StatusInvalid:
		return EventBecameInvalid, true
	case StatusUntested:
		// Only temp-invalid records are re-queued as untested.
		if previous == StatusTempInvalid {
			return EventRetried, true
		}
		return "", false
	default:
		return "", false
	}
}
