// Package lifecycle tracks proxy records across their life in the
// pool: it records lifecycle events (fetched, validated, status
// transitions, retries, cleanup), runs age-based cleanup, and derives
// pool analytics from the event log.
package lifecycle
