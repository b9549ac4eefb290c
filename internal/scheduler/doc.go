// Package scheduler runs the periodic maintenance jobs of the proxy
// pool: source fetching, batch validation (including the temp-invalid
// retry pass), age-based cleanup, and statistics reporting. Job
// outcomes land in the bounded task history; failures are reported
// through the Notifier and never stop the loop.
package scheduler
