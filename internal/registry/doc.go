// Package registry is the coordination layer of the proxy pool: it
// pulls candidate records from the configured sources, drives batch
// validation, re-queues cooled-down temp-invalid records, and derives
// pool statistics. All persistence goes through the database package;
// all lifecycle bookkeeping goes through the lifecycle package.
package registry
