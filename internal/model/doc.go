// Package model defines the core data structures for proxyscan.
// It contains the proxy record and its status state machine, the
// per-layer validation result types, the comprehensive verdict,
// lifecycle events, scheduler task records, and rotation usage
// statistics.
package model
