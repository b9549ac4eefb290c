// Package probe provides the single-relay network primitives every
// validation layer builds on: an HTTP client routed through a proxy
// record (HTTP forward proxy or SOCKS4/SOCKS5 tunnel), timed GET
// probes with bounded body reads, and probe error classification.
//
// Probes are side-effect free: they never touch registry state. Every
// network call carries a timeout; no probe can block indefinitely.
package probe
