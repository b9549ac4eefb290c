// Package main provides the entry point for the proxyscan CLI.
//
// proxyscan builds and maintains a pool of working public proxies:
// it fetches candidate lists from configured sources, validates each
// proxy across five health layers, and exports the valid pool.
//
// Usage:
//
//	proxyscan fetch
//	proxyscan validate
//	proxyscan cycle
//	proxyscan stats --json
//
// See --help for all available options.
package main

// main is the entry point for proxyscan.
func main() {
	Execute()
}
