// Package rotator hands out proxies from the valid pool for request
// routing. It scores candidates on observed success rate, recency, and
// measured response time, rotates away from a proxy after a configured
// number of requests or failures, and demotes proxies that stop
// working. When no candidate scores above zero, it recommends a direct
// connection instead of a bad proxy.
package rotator
