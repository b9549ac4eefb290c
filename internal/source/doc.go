// Package source fetches candidate proxy records from public proxy
// lists. Each configured origin is served by a fetcher matching its
// payload format: plain ip:port text lists, JSON arrays, or HTML
// listing tables. Fetchers normalize every entry into a model.ProxyRecord
// with untested status and the source name as provenance.
package source
