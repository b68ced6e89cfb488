// Package api hosts the HTTP transport: the MCP streamable endpoint, a plain
// JSON query endpoint, health checks and the Prometheus scrape target.
package api
