// Package main is the entry point for the Playground MCP server.
//
// The Playground server implements a configurable Model Context Protocol (MCP)
// server that runs JavaScript, TypeScript and Vue snippets in an embedded
// engine. Submissions are validated against a deny-list, run as the body of
// an async function with a restricted scope, and reported with their captured
// console output, value and timing. The scope restrictions are a soft filter
// and not an isolation boundary.
//
// With api.enabled set, the same playground is served as an HTTP JSON API,
// including Prometheus metrics on /metrics.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
