// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// playground as tools. It uses the mark3labs/mcp-go library to handle the
// protocol details and provides execute_code as the primary interface, with
// validate_code, format_code, list_examples and get_example alongside.
//
// Tool results are JSON documents carried as text content. A failed
// execution is reported with IsError set and the full result as content.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, executor, session, catalog)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
