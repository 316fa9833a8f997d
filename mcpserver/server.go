// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// playground as tools. It uses the mark3labs/mcp-go library to handle the
// protocol details; execute_code is the primary tool, with validate_code,
// format_code, list_examples and get_example alongside.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/playground/config"
	"github.com/isdmx/playground/examples"
	"github.com/isdmx/playground/playground"
	"github.com/isdmx/playground/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config      *config.Config
	logger      *zap.Logger
	sandboxExec sandbox.SandboxExecutor
	session     *playground.Session
	catalog     *examples.Catalog
	mcpServer   *server.MCPServer
}

// New creates a new MCPServer
func New(
	cfg *config.Config,
	logger *zap.Logger,
	sandboxExec sandbox.SandboxExecutor,
	session *playground.Session,
	catalog *examples.Catalog,
) (*MCPServer, error) {
	s := &MCPServer{
		config:      cfg,
		logger:      logger,
		sandboxExec: sandboxExec,
		session:     session,
		catalog:     catalog,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Bool("api.enabled", s.config.API.Enabled),
		zap.Int("api.port", s.config.API.Port),
		zap.Int("executor.timeout_ms", s.config.Executor.TimeoutMs),
		zap.Int("executor.max_timeout_ms", s.config.Executor.MaxTimeoutMs),
		zap.Int64("executor.max_memory_bytes", s.config.Executor.MaxMemoryBytes),
		zap.Int("executor.max_code_length", s.config.Executor.MaxCodeLength),
		zap.Int("executor.max_output_entries", s.config.Executor.MaxOutputEntries),
		zap.Strings("executor.allowed_globals", s.config.Executor.AllowedGlobals),
		zap.Int("session.history_limit", s.config.Session.HistoryLimit),
		zap.String("examples.file", s.config.Examples.File),
	)

	s.mcpServer = server.NewMCPServer("playground-executor", "A JavaScript, TypeScript and Vue code playground")

	s.registerExecuteCodeTool()
	s.registerValidateCodeTool()
	s.registerFormatCodeTool()
	s.registerListExamplesTool()
	s.registerGetExampleTool()

	return s, nil
}

var languageProperty = map[string]any{
	"type":        "string",
	"description": "Source language, javascript when omitted",
	"enum":        []string{string(sandbox.LanguageJavaScript), string(sandbox.LanguageTypeScript), string(sandbox.LanguageVue)},
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute a JavaScript, TypeScript or Vue snippet and return its console output and value",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code, run as the body of an async function",
				},
				"language": languageProperty,
				"timeout_ms": map[string]any{
					"type":        "number",
					"description": "Execution timeout in milliseconds (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("code execution requested")

	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	language, err := sandbox.ParseLanguage(request.GetString("language", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	overrides, err := sandbox.TimeoutOverride(request.GetInt("timeout_ms", 0), s.config.GetMaxTimeout())
	if err != nil {
		return errorResult(err.Error()), nil
	}

	s.logger.Info("executing code",
		zap.String("language", string(language)),
		zap.Int("code_length", len(code)))

	result := s.sandboxExec.Execute(ctx, sandbox.ExecuteRequest{
		Code:     code,
		Language: language,
		Options:  overrides,
	})

	s.logger.Info("code execution completed",
		zap.String("id", result.ID),
		zap.String("language", string(language)),
		zap.Bool("success", result.Success),
		zap.String("error_kind", string(result.ErrorKind)),
		zap.Int("output_entries", len(result.Output)),
		zap.Int64("execution_time_ms", result.ExecutionTimeMs))

	return s.jsonResult(result, !result.Success)
}

// registerValidateCodeTool registers the validate_code tool
func (s *MCPServer) registerValidateCodeTool() {
	tool := mcp.Tool{
		Name:        "validate_code",
		Description: "Check a snippet for emptiness, bracket balance and syntax without running it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to check",
				},
				"language": languageProperty,
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleValidateCode)
}

func (s *MCPServer) handleValidateCode(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	report := s.session.Validate(code, request.GetString("language", ""))
	return s.jsonResult(report, false)
}

// registerFormatCodeTool registers the format_code tool
func (s *MCPServer) registerFormatCodeTool() {
	tool := mcp.Tool{
		Name:        "format_code",
		Description: "Re-indent a snippet with a naive brace-based formatter",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to format",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleFormatCode)
}

func (s *MCPServer) handleFormatCode(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	return s.jsonResult(map[string]string{"code": playground.Format(code)}, false)
}

// registerListExamplesTool registers the list_examples tool
func (s *MCPServer) registerListExamplesTool() {
	tool := mcp.Tool{
		Name:        "list_examples",
		Description: "List example snippets, optionally filtered",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"category": map[string]any{
					"type":        "string",
					"description": "Only examples in this category (optional)",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Only examples in this language (optional)",
				},
				"query": map[string]any{
					"type":        "string",
					"description": "Case-insensitive text to look for in name, description and code (optional)",
				},
			},
		},
	}

	s.mcpServer.AddTool(tool, s.handleListExamples)
}

func (s *MCPServer) handleListExamples(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.catalog.Query(
		request.GetString("category", ""),
		request.GetString("language", ""),
		request.GetString("query", ""),
	)
	return s.jsonResult(list, false)
}

// registerGetExampleTool registers the get_example tool
func (s *MCPServer) registerGetExampleTool() {
	tool := mcp.Tool{
		Name:        "get_example",
		Description: "Fetch one example snippet by id",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "Example id, as returned by list_examples",
				},
			},
			Required: []string{"id"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleGetExample)
}

func (s *MCPServer) handleGetExample(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return nil, fmt.Errorf("id parameter is required: %w", err)
	}

	example, err := s.catalog.Get(id)
	if errors.Is(err, examples.ErrExampleNotFound) {
		return errorResult(err.Error()), nil
	}
	if err != nil {
		return nil, err
	}
	return s.jsonResult(example, false)
}

func (s *MCPServer) jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode tool result", zap.Error(err))
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
		IsError: isError,
	}, nil
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: message,
			},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
