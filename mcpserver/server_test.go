package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/playground/config"
	"github.com/isdmx/playground/examples"
	"github.com/isdmx/playground/playground"
	"github.com/isdmx/playground/sandbox"
)

// MockSandboxExecutor implements sandbox.SandboxExecutor for testing
type MockSandboxExecutor struct {
	executeResult sandbox.ExecutionResult
	lastRequest   sandbox.ExecuteRequest
}

func (m *MockSandboxExecutor) Execute(_ context.Context, req sandbox.ExecuteRequest) sandbox.ExecutionResult { //nolint:gocritic // Mock implementation requires full parameter signature
	m.lastRequest = req
	return m.executeResult
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Transport: "stdio", HTTPPort: 8080},
		Logging:  config.LoggingConfig{Mode: "production", Level: "info"},
		Executor: config.ExecutorConfig{TimeoutMs: 5000, MaxMemoryBytes: 1024, MaxCodeLength: 1000, MaxOutputEntries: 100},
		Session:  config.SessionConfig{HistoryLimit: 100, ConsoleLimit: 1000},
	}
}

func newTestServer(t *testing.T, exec sandbox.SandboxExecutor) *MCPServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	compiler := sandbox.NewExecutor(logger, sandbox.Options{})
	session := playground.New(logger, exec, compiler, playground.DefaultOptions())
	catalog, err := examples.NewDefault(logger)
	require.NoError(t, err)

	server, err := New(testConfig(), logger, exec, session, catalog)
	require.NoError(t, err)
	return server
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewMCPServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	mockExecutor := &MockSandboxExecutor{}
	catalog := examples.New(logger)
	session := playground.New(logger, mockExecutor, nil, playground.DefaultOptions())

	server, err := New(cfg, logger, mockExecutor, session, catalog)
	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.Equal(t, logger, server.logger)
	assert.Equal(t, mockExecutor, server.sandboxExec)
	assert.NotNil(t, server.GetMCPServer())
}

func TestHandleExecuteCode(t *testing.T) {
	mockExecutor := &MockSandboxExecutor{
		executeResult: sandbox.ExecutionResult{
			ID:       "abc",
			Language: sandbox.LanguageTypeScript,
			Success:  true,
			Output: []sandbox.ConsoleEntry{
				{Level: sandbox.LevelLog, Args: []any{int64(2)}, Message: "2"},
			},
			Value: int64(2),
		},
	}
	server := newTestServer(t, mockExecutor)

	result, err := server.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
		"code":       "console.log(1 + 1)",
		"language":   "typescript",
		"timeout_ms": 250,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var decoded sandbox.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &decoded))
	assert.True(t, decoded.Success)
	assert.Equal(t, "abc", decoded.ID)
	require.Len(t, decoded.Output, 1)
	assert.Equal(t, "2", decoded.Output[0].Message)

	assert.Equal(t, "console.log(1 + 1)", mockExecutor.lastRequest.Code)
	assert.Equal(t, sandbox.LanguageTypeScript, mockExecutor.lastRequest.Language)
	require.NotNil(t, mockExecutor.lastRequest.Options)
	assert.Equal(t, 250*time.Millisecond, mockExecutor.lastRequest.Options.Timeout)
}

func TestHandleExecuteCodeFailures(t *testing.T) {
	mockExecutor := &MockSandboxExecutor{
		executeResult: sandbox.ExecutionResult{
			Success:   false,
			Error:     "timed out after 100ms",
			ErrorKind: sandbox.KindTimeout,
			Output:    []sandbox.ConsoleEntry{},
		},
	}
	server := newTestServer(t, mockExecutor)

	t.Run("failed execution is flagged", func(t *testing.T) {
		result, err := server.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
			"code": "while (true) {}",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "timed out after 100ms")
		assert.Nil(t, mockExecutor.lastRequest.Options)
		assert.Equal(t, sandbox.LanguageJavaScript, mockExecutor.lastRequest.Language)
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := server.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "code parameter is required")
	})

	t.Run("unsupported language", func(t *testing.T) {
		result, err := server.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
			"code":     "print(1)",
			"language": "python",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Equal(t, "unsupported language: python", resultText(t, result))
	})

	t.Run("negative timeout", func(t *testing.T) {
		result, err := server.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
			"code":       "1",
			"timeout_ms": -5,
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "timeout_ms must be positive")
	})

	t.Run("timeout above the configured maximum", func(t *testing.T) {
		result, err := server.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
			"code":       "1",
			"timeout_ms": 60000,
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "timeout_ms must not exceed 5000, got: 60000")
	})
}

func TestHandleValidateAndFormat(t *testing.T) {
	server := newTestServer(t, &MockSandboxExecutor{})

	result, err := server.handleValidateCode(context.Background(), callRequest("validate_code", map[string]any{
		"code": "function f() {",
	}))
	require.NoError(t, err)

	var report playground.ValidationReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &report))
	assert.False(t, report.Valid)
	assert.Contains(t, report.Errors, "brackets are unbalanced")

	result, err = server.handleFormatCode(context.Background(), callRequest("format_code", map[string]any{
		"code": "function f(){return 1;}",
	}))
	require.NoError(t, err)

	var formatted map[string]string
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &formatted))
	assert.Equal(t, "function f(){\n  return 1;\n}", formatted["code"])
}

func TestHandleExamples(t *testing.T) {
	server := newTestServer(t, &MockSandboxExecutor{})

	result, err := server.handleListExamples(context.Background(), callRequest("list_examples", map[string]any{
		"language": "typescript",
	}))
	require.NoError(t, err)

	var list []examples.Example
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &list))
	require.NotEmpty(t, list)
	for _, ex := range list {
		assert.Equal(t, "typescript", ex.Language)
	}

	result, err = server.handleGetExample(context.Background(), callRequest("get_example", map[string]any{
		"id": "hello-world",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var example examples.Example
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &example))
	assert.Equal(t, "hello-world", example.ID)

	result, err = server.handleGetExample(context.Background(), callRequest("get_example", map[string]any{
		"id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "missing")
}
