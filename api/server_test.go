package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/playground/config"
	"github.com/isdmx/playground/examples"
	"github.com/isdmx/playground/playground"
	"github.com/isdmx/playground/sandbox"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Transport: "stdio", HTTPPort: 8080},
		API: config.APIConfig{
			Enabled:        true,
			Port:           8081,
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
			ClientRPS:      1000,
			ClientBurst:    1000,
			MaxConcurrent:  4,
		},
		Executor: config.ExecutorConfig{TimeoutMs: 1000},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := prometheus.NewRegistry()

	metrics, err := sandbox.NewMetrics(registry)
	require.NoError(t, err)
	components := sandbox.NewComponentExecutor(logger, sandbox.Options{Timeout: time.Second},
		sandbox.WithConsole(sandbox.NewConsole(zap.NewNop())),
		sandbox.WithMetrics(metrics))
	session := playground.New(logger, components, components.Executor(), playground.DefaultOptions())
	catalog, err := examples.NewDefault(logger)
	require.NoError(t, err)

	server, err := New(cfg, logger, session, components, catalog, registry, registry)
	require.NoError(t, err)
	return server
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHandleExecute(t *testing.T) {
	server := newTestServer(t, testConfig())
	handler := server.Handler()

	t.Run("successful execution", func(t *testing.T) {
		rr := doRequest(t, handler, http.MethodPost, "/api/execute", `{"code":"console.log(1 + 1); return 42"}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var result sandbox.ExecutionResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		assert.True(t, result.Success, result.Error)
		assert.Equal(t, sandbox.LanguageJavaScript, result.Language)
		require.Len(t, result.Output, 1)
		assert.Equal(t, "2", result.Output[0].Message)
		assert.Equal(t, float64(42), result.Value)
		assert.NotEmpty(t, result.ID)
	})

	t.Run("failed execution is still 200", func(t *testing.T) {
		rr := doRequest(t, handler, http.MethodPost, "/api/execute",
			`{"code":"while (true) {}","language":"javascript","timeout_ms":50}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var result sandbox.ExecutionResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		assert.False(t, result.Success)
		assert.Equal(t, sandbox.KindTimeout, result.ErrorKind)
		assert.Equal(t, "timed out after 50ms", result.Error)
	})

	t.Run("invalid request body", func(t *testing.T) {
		rr := doRequest(t, handler, http.MethodPost, "/api/execute", `{"code":`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "invalid_request", body.Error)
	})

	t.Run("negative timeout", func(t *testing.T) {
		rr := doRequest(t, handler, http.MethodPost, "/api/execute", `{"code":"1","timeout_ms":-1}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("timeout above the configured maximum", func(t *testing.T) {
		for _, path := range []string{"/api/execute", "/api/components"} {
			rr := doRequest(t, handler, http.MethodPost, path, `{"code":"1","timeout_ms":9223372036854}`)
			assert.Equal(t, http.StatusBadRequest, rr.Code, path)

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Contains(t, body.Message, "timeout_ms must not exceed 1000")
		}
	})

	t.Run("session records executions", func(t *testing.T) {
		rr := doRequest(t, handler, http.MethodGet, "/api/session", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var snapshot playground.Snapshot
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&snapshot))
		assert.Equal(t, 2, snapshot.Totals.Total)
		assert.Equal(t, 1, snapshot.Totals.Failed)
		assert.NotEmpty(t, snapshot.History)

		rr = doRequest(t, handler, http.MethodDelete, "/api/session", "")
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, playground.Totals{}, server.session.Totals())
	})
}

func TestHandleComponent(t *testing.T) {
	server := newTestServer(t, testConfig())

	code := `<template><p>{{ count }}</p></template>
<script>
import { ref } from 'vue'
export default {
  name: "Counter",
  data() { return { count: 0 } }
}
</script>`
	body, err := json.Marshal(ComponentRequest{Code: code})
	require.NoError(t, err)

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/components", string(body))
	require.Equal(t, http.StatusOK, rr.Code)

	var result struct {
		Success   bool           `json:"success"`
		Error     string         `json:"error"`
		Component map[string]any `json:"component"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	require.True(t, result.Success, result.Error)
	require.NotNil(t, result.Component)
	assert.Equal(t, "Counter", result.Component["name"])
	assert.Equal(t, "[Function]", result.Component["data"])
}

func TestHandleValidateAndFormat(t *testing.T) {
	server := newTestServer(t, testConfig())
	handler := server.Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/validate", `{"code":"const = 1","language":"javascript"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var report playground.ValidationReport
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&report))
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.True(t, strings.HasPrefix(report.Errors[0], "syntax error"))

	rr = doRequest(t, handler, http.MethodPost, "/api/format", `{"code":"if (a) { b(); }"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var formatted map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&formatted))
	assert.Equal(t, "if (a) {\n  b();\n}", formatted["code"])
}

func TestHandleExamples(t *testing.T) {
	server := newTestServer(t, testConfig())
	handler := server.Handler()

	t.Run("list filtered by language", func(t *testing.T) {
		rr := doRequest(t, handler, http.MethodGet, "/api/examples?language=vue", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var list []examples.Example
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
		require.NotEmpty(t, list)
		for _, ex := range list {
			assert.Equal(t, "vue", ex.Language)
		}
	})

	t.Run("get", func(t *testing.T) {
		rr := doRequest(t, handler, http.MethodGet, "/api/examples/hello-world", "")
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doRequest(t, handler, http.MethodGet, "/api/examples/nope", "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("add and remove", func(t *testing.T) {
		rr := doRequest(t, handler, http.MethodPost, "/api/examples",
			`{"id":"mine","name":"Mine","code":"console.log(1)","language":"javascript","category":"custom"}`)
		require.Equal(t, http.StatusCreated, rr.Code)

		rr = doRequest(t, handler, http.MethodGet, "/api/examples?category=custom", "")
		var list []examples.Example
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
		require.Len(t, list, 1)
		assert.Equal(t, "mine", list[0].ID)

		rr = doRequest(t, handler, http.MethodDelete, "/api/examples/mine", "")
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = doRequest(t, handler, http.MethodDelete, "/api/examples/mine", "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("add without id", func(t *testing.T) {
		rr := doRequest(t, handler, http.MethodPost, "/api/examples", `{"name":"Nameless"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	server := newTestServer(t, testConfig())
	handler := server.Handler()

	rr := doRequest(t, handler, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	doRequest(t, handler, http.MethodPost, "/api/execute", `{"code":"console.log(1)"}`)

	rr = doRequest(t, handler, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	metrics := rr.Body.String()
	assert.Contains(t, metrics, `playground_executions_total{language="javascript",status="success"} 1`)
	assert.Contains(t, metrics, `playground_http_requests_total{code="200",route="/api/execute"} 1`)
}

func TestExecuteRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.API.ClientRPS = 0.001
	cfg.API.ClientBurst = 1
	server := newTestServer(t, cfg)
	handler := server.Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/execute", `{"code":"1"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, handler, http.MethodPost, "/api/execute", `{"code":"1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = doRequest(t, handler, http.MethodPost, "/api/validate", `{"code":"1"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}
