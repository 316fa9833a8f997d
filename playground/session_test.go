package playground

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/playground/sandbox"
)

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	logger := zaptest.NewLogger(t)
	exec := sandbox.NewComponentExecutor(logger, sandbox.Options{Timeout: time.Second},
		sandbox.WithConsole(sandbox.NewConsole(zap.NewNop())))
	return New(logger, exec, exec.Executor(), opts)
}

// blockingExecutor holds every execution until release is closed
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExecutor) Execute(_ context.Context, req sandbox.ExecuteRequest) sandbox.ExecutionResult {
	close(b.started)
	<-b.release
	return sandbox.ExecutionResult{ID: req.ID, Language: req.Language, Success: true, Output: []sandbox.ConsoleEntry{}}
}

func TestSessionExecuteSuccess(t *testing.T) {
	s := newTestSession(t, DefaultOptions())

	result := s.Execute(context.Background(), `console.log("hi"); console.warn("careful"); console.error("bad")`, "javascript", nil)
	require.True(t, result.Success, result.Error)

	require.NotNil(t, s.Result())
	assert.Equal(t, result.ID, s.Result().ID)
	assert.Empty(t, s.LastError())

	metrics := s.Metrics()
	assert.Equal(t, 3, metrics.OutputSize)
	assert.Equal(t, 1, metrics.ErrorCount)
	assert.Equal(t, 1, metrics.WarningCount)
	assert.Zero(t, metrics.CPUUsage)

	assert.Len(t, s.Console(), 3)
	assert.Equal(t, Totals{Total: 1, Successful: 1}, s.Totals())

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "execution started (javascript)", history[0].Message)
	assert.Contains(t, history[1].Message, "execution succeeded")
	assert.Equal(t, result.ID, history[0].ExecutionID)
	assert.Equal(t, result.ID, history[1].ExecutionID)
}

func TestSessionExecuteFailure(t *testing.T) {
	s := newTestSession(t, DefaultOptions())

	s.Execute(context.Background(), `console.log("ok")`, "javascript", nil)
	result := s.Execute(context.Background(), `throw new Error("boom")`, "javascript", nil)
	require.False(t, result.Success)

	assert.Nil(t, s.Result())
	assert.Equal(t, "boom", s.LastError())
	assert.Equal(t, 1, s.Metrics().ErrorCount)
	assert.Equal(t, Totals{Total: 2, Successful: 1, Failed: 1}, s.Totals())

	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, sandbox.LevelError, history[3].Level)
	assert.Contains(t, history[3].Message, "execution failed: boom")
}

func TestSessionExecuteLanguages(t *testing.T) {
	s := newTestSession(t, DefaultOptions())

	tests := []struct {
		name     string
		language string
		code     string
	}{
		{name: "default language", language: "", code: `console.log(1)`},
		{name: "typescript", language: "typescript", code: `const n: number = 2; console.log(n)`},
		{name: "vue helpers", language: "vue", code: `<script>const count = ref(1); console.log(count.value)</script>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.Execute(context.Background(), tt.code, tt.language, nil)
			require.True(t, result.Success, result.Error)
			require.Len(t, result.Output, 1)
		})
	}

	result := s.Execute(context.Background(), `console.log(1)`, "python", nil)
	assert.False(t, result.Success)
	assert.Equal(t, sandbox.KindValidation, result.ErrorKind)
	assert.Equal(t, "unsupported language: python", result.Error)
}

func TestSessionBusy(t *testing.T) {
	logger := zaptest.NewLogger(t)
	exec := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	s := New(logger, exec, nil, DefaultOptions())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Execute(context.Background(), "1", "javascript", nil)
	}()
	<-exec.started

	assert.True(t, s.IsExecuting())
	assert.False(t, s.CanExecute())

	busy := s.Execute(context.Background(), "2", "javascript", nil)
	assert.False(t, busy.Success)
	assert.Equal(t, sandbox.KindBusy, busy.ErrorKind)
	assert.ErrorIs(t, busy.Err, sandbox.ErrBusy)
	assert.Equal(t, "already executing", busy.Error)

	close(exec.release)
	wg.Wait()

	assert.True(t, s.CanExecute())
	assert.Equal(t, 1, s.Totals().Total)
}

func TestSessionHistoryBound(t *testing.T) {
	s := newTestSession(t, Options{EnableConsole: true, EnableMetrics: true, HistoryLimit: 10, ConsoleLimit: 1000})

	for i := 0; i < 8; i++ {
		s.Execute(context.Background(), fmt.Sprintf("console.log(%d)", i), "javascript", nil)
	}

	history := s.History()
	assert.LessOrEqual(t, len(history), 10)
	assert.Contains(t, history[len(history)-1].Message, "execution succeeded")
}

func TestSessionConsoleBound(t *testing.T) {
	s := newTestSession(t, Options{EnableConsole: true, EnableMetrics: true, HistoryLimit: 100, ConsoleLimit: 10})

	result := s.Execute(context.Background(), `for (let i = 0; i < 11; i++) console.log(i)`, "javascript", nil)
	require.True(t, result.Success, result.Error)

	console := s.Console()
	require.Len(t, console, 5)
	assert.Equal(t, []any{int64(10)}, console[4].Args)
}

func TestSessionDisabledConsoleAndMetrics(t *testing.T) {
	s := newTestSession(t, Options{HistoryLimit: 100, ConsoleLimit: 100})

	result := s.Execute(context.Background(), `console.log("x")`, "javascript", nil)
	require.True(t, result.Success, result.Error)

	assert.Empty(t, s.Console())
	assert.Equal(t, sandbox.ExecutionMetrics{}, s.Metrics())
}

func TestSessionClear(t *testing.T) {
	s := newTestSession(t, DefaultOptions())
	s.Execute(context.Background(), `console.log("x")`, "javascript", nil)

	s.ClearResults()
	assert.Nil(t, s.Result())
	assert.Equal(t, sandbox.ExecutionMetrics{}, s.Metrics())
	assert.NotEmpty(t, s.Console())

	s.ClearConsole()
	assert.Empty(t, s.Console())

	s.Execute(context.Background(), `console.log("y")`, "javascript", nil)
	s.Reset()
	snapshot := s.Snapshot()
	assert.Nil(t, snapshot.Result)
	assert.Empty(t, snapshot.Console)
	assert.Empty(t, snapshot.History)
	assert.Equal(t, Totals{}, snapshot.Totals)
}

func TestSessionValidate(t *testing.T) {
	s := newTestSession(t, DefaultOptions())

	tests := []struct {
		name     string
		code     string
		language string
		valid    bool
		contains string
	}{
		{name: "valid javascript", code: `const a = [1, 2]; console.log(a)`, language: "javascript", valid: true},
		{name: "empty", code: "  \n", language: "javascript", contains: "code is empty"},
		{name: "unbalanced", code: `function f() { return 1;`, language: "javascript", contains: "brackets are unbalanced"},
		{name: "syntax error", code: `const = 1`, language: "javascript", contains: "syntax error"},
		{name: "typescript", code: "interface P { x: number }\nconst p: P = { x: 1 }", language: "typescript", valid: true},
		{name: "vue without script", code: `<template><div/></template>`, language: "vue", contains: "no script block found"},
		{name: "unknown language", code: `x`, language: "ruby", contains: "unsupported language"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := s.Validate(tt.code, tt.language)
			assert.Equal(t, tt.valid, report.Valid, report.Errors)
			if tt.contains != "" {
				require.NotEmpty(t, report.Errors)
				assert.Contains(t, report.Errors[len(report.Errors)-1], tt.contains)
			}
		})
	}

	assert.False(t, s.IsExecuting())
	assert.Empty(t, s.History())
}
