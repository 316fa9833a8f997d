package playground

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/isdmx/playground/config"
	"github.com/isdmx/playground/sandbox"
)

// Compiler checks submissions for syntax without running them
type Compiler interface {
	Compile(language sandbox.Language, code string) error
}

// Options configures a Session
type Options struct {
	EnableConsole bool
	EnableMetrics bool
	HistoryLimit  int
	ConsoleLimit  int
}

// DefaultOptions returns the stock session options
func DefaultOptions() Options {
	return Options{
		EnableConsole: true,
		EnableMetrics: true,
		HistoryLimit:  100,
		ConsoleLimit:  1000,
	}
}

// HistoryEntry is one line of the execution log
type HistoryEntry struct {
	Timestamp   time.Time     `json:"timestamp"`
	Level       sandbox.Level `json:"level"`
	Message     string        `json:"message"`
	ExecutionID string        `json:"execution_id"`
}

// Totals counts executions since the last reset
type Totals struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// ValidationReport is the outcome of a static check
type ValidationReport struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Snapshot is a consistent copy of the session state
type Snapshot struct {
	Executing bool                     `json:"executing"`
	Result    *sandbox.ExecutionResult `json:"result,omitempty"`
	LastError string                   `json:"last_error,omitempty"`
	Metrics   sandbox.ExecutionMetrics `json:"metrics"`
	Totals    Totals                   `json:"totals"`
	Console   []sandbox.ConsoleEntry   `json:"console"`
	History   []HistoryEntry           `json:"history"`
}

// Session keeps the state of a playground around an executor: the last
// result and error, display metrics, an accumulated console and a bounded
// execution log.
type Session struct {
	logger   *zap.Logger
	exec     sandbox.SandboxExecutor
	compiler Compiler
	opts     Options

	executing atomic.Bool

	mu        sync.RWMutex
	result    *sandbox.ExecutionResult
	lastError string
	metrics   sandbox.ExecutionMetrics
	console   []sandbox.ConsoleEntry
	history   []HistoryEntry
	totals    Totals
}

// New creates a Session running code through exec
func New(logger *zap.Logger, exec sandbox.SandboxExecutor, compiler Compiler, opts Options) *Session {
	defaults := DefaultOptions()
	if opts.HistoryLimit < 2 {
		opts.HistoryLimit = defaults.HistoryLimit
	}
	if opts.ConsoleLimit < 2 {
		opts.ConsoleLimit = defaults.ConsoleLimit
	}
	return &Session{
		logger:   logger,
		exec:     exec,
		compiler: compiler,
		opts:     opts,
	}
}

// NewFromConfig creates a Session on the component executor so that Vue
// helpers are available to every language
func NewFromConfig(logger *zap.Logger, cfg *config.Config, exec *sandbox.ComponentExecutor) *Session {
	return New(logger, exec, exec.Executor(), Options{
		EnableConsole: cfg.Session.EnableConsole,
		EnableMetrics: cfg.Session.EnableMetrics,
		HistoryLimit:  cfg.Session.HistoryLimit,
		ConsoleLimit:  cfg.Session.ConsoleLimit,
	})
}

// Execute runs code and records the outcome. A call made while another is in
// flight returns a busy result without touching the session state.
func (s *Session) Execute(ctx context.Context, code, language string, overrides *sandbox.Options) sandbox.ExecutionResult {
	lang, err := sandbox.ParseLanguage(language)
	if err != nil {
		lang = sandbox.Language(strings.ToLower(language))
	}

	if !s.executing.CompareAndSwap(false, true) {
		return sandbox.ExecutionResult{
			ID:        xid.New().String(),
			Language:  lang,
			Output:    []sandbox.ConsoleEntry{},
			Error:     "already executing",
			ErrorKind: sandbox.KindBusy,
			Err:       &sandbox.ExecutionError{Kind: sandbox.KindBusy, Message: "already executing"},
		}
	}
	defer s.executing.Store(false)

	s.ClearResults()

	id := xid.New().String()
	s.addHistory(sandbox.LevelInfo, fmt.Sprintf("execution started (%s)", lang), id)

	result := s.exec.Execute(ctx, sandbox.ExecuteRequest{
		ID:       id,
		Code:     code,
		Language: lang,
		Options:  overrides,
	})

	s.mu.Lock()
	s.totals.Total++
	if s.opts.EnableConsole {
		s.console = appendBounded(s.console, result.Output, s.opts.ConsoleLimit)
	}
	if result.Success {
		s.totals.Successful++
		s.result = &result
		if s.opts.EnableMetrics {
			s.metrics = result.Metrics()
		}
	} else {
		s.totals.Failed++
		s.lastError = result.Error
		if s.opts.EnableMetrics {
			s.metrics.ExecutionTimeMs = result.ExecutionTimeMs
			s.metrics.ErrorCount++
		}
	}
	s.mu.Unlock()

	if result.Success {
		s.addHistory(sandbox.LevelInfo, fmt.Sprintf("execution succeeded (%dms)", result.ExecutionTimeMs), id)
	} else {
		s.addHistory(sandbox.LevelError, fmt.Sprintf("execution failed: %s (%dms)", result.Error, result.ExecutionTimeMs), id)
	}

	s.logger.Info("playground execution finished",
		zap.String("id", id),
		zap.String("language", string(lang)),
		zap.Bool("success", result.Success),
		zap.Int64("execution_time_ms", result.ExecutionTimeMs))

	return result
}

func (s *Session) addHistory(level sandbox.Level, message, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{
		Timestamp:   time.Now(),
		Level:       level,
		Message:     message,
		ExecutionID: id,
	})
	if len(s.history) > s.opts.HistoryLimit {
		s.history = append([]HistoryEntry(nil), s.history[len(s.history)-s.opts.HistoryLimit/2:]...)
	}
}

// appendBounded appends entries and, once the result exceeds limit, keeps
// only the most recent half of it.
func appendBounded(dst, entries []sandbox.ConsoleEntry, limit int) []sandbox.ConsoleEntry {
	dst = append(dst, entries...)
	if len(dst) > limit {
		dst = append([]sandbox.ConsoleEntry(nil), dst[len(dst)-limit/2:]...)
	}
	return dst
}

// IsExecuting reports whether an execution is in flight
func (s *Session) IsExecuting() bool {
	return s.executing.Load()
}

// CanExecute reports whether a new execution would be accepted
func (s *Session) CanExecute() bool {
	return !s.IsExecuting()
}

// Result returns the last successful result, if any
func (s *Session) Result() *sandbox.ExecutionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// LastError returns the error of the last failed execution
func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Metrics returns the display metrics of the last execution
func (s *Session) Metrics() sandbox.ExecutionMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// Console returns the accumulated console entries
func (s *Session) Console() []sandbox.ConsoleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]sandbox.ConsoleEntry(nil), s.console...)
}

// History returns the execution log
func (s *Session) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HistoryEntry(nil), s.history...)
}

// Totals returns the execution counters
func (s *Session) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals
}

// Snapshot returns a consistent copy of the whole session state
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Executing: s.executing.Load(),
		Result:    s.result,
		LastError: s.lastError,
		Metrics:   s.metrics,
		Totals:    s.totals,
		Console:   append([]sandbox.ConsoleEntry{}, s.console...),
		History:   append([]HistoryEntry{}, s.history...),
	}
}

// ClearResults drops the last result, error and metrics
func (s *Session) ClearResults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = nil
	s.lastError = ""
	s.metrics = sandbox.ExecutionMetrics{}
}

// ClearConsole empties the accumulated console
func (s *Session) ClearConsole() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.console = nil
}

// ClearHistory empties the execution log
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Reset clears results, console, history and counters
func (s *Session) Reset() {
	s.ClearResults()
	s.ClearConsole()
	s.ClearHistory()
	s.mu.Lock()
	s.totals = Totals{}
	s.mu.Unlock()
}

// Validate runs the static checks on code: emptiness, bracket balance for
// script languages and a syntax check
func (s *Session) Validate(code, language string) ValidationReport {
	report := ValidationReport{Errors: []string{}}

	if strings.TrimSpace(code) == "" {
		report.Errors = append(report.Errors, "code is empty")
		return report
	}

	lang, err := sandbox.ParseLanguage(language)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}

	if lang == sandbox.LanguageJavaScript || lang == sandbox.LanguageTypeScript {
		if !BracketsBalanced(code) {
			report.Errors = append(report.Errors, "brackets are unbalanced")
		}
	}

	if s.compiler != nil {
		if err := s.compiler.Compile(lang, code); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}
