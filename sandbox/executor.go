package sandbox

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/dop251/goja"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

// Binding produces the value of a host-provided global inside a runtime.
type Binding func(vm *goja.Runtime) goja.Value

// Executor runs submitted script text in an embedded engine. One execution
// may be in flight at a time; a concurrent call fails fast as busy.
type Executor struct {
	logger           *zap.Logger
	console          *Console
	defaults         Options
	maxCodeLength    int
	maxOutputEntries int
	maxCallStackSize int
	metrics          *Metrics
	programs         *expirable.LRU[string, *goja.Program]
	bindings         map[string]Binding

	executing atomic.Bool

	mu     sync.Mutex
	output []ConsoleEntry
}

// ExecutorOption defines a functional option for Executor
type ExecutorOption func(*Executor)

// WithConsole sets the host console the executor intercepts
func WithConsole(console *Console) ExecutorOption {
	return func(e *Executor) {
		e.console = console
	}
}

// WithMaxCodeLength sets the source length ceiling in characters
func WithMaxCodeLength(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxCodeLength = n
	}
}

// WithMaxOutputEntries sets the captured-output cap
func WithMaxOutputEntries(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxOutputEntries = n
	}
}

// WithMaxCallStackSize sets the runtime call stack limit
func WithMaxCallStackSize(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxCallStackSize = n
	}
}

// WithMetrics sets the Prometheus collectors
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithProgramCache sets the size and TTL of the compiled-program cache
func WithProgramCache(size int, ttl time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.programs = expirable.NewLRU[string, *goja.Program](size, nil, ttl)
	}
}

// WithBinding exposes a host value under name. The name must also be in the
// allow-list for submitted code to see it.
func WithBinding(name string, b Binding) ExecutorOption {
	return func(e *Executor) {
		e.bindings[name] = b
	}
}

// NewExecutor creates an Executor with the given defaults.
func NewExecutor(logger *zap.Logger, defaults Options, opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger:           logger,
		defaults:         DefaultOptions().Merge(&defaults),
		maxCodeLength:    DefaultMaxCodeLength,
		maxOutputEntries: DefaultMaxOutputEntries,
		maxCallStackSize: DefaultMaxCallStackSize,
		bindings:         make(map[string]Binding),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.console == nil {
		e.console = DefaultConsole()
	}
	if e.programs == nil {
		e.programs = expirable.NewLRU[string, *goja.Program](DefaultProgramCacheSize, nil, DefaultProgramCacheTTL)
	}

	return e
}

// Defaults returns the instance defaults that per-call options are merged over.
func (e *Executor) Defaults() Options {
	return e.defaults
}

// Execute validates, runs and reports on one submission. Every outcome,
// including validation failure, timeout and busy, is reported through the
// returned result.
//
// The deny-list and scope restrictions are a soft filter, not an isolation
// boundary. A timed-out run is interrupted between instructions, but a call
// into a host function cannot be interrupted until it returns.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{
		ID:       req.ID,
		Language: req.Language,
	}
	if result.ID == "" {
		result.ID = xid.New().String()
	}
	if result.Language == "" {
		result.Language = LanguageJavaScript
	}

	if !e.executing.CompareAndSwap(false, true) {
		e.metrics.busy()
		return e.finish(result, start, nil, nil, newError(KindBusy, "already executing"))
	}
	defer e.executing.Store(false)

	e.resetOutput()
	opts := e.defaults.Merge(req.Options)

	source, err := e.validate(result.Language, req.Code, opts)
	if err != nil {
		return e.finish(result, start, e.Output(), nil, err)
	}

	params := scopeNames(opts.AllowedGlobals)
	program, err := e.compile(source, params)
	if err != nil {
		return e.finish(result, start, e.Output(), nil, err)
	}

	interception, err := e.console.Intercept(ctx, e.record)
	if err != nil {
		return e.finish(result, start, e.Output(), nil, newError(KindCanceled, "%s", err.Error()))
	}
	defer interception.Release()

	value, err := e.run(ctx, program, params, allowedSet(opts.AllowedGlobals), opts.Timeout)
	return e.finish(result, start, e.Output(), value, err)
}

func (e *Executor) validate(language Language, code string, opts Options) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", newError(KindValidation, "code is empty")
	}
	if n := utf8.RuneCountInString(code); n > e.maxCodeLength {
		return "", newError(KindValidation, "code is too long: %d characters exceeds the limit of %d", n, e.maxCodeLength)
	}
	for _, pattern := range opts.DisallowedPatterns {
		if pattern.MatchString(code) {
			return "", newError(KindValidation, "code contains a disallowed pattern: %s", pattern.String())
		}
	}
	return reduce(language, code)
}

// Compile reports whether code parses as a function body in the execution
// scope of the instance defaults. It does not run anything.
func (e *Executor) Compile(language Language, code string) error {
	source, err := reduce(language, code)
	if err != nil {
		return err
	}
	_, err = e.compile(source, scopeNames(e.defaults.AllowedGlobals))
	return err
}

func (e *Executor) compile(source string, params []string) (*goja.Program, error) {
	key := strings.Join(params, ",") + "\x00" + source
	if program, ok := e.programs.Get(key); ok {
		e.metrics.cache("hit")
		return program, nil
	}
	e.metrics.cache("miss")

	program, err := goja.Compile("playground", wrapSource(source, params), false)
	if err != nil {
		return nil, newError(KindValidation, "syntax error: %s", syntaxMessage(err))
	}
	e.programs.Add(key, program)
	return program, nil
}

// wrapSource places code inside an async strict-mode function nested in a
// factory whose parameters are the scope bindings. The factory stays sloppy
// so that restricted names such as eval can be shadowed as parameters. The
// code starts on the first line so reported line numbers match the input.
func wrapSource(code string, params []string) string {
	return "(function(" + strings.Join(params, ", ") + `) { return (async function() { "use strict"; ` +
		code + "\n}).call(undefined); })"
}

func syntaxMessage(err error) string {
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return syntax.Error()
	}
	return err.Error()
}

func (e *Executor) record(level Level, args []any) {
	entry := ConsoleEntry{
		Level:     level,
		Args:      args,
		Message:   formatArgs(args),
		Timestamp: time.Now(),
	}

	e.mu.Lock()
	e.output = append(e.output, entry)
	if len(e.output) > e.maxOutputEntries {
		keep := e.maxOutputEntries / 2
		e.output = append([]ConsoleEntry(nil), e.output[len(e.output)-keep:]...)
	}
	e.mu.Unlock()

	e.metrics.console(level)
}

func (e *Executor) resetOutput() {
	e.mu.Lock()
	e.output = nil
	e.mu.Unlock()
}

// Output returns a copy of the captured-output buffer.
func (e *Executor) Output() []ConsoleEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ConsoleEntry, len(e.output))
	copy(out, e.output)
	return out
}

// ClearOutput empties the captured-output buffer.
func (e *Executor) ClearOutput() {
	e.resetOutput()
}

// Stats reports the buffer size and the timestamp of its last entry.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := Stats{OutputCount: len(e.output)}
	if n := len(e.output); n > 0 {
		last := e.output[n-1].Timestamp
		stats.LastExecution = &last
	}
	return stats
}

// IsExecuting reports whether an execution is in flight.
func (e *Executor) IsExecuting() bool {
	return e.executing.Load()
}

func (e *Executor) finish(result ExecutionResult, start time.Time, output []ConsoleEntry, value any, err error) ExecutionResult {
	if output == nil {
		output = []ConsoleEntry{}
	}
	result.Output = output
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Error = err.Error()
		result.Err = err
		result.ErrorKind = KindRuntime
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			result.ErrorKind = execErr.Kind
		}
		e.logger.Debug("execution failed",
			zap.String("id", result.ID),
			zap.String("language", string(result.Language)),
			zap.String("kind", string(result.ErrorKind)),
			zap.String("error", result.Error),
			zap.Int64("execution_time_ms", result.ExecutionTimeMs))
	} else {
		result.Success = true
		result.Value = value
		result.MemoryUsageBytes = estimateMemory(output, value)
		e.logger.Debug("execution completed",
			zap.String("id", result.ID),
			zap.String("language", string(result.Language)),
			zap.Int("output_entries", len(output)),
			zap.Int64("execution_time_ms", result.ExecutionTimeMs))
	}

	e.metrics.observe(result)
	return result
}

// scopeNames returns the sorted factory parameter list: every allowed name
// plus every restricted name, all valid identifiers.
func scopeNames(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed)+len(restrictedGlobals))
	names := make([]string, 0, len(allowed)+len(restrictedGlobals))
	for _, list := range [][]string{allowed, restrictedGlobals} {
		for _, name := range list {
			if _, dup := seen[name]; dup || !isIdentifier(name) {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func allowedSet(allowed []string) map[string]bool {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return set
}

var reservedWords = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true, "continue": true,
	"debugger": true, "default": true, "delete": true, "do": true, "else": true, "enum": true,
	"export": true, "extends": true, "false": true, "finally": true, "for": true, "function": true,
	"if": true, "import": true, "in": true, "instanceof": true, "new": true, "null": true,
	"return": true, "super": true, "switch": true, "this": true, "throw": true, "true": true,
	"try": true, "typeof": true, "var": true, "void": true, "while": true, "with": true,
	"yield": true, "let": true, "static": true, "await": true, "arguments": true,
}

func isIdentifier(name string) bool {
	if name == "" || reservedWords[name] {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
