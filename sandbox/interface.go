package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Language identifies the dialect of submitted source.
type Language string

// Language constants
const (
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageVue        Language = "vue"
)

// ParseLanguage resolves a language tag. An empty tag means JavaScript.
func ParseLanguage(tag string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(tag))) {
	case "", LanguageJavaScript:
		return LanguageJavaScript, nil
	case LanguageTypeScript:
		return LanguageTypeScript, nil
	case LanguageVue:
		return LanguageVue, nil
	default:
		return "", fmt.Errorf("unsupported language: %s", tag)
	}
}

// Level is one of the four intercepted console channels.
type Level string

// Console levels
const (
	LevelLog   Level = "log"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Levels lists the console channels in a stable order.
var Levels = []Level{LevelLog, LevelInfo, LevelWarn, LevelError}

// Execution limits
const (
	DefaultTimeout          = 5 * time.Second
	DefaultMaxMemoryBytes   = 50 * 1024 * 1024
	DefaultMaxCodeLength    = 100_000
	DefaultMaxOutputEntries = 1000
	DefaultMaxCallStackSize = 500
	DefaultProgramCacheSize = 256
	DefaultProgramCacheTTL  = 10 * time.Minute
	MinIntervalDelay        = 100 * time.Millisecond
)

// DefaultAllowedGlobals are the bindings visible to submitted code.
var DefaultAllowedGlobals = []string{
	"console", "Math", "Date", "JSON", "Array", "Object", "String", "Number", "Boolean",
	"Promise", "RegExp", "Map", "Set", "WeakMap", "WeakSet",
	"setTimeout", "clearTimeout", "setInterval", "clearInterval",
}

// DefaultDisallowedPatterns is the ordered deny-list applied to raw source.
// It is a text filter, not a security boundary: it is unsuitable for
// untrusted multi-tenant input.
var DefaultDisallowedPatterns = []string{
	`\beval\s*\(`,
	`\bFunction\s*\(`,
	`XMLHttpRequest`,
	`\bfetch\s*\(`,
	`\bimport\s*\(`,
	`\brequire\s*\(`,
	`\bprocess\.`,
	`\bglobal\.`,
	`\bwindow\.`,
	`\bdocument\.`,
	`\blocation\.`,
	`\bhistory\.`,
	`\bnavigator\.`,
}

// restrictedGlobals are shadowed with undefined unless explicitly allowed.
var restrictedGlobals = []string{
	"eval", "Function", "XMLHttpRequest", "fetch", "require", "process",
	"window", "document", "global", "globalThis", "setImmediate", "clearImmediate",
	"setTimeout", "clearTimeout", "setInterval", "clearInterval",
}

// Options are the per-executor defaults and per-call overrides.
// In an override, zero values mean "inherit".
type Options struct {
	Timeout            time.Duration
	MaxMemoryBytes     int64
	AllowedGlobals     []string
	DisallowedPatterns []*regexp.Regexp
}

// DefaultOptions returns the stock execution options.
func DefaultOptions() Options {
	return Options{
		Timeout:            DefaultTimeout,
		MaxMemoryBytes:     DefaultMaxMemoryBytes,
		AllowedGlobals:     append([]string(nil), DefaultAllowedGlobals...),
		DisallowedPatterns: MustCompilePatterns(DefaultDisallowedPatterns),
	}
}

// Merge overlays the set fields of override onto o, field by field.
func (o Options) Merge(override *Options) Options {
	if override == nil {
		return o
	}
	merged := o
	if override.Timeout > 0 {
		merged.Timeout = override.Timeout
	}
	if override.MaxMemoryBytes > 0 {
		merged.MaxMemoryBytes = override.MaxMemoryBytes
	}
	if override.AllowedGlobals != nil {
		merged.AllowedGlobals = override.AllowedGlobals
	}
	if override.DisallowedPatterns != nil {
		merged.DisallowedPatterns = override.DisallowedPatterns
	}
	return merged
}

// CompilePatterns compiles deny-list sources, keeping their order.
func CompilePatterns(sources []string) ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("invalid disallowed pattern %q: %w", src, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// MustCompilePatterns is CompilePatterns for known-good sources.
func MustCompilePatterns(sources []string) []*regexp.Regexp {
	patterns, err := CompilePatterns(sources)
	if err != nil {
		panic(err)
	}
	return patterns
}

// ExecuteRequest represents one submission. ID is generated when empty.
type ExecuteRequest struct {
	ID       string
	Code     string
	Language Language
	Options  *Options
}

// ConsoleEntry is one intercepted console call.
type ConsoleEntry struct {
	Level     Level     `json:"level"`
	Args      []any     `json:"args"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionResult is produced exactly once per Execute call.
type ExecutionResult struct {
	ID               string         `json:"id"`
	Language         Language       `json:"language"`
	Success          bool           `json:"success"`
	Output           []ConsoleEntry `json:"output"`
	Error            string         `json:"error,omitempty"`
	ErrorKind        ErrorKind      `json:"error_kind,omitempty"`
	ExecutionTimeMs  int64          `json:"execution_time_ms"`
	MemoryUsageBytes int64          `json:"memory_usage_bytes,omitempty"`
	Value            any            `json:"value,omitempty"`

	// Err carries the typed failure for errors.Is checks.
	Err error `json:"-"`
}

// ExecutionMetrics summarises a result for display.
type ExecutionMetrics struct {
	ExecutionTimeMs  int64   `json:"execution_time_ms"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes"`
	CPUUsage         float64 `json:"cpu_usage"`
	OutputSize       int     `json:"output_size"`
	ErrorCount       int     `json:"error_count"`
	WarningCount     int     `json:"warning_count"`
}

// Metrics derives display metrics by counting output entries per level.
// CPU usage is not measured and is always zero.
func (r ExecutionResult) Metrics() ExecutionMetrics {
	m := ExecutionMetrics{
		ExecutionTimeMs:  r.ExecutionTimeMs,
		MemoryUsageBytes: r.MemoryUsageBytes,
		OutputSize:       len(r.Output),
	}
	for _, entry := range r.Output {
		switch entry.Level {
		case LevelError:
			m.ErrorCount++
		case LevelWarn:
			m.WarningCount++
		}
	}
	return m
}

// Stats describes the captured-output buffer.
type Stats struct {
	OutputCount   int        `json:"output_count"`
	LastExecution *time.Time `json:"last_execution,omitempty"`
}

// SandboxExecutor defines the interface for sandbox execution.
// Implementations never return failures other than through the result.
type SandboxExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) ExecutionResult
}

// ErrorKind classifies a failed execution.
type ErrorKind string

// Error kinds
const (
	KindValidation ErrorKind = "validation"
	KindTimeout    ErrorKind = "timeout"
	KindRuntime    ErrorKind = "runtime"
	KindBusy       ErrorKind = "busy"
	KindCanceled   ErrorKind = "canceled"
)

// Sentinel errors matched through ExecutionError.Unwrap.
var (
	ErrValidation = errors.New("validation error")
	ErrTimeout    = errors.New("timeout error")
	ErrRuntime    = errors.New("runtime error")
	ErrBusy       = errors.New("busy error")
	ErrCanceled   = errors.New("execution canceled")
)

// ExecutionError is the failure reported in ExecutionResult.Err.
type ExecutionError struct {
	Kind    ErrorKind
	Message string
}

func newError(kind ErrorKind, format string, args ...any) *ExecutionError {
	return &ExecutionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	switch e.Kind {
	case KindValidation:
		return ErrValidation
	case KindTimeout:
		return ErrTimeout
	case KindBusy:
		return ErrBusy
	case KindCanceled:
		return ErrCanceled
	default:
		return ErrRuntime
	}
}
