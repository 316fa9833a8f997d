package sandbox

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/playground/config"
)

// OptionsFromConfig builds execution defaults from the executor configuration.
func OptionsFromConfig(cfg *config.ExecutorConfig) (Options, error) {
	opts := Options{
		Timeout:        time.Duration(cfg.TimeoutMs) * time.Millisecond,
		MaxMemoryBytes: cfg.MaxMemoryBytes,
	}
	if len(cfg.AllowedGlobals) > 0 {
		opts.AllowedGlobals = cfg.AllowedGlobals
	}
	if len(cfg.DisallowedPatterns) > 0 {
		patterns, err := CompilePatterns(cfg.DisallowedPatterns)
		if err != nil {
			return Options{}, err
		}
		opts.DisallowedPatterns = patterns
	}
	return opts, nil
}

// TimeoutOverride turns a per-call timeout in milliseconds into execution
// overrides. Zero inherits the defaults. Negative values and values above
// limit are rejected.
func TimeoutOverride(timeoutMs int, limit time.Duration) (*Options, error) {
	switch {
	case timeoutMs < 0:
		return nil, fmt.Errorf("timeout_ms must be positive, got: %d", timeoutMs)
	case timeoutMs == 0:
		return nil, nil
	case int64(timeoutMs) > limit.Milliseconds():
		return nil, fmt.Errorf("timeout_ms must not exceed %d, got: %d", limit.Milliseconds(), timeoutMs)
	}
	return &Options{Timeout: time.Duration(timeoutMs) * time.Millisecond}, nil
}

func executorOptions(cfg *config.ExecutorConfig, console *Console, metrics *Metrics) []ExecutorOption {
	return []ExecutorOption{
		WithConsole(console),
		WithMetrics(metrics),
		WithMaxCodeLength(cfg.MaxCodeLength),
		WithMaxOutputEntries(cfg.MaxOutputEntries),
		WithMaxCallStackSize(cfg.MaxCallStackSize),
		WithProgramCache(cfg.ProgramCacheSize, cfg.ProgramCacheTTL),
	}
}

// NewComponentExecutorFromConfig creates the component executor described by the configuration
func NewComponentExecutorFromConfig(logger *zap.Logger, cfg *config.Config, console *Console, metrics *Metrics) (*ComponentExecutor, error) {
	defaults, err := OptionsFromConfig(&cfg.Executor)
	if err != nil {
		return nil, fmt.Errorf("invalid executor configuration: %w", err)
	}
	return NewComponentExecutor(logger, defaults, executorOptions(&cfg.Executor, console, metrics)...), nil
}
