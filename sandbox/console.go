package sandbox

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Sink receives the arguments of console calls on one channel.
type Sink interface {
	Write(level Level, args []any)
}

// LoggerSink forwards console calls to a zap logger.
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink creates a sink writing to logger.
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Write logs the call at the matching zap level.
func (s *LoggerSink) Write(level Level, args []any) {
	msg := formatArgs(args)
	fields := []zap.Field{zap.String("channel", string(level))}
	switch level {
	case LevelError:
		s.logger.Error(msg, fields...)
	case LevelWarn:
		s.logger.Warn(msg, fields...)
	case LevelInfo:
		s.logger.Info(msg, fields...)
	default:
		s.logger.Debug(msg, fields...)
	}
}

// Console is the host console shared by every executor in the process.
// Interception takes an exclusive ownership window, so executors sharing a
// console are serialised around their run step.
type Console struct {
	owner chan struct{}

	mu    sync.RWMutex
	sinks map[Level]Sink
}

// NewConsole creates a console whose channels forward to logger.
func NewConsole(logger *zap.Logger) *Console {
	c := &Console{
		owner: make(chan struct{}, 1),
		sinks: make(map[Level]Sink, len(Levels)),
	}
	for _, level := range Levels {
		c.sinks[level] = NewLoggerSink(logger.With(zap.String("source", "console")))
	}
	return c
}

var sharedConsole = sync.OnceValue(func() *Console {
	return NewConsole(zap.L())
})

// DefaultConsole returns the process-wide console used by executors that
// were not given one explicitly.
func DefaultConsole() *Console {
	return sharedConsole()
}

// Bind replaces the sink of one channel.
func (c *Console) Bind(level Level, sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks[level] = sink
}

// Sink returns the current binding of a channel.
func (c *Console) Sink(level Level) Sink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sinks[level]
}

// Bindings returns a copy of the current channel bindings.
func (c *Console) Bindings() map[Level]Sink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bindings := make(map[Level]Sink, len(c.sinks))
	for level, sink := range c.sinks {
		bindings[level] = sink
	}
	return bindings
}

// Write dispatches a call to the current binding of level.
func (c *Console) Write(level Level, args []any) {
	if sink := c.Sink(level); sink != nil {
		sink.Write(level, args)
	}
}

// Interception is a scoped takeover of the console. Release restores the
// original bindings and ends the ownership window.
type Interception struct {
	console   *Console
	originals map[Level]Sink
	once      sync.Once
}

// Intercept waits for exclusive ownership of the console, then rebinds all
// four channels so every call is passed to record and forwarded to the
// original binding.
func (c *Console) Intercept(ctx context.Context, record func(Level, []any)) (*Interception, error) {
	select {
	case c.owner <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for console: %w", ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	originals := make(map[Level]Sink, len(c.sinks))
	for _, level := range Levels {
		original := c.sinks[level]
		originals[level] = original
		c.sinks[level] = &recordingSink{record: record, forward: original}
	}

	return &Interception{console: c, originals: originals}, nil
}

// Originals returns the bindings that were in place before interception.
func (i *Interception) Originals() map[Level]Sink {
	return i.originals
}

// Release restores the original bindings. It is safe to call more than once.
func (i *Interception) Release() {
	i.once.Do(func() {
		i.console.mu.Lock()
		for level, sink := range i.originals {
			i.console.sinks[level] = sink
		}
		i.console.mu.Unlock()
		<-i.console.owner
	})
}

type recordingSink struct {
	record  func(Level, []any)
	forward Sink
}

func (s *recordingSink) Write(level Level, args []any) {
	s.record(level, args)
	if s.forward != nil {
		s.forward.Write(level, args)
	}
}
