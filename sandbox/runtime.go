package sandbox

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

type outcome struct {
	value any
	err   error
}

// run executes a compiled program on a fresh runtime and event loop, racing
// its settle against the timeout. Timers and promise jobs are serviced by the
// loop; any work still pending when the body settles is discarded.
func (e *Executor) run(ctx context.Context, program *goja.Program, params []string, allowed map[string]bool, timeout time.Duration) (any, error) {
	loop := eventloop.NewEventLoop(eventloop.EnableConsole(false))
	loop.Start()
	defer loop.Stop()

	settled := make(chan outcome, 1)
	settle := func(o outcome) {
		select {
		case settled <- o:
		default:
		}
	}

	// A pending interrupt is consumed by the first Run* call that sees it,
	// which may be a binding set up before the body. aborted keeps the
	// decision so the body is never entered after it.
	var aborted atomic.Bool
	abort := func(vm *goja.Runtime, reason string) {
		aborted.Store(true)
		vm.Interrupt(reason)
	}

	started := make(chan *goja.Runtime, 1)
	loop.RunOnLoop(func(vm *goja.Runtime) {
		started <- vm
		e.evaluate(vm, program, params, allowed, aborted.Load, settle)
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// The job always sends its runtime first, so waiting on started after a
	// timeout or cancellation is bounded.
	var vm *goja.Runtime
	select {
	case vm = <-started:
	case <-timer.C:
		abort(<-started, "execution timeout")
		return nil, newError(KindTimeout, "timed out after %dms", timeout.Milliseconds())
	case <-ctx.Done():
		abort(<-started, "execution canceled")
		return nil, newError(KindCanceled, "execution canceled: %v", ctx.Err())
	}

	select {
	case o := <-settled:
		return o.value, o.err
	case <-timer.C:
		abort(vm, "execution timeout")
		return nil, newError(KindTimeout, "timed out after %dms", timeout.Milliseconds())
	case <-ctx.Done():
		abort(vm, "execution canceled")
		return nil, newError(KindCanceled, "execution canceled: %v", ctx.Err())
	}
}

func (e *Executor) evaluate(vm *goja.Runtime, program *goja.Program, params []string, allowed map[string]bool, aborted func() bool, settle func(outcome)) {
	// Exporting a result may call accessors from Go, which throw as panics.
	// The loop goroutine must survive them.
	defer func() {
		if r := recover(); r != nil {
			err := thrownPanic(r)
			if err == nil {
				panic(r)
			}
			settle(outcome{err: runtimeError(err)})
		}
	}()

	vm.SetMaxCallStackSize(e.maxCallStackSize)
	_ = vm.GlobalObject().Delete("require")

	ex := newExporter(vm)

	factory, err := vm.RunProgram(program)
	if err != nil {
		settle(outcome{err: runtimeError(err)})
		return
	}
	fn, ok := goja.AssertFunction(factory)
	if !ok {
		settle(outcome{err: newError(KindRuntime, "program did not produce a function")})
		return
	}

	args := make([]goja.Value, len(params))
	for i, name := range params {
		args[i] = e.bind(vm, ex, name, allowed[name])
	}

	if aborted() {
		settle(outcome{err: newError(KindRuntime, "interrupted before start")})
		return
	}

	ret, err := fn(goja.Undefined(), args...)
	if err != nil {
		settle(outcome{err: runtimeError(err)})
		return
	}

	promise, ok := ret.Export().(*goja.Promise)
	if !ok {
		settle(outcome{value: ex.value(ret)})
		return
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		settle(outcome{value: ex.value(promise.Result())})
	case goja.PromiseStateRejected:
		settle(outcome{err: newError(KindRuntime, "%s", thrownMessage(promise.Result()))})
	default:
		then, ok := goja.AssertFunction(ret.ToObject(vm).Get("then"))
		if !ok {
			settle(outcome{err: newError(KindRuntime, "result is not awaitable")})
			return
		}
		onFulfilled := func(call goja.FunctionCall) goja.Value {
			settle(outcome{value: ex.value(call.Argument(0))})
			return goja.Undefined()
		}
		onRejected := func(call goja.FunctionCall) goja.Value {
			settle(outcome{err: newError(KindRuntime, "%s", thrownMessage(call.Argument(0)))})
			return goja.Undefined()
		}
		if _, err := then(ret, vm.ToValue(onFulfilled), vm.ToValue(onRejected)); err != nil {
			settle(outcome{err: runtimeError(err)})
		}
	}
}

// bind resolves one scope parameter. Names outside the allow-list are
// shadowed with undefined; allowed names with no value are undefined too.
func (e *Executor) bind(vm *goja.Runtime, ex *exporter, name string, allowed bool) goja.Value {
	if !allowed {
		return goja.Undefined()
	}
	if b, ok := e.bindings[name]; ok {
		return b(vm)
	}
	switch name {
	case "console":
		return e.consoleObject(vm, ex)
	case "setInterval":
		return flooredInterval(vm)
	}
	if v := vm.Get(name); v != nil {
		return v
	}
	return goja.Undefined()
}

func (e *Executor) consoleObject(vm *goja.Runtime, ex *exporter) goja.Value {
	obj := vm.NewObject()
	for _, level := range Levels {
		_ = obj.Set(string(level), func(call goja.FunctionCall) goja.Value {
			e.console.Write(level, ex.values(call.Arguments))
			return goja.Undefined()
		})
	}
	_ = obj.Set("debug", obj.Get(string(LevelLog)))
	return obj
}

// flooredInterval wraps the loop's setInterval so repeating timers fire no
// more often than MinIntervalDelay.
func flooredInterval(vm *goja.Runtime) goja.Value {
	original, ok := goja.AssertFunction(vm.Get("setInterval"))
	if !ok {
		return goja.Undefined()
	}
	floor := MinIntervalDelay.Milliseconds()
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		args := append([]goja.Value(nil), call.Arguments...)
		switch {
		case len(args) == 1:
			args = append(args, vm.ToValue(floor))
		case len(args) > 1 && args[1].ToInteger() < floor:
			args[1] = vm.ToValue(floor)
		}
		v, err := original(goja.Undefined(), args...)
		if err != nil {
			switch x := err.(type) {
			case *goja.Exception:
				panic(x)
			case *goja.InterruptedError:
				panic(x)
			}
			panic(vm.NewGoError(err))
		}
		return v
	})
}
