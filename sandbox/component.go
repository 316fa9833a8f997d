package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// VueGlobals are the component helpers added to the allow-list of a
// ComponentExecutor.
var VueGlobals = []string{"Vue", "ref", "reactive", "computed", "watch", "onMounted", "onUnmounted", "defineComponent"}

// DefaultExtractTimeout bounds the evaluation of an extracted component literal.
const DefaultExtractTimeout = 500 * time.Millisecond

// vueShim is a minimal stand-in for the Vue composition helpers: refs are
// plain boxes, reactive returns its argument, watchers and lifecycle hooks
// are inert.
const vueShim = `(function() {
	function ref(value) { return { value: value }; }
	function reactive(target) { return target; }
	function computed(source) {
		return { get value() { return typeof source === "function" ? source() : source.get(); } };
	}
	function watch() { return function() {}; }
	function onMounted() {}
	function onUnmounted() {}
	function defineComponent(options) { return options; }
	var api = { ref: ref, reactive: reactive, computed: computed, watch: watch,
		onMounted: onMounted, onUnmounted: onUnmounted, defineComponent: defineComponent };
	api.Vue = api;
	return api;
})()`

var vueShimProgram = goja.MustCompile("vue-shim", vueShim, true)

func vueBinding(name string) Binding {
	return func(vm *goja.Runtime) goja.Value {
		api, err := vm.RunProgram(vueShimProgram)
		if err != nil {
			return goja.Undefined()
		}
		return api.ToObject(vm).Get(name)
	}
}

// ComponentResult extends an execution result with the extracted component.
type ComponentResult struct {
	ExecutionResult
	Component any `json:"component,omitempty"`
}

// ComponentExecutor runs component-shaped submissions and, after a
// successful run, recovers the exported component options object.
type ComponentExecutor struct {
	logger         *zap.Logger
	exec           *Executor
	extractTimeout time.Duration
}

// NewComponentExecutor creates a ComponentExecutor whose allow-list is the
// given defaults plus VueGlobals.
func NewComponentExecutor(logger *zap.Logger, defaults Options, opts ...ExecutorOption) *ComponentExecutor {
	base := DefaultOptions().Merge(&defaults)
	defaults.AllowedGlobals = mergeNames(base.AllowedGlobals, VueGlobals)

	shims := make([]ExecutorOption, 0, len(VueGlobals)+len(opts))
	for _, name := range VueGlobals {
		shims = append(shims, WithBinding(name, vueBinding(name)))
	}

	return &ComponentExecutor{
		logger:         logger,
		exec:           NewExecutor(logger, defaults, append(shims, opts...)...),
		extractTimeout: DefaultExtractTimeout,
	}
}

// Execute runs a plain submission with the component allow-list.
func (c *ComponentExecutor) Execute(ctx context.Context, req ExecuteRequest) ExecutionResult {
	return c.exec.Execute(ctx, req)
}

// Executor returns the underlying executor.
func (c *ComponentExecutor) Executor() *Executor {
	return c.exec
}

// ExecuteComponent runs the first <script> block of code (or the whole text
// when there is none) with module syntax lowered, then tries to extract the
// component options. Extraction failure leaves Component nil.
func (c *ComponentExecutor) ExecuteComponent(ctx context.Context, code string, overrides *Options) ComponentResult {
	script := code
	if block, ok := ExtractScriptBlock(code); ok {
		script = block
	}

	result := ComponentResult{
		ExecutionResult: c.exec.Execute(ctx, ExecuteRequest{
			Code:     LowerModuleSyntax(script),
			Language: LanguageJavaScript,
			Options:  overrides,
		}),
	}
	if result.Success {
		result.Component = c.ExtractComponent(script)
	}
	return result
}

// ExtractComponent evaluates the component literal found in script in a
// fresh runtime with the Vue helpers bound. Literals referring to names
// outside the helpers, or taking longer than the extraction timeout, yield nil.
func (c *ComponentExecutor) ExtractComponent(script string) any {
	literal, ok := ExtractComponentLiteral(script)
	if !ok {
		return nil
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(DefaultMaxCallStackSize)
	for _, name := range VueGlobals {
		_ = vm.Set(name, vueBinding(name)(vm))
	}

	timer := time.AfterFunc(c.extractTimeout, func() {
		vm.Interrupt("component extraction timeout")
	})
	defer timer.Stop()

	value, err := vm.RunString("(" + literal + "\n)")
	if err != nil {
		c.logger.Debug("component extraction failed", zap.Error(err))
		return nil
	}
	return c.export(vm, value)
}

// export walks the extracted value. Accessors run during the walk, so a
// throwing or interrupted getter discards the whole component.
func (c *ComponentExecutor) export(vm *goja.Runtime, value goja.Value) (component any) {
	defer func() {
		if r := recover(); r != nil {
			err := thrownPanic(r)
			if err == nil {
				panic(r)
			}
			c.logger.Debug("component extraction failed", zap.Error(err))
			component = nil
		}
	}()
	return newExporter(vm).structured(value)
}

func mergeNames(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
