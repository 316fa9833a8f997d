package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// exporter converts runtime values into JSON-safe Go values. It must only be
// used on the goroutine that owns the runtime.
type exporter struct {
	vm        *goja.Runtime
	stringify goja.Callable
}

func newExporter(vm *goja.Runtime) *exporter {
	ex := &exporter{vm: vm}
	if global := vm.Get("JSON"); global != nil {
		ex.stringify, _ = goja.AssertFunction(global.ToObject(vm).Get("stringify"))
	}
	return ex
}

func (ex *exporter) value(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "[Function]"
	}
	if obj, ok := v.(*goja.Object); ok {
		return ex.object(obj)
	}
	switch x := v.Export().(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return v.String()
		}
		return x
	case int64, string, bool:
		return x
	default:
		return v.String()
	}
}

func (ex *exporter) object(obj *goja.Object) any {
	if obj.ClassName() == "Error" || ex.stringify == nil {
		return obj.String()
	}
	out, err := ex.stringify(goja.Undefined(), obj)
	if err != nil || out == nil || goja.IsUndefined(out) {
		return obj.String()
	}
	var decoded any
	if err := json.Unmarshal([]byte(out.String()), &decoded); err != nil {
		return obj.String()
	}
	return decoded
}

// Limits for structured exports: nesting depth and the total number of
// values visited in one walk.
const (
	maxStructureDepth = 16
	maxStructureNodes = 10_000
)

// structureWalk tracks one structured export. Objects on the current path
// are marked so self-references end in "[Circular]"; the node budget bounds
// shared references that fan out without forming a cycle.
type structureWalk struct {
	ex     *exporter
	onPath map[*goja.Object]bool
	nodes  int
}

// structured walks objects property by property, keeping functions as a
// "[Function]" marker where JSON serialisation would drop them.
func (ex *exporter) structured(v goja.Value) any {
	w := &structureWalk{ex: ex, onPath: make(map[*goja.Object]bool)}
	return w.walk(v, 0)
}

func (w *structureWalk) walk(v goja.Value, depth int) any {
	w.nodes++
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "[Function]"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return w.ex.value(v)
	}
	if w.onPath[obj] {
		return "[Circular]"
	}
	if depth >= maxStructureDepth || w.nodes > maxStructureNodes {
		return "[Object]"
	}

	w.onPath[obj] = true
	defer delete(w.onPath, obj)

	if obj.ClassName() == "Array" {
		n := obj.Get("length").ToInteger()
		items := []any{}
		for i := int64(0); i < n; i++ {
			if w.nodes > maxStructureNodes {
				items = append(items, "[Truncated]")
				break
			}
			items = append(items, w.walk(obj.Get(strconv.FormatInt(i, 10)), depth+1))
		}
		return items
	}
	fields := make(map[string]any)
	for _, key := range obj.Keys() {
		if w.nodes > maxStructureNodes {
			fields[key] = "[Truncated]"
			continue
		}
		fields[key] = w.walk(obj.Get(key), depth+1)
	}
	return fields
}

func (ex *exporter) values(args []goja.Value) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		out[i] = ex.value(arg)
	}
	return out
}

// thrownMessage extracts the message of a thrown value: the message property
// of Error-like objects, the string form of anything else. A value whose
// message or string conversion throws is reported generically.
func thrownMessage(v goja.Value) (message string) {
	defer func() {
		if r := recover(); r != nil {
			if thrownPanic(r) == nil {
				panic(r)
			}
			message = "uncaught exception"
		}
	}()
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return v.String()
}

// thrownPanic returns the recovered panic value as an error when it is a
// script-level throw or interrupt raised while Go code was calling into the
// runtime, and nil for any other panic.
func thrownPanic(r any) error {
	switch x := r.(type) {
	case *goja.Exception:
		return x
	case *goja.InterruptedError:
		return x
	default:
		return nil
	}
}

// runtimeError classifies an error raised while running a program.
func runtimeError(err error) *ExecutionError {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return newError(KindRuntime, "%s", thrownMessage(exception.Value()))
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return newError(KindRuntime, "interrupted: %v", interrupted.Value())
	}
	return newError(KindRuntime, "%s", err.Error())
}

// formatArgs renders console arguments as one line: strings verbatim,
// structured values as indented JSON.
func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		switch x := arg.(type) {
		case nil:
			parts[i] = "null"
		case string:
			parts[i] = x
		case map[string]any, []any:
			b, err := json.MarshalIndent(x, "", "  ")
			if err != nil {
				parts[i] = fmt.Sprint(x)
				continue
			}
			parts[i] = string(b)
		default:
			parts[i] = fmt.Sprint(x)
		}
	}
	return strings.Join(parts, " ")
}

// memoryFactor scales the serialized size into the displayed estimate.
const memoryFactor = 2

// estimateMemory is a display-only heuristic: serialized size of the
// captured output and returned value times a constant. It does not reflect
// heap usage and must not be used to enforce limits.
func estimateMemory(output []ConsoleEntry, value any) int64 {
	b, err := json.Marshal(struct {
		Output []ConsoleEntry `json:"output"`
		Value  any            `json:"value"`
	}{output, value})
	if err != nil {
		return 0
	}
	return int64(len(b)) * memoryFactor
}
