package script

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"kumascript/internal/common/errors"
	"kumascript/internal/common/logging"
	"kumascript/internal/execution"
)

// JSUnit is a compiled JavaScript macro. Each execution gets a fresh runtime.
type JSUnit struct {
	name    string
	program *goja.Program
}

// CompileJS compiles source. Syntax errors are reported here rather than at
// execution.
func CompileJS(name, source string) (*JSUnit, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid JavaScript in %s: %v", name, err))
	}
	return &JSUnit{name: name, program: program}, nil
}

// Name returns the macro name
func (u *JSUnit) Name() string {
	return u.name
}

// Execute runs the macro against the namespace of ec. Output is whatever the
// macro passed to print/write or, if it printed nothing, its completion value.
func (u *JSUnit) Execute(ctx context.Context, ec *execution.Context) (string, error) {
	r := newJSRun(u.name, ec)
	r.bind(ctx)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	value, err := r.vm.RunProgram(u.program)
	r.collectModuleExports()
	if err != nil {
		return "", r.executionError(err)
	}

	if r.printed {
		return r.out.String(), nil
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "", nil
	}
	return value.String(), nil
}

// jsRun is the state of one execution
type jsRun struct {
	name string
	ec   *execution.Context
	vm   *goja.Runtime

	out     strings.Builder
	printed bool

	// sealMu serializes calls into vm from exported functions
	sealMu *sync.Mutex

	module  *goja.Object
	exports *goja.Object
	wrapped map[*execution.Exports]*goja.Object
}

func newJSRun(name string, ec *execution.Context) *jsRun {
	return &jsRun{
		name:    name,
		ec:      ec,
		vm:      goja.New(),
		sealMu:  &sync.Mutex{},
		wrapped: make(map[*execution.Exports]*goja.Object),
	}
}

func (r *jsRun) bind(ctx context.Context) {
	vm := r.vm

	for name, value := range r.ec.Namespace() {
		switch v := value.(type) {
		case *execution.Exports:
			vm.Set(name, r.wrapExports(v, v == r.ec.Exports()))
		default:
			vm.Set(name, v)
		}
	}

	r.exports = r.wrapExports(r.ec.Exports(), true)
	r.module = vm.NewObject()
	r.module.Set("exports", r.exports)
	vm.Set("exports", r.exports)
	vm.Set("module", r.module)

	print := func(args ...interface{}) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		r.out.WriteString(strings.Join(parts, " "))
		r.printed = true
	}
	vm.Set("print", print)
	vm.Set("write", print)

	vm.Set("template", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		return vm.ToValue(r.ec.Template(ctx, name, callArguments(call.Arguments[min(1, len(call.Arguments)):])))
	})
	vm.Set("require", func(name string) *goja.Object {
		return r.wrapExports(r.ec.Require(ctx, name), false)
	})
	vm.Set("cacheFn", func(key string, ttl float64, compute goja.Callable) (interface{}, error) {
		return r.cacheFn(ctx, key, ttl, compute)
	})
	vm.Set("buildAPI", func(definition map[string]interface{}) map[string]interface{} {
		return r.ec.BuildAPI(definition).Members()
	})

	logger := r.ec.Logger()
	console := vm.NewObject()
	console.Set("log", func(args ...interface{}) {
		logger.Info(fmt.Sprint(args...))
	})
	console.Set("error", func(args ...interface{}) {
		logger.Warn(fmt.Sprint(args...))
	})
	vm.Set("console", console)
}

// cacheFn runs compute on this goroutine when the key misses. compute
// receives a callback it must call with the value, or may return the value.
func (r *jsRun) cacheFn(ctx context.Context, key string, ttl float64, compute goja.Callable) (interface{}, error) {
	expiry := time.Duration(ttl * float64(time.Second))
	return r.ec.CacheFn(ctx, key, expiry, func(ctx context.Context) (interface{}, error) {
		var (
			result interface{}
			called bool
		)
		next := func(value goja.Value) {
			if called {
				return
			}
			called = true
			if value != nil {
				result = value.Export()
			}
		}

		ret, err := compute(goja.Undefined(), r.vm.ToValue(next))
		if err != nil {
			return nil, err
		}
		if !called && ret != nil && !goja.IsUndefined(ret) {
			return ret.Export(), nil
		}
		if !called {
			return nil, errors.ValidationError(fmt.Sprintf("cacheFn compute for %q produced no value", key))
		}
		return result, nil
	})
}

// collectModuleExports merges a reassigned module.exports into the
// container. A non-object value is stored under "default".
func (r *jsRun) collectModuleExports() {
	value := r.module.Get("exports")
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return
	}
	if obj, ok := value.(*goja.Object); ok && obj == r.exports {
		return
	}

	sealed := r.seal(value)
	if m, ok := sealed.(map[string]interface{}); ok {
		r.ec.Exports().Merge(m)
		return
	}
	r.ec.Exports().Set("default", sealed)
}

func (r *jsRun) executionError(err error) error {
	if interrupted, ok := err.(*goja.InterruptedError); ok {
		return errors.TemplateExecutionError(r.name,
			errors.TimeoutError("script "+r.name, interrupted), "")
	}

	location := ""
	if exc, ok := err.(*goja.Exception); ok {
		for _, frame := range exc.Stack() {
			pos := frame.Position()
			if pos.Line > 0 {
				location = fmt.Sprintf("%s:%d:%d", r.name, pos.Line, pos.Column)
				break
			}
		}
	}
	logging.WithFields(logging.String("template", r.name)).Debug("Script failed", logging.Err(err))
	return errors.TemplateExecutionError(r.name, err, location)
}

// callArguments accepts both template(name, [a, b]) and template(name, a, b).
func callArguments(values []goja.Value) []interface{} {
	if len(values) == 1 {
		if obj, ok := values[0].(*goja.Object); ok && obj.ClassName() == "Array" {
			if list, ok := obj.Export().([]interface{}); ok {
				return list
			}
		}
	}
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		if goja.IsUndefined(v) {
			args = append(args, nil)
			continue
		}
		args = append(args, v.Export())
	}
	return args
}
