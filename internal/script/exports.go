package script

import (
	"strconv"

	"github.com/dop251/goja"

	"kumascript/internal/execution"
)

// exportsObject presents an exports container to a runtime. Writes from the
// owning runtime keep the raw value for its own reads and store a sealed
// copy in the container for everyone else.
type exportsObject struct {
	run     *jsRun
	exports *execution.Exports
	owned   bool
	raw     map[string]goja.Value
}

func (r *jsRun) wrapExports(exports *execution.Exports, owned bool) *goja.Object {
	if obj, ok := r.wrapped[exports]; ok {
		return obj
	}
	obj := r.vm.NewDynamicObject(&exportsObject{
		run:     r,
		exports: exports,
		owned:   owned,
		raw:     make(map[string]goja.Value),
	})
	r.wrapped[exports] = obj
	return obj
}

func (o *exportsObject) Get(key string) goja.Value {
	if v, ok := o.raw[key]; ok {
		return v
	}
	v, ok := o.exports.Get(key)
	if !ok {
		return nil
	}
	return o.run.vm.ToValue(v)
}

func (o *exportsObject) Set(key string, val goja.Value) bool {
	if !o.owned {
		return false
	}
	o.raw[key] = val
	o.exports.Set(key, o.run.seal(val))
	return true
}

func (o *exportsObject) Has(key string) bool {
	if _, ok := o.raw[key]; ok {
		return true
	}
	_, ok := o.exports.Get(key)
	return ok
}

func (o *exportsObject) Delete(key string) bool {
	return false
}

func (o *exportsObject) Keys() []string {
	return o.exports.Keys()
}

// sealedFunc is how an exported JavaScript function is seen outside the
// runtime that defined it.
type sealedFunc func(args ...interface{}) (interface{}, error)

// seal converts val into plain Go data. Functions become sealedFunc values
// that lock the runtime for the duration of each call.
func (r *jsRun) seal(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}

	if fn, ok := goja.AssertFunction(val); ok {
		return sealedFunc(func(args ...interface{}) (interface{}, error) {
			r.sealMu.Lock()
			defer r.sealMu.Unlock()

			jsArgs := make([]goja.Value, len(args))
			for i, a := range args {
				jsArgs[i] = r.vm.ToValue(a)
			}
			ret, err := fn(goja.Undefined(), jsArgs...)
			if err != nil {
				return nil, err
			}
			return r.seal(ret), nil
		})
	}

	obj, ok := val.(*goja.Object)
	if !ok {
		return val.Export()
	}

	switch obj.ClassName() {
	case "Array":
		length := int(obj.Get("length").ToInteger())
		out := make([]interface{}, length)
		for i := 0; i < length; i++ {
			out[i] = r.seal(obj.Get(strconv.Itoa(i)))
		}
		return out
	case "Object":
		out := make(map[string]interface{})
		for _, key := range obj.Keys() {
			out[key] = r.seal(obj.Get(key))
		}
		return out
	default:
		return obj.Export()
	}
}
