package scripthost

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/icyseptember2237/scripthost/webassembly"
	"github.com/tetratelabs/wazero/api"
)

// defineWasmErrors adds the WebAssembly error classes to a namespace object.
const defineWasmErrors = `(function (ns) {
	["CompileError", "LinkError", "RuntimeError"].forEach(function (name) {
		var cls = class extends Error {
			constructor(message) {
				super(message);
				this.name = name;
			}
		};
		Object.defineProperty(cls, "name", {value: name});
		ns[name] = cls;
	});
})`

var wasmErrorClass = map[webassembly.ErrorKind]string{
	webassembly.KindCompile: "CompileError",
	webassembly.KindLink:    "LinkError",
	webassembly.KindRuntime: "RuntimeError",
}

// wasmBinding is the WebAssembly namespace of a JsEngine.
type wasmBinding struct {
	engine       *JsEngine
	vm           *goja.Runtime
	rt           *webassembly.Runtime
	modules      map[*goja.Object]*webassembly.Module
	moduleCtor   *goja.Object
	instanceCtor *goja.Object
	errorCtors   map[webassembly.ErrorKind]*goja.Object
}

func (e *JsEngine) installWebAssembly() error {
	rt, err := webassembly.New(e.opts.context(), webassembly.Config{
		Stdout:     e.opts.Stdout,
		Stderr:     e.opts.Stderr,
		CacheDir:   e.opts.CacheDir,
		BuildID:    e.opts.buildID(),
		Baseline:   e.features.WasmBaseline,
		Optimizing: e.features.WasmOptimizing,
	})
	if err != nil {
		return err
	}
	w := &wasmBinding{
		engine:     e,
		vm:         e.vm,
		rt:         rt,
		modules:    make(map[*goja.Object]*webassembly.Module),
		errorCtors: make(map[webassembly.ErrorKind]*goja.Object),
	}
	e.wasm = w

	ns := e.vm.NewObject()
	define, err := e.vm.RunString(defineWasmErrors)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(define)
	if !ok {
		return errors.New("error class factory is not a function")
	}
	if _, err := fn(goja.Undefined(), ns); err != nil {
		return err
	}
	for kind, name := range wasmErrorClass {
		w.errorCtors[kind] = ns.Get(name).ToObject(e.vm)
	}

	w.moduleCtor = e.vm.ToValue(w.newModule).ToObject(e.vm)
	w.instanceCtor = e.vm.ToValue(w.newInstance).ToObject(e.vm)
	for name, v := range map[string]any{
		"imports": w.moduleImports,
		"exports": w.moduleExports,
	} {
		if err := w.moduleCtor.Set(name, v); err != nil {
			return err
		}
	}
	for name, v := range map[string]any{
		"Module":      w.moduleCtor,
		"Instance":    w.instanceCtor,
		"validate":    w.validate,
		"compile":     w.compile,
		"instantiate": w.instantiate,
	} {
		if err := ns.Set(name, v); err != nil {
			return err
		}
	}
	return e.vm.Set("WebAssembly", ns)
}

func (w *wasmBinding) close() error {
	return w.rt.Close()
}

func (w *wasmBinding) validate(call goja.FunctionCall) goja.Value {
	return w.vm.ToValue(w.rt.Validate(w.bufferSource(call.Argument(0))))
}

func (w *wasmBinding) newModule(call goja.ConstructorCall) *goja.Object {
	m, err := w.rt.Compile(w.bufferSource(call.Argument(0)))
	if err != nil {
		panic(w.jsError(err))
	}
	w.modules[call.This] = m
	return nil
}

func (w *wasmBinding) moduleImports(call goja.FunctionCall) goja.Value {
	m := w.moduleOf(call.Argument(0))
	var items []any
	for _, imp := range m.Imports() {
		d := w.vm.NewObject()
		_ = d.Set("module", imp.Module)
		_ = d.Set("name", imp.Name)
		_ = d.Set("kind", imp.Kind)
		items = append(items, d)
	}
	return w.vm.NewArray(items...)
}

func (w *wasmBinding) moduleExports(call goja.FunctionCall) goja.Value {
	m := w.moduleOf(call.Argument(0))
	var items []any
	for _, exp := range m.Exports() {
		d := w.vm.NewObject()
		_ = d.Set("name", exp.Name)
		_ = d.Set("kind", exp.Kind)
		items = append(items, d)
	}
	return w.vm.NewArray(items...)
}

func (w *wasmBinding) newInstance(call goja.ConstructorCall) *goja.Object {
	m := w.moduleOf(call.Argument(0))
	inst, err := w.rt.Instantiate(m, w.imports(m, call.Argument(1)))
	if err != nil {
		panic(w.rethrow(err))
	}
	_ = call.This.Set("exports", w.exportsObject(inst))
	return nil
}

func (w *wasmBinding) compile(call goja.FunctionCall) goja.Value {
	source := call.Argument(0)
	return w.settle(func() (goja.Value, error) {
		return w.vm.New(w.moduleCtor, source)
	})
}

// instantiate accepts a Module, resolving to an Instance, or a buffer source,
// resolving to {module, instance}.
func (w *wasmBinding) instantiate(call goja.FunctionCall) goja.Value {
	source, importObject := call.Argument(0), call.Argument(1)
	return w.settle(func() (goja.Value, error) {
		if obj, ok := source.(*goja.Object); ok && w.modules[obj] != nil {
			return w.vm.New(w.instanceCtor, obj, importObject)
		}
		module, err := w.vm.New(w.moduleCtor, source)
		if err != nil {
			return nil, err
		}
		instance, err := w.vm.New(w.instanceCtor, module, importObject)
		if err != nil {
			return nil, err
		}
		result := w.vm.NewObject()
		_ = result.Set("module", module)
		_ = result.Set("instance", instance)
		return result, nil
	})
}

// settle runs fn synchronously and returns a promise settled with its result.
func (w *wasmBinding) settle(fn func() (goja.Value, error)) goja.Value {
	value, err := fn()
	method := "resolve"
	if err != nil {
		var ex *goja.Exception
		if !errors.As(err, &ex) {
			return w.engine.abort(err)
		}
		value, method = ex.Value(), "reject"
	}
	promise := w.vm.Get("Promise").ToObject(w.vm)
	settle, ok := goja.AssertFunction(promise.Get(method))
	if !ok {
		panic(w.vm.NewTypeError("Promise." + method + " is not a function"))
	}
	p, err := settle(promise, value)
	if err != nil {
		panic(w.vm.NewGoError(err))
	}
	return p
}

func (w *wasmBinding) moduleOf(v goja.Value) *webassembly.Module {
	if obj, ok := v.(*goja.Object); ok {
		if m := w.modules[obj]; m != nil {
			return m
		}
	}
	panic(w.vm.NewTypeError("WebAssembly: argument must be a WebAssembly.Module"))
}

// bufferSource returns the bytes of an ArrayBuffer or a view over one.
func (w *wasmBinding) bufferSource(v goja.Value) []byte {
	if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		switch x := v.Export().(type) {
		case goja.ArrayBuffer:
			return x.Bytes()
		case []byte:
			return x
		}
		if obj, ok := v.(*goja.Object); ok {
			if b := obj.Get("buffer"); b != nil {
				if ab, ok := b.Export().(goja.ArrayBuffer); ok {
					data := ab.Bytes()
					off := obj.Get("byteOffset").ToInteger()
					n := obj.Get("byteLength").ToInteger()
					if off >= 0 && n >= 0 && off+n <= int64(len(data)) {
						return data[off : off+n]
					}
				}
			}
		}
	}
	panic(w.vm.NewTypeError("WebAssembly: argument must be a BufferSource"))
}

// imports collects the functions of importObject that m needs. Modules the
// object does not mention are left to the runtime.
func (w *wasmBinding) imports(m *webassembly.Module, importObject goja.Value) webassembly.Imports {
	out := webassembly.Imports{}
	if importObject == nil || goja.IsUndefined(importObject) || goja.IsNull(importObject) {
		return out
	}
	obj := importObject.ToObject(w.vm)
	for _, imp := range m.Imports() {
		if imp.Kind != webassembly.ExternFunction {
			continue
		}
		ns := obj.Get(imp.Module)
		if ns == nil || goja.IsUndefined(ns) || goja.IsNull(ns) {
			continue
		}
		if out[imp.Module] == nil {
			out[imp.Module] = make(map[string]webassembly.HostFunc)
		}
		fn, ok := goja.AssertFunction(ns.ToObject(w.vm).Get(imp.Name))
		if !ok {
			panic(w.newError(webassembly.KindLink, fmt.Sprintf("import %s.%s is not a function", imp.Module, imp.Name)))
		}
		out[imp.Module][imp.Name] = w.importFunc(fn, imp.Params, imp.Results)
	}
	return out
}

func (w *wasmBinding) importFunc(fn goja.Callable, params, results []api.ValueType) webassembly.HostFunc {
	return func(_ context.Context, raw []uint64) ([]uint64, error) {
		args := make([]goja.Value, len(params))
		for i, t := range params {
			args[i] = w.fromWasm(raw[i], t)
		}
		ret, err := fn(goja.Undefined(), args...)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, nil
		}
		return []uint64{w.toWasm(ret, results[0])}, nil
	}
}

func (w *wasmBinding) exportsObject(inst *webassembly.Instance) *goja.Object {
	exports := w.vm.NewObject()
	for _, exp := range inst.Module().Exports() {
		switch exp.Kind {
		case webassembly.ExternFunction:
			_ = exports.Set(exp.Name, w.exportFunc(inst, exp))
		case webassembly.ExternMemory:
			name := exp.Name
			mem := w.vm.NewObject()
			_ = mem.DefineAccessorProperty("buffer",
				w.vm.ToValue(func(goja.FunctionCall) goja.Value {
					view, _ := inst.Memory(name)
					return w.vm.ToValue(w.vm.NewArrayBuffer(view))
				}),
				nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
			_ = exports.Set(name, mem)
		}
	}
	return exports
}

func (w *wasmBinding) exportFunc(inst *webassembly.Instance, exp webassembly.Export) goja.Value {
	return w.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		params := make([]uint64, len(exp.Params))
		for i, t := range exp.Params {
			params[i] = w.toWasm(call.Argument(i), t)
		}
		res, err := inst.Call(exp.Name, params...)
		if w.engine.fatal != nil {
			return w.engine.abort(w.engine.fatal)
		}
		if err != nil {
			panic(w.rethrow(err))
		}
		if len(res) == 0 {
			return goja.Undefined()
		}
		return w.fromWasm(res[0], exp.Results[0])
	})
}

// rethrow keeps script exceptions raised inside imported functions intact.
func (w *wasmBinding) rethrow(err error) any {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex
	}
	return w.jsError(err)
}

func (w *wasmBinding) jsError(err error) *goja.Object {
	kind := webassembly.KindRuntime
	var we *webassembly.Error
	if errors.As(err, &we) {
		kind = we.Kind
	}
	return w.newError(kind, err.Error())
}

func (w *wasmBinding) newError(kind webassembly.ErrorKind, msg string) *goja.Object {
	obj, err := w.vm.New(w.errorCtors[kind], w.vm.ToValue(msg))
	if err != nil {
		return w.vm.NewGoError(errors.New(msg))
	}
	return obj
}

func (w *wasmBinding) toWasm(v goja.Value, t api.ValueType) uint64 {
	if v == nil {
		v = goja.Undefined()
	}
	switch t {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(v.ToInteger()))
	case api.ValueTypeI64:
		return api.EncodeI64(v.ToInteger())
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v.ToFloat()))
	case api.ValueTypeF64:
		return api.EncodeF64(v.ToFloat())
	}
	panic(w.vm.NewTypeError("WebAssembly: unsupported value type " + api.ValueTypeName(t)))
}

func (w *wasmBinding) fromWasm(raw uint64, t api.ValueType) goja.Value {
	switch t {
	case api.ValueTypeI32:
		return w.vm.ToValue(api.DecodeI32(raw))
	case api.ValueTypeI64:
		return w.vm.ToValue(int64(raw))
	case api.ValueTypeF32:
		return w.vm.ToValue(api.DecodeF32(raw))
	case api.ValueTypeF64:
		return w.vm.ToValue(api.DecodeF64(raw))
	}
	return goja.Undefined()
}
