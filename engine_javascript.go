package scripthost

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"
)

const (
	TypeEngineJs = "js"
)

// JsEngine runs modern JavaScript on goja.
type JsEngine struct {
	vm       *goja.Runtime
	opts     Options
	features Features
	wasm     *wasmBinding
	// pending is the uncaught exception of the last evaluation.
	pending *goja.Exception
	// fatal is the host error that interrupted the running script.
	fatal error
	ready bool
}

func (e *JsEngine) New(opts Options) error {
	e.opts = opts
	e.ready = false
	return nil
}

func (e *JsEngine) NewContext() error {
	if e.vm != nil {
		return errors.New("js: context already created")
	}
	e.vm = goja.New()
	return nil
}

func (e *JsEngine) SetFeatures(f Features) error {
	if f.Wasm && !f.WasmBaseline && !f.WasmOptimizing {
		return errors.New("js: wasm needs at least one compilation tier")
	}
	e.features = f
	return nil
}

func (e *JsEngine) CreateGlobal() error {
	if e.vm == nil {
		return errors.New("js: no context")
	}

	registry := require.NewRegistry(require.WithLoader(e.loadSource))
	if e.opts.Console {
		registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(consolePrinter{
			stdout: e.opts.Stdout,
			stderr: e.opts.Stderr,
		}))
	}
	registry.Enable(e.vm)
	if e.opts.Console {
		console.Enable(e.vm)
	}

	if e.features.Wasm {
		if err := e.installWebAssembly(); err != nil {
			return fmt.Errorf("js: install WebAssembly: %w", err)
		}
	}
	e.ready = true
	return nil
}

// loadSource resolves require() paths through the host loader.
func (e *JsEngine) loadSource(path string) ([]byte, error) {
	data, err := e.opts.Loader.Load(path)
	if err != nil {
		var he *Error
		if errors.As(err, &he) && he.Reason == ReasonNotFound {
			return nil, require.ModuleFileDoesNotExistError
		}
		return nil, err
	}
	return data, nil
}

func (e *JsEngine) RegisterFunction(name string, arity int, fn HostFunction) error {
	if !e.ready {
		return errors.New("js: global environment not created")
	}
	native := func(call goja.FunctionCall) goja.Value {
		v, err := fn(jsCall{call: call})
		if err != nil {
			return e.raise(err)
		}
		return e.toValue(v)
	}
	obj := e.vm.ToValue(native).(*goja.Object)
	if err := obj.DefineDataProperty("length", e.vm.ToValue(arity), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}
	return e.vm.Set(name, obj)
}

// raise turns a host error into a script exception, or interrupts the script
// when the error is fatal.
func (e *JsEngine) raise(err error) goja.Value {
	if IsFatal(err) {
		return e.abort(err)
	}
	panic(e.vm.NewGoError(err))
}

// abort interrupts the running script. The first fatal error wins.
func (e *JsEngine) abort(err error) goja.Value {
	if e.fatal == nil {
		e.fatal = err
	}
	Logger().Debug("js: interrupting script", zap.Error(e.fatal))
	e.vm.Interrupt(e.fatal)
	return goja.Undefined()
}

func (e *JsEngine) toValue(v any) goja.Value {
	switch x := v.(type) {
	case nil:
		return goja.Undefined()
	case goja.Value:
		return x
	case []byte:
		return e.vm.ToValue(e.vm.NewArrayBuffer(x))
	default:
		return e.vm.ToValue(x)
	}
}

func (e *JsEngine) Preamble(p Preamble) string {
	return jsPreamble(p)
}

// jsPreamble binds Module.print and Module.printErr and preloads the wasm
// binary, on one line.
func jsPreamble(p Preamble) string {
	var b strings.Builder
	fmt.Fprintf(&b, "var Module = {'printErr': %s, 'print': %s};", p.PrintErr, p.Print)
	if p.WasmPath != "" {
		fmt.Fprintf(&b, " Module['wasmBinary'] = %s(%s);", p.ReadWasm, jsString(p.WasmPath))
	}
	return b.String()
}

func jsString(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted)
}

func (e *JsEngine) ParseString(source, sourceName string) (any, error) {
	if !e.ready {
		return nil, errors.New("js: global environment not created")
	}
	prg, err := goja.Compile(sourceName, source, false)
	if err != nil {
		return nil, compileError(sourceName, err)
	}

	v, err := e.vm.RunProgram(prg)
	e.vm.ClearInterrupt()
	if e.fatal != nil {
		err, e.fatal = e.fatal, nil
		return nil, err
	}
	if err != nil {
		var ex *goja.Exception
		if errors.As(err, &ex) {
			e.pending = ex
			return nil, exceptionPending("evaluate " + sourceName)
		}
		return nil, fmt.Errorf("js: evaluate %s: %w", sourceName, err)
	}
	if v == nil {
		return nil, nil
	}
	return v.Export(), nil
}

func (e *JsEngine) PendingException() (*Exception, bool) {
	ex := e.pending
	if ex == nil {
		return nil, false
	}
	e.pending = nil
	return e.describe(ex), true
}

func (e *JsEngine) describe(ex *goja.Exception) *Exception {
	v := ex.Value()
	switch {
	case v == nil || goja.IsUndefined(v):
		return &Exception{Kind: ThrownOther, Type: "undefined", Text: "undefined"}
	case goja.IsNull(v):
		return &Exception{Kind: ThrownOther, Type: "null", Text: "null"}
	}
	if sym, ok := v.(*goja.Symbol); ok {
		return &Exception{Kind: ThrownOther, Type: "symbol", Text: sym.String()}
	}
	if obj, ok := v.(*goja.Object); ok {
		out := &Exception{Kind: ThrownObject}
		if obj.ClassName() == "Error" {
			out.Report = e.errorReport(obj, ex)
		}
		return out
	}

	switch x := v.Export().(type) {
	case string:
		return &Exception{Kind: ThrownString, Text: x}
	case bool:
		return &Exception{Kind: ThrownOther, Type: "boolean", Text: v.String()}
	case *big.Int:
		return &Exception{Kind: ThrownOther, Type: "bigint", Text: v.String()}
	default:
		return &Exception{Kind: ThrownOther, Type: "number", Text: v.String()}
	}
}

var (
	jsNamedFrame = regexp.MustCompile(`^\s*at \S.* \((.+):(\d+):(\d+)\(\d+\)\)$`)
	jsFrame      = regexp.MustCompile(`^\s*at (.+):(\d+):(\d+)\(\d+\)$`)
)

// errorReport reads message and location from an error object. The location
// comes from the object's own stack, falling back to the throw site.
func (e *JsEngine) errorReport(obj *goja.Object, ex *goja.Exception) *ScriptError {
	r := &ScriptError{}
	var stack string
	if jsErr := e.vm.Try(func() {
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			r.Message = m.String()
		}
		if s := obj.Get("stack"); s != nil && !goja.IsUndefined(s) {
			stack = s.String()
		}
	}); jsErr != nil {
		return nil
	}

	for _, text := range []string{stack, ex.String()} {
		if file, line, col, ok := firstFrame(text); ok {
			r.Filename, r.Line, r.Column = file, line, col
			break
		}
	}
	return r
}

func firstFrame(stack string) (string, uint32, uint32, bool) {
	for _, line := range strings.Split(stack, "\n") {
		m := jsNamedFrame.FindStringSubmatch(line)
		if m == nil {
			m = jsFrame.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		ln, _ := strconv.ParseUint(m[2], 10, 32)
		col, _ := strconv.ParseUint(m[3], 10, 32)
		file := m[1]
		if file == "<eval>" {
			file = ""
		}
		return file, uint32(ln), uint32(col), true
	}
	return "", 0, 0, false
}

func (e *JsEngine) Close() {
	if e.wasm != nil {
		if err := e.wasm.close(); err != nil {
			Logger().Warn("js: close WebAssembly runtime", zap.Error(err))
		}
		e.wasm = nil
	}
	if e.vm != nil {
		e.vm.ClearInterrupt()
		e.vm = nil
	}
	e.ready = false
}

type jsCall struct {
	call goja.FunctionCall
}

func (c jsCall) Len() int {
	return len(c.call.Arguments)
}

func (c jsCall) String(i int) string {
	return c.call.Argument(i).String()
}

// consolePrinter routes console output to the host writers.
type consolePrinter struct {
	stdout io.Writer
	stderr io.Writer
}

func (p consolePrinter) Log(s string) {
	fmt.Fprintln(p.stdout, s)
}

func (p consolePrinter) Warn(s string) {
	fmt.Fprintln(p.stderr, s)
}

func (p consolePrinter) Error(s string) {
	fmt.Fprintln(p.stderr, s)
}
