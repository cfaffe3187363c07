package scripthost

import (
	"context"
	"io"
)

// Engine is a script runtime backend. A backend owns exactly one execution
// context and one global environment; the Runtime, Context and Global handles
// sequence the calls below.
type Engine interface {
	// New allocates engine-global state.
	New(opts Options) error
	// NewContext creates the single execution context.
	NewContext() error
	// SetFeatures applies optional context-level features. Called at most
	// once, before CreateGlobal.
	SetFeatures(f Features) error
	// CreateGlobal establishes the global environment scripts run against.
	CreateGlobal() error

	RegisterFunction(name string, arity int, fn HostFunction) error

	// Preamble renders the single-line binding prelude for this language.
	Preamble(p Preamble) string
	ParseString(source, sourceName string) (any, error)

	// PendingException takes the pending exception, clearing the slot.
	PendingException() (*Exception, bool)

	Close()
}

// Options configure a backend at New.
type Options struct {
	Context context.Context
	Stdout  io.Writer
	Stderr  io.Writer
	// Loader backs module loading inside the engine (require for js).
	Loader Loader
	// BuildID identifies the host build for engine caches.
	BuildID  func() string
	CacheDir string
	// Console installs a console object (js only).
	Console bool

	// StringifyPrimitives reports thrown primitives through string coercion
	// instead of failing with KindUnsupportedException.
	StringifyPrimitives bool
	Color               bool
	Snippet             bool
}

// DefaultBuildID is the build identifier installed when Options.BuildID is nil.
const DefaultBuildID = "SP"

func (o Options) buildID() string {
	if o.BuildID == nil {
		return DefaultBuildID
	}
	return o.BuildID()
}

func (o Options) context() context.Context {
	if o.Context == nil {
		return context.Background()
	}
	return o.Context
}

// Features are optional engine capabilities enabled before any script runs.
type Features struct {
	// Wasm enables the WebAssembly namespace.
	Wasm bool `json:"wasm" yaml:"wasm"`
	// WasmBaseline enables the interpreter tier.
	WasmBaseline bool `json:"wasmBaseline" yaml:"wasmBaseline"`
	// WasmOptimizing enables the compiler tier where the platform supports it.
	WasmOptimizing bool `json:"wasmOptimizing" yaml:"wasmOptimizing"`
}

// Call is the argument list of one native call.
type Call interface {
	Len() int
	// String coerces argument i using the engine's string conversion. A
	// missing argument converts like the engine's undefined value.
	String(i int) string
}

// HostFunction implements a native binding. A nil result is the engine's
// undefined value and a []byte result becomes a binary buffer owned by the
// script environment.
type HostFunction func(call Call) (any, error)

// Preamble names the bindings the bootstrap prelude wires up.
type Preamble struct {
	Print    string
	PrintErr string
	// ReadWasm is the binding that loads WasmPath.
	ReadWasm string
	// WasmPath is read into Module.wasmBinary when set.
	WasmPath string
}

// ThrownKind is the shape of a pending exception value.
type ThrownKind int

const (
	ThrownObject ThrownKind = iota
	ThrownString
	ThrownOther
)

// Exception is a backend-neutral view of a pending exception.
type Exception struct {
	// Report is the structured error report of an object, nil when the
	// object is not an error.
	Report *ScriptError
	// Text is the string value, or the string coercion of other values.
	Text string
	// Type names the value type for ThrownOther.
	Type string
	Kind ThrownKind
}
