package scripthost

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// Runtime owns the engine instance of the process. It must outlive its
// Context and Global.
type Runtime struct {
	engine     Engine
	engineType string
	opts       Options
	context    *Context
	closed     bool
}

// Init creates the engine of the given type. Failure is fatal.
func Init(engineType string, opts Options) (*Runtime, error) {
	engine, err := NewEngine(engineType)
	if err != nil {
		return nil, err
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Loader == nil {
		opts.Loader = FileLoader{}
	}
	if err := engine.New(opts); err != nil {
		return nil, newError(KindEngineInit, "init "+engineType, err)
	}

	Logger().Debug("engine initialized",
		zap.String("engine", engineType),
		zap.String("build_id", opts.buildID()))

	return &Runtime{engine: engine, engineType: engineType, opts: opts}, nil
}

// EngineType returns the backend type constant.
func (r *Runtime) EngineType() string {
	return r.engineType
}

// Preamble renders the binding prelude in the engine's language.
func (r *Runtime) Preamble(p Preamble) string {
	return r.engine.Preamble(p)
}

// NewContext creates the single execution context of r.
func (r *Runtime) NewContext() (*Context, error) {
	if r.closed {
		return nil, &Error{Kind: KindState, Op: "new context", Detail: "runtime closed"}
	}
	if r.context != nil {
		return nil, &Error{Kind: KindState, Op: "new context", Detail: "runtime already has a context"}
	}
	if err := r.engine.NewContext(); err != nil {
		return nil, newError(KindEngineInit, "new context", err)
	}
	r.context = &Context{runtime: r, diag: r.opts.Stderr}
	return r.context, nil
}

// Close tears down the context, if still open, and then the engine.
func (r *Runtime) Close() error {
	if r.closed {
		return nil
	}
	if r.context != nil {
		if err := r.context.Close(); err != nil {
			return err
		}
	}
	r.engine.Close()
	r.closed = true
	Logger().Debug("engine closed", zap.String("engine", r.engineType))
	return nil
}

// Context is the execution arena scripts run in.
type Context struct {
	runtime     *Runtime
	global      *Global
	diag        io.Writer
	features    Features
	featuresSet bool
	closed      bool
}

// SetFeatures enables optional engine features. It must be called before
// CreateGlobal and at most once.
func (c *Context) SetFeatures(f Features) error {
	if c.closed || c.global != nil || c.featuresSet {
		return &Error{Kind: KindState, Op: "set features", Detail: "features are fixed once set or once the global exists"}
	}
	if err := c.runtime.engine.SetFeatures(f); err != nil {
		return newError(KindConfig, "set features", err)
	}
	c.features = f
	c.featuresSet = true
	return nil
}

// Features returns the features in effect.
func (c *Context) Features() Features {
	return c.features
}

// CreateGlobal creates the global environment. Failure is fatal.
func (c *Context) CreateGlobal() (*Global, error) {
	if c.closed {
		return nil, &Error{Kind: KindState, Op: "create global", Detail: "context closed"}
	}
	if c.global != nil {
		return nil, &Error{Kind: KindState, Op: "create global", Detail: "context already has a global environment"}
	}
	if err := c.runtime.engine.CreateGlobal(); err != nil {
		return nil, newError(KindEngineInit, "create global", err)
	}
	c.global = &Global{
		context:  c,
		bindings: make(map[string]Binding),
		sources:  make(map[string]string),
		shifts:   make(map[string]uint32),
	}
	Logger().Debug("global environment created",
		zap.Bool("wasm", c.features.Wasm),
		zap.Bool("wasm_baseline", c.features.WasmBaseline),
		zap.Bool("wasm_optimizing", c.features.WasmOptimizing))
	return c.global, nil
}

// Close releases the global environment, if still open.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	if c.global != nil {
		if err := c.global.Close(); err != nil {
			return err
		}
	}
	c.closed = true
	return nil
}

// Global is the environment scripts see as their implicit namespace.
// Registration and evaluation are valid only while it is open.
type Global struct {
	context  *Context
	bindings map[string]Binding
	order    []string
	sources  map[string]string
	// shifts holds, per source name, how many columns a preamble pushed
	// line 1 of the script to the right.
	shifts map[string]uint32
	closed bool
}

// Evaluate parses and runs source. A KindException error leaves an
// exception pending; the caller must call Context.Report before using the
// context again.
func (g *Global) Evaluate(source, sourceName string) (any, error) {
	return g.evaluate(source, source, sourceName, 0)
}

// EvaluateScript runs Bootstrap(preamble, script). Reported line 1 columns
// are relative to the script, not the joined text.
func (g *Global) EvaluateScript(preamble, script, sourceName string) (any, error) {
	var shift uint32
	if preamble != "" {
		shift = uint32(len(preamble) + 1)
	}
	return g.evaluate(Bootstrap(preamble, script), script, sourceName, shift)
}

func (g *Global) evaluate(source, script, sourceName string, shift uint32) (any, error) {
	if g.closed {
		return nil, &Error{Kind: KindState, Op: "evaluate", Detail: "global environment closed"}
	}
	g.sources[sourceName] = script
	g.shifts[sourceName] = shift

	Logger().Debug("evaluate", zap.String("source", sourceName), zap.Int("length", len(source)))
	v, err := g.context.runtime.engine.ParseString(source, sourceName)
	if err != nil {
		Logger().Debug("evaluate failed", zap.String("source", sourceName), zap.Error(err))
		return nil, err
	}
	return v, nil
}

// Source returns the script last evaluated under name, without any
// preamble.
func (g *Global) Source(name string) (string, bool) {
	s, ok := g.sources[name]
	return s, ok
}

// scriptColumn maps a column on line 1 of the evaluated text back to the
// script.
func (g *Global) scriptColumn(name string, col uint32) uint32 {
	if shift := g.shifts[name]; shift > 0 && col > shift {
		return col - shift
	}
	return col
}

// Close ends the protected scope of the environment.
func (g *Global) Close() error {
	g.closed = true
	return nil
}

// Bootstrap joins the single-line preamble and the script on the same first
// line so script line numbers are unchanged.
func Bootstrap(preamble, script string) string {
	if preamble == "" {
		return script
	}
	return preamble + " " + script
}

func exceptionPending(op string) *Error {
	return &Error{Kind: KindException, Op: op, Detail: "uncaught exception pending"}
}

func compileError(sourceName string, err error) *Error {
	e := newError(KindCompile, "compile", err)
	e.Path = sourceName
	return e
}

func stateError(op, detail string) error {
	return &Error{Kind: KindState, Op: op, Detail: detail}
}

func configError(op string, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Op: op, Detail: fmt.Sprintf(format, args...), Fatal: true}
}
