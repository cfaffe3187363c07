package scripthost

import (
	"context"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Names of the bindings every session installs.
const (
	BindingPuts     = "puts"
	BindingReadWasm = "readWasm"
)

// Host runs scripts according to a Config.
type Host struct {
	cfg    *Config
	stdout io.Writer
	stderr io.Writer
	loader Loader
}

// HostOption customizes a Host.
type HostOption func(*Host)

// WithOutput sets the script output and diagnostics writers.
func WithOutput(stdout, stderr io.Writer) HostOption {
	return func(h *Host) {
		h.stdout = stdout
		h.stderr = stderr
	}
}

// WithLoader replaces the filesystem loader used for scripts, wasm binaries
// and required modules.
func WithLoader(l Loader) HostOption {
	return func(h *Host) {
		h.loader = l
	}
}

// WithLogger installs l as the package logger.
func WithLogger(l *zap.Logger) HostOption {
	return func(*Host) {
		SetLogger(l)
	}
}

// NewHost validates cfg and returns a Host. A nil cfg means DefaultConfig.
func NewHost(cfg *Config, opts ...HostOption) (*Host, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Host{
		cfg:    cfg,
		stdout: os.Stdout,
		stderr: os.Stderr,
		loader: FileLoader{Root: cfg.Root},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Config returns the configuration the host runs with.
func (h *Host) Config() *Config {
	return h.cfg
}

// Session is one booted engine with its bindings installed.
type Session struct {
	host    *Host
	runtime *Runtime
	context *Context
	global  *Global
	closed  bool
}

// Open boots the engine, creates the context and global environment and
// registers puts and readWasm.
func (h *Host) Open(ctx context.Context) (*Session, error) {
	rt, err := Init(h.cfg.Engine, Options{
		Context:             ctx,
		Stdout:              h.stdout,
		Stderr:              h.stderr,
		Loader:              h.loader,
		BuildID:             func() string { return h.cfg.BuildID },
		CacheDir:            h.cfg.CacheDir,
		Console:             h.cfg.Console,
		StringifyPrimitives: h.cfg.StringifyPrimitives,
		Color:               h.cfg.Color,
		Snippet:             h.cfg.Snippet,
	})
	if err != nil {
		return nil, h.diagnose(err)
	}
	s := &Session{host: h, runtime: rt}
	if err := s.boot(); err != nil {
		_ = rt.Close()
		return nil, h.diagnose(err)
	}
	return s, nil
}

func (s *Session) boot() error {
	c, err := s.runtime.NewContext()
	if err != nil {
		return err
	}
	s.context = c
	if err := c.SetFeatures(s.host.cfg.Features); err != nil {
		return err
	}
	g, err := c.CreateGlobal()
	if err != nil {
		return err
	}
	s.global = g
	if err := g.Register(BindingPuts, 1, Puts(s.host.stdout)); err != nil {
		return err
	}
	return g.Register(BindingReadWasm, 1, ReadWasm(s.host.loader, s.host.cfg.CatchableIOErrors))
}

// Preamble renders the prelude that binds Module.print, Module.printErr and
// Module.wasmBinary for the session's engine.
func (s *Session) Preamble() string {
	return s.runtime.Preamble(Preamble{
		Print:    BindingPuts,
		PrintErr: BindingPuts,
		ReadWasm: BindingReadWasm,
		WasmPath: s.host.cfg.Wasm,
	})
}

// Global returns the session's global environment.
func (s *Session) Global() *Global {
	return s.global
}

// Eval evaluates source. An uncaught exception is reported to diagnostics
// and returned as a KindException error whose cause is the *ScriptError.
// Every other failure is written to diagnostics as "Error: <err>".
func (s *Session) Eval(source, sourceName string) (any, error) {
	if s.closed {
		return nil, stateError("evaluate", "session closed")
	}
	v, err := s.global.Evaluate(source, sourceName)
	return s.settle(v, err, sourceName)
}

// EvalScript evaluates script behind the session preamble, as Run does.
func (s *Session) EvalScript(script, sourceName string) (any, error) {
	if s.closed {
		return nil, stateError("evaluate", "session closed")
	}
	v, err := s.global.EvaluateScript(s.Preamble(), script, sourceName)
	return s.settle(v, err, sourceName)
}

func (s *Session) settle(v any, err error, sourceName string) (any, error) {
	if err == nil {
		return v, nil
	}
	if !IsKind(err, KindException) {
		return nil, s.host.diagnose(err)
	}

	se, err := s.context.Report()
	if err != nil {
		return nil, err
	}
	if se == nil {
		return nil, exceptionPending("evaluate " + sourceName)
	}
	return nil, &Error{Kind: KindException, Op: "evaluate", Path: sourceName, Cause: se}
}

// Close tears down the global environment, context and engine in that order.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.runtime.Close()
}

// Run boots a session, evaluates the configured script behind the preamble
// and tears everything down.
func (h *Host) Run(ctx context.Context) error {
	s, err := h.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			Logger().Warn("close session", zap.Error(err))
		}
	}()

	script, err := h.loader.Load(h.cfg.Script)
	if err != nil {
		return h.diagnose(err)
	}
	if !utf8.Valid(script) {
		return h.diagnose(&Error{
			Kind:   KindEncoding,
			Op:     "load script",
			Path:   h.cfg.Script,
			Detail: "script is not valid UTF-8",
			Fatal:  true,
		})
	}

	Logger().Info("running script",
		zap.String("engine", h.cfg.Engine),
		zap.String("script", h.cfg.Script),
		zap.String("wasm", h.cfg.Wasm))

	_, err = s.EvalScript(string(script), h.cfg.Script)
	return err
}

// diagnose logs err and writes it to diagnostics, then returns it.
func (h *Host) diagnose(err error) error {
	Logger().Debug("host error", zap.Error(err), zap.Bool("fatal", IsFatal(err)))
	fmt.Fprintln(h.stderr, "Error: "+err.Error())
	return err
}
