// Package webassembly compiles and runs WebAssembly modules for script
// engines without native support, on top of wazero.
package webassembly

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Tier is a compilation tier.
type Tier string

const (
	// TierBaseline is the interpreter.
	TierBaseline Tier = "baseline"
	// TierOptimizing is the compiler, falling back to the interpreter on
	// platforms wazero cannot compile for.
	TierOptimizing Tier = "optimizing"
)

// Config selects compilation tiers and resources for a Runtime.
type Config struct {
	Stdout io.Writer
	Stderr io.Writer
	// CacheDir enables a compilation cache on disk, namespaced by BuildID.
	CacheDir         string
	BuildID          string
	MemoryLimitPages uint32
	Baseline         bool
	Optimizing       bool
}

// Runtime owns every module and instance it creates.
type Runtime struct {
	ctx       context.Context
	config    wazero.RuntimeConfig
	cache     wazero.CompilationCache
	root      wazero.Runtime
	stdout    io.Writer
	stderr    io.Writer
	tier      Tier
	modules   []*Module
	instances []*Instance
	closed    bool
}

// New creates a Runtime. At least one tier must be enabled.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	var (
		rc   wazero.RuntimeConfig
		tier Tier
	)
	switch {
	case cfg.Optimizing:
		rc, tier = wazero.NewRuntimeConfig(), TierOptimizing
	case cfg.Baseline:
		rc, tier = wazero.NewRuntimeConfigInterpreter(), TierBaseline
	default:
		return nil, errors.New("webassembly: no compilation tier enabled")
	}
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(filepath.Join(cfg.CacheDir, cfg.BuildID))
		if err != nil {
			return nil, err
		}
		cache = c
	} else {
		cache = wazero.NewCompilationCache()
	}
	rc = rc.WithCompilationCache(cache)

	r := &Runtime{
		ctx:    ctx,
		config: rc,
		cache:  cache,
		root:   wazero.NewRuntimeWithConfig(ctx, rc),
		stdout: cfg.Stdout,
		stderr: cfg.Stderr,
		tier:   tier,
	}
	if r.stdout == nil {
		r.stdout = io.Discard
	}
	if r.stderr == nil {
		r.stderr = io.Discard
	}
	return r, nil
}

// Tier returns the requested compilation tier.
func (r *Runtime) Tier() Tier {
	return r.tier
}

// Validate reports whether bin is a valid module.
func (r *Runtime) Validate(bin []byte) bool {
	compiled, err := r.root.CompileModule(r.ctx, bin)
	if err != nil {
		return false
	}
	_ = compiled.Close(r.ctx)
	return true
}

// Compile validates and compiles bin. The bytes are copied.
func (r *Runtime) Compile(bin []byte) (*Module, error) {
	bin = bytes.Clone(bin)
	compiled, err := r.root.CompileModule(r.ctx, bin)
	if err != nil {
		return nil, &Error{Kind: KindCompile, Err: err}
	}
	m := &Module{bin: bin, compiled: compiled}
	r.modules = append(r.modules, m)
	return m, nil
}

// Close releases all instances, modules and the compilation cache.
func (r *Runtime) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for i := len(r.instances) - 1; i >= 0; i-- {
		errs = append(errs, r.instances[i].Close())
	}
	for _, m := range r.modules {
		errs = append(errs, m.compiled.Close(r.ctx))
	}
	errs = append(errs, r.root.Close(r.ctx), r.cache.Close(r.ctx))
	return errors.Join(errs...)
}

// Module is a compiled module that can be instantiated any number of times.
type Module struct {
	compiled wazero.CompiledModule
	bin      []byte
}

// Import describes one import of a module.
type Import struct {
	Module  string
	Name    string
	Kind    string
	Params  []api.ValueType
	Results []api.ValueType
}

// Export describes one export of a module.
type Export struct {
	Name    string
	Kind    string
	Params  []api.ValueType
	Results []api.ValueType
}

// Extern kinds of imports and exports.
const (
	ExternFunction = "function"
	ExternMemory   = "memory"
)

// Imports lists function and memory imports in declaration order.
func (m *Module) Imports() []Import {
	var out []Import
	for _, def := range m.compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		out = append(out, Import{Module: mod, Name: name, Kind: ExternFunction, Params: def.ParamTypes(), Results: def.ResultTypes()})
	}
	for _, def := range m.compiled.ImportedMemories() {
		mod, name, _ := def.Import()
		out = append(out, Import{Module: mod, Name: name, Kind: ExternMemory})
	}
	return out
}

// Exports lists function and memory exports sorted by name.
func (m *Module) Exports() []Export {
	var out []Export
	for name, def := range m.compiled.ExportedFunctions() {
		out = append(out, Export{Name: name, Kind: ExternFunction, Params: def.ParamTypes(), Results: def.ResultTypes()})
	}
	for name := range m.compiled.ExportedMemories() {
		out = append(out, Export{Name: name, Kind: ExternMemory})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HostFunc implements an imported function. params holds one raw value per
// parameter; the results must match the import's result types.
type HostFunc func(ctx context.Context, params []uint64) ([]uint64, error)

// Imports maps module and field names to host functions.
type Imports map[string]map[string]HostFunc

// Instantiate links m against imports and runs its start section. WASI
// preview1 is provided when the module imports it and imports does not.
// Each instance gets its own wazero runtime so host module names never clash;
// compilation is shared through the cache.
func (r *Runtime) Instantiate(m *Module, imports Imports) (*Instance, error) {
	if r.closed {
		return nil, errorf(KindLink, nil, "runtime closed")
	}
	rt := wazero.NewRuntimeWithConfig(r.ctx, r.config)
	mod, err := r.link(rt, m, imports)
	if err != nil {
		_ = rt.Close(r.ctx)
		return nil, err
	}
	inst := &Instance{ctx: r.ctx, rt: rt, mod: mod, module: m}
	r.instances = append(r.instances, inst)
	return inst, nil
}

func (r *Runtime) link(rt wazero.Runtime, m *Module, imports Imports) (api.Module, error) {
	compiled, err := rt.CompileModule(r.ctx, m.bin)
	if err != nil {
		return nil, &Error{Kind: KindCompile, Err: err}
	}
	if mems := compiled.ImportedMemories(); len(mems) > 0 {
		mod, name, _ := mems[0].Import()
		return nil, errorf(KindLink, nil, "memory import %s.%s is not supported", mod, name)
	}

	builders := make(map[string]wazero.HostModuleBuilder)
	var order []string
	wasi := false
	for _, def := range compiled.ImportedFunctions() {
		modName, name, _ := def.Import()
		fields, supplied := imports[modName]
		if !supplied && modName == wasi_snapshot_preview1.ModuleName {
			wasi = true
			continue
		}
		fn, ok := fields[name]
		if !ok || fn == nil {
			return nil, errorf(KindLink, nil, "import %s.%s is not provided", modName, name)
		}
		b, ok := builders[modName]
		if !ok {
			b = rt.NewHostModuleBuilder(modName)
			order = append(order, modName)
		}
		params, results := def.ParamTypes(), def.ResultTypes()
		builders[modName] = b.NewFunctionBuilder().
			WithGoModuleFunction(hostFunction(fn, len(params), len(results)), params, results).
			Export(name)
	}

	if wasi {
		if _, err := wasi_snapshot_preview1.Instantiate(r.ctx, rt); err != nil {
			return nil, errorf(KindLink, err, "instantiate %s", wasi_snapshot_preview1.ModuleName)
		}
	}
	for _, name := range order {
		if _, err := builders[name].Instantiate(r.ctx); err != nil {
			return nil, errorf(KindLink, err, "instantiate host module %s", name)
		}
	}

	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithStdout(r.stdout).
		WithStderr(r.stderr)
	mod, err := rt.InstantiateModule(r.ctx, compiled, cfg)
	if err != nil {
		return nil, &Error{Kind: KindRuntime, Err: err}
	}
	return mod, nil
}

func hostFunction(fn HostFunc, nparams, nresults int) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		params := make([]uint64, nparams)
		copy(params, stack[:nparams])
		results, err := fn(ctx, params)
		if err != nil {
			panic(err)
		}
		for i := 0; i < nresults; i++ {
			if i < len(results) {
				stack[i] = results[i]
			} else {
				stack[i] = 0
			}
		}
	}
}

// Instance is an instantiated module.
type Instance struct {
	ctx    context.Context
	rt     wazero.Runtime
	mod    api.Module
	module *Module
	closed bool
}

// Module returns the module i was instantiated from.
func (i *Instance) Module() *Module {
	return i.module
}

// Call invokes the exported function name. Errors raised by host functions
// stay reachable through errors.As.
func (i *Instance) Call(name string, params ...uint64) ([]uint64, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errorf(KindRuntime, nil, "export %q is not a function", name)
	}
	res, err := fn.Call(i.ctx, params...)
	if err != nil {
		return nil, &Error{Kind: KindRuntime, Err: err}
	}
	return res, nil
}

// Memory returns a view of the exported memory name. The view is invalid
// after the memory grows.
func (i *Instance) Memory(name string) ([]byte, bool) {
	mem := i.mod.ExportedMemory(name)
	if mem == nil {
		return nil, false
	}
	return mem.Read(0, mem.Size())
}

// Close releases the instance and its runtime.
func (i *Instance) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	return i.rt.Close(i.ctx)
}
