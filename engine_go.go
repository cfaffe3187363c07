package scripthost

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

const (
	TypeEngineGo = "go"
)

// HostPackage is the import path scripts use to reach native bindings on
// the go backend. Binding names are exported with an upper-case first letter:
// puts becomes host.Puts. Scripts that import it are complete programs:
//
//	package main
//
//	import "host"
//
//	func main() { host.Puts(1 + 1) }
const HostPackage = "host"

// GoEngine interprets Go with yaegi.
type GoEngine struct {
	i       *interp.Interpreter
	opts    Options
	pending *goFailure
	fatal   error
	// trace receives the interpreter's own panic output.
	trace bytes.Buffer
	ready bool
}

// goFailure is an error returned by Execute with the panic trace the
// interpreter printed for it.
type goFailure struct {
	err        error
	trace      string
	sourceName string
}

// goAbort carries a fatal host error out of the interpreter.
type goAbort struct {
	err error
}

func (e *GoEngine) New(opts Options) error {
	e.opts = opts
	e.ready = false
	return nil
}

func (e *GoEngine) NewContext() error {
	if e.i != nil {
		return errors.New("go: context already created")
	}
	e.i = interp.New(interp.Options{
		Stdout: e.opts.Stdout,
		Stderr: &e.trace,
	})
	return e.i.Use(stdlib.Symbols)
}

func (e *GoEngine) SetFeatures(f Features) error {
	return noFeatures(TypeEngineGo, f)
}

func (e *GoEngine) CreateGlobal() error {
	if e.i == nil {
		return errors.New("go: no context")
	}
	e.ready = true
	return nil
}

func (e *GoEngine) RegisterFunction(name string, arity int, fn HostFunction) error {
	if !e.ready {
		return errors.New("go: global environment not created")
	}
	native := func(args ...interface{}) interface{} {
		v, err := fn(goCall{args: args})
		if err != nil {
			if IsFatal(err) {
				if e.fatal == nil {
					e.fatal = err
				}
				Logger().Debug("go: aborting script", zap.Error(err))
				panic(goAbort{err: err})
			}
			panic(err)
		}
		return v
	}
	return e.i.Use(interp.Exports{
		HostPackage + "/" + HostPackage: {
			exportedName(name): reflect.ValueOf(native),
		},
	})
}

func exportedName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// Preamble is empty: go scripts import the host package instead.
func (e *GoEngine) Preamble(Preamble) string {
	return ""
}

func (e *GoEngine) ParseString(source, sourceName string) (any, error) {
	if !e.ready {
		return nil, errors.New("go: global environment not created")
	}
	prog, err := e.i.Compile(source)
	if err != nil {
		return nil, compileError(sourceName, err)
	}

	e.trace.Reset()
	v, err := e.i.Execute(prog)
	if e.fatal != nil {
		err, e.fatal = e.fatal, nil
		return nil, err
	}
	if err != nil {
		e.pending = &goFailure{err: err, trace: e.trace.String(), sourceName: sourceName}
		return nil, exceptionPending("evaluate " + sourceName)
	}
	if !v.IsValid() || !v.CanInterface() {
		return nil, nil
	}
	return v.Interface(), nil
}

var (
	goPosition   = regexp.MustCompile(`(?s)^(?:(.+?):)?(\d+):(\d+): (.*)$`)
	goPanicFrame = regexp.MustCompile(`^(?:(.+?):)?(\d+):(\d+): panic`)
)

func (e *GoEngine) PendingException() (*Exception, bool) {
	f := e.pending
	if f == nil {
		return nil, false
	}
	e.pending = nil

	text := f.err.Error()
	for _, line := range strings.Split(f.trace, "\n") {
		if m := goPanicFrame.FindStringSubmatch(line); m != nil {
			return &Exception{Kind: ThrownObject, Report: goReport(text, m[1], m[2], m[3], f.sourceName)}, true
		}
	}
	if m := goPosition.FindStringSubmatch(text); m != nil {
		return &Exception{Kind: ThrownObject, Report: goReport(m[4], m[1], m[2], m[3], f.sourceName)}, true
	}
	return &Exception{Kind: ThrownString, Text: text}, true
}

// goReport builds a located report. The interpreter names evaluated source
// "_.go" or nothing at all; either means sourceName.
func goReport(msg, file, line, col, sourceName string) *ScriptError {
	if file == "" || file == "_.go" {
		file = sourceName
	}
	ln, _ := strconv.ParseUint(line, 10, 32)
	cn, _ := strconv.ParseUint(col, 10, 32)
	return &ScriptError{
		Message:  msg,
		Filename: file,
		Line:     uint32(ln),
		Column:   uint32(cn),
	}
}

func (e *GoEngine) Close() {
	e.i = nil
	e.pending = nil
	e.ready = false
}

type goCall struct {
	args []interface{}
}

func (c goCall) Len() int {
	return len(c.args)
}

func (c goCall) String(i int) string {
	if i >= len(c.args) {
		return fmt.Sprint(nil)
	}
	return fmt.Sprint(c.args[i])
}

func (a goAbort) Error() string {
	return a.err.Error()
}
