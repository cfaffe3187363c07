package scripthost

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/robertkrimen/otto"
	"go.uber.org/zap"
)

const (
	TypeEngineEs5 = "es5"
)

// Es5Engine runs ES5 JavaScript on otto. Otto reports thrown values that are
// not error objects only by their string form, so they surface as string
// exceptions.
type Es5Engine struct {
	vm      *otto.Otto
	opts    Options
	pending error
	fatal   error
	ready   bool
}

// es5Abort carries a fatal host error past otto's exception handling.
type es5Abort struct {
	err error
}

func (e *Es5Engine) New(opts Options) error {
	e.opts = opts
	e.ready = false
	return nil
}

func (e *Es5Engine) NewContext() error {
	if e.vm != nil {
		return errors.New("es5: context already created")
	}
	e.vm = otto.New()
	return nil
}

func (e *Es5Engine) SetFeatures(f Features) error {
	return noFeatures(TypeEngineEs5, f)
}

func (e *Es5Engine) CreateGlobal() error {
	if e.vm == nil {
		return errors.New("es5: no context")
	}
	e.ready = true
	return nil
}

func (e *Es5Engine) RegisterFunction(name string, arity int, fn HostFunction) error {
	if !e.ready {
		return errors.New("es5: global environment not created")
	}
	return e.vm.Set(name, func(call otto.FunctionCall) otto.Value {
		v, err := fn(es5Call{call: call})
		if err != nil {
			if IsFatal(err) {
				if e.fatal == nil {
					e.fatal = err
				}
				Logger().Debug("es5: aborting script", zap.Error(err))
				panic(es5Abort{err: err})
			}
			panic(e.vm.MakeCustomError("Error", err.Error()))
		}
		if v == nil {
			return otto.UndefinedValue()
		}
		result, err := e.vm.ToValue(v)
		if err != nil {
			panic(e.vm.MakeTypeError(err.Error()))
		}
		return result
	})
}

func (e *Es5Engine) Preamble(p Preamble) string {
	return jsPreamble(p)
}

func (e *Es5Engine) ParseString(source, sourceName string) (result any, err error) {
	if !e.ready {
		return nil, errors.New("es5: global environment not created")
	}
	script, err := e.vm.Compile(sourceName, source)
	if err != nil {
		return nil, compileError(sourceName, err)
	}

	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(es5Abort); !ok {
				panic(r)
			}
			result, err = nil, e.fatal
			e.fatal = nil
		}
	}()

	value, err := e.vm.Run(script)
	if e.fatal != nil {
		err, e.fatal = e.fatal, nil
		return nil, err
	}
	if err != nil {
		e.pending = err
		return nil, exceptionPending("evaluate " + sourceName)
	}
	exported, err := value.Export()
	if err != nil {
		return nil, err
	}
	return exported, nil
}

func (e *Es5Engine) PendingException() (*Exception, bool) {
	err := e.pending
	if err == nil {
		return nil, false
	}
	e.pending = nil

	var oe *otto.Error
	if !errors.As(err, &oe) {
		return &Exception{Kind: ThrownString, Text: err.Error()}, true
	}
	return &Exception{Kind: ThrownObject, Report: es5Report(oe)}, true
}

var es5Frame = regexp.MustCompile(`^\s*at (?:.* \()?(.+):(\d+):(\d+)\)?$`)

// es5Report splits "Name: message" and reads the innermost located frame.
func es5Report(oe *otto.Error) *ScriptError {
	r := &ScriptError{Message: oe.Error()}
	if _, msg, ok := strings.Cut(r.Message, ": "); ok {
		r.Message = msg
	}
	for _, line := range strings.Split(oe.String(), "\n") {
		m := es5Frame.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ln, _ := strconv.ParseUint(m[2], 10, 32)
		col, _ := strconv.ParseUint(m[3], 10, 32)
		r.Filename, r.Line, r.Column = m[1], uint32(ln), uint32(col)
		if r.Filename == "<anonymous>" {
			r.Filename = ""
		}
		break
	}
	return r
}

func (e *Es5Engine) Close() {
	e.vm = nil
	e.pending = nil
	e.ready = false
}

type es5Call struct {
	call otto.FunctionCall
}

func (c es5Call) Len() int {
	return len(c.call.ArgumentList)
}

func (c es5Call) String(i int) string {
	return c.call.Argument(i).String()
}
