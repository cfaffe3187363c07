package scripthost

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Binding is a native function installed into a global environment.
type Binding struct {
	Name  string
	Arity int
}

// Register installs fn under name. Names are unique per environment; a
// duplicate fails and the first binding stays in place.
func (g *Global) Register(name string, arity int, fn HostFunction) error {
	if g.closed {
		return stateError("register "+name, "global environment closed")
	}
	if name == "" || fn == nil {
		return configError("register", "binding needs a name and a function")
	}
	if _, ok := g.bindings[name]; ok {
		return configError("register "+name, "binding %q already registered", name)
	}
	if err := g.context.runtime.engine.RegisterFunction(name, arity, fn); err != nil {
		return newError(KindConfig, "register "+name, err)
	}
	g.bindings[name] = Binding{Name: name, Arity: arity}
	g.order = append(g.order, name)

	Logger().Debug("binding registered", zap.String("name", name), zap.Int("arity", arity))
	return nil
}

// Bindings lists the installed bindings in registration order.
func (g *Global) Bindings() []Binding {
	out := make([]Binding, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.bindings[name])
	}
	return out
}

// Puts returns the puts binding: it writes the string form of its first
// argument and a newline to w.
func Puts(w io.Writer) HostFunction {
	return func(call Call) (any, error) {
		text := call.String(0)
		if !utf8.ValidString(text) {
			return nil, &Error{Kind: KindEncoding, Op: "puts", Detail: "engine string is not valid UTF-8", Fatal: true}
		}
		if _, err := fmt.Fprintln(w, text); err != nil {
			return nil, newError(KindIO, "puts", err)
		}
		return nil, nil
	}
}

// ReadWasm returns the readWasm binding: it loads the file named by its first
// argument and returns the bytes as a binary buffer. Load failures abort the
// run unless catchable is set, in which case they are thrown into the script.
func ReadWasm(l Loader, catchable bool) HostFunction {
	return func(call Call) (any, error) {
		name := call.String(0)
		data, err := l.Load(name)
		if err != nil {
			Logger().Warn("readWasm failed", zap.String("path", name), zap.Error(err))
			var he *Error
			if errors.As(err, &he) {
				c := *he
				he = &c
			} else {
				he = ioError(name, err)
			}
			he.Fatal = !catchable
			return nil, he
		}
		Logger().Debug("readWasm", zap.String("path", name), zap.Int("bytes", len(data)))
		return data, nil
	}
}
