package scripthost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ailncode/gluaxmlpath"
	"github.com/ciaos/gluahttp"
	"github.com/cjoudrey/gluaurl"
	"github.com/yuin/gluamapper"
	"github.com/yuin/gluare"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	luajson "layeh.com/gopher-json"
	luar "layeh.com/gopher-luar"
)

const (
	TypeEngineLua = "lua"
)

// LuaEngine runs Lua 5.1 on gopher-lua with json, url, re, http and xmlpath
// preloaded.
type LuaEngine struct {
	vm      *lua.LState
	opts    Options
	cancel  context.CancelFunc
	pending *lua.ApiError
	fatal   error
	ready   bool
}

func (e *LuaEngine) New(opts Options) error {
	e.opts = opts
	e.ready = false
	return nil
}

func (e *LuaEngine) NewContext() error {
	if e.vm != nil {
		return errors.New("lua: context already created")
	}
	e.vm = lua.NewState()
	luajson.Preload(e.vm)
	e.vm.PreloadModule("url", gluaurl.Loader)
	e.vm.PreloadModule("re", gluare.Loader)
	e.vm.PreloadModule("http", gluahttp.NewHttpModule(&http.Client{}).Loader)
	e.vm.PreloadModule("xmlpath", gluaxmlpath.Loader)
	e.resetContext()
	return nil
}

// resetContext installs a fresh cancelable context; canceling it stops the
// running chunk at its next instruction.
func (e *LuaEngine) resetContext() {
	ctx, cancel := context.WithCancel(e.opts.context())
	e.vm.SetContext(ctx)
	e.cancel = cancel
}

func (e *LuaEngine) SetFeatures(f Features) error {
	return noFeatures(TypeEngineLua, f)
}

func (e *LuaEngine) CreateGlobal() error {
	if e.vm == nil {
		return errors.New("lua: no context")
	}
	e.ready = true
	return nil
}

func (e *LuaEngine) RegisterFunction(name string, arity int, fn HostFunction) error {
	if !e.ready {
		return errors.New("lua: global environment not created")
	}
	e.vm.SetGlobal(name, e.vm.NewFunction(func(L *lua.LState) int {
		v, err := fn(luaCall{L: L})
		if err != nil {
			if IsFatal(err) {
				e.abort(err)
				return 0
			}
			L.RaiseError("%s", err.Error())
			return 0
		}
		if v == nil {
			return 0
		}
		L.Push(e.toLuaValue(v))
		return 1
	}))
	return nil
}

func (e *LuaEngine) abort(err error) {
	if e.fatal == nil {
		e.fatal = err
	}
	Logger().Debug("lua: canceling chunk", zap.Error(e.fatal))
	e.cancel()
}

func (e *LuaEngine) toLuaValue(src interface{}) lua.LValue {
	if src == nil {
		return lua.LNil
	}
	if b, ok := src.([]byte); ok {
		return lua.LString(b)
	}
	srcVal := reflect.ValueOf(src)
	switch srcVal.Kind() {
	case reflect.Map:
		dst := e.vm.NewTable()
		for _, key := range srcVal.MapKeys() {
			dst.RawSet(luar.New(e.vm, key.Interface()), e.toLuaValue(srcVal.MapIndex(key).Interface()))
		}
		return dst
	case reflect.Slice:
		dst := e.vm.NewTable()
		for i := 0; i < srcVal.Len(); i++ {
			dst.Append(e.toLuaValue(srcVal.Index(i).Interface()))
		}
		return dst
	default:
		return luar.New(e.vm, src)
	}
}

func (e *LuaEngine) toGoValue(src lua.LValue) interface{} {
	switch v := src.(type) {
	case *lua.LTable:
		maxn := v.MaxN()
		if maxn == 0 {
			ret := make(map[string]interface{})
			v.ForEach(func(key, value lua.LValue) {
				keyStr := fmt.Sprint(e.toGoValue(key))
				if keyStr != "" && unicode.IsLower(rune(keyStr[0])) {
					ret[gluamapper.ToUpperCamelCase(keyStr)] = e.toGoValue(value)
				} else {
					ret[keyStr] = e.toGoValue(value)
				}
			})
			return ret
		}
		ret := make([]interface{}, 0, maxn)
		for i := 1; i <= maxn; i++ {
			ret = append(ret, e.toGoValue(v.RawGetInt(i)))
		}
		return ret
	case *lua.LUserData:
		return v.Value
	default:
		return gluamapper.ToGoValue(src, gluamapper.Option{NameFunc: gluamapper.ToUpperCamelCase})
	}
}

// Preamble builds the Module table in Lua syntax.
func (e *LuaEngine) Preamble(p Preamble) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Module = {printErr = %s, print = %s};", p.PrintErr, p.Print)
	if p.WasmPath != "" {
		fmt.Fprintf(&b, " Module.wasmBinary = %s(%s);", p.ReadWasm, luaString(p.WasmPath))
	}
	return b.String()
}

// luaString quotes s as a long bracket string.
func luaString(s string) string {
	level := ""
	for strings.Contains(s, "]"+level+"]") {
		level += "="
	}
	return "[" + level + "[" + s + "]" + level + "]"
}

func (e *LuaEngine) ParseString(source, sourceName string) (any, error) {
	if !e.ready {
		return nil, errors.New("lua: global environment not created")
	}
	fn, err := e.vm.Load(strings.NewReader(source), sourceName)
	if err != nil {
		return nil, compileError(sourceName, err)
	}

	top := e.vm.GetTop()
	e.vm.Push(fn)
	err = e.vm.PCall(0, lua.MultRet, nil)
	if e.fatal != nil {
		err, e.fatal = e.fatal, nil
		e.vm.SetTop(top)
		e.resetContext()
		return nil, err
	}
	if err != nil {
		e.vm.SetTop(top)
		var apiErr *lua.ApiError
		if !errors.As(err, &apiErr) {
			return nil, fmt.Errorf("lua: evaluate %s: %w", sourceName, err)
		}
		e.pending = apiErr
		return nil, exceptionPending("evaluate " + sourceName)
	}

	defer e.vm.SetTop(top)
	if e.vm.GetTop() == top {
		return nil, nil
	}
	return e.toGoValue(e.vm.Get(top + 1)), nil
}

func (e *LuaEngine) PendingException() (*Exception, bool) {
	apiErr := e.pending
	if apiErr == nil {
		return nil, false
	}
	e.pending = nil
	return e.describe(apiErr.Object), true
}

var luaPosition = regexp.MustCompile(`(?s)^(.+?):(\d+): (.*)$`)

// luaErrorTable is the shape of error tables thrown with error({...}).
type luaErrorTable struct {
	Message  string
	Filename string
	Line     int
	Column   int
}

// describe classifies an error value. Strings raised by the runtime carry a
// "chunk:line:" prefix and are reported as located errors.
func (e *LuaEngine) describe(v lua.LValue) *Exception {
	switch x := v.(type) {
	case nil:
		return &Exception{Kind: ThrownOther, Type: "nil", Text: "nil"}
	case lua.LString:
		s := string(x)
		if m := luaPosition.FindStringSubmatch(s); m != nil {
			line, _ := strconv.ParseUint(m[2], 10, 32)
			return &Exception{Kind: ThrownObject, Report: &ScriptError{
				Message:  m[3],
				Filename: m[1],
				Line:     uint32(line),
			}}
		}
		return &Exception{Kind: ThrownString, Text: s}
	case *lua.LTable:
		out := &Exception{Kind: ThrownObject}
		var t luaErrorTable
		if err := gluamapper.Map(x, &t); err == nil && t.Message != "" {
			out.Report = &ScriptError{
				Message:  t.Message,
				Filename: t.Filename,
				Line:     uint32(t.Line),
				Column:   uint32(t.Column),
			}
		} else if e.vm.GetMetaField(x, "__tostring") != lua.LNil {
			out.Report = &ScriptError{Message: e.vm.ToStringMeta(x).String()}
		}
		return out
	default:
		return &Exception{Kind: ThrownOther, Type: v.Type().String(), Text: e.vm.ToStringMeta(v).String()}
	}
}

func (e *LuaEngine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.vm != nil {
		e.vm.Close()
		e.vm = nil
	}
	e.ready = false
}

type luaCall struct {
	L *lua.LState
}

func (c luaCall) Len() int {
	return c.L.GetTop()
}

func (c luaCall) String(i int) string {
	return c.L.ToStringMeta(c.L.Get(i + 1)).String()
}
