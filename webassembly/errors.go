package webassembly

import "fmt"

// ErrorKind mirrors the WebAssembly JS API error classes.
type ErrorKind string

const (
	KindCompile ErrorKind = "compile"
	KindLink    ErrorKind = "link"
	KindRuntime ErrorKind = "runtime"
)

// Error is returned by every operation of this package.
type Error struct {
	Err    error
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("wasm %s error: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("wasm %s error: %s", e.Kind, e.Detail)
	default:
		return fmt.Sprintf("wasm %s error: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errorf(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: err, Detail: fmt.Sprintf(format, args...)}
}
