package scripthost

import (
	"errors"
	"strings"
)

// Kind categorizes a host error.
type Kind string

const (
	KindEngineInit           Kind = "engine_init"           // engine or context could not be created
	KindConfig               Kind = "config"                // invalid configuration or duplicate binding
	KindState                Kind = "state"                 // lifecycle misuse
	KindIO                   Kind = "io"                    // asset or script could not be read
	KindEncoding             Kind = "encoding"              // engine text is not valid UTF-8
	KindCompile              Kind = "compile"               // source did not parse
	KindException            Kind = "exception"             // uncaught script exception
	KindUnsupportedException Kind = "unsupported_exception" // thrown value has no readable form
)

// Reason refines KindIO errors.
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonPermission    Reason = "permission"
	ReasonTruncatedRead Reason = "truncated_read"
	ReasonRead          Reason = "read"
)

// Error is the structured error type returned across the host.
type Error struct {
	Cause  error
	Kind   Kind
	Op     string
	Path   string
	Reason Reason
	Detail string
	// Fatal errors abort the run instead of surfacing as script exceptions.
	Fatal bool
}

func newError(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause, Fatal: kind.fatal()}
}

func (k Kind) fatal() bool {
	switch k {
	case KindEngineInit, KindConfig, KindIO, KindEncoding, KindUnsupportedException:
		return true
	}
	return false
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	b.WriteByte(']')

	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(string(e.Reason))
		b.WriteByte(')')
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind. A target with a
// Reason set must match that too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason != "" && t.Reason != e.Reason {
		return false
	}
	return e.Kind == t.Kind
}

// IsKind reports whether err carries a host error of the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	var he *Error
	return errors.As(err, &he) && he.Fatal
}
