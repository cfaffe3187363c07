package scripthost

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormat(t *testing.T) {
	err := &Error{
		Kind:   KindIO,
		Op:     "load",
		Path:   "main.wasm",
		Reason: ReasonNotFound,
		Cause:  fs.ErrNotExist,
	}
	assert.Equal(t, "[io] load main.wasm (not_found): file does not exist", err.Error())

	err = &Error{Kind: KindState, Op: "evaluate", Detail: "global environment closed"}
	assert.Equal(t, "[state] evaluate: global environment closed", err.Error())
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("run: %w", ioError("main.wasm", fs.ErrNotExist))

	assert.True(t, IsKind(err, KindIO))
	assert.False(t, IsKind(err, KindConfig))
	assert.True(t, errors.Is(err, &Error{Kind: KindIO, Reason: ReasonNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindIO, Reason: ReasonPermission}))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.True(t, IsFatal(err))
}

func TestFatalKinds(t *testing.T) {
	fatal := map[Kind]bool{
		KindEngineInit:           true,
		KindConfig:               true,
		KindState:                false,
		KindIO:                   true,
		KindEncoding:             true,
		KindCompile:              false,
		KindException:            false,
		KindUnsupportedException: true,
	}
	for kind, want := range fatal {
		assert.Equal(t, want, newError(kind, "op", nil).Fatal, kind)
	}
	assert.False(t, IsFatal(errors.New("plain")))
}
