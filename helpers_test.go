package scripthost

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// addWasm exports add(i32, i32) i32.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

// logWasm imports env.log(i32) and exports memory, add and logSum, which
// passes the sum of its arguments to env.log.
var logWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x10, 0x03, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f, 0x60, 0x02, 0x7f, 0x7f, 0x00,
	0x02, 0x0b, 0x01, 0x03, 0x65, 0x6e, 0x76, 0x03, 0x6c, 0x6f, 0x67, 0x00, 0x00,
	0x03, 0x03, 0x02, 0x01, 0x02,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x19, 0x03,
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00,
	0x03, 0x61, 0x64, 0x64, 0x00, 0x01,
	0x06, 0x6c, 0x6f, 0x67, 0x53, 0x75, 0x6d, 0x00, 0x02,
	0x0a, 0x13, 0x02,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
	0x09, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x10, 0x00, 0x0b,
}

type harness struct {
	rt     *Runtime
	ctx    *Context
	global *Global
	root   string
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// newHarness boots engineType with puts and readWasm registered. readWasm
// reads from the harness root.
func newHarness(t *testing.T, engineType string, features Features, configure ...func(*Options)) *harness {
	t.Helper()

	h := &harness{
		root:   t.TempDir(),
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
	opts := Options{
		Stdout: h.stdout,
		Stderr: h.stderr,
		Loader: FileLoader{Root: h.root},
	}
	for _, fn := range configure {
		fn(&opts)
	}

	rt, err := Init(engineType, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	c, err := rt.NewContext()
	require.NoError(t, err)
	require.NoError(t, c.SetFeatures(features))
	g, err := c.CreateGlobal()
	require.NoError(t, err)

	require.NoError(t, g.Register("puts", 1, Puts(h.stdout)))
	require.NoError(t, g.Register("readWasm", 1, ReadWasm(opts.Loader, false)))

	h.rt, h.ctx, h.global = rt, c, g
	return h
}

func (h *harness) writeFile(t *testing.T, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.root, name), data, 0o644))
}

// run evaluates src and reports any pending exception.
func (h *harness) run(t *testing.T, src, name string) (*ScriptError, error) {
	t.Helper()
	_, err := h.global.Evaluate(src, name)
	if err == nil || !IsKind(err, KindException) {
		return nil, err
	}
	return h.ctx.Report()
}
