package scripthost

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitUnknownEngine(t *testing.T) {
	_, err := Init("cobol", Options{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfig))
	assert.True(t, IsFatal(err))
}

func TestRuntimeSingleContext(t *testing.T) {
	rt, err := Init(TypeEngineJs, Options{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, TypeEngineJs, rt.EngineType())

	_, err = rt.NewContext()
	require.NoError(t, err)
	_, err = rt.NewContext()
	assert.True(t, IsKind(err, KindState))
}

func TestContextLifecycle(t *testing.T) {
	rt, err := Init(TypeEngineJs, Options{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	require.NoError(t, err)
	defer rt.Close()

	c, err := rt.NewContext()
	require.NoError(t, err)

	f := Features{Wasm: true, WasmBaseline: true}
	require.NoError(t, c.SetFeatures(f))
	assert.Equal(t, f, c.Features())

	err = c.SetFeatures(f)
	assert.True(t, IsKind(err, KindState), "features are set once")

	g, err := c.CreateGlobal()
	require.NoError(t, err)
	_, err = c.CreateGlobal()
	assert.True(t, IsKind(err, KindState))

	require.NoError(t, g.Close())
	_, err = g.Evaluate("1", "main.js")
	assert.True(t, IsKind(err, KindState))
	err = g.Register("late", 0, func(Call) (any, error) { return nil, nil })
	assert.True(t, IsKind(err, KindState))
}

func TestCloseIsIdempotentAndOrdered(t *testing.T) {
	rt, err := Init(TypeEngineLua, Options{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	require.NoError(t, err)
	c, err := rt.NewContext()
	require.NoError(t, err)
	g, err := c.CreateGlobal()
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	_, err = g.Evaluate("x = 1", "main.lua")
	assert.True(t, IsKind(err, KindState), "closing the runtime closes the global")
	_, err = rt.NewContext()
	assert.True(t, IsKind(err, KindState))
}

func TestSetFeaturesRejectedByBackend(t *testing.T) {
	for _, engineType := range []string{TypeEngineEs5, TypeEngineLua, TypeEngineGo} {
		t.Run(engineType, func(t *testing.T) {
			rt, err := Init(engineType, Options{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
			require.NoError(t, err)
			defer rt.Close()
			c, err := rt.NewContext()
			require.NoError(t, err)

			err = c.SetFeatures(Features{Wasm: true, WasmBaseline: true})
			assert.True(t, IsKind(err, KindConfig))
			require.NoError(t, c.SetFeatures(Features{}))
		})
	}
}

func TestBootstrapKeepsLineNumbers(t *testing.T) {
	assert.Equal(t, "puts(1)", Bootstrap("", "puts(1)"))
	assert.Equal(t, "var a = 1; puts(a)\nputs(2)", Bootstrap("var a = 1;", "puts(a)\nputs(2)"))
}

func TestCompileErrorIsNotPending(t *testing.T) {
	h := newHarness(t, TypeEngineJs, Features{})

	_, err := h.global.Evaluate("var = ;", "main.js")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCompile))

	se, err := h.ctx.Report()
	require.NoError(t, err)
	assert.Nil(t, se)
	assert.Empty(t, h.stderr.String())
}

func TestGlobalSourceIsKept(t *testing.T) {
	h := newHarness(t, TypeEngineJs, Features{})
	_, err := h.global.Evaluate("var x = 1;", "a.js")
	require.NoError(t, err)

	src, ok := h.global.Source("a.js")
	assert.True(t, ok)
	assert.Equal(t, "var x = 1;", src)
	_, ok = h.global.Source("b.js")
	assert.False(t, ok)
}

func TestEvaluateScriptColumnsIgnorePreamble(t *testing.T) {
	const script = "throw new Error('x');\n"

	plain := newHarness(t, TypeEngineJs, Features{})
	want, err := plain.run(t, script, "main.js")
	require.NoError(t, err)
	require.NotNil(t, want)

	h := newHarness(t, TypeEngineJs, Features{})
	p := h.rt.Preamble(Preamble{Print: "puts", PrintErr: "puts"})
	_, err = h.global.EvaluateScript(p, script, "main.js")
	require.True(t, IsKind(err, KindException))
	got, err := h.ctx.Report()
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, uint32(1), got.Line)
	assert.Equal(t, want.Column, got.Column)
	assert.Equal(t, plain.stderr.String(), h.stderr.String())

	src, ok := h.global.Source("main.js")
	assert.True(t, ok)
	assert.Equal(t, script, src)
}
