package scripthost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEs5Preamble(t *testing.T) {
	h := newHarness(t, TypeEngineEs5, Features{})
	h.writeFile(t, "main.wasm", addWasm)

	p := h.rt.Preamble(Preamble{Print: "puts", PrintErr: "puts", ReadWasm: "readWasm", WasmPath: "main.wasm"})
	_, err := h.global.Evaluate(Bootstrap(p, `Module.print("out"); puts(Module.wasmBinary.length);`), "main.js")
	require.NoError(t, err)
	assert.Equal(t, "out\n41\n", h.stdout.String())
}

func TestEs5ErrorLocation(t *testing.T) {
	h := newHarness(t, TypeEngineEs5, Features{})

	se, err := h.run(t, "var a = 1;\nvar b = 2;\nthrow new Error('boom');\n", "main.js")
	require.NoError(t, err)
	require.NotNil(t, se)
	assert.True(t, se.Located)
	assert.Equal(t, "boom", se.Message)
	assert.Equal(t, "main.js", se.Filename)
	assert.Equal(t, uint32(3), se.Line)
	assert.Contains(t, h.stderr.String(), "Error at main.js:3:")
}

func TestEs5StringThrow(t *testing.T) {
	h := newHarness(t, TypeEngineEs5, Features{})

	se, err := h.run(t, `throw "boom";`, "main.js")
	require.NoError(t, err)
	require.NotNil(t, se)
	assert.False(t, se.Located)
	assert.Equal(t, "Error: boom\n", h.stderr.String())
}

func TestEs5CatchableHostError(t *testing.T) {
	h := newHarness(t, TypeEngineEs5, Features{})
	require.NoError(t, h.global.Register("fail", 0, func(Call) (any, error) {
		return nil, assert.AnError
	}))

	_, err := h.global.Evaluate(`try { fail(); } catch (e) { puts(e.message); }`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, assert.AnError.Error()+"\n", h.stdout.String())
}

func TestEs5FatalIsUncatchable(t *testing.T) {
	h := newHarness(t, TypeEngineEs5, Features{})

	_, err := h.global.Evaluate(`
try {
  readWasm("missing.wasm");
} catch (e) {
  puts("caught");
}
puts("after");
`, "main.js")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIO))
	assert.Empty(t, h.stdout.String())

	se, err := h.ctx.Report()
	require.NoError(t, err)
	assert.Nil(t, se)

	_, err = h.global.Evaluate(`puts("again")`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, "again\n", h.stdout.String())
}

func TestEs5CompileError(t *testing.T) {
	h := newHarness(t, TypeEngineEs5, Features{})

	_, err := h.global.Evaluate(`var = ;`, "main.js")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCompile))
}
