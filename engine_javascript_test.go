package scripthost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsPreamble(t *testing.T) {
	p := Preamble{Print: "puts", PrintErr: "puts", ReadWasm: "readWasm"}
	assert.Equal(t, "var Module = {'printErr': puts, 'print': puts};", jsPreamble(p))

	p.WasmPath = `dir/"main".wasm`
	assert.Equal(t,
		`var Module = {'printErr': puts, 'print': puts}; Module['wasmBinary'] = readWasm("dir/\"main\".wasm");`,
		jsPreamble(p))
}

func TestJsPreambleWiresModule(t *testing.T) {
	h := newHarness(t, TypeEngineJs, Features{})
	h.writeFile(t, "main.wasm", addWasm)

	pre := h.rt.Preamble(Preamble{Print: "puts", PrintErr: "puts", ReadWasm: "readWasm", WasmPath: "main.wasm"})
	_, err := h.global.Evaluate(Bootstrap(pre, "Module.print('out'); Module.printErr(Module.wasmBinary.byteLength);"), "main.js")
	require.NoError(t, err)
	assert.Equal(t, "out\n41\n", h.stdout.String())
}

func TestJsEvaluateResult(t *testing.T) {
	h := newHarness(t, TypeEngineJs, Features{})

	v, err := h.global.Evaluate("var a = 20; a + 22", "main.js")
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	v, err = h.global.Evaluate("a", "main.js")
	require.NoError(t, err)
	assert.EqualValues(t, 20, v, "the global environment persists across evaluations")
}

func TestJsFunctionLength(t *testing.T) {
	h := newHarness(t, TypeEngineJs, Features{})
	_, err := h.global.Evaluate("puts(puts.length + readWasm.length)", "main.js")
	require.NoError(t, err)
	assert.Equal(t, "2\n", h.stdout.String())
}

func TestJsReadWasmBuffer(t *testing.T) {
	h := newHarness(t, TypeEngineJs, Features{})
	h.writeFile(t, "data.bin", []byte{0, 1, 2, 255})

	_, err := h.global.Evaluate(`
var buf = readWasm("data.bin");
puts(buf instanceof ArrayBuffer);
puts(buf.byteLength);
puts(new Uint8Array(buf)[3]);
`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, "true\n4\n255\n", h.stdout.String())
}

func TestJsFatalErrorIsUncatchable(t *testing.T) {
	h := newHarness(t, TypeEngineJs, Features{})

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
	assert.True(t, IsFatal(err))
	assert.Empty(t, h.stdout.String())

	se, err := h.ctx.Report()
	require.NoError(t, err)
	assert.Nil(t, se, "an abort leaves nothing pending")

	_, err = h.global.Evaluate(`puts("again")`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, "again\n", h.stdout.String())
}

func TestJsCatchableHostError(t *testing.T) {
	h := newHarness(t, TypeEngineJs, Features{})
	require.NoError(t, h.global.Register("readWasmSafe", 1, ReadWasm(FileLoader{Root: h.root}, true)))

	_, err := h.global.Evaluate(`
try {
  readWasmSafe("missing.wasm");
} catch (e) {
  puts(e instanceof Error);
  puts(e.message.indexOf("not_found") >= 0);
}
`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, "true\ntrue\n", h.stdout.String())
}

func TestJsConsole(t *testing.T) {
	h := newHarness(t, TypeEngineJs, Features{}, func(o *Options) {
		o.Console = true
	})

	_, err := h.global.Evaluate(`console.log("hello", 1); console.error("oops");`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, "hello 1\n", h.stdout.String())
	assert.Equal(t, "oops\n", h.stderr.String())
}

func TestJsRequire(t *testing.T) {
	h := newHarness(t, TypeEngineJs, Features{})
	h.writeFile(t, "lib.js", []byte(`module.exports = {answer: 42};`))

	_, err := h.global.Evaluate(`puts(require("./lib.js").answer)`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, "42\n", h.stdout.String())

	se, err := h.run(t, `require("./nothing.js")`, "main.js")
	require.NoError(t, err)
	require.NotNil(t, se, "a missing module is a script exception")
	assert.NotEmpty(t, se.Message)
}

func TestFirstFrame(t *testing.T) {
	tests := []struct {
		stack string
		file  string
		line  uint32
		col   uint32
		ok    bool
	}{
		{"Error: boom\n\tat main.js:3:7(3)\n", "main.js", 3, 7, true},
		{"Error: boom\n\tat fail (lib.js:2:9(4))\n\tat main.js:4:1(10)\n", "lib.js", 2, 9, true},
		{"Error: boom\n\tat Error (native)\n\tat <eval>:1:1(2)\n", "", 1, 1, true},
		{"Error: boom\n", "", 0, 0, false},
	}
	for _, tt := range tests {
		file, line, col, ok := firstFrame(tt.stack)
		assert.Equal(t, tt.ok, ok, tt.stack)
		assert.Equal(t, tt.file, file)
		assert.Equal(t, tt.line, line)
		assert.Equal(t, tt.col, col)
	}
}
