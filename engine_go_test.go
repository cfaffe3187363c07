package scripthost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportedName(t *testing.T) {
	assert.Equal(t, "Puts", exportedName("puts"))
	assert.Equal(t, "ReadWasm", exportedName("readWasm"))
	assert.Equal(t, "", exportedName(""))
}

// goProgram wraps body in a main package that imports the host bindings.
func goProgram(body string) string {
	return "package main\n\nimport \"host\"\n\nfunc main() {\n" + body + "\n}\n"
}

func TestGoPuts(t *testing.T) {
	h := newHarness(t, TypeEngineGo, Features{})

	_, err := h.global.Evaluate(goProgram("\thost.Puts(1 + 1)"), "main.go")
	require.NoError(t, err)
	assert.Equal(t, "2\n", h.stdout.String())
	assert.Empty(t, h.stderr.String())
	assert.Empty(t, h.rt.Preamble(Preamble{Print: "puts", WasmPath: "main.wasm"}))
}

func TestGoReadWasm(t *testing.T) {
	h := newHarness(t, TypeEngineGo, Features{})
	h.writeFile(t, "add.wasm", addWasm)

	_, err := h.global.Evaluate(goProgram("\tb := host.ReadWasm(\"add.wasm\").([]byte)\n\thost.Puts(len(b))"), "main.go")
	require.NoError(t, err)
	assert.Equal(t, "41\n", h.stdout.String())
}

func TestGoPanicIsLocated(t *testing.T) {
	h := newHarness(t, TypeEngineGo, Features{})

	se, err := h.run(t, "package main\n\nfunc main() {\n\tpanic(\"boom\")\n}\n", "main.go")
	require.NoError(t, err)
	require.NotNil(t, se)
	assert.True(t, se.Located)
	assert.Equal(t, "Error at main.go:4:2 boom\n", h.stderr.String())
}

func TestGoFatal(t *testing.T) {
	h := newHarness(t, TypeEngineGo, Features{})

	_, err := h.global.Evaluate(goProgram("\thost.ReadWasm(\"missing.wasm\")\n\thost.Puts(\"after\")"), "main.go")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIO))
	assert.True(t, IsFatal(err))
	assert.Empty(t, h.stdout.String())
	assert.Empty(t, h.stderr.String())
}

func TestGoCompileError(t *testing.T) {
	h := newHarness(t, TypeEngineGo, Features{})

	_, err := h.global.Evaluate(`func (`, "main.go")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCompile))
}

func TestGoReport(t *testing.T) {
	se := goReport("boom", "_.go", "4", "2", "main.go")
	assert.Equal(t, &ScriptError{Message: "boom", Filename: "main.go", Line: 4, Column: 2}, se)

	se = goReport("boom", "lib.go", "1", "7", "main.go")
	assert.Equal(t, "lib.go", se.Filename)

	m := goPanicFrame.FindStringSubmatch("4:2: panic: main.main(...)")
	require.NotNil(t, m)
	assert.Equal(t, []string{"", "4", "2"}, m[1:])
}

func TestGoPositionPattern(t *testing.T) {
	m := goPosition.FindStringSubmatch("main.go:3:5: undefined: x")
	require.NotNil(t, m)
	assert.Equal(t, []string{"main.go", "3", "5", "undefined: x"}, m[1:])

	m = goPosition.FindStringSubmatch("3:5: boom")
	require.NotNil(t, m)
	assert.Equal(t, "", m[1])
}
