package scripthost

import "fmt"

// EngineTypes lists the supported backend type constants.
var EngineTypes = []string{TypeEngineJs, TypeEngineEs5, TypeEngineLua, TypeEngineGo}

// NewEngine returns an unstarted backend of the given type.
func NewEngine(engineType string) (Engine, error) {
	var engine Engine
	switch engineType {
	case TypeEngineJs:
		engine = &JsEngine{}
	case TypeEngineEs5:
		engine = &Es5Engine{}
	case TypeEngineLua:
		engine = &LuaEngine{}
	case TypeEngineGo:
		engine = &GoEngine{}
	default:
		return nil, configError("new engine", "unknown engine type %q (want one of %v)", engineType, EngineTypes)
	}
	return engine, nil
}

// supportsWasm reports whether engineType can host the WebAssembly feature.
func supportsWasm(engineType string) bool {
	return engineType == TypeEngineJs
}

func noFeatures(engineType string, f Features) error {
	if f.Wasm || f.WasmBaseline || f.WasmOptimizing {
		return fmt.Errorf("engine %q does not support wasm features", engineType)
	}
	return nil
}
