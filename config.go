package scripthost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// validate is shared; validator caches struct metadata.
var validate = validator.New()

// Config describes one host run.
type Config struct {
	Engine string `json:"engine" yaml:"engine" validate:"required,oneof=js es5 lua go" jsonschema:"enum=js,enum=es5,enum=lua,enum=go,default=js"`
	Script string `json:"script" yaml:"script" validate:"required" jsonschema:"default=main.js"`
	// Wasm is preloaded into Module.wasmBinary. Empty disables the preload.
	Wasm string `json:"wasm,omitempty" yaml:"wasm,omitempty" jsonschema:"default=main.wasm"`
	// Root resolves relative script, wasm and module paths.
	Root     string `json:"root,omitempty" yaml:"root,omitempty"`
	CacheDir string `json:"cacheDir,omitempty" yaml:"cacheDir,omitempty"`
	BuildID  string `json:"buildId" yaml:"buildId" validate:"required,printascii,excludesall=/\\" jsonschema:"default=SP"`

	Features Features `json:"features" yaml:"features"`

	CatchableIOErrors   bool `json:"catchableIoErrors" yaml:"catchableIoErrors"`
	StringifyPrimitives bool `json:"stringifyPrimitives" yaml:"stringifyPrimitives"`
	Console             bool `json:"console" yaml:"console"`
	Snippet             bool `json:"snippet" yaml:"snippet"`
	Color               bool `json:"color" yaml:"color"`
}

// DefaultConfig runs main.js with main.wasm preloaded and every wasm tier on.
func DefaultConfig() *Config {
	return &Config{
		Engine:  TypeEngineJs,
		Script:  "main.js",
		Wasm:    "main.wasm",
		BuildID: DefaultBuildID,
		Features: Features{
			Wasm:           true,
			WasmBaseline:   true,
			WasmOptimizing: true,
		},
	}
}

// UseEngine switches the backend, dropping wasm features it cannot host.
func (c *Config) UseEngine(engineType string) {
	c.Engine = engineType
	if !supportsWasm(engineType) {
		c.Features = Features{}
	}
}

// configFeatures records whether a config file sets features at all.
type configFeatures struct {
	Features *Features `json:"features" yaml:"features"`
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON file over DefaultConfig.
// A file that names a non-js engine without a features block gets that
// engine's defaults, as UseEngine does.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError(path, err)
	}

	cfg := DefaultConfig()
	var declared configFeatures
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err = yaml.Unmarshal(data, cfg); err == nil {
			err = yaml.Unmarshal(data, &declared)
		}
	default:
		if err = json.Unmarshal(data, cfg); err == nil {
			err = json.Unmarshal(data, &declared)
		}
	}
	if err != nil {
		e := newError(KindConfig, "load config", err)
		e.Path = path
		return nil, e
	}
	// Default features only apply to the default engine.
	if declared.Features == nil {
		cfg.UseEngine(cfg.Engine)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return newError(KindConfig, "validate config", err)
	}
	if c.Features.Wasm && !supportsWasm(c.Engine) {
		return configError("validate config", "engine %q does not support wasm features", c.Engine)
	}
	if c.Features.Wasm && !c.Features.WasmBaseline && !c.Features.WasmOptimizing {
		return configError("validate config", "wasm needs at least one compilation tier")
	}
	if !c.Features.Wasm && (c.Features.WasmBaseline || c.Features.WasmOptimizing) {
		return configError("validate config", "wasm tiers set without wasm")
	}
	return nil
}

// ConfigSchema returns the JSON schema of Config.
func ConfigSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Config{})

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}
