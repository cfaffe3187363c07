package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/icyseptember2237/scripthost"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup finishes before exit.
func run() int {
	var (
		configFile  = flag.String("config", "", "Path to a YAML or JSON config file")
		engine      = flag.String("engine", "", "Engine backend: js, es5, lua or go")
		script      = flag.String("script", "", "Host script (default main.js)")
		wasm        = flag.String("wasm", "", "Binary preloaded into Module.wasmBinary (default main.wasm)")
		root        = flag.String("root", "", "Directory relative paths resolve against")
		cacheDir    = flag.String("cache-dir", "", "WebAssembly compilation cache directory")
		catchIO     = flag.Bool("catch-io", false, "Throw readWasm I/O failures into the script instead of aborting")
		stringify   = flag.Bool("stringify-primitives", false, "Report thrown primitives by their string form")
		console     = flag.Bool("console", false, "Install console and require (js)")
		snippet     = flag.Bool("snippet", false, "Print the failing source line under error diagnostics")
		verbose     = flag.Bool("v", false, "Debug logging")
		interactive = flag.Bool("i", false, "Interactive mode")
		schema      = flag.Bool("schema", false, "Print the config JSON schema and exit")
	)
	flag.Parse()

	if *schema {
		out, err := scripthost.ConfigSchema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
		return 0
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	scripthost.SetLogger(logger)

	cfg := scripthost.DefaultConfig()
	if *configFile != "" {
		if cfg, err = scripthost.LoadConfig(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["engine"] {
		cfg.UseEngine(*engine)
	}
	if set["script"] {
		cfg.Script = *script
	}
	if flag.NArg() > 0 {
		cfg.Script = flag.Arg(0)
	}
	if set["wasm"] {
		cfg.Wasm = *wasm
	}
	if set["root"] {
		cfg.Root = *root
	}
	if set["cache-dir"] {
		cfg.CacheDir = *cacheDir
	}
	if set["catch-io"] {
		cfg.CatchableIOErrors = *catchIO
	}
	if set["stringify-primitives"] {
		cfg.StringifyPrimitives = *stringify
	}
	if set["console"] {
		cfg.Console = *console
	}
	if set["snippet"] {
		cfg.Snippet = *snippet
	}
	if !cfg.Color {
		cfg.Color = term.IsTerminal(int(os.Stderr.Fd()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *interactive {
		if err := runInteractive(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	host, err := scripthost.NewHost(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := host.Run(ctx); err != nil {
		// Run has already written the diagnostic.
		return 1
	}
	return 0
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = !verbose
	return cfg.Build()
}
