// tiervm CLI - runs programs on the tiered execution engine
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/tiervm/manifest"
	"github.com/chazu/tiervm/server"
	"github.com/chazu/tiervm/vm"
)

var log = commonlog.GetLogger("tiervm.cli")

// examples is the demo program list run by -examples.
var examples = []string{
	"42",
	"10 + 20",
	"10 + 20 * 2",
	"(5 + 3) * 2",
	"100 / 4",
	"let x = 15;",
	"((5 + 3) * 2) - 6",
	"3.14 * 2.0",
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	eval        string
	interactive bool
	serve       bool
	addr        string
	configDir   string
	threshold   int
	backend     string
	noJIT       bool
	cachePath   string
	disasm      bool
	dumpIR      bool
	stats       bool
	verbosity   int
	examples    bool
	paths       []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("tiervm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.eval, "e", "", "Evaluate source text")
	fs.BoolVar(&o.interactive, "i", false, "Start interactive REPL")
	fs.BoolVar(&o.serve, "serve", false, "Start the engine service (Connect + gRPC)")
	fs.StringVar(&o.addr, "addr", "", "Service listen address (default from config)")
	fs.StringVar(&o.configDir, "config", "", "Directory containing tiervm.toml (default: search upward from cwd)")
	fs.IntVar(&o.threshold, "threshold", 0, "Hot threshold (default from config)")
	fs.StringVar(&o.backend, "backend", "", "Code generator backend: mock, amd64, arm64")
	fs.BoolVar(&o.noJIT, "no-jit", false, "Disable the compiled tier")
	fs.StringVar(&o.cachePath, "cache", "", "Persistent code cache (sqlite file)")
	fs.BoolVar(&o.disasm, "disasm", false, "Print bytecode before running")
	fs.BoolVar(&o.dumpIR, "ir", false, "Print optimized IR before running")
	fs.BoolVar(&o.stats, "stats", false, "Print engine statistics on exit")
	fs.IntVar(&o.verbosity, "v", 0, "Log verbosity (1 info, 2 debug)")
	fs.BoolVar(&o.examples, "examples", false, "Run the built-in example programs")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tiervm [options] [files...]\n\n")
		fmt.Fprintf(stderr, "Runs programs on an interpreter that tiers hot functions up to a JIT.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  tiervm -e '10 + 20 * 2'          # Evaluate an expression\n")
		fmt.Fprintf(stderr, "  tiervm -stats -threshold 5 p.tv  # Run a file, report tier-ups\n")
		fmt.Fprintf(stderr, "  tiervm -ir -e 'let x = 2; x * 3' # Show the optimized IR\n")
		fmt.Fprintf(stderr, "  tiervm -serve -addr :8765        # Serve EngineService\n")
		fmt.Fprintf(stderr, "  tiervm                           # Start REPL\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.paths = fs.Args()
	return o, nil
}

// loadConfig finds tiervm.toml and applies flag overrides.
func loadConfig(o *options) (*manifest.Config, error) {
	var (
		cfg *manifest.Config
		err error
	)
	if o.configDir != "" {
		cfg, err = manifest.Load(o.configDir)
	} else {
		cwd, _ := os.Getwd()
		cfg, err = manifest.FindAndLoad(cwd)
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = manifest.Default()
	}

	if o.threshold > 0 {
		cfg.JIT.Threshold = o.threshold
	}
	if o.backend != "" {
		if _, err := vm.ParseBackend(o.backend); err != nil {
			return nil, err
		}
		cfg.JIT.Backend = o.backend
	}
	if o.noJIT {
		off := false
		cfg.JIT.Enabled = &off
	}
	if o.cachePath != "" {
		cfg.Cache.Path = o.cachePath
	}
	if o.addr != "" {
		cfg.Server.Addr = o.addr
	}
	if o.verbosity > cfg.Log.Verbosity {
		cfg.Log.Verbosity = o.verbosity
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	commonlog.Initialize(cfg.Log.Verbosity, cfg.Log.Path)

	vmOpts := append(cfg.VMOptions(), vm.WithOutput(stdout))
	if cfg.Cache.Path != "" {
		cache, err := vm.OpenCodeCache(cfg.Cache.Path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer cache.Close()
		vmOpts = append(vmOpts, vm.WithCodeCache(cache))
	}
	engine := vm.NewVM(vmOpts...)
	log.Debug("engine ready", "id", engine.ID.String(), "threshold", cfg.JIT.Threshold, "backend", cfg.JIT.Backend)

	if o.stats {
		defer printStats(stdout, engine)
	}

	if o.serve {
		if err := serve(engine, cfg.Server.Addr); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return 1
		}
		return 0
	}

	if o.examples {
		runExamples(engine, stdout)
		return 0
	}

	status := 0
	for _, path := range o.paths {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := evalAndPrint(engine, string(src), o, stdout, stderr); err != nil {
			status = 1
		}
	}
	if o.eval != "" {
		if err := evalAndPrint(engine, o.eval, o, stdout, stderr); err != nil {
			status = 1
		}
	}

	if o.interactive || (len(o.paths) == 0 && o.eval == "") {
		runREPL(engine, o, stdout, stderr)
	}
	return status
}

// evalAndPrint runs src and prints its result, or the error to stderr.
func evalAndPrint(engine *vm.VM, src string, o *options, stdout, stderr io.Writer) error {
	if o.disasm || o.dumpIR {
		if err := dump(src, o.disasm, o.dumpIR, stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return err
		}
	}
	v, err := engine.EvalSource(src)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return err
	}
	fmt.Fprintln(stdout, v.String())
	return nil
}

// runExamples executes the demo programs, one engine run each.
func runExamples(engine *vm.VM, w io.Writer) {
	fmt.Fprintln(w, "=== tiervm examples ===")
	fmt.Fprintln(w)
	for _, src := range examples {
		fmt.Fprintf(w, "Executing: %s\n", src)
		v, err := engine.EvalSource(src)
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n\n", err)
			continue
		}
		fmt.Fprintf(w, "Result: %s\n\n", v)
	}
	fmt.Fprintln(w, "=== All examples completed ===")
}

// serve runs the engine service until SIGINT or SIGTERM.
func serve(engine *vm.VM, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(engine)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
