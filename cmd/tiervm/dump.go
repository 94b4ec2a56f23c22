package main

import (
	"fmt"
	"io"

	"github.com/chazu/tiervm/compiler"
	"github.com/chazu/tiervm/pkg/bytecode"
	"github.com/chazu/tiervm/vm"
)

// dump prints the bytecode and/or optimized IR of every chunk in src.
// Chunks the JIT refuses print the reason instead of IR.
func dump(src string, disasm, ir bool, w io.Writer) error {
	mod, err := compiler.Compile(src)
	if err != nil {
		return err
	}

	type unit struct {
		id    bytecode.FunctionID
		name  string
		chunk *bytecode.Chunk
	}
	units := []unit{{bytecode.MainFunctionID, "main", mod.Main}}
	for _, fn := range mod.Functions {
		units = append(units, unit{fn.ID, fn.Name, fn.Chunk})
	}

	opt := vm.NewOptimizer()
	for _, u := range units {
		if disasm {
			fmt.Fprint(w, u.chunk.DisassembleWithName(u.name))
		}
		if !ir {
			continue
		}
		g, err := vm.LowerToIR(u.id, u.chunk)
		if err != nil {
			fmt.Fprintf(w, "== %s IR ==\n  (not compiled: %v)\n", u.name, err)
			continue
		}
		report := opt.Run(g)
		fmt.Fprintf(w, "== %s IR ==\n%s", u.name, g)
		fmt.Fprintf(w, "  folded=%v redundant=%d inline=%v specialized=%v live=%v\n",
			report.Folded, len(report.RedundantLoads), report.InlineCandidates, report.Specialized, report.Live)
	}
	return nil
}
