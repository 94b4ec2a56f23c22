package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/chazu/tiervm/vm"
)

func printStats(w io.Writer, engine *vm.VM) {
	s := engine.Stats()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "engine\t%s\n", s.ID)
	fmt.Fprintf(tw, "executions\t%s\n", humanize.Comma(int64(s.Executions)))
	fmt.Fprintf(tw, "instructions\t%s\n", humanize.Comma(int64(s.Interpreter.Instructions)))
	fmt.Fprintf(tw, "calls\t%s\n", humanize.Comma(int64(s.Interpreter.Calls)))
	fmt.Fprintf(tw, "functions\t%d (%d hot, threshold %d)\n", s.Functions, s.Profiler.HotFunctions, s.Profiler.Threshold)
	fmt.Fprintf(tw, "compiled\t%d (%s of code)\n", s.Compiled, humanize.Bytes(uint64(s.CodeBytes)))
	fmt.Fprintf(tw, "rejected\t%d\n", s.Rejected)
	fmt.Fprintf(tw, "tier-ups\t%d (%d from cache)\n", s.TierUps, s.CacheHits)
	fmt.Fprintf(tw, "deopts\t%d\n", s.Deopts)
	fmt.Fprintf(tw, "compile time\t%s\n", s.JIT.CompilationTime)
	tw.Flush()
}
