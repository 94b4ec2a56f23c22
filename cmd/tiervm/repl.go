package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/peterh/liner"

	"github.com/chazu/tiervm/vm"
)

const (
	historyFile = ".tiervm_history"
	promptMain  = "tiervm> "
	promptCont  = "   ...> "
)

// runREPL reads programs line by line. Function declarations persist
// across entries. Commands start with ':'.
func runREPL(engine *vm.VM, o *options, stdout, stderr io.Writer) {
	fmt.Fprintln(stdout, "tiervm REPL - :help for commands, :quit to exit")

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		code, ok := readBalanced(ln, promptMain, promptCont)
		if !ok {
			fmt.Fprintln(stdout)
			return
		}
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))

		if strings.HasPrefix(code, ":") {
			if quit := replCommand(engine, code, stdout); quit {
				return
			}
			continue
		}
		_ = evalAndPrint(engine, code, o, stdout, stderr)
	}
}

// replCommand handles a ':' command and reports whether to exit.
func replCommand(engine *vm.VM, cmd string, w io.Writer) bool {
	fields := strings.Fields(cmd)
	switch strings.ToLower(fields[0]) {
	case ":quit", ":q":
		return true
	case ":stats":
		printStats(w, engine)
	case ":hot":
		for _, id := range engine.Profiler().HotFunctions() {
			state := "interpreted"
			if engine.IsCompiled(id) {
				cf, _ := engine.CompiledFunction(id)
				state = "compiled, " + humanize.Bytes(uint64(cf.Size()))
			} else if err := engine.Rejection(id); err != nil {
				state = "rejected: " + err.Error()
			}
			fmt.Fprintf(w, "  fn %d: %s\n", id, state)
		}
	case ":ir", ":disasm":
		if len(fields) < 2 {
			fmt.Fprintf(w, "usage: %s <source>\n", fields[0])
			return false
		}
		src := strings.TrimSpace(strings.TrimPrefix(cmd, fields[0]))
		if err := dump(src, fields[0] == ":disasm", fields[0] == ":ir", w); err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
		}
	case ":help":
		fmt.Fprintln(w, "  :stats          engine counters")
		fmt.Fprintln(w, "  :hot            hot functions and their tier")
		fmt.Fprintln(w, "  :ir <src>       optimized IR for src")
		fmt.Fprintln(w, "  :disasm <src>   bytecode for src")
		fmt.Fprintln(w, "  :quit           exit")
	default:
		fmt.Fprintln(w, "unknown command. Type :help for a list.")
	}
	return false
}

// readBalanced keeps prompting while braces or parentheses are open.
func readBalanced(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder
	for {
		p := prompt
		if b.Len() > 0 {
			p = cont
		}
		line, err := ln.Prompt(p)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if openDepth(b.String()) <= 0 {
			return b.String(), true
		}
	}
}

// openDepth counts unclosed '{' and '(' in src.
func openDepth(src string) int {
	depth := 0
	for _, r := range src {
		switch r {
		case '{', '(':
			depth++
		case '}', ')':
			depth--
		}
	}
	return depth
}
