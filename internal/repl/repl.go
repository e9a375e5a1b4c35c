// Package repl implements the interactive read-compile-run loop: read
// a line, compile and run it against one long-lived VM, print any
// diagnostics, repeat until EOF. Prompting is TTY-aware
// (github.com/mattn/go-isatty), and input lines are persisted across
// sessions via internal/history.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"vela/internal/compiler"
	"vela/internal/debug"
	"vela/internal/history"
	"vela/internal/vm"
)

// Options configures a REPL session.
type Options struct {
	In          io.Reader
	Out         io.Writer
	HistoryPath string // empty disables persistent history
	Disassemble bool   // print each compiled chunk before running it
}

func Run(opts Options) int {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	interactive := false
	if f, ok := opts.In.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	var store *history.Store
	if opts.HistoryPath != "" {
		s, err := history.Open(opts.HistoryPath)
		if err != nil {
			fmt.Fprintf(opts.Out, "history disabled: %s\n", err)
		} else {
			store = s
			defer store.Close()
		}
	}

	machine := vm.New()
	machine.SetOutput(opts.Out)
	machine.DefineStandardNatives()

	scanner := bufio.NewScanner(opts.In)
	for {
		if interactive {
			fmt.Fprint(opts.Out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line == ":history" {
			printHistory(opts.Out, store)
			continue
		}
		if store != nil {
			store.Append(line)
		}

		fn, err := compiler.Compile(machine, line)
		if err != nil {
			fmt.Fprintln(opts.Out, err)
			continue
		}
		if opts.Disassemble {
			debug.DisassembleChunk(opts.Out, fn.Chunk, "repl")
		}
		if err := machine.Execute(fn); err != nil {
			fmt.Fprintln(opts.Out, err)
		}
	}
	return 0
}

// printHistory lists recorded REPL input for the ":history" command.
func printHistory(out io.Writer, store *history.Store) {
	if store == nil {
		fmt.Fprintln(out, "history disabled")
		return
	}
	entries, err := store.Recent(20)
	if err != nil {
		fmt.Fprintf(out, "history: %s\n", err)
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %s\n", e.CreatedAt, e.Line)
	}
}
