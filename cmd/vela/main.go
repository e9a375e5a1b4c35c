// Command vela is the language's CLI: with no arguments it starts an
// interactive REPL, with one argument it interprets that file.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"vela/internal/compiler"
	"vela/internal/debug"
	"vela/internal/repl"
	"vela/internal/vm"
)

const (
	exitOK           = 0
	exitCompileError = 65
	exitRuntimeError = 70
	exitUsageError   = 64
	exitIOError      = 74
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	disasm := false
	var files []string
	historyPath := defaultHistoryPath()

	for _, a := range args {
		switch a {
		case "-disasm", "--disasm":
			disasm = true
		case "-no-history":
			historyPath = ""
		default:
			files = append(files, a)
		}
	}

	switch len(files) {
	case 0:
		return repl.Run(repl.Options{HistoryPath: historyPath, Disassemble: disasm})
	case 1:
		return runFile(files[0], disasm)
	default:
		fmt.Fprintln(os.Stderr, "usage: vela [-disasm] [script]")
		return exitUsageError
	}
}

func runFile(path string, disasm bool) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrapf(err, "reading %s", path))
		return exitIOError
	}

	machine := vm.New()
	machine.DefineStandardNatives()

	fn, err := compiler.Compile(machine, string(source))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCompileError
	}
	if disasm {
		debug.DisassembleChunk(os.Stdout, fn.Chunk, filepath.Base(path))
	}
	if err := machine.Execute(fn); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRuntimeError
	}
	return exitOK
}

func defaultHistoryPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".vela_history.db")
}
