// Command bfjit runs a single Brainfuck source file through the JIT
// VM, reading stdin and writing stdout (spec.md §6).
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/liangyongrui/bf-jit/internal/vm"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdIn io.Reader, stdOut io.Writer, stdErr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stdErr, "usage: bfjit FILE")
		return 1
	}

	if err := run(args[0], stdIn, stdOut); err != nil {
		fmt.Fprintf(stdErr, "bfjit: %s\n", err)
		return 1
	}
	return 0
}

func run(sourcePath string, stdIn io.Reader, stdOut io.Writer) error {
	v, err := vm.New(sourcePath, stdIn, stdOut)
	if err != nil {
		return err
	}
	return v.Run()
}
