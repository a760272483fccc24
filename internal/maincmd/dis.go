package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"
	"github.com/mna/oxalis/lang/compiler"
)

// Dis compiles each file and prints the disassembled bytecode of the
// top-level script and every function it contains.
func (c *Cmd) Dis(ctx context.Context, stdio mainer.Stdio, args []string) error {
	var firstErr error
	for _, file := range args {
		b, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(stdio.Stderr, "%s\n", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		fn, err := compiler.Compile(b)
		if err != nil {
			printDiagnostics(stdio, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		compiler.DisassembleAll(stdio.Stdout, fn)
	}
	return firstErr
}
