package maincmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/mna/mainer"
	"github.com/mna/oxalis/lang/compiler"
	"github.com/mna/oxalis/lang/machine"
	"gopkg.in/yaml.v3"
)

// Run executes a single script, or starts the interactive session when no
// path is given.
func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	opts, err := c.machineOptions(stdio)
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return err
	}

	if len(args) == 0 {
		return c.repl(ctx, stdio, opts)
	}
	return runFile(stdio, args[0], opts)
}

// machineOptions builds the machine options: defaults, overridden by the
// --config YAML file when provided, with output always bound to stdio.
func (c *Cmd) machineOptions(stdio mainer.Stdio) (*machine.Options, error) {
	var opts machine.Options
	if c.Config != "" {
		b, err := os.ReadFile(c.Config)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &opts); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Config, err)
		}
	}
	opts.Stdout = stdio.Stdout
	opts.Stderr = stdio.Stderr
	return &opts, nil
}

func runFile(stdio mainer.Stdio, path string, opts *machine.Options) error {
	b, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return err
	}

	fn, err := compiler.Compile(b)
	if err != nil {
		printDiagnostics(stdio, err)
		return err
	}

	m := machine.New(opts)
	if err := m.Run(fn); err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return err
	}
	return nil
}

// repl reads and runs one line at a time on a single persisting machine:
// globals and interned strings survive across lines, and errors do not end
// the session. The prompt is only printed when stdin is a terminal.
func (c *Cmd) repl(ctx context.Context, stdio mainer.Stdio, opts *machine.Options) error {
	prompt := false
	if f, ok := stdio.Stdin.(*os.File); ok {
		prompt = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	m := machine.New(opts)
	scan := bufio.NewScanner(stdio.Stdin)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if prompt {
			fmt.Fprint(stdio.Stdout, "> ")
		}
		if !scan.Scan() {
			if prompt {
				fmt.Fprintln(stdio.Stdout)
			}
			return scan.Err()
		}

		fn, err := compiler.Compile(scan.Bytes())
		if err != nil {
			printDiagnostics(stdio, err)
			continue
		}
		if err := m.Run(fn); err != nil {
			fmt.Fprintf(stdio.Stderr, "%s\n", err)
		}
	}
}

// printDiagnostics prints each compile diagnostic on its own line.
func printDiagnostics(stdio mainer.Stdio, err error) {
	var el compiler.ErrorList
	if !errors.As(err, &el) {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return
	}
	for _, e := range el {
		fmt.Fprintf(stdio.Stderr, "%s\n", e)
	}
}
