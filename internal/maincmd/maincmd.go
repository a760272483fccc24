// Package maincmd implements the oxalis command-line tool: running Lox
// scripts or an interactive session, and the tokenize/dis inspection
// commands.
package maincmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mna/mainer"
	"github.com/mna/oxalis/lang/compiler"
	"github.com/mna/oxalis/lang/machine"
)

const binName = "oxalis"

// Conventional exit codes (sysexits): command-line misuse, input data
// error (compile) and internal software error (runtime).
const (
	exitUsage   mainer.ExitCode = 64
	exitCompile mainer.ExitCode = 65
	exitRuntime mainer.ExitCode = 70
)

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] [<command>] [<path>]
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] [<path>]
       %[1]s [<option>...] <command> <path>...
       %[1]s -h|--help
       %[1]s -v|--version

Compiler and virtual machine for the Lox programming language. With no
arguments, starts an interactive session; with a single path, compiles
and runs that script.

The <command> can be one of:
       dis                       Compile the scripts and print the
                                 disassembled bytecode.
       tokenize                  Execute the scanner phase only and
                                 print the resulting tokens.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       --config <path>           Load virtual machine options from a
                                 YAML file (stack sizes, GC tuning).

More information on the %[1]s repository:
       https://github.com/mna/oxalis
`, binName)
)

type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool   `flag:"h,help"`
	Version bool   `flag:"v,version"`
	Config  string `flag:"config"`

	args  []string
	cmdFn func(context.Context, mainer.Stdio, []string) error
}

func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}

	commands := buildCmds(c)
	if len(c.args) > 0 {
		if fn := commands[c.args[0]]; fn != nil {
			rest := c.args[1:]
			if c.args[0] == "run" {
				if len(rest) > 1 {
					return fmt.Errorf("usage: %s run [path]", binName)
				}
			} else if len(rest) == 0 {
				return fmt.Errorf("%s: at least one file must be provided", c.args[0])
			}
			c.cmdFn = fn
			c.args = rest
			return nil
		}
	}

	// no command: run a single script, or the REPL with no argument at all
	if len(c.args) > 1 {
		return fmt.Errorf("usage: %s [path]", binName)
	}
	c.cmdFn = commands["run"]
	return nil
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	var p mainer.Parser
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n%s", err, shortUsage)
		return exitUsage
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.cmdFn(ctx, stdio, c.args); err != nil {
		// each command takes care of printing its errors, just map the
		// error class to an exit code
		var cerr compiler.ErrorList
		var rerr *machine.RuntimeError
		switch {
		case errors.As(err, &cerr):
			return exitCompile
		case errors.As(err, &rerr):
			return exitRuntime
		}
		return mainer.Failure
	}
	return mainer.Success
}

// valid commands are those that take a mainer.Stdio and a slice of strings
// as input, and return an error as output.
func buildCmds(v interface{}) map[string]func(context.Context, mainer.Stdio, []string) error {
	cmds := make(map[string]func(context.Context, mainer.Stdio, []string) error)

	vv := reflect.ValueOf(v)
	vt := vv.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		mt := m.Type

		// must take 4 parameters (including receiver) and return 1
		if mt.NumIn() != 4 || mt.NumOut() != 1 {
			continue
		}

		if rt := mt.Out(0); rt.Kind() != reflect.Interface || rt.Name() != "error" {
			continue
		}
		if p0 := mt.In(0); p0.Kind() != reflect.Ptr || p0.Elem().Name() != "Cmd" {
			continue
		}
		if p1 := mt.In(1); p1.Kind() != reflect.Interface || p1.Name() != "Context" {
			continue
		}
		if p2 := mt.In(2); p2.Kind() != reflect.Struct || p2.Name() != "Stdio" {
			continue
		}
		if p3 := mt.In(3); p3.Kind() != reflect.Slice || p3.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(m.Name)] = vv.Method(i).Interface().(func(context.Context, mainer.Stdio, []string) error)
	}
	return cmds
}
