package machine_test

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/oxalis/internal/filetest"
	"github.com/mna/oxalis/lang/compiler"
	"github.com/mna/oxalis/lang/machine"
)

var testUpdateExecTests = flag.Bool("test.update-exec-tests", false, "If set, replace expected exec test results with actual results.")

// execFile compiles and runs the script, returning the stdout output and
// the error output (compile diagnostics or the runtime error with trace).
func execFile(t *testing.T, filename string, opts *machine.Options) (output, errput string) {
	t.Helper()

	b, err := os.ReadFile(filename)
	require.NoError(t, err)

	fn, err := compiler.Compile(b)
	if err != nil {
		var el compiler.ErrorList
		require.ErrorAs(t, err, &el)
		var ebuf bytes.Buffer
		for _, e := range el {
			fmt.Fprintln(&ebuf, e)
		}
		return "", ebuf.String()
	}

	var buf bytes.Buffer
	opts.Stdout = &buf
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	m := machine.New(opts)
	if err := m.Run(fn); err != nil {
		return buf.String(), err.Error() + "\n"
	}
	return buf.String(), ""
}

// TestExecScripts runs the scripts in testdata/exec and compares stdout
// with the .want golden file and the error output with the .err golden
// file (absent when no error is expected).
func TestExecScripts(t *testing.T) {
	dir := filepath.Join("testdata", "exec")
	for _, fi := range filetest.SourceFiles(t, dir, ".lox") {
		fi := fi
		t.Run(fi.Name(), func(t *testing.T) {
			output, errput := execFile(t, filepath.Join(dir, fi.Name()), &machine.Options{})
			filetest.DiffOutput(t, fi, output, dir, testUpdateExecTests)
			filetest.DiffErrors(t, fi, errput, dir, testUpdateExecTests)
		})
	}
}

// TestExecScriptsStressGC runs the same scripts with a collection at every
// allocation; the observable behavior must be identical.
func TestExecScriptsStressGC(t *testing.T) {
	dir := filepath.Join("testdata", "exec")
	for _, fi := range filetest.SourceFiles(t, dir, ".lox") {
		fi := fi
		t.Run(fi.Name(), func(t *testing.T) {
			output, errput := execFile(t, filepath.Join(dir, fi.Name()), &machine.Options{StressGC: true})
			filetest.DiffOutput(t, fi, output, dir, testUpdateExecTests)
			filetest.DiffErrors(t, fi, errput, dir, testUpdateExecTests)
		})
	}
}

func run(t *testing.T, m *machine.Machine, src string) error {
	t.Helper()
	fn, err := compiler.Compile([]byte(src))
	require.NoError(t, err)
	return m.Run(fn)
}

// TestRunPersistsGlobals exercises the REPL contract: globals and interned
// strings survive across Run calls on the same machine, and a runtime
// error does not poison the next run.
func TestRunPersistsGlobals(t *testing.T) {
	var buf bytes.Buffer
	m := machine.New(&machine.Options{Stdout: &buf, Stderr: io.Discard})

	require.NoError(t, run(t, m, `var greet = "hello";`))
	require.NoError(t, run(t, m, `print greet;`))
	assert.Equal(t, "hello\n", buf.String())

	buf.Reset()
	err := run(t, m, `print missing;`)
	require.Error(t, err)

	require.NoError(t, run(t, m, `print greet + "!";`))
	assert.Equal(t, "hello!\n", buf.String())
}

func TestStackOverflow(t *testing.T) {
	m := machine.New(&machine.Options{Stdout: io.Discard, Stderr: io.Discard})
	err := run(t, m, "fun f() { f(); }\nf();")
	require.Error(t, err)

	var rerr *machine.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Stack overflow.", rerr.Msg)
	// one line per active frame: 63 calls of f plus the script frame
	assert.Len(t, rerr.Trace, 64)
	assert.Equal(t, "[line 1] in f()", rerr.Trace[0])
	assert.Equal(t, "[line 2] in script", rerr.Trace[len(rerr.Trace)-1])
}

func TestRuntimeErrorTrace(t *testing.T) {
	m := machine.New(&machine.Options{Stdout: io.Discard, Stderr: io.Discard})
	err := run(t, m, strings.Join([]string{
		`fun inner() { return 1 + nil; }`,
		`fun outer() { return inner(); }`,
		`outer();`,
	}, "\n"))
	require.Error(t, err)

	var rerr *machine.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Operands must be two numbers or two strings.", rerr.Msg)
	assert.Equal(t, []string{
		"[line 1] in inner()",
		"[line 2] in outer()",
		"[line 3] in script",
	}, rerr.Trace)
}

func TestUndefinedVariableMessages(t *testing.T) {
	m := machine.New(&machine.Options{Stdout: io.Discard, Stderr: io.Discard})

	err := run(t, m, "print nope;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable 'nope'.")

	// assignment does not create globals
	err = run(t, m, "nope = 1;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable 'nope'.")
	err = run(t, m, "print nope;")
	require.Error(t, err, "the failed assignment must not have defined it")
}

func TestNativeClock(t *testing.T) {
	var buf bytes.Buffer
	m := machine.New(&machine.Options{Stdout: &buf, Stderr: io.Discard})
	require.NoError(t, run(t, m, "print clock() >= 0;"))
	assert.Equal(t, "true\n", buf.String())

	buf.Reset()
	err := run(t, m, "clock(1);")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected 0 arguments but got 1.")
}

func TestRegisterNative(t *testing.T) {
	var buf bytes.Buffer
	m := machine.New(&machine.Options{Stdout: &buf, Stderr: io.Discard})
	m.RegisterNative("double", 1, func(_ *machine.Machine, args []machine.Value) (machine.Value, error) {
		return machine.Number(args[0].Num() * 2), nil
	})
	m.RegisterNative("boom", 0, func(_ *machine.Machine, _ []machine.Value) (machine.Value, error) {
		return machine.Nil, errors.New("boom failed")
	})

	require.NoError(t, run(t, m, "print double(21);"))
	assert.Equal(t, "42\n", buf.String())

	err := run(t, m, "boom();")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom failed")
}

func TestPrintForms(t *testing.T) {
	var buf bytes.Buffer
	m := machine.New(&machine.Options{Stdout: &buf, Stderr: io.Discard})
	require.NoError(t, run(t, m, strings.Join([]string{
		`fun f() {}`,
		`class K {}`,
		`print f;`,
		`print K;`,
		`print K();`,
		`print clock;`,
		`print nil;`,
	}, "\n")))
	assert.Equal(t, "<fn f>\nK\nK instance\n<native fn>\nnil\n", buf.String())
}
