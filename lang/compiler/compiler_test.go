package compiler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, src string) *Funcode {
	t.Helper()
	fn, err := Compile([]byte(src))
	require.NoError(t, err)
	require.NotNil(t, fn)
	return fn
}

func compileErrs(t *testing.T, src string) ErrorList {
	t.Helper()
	fn, err := Compile([]byte(src))
	require.Error(t, err)
	require.Nil(t, fn)
	var el ErrorList
	require.ErrorAs(t, err, &el)
	return el
}

func TestCompileToplevel(t *testing.T) {
	fn := mustCompile(t, "print 1;")
	assert.Equal(t, "", fn.Name)
	assert.Equal(t, 0, fn.Arity)
	assert.Equal(t, 0, fn.UpvalueCount)
	// CONSTANT k, PRINT, then the implicit NIL, RETURN suffix
	assert.Equal(t, []byte{
		byte(CONSTANT), 0, byte(PRINT), byte(NIL), byte(RETURN),
	}, fn.Chunk.Code)
	assert.Equal(t, []any{float64(1)}, fn.Chunk.Constants)
	assert.Equal(t, len(fn.Chunk.Code), len(fn.Chunk.Lines))
}

func TestCompilePrecedence(t *testing.T) {
	fn := mustCompile(t, "print 1+2*3-4/2;")
	// constants are deduplicated: 2 appears once
	assert.Equal(t, []any{
		float64(1), float64(2), float64(3), float64(4),
	}, fn.Chunk.Constants)
	assert.Equal(t, []byte{
		byte(CONSTANT), 0, // 1
		byte(CONSTANT), 1, // 2
		byte(CONSTANT), 2, // 3
		byte(MULTIPLY),
		byte(ADD),
		byte(CONSTANT), 3, // 4
		byte(CONSTANT), 1, // 2, deduplicated
		byte(DIVIDE),
		byte(SUBTRACT),
		byte(PRINT),
		byte(NIL), byte(RETURN),
	}, fn.Chunk.Code)
}

func TestCompileStringAndNameConstants(t *testing.T) {
	fn := mustCompile(t, `var s = "s"; print s; s = "s";`)
	// "s" the string literal and s the identifier share the dedup table
	assert.Equal(t, []any{"s"}, fn.Chunk.Constants)
}

func TestCompileJumps(t *testing.T) {
	fn := mustCompile(t, "if (true) print 1; else print 2;")
	code := fn.Chunk.Code
	require.Equal(t, Opcode(code[0]), TRUE)
	require.Equal(t, Opcode(code[1]), JUMPIFFALSE)
	then := int(code[2])<<8 | int(code[3])
	// the then branch: POP, CONSTANT, PRINT, JUMP off16
	assert.Equal(t, 7, then)
	require.Equal(t, Opcode(code[8]), JUMP)
	els := int(code[9])<<8 | int(code[10])
	// the else branch: POP, CONSTANT, PRINT
	assert.Equal(t, 4, els)
}

func TestCompileLoop(t *testing.T) {
	fn := mustCompile(t, "while (true) print 1;")
	code := fn.Chunk.Code
	var loopAt = -1
	for i := 0; i < len(code); {
		op := Opcode(code[i])
		if op == LOOP {
			loopAt = i
			break
		}
		i += 1 + int(operandLen[op])
	}
	require.NotEqual(t, -1, loopAt)
	off := int(code[loopAt+1])<<8 | int(code[loopAt+2])
	// loops back to the condition at offset 0
	assert.Equal(t, 0, loopAt+3-off)
}

func TestCompileClosureUpvalues(t *testing.T) {
	fn := mustCompile(t, `
fun makeCounter() {
  var c = 0;
  fun inc() {
    c = c + 1;
    return c;
  }
  return inc;
}
`)
	var counter *Funcode
	for _, v := range fn.Chunk.Constants {
		if f, ok := v.(*Funcode); ok && f.Name == "makeCounter" {
			counter = f
		}
	}
	require.NotNil(t, counter)
	assert.Equal(t, 0, counter.UpvalueCount)

	var inc *Funcode
	for _, v := range counter.Chunk.Constants {
		if f, ok := v.(*Funcode); ok && f.Name == "inc" {
			inc = f
		}
	}
	require.NotNil(t, inc)
	assert.Equal(t, 1, inc.UpvalueCount)

	// the CLOSURE for inc is followed by a (local, slot 1) descriptor
	code := counter.Chunk.Code
	for i := 0; i < len(code); {
		op := Opcode(code[i])
		if op == CLOSURE {
			k := code[i+1]
			if counter.Chunk.Constants[k] == inc {
				assert.Equal(t, byte(1), code[i+2], "is-local")
				assert.Equal(t, byte(1), code[i+3], "slot")
				return
			}
			i += 2 + 2*counter.Chunk.Constants[k].(*Funcode).UpvalueCount
			continue
		}
		i += 1 + int(operandLen[op])
	}
	t.Fatal("no CLOSURE for inc found")
}

func TestCompileMethodAndSuper(t *testing.T) {
	fn := mustCompile(t, `
class A { speak() { print "A"; } }
class B < A { speak() { super.speak(); print "B"; } }
B().speak();
`)
	var speakB *Funcode
	for _, v := range fn.Chunk.Constants {
		if f, ok := v.(*Funcode); ok && f.Name == "speak" && f.UpvalueCount == 1 {
			speakB = f
		}
	}
	// B.speak captures 'super' as an upvalue
	require.NotNil(t, speakB)

	found := false
	code := speakB.Chunk.Code
	for i := 0; i < len(code); i += 1 + int(operandLen[code[i]]) {
		if Opcode(code[i]) == SUPERINVOKE {
			found = true
			break
		}
	}
	assert.True(t, found, "no SUPERINVOKE emitted in B.speak")
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		src string
		msg string
	}{
		{"1 +;", "Expect expression."},
		{"print 1", "Expect ';' after value."},
		{"var 1 = 2;", "Expect variable name."},
		{"{ var a = 1; var a = 2; }", "Already a variable with this name in this scope."},
		{"{ var a = a; }", "Can't read local variable in its own initializer."},
		{"a + b = c;", "Invalid assignment target."},
		{"return 5;", "Can't return from top-level code."},
		{"this;", "Can't use 'this' outside of a class."},
		{"super.x;", "Can't use 'super' outside of a class."},
		{"class A { m() { super.m(); } }", "Can't use 'super' in a class with no superclass."},
		{"class C { init() { return 5; } }", "Can't return a value from an initializer."},
		{"class C < C {}", "A class can't inherit from itself."},
		{`var s = "never ends`, "Unterminated string."},
		{"var x = @;", "Unexpected character."},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			el := compileErrs(t, tc.src)
			found := false
			for _, e := range el {
				if e.Msg == tc.msg {
					found = true
					break
				}
			}
			assert.True(t, found, "want %q in %v", tc.msg, el)
		})
	}
}

func TestCompileErrorFormat(t *testing.T) {
	el := compileErrs(t, "var;")
	require.NotEmpty(t, el)
	assert.Equal(t, "[line 1] Error at ';': Expect variable name.", el[0].Error())

	el = compileErrs(t, "print 1")
	require.NotEmpty(t, el)
	assert.Equal(t, "[line 1] Error at end: Expect ';' after value.", el[0].Error())
}

func TestCompileSynchronize(t *testing.T) {
	// two independent mistakes must both be reported
	el := compileErrs(t, "var;\nprint;\n")
	assert.Len(t, el, 2)
}

func TestCompileInitializerBareReturn(t *testing.T) {
	mustCompile(t, "class C { init() { this.x = 7; return; } }")
}

func TestCompileTooManyLocals(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("fun f() {\n")
	for i := 0; i < MaxLocals; i++ {
		fmt.Fprintf(&sb, "var v%d = 0;\n", i)
	}
	sb.WriteString("}\n")

	el := compileErrs(t, sb.String())
	found := false
	for _, e := range el {
		if e.Msg == "Too many local variables in function." {
			found = true
		}
	}
	assert.True(t, found, "got %v", el)
}

func TestCompileTooManyConstants(t *testing.T) {
	var sb strings.Builder
	for i := 0; i <= MaxConstants; i++ {
		fmt.Fprintf(&sb, "print %d;\n", i)
	}
	el := compileErrs(t, sb.String())
	found := false
	for _, e := range el {
		if e.Msg == "Too many constants in one chunk." {
			found = true
		}
	}
	assert.True(t, found, "got %v", el)
}

func TestCompileJumpTooFar(t *testing.T) {
	// an if whose then branch compiles to more than 64K of code
	var sb strings.Builder
	sb.WriteString("var x; if (true) {\n")
	for i := 0; i < 14000; i++ {
		sb.WriteString("x = 1;\n")
	}
	sb.WriteString("}\n")

	el := compileErrs(t, sb.String())
	found := false
	for _, e := range el {
		if e.Msg == "Too much code to jump over." {
			found = true
		}
	}
	assert.True(t, found, "got %v", el)
}
