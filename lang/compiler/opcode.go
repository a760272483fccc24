package compiler

import "fmt"

type Opcode uint8

// "x DUP x x" is a "stack picture" that describes the state of the stack
// before and after execution of the instruction.
//
// OP<index> indicates an immediate operand that is an index into the chunk's
// constant table, except for GETLOCAL/SETLOCAL (a frame slot),
// GETUPVALUE/SETUPVALUE (an upvalue index), CALL (an argument count) and the
// jump opcodes (a 16-bit big-endian code offset).
const ( //nolint:revive
	NOP Opcode = iota // - NOP -

	// literals
	CONSTANT // - CONSTANT<k> value
	NIL      // - NIL nil
	TRUE     // - TRUE true
	FALSE    // - FALSE false

	POP // x POP -

	// variable access
	GETLOCAL     //     - GETLOCAL<slot> value
	SETLOCAL     // value SETLOCAL<slot> value
	GETGLOBAL    //     - GETGLOBAL<name> value
	DEFINEGLOBAL // value DEFINEGLOBAL<name> -
	SETGLOBAL    // value SETGLOBAL<name> value
	GETUPVALUE   //     - GETUPVALUE<upval> value
	SETUPVALUE   // value SETUPVALUE<upval> value

	// properties and super
	GETPROPERTY //       inst GETPROPERTY<name> value
	SETPROPERTY // inst value SETPROPERTY<name> value
	GETSUPER    // this super GETSUPER<name>    method

	// operators
	EQUAL    // x y EQUAL bool
	GREATER  // x y GREATER bool
	LESS     // x y LESS bool
	ADD      // x y ADD x+y
	SUBTRACT // x y SUBTRACT x-y
	MULTIPLY // x y MULTIPLY x*y
	DIVIDE   // x y DIVIDE x/y
	NOT      // x NOT bool
	NEGATE   // x NEGATE -x

	PRINT // x PRINT -

	// control flow
	JUMP        //    - JUMP<off> -
	JUMPIFFALSE // cond JUMPIFFALSE<off> cond    (peeks, does not pop)
	LOOP        //    - LOOP<off> -              (backward)

	// calls
	CALL        //        fn a1..an CALL<n>             result
	INVOKE      //      inst a1..an INVOKE<name,n>      result
	SUPERINVOKE // this a1..an supr SUPERINVOKE<name,n> result

	CLOSURE      // - CLOSURE<fn> closure    (followed by (islocal,index) byte pairs)
	CLOSEUPVALUE // value CLOSEUPVALUE -     (closes the upvalue for the top slot)
	RETURN       // value RETURN -

	// classes
	CLASS   //            - CLASS<name>  class
	INHERIT //   supr class INHERIT      supr
	METHOD  // class closure METHOD<name> class

	maxOpcode
)

var opcodeNames = [...]string{
	ADD:          "add",
	CALL:         "call",
	CLASS:        "class",
	CLOSEUPVALUE: "closeupvalue",
	CLOSURE:      "closure",
	CONSTANT:     "constant",
	DEFINEGLOBAL: "defineglobal",
	DIVIDE:       "divide",
	EQUAL:        "equal",
	FALSE:        "false",
	GETGLOBAL:    "getglobal",
	GETLOCAL:     "getlocal",
	GETPROPERTY:  "getproperty",
	GETSUPER:     "getsuper",
	GETUPVALUE:   "getupvalue",
	GREATER:      "greater",
	INHERIT:      "inherit",
	INVOKE:       "invoke",
	JUMP:         "jump",
	JUMPIFFALSE:  "jumpiffalse",
	LESS:         "less",
	LOOP:         "loop",
	METHOD:       "method",
	MULTIPLY:     "multiply",
	NEGATE:       "negate",
	NIL:          "nil",
	NOP:          "nop",
	NOT:          "not",
	POP:          "pop",
	PRINT:        "print",
	RETURN:       "return",
	SETGLOBAL:    "setglobal",
	SETLOCAL:     "setlocal",
	SETPROPERTY:  "setproperty",
	SETUPVALUE:   "setupvalue",
	SUPERINVOKE:  "superinvoke",
	TRUE:         "true",
}

// operandLen records the number of operand bytes that follow each opcode.
// CLOSURE is variable-length: one constant byte plus two bytes per upvalue
// of the closed-over function, so it is handled specially by the
// disassembler and by the tests that walk the bytecode.
var operandLen = [...]int8{
	ADD:          0,
	CALL:         1,
	CLASS:        1,
	CLOSEUPVALUE: 0,
	CLOSURE:      1, // + 2 bytes per upvalue
	CONSTANT:     1,
	DEFINEGLOBAL: 1,
	DIVIDE:       0,
	EQUAL:        0,
	FALSE:        0,
	GETGLOBAL:    1,
	GETLOCAL:     1,
	GETPROPERTY:  1,
	GETSUPER:     1,
	GETUPVALUE:   1,
	GREATER:      0,
	INHERIT:      0,
	INVOKE:       2,
	JUMP:         2,
	JUMPIFFALSE:  2,
	LESS:         0,
	LOOP:         2,
	METHOD:       1,
	MULTIPLY:     0,
	NEGATE:       0,
	NIL:          0,
	NOP:          0,
	NOT:          0,
	POP:          0,
	PRINT:        0,
	RETURN:       0,
	SETGLOBAL:    1,
	SETLOCAL:     1,
	SETPROPERTY:  1,
	SETUPVALUE:   1,
	SUPERINVOKE:  2,
	TRUE:         0,
}

const variableStackEffect = 0x7f

// stackEffect records the net effect on the size of the operand stack of
// each kind of instruction. Opcodes with an argument-count operand (and
// RETURN, which unwinds a frame) have a variable effect.
var stackEffect = [...]int8{
	ADD:          -1,
	CALL:         variableStackEffect,
	CLASS:        +1,
	CLOSEUPVALUE: -1,
	CLOSURE:      +1,
	CONSTANT:     +1,
	DEFINEGLOBAL: -1,
	DIVIDE:       -1,
	EQUAL:        -1,
	FALSE:        +1,
	GETGLOBAL:    +1,
	GETLOCAL:     +1,
	GETPROPERTY:  0,
	GETSUPER:     -1,
	GETUPVALUE:   +1,
	GREATER:      -1,
	INHERIT:      -1,
	INVOKE:       variableStackEffect,
	JUMP:         0,
	JUMPIFFALSE:  0,
	LESS:         -1,
	LOOP:         0,
	METHOD:       -1,
	MULTIPLY:     -1,
	NEGATE:       0,
	NIL:          +1,
	NOP:          0,
	NOT:          0,
	POP:          -1,
	PRINT:        -1,
	RETURN:       variableStackEffect,
	SETGLOBAL:    0,
	SETLOCAL:     0,
	SETPROPERTY:  -1,
	SETUPVALUE:   0,
	SUPERINVOKE:  variableStackEffect,
	TRUE:         +1,
}

// StackEffect returns the net stack effect of op, and false if the effect
// is variable (calls and returns).
func (op Opcode) StackEffect() (int, bool) {
	se := stackEffect[op]
	if se == variableStackEffect {
		return 0, false
	}
	return int(se), true
}

func (op Opcode) String() string {
	if op < maxOpcode {
		if name := opcodeNames[op]; name != "" {
			return name
		}
	}
	return fmt.Sprintf("illegal op (%d)", op)
}
