package compiler

import (
	"fmt"
	"io"
	"math"
	"strconv"
)

// Disassemble writes a human-readable listing of fn's chunk to w. Nested
// functions are not expanded; use DisassembleAll for the whole program.
func Disassemble(w io.Writer, fn *Funcode) {
	name := fn.Name
	if name == "" {
		name = "<script>"
	}
	fmt.Fprintf(w, "== %s ==\n", name)
	for off := 0; off < len(fn.Chunk.Code); {
		off = disInstruction(w, &fn.Chunk, off)
	}
}

// DisassembleAll writes fn and every function reachable through its
// constant table, depth-first.
func DisassembleAll(w io.Writer, fn *Funcode) {
	Disassemble(w, fn)
	for _, v := range fn.Chunk.Constants {
		if sub, ok := v.(*Funcode); ok {
			fmt.Fprintln(w)
			DisassembleAll(w, sub)
		}
	}
}

// disInstruction prints the instruction at off and returns the offset of
// the next one.
func disInstruction(w io.Writer, ch *Chunk, off int) int {
	fmt.Fprintf(w, "%04d ", off)
	if off > 0 && ch.Lines[off] == ch.Lines[off-1] {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", ch.Lines[off])
	}

	op := Opcode(ch.Code[off])
	switch op {
	case CONSTANT, GETGLOBAL, DEFINEGLOBAL, SETGLOBAL,
		GETPROPERTY, SETPROPERTY, GETSUPER, CLASS, METHOD:
		k := ch.Code[off+1]
		fmt.Fprintf(w, "%-16s %4d '%s'\n", op, k, formatConst(ch.Constants[k]))
		return off + 2

	case GETLOCAL, SETLOCAL, GETUPVALUE, SETUPVALUE, CALL:
		fmt.Fprintf(w, "%-16s %4d\n", op, ch.Code[off+1])
		return off + 2

	case INVOKE, SUPERINVOKE:
		k, argc := ch.Code[off+1], ch.Code[off+2]
		fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", op, argc, k, formatConst(ch.Constants[k]))
		return off + 3

	case JUMP, JUMPIFFALSE:
		target := off + 3 + int(readUint16(ch.Code[off+1:]))
		fmt.Fprintf(w, "%-16s %4d -> %d\n", op, off, target)
		return off + 3

	case LOOP:
		target := off + 3 - int(readUint16(ch.Code[off+1:]))
		fmt.Fprintf(w, "%-16s %4d -> %d\n", op, off, target)
		return off + 3

	case CLOSURE:
		k := ch.Code[off+1]
		fn := ch.Constants[k].(*Funcode)
		fmt.Fprintf(w, "%-16s %4d %s\n", op, k, formatConst(fn))
		off += 2
		for i := 0; i < fn.UpvalueCount; i++ {
			isLocal, index := ch.Code[off], ch.Code[off+1]
			kind := "upvalue"
			if isLocal == 1 {
				kind = "local"
			}
			fmt.Fprintf(w, "%04d    |                     %s %d\n", off, kind, index)
			off += 2
		}
		return off

	default:
		if op < maxOpcode && opcodeNames[op] != "" {
			fmt.Fprintf(w, "%s\n", op)
		} else {
			fmt.Fprintf(w, "unknown opcode %d\n", byte(op))
		}
		return off + 1
	}
}

func readUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func formatConst(v any) string {
	switch v := v.(type) {
	case float64:
		// integer-valued doubles print without a decimal point
		if v == math.Trunc(v) && math.Abs(v) <= 1<<53 {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return v
	case *Funcode:
		if v.Name == "" {
			return "<script>"
		}
		return "<fn " + v.Name + ">"
	}
	return fmt.Sprintf("%v", v)
}
