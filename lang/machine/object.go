package machine

import (
	"github.com/mna/oxalis/lang/compiler"
)

type objKind int8

const (
	kindString objKind = iota
	kindFunction
	kindNative
	kindClosure
	kindUpvalue
	kindClass
	kindInstance
	kindBoundMethod
)

// objHeader is embedded in every heap object: the kind tag, the GC mark bit
// and the intrusive link in the machine's all-objects list.
type objHeader struct {
	kind   objKind
	marked bool
	next   object
}

func (h *objHeader) header() *objHeader { return h }

type object interface {
	header() *objHeader
}

// A String is an interned, immutable string with its precomputed FNV-1a
// hash. Two String objects with equal content are always the same object.
type String struct {
	objHeader
	s    string
	hash uint32
}

// Str returns the string content.
func (s *String) Str() string { return s.s }

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// A Function is the runtime form of a compiled function: its Funcode plus
// the constant table materialized into runtime values (strings interned,
// nested functions recursively materialized).
type Function struct {
	objHeader
	fcode     *compiler.Funcode
	constants []Value
	name      *String // nil for the top-level script
}

func (f *Function) describe() string {
	if f.name == nil {
		return "<script>"
	}
	return "<fn " + f.name.s + ">"
}

// A NativeFn is a host-provided callable. It receives the argument values
// as a slice of the value stack, which it must not retain; a returned error
// becomes a runtime error of the machine.
type NativeFn func(m *Machine, args []Value) (Value, error)

// A Native wraps a host function registered on the machine. An arity of -1
// accepts any number of arguments.
type Native struct {
	objHeader
	name  string
	arity int
	fn    NativeFn
}

// A Closure pairs a function with the upvalues it captured. Its upvalue
// slice always has exactly fn.fcode.UpvalueCount entries.
type Closure struct {
	objHeader
	fn       *Function
	upvalues []*Upvalue
}

// An Upvalue is the indirection cell for a captured variable. While the
// source slot is live on the value stack the upvalue is open: slot is the
// stack index and the value is read through it. Once closed, the value
// lives in closed and slot is -1. Every closure capturing the same slot
// shares the same Upvalue, which is also linked in the machine's open list
// while open.
type Upvalue struct {
	objHeader
	slot   int // stack slot while open, -1 once closed
	closed Value
	next   *Upvalue // next open upvalue, in decreasing slot order
}

// A Class holds the methods declared on it, flattened: inheriting copies
// the superclass methods into the subclass at declaration time, so lookup
// never walks a parent chain.
type Class struct {
	objHeader
	name    *String
	methods Table
}

// An Instance holds its class and its fields. Fields are created on first
// assignment and shadow class methods on access.
type Instance struct {
	objHeader
	class  *Class
	fields Table
}

// A BoundMethod pairs a receiver with a method closure, so that the method
// can be called later with this already bound.
type BoundMethod struct {
	objHeader
	receiver Value
	method   *Closure
}

// rough per-object byte costs, used only to drive the collection schedule.
const (
	headerBytes = 32
	entryBytes  = 40 // one table entry
	valueBytes  = 24
)

func objBytes(o object) int {
	switch o := o.(type) {
	case *String:
		return headerBytes + len(o.s) + 8
	case *Function:
		return headerBytes + len(o.constants)*valueBytes
	case *Closure:
		return headerBytes + len(o.upvalues)*8
	case *Upvalue:
		return headerBytes + valueBytes
	case *Class, *Instance:
		// their tables account for their entries as they grow
		return headerBytes + 16
	case *BoundMethod:
		return headerBytes + valueBytes
	case *Native:
		return headerBytes + 16
	}
	return headerBytes
}
