package machine

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mna/oxalis/lang/compiler"
)

// Default fixed capacities of the execution stacks. One maximum-size frame
// window is reserved per call frame.
const (
	DefaultMaxFrames = 64
	slotsPerFrame    = 256
)

// Options configures a Machine. The zero value uses the defaults; the yaml
// tags allow loading the tuning knobs from a configuration file.
type Options struct {
	// MaxFrames is the call-frame stack capacity. Exceeding it is a
	// runtime error, not a host crash.
	MaxFrames int `yaml:"max_frames"`

	// StackSize is the value stack capacity; if 0, it is MaxFrames * 256.
	StackSize int `yaml:"stack_size"`

	// HeapGrowFactor scales the next collection threshold after each
	// collection. Defaults to 2.
	HeapGrowFactor int `yaml:"heap_grow_factor"`

	// StressGC runs a collection at every allocation. Very slow; meant for
	// flushing out missing GC roots.
	StressGC bool `yaml:"stress_gc"`

	// LogGC traces allocations and collections on Stderr.
	LogGC bool `yaml:"log_gc"`

	// Stdout and Stderr are the machine's output streams for print and GC
	// logging. If nil, os.Stdout and os.Stderr are used.
	Stdout io.Writer `yaml:"-"`
	Stderr io.Writer `yaml:"-"`
}

// A callFrame records one function invocation: the executing closure, the
// instruction pointer into its chunk and the base of its stack window
// (slot 0 holds the callee or the method receiver).
type callFrame struct {
	closure *Closure
	ip      int
	base    int
}

// A Machine executes compiled programs. It owns the value and frame
// stacks, the globals and string-intern tables, the open-upvalue list and
// the object heap. A single machine may run any number of programs in
// sequence: globals, interned strings and surviving objects persist across
// Run calls, which is what a REPL relies on.
//
// A Machine is not safe for concurrent use: execution is single-threaded
// and never suspends.
type Machine struct {
	opts Options

	stack      []Value
	sp         int
	frames     []callFrame
	frameCount int

	globals      Table
	strings      Table
	openUpvalues *Upvalue
	initString   *String

	// heap state
	objects        object
	bytesAllocated int
	nextGC         int
	gray           []object
	tempRoots      []Value

	stdout io.Writer
	stderr io.Writer
	epoch  time.Time
}

// New returns a machine ready to run programs, with the standard natives
// (clock) registered.
func New(opts *Options) *Machine {
	m := &Machine{}
	if opts != nil {
		m.opts = *opts
	}
	if m.opts.MaxFrames <= 0 {
		m.opts.MaxFrames = DefaultMaxFrames
	}
	if m.opts.StackSize <= 0 {
		m.opts.StackSize = m.opts.MaxFrames * slotsPerFrame
	}
	if m.opts.HeapGrowFactor <= 0 {
		m.opts.HeapGrowFactor = defaultHeapGrowFactor
	}
	m.stdout = m.opts.Stdout
	if m.stdout == nil {
		m.stdout = os.Stdout
	}
	m.stderr = m.opts.Stderr
	if m.stderr == nil {
		m.stderr = os.Stderr
	}

	m.stack = make([]Value, m.opts.StackSize)
	m.frames = make([]callFrame, m.opts.MaxFrames)
	m.globals.resized = m.accountBytes
	m.strings.resized = m.accountBytes
	m.nextGC = 1024 * 1024
	m.epoch = time.Now()

	m.initString = m.internString("init")
	registerStdlib(m)
	return m
}

// RegisterNative registers a host callable under name in the globals
// table. An arity of -1 accepts any number of arguments; otherwise calls
// with a different argument count fail with a runtime error.
func (m *Machine) RegisterNative(name string, arity int, fn NativeFn) {
	str := m.internString(name)
	m.protect(objValue(str))
	nat := m.newNative(name, arity, fn)
	m.protect(objValue(nat))
	m.globals.Set(str, objValue(nat))
	m.unprotect(2)
}

// A RuntimeError is the error returned by Run when execution fails: the
// message and one trace line per active frame, innermost first.
type RuntimeError struct {
	Msg   string
	Trace []string
}

func (e *RuntimeError) Error() string {
	if len(e.Trace) == 0 {
		return e.Msg
	}
	return e.Msg + "\n" + strings.Join(e.Trace, "\n")
}

// rtError builds a RuntimeError from the current frame stack. Frame ips
// are kept in sync by the dispatch loop, so the trace lines are exact.
func (m *Machine) rtError(format string, args ...any) *RuntimeError {
	e := &RuntimeError{Msg: fmt.Sprintf(format, args...)}
	for i := m.frameCount - 1; i >= 0; i-- {
		fr := &m.frames[i]
		fn := fr.closure.fn
		line := fn.fcode.Chunk.Lines[fr.ip-1]
		who := "script"
		if fn.name != nil {
			who = fn.name.s + "()"
		}
		e.Trace = append(e.Trace, fmt.Sprintf("[line %d] in %s", line, who))
	}
	return e
}

// Run executes the compiled top-level function. It resets the execution
// stacks but keeps the heap, globals and interned strings from previous
// runs. The returned error is a *RuntimeError for execution failures.
func (m *Machine) Run(fcode *compiler.Funcode) error {
	m.sp = 0
	m.frameCount = 0
	m.openUpvalues = nil
	m.tempRoots = m.tempRoots[:0]

	fn := m.materialize(fcode)
	m.push(objValue(fn))
	cl := m.newClosure(fn)
	m.pop()
	m.push(objValue(cl))
	if err := m.call(cl, 0); err != nil {
		return err
	}
	return m.run()
}

// ----- stack primitives -----

func (m *Machine) push(v Value) {
	// overflow is checked in the call protocol: each frame gets a full
	// 256-slot window, which a chunk cannot exceed
	m.stack[m.sp] = v
	m.sp++
}

func (m *Machine) pop() Value {
	m.sp--
	return m.stack[m.sp]
}

func (m *Machine) peek(n int) Value { return m.stack[m.sp-1-n] }

// ----- call protocol -----

func (m *Machine) call(cl *Closure, argc int) *RuntimeError {
	if argc != cl.fn.fcode.Arity {
		return m.rtError("Expected %d arguments but got %d.", cl.fn.fcode.Arity, argc)
	}
	if m.frameCount == len(m.frames) ||
		m.sp-argc-1+slotsPerFrame > len(m.stack) {
		return m.rtError("Stack overflow.")
	}
	fr := &m.frames[m.frameCount]
	m.frameCount++
	fr.closure = cl
	fr.ip = 0
	fr.base = m.sp - argc - 1
	return nil
}

// callValue dispatches a call on any callee: closures, natives, classes
// (instantiation) and bound methods. The callee sits below the argc
// arguments on the stack.
func (m *Machine) callValue(callee Value, argc int) *RuntimeError {
	if callee.kind == KindObject {
		switch o := callee.o.(type) {
		case *Closure:
			return m.call(o, argc)

		case *BoundMethod:
			// the receiver takes the callee slot, becoming slot 0 of the
			// method's frame
			m.stack[m.sp-argc-1] = o.receiver
			return m.call(o.method, argc)

		case *Class:
			// the class is still reachable through the callee slot while
			// the instance allocates
			inst := m.newInstance(o)
			m.stack[m.sp-argc-1] = objValue(inst)
			if init, ok := o.methods.Get(m.initString); ok {
				return m.call(init.o.(*Closure), argc)
			}
			if argc != 0 {
				return m.rtError("Expected 0 arguments but got %d.", argc)
			}
			return nil

		case *Native:
			if o.arity >= 0 && argc != o.arity {
				return m.rtError("Expected %d arguments but got %d.", o.arity, argc)
			}
			res, err := o.fn(m, m.stack[m.sp-argc:m.sp])
			if err != nil {
				return m.rtError("%s", err)
			}
			m.sp -= argc + 1
			m.push(res)
			return nil
		}
	}
	return m.rtError("Can only call functions and classes.")
}

// invoke is the fast path for inst.name(args): a field holding a callable
// still takes precedence over a method of the same name.
func (m *Machine) invoke(name *String, argc int) *RuntimeError {
	recv := m.peek(argc)
	inst, ok := recv.o.(*Instance)
	if recv.kind != KindObject || !ok {
		return m.rtError("Only instances have methods.")
	}

	if field, ok := inst.fields.Get(name); ok {
		m.stack[m.sp-argc-1] = field
		return m.callValue(field, argc)
	}
	return m.invokeFromClass(inst.class, name, argc)
}

func (m *Machine) invokeFromClass(class *Class, name *String, argc int) *RuntimeError {
	method, ok := class.methods.Get(name)
	if !ok {
		return m.rtError("Undefined property '%s'.", name.s)
	}
	return m.call(method.o.(*Closure), argc)
}

// bindMethod replaces the receiver on top of the stack with a bound method
// for name, or fails if the class has no such method.
func (m *Machine) bindMethod(class *Class, name *String) *RuntimeError {
	method, ok := class.methods.Get(name)
	if !ok {
		return m.rtError("Undefined property '%s'.", name.s)
	}
	bound := m.newBoundMethod(m.peek(0), method.o.(*Closure))
	m.pop()
	m.push(objValue(bound))
	return nil
}

// ----- upvalues -----

// captureUpvalue returns the open upvalue for the given stack slot,
// creating and linking it if none exists. The open list is kept in
// decreasing slot order and never holds two upvalues for the same slot.
func (m *Machine) captureUpvalue(slot int) *Upvalue {
	var prev *Upvalue
	uv := m.openUpvalues
	for uv != nil && uv.slot > slot {
		prev = uv
		uv = uv.next
	}
	if uv != nil && uv.slot == slot {
		return uv
	}

	created := m.newUpvalue(slot)
	created.next = uv
	if prev == nil {
		m.openUpvalues = created
	} else {
		prev.next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given slot: the
// stack value moves into the upvalue's own storage and the upvalue leaves
// the open list.
func (m *Machine) closeUpvalues(from int) {
	for m.openUpvalues != nil && m.openUpvalues.slot >= from {
		uv := m.openUpvalues
		uv.closed = m.stack[uv.slot]
		uv.slot = -1
		m.openUpvalues = uv.next
		uv.next = nil
	}
}

// deref reads through an upvalue: the stack slot while open, the closed
// storage after.
func (m *Machine) deref(uv *Upvalue) Value {
	if uv.slot >= 0 {
		return m.stack[uv.slot]
	}
	return uv.closed
}

func (m *Machine) setThrough(uv *Upvalue, v Value) {
	if uv.slot >= 0 {
		m.stack[uv.slot] = v
		return
	}
	uv.closed = v
}

// ----- dispatch loop -----

//nolint:gocyclo
func (m *Machine) run() error {
	fr := &m.frames[m.frameCount-1]
	code := fr.closure.fn.fcode.Chunk.Code
	consts := fr.closure.fn.constants

	readByte := func() byte {
		b := code[fr.ip]
		fr.ip++
		return b
	}
	readShort := func() int {
		v := int(code[fr.ip])<<8 | int(code[fr.ip+1])
		fr.ip += 2
		return v
	}
	readString := func() *String {
		return consts[readByte()].o.(*String)
	}
	// refresh the cached frame state after any call or return
	refresh := func() {
		fr = &m.frames[m.frameCount-1]
		code = fr.closure.fn.fcode.Chunk.Code
		consts = fr.closure.fn.constants
	}

	for {
		op := compiler.Opcode(readByte())
		switch op {
		case compiler.NOP:
			// nop

		case compiler.CONSTANT:
			m.push(consts[readByte()])

		case compiler.NIL:
			m.push(Nil)

		case compiler.TRUE:
			m.push(True)

		case compiler.FALSE:
			m.push(False)

		case compiler.POP:
			m.pop()

		case compiler.GETLOCAL:
			m.push(m.stack[fr.base+int(readByte())])

		case compiler.SETLOCAL:
			m.stack[fr.base+int(readByte())] = m.peek(0)

		case compiler.GETGLOBAL:
			name := readString()
			v, ok := m.globals.Get(name)
			if !ok {
				return m.rtError("Undefined variable '%s'.", name.s)
			}
			m.push(v)

		case compiler.DEFINEGLOBAL:
			// always (re)defines, unlike SETGLOBAL
			m.globals.Set(readString(), m.peek(0))
			m.pop()

		case compiler.SETGLOBAL:
			name := readString()
			if m.globals.Set(name, m.peek(0)) {
				// assignment does not create globals
				m.globals.Delete(name)
				return m.rtError("Undefined variable '%s'.", name.s)
			}

		case compiler.GETUPVALUE:
			m.push(m.deref(fr.closure.upvalues[readByte()]))

		case compiler.SETUPVALUE:
			m.setThrough(fr.closure.upvalues[readByte()], m.peek(0))

		case compiler.GETPROPERTY:
			inst, ok := m.peek(0).o.(*Instance)
			if m.peek(0).kind != KindObject || !ok {
				return m.rtError("Only instances have properties.")
			}
			name := readString()
			if v, ok := inst.fields.Get(name); ok {
				m.pop()
				m.push(v)
				break
			}
			if err := m.bindMethod(inst.class, name); err != nil {
				return err
			}

		case compiler.SETPROPERTY:
			inst, ok := m.peek(1).o.(*Instance)
			if m.peek(1).kind != KindObject || !ok {
				return m.rtError("Only instances have fields.")
			}
			// the value stays on the stack across the table growth
			inst.fields.Set(readString(), m.peek(0))
			v := m.pop()
			m.pop() // the instance
			m.push(v)

		case compiler.GETSUPER:
			name := readString()
			super := m.pop().o.(*Class)
			if err := m.bindMethod(super, name); err != nil {
				return err
			}

		case compiler.EQUAL:
			y, x := m.pop(), m.pop()
			m.push(Bool(x.Equal(y)))

		case compiler.GREATER, compiler.LESS:
			if !m.peek(0).IsNumber() || !m.peek(1).IsNumber() {
				return m.rtError("Operands must be numbers.")
			}
			y, x := m.pop(), m.pop()
			if op == compiler.GREATER {
				m.push(Bool(x.num > y.num))
			} else {
				m.push(Bool(x.num < y.num))
			}

		case compiler.ADD:
			x, y := m.peek(1), m.peek(0)
			switch {
			case x.IsNumber() && y.IsNumber():
				m.sp -= 2
				m.push(Number(x.num + y.num))
			default:
				xs, xok := x.isString()
				ys, yok := y.isString()
				if !xok || !yok {
					return m.rtError("Operands must be two numbers or two strings.")
				}
				// operands stay on the stack while the result allocates
				res := m.internString(xs.s + ys.s)
				m.sp -= 2
				m.push(objValue(res))
			}

		case compiler.SUBTRACT, compiler.MULTIPLY, compiler.DIVIDE:
			if !m.peek(0).IsNumber() || !m.peek(1).IsNumber() {
				return m.rtError("Operands must be numbers.")
			}
			y, x := m.pop(), m.pop()
			switch op {
			case compiler.SUBTRACT:
				m.push(Number(x.num - y.num))
			case compiler.MULTIPLY:
				m.push(Number(x.num * y.num))
			case compiler.DIVIDE:
				m.push(Number(x.num / y.num))
			}

		case compiler.NOT:
			m.push(Bool(!m.pop().Truth()))

		case compiler.NEGATE:
			if !m.peek(0).IsNumber() {
				return m.rtError("Operand must be a number.")
			}
			m.push(Number(-m.pop().num))

		case compiler.PRINT:
			fmt.Fprintln(m.stdout, m.pop())

		case compiler.JUMP:
			off := readShort()
			fr.ip += off

		case compiler.JUMPIFFALSE:
			off := readShort()
			if !m.peek(0).Truth() {
				fr.ip += off
			}

		case compiler.LOOP:
			off := readShort()
			fr.ip -= off

		case compiler.CALL:
			argc := int(readByte())
			if err := m.callValue(m.peek(argc), argc); err != nil {
				return err
			}
			refresh()

		case compiler.INVOKE:
			name := readString()
			argc := int(readByte())
			if err := m.invoke(name, argc); err != nil {
				return err
			}
			refresh()

		case compiler.SUPERINVOKE:
			name := readString()
			argc := int(readByte())
			super := m.pop().o.(*Class)
			if err := m.invokeFromClass(super, name, argc); err != nil {
				return err
			}
			refresh()

		case compiler.CLOSURE:
			fn := consts[readByte()].o.(*Function)
			cl := m.newClosure(fn)
			m.push(objValue(cl))
			for i := range cl.upvalues {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					cl.upvalues[i] = m.captureUpvalue(fr.base + index)
				} else {
					cl.upvalues[i] = fr.closure.upvalues[index]
				}
			}

		case compiler.CLOSEUPVALUE:
			m.closeUpvalues(m.sp - 1)
			m.pop()

		case compiler.RETURN:
			result := m.pop()
			m.closeUpvalues(fr.base)
			m.frameCount--
			if m.frameCount == 0 {
				// the top-level script function itself
				m.pop()
				return nil
			}
			m.sp = fr.base
			m.push(result)
			refresh()

		case compiler.CLASS:
			name := readString()
			m.push(objValue(m.newClass(name)))

		case compiler.INHERIT:
			super, ok := m.peek(1).o.(*Class)
			if m.peek(1).kind != KindObject || !ok {
				return m.rtError("Superclass must be a class.")
			}
			sub := m.peek(0).o.(*Class)
			super.methods.copyAll(&sub.methods)
			m.pop() // the subclass

		case compiler.METHOD:
			name := readString()
			method := m.peek(0)
			class := m.peek(1).o.(*Class)
			class.methods.Set(name, method)
			m.pop()

		default:
			panic(fmt.Sprintf("unimplemented: %s", op))
		}
	}
}
