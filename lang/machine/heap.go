package machine

import (
	"fmt"

	"github.com/mna/oxalis/lang/compiler"
)

// The collector is a stop-the-world mark-and-sweep with an explicit gray
// worklist. Any allocation is a safepoint: object constructors and table
// growth check the collection threshold first, so every caller must keep
// temporarily held heap values reachable from a root before allocating the
// next one (in practice: push them on the value stack or protect them).

const defaultHeapGrowFactor = 2

// maybeCollect runs a collection if the pending allocation of size bytes
// crosses the threshold, or on every call in stress mode.
func (m *Machine) maybeCollect(size int) {
	if m.opts.StressGC || m.bytesAllocated+size > m.nextGC {
		m.collect()
	}
}

// accountBytes adjusts the allocated-byte count; a positive delta is a
// safepoint. It is the resized hook of every table the machine owns.
func (m *Machine) accountBytes(delta int) {
	if delta > 0 {
		m.maybeCollect(delta)
	}
	m.bytesAllocated += delta
}

// track links a freshly created object into the all-objects list and
// accounts its bytes. The collection check runs before linking, so a
// triggered collection never sees the new object.
func (m *Machine) track(o object, size int) {
	m.maybeCollect(size)
	m.bytesAllocated += size
	h := o.header()
	h.next = m.objects
	m.objects = o
	if m.opts.LogGC {
		fmt.Fprintf(m.stderr, "-- gc: allocate %d bytes for kind %d\n", size, h.kind)
	}
}

// protect pushes v on the temp-root stack, keeping it reachable across
// allocations that are not yet reachable from the VM proper. Calls must be
// paired with unprotect.
func (m *Machine) protect(v Value) { m.tempRoots = append(m.tempRoots, v) }
func (m *Machine) unprotect(n int) { m.tempRoots = m.tempRoots[:len(m.tempRoots)-n] }

// ----- constructors -----

// internString returns the canonical String for s, allocating and interning
// it if needed. All strings go through here: literals, identifiers and
// concatenation results, which is what makes string reference equality
// coincide with content equality.
func (m *Machine) internString(s string) *String {
	hash := hashString(s)
	if interned := m.strings.findString(s, hash); interned != nil {
		return interned
	}

	str := &String{objHeader: objHeader{kind: kindString}, s: s, hash: hash}
	m.track(str, objBytes(str))
	// the insertion below may grow the table and collect; the new string
	// must be rooted until then
	m.protect(objValue(str))
	m.strings.Set(str, Nil)
	m.unprotect(1)
	return str
}

// materialize builds the runtime Function for a compiled Funcode,
// recursively materializing the constant table: numbers become number
// values, strings are interned, nested functions become Function objects.
func (m *Machine) materialize(fcode *compiler.Funcode) *Function {
	fn := &Function{objHeader: objHeader{kind: kindFunction}, fcode: fcode}
	fn.constants = make([]Value, len(fcode.Chunk.Constants))
	m.track(fn, objBytes(fn))

	// the function is rooted while its constants (and name) allocate
	m.protect(objValue(fn))
	if fcode.Name != "" {
		fn.name = m.internString(fcode.Name)
	}
	for i, c := range fcode.Chunk.Constants {
		switch c := c.(type) {
		case float64:
			fn.constants[i] = Number(c)
		case string:
			fn.constants[i] = objValue(m.internString(c))
		case *compiler.Funcode:
			fn.constants[i] = objValue(m.materialize(c))
		default:
			panic(fmt.Sprintf("unexpected constant %T: %[1]v", c))
		}
	}
	m.unprotect(1)
	return fn
}

func (m *Machine) newClosure(fn *Function) *Closure {
	cl := &Closure{objHeader: objHeader{kind: kindClosure}, fn: fn}
	cl.upvalues = make([]*Upvalue, fn.fcode.UpvalueCount)
	m.track(cl, objBytes(cl))
	return cl
}

func (m *Machine) newUpvalue(slot int) *Upvalue {
	uv := &Upvalue{objHeader: objHeader{kind: kindUpvalue}, slot: slot}
	m.track(uv, objBytes(uv))
	return uv
}

func (m *Machine) newClass(name *String) *Class {
	cl := &Class{objHeader: objHeader{kind: kindClass}, name: name}
	cl.methods.resized = m.accountBytes
	m.track(cl, objBytes(cl))
	return cl
}

func (m *Machine) newInstance(class *Class) *Instance {
	inst := &Instance{objHeader: objHeader{kind: kindInstance}, class: class}
	inst.fields.resized = m.accountBytes
	m.track(inst, objBytes(inst))
	return inst
}

func (m *Machine) newBoundMethod(receiver Value, method *Closure) *BoundMethod {
	bm := &BoundMethod{objHeader: objHeader{kind: kindBoundMethod}, receiver: receiver, method: method}
	m.track(bm, objBytes(bm))
	return bm
}

func (m *Machine) newNative(name string, arity int, fn NativeFn) *Native {
	nat := &Native{objHeader: objHeader{kind: kindNative}, name: name, arity: arity, fn: fn}
	m.track(nat, objBytes(nat))
	return nat
}

// ----- collection -----

func (m *Machine) collect() {
	if m.opts.LogGC {
		fmt.Fprintf(m.stderr, "-- gc begin (%d bytes)\n", m.bytesAllocated)
	}
	before := m.bytesAllocated

	m.markRoots()
	m.traceReferences()
	// unreached interned strings must be forgotten before sweep frees them
	m.strings.removeWhite()
	m.sweep()

	m.nextGC = m.bytesAllocated * m.opts.HeapGrowFactor
	if m.opts.LogGC {
		fmt.Fprintf(m.stderr, "-- gc end: collected %d bytes (%d remain, next at %d)\n",
			before-m.bytesAllocated, m.bytesAllocated, m.nextGC)
	}
}

func (m *Machine) markRoots() {
	for i := 0; i < m.sp; i++ {
		m.markValue(m.stack[i])
	}
	for i := 0; i < m.frameCount; i++ {
		m.markObject(m.frames[i].closure)
	}
	for uv := m.openUpvalues; uv != nil; uv = uv.next {
		m.markObject(uv)
	}
	m.markTable(&m.globals)
	m.markObject(m.initString)
	for _, v := range m.tempRoots {
		m.markValue(v)
	}
}

func (m *Machine) markValue(v Value) {
	if v.kind == KindObject {
		m.markObject(v.o)
	}
}

func (m *Machine) markObject(o object) {
	if o == nil {
		return
	}
	// a nil pointer of a concrete kind (the unnamed script function, the
	// init string during machine setup, an upvalue not yet captured by a
	// closure under construction) is not a nil interface
	switch p := o.(type) {
	case *String:
		if p == nil {
			return
		}
	case *Upvalue:
		if p == nil {
			return
		}
	}
	h := o.header()
	if h.marked {
		return
	}
	h.marked = true
	m.gray = append(m.gray, o)
}

func (m *Machine) markTable(t *Table) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil {
			m.markObject(e.key)
		}
		m.markValue(e.value)
	}
}

func (m *Machine) traceReferences() {
	for len(m.gray) > 0 {
		o := m.gray[len(m.gray)-1]
		m.gray = m.gray[:len(m.gray)-1]
		m.blacken(o)
	}
}

// blacken marks every object reachable from o. Strings and natives have no
// outgoing references.
func (m *Machine) blacken(o object) {
	switch o := o.(type) {
	case *Function:
		m.markObject(o.name)
		for _, v := range o.constants {
			m.markValue(v)
		}
	case *Closure:
		m.markObject(o.fn)
		for _, uv := range o.upvalues {
			m.markObject(uv)
		}
	case *Upvalue:
		// closed is nil until the upvalue closes, so this is safe while open
		m.markValue(o.closed)
	case *Class:
		m.markObject(o.name)
		m.markTable(&o.methods)
	case *Instance:
		m.markObject(o.class)
		m.markTable(&o.fields)
	case *BoundMethod:
		m.markValue(o.receiver)
		m.markObject(o.method)
	}
}

// sweep walks the all-objects list, frees every unmarked object and clears
// the mark on survivors.
func (m *Machine) sweep() {
	var prev object
	o := m.objects
	for o != nil {
		h := o.header()
		if h.marked {
			h.marked = false
			prev = o
			o = h.next
			continue
		}

		unreached := o
		o = h.next
		if prev == nil {
			m.objects = o
		} else {
			prev.header().next = o
		}
		m.free(unreached)
	}
}

// free accounts the object's bytes (including table storage it owns) and
// severs its references so the host runtime can reclaim the memory.
func (m *Machine) free(o object) {
	m.bytesAllocated -= objBytes(o)
	if m.opts.LogGC {
		fmt.Fprintf(m.stderr, "-- gc: free kind %d\n", o.header().kind)
	}

	switch o := o.(type) {
	case *Function:
		o.constants = nil
		o.name = nil
		o.fcode = nil
	case *Closure:
		o.upvalues = nil
		o.fn = nil
	case *Class:
		m.bytesAllocated -= len(o.methods.entries) * entryBytes
		o.methods = Table{}
		o.name = nil
	case *Instance:
		m.bytesAllocated -= len(o.fields.entries) * entryBytes
		o.fields = Table{}
		o.class = nil
	case *BoundMethod:
		o.receiver = Nil
		o.method = nil
	case *Upvalue:
		o.closed = Nil
	}
	o.header().next = nil
}
