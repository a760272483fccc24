// Package compiler compiles Lox source code to bytecode that can be
// executed by the virtual machine. It is a single-pass compiler: a Pratt
// parser that emits code as it parses, with no intermediate tree. It also
// provides a disassembler to print the compiled form in textual form.
package compiler

import (
	"fmt"
	"math"
	"strconv"

	"github.com/dolthub/swiss"
	"github.com/mna/oxalis/lang/scanner"
	"github.com/mna/oxalis/lang/token"
)

// Hard limits imposed by the single-byte operand encoding and the two-byte
// jump encoding.
const (
	MaxLocals    = 256
	MaxUpvalues  = 256
	MaxConstants = 256
	maxArgs      = 255
	maxJump      = math.MaxUint16
)

// Compile compiles src and returns the synthetic top-level function (arity
// 0, empty name) whose chunk runs at the script scope. On failure it
// returns a nil Funcode and an ErrorList with one entry per diagnostic; the
// parser synchronizes at statement boundaries and keeps going, so a single
// call can report several errors.
func Compile(src []byte) (*Funcode, error) {
	var c comp
	c.scan.Init(src)
	c.fc = newFcomp(nil, kindScript, "")

	c.advance()
	for !c.match(token.EOF) {
		c.declaration()
	}
	fn := c.endFcomp()
	if len(c.errs) > 0 {
		return nil, c.errs
	}
	return fn, nil
}

// funcKind discriminates the kinds of function bodies under compilation,
// which differ in their implicit slot 0 local and their return rules.
type funcKind int8

const (
	kindScript funcKind = iota
	kindFunction
	kindMethod
	kindInitializer
)

// comp is the parser state shared by all nested function compilers.
type comp struct {
	scan      scanner.Scanner
	prev, cur token.Value

	fc *fcomp     // innermost function under compilation
	cc *classComp // innermost class under compilation, nil outside classes

	errs      ErrorList
	panicMode bool
}

// An fcomp holds the compiler state for a single function.
type fcomp struct {
	enclosing *fcomp
	fn        *Funcode
	kind      funcKind

	locals []local
	upvals []upvalue
	depth  int // current scope depth, 0 = function top level

	// constant dedup tables for the chunk under construction
	numConsts *swiss.Map[float64, int]
	strConsts *swiss.Map[string, int]
}

// A local is a variable slot in the function's frame. depth is -1 between
// declaration and the end of its initializer.
type local struct {
	name       string
	depth      int
	isCaptured bool
}

// An upvalue descriptor: index is a local slot of the enclosing function
// when isLocal, otherwise an upvalue index of the enclosing function.
type upvalue struct {
	index   int
	isLocal bool
}

// classComp tracks the innermost class declaration, for this/super rules.
type classComp struct {
	enclosing     *classComp
	hasSuperclass bool
}

func newFcomp(enclosing *fcomp, kind funcKind, name string) *fcomp {
	fc := &fcomp{
		enclosing: enclosing,
		fn:        &Funcode{Name: name},
		kind:      kind,
		locals:    make([]local, 0, 8),
		numConsts: swiss.NewMap[float64, int](8),
		strConsts: swiss.NewMap[string, int](8),
	}
	// slot 0 holds the receiver in methods and is unnamed (and unusable)
	// otherwise.
	slot0 := local{depth: 0}
	if kind == kindMethod || kind == kindInitializer {
		slot0.name = "this"
	}
	fc.locals = append(fc.locals, slot0)
	return fc
}

// endFcomp emits the implicit return of the current function, pops it and
// returns its Funcode.
func (c *comp) endFcomp() *Funcode {
	c.emitReturn()
	fn := c.fc.fn
	fn.UpvalueCount = len(c.fc.upvals)
	c.fc = c.fc.enclosing
	return fn
}

// ----- error handling -----

// An Error is a single compile diagnostic.
type Error struct {
	Line  int
	Where string // quoted lexeme, "end", or empty for scan errors
	Msg   string
}

func (e *Error) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("[line %d] Error: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("[line %d] Error at %s: %s", e.Line, e.Where, e.Msg)
}

// An ErrorList is the list of diagnostics produced by a Compile call.
type ErrorList []*Error

func (el ErrorList) Error() string {
	switch len(el) {
	case 0:
		return "no errors"
	case 1:
		return el[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", el[0], len(el)-1)
}

func (c *comp) errorAt(tok token.Value, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true

	e := &Error{Line: tok.Line, Msg: msg}
	switch tok.Token {
	case token.EOF:
		e.Where = "end"
	case token.ILLEGAL:
		// the scanner put the message in Raw, there is no lexeme
	default:
		e.Where = "'" + tok.Raw + "'"
	}
	c.errs = append(c.errs, e)
}

func (c *comp) error(msg string)          { c.errorAt(c.prev, msg) }
func (c *comp) errorAtCurrent(msg string) { c.errorAt(c.cur, msg) }

// synchronize discards tokens until a likely statement boundary, so that a
// single mistake does not cascade into a pile of diagnostics.
func (c *comp) synchronize() {
	c.panicMode = false
	for c.cur.Token != token.EOF {
		if c.prev.Token == token.SEMI {
			return
		}
		switch c.cur.Token {
		case token.CLASS, token.FUN, token.VAR, token.FOR,
			token.IF, token.WHILE, token.PRINT, token.RETURN:
			return
		}
		c.advance()
	}
}

// ----- token consumption -----

func (c *comp) advance() {
	c.prev = c.cur
	for {
		c.cur = c.scan.Scan()
		if c.cur.Token != token.ILLEGAL {
			break
		}
		c.errorAtCurrent(c.cur.Raw)
	}
}

func (c *comp) check(tok token.Token) bool { return c.cur.Token == tok }

func (c *comp) match(tok token.Token) bool {
	if !c.check(tok) {
		return false
	}
	c.advance()
	return true
}

func (c *comp) consume(tok token.Token, msg string) {
	if c.cur.Token == tok {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

// ----- code emission -----

func (c *comp) chunk() *Chunk { return &c.fc.fn.Chunk }

func (c *comp) emitByte(b byte) { c.chunk().write(b, c.prev.Line) }

func (c *comp) emitOp(ops ...Opcode) {
	for _, op := range ops {
		c.emitByte(byte(op))
	}
}

func (c *comp) emitOpByte(op Opcode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *comp) emitReturn() {
	if c.fc.kind == kindInitializer {
		// an initializer implicitly returns its receiver
		c.emitOpByte(GETLOCAL, 0)
	} else {
		c.emitOp(NIL)
	}
	c.emitOp(RETURN)
}

// makeConstant installs v in the chunk's constant table and returns its
// operand byte. Numbers and strings are deduplicated.
func (c *comp) makeConstant(v any) byte {
	ch := c.chunk()
	switch v := v.(type) {
	case float64:
		if i, ok := c.fc.numConsts.Get(v); ok {
			return byte(i)
		}
	case string:
		if i, ok := c.fc.strConsts.Get(v); ok {
			return byte(i)
		}
	}

	if len(ch.Constants) >= MaxConstants {
		c.error("Too many constants in one chunk.")
		return 0
	}
	i := ch.addConstant(v)
	switch v := v.(type) {
	case float64:
		c.fc.numConsts.Put(v, i)
	case string:
		c.fc.strConsts.Put(v, i)
	}
	return byte(i)
}

func (c *comp) emitConstant(v any) {
	c.emitOpByte(CONSTANT, c.makeConstant(v))
}

// identifierConstant installs the identifier's lexeme in the constant
// table; names share the string dedup table.
func (c *comp) identifierConstant(name string) byte {
	return c.makeConstant(name)
}

// emitJump emits a forward jump with a placeholder offset and returns the
// offset of the operand for patchJump.
func (c *comp) emitJump(op Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk().Code) - 2
}

// patchJump backpatches the operand at off to jump to the current end of
// the chunk. Jump distances are 16-bit big-endian.
func (c *comp) patchJump(off int) {
	ch := c.chunk()
	jump := len(ch.Code) - off - 2
	if jump > maxJump {
		c.error("Too much code to jump over.")
	}
	ch.Code[off] = byte(jump >> 8)
	ch.Code[off+1] = byte(jump)
}

// emitLoop emits an unconditional backward jump to loopStart.
func (c *comp) emitLoop(loopStart int) {
	c.emitOp(LOOP)
	off := len(c.chunk().Code) - loopStart + 2
	if off > maxJump {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(off >> 8))
	c.emitByte(byte(off))
}

// ----- scopes and variables -----

func (c *comp) beginScope() { c.fc.depth++ }

// endScope pops the locals of the scope being left, closing the upvalues of
// any captured ones.
func (c *comp) endScope() {
	fc := c.fc
	fc.depth--
	for len(fc.locals) > 0 && fc.locals[len(fc.locals)-1].depth > fc.depth {
		if fc.locals[len(fc.locals)-1].isCaptured {
			c.emitOp(CLOSEUPVALUE)
		} else {
			c.emitOp(POP)
		}
		fc.locals = fc.locals[:len(fc.locals)-1]
	}
}

func (c *comp) addLocal(name string) {
	fc := c.fc
	if len(fc.locals) >= MaxLocals {
		c.error("Too many local variables in function.")
		return
	}
	fc.locals = append(fc.locals, local{name: name, depth: -1})
}

// declareVariable records the variable in the current scope; at the global
// scope storage is handled by name and nothing is recorded.
func (c *comp) declareVariable() {
	fc := c.fc
	if fc.depth == 0 {
		return
	}

	name := c.prev.Raw
	for i := len(fc.locals) - 1; i >= 0; i-- {
		l := &fc.locals[i]
		if l.depth != -1 && l.depth < fc.depth {
			break
		}
		if l.name == name {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

// parseVariable consumes a variable name and returns the operand for its
// definition: a name constant at the global scope, 0 otherwise.
func (c *comp) parseVariable(errMsg string) byte {
	c.consume(token.IDENT, errMsg)
	c.declareVariable()
	if c.fc.depth > 0 {
		return 0
	}
	return c.identifierConstant(c.prev.Raw)
}

// markInitialized makes the just-declared local visible; it is split from
// declaration so that a variable's initializer cannot read the variable.
func (c *comp) markInitialized() {
	fc := c.fc
	if fc.depth == 0 {
		return
	}
	fc.locals[len(fc.locals)-1].depth = fc.depth
}

func (c *comp) defineVariable(global byte) {
	if c.fc.depth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(DEFINEGLOBAL, global)
}

// resolveLocal returns the frame slot of name in fc, or -1 if it is not a
// local there.
func (c *comp) resolveLocal(fc *fcomp, name string) int {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		l := &fc.locals[i]
		if l.name == name && l.name != "" {
			if l.depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// addUpvalue records an upvalue descriptor on fc, deduplicating by
// (index, isLocal), and returns its index.
func (c *comp) addUpvalue(fc *fcomp, index int, isLocal bool) int {
	for i, uv := range fc.upvals {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fc.upvals) >= MaxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	fc.upvals = append(fc.upvals, upvalue{index: index, isLocal: isLocal})
	return len(fc.upvals) - 1
}

// resolveUpvalue resolves name in the functions enclosing fc and returns an
// upvalue index of fc, or -1. A local found in an enclosing function is
// marked captured; intermediate functions chain the capture through their
// own upvalue tables.
func (c *comp) resolveUpvalue(fc *fcomp, name string) int {
	if fc.enclosing == nil {
		return -1
	}
	if slot := c.resolveLocal(fc.enclosing, name); slot >= 0 {
		fc.enclosing.locals[slot].isCaptured = true
		return c.addUpvalue(fc, slot, true)
	}
	if up := c.resolveUpvalue(fc.enclosing, name); up >= 0 {
		return c.addUpvalue(fc, up, false)
	}
	return -1
}

// namedVariable emits the read (or, when canAssign and an '=' follows, the
// write) of name, resolving it as a local, an upvalue or a global, in that
// order.
func (c *comp) namedVariable(name string, canAssign bool) {
	var getOp, setOp Opcode
	arg := c.resolveLocal(c.fc, name)
	switch {
	case arg >= 0:
		getOp, setOp = GETLOCAL, SETLOCAL
	default:
		if arg = c.resolveUpvalue(c.fc, name); arg >= 0 {
			getOp, setOp = GETUPVALUE, SETUPVALUE
		} else {
			arg = int(c.identifierConstant(name))
			getOp, setOp = GETGLOBAL, SETGLOBAL
		}
	}

	if canAssign && c.match(token.EQ) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
		return
	}
	c.emitOpByte(getOp, byte(arg))
}

// ----- Pratt parser core -----

// precedence levels, lowest to highest.
type precedence int8

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precEquality
	precComparison
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseFn func(c *comp, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

// rules maps each token to its prefix rule, infix rule and infix
// precedence. Initialized in init to break the declaration cycle with the
// parse functions.
var rules [token.WHILE + 1]parseRule

func init() {
	rules[token.LPAREN] = parseRule{prefix: (*comp).grouping, infix: (*comp).call, prec: precCall}
	rules[token.DOT] = parseRule{infix: (*comp).dot, prec: precCall}
	rules[token.MINUS] = parseRule{prefix: (*comp).unary, infix: (*comp).binary, prec: precTerm}
	rules[token.PLUS] = parseRule{infix: (*comp).binary, prec: precTerm}
	rules[token.SLASH] = parseRule{infix: (*comp).binary, prec: precFactor}
	rules[token.STAR] = parseRule{infix: (*comp).binary, prec: precFactor}
	rules[token.BANG] = parseRule{prefix: (*comp).unary}
	rules[token.BANGEQ] = parseRule{infix: (*comp).binary, prec: precEquality}
	rules[token.EQEQ] = parseRule{infix: (*comp).binary, prec: precEquality}
	rules[token.GT] = parseRule{infix: (*comp).binary, prec: precComparison}
	rules[token.GE] = parseRule{infix: (*comp).binary, prec: precComparison}
	rules[token.LT] = parseRule{infix: (*comp).binary, prec: precComparison}
	rules[token.LE] = parseRule{infix: (*comp).binary, prec: precComparison}
	rules[token.IDENT] = parseRule{prefix: (*comp).variable}
	rules[token.STRING] = parseRule{prefix: (*comp).str}
	rules[token.NUMBER] = parseRule{prefix: (*comp).number}
	rules[token.AND] = parseRule{infix: (*comp).and, prec: precAnd}
	rules[token.OR] = parseRule{infix: (*comp).or, prec: precOr}
	rules[token.FALSE] = parseRule{prefix: (*comp).literal}
	rules[token.NIL] = parseRule{prefix: (*comp).literal}
	rules[token.TRUE] = parseRule{prefix: (*comp).literal}
	rules[token.SUPER] = parseRule{prefix: (*comp).super}
	rules[token.THIS] = parseRule{prefix: (*comp).this}
}

func ruleOf(tok token.Token) *parseRule { return &rules[tok] }

// parsePrecedence parses an expression at the given minimum precedence: the
// prefix rule of the leading token, then every infix whose precedence is at
// least min. Assignment targets only accept '=' when min is low enough,
// which is what rejects things like a+b = c.
func (c *comp) parsePrecedence(min precedence) {
	c.advance()
	prefix := ruleOf(c.prev.Token).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}

	canAssign := min <= precAssignment
	prefix(c, canAssign)

	for min <= ruleOf(c.cur.Token).prec {
		c.advance()
		ruleOf(c.prev.Token).infix(c, canAssign)
	}

	if canAssign && c.match(token.EQ) {
		c.error("Invalid assignment target.")
	}
}

func (c *comp) expression() { c.parsePrecedence(precAssignment) }

// ----- expression rules -----

func (c *comp) number(_ bool) {
	f, _ := strconv.ParseFloat(c.prev.Raw, 64) // lexeme is a valid literal
	c.emitConstant(f)
}

func (c *comp) str(_ bool) {
	// trim the surrounding quotes; Lox strings have no escapes
	c.emitConstant(c.prev.Raw[1 : len(c.prev.Raw)-1])
}

func (c *comp) literal(_ bool) {
	switch c.prev.Token {
	case token.FALSE:
		c.emitOp(FALSE)
	case token.NIL:
		c.emitOp(NIL)
	case token.TRUE:
		c.emitOp(TRUE)
	}
}

func (c *comp) grouping(_ bool) {
	c.expression()
	c.consume(token.RPAREN, "Expect ')' after expression.")
}

func (c *comp) unary(_ bool) {
	op := c.prev.Token
	c.parsePrecedence(precUnary)
	switch op {
	case token.BANG:
		c.emitOp(NOT)
	case token.MINUS:
		c.emitOp(NEGATE)
	}
}

func (c *comp) binary(_ bool) {
	op := c.prev.Token
	// one level higher for left associativity
	c.parsePrecedence(ruleOf(op).prec + 1)

	switch op {
	case token.BANGEQ:
		c.emitOp(EQUAL, NOT)
	case token.EQEQ:
		c.emitOp(EQUAL)
	case token.GT:
		c.emitOp(GREATER)
	case token.GE:
		c.emitOp(LESS, NOT)
	case token.LT:
		c.emitOp(LESS)
	case token.LE:
		c.emitOp(GREATER, NOT)
	case token.PLUS:
		c.emitOp(ADD)
	case token.MINUS:
		c.emitOp(SUBTRACT)
	case token.STAR:
		c.emitOp(MULTIPLY)
	case token.SLASH:
		c.emitOp(DIVIDE)
	}
}

// and compiles the short-circuit conjunction: the right operand only runs
// when the left is truthy, and the overall value is whichever operand was
// evaluated last. Relies on JUMPIFFALSE peeking.
func (c *comp) and(_ bool) {
	end := c.emitJump(JUMPIFFALSE)
	c.emitOp(POP)
	c.parsePrecedence(precAnd)
	c.patchJump(end)
}

func (c *comp) or(_ bool) {
	els := c.emitJump(JUMPIFFALSE)
	end := c.emitJump(JUMP)
	c.patchJump(els)
	c.emitOp(POP)
	c.parsePrecedence(precOr)
	c.patchJump(end)
}

func (c *comp) variable(canAssign bool) {
	c.namedVariable(c.prev.Raw, canAssign)
}

func (c *comp) this(_ bool) {
	if c.cc == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.namedVariable("this", false)
}

func (c *comp) super(_ bool) {
	switch {
	case c.cc == nil:
		c.error("Can't use 'super' outside of a class.")
	case !c.cc.hasSuperclass:
		c.error("Can't use 'super' in a class with no superclass.")
	}

	c.consume(token.DOT, "Expect '.' after 'super'.")
	c.consume(token.IDENT, "Expect superclass method name.")
	name := c.identifierConstant(c.prev.Raw)

	c.namedVariable("this", false)
	if c.match(token.LPAREN) {
		argc := c.argumentList()
		c.namedVariable("super", false)
		c.emitOpByte(SUPERINVOKE, name)
		c.emitByte(argc)
		return
	}
	c.namedVariable("super", false)
	c.emitOpByte(GETSUPER, name)
}

func (c *comp) call(_ bool) {
	argc := c.argumentList()
	c.emitOpByte(CALL, argc)
}

func (c *comp) dot(canAssign bool) {
	c.consume(token.IDENT, "Expect property name after '.'.")
	name := c.identifierConstant(c.prev.Raw)

	switch {
	case canAssign && c.match(token.EQ):
		c.expression()
		c.emitOpByte(SETPROPERTY, name)
	case c.match(token.LPAREN):
		argc := c.argumentList()
		c.emitOpByte(INVOKE, name)
		c.emitByte(argc)
	default:
		c.emitOpByte(GETPROPERTY, name)
	}
}

func (c *comp) argumentList() byte {
	var argc int
	if !c.check(token.RPAREN) {
		for {
			c.expression()
			if argc == maxArgs {
				c.error("Can't have more than 255 arguments.")
			}
			argc++
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "Expect ')' after arguments.")
	return byte(argc)
}

// ----- declarations and statements -----

func (c *comp) declaration() {
	switch {
	case c.match(token.CLASS):
		c.classDeclaration()
	case c.match(token.FUN):
		c.funDeclaration()
	case c.match(token.VAR):
		c.varDeclaration()
	default:
		c.statement()
	}

	if c.panicMode {
		c.synchronize()
	}
}

func (c *comp) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(token.EQ) {
		c.expression()
	} else {
		c.emitOp(NIL)
	}
	c.consume(token.SEMI, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *comp) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	// a function may refer to itself, so it is usable inside its own body
	c.markInitialized()
	c.function(kindFunction, c.prev.Raw)
	c.defineVariable(global)
}

// function compiles a parameter list and body in a fresh function compiler
// and emits the CLOSURE that creates it at runtime, followed by one
// (isLocal, index) pair per upvalue.
func (c *comp) function(kind funcKind, name string) {
	c.fc = newFcomp(c.fc, kind, name)
	c.beginScope()

	c.consume(token.LPAREN, "Expect '(' after function name.")
	if !c.check(token.RPAREN) {
		for {
			if c.fc.fn.Arity == maxArgs {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			c.fc.fn.Arity++
			param := c.parseVariable("Expect parameter name.")
			c.defineVariable(param)
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "Expect ')' after parameters.")
	c.consume(token.LBRACE, "Expect '{' before function body.")
	c.block()

	// no endScope: the frame is discarded wholesale on return
	inner := c.fc
	fn := c.endFcomp()

	c.emitOpByte(CLOSURE, c.makeConstant(fn))
	for _, uv := range inner.upvals {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(byte(uv.index))
	}
}

func (c *comp) classDeclaration() {
	c.consume(token.IDENT, "Expect class name.")
	className := c.prev.Raw
	nameConst := c.identifierConstant(className)
	c.declareVariable()

	c.emitOpByte(CLASS, nameConst)
	c.defineVariable(nameConst)

	c.cc = &classComp{enclosing: c.cc}

	if c.match(token.LT) {
		c.consume(token.IDENT, "Expect superclass name.")
		c.variable(false)
		if className == c.prev.Raw {
			c.error("A class can't inherit from itself.")
		}

		// a synthetic scope binds 'super' to the superclass value so that
		// methods capture it as a regular upvalue
		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(INHERIT)
		c.cc.hasSuperclass = true
	}

	c.namedVariable(className, false)
	c.consume(token.LBRACE, "Expect '{' before class body.")
	for !c.check(token.RBRACE) && !c.check(token.EOF) {
		c.method()
	}
	c.consume(token.RBRACE, "Expect '}' after class body.")
	c.emitOp(POP) // the class pushed for the method definitions

	if c.cc.hasSuperclass {
		c.endScope()
	}
	c.cc = c.cc.enclosing
}

func (c *comp) method() {
	c.consume(token.IDENT, "Expect method name.")
	name := c.prev.Raw
	nameConst := c.identifierConstant(name)

	kind := kindMethod
	if name == "init" {
		kind = kindInitializer
	}
	c.function(kind, name)
	c.emitOpByte(METHOD, nameConst)
}

func (c *comp) statement() {
	switch {
	case c.match(token.PRINT):
		c.printStatement()
	case c.match(token.FOR):
		c.forStatement()
	case c.match(token.IF):
		c.ifStatement()
	case c.match(token.RETURN):
		c.returnStatement()
	case c.match(token.WHILE):
		c.whileStatement()
	case c.match(token.LBRACE):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *comp) block() {
	for !c.check(token.RBRACE) && !c.check(token.EOF) {
		c.declaration()
	}
	c.consume(token.RBRACE, "Expect '}' after block.")
}

func (c *comp) printStatement() {
	c.expression()
	c.consume(token.SEMI, "Expect ';' after value.")
	c.emitOp(PRINT)
}

func (c *comp) expressionStatement() {
	c.expression()
	c.consume(token.SEMI, "Expect ';' after expression.")
	c.emitOp(POP)
}

func (c *comp) ifStatement() {
	c.consume(token.LPAREN, "Expect '(' after 'if'.")
	c.expression()
	c.consume(token.RPAREN, "Expect ')' after condition.")

	thenJump := c.emitJump(JUMPIFFALSE)
	c.emitOp(POP)
	c.statement()
	elseJump := c.emitJump(JUMP)

	c.patchJump(thenJump)
	c.emitOp(POP)
	if c.match(token.ELSE) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *comp) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.consume(token.LPAREN, "Expect '(' after 'while'.")
	c.expression()
	c.consume(token.RPAREN, "Expect ')' after condition.")

	exitJump := c.emitJump(JUMPIFFALSE)
	c.emitOp(POP)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(POP)
}

// forStatement lowers for to its while equivalent: initializer once, then
// condition / body / increment, with the increment code jumped over on the
// way in and looped back to after the body.
func (c *comp) forStatement() {
	c.beginScope()
	c.consume(token.LPAREN, "Expect '(' after 'for'.")
	switch {
	case c.match(token.SEMI):
		// no initializer
	case c.match(token.VAR):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(token.SEMI) {
		c.expression()
		c.consume(token.SEMI, "Expect ';' after loop condition.")
		exitJump = c.emitJump(JUMPIFFALSE)
		c.emitOp(POP)
	}

	if !c.match(token.RPAREN) {
		bodyJump := c.emitJump(JUMP)
		incStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(POP)
		c.consume(token.RPAREN, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(POP)
	}
	c.endScope()
}

func (c *comp) returnStatement() {
	if c.fc.kind == kindScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(token.SEMI) {
		c.emitReturn()
		return
	}
	if c.fc.kind == kindInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(token.SEMI, "Expect ';' after return value.")
	c.emitOp(RETURN)
}
