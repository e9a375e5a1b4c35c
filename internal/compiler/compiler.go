// Package compiler turns source text into bytecode in a single pass:
// there is no intermediate AST. It is a Pratt parser whose prefix and
// infix handlers emit opcodes directly into the enclosing function's
// chunk as they recognize each grammar production.
package compiler

import (
	"strconv"
	"strings"

	"vela/internal/bytecode"
	"vela/internal/errors"
	"vela/internal/lexer"
	"vela/internal/value"
	"vela/internal/vm"
)

type funcType int

const (
	funcScript funcType = iota
	funcFunction
	funcMethod
	funcInitializer
)

type local struct {
	name       lexer.Token
	depth      int // -1 means declared but not yet initialized
	isCaptured bool
}

type upvalueRef struct {
	index   byte
	isLocal bool
}

type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// parserState is shared by every nested *Compiler for one top-level
// Compile call: the token stream, error state, and a pointer to
// whichever Compiler is currently innermost.
type parserState struct {
	vm      *vm.VM
	scanner *lexer.Scanner

	current  lexer.Token
	previous lexer.Token

	hadError  bool
	panicMode bool
	firstErr  error

	compiler *Compiler
	class    *classState
}

// Compiler holds the state for compiling a single function body: its
// own Chunk (owned by the ObjFunction being built), its locals and
// upvalue descriptors, and a link to the compiler for the lexically
// enclosing function.
type Compiler struct {
	p         *parserState
	enclosing *Compiler

	function *vm.ObjFunction
	funcType funcType

	locals     []local
	upvalues   []upvalueRef
	scopeDepth int
}

// Compile compiles source into a top-level ObjFunction ready to wrap
// in a closure and run, or returns the first compile error
// encountered.
func Compile(v *vm.VM, source string) (*vm.ObjFunction, error) {
	p := &parserState{vm: v, scanner: lexer.New(source)}
	c := newCompiler(p, nil, funcScript, "")
	v.SetCompilerRoots(p.roots)
	defer v.SetCompilerRoots(nil)

	p.advance()
	for !p.match(lexer.TokenEOF) {
		c.declaration()
	}
	fn := c.endCompiler()
	if p.hadError {
		return nil, p.firstErr
	}
	return fn, nil
}

// roots lists every in-progress function as a GC root: a collection
// can run mid-compile, before any of these functions are reachable
// from a finished chunk.
func (p *parserState) roots() []*vm.ObjFunction {
	var out []*vm.ObjFunction
	for c := p.compiler; c != nil; c = c.enclosing {
		out = append(out, c.function)
	}
	return out
}

func newCompiler(p *parserState, enclosing *Compiler, ft funcType, name string) *Compiler {
	fn := p.vm.AllocateFunction()
	c := &Compiler{p: p, enclosing: enclosing, function: fn, funcType: ft}
	// Register c before interning the name, so a collection triggered
	// by that allocation already sees fn as a compiler root.
	p.compiler = c
	if name != "" {
		fn.Name = p.vm.CopyString(name)
	}

	// Slot 0 is reserved: the receiver for methods/initializers, or
	// the running closure itself for plain functions.
	slotName := ""
	if ft != funcFunction {
		slotName = "this"
	}
	c.locals = append(c.locals, local{name: lexer.Token{Lexeme: slotName}, depth: 0})
	return c
}

func (c *Compiler) chunk() *bytecode.Chunk { return c.function.Chunk }

func (c *Compiler) endCompiler() *vm.ObjFunction {
	c.emitReturn()
	fn := c.function
	c.p.compiler = c.enclosing
	return fn
}

// --- token stream -----------------------------------------------------

func (p *parserState) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.NextToken()
		if p.current.Type != lexer.TokenError {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *parserState) check(t lexer.TokenType) bool { return p.current.Type == t }

func (p *parserState) match(t lexer.TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *parserState) consume(t lexer.TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *parserState) errorAtCurrent(message string) { p.errorAt(p.current, message) }
func (p *parserState) error(message string)          { p.errorAt(p.previous, message) }

func (p *parserState) errorAt(tok lexer.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true
	if p.firstErr == nil {
		p.firstErr = errors.NewCompileError(message, tok.Line, tok.Lexeme, tok.Type == lexer.TokenEOF)
	}
}

// synchronize skips tokens after a parse error until it reaches a
// plausible statement boundary, so one mistake reports as one error
// instead of a cascade.
func (p *parserState) synchronize() {
	p.panicMode = false
	for p.current.Type != lexer.TokenEOF {
		if p.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch p.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		p.advance()
	}
}

// --- bytecode emission -------------------------------------------------

func (c *Compiler) emitOp(op bytecode.OpCode)  { c.chunk().WriteOp(op, c.p.previous.Line) }
func (c *Compiler) emitByte(b byte)            { c.chunk().WriteByte(b, c.p.previous.Line) }
func (c *Compiler) emitOpByte(op bytecode.OpCode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *Compiler) emitReturn() {
	if c.funcType == funcInitializer {
		c.emitOpByte(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNull)
	}
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.chunk().AddConstant(v)
	if idx > 255 {
		c.p.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOpByte(bytecode.OpConstant, c.makeConstant(v))
}

// emitJump writes a two-byte placeholder offset after op and returns
// its index for patchJump to fill in later.
func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.chunk().Code) - offset - 2
	if jump > 0xffff {
		c.p.error("Too much code to jump over.")
	}
	c.chunk().Code[offset] = byte(jump >> 8)
	c.chunk().Code[offset+1] = byte(jump & 0xff)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.chunk().Code) - loopStart + 2
	if offset > 0xffff {
		c.p.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset & 0xff))
}

// --- scopes and variables ----------------------------------------------

func (c *Compiler) beginScope() { c.scopeDepth++ }

func (c *Compiler) endScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		if c.locals[len(c.locals)-1].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *Compiler) identifierConstant(name lexer.Token) byte {
	return c.makeConstant(value.FromObj(c.p.vm.CopyString(name.Lexeme)))
}

func identifiersEqual(a, b lexer.Token) bool { return a.Lexeme == b.Lexeme }

func (c *Compiler) resolveLocal(name lexer.Token) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if identifiersEqual(c.locals[i].name, name) {
			if c.locals[i].depth == -1 {
				c.p.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(index byte, isLocal bool) int {
	for i, u := range c.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	if len(c.upvalues) == 255 {
		c.p.error("Too many closure variables in function.")
		return 0
	}
	c.upvalues = append(c.upvalues, upvalueRef{index: index, isLocal: isLocal})
	c.function.UpvalueCount = len(c.upvalues)
	return len(c.upvalues) - 1
}

func (c *Compiler) resolveUpvalue(name lexer.Token) int {
	if c.enclosing == nil {
		return -1
	}
	if local := c.enclosing.resolveLocal(name); local != -1 {
		c.enclosing.locals[local].isCaptured = true
		return c.addUpvalue(byte(local), true)
	}
	if up := c.enclosing.resolveUpvalue(name); up != -1 {
		return c.addUpvalue(byte(up), false)
	}
	return -1
}

func (c *Compiler) addLocal(name lexer.Token) {
	if len(c.locals) == 256 {
		c.p.error("Too many local variables in function.")
		return
	}
	c.locals = append(c.locals, local{name: name, depth: -1})
}

func (c *Compiler) declareVariable() {
	if c.scopeDepth == 0 {
		return
	}
	name := c.p.previous
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].depth != -1 && c.locals[i].depth < c.scopeDepth {
			break
		}
		if identifiersEqual(c.locals[i].name, name) {
			c.p.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) parseVariable(message string) byte {
	c.p.consume(lexer.TokenIdentifier, message)
	c.declareVariable()
	if c.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.p.previous)
}

func (c *Compiler) markInitialized() {
	if c.scopeDepth == 0 {
		return
	}
	c.locals[len(c.locals)-1].depth = c.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, global)
}

func (c *Compiler) argumentList() byte {
	count := 0
	if !c.p.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if count == 255 {
				c.p.error("Can't have more than 255 arguments.")
			}
			count++
			if !c.p.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.p.consume(lexer.TokenRightParen, "Expect ')' after arguments.")
	return byte(count)
}

// --- Pratt expression parsing -------------------------------------------

type precedence int

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

type parseFn func(c *Compiler, canAssign bool)

type rule struct {
	prefix, infix parseFn
	prec          precedence
}

var rules map[lexer.TokenType]rule

func init() {
	rules = map[lexer.TokenType]rule{
		lexer.TokenLeftParen:    {(*Compiler).grouping, (*Compiler).call, precCall},
		lexer.TokenDot:          {nil, (*Compiler).dot, precCall},
		lexer.TokenMinus:        {(*Compiler).unary, (*Compiler).binary, precTerm},
		lexer.TokenPlus:         {nil, (*Compiler).binary, precTerm},
		lexer.TokenSlash:        {nil, (*Compiler).binary, precFactor},
		lexer.TokenStar:         {nil, (*Compiler).binary, precFactor},
		lexer.TokenBang:         {(*Compiler).unary, nil, precNone},
		lexer.TokenBangEqual:    {nil, (*Compiler).binary, precEquality},
		lexer.TokenEqualEqual:   {nil, (*Compiler).binary, precEquality},
		lexer.TokenGreater:      {nil, (*Compiler).binary, precComparison},
		lexer.TokenGreaterEqual: {nil, (*Compiler).binary, precComparison},
		lexer.TokenLess:         {nil, (*Compiler).binary, precComparison},
		lexer.TokenLessEqual:    {nil, (*Compiler).binary, precComparison},
		lexer.TokenIdentifier:   {(*Compiler).variable, nil, precNone},
		lexer.TokenString:       {(*Compiler).stringLiteral, nil, precNone},
		lexer.TokenNumber:       {(*Compiler).number, nil, precNone},
		lexer.TokenAnd:          {nil, (*Compiler).and, precAnd},
		lexer.TokenOr:           {nil, (*Compiler).or, precOr},
		lexer.TokenFalse:        {(*Compiler).literal, nil, precNone},
		lexer.TokenTrue:         {(*Compiler).literal, nil, precNone},
		lexer.TokenNull:         {(*Compiler).literal, nil, precNone},
		lexer.TokenThis:         {(*Compiler).this_, nil, precNone},
		lexer.TokenSuper:        {(*Compiler).super_, nil, precNone},
	}
}

func getRule(t lexer.TokenType) rule {
	if r, ok := rules[t]; ok {
		return r
	}
	return rule{}
}

func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

func (c *Compiler) parsePrecedence(prec precedence) {
	c.p.advance()
	prefix := getRule(c.p.previous.Type).prefix
	if prefix == nil {
		c.p.error("Expect expression.")
		return
	}
	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.p.current.Type).prec {
		c.p.advance()
		infix := getRule(c.p.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.p.match(lexer.TokenEqual) {
		c.p.error("Invalid assignment target.")
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.p.consume(lexer.TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) number(canAssign bool) {
	n, _ := strconv.ParseFloat(c.p.previous.Lexeme, 64)
	c.emitConstant(value.Number(n))
}

func (c *Compiler) stringLiteral(canAssign bool) {
	raw := c.p.previous.Lexeme
	s := strings.Trim(raw, `"`)
	c.emitConstant(value.FromObj(c.p.vm.CopyString(s)))
}

func (c *Compiler) literal(canAssign bool) {
	switch c.p.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenNull:
		c.emitOp(bytecode.OpNull)
	}
}

func (c *Compiler) unary(canAssign bool) {
	opType := c.p.previous.Type
	c.parsePrecedence(precUnary)
	switch opType {
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	}
}

func (c *Compiler) binary(canAssign bool) {
	opType := c.p.previous.Type
	r := getRule(opType)
	c.parsePrecedence(r.prec + 1)
	switch opType {
	case lexer.TokenBangEqual:
		c.emitOp(bytecode.OpEqual)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(bytecode.OpLess)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(bytecode.OpGreater)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	}
}

func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(canAssign bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(canAssign bool) {
	argCount := c.argumentList()
	c.emitOpByte(bytecode.OpCall, argCount)
}

func (c *Compiler) dot(canAssign bool) {
	c.p.consume(lexer.TokenIdentifier, "Expect property name after '.'.")
	name := c.identifierConstant(c.p.previous)

	switch {
	case canAssign && c.p.match(lexer.TokenEqual):
		c.expression()
		c.emitOpByte(bytecode.OpSetProperty, name)
	case c.p.match(lexer.TokenLeftParen):
		argCount := c.argumentList()
		c.emitOpByte(bytecode.OpInvoke, name)
		c.emitByte(argCount)
	default:
		c.emitOpByte(bytecode.OpGetProperty, name)
	}
}

func (c *Compiler) namedVariable(name lexer.Token, canAssign bool) {
	var getOp, setOp bytecode.OpCode
	arg := c.resolveLocal(name)
	if arg != -1 {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	} else if arg = c.resolveUpvalue(name); arg != -1 {
		getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
	} else {
		arg = int(c.identifierConstant(name))
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && c.p.match(lexer.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

func (c *Compiler) variable(canAssign bool) { c.namedVariable(c.p.previous, canAssign) }

func (c *Compiler) this_(canAssign bool) {
	if c.p.class == nil {
		c.p.error("Can't use 'this' outside of a class.")
		return
	}
	c.namedVariable(lexer.Token{Type: lexer.TokenThis, Lexeme: "this"}, false)
}

func (c *Compiler) super_(canAssign bool) {
	if c.p.class == nil {
		c.p.error("Can't use 'super' outside of a class.")
	} else if !c.p.class.hasSuperclass {
		c.p.error("Can't use 'super' in a class with no superclass.")
	}
	c.p.consume(lexer.TokenDot, "Expect '.' after 'super'.")
	c.p.consume(lexer.TokenIdentifier, "Expect superclass method name.")
	name := c.identifierConstant(c.p.previous)

	thisTok := lexer.Token{Type: lexer.TokenThis, Lexeme: "this"}
	superTok := lexer.Token{Type: lexer.TokenSuper, Lexeme: "super"}

	c.namedVariable(thisTok, false)
	if c.p.match(lexer.TokenLeftParen) {
		argCount := c.argumentList()
		c.namedVariable(superTok, false)
		c.emitOpByte(bytecode.OpSuperInvoke, name)
		c.emitByte(argCount)
	} else {
		c.namedVariable(superTok, false)
		c.emitOpByte(bytecode.OpGetSuper, name)
	}
}
