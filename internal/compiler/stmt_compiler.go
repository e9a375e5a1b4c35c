package compiler

import (
	"vela/internal/bytecode"
	"vela/internal/lexer"
	"vela/internal/value"
)

func (c *Compiler) declaration() {
	switch {
	case c.p.match(lexer.TokenClass):
		c.classDeclaration()
	case c.p.match(lexer.TokenFun):
		c.funDeclaration()
	case c.p.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.p.panicMode {
		c.p.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.p.match(lexer.TokenPrint):
		c.printStatement()
	case c.p.match(lexer.TokenIf):
		c.ifStatement()
	case c.p.match(lexer.TokenReturn):
		c.returnStatement()
	case c.p.match(lexer.TokenWhile):
		c.whileStatement()
	case c.p.match(lexer.TokenFor):
		c.forStatement()
	case c.p.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.p.check(lexer.TokenRightBrace) && !c.p.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.p.consume(lexer.TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.p.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) printStatement() {
	c.expression()
	c.p.consume(lexer.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) ifStatement() {
	c.p.consume(lexer.TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.p.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.p.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.p.consume(lexer.TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.p.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

// forStatement desugars the classic three-clause loop into a while
// loop around the condition, with the increment compiled once but
// jumped to only after each body execution.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.p.consume(lexer.TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case c.p.match(lexer.TokenSemicolon):
		// no initializer
	case c.p.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.p.match(lexer.TokenSemicolon) {
		c.expression()
		c.p.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.p.check(lexer.TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.p.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	} else {
		c.p.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.funcType == funcScript {
		c.p.error("Can't return from top-level code.")
	}
	if c.p.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.funcType == funcInitializer {
		c.p.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.p.consume(lexer.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.p.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNull)
	}
	c.p.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized()
	c.function(funcFunction)
	c.defineVariable(global)
}

// function compiles one function body (used for both plain functions
// and methods) in a fresh, nested Compiler, then leaves an OP_CLOSURE
// in the enclosing chunk that captures whatever upvalues the body
// needed.
func (c *Compiler) function(ft funcType) {
	name := c.p.previous.Lexeme
	inner := newCompiler(c.p, c, ft, name)
	inner.beginScope()

	c.p.consume(lexer.TokenLeftParen, "Expect '(' after function name.")
	if !c.p.check(lexer.TokenRightParen) {
		for {
			inner.function.Arity++
			if inner.function.Arity > 255 {
				c.p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			paramConst := inner.parseVariable("Expect parameter name.")
			inner.defineVariable(paramConst)
			if !c.p.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.p.consume(lexer.TokenRightParen, "Expect ')' after parameters.")
	c.p.consume(lexer.TokenLeftBrace, "Expect '{' before function body.")
	inner.block()

	fn := inner.endCompiler()
	c.emitOpByte(bytecode.OpClosure, c.makeConstant(value.FromObj(fn)))
	for _, u := range inner.upvalues {
		if u.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(u.index)
	}
}

func (c *Compiler) method() {
	c.p.consume(lexer.TokenIdentifier, "Expect method name.")
	name := c.p.previous.Lexeme
	nameConst := c.identifierConstant(c.p.previous)

	ft := funcMethod
	if name == "init" {
		ft = funcInitializer
	}
	c.function(ft)
	c.emitOpByte(bytecode.OpMethod, nameConst)
}

func (c *Compiler) classDeclaration() {
	c.p.consume(lexer.TokenIdentifier, "Expect class name.")
	nameTok := c.p.previous
	nameConstant := c.identifierConstant(nameTok)
	c.declareVariable()

	c.emitOpByte(bytecode.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	classScope := &classState{enclosing: c.p.class}
	c.p.class = classScope

	if c.p.match(lexer.TokenLess) {
		c.p.consume(lexer.TokenIdentifier, "Expect superclass name.")
		c.variable(false)
		if identifiersEqual(nameTok, c.p.previous) {
			c.p.error("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal(lexer.Token{Type: lexer.TokenSuper, Lexeme: "super"})
		c.defineVariable(0)

		c.namedVariable(nameTok, false)
		c.emitOp(bytecode.OpInherit)
		classScope.hasSuperclass = true
	}

	c.namedVariable(nameTok, false)
	c.p.consume(lexer.TokenLeftBrace, "Expect '{' before class body.")
	for !c.p.check(lexer.TokenRightBrace) && !c.p.check(lexer.TokenEOF) {
		c.method()
	}
	c.p.consume(lexer.TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(bytecode.OpPop)

	if classScope.hasSuperclass {
		c.endScope()
	}
	c.p.class = classScope.enclosing
}
