package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent
// ---------------------------------------------------------------------------

// ParseError carries every error recorded while parsing.
type ParseError struct {
	Errors []string
}

func (e *ParseError) Error() string {
	return "parse error: " + strings.Join(e.Errors, "; ")
}

// Parser parses source code into an AST. It stops at the first error.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []string
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a whole program.
func Parse(input string) (*Program, error) {
	p := NewParser(input)
	prog := p.ParseProgram()
	if len(p.errors) > 0 {
		return nil, &ParseError{Errors: p.errors}
	}
	return prog, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) failed() bool {
	return len(p.errors) > 0
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken)
	return false
}

// errorf records a parse error.
func (p *Parser) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf("line %d: %s", p.curToken.Pos.Line, fmt.Sprintf(format, args...))
	p.errors = append(p.errors, msg)
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string {
	return p.errors
}

func (p *Parser) skipSemicolon() {
	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
}

func span(start Position, end Position) Span {
	return Span{Start: start, End: end}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ParseProgram parses statements until EOF.
func (p *Parser) ParseProgram() *Program {
	prog := &Program{}
	start := p.curToken.Pos
	for !p.curTokenIs(TokenEOF) && !p.failed() {
		if p.curTokenIs(TokenSemicolon) {
			p.nextToken()
			continue
		}
		if s := p.ParseStatement(); s != nil {
			prog.Statements = append(prog.Statements, s)
		}
	}
	prog.SpanVal = span(start, p.curToken.Pos)
	return prog
}

// ParseStatement parses a single statement.
func (p *Parser) ParseStatement() Stmt {
	switch p.curToken.Type {
	case TokenLet:
		return p.parseLet()
	case TokenFunction:
		return p.parseFunction()
	case TokenIf:
		return p.parseIf()
	case TokenFor:
		return p.parseFor()
	case TokenReturn:
		return p.parseReturn()
	case TokenLBrace:
		return p.parseBlock()
	case TokenError:
		p.errorf("%s", p.curToken.Literal)
		return nil
	}

	start := p.curToken.Pos
	e := p.ParseExpression()
	if e == nil {
		return nil
	}
	p.skipSemicolon()
	return &ExprStmt{SpanVal: span(start, p.curToken.Pos), Expr: e}
}

func (p *Parser) parseLet() Stmt {
	start := p.curToken.Pos
	p.nextToken() // let

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected identifier after let, got %s", p.curToken)
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()

	if !p.expect(TokenAssign) {
		return nil
	}
	init := p.ParseExpression()
	if init == nil {
		return nil
	}
	p.skipSemicolon()
	return &LetDecl{SpanVal: span(start, p.curToken.Pos), Name: name, Init: init}
}

func (p *Parser) parseFunction() Stmt {
	start := p.curToken.Pos
	p.nextToken() // function

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected function name, got %s", p.curToken)
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()

	if !p.expect(TokenLParen) {
		return nil
	}
	var params []string
	for !p.curTokenIs(TokenRParen) {
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter name, got %s", p.curToken)
			return nil
		}
		params = append(params, p.curToken.Literal)
		p.nextToken()
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		} else if !p.curTokenIs(TokenRParen) {
			p.errorf("expected , or ) in parameter list, got %s", p.curToken)
			return nil
		}
	}
	p.nextToken() // )

	body := p.parseBlock()
	if body == nil {
		return nil
	}
	return &FunctionDecl{SpanVal: span(start, p.curToken.Pos), Name: name, Params: params, Body: body}
}

func (p *Parser) parseIf() Stmt {
	start := p.curToken.Pos
	p.nextToken() // if

	if !p.expect(TokenLParen) {
		return nil
	}
	cond := p.ParseExpression()
	if cond == nil || !p.expect(TokenRParen) {
		return nil
	}
	then := p.parseBlock()
	if then == nil {
		return nil
	}

	stmt := &IfStmt{Cond: cond, Then: then}
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		if p.curTokenIs(TokenIf) {
			// else if: wrap the nested if in a block
			elseStart := p.curToken.Pos
			nested := p.parseIf()
			if nested == nil {
				return nil
			}
			stmt.Else = &BlockStmt{SpanVal: span(elseStart, p.curToken.Pos), Statements: []Stmt{nested}}
		} else {
			stmt.Else = p.parseBlock()
			if stmt.Else == nil {
				return nil
			}
		}
	}
	stmt.SpanVal = span(start, p.curToken.Pos)
	return stmt
}

func (p *Parser) parseFor() Stmt {
	start := p.curToken.Pos
	p.nextToken() // for

	if !p.expect(TokenLParen) {
		return nil
	}
	init := p.ParseStatement()
	if init == nil {
		return nil
	}
	cond := p.ParseExpression()
	if cond == nil || !p.expect(TokenSemicolon) {
		return nil
	}
	update := p.ParseExpression()
	if update == nil || !p.expect(TokenRParen) {
		return nil
	}
	body := p.parseBlock()
	if body == nil {
		return nil
	}
	return &ForStmt{SpanVal: span(start, p.curToken.Pos), Init: init, Cond: cond, Update: update, Body: body}
}

func (p *Parser) parseReturn() Stmt {
	start := p.curToken.Pos
	p.nextToken() // return

	value := p.ParseExpression()
	if value == nil {
		return nil
	}
	p.skipSemicolon()
	return &ReturnStmt{SpanVal: span(start, p.curToken.Pos), Value: value}
}

func (p *Parser) parseBlock() *BlockStmt {
	start := p.curToken.Pos
	if !p.expect(TokenLBrace) {
		return nil
	}
	block := &BlockStmt{}
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) && !p.failed() {
		if p.curTokenIs(TokenSemicolon) {
			p.nextToken()
			continue
		}
		if s := p.ParseStatement(); s != nil {
			block.Statements = append(block.Statements, s)
		}
	}
	if p.failed() || !p.expect(TokenRBrace) {
		return nil
	}
	block.SpanVal = span(start, p.curToken.Pos)
	return block
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	if p.curTokenIs(TokenIdentifier) && p.peekTokenIs(TokenAssign) {
		start := p.curToken.Pos
		name := p.curToken.Literal
		p.nextToken() // name
		p.nextToken() // =
		value := p.ParseExpression()
		if value == nil {
			return nil
		}
		return &Assignment{SpanVal: span(start, p.curToken.Pos), Name: name, Value: value}
	}
	e := p.parseAdditive()
	if e == nil {
		return nil
	}
	switch p.curToken.Type {
	case TokenEqualEqual, TokenLess, TokenGreater:
		p.errorf("comparison operator %s is not supported", p.curToken.Type)
		return nil
	case TokenAssign:
		p.errorf("invalid assignment target")
		return nil
	}
	return e
}

func (p *Parser) parseAdditive() Expr {
	left := p.parseMultiplicative()
	for left != nil && (p.curTokenIs(TokenPlus) || p.curTokenIs(TokenMinus)) {
		op := OpAdd
		if p.curTokenIs(TokenMinus) {
			op = OpSub
		}
		p.nextToken()
		right := p.parseMultiplicative()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: span(left.Span().Start, right.Span().End), Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseMultiplicative() Expr {
	left := p.parseUnary()
	for left != nil && (p.curTokenIs(TokenStar) || p.curTokenIs(TokenSlash)) {
		op := OpMul
		if p.curTokenIs(TokenSlash) {
			op = OpDiv
		}
		p.nextToken()
		right := p.parseUnary()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: span(left.Span().Start, right.Span().End), Op: op, Left: left, Right: right}
	}
	return left
}

// parseUnary desugars -x into 0 - x.
func (p *Parser) parseUnary() Expr {
	if !p.curTokenIs(TokenMinus) {
		return p.parseCall()
	}
	start := p.curToken.Pos
	p.nextToken()
	operand := p.parseUnary()
	if operand == nil {
		return nil
	}
	zero := &NumberLiteral{SpanVal: span(start, start), Value: 0}
	return &BinaryExpr{SpanVal: span(start, operand.Span().End), Op: OpSub, Left: zero, Right: operand}
}

func (p *Parser) parseCall() Expr {
	e := p.parsePrimary()
	for e != nil && p.curTokenIs(TokenLParen) {
		p.nextToken() // (
		var args []Expr
		for !p.curTokenIs(TokenRParen) {
			arg := p.ParseExpression()
			if arg == nil {
				return nil
			}
			args = append(args, arg)
			if p.curTokenIs(TokenComma) {
				p.nextToken()
			} else if !p.curTokenIs(TokenRParen) {
				p.errorf("expected , or ) in argument list, got %s", p.curToken)
				return nil
			}
		}
		end := p.curToken.Pos
		p.nextToken() // )
		e = &CallExpr{SpanVal: span(e.Span().Start, end), Callee: e, Args: args}
	}
	return e
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	switch tok.Type {
	case TokenNumber:
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf("invalid number %q", tok.Literal)
			return nil
		}
		p.nextToken()
		return &NumberLiteral{SpanVal: span(tok.Pos, p.curToken.Pos), Value: v}
	case TokenIdentifier:
		p.nextToken()
		return &Identifier{SpanVal: span(tok.Pos, p.curToken.Pos), Name: tok.Literal}
	case TokenLParen:
		p.nextToken()
		e := p.ParseExpression()
		if e == nil || !p.expect(TokenRParen) {
			return nil
		}
		return e
	case TokenError:
		p.errorf("%s", tok.Literal)
		return nil
	default:
		p.errorf("unexpected %s", tok)
		return nil
	}
}
