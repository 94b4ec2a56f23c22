package compiler

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Codegen: compile AST to bytecode chunks
// ---------------------------------------------------------------------------

// PrintBuiltin is the name of the single built-in, compiled to OpPrint.
const PrintBuiltin = "print"

// ErrCompile is wrapped by every CompileError.
var ErrCompile = errors.New("compile error")

// CompileError carries every error recorded while compiling.
type CompileError struct {
	Errors []string
}

func (e *CompileError) Error() string {
	return "compile error: " + strings.Join(e.Errors, "; ")
}

func (e *CompileError) Unwrap() error { return ErrCompile }

// Function is a compiled top-level function declaration.
type Function struct {
	ID     bytecode.FunctionID
	Name   string
	Params []string
	Chunk  *bytecode.Chunk
}

// Module is the output of one compilation: the top-level chunk plus the
// functions declared in that source, in declaration order.
type Module struct {
	Main      *bytecode.Chunk
	Functions []*Function
}

// Function returns the declared function with the given id, or nil.
func (m *Module) Function(id bytecode.FunctionID) *Function {
	for _, fn := range m.Functions {
		if fn.ID == id {
			return fn
		}
	}
	return nil
}

// Compiler compiles programs to bytecode. Function names declared by
// earlier Compile calls stay resolvable in later ones, which lets a REPL
// define a function on one line and call it on the next.
type Compiler struct {
	functions map[string]bytecode.FunctionID
	nextID    bytecode.FunctionID

	// Current compilation context
	chunk    *bytecode.Chunk
	scopes   []map[string]int // innermost last
	numSlots int
	errors   []string
}

// NewCompiler creates a new compiler. Function ids start at 1;
// bytecode.MainFunctionID is reserved for top-level code.
func NewCompiler() *Compiler {
	return &Compiler{
		functions: make(map[string]bytecode.FunctionID),
		nextID:    bytecode.MainFunctionID + 1,
	}
}

// Errors returns accumulated compilation errors.
func (c *Compiler) Errors() []string {
	return c.errors
}

// FunctionID returns the id bound to a declared function name.
func (c *Compiler) FunctionID(name string) (bytecode.FunctionID, bool) {
	id, ok := c.functions[name]
	return id, ok
}

func (c *Compiler) errorf(format string, args ...interface{}) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *Compiler) errorAt(n Node, format string, args ...interface{}) {
	c.errorf("line %d: %s", n.Span().Start.Line, fmt.Sprintf(format, args...))
}

// Compile parses and compiles source code.
func (c *Compiler) Compile(source string) (*Module, error) {
	prog, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return c.CompileProgram(prog)
}

// CompileProgram compiles a parsed program. Top-level function
// declarations are hoisted, so calls may precede declarations and
// functions may recurse.
func (c *Compiler) CompileProgram(prog *Program) (*Module, error) {
	c.errors = nil
	out := &Module{}
	savedFunctions, savedNext := maps.Clone(c.functions), c.nextID

	var decls []*FunctionDecl
	for _, s := range prog.Statements {
		fd, ok := s.(*FunctionDecl)
		if !ok {
			continue
		}
		if _, dup := c.functions[fd.Name]; dup && c.declaredIn(decls, fd.Name) {
			c.errorAt(fd, "function %s already declared", fd.Name)
			continue
		}
		if fd.Name == PrintBuiltin {
			c.errorAt(fd, "cannot redeclare builtin %s", PrintBuiltin)
			continue
		}
		c.functions[fd.Name] = c.nextID
		out.Functions = append(out.Functions, &Function{ID: c.nextID, Name: fd.Name, Params: fd.Params})
		c.nextID++
		decls = append(decls, fd)
	}

	c.begin("main", nil)
	for _, s := range prog.Statements {
		if _, ok := s.(*FunctionDecl); ok {
			continue
		}
		c.compileStmt(s)
	}
	out.Main = c.finish()

	for i, fd := range decls {
		c.begin(fd.Name, fd.Params)
		c.compileStatements(fd.Body.Statements)
		out.Functions[i].Chunk = c.finish()
	}

	if len(c.errors) > 0 {
		c.functions, c.nextID = savedFunctions, savedNext
		return nil, &CompileError{Errors: c.errors}
	}
	return out, nil
}

func (c *Compiler) declaredIn(decls []*FunctionDecl, name string) bool {
	for _, d := range decls {
		if d.Name == name {
			return true
		}
	}
	return false
}

// begin starts a fresh chunk whose first slots hold params.
func (c *Compiler) begin(name string, params []string) {
	c.chunk = bytecode.NewChunk()
	c.chunk.Name = name
	c.scopes = []map[string]int{{}}
	c.numSlots = 0
	c.chunk.ParamCount = len(params)
	for _, p := range params {
		c.declare(p)
	}
}

func (c *Compiler) finish() *bytecode.Chunk {
	c.chunk.LocalCount = c.numSlots
	ch := c.chunk
	c.chunk = nil
	c.scopes = nil
	return ch
}

// declare allocates a new slot. Slots are never reused within a chunk,
// so a shadowing let in an inner block gets its own slot.
func (c *Compiler) declare(name string) int {
	slot := c.numSlots
	c.numSlots++
	c.scopes[len(c.scopes)-1][name] = slot
	return slot
}

func (c *Compiler) lookup(name string) (int, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if slot, ok := c.scopes[i][name]; ok {
			return slot, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStatements(stmts []Stmt) {
	for _, s := range stmts {
		c.compileStmt(s)
	}
}

func (c *Compiler) compileStmt(stmt Stmt) {
	switch s := stmt.(type) {
	case *ExprStmt:
		c.compileExpr(s.Expr)
	case *LetDecl:
		c.compileExpr(s.Init)
		slot := c.declare(s.Name)
		c.chunk.Emit(bytecode.OpStoreLocal, slot)
	case *FunctionDecl:
		c.errorAt(s, "function %s must be declared at top level", s.Name)
	case *BlockStmt:
		c.scopes = append(c.scopes, map[string]int{})
		c.compileStatements(s.Statements)
		c.scopes = c.scopes[:len(c.scopes)-1]
	case *ReturnStmt:
		c.compileExpr(s.Value)
		c.chunk.EmitOp(bytecode.OpReturn)
	case *IfStmt:
		c.compileIf(s)
	case *ForStmt:
		c.compileFor(s)
	default:
		c.errorAt(stmt, "unsupported statement %T", stmt)
	}
}

// compileIf lays out:
//
//	cond; JUMP_IF_FALSE else; then; JUMP end; else: ...; end:
func (c *Compiler) compileIf(s *IfStmt) {
	c.compileExpr(s.Cond)
	jumpElse := c.chunk.Emit(bytecode.OpJumpIfFalse, 0)
	c.compileStmt(s.Then)
	jumpEnd := c.chunk.Emit(bytecode.OpJump, 0)
	c.chunk.PatchJump(jumpElse, c.chunk.Len())
	if s.Else != nil {
		c.compileStmt(s.Else)
	}
	c.chunk.PatchJump(jumpEnd, c.chunk.Len())
}

// compileFor lays out:
//
//	init; top: cond; JUMP_IF_FALSE end; body; update; JUMP top; end:
//
// The init declaration is scoped to the loop.
func (c *Compiler) compileFor(s *ForStmt) {
	c.scopes = append(c.scopes, map[string]int{})
	defer func() { c.scopes = c.scopes[:len(c.scopes)-1] }()

	c.compileStmt(s.Init)
	top := c.chunk.Len()
	c.compileExpr(s.Cond)
	exit := c.chunk.Emit(bytecode.OpJumpIfFalse, 0)
	c.compileStmt(s.Body)
	c.compileExpr(s.Update)
	back := c.chunk.Emit(bytecode.OpJump, 0)
	c.chunk.PatchJump(back, top)
	c.chunk.PatchJump(exit, c.chunk.Len())
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOpcodes = map[BinaryOp]bytecode.Opcode{
	OpAdd: bytecode.OpAdd,
	OpSub: bytecode.OpSub,
	OpMul: bytecode.OpMul,
	OpDiv: bytecode.OpDiv,
}

func (c *Compiler) compileExpr(expr Expr) {
	switch e := expr.(type) {
	case *NumberLiteral:
		c.chunk.Emit(bytecode.OpLoadConst, c.chunk.AddConstant(bytecode.Number(e.Value)))
	case *Identifier:
		c.compileIdentifier(e)
	case *Assignment:
		slot, ok := c.lookup(e.Name)
		if !ok {
			c.errorAt(e, "assignment to undeclared variable %s", e.Name)
			return
		}
		c.compileExpr(e.Value)
		c.chunk.Emit(bytecode.OpStoreLocal, slot)
		c.chunk.Emit(bytecode.OpLoadLocal, slot)
	case *BinaryExpr:
		c.compileExpr(e.Left)
		c.compileExpr(e.Right)
		c.chunk.EmitOp(binaryOpcodes[e.Op])
	case *CallExpr:
		c.compileCall(e)
	default:
		c.errorAt(expr, "unsupported expression %T", expr)
	}
}

func (c *Compiler) compileIdentifier(id *Identifier) {
	if slot, ok := c.lookup(id.Name); ok {
		c.chunk.Emit(bytecode.OpLoadLocal, slot)
		return
	}
	if fnID, ok := c.functions[id.Name]; ok {
		c.chunk.Emit(bytecode.OpLoadConst, c.chunk.AddConstant(bytecode.FunctionRef(fnID)))
		return
	}
	if id.Name == PrintBuiltin {
		c.errorAt(id, "builtin %s can only be called", PrintBuiltin)
		return
	}
	c.errorAt(id, "undefined variable %s", id.Name)
}

// compileCall pushes the callee, then the arguments, then CALL argc.
// print(x) compiles to PRINT unless a local shadows the name.
func (c *Compiler) compileCall(call *CallExpr) {
	if id, ok := call.Callee.(*Identifier); ok && id.Name == PrintBuiltin {
		if _, shadowed := c.lookup(PrintBuiltin); !shadowed {
			if len(call.Args) != 1 {
				c.errorAt(call, "%s expects 1 argument, got %d", PrintBuiltin, len(call.Args))
				return
			}
			c.compileExpr(call.Args[0])
			c.chunk.EmitOp(bytecode.OpPrint)
			return
		}
	}
	c.compileExpr(call.Callee)
	for _, arg := range call.Args {
		c.compileExpr(arg)
	}
	c.chunk.Emit(bytecode.OpCall, len(call.Args))
}

// ---------------------------------------------------------------------------
// Compile helper for external use
// ---------------------------------------------------------------------------

// Compile parses and compiles source code with a fresh Compiler.
func Compile(source string) (*Module, error) {
	return NewCompiler().Compile(source)
}
