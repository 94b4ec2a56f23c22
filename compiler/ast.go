package compiler

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NumberLiteral represents a numeric literal.
type NumberLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *NumberLiteral) Span() Span { return n.SpanVal }
func (n *NumberLiteral) node()      {}
func (n *NumberLiteral) expr()      {}

// Identifier represents a variable or function reference.
type Identifier struct {
	SpanVal Span
	Name    string
}

func (n *Identifier) Span() Span { return n.SpanVal }
func (n *Identifier) node()      {}
func (n *Identifier) expr()      {}

// Assignment represents x = expr. Its value is the assigned value.
type Assignment struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *Assignment) Span() Span { return n.SpanVal }
func (n *Assignment) node()      {}
func (n *Assignment) expr()      {}

// BinaryOp enumerates the arithmetic operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
)

func (op BinaryOp) String() string {
	return [...]string{"+", "-", "*", "/"}[op]
}

// BinaryExpr represents left op right.
type BinaryExpr struct {
	SpanVal Span
	Op      BinaryOp
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// CallExpr represents callee(args...).
type CallExpr struct {
	SpanVal Span
	Callee  Expr
	Args    []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ExprStmt is an expression evaluated for its value.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
}

func (s *ExprStmt) Span() Span { return s.SpanVal }
func (s *ExprStmt) node()      {}
func (s *ExprStmt) stmt()      {}

// LetDecl declares a local: let name = init.
type LetDecl struct {
	SpanVal Span
	Name    string
	Init    Expr
}

func (s *LetDecl) Span() Span { return s.SpanVal }
func (s *LetDecl) node()      {}
func (s *LetDecl) stmt()      {}

// FunctionDecl declares a named function. Only allowed at top level.
type FunctionDecl struct {
	SpanVal Span
	Name    string
	Params  []string
	Body    *BlockStmt
}

func (s *FunctionDecl) Span() Span { return s.SpanVal }
func (s *FunctionDecl) node()      {}
func (s *FunctionDecl) stmt()      {}

// IfStmt is if (Cond) Then [else Else].
type IfStmt struct {
	SpanVal Span
	Cond    Expr
	Then    *BlockStmt
	Else    *BlockStmt // nil when absent
}

func (s *IfStmt) Span() Span { return s.SpanVal }
func (s *IfStmt) node()      {}
func (s *IfStmt) stmt()      {}

// ForStmt is for (Init; Cond; Update) Body.
type ForStmt struct {
	SpanVal Span
	Init    Stmt
	Cond    Expr
	Update  Expr
	Body    *BlockStmt
}

func (s *ForStmt) Span() Span { return s.SpanVal }
func (s *ForStmt) node()      {}
func (s *ForStmt) stmt()      {}

// ReturnStmt is return Value.
type ReturnStmt struct {
	SpanVal Span
	Value   Expr
}

func (s *ReturnStmt) Span() Span { return s.SpanVal }
func (s *ReturnStmt) node()      {}
func (s *ReturnStmt) stmt()      {}

// BlockStmt is { Statements }.
type BlockStmt struct {
	SpanVal    Span
	Statements []Stmt
}

func (s *BlockStmt) Span() Span { return s.SpanVal }
func (s *BlockStmt) node()      {}
func (s *BlockStmt) stmt()      {}

// Program is the root of a parsed source file.
type Program struct {
	SpanVal    Span
	Statements []Stmt
}

func (p *Program) Span() Span { return p.SpanVal }
func (p *Program) node()      {}
