package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// IR: SSA-style value graph
// ---------------------------------------------------------------------------

// NodeID is the stable handle of an IR node. Ids are allocated in
// increasing order and never reused within one IR, even when a node's
// payload is replaced.
type NodeID uint32

// BinaryOp is an IR arithmetic operator.
type BinaryOp uint8

const (
	IRAdd BinaryOp = iota
	IRSub
	IRMul
	IRDiv
)

func (op BinaryOp) String() string {
	switch op {
	case IRAdd:
		return "add"
	case IRSub:
		return "sub"
	case IRMul:
		return "mul"
	case IRDiv:
		return "div"
	}
	return fmt.Sprintf("BinaryOp(%d)", op)
}

// Apply evaluates the operator. Division by zero follows IEEE-754 here;
// callers that must reject it check the divisor first.
func (op BinaryOp) Apply(l, r float64) float64 {
	switch op {
	case IRAdd:
		return l + r
	case IRSub:
		return l - r
	case IRMul:
		return l * r
	default:
		return l / r
	}
}

var binaryOpFor = map[bytecode.Opcode]BinaryOp{
	bytecode.OpAdd: IRAdd,
	bytecode.OpSub: IRSub,
	bytecode.OpMul: IRMul,
	bytecode.OpDiv: IRDiv,
}

// GuardType is the type a TypeGuard asserts.
type GuardType uint8

const (
	GuardUnknown GuardType = 0x00
	GuardNumber  GuardType = 0x01
)

func (g GuardType) String() string {
	if g == GuardNumber {
		return "number"
	}
	return "unknown"
}

// Node is an IR value node. The set of node kinds is closed.
type Node interface {
	// Operands returns the ids this node reads, in evaluation order.
	Operands() []NodeID
	irNode()
}

// ConstantNode is a numeric literal.
type ConstantNode struct {
	Value float64
}

// FuncRefNode is a function-reference literal.
type FuncRefNode struct {
	Function bytecode.FunctionID
}

// BinaryNode is Left Op Right.
type BinaryNode struct {
	Op          BinaryOp
	Left, Right NodeID
}

// LoadLocalNode reads a local slot.
type LoadLocalNode struct {
	Index int
}

// StoreLocalNode writes Value to a local slot.
type StoreLocalNode struct {
	Index int
	Value NodeID
}

// CallNode invokes Callee with Args.
type CallNode struct {
	Callee NodeID
	Args   []NodeID
}

// PrintNode prints Value; its own value is undefined.
type PrintNode struct {
	Value NodeID
}

// ReturnNode ends the function with Value.
type ReturnNode struct {
	Value NodeID
}

// TypeGuardNode asserts that Value has type Expected. A failed guard is
// what triggers deoptimization.
type TypeGuardNode struct {
	Value    NodeID
	Expected GuardType
}

func (*ConstantNode) Operands() []NodeID     { return nil }
func (*FuncRefNode) Operands() []NodeID      { return nil }
func (n *BinaryNode) Operands() []NodeID     { return []NodeID{n.Left, n.Right} }
func (*LoadLocalNode) Operands() []NodeID    { return nil }
func (n *StoreLocalNode) Operands() []NodeID { return []NodeID{n.Value} }
func (n *CallNode) Operands() []NodeID {
	return append([]NodeID{n.Callee}, n.Args...)
}
func (n *PrintNode) Operands() []NodeID     { return []NodeID{n.Value} }
func (n *ReturnNode) Operands() []NodeID    { return []NodeID{n.Value} }
func (n *TypeGuardNode) Operands() []NodeID { return []NodeID{n.Value} }

func (*ConstantNode) irNode()   {}
func (*FuncRefNode) irNode()    {}
func (*BinaryNode) irNode()     {}
func (*LoadLocalNode) irNode()  {}
func (*StoreLocalNode) irNode() {}
func (*CallNode) irNode()       {}
func (*PrintNode) irNode()      {}
func (*ReturnNode) irNode()     {}
func (*TypeGuardNode) irNode()  {}

// hasSideEffects reports whether n must be kept even when unused.
func hasSideEffects(n Node) bool {
	switch n.(type) {
	case *StoreLocalNode, *CallNode, *PrintNode, *ReturnNode, *TypeGuardNode:
		return true
	}
	return false
}

// FormatNode renders a node for IR dumps.
func FormatNode(n Node) string {
	switch n := n.(type) {
	case *ConstantNode:
		return "const " + bytecode.FormatNumber(n.Value)
	case *FuncRefNode:
		return fmt.Sprintf("funcref %d", n.Function)
	case *BinaryNode:
		return fmt.Sprintf("%s v%d, v%d", n.Op, n.Left, n.Right)
	case *LoadLocalNode:
		return fmt.Sprintf("load_local %d", n.Index)
	case *StoreLocalNode:
		return fmt.Sprintf("store_local %d, v%d", n.Index, n.Value)
	case *CallNode:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = fmt.Sprintf("v%d", a)
		}
		return fmt.Sprintf("call v%d(%s)", n.Callee, strings.Join(args, ", "))
	case *PrintNode:
		return fmt.Sprintf("print v%d", n.Value)
	case *ReturnNode:
		return fmt.Sprintf("return v%d", n.Value)
	case *TypeGuardNode:
		return fmt.Sprintf("guard v%d is %s", n.Value, n.Expected)
	}
	return fmt.Sprintf("%T", n)
}

type irEntry struct {
	id   NodeID
	node Node
}

// IR is an append-only arena of nodes addressed by NodeID. Lookup and
// in-place replacement are O(1) through the id index.
type IR struct {
	Function bytecode.FunctionID

	nodes  []irEntry
	index  map[NodeID]int
	nextID NodeID

	result    NodeID
	hasResult bool
}

// NewIR creates an empty IR for a function.
func NewIR(fn bytecode.FunctionID) *IR {
	return &IR{Function: fn, index: make(map[NodeID]int)}
}

// Add appends a node and returns its freshly allocated id.
func (ir *IR) Add(n Node) NodeID {
	id := ir.nextID
	ir.nextID++
	ir.index[id] = len(ir.nodes)
	ir.nodes = append(ir.nodes, irEntry{id: id, node: n})
	return id
}

// Node returns the node with the given id.
func (ir *IR) Node(id NodeID) (Node, bool) {
	pos, ok := ir.index[id]
	if !ok {
		return nil, false
	}
	return ir.nodes[pos].node, true
}

// Replace swaps the payload of an existing node, keeping its id. The new
// payload must only reference earlier ids.
func (ir *IR) Replace(id NodeID, n Node) error {
	pos, ok := ir.index[id]
	if !ok {
		return fmt.Errorf("ir: replace unknown node v%d", id)
	}
	for _, op := range n.Operands() {
		if op >= id {
			return fmt.Errorf("ir: replacement for v%d references later node v%d", id, op)
		}
	}
	ir.nodes[pos].node = n
	return nil
}

// Len returns the number of nodes.
func (ir *IR) Len() int {
	return len(ir.nodes)
}

// IDs returns node ids in allocation order.
func (ir *IR) IDs() []NodeID {
	ids := make([]NodeID, len(ir.nodes))
	for i, e := range ir.nodes {
		ids[i] = e.id
	}
	return ids
}

// Each calls fn for every node in allocation order.
func (ir *IR) Each(fn func(id NodeID, n Node)) {
	for _, e := range ir.nodes {
		fn(e.id, e.node)
	}
}

// SetResult records the node whose value the function produces.
func (ir *IR) SetResult(id NodeID) {
	ir.result = id
	ir.hasResult = true
}

// Result returns the result node, if any.
func (ir *IR) Result() (NodeID, bool) {
	return ir.result, ir.hasResult
}

// Validate checks the arena invariants: ids are unique and strictly
// increasing, and every operand references an existing earlier node.
func (ir *IR) Validate() error {
	var prev NodeID
	for i, e := range ir.nodes {
		if i > 0 && e.id <= prev {
			return fmt.Errorf("ir: node v%d allocated after v%d", e.id, prev)
		}
		prev = e.id
		for _, op := range e.node.Operands() {
			if op >= e.id {
				return fmt.Errorf("ir: v%d references v%d which is not earlier", e.id, op)
			}
			if _, ok := ir.index[op]; !ok {
				return fmt.Errorf("ir: v%d references missing node v%d", e.id, op)
			}
		}
	}
	if ir.hasResult {
		if _, ok := ir.index[ir.result]; !ok {
			return fmt.Errorf("ir: result v%d does not exist", ir.result)
		}
	}
	return nil
}

// String dumps the IR one node per line.
func (ir *IR) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; IR function %d (%d nodes)\n", ir.Function, len(ir.nodes)))
	for _, e := range ir.nodes {
		sb.WriteString(fmt.Sprintf("v%-4d = %s\n", e.id, FormatNode(e.node)))
	}
	if ir.hasResult {
		sb.WriteString(fmt.Sprintf("; result v%d\n", ir.result))
	}
	return sb.String()
}
