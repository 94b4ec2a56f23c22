package vm

import (
	"sort"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Optimizer: fixed pass pipeline over IR
// ---------------------------------------------------------------------------

// RedundantLoad records a LoadLocal whose slot already has a known
// producer earlier in the function.
type RedundantLoad struct {
	Load        NodeID `json:"load"`
	Replacement NodeID `json:"replacement"`
}

// OptimizationReport describes what each pass found or changed.
type OptimizationReport struct {
	FoldIterations   int             `json:"foldIterations"`
	Folded           []NodeID        `json:"folded"`
	RedundantLoads   []RedundantLoad `json:"redundantLoads"`
	InlineCandidates []NodeID        `json:"inlineCandidates"`
	Specialized      []NodeID        `json:"specialized"`
	Live             []NodeID        `json:"live"`
}

// IsSpecialized reports whether id was proven to operate on numbers only.
func (r *OptimizationReport) IsSpecialized(id NodeID) bool {
	for _, s := range r.Specialized {
		if s == id {
			return true
		}
	}
	return false
}

// MaxInlineArgs is the largest argument count tagged as an inline candidate.
const MaxInlineArgs = 2

// Pass is one optimizer stage.
type Pass struct {
	Name string
	Run  func(ir *IR, r *OptimizationReport)
}

// Optimizer runs its passes in a fixed order.
type Optimizer struct {
	passes []Pass
}

// NewOptimizer returns the standard pipeline: constant folding,
// redundant-load detection, inline-candidate tagging, type
// specialization, then liveness.
func NewOptimizer() *Optimizer {
	return &Optimizer{passes: []Pass{
		{Name: "constant-folding", Run: foldConstants},
		{Name: "redundant-loads", Run: findRedundantLoads},
		{Name: "inline-candidates", Run: tagInlineCandidates},
		{Name: "type-specialization", Run: specializeTypes},
		{Name: "liveness", Run: markLive},
	}}
}

// Passes returns the pass names in run order.
func (o *Optimizer) Passes() []string {
	names := make([]string, len(o.passes))
	for i, p := range o.passes {
		names[i] = p.Name
	}
	return names
}

// Run optimizes ir in place and reports what happened.
func (o *Optimizer) Run(ir *IR) *OptimizationReport {
	r := &OptimizationReport{}
	for _, p := range o.passes {
		p.Run(ir, r)
		jitLog.Debug("optimizer pass", "function", ir.Function, "pass", p.Name)
	}
	return r
}

// constantValue returns the literal behind id, if it is a ConstantNode.
func constantValue(ir *IR, id NodeID) (float64, bool) {
	n, ok := ir.Node(id)
	if !ok {
		return 0, false
	}
	c, ok := n.(*ConstantNode)
	if !ok {
		return 0, false
	}
	return c.Value, true
}

// foldConstants rewrites arithmetic over two constants into a constant,
// sweeping until nothing changes. A zero divisor is never folded; the
// runtime check reports it.
func foldConstants(ir *IR, r *OptimizationReport) {
	for {
		r.FoldIterations++
		changed := false
		for _, id := range ir.IDs() {
			n, _ := ir.Node(id)
			bin, ok := n.(*BinaryNode)
			if !ok {
				continue
			}
			l, lok := constantValue(ir, bin.Left)
			rv, rok := constantValue(ir, bin.Right)
			if !lok || !rok {
				continue
			}
			if bin.Op == IRDiv && rv == 0 {
				continue
			}
			if err := ir.Replace(id, &ConstantNode{Value: bin.Op.Apply(l, rv)}); err == nil {
				r.Folded = append(r.Folded, id)
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// findRedundantLoads tracks the latest producer of each local slot. A
// LoadLocal of a slot that already has one is recorded as redundant with
// that producer as its replacement; a StoreLocal makes the stored value
// the new producer. Consumers are not rewritten: the pass only reports.
func findRedundantLoads(ir *IR, r *OptimizationReport) {
	producer := make(map[int]NodeID)
	ir.Each(func(id NodeID, n Node) {
		switch n := n.(type) {
		case *LoadLocalNode:
			if prev, ok := producer[n.Index]; ok {
				r.RedundantLoads = append(r.RedundantLoads, RedundantLoad{Load: id, Replacement: prev})
				return
			}
			producer[n.Index] = id
		case *StoreLocalNode:
			producer[n.Index] = n.Value
		}
	})
}

// tagInlineCandidates flags calls with at most MaxInlineArgs arguments.
// Nothing is spliced in; there is no callee IR registry.
func tagInlineCandidates(ir *IR, r *OptimizationReport) {
	ir.Each(func(id NodeID, n Node) {
		if call, ok := n.(*CallNode); ok && len(call.Args) <= MaxInlineArgs {
			r.InlineCandidates = append(r.InlineCandidates, id)
		}
	})
}

// specializeTypes marks arithmetic nodes whose operands are both proven
// numbers, which lets code generation drop the runtime type check.
func specializeTypes(ir *IR, r *OptimizationReport) {
	guarded := make(map[NodeID]bool)
	ir.Each(func(_ NodeID, n Node) {
		if g, ok := n.(*TypeGuardNode); ok && g.Expected == GuardNumber {
			guarded[g.Value] = true
		}
	})

	proven := make(map[NodeID]bool)
	// Operands precede their users, so one forward sweep sees every
	// operand's answer before it is needed.
	ir.Each(func(id NodeID, n Node) {
		switch n := n.(type) {
		case *ConstantNode:
			proven[id] = true
		case *TypeGuardNode:
			proven[id] = n.Expected == GuardNumber || proven[n.Value]
		case *BinaryNode:
			proven[id] = proven[n.Left] && proven[n.Right]
			if proven[id] {
				r.Specialized = append(r.Specialized, id)
			}
		default:
			proven[id] = false
		}
		if guarded[id] {
			proven[id] = true
		}
	})
}

// markLive records nodes reachable from the result and from nodes with
// side effects. Nothing is removed; the arena is append-only.
func markLive(ir *IR, r *OptimizationReport) {
	live := make(map[NodeID]bool)
	var visit func(id NodeID)
	visit = func(id NodeID) {
		if live[id] {
			return
		}
		live[id] = true
		if n, ok := ir.Node(id); ok {
			for _, op := range n.Operands() {
				visit(op)
			}
		}
	}
	if res, ok := ir.Result(); ok {
		visit(res)
	}
	ir.Each(func(id NodeID, n Node) {
		if hasSideEffects(n) {
			visit(id)
		}
	})
	r.Live = make([]NodeID, 0, len(live))
	for id := range live {
		r.Live = append(r.Live, id)
	}
	sort.Slice(r.Live, func(i, j int) bool { return r.Live[i] < r.Live[j] })
}

// EvaluateConstant returns the value of a pure constant IR, for
// callers that want to check folding against direct evaluation.
func EvaluateConstant(ir *IR) (bytecode.Value, bool) {
	res, ok := ir.Result()
	if !ok {
		return bytecode.Undefined, false
	}
	if n, ok := ir.Node(res); ok {
		if ret, isRet := n.(*ReturnNode); isRet {
			res = ret.Value
		}
	}
	v, ok := constantValue(ir, res)
	if !ok {
		return bytecode.Undefined, false
	}
	return bytecode.Number(v), true
}
