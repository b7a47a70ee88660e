package vm

import (
	"testing"
)

func TestRewritePreservesSharing(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// a list containing the same subtree twice
	shared := op(m, OpList, num(m, 1), num(m, 2))
	tree := m.AllocNode(OpList)
	tree.AppendOrderedChildNode(shared)
	tree.AppendOrderedChildNode(shared)

	// identity rewrite: (rewrite (lambda (current_value)) tree)
	root := op(m, OpRewrite,
		op(m, OpLambda, op(m, OpCurrentValue)),
		op(m, OpLambda, tree))
	// the tree operand is wrapped in a lambda so evaluation hands the
	// original structure through unevaluated
	result := execute(t, i, root)
	if result.Node == nil {
		t.Fatal("rewrite returned null")
	}

	children := result.Node.OrderedChildNodes()
	if len(children) != 2 {
		t.Fatalf("rewrite output has %d children, want 2", len(children))
	}
	if children[0] != children[1] {
		t.Error("shared subtree lost its identity through rewrite")
	}
	if children[0] == shared {
		t.Error("rewrite returned the original subtree instead of a clone")
	}
}

func TestRewriteFlagsSharedAncestorsForCycleCheck(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	shared := num(m, 5)
	inner := op(m, OpList, shared)
	tree := m.AllocNode(OpList)
	tree.AppendOrderedChildNode(inner)
	tree.AppendOrderedChildNode(shared)

	root := op(m, OpRewrite,
		op(m, OpLambda, op(m, OpCurrentValue)),
		op(m, OpLambda, tree))
	result := execute(t, i, root)
	if result.Node == nil {
		t.Fatal("rewrite returned null")
	}

	// the second encounter of the shared node must have flagged the new
	// ancestors as needing cycle checks
	if !result.Node.GetNeedCycleCheck() {
		t.Error("root of rewrite output should be flagged for cycle checking")
	}
}

func TestRewriteVisitsBottomUp(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// double every number: (rewrite (lambda (if (~ (current_value) 0)
	//   (* (current_value) 2) (current_value))) (list 1 (list 2)))
	cv := func() *EvaluableNode { return op(m, OpCurrentValue) }
	function := op(m, OpLambda,
		op(m, OpIf,
			op(m, OpTypeEquals, cv(), num(m, 0)),
			op(m, OpMultiply, cv(), num(m, 2)),
			cv()))
	tree := op(m, OpList, num(m, 1), op(m, OpList, num(m, 2)))
	root := op(m, OpRewrite, function, op(m, OpLambda, tree))
	result := execute(t, i, root)
	if result.Node == nil {
		t.Fatal("rewrite returned null")
	}

	children := result.Node.OrderedChildNodes()
	if len(children) != 2 {
		t.Fatalf("output has %d children, want 2", len(children))
	}
	if got := children[0].NumberValue(); got != 2 {
		t.Errorf("first number = %v, want 2", got)
	}
	nested := children[1].OrderedChildNodes()
	if len(nested) != 1 || nested[0].NumberValue() != 4 {
		t.Errorf("nested number not doubled: %+v", nested)
	}
}
