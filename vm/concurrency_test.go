package vm

import (
	"testing"
)

// parallelizableList builds (list (+ 1 2) (* 3 4) (- 10 4)) with the
// concurrency flag set.
func parallelizableList(m *NodeManager) *EvaluableNode {
	n := op(m, OpList,
		op(m, OpAdd, num(m, 1), num(m, 2)),
		op(m, OpMultiply, num(m, 3), num(m, 4)),
		op(m, OpSubtract, num(m, 10), num(m, 4)))
	n.SetConcurrency(true)
	return n
}

func TestConcurrentListMatchesSequential(t *testing.T) {
	// sequential: no worker pool wired
	seq := newTestInterpreter()
	seqResult := execute(t, seq, parallelizableList(seq.Manager()))

	// parallel: pool with workers available
	par := newTestInterpreter()
	par.SetWorkerPool(NewWorkerPool(4))
	parResult := execute(t, par, parallelizableList(par.Manager()))

	seqChildren := seqResult.Node.OrderedChildNodes()
	parChildren := parResult.Node.OrderedChildNodes()
	if len(seqChildren) != len(parChildren) {
		t.Fatalf("length mismatch: %d vs %d", len(seqChildren), len(parChildren))
	}
	for idx := range seqChildren {
		if seqChildren[idx].NumberValue() != parChildren[idx].NumberValue() {
			t.Errorf("element %d: sequential %v, parallel %v", idx,
				seqChildren[idx].NumberValue(), parChildren[idx].NumberValue())
		}
	}
}

func TestParallelOpcodeRunsAllChildren(t *testing.T) {
	i := newTestInterpreter()
	i.SetWorkerPool(NewWorkerPool(4))
	m := i.Manager()

	// (seq (parallel (assign "a" 1) (assign "b" 2)) (+ a b))
	// both children write to the shared call stack under the lock
	par := op(m, OpParallel,
		op(m, OpAssign, str(m, "a"), num(m, 1)),
		op(m, OpAssign, str(m, "b"), num(m, 2)))
	par.SetConcurrency(true)
	root := op(m, OpSequence, par, op(m, OpAdd, sym(m, "a"), sym(m, "b")))
	result := execute(t, i, root)
	if got := numberOf(t, i, result); got != 3 {
		t.Errorf("a+b = %v, want 3", got)
	}
}

func TestFanOutDeclinesWithoutWorkers(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	n := parallelizableList(m)
	if _, ok := i.InterpretEvaluableNodesConcurrently(n, n.OrderedChildNodes(), false); ok {
		t.Error("fan-out must decline with no worker pool")
	}

	// a pool too narrow for the batch also declines
	i.SetWorkerPool(NewWorkerPool(1))
	if _, ok := i.InterpretEvaluableNodesConcurrently(n, n.OrderedChildNodes(), false); ok {
		t.Error("fan-out must decline when the batch cannot be admitted")
	}
}

func TestFanOutRequiresConcurrencyFlag(t *testing.T) {
	i := newTestInterpreter()
	i.SetWorkerPool(NewWorkerPool(4))
	m := i.Manager()

	n := op(m, OpList, num(m, 1), num(m, 2))
	if _, ok := i.InterpretEvaluableNodesConcurrently(n, n.OrderedChildNodes(), false); ok {
		t.Error("fan-out must decline without the node's concurrency flag")
	}
}

func TestSharedBudgetAcrossFanOut(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)
	pc := &PerformanceConstraints{MaxNumExecutionSteps: 40}
	i := NewInterpreter(m, NewRandomStream("test"), nil, nil, pc, nil, nil)
	i.SetWorkerPool(NewWorkerPool(4))

	// two infinite loops race to spend the shared budget; sharing one
	// step counter is what makes the whole evaluation terminate
	par := m.AllocNode(OpList)
	par.AppendOrderedChildNode(infiniteLoop(m))
	par.AppendOrderedChildNode(infiniteLoop(m))
	par.SetConcurrency(true)

	result := i.ExecuteNode(par, nil, nil, nil, nil, nil, false)
	if result.Node == nil {
		t.Fatal("list evaluation should produce a list")
	}
	if got := len(result.Node.OrderedChildNodes()); got != 2 {
		t.Errorf("list has %d elements, want 2", got)
	}
	if !i.AreExecutionResourcesExhausted(false) {
		t.Error("shared budget should be exhausted")
	}
}
