package vm

import (
	"testing"
)

func constrainedInterpreter(maxSteps int64) *Interpreter {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)
	pc := &PerformanceConstraints{MaxNumExecutionSteps: maxSteps}
	return NewInterpreter(m, NewRandomStream("test"), nil, nil, pc, nil, nil)
}

// infiniteLoop builds (while (true) 1).
func infiniteLoop(m *NodeManager) *EvaluableNode {
	return op(m, OpWhile, m.AllocNode(OpTrue), num(m, 1))
}

func TestBudgetExhaustionReturnsNull(t *testing.T) {
	i := constrainedInterpreter(50)
	m := i.Manager()

	result := execute(t, i, infiniteLoop(m))
	if !result.IsNull() {
		t.Error("exhausted evaluation should return null")
	}
	if !i.AreExecutionResourcesExhausted(false) {
		t.Error("interpreter should report exhaustion")
	}
}

func TestSandboxedBudgetIsBoundedAndCharged(t *testing.T) {
	i := constrainedInterpreter(1000)
	m := i.Manager()

	// (call_sandboxed (lambda (while (true) 1)) null 10)
	root := op(m, OpCallSandboxed,
		op(m, OpLambda, infiniteLoop(m)),
		m.AllocNode(OpNull),
		num(m, 10))
	result := execute(t, i, root)

	if !result.IsNull() {
		t.Error("sandboxed exhaustion should surface as null")
	}
	// parent keeps running: its own budget lost exactly the sandbox's
	// ten steps plus the steps of the enclosing evaluation itself
	if i.AreExecutionResourcesExhausted(false) {
		t.Fatal("parent budget should not be exhausted")
	}
	spent := i.performanceConstraints.CurExecutionStep.Load()
	// two nodes evaluated in the parent (the call itself and the
	// lambda; null args and literal budget params short-circuit) plus
	// ten charged from the sandbox
	if want := int64(2 + 10); spent != want {
		t.Errorf("parent steps spent = %d, want %d", spent, want)
	}

	// and the parent can still evaluate more code afterwards
	after := execute(t, i, op(m, OpAdd, num(m, 2), num(m, 2)))
	if got := numberOf(t, i, after); got != 4 {
		t.Errorf("parent evaluation after sandbox = %v, want 4", got)
	}
}

func TestBudgetMonotonicity(t *testing.T) {
	i := constrainedInterpreter(100)
	// burn some parent budget
	i.performanceConstraints.CurExecutionStep.Store(60)

	child := &PerformanceConstraints{MaxNumExecutionSteps: 500}
	i.PopulatePerformanceCounters(child, nil)
	if child.MaxNumExecutionSteps != 40 {
		t.Errorf("child budget = %d, want caller's remaining 40", child.MaxNumExecutionSteps)
	}

	// a child requesting less than the remaining headroom keeps its own
	child = &PerformanceConstraints{MaxNumExecutionSteps: 10}
	i.PopulatePerformanceCounters(child, nil)
	if child.MaxNumExecutionSteps != 10 {
		t.Errorf("child budget = %d, want requested 10", child.MaxNumExecutionSteps)
	}
}

func TestExhaustedParentPrimesChild(t *testing.T) {
	i := constrainedInterpreter(10)
	i.performanceConstraints.CurExecutionStep.Store(10)

	child := &PerformanceConstraints{MaxNumExecutionSteps: 100}
	i.PopulatePerformanceCounters(child, nil)
	if child.MaxNumExecutionSteps != 1 {
		t.Errorf("child limit = %d, want primed 1", child.MaxNumExecutionSteps)
	}
	if child.CurExecutionStep.Load() != 1 {
		t.Errorf("child counter = %d, want primed 1", child.CurExecutionStep.Load())
	}
}

func TestEntityIdLengthBudgetStaysSeparate(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)
	parent := &PerformanceConstraints{
		MaxEntityIdLength:    16,
		MaxNumAllocatedNodes: 0,
	}
	i := NewInterpreter(m, NewRandomStream("test"), nil, nil, parent, nil, nil)

	child := &PerformanceConstraints{}
	i.PopulatePerformanceCounters(child, nil)
	if child.MaxEntityIdLength != 16 {
		t.Errorf("child id-length budget = %d, want inherited 16", child.MaxEntityIdLength)
	}
	if child.MaxNumAllocatedNodes != 0 {
		t.Errorf("allocation budget contaminated by id-length budget: %d",
			child.MaxNumAllocatedNodes)
	}
}

func TestPopulateFromParams(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	params := []*EvaluableNode{
		num(m, 100),             // steps
		num(m, 0),               // allocs: zero means unlimited
		m.AllocNode(OpNull),     // depth: NaN means unlimited
		num(m, 0),               // contained entities: zero is a real limit
		num(m, 3),               // contained entity depth
		num(m, 8),               // id length
	}
	pc := &PerformanceConstraints{}
	if !i.PopulatePerformanceConstraintsFromParams(params, 0, pc, true) {
		t.Fatal("constraints should be active")
	}
	if pc.MaxNumExecutionSteps != 100 {
		t.Errorf("steps = %d, want 100", pc.MaxNumExecutionSteps)
	}
	if pc.ConstrainedAllocatedNodes() {
		t.Error("zero allocation param should leave the limit inactive")
	}
	if pc.ConstrainedOpcodeExecutionDepth() {
		t.Error("null depth param should leave the limit inactive")
	}
	if !pc.ConstrainMaxContainedEntities || pc.MaxContainedEntities != 0 {
		t.Error("zero contained-entity param should activate a zero limit")
	}
	if pc.MaxEntityIdLength != 8 {
		t.Errorf("id length = %d, want 8", pc.MaxEntityIdLength)
	}
}
