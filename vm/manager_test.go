package vm

import (
	"testing"
)

func TestPinSafety(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	pinned := op(m, OpList, num(m, 1), op(m, OpList, num(m, 2)))
	m.KeepNodeReferences(pinned)

	stray := op(m, OpList, num(m, 3))
	_ = stray

	collected := m.CollectGarbage()
	if collected != 2 {
		t.Errorf("collected %d nodes, want the 2 unpinned ones", collected)
	}

	// every node reachable from the pin survives
	if pinned.Type() == OpDeallocated {
		t.Fatal("pinned root was collected")
	}
	for _, c := range pinned.OrderedChildNodes() {
		if c.Type() == OpDeallocated {
			t.Error("node reachable from pin was collected")
		}
	}

	m.FreeNodeReferences(pinned)
	if got := m.CollectGarbage(); got != 4 {
		t.Errorf("collected %d nodes after unpin, want all 4", got)
	}
}

func TestPinSurvivesEvaluationGC(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)
	// force a collection attempt on every step
	m.gcInterval = 1
	i := NewInterpreter(m, NewRandomStream("test"), nil, nil, nil, nil, nil)

	// deep arithmetic: every intermediate must survive the ticks
	root := op(m, OpAdd,
		op(m, OpMultiply, num(m, 2), num(m, 3)),
		op(m, OpAdd, num(m, 1), op(m, OpMultiply, num(m, 2), num(m, 2))))
	result := i.ExecuteNode(root, nil, nil, nil, nil, nil, false)
	if got := result.NumberValue(pool); got != 11 {
		t.Errorf("result = %v, want 11", got)
	}
}

func TestFreeNodeTreeIfPossible(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	// a shared reference is never freed
	n := op(m, OpList, num(m, 1))
	m.FreeNodeTreeIfPossible(NewNodeReference(n, false))
	if n.Type() == OpDeallocated {
		t.Error("shared reference was freed")
	}

	// a pinned unique reference is never freed
	m.KeepNodeReferences(n)
	m.FreeNodeTreeIfPossible(NewNodeReference(n, true))
	if n.Type() == OpDeallocated {
		t.Error("pinned reference was freed")
	}
	m.FreeNodeReferences(n)

	// a unique unpinned reference is freed along with its subtree
	child := n.OrderedChildNodes()[0]
	m.FreeNodeTreeIfPossible(NewNodeReference(n, true))
	if n.Type() != OpDeallocated || child.Type() != OpDeallocated {
		t.Error("unique unpinned tree should be freed")
	}
}

func TestFreeCyclicTree(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	a := m.AllocNode(OpList)
	b := m.AllocNode(OpList)
	a.AppendOrderedChildNode(b)
	b.AppendOrderedChildNode(a)
	a.SetNeedCycleCheck(true)
	b.SetNeedCycleCheck(true)

	// must terminate and free both
	m.FreeNodeTree(a)
	if m.GetNumberOfUsedNodes() != 0 {
		t.Errorf("used nodes = %d after freeing cycle, want 0", m.GetNumberOfUsedNodes())
	}
}

func TestDeepCopyPreservesSharingAndCycles(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	shared := num(m, 7)
	tree := m.AllocNode(OpList)
	tree.AppendOrderedChildNode(shared)
	tree.AppendOrderedChildNode(shared)

	copied := m.DeepAllocCopy(tree, KeepMetadata)
	cc := copied.Node.OrderedChildNodes()
	if cc[0] != cc[1] {
		t.Error("copy lost subtree sharing")
	}
	if cc[0] == shared {
		t.Error("copy aliases the original")
	}

	// self-referential tree copies without diverging
	cyc := m.AllocNode(OpList)
	cyc.AppendOrderedChildNode(cyc)
	cyc.SetNeedCycleCheck(true)
	cycCopy := m.DeepAllocCopy(cyc, KeepMetadata)
	if cycCopy.Node.OrderedChildNodes()[0] != cycCopy.Node {
		t.Error("cyclic copy does not point back at itself")
	}
}

func TestUsedNodeAccounting(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	if m.GetNumberOfUsedNodes() != 0 {
		t.Fatal("fresh manager should have no used nodes")
	}
	n := op(m, OpList, num(m, 1), num(m, 2))
	if got := m.GetNumberOfUsedNodes(); got != 3 {
		t.Errorf("used nodes = %d, want 3", got)
	}
	m.FreeNodeTree(n)
	if got := m.GetNumberOfUsedNodes(); got != 0 {
		t.Errorf("used nodes = %d after free, want 0", got)
	}
}

func TestStringReferencesReleasedOnFree(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	n := str(m, "transient")
	sid := n.StringIDValue()
	if pool.GetRefCount(sid) != 1 {
		t.Fatalf("refcount = %d, want 1", pool.GetRefCount(sid))
	}
	m.FreeNode(n)
	if pool.GetStringID("transient") != NotAStringID {
		t.Error("string should be released when its only holder is freed")
	}
}
