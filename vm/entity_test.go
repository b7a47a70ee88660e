package vm

import (
	"testing"
)

func TestEntityContainment(t *testing.T) {
	pool := NewStringInternPool()
	parent := NewEntity(pool)
	childA := NewEntity(pool)
	childB := NewEntity(pool)

	parent.AddContainedEntity(childA, "alpha")
	parent.AddContainedEntity(childB, "beta")

	if got := len(parent.GetContainedEntities()); got != 2 {
		t.Fatalf("contained = %d, want 2", got)
	}
	if parent.GetContainedEntity("alpha") != childA {
		t.Error("lookup by id failed")
	}
	if childA.GetContainer() != parent {
		t.Error("container backlink missing")
	}
	if parent.GetNumContainedEntitiesDeep() != 2 {
		t.Errorf("deep count = %d, want 2", parent.GetNumContainedEntitiesDeep())
	}

	grandchild := NewEntity(pool)
	childA.AddContainedEntity(grandchild, "gamma")
	if parent.GetNumContainedEntitiesDeep() != 3 {
		t.Errorf("deep count = %d, want 3", parent.GetNumContainedEntitiesDeep())
	}
	if !parent.DoesDeepContainEntity(grandchild) {
		t.Error("deep containment not detected")
	}

	parent.RemoveContainedEntity(childA)
	if childA.GetContainer() != nil {
		t.Error("removed child still has a container")
	}
	if parent.GetContainedEntity("alpha") != nil {
		t.Error("removed child still resolvable")
	}
}

func TestEntityUnnamedChildGetsID(t *testing.T) {
	pool := NewStringInternPool()
	parent := NewEntity(pool)
	child := NewEntity(pool)
	parent.AddContainedEntity(child, "")
	if child.IDString() == "" {
		t.Error("unnamed contained entity should receive a generated id")
	}
}

func TestEntityPathTraversal(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)
	parent := NewEntity(pool)
	child := NewEntity(pool)
	grandchild := NewEntity(pool)
	parent.AddContainedEntity(child, "a")
	child.AddContainedEntity(grandchild, "b")

	// single id
	if got := parent.TraverseToContainedEntityViaPath(pool, str(m, "a")); got != child {
		t.Error("single-segment traversal failed")
	}
	// id list
	path := op(m, OpList, str(m, "a"), str(m, "b"))
	if got := parent.TraverseToContainedEntityViaPath(pool, path); got != grandchild {
		t.Error("two-segment traversal failed")
	}
	// null resolves to self
	if got := parent.TraverseToContainedEntityViaPath(pool, nil); got != parent {
		t.Error("null path should resolve to the entity itself")
	}
	// missing id resolves to nil
	if got := parent.TraverseToContainedEntityViaPath(pool, str(m, "zzz")); got != nil {
		t.Error("missing id should resolve to nil")
	}
}

func TestEntityRootOwnership(t *testing.T) {
	pool := NewStringInternPool()
	e := NewEntity(pool)
	m := e.Manager()

	root := op(m, OpList, num(m, 1), num(m, 2))
	e.SetRoot(NewNodeReference(root, true))
	if e.GetRoot() != root {
		t.Fatal("unique root should attach directly")
	}

	// a shared reference is copied on attach
	other := op(m, OpList, num(m, 3))
	e.SetRoot(NewNodeReference(other, false))
	if e.GetRoot() == other {
		t.Error("shared root should be copied, not aliased")
	}
	if !DeepEqual(e.GetRoot(), other) {
		t.Error("copied root should be structurally equal")
	}
}

func TestEntitySeedDerivationIsDeterministic(t *testing.T) {
	pool := NewStringInternPool()
	a := NewEntity(pool)
	b := NewEntity(pool)
	a.SetRandomState("seed", false)
	b.SetRandomState("seed", false)

	if a.CreateRandomStreamFromStringAndRand("x") != b.CreateRandomStreamFromStringAndRand("x") {
		t.Error("equal states and ids must derive equal child seeds")
	}
	// a derived seed is never the entity's raw seed
	if a.CreateRandomStreamFromStringAndRand("x") == b.GetRandomSeed() {
		t.Error("derived seed should not equal the raw entity seed")
	}
}

func TestFindLabeledNode(t *testing.T) {
	pool := NewStringInternPool()
	e := NewEntity(pool)
	m := e.Manager()

	labeled := num(m, 42)
	labeled.AppendLabelWithHandoff(pool.CreateStringReference("answer"))
	root := op(m, OpList, num(m, 1), op(m, OpList, labeled))
	e.SetRoot(NewNodeReference(root, true))

	sid := pool.GetStringID("answer")
	if got := e.FindLabeledNode(sid); got != labeled {
		t.Error("labeled node not found in nested structure")
	}
	if e.FindLabeledNode(pool.CreateStringReference("missing")) != nil {
		t.Error("missing label should resolve to nil")
	}
}
