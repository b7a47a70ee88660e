package vm

import (
	"math"
	"testing"
)

func TestPayloadShapeInvariants(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	list := m.AllocNode(OpList)
	list.AppendOrderedChildNode(num(m, 1))
	if list.MappedChildNodes() != nil {
		t.Error("ordered-kind node must not carry a map")
	}

	assoc := m.AllocNode(OpAssoc)
	assoc.SetMappedChildNode(pool, pool.CreateStringReference("k"), num(m, 1))
	if assoc.OrderedChildNodes() != nil {
		t.Error("mapped-kind node must not carry a list")
	}

	for _, immediate := range []OpcodeType{OpNull, OpNumber, OpString, OpSymbol, OpTrue, OpFalse} {
		n := m.AllocNode(immediate)
		if n.NumChildNodes() != 0 {
			t.Errorf("immediate kind %v has children", immediate)
		}
		if !immediate.IsImmediate() {
			t.Errorf("%v should report immediate", immediate)
		}
	}
}

func TestToNumberConversions(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	tests := []struct {
		name string
		node *EvaluableNode
		want float64
	}{
		{"number", num(m, 2.5), 2.5},
		{"numeric string", str(m, "17"), 17},
		{"true", m.AllocNode(OpTrue), 1},
		{"false", m.AllocNode(OpFalse), 0},
	}
	for _, tt := range tests {
		if got := ToNumber(pool, tt.node); got != tt.want {
			t.Errorf("%s: ToNumber = %v, want %v", tt.name, got, tt.want)
		}
	}

	if !math.IsNaN(ToNumber(pool, nil)) {
		t.Error("nil should convert to NaN")
	}
	if !math.IsNaN(ToNumber(pool, str(m, "words"))) {
		t.Error("non-numeric string should convert to NaN")
	}
}

func TestToBoolTruthTable(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	tests := []struct {
		name string
		node *EvaluableNode
		want bool
	}{
		{"nil", nil, false},
		{"null", m.AllocNode(OpNull), false},
		{"false", m.AllocNode(OpFalse), false},
		{"true", m.AllocNode(OpTrue), true},
		{"zero", num(m, 0), false},
		{"nan", num(m, math.NaN()), false},
		{"nonzero", num(m, 5), true},
		{"empty string", str(m, ""), false},
		{"string", str(m, "x"), true},
		{"list", m.AllocNode(OpList), true},
	}
	for _, tt := range tests {
		if got := ToBool(pool, tt.node); got != tt.want {
			t.Errorf("%s: ToBool = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{6, "6"},
		{-3, "-3"},
		{2.5, "2.5"},
		{math.Inf(1), ".infinity"},
		{math.Inf(-1), "-.infinity"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.in); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeepEqual(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	a := op(m, OpList, num(m, 1), str(m, "x"))
	b := op(m, OpList, num(m, 1), str(m, "x"))
	if !DeepEqual(a, b) {
		t.Error("structurally equal trees compared unequal")
	}

	c := op(m, OpList, num(m, 1), str(m, "y"))
	if DeepEqual(a, c) {
		t.Error("different trees compared equal")
	}

	// labels are ignored for equality
	labeled := op(m, OpList, num(m, 1), str(m, "x"))
	labeled.AppendLabelWithHandoff(pool.CreateStringReference("tag"))
	if !DeepEqual(a, labeled) {
		t.Error("labels should not affect structural equality")
	}

	// NaN payloads compare equal to each other
	if !DeepEqual(num(m, math.NaN()), num(m, math.NaN())) {
		t.Error("NaN number nodes should compare equal")
	}

	// cyclic comparison terminates
	cycA := m.AllocNode(OpList)
	cycA.AppendOrderedChildNode(cycA)
	cycA.SetNeedCycleCheck(true)
	cycB := m.AllocNode(OpList)
	cycB.AppendOrderedChildNode(cycB)
	cycB.SetNeedCycleCheck(true)
	if !DeepEqual(cycA, cycB) {
		t.Error("isomorphic cycles should compare equal")
	}
}

func TestNeedCycleCheckPropagation(t *testing.T) {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)

	parent := m.AllocNode(OpList)
	ref := NewNodeReference(parent, true)
	shared := num(m, 1)
	parent.AppendOrderedChildNode(shared)
	ref.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(shared, false))

	if ref.Unique {
		t.Error("attaching a shared child must clear uniqueness")
	}
	if !parent.GetNeedCycleCheck() {
		t.Error("attaching a shared child must flag the parent for cycle checks")
	}
}
