package vm

import (
	"math"
	"testing"
)

func TestCoercionNeutrality(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// to_number(to_number(v)) == to_number(v)
	for _, n := range []*EvaluableNode{
		num(m, 3.5), str(m, "42"), str(m, "not a number"), m.AllocNode(OpTrue),
	} {
		once := i.InterpretNodeIntoNumberValue(n)
		again := i.InterpretNodeIntoNumberValue(num(m, once))
		if once != again && !(math.IsNaN(once) && math.IsNaN(again)) {
			t.Errorf("number coercion not idempotent: %v then %v", once, again)
		}
	}

	// to_string(to_string(v)) == to_string(v)
	for _, n := range []*EvaluableNode{
		num(m, 7), str(m, "hello"), m.AllocNode(OpFalse),
	} {
		once, ok := i.InterpretNodeIntoStringValue(n)
		if !ok {
			t.Fatalf("unexpected null string coercion")
		}
		again, _ := i.InterpretNodeIntoStringValue(str(m, once))
		if once != again {
			t.Errorf("string coercion not idempotent: %q then %q", once, again)
		}
	}

	// to_bool(to_bool(v)) == to_bool(v)
	for _, n := range []*EvaluableNode{
		num(m, 0), num(m, 2), str(m, ""), str(m, "x"), m.AllocNode(OpTrue),
	} {
		once := i.InterpretNodeIntoBoolValue(n, false)
		var boolNode *EvaluableNode
		if once {
			boolNode = m.AllocNode(OpTrue)
		} else {
			boolNode = m.AllocNode(OpFalse)
		}
		if again := i.InterpretNodeIntoBoolValue(boolNode, false); once != again {
			t.Errorf("bool coercion not idempotent: %v then %v", once, again)
		}
	}
}

func TestNumberCoercionOfNullIsNaN(t *testing.T) {
	i := newTestInterpreter()
	if v := i.InterpretNodeIntoNumberValue(nil); !math.IsNaN(v) {
		t.Errorf("nil coerced to %v, want NaN", v)
	}
	if v := i.InterpretNodeIntoNumberValue(i.Manager().AllocNode(OpNull)); !math.IsNaN(v) {
		t.Errorf("null coerced to %v, want NaN", v)
	}
}

func TestBoolCoercionValueIfNull(t *testing.T) {
	i := newTestInterpreter()
	if !i.InterpretNodeIntoBoolValue(nil, true) {
		t.Error("null should coerce to valueIfNull")
	}
	if i.InterpretNodeIntoBoolValue(nil, false) {
		t.Error("null should coerce to valueIfNull")
	}
}

func TestStringIDCoercionIfExists(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// an interned string resolves to its id
	n := str(m, "present")
	if sid := i.InterpretNodeIntoStringIDValueIfExists(n); sid == NotAStringID {
		t.Error("interned string should resolve")
	}

	// a number whose text was never interned yields NotAStringID
	if sid := i.InterpretNodeIntoStringIDValueIfExists(num(m, 123456)); sid != NotAStringID {
		t.Errorf("uninterned text resolved to %d", sid)
	}
}

func TestStringIDCoercionWithReference(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()
	pool := i.StringPool()

	n := str(m, "counted")
	sid := n.StringIDValue()
	before := pool.GetRefCount(sid)

	got := i.InterpretNodeIntoStringIDValueWithReference(n)
	if got != sid {
		t.Fatalf("coercion returned id %d, want %d", got, sid)
	}
	if after := pool.GetRefCount(sid); after != before+1 {
		t.Errorf("refcount = %d, want %d (caller owns one reference)", after, before+1)
	}
	pool.DestroyStringReference(got)
}

func TestUniqueStringNodeCoercion(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	result := i.InterpretNodeIntoUniqueStringIDValueEvaluableNode(num(m, 9))
	if !result.Unique {
		t.Fatal("unique string coercion must return a unique node")
	}
	if result.Node.Type() != OpString {
		t.Fatalf("got type %v, want string", result.Node.Type())
	}
	if s := i.StringPool().GetStringFromID(result.Node.StringIDValue()); s != "9" {
		t.Errorf("unique string value = %q, want %q", s, "9")
	}
}

func TestUniqueNumberNodeCoercion(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	result := i.InterpretNodeIntoUniqueNumberValueEvaluableNode(str(m, "12.5"))
	if !result.Unique {
		t.Fatal("unique number coercion must return a unique node")
	}
	if got := result.Node.NumberValue(); got != 12.5 {
		t.Errorf("unique number value = %v, want 12.5", got)
	}
}
