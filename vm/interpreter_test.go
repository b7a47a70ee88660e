package vm

import (
	"math"
	"testing"
)

// test helpers building trees directly in a manager

func newTestInterpreter() *Interpreter {
	pool := NewStringInternPool()
	m := NewNodeManager(pool)
	return NewInterpreter(m, NewRandomStream("test"), nil, nil, nil, nil, nil)
}

func num(m *NodeManager, v float64) *EvaluableNode {
	return m.AllocNumberNode(v)
}

func str(m *NodeManager, s string) *EvaluableNode {
	return m.AllocStringNode(s)
}

func sym(m *NodeManager, s string) *EvaluableNode {
	return m.AllocStringNodeWithHandoff(OpSymbol, m.StringPool().CreateStringReference(s))
}

func op(m *NodeManager, t OpcodeType, children ...*EvaluableNode) *EvaluableNode {
	n := m.AllocNode(t)
	for _, c := range children {
		n.AppendOrderedChildNode(c)
	}
	return n
}

func assocNode(m *NodeManager, pairs ...any) *EvaluableNode {
	n := m.AllocNode(OpAssoc)
	pool := m.StringPool()
	for i := 0; i+1 < len(pairs); i += 2 {
		n.SetMappedChildNode(pool, pool.CreateStringReference(pairs[i].(string)),
			pairs[i+1].(*EvaluableNode))
	}
	return n
}

func execute(t *testing.T, i *Interpreter, root *EvaluableNode) NodeReference {
	t.Helper()
	return i.ExecuteNode(root, nil, nil, nil, nil, nil, false)
}

func numberOf(t *testing.T, i *Interpreter, r NodeReference) float64 {
	t.Helper()
	return r.NumberValue(i.StringPool())
}

// ---------------------------------------------------------------------------

func TestArithmetic(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	result := execute(t, i, op(m, OpAdd, num(m, 1), num(m, 2), num(m, 3)))
	if got := numberOf(t, i, result); got != 6 {
		t.Errorf("(+ 1 2 3) = %v, want 6", got)
	}

	result = execute(t, i, op(m, OpSubtract, num(m, 10), num(m, 4), num(m, 1)))
	if got := numberOf(t, i, result); got != 5 {
		t.Errorf("(- 10 4 1) = %v, want 5", got)
	}

	result = execute(t, i, op(m, OpMultiply, num(m, 2), num(m, 3), num(m, 4)))
	if got := numberOf(t, i, result); got != 24 {
		t.Errorf("(* 2 3 4) = %v, want 24", got)
	}

	result = execute(t, i, op(m, OpDivide, num(m, 12), num(m, 4)))
	if got := numberOf(t, i, result); got != 3 {
		t.Errorf("(/ 12 4) = %v, want 3", got)
	}
}

func TestArithmeticCoercesStrings(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	result := execute(t, i, op(m, OpAdd, str(m, "3"), num(m, 4)))
	if got := numberOf(t, i, result); got != 7 {
		t.Errorf(`(+ "3" 4) = %v, want 7`, got)
	}

	result = execute(t, i, op(m, OpAdd, m.AllocNode(OpNull), num(m, 4)))
	if got := numberOf(t, i, result); !math.IsNaN(got) {
		t.Errorf("(+ null 4) = %v, want NaN", got)
	}
}

func TestLexicalScope(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// (let (assoc x 1) (let (assoc x 2) x))
	inner := op(m, OpLet, assocNode(m, "x", num(m, 2)), sym(m, "x"))
	outer := op(m, OpLet, assocNode(m, "x", num(m, 1)), inner)
	result := execute(t, i, outer)
	if got := numberOf(t, i, result); got != 2 {
		t.Errorf("inner lookup = %v, want 2", got)
	}

	// (let (assoc x 1) (seq (let (assoc x 2) x) x)) - outer binding
	// visible again after the inner let pops
	i = newTestInterpreter()
	m = i.Manager()
	inner = op(m, OpLet, assocNode(m, "x", num(m, 2)), sym(m, "x"))
	body := op(m, OpSequence, inner, sym(m, "x"))
	outer = op(m, OpLet, assocNode(m, "x", num(m, 1)), body)
	result = execute(t, i, outer)
	if got := numberOf(t, i, result); got != 1 {
		t.Errorf("outer lookup after inner let = %v, want 1", got)
	}
}

func TestAssignMutatesBindingScope(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// (let (assoc x 1) (seq (let (assoc y 0) (assign "x" 5)) x))
	assign := op(m, OpAssign, str(m, "x"), num(m, 5))
	inner := op(m, OpLet, assocNode(m, "y", num(m, 0)), assign)
	body := op(m, OpSequence, inner, sym(m, "x"))
	outer := op(m, OpLet, assocNode(m, "x", num(m, 1)), body)
	result := execute(t, i, outer)
	if got := numberOf(t, i, result); got != 5 {
		t.Errorf("x after nested assign = %v, want 5", got)
	}
}

func TestAssignUnboundBindsTopFrame(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// (seq (assign "z" 9) z)
	root := op(m, OpSequence,
		op(m, OpAssign, str(m, "z"), num(m, 9)),
		sym(m, "z"))
	result := execute(t, i, root)
	if got := numberOf(t, i, result); got != 9 {
		t.Errorf("z = %v, want 9", got)
	}
}

func TestAccum(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// (let (assoc x 1) (seq (accum "x" 4) x))
	root := op(m, OpLet, assocNode(m, "x", num(m, 1)),
		op(m, OpSequence,
			op(m, OpAccum, str(m, "x"), num(m, 4)),
			sym(m, "x")))
	result := execute(t, i, root)
	if got := numberOf(t, i, result); got != 5 {
		t.Errorf("x after accum = %v, want 5", got)
	}
}

func TestIf(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	result := execute(t, i, op(m, OpIf,
		m.AllocNode(OpFalse), num(m, 1),
		m.AllocNode(OpTrue), num(m, 2),
		num(m, 3)))
	if got := numberOf(t, i, result); got != 2 {
		t.Errorf("if picked %v, want 2", got)
	}

	result = execute(t, i, op(m, OpIf,
		m.AllocNode(OpFalse), num(m, 1),
		num(m, 3)))
	if got := numberOf(t, i, result); got != 3 {
		t.Errorf("else branch = %v, want 3", got)
	}
}

func TestSequenceConcludeReturnsValue(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// (seq 1 (conclude 7) 2)
	root := op(m, OpSequence,
		num(m, 1),
		op(m, OpConclude, num(m, 7)),
		num(m, 2))
	result := execute(t, i, root)
	if got := numberOf(t, i, result); got != 7 {
		t.Errorf("conclude value = %v, want 7", got)
	}
}

func TestCallUnwindsReturn(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// (call (lambda (seq (return 3) 9)))
	body := op(m, OpSequence, op(m, OpReturn, num(m, 3)), num(m, 9))
	root := op(m, OpCall, op(m, OpLambda, body))
	result := execute(t, i, root)
	if got := numberOf(t, i, result); got != 3 {
		t.Errorf("returned %v, want 3", got)
	}
}

func TestCallWithArgs(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// (call (lambda (+ a b)) (assoc a 2 b 5))
	body := op(m, OpAdd, sym(m, "a"), sym(m, "b"))
	root := op(m, OpCall, op(m, OpLambda, body),
		assocNode(m, "a", num(m, 2), "b", num(m, 5)))
	result := execute(t, i, root)
	if got := numberOf(t, i, result); got != 7 {
		t.Errorf("call with args = %v, want 7", got)
	}
}

func TestWhileLoop(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// (let (assoc n 0)
	//   (seq (while (< n 5) (accum "n" 1)) n))
	loop := op(m, OpWhile,
		op(m, OpLess, sym(m, "n"), num(m, 5)),
		op(m, OpAccum, str(m, "n"), num(m, 1)))
	root := op(m, OpLet, assocNode(m, "n", num(m, 0)),
		op(m, OpSequence, loop, sym(m, "n")))
	result := execute(t, i, root)
	if got := numberOf(t, i, result); got != 5 {
		t.Errorf("n after loop = %v, want 5", got)
	}
}

func TestMapFilterReduce(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// (map (lambda (* (current_value) 2)) (list 1 2 3))
	mapBody := op(m, OpMultiply, op(m, OpCurrentValue), num(m, 2))
	root := op(m, OpMap, op(m, OpLambda, mapBody),
		op(m, OpList, num(m, 1), num(m, 2), num(m, 3)))
	result := execute(t, i, root)
	children := result.Node.OrderedChildNodes()
	want := []float64{2, 4, 6}
	if len(children) != len(want) {
		t.Fatalf("map produced %d elements, want %d", len(children), len(want))
	}
	for idx, c := range children {
		if c.NumberValue() != want[idx] {
			t.Errorf("map[%d] = %v, want %v", idx, c.NumberValue(), want[idx])
		}
	}

	// (filter (lambda (> (current_value) 1)) (list 1 2 3))
	i = newTestInterpreter()
	m = i.Manager()
	filterBody := op(m, OpGreater, op(m, OpCurrentValue), num(m, 1))
	root = op(m, OpFilter, op(m, OpLambda, filterBody),
		op(m, OpList, num(m, 1), num(m, 2), num(m, 3)))
	result = execute(t, i, root)
	if got := len(result.Node.OrderedChildNodes()); got != 2 {
		t.Errorf("filter kept %d elements, want 2", got)
	}

	// (reduce (lambda (+ (previous_result) (current_value))) (list 1 2 3 4))
	i = newTestInterpreter()
	m = i.Manager()
	reduceBody := op(m, OpAdd, op(m, OpPreviousResult), op(m, OpCurrentValue))
	root = op(m, OpReduce, op(m, OpLambda, reduceBody),
		op(m, OpList, num(m, 1), num(m, 2), num(m, 3), num(m, 4)))
	result = execute(t, i, root)
	if got := numberOf(t, i, result); got != 10 {
		t.Errorf("reduce = %v, want 10", got)
	}
}

func TestGetTraversal(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	// (get (list 10 (assoc k 20)) (list 1 "k"))
	target := op(m, OpList, num(m, 10), assocNode(m, "k", num(m, 20)))
	path := op(m, OpList, num(m, 1), str(m, "k"))
	result := execute(t, i, op(m, OpGet, target, path))
	if got := numberOf(t, i, result); got != 20 {
		t.Errorf("get = %v, want 20", got)
	}
}

func TestComparisonChains(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	tests := []struct {
		name string
		node *EvaluableNode
		want bool
	}{
		{"ascending", op(m, OpLess, num(m, 1), num(m, 2), num(m, 3)), true},
		{"not ascending", op(m, OpLess, num(m, 1), num(m, 3), num(m, 2)), false},
		{"equal chain", op(m, OpEqual, num(m, 2), num(m, 2)), true},
		{"unequal", op(m, OpNequal, num(m, 2), num(m, 3)), true},
		{"gequal", op(m, OpGequal, num(m, 3), num(m, 3), num(m, 1)), true},
	}
	for _, tt := range tests {
		result := execute(t, i, tt.node)
		if got := result.BoolValue(i.StringPool()); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestImmediateResultShapes(t *testing.T) {
	i := newTestInterpreter()
	m := i.Manager()

	root := op(m, OpAdd, num(m, 1), num(m, 2))
	result := i.ExecuteNode(root, nil, nil, nil, nil, nil, true)
	if !result.IsImmediateValue() {
		t.Fatal("immediate hint should produce an immediate result for arithmetic")
	}
	if got := result.NumberValue(i.StringPool()); got != 3 {
		t.Errorf("immediate add = %v, want 3", got)
	}
}
