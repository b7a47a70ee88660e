package parser

import (
	"strings"
	"testing"

	"github.com/amlg-lang/amlg/vm"
)

func parseOne(t *testing.T, src string) (*vm.EvaluableNode, *vm.NodeManager) {
	t.Helper()
	pool := vm.NewStringInternPool()
	m := vm.NewNodeManager(pool)
	tree, err := Parse(src, m)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return tree.Node, m
}

func TestParseArithmetic(t *testing.T) {
	n, _ := parseOne(t, "(+ 1 2 3)")
	if n.Type() != vm.OpAdd {
		t.Fatalf("type = %v, want +", n.Type())
	}
	children := n.OrderedChildNodes()
	if len(children) != 3 {
		t.Fatalf("children = %d, want 3", len(children))
	}
	for idx, want := range []float64{1, 2, 3} {
		if children[idx].Type() != vm.OpNumber || children[idx].NumberValue() != want {
			t.Errorf("child %d = %v, want %v", idx, children[idx].NumberValue(), want)
		}
	}
}

func TestParseAssocPairs(t *testing.T) {
	n, m := parseOne(t, `(assoc x 1 "two words" 2)`)
	if n.Type() != vm.OpAssoc {
		t.Fatalf("type = %v, want assoc", n.Type())
	}
	pool := m.StringPool()
	x, ok := n.GetMappedChildNode(pool.GetStringID("x"))
	if !ok || x.NumberValue() != 1 {
		t.Error("key x not parsed")
	}
	tw, ok := n.GetMappedChildNode(pool.GetStringID("two words"))
	if !ok || tw.NumberValue() != 2 {
		t.Error("quoted key not parsed")
	}
}

func TestParseAtoms(t *testing.T) {
	tests := []struct {
		src  string
		want vm.OpcodeType
	}{
		{"true", vm.OpTrue},
		{"false", vm.OpFalse},
		{"null", vm.OpNull},
		{"3.5", vm.OpNumber},
		{"-2", vm.OpNumber},
		{".infinity", vm.OpNumber},
		{`"text"`, vm.OpString},
		{"bare_symbol", vm.OpSymbol},
	}
	for _, tt := range tests {
		n, _ := parseOne(t, tt.src)
		if n.Type() != tt.want {
			t.Errorf("Parse(%q) type = %v, want %v", tt.src, n.Type(), tt.want)
		}
	}
}

func TestParseLabelsCommentsConcurrency(t *testing.T) {
	src := ";a comment\n#mylabel ||(list 1 2)"
	n, m := parseOne(t, src)
	pool := m.StringPool()

	if n.Type() != vm.OpList {
		t.Fatalf("type = %v, want list", n.Type())
	}
	if !n.HasLabel(pool.GetStringID("mylabel")) {
		t.Error("label not attached")
	}
	if pool.GetStringFromID(n.CommentsID()) != "a comment" {
		t.Errorf("comment = %q", pool.GetStringFromID(n.CommentsID()))
	}
	if !n.GetConcurrency() {
		t.Error("concurrency marker not set")
	}
	// labeled nodes are never idempotent
	if n.GetIsIdempotent() {
		t.Error("labeled node must not be idempotent")
	}
}

func TestParseIdempotencyMarking(t *testing.T) {
	n, _ := parseOne(t, "(list 1 2 (list 3))")
	if !n.GetIsIdempotent() {
		t.Error("constant list should be idempotent")
	}
	n, _ = parseOne(t, "(list 1 (rand))")
	if n.GetIsIdempotent() {
		t.Error("list containing rand must not be idempotent")
	}
}

func TestParseStringEscapes(t *testing.T) {
	n, m := parseOne(t, `"line\nbreak \"quoted\" tab\t"`)
	got := m.StringPool().GetStringFromID(n.StringIDValue())
	want := "line\nbreak \"quoted\" tab\t"
	if got != want {
		t.Errorf("string = %q, want %q", got, want)
	}
}

func TestParseBOM(t *testing.T) {
	n, _ := parseOne(t, "\uFEFF(+ 1 2)")
	if n.Type() != vm.OpAdd {
		t.Error("byte order mark should be tolerated")
	}
}

func TestParseErrors(t *testing.T) {
	pool := vm.NewStringInternPool()
	m := vm.NewNodeManager(pool)
	for _, src := range []string{
		"(+ 1 2",            // unterminated
		`"unterminated`,     // unterminated string
		"(no_such_opcode 1)", // unknown keyword
		"(+ 1) 2",           // trailing content
	} {
		if _, err := Parse(src, m); err == nil {
			t.Errorf("Parse(%q) should fail", src)
		}
	}
}

func TestUnparseRoundTrip(t *testing.T) {
	sources := []string{
		"(+ 1 2 3)",
		`(let (assoc x 1) (let (assoc x 2) x))`,
		`(list "a" 2.5 (assoc k (list 1)))`,
		`(if (true) 1 2)`,
	}
	pool := vm.NewStringInternPool()
	m := vm.NewNodeManager(pool)
	for _, src := range sources {
		tree, err := Parse(src, m)
		if err != nil {
			t.Fatalf("Parse(%q): %v", src, err)
		}
		out := Unparse(tree.Node, pool, false, true)
		reparsed, err := Parse(out, m)
		if err != nil {
			t.Fatalf("reparse of %q: %v", out, err)
		}
		if !vm.DeepEqual(tree.Node, reparsed.Node) {
			t.Errorf("round trip of %q produced %q with different structure", src, out)
		}
		// a second unparse of the reparsed tree is byte-identical,
		// which is what persistence idempotence rests on
		if again := Unparse(reparsed.Node, pool, false, true); again != out {
			t.Errorf("unparse not stable: %q then %q", out, again)
		}
	}
}

func TestUnparseSortsKeys(t *testing.T) {
	pool := vm.NewStringInternPool()
	m := vm.NewNodeManager(pool)
	tree, err := Parse(`(assoc zebra 1 apple 2 mango 3)`, m)
	if err != nil {
		t.Fatal(err)
	}
	out := Unparse(tree.Node, pool, false, true)
	apple := strings.Index(out, "apple")
	mango := strings.Index(out, "mango")
	zebra := strings.Index(out, "zebra")
	if !(apple < mango && mango < zebra) {
		t.Errorf("keys not sorted: %q", out)
	}
}

func TestUnparseMetadata(t *testing.T) {
	pool := vm.NewStringInternPool()
	m := vm.NewNodeManager(pool)
	tree, err := Parse("#lbl ||(list 1 2)", m)
	if err != nil {
		t.Fatal(err)
	}
	out := Unparse(tree.Node, pool, false, false)
	if !strings.Contains(out, "#lbl") {
		t.Errorf("label missing from %q", out)
	}
	if !strings.Contains(out, "||") {
		t.Errorf("concurrency marker missing from %q", out)
	}

	reparsed, err := Parse(out, m)
	if err != nil {
		t.Fatal(err)
	}
	if !reparsed.Node.HasLabel(pool.GetStringID("lbl")) || !reparsed.Node.GetConcurrency() {
		t.Error("metadata lost on round trip")
	}
}

func TestUnparseCycleGuard(t *testing.T) {
	pool := vm.NewStringInternPool()
	m := vm.NewNodeManager(pool)
	cyc := m.AllocNode(vm.OpList)
	cyc.AppendOrderedChildNode(cyc)
	cyc.SetNeedCycleCheck(true)

	// must terminate
	out := Unparse(cyc, pool, false, false)
	if out == "" {
		t.Error("cyclic unparse produced nothing")
	}
}
