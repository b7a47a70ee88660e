package parser

import (
	"sort"
	"strings"

	"github.com/amlg-lang/amlg/vm"
)

// Unparse renders a tree back to source. With sortKeys, assoc keys are
// emitted in sorted order, which makes output stable across runs; this
// is what entity persistence uses so that store(load(x)) is bit-exact.
// When the root is flagged as possibly cyclic, a visited set tracks the
// nodes on the current path, and a back-edge to one of them renders as
// null rather than recursing forever. A subtree shared without a cycle
// is emitted in full at each place it occurs.
func Unparse(n *vm.EvaluableNode, pool *vm.StringInternPool, pretty, sortKeys bool) string {
	u := &unparser{pool: pool, pretty: pretty, sortKeys: sortKeys}
	if n.GetNeedCycleCheck() {
		u.visited = make(map[*vm.EvaluableNode]struct{})
	}
	u.emit(n, 0)
	if pretty {
		u.sb.WriteByte('\n')
	}
	return u.sb.String()
}

type unparser struct {
	sb       strings.Builder
	pool     *vm.StringInternPool
	pretty   bool
	sortKeys bool
	visited  map[*vm.EvaluableNode]struct{}
}

func (u *unparser) indent(depth int) {
	if !u.pretty {
		return
	}
	u.sb.WriteByte('\n')
	for i := 0; i < depth; i++ {
		u.sb.WriteString("  ")
	}
}

// emitMetadata writes comments, labels, and the concurrency marker that
// precede a node's value.
func (u *unparser) emitMetadata(n *vm.EvaluableNode, depth int) {
	if cid := n.CommentsID(); cid != vm.NotAStringID && u.pretty {
		for _, line := range strings.Split(u.pool.GetStringFromID(cid), "\n") {
			u.sb.WriteByte(';')
			u.sb.WriteString(line)
			u.indent(depth)
		}
	}
	for _, l := range n.Labels() {
		u.sb.WriteByte('#')
		u.sb.WriteString(u.pool.GetStringFromID(l))
		u.sb.WriteByte(' ')
	}
	if n.GetConcurrency() {
		u.sb.WriteString("||")
	}
}

func (u *unparser) emit(n *vm.EvaluableNode, depth int) {
	if n == nil {
		u.sb.WriteString("(null)")
		return
	}
	if u.visited != nil {
		if _, seen := u.visited[n]; seen {
			u.sb.WriteString("(null)")
			return
		}
		u.visited[n] = struct{}{}
		defer delete(u.visited, n)
	}

	u.emitMetadata(n, depth)

	t := n.Type()
	switch {
	case t == vm.OpNumber:
		u.sb.WriteString(vm.FormatNumber(n.NumberValue()))
	case t == vm.OpString:
		u.emitQuoted(u.pool.GetStringFromID(n.StringIDValue()))
	case t == vm.OpSymbol:
		u.sb.WriteString(u.pool.GetStringFromID(n.StringIDValue()))
	case t == vm.OpTrue && len(n.OrderedChildNodes()) == 0:
		u.sb.WriteString("(true)")
	case t == vm.OpFalse && len(n.OrderedChildNodes()) == 0:
		u.sb.WriteString("(false)")
	case t == vm.OpNull && len(n.OrderedChildNodes()) == 0:
		u.sb.WriteString("(null)")
	case t.UsesMappedData():
		u.emitAssoc(n, depth)
	default:
		u.emitList(n, depth)
	}
}

func (u *unparser) emitList(n *vm.EvaluableNode, depth int) {
	u.sb.WriteByte('(')
	u.sb.WriteString(n.Type().Name())
	children := n.OrderedChildNodes()
	for _, c := range children {
		if u.pretty && len(children) > 2 {
			u.indent(depth + 1)
		} else {
			u.sb.WriteByte(' ')
		}
		u.emit(c, depth+1)
	}
	if u.pretty && len(children) > 2 {
		u.indent(depth)
	}
	u.sb.WriteByte(')')
}

func (u *unparser) emitAssoc(n *vm.EvaluableNode, depth int) {
	u.sb.WriteByte('(')
	u.sb.WriteString(n.Type().Name())

	mapped := n.MappedChildNodes()
	keys := make([]vm.StringID, 0, len(mapped))
	for sid := range mapped {
		keys = append(keys, sid)
	}
	if u.sortKeys {
		sort.Slice(keys, func(a, b int) bool {
			return u.pool.GetStringFromID(keys[a]) < u.pool.GetStringFromID(keys[b])
		})
	}

	for _, sid := range keys {
		if u.pretty {
			u.indent(depth + 1)
		} else {
			u.sb.WriteByte(' ')
		}
		key := u.pool.GetStringFromID(sid)
		if isSymbolSafe(key) {
			u.sb.WriteString(key)
		} else {
			u.emitQuoted(key)
		}
		u.sb.WriteByte(' ')
		u.emit(mapped[sid], depth+1)
	}
	if u.pretty && len(keys) > 0 {
		u.indent(depth)
	}
	u.sb.WriteByte(')')
}

func (u *unparser) emitQuoted(s string) {
	u.sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			u.sb.WriteString("\\\"")
		case '\\':
			u.sb.WriteString("\\\\")
		case '\n':
			u.sb.WriteString("\\n")
		case '\t':
			u.sb.WriteString("\\t")
		case '\r':
			u.sb.WriteString("\\r")
		default:
			u.sb.WriteRune(r)
		}
	}
	u.sb.WriteByte('"')
}
