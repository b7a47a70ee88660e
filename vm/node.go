package vm

import (
	"math"
	"strconv"
)

// EvaluableNode is the unit of both code and data: a tagged record whose
// payload depends on its opcode kind.
//
// Exactly one payload is populated per kind:
//   - number kinds carry a float64
//   - string/symbol kinds carry an interned string id
//   - associative kinds carry an unordered map keyed by string id
//   - every other kind carries an ordered child list
//
// A node with an ordered-list kind never carries a map and vice versa;
// immediate kinds (null, number, string, symbol, true, false) have no
// children at all. setNodeType maintains these invariants.
type EvaluableNode struct {
	nodeType OpcodeType

	number   float64
	stringID StringID
	ordered  []*EvaluableNode
	mapped   map[StringID]*EvaluableNode

	labels   []StringID
	comments StringID

	// idempotent means evaluation is pure and returns a structurally
	// equal value, so the evaluator may return the node itself.
	idempotent bool

	// needCycleCheck means the subtree may contain back-edges and must be
	// walked with a visited set. If set on a node, it must be set on every
	// ancestor through which the node is reachable.
	needCycleCheck bool

	// concurrent requests parallel child evaluation for multi-child
	// opcodes when a worker is available.
	concurrent bool
}

// ---------------------------------------------------------------------------
// Type and payload access
// ---------------------------------------------------------------------------

// Type returns the node's opcode kind.
func (n *EvaluableNode) Type() OpcodeType {
	return n.nodeType
}

// IsAssociativeArray returns true if the node's payload is a mapped child set.
func (n *EvaluableNode) IsAssociativeArray() bool {
	return n != nil && n.nodeType.UsesMappedData()
}

// IsImmediate returns true if the node's kind carries no children.
func (n *EvaluableNode) IsImmediate() bool {
	return n.nodeType.IsImmediate()
}

// IsNilNode returns true for a nil pointer or a node of null kind with no
// metadata that would distinguish it from null.
func IsNilNode(n *EvaluableNode) bool {
	return n == nil || (n.nodeType == OpNull && len(n.labels) == 0)
}

// NumberValue returns the node's number payload.
func (n *EvaluableNode) NumberValue() float64 {
	return n.number
}

// SetNumberValue sets the node's number payload.
func (n *EvaluableNode) SetNumberValue(v float64) {
	n.number = v
}

// StringIDValue returns the node's interned string payload without
// creating a reference.
func (n *EvaluableNode) StringIDValue() StringID {
	return n.stringID
}

// SetStringIDWithHandoff stores an id whose reference the caller hands
// off to the node; any previous id's reference is released.
func (n *EvaluableNode) SetStringIDWithHandoff(pool *StringInternPool, id StringID) {
	if n.stringID != NotAStringID {
		pool.DestroyStringReference(n.stringID)
	}
	n.stringID = id
}

// GetAndClearStringIDWithReference removes the node's string payload and
// transfers its reference to the caller.
func (n *EvaluableNode) GetAndClearStringIDWithReference() StringID {
	id := n.stringID
	n.stringID = NotAStringID
	return id
}

// OrderedChildNodes returns the ordered child slice. Nil for mapped and
// immediate kinds.
func (n *EvaluableNode) OrderedChildNodes() []*EvaluableNode {
	return n.ordered
}

// MappedChildNodes returns the mapped child set. Nil for ordered and
// immediate kinds.
func (n *EvaluableNode) MappedChildNodes() map[StringID]*EvaluableNode {
	return n.mapped
}

// AppendOrderedChildNode appends a child to an ordered-kind node.
func (n *EvaluableNode) AppendOrderedChildNode(child *EvaluableNode) {
	n.ordered = append(n.ordered, child)
}

// GetMappedChildNode returns the child stored under sid and whether it
// was present.
func (n *EvaluableNode) GetMappedChildNode(sid StringID) (*EvaluableNode, bool) {
	c, ok := n.mapped[sid]
	return c, ok
}

// SetMappedChildNode stores child under an id the caller owns a reference
// to; the reference transfers to the node unless the key already existed.
func (n *EvaluableNode) SetMappedChildNode(pool *StringInternPool, sid StringID, child *EvaluableNode) {
	if n.mapped == nil {
		n.mapped = make(map[StringID]*EvaluableNode)
	}
	if _, exists := n.mapped[sid]; exists {
		pool.DestroyStringReference(sid)
	}
	n.mapped[sid] = child
}

// GetOrCreateMappedChildNode returns the slot for sid, creating a null
// binding (and taking a new id reference) if absent. The returned setter
// writes through to the map.
func (n *EvaluableNode) GetOrCreateMappedChildNode(pool *StringInternPool, sid StringID) *EvaluableNode {
	if n.mapped == nil {
		n.mapped = make(map[StringID]*EvaluableNode)
	}
	if c, ok := n.mapped[sid]; ok {
		return c
	}
	pool.CreateIDReference(sid)
	n.mapped[sid] = nil
	return nil
}

// NumChildNodes returns the number of children of either payload shape.
func (n *EvaluableNode) NumChildNodes() int {
	if n == nil {
		return 0
	}
	if n.IsAssociativeArray() {
		return len(n.mapped)
	}
	return len(n.ordered)
}

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

// Labels returns the node's label ids.
func (n *EvaluableNode) Labels() []StringID {
	return n.labels
}

// HasLabels returns true if the node carries any label.
func (n *EvaluableNode) HasLabels() bool {
	return len(n.labels) > 0
}

// AppendLabelWithHandoff adds a label id whose reference the caller hands
// off to the node. Labeled nodes are never idempotent.
func (n *EvaluableNode) AppendLabelWithHandoff(id StringID) {
	n.labels = append(n.labels, id)
	n.idempotent = false
}

// HasLabel reports whether the node carries the given label id.
func (n *EvaluableNode) HasLabel(sid StringID) bool {
	for _, l := range n.labels {
		if l == sid {
			return true
		}
	}
	return false
}

// CommentsID returns the node's comment string id.
func (n *EvaluableNode) CommentsID() StringID {
	return n.comments
}

// SetCommentsWithHandoff stores a comment id whose reference the caller
// hands off to the node.
func (n *EvaluableNode) SetCommentsWithHandoff(pool *StringInternPool, id StringID) {
	if n.comments != NotAStringID {
		pool.DestroyStringReference(n.comments)
	}
	n.comments = id
}

// ClearMetadata drops labels and comments, releasing their references.
func (n *EvaluableNode) ClearMetadata(pool *StringInternPool) {
	for _, l := range n.labels {
		pool.DestroyStringReference(l)
	}
	n.labels = nil
	if n.comments != NotAStringID {
		pool.DestroyStringReference(n.comments)
		n.comments = NotAStringID
	}
}

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

// GetIsIdempotent returns the idempotency flag.
func (n *EvaluableNode) GetIsIdempotent() bool {
	return n != nil && n.idempotent
}

// SetIsIdempotent sets the idempotency flag.
func (n *EvaluableNode) SetIsIdempotent(v bool) {
	n.idempotent = v
}

// GetNeedCycleCheck returns the cycle-check flag.
func (n *EvaluableNode) GetNeedCycleCheck() bool {
	return n != nil && n.needCycleCheck
}

// SetNeedCycleCheck sets the cycle-check flag.
func (n *EvaluableNode) SetNeedCycleCheck(v bool) {
	n.needCycleCheck = v
}

// GetConcurrency returns the parallel-evaluation request flag.
func (n *EvaluableNode) GetConcurrency() bool {
	return n != nil && n.concurrent
}

// SetConcurrency sets the parallel-evaluation request flag.
func (n *EvaluableNode) SetConcurrency(v bool) {
	n.concurrent = v
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// ToNumber converts a node to its numeric interpretation: numbers
// directly, strings via parsing, true to 1, false to 0, null and
// everything unparsable to NaN.
func ToNumber(pool *StringInternPool, n *EvaluableNode) float64 {
	if IsNilNode(n) {
		return math.NaN()
	}
	switch n.nodeType {
	case OpNumber:
		return n.number
	case OpTrue:
		return 1
	case OpFalse:
		return 0
	case OpString, OpSymbol:
		s := pool.GetStringFromID(n.stringID)
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}

// ToStringValue converts a node to its string interpretation. The second
// result is false when the node is null.
func ToStringValue(pool *StringInternPool, n *EvaluableNode) (string, bool) {
	if IsNilNode(n) {
		return "", false
	}
	switch n.nodeType {
	case OpString, OpSymbol:
		return pool.GetStringFromID(n.stringID), true
	case OpNumber:
		return FormatNumber(n.number), true
	case OpTrue:
		return "true", true
	case OpFalse:
		return "false", true
	default:
		// non-immediate nodes stringify through the unparser at a higher
		// layer; here the opcode keyword stands in
		return n.nodeType.Name(), true
	}
}

// ToBool converts a node to its per-kind truth value: null and false are
// false, zero and NaN numbers are false, the empty string is false,
// everything else is true.
func ToBool(pool *StringInternPool, n *EvaluableNode) bool {
	if IsNilNode(n) {
		return false
	}
	switch n.nodeType {
	case OpFalse:
		return false
	case OpTrue:
		return true
	case OpNumber:
		return n.number != 0 && !math.IsNaN(n.number)
	case OpString, OpSymbol:
		return pool.GetStringFromID(n.stringID) != ""
	default:
		return true
	}
}

// FormatNumber renders a float the way source code does: integral values
// without a fractional part, infinities as .infinity forms.
func FormatNumber(v float64) string {
	if math.IsInf(v, 1) {
		return ".infinity"
	}
	if math.IsInf(v, -1) {
		return "-.infinity"
	}
	if math.IsNaN(v) {
		return ".nan"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ---------------------------------------------------------------------------
// Structural equality
// ---------------------------------------------------------------------------

// DeepEqual compares two trees structurally: kind, payload, and children.
// Labels and comments are ignored, matching evaluation semantics. Shared
// and cyclic structure is handled with a visited-pair set when either
// side is flagged for cycle checking.
func DeepEqual(a, b *EvaluableNode) bool {
	var visited map[[2]*EvaluableNode]struct{}
	if a.GetNeedCycleCheck() || b.GetNeedCycleCheck() {
		visited = make(map[[2]*EvaluableNode]struct{})
	}
	return deepEqualRecurse(a, b, visited)
}

func deepEqualRecurse(a, b *EvaluableNode, visited map[[2]*EvaluableNode]struct{}) bool {
	if IsNilNode(a) || IsNilNode(b) {
		return IsNilNode(a) == IsNilNode(b)
	}
	if a == b {
		return true
	}
	if visited != nil {
		key := [2]*EvaluableNode{a, b}
		if _, seen := visited[key]; seen {
			return true
		}
		visited[key] = struct{}{}
	}
	if a.nodeType != b.nodeType {
		return false
	}
	switch {
	case a.nodeType.UsesNumberData():
		return a.number == b.number || (math.IsNaN(a.number) && math.IsNaN(b.number))
	case a.nodeType.UsesStringData():
		return a.stringID == b.stringID
	case a.nodeType.UsesMappedData():
		if len(a.mapped) != len(b.mapped) {
			return false
		}
		for k, av := range a.mapped {
			bv, ok := b.mapped[k]
			if !ok || !deepEqualRecurse(av, bv, visited) {
				return false
			}
		}
		return true
	default:
		if len(a.ordered) != len(b.ordered) {
			return false
		}
		for i := range a.ordered {
			if !deepEqualRecurse(a.ordered[i], b.ordered[i], visited) {
				return false
			}
		}
		return true
	}
}
