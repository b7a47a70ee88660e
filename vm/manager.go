package vm

import (
	"sync"
	"sync/atomic"
)

// MetadataModifier selects how node copies treat labels and comments.
type MetadataModifier uint8

const (
	// KeepMetadata copies labels and comments, taking new references.
	KeepMetadata MetadataModifier = iota
	// RemoveMetadata drops labels and comments from the copy.
	RemoveMetadata
)

// defaultGarbageCollectionInterval is the number of allocations between
// collection attempts when no explicit tick policy is configured.
const defaultGarbageCollectionInterval = 16384

// NodeManager is the per-entity node pool. It tracks every live node it
// allocated, maintains the pin set of node references that must survive
// collection, and accounts used-node counts for the budget checks.
//
// Nodes never migrate between managers; an entity's tree lives entirely
// in the entity's own manager.
type NodeManager struct {
	pool *StringInternPool

	mu        sync.Mutex
	allocated map[*EvaluableNode]struct{}

	// keptRefs is the GC root set: node -> pin count.
	keptRefs map[*EvaluableNode]int

	numUsed    atomic.Int64
	allocsTick atomic.Int64
	gcInterval int64

	// executionSideEffects is set when evaluation mutates structure
	// reachable from an enclosing construction; the construction stack
	// reads and propagates it.
	executionSideEffects bool
}

// NewNodeManager creates an empty pool over the given intern pool.
func NewNodeManager(pool *StringInternPool) *NodeManager {
	return &NodeManager{
		pool:       pool,
		allocated:  make(map[*EvaluableNode]struct{}),
		keptRefs:   make(map[*EvaluableNode]int),
		gcInterval: defaultGarbageCollectionInterval,
	}
}

// StringPool returns the intern pool this manager allocates ids from.
func (m *NodeManager) StringPool() *StringInternPool {
	return m.pool
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// AllocNode allocates a node of the given kind.
func (m *NodeManager) AllocNode(t OpcodeType) *EvaluableNode {
	n := &EvaluableNode{nodeType: t}
	if t.CanBeIdempotent() {
		n.idempotent = true
	}
	m.track(n)
	return n
}

// AllocNumberNode allocates a number node.
func (m *NodeManager) AllocNumberNode(v float64) *EvaluableNode {
	n := m.AllocNode(OpNumber)
	n.number = v
	return n
}

// AllocStringNode allocates a string node, interning the value.
func (m *NodeManager) AllocStringNode(s string) *EvaluableNode {
	n := m.AllocNode(OpString)
	n.stringID = m.pool.CreateStringReference(s)
	return n
}

// AllocStringNodeWithHandoff allocates a string node around an id whose
// reference the caller hands off.
func (m *NodeManager) AllocStringNodeWithHandoff(t OpcodeType, id StringID) *EvaluableNode {
	n := m.AllocNode(t)
	n.stringID = id
	return n
}

// AllocNodeFromImmediate materializes an immediate value as a node.
// A string id's reference is handed off from the immediate.
func (m *NodeManager) AllocNodeFromImmediate(v ImmediateValueWithType) *EvaluableNode {
	switch v.Kind {
	case ImmediateNumber:
		return m.AllocNumberNode(v.Number)
	case ImmediateStringID:
		return m.AllocStringNodeWithHandoff(OpString, v.StringID)
	case ImmediateBool:
		if v.Bool {
			return m.AllocNode(OpTrue)
		}
		return m.AllocNode(OpFalse)
	default:
		return m.AllocNode(OpNull)
	}
}

// AllocShallowCopy allocates a one-level copy of src: same kind, payload,
// flags, and child pointers, with metadata handled per mode.
func (m *NodeManager) AllocShallowCopy(src *EvaluableNode, mode MetadataModifier) *EvaluableNode {
	n := &EvaluableNode{
		nodeType:       src.nodeType,
		number:         src.number,
		idempotent:     src.idempotent,
		needCycleCheck: src.needCycleCheck,
		concurrent:     src.concurrent,
	}
	if src.stringID != NotAStringID {
		n.stringID = m.pool.CreateIDReference(src.stringID)
	}
	if src.ordered != nil {
		n.ordered = make([]*EvaluableNode, len(src.ordered))
		copy(n.ordered, src.ordered)
	}
	if src.mapped != nil {
		n.mapped = make(map[StringID]*EvaluableNode, len(src.mapped))
		for k, v := range src.mapped {
			m.pool.CreateIDReference(k)
			n.mapped[k] = v
		}
	}
	if mode == KeepMetadata {
		if len(src.labels) > 0 {
			n.labels = make([]StringID, len(src.labels))
			for i, l := range src.labels {
				n.labels[i] = m.pool.CreateIDReference(l)
			}
			n.idempotent = false
		}
		if src.comments != NotAStringID {
			n.comments = m.pool.CreateIDReference(src.comments)
		}
	}
	m.track(n)
	return n
}

// DeepAllocCopy allocates a full structural copy of src, preserving
// shared subtrees and surviving cycles. The result is unique by
// construction.
func (m *NodeManager) DeepAllocCopy(src *EvaluableNode, mode MetadataModifier) NodeReference {
	if src == nil {
		return NullReference()
	}
	copies := make(map[*EvaluableNode]*EvaluableNode)
	root := m.deepCopyRecurse(src, mode, copies)
	return NewNodeReference(root, true)
}

func (m *NodeManager) deepCopyRecurse(src *EvaluableNode, mode MetadataModifier,
	copies map[*EvaluableNode]*EvaluableNode) *EvaluableNode {

	if src == nil {
		return nil
	}
	if existing, ok := copies[src]; ok {
		return existing
	}
	n := m.AllocShallowCopy(src, mode)
	copies[src] = n
	for i, c := range n.ordered {
		n.ordered[i] = m.deepCopyRecurse(c, mode, copies)
	}
	for k, c := range n.mapped {
		n.mapped[k] = m.deepCopyRecurse(c, mode, copies)
	}
	return n
}

func (m *NodeManager) track(n *EvaluableNode) {
	m.mu.Lock()
	m.allocated[n] = struct{}{}
	m.mu.Unlock()
	m.numUsed.Add(1)
	m.allocsTick.Add(1)
}

// ---------------------------------------------------------------------------
// Freeing
// ---------------------------------------------------------------------------

// FreeNode releases a single node and its string references. The node's
// children are not touched.
func (m *NodeManager) FreeNode(n *EvaluableNode) {
	if n == nil {
		return
	}
	m.mu.Lock()
	if _, live := m.allocated[n]; !live {
		m.mu.Unlock()
		return
	}
	delete(m.allocated, n)
	m.mu.Unlock()
	m.releaseNodeStrings(n)
	n.nodeType = OpDeallocated
	n.ordered = nil
	n.mapped = nil
	m.numUsed.Add(-1)
}

// FreeNodeTree releases a node and every node reachable from it,
// consulting a visited set when the tree is flagged for cycles.
func (m *NodeManager) FreeNodeTree(n *EvaluableNode) {
	if n == nil {
		return
	}
	var visited map[*EvaluableNode]struct{}
	if n.GetNeedCycleCheck() {
		visited = make(map[*EvaluableNode]struct{})
	}
	m.freeTreeRecurse(n, visited)
}

func (m *NodeManager) freeTreeRecurse(n *EvaluableNode, visited map[*EvaluableNode]struct{}) {
	if n == nil {
		return
	}
	if visited != nil {
		if _, seen := visited[n]; seen {
			return
		}
		visited[n] = struct{}{}
	}
	ordered := n.ordered
	mapped := n.mapped
	m.FreeNode(n)
	for _, c := range ordered {
		m.freeTreeRecurse(c, visited)
	}
	for _, c := range mapped {
		m.freeTreeRecurse(c, visited)
	}
}

// FreeNodeTreeIfPossible releases a reference's tree only when the
// reference is unique and not pinned; shared results must survive.
func (m *NodeManager) FreeNodeTreeIfPossible(r NodeReference) {
	if r.IsImmediateValue() || r.Node == nil || !r.Unique {
		return
	}
	if m.isPinned(r.Node) {
		return
	}
	m.FreeNodeTree(r.Node)
}

func (m *NodeManager) releaseNodeStrings(n *EvaluableNode) {
	if n.stringID != NotAStringID {
		m.pool.DestroyStringReference(n.stringID)
		n.stringID = NotAStringID
	}
	for _, l := range n.labels {
		m.pool.DestroyStringReference(l)
	}
	n.labels = nil
	if n.comments != NotAStringID {
		m.pool.DestroyStringReference(n.comments)
		n.comments = NotAStringID
	}
	for k := range n.mapped {
		m.pool.DestroyStringReference(k)
	}
}

// ---------------------------------------------------------------------------
// Pinning and collection
// ---------------------------------------------------------------------------

// KeepNodeReferences pins nodes (and everything reachable from them)
// against collection. Each call stacks one pin per node.
func (m *NodeManager) KeepNodeReferences(nodes ...*EvaluableNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range nodes {
		if n != nil {
			m.keptRefs[n]++
		}
	}
}

// FreeNodeReferences removes pins added by KeepNodeReferences.
func (m *NodeManager) FreeNodeReferences(nodes ...*EvaluableNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if c, ok := m.keptRefs[n]; ok {
			if c <= 1 {
				delete(m.keptRefs, n)
			} else {
				m.keptRefs[n] = c - 1
			}
		}
	}
}

func (m *NodeManager) isPinned(n *EvaluableNode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keptRefs[n]
	return ok
}

// GetNumberOfUsedNodes reports the live allocation count; the budget
// checks compare it against absolute ceilings.
func (m *NodeManager) GetNumberOfUsedNodes() int64 {
	return m.numUsed.Load()
}

// CollectGarbageIfNeeded runs a mark-sweep over the pool when enough
// allocations have happened since the last attempt. Every node reachable
// from a pinned reference survives; everything else is freed.
func (m *NodeManager) CollectGarbageIfNeeded() {
	if m.allocsTick.Load() < m.gcInterval {
		return
	}
	m.CollectGarbage()
}

// CollectGarbage unconditionally runs a mark-sweep pass and returns the
// number of nodes freed.
func (m *NodeManager) CollectGarbage() int {
	m.allocsTick.Store(0)

	m.mu.Lock()
	roots := make([]*EvaluableNode, 0, len(m.keptRefs))
	for n := range m.keptRefs {
		roots = append(roots, n)
	}
	m.mu.Unlock()

	marked := make(map[*EvaluableNode]struct{})
	for _, r := range roots {
		markReachable(r, marked)
	}

	m.mu.Lock()
	var unreachable []*EvaluableNode
	for n := range m.allocated {
		if _, ok := marked[n]; !ok {
			unreachable = append(unreachable, n)
		}
	}
	m.mu.Unlock()

	for _, n := range unreachable {
		m.FreeNode(n)
	}
	return len(unreachable)
}

func markReachable(n *EvaluableNode, marked map[*EvaluableNode]struct{}) {
	if n == nil {
		return
	}
	if _, ok := marked[n]; ok {
		return
	}
	marked[n] = struct{}{}
	for _, c := range n.ordered {
		markReachable(c, marked)
	}
	for _, c := range n.mapped {
		markReachable(c, marked)
	}
}

// ---------------------------------------------------------------------------
// Side-effect tracking
// ---------------------------------------------------------------------------

// ReportSideEffect records that evaluation mutated enclosing structure;
// construction frames pick this up when popped.
func (m *NodeManager) ReportSideEffect() {
	m.executionSideEffects = true
}

// ConsumeSideEffectFlag returns and clears the side-effect flag.
func (m *NodeManager) ConsumeSideEffectFlag() bool {
	v := m.executionSideEffects
	m.executionSideEffects = false
	return v
}
