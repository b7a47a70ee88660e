package vm

import (
	"sync"

	"github.com/google/uuid"
)

// Entity is a self-contained unit of execution and state: it owns a
// private node manager, a root tree, a deterministic random stream, and
// an ordered set of contained entities. No node is ever shared between
// entities; trees that cross entity boundaries are deep-copied into the
// destination's manager.
type Entity struct {
	mu sync.RWMutex

	id      StringID
	manager *NodeManager
	root    *EvaluableNode
	random  RandomStream

	container *Entity
	contained []*Entity
	byID      map[StringID]*Entity
}

// NewEntity creates an empty entity with its own node manager over the
// given intern pool. The random stream starts from the empty seed until
// the creator seeds it.
func NewEntity(pool *StringInternPool) *Entity {
	return &Entity{
		manager: NewNodeManager(pool),
		random:  NewRandomStream(""),
	}
}

// Manager returns the entity's private node manager.
func (e *Entity) Manager() *NodeManager {
	return e.manager
}

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// ID returns the entity's interned id, NotAStringID when unnamed.
func (e *Entity) ID() StringID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.id
}

// IDString returns the entity's id as a string.
func (e *Entity) IDString() string {
	return e.manager.StringPool().GetStringFromID(e.ID())
}

// setID stores a new id, handing the reference to the entity.
func (e *Entity) setID(id StringID) {
	pool := e.manager.StringPool()
	e.mu.Lock()
	if e.id != NotAStringID {
		pool.DestroyStringReference(e.id)
	}
	e.id = id
	e.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Root management
// ---------------------------------------------------------------------------

// SetRoot attaches a tree as the entity's root. The tree must already
// live in this entity's manager; when the reference is not unique, a
// deep copy is attached instead so the entity remains the sole owner.
// The previous root, if any, is released.
func (e *Entity) SetRoot(code NodeReference) {
	root := code.Node
	if root != nil && !code.Unique {
		root = e.manager.DeepAllocCopy(root, KeepMetadata).Node
	}
	e.mu.Lock()
	old := e.root
	e.root = root
	e.mu.Unlock()

	if root != nil {
		e.manager.KeepNodeReferences(root)
	}
	if old != nil {
		e.manager.FreeNodeReferences(old)
		e.manager.FreeNodeTree(old)
	}
}

// GetRoot returns the entity's root node.
func (e *Entity) GetRoot() *EvaluableNode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.root
}

// GetRootCopy deep-copies the root into the given manager (which may
// belong to another entity).
func (e *Entity) GetRootCopy(dest *NodeManager) NodeReference {
	e.mu.RLock()
	root := e.root
	e.mu.RUnlock()
	if root == nil {
		return NullReference()
	}
	return dest.DeepAllocCopy(root, KeepMetadata)
}

// FindLabeledNode returns the node carrying the given label anywhere in
// the root tree, or nil. Traversal is cycle-safe when required.
func (e *Entity) FindLabeledNode(label StringID) *EvaluableNode {
	root := e.GetRoot()
	if root == nil {
		return nil
	}
	var visited map[*EvaluableNode]struct{}
	if root.GetNeedCycleCheck() {
		visited = make(map[*EvaluableNode]struct{})
	}
	return findLabelRecurse(root, label, visited)
}

func findLabelRecurse(n *EvaluableNode, label StringID, visited map[*EvaluableNode]struct{}) *EvaluableNode {
	if n == nil {
		return nil
	}
	if visited != nil {
		if _, seen := visited[n]; seen {
			return nil
		}
		visited[n] = struct{}{}
	}
	if n.HasLabel(label) {
		return n
	}
	for _, c := range n.ordered {
		if found := findLabelRecurse(c, label, visited); found != nil {
			return found
		}
	}
	for _, c := range n.mapped {
		if found := findLabelRecurse(c, label, visited); found != nil {
			return found
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Random state
// ---------------------------------------------------------------------------

// SetRandomState reseeds the entity's stream. When deepSet is true,
// contained entities are reseeded with derived streams.
func (e *Entity) SetRandomState(seed string, deepSet bool) {
	e.mu.Lock()
	e.random = NewRandomStream(seed)
	contained := e.contained
	e.mu.Unlock()

	if deepSet {
		for _, c := range contained {
			e.mu.Lock()
			childSeed := e.random.CreateOtherStreamStateViaString(c.IDString())
			e.mu.Unlock()
			c.SetRandomState(childSeed, true)
		}
	}
}

// GetRandomSeed returns the entity's current seed string.
func (e *Entity) GetRandomSeed() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.random.Seed()
}

// CreateRandomStreamFromStringAndRand derives a fresh seed for a child
// discriminated by s, advancing this entity's stream.
func (e *Entity) CreateRandomStreamFromStringAndRand(s string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.random.CreateOtherStreamStateViaString(s)
}

// RandomStreamForExecution returns a stream derived from the entity's
// current state for use by an interpreter run.
func (e *Entity) RandomStreamForExecution() RandomStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.random.CreateOtherStreamViaString("execution")
}

// ---------------------------------------------------------------------------
// Containment
// ---------------------------------------------------------------------------

// GetContainer returns the containing entity, nil at the top.
func (e *Entity) GetContainer() *Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.container
}

// GetContainedEntities returns the ordered contained entities. The
// returned slice is a copy safe for iteration while mutations occur.
func (e *Entity) GetContainedEntities() []*Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Entity, len(e.contained))
	copy(out, e.contained)
	return out
}

// AddContainedEntity attaches child under the given id. An empty id is
// replaced with a random one so every contained entity is addressable.
// The id is interned into the child's pool (shared process-wide).
func (e *Entity) AddContainedEntity(child *Entity, id string) {
	if child == nil {
		return
	}
	if id == "" {
		id = uuid.NewString()
	}
	pool := e.manager.StringPool()
	child.setID(pool.CreateStringReference(id))

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.byID == nil {
		e.byID = make(map[StringID]*Entity)
	}
	e.contained = append(e.contained, child)
	e.byID[child.id] = child
	child.container = e
}

// RemoveContainedEntity detaches child, leaving it containerless.
func (e *Entity) RemoveContainedEntity(child *Entity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, c := range e.contained {
		if c == child {
			e.contained = append(e.contained[:i], e.contained[i+1:]...)
			break
		}
	}
	delete(e.byID, child.id)
	child.container = nil
}

// GetContainedEntity looks a direct child up by id string.
func (e *Entity) GetContainedEntity(id string) *Entity {
	sid := e.manager.StringPool().GetStringID(id)
	if sid == NotAStringID {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byID[sid]
}

// GetNumContainedEntitiesDeep counts all transitively contained
// entities.
func (e *Entity) GetNumContainedEntitiesDeep() int64 {
	var total int64
	for _, c := range e.GetContainedEntities() {
		total += 1 + c.GetNumContainedEntitiesDeep()
	}
	return total
}

// DoesDeepContainEntity reports whether other is transitively contained
// in e.
func (e *Entity) DoesDeepContainEntity(other *Entity) bool {
	for cur := other; cur != nil; cur = cur.GetContainer() {
		if cur.GetContainer() == e {
			return true
		}
	}
	return false
}

// TraverseToContainedEntityViaPath resolves an id path (a single string
// node or a list of string nodes) relative to e. A null path resolves to
// e itself; a missing segment resolves to nil.
func (e *Entity) TraverseToContainedEntityViaPath(pool *StringInternPool, path *EvaluableNode) *Entity {
	if IsNilNode(path) {
		return e
	}
	cur := e
	step := func(idNode *EvaluableNode) bool {
		if cur == nil || IsNilNode(idNode) {
			return false
		}
		s, ok := ToStringValue(pool, idNode)
		if !ok {
			return false
		}
		cur = cur.GetContainedEntity(s)
		return cur != nil
	}
	if path.Type().UsesOrderedData() && path.Type() != OpString && path.Type() != OpSymbol {
		for _, seg := range path.OrderedChildNodes() {
			if !step(seg) {
				return nil
			}
		}
		return cur
	}
	if !step(path) {
		return nil
	}
	return cur
}

// Destroy detaches and releases the entity's resources: contained
// entities first, then the root tree and id.
func (e *Entity) Destroy() {
	for _, c := range e.GetContainedEntities() {
		e.RemoveContainedEntity(c)
		c.Destroy()
	}
	e.mu.Lock()
	root := e.root
	e.root = nil
	id := e.id
	e.id = NotAStringID
	e.mu.Unlock()

	if root != nil {
		e.manager.FreeNodeReferences(root)
		e.manager.FreeNodeTree(root)
	}
	if id != NotAStringID {
		e.manager.StringPool().DestroyStringReference(id)
	}
}
