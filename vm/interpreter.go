package vm

import (
	"io"
	"sync"
)

// SourceCodec parses and unparses textual source. The parser package
// provides the implementation; the interpreter only needs it for the
// parse/unparse opcodes, so it is injected rather than imported.
type SourceCodec interface {
	Parse(code string, m *NodeManager) (NodeReference, error)
	Unparse(n *EvaluableNode, pool *StringInternPool, pretty bool, sortKeys bool) string
}

// AssetSystem is the persistence surface the entity opcodes talk to.
// The assets package provides the implementation.
type AssetSystem interface {
	LoadResourceTree(path, fileType string, m *NodeManager) (NodeReference, error)
	StoreResourceTree(n *EvaluableNode, path, fileType string, m *NodeManager) error
	LoadEntityFromPath(path, fileType string, persistent bool, defaultSeed string, caller *Interpreter) (*Entity, error)
	StoreEntityToPath(e *Entity, path, fileType string) error
	CreateEntityMirror(e *Entity)
	DestroyEntityMirror(e *Entity)
	SetRootPermission(e *Entity, allowed bool)
	HasRootPermission(e *Entity) bool
}

// QueryEngine evaluates the entity-query opcode family over a set of
// contained entities. A nil engine resolves every query to null.
type QueryEngine interface {
	Query(i *Interpreter, n *EvaluableNode, container *Entity) NodeReference
}

// opcodeHandler is the uniform handler signature: interpreter state is
// explicit, the node is the operator with its operands as children, and
// the hint requests an allocation-free immediate result when possible.
type opcodeHandler func(*Interpreter, *EvaluableNode, bool) NodeReference

// opcodeDispatch is the dense opcode handler table, filled at init in
// the same order as the OpcodeType constants.
var opcodeDispatch [NumOpcodes]opcodeHandler

// Interpreter evaluates an opcode tree against a lexically scoped call
// stack. One interpreter runs one evaluation at a time; parallel child
// evaluation spawns child interpreters that share the call stack under
// a read-write mutex.
type Interpreter struct {
	manager      *NodeManager
	randomStream RandomStream

	writeListeners []EntityWriteListener
	printWriter    io.Writer

	performanceConstraints *PerformanceConstraints

	curEntity          *Entity
	callingInterpreter *Interpreter

	// the three parallel stacks; all pinned in the manager while an
	// evaluation is in flight
	callStack          *EvaluableNode
	opcodeStack        *EvaluableNode
	constructionStack  *EvaluableNode
	constructionFrames []constructionFrame

	// callStackMutex mediates shared access during parallel fan-out;
	// nil while single-threaded
	callStackMutex *sync.RWMutex

	// callStackUniqueAccessStartingDepth is the boundary between frames
	// shared with the spawning interpreter (below, read-locked) and
	// frames created by this interpreter (above, exclusively owned)
	callStackUniqueAccessStartingDepth int

	assets      AssetSystem
	codec       SourceCodec
	queryEngine QueryEngine
	workers     *WorkerPool
}

// NewInterpreter creates an interpreter over the given manager. The
// entity and calling interpreter may be nil for free-standing
// evaluation.
func NewInterpreter(m *NodeManager, randStream RandomStream,
	writeListeners []EntityWriteListener, printWriter io.Writer,
	constraints *PerformanceConstraints, entity *Entity,
	callingInterpreter *Interpreter) *Interpreter {

	i := &Interpreter{
		manager:                m,
		randomStream:           randStream,
		writeListeners:         writeListeners,
		printWriter:            printWriter,
		performanceConstraints: constraints,
		curEntity:              entity,
		callingInterpreter:     callingInterpreter,
	}
	if callingInterpreter != nil {
		i.assets = callingInterpreter.assets
		i.codec = callingInterpreter.codec
		i.queryEngine = callingInterpreter.queryEngine
		i.workers = callingInterpreter.workers
	}
	return i
}

// SetAssetSystem wires the persistence surface for entity opcodes.
func (i *Interpreter) SetAssetSystem(a AssetSystem) { i.assets = a }

// SetSourceCodec wires the parse/unparse implementation.
func (i *Interpreter) SetSourceCodec(c SourceCodec) { i.codec = c }

// SetQueryEngine wires the entity-query engine.
func (i *Interpreter) SetQueryEngine(q QueryEngine) { i.queryEngine = q }

// SetWorkerPool wires the pool used for parallel child evaluation.
func (i *Interpreter) SetWorkerPool(w *WorkerPool) { i.workers = w }

// Manager returns the node manager this interpreter allocates from.
func (i *Interpreter) Manager() *NodeManager { return i.manager }

// StringPool returns the intern pool.
func (i *Interpreter) StringPool() *StringInternPool { return i.manager.StringPool() }

// CurrentEntity returns the entity this interpreter executes on behalf
// of, nil for free-standing evaluation.
func (i *Interpreter) CurrentEntity() *Entity { return i.curEntity }

// ---------------------------------------------------------------------------
// Execution entry point
// ---------------------------------------------------------------------------

// ExecuteNode evaluates a tree. Any of the three stacks may be supplied
// to continue an enclosing evaluation (sandboxed and entity calls do
// this); absent stacks are allocated fresh. The call stack gains a
// single empty scope when created here. All stack nodes are flagged for
// cycle checking because scopes are mutated freely, and all three stacks
// are pinned in the manager so mid-evaluation collection cannot reclaim
// them or anything they reach.
func (i *Interpreter) ExecuteNode(en *EvaluableNode,
	callStack, opcodeStack, constructionStack *EvaluableNode,
	constructionFrames []constructionFrame,
	callStackWriteMutex *sync.RWMutex,
	immediateResult bool) NodeReference {

	if callStack == nil {
		i.callStackUniqueAccessStartingDepth = 0
	} else {
		i.callStackUniqueAccessStartingDepth = len(callStack.OrderedChildNodes())
	}
	i.callStackMutex = callStackWriteMutex

	if callStack == nil {
		callStack = i.manager.AllocNode(OpList)
		scope := i.manager.AllocNode(OpAssoc)
		scope.SetNeedCycleCheck(true)
		callStack.AppendOrderedChildNode(scope)
	}
	if opcodeStack == nil {
		opcodeStack = i.manager.AllocNode(OpList)
	}
	if constructionStack == nil {
		constructionStack = i.manager.AllocNode(OpList)
	}

	i.callStack = callStack
	i.opcodeStack = opcodeStack
	i.constructionStack = constructionStack
	if constructionFrames != nil {
		i.constructionFrames = append(i.constructionFrames[:0], constructionFrames...)
	}

	// scopes are mutated during evaluation, so anything attached to them
	// can alias; conservatively require cycle checking
	callStack.SetNeedCycleCheck(true)
	for _, scope := range callStack.OrderedChildNodes() {
		scope.SetNeedCycleCheck(true)
	}
	opcodeStack.SetNeedCycleCheck(true)
	constructionStack.SetNeedCycleCheck(true)

	i.manager.KeepNodeReferences(callStack, opcodeStack, constructionStack)

	retval := i.InterpretNode(en, immediateResult)

	i.manager.FreeNodeReferences(callStack, opcodeStack, constructionStack)
	i.manager.FreeNode(opcodeStack)
	i.manager.FreeNode(constructionStack)

	return retval
}

// ConvertArgsToCallStack wraps an argument assoc in a fresh call stack
// list. Non-assoc or shared arguments are replaced with a fresh assoc so
// the callee owns its scope.
func ConvertArgsToCallStack(args NodeReference, m *NodeManager) NodeReference {
	if args.Node == nil || !args.Node.IsAssociativeArray() {
		args = NewNodeReference(m.AllocNode(OpAssoc), true)
	} else if !args.Unique {
		args = m.DeepAllocCopy(args.Node, RemoveMetadata)
	}

	callStack := m.AllocNode(OpList)
	callStack.AppendOrderedChildNode(args.Node)
	callStack.SetNeedCycleCheck(true)
	args.Node.SetNeedCycleCheck(true)
	return NewNodeReference(callStack, args.Unique)
}

// InterpretNode is the per-node evaluator: pin the node on the opcode
// stack, give the manager a collection tick, fail fast when any budget
// is spent, then dispatch to the handler for the node's kind.
func (i *Interpreter) InterpretNode(en *EvaluableNode, immediateResult bool) NodeReference {
	if IsNilNode(en) {
		return NullReference()
	}

	if i.opcodeStack == nil {
		// free-standing evaluation outside ExecuteNode pins a stack of its own
		i.opcodeStack = i.manager.AllocNode(OpList)
		i.manager.KeepNodeReferences(i.opcodeStack)
	}
	i.opcodeStack.AppendOrderedChildNode(en)

	i.manager.CollectGarbageIfNeeded()

	if i.AreExecutionResourcesExhausted(true) {
		i.popOpcodeStack()
		return NullReference()
	}

	handler := opcodeDispatch[en.Type()]
	retval := handler(i, en, immediateResult)

	i.popOpcodeStack()
	return retval
}

// interpretNodeForImmediateUse evaluates a child for a handler's internal
// consumption with the immediate hint set.
func (i *Interpreter) interpretNodeForImmediateUse(en *EvaluableNode) NodeReference {
	return i.InterpretNode(en, true)
}

func (i *Interpreter) popOpcodeStack() {
	n := i.opcodeStack.ordered
	i.opcodeStack.ordered = n[:len(n)-1]
}

// The opcode stack doubles as the pin set for in-flight work: a handler
// holding an intermediate across further sub-evaluations parks it on
// the stack so a collection tick cannot reclaim it.

// saveOpcodeStackDepth records the pin point for restoreOpcodeStack.
func (i *Interpreter) saveOpcodeStackDepth() int {
	return len(i.opcodeStack.ordered)
}

// pinNode parks an intermediate on the opcode stack.
func (i *Interpreter) pinNode(n *EvaluableNode) {
	if n != nil {
		i.opcodeStack.AppendOrderedChildNode(n)
	}
}

// restoreOpcodeStack drops every pin added since the matching save.
func (i *Interpreter) restoreOpcodeStack(depth int) {
	i.opcodeStack.ordered = i.opcodeStack.ordered[:depth]
}

func (i *Interpreter) opcodeStackNodes() []*EvaluableNode {
	if i.opcodeStack == nil {
		return nil
	}
	return i.opcodeStack.ordered
}

// ---------------------------------------------------------------------------
// Call stack access
// ---------------------------------------------------------------------------

func (i *Interpreter) callStackNodes() []*EvaluableNode {
	return i.callStack.ordered
}

// GetCurrentCallStackContext returns the top scope.
func (i *Interpreter) GetCurrentCallStackContext() *EvaluableNode {
	nodes := i.callStackNodes()
	if len(nodes) == 0 {
		return nil
	}
	return nodes[len(nodes)-1]
}

// PushNewCallStackContext pushes a scope node onto the call stack.
func (i *Interpreter) PushNewCallStackContext(scope *EvaluableNode) {
	scope.SetNeedCycleCheck(true)
	i.callStack.AppendOrderedChildNode(scope)
}

// PopCallStackContext removes and returns the top scope.
func (i *Interpreter) PopCallStackContext() *EvaluableNode {
	nodes := i.callStackNodes()
	if len(nodes) <= i.callStackUniqueAccessStartingDepth {
		panic("Interpreter: call stack popped below its owned depth")
	}
	top := nodes[len(nodes)-1]
	i.callStack.ordered = nodes[:len(nodes)-1]
	return top
}

// GetCallStackSymbolLocation walks scopes from top to bottom and returns
// the scope holding the symbol together with its stack index. In
// shared-stack mode the walkable range is restricted: includeUniqueAccess
// gates this interpreter's own frames (above the unique-access starting
// depth) and includeSharedAccess gates the frames shared with the
// spawning interpreter (below it, read-locked by the caller).
func (i *Interpreter) GetCallStackSymbolLocation(sid StringID,
	includeUniqueAccess, includeSharedAccess bool) (*EvaluableNode, int, bool) {

	nodes := i.callStackNodes()
	highest := len(nodes)
	lowest := 0
	if i.callStackMutex != nil {
		if !includeUniqueAccess {
			highest = i.callStackUniqueAccessStartingDepth
		}
		if !includeSharedAccess {
			lowest = i.callStackUniqueAccessStartingDepth
		}
	}

	for idx := highest; idx > lowest; idx-- {
		scope := nodes[idx-1]
		if _, ok := scope.GetMappedChildNode(sid); ok {
			return scope, idx - 1, true
		}
	}
	return nodes[len(nodes)-1], len(nodes) - 1, false
}

// GetOrCreateCallStackSymbolLocation finds the symbol's scope or creates
// the binding in the top frame.
func (i *Interpreter) GetOrCreateCallStackSymbolLocation(sid StringID) (*EvaluableNode, int) {
	nodes := i.callStackNodes()
	for idx := len(nodes); idx > 0; idx-- {
		scope := nodes[idx-1]
		if _, ok := scope.GetMappedChildNode(sid); ok {
			return scope, idx - 1
		}
	}
	top := nodes[len(nodes)-1]
	top.GetOrCreateMappedChildNode(i.StringPool(), sid)
	return top, len(nodes) - 1
}

// LookupSymbol resolves a symbol to its bound node, or nil when unbound.
func (i *Interpreter) LookupSymbol(sid StringID) *EvaluableNode {
	if i.callStackMutex != nil {
		i.callStackMutex.RLock()
		defer i.callStackMutex.RUnlock()
	}
	scope, _, found := i.GetCallStackSymbolLocation(sid, true, true)
	if !found {
		return nil
	}
	v, _ := scope.GetMappedChildNode(sid)
	return v
}

// setSymbol assigns to an existing binding where found, otherwise binds
// in the top frame. Writes below the unique-access depth take the write
// lock.
func (i *Interpreter) setSymbol(sid StringID, value *EvaluableNode) {
	if i.callStackMutex != nil {
		// try this interpreter's own frames first without locking
		scope, _, found := i.GetCallStackSymbolLocation(sid, true, false)
		if found {
			scope.SetMappedChildNode(i.StringPool(), i.StringPool().CreateIDReference(sid), value)
			return
		}
		i.callStackMutex.Lock()
		defer i.callStackMutex.Unlock()
		scope, _, found = i.GetCallStackSymbolLocation(sid, false, true)
		if !found {
			scope = i.GetCurrentCallStackContext()
		}
		scope.SetMappedChildNode(i.StringPool(), i.StringPool().CreateIDReference(sid), value)
		return
	}

	scope, _, found := i.GetCallStackSymbolLocation(sid, true, true)
	if !found {
		scope = i.GetCurrentCallStackContext()
	}
	scope.SetMappedChildNode(i.StringPool(), i.StringPool().CreateIDReference(sid), value)
}

// ---------------------------------------------------------------------------
// Write listener fan-out
// ---------------------------------------------------------------------------

// NotifyEntityWritten emits a write event to every listener and lets the
// asset system mirror persistent entities.
func (i *Interpreter) NotifyEntityWritten(kind WriteEventKind, e *Entity, change *EvaluableNode) {
	for _, l := range i.writeListeners {
		l.EntityWritten(kind, e, change)
	}
}

// ---------------------------------------------------------------------------
// Fallback handlers
// ---------------------------------------------------------------------------

// interpretNotImplemented covers opcodes whose math lives in external
// collaborators that are not wired in (distance metrics, crypto, tree
// merging); the dispatch contract is to evaluate to null.
func (i *Interpreter) interpretNotImplemented(en *EvaluableNode, immediateResult bool) NodeReference {
	return NullReference()
}

// interpretDeallocated fires only on memory-discipline bugs: a freed
// node reached the evaluator.
func (i *Interpreter) interpretDeallocated(en *EvaluableNode, immediateResult bool) NodeReference {
	panic("Interpreter: evaluated a deallocated node")
}
