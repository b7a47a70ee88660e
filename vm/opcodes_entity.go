package vm

import (
	"github.com/google/uuid"
)

// Entity lifecycle and access handlers. Every mutation of an entity root
// fans out to the write listeners, which is also how persistent entities
// get mirrored back to disk by the asset system's listener.

// resolveEntityPath evaluates child idx of en as an id path relative to
// the current entity.
func (i *Interpreter) resolveEntityPath(en *EvaluableNode, idx int) *Entity {
	if i.curEntity == nil {
		return nil
	}
	ocn := en.OrderedChildNodes()
	if idx >= len(ocn) {
		return i.curEntity
	}
	path := i.interpretNodeForImmediateUse(ocn[idx])
	defer i.manager.FreeNodeTreeIfPossible(path)
	materialized := i.materialize(path)
	target := i.curEntity.TraverseToContainedEntityViaPath(i.StringPool(), materialized.Node)
	if materialized.Node != path.Node {
		i.manager.FreeNodeTreeIfPossible(materialized)
	}
	return target
}

// checkEntityCreationBudget enforces the entity-creation ceilings for a
// new entity with the given id under container.
func (i *Interpreter) checkEntityCreationBudget(container *Entity, id string) bool {
	pc := i.performanceConstraints
	if pc == nil {
		return true
	}
	if pc.ConstrainMaxContainedEntities && pc.EntityToConstrainFrom != nil {
		if pc.EntityToConstrainFrom.GetNumContainedEntitiesDeep()+1 > pc.MaxContainedEntities {
			return false
		}
	}
	if pc.ConstrainMaxContainedEntityDepth && pc.EntityToConstrainFrom != nil {
		depth := int64(1)
		for e := container; e != nil && e != pc.EntityToConstrainFrom; e = e.GetContainer() {
			depth++
		}
		if depth > pc.MaxContainedEntityDepth {
			return false
		}
	}
	if pc.MaxEntityIdLength > 0 && int64(len(id)) > pc.MaxEntityIdLength {
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Entity details
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretGetEntityComments(en *EvaluableNode, immediateResult bool) NodeReference {
	target := i.resolveEntityPath(en, 0)
	if target == nil {
		return NullReference()
	}
	root := target.GetRoot()
	pool := i.StringPool()
	if root == nil || root.CommentsID() == NotAStringID {
		return NewNodeReference(i.manager.AllocStringNode(""), true)
	}
	return NewNodeReference(i.manager.AllocStringNodeWithHandoff(OpString,
		pool.CreateIDReference(root.CommentsID())), true)
}

func (i *Interpreter) interpretRetrieveEntityRoot(en *EvaluableNode, immediateResult bool) NodeReference {
	target := i.resolveEntityPath(en, 0)
	if target == nil {
		return NullReference()
	}
	return target.GetRootCopy(i.manager)
}

func (i *Interpreter) interpretAssignEntityRoots(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	codeIdx := 0
	target := i.curEntity
	if len(ocn) > 1 {
		target = i.resolveEntityPath(en, 0)
		codeIdx = 1
	}
	if target == nil || codeIdx >= len(ocn) {
		return i.boolResult(false, immediateResult)
	}

	code := i.InterpretNode(ocn[codeIdx], false)
	newRoot := target.Manager().DeepAllocCopy(code.Node, KeepMetadata)
	i.manager.FreeNodeTreeIfPossible(code)

	if en.Type() == OpAccumEntityRoots {
		root := target.GetRoot()
		if root != nil && newRoot.Node != nil {
			merged := i.accumulateNode(root, newRoot.Node)
			target.SetRoot(NewNodeReference(merged, true))
		} else if newRoot.Node != nil {
			target.SetRoot(newRoot)
		}
		i.NotifyEntityWritten(WriteAccum, target, newRoot.Node)
		return i.boolResult(true, immediateResult)
	}

	target.SetRoot(newRoot)
	i.NotifyEntityWritten(WriteAssign, target, newRoot.Node)
	return i.boolResult(true, immediateResult)
}

func (i *Interpreter) interpretGetEntityRandSeed(en *EvaluableNode, immediateResult bool) NodeReference {
	target := i.resolveEntityPath(en, 0)
	if target == nil {
		return NullReference()
	}
	return NewNodeReference(i.manager.AllocStringNode(target.GetRandomSeed()), true)
}

func (i *Interpreter) interpretSetEntityRandSeed(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	seedIdx := 0
	target := i.curEntity
	if len(ocn) > 1 {
		target = i.resolveEntityPath(en, 0)
		seedIdx = 1
	}
	if target == nil {
		return NullReference()
	}
	seed, ok := i.InterpretNodeIntoStringValue(ocn[seedIdx])
	if !ok {
		return NullReference()
	}
	target.SetRandomState(seed, true)
	i.NotifyEntityWritten(WriteSetRandSeed, target, nil)
	return NewNodeReference(i.manager.AllocStringNode(seed), true)
}

func (i *Interpreter) interpretGetEntityRootPermission(en *EvaluableNode, immediateResult bool) NodeReference {
	target := i.resolveEntityPath(en, 0)
	if target == nil || i.assets == nil {
		return i.boolResult(false, immediateResult)
	}
	return i.boolResult(i.assets.HasRootPermission(target), immediateResult)
}

func (i *Interpreter) interpretSetEntityRootPermission(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 || i.assets == nil {
		return i.boolResult(false, immediateResult)
	}
	// only an entity that already has root permission may grant it
	if i.curEntity == nil || !i.assets.HasRootPermission(i.curEntity) {
		return i.boolResult(false, immediateResult)
	}
	target := i.resolveEntityPath(en, 0)
	if target == nil {
		return i.boolResult(false, immediateResult)
	}
	allowed := i.InterpretNodeIntoBoolValue(ocn[1], false)
	i.assets.SetRootPermission(target, allowed)
	return i.boolResult(allowed, immediateResult)
}

// ---------------------------------------------------------------------------
// Entity base actions
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretCreateEntities(en *EvaluableNode, immediateResult bool) NodeReference {
	if i.curEntity == nil {
		return NullReference()
	}
	ocn := en.OrderedChildNodes()

	out := i.manager.AllocNode(OpList)
	// pairs of (id-path, code); a single operand is code for an
	// auto-named entity
	idx := 0
	for idx < len(ocn) {
		var id string
		container := i.curEntity
		codeIdx := idx

		if idx+1 < len(ocn) {
			if s, ok := i.InterpretNodeIntoStringValue(ocn[idx]); ok {
				id = s
			}
			codeIdx = idx + 1
			idx += 2
		} else {
			idx++
		}
		if id == "" {
			id = uuid.NewString()
		}
		if !i.checkEntityCreationBudget(container, id) {
			out.AppendOrderedChildNode(nil)
			continue
		}

		newEntity := NewEntity(i.StringPool())
		code := i.InterpretNode(ocn[codeIdx], false)
		newEntity.SetRoot(newEntity.Manager().DeepAllocCopy(code.Node, KeepMetadata))
		i.manager.FreeNodeTreeIfPossible(code)
		newEntity.SetRandomState(container.CreateRandomStreamFromStringAndRand(id), false)

		container.AddContainedEntity(newEntity, id)
		i.NotifyEntityWritten(WriteCreate, newEntity, newEntity.GetRoot())
		if i.assets != nil {
			i.assets.CreateEntityMirror(newEntity)
		}
		out.AppendOrderedChildNode(i.manager.AllocStringNode(newEntity.IDString()))
	}
	return NewNodeReference(out, true)
}

func (i *Interpreter) interpretCloneEntities(en *EvaluableNode, immediateResult bool) NodeReference {
	source := i.resolveEntityPath(en, 0)
	if source == nil || i.curEntity == nil {
		return NullReference()
	}
	ocn := en.OrderedChildNodes()
	id := ""
	if len(ocn) > 1 {
		if s, ok := i.InterpretNodeIntoStringValue(ocn[1]); ok {
			id = s
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	if !i.checkEntityCreationBudget(i.curEntity, id) {
		return NullReference()
	}

	clone := NewEntity(i.StringPool())
	clone.SetRoot(source.GetRootCopy(clone.Manager()))
	clone.SetRandomState(i.curEntity.CreateRandomStreamFromStringAndRand(id), false)
	for _, child := range source.GetContainedEntities() {
		childClone := NewEntity(i.StringPool())
		childClone.SetRoot(child.GetRootCopy(childClone.Manager()))
		childClone.SetRandomState(clone.CreateRandomStreamFromStringAndRand(child.IDString()), false)
		clone.AddContainedEntity(childClone, child.IDString())
	}

	i.curEntity.AddContainedEntity(clone, id)
	i.NotifyEntityWritten(WriteClone, clone, clone.GetRoot())
	if i.assets != nil {
		i.assets.CreateEntityMirror(clone)
	}
	return NewNodeReference(i.manager.AllocStringNode(clone.IDString()), true)
}

func (i *Interpreter) interpretMoveEntities(en *EvaluableNode, immediateResult bool) NodeReference {
	source := i.resolveEntityPath(en, 0)
	if source == nil || source == i.curEntity {
		return NullReference()
	}
	dest := i.resolveEntityPath(en, 1)
	if dest == nil {
		return NullReference()
	}
	container := source.GetContainer()
	if container == nil {
		return NullReference()
	}

	if i.assets != nil {
		i.assets.DestroyEntityMirror(source)
	}
	id := source.IDString()
	container.RemoveContainedEntity(source)
	dest.AddContainedEntity(source, id)
	i.NotifyEntityWritten(WriteMove, source, nil)
	if i.assets != nil {
		i.assets.CreateEntityMirror(source)
	}
	return NewNodeReference(i.manager.AllocStringNode(id), true)
}

func (i *Interpreter) interpretDestroyEntities(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	destroyed := false
	for idx := range ocn {
		target := i.resolveEntityPath(en, idx)
		if target == nil || target == i.curEntity {
			continue
		}
		if i.assets != nil {
			i.assets.DestroyEntityMirror(target)
			i.assets.SetRootPermission(target, false)
		}
		if container := target.GetContainer(); container != nil {
			container.RemoveContainedEntity(target)
		}
		i.NotifyEntityWritten(WriteDestroy, target, nil)
		target.Destroy()
		destroyed = true
	}
	return i.boolResult(destroyed, immediateResult)
}

// ---------------------------------------------------------------------------
// load / store
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretLoad(en *EvaluableNode, immediateResult bool) NodeReference {
	if i.assets == nil {
		return NullReference()
	}
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	path, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return NullReference()
	}
	tree, err := i.assets.LoadResourceTree(path, "", i.manager)
	if err != nil {
		return NullReference()
	}
	return tree
}

func (i *Interpreter) interpretLoadEntity(en *EvaluableNode, immediateResult bool) NodeReference {
	if i.assets == nil || i.curEntity == nil {
		return NullReference()
	}
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	path, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return NullReference()
	}
	id := ""
	if len(ocn) > 1 {
		if s, sok := i.InterpretNodeIntoStringValue(ocn[1]); sok {
			id = s
		}
	}
	persistent := en.Type() == OpLoadPersistentEntity

	seed := i.curEntity.CreateRandomStreamFromStringAndRand(path)
	loaded, err := i.assets.LoadEntityFromPath(path, "", persistent, seed, i)
	if err != nil || loaded == nil {
		return NullReference()
	}
	i.curEntity.AddContainedEntity(loaded, id)
	return NewNodeReference(i.manager.AllocStringNode(loaded.IDString()), true)
}

func (i *Interpreter) interpretStore(en *EvaluableNode, immediateResult bool) NodeReference {
	if i.assets == nil {
		return i.boolResult(false, immediateResult)
	}
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return i.boolResult(false, immediateResult)
	}
	path, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return i.boolResult(false, immediateResult)
	}
	tree := i.InterpretNode(ocn[1], false)
	err := i.assets.StoreResourceTree(tree.Node, path, "", i.manager)
	i.manager.FreeNodeTreeIfPossible(tree)
	return i.boolResult(err == nil, immediateResult)
}

func (i *Interpreter) interpretStoreEntity(en *EvaluableNode, immediateResult bool) NodeReference {
	if i.assets == nil {
		return i.boolResult(false, immediateResult)
	}
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.boolResult(false, immediateResult)
	}
	path, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return i.boolResult(false, immediateResult)
	}
	target := i.curEntity
	if len(ocn) > 1 {
		target = i.resolveEntityPath(en, 1)
	}
	if target == nil {
		return i.boolResult(false, immediateResult)
	}
	err := i.assets.StoreEntityToPath(target, path, "")
	return i.boolResult(err == nil, immediateResult)
}

func (i *Interpreter) interpretContainsEntity(en *EvaluableNode, immediateResult bool) NodeReference {
	target := i.resolveEntityPath(en, 0)
	return i.boolResult(target != nil && target != i.curEntity, immediateResult)
}

// ---------------------------------------------------------------------------
// Entity queries
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretContainedEntities(en *EvaluableNode, immediateResult bool) NodeReference {
	target := i.resolveEntityPath(en, 0)
	if target == nil {
		return NullReference()
	}
	out := i.manager.AllocNode(OpList)
	for _, child := range target.GetContainedEntities() {
		out.AppendOrderedChildNode(i.manager.AllocStringNode(child.IDString()))
	}
	return NewNodeReference(out, true)
}

func (i *Interpreter) interpretQuery(en *EvaluableNode, immediateResult bool) NodeReference {
	if i.queryEngine == nil || i.curEntity == nil {
		return NullReference()
	}
	return i.queryEngine.Query(i, en, i.curEntity)
}

// ---------------------------------------------------------------------------
// Entity access
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretContainsLabel(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	labelIdx := 0
	target := i.curEntity
	if len(ocn) > 1 {
		target = i.resolveEntityPath(en, 0)
		labelIdx = 1
	}
	if target == nil || labelIdx >= len(ocn) {
		return i.boolResult(false, immediateResult)
	}
	label, ok := i.InterpretNodeIntoStringValue(ocn[labelIdx])
	if !ok {
		return i.boolResult(false, immediateResult)
	}
	sid := i.StringPool().GetStringID(label)
	return i.boolResult(sid != NotAStringID && target.FindLabeledNode(sid) != nil, immediateResult)
}

// interpretAssignToEntities handles assign_to_entities,
// direct_assign_to_entities, and accum_to_entities: an assoc of
// label -> value written onto the labeled nodes of the target entity's
// root.
func (i *Interpreter) interpretAssignToEntities(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	assignIdx := 0
	target := i.curEntity
	if len(ocn) > 1 {
		target = i.resolveEntityPath(en, 0)
		assignIdx = 1
	}
	if target == nil || assignIdx >= len(ocn) {
		return i.boolResult(false, immediateResult)
	}
	accum := en.Type() == OpAccumToEntities

	assignments := i.interpretNodeForImmediateUse(ocn[assignIdx])
	defer i.manager.FreeNodeTreeIfPossible(assignments)
	if assignments.Node == nil || !assignments.Node.IsAssociativeArray() {
		return i.boolResult(false, immediateResult)
	}

	pool := i.StringPool()
	allAssigned := true
	for labelID, value := range assignments.Node.MappedChildNodes() {
		labeled := target.FindLabeledNode(labelID)
		if labeled == nil {
			allAssigned = false
			continue
		}
		// copy the value into the entity's own pool
		attached := target.Manager().DeepAllocCopy(value, RemoveMetadata).Node
		if accum {
			i.accumulateNode(labeled, attached)
		} else {
			labels := labeled.labels
			comments := labeled.comments
			labeled.labels = nil
			labeled.comments = NotAStringID
			i.setNodeType(labeled, attached.Type())
			labeled.number = attached.number
			if attached.stringID != NotAStringID {
				labeled.stringID = pool.CreateIDReference(attached.stringID)
			}
			labeled.ordered = attached.ordered
			labeled.mapped = attached.mapped
			labeled.labels = labels
			labeled.comments = comments
		}
	}

	kind := WriteAssign
	if accum {
		kind = WriteAccum
	}
	i.NotifyEntityWritten(kind, target, assignments.Node)
	return i.boolResult(allAssigned, immediateResult)
}

func (i *Interpreter) interpretRetrieveFromEntity(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	labelIdx := 0
	target := i.curEntity
	if len(ocn) > 1 {
		target = i.resolveEntityPath(en, 0)
		labelIdx = 1
	}
	if target == nil || labelIdx >= len(ocn) {
		return NullReference()
	}
	pool := i.StringPool()

	retrieve := func(labelNode *EvaluableNode) NodeReference {
		label, ok := ToStringValue(pool, labelNode)
		if !ok {
			return NullReference()
		}
		sid := pool.GetStringID(label)
		if sid == NotAStringID {
			return NullReference()
		}
		labeled := target.FindLabeledNode(sid)
		if labeled == nil {
			return NullReference()
		}
		return i.manager.DeepAllocCopy(labeled, RemoveMetadata)
	}

	labels := i.interpretNodeForImmediateUse(ocn[labelIdx])
	defer i.manager.FreeNodeTreeIfPossible(labels)
	materialized := i.materialize(labels)

	if materialized.Node != nil && materialized.Node.Type().UsesOrderedData() &&
		!materialized.Node.IsImmediate() {
		out := i.manager.AllocNode(OpList)
		for _, l := range materialized.Node.OrderedChildNodes() {
			out.AppendOrderedChildNode(retrieve(l).Node)
		}
		return NewNodeReference(out, true)
	}
	return retrieve(materialized.Node)
}

// ---------------------------------------------------------------------------
// Entity calls
// ---------------------------------------------------------------------------

// interpretCallEntity executes a labeled node (or the root) of another
// entity on a child interpreter over that entity's own pool, composing
// the caller's budgets. The result is deep-copied back into the caller's
// pool; trees never cross entity boundaries.
func (i *Interpreter) interpretCallEntity(en *EvaluableNode, immediateResult bool) NodeReference {
	target := i.resolveEntityPath(en, 0)
	if target == nil {
		return NullReference()
	}
	return i.callEntityCommon(en, target, 1, immediateResult)
}

func (i *Interpreter) interpretCallContainer(en *EvaluableNode, immediateResult bool) NodeReference {
	if i.curEntity == nil {
		return NullReference()
	}
	container := i.curEntity.GetContainer()
	if container == nil {
		return NullReference()
	}
	return i.callEntityCommon(en, container, 0, immediateResult)
}

func (i *Interpreter) callEntityCommon(en *EvaluableNode, target *Entity,
	labelIdx int, immediateResult bool) NodeReference {

	ocn := en.OrderedChildNodes()

	var toExecute *EvaluableNode
	if labelIdx < len(ocn) {
		if label, ok := i.InterpretNodeIntoStringValue(ocn[labelIdx]); ok && label != "" {
			sid := i.StringPool().GetStringID(label)
			if sid == NotAStringID {
				return NullReference()
			}
			toExecute = target.FindLabeledNode(sid)
		}
	}
	if toExecute == nil {
		toExecute = target.GetRoot()
	}
	if toExecute == nil {
		return NullReference()
	}

	// args are copied into the target's pool
	var args NodeReference
	if labelIdx+1 < len(ocn) {
		callerArgs := i.InterpretNode(ocn[labelIdx+1], false)
		if callerArgs.Node != nil {
			args = target.Manager().DeepAllocCopy(callerArgs.Node, RemoveMetadata)
		}
		i.manager.FreeNodeTreeIfPossible(callerArgs)
	}

	var childConstraintsPtr *PerformanceConstraints
	childConstraints := &PerformanceConstraints{}
	if i.PopulatePerformanceConstraintsFromParams(ocn, labelIdx+2, childConstraints, true) {
		childConstraintsPtr = childConstraints
	}
	i.PopulatePerformanceCounters(childConstraintsPtr, target)

	callStack := ConvertArgsToCallStack(args, target.Manager())

	child := NewInterpreter(target.Manager(), target.RandomStreamForExecution(),
		i.writeListeners, i.printWriter, childConstraintsPtr, target, i)

	result := child.ExecuteNode(toExecute, callStack.Node, nil, nil, nil, nil, false)
	i.chargeChildExecution(childConstraintsPtr)
	if isControlFlowMarker(result) {
		result = child.unwrapControlFlowMarker(result)
	}

	// copy the result home before the target pool can reuse it
	home := i.manager.DeepAllocCopy(result.Node, KeepMetadata)
	target.Manager().FreeNodeTreeIfPossible(result)
	target.Manager().FreeNodeTree(callStack.Node)
	return home
}
