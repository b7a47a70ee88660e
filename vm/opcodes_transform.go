package vm

import "sort"

// Transformation handlers: the iterator-shaped opcodes that drive the
// construction stack, plus associative manipulation.

// evaluatedCollection evaluates child idx of en and returns it, or a
// null reference when absent.
func (i *Interpreter) evaluatedCollection(en *EvaluableNode, idx int) NodeReference {
	ocn := en.OrderedChildNodes()
	if idx >= len(ocn) {
		return NullReference()
	}
	return i.InterpretNode(ocn[idx], false)
}

func (i *Interpreter) interpretMap(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	function := i.interpretNodeForImmediateUse(ocn[0])
	i.pinNode(function.Node)
	collection := i.evaluatedCollection(en, 1)
	if collection.Node == nil {
		i.restoreOpcodeStack(pinDepth)
		i.manager.FreeNodeTreeIfPossible(function)
		return NullReference()
	}
	i.pinNode(collection.Node)
	defer i.restoreOpcodeStack(pinDepth)

	result := NewNodeReference(nil, true)
	if collection.Node.IsAssociativeArray() {
		out := i.manager.AllocNode(OpAssoc)
		result.Node = out
		i.PushNewConstructionContext(out, ImmediateFromStringID(NotAStringID), nil, NullReference())
		pool := i.StringPool()
		for sid, v := range collection.Node.MappedChildNodes() {
			i.SetTopCurrentIndexInConstructionStack(ImmediateFromStringID(sid))
			i.SetTopCurrentValueInConstructionStack(v)
			mapped := i.InterpretNode(function.Node, false)
			out.SetMappedChildNode(pool, pool.CreateIDReference(sid), mapped.Node)
			result.UpdatePropertiesBasedOnAttachedNode(mapped)
		}
		i.PopConstructionContextAndGetExecutionSideEffectFlag()
	} else {
		out := i.manager.AllocNode(OpList)
		result.Node = out
		i.PushNewConstructionContext(out, ImmediateFromNumber(0), nil, NullReference())
		for idx, v := range collection.Node.OrderedChildNodes() {
			i.SetTopCurrentIndexInConstructionStack(ImmediateFromNumber(float64(idx)))
			i.SetTopCurrentValueInConstructionStack(v)
			mapped := i.InterpretNode(function.Node, false)
			out.AppendOrderedChildNode(mapped.Node)
			result.UpdatePropertiesBasedOnAttachedNode(mapped)
		}
		i.PopConstructionContextAndGetExecutionSideEffectFlag()
	}

	// only reclaim the source when no element escaped into the result
	if result.Unique {
		i.manager.FreeNodeTreeIfPossible(collection)
	}
	i.manager.FreeNodeTreeIfPossible(function)
	return result
}

func (i *Interpreter) interpretFilter(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}

	// single operand form: filter out nulls
	pinDepth := i.saveOpcodeStackDepth()
	var function NodeReference
	collectionIdx := 0
	if len(ocn) > 1 {
		function = i.interpretNodeForImmediateUse(ocn[0])
		i.pinNode(function.Node)
		collectionIdx = 1
	}
	collection := i.evaluatedCollection(en, collectionIdx)
	if collection.Node == nil {
		i.restoreOpcodeStack(pinDepth)
		i.manager.FreeNodeTreeIfPossible(function)
		return NullReference()
	}
	i.pinNode(collection.Node)
	defer i.restoreOpcodeStack(pinDepth)

	keep := func(index ImmediateValueWithType, v *EvaluableNode) bool {
		if function.Node == nil {
			return !IsNilNode(v)
		}
		i.SetTopCurrentIndexInConstructionStack(index)
		i.SetTopCurrentValueInConstructionStack(v)
		return i.InterpretNodeIntoBoolValue(function.Node, false)
	}

	result := NewNodeReference(nil, true)
	pool := i.StringPool()
	if collection.Node.IsAssociativeArray() {
		out := i.manager.AllocNode(OpAssoc)
		result.Node = out
		i.PushNewConstructionContext(out, ImmediateFromStringID(NotAStringID), nil, NullReference())
		for sid, v := range collection.Node.MappedChildNodes() {
			if keep(ImmediateFromStringID(sid), v) {
				out.SetMappedChildNode(pool, pool.CreateIDReference(sid), v)
				result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(v, collection.Unique))
			}
		}
		i.PopConstructionContextAndGetExecutionSideEffectFlag()
	} else {
		out := i.manager.AllocNode(OpList)
		result.Node = out
		i.PushNewConstructionContext(out, ImmediateFromNumber(0), nil, NullReference())
		for idx, v := range collection.Node.OrderedChildNodes() {
			if keep(ImmediateFromNumber(float64(idx)), v) {
				out.AppendOrderedChildNode(v)
				result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(v, collection.Unique))
			}
		}
		i.PopConstructionContextAndGetExecutionSideEffectFlag()
	}

	i.manager.FreeNodeTreeIfPossible(function)
	return result
}

func (i *Interpreter) interpretReduce(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	function := i.interpretNodeForImmediateUse(ocn[0])
	i.pinNode(function.Node)
	collection := i.evaluatedCollection(en, 1)
	if collection.Node == nil || function.Node == nil {
		i.restoreOpcodeStack(pinDepth)
		i.manager.FreeNodeTreeIfPossible(function)
		i.manager.FreeNodeTreeIfPossible(collection)
		return NullReference()
	}
	i.pinNode(collection.Node)
	defer i.restoreOpcodeStack(pinDepth)

	var elements []*EvaluableNode
	var indices []ImmediateValueWithType
	if collection.Node.IsAssociativeArray() {
		for sid, v := range collection.Node.MappedChildNodes() {
			elements = append(elements, v)
			indices = append(indices, ImmediateFromStringID(sid))
		}
	} else {
		for idx, v := range collection.Node.OrderedChildNodes() {
			elements = append(elements, v)
			indices = append(indices, ImmediateFromNumber(float64(idx)))
		}
	}
	if len(elements) == 0 {
		i.manager.FreeNodeTreeIfPossible(function)
		return NullReference()
	}

	running := NewNodeReference(elements[0], false)
	i.PushNewConstructionContext(collection.Node, indices[0], nil, NullReference())
	for idx := 1; idx < len(elements); idx++ {
		i.SetTopPreviousResultInConstructionStack(running)
		i.SetTopCurrentIndexInConstructionStack(indices[idx])
		i.SetTopCurrentValueInConstructionStack(elements[idx])
		running = i.InterpretNode(function.Node, false)
	}
	i.PopConstructionContextAndGetExecutionSideEffectFlag()

	i.manager.FreeNodeTreeIfPossible(function)
	return running
}

func (i *Interpreter) interpretApply(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	typeName, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return NullReference()
	}
	t, known := OpcodeFromName(typeName)
	if !known {
		return NullReference()
	}
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[1], false))
	if operand.Node == nil {
		return NullReference()
	}
	// retype the collection as the target opcode, then evaluate it
	i.setNodeType(operand.Node, t)
	result := i.InterpretNode(operand.Node, immediateResult)
	if !result.IsImmediateValue() && result.Node == operand.Node {
		return result
	}
	i.manager.FreeNodeTreeIfPossible(operand)
	return result
}

func (i *Interpreter) interpretReverse(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[0], false))
	if operand.Node == nil || !operand.Node.Type().UsesOrderedData() {
		return operand
	}
	children := operand.Node.ordered
	for a, b := 0, len(children)-1; a < b; a, b = a+1, b-1 {
		children[a], children[b] = children[b], children[a]
	}
	return operand
}

func (i *Interpreter) interpretSort(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	// optional leading comparison function is not consulted in the
	// default engine; numeric-then-string ordering applies
	collectionIdx := len(ocn) - 1
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[collectionIdx], false))
	if operand.Node == nil || !operand.Node.Type().UsesOrderedData() {
		return operand
	}
	pool := i.StringPool()
	children := operand.Node.ordered
	sort.SliceStable(children, func(a, b int) bool {
		av := ToNumber(pool, children[a])
		bv := ToNumber(pool, children[b])
		if av == av && bv == bv {
			return av < bv
		}
		as, _ := ToStringValue(pool, children[a])
		bs, _ := ToStringValue(pool, children[b])
		return as < bs
	})
	return operand
}

func (i *Interpreter) interpretWeave(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	pinDepth := i.saveOpcodeStackDepth()
	defer i.restoreOpcodeStack(pinDepth)
	var lists []NodeReference
	for idx := range ocn {
		list := i.InterpretNode(ocn[idx], false)
		i.pinNode(list.Node)
		lists = append(lists, list)
	}
	out := i.manager.AllocNode(OpList)
	result := NewNodeReference(out, true)
	for pos := 0; ; pos++ {
		any := false
		for _, l := range lists {
			if l.Node == nil {
				continue
			}
			children := l.Node.OrderedChildNodes()
			if pos < len(children) {
				out.AppendOrderedChildNode(children[pos])
				result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(children[pos], l.Unique))
				any = true
			}
		}
		if !any {
			break
		}
	}
	return result
}

func (i *Interpreter) interpretRewrite(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	function := i.interpretNodeForImmediateUse(ocn[0])
	i.pinNode(function.Node)
	tree := i.InterpretNode(ocn[1], false)
	i.pinNode(tree.Node)
	defer i.restoreOpcodeStack(pinDepth)

	originalToNew := make(map[*EvaluableNode]*EvaluableNode)
	newToNewParent := make(map[*EvaluableNode]*EvaluableNode)

	i.PushNewConstructionContext(tree.Node, ImmediateFromNumber(0), nil, NullReference())
	result := i.RewriteByFunction(function, tree.Node, nil, originalToNew, newToNewParent)
	i.PopConstructionContextAndGetExecutionSideEffectFlag()

	i.manager.FreeNodeTreeIfPossible(function)
	i.manager.FreeNodeTreeIfPossible(tree)
	return result
}

// ---------------------------------------------------------------------------
// Associative manipulation
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretIndices(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.interpretNodeForImmediateUse(ocn[0])
	defer i.manager.FreeNodeTreeIfPossible(operand)
	out := i.manager.AllocNode(OpList)
	if operand.Node != nil {
		if operand.Node.IsAssociativeArray() {
			pool := i.StringPool()
			for sid := range operand.Node.MappedChildNodes() {
				out.AppendOrderedChildNode(i.manager.AllocStringNodeWithHandoff(OpString,
					pool.CreateIDReference(sid)))
			}
		} else {
			for idx := range operand.Node.OrderedChildNodes() {
				out.AppendOrderedChildNode(i.manager.AllocNumberNode(float64(idx)))
			}
		}
	}
	return NewNodeReference(out, true)
}

func (i *Interpreter) interpretValues(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.InterpretNode(ocn[0], false)
	out := i.manager.AllocNode(OpList)
	result := NewNodeReference(out, true)
	if operand.Node != nil {
		if operand.Node.IsAssociativeArray() {
			for _, v := range operand.Node.MappedChildNodes() {
				out.AppendOrderedChildNode(v)
				result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(v, operand.Unique))
			}
		} else {
			for _, v := range operand.Node.OrderedChildNodes() {
				out.AppendOrderedChildNode(v)
				result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(v, operand.Unique))
			}
		}
	}
	return result
}

func (i *Interpreter) interpretContainsIndex(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return i.boolResult(false, immediateResult)
	}
	operand := i.interpretNodeForImmediateUse(ocn[0])
	defer i.manager.FreeNodeTreeIfPossible(operand)
	if operand.Node == nil {
		return i.boolResult(false, immediateResult)
	}
	pool := i.StringPool()
	if operand.Node.IsAssociativeArray() {
		s, ok := i.InterpretNodeIntoStringValue(ocn[1])
		if !ok {
			return i.boolResult(false, immediateResult)
		}
		sid := pool.GetStringID(s)
		_, found := operand.Node.GetMappedChildNode(sid)
		return i.boolResult(found, immediateResult)
	}
	idx := int(i.InterpretNodeIntoNumberValue(ocn[1]))
	return i.boolResult(idx >= 0 && idx < len(operand.Node.OrderedChildNodes()), immediateResult)
}

func (i *Interpreter) interpretContainsValue(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return i.boolResult(false, immediateResult)
	}
	pinDepth := i.saveOpcodeStackDepth()
	defer i.restoreOpcodeStack(pinDepth)
	operand := i.interpretNodeForImmediateUse(ocn[0])
	i.pinNode(operand.Node)
	needle := i.materialize(i.interpretNodeForImmediateUse(ocn[1]))
	defer i.manager.FreeNodeTreeIfPossible(operand)
	defer i.manager.FreeNodeTreeIfPossible(needle)
	if operand.Node == nil {
		return i.boolResult(false, immediateResult)
	}
	found := false
	if operand.Node.IsAssociativeArray() {
		for _, v := range operand.Node.MappedChildNodes() {
			if DeepEqual(v, needle.Node) {
				found = true
				break
			}
		}
	} else {
		for _, v := range operand.Node.OrderedChildNodes() {
			if DeepEqual(v, needle.Node) {
				found = true
				break
			}
		}
	}
	return i.boolResult(found, immediateResult)
}

// interpretRemoveAndKeep implements remove (drop the listed keys or
// indices) and keep (drop everything else).
func (i *Interpreter) interpretRemoveAndKeep(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	keepMode := en.Type() == OpKeep
	pinDepth := i.saveOpcodeStackDepth()
	defer i.restoreOpcodeStack(pinDepth)
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[0], false))
	if operand.Node == nil {
		return NullReference()
	}
	i.pinNode(operand.Node)
	keys := i.interpretNodeForImmediateUse(ocn[1])
	defer i.manager.FreeNodeTreeIfPossible(keys)
	pool := i.StringPool()

	keyNodes := []*EvaluableNode{keys.Node}
	if keys.Node != nil && keys.Node.Type().UsesOrderedData() && !keys.Node.IsImmediate() {
		keyNodes = keys.Node.OrderedChildNodes()
	}

	if operand.Node.IsAssociativeArray() {
		selected := make(map[StringID]bool, len(keyNodes))
		for _, k := range keyNodes {
			if s, ok := ToStringValue(pool, k); ok {
				selected[pool.GetStringID(s)] = true
			}
		}
		for sid, v := range operand.Node.MappedChildNodes() {
			if selected[sid] != keepMode {
				i.manager.FreeNodeTree(v)
				delete(operand.Node.mapped, sid)
				pool.DestroyStringReference(sid)
			}
		}
	} else if operand.Node.Type().UsesOrderedData() {
		selected := make(map[int]bool, len(keyNodes))
		for _, k := range keyNodes {
			selected[int(ToNumber(pool, k))] = true
		}
		var kept []*EvaluableNode
		for idx, v := range operand.Node.ordered {
			if selected[idx] != keepMode {
				i.manager.FreeNodeTree(v)
				continue
			}
			kept = append(kept, v)
		}
		operand.Node.ordered = kept
	}
	return operand
}

func (i *Interpreter) interpretAssociate(en *EvaluableNode, immediateResult bool) NodeReference {
	out := i.manager.AllocNode(OpAssoc)
	result := NewNodeReference(out, true)
	pool := i.StringPool()
	ocn := en.OrderedChildNodes()
	pinDepth := i.saveOpcodeStackDepth()
	i.pinNode(out)
	defer i.restoreOpcodeStack(pinDepth)
	for idx := 0; idx+1 < len(ocn); idx += 2 {
		key, ok := i.InterpretNodeIntoStringValue(ocn[idx])
		if !ok {
			continue
		}
		value := i.InterpretNode(ocn[idx+1], false)
		out.SetMappedChildNode(pool, pool.CreateStringReference(key), value.Node)
		result.UpdatePropertiesBasedOnAttachedNode(value)
	}
	return result
}

func (i *Interpreter) interpretZip(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	defer i.restoreOpcodeStack(pinDepth)
	keys := i.interpretNodeForImmediateUse(ocn[0])
	defer i.manager.FreeNodeTreeIfPossible(keys)
	i.pinNode(keys.Node)
	var values NodeReference
	if len(ocn) > 1 {
		values = i.InterpretNode(ocn[1], false)
	}

	out := i.manager.AllocNode(OpAssoc)
	result := NewNodeReference(out, true)
	if keys.Node == nil {
		return result
	}
	pool := i.StringPool()
	var valueNodes []*EvaluableNode
	if values.Node != nil {
		valueNodes = values.Node.OrderedChildNodes()
	}
	for idx, k := range keys.Node.OrderedChildNodes() {
		s, ok := ToStringValue(pool, k)
		if !ok {
			continue
		}
		var v *EvaluableNode
		if idx < len(valueNodes) {
			v = valueNodes[idx]
		}
		out.SetMappedChildNode(pool, pool.CreateStringReference(s), v)
		result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(v, values.Unique))
	}
	return result
}

func (i *Interpreter) interpretUnzip(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	defer i.restoreOpcodeStack(pinDepth)
	operand := i.InterpretNode(ocn[0], false)
	i.pinNode(operand.Node)
	keys := i.interpretNodeForImmediateUse(ocn[1])
	defer i.manager.FreeNodeTreeIfPossible(keys)

	out := i.manager.AllocNode(OpList)
	result := NewNodeReference(out, true)
	if operand.Node == nil || keys.Node == nil {
		return result
	}
	pool := i.StringPool()
	for _, k := range keys.Node.OrderedChildNodes() {
		var v *EvaluableNode
		if operand.Node.IsAssociativeArray() {
			if s, ok := ToStringValue(pool, k); ok {
				v, _ = operand.Node.GetMappedChildNode(pool.GetStringID(s))
			}
		} else {
			idx := int(ToNumber(pool, k))
			children := operand.Node.OrderedChildNodes()
			if idx >= 0 && idx < len(children) {
				v = children[idx]
			}
		}
		out.AppendOrderedChildNode(v)
		result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(v, operand.Unique))
	}
	return result
}
