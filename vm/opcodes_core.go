package vm

import (
	"time"
)

// Core control flow, definitions, and stack-reference opcodes.
//
// conclude and return are exception-like control flow represented as
// data: each wraps its value in a single-child marker node of its own
// kind. Enclosing handlers unwind them; sequence-shaped opcodes stop at
// a conclude, call boundaries absorb a return. No panics are involved.

// isControlFlowMarker reports whether a handler result is a
// conclude/return marker.
func isControlFlowMarker(r NodeReference) bool {
	return !r.IsImmediateValue() && r.Node != nil &&
		(r.Node.Type() == OpConclude || r.Node.Type() == OpReturn)
}

// unwrapControlFlowMarker extracts the wrapped value, freeing the marker
// node when possible.
func (i *Interpreter) unwrapControlFlowMarker(r NodeReference) NodeReference {
	marker := r.Node
	var inner *EvaluableNode
	if len(marker.OrderedChildNodes()) > 0 {
		inner = marker.OrderedChildNodes()[0]
	}
	result := NewNodeReference(inner, r.Unique)
	if r.Unique {
		marker.ordered = nil
		i.manager.FreeNode(marker)
	}
	return result
}

// ---------------------------------------------------------------------------
// system / get_defaults
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretSystem(en *EvaluableNode, immediateResult bool) NodeReference {
	// privileged surface: only entities with root permission may use it
	if i.assets == nil || i.curEntity == nil || !i.assets.HasRootPermission(i.curEntity) {
		return NullReference()
	}
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	command, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return NullReference()
	}
	switch command {
	case "time":
		return i.numberResult(float64(time.Now().UnixNano())/1e9, immediateResult)
	case "used_nodes":
		return i.numberResult(float64(i.manager.GetNumberOfUsedNodes()), immediateResult)
	case "rand_uint":
		return i.numberResult(float64(i.randomStream.RandUint64()>>11), immediateResult)
	default:
		return NullReference()
	}
}

func (i *Interpreter) interpretGetDefaults(en *EvaluableNode, immediateResult bool) NodeReference {
	defaults := i.manager.AllocNode(OpAssoc)
	pool := i.StringPool()
	if i.workers != nil {
		defaults.SetMappedChildNode(pool, pool.CreateStringReference("num_workers"),
			i.manager.AllocNumberNode(float64(i.workers.NumWorkers())))
	}
	return NewNodeReference(defaults, true)
}

// ---------------------------------------------------------------------------
// parse / unparse
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretParse(en *EvaluableNode, immediateResult bool) NodeReference {
	if i.codec == nil {
		return NullReference()
	}
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	code, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return NullReference()
	}
	tree, err := i.codec.Parse(code, i.manager)
	if err != nil {
		return NullReference()
	}
	return tree
}

func (i *Interpreter) interpretUnparse(en *EvaluableNode, immediateResult bool) NodeReference {
	if i.codec == nil {
		return NullReference()
	}
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	pretty := false
	if len(ocn) > 1 {
		pretty = i.InterpretNodeIntoBoolValue(ocn[1], false)
	}
	sortKeys := false
	if len(ocn) > 2 {
		sortKeys = i.InterpretNodeIntoBoolValue(ocn[2], false)
	}
	tree := i.InterpretNode(ocn[0], false)
	s := i.codec.Unparse(tree.Node, i.StringPool(), pretty, sortKeys)
	i.manager.FreeNodeTreeIfPossible(tree)
	return NewNodeReference(i.manager.AllocStringNode(s), true)
}

// ---------------------------------------------------------------------------
// if / seq / parallel / lambda / conclude / return
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretIf(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	numChildren := len(ocn)
	for idx := 0; idx+1 < numChildren; idx += 2 {
		if i.InterpretNodeIntoBoolValue(ocn[idx], false) {
			return i.InterpretNode(ocn[idx+1], immediateResult)
		}
	}
	// odd trailing child is the else branch
	if numChildren%2 == 1 {
		return i.InterpretNode(ocn[numChildren-1], immediateResult)
	}
	return NullReference()
}

func (i *Interpreter) interpretSequence(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	result := NullReference()
	for idx, child := range ocn {
		i.manager.FreeNodeTreeIfPossible(result)

		last := idx == len(ocn)-1
		result = i.InterpretNode(child, immediateResult && last)
		if isControlFlowMarker(result) {
			if result.Node.Type() == OpConclude {
				return i.unwrapControlFlowMarker(result)
			}
			// a return propagates past the sequence to the call boundary
			return result
		}
	}
	return result
}

func (i *Interpreter) interpretParallel(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()

	if results, ok := i.InterpretEvaluableNodesConcurrently(en, ocn, true); ok {
		for _, r := range results {
			i.manager.FreeNodeTreeIfPossible(r)
		}
		return NullReference()
	}

	for _, child := range ocn {
		result := i.interpretNodeForImmediateUse(child)
		i.manager.FreeNodeTreeIfPossible(result)
	}
	return NullReference()
}

func (i *Interpreter) interpretLambda(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	// a lambda evaluates to its body unevaluated; the body stays owned
	// by the enclosing tree
	return NewNodeReference(ocn[0], false)
}

func (i *Interpreter) interpretConcludeAndReturn(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	value := NullReference()
	if len(ocn) > 0 {
		value = i.InterpretNode(ocn[0], false)
	}

	marker := i.manager.AllocNode(en.Type())
	marker.AppendOrderedChildNode(value.Node)
	result := NewNodeReference(marker, value.Unique)
	result.UpdatePropertiesBasedOnAttachedNode(value)
	result.Unique = value.Unique
	return result
}

// ---------------------------------------------------------------------------
// call / call_sandboxed
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretCall(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	code := i.InterpretNode(ocn[0], false)
	if code.IsNull() {
		return NullReference()
	}

	var args NodeReference
	if len(ocn) > 1 {
		args = i.InterpretNode(ocn[1], false)
	}
	scope := args.Node
	if scope == nil || !scope.IsAssociativeArray() {
		scope = i.manager.AllocNode(OpAssoc)
	} else if !args.Unique {
		scope = i.manager.DeepAllocCopy(scope, RemoveMetadata).Node
	}

	i.PushNewCallStackContext(scope)
	result := i.InterpretNode(code.Node, immediateResult)
	i.PopCallStackContext()

	if isControlFlowMarker(result) {
		result = i.unwrapControlFlowMarker(result)
	}
	i.manager.FreeNodeTreeIfPossible(code)
	return result
}

func (i *Interpreter) interpretCallSandboxed(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	code := i.InterpretNode(ocn[0], false)
	if code.IsNull() {
		return NullReference()
	}

	var args NodeReference
	if len(ocn) > 1 {
		args = i.InterpretNode(ocn[1], false)
	}

	// budget params begin after code and args
	var childConstraintsPtr *PerformanceConstraints
	childConstraints := &PerformanceConstraints{}
	if i.PopulatePerformanceConstraintsFromParams(ocn, 2, childConstraints, false) {
		childConstraintsPtr = childConstraints
	}
	i.PopulatePerformanceCounters(childConstraintsPtr, nil)

	callStack := ConvertArgsToCallStack(args, i.manager)

	child := NewInterpreter(i.manager,
		i.randomStream.CreateOtherStreamViaString("sandbox"),
		i.writeListeners, i.printWriter, childConstraintsPtr, i.curEntity, i)

	result := child.ExecuteNode(code.Node, callStack.Node, nil, nil, nil, nil, immediateResult)

	// the sandbox's spend comes out of the caller's budget
	i.chargeChildExecution(childConstraintsPtr)

	if isControlFlowMarker(result) {
		result = i.unwrapControlFlowMarker(result)
	}
	i.manager.FreeNodeTree(callStack.Node)
	i.manager.FreeNodeTreeIfPossible(code)
	return result
}

// chargeChildExecution adds a finished child interpreter's step spend to
// this interpreter's counter.
func (i *Interpreter) chargeChildExecution(child *PerformanceConstraints) {
	if child == nil || i.performanceConstraints == nil || child == i.performanceConstraints {
		return
	}
	spent := child.CurExecutionStep.Load()
	if spent > child.MaxNumExecutionSteps && child.MaxNumExecutionSteps > 0 {
		spent = child.MaxNumExecutionSteps
	}
	i.performanceConstraints.CurExecutionStep.Add(spent)
}

// ---------------------------------------------------------------------------
// while
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretWhile(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}

	i.PushNewConstructionContext(nil, ImmediateFromNumber(0), nil, NullReference())

	exhausted := false
	iteration := 0
	for i.InterpretNodeIntoBoolValue(ocn[0], false) {
		// every loop turn burns budget through the per-node tick; bail
		// promptly once spent
		if i.AreExecutionResourcesExhausted(false) {
			exhausted = true
			break
		}
		i.SetTopCurrentIndexInConstructionStack(ImmediateFromNumber(float64(iteration)))
		iteration++

		for bodyIdx := 1; bodyIdx < len(ocn); bodyIdx++ {
			prev := i.GetAndClearPreviousResultInConstructionStack()
			i.manager.FreeNodeTreeIfPossible(prev)

			result := i.InterpretNode(ocn[bodyIdx], false)
			if isControlFlowMarker(result) {
				kind := result.Node.Type()
				inner := i.unwrapControlFlowMarker(result)
				i.PopConstructionContextAndGetExecutionSideEffectFlag()
				if kind == OpConclude {
					return inner
				}
				return NewNodeReference(i.wrapControlFlowMarker(kind, inner), inner.Unique)
			}
			i.SetTopPreviousResultInConstructionStack(result)
		}
	}

	result := i.GetAndClearPreviousResultInConstructionStack()
	i.PopConstructionContextAndGetExecutionSideEffectFlag()

	// a spent budget surfaces as null, not as a partial result
	if exhausted || i.AreExecutionResourcesExhausted(false) {
		i.manager.FreeNodeTreeIfPossible(result)
		return NullReference()
	}
	return result
}

func (i *Interpreter) wrapControlFlowMarker(kind OpcodeType, value NodeReference) *EvaluableNode {
	marker := i.manager.AllocNode(kind)
	marker.AppendOrderedChildNode(value.Node)
	return marker
}

// ---------------------------------------------------------------------------
// let / declare / assign / accum
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretLet(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}

	bindings := i.InterpretNode(ocn[0], false)
	scope := bindings.Node
	if scope == nil || !scope.IsAssociativeArray() {
		scope = i.manager.AllocNode(OpAssoc)
	} else if !bindings.Unique {
		scope = i.manager.DeepAllocCopy(scope, RemoveMetadata).Node
	}
	i.PushNewCallStackContext(scope)

	result := NullReference()
	for idx := 1; idx < len(ocn); idx++ {
		i.manager.FreeNodeTreeIfPossible(result)
		last := idx == len(ocn)-1
		result = i.InterpretNode(ocn[idx], immediateResult && last)
		if isControlFlowMarker(result) {
			if result.Node.Type() == OpConclude {
				result = i.unwrapControlFlowMarker(result)
			}
			break
		}
	}

	i.PopCallStackContext()
	return result
}

func (i *Interpreter) interpretDeclare(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}

	bindings := i.InterpretNode(ocn[0], false)
	if bindings.Node != nil && bindings.Node.IsAssociativeArray() {
		top := i.GetCurrentCallStackContext()
		pool := i.StringPool()
		for sid, value := range bindings.Node.MappedChildNodes() {
			if _, exists := top.GetMappedChildNode(sid); exists {
				continue
			}
			attached := value
			if !bindings.Unique {
				attached = i.manager.DeepAllocCopy(value, KeepMetadata).Node
			}
			top.SetMappedChildNode(pool, pool.CreateIDReference(sid), attached)
		}
		if bindings.Unique {
			// values moved into the scope; free only the shell
			for sid := range bindings.Node.MappedChildNodes() {
				pool.DestroyStringReference(sid)
			}
			bindings.Node.mapped = nil
			i.manager.FreeNode(bindings.Node)
		}
	}

	result := NullReference()
	for idx := 1; idx < len(ocn); idx++ {
		i.manager.FreeNodeTreeIfPossible(result)
		last := idx == len(ocn)-1
		result = i.InterpretNode(ocn[idx], immediateResult && last)
		if isControlFlowMarker(result) {
			if result.Node.Type() == OpConclude {
				result = i.unwrapControlFlowMarker(result)
			}
			break
		}
	}
	return result
}

func (i *Interpreter) interpretAssignAndAccum(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	accum := en.Type() == OpAccum
	pool := i.StringPool()

	// form 1: (assign (assoc sym value ...))
	if ocn[0].IsAssociativeArray() || (!ocn[0].Type().UsesStringData() && len(ocn) == 1) {
		bindings := i.InterpretNode(ocn[0], false)
		if bindings.Node == nil || !bindings.Node.IsAssociativeArray() {
			i.manager.FreeNodeTreeIfPossible(bindings)
			return NullReference()
		}
		for sid, value := range bindings.Node.MappedChildNodes() {
			attached := value
			if !bindings.Unique {
				attached = i.manager.DeepAllocCopy(value, KeepMetadata).Node
			}
			i.assignSymbol(sid, attached, accum)
		}
		if bindings.Unique {
			for sid := range bindings.Node.MappedChildNodes() {
				pool.DestroyStringReference(sid)
			}
			bindings.Node.mapped = nil
			i.manager.FreeNode(bindings.Node)
		}
		return NullReference()
	}

	// form 2: (assign "sym" value)
	sid := i.InterpretNodeIntoStringIDValueWithReference(ocn[0])
	if sid == NotAStringID {
		return NullReference()
	}
	var value NodeReference
	if len(ocn) > 1 {
		value = i.InterpretNode(ocn[1], false)
	}
	attached := value.Node
	if attached != nil && !value.Unique {
		attached = i.manager.DeepAllocCopy(attached, KeepMetadata).Node
	}
	i.assignSymbol(sid, attached, accum)
	pool.DestroyStringReference(sid)
	return NullReference()
}

// assignSymbol writes value into the symbol's binding; accumulation
// folds the new value into the existing one by payload kind.
func (i *Interpreter) assignSymbol(sid StringID, value *EvaluableNode, accum bool) {
	if accum {
		existing := i.LookupSymbol(sid)
		if existing != nil {
			value = i.accumulateNode(existing, value)
		}
	}
	i.setSymbol(sid, value)

	// scope mutation can alias previously returned structure
	i.manager.ReportSideEffect()
	if scope := i.GetCurrentCallStackContext(); scope != nil {
		scope.SetNeedCycleCheck(true)
	}
}

// accumulateNode folds addend into base: numbers add, strings append,
// lists concatenate, assocs merge. base is mutated in place and
// returned.
func (i *Interpreter) accumulateNode(base, addend *EvaluableNode) *EvaluableNode {
	pool := i.StringPool()
	if base == nil {
		return addend
	}
	switch base.Type() {
	case OpNumber:
		base.SetNumberValue(base.NumberValue() + ToNumber(pool, addend))
	case OpString:
		s, _ := ToStringValue(pool, base)
		add, _ := ToStringValue(pool, addend)
		base.SetStringIDWithHandoff(pool, pool.CreateStringReference(s+add))
	case OpAssoc:
		if addend != nil && addend.IsAssociativeArray() {
			for k, v := range addend.MappedChildNodes() {
				base.SetMappedChildNode(pool, pool.CreateIDReference(k), v)
			}
		}
	default:
		if base.Type().UsesOrderedData() {
			if addend != nil && addend.Type().UsesOrderedData() && !addend.IsImmediate() {
				base.ordered = append(base.ordered, addend.OrderedChildNodes()...)
			} else if addend != nil {
				base.AppendOrderedChildNode(addend)
			}
		}
	}
	return base
}

// ---------------------------------------------------------------------------
// retrieve / get / set / replace
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretRetrieve(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	target := i.interpretNodeForImmediateUse(ocn[0])
	defer i.manager.FreeNodeTreeIfPossible(target)

	pool := i.StringPool()
	if target.Node != nil && target.Node.Type().UsesOrderedData() && !target.Node.IsImmediate() {
		// list of symbols resolves to a list of values
		out := i.manager.AllocNode(OpList)
		result := NewNodeReference(out, true)
		for _, symNode := range target.Node.OrderedChildNodes() {
			s, ok := ToStringValue(pool, symNode)
			if !ok {
				out.AppendOrderedChildNode(nil)
				continue
			}
			value := i.LookupSymbol(pool.GetStringID(s))
			out.AppendOrderedChildNode(value)
			result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(value, false))
		}
		return result
	}

	s, ok := target.StringValue(pool)
	if !ok {
		return NullReference()
	}
	value := i.LookupSymbol(pool.GetStringID(s))
	return NewNodeReference(value, false)
}

// traverseToDestination walks a traversal path (single index or list of
// indices) into node, returning the destination child.
func (i *Interpreter) traverseToDestination(node *EvaluableNode, path NodeReference) *EvaluableNode {
	pool := i.StringPool()
	step := func(cur *EvaluableNode, index *EvaluableNode) *EvaluableNode {
		if cur == nil {
			return nil
		}
		if cur.IsAssociativeArray() {
			s, ok := ToStringValue(pool, index)
			if !ok {
				return nil
			}
			sid := pool.GetStringID(s)
			if sid == NotAStringID {
				return nil
			}
			child, _ := cur.GetMappedChildNode(sid)
			return child
		}
		idx := int(ToNumber(pool, index))
		children := cur.OrderedChildNodes()
		if idx < 0 || idx >= len(children) {
			return nil
		}
		return children[idx]
	}

	if path.Node != nil && path.Node.Type().UsesOrderedData() && !path.Node.IsImmediate() &&
		path.Node.Type() != OpString && path.Node.Type() != OpSymbol {
		cur := node
		for _, seg := range path.Node.OrderedChildNodes() {
			cur = step(cur, seg)
		}
		return cur
	}
	return step(node, path.Node)
}

func (i *Interpreter) interpretGet(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	target := i.InterpretNode(ocn[0], false)
	if len(ocn) == 1 {
		return target
	}
	pinDepth := i.saveOpcodeStackDepth()
	i.pinNode(target.Node)
	defer i.restoreOpcodeStack(pinDepth)
	path := i.interpretNodeForImmediateUse(ocn[1])
	dest := i.traverseToDestination(target.Node, path)
	i.manager.FreeNodeTreeIfPossible(path)
	// the destination is owned by the target tree; only a unique target
	// makes the extracted child unique, and then the rest of the target
	// is unreferenced but contains the result, so it cannot be freed
	return NewNodeReference(dest, false)
}

func (i *Interpreter) interpretSetAndReplace(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	target := i.InterpretNode(ocn[0], false)
	if target.Node == nil {
		return NullReference()
	}
	if !target.Unique {
		target = i.manager.DeepAllocCopy(target.Node, KeepMetadata)
	}
	pool := i.StringPool()
	pinDepth := i.saveOpcodeStackDepth()
	i.pinNode(target.Node)
	defer i.restoreOpcodeStack(pinDepth)

	for idx := 1; idx+1 < len(ocn); idx += 2 {
		path := i.interpretNodeForImmediateUse(ocn[idx])
		value := i.InterpretNode(ocn[idx+1], false)
		attached := value.Node
		if attached != nil && !value.Unique {
			attached = i.manager.DeepAllocCopy(attached, KeepMetadata).Node
		}

		// resolve the parent of the destination, then write the final
		// segment
		var parent *EvaluableNode
		var finalSeg *EvaluableNode
		if path.Node != nil && path.Node.Type().UsesOrderedData() && !path.Node.IsImmediate() &&
			path.Node.Type() != OpString && path.Node.Type() != OpSymbol &&
			len(path.Node.OrderedChildNodes()) > 1 {
			segs := path.Node.OrderedChildNodes()
			prefix := i.manager.AllocNode(OpList)
			prefix.ordered = segs[:len(segs)-1]
			parent = i.traverseToDestination(target.Node, NewNodeReference(prefix, false))
			prefix.ordered = nil
			i.manager.FreeNode(prefix)
			finalSeg = segs[len(segs)-1]
		} else {
			parent = target.Node
			finalSeg = path.Node
		}

		if parent != nil && finalSeg != nil {
			if parent.IsAssociativeArray() {
				if s, ok := ToStringValue(pool, finalSeg); ok {
					parent.SetMappedChildNode(pool, pool.CreateStringReference(s), attached)
				}
			} else if parent.Type().UsesOrderedData() {
				at := int(ToNumber(pool, finalSeg))
				if at >= 0 && at < len(parent.ordered) {
					parent.ordered[at] = attached
				} else if at == len(parent.ordered) {
					parent.AppendOrderedChildNode(attached)
				}
			}
			target.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(attached, value.Unique))
		}
		i.manager.FreeNodeTreeIfPossible(path)
	}
	return target
}

// ---------------------------------------------------------------------------
// stack reference opcodes
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretTarget(en *EvaluableNode, immediateResult bool) NodeReference {
	depth := 0
	if ocn := en.OrderedChildNodes(); len(ocn) > 0 {
		depth = int(i.InterpretNodeIntoNumberValue(ocn[0]))
	}
	frames := i.constructionStack.ordered
	offset := len(frames) - (depth+1)*constructionStride + constructionOffsetTarget
	if offset < 0 || offset >= len(frames) {
		return NullReference()
	}
	return NewNodeReference(frames[offset], false)
}

func (i *Interpreter) interpretCurrentIndex(en *EvaluableNode, immediateResult bool) NodeReference {
	if len(i.constructionFrames) == 0 {
		return NullReference()
	}
	index := i.constructionFrames[len(i.constructionFrames)-1].currentIndex
	if immediateResult {
		if index.Kind == ImmediateStringID {
			index.StringID = i.StringPool().CreateIDReference(index.StringID)
		}
		return NewImmediateReference(index)
	}
	if index.Kind == ImmediateStringID {
		i.StringPool().CreateIDReference(index.StringID)
	}
	return NewNodeReference(i.manager.AllocNodeFromImmediate(index), true)
}

func (i *Interpreter) interpretCurrentValue(en *EvaluableNode, immediateResult bool) NodeReference {
	return NewNodeReference(i.constructionEntry(constructionOffsetCurrentValue), false)
}

func (i *Interpreter) interpretPreviousResult(en *EvaluableNode, immediateResult bool) NodeReference {
	return i.GetAndClearPreviousResultInConstructionStack()
}

func (i *Interpreter) interpretOpcodeStack(en *EvaluableNode, immediateResult bool) NodeReference {
	copyRef := i.manager.AllocShallowCopy(i.opcodeStack, RemoveMetadata)
	return NewNodeReference(copyRef, false)
}

func (i *Interpreter) interpretStack(en *EvaluableNode, immediateResult bool) NodeReference {
	return NewNodeReference(i.callStack, false)
}

func (i *Interpreter) interpretArgs(en *EvaluableNode, immediateResult bool) NodeReference {
	return NewNodeReference(i.GetCurrentCallStackContext(), false)
}

// ---------------------------------------------------------------------------
// rand / seeds / time
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretRand(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.numberResult(i.randomStream.Rand(), immediateResult)
	}

	operand := i.interpretNodeForImmediateUse(ocn[0])
	defer i.manager.FreeNodeTreeIfPossible(operand)

	if operand.Node != nil && operand.Node.Type().UsesOrderedData() && !operand.Node.IsImmediate() {
		children := operand.Node.OrderedChildNodes()
		if len(children) == 0 {
			return NullReference()
		}
		pick := children[i.randomStream.RandIntN(len(children))]
		copied := i.manager.DeepAllocCopy(pick, KeepMetadata)
		return copied
	}

	scale := operand.NumberValue(i.StringPool())
	return i.numberResult(i.randomStream.Rand()*scale, immediateResult)
}

func (i *Interpreter) interpretWeightedRand(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.interpretNodeForImmediateUse(ocn[0])
	defer i.manager.FreeNodeTreeIfPossible(operand)

	if operand.Node == nil || !operand.Node.IsAssociativeArray() {
		return NullReference()
	}
	pool := i.StringPool()
	var total float64
	for _, w := range operand.Node.MappedChildNodes() {
		if v := ToNumber(pool, w); v > 0 {
			total += v
		}
	}
	if total <= 0 {
		return NullReference()
	}
	pick := i.randomStream.Rand() * total
	for sid, w := range operand.Node.MappedChildNodes() {
		v := ToNumber(pool, w)
		if v <= 0 {
			continue
		}
		pick -= v
		if pick <= 0 {
			return NewNodeReference(i.manager.AllocStringNodeWithHandoff(OpString,
				pool.CreateIDReference(sid)), true)
		}
	}
	return NullReference()
}

func (i *Interpreter) interpretGetRandSeed(en *EvaluableNode, immediateResult bool) NodeReference {
	seed := i.randomStream.Seed()
	if i.curEntity != nil {
		seed = i.curEntity.GetRandomSeed()
	}
	return NewNodeReference(i.manager.AllocStringNode(seed), true)
}

func (i *Interpreter) interpretSetRandSeed(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	seed, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return NullReference()
	}
	i.randomStream = NewRandomStream(seed)
	if i.curEntity != nil {
		i.curEntity.SetRandomState(seed, true)
		i.NotifyEntityWritten(WriteSetRandSeed, i.curEntity, nil)
	}
	return NewNodeReference(i.manager.AllocStringNode(seed), true)
}

func (i *Interpreter) interpretSystemTime(en *EvaluableNode, immediateResult bool) NodeReference {
	return i.numberResult(float64(time.Now().UnixNano())/1e9, immediateResult)
}

// numberResult returns a number in whichever shape the caller asked for.
func (i *Interpreter) numberResult(v float64, immediateResult bool) NodeReference {
	if immediateResult {
		return NewImmediateReference(ImmediateFromNumber(v))
	}
	return NewNodeReference(i.manager.AllocNumberNode(v), true)
}
