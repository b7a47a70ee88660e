package vm

import "math"

// List manipulation handlers. Each operates on its evaluated first
// operand; a unique operand is mutated in place, a shared one is copied
// first, which keeps the no-aliased-mutation discipline without cloning
// on the hot path.

// uniqueOrCopy returns a reference that is safe to mutate.
func (i *Interpreter) uniqueOrCopy(r NodeReference) NodeReference {
	if r.Node == nil || r.Unique {
		return r
	}
	return i.manager.DeepAllocCopy(r.Node, KeepMetadata)
}

func (i *Interpreter) interpretFirst(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.InterpretNode(ocn[0], false)
	if operand.Node == nil {
		return NullReference()
	}
	pool := i.StringPool()

	switch {
	case operand.Node.IsAssociativeArray():
		for _, v := range operand.Node.MappedChildNodes() {
			return NewNodeReference(v, false)
		}
		return NullReference()
	case operand.Node.Type() == OpString:
		s := pool.GetStringFromID(operand.Node.StringIDValue())
		i.manager.FreeNodeTreeIfPossible(operand)
		if s == "" {
			return NullReference()
		}
		return NewNodeReference(i.manager.AllocStringNode(string([]rune(s)[0])), true)
	case operand.Node.Type() == OpNumber:
		return operand
	default:
		children := operand.Node.OrderedChildNodes()
		if len(children) == 0 {
			return NullReference()
		}
		return NewNodeReference(children[0], false)
	}
}

func (i *Interpreter) interpretTail(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[0], false))
	if operand.Node == nil {
		return NullReference()
	}
	pool := i.StringPool()

	if operand.Node.Type() == OpString {
		s := pool.GetStringFromID(operand.Node.StringIDValue())
		runes := []rune(s)
		if len(runes) > 0 {
			runes = runes[1:]
		}
		operand.Node.SetStringIDWithHandoff(pool, pool.CreateStringReference(string(runes)))
		return operand
	}
	if operand.Node.Type().UsesOrderedData() && len(operand.Node.ordered) > 0 {
		i.manager.FreeNodeTree(operand.Node.ordered[0])
		operand.Node.ordered = operand.Node.ordered[1:]
	}
	return operand
}

func (i *Interpreter) interpretLast(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.InterpretNode(ocn[0], false)
	if operand.Node == nil {
		return NullReference()
	}
	pool := i.StringPool()

	if operand.Node.Type() == OpString {
		s := pool.GetStringFromID(operand.Node.StringIDValue())
		i.manager.FreeNodeTreeIfPossible(operand)
		runes := []rune(s)
		if len(runes) == 0 {
			return NullReference()
		}
		return NewNodeReference(i.manager.AllocStringNode(string(runes[len(runes)-1])), true)
	}
	children := operand.Node.OrderedChildNodes()
	if len(children) == 0 {
		return NullReference()
	}
	return NewNodeReference(children[len(children)-1], false)
}

func (i *Interpreter) interpretTrunc(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[0], false))
	if operand.Node == nil || !operand.Node.Type().UsesOrderedData() {
		return operand
	}
	if n := len(operand.Node.ordered); n > 0 {
		i.manager.FreeNodeTree(operand.Node.ordered[n-1])
		operand.Node.ordered = operand.Node.ordered[:n-1]
	}
	return operand
}

func (i *Interpreter) interpretAppend(en *EvaluableNode, immediateResult bool) NodeReference {
	out := i.manager.AllocNode(OpList)
	result := NewNodeReference(out, true)
	pool := i.StringPool()
	pinDepth := i.saveOpcodeStackDepth()
	i.pinNode(out)
	defer i.restoreOpcodeStack(pinDepth)

	for _, child := range en.OrderedChildNodes() {
		operand := i.InterpretNode(child, false)
		if operand.Node == nil {
			out.AppendOrderedChildNode(nil)
			continue
		}
		switch {
		case operand.Node.IsAssociativeArray():
			// appending an assoc converts the result to an assoc
			if out.Type() != OpAssoc {
				i.setNodeType(out, OpAssoc)
			}
			for sid, v := range operand.Node.MappedChildNodes() {
				out.SetMappedChildNode(pool, pool.CreateIDReference(sid), v)
				result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(v, operand.Unique))
			}
		case operand.Node.Type().UsesOrderedData() && !operand.Node.IsImmediate():
			for _, v := range operand.Node.OrderedChildNodes() {
				out.AppendOrderedChildNode(v)
				result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(v, operand.Unique))
			}
		default:
			out.AppendOrderedChildNode(operand.Node)
			result.UpdatePropertiesBasedOnAttachedNode(operand)
		}
	}
	return result
}

func (i *Interpreter) interpretSize(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.numberResult(0, immediateResult)
	}
	operand := i.interpretNodeForImmediateUse(ocn[0])
	defer i.manager.FreeNodeTreeIfPossible(operand)

	if operand.IsImmediateValue() {
		if s, ok := operand.StringValue(i.StringPool()); ok {
			return i.numberResult(float64(len([]rune(s))), immediateResult)
		}
		return i.numberResult(0, immediateResult)
	}
	if operand.Node == nil {
		return i.numberResult(0, immediateResult)
	}
	if operand.Node.Type() == OpString {
		s := i.StringPool().GetStringFromID(operand.Node.StringIDValue())
		return i.numberResult(float64(len([]rune(s))), immediateResult)
	}
	return i.numberResult(float64(operand.Node.NumChildNodes()), immediateResult)
}

func (i *Interpreter) interpretRange(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	start := i.InterpretNodeIntoNumberValue(ocn[0])
	end := i.InterpretNodeIntoNumberValue(ocn[1])
	step := 1.0
	if len(ocn) > 2 {
		step = i.InterpretNodeIntoNumberValue(ocn[2])
	}
	if math.IsNaN(start) || math.IsNaN(end) || math.IsNaN(step) || step == 0 {
		return NullReference()
	}
	if (end < start && step > 0) || (end > start && step < 0) {
		step = -step
	}

	out := i.manager.AllocNode(OpList)
	if step > 0 {
		for v := start; v <= end; v += step {
			out.AppendOrderedChildNode(i.manager.AllocNumberNode(v))
		}
	} else {
		for v := start; v >= end; v += step {
			out.AppendOrderedChildNode(i.manager.AllocNumberNode(v))
		}
	}
	return NewNodeReference(out, true)
}
