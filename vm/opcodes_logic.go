package vm

// Logic and equivalence handlers. and/or short-circuit: a truthy outcome
// is returned as the deciding value itself (and's last operand, or's
// first truthy operand), a falsy outcome as the boolean false; not and
// the comparison family return booleans.

func (i *Interpreter) interpretAnd(en *EvaluableNode, immediateResult bool) NodeReference {
	result := NullReference()
	for _, child := range en.OrderedChildNodes() {
		i.manager.FreeNodeTreeIfPossible(result)
		result = i.InterpretNode(child, immediateResult)
		if !result.BoolValue(i.StringPool()) {
			i.manager.FreeNodeTreeIfPossible(result)
			return i.boolResult(false, immediateResult)
		}
	}
	return result
}

func (i *Interpreter) interpretOr(en *EvaluableNode, immediateResult bool) NodeReference {
	for _, child := range en.OrderedChildNodes() {
		result := i.InterpretNode(child, immediateResult)
		if result.BoolValue(i.StringPool()) {
			return result
		}
		i.manager.FreeNodeTreeIfPossible(result)
	}
	return i.boolResult(false, immediateResult)
}

func (i *Interpreter) interpretXor(en *EvaluableNode, immediateResult bool) NodeReference {
	trueCount := 0
	for _, child := range en.OrderedChildNodes() {
		if i.InterpretNodeIntoBoolValue(child, false) {
			trueCount++
		}
	}
	return i.boolResult(trueCount%2 == 1, immediateResult)
}

func (i *Interpreter) interpretNot(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	value := false
	if len(ocn) > 0 {
		value = i.InterpretNodeIntoBoolValue(ocn[0], false)
	}
	return i.boolResult(!value, immediateResult)
}

func (i *Interpreter) interpretEqual(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return i.boolResult(true, immediateResult)
	}
	pinDepth := i.saveOpcodeStackDepth()
	defer i.restoreOpcodeStack(pinDepth)
	first := i.interpretNodeForImmediateUse(ocn[0])
	firstNode := i.materialize(first)
	i.pinNode(firstNode.Node)
	equal := true
	for _, child := range ocn[1:] {
		next := i.interpretNodeForImmediateUse(child)
		nextNode := i.materialize(next)
		if !DeepEqual(firstNode.Node, nextNode.Node) {
			equal = false
			i.manager.FreeNodeTreeIfPossible(nextNode)
			break
		}
		i.manager.FreeNodeTreeIfPossible(nextNode)
	}
	i.manager.FreeNodeTreeIfPossible(firstNode)
	return i.boolResult(equal, immediateResult)
}

func (i *Interpreter) interpretNequal(en *EvaluableNode, immediateResult bool) NodeReference {
	r := i.interpretEqual(en, true)
	return i.boolResult(!r.BoolValue(i.StringPool()), immediateResult)
}

func (i *Interpreter) interpretLessAndLequal(en *EvaluableNode, immediateResult bool) NodeReference {
	return i.interpretOrderedComparison(en, immediateResult,
		en.Type() == OpLequal, false)
}

func (i *Interpreter) interpretGreaterAndGequal(en *EvaluableNode, immediateResult bool) NodeReference {
	return i.interpretOrderedComparison(en, immediateResult,
		en.Type() == OpGequal, true)
}

// interpretOrderedComparison checks that operands form a strictly (or
// weakly, when orEqual) monotone chain. Numbers compare numerically;
// anything else compares as strings.
func (i *Interpreter) interpretOrderedComparison(en *EvaluableNode, immediateResult bool,
	orEqual bool, descending bool) NodeReference {

	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return i.boolResult(false, immediateResult)
	}
	pool := i.StringPool()

	pinDepth := i.saveOpcodeStackDepth()
	defer i.restoreOpcodeStack(pinDepth)
	prev := i.interpretNodeForImmediateUse(ocn[0])
	holds := true
	for _, child := range ocn[1:] {
		i.restoreOpcodeStack(pinDepth)
		i.pinNode(prev.Node)
		next := i.interpretNodeForImmediateUse(child)

		var cmp int
		pv := prev.GetValue(pool)
		nv := next.GetValue(pool)
		if pv.Kind == ImmediateNumber && nv.Kind == ImmediateNumber {
			switch {
			case pv.Number < nv.Number:
				cmp = -1
			case pv.Number > nv.Number:
				cmp = 1
			}
		} else {
			ps, pok := prev.StringValue(pool)
			ns, nok := next.StringValue(pool)
			if !pok || !nok {
				holds = false
			}
			switch {
			case ps < ns:
				cmp = -1
			case ps > ns:
				cmp = 1
			}
		}
		if descending {
			cmp = -cmp
		}
		if cmp > 0 || (cmp == 0 && !orEqual) {
			holds = false
		}

		i.manager.FreeNodeTreeIfPossible(prev)
		prev = next
		if !holds {
			break
		}
	}
	i.manager.FreeNodeTreeIfPossible(prev)
	return i.boolResult(holds, immediateResult)
}

func (i *Interpreter) interpretTypeEqualities(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return i.boolResult(en.Type() == OpTypeEquals, immediateResult)
	}
	first := i.interpretNodeForImmediateUse(ocn[0])
	firstType := i.resultType(first)
	i.manager.FreeNodeTreeIfPossible(first)

	same := true
	for _, child := range ocn[1:] {
		next := i.interpretNodeForImmediateUse(child)
		if i.resultType(next) != firstType {
			same = false
		}
		i.manager.FreeNodeTreeIfPossible(next)
		if !same {
			break
		}
	}
	if en.Type() == OpTypeNequals {
		same = !same
	}
	return i.boolResult(same, immediateResult)
}

// resultType reports a result's opcode kind in either shape.
func (i *Interpreter) resultType(r NodeReference) OpcodeType {
	if r.IsImmediateValue() {
		switch r.GetValue(i.StringPool()).Kind {
		case ImmediateNumber:
			return OpNumber
		case ImmediateStringID:
			return OpString
		case ImmediateBool:
			return OpTrue
		default:
			return OpNull
		}
	}
	if r.Node == nil {
		return OpNull
	}
	t := r.Node.Type()
	if t == OpFalse {
		t = OpTrue
	}
	return t
}

// materialize turns an immediate result into a node result so that
// structural operations can run on it.
func (i *Interpreter) materialize(r NodeReference) NodeReference {
	if !r.IsImmediateValue() {
		return r
	}
	return NewNodeReference(i.manager.AllocNodeFromImmediate(r.GetValue(i.StringPool())), true)
}

// boolResult returns a boolean in whichever shape the caller asked for.
func (i *Interpreter) boolResult(v bool, immediateResult bool) NodeReference {
	if immediateResult {
		return NewImmediateReference(ImmediateFromBool(v))
	}
	if v {
		return NewNodeReference(i.manager.AllocNode(OpTrue), true)
	}
	return NewNodeReference(i.manager.AllocNode(OpFalse), true)
}
