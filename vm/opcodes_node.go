package vm

import (
	"fmt"
	"strings"
)

// Constants, data constructors, node metadata, and string handlers.

func (i *Interpreter) interpretTrue(en *EvaluableNode, immediateResult bool) NodeReference {
	return i.boolResult(true, immediateResult)
}

func (i *Interpreter) interpretFalse(en *EvaluableNode, immediateResult bool) NodeReference {
	return i.boolResult(false, immediateResult)
}

func (i *Interpreter) interpretNull(en *EvaluableNode, immediateResult bool) NodeReference {
	return NullReference()
}

func (i *Interpreter) interpretList(en *EvaluableNode, immediateResult bool) NodeReference {
	out := i.manager.AllocNode(OpList)
	result := NewNodeReference(out, true)

	ocn := en.OrderedChildNodes()
	if results, ok := i.InterpretEvaluableNodesConcurrently(en, ocn, false); ok {
		for _, r := range results {
			out.AppendOrderedChildNode(r.Node)
			result.UpdatePropertiesBasedOnAttachedNode(r)
		}
		return result
	}

	i.PushNewConstructionContext(out, ImmediateFromNumber(0), nil, NullReference())
	for idx, child := range ocn {
		i.SetTopCurrentIndexInConstructionStack(ImmediateFromNumber(float64(idx)))
		value := i.InterpretNode(child, false)
		out.AppendOrderedChildNode(value.Node)
		result.UpdatePropertiesBasedOnAttachedNode(value)
	}
	i.PopConstructionContextAndGetExecutionSideEffectFlag()
	return result
}

func (i *Interpreter) interpretAssoc(en *EvaluableNode, immediateResult bool) NodeReference {
	out := i.manager.AllocNode(OpAssoc)
	result := NewNodeReference(out, true)
	pool := i.StringPool()

	i.PushNewConstructionContext(out, ImmediateFromStringID(NotAStringID), nil, NullReference())
	for sid, child := range en.MappedChildNodes() {
		i.SetTopCurrentIndexInConstructionStack(ImmediateFromStringID(sid))
		i.SetTopCurrentValueInConstructionStack(child)
		value := i.InterpretNode(child, false)
		out.SetMappedChildNode(pool, pool.CreateIDReference(sid), value.Node)
		result.UpdatePropertiesBasedOnAttachedNode(value)
	}
	i.PopConstructionContextAndGetExecutionSideEffectFlag()
	return result
}

func (i *Interpreter) interpretNumber(en *EvaluableNode, immediateResult bool) NodeReference {
	if immediateResult {
		return NewImmediateReference(ImmediateFromNumber(en.NumberValue()))
	}
	return NewNodeReference(en, false)
}

func (i *Interpreter) interpretString(en *EvaluableNode, immediateResult bool) NodeReference {
	if immediateResult {
		// the immediate owns one reference
		return NewImmediateReference(ImmediateFromStringID(
			i.StringPool().CreateIDReference(en.StringIDValue())))
	}
	return NewNodeReference(en, false)
}

func (i *Interpreter) interpretSymbol(en *EvaluableNode, immediateResult bool) NodeReference {
	value := i.LookupSymbol(en.StringIDValue())
	return NewNodeReference(value, false)
}

// ---------------------------------------------------------------------------
// Node types
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretGetType(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.interpretNodeForImmediateUse(ocn[0])
	t := i.resultType(operand)
	i.manager.FreeNodeTreeIfPossible(operand)
	return NewNodeReference(i.manager.AllocNode(t), true)
}

func (i *Interpreter) interpretGetTypeString(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.interpretNodeForImmediateUse(ocn[0])
	t := i.resultType(operand)
	i.manager.FreeNodeTreeIfPossible(operand)
	return NewNodeReference(i.manager.AllocStringNode(t.Name()), true)
}

func (i *Interpreter) interpretSetType(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[0], false))
	if operand.Node == nil {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	i.pinNode(operand.Node)
	defer i.restoreOpcodeStack(pinDepth)
	typeName, ok := i.InterpretNodeIntoStringValue(ocn[1])
	if !ok {
		return operand
	}
	if t, known := OpcodeFromName(typeName); known {
		i.setNodeType(operand.Node, t)
	}
	return operand
}

func (i *Interpreter) interpretFormat(en *EvaluableNode, immediateResult bool) NodeReference {
	// format converts between encodings; only the code<->string pair is
	// supported in-core, other encodings live in the asset translators
	ocn := en.OrderedChildNodes()
	if len(ocn) < 3 || i.codec == nil {
		return NullReference()
	}
	fromType, _ := i.InterpretNodeIntoStringValue(ocn[1])
	toType, _ := i.InterpretNodeIntoStringValue(ocn[2])

	switch {
	case fromType == "string" && toType == "code":
		code, ok := i.InterpretNodeIntoStringValue(ocn[0])
		if !ok {
			return NullReference()
		}
		tree, err := i.codec.Parse(code, i.manager)
		if err != nil {
			return NullReference()
		}
		return tree
	case fromType == "code" && toType == "string":
		tree := i.InterpretNode(ocn[0], false)
		s := i.codec.Unparse(tree.Node, i.StringPool(), false, false)
		i.manager.FreeNodeTreeIfPossible(tree)
		return NewNodeReference(i.manager.AllocStringNode(s), true)
	default:
		return NullReference()
	}
}

// ---------------------------------------------------------------------------
// Labels, comments, concurrency, value
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretGetLabels(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.InterpretNode(ocn[0], false)
	defer i.manager.FreeNodeTreeIfPossible(operand)
	out := i.manager.AllocNode(OpList)
	pool := i.StringPool()
	if operand.Node != nil {
		for _, l := range operand.Node.Labels() {
			out.AppendOrderedChildNode(i.manager.AllocStringNodeWithHandoff(OpString,
				pool.CreateIDReference(l)))
		}
	}
	return NewNodeReference(out, true)
}

func (i *Interpreter) interpretGetAllLabels(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.InterpretNode(ocn[0], false)
	out := i.manager.AllocNode(OpAssoc)
	result := NewNodeReference(out, true)
	pool := i.StringPool()
	if operand.Node != nil {
		collectLabels(operand.Node, func(label StringID, n *EvaluableNode) {
			out.SetMappedChildNode(pool, pool.CreateIDReference(label), n)
			result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(n, false))
		})
	}
	result.Unique = false
	return result
}

func collectLabels(n *EvaluableNode, visit func(StringID, *EvaluableNode)) {
	var walk func(*EvaluableNode, map[*EvaluableNode]struct{})
	walk = func(cur *EvaluableNode, seen map[*EvaluableNode]struct{}) {
		if cur == nil {
			return
		}
		if seen != nil {
			if _, ok := seen[cur]; ok {
				return
			}
			seen[cur] = struct{}{}
		}
		for _, l := range cur.Labels() {
			visit(l, cur)
		}
		for _, c := range cur.ordered {
			walk(c, seen)
		}
		for _, c := range cur.mapped {
			walk(c, seen)
		}
	}
	var seen map[*EvaluableNode]struct{}
	if n.GetNeedCycleCheck() {
		seen = make(map[*EvaluableNode]struct{})
	}
	walk(n, seen)
}

func (i *Interpreter) interpretSetLabels(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[0], false))
	if operand.Node == nil {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	i.pinNode(operand.Node)
	defer i.restoreOpcodeStack(pinDepth)
	labels := i.interpretNodeForImmediateUse(ocn[1])
	defer i.manager.FreeNodeTreeIfPossible(labels)
	pool := i.StringPool()

	operand.Node.ClearMetadata(pool)
	if labels.Node != nil {
		for _, l := range labels.Node.OrderedChildNodes() {
			if s, ok := ToStringValue(pool, l); ok {
				operand.Node.AppendLabelWithHandoff(pool.CreateStringReference(s))
			}
		}
	}
	return operand
}

func (i *Interpreter) interpretZipLabels(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	defer i.restoreOpcodeStack(pinDepth)
	labels := i.interpretNodeForImmediateUse(ocn[0])
	defer i.manager.FreeNodeTreeIfPossible(labels)
	i.pinNode(labels.Node)
	values := i.InterpretNode(ocn[1], false)

	out := i.manager.AllocNode(OpAssoc)
	result := NewNodeReference(out, true)
	if labels.Node == nil || values.Node == nil {
		return result
	}
	pool := i.StringPool()
	valueNodes := values.Node.OrderedChildNodes()
	for idx, l := range labels.Node.OrderedChildNodes() {
		s, ok := ToStringValue(pool, l)
		if !ok || idx >= len(valueNodes) {
			continue
		}
		out.SetMappedChildNode(pool, pool.CreateStringReference(s), valueNodes[idx])
		result.UpdatePropertiesBasedOnAttachedNode(NewNodeReference(valueNodes[idx], values.Unique))
	}
	return result
}

func (i *Interpreter) interpretGetComments(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.InterpretNode(ocn[0], false)
	defer i.manager.FreeNodeTreeIfPossible(operand)
	pool := i.StringPool()
	if operand.Node == nil || operand.Node.CommentsID() == NotAStringID {
		return NewNodeReference(i.manager.AllocStringNode(""), true)
	}
	return NewNodeReference(i.manager.AllocStringNodeWithHandoff(OpString,
		pool.CreateIDReference(operand.Node.CommentsID())), true)
}

func (i *Interpreter) interpretSetComments(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[0], false))
	if operand.Node == nil {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	i.pinNode(operand.Node)
	defer i.restoreOpcodeStack(pinDepth)
	comment, ok := i.InterpretNodeIntoStringValue(ocn[1])
	pool := i.StringPool()
	if ok {
		operand.Node.SetCommentsWithHandoff(pool, pool.CreateStringReference(comment))
	}
	return operand
}

func (i *Interpreter) interpretGetConcurrency(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.boolResult(false, immediateResult)
	}
	operand := i.InterpretNode(ocn[0], false)
	v := operand.Node.GetConcurrency()
	i.manager.FreeNodeTreeIfPossible(operand)
	return i.boolResult(v, immediateResult)
}

func (i *Interpreter) interpretSetConcurrency(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[0], false))
	if operand.Node == nil {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	i.pinNode(operand.Node)
	defer i.restoreOpcodeStack(pinDepth)
	operand.Node.SetConcurrency(i.InterpretNodeIntoBoolValue(ocn[1], false))
	return operand
}

func (i *Interpreter) interpretGetValue(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	operand := i.InterpretNode(ocn[0], false)
	if operand.Node == nil {
		return operand
	}
	// strip metadata from a copy so only the value remains
	value := i.manager.AllocShallowCopy(operand.Node, RemoveMetadata)
	i.manager.FreeNodeTreeIfPossible(operand)
	return NewNodeReference(value, false)
}

func (i *Interpreter) interpretSetValue(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	operand := i.uniqueOrCopy(i.InterpretNode(ocn[0], false))
	if operand.Node == nil {
		return NullReference()
	}
	pinDepth := i.saveOpcodeStackDepth()
	i.pinNode(operand.Node)
	defer i.restoreOpcodeStack(pinDepth)
	value := i.InterpretNode(ocn[1], false)
	attached := value.Node
	if attached != nil && !value.Unique {
		attached = i.manager.DeepAllocCopy(attached, RemoveMetadata).Node
	}
	pool := i.StringPool()
	if attached != nil {
		// replace the payload, keep labels and comments
		labels := operand.Node.labels
		comments := operand.Node.comments
		operand.Node.labels = nil
		operand.Node.comments = NotAStringID
		i.setNodeType(operand.Node, attached.Type())
		operand.Node.number = attached.number
		if attached.stringID != NotAStringID {
			operand.Node.stringID = pool.CreateIDReference(attached.stringID)
		}
		operand.Node.ordered = attached.ordered
		operand.Node.mapped = attached.mapped
		operand.Node.labels = labels
		operand.Node.comments = comments
		operand.UpdatePropertiesBasedOnAttachedNode(value)
	}
	return operand
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretExplode(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return NullReference()
	}
	s, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return NullReference()
	}
	out := i.manager.AllocNode(OpList)
	for _, r := range s {
		out.AppendOrderedChildNode(i.manager.AllocStringNode(string(r)))
	}
	return NewNodeReference(out, true)
}

func (i *Interpreter) interpretSplit(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	s, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return NullReference()
	}
	sep, ok := i.InterpretNodeIntoStringValue(ocn[1])
	if !ok {
		return NullReference()
	}
	out := i.manager.AllocNode(OpList)
	for _, part := range strings.Split(s, sep) {
		out.AppendOrderedChildNode(i.manager.AllocStringNode(part))
	}
	return NewNodeReference(out, true)
}

func (i *Interpreter) interpretSubstr(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return NullReference()
	}
	s, ok := i.InterpretNodeIntoStringValue(ocn[0])
	if !ok {
		return NullReference()
	}
	runes := []rune(s)
	start := int(i.InterpretNodeIntoNumberValue(ocn[1]))
	if start < 0 {
		start += len(runes)
	}
	if start < 0 || start > len(runes) {
		return NullReference()
	}
	end := len(runes)
	if len(ocn) > 2 {
		length := int(i.InterpretNodeIntoNumberValue(ocn[2]))
		if length >= 0 && start+length < end {
			end = start + length
		}
	}
	return NewNodeReference(i.manager.AllocStringNode(string(runes[start:end])), true)
}

func (i *Interpreter) interpretConcat(en *EvaluableNode, immediateResult bool) NodeReference {
	var sb strings.Builder
	for _, child := range en.OrderedChildNodes() {
		if s, ok := i.InterpretNodeIntoStringValue(child); ok {
			sb.WriteString(s)
		}
	}
	return NewNodeReference(i.manager.AllocStringNode(sb.String()), true)
}

// ---------------------------------------------------------------------------
// I/O and size
// ---------------------------------------------------------------------------

func (i *Interpreter) interpretPrint(en *EvaluableNode, immediateResult bool) NodeReference {
	if i.printWriter == nil {
		// evaluate for effect even when output is discarded
		for _, child := range en.OrderedChildNodes() {
			r := i.interpretNodeForImmediateUse(child)
			i.manager.FreeNodeTreeIfPossible(r)
		}
		return NullReference()
	}
	for _, child := range en.OrderedChildNodes() {
		r := i.InterpretNode(child, false)
		if r.IsImmediateValue() || r.Node == nil || r.Node.IsImmediate() || i.codec == nil {
			s, _ := r.StringValue(i.StringPool())
			fmt.Fprint(i.printWriter, s)
		} else {
			fmt.Fprint(i.printWriter, i.codec.Unparse(r.Node, i.StringPool(), false, false))
		}
		i.manager.FreeNodeTreeIfPossible(r)
	}
	return NullReference()
}

func (i *Interpreter) interpretTotalSize(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.numberResult(0, immediateResult)
	}
	operand := i.InterpretNode(ocn[0], false)
	defer i.manager.FreeNodeTreeIfPossible(operand)

	seen := make(map[*EvaluableNode]struct{})
	var count func(*EvaluableNode) float64
	count = func(n *EvaluableNode) float64 {
		if n == nil {
			return 0
		}
		if _, ok := seen[n]; ok {
			return 0
		}
		seen[n] = struct{}{}
		total := 1.0
		for _, c := range n.ordered {
			total += count(c)
		}
		for _, c := range n.mapped {
			total += count(c)
		}
		return total
	}
	return i.numberResult(count(operand.Node), immediateResult)
}
