package vm

import "math"

// The coercion layer converts a sub-evaluation into a specific shape.
// Every helper encapsulates the release-or-retain decision for the
// intermediate result, which is the most error-prone pattern in the
// dispatch core: unique unpinned intermediates are freed, shared ones
// are left alone, and string-id ownership is documented per helper.

// InterpretNodeIntoStringValue evaluates n and converts the result to a
// string. Nodes that already are strings short-circuit without
// evaluation or cloning. The second result is false when the value is
// null.
func (i *Interpreter) InterpretNodeIntoStringValue(n *EvaluableNode) (string, bool) {
	if IsNilNode(n) {
		return "", false
	}
	if n.Type() == OpString {
		return i.StringPool().GetStringFromID(n.StringIDValue()), true
	}

	result := i.interpretNodeForImmediateUse(n)
	s, ok := result.StringValue(i.StringPool())
	i.manager.FreeNodeTreeIfPossible(result)
	return s, ok
}

// InterpretNodeIntoStringIDValueIfExists evaluates n and returns the id
// of the resulting string only if that string is already interned; no
// reference is created. Returns NotAStringID otherwise.
func (i *Interpreter) InterpretNodeIntoStringIDValueIfExists(n *EvaluableNode) StringID {
	if n != nil && n.Type() == OpString {
		return n.StringIDValue()
	}

	result := i.interpretNodeForImmediateUse(n)
	var sid StringID
	if result.IsImmediateValue() {
		v := result.GetValue(i.StringPool())
		switch v.Kind {
		case ImmediateStringID:
			sid = v.StringID
		case ImmediateNumber:
			sid = i.StringPool().GetStringID(FormatNumber(v.Number))
		}
	} else if s, ok := ToStringValue(i.StringPool(), result.Node); ok {
		sid = i.StringPool().GetStringID(s)
	}
	// the id is held elsewhere if it exists at all, so no reference is kept
	i.manager.FreeNodeTreeIfPossible(result)
	return sid
}

// InterpretNodeIntoStringIDValueWithReference evaluates n and returns
// the resulting string's id with one reference owned by the caller.
func (i *Interpreter) InterpretNodeIntoStringIDValueWithReference(n *EvaluableNode) StringID {
	if n != nil && n.Type() == OpString {
		return i.StringPool().CreateIDReference(n.StringIDValue())
	}

	result := i.interpretNodeForImmediateUse(n)

	if result.IsImmediateValue() {
		v := result.GetValue(i.StringPool())
		switch v.Kind {
		case ImmediateStringID:
			// the immediate carries its own reference; hand it to the caller
			return v.StringID
		case ImmediateNumber:
			return i.StringPool().CreateStringReference(FormatNumber(v.Number))
		case ImmediateBool:
			if v.Bool {
				return i.StringPool().CreateStringReference("true")
			}
			return i.StringPool().CreateStringReference("false")
		default:
			return NotAStringID
		}
	}

	if result.Unique {
		// a unique string node's reference can be stolen instead of cloned
		var sid StringID
		if result.Node != nil && result.Node.Type() == OpString {
			sid = result.Node.GetAndClearStringIDWithReference()
		} else if s, ok := ToStringValue(i.StringPool(), result.Node); ok {
			sid = i.StringPool().CreateStringReference(s)
		}
		i.manager.FreeNodeTree(result.Node)
		return sid
	}

	if s, ok := ToStringValue(i.StringPool(), result.Node); ok {
		return i.StringPool().CreateStringReference(s)
	}
	return NotAStringID
}

// InterpretNodeIntoUniqueStringIDValueEvaluableNode evaluates n into a
// string node guaranteed unique and mutable. Idempotent, string, and
// number operands are converted by direct allocation without evaluation.
func (i *Interpreter) InterpretNodeIntoUniqueStringIDValueEvaluableNode(n *EvaluableNode) NodeReference {
	if n == nil || n.GetIsIdempotent() || n.Type() == OpString || n.Type() == OpNumber {
		var sid StringID
		if s, ok := ToStringValue(i.StringPool(), n); ok {
			sid = i.StringPool().CreateStringReference(s)
		}
		return NewNodeReference(i.manager.AllocStringNodeWithHandoff(OpString, sid), true)
	}

	result := i.InterpretNode(n, false)

	if result.Node == nil || !result.Unique {
		var sid StringID
		if s, ok := result.StringValue(i.StringPool()); ok {
			sid = i.StringPool().CreateStringReference(s)
		}
		return NewNodeReference(i.manager.AllocStringNodeWithHandoff(OpString, sid), true)
	}

	result.Node.ClearMetadata(i.StringPool())
	if result.Node.Type() != OpString {
		i.setNodeType(result.Node, OpString)
	}
	return result
}

// InterpretNodeIntoUniqueNumberValueEvaluableNode is the numeric
// counterpart of the unique string coercion.
func (i *Interpreter) InterpretNodeIntoUniqueNumberValueEvaluableNode(n *EvaluableNode) NodeReference {
	if n == nil || n.GetIsIdempotent() {
		return NewNodeReference(i.manager.AllocNumberNode(ToNumber(i.StringPool(), n)), true)
	}

	result := i.InterpretNode(n, false)

	if result.Node == nil || !result.Unique {
		v := result.NumberValue(i.StringPool())
		i.manager.FreeNodeTreeIfPossible(result)
		return NewNodeReference(i.manager.AllocNumberNode(v), true)
	}

	v := ToNumber(i.StringPool(), result.Node)
	result.Node.ClearMetadata(i.StringPool())
	i.setNodeType(result.Node, OpNumber)
	result.Node.SetNumberValue(v)
	return result
}

// InterpretNodeIntoNumberValue evaluates n and converts the result to a
// number. Number nodes short-circuit; null yields NaN, as does any
// value without a numeric interpretation.
func (i *Interpreter) InterpretNodeIntoNumberValue(n *EvaluableNode) float64 {
	if IsNilNode(n) {
		return math.NaN()
	}
	if n.Type() == OpNumber {
		return n.NumberValue()
	}

	result := i.interpretNodeForImmediateUse(n)
	v := result.NumberValue(i.StringPool())
	i.manager.FreeNodeTreeIfPossible(result)
	return v
}

// InterpretNodeIntoBoolValue evaluates n and converts the result to a
// truth value; null yields valueIfNull.
func (i *Interpreter) InterpretNodeIntoBoolValue(n *EvaluableNode, valueIfNull bool) bool {
	if IsNilNode(n) {
		return valueIfNull
	}

	result := i.interpretNodeForImmediateUse(n)
	if result.IsNull() {
		i.manager.FreeNodeTreeIfPossible(result)
		return valueIfNull
	}
	v := result.BoolValue(i.StringPool())
	i.manager.FreeNodeTreeIfPossible(result)
	return v
}

// setNodeType retypes a node in place, converting its payload shape and
// releasing whatever the old shape held.
func (i *Interpreter) setNodeType(n *EvaluableNode, t OpcodeType) {
	if n.nodeType == t {
		return
	}
	pool := i.StringPool()

	// release payloads the new shape does not carry
	if !t.UsesStringData() && n.stringID != NotAStringID {
		pool.DestroyStringReference(n.stringID)
		n.stringID = NotAStringID
	}
	if !t.UsesNumberData() {
		n.number = 0
	}
	if t.UsesMappedData() && n.ordered != nil {
		// pair up ordered children as key/value
		m := make(map[StringID]*EvaluableNode, len(n.ordered)/2)
		for idx := 0; idx+1 < len(n.ordered); idx += 2 {
			if s, ok := ToStringValue(pool, n.ordered[idx]); ok {
				m[pool.CreateStringReference(s)] = n.ordered[idx+1]
			}
		}
		n.ordered = nil
		n.mapped = m
	} else if !t.UsesMappedData() && n.mapped != nil {
		ordered := make([]*EvaluableNode, 0, len(n.mapped))
		for k, v := range n.mapped {
			ordered = append(ordered, v)
			pool.DestroyStringReference(k)
		}
		n.mapped = nil
		if t.UsesOrderedData() {
			n.ordered = ordered
		}
	}
	if t.IsImmediate() {
		n.ordered = nil
	}

	n.nodeType = t
	if !t.CanBeIdempotent() {
		n.idempotent = false
	}
}
