package vm

import "math"

// ImmediateValueType discriminates the immediate-result union.
type ImmediateValueType uint8

const (
	ImmediateNull ImmediateValueType = iota
	ImmediateNumber
	ImmediateStringID
	ImmediateBool
	ImmediateCode
)

// ImmediateValueWithType is the allocation-free result shape a handler
// may return when the caller passed the immediate-result hint: a number,
// an interned string id, or a boolean, without a node behind it.
type ImmediateValueWithType struct {
	Kind     ImmediateValueType
	Number   float64
	StringID StringID
	Bool     bool
}

// ImmediateFromNumber wraps a number.
func ImmediateFromNumber(v float64) ImmediateValueWithType {
	return ImmediateValueWithType{Kind: ImmediateNumber, Number: v}
}

// ImmediateFromStringID wraps a string id. The caller's reference is
// carried along, not duplicated.
func ImmediateFromStringID(id StringID) ImmediateValueWithType {
	return ImmediateValueWithType{Kind: ImmediateStringID, StringID: id}
}

// ImmediateFromBool wraps a boolean.
func ImmediateFromBool(b bool) ImmediateValueWithType {
	return ImmediateValueWithType{Kind: ImmediateBool, Bool: b}
}

// NodeReference is a node pointer paired with a uniqueness assertion.
// Unique means the bearer is the sole live referent of the subtree and
// may mutate or reclaim it. Uniqueness is monotonic: attaching a non
// unique child makes the whole reference non unique, and it never comes
// back. A NodeReference may instead carry an immediate value when the
// producer honored the immediate-result hint; callers must tolerate
// either shape.
type NodeReference struct {
	Node   *EvaluableNode
	Unique bool

	immediate bool
	value     ImmediateValueWithType
}

// NullReference is the canonical null result.
func NullReference() NodeReference {
	return NodeReference{}
}

// NewNodeReference wraps a node with an explicit uniqueness claim.
func NewNodeReference(n *EvaluableNode, unique bool) NodeReference {
	return NodeReference{Node: n, Unique: unique}
}

// NewImmediateReference wraps an immediate value.
func NewImmediateReference(v ImmediateValueWithType) NodeReference {
	return NodeReference{immediate: true, value: v, Unique: true}
}

// IsImmediateValue returns true when the reference carries an immediate
// value rather than a node.
func (r NodeReference) IsImmediateValue() bool {
	return r.immediate
}

// IsNull returns true for the null reference in either shape.
func (r NodeReference) IsNull() bool {
	if r.immediate {
		return r.value.Kind == ImmediateNull
	}
	return IsNilNode(r.Node)
}

// GetValue collapses the reference into an immediate value, reading
// through the node when necessary.
func (r NodeReference) GetValue(pool *StringInternPool) ImmediateValueWithType {
	if r.immediate {
		return r.value
	}
	n := r.Node
	if IsNilNode(n) {
		return ImmediateValueWithType{Kind: ImmediateNull}
	}
	switch n.Type() {
	case OpNumber:
		return ImmediateFromNumber(n.NumberValue())
	case OpString, OpSymbol:
		return ImmediateFromStringID(n.StringIDValue())
	case OpTrue:
		return ImmediateFromBool(true)
	case OpFalse:
		return ImmediateFromBool(false)
	default:
		return ImmediateValueWithType{Kind: ImmediateCode}
	}
}

// NumberValue reads the reference as a number; NaN when null or
// non-numeric, matching ToNumber semantics.
func (r NodeReference) NumberValue(pool *StringInternPool) float64 {
	if r.immediate {
		switch r.value.Kind {
		case ImmediateNumber:
			return r.value.Number
		case ImmediateBool:
			if r.value.Bool {
				return 1
			}
			return 0
		case ImmediateStringID:
			n := &EvaluableNode{nodeType: OpString, stringID: r.value.StringID}
			return ToNumber(pool, n)
		default:
			return math.NaN()
		}
	}
	return ToNumber(pool, r.Node)
}

// BoolValue reads the reference as a truth value.
func (r NodeReference) BoolValue(pool *StringInternPool) bool {
	if r.immediate {
		switch r.value.Kind {
		case ImmediateBool:
			return r.value.Bool
		case ImmediateNumber:
			return r.value.Number != 0 && !math.IsNaN(r.value.Number)
		case ImmediateStringID:
			return pool.GetStringFromID(r.value.StringID) != ""
		default:
			return false
		}
	}
	return ToBool(pool, r.Node)
}

// StringValue reads the reference as a string; the second result is
// false when the reference is null.
func (r NodeReference) StringValue(pool *StringInternPool) (string, bool) {
	if r.immediate {
		switch r.value.Kind {
		case ImmediateStringID:
			return pool.GetStringFromID(r.value.StringID), true
		case ImmediateNumber:
			return FormatNumber(r.value.Number), true
		case ImmediateBool:
			if r.value.Bool {
				return "true", true
			}
			return "false", true
		default:
			return "", false
		}
	}
	return ToStringValue(pool, r.Node)
}

// UpdatePropertiesBasedOnAttachedNode folds an attached child reference
// into this one: uniqueness only survives if both sides were unique, and
// a cycle-flagged or non-unique child forces the parent to need cycle
// checks (an aliased child can alias back into this subtree).
func (r *NodeReference) UpdatePropertiesBasedOnAttachedNode(child NodeReference) {
	if child.immediate {
		return
	}
	if child.Node == nil {
		return
	}
	if !child.Unique {
		r.Unique = false
		if r.Node != nil {
			r.Node.SetNeedCycleCheck(true)
		}
	} else if child.Node.GetNeedCycleCheck() && r.Node != nil {
		r.Node.SetNeedCycleCheck(true)
	}
	if r.Node != nil && r.Node.GetIsIdempotent() && !child.Node.GetIsIdempotent() {
		r.Node.SetIsIdempotent(false)
	}
}
