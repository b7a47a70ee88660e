package vm

import (
	"math"
)

// Arithmetic handlers. All of them fold their operands through the
// numeric coercion, so a string "3" adds like 3 and null contributes
// NaN, which propagates the way IEEE arithmetic always does.

func (i *Interpreter) interpretAdd(en *EvaluableNode, immediateResult bool) NodeReference {
	var value float64
	for _, child := range en.OrderedChildNodes() {
		value += i.InterpretNodeIntoNumberValue(child)
	}
	return i.numberResult(value, immediateResult)
}

func (i *Interpreter) interpretSubtract(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.numberResult(0, immediateResult)
	}
	value := i.InterpretNodeIntoNumberValue(ocn[0])
	if len(ocn) == 1 {
		return i.numberResult(-value, immediateResult)
	}
	for _, child := range ocn[1:] {
		value -= i.InterpretNodeIntoNumberValue(child)
	}
	return i.numberResult(value, immediateResult)
}

func (i *Interpreter) interpretMultiply(en *EvaluableNode, immediateResult bool) NodeReference {
	value := 1.0
	for _, child := range en.OrderedChildNodes() {
		value *= i.InterpretNodeIntoNumberValue(child)
	}
	return i.numberResult(value, immediateResult)
}

func (i *Interpreter) interpretDivide(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.numberResult(math.NaN(), immediateResult)
	}
	value := i.InterpretNodeIntoNumberValue(ocn[0])
	for _, child := range ocn[1:] {
		value /= i.InterpretNodeIntoNumberValue(child)
	}
	return i.numberResult(value, immediateResult)
}

func (i *Interpreter) interpretModulus(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.numberResult(math.NaN(), immediateResult)
	}
	value := i.InterpretNodeIntoNumberValue(ocn[0])
	for _, child := range ocn[1:] {
		value = math.Mod(value, i.InterpretNodeIntoNumberValue(child))
	}
	return i.numberResult(value, immediateResult)
}

// unaryMathOps maps single-operand math opcodes to their functions.
var unaryMathOps = map[OpcodeType]func(float64) float64{
	OpFloor:    math.Floor,
	OpCeiling:  math.Ceil,
	OpRound:    math.Round,
	OpExponent: math.Exp,
	OpSin:      math.Sin,
	OpAsin:     math.Asin,
	OpCos:      math.Cos,
	OpAcos:     math.Acos,
	OpTan:      math.Tan,
	OpAtan:     math.Atan,
	OpSinh:     math.Sinh,
	OpAsinh:    math.Asinh,
	OpCosh:     math.Cosh,
	OpAcosh:    math.Acosh,
	OpTanh:     math.Tanh,
	OpAtanh:    math.Atanh,
	OpErf:      math.Erf,
	OpTgamma:   math.Gamma,
	OpLgamma:   func(x float64) float64 { v, _ := math.Lgamma(x); return v },
	OpSqrt:     math.Sqrt,
	OpAbs:      math.Abs,
}

func (i *Interpreter) interpretUnaryMath(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.numberResult(math.NaN(), immediateResult)
	}
	fn := unaryMathOps[en.Type()]
	return i.numberResult(fn(i.InterpretNodeIntoNumberValue(ocn[0])), immediateResult)
}

func (i *Interpreter) interpretLog(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.numberResult(math.NaN(), immediateResult)
	}
	value := math.Log(i.InterpretNodeIntoNumberValue(ocn[0]))
	if len(ocn) > 1 {
		base := i.InterpretNodeIntoNumberValue(ocn[1])
		value /= math.Log(base)
	}
	return i.numberResult(value, immediateResult)
}

func (i *Interpreter) interpretPow(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return i.numberResult(math.NaN(), immediateResult)
	}
	base := i.InterpretNodeIntoNumberValue(ocn[0])
	exponent := i.InterpretNodeIntoNumberValue(ocn[1])
	return i.numberResult(math.Pow(base, exponent), immediateResult)
}

func (i *Interpreter) interpretMaxAndMin(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.numberResult(math.NaN(), immediateResult)
	}
	wantMax := en.Type() == OpMax
	value := math.NaN()
	for _, child := range ocn {
		v := i.InterpretNodeIntoNumberValue(child)
		if math.IsNaN(value) || (wantMax && v > value) || (!wantMax && v < value) {
			value = v
		}
	}
	return i.numberResult(value, immediateResult)
}

func (i *Interpreter) interpretDotProduct(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) < 2 {
		return i.numberResult(math.NaN(), immediateResult)
	}
	pinDepth := i.saveOpcodeStackDepth()
	defer i.restoreOpcodeStack(pinDepth)
	a := i.interpretNodeForImmediateUse(ocn[0])
	i.pinNode(a.Node)
	b := i.interpretNodeForImmediateUse(ocn[1])
	defer i.manager.FreeNodeTreeIfPossible(a)
	defer i.manager.FreeNodeTreeIfPossible(b)

	pool := i.StringPool()
	var total float64
	if a.Node != nil && b.Node != nil &&
		a.Node.IsAssociativeArray() && b.Node.IsAssociativeArray() {
		for sid, av := range a.Node.MappedChildNodes() {
			if bv, ok := b.Node.GetMappedChildNode(sid); ok {
				total += ToNumber(pool, av) * ToNumber(pool, bv)
			}
		}
		return i.numberResult(total, immediateResult)
	}
	if a.Node == nil || b.Node == nil {
		return i.numberResult(math.NaN(), immediateResult)
	}
	an := a.Node.OrderedChildNodes()
	bn := b.Node.OrderedChildNodes()
	n := len(an)
	if len(bn) < n {
		n = len(bn)
	}
	for idx := 0; idx < n; idx++ {
		total += ToNumber(pool, an[idx]) * ToNumber(pool, bn[idx])
	}
	return i.numberResult(total, immediateResult)
}

func (i *Interpreter) interpretEntropy(en *EvaluableNode, immediateResult bool) NodeReference {
	ocn := en.OrderedChildNodes()
	if len(ocn) == 0 {
		return i.numberResult(math.NaN(), immediateResult)
	}
	operand := i.interpretNodeForImmediateUse(ocn[0])
	defer i.manager.FreeNodeTreeIfPossible(operand)
	if operand.Node == nil {
		return i.numberResult(math.NaN(), immediateResult)
	}

	pool := i.StringPool()
	var total float64
	accumulate := func(n *EvaluableNode) {
		p := ToNumber(pool, n)
		if p > 0 {
			total -= p * math.Log(p)
		}
	}
	if operand.Node.IsAssociativeArray() {
		for _, v := range operand.Node.MappedChildNodes() {
			accumulate(v)
		}
	} else {
		for _, v := range operand.Node.OrderedChildNodes() {
			accumulate(v)
		}
	}
	return i.numberResult(total, immediateResult)
}
