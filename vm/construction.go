package vm

// The construction stack carries the per-iteration context of
// iterator-shaped opcodes (map, filter, reduce, rewrite, while, list and
// assoc construction): the node being built, the current index and
// value, and the previous iteration's result. The node-valued parts live
// as triplets on the pinned constructionStack list so collection cannot
// reclaim in-progress structure; the scalar parts live in a parallel
// frame slice.

// offsets of the node-valued construction entries within one triplet
const (
	constructionOffsetTarget         = 0
	constructionOffsetCurrentValue   = 1
	constructionOffsetPreviousResult = 2
	constructionStride               = 3
)

// constructionFrame is the scalar half of one construction entry.
type constructionFrame struct {
	currentIndex         ImmediateValueWithType
	previousResultUnique bool

	// executionSideEffects records that the body mutated enclosing
	// structure; it propagates to the parent frame on pop.
	executionSideEffects bool
}

// PushNewConstructionContext begins an iteration context over target.
func (i *Interpreter) PushNewConstructionContext(target *EvaluableNode,
	currentIndex ImmediateValueWithType, currentValue *EvaluableNode,
	previousResult NodeReference) {

	i.constructionStack.AppendOrderedChildNode(target)
	i.constructionStack.AppendOrderedChildNode(currentValue)
	i.constructionStack.AppendOrderedChildNode(previousResult.Node)
	i.constructionFrames = append(i.constructionFrames, constructionFrame{
		currentIndex:         currentIndex,
		previousResultUnique: previousResult.Unique,
	})
}

// PopConstructionContextAndGetExecutionSideEffectFlag removes the top
// context and returns whether its body observed side effects; the flag
// also propagates to the new top frame so ancestors learn about
// mutations underneath them.
func (i *Interpreter) PopConstructionContextAndGetExecutionSideEffectFlag() bool {
	frames := i.constructionFrames
	if len(frames) == 0 {
		panic("Interpreter: construction stack underflow")
	}
	top := frames[len(frames)-1]
	i.constructionFrames = frames[:len(frames)-1]

	nodes := i.constructionStack.ordered
	i.constructionStack.ordered = nodes[:len(nodes)-constructionStride]

	sideEffects := top.executionSideEffects || i.manager.ConsumeSideEffectFlag()
	if sideEffects && len(i.constructionFrames) > 0 {
		i.constructionFrames[len(i.constructionFrames)-1].executionSideEffects = true
	}
	return sideEffects
}

func (i *Interpreter) constructionDepth() int {
	return len(i.constructionFrames)
}

func (i *Interpreter) constructionEntry(offset int) *EvaluableNode {
	nodes := i.constructionStack.ordered
	if len(nodes) < constructionStride {
		return nil
	}
	return nodes[len(nodes)-constructionStride+offset]
}

func (i *Interpreter) setConstructionEntry(offset int, n *EvaluableNode) {
	nodes := i.constructionStack.ordered
	if len(nodes) < constructionStride {
		return
	}
	nodes[len(nodes)-constructionStride+offset] = n
}

// SetTopCurrentIndexInConstructionStack updates the current index of the
// innermost iteration.
func (i *Interpreter) SetTopCurrentIndexInConstructionStack(index ImmediateValueWithType) {
	if len(i.constructionFrames) == 0 {
		return
	}
	i.constructionFrames[len(i.constructionFrames)-1].currentIndex = index
}

// SetTopCurrentValueInConstructionStack updates the current value of the
// innermost iteration.
func (i *Interpreter) SetTopCurrentValueInConstructionStack(value *EvaluableNode) {
	i.setConstructionEntry(constructionOffsetCurrentValue, value)
}

// SetTopPreviousResultInConstructionStack records an iteration's result
// for the next iteration's previous_result opcode.
func (i *Interpreter) SetTopPreviousResultInConstructionStack(result NodeReference) {
	i.setConstructionEntry(constructionOffsetPreviousResult, result.Node)
	if len(i.constructionFrames) > 0 {
		i.constructionFrames[len(i.constructionFrames)-1].previousResultUnique = result.Unique
	}
}

// GetAndClearPreviousResultInConstructionStack transfers the previous
// result out of the frame, preserving its uniqueness claim.
func (i *Interpreter) GetAndClearPreviousResultInConstructionStack() NodeReference {
	n := i.constructionEntry(constructionOffsetPreviousResult)
	if n == nil {
		return NullReference()
	}
	unique := false
	if len(i.constructionFrames) > 0 {
		unique = i.constructionFrames[len(i.constructionFrames)-1].previousResultUnique
		i.constructionFrames[len(i.constructionFrames)-1].previousResultUnique = false
	}
	i.setConstructionEntry(constructionOffsetPreviousResult, nil)
	return NewNodeReference(n, unique)
}
