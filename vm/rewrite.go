package vm

// Bottom-up structural rewrite. Each distinct sub-node is visited once;
// a second encounter of a shared child reuses the first visit's clone,
// preserving sharing in the output. Because a reused clone means the new
// tree has a join point (and possibly a back-edge), every ancestor of
// the reused node is flagged for cycle checking.

// setAllParentNodesNeedCycleCheck climbs newNodeToNewParent from node,
// flagging ancestors until one is already flagged or the top is reached.
func setAllParentNodesNeedCycleCheck(node *EvaluableNode,
	newNodeToNewParent map[*EvaluableNode]*EvaluableNode) {

	for node != nil {
		if node.GetNeedCycleCheck() {
			break
		}
		node.SetNeedCycleCheck(true)
		parent, ok := newNodeToNewParent[node]
		if !ok {
			return
		}
		node = parent
	}
}

// RewriteByFunction clones tree bottom-up, calling function on every
// cloned node with the construction frame exposing the in-progress
// clone, its index, and its current value. Children are visited
// depth-first left-to-right; assoc children are visited by key. The
// returned reference replaces the node in the clone.
func (i *Interpreter) RewriteByFunction(function NodeReference,
	tree *EvaluableNode, newParent *EvaluableNode,
	originalToNew map[*EvaluableNode]*EvaluableNode,
	newToNewParent map[*EvaluableNode]*EvaluableNode) NodeReference {

	if tree == nil {
		tree = i.manager.AllocNode(OpNull)
	}

	if existing, ok := originalToNew[tree]; ok {
		setAllParentNodesNeedCycleCheck(existing, newToNewParent)
		return NewNodeReference(existing, false)
	}

	newTree := NewNodeReference(i.manager.AllocShallowCopy(tree, KeepMetadata), true)
	originalToNew[tree] = newTree.Node
	newToNewParent[newTree.Node] = newParent

	if tree.IsAssociativeArray() {
		i.PushNewConstructionContext(newTree.Node,
			ImmediateFromStringID(NotAStringID), nil, NullReference())

		for id, child := range newTree.Node.MappedChildNodes() {
			i.SetTopCurrentIndexInConstructionStack(ImmediateFromStringID(id))
			i.SetTopCurrentValueInConstructionStack(child)
			newChild := i.RewriteByFunction(function, child, newTree.Node,
				originalToNew, newToNewParent)
			newTree.UpdatePropertiesBasedOnAttachedNode(newChild)
			newTree.Node.mapped[id] = newChild.Node
		}

		if i.PopConstructionContextAndGetExecutionSideEffectFlag() {
			setAllParentNodesNeedCycleCheck(newTree.Node, newToNewParent)
		}
	} else if !tree.IsImmediate() {
		ocn := newTree.Node.OrderedChildNodes()
		if len(ocn) > 0 {
			i.PushNewConstructionContext(newTree.Node,
				ImmediateFromNumber(0), nil, NullReference())

			for idx := 0; idx < len(ocn); idx++ {
				i.SetTopCurrentIndexInConstructionStack(ImmediateFromNumber(float64(idx)))
				i.SetTopCurrentValueInConstructionStack(ocn[idx])
				newChild := i.RewriteByFunction(function, ocn[idx], newTree.Node,
					originalToNew, newToNewParent)
				newTree.UpdatePropertiesBasedOnAttachedNode(newChild)
				ocn[idx] = newChild.Node
			}

			if i.PopConstructionContextAndGetExecutionSideEffectFlag() {
				setAllParentNodesNeedCycleCheck(newTree.Node, newToNewParent)
			}
		}
	}

	i.SetTopCurrentValueInConstructionStack(newTree.Node)
	return i.InterpretNode(function.Node, false)
}
