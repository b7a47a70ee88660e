package vm

import (
	"math"
	"sync/atomic"
)

// ExecutionStepCount counts evaluator steps.
type ExecutionStepCount = int64

// PerformanceConstraints is the composable resource budget enforced at
// every evaluator tick: execution steps, allocated nodes, opcode depth,
// and entity-creation ceilings. Zero max values mean unconstrained.
//
// A nested sandboxed call composes its requested budget with the
// caller's remaining headroom through PopulatePerformanceCounters, so a child can
// never out-spend its parent.
type PerformanceConstraints struct {
	// CurExecutionStep is shared across parallel child interpreters, so
	// exhaustion fires within a step of the limit regardless of fan-out.
	CurExecutionStep     atomic.Int64
	MaxNumExecutionSteps ExecutionStepCount

	// MaxNumAllocatedNodes, once composed, is an absolute used-node
	// ceiling the node manager can test with a single comparison.
	MaxNumAllocatedNodes                   int64
	CurNumAllocatedNodesAllocatedToEntities int64

	MaxOpcodeExecutionDepth int64

	EntityToConstrainFrom      *Entity
	ConstrainMaxContainedEntities bool
	MaxContainedEntities          int64
	ConstrainMaxContainedEntityDepth bool
	MaxContainedEntityDepth          int64

	// MaxEntityIdLength is its own budget, independent of the node
	// allocation ceiling.
	MaxEntityIdLength int64
}

// ConstrainedExecutionSteps returns true if a step limit is active.
func (pc *PerformanceConstraints) ConstrainedExecutionSteps() bool {
	return pc.MaxNumExecutionSteps > 0
}

// GetRemainingNumExecutionSteps returns the steps left before exhaustion.
func (pc *PerformanceConstraints) GetRemainingNumExecutionSteps() ExecutionStepCount {
	cur := pc.CurExecutionStep.Load()
	if cur >= pc.MaxNumExecutionSteps {
		return 0
	}
	return pc.MaxNumExecutionSteps - cur
}

// ConstrainedAllocatedNodes returns true if an allocation limit is active.
func (pc *PerformanceConstraints) ConstrainedAllocatedNodes() bool {
	return pc.MaxNumAllocatedNodes > 0
}

// GetRemainingNumAllocatedNodes returns allocation headroom given the
// current used-node count.
func (pc *PerformanceConstraints) GetRemainingNumAllocatedNodes(curUsedNodes int64) int64 {
	if curUsedNodes >= pc.MaxNumAllocatedNodes {
		return 0
	}
	return pc.MaxNumAllocatedNodes - curUsedNodes
}

// ConstrainedOpcodeExecutionDepth returns true if a depth limit is active.
func (pc *PerformanceConstraints) ConstrainedOpcodeExecutionDepth() bool {
	return pc.MaxOpcodeExecutionDepth > 0
}

// GetRemainingOpcodeExecutionDepth returns depth headroom given the
// current opcode stack depth.
func (pc *PerformanceConstraints) GetRemainingOpcodeExecutionDepth(curDepth int64) int64 {
	if curDepth >= pc.MaxOpcodeExecutionDepth {
		return 0
	}
	return pc.MaxOpcodeExecutionDepth - curDepth
}

// ---------------------------------------------------------------------------
// Budget population
// ---------------------------------------------------------------------------

// PopulatePerformanceConstraintsFromParams reads up to six numeric
// parameters starting at offset into pc: execution steps, allocated
// nodes, opcode depth, then (when includeEntityConstraints) contained
// entities, contained entity depth, and entity id length. Zero or NaN
// leaves the corresponding limit inactive; values of at least 1 (or 0
// for the two entity-count fields) activate it. Returns true if any
// limit is active afterwards, including limits inherited from the
// calling interpreter.
func (i *Interpreter) PopulatePerformanceConstraintsFromParams(params []*EvaluableNode,
	offset int, pc *PerformanceConstraints, includeEntityConstraints bool) bool {

	anyConstraints := i.performanceConstraints != nil

	readParam := func(idx int) (float64, bool) {
		if idx >= len(params) {
			return 0, false
		}
		v := i.InterpretNodeIntoNumberValue(params[idx])
		if math.IsNaN(v) {
			return 0, false
		}
		return v, true
	}

	pc.CurExecutionStep.Store(0)
	pc.MaxNumExecutionSteps = 0
	if v, ok := readParam(offset + 0); ok && v >= 1 {
		pc.MaxNumExecutionSteps = ExecutionStepCount(v)
		anyConstraints = true
	}

	pc.CurNumAllocatedNodesAllocatedToEntities = 0
	pc.MaxNumAllocatedNodes = 0
	if v, ok := readParam(offset + 1); ok && v >= 1 {
		pc.MaxNumAllocatedNodes = int64(v)
		anyConstraints = true
	}

	pc.MaxOpcodeExecutionDepth = 0
	if v, ok := readParam(offset + 2); ok && v >= 1 {
		pc.MaxOpcodeExecutionDepth = int64(v)
		anyConstraints = true
	}

	pc.EntityToConstrainFrom = nil
	pc.ConstrainMaxContainedEntities = false
	pc.MaxContainedEntities = 0
	pc.ConstrainMaxContainedEntityDepth = false
	pc.MaxContainedEntityDepth = 0
	pc.MaxEntityIdLength = 0

	if includeEntityConstraints {
		if v, ok := readParam(offset + 3); ok && v >= 0 {
			pc.ConstrainMaxContainedEntities = true
			pc.MaxContainedEntities = int64(v)
			anyConstraints = true
		}
		if v, ok := readParam(offset + 4); ok && v >= 0 {
			pc.ConstrainMaxContainedEntityDepth = true
			pc.MaxContainedEntityDepth = int64(v)
			anyConstraints = true
		}
		if v, ok := readParam(offset + 5); ok && v >= 1 {
			pc.MaxEntityIdLength = int64(v)
			anyConstraints = true
		}
	}

	return anyConstraints
}

// PopulatePerformanceCounters composes a child sandbox's constraints
// with this interpreter's: every numeric budget becomes the minimum of
// the caller's remaining headroom and the child's requested value. When
// the caller has no headroom left, the child's limit is set to 1 with
// the current counter primed at the limit, so the child's very first
// exhaustion check fires. Allocated-node limits are scaled by the worker
// pool width and offset by the current used-node count, producing an
// absolute ceiling the node manager can test cheaply.
func (i *Interpreter) PopulatePerformanceCounters(pc *PerformanceConstraints, entityToConstrainFrom *Entity) {
	if pc == nil {
		return
	}
	caller := i.performanceConstraints

	if caller != nil && caller.ConstrainedExecutionSteps() {
		remaining := caller.GetRemainingNumExecutionSteps()
		if remaining > 0 {
			if pc.ConstrainedExecutionSteps() {
				pc.MaxNumExecutionSteps = minInt64(pc.MaxNumExecutionSteps, remaining)
			} else {
				pc.MaxNumExecutionSteps = remaining
			}
		} else {
			// out of resources; a zero limit means unconstrained, so use
			// a primed counter that exhausts on the first check
			pc.MaxNumExecutionSteps = 1
			pc.CurExecutionStep.Store(1)
		}
	}

	if caller != nil && caller.ConstrainedAllocatedNodes() {
		remaining := caller.GetRemainingNumAllocatedNodes(i.manager.GetNumberOfUsedNodes())
		if remaining > 0 {
			if pc.ConstrainedAllocatedNodes() {
				pc.MaxNumAllocatedNodes = minInt64(pc.MaxNumAllocatedNodes, remaining)
			} else {
				pc.MaxNumAllocatedNodes = remaining
			}
		} else {
			pc.MaxNumAllocatedNodes = 1
		}
	}

	if pc.ConstrainedAllocatedNodes() {
		if i.workers != nil {
			pc.MaxNumAllocatedNodes *= int64(i.workers.NumActiveWorkers())
		}
		pc.MaxNumAllocatedNodes += i.manager.GetNumberOfUsedNodes()
	}

	if caller != nil && caller.ConstrainedOpcodeExecutionDepth() {
		remaining := caller.GetRemainingOpcodeExecutionDepth(int64(len(i.opcodeStackNodes())))
		if remaining > 0 {
			if pc.ConstrainedOpcodeExecutionDepth() {
				pc.MaxOpcodeExecutionDepth = minInt64(pc.MaxOpcodeExecutionDepth, remaining)
			} else {
				pc.MaxOpcodeExecutionDepth = remaining
			}
		} else {
			pc.MaxOpcodeExecutionDepth = 1
		}
	}

	if entityToConstrainFrom != nil {
		pc.EntityToConstrainFrom = entityToConstrainFrom
	}

	if caller != nil && caller.ConstrainMaxContainedEntities && caller.EntityToConstrainFrom != nil && entityToConstrainFrom != nil {
		pc.ConstrainMaxContainedEntities = true
		maxEntities := caller.MaxContainedEntities
		containerTotal := caller.EntityToConstrainFrom.GetNumContainedEntitiesDeep()
		containedTotal := entityToConstrainFrom.GetNumContainedEntitiesDeep()
		if containerTotal >= caller.MaxContainedEntities {
			maxEntities = 0
		} else {
			maxEntities = caller.MaxContainedEntities - (containerTotal - containedTotal)
		}
		pc.MaxContainedEntities = minInt64(pc.MaxContainedEntities, maxEntities)
	}

	if caller != nil && caller.ConstrainMaxContainedEntityDepth && caller.EntityToConstrainFrom != nil && entityToConstrainFrom != nil {
		pc.ConstrainMaxContainedEntityDepth = true
		maxDepth := caller.MaxContainedEntityDepth
		curDepth := int64(0)
		for e := entityToConstrainFrom; e != nil && e != caller.EntityToConstrainFrom; e = e.GetContainer() {
			curDepth++
		}
		if curDepth >= maxDepth {
			pc.MaxContainedEntityDepth = 0
		} else {
			pc.MaxContainedEntityDepth = minInt64(pc.MaxContainedEntityDepth, maxDepth-curDepth)
		}
	}

	if caller != nil && caller.MaxEntityIdLength > 0 {
		// both budgets stay in their own fields; the id-length ceiling
		// never bleeds into the allocation ceiling
		if pc.MaxEntityIdLength > 0 {
			pc.MaxEntityIdLength = minInt64(pc.MaxEntityIdLength, caller.MaxEntityIdLength)
		} else {
			pc.MaxEntityIdLength = caller.MaxEntityIdLength
		}
	}
}

// AreExecutionResourcesExhausted checks every active budget. When
// advance is true the step counter is incremented first, making this the
// per-evaluation tick.
func (i *Interpreter) AreExecutionResourcesExhausted(advance bool) bool {
	pc := i.performanceConstraints
	if pc == nil {
		return false
	}
	if pc.ConstrainedExecutionSteps() {
		var cur int64
		if advance {
			cur = pc.CurExecutionStep.Add(1)
		} else {
			cur = pc.CurExecutionStep.Load()
		}
		if cur > pc.MaxNumExecutionSteps {
			return true
		}
	}
	if pc.ConstrainedAllocatedNodes() {
		if i.manager.GetNumberOfUsedNodes() > pc.MaxNumAllocatedNodes {
			return true
		}
	}
	if pc.ConstrainedOpcodeExecutionDepth() {
		if int64(len(i.opcodeStackNodes())) > pc.MaxOpcodeExecutionDepth {
			return true
		}
	}
	return false
}

// ConstrainedAllocatedNodes reports whether the interpreter is running
// under an allocation ceiling.
func (i *Interpreter) ConstrainedAllocatedNodes() bool {
	return i.performanceConstraints != nil && i.performanceConstraints.ConstrainedAllocatedNodes()
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
