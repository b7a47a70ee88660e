package vm

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds parallel child evaluation process-wide. Admission is
// non-blocking: a fan-out that cannot get workers immediately falls back
// to sequential evaluation rather than queueing, so parallelism is only
// ever an accelerant, never a scheduling dependency.
type WorkerPool struct {
	sem        *semaphore.Weighted
	numWorkers int64
	active     atomic.Int64
}

// NewWorkerPool creates a pool of n workers; n < 1 uses GOMAXPROCS.
func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{
		sem:        semaphore.NewWeighted(int64(n)),
		numWorkers: int64(n),
	}
}

// NumWorkers returns the pool width.
func (w *WorkerPool) NumWorkers() int {
	return int(w.numWorkers)
}

// NumActiveWorkers returns the number of workers currently running plus
// one for the calling thread; budget scaling uses it so an allocation
// ceiling covers every thread that may be allocating.
func (w *WorkerPool) NumActiveWorkers() int {
	return int(w.active.Load()) + 1
}

// tryAcquire attempts to take n workers without blocking.
func (w *WorkerPool) tryAcquire(n int64) bool {
	if w == nil {
		return false
	}
	if !w.sem.TryAcquire(n) {
		return false
	}
	w.active.Add(n)
	return true
}

func (w *WorkerPool) release(n int64) {
	w.active.Add(-n)
	w.sem.Release(n)
}

// BlockingAcquire takes one worker, waiting if necessary. Used by
// long-running embedders, not by the fan-out path.
func (w *WorkerPool) BlockingAcquire(ctx context.Context) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	w.active.Add(1)
	return nil
}

// Release returns one worker taken by BlockingAcquire.
func (w *WorkerPool) Release() {
	w.release(1)
}

// ---------------------------------------------------------------------------
// Parallel child evaluation
// ---------------------------------------------------------------------------

// InterpretEvaluableNodesConcurrently fans the given child nodes out
// onto the worker pool, one child interpreter per node. It declines
// (returning false) unless the parent node requests concurrency, there
// are at least two tasks, and the pool can admit the batch without
// blocking; the caller then evaluates sequentially.
//
// Each child interpreter shares this interpreter's call stack under a
// read-write mutex: frames below the child's unique-access starting
// depth are shared (reads locked, writes exclusive), frames the child
// pushes above it are its own. Results are returned in child order.
func (i *Interpreter) InterpretEvaluableNodesConcurrently(parent *EvaluableNode,
	nodes []*EvaluableNode, immediateResults bool) ([]NodeReference, bool) {

	if !parent.GetConcurrency() {
		return nil, false
	}
	numTasks := len(nodes)
	if numTasks < 2 {
		return nil, false
	}
	if i.workers == nil || !i.workers.tryAcquire(int64(numTasks)) {
		return nil, false
	}
	defer i.workers.release(int64(numTasks))

	// reuse an enclosing fan-out's lock so all writers in the tree
	// serialize against each other
	callStackMutex := i.callStackMutex
	if callStackMutex == nil {
		callStackMutex = new(sync.RWMutex)
	}

	results := i.runConcurrentTasks(nodes, immediateResults, callStackMutex)
	return results, true
}

func (i *Interpreter) runConcurrentTasks(nodes []*EvaluableNode,
	immediateResults bool, callStackMutex *sync.RWMutex) []NodeReference {

	results := make([]NodeReference, len(nodes))
	var wg sync.WaitGroup

	for idx, node := range nodes {
		wg.Add(1)
		go func(idx int, node *EvaluableNode) {
			defer wg.Done()

			child := NewInterpreter(i.manager, i.randomStream.CreateOtherStreamViaString(
				FormatNumber(float64(idx))), i.writeListeners, i.printWriter,
				i.performanceConstraints, i.curEntity, i)

			// child gets its own opcode stack, a snapshot of the
			// construction stack, and a shallow copy of this interpreter's
			// call stack: the scope frames already on it are shared under
			// the lock, frames the child pushes stay on its own copy
			childConstruction := make([]constructionFrame, len(i.constructionFrames))
			copy(childConstruction, i.constructionFrames)
			childConstructionStack := i.manager.AllocShallowCopy(i.constructionStack, RemoveMetadata)
			childCallStack := i.manager.AllocShallowCopy(i.callStack, RemoveMetadata)

			results[idx] = child.ExecuteNode(node, childCallStack, nil, childConstructionStack,
				childConstruction, callStackMutex, immediateResults)
		}(idx, node)
	}

	wg.Wait()
	return results
}
