package vm

import (
	"sync"
)

// StringID is an interned string handle. IDs are reference counted: every
// stored copy of an id (in a node, a label set, or a caller's hand) holds
// exactly one reference, and every path that drops a stored id releases it.
type StringID uint32

// NotAStringID is the sentinel for "no string". It is always valid to
// reference or release; both are no-ops.
const NotAStringID StringID = 0

// internEntry is one slot in the pool. A slot with refCount == 0 is free
// and its id may be recycled.
type internEntry struct {
	str      string
	refCount int64
}

// StringInternPool interns strings process-wide and hands out reference
// counted ids. One pool is constructed at runtime init and passed by
// reference into every component that stores string ids; the pool is safe
// for concurrent use.
type StringInternPool struct {
	mu      sync.RWMutex
	toID    map[string]StringID
	entries []internEntry
	freeIDs []StringID
}

// NewStringInternPool creates an empty pool. Slot zero is reserved for
// NotAStringID.
func NewStringInternPool() *StringInternPool {
	return &StringInternPool{
		toID:    make(map[string]StringID),
		entries: make([]internEntry, 1),
	}
}

// CreateStringReference interns s and returns its id with one new
// reference owned by the caller.
func (p *StringInternPool) CreateStringReference(s string) StringID {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.toID[s]; ok {
		p.entries[id].refCount++
		return id
	}

	var id StringID
	if n := len(p.freeIDs); n > 0 {
		id = p.freeIDs[n-1]
		p.freeIDs = p.freeIDs[:n-1]
		p.entries[id] = internEntry{str: s, refCount: 1}
	} else {
		id = StringID(len(p.entries))
		p.entries = append(p.entries, internEntry{str: s, refCount: 1})
	}
	p.toID[s] = id
	return id
}

// CreateIDReference adds one reference to an existing id and returns it.
func (p *StringInternPool) CreateIDReference(id StringID) StringID {
	if id == NotAStringID {
		return id
	}
	p.mu.Lock()
	p.entries[id].refCount++
	p.mu.Unlock()
	return id
}

// DestroyStringReference releases one reference. When the last reference
// is released, the slot is recycled.
func (p *StringInternPool) DestroyStringReference(id StringID) {
	if id == NotAStringID {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e := &p.entries[id]
	e.refCount--
	if e.refCount > 0 {
		return
	}
	if e.refCount < 0 {
		panic("StringInternPool: reference released more times than created")
	}
	delete(p.toID, e.str)
	e.str = ""
	p.freeIDs = append(p.freeIDs, id)
}

// GetStringID returns the id for s without creating a reference, or
// NotAStringID if s has never been interned (or is currently unreferenced).
func (p *StringInternPool) GetStringID(s string) StringID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.toID[s]
}

// GetStringFromID returns the string for an id. NotAStringID yields "".
func (p *StringInternPool) GetStringFromID(id StringID) string {
	if id == NotAStringID {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries[id].str
}

// GetRefCount reports the current reference count for an id.
// Intended for tests and integrity checks.
func (p *StringInternPool) GetRefCount(id StringID) int64 {
	if id == NotAStringID {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries[id].refCount
}

// NumStrings reports the number of live interned strings.
func (p *StringInternPool) NumStrings() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.toID)
}
