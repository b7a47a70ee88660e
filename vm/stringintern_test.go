package vm

import (
	"testing"
)

func TestInternReferenceCounting(t *testing.T) {
	pool := NewStringInternPool()

	id := pool.CreateStringReference("hello")
	if id == NotAStringID {
		t.Fatal("interning returned the sentinel")
	}
	if pool.GetRefCount(id) != 1 {
		t.Errorf("refcount = %d, want 1", pool.GetRefCount(id))
	}

	// interning the same string returns the same id with another ref
	again := pool.CreateStringReference("hello")
	if again != id {
		t.Errorf("re-interning returned %d, want %d", again, id)
	}
	if pool.GetRefCount(id) != 2 {
		t.Errorf("refcount = %d, want 2", pool.GetRefCount(id))
	}

	pool.CreateIDReference(id)
	if pool.GetRefCount(id) != 3 {
		t.Errorf("refcount = %d, want 3", pool.GetRefCount(id))
	}

	pool.DestroyStringReference(id)
	pool.DestroyStringReference(id)
	pool.DestroyStringReference(id)
	if pool.GetStringID("hello") != NotAStringID {
		t.Error("fully released string should be gone")
	}
}

func TestInternIDRecycling(t *testing.T) {
	pool := NewStringInternPool()
	first := pool.CreateStringReference("gone")
	pool.DestroyStringReference(first)
	second := pool.CreateStringReference("fresh")
	if second != first {
		t.Errorf("freed slot not recycled: got %d, want %d", second, first)
	}
	if pool.GetStringFromID(second) != "fresh" {
		t.Error("recycled slot holds wrong string")
	}
}

func TestInternSentinelIsInert(t *testing.T) {
	pool := NewStringInternPool()
	// both operations on the sentinel are no-ops
	pool.CreateIDReference(NotAStringID)
	pool.DestroyStringReference(NotAStringID)
	if pool.GetStringFromID(NotAStringID) != "" {
		t.Error("sentinel should stringify to empty")
	}
	if pool.GetStringID("") == NotAStringID {
		// interning the empty string is still legal and distinct from
		// the sentinel
		id := pool.CreateStringReference("")
		if id == NotAStringID {
			t.Error("empty string interned as sentinel")
		}
	}
}

func TestInternGetWithoutReference(t *testing.T) {
	pool := NewStringInternPool()
	if pool.GetStringID("absent") != NotAStringID {
		t.Error("lookup of absent string should return the sentinel")
	}
	id := pool.CreateStringReference("present")
	if pool.GetStringID("present") != id {
		t.Error("lookup should find the interned id")
	}
	if pool.GetRefCount(id) != 1 {
		t.Error("lookup must not create references")
	}
}
