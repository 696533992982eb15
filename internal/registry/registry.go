// Package registry implements a fixed-capacity name<->id registry: a
// small arena of fixed-length name slots plus a freelist that doubles
// as a permutation of slot indices, so every operation is O(used). The
// only allocations after construction are the copies GetByID and
// Occupied return.
//
// The freelist invariant: for i in [0, used) freelist[i] is an
// occupied slot id; for i in [used, size) freelist[i] is a free slot
// id. Removing an id swaps it with freelist[used-1] and decrements
// used, which keeps the invariant intact in O(1) beyond the initial
// linear scan to find it.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

// MaxCapacity is the largest registry size supported — 1048573, a
// prime just below 2^20. Larger registries would need a different
// indexing strategy than the linear freelist scan.
const MaxCapacity = 1048573

// ClearByte fills freed name slots. It is not a valid leading byte of
// any real internet hostname, so a stale or corrupted read is easy to
// spot in a dump.
const ClearByte = '.'

var ErrCapacityExceeded = errors.New("registry: capacity exceeds maximum")

// Registry maps fixed-length []byte keys to small integer ids.
type Registry struct {
	mu       sync.Mutex
	size     int
	used     int
	namelen  int
	freelist []int
	names    [][]byte
}

// New constructs a Registry holding up to size entries of namelen
// bytes each.
func New(size, namelen int) (*Registry, error) {
	if size > MaxCapacity {
		return nil, fmt.Errorf("%w: %d > %d", ErrCapacityExceeded, size, MaxCapacity)
	}
	r := &Registry{
		size:     size,
		namelen:  namelen,
		freelist: make([]int, size),
		names:    make([][]byte, size),
	}
	for i := 0; i < size; i++ {
		r.freelist[i] = i
		slot := make([]byte, namelen)
		for j := range slot {
			slot[j] = ClearByte
		}
		r.names[i] = slot
	}
	return r, nil
}

// Size returns the registry's fixed capacity.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Used returns the number of occupied slots.
func (r *Registry) Used() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Find returns the id for name, or -1 if not registered.
func (r *Registry) Find(name []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(name)
}

// find assumes r.mu is held.
func (r *Registry) find(name []byte) int {
	for i := 0; i < r.used; i++ {
		id := r.freelist[i]
		if bytesEqual(name, r.names[id]) {
			return id
		}
	}
	return -1
}

// Add registers name without checking for a duplicate, returning its
// new id, or -1 if the registry is full.
func (r *Registry) Add(name []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(name)
}

func (r *Registry) add(name []byte) int {
	if r.used == r.size {
		return -1
	}
	id := r.freelist[r.used]
	copy(r.names[id], name)
	r.used++
	return id
}

// FindAdd returns the existing id for name if present, otherwise
// registers it and returns the new id; -1 if the registry is full and
// name is not already present.
func (r *Registry) FindAdd(name []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id := r.find(name); id != -1 {
		return id
	}
	return r.add(name)
}

// Remove deletes name if present and returns its former id, or -1 if
// not found.
func (r *Registry) Remove(name []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.used; i++ {
		id := r.freelist[i]
		if bytesEqual(name, r.names[id]) {
			return r.removeAt(i, id)
		}
	}
	return -1
}

// RemoveByID deletes the entry with the given id, or returns -1 if id
// is not currently occupied.
func (r *Registry) RemoveByID(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.used; i++ {
		if r.freelist[i] == id {
			return r.removeAt(i, id)
		}
	}
	return -1
}

// removeAt clears slot id (found at freelist position i) and restores
// the freelist permutation by swapping it with the last occupied slot.
func (r *Registry) removeAt(i, id int) int {
	clear := r.names[id]
	for j := range clear {
		clear[j] = ClearByte
	}
	r.used--
	r.freelist[i] = r.freelist[r.used]
	r.freelist[r.used] = id
	return id
}

// GetByID copies the name stored at id into a fresh slice, or returns
// (nil, false) if id is not currently occupied.
func (r *Registry) GetByID(id int) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.used; i++ {
		if r.freelist[i] == id {
			out := make([]byte, r.namelen)
			copy(out, r.names[id])
			return out, true
		}
	}
	return nil, false
}

// Occupied returns the ids currently in use, in arbitrary order.
func (r *Registry) Occupied() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, r.used)
	copy(out, r.freelist[:r.used])
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
