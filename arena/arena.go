// Package arena implements the monotonic/linear buffer resource (L3): a
// singly-linked chain of growable blocks that only bumps a size cursor on
// allocate and rewinds the whole chain on demand. Grounded on
// src/ion/memory/MonotonicBufferResource.h and src/ion/container/RawBuffer.h.
package arena

import (
	"fmt"

	"github.com/ionforge/ioncore/ionerr"
)

// DefaultBlockStep is the minimum size requested for a new block when the
// current block cannot satisfy an allocation.
const DefaultBlockStep = 64 * 1024

// block is a single node in the monotonic chain: {next, size, capacity, data}.
type block struct {
	next     *block
	size     int
	capacity int
	data     []byte
}

func newBlock(capacity int) *block {
	return &block{capacity: capacity, data: make([]byte, capacity)}
}

// Resource is a growable chain of monotonic blocks with an optional backing
// allocator invoked when a new block is required.
type Resource struct {
	first     *block
	last      *block
	blockStep int

	// Backing is invoked to size new blocks beyond DefaultBlockStep; nil
	// means DefaultBlockStep is always used as the floor.
	Backing func(minSize int) int
}

// New constructs a Resource with an initial block of the given capacity.
func New(initialCapacity int) *Resource {
	if initialCapacity <= 0 {
		initialCapacity = DefaultBlockStep
	}
	b := newBlock(initialCapacity)
	return &Resource{first: b, last: b, blockStep: DefaultBlockStep}
}

// Allocate bumps the current block's size cursor after aligning, requesting
// a new block if the current one cannot fit the request. Block growth never
// relocates prior allocations: previously returned pointers remain valid for
// the resource's lifetime.
func (r *Resource) Allocate(size, align int) ([]byte, error) {
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("arena: alignment %d not a power of two: %w", align, ionerr.ErrInvalidArgument)
	}
	if size < 0 {
		return nil, fmt.Errorf("arena: negative size: %w", ionerr.ErrInvalidArgument)
	}

	b := r.last
	aligned := alignUp(b.size, align)
	if aligned+size <= b.capacity {
		b.size = aligned + size
		return b.data[aligned : aligned+size : aligned+size], nil
	}

	step := r.blockStep
	if r.Backing != nil {
		step = r.Backing(size + align)
	}
	need := size + align
	if need < step {
		need = step
	}
	nb := newBlock(need)
	b.next = nb
	r.last = nb

	aligned = alignUp(0, align)
	nb.size = aligned + size
	return nb.data[aligned : aligned+size : aligned+size], nil
}

// Deallocate is a documented no-op: individual blocks cannot free
// sub-ranges. It exists only so callers can route through a uniform
// allocator interface.
func (r *Resource) Deallocate([]byte) {}

// Rewind resets every block's size cursor to 0. When freeExtra is true, all
// blocks after the first are dropped, returning the resource to its
// just-constructed footprint.
func (r *Resource) Rewind(freeExtra bool) {
	for b := r.first; b != nil; b = b.next {
		b.size = 0
	}
	if freeExtra {
		r.first.next = nil
		r.last = r.first
	}
}

// BlockCount reports the number of blocks currently chained, for tests and
// diagnostics.
func (r *Resource) BlockCount() int {
	n := 0
	for b := r.first; b != nil; b = b.next {
		n++
	}
	return n
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
