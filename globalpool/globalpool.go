// Package globalpool implements the per-thread global pool (L7): a TLSF
// resource scoped to one logical thread, backed by a page-scoped monotonic
// region, with a lock-free MPSC "defer-free" queue for blocks freed from a
// foreign thread. Grounded on src/ion/memory/GlobalMemoryPool.cpp; default
// region sizing uses the host's total memory (pbnjay/memory), matching the
// teacher's container-aware sizing convention.
package globalpool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pbnjay/memory"

	"github.com/ionforge/ioncore/arena"
	"github.com/ionforge/ioncore/ionerr"
	"github.com/ionforge/ioncore/platform"
	"github.com/ionforge/ioncore/tlsf"
)

// MaxSmallBlock is the largest request serviced by the per-thread TLSF;
// bigger requests go straight to the OS allocator and are tagged NoThread.
const MaxSmallBlock = 64 * 1024

// deferNode is one entry of a thread's MPSC defer-free queue: a block freed
// by a foreign thread, pending the owner's next allocation to drain it.
type deferNode struct {
	payload []byte
	next    atomic.Pointer[deferNode]
}

// ThreadPool is one logical thread's global allocator: a TLSF instance over
// a monotonic region, plus the MPSC queue foreign frees land on.
type ThreadPool struct {
	owner platform.ThreadID
	region *arena.Resource
	small  *tlsf.Pool

	deferHead atomic.Pointer[deferNode] // producer (foreign thread) pushes here
	deferTail *deferNode                // consumer (owner) pops from here

	liveCount atomic.Int64
}

// Registry is the process-wide set of live per-thread pools, keyed by
// owning thread id, matching the singleton GlobalMemoryPool.
type Registry struct {
	mu      sync.Mutex
	pools   map[platform.ThreadID]*ThreadPool
	osBytes atomic.Int64
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[platform.ThreadID]*ThreadPool)}
}

// ForThread returns (creating if necessary) the ThreadPool for id, sizing
// its monotonic region as a small fraction of total system memory.
func (r *Registry) ForThread(id platform.ThreadID) *ThreadPool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tp, ok := r.pools[id]; ok {
		return tp
	}
	regionSize := int(memory.TotalMemory() / 4096) // conservative per-thread slice
	if regionSize < 4*MaxSmallBlock {
		regionSize = 4 * MaxSmallBlock
	}
	region := arena.New(regionSize)
	pool, err := tlsf.New(region, regionSize, MaxSmallBlock, nil)
	if err != nil {
		panic(fmt.Sprintf("globalpool: failed to construct thread pool: %v", err))
	}
	tp := &ThreadPool{owner: id, region: region, small: pool}
	sentinel := &deferNode{}
	tp.deferHead.Store(sentinel)
	tp.deferTail = sentinel
	r.pools[id] = tp
	return tp
}

// Release drops a thread's pool once its live allocation count has reached
// zero, matching the late-teardown release described in §4.4.
func (r *Registry) Release(id platform.ThreadID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tp, ok := r.pools[id]
	if !ok {
		return false
	}
	if tp.liveCount.Load() != 0 {
		return false
	}
	delete(r.pools, id)
	return true
}

// Allocate services size bytes for the owning thread: small requests use
// the per-thread TLSF; larger ones are tagged NoThread, simulating a direct
// OS allocation.
func (tp *ThreadPool) Allocate(size, align int) (payload []byte, owner platform.ThreadID, err error) {
	tp.drainDefers()

	if size <= MaxSmallBlock {
		b, err := tp.small.Allocate(size, align)
		if err != nil {
			return nil, platform.NoThread, err
		}
		tp.liveCount.Add(1)
		return b, tp.owner, nil
	}

	b := make([]byte, size)
	tp.liveCount.Add(1)
	return b, platform.NoThread, nil
}

// Free returns payload to its origin. A block owned by this pool's thread
// goes back to the per-thread TLSF immediately; a NoThread (OS-allocated)
// block only decrements the live count. Any other owner is rejected with
// ErrInvalidArgument; a foreign thread hands a block back through the
// owning pool's DeferFree instead.
func (tp *ThreadPool) Free(payload []byte, owner platform.ThreadID) error {
	if owner == platform.NoThread {
		tp.liveCount.Add(-1)
		return nil
	}
	if owner != tp.owner {
		return fmt.Errorf("globalpool: Free called with mismatched owner: %w", ionerr.ErrInvalidArgument)
	}
	if err := tp.small.Free(payload); err != nil {
		return err
	}
	tp.liveCount.Add(-1)
	return nil
}

// DeferFree enqueues payload on tp's MPSC defer-free queue from a foreign
// thread; tp's owner drains it on its next Allocate/drainDefers call.
func (tp *ThreadPool) DeferFree(payload []byte) {
	n := &deferNode{payload: payload}
	prev := tp.deferHead.Swap(n)
	prev.next.Store(n)
}

// drainDefers pops every pending foreign free and returns the blocks to the
// TLSF pool. Only the owning thread should call this.
func (tp *ThreadPool) drainDefers() {
	for {
		next := tp.deferTail.next.Load()
		if next == nil {
			return
		}
		tp.deferTail = next
		if next.payload != nil {
			_ = tp.small.Free(next.payload)
			tp.liveCount.Add(-1)
		}
	}
}

// LiveCount reports the current outstanding allocation count for this
// thread's pool.
func (tp *ThreadPool) LiveCount() int64 {
	return tp.liveCount.Load()
}
