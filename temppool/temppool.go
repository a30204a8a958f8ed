// Package temppool implements the per-thread temporary ring allocator (L6):
// a linked ring of pages with atomic produced/consumed
// counters, where the owning thread is the sole producer but any thread may
// free (consume) a block. Grounded on
// src/ion/temporary/TemporaryAllocator.{h,cpp}.
package temppool

import (
	"sync"
	"sync/atomic"

	"github.com/ionforge/ioncore/ionerr"
)

// MaxAlignment is the alignment floor for temporary allocations.
const MaxAlignment = 8

// headerSize is the size of the temporary allocation header
// {owning_page_or_null, payload_size, user_data[]}, excluding user_data.
const headerSize = 16

// page is one ring entry. totalProduced/totalConsumed are
// atomics: the owner increments totalProduced; any thread may increment
// totalConsumed on free.
type page struct {
	next          *page
	pool          *Pool
	size          int
	bufferPos     int
	busy          bool // re-entrant allocation guard (Peek/lock in the original)
	totalProduced atomic.Uint32
	totalConsumed atomic.Uint32
	buf           []byte
}

func newPage(pool *Pool, size int) *page {
	return &page{pool: pool, size: size, buf: make([]byte, size)}
}

func (p *page) empty() bool {
	return p.totalProduced.Load() == p.totalConsumed.Load()
}

// header precedes every temporary allocation's user payload.
type header struct {
	owner *page // nil means the fallback path serviced this allocation
	size  int
}

// Pool is one thread's ring of temporary pages. Only the owning goroutine
// should call Allocate; Deallocate is safe from any goroutine.
type Pool struct {
	maxPages      int
	pageSize      int
	head, current *page
	count         int

	// Fallback handles allocations that cannot be serviced by the ring,
	// either because every page is full or the ring already holds maxPages
	// pages.
	Fallback func(size, align int) ([]byte, error)

	// liveMu guards live: the owning goroutine inserts on Allocate, but any
	// goroutine may call Deallocate (the consumer side of the producer/
	// consumer counters), so the bookkeeping map itself needs a lock even
	// though the hot counters are lock-free atomics.
	liveMu sync.Mutex
	live   map[uintptr]*header
}

// New constructs a ring with one initial page; additional pages are
// created lazily up to maxPages.
func New(pageSize, maxPages int) *Pool {
	if pageSize <= 0 {
		pageSize = 32*1024 - 3*64
	}
	if maxPages <= 0 {
		maxPages = (16 * 1024 * 1024) / pageSize
	}
	p := &Pool{pageSize: pageSize, maxPages: maxPages, live: make(map[uintptr]*header)}
	p.head = newPage(p, pageSize)
	p.current = p.head
	p.count = 1
	return p
}

// Allocate bumps within the current page if it fits and the page is not
// locked; otherwise it advances to the next empty page or constructs a new
// one under maxPages; failing that, it falls back to Fallback and marks the
// block's owning page as nil.
func (p *Pool) Allocate(size, align int) ([]byte, error) {
	need := headerSize + size
	if cur := p.current; !cur.busy {
		aligned := alignUp(cur.bufferPos, MaxAlignment)
		if aligned+need <= cur.size {
			off := aligned
			cur.bufferPos = off + need
			payload := cur.buf[off+headerSize : off+need : off+need]
			p.liveMu.Lock()
			p.live[sliceKey(payload)] = &header{owner: cur, size: size}
			p.liveMu.Unlock()
			cur.totalProduced.Add(uint32(need))
			return payload, nil
		}
	}

	if nxt := p.advanceToEmpty(need); nxt != nil {
		p.current = nxt
		off := 0
		nxt.bufferPos = off + need
		payload := nxt.buf[off+headerSize : off+need : off+need]
		p.liveMu.Lock()
		p.live[sliceKey(payload)] = &header{owner: nxt, size: size}
		p.liveMu.Unlock()
		nxt.totalProduced.Add(uint32(need))
		return payload, nil
	}

	if p.Fallback != nil {
		payload, err := p.Fallback(size, align)
		if err == nil {
			p.liveMu.Lock()
			p.live[sliceKey(payload)] = &header{owner: nil, size: size}
			p.liveMu.Unlock()
		}
		return payload, err
	}
	return nil, ionerr.ErrCapacityExceeded
}

// advanceToEmpty walks the ring looking for an existing empty page large
// enough for need bytes, constructing a fresh page if under maxPages and
// none is found.
func (p *Pool) advanceToEmpty(need int) *page {
	n := p.current
	for i := 0; i < p.count; i++ {
		n = n.next
		if n == nil {
			n = p.head
		}
		if n.empty() && need <= n.size {
			n.bufferPos = 0
			n.totalProduced.Store(0)
			n.totalConsumed.Store(0)
			return n
		}
	}

	if p.count < p.maxPages && need <= p.pageSize {
		fresh := newPage(p, p.pageSize)
		// splice the new page in right after current, so every existing
		// page stays reachable around the ring.
		fresh.next = p.current.next
		if fresh.next == nil {
			fresh.next = p.head
		}
		p.current.next = fresh
		p.count++
		return fresh
	}
	return nil
}

// Deallocate marks size+header bytes as consumed on the owning page. Any
// goroutine may call this; the page's totalConsumed is atomic.
func (p *Pool) Deallocate(payload []byte, size int) {
	key := sliceKey(payload)
	p.liveMu.Lock()
	h, ok := p.live[key]
	if ok {
		delete(p.live, key)
	}
	p.liveMu.Unlock()
	if !ok {
		return
	}
	if h.owner != nil {
		h.owner.totalConsumed.Add(uint32(headerSize + size))
	}
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
