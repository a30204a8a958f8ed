// Package memtrack implements the memory tracker (L2): it wraps raw
// allocations with a header/footer, maintains per-tag/per-layer counters,
// and produces a leak report. Grounded on src/ion/debug/MemoryTracker.cpp;
// the header+payload+footer block layout follows the pattern other pooled
// allocators in the retrieval pack use for tracking raw allocations by
// pointer identity (see the Arrow-backed pool in
// _examples/other_examples/f4b95dff_..._memory-pool.go.go).
package memtrack

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/pbnjay/memory"

	"github.com/ionforge/ioncore/ionerr"
	"github.com/ionforge/ioncore/memtag"
	"github.com/ionforge/ioncore/platform"
)

func init() {
	// Container-aware soft memory limit: sets GOMEMLIMIT from the cgroup
	// memory limit. The tracker's default leak threshold (see NewTracker) is
	// sized separately, from the host's total memory.
	_, _ = memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9))
}

// Layer identifies which allocator layer serviced a tracked block.
type Layer int

const (
	Native Layer = iota
	Global
	Os

	layerCount
)

func (l Layer) String() string {
	switch l {
	case Native:
		return "Native"
	case Global:
		return "Global"
	case Os:
		return "Os"
	default:
		return "Unknown"
	}
}

const footerGuard uint32 = 0xC0FFEE42
const debugWipePattern byte = 0xDD

// Header precedes every tracked payload. Its size is the alignment floor:
// the spec requires the smallest supported alignment to be >= sizeof(header).
type Header struct {
	Size      uint64
	Alignment uint32
	Tag       memtag.Tag
	Owner     platform.ThreadID
	Layer     Layer
}

// HeaderSize is the alignment floor for tracked allocations.
const HeaderSize = uint64(unsafe.Sizeof(Header{}))

type counters struct {
	count atomic.Int64
	bytes atomic.Int64
	peak  atomic.Int64
}

func (c *counters) add(size int64) {
	n := c.bytes.Add(size)
	c.count.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
}

func (c *counters) remove(size int64) {
	c.bytes.Add(-size)
	c.count.Add(-1)
}

// Stats is a point-in-time snapshot for one (tag, layer) pair.
type Stats struct {
	Tag   memtag.Tag
	Layer Layer
	Count int64
	Bytes int64
	Peak  int64
}

// Block is the live bookkeeping record for one tracked allocation.
type Block struct {
	Header  Header
	Payload []byte
}

// Tracker is the process-wide (or scoped, for tests) memory tracker.
// Zero value is usable.
type Tracker struct {
	mu            sync.Mutex
	live          map[uintptr]*Block
	byTagLayer    [memtag.Unset + 64][layerCount]counters // generous static upper bound on tag space
	leakThreshold int64
	lifecycle     atomic.Int32 // 0=normal, 1=preInit/lateTeardown -> force IgnoreLeaks
}

const (
	lifecycleNormal int32 = iota
	lifecycleIgnoreLeaks
)

// NewTracker constructs a tracker with a leak threshold sized off total
// system memory (via pbnjay/memory): one millionth of it, with a 4096-byte
// floor.
func NewTracker() *Tracker {
	t := &Tracker{live: make(map[uintptr]*Block)}
	avail := memory.TotalMemory()
	t.leakThreshold = int64(avail / 1_000_000) // ~0.0001% of total RAM, floor below
	if t.leakThreshold < 4096 {
		t.leakThreshold = 4096
	}
	return t
}

// SetLeakThreshold overrides the byte threshold above which a leak is
// flagged in the final report.
func (t *Tracker) SetLeakThreshold(bytes int64) {
	t.mu.Lock()
	t.leakThreshold = bytes
	t.mu.Unlock()
}

// SetIgnoreLeaks forces every subsequent OnAllocate to rewrite its tag to
// IgnoreLeaks, for pre-init/late-teardown windows where allocation patterns
// are expected to be irregular (§4.1).
func (t *Tracker) SetIgnoreLeaks(ignore bool) {
	if ignore {
		t.lifecycle.Store(lifecycleIgnoreLeaks)
	} else {
		t.lifecycle.Store(lifecycleNormal)
	}
}

func (t *Tracker) effectiveTag(tag memtag.Tag) memtag.Tag {
	if t.lifecycle.Load() == lifecycleIgnoreLeaks {
		return memtag.IgnoreLeaks
	}
	return tag
}

// OnAllocate lays out [header][aligned payload][footer] inside buf (which
// the caller sized via PlanSize), records the block, and returns the
// payload slice the caller should hand to the user.
func (t *Tracker) OnAllocate(buf []byte, size uint64, alignment uint32, tag memtag.Tag, owner platform.ThreadID, layer Layer) ([]byte, error) {
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("memtrack: alignment %d not a power of two: %w", alignment, ionerr.ErrInvalidArgument)
	}
	if uint64(alignment) < HeaderSize {
		return nil, fmt.Errorf("memtrack: alignment %d smaller than header size %d: %w", alignment, HeaderSize, ionerr.ErrInvalidArgument)
	}
	tag = t.effectiveTag(tag)

	payloadOff := alignUp(uintptr(unsafe.Pointer(&buf[0]))+uintptr(HeaderSize), uintptr(alignment)) - uintptr(unsafe.Pointer(&buf[0]))
	end := payloadOff + uintptr(size)
	if end+4 > uintptr(len(buf)) {
		return nil, fmt.Errorf("memtrack: backing buffer too small: %w", ionerr.ErrInvalidArgument)
	}

	hdr := Header{Size: size, Alignment: alignment, Tag: tag, Owner: owner, Layer: layer}
	*(*Header)(unsafe.Pointer(&buf[payloadOff-HeaderSize])) = hdr
	putFooter(buf[end:end+4], footerGuard)

	// cap extends 4 bytes past len so OnDeallocate can re-slice into the
	// footer guard without re-deriving an offset into buf.
	payload := buf[payloadOff:end:end+4]
	key := uintptr(unsafe.Pointer(&payload[0]))

	t.mu.Lock()
	if t.live == nil {
		t.live = make(map[uintptr]*Block)
	}
	t.live[key] = &Block{Header: hdr, Payload: payload}
	t.mu.Unlock()

	t.counterFor(tag, layer).add(int64(size))
	return payload, nil
}

// PlanSize returns the total backing-buffer size needed to track a `size`-
// byte, `alignment`-aligned payload.
func PlanSize(size uint64, alignment uint32) uint64 {
	return HeaderSize + uint64(alignment) + size + 4
}

// OnDeallocate verifies the footer, wipes the payload, updates counters, and
// returns the original request parameters.
func (t *Tracker) OnDeallocate(payload []byte) (size uint64, alignment uint32, tag memtag.Tag, err error) {
	if len(payload) == 0 {
		return 0, 0, 0, fmt.Errorf("memtrack: nil deallocate: %w", ionerr.ErrInvalidArgument)
	}
	key := uintptr(unsafe.Pointer(&payload[0]))

	t.mu.Lock()
	blk, ok := t.live[key]
	if ok {
		delete(t.live, key)
	}
	t.mu.Unlock()
	if !ok {
		return 0, 0, 0, fmt.Errorf("memtrack: unknown block: %w", ionerr.ErrInvalidArgument)
	}

	footerOff := uintptr(blk.Header.Size)
	if !checkFooter(blk.Payload[footerOff:footerOff+4], footerGuard) {
		return 0, 0, 0, fmt.Errorf("memtrack: footer corrupted: %w", ionerr.ErrInvalidState)
	}

	for i := range blk.Payload {
		blk.Payload[i] = debugWipePattern
	}

	t.counterFor(blk.Header.Tag, blk.Header.Layer).remove(int64(blk.Header.Size))
	return blk.Header.Size, blk.Header.Alignment, blk.Header.Tag, nil
}

// OnReallocate looks up a live block and returns its tag, owner and layer,
// so the caller can track the replacement allocation with the same
// attributes; the caller performs the actual copy. It does not release the
// old block or touch any counter, and newSize/newAlignment are not used.
func (t *Tracker) OnReallocate(payload []byte, newSize uint64, newAlignment uint32) (tag memtag.Tag, owner platform.ThreadID, layer Layer, err error) {
	key := uintptr(unsafe.Pointer(&payload[0]))
	t.mu.Lock()
	blk, ok := t.live[key]
	t.mu.Unlock()
	if !ok {
		return 0, 0, 0, fmt.Errorf("memtrack: unknown block: %w", ionerr.ErrInvalidArgument)
	}
	return blk.Header.Tag, blk.Header.Owner, blk.Header.Layer, nil
}

func (t *Tracker) counterFor(tag memtag.Tag, layer Layer) *counters {
	idx := int(tag)
	if idx >= len(t.byTagLayer) {
		idx = len(t.byTagLayer) - 1
	}
	return &t.byTagLayer[idx][layer]
}

// Snapshot returns current counters for every (tag, layer) pair with any
// activity.
func (t *Tracker) Snapshot() []Stats {
	var out []Stats
	for tag := memtag.Tag(0); int(tag) < len(t.byTagLayer); tag++ {
		for layer := Layer(0); layer < layerCount; layer++ {
			c := &t.byTagLayer[tag][layer]
			if c.count.Load() == 0 && c.bytes.Load() == 0 && c.peak.Load() == 0 {
				continue
			}
			out = append(out, Stats{Tag: tag, Layer: layer, Count: c.count.Load(), Bytes: c.bytes.Load(), Peak: c.peak.Load()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}

// LeakEntry describes one flagged leak in the final report.
type LeakEntry struct {
	Tag   memtag.Tag
	Layer Layer
	Bytes int64
	Count int64
}

// FinalReport lists leaks per tag per layer whose outstanding bytes exceed
// the configured threshold. IgnoreLeaks and Profiling never flag (§4.1).
func (t *Tracker) FinalReport() []LeakEntry {
	t.mu.Lock()
	threshold := t.leakThreshold
	t.mu.Unlock()

	var out []LeakEntry
	for _, s := range t.Snapshot() {
		if s.Tag.Ignored() {
			continue
		}
		if s.Bytes > threshold {
			out = append(out, LeakEntry{Tag: s.Tag, Layer: s.Layer, Bytes: s.Bytes, Count: s.Count})
		}
	}
	return out
}

func alignUp(p uintptr, align uintptr) uintptr {
	return (p + align - 1) &^ (align - 1)
}

func putFooter(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func checkFooter(b []byte, v uint32) bool {
	got := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return got == v
}
