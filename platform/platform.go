// Package platform provides the lowest layer of ioncore (L1): thread-local
// identity, OS sleep/yield, page size discovery, and a high-resolution
// clock. It mirrors ion::Thread / ion::timing from
// src/ion/concurrency/Thread.cpp and src/ion/time/Clock.h, adapted to Go's
// goroutine-per-OS-thread-is-not-guaranteed model by keying identity off an
// explicit handle rather than a true thread-local.
package platform

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sys/unix"
)

func init() {
	// Matches the teacher's container-awareness: GOMAXPROCS should reflect
	// the cgroup quota, not the host's core count, before anything sizes a
	// worker pool off runtime.NumCPU.
	_, _ = maxprocs.Set()
}

// Logger is the minimal event-logging contract ioncore components accept.
// Its shape matches the handler signature logiface backends (zerolog,
// logrus, slog) adapt to, so any logiface sink can be wrapped to satisfy it.
type Logger interface {
	Event(level string, msg string, fields ...any)
}

// NopLogger discards every event.
type NopLogger struct{}

// Event implements Logger.
func (NopLogger) Event(string, string, ...any) {}

// ThreadID is a 16-bit identifier assigned to a logical worker thread,
// embedded in block headers (§3) so a foreign-thread free can find its
// owner's defer-free queue.
type ThreadID uint16

// NoThread marks a block allocated directly from the OS allocator, with no
// owning per-thread pool (§4.4).
const NoThread ThreadID = 0xFFFF

// idPool hands out small reusable 16-bit ids, mirroring ThreadIdPool's
// reserve/release-with-reuse behavior in Thread.cpp.
type idPool struct {
	mu       sync.Mutex
	next     ThreadID
	freeList []ThreadID
}

var globalIDPool = &idPool{}

// ReserveThreadID allocates a fresh or recycled thread id.
func ReserveThreadID() ThreadID {
	p := globalIDPool
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.freeList); n > 0 {
		id := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return id
	}
	id := p.next
	p.next++
	if id == NoThread {
		panic(`platform: thread id space exhausted`)
	}
	return id
}

// ReleaseThreadID returns an id to the free pool for reuse.
func ReleaseThreadID(id ThreadID) {
	if id == NoThread {
		return
	}
	p := globalIDPool
	p.mu.Lock()
	p.freeList = append(p.freeList, id)
	p.mu.Unlock()
}

// Yield hints the scheduler to let another goroutine run, for spin-wait
// tails (cheaper than a timed sleep for sub-tick waits).
func Yield() {
	runtime.Gosched()
}

// Sleep blocks for the given number of microseconds, then performs a short
// spin-yield tail, matching Thread::Sleep's fine-grained-wake behavior:
// OS sleep is coarse, so the last fraction is spun to land close to the
// deadline.
func Sleep(usec int64) {
	if usec <= 0 {
		Yield()
		return
	}
	const spinTail = 200 * time.Microsecond
	d := time.Duration(usec) * time.Microsecond
	if d > spinTail {
		time.Sleep(d - spinTail)
		d = spinTail
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		Yield()
	}
}

var pageSize = sync.OnceValue(func() int {
	if sz := unix.Getpagesize(); sz > 0 {
		return sz
	}
	return 4096
})

// PageSize returns the OS memory page size in bytes.
func PageSize() int {
	return pageSize()
}

// Now returns a monotonic timestamp suitable for deadline arithmetic,
// matching ion::timing::Clock's monotonic guarantee.
func Now() time.Time {
	return time.Now()
}
