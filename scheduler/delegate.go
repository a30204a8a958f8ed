package scheduler

import (
	"github.com/ionforge/ioncore/conc"
)

// Delegate lets producers on any goroutine deliver items in-order to a
// single dedicated consumer goroutine, which invokes a user callback per
// item until stopped. Grounded on src/ion/concurrency/Delegate.h.
type Delegate[T any] struct {
	sync    *conc.Synchronizer
	items   []T
	stopped bool
	done    chan struct{}
}

// NewDelegate starts the consumer goroutine and returns a ready Delegate.
func NewDelegate[T any](onItem func(T)) *Delegate[T] {
	d := &Delegate[T]{sync: conc.NewSynchronizer(), done: make(chan struct{})}
	go d.run(onItem)
	return d
}

// Post enqueues an item for in-order delivery to the consumer.
func (d *Delegate[T]) Post(item T) {
	d.sync.Lock()
	d.items = append(d.items, item)
	d.sync.Signal()
	d.sync.Unlock()
}

// Stop signals the consumer to exit after draining whatever was already
// posted, then blocks until it has.
func (d *Delegate[T]) Stop() {
	d.sync.Lock()
	d.stopped = true
	d.sync.Signal()
	d.sync.Unlock()
	<-d.done
}

func (d *Delegate[T]) run(onItem func(T)) {
	defer close(d.done)
	for {
		d.sync.Lock()
		for len(d.items) == 0 && !d.stopped {
			d.sync.Wait()
		}
		if len(d.items) == 0 && d.stopped {
			d.sync.Unlock()
			return
		}
		item := d.items[0]
		d.items = d.items[1:]
		d.sync.Unlock()
		onItem(item)
	}
}
