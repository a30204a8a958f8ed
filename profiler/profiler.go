// Package profiler implements the per-thread sample ring (X1): a
// fixed-capacity ring buffer of begin/end/instant/counter samples per
// platform.ThreadID, drained either to a JSON trace-event array or to
// OpenTelemetry spans. Grounded on src/ion/debug/Profiling.{h,cpp}.
package profiler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joeycumines/go-catrate"

	"github.com/ionforge/ioncore/platform"
)

// EventType mirrors ProfilingBuffer::Event.
type EventType uint8

const (
	EventNone EventType = iota
	EventBegin
	EventEnd
	EventComplete
	EventInstantGlobal
	EventInstantThread
	EventInstantProcess
	EventCounter
	EventAsyncStart
	EventAsyncFinish
)

func (e EventType) String() string {
	switch e {
	case EventBegin:
		return "B"
	case EventEnd:
		return "E"
	case EventComplete:
		return "X"
	case EventInstantGlobal, EventInstantThread, EventInstantProcess:
		return "i"
	case EventCounter:
		return "C"
	case EventAsyncStart:
		return "b"
	case EventAsyncFinish:
		return "e"
	default:
		return "?"
	}
}

// Sample is one profiling event: a timestamp, category tag, event type, and
// an id identifying the named span/counter it belongs to.
type Sample struct {
	At       time.Time
	Category uint8
	Type     EventType
	ID       uint32
	Detail   string
}

// Buffer is the fixed-capacity per-thread ring of Samples. Writes come only
// from the owning thread; Save/ExportSpans may be called from any goroutine, so
// access is guarded by a mutex (unlike the original's single-writer,
// external-synchronization contract, since Go does not pin goroutines).
type Buffer struct {
	mu      sync.Mutex
	samples []Sample
	pos     int
	full    bool

	// limiter, if set, throttles high-frequency instant/counter events per
	// id so a hot per-frame call site cannot evict begin/end pairs still
	// worth keeping. Begin/End are never throttled: dropping one half of a
	// pair would desync ExportSpans' pairing.
	limiter *catrate.Limiter
}

// NewBuffer constructs a Buffer able to hold maxSamples before it starts
// overwriting the oldest entries.
func NewBuffer(maxSamples int) *Buffer {
	if maxSamples < 1 {
		maxSamples = 1
	}
	return &Buffer{samples: make([]Sample, maxSamples)}
}

// SetRateLimit throttles Instant/InstantGlobal/Counter samples to at most
// the given rates per distinct id, e.g. map[time.Second]1000. Pass nil to
// disable throttling. Does not affect Begin/End.
func (b *Buffer) SetRateLimit(rates map[time.Duration]int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rates == nil {
		b.limiter = nil
		return
	}
	b.limiter = catrate.NewLimiter(rates)
}

// allow reports whether a sample for id may be recorded, consulting the
// rate limiter if one is configured.
func (b *Buffer) allow(id uint32) bool {
	b.mu.Lock()
	l := b.limiter
	b.mu.Unlock()
	if l == nil {
		return true
	}
	_, ok := l.Allow(id)
	return ok
}

func (b *Buffer) add(s Sample) {
	b.mu.Lock()
	b.samples[b.pos] = s
	b.pos++
	if b.pos == len(b.samples) {
		b.pos = 0
		b.full = true
	}
	b.mu.Unlock()
}

// Begin records the start of a named span.
func (b *Buffer) Begin(category uint8, id uint32) {
	b.add(Sample{At: time.Now(), Category: category, Type: EventBegin, ID: id})
}

// BeginDetail is Begin with a caller-supplied detail string attached, e.g.
// argument values interesting at trace-review time.
func (b *Buffer) BeginDetail(category uint8, id uint32, detail string) {
	b.add(Sample{At: time.Now(), Category: category, Type: EventBegin, ID: id, Detail: detail})
}

// End records the close of a named span.
func (b *Buffer) End(id uint32) {
	b.add(Sample{At: time.Now(), Type: EventEnd, ID: id})
}

// Instant records a point-in-time event scoped to the owning thread.
func (b *Buffer) Instant(id uint32) {
	if !b.allow(id) {
		return
	}
	b.add(Sample{At: time.Now(), Type: EventInstantThread, ID: id})
}

// InstantGlobal records a point-in-time event visible process-wide.
func (b *Buffer) InstantGlobal(id uint32) {
	if !b.allow(id) {
		return
	}
	b.add(Sample{At: time.Now(), Type: EventInstantGlobal, ID: id})
}

// Counter records a named counter sample; value is carried in Detail as its
// JSON number encoding.
func (b *Buffer) Counter(id uint32, value float64) {
	if !b.allow(id) {
		return
	}
	enc, _ := json.Marshal(value)
	b.add(Sample{At: time.Now(), Type: EventCounter, ID: id, Detail: string(enc)})
}

// snapshot returns samples oldest-first.
func (b *Buffer) snapshot() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]Sample, b.pos)
		copy(out, b.samples[:b.pos])
		return out
	}
	out := make([]Sample, len(b.samples))
	copy(out, b.samples[b.pos:])
	copy(out[len(b.samples)-b.pos:], b.samples[:b.pos])
	return out
}

// TraceEvent is one Chrome trace-event-format entry, the JSON emit
// collaborator's wire shape.
type TraceEvent struct {
	Name string  `json:"name"`
	Cat  string  `json:"cat,omitempty"`
	Ph   string  `json:"ph"`
	Ts   int64   `json:"ts"`
	Pid  int     `json:"pid"`
	Tid  int     `json:"tid"`
	Args any     `json:"args,omitempty"`
}

// Save renders the buffer's current contents as a trace-event array for
// thread tid, matching ProfilingBuffer::Save's JSON emit contract.
func (b *Buffer) Save(tid platform.ThreadID, names func(uint32) string) []TraceEvent {
	samples := b.snapshot()
	events := make([]TraceEvent, 0, len(samples))
	for _, s := range samples {
		name := ""
		if names != nil {
			name = names(s.ID)
		}
		ev := TraceEvent{
			Name: name,
			Cat:  string(rune('0' + s.Category)),
			Ph:   s.Type.String(),
			Ts:   s.At.UnixMicro(),
			Pid:  0,
			Tid:  int(tid),
		}
		if s.Detail != "" {
			ev.Args = json.RawMessage(s.Detail)
		}
		events = append(events, ev)
	}
	return events
}

// Registry owns one Buffer per thread and an OpenTelemetry tracer used to
// additionally export begin/end pairs as real spans.
type Registry struct {
	mu      sync.Mutex
	buffers map[platform.ThreadID]*Buffer
	names   func(uint32) string

	tracer     trace.Tracer
	maxSamples int
}

// NewRegistry constructs a Registry backed by tracer, sizing new Buffers to
// maxSamples and resolving sample ids to names via names (may be nil).
func NewRegistry(tracer trace.Tracer, maxSamples int, names func(uint32) string) *Registry {
	return &Registry{buffers: make(map[platform.ThreadID]*Buffer), tracer: tracer, maxSamples: maxSamples, names: names}
}

// ForThread returns (creating if necessary) the Buffer for tid.
func (r *Registry) ForThread(tid platform.ThreadID) *Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[tid]
	if !ok {
		b = NewBuffer(r.maxSamples)
		r.buffers[tid] = b
	}
	return b
}

// SaveAll renders every registered thread's buffer to trace events.
func (r *Registry) SaveAll() map[platform.ThreadID][]TraceEvent {
	r.mu.Lock()
	snap := make(map[platform.ThreadID]*Buffer, len(r.buffers))
	for tid, b := range r.buffers {
		snap[tid] = b
	}
	r.mu.Unlock()

	out := make(map[platform.ThreadID][]TraceEvent, len(snap))
	for tid, b := range snap {
		out[tid] = b.Save(tid, r.names)
	}
	return out
}

// ExportSpans walks every Begin/End pair currently buffered for tid and
// emits a matching OpenTelemetry span, giving the sample ring a real
// exporter path alongside its JSON encoding.
func (r *Registry) ExportSpans(ctx context.Context, tid platform.ThreadID) {
	b := r.ForThread(tid)
	samples := b.snapshot()

	open := make(map[uint32]Sample)
	for _, s := range samples {
		switch s.Type {
		case EventBegin:
			open[s.ID] = s
		case EventEnd:
			begin, ok := open[s.ID]
			if !ok {
				continue
			}
			delete(open, s.ID)
			name := ""
			if r.names != nil {
				name = r.names(s.ID)
			}
			_, span := r.tracer.Start(ctx, name, trace.WithTimestamp(begin.At))
			span.SetAttributes(attribute.Int64("ioncore.thread_id", int64(tid)), attribute.Int64("ioncore.event_id", int64(s.ID)))
			span.End(trace.WithTimestamp(s.At))
		}
	}
}
