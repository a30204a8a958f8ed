package profiler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ionforge/ioncore/platform"
	"github.com/ionforge/ioncore/profiler"
)

func names(id uint32) string {
	switch id {
	case 1:
		return "physics_tick"
	default:
		return "unknown"
	}
}

func TestBufferWrapsAfterCapacity(t *testing.T) {
	b := profiler.NewBuffer(2)
	b.Begin(0, 1)
	b.End(1)
	b.Instant(2) // overwrites the Begin sample

	events := b.Save(0, names)
	require.Len(t, events, 2)
	assert.Equal(t, "E", events[0].Ph)
	assert.Equal(t, "i", events[1].Ph)
}

func TestCounterEncodesValueAsArgs(t *testing.T) {
	b := profiler.NewBuffer(4)
	b.Counter(7, 3.5)
	events := b.Save(0, nil)
	require.Len(t, events, 1)
	assert.Equal(t, "C", events[0].Ph)
	assert.NotNil(t, events[0].Args)
}

func TestRegistryIsolatesThreads(t *testing.T) {
	reg := profiler.NewRegistry(noop.NewTracerProvider().Tracer("test"), 8, names)

	reg.ForThread(platform.ThreadID(1)).Begin(0, 1)
	reg.ForThread(platform.ThreadID(2)).Instant(5)

	all := reg.SaveAll()
	require.Len(t, all[platform.ThreadID(1)], 1)
	require.Len(t, all[platform.ThreadID(2)], 1)
}

func TestExportSpansMatchesBeginEndPairs(t *testing.T) {
	reg := profiler.NewRegistry(noop.NewTracerProvider().Tracer("test"), 8, names)
	b := reg.ForThread(platform.ThreadID(1))
	b.Begin(0, 1)
	b.End(1)

	// exporting must not panic even with a no-op tracer and must not alter
	// the underlying ring.
	reg.ExportSpans(context.Background(), platform.ThreadID(1))
	all := reg.SaveAll()
	require.Len(t, all[platform.ThreadID(1)], 2)
}

func TestSetRateLimitThrottlesInstantsButNotBeginEnd(t *testing.T) {
	b := profiler.NewBuffer(64)
	b.SetRateLimit(map[time.Duration]int{time.Minute: 2})

	for i := 0; i < 10; i++ {
		b.Instant(9)
	}
	for i := 0; i < 10; i++ {
		b.Begin(0, 1)
		b.End(1)
	}

	events := b.Save(0, nil)
	instants := 0
	pairs := 0
	for _, ev := range events {
		switch ev.Ph {
		case "i":
			instants++
		case "B", "E":
			pairs++
		}
	}
	assert.LessOrEqual(t, instants, 2, "rate limit must cap throttled instant events")
	assert.Equal(t, 20, pairs, "Begin/End must never be throttled")
}

func TestSetRateLimitNilDisablesThrottling(t *testing.T) {
	b := profiler.NewBuffer(64)
	b.SetRateLimit(map[time.Duration]int{time.Minute: 1})
	b.SetRateLimit(nil)

	for i := 0; i < 5; i++ {
		b.Instant(9)
	}
	events := b.Save(0, nil)
	assert.Len(t, events, 5)
}
