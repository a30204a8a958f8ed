package globalpool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionforge/ioncore/globalpool"
	"github.com/ionforge/ioncore/platform"
)

func TestForThreadReturnsSamePoolForSameID(t *testing.T) {
	r := globalpool.NewRegistry()
	id := platform.ThreadID(1)
	a := r.ForThread(id)
	b := r.ForThread(id)
	assert.Same(t, a, b)
}

func TestAllocateFreeRoundTripUpdatesLiveCount(t *testing.T) {
	r := globalpool.NewRegistry()
	tp := r.ForThread(platform.ThreadID(1))

	payload, owner, err := tp.Allocate(128, 8)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tp.LiveCount())

	require.NoError(t, tp.Free(payload, owner))
	assert.EqualValues(t, 0, tp.LiveCount())
}

func TestFreeWithMismatchedOwnerErrors(t *testing.T) {
	r := globalpool.NewRegistry()
	tp := r.ForThread(platform.ThreadID(1))
	payload, _, err := tp.Allocate(64, 8)
	require.NoError(t, err)

	err = tp.Free(payload, platform.ThreadID(99))
	assert.Error(t, err)
}

func TestDeferFreeDrainsOnNextAllocate(t *testing.T) {
	r := globalpool.NewRegistry()
	tp := r.ForThread(platform.ThreadID(1))

	payload, _, err := tp.Allocate(64, 8)
	require.NoError(t, err)
	require.EqualValues(t, 1, tp.LiveCount())

	tp.DeferFree(payload)
	// not yet drained: live count still reflects the pending defer.
	assert.EqualValues(t, 1, tp.LiveCount())

	_, _, err = tp.Allocate(32, 8)
	require.NoError(t, err)
	// draining the defer freed the first block, so net live count is back
	// to just the second allocation.
	assert.EqualValues(t, 1, tp.LiveCount())
}

func TestReleaseRefusesWhileAllocationsOutstanding(t *testing.T) {
	r := globalpool.NewRegistry()
	id := platform.ThreadID(1)
	tp := r.ForThread(id)
	_, _, err := tp.Allocate(32, 8)
	require.NoError(t, err)

	assert.False(t, r.Release(id))
}

func TestReleaseSucceedsOnceDrained(t *testing.T) {
	r := globalpool.NewRegistry()
	id := platform.ThreadID(1)
	tp := r.ForThread(id)
	payload, owner, err := tp.Allocate(32, 8)
	require.NoError(t, err)
	require.NoError(t, tp.Free(payload, owner))

	assert.True(t, r.Release(id))
}
