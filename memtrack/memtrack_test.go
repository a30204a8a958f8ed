package memtrack_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionforge/ioncore/memtag"
	"github.com/ionforge/ioncore/memtrack"
	"github.com/ionforge/ioncore/platform"
)

func TestOnAllocateOnDeallocateRoundTrip(t *testing.T) {
	tr := memtrack.NewTracker()
	const size, align = 64, 16

	buf := make([]byte, memtrack.PlanSize(size, align))
	payload, err := tr.OnAllocate(buf, size, align, memtag.Gameplay, 3, memtrack.Native)
	require.NoError(t, err)
	require.Len(t, payload, size)

	gotSize, gotAlign, gotTag, err := tr.OnDeallocate(payload)
	require.NoError(t, err)
	assert.EqualValues(t, size, gotSize)
	assert.EqualValues(t, align, gotAlign)
	assert.Equal(t, memtag.Gameplay, gotTag)
}

func TestOnDeallocateUnknownBlockErrors(t *testing.T) {
	tr := memtrack.NewTracker()
	_, _, _, err := tr.OnDeallocate(make([]byte, 8))
	assert.Error(t, err)
}

func TestOnAllocateRejectsNonPowerOfTwoAlignment(t *testing.T) {
	tr := memtrack.NewTracker()
	buf := make([]byte, memtrack.PlanSize(32, 24))
	_, err := tr.OnAllocate(buf, 32, 24, memtag.Core, platform.NoThread, memtrack.Native)
	assert.Error(t, err)
}

func TestSnapshotTracksCounts(t *testing.T) {
	tr := memtrack.NewTracker()
	const size, align = 32, 16

	buf := make([]byte, memtrack.PlanSize(size, align))
	_, err := tr.OnAllocate(buf, size, align, memtag.Physics, 1, memtrack.Native)
	require.NoError(t, err)

	snap := tr.Snapshot()
	var found bool
	for _, s := range snap {
		if s.Tag == memtag.Physics && s.Layer == memtrack.Native {
			found = true
			assert.EqualValues(t, 1, s.Count)
			assert.EqualValues(t, size, s.Bytes)
		}
	}
	assert.True(t, found, "expected a Physics/Native stats row")
}

func TestFinalReportFlagsOnlyOverThreshold(t *testing.T) {
	tr := memtrack.NewTracker()
	tr.SetLeakThreshold(10)

	buf := make([]byte, memtrack.PlanSize(64, 16))
	_, err := tr.OnAllocate(buf, 64, 16, memtag.Rendering, 2, memtrack.Native)
	require.NoError(t, err)

	leaks := tr.FinalReport()
	require.Len(t, leaks, 1)
	assert.Equal(t, memtag.Rendering, leaks[0].Tag)
}

func TestFinalReportIgnoresExemptTags(t *testing.T) {
	tr := memtrack.NewTracker()
	tr.SetLeakThreshold(0)

	buf := make([]byte, memtrack.PlanSize(64, 16))
	_, err := tr.OnAllocate(buf, 64, 16, memtag.IgnoreLeaks, 2, memtrack.Native)
	require.NoError(t, err)

	assert.Empty(t, tr.FinalReport())
}

func TestSetIgnoreLeaksRewritesTagOnAllocate(t *testing.T) {
	tr := memtrack.NewTracker()
	tr.SetIgnoreLeaks(true)

	buf := make([]byte, memtrack.PlanSize(16, 16))
	payload, err := tr.OnAllocate(buf, 16, 16, memtag.Gameplay, 0, memtrack.Native)
	require.NoError(t, err)

	_, _, tag, err := tr.OnDeallocate(payload)
	require.NoError(t, err)
	assert.Equal(t, memtag.IgnoreLeaks, tag)
}
