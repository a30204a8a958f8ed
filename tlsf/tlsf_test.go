package tlsf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionforge/ioncore/arena"
	"github.com/ionforge/ioncore/tlsf"
)

func newPool(t *testing.T, capacity, maxBlock int) *tlsf.Pool {
	t.Helper()
	a := arena.New(capacity)
	p, err := tlsf.New(a, capacity, maxBlock, nil)
	require.NoError(t, err)
	return p
}

func TestAllocateReturnsDistinctNonOverlappingBlocks(t *testing.T) {
	p := newPool(t, 4096, 2048)
	a, err := p.Allocate(64, 8)
	require.NoError(t, err)
	b, err := p.Allocate(128, 8)
	require.NoError(t, err)

	for i := range a {
		a[i] = 0xAA
	}
	for i := range b {
		b[i] = 0xBB
	}
	assert.EqualValues(t, 0xAA, a[0])
	assert.EqualValues(t, 0xBB, b[0])
}

func TestFreeAllowsReuseOfCoalescedSpace(t *testing.T) {
	p := newPool(t, 1024, 1024)
	a, err := p.Allocate(256, 8)
	require.NoError(t, err)
	b, err := p.Allocate(256, 8)
	require.NoError(t, err)

	require.NoError(t, p.Free(a))
	require.NoError(t, p.Free(b))

	// after freeing both, a single allocation spanning roughly their
	// combined size should succeed from the coalesced free block.
	c, err := p.Allocate(400, 8)
	require.NoError(t, err)
	assert.Len(t, c, 400)
}

func TestFreeUnknownBlockErrors(t *testing.T) {
	p := newPool(t, 256, 256)
	err := p.Free(make([]byte, 8))
	assert.Error(t, err)
}

func TestAllocateAboveMaxBlockSizeUsesFallback(t *testing.T) {
	var calledSize int
	fallback := func(size, align int) ([]byte, error) {
		calledSize = size
		return make([]byte, size), nil
	}
	a := arena.New(4096)
	p, err := tlsf.New(a, 4096, 128, fallback)
	require.NoError(t, err)

	out, err := p.Allocate(4096, 8)
	require.NoError(t, err)
	assert.Len(t, out, 4096)
	assert.Equal(t, 4096, calledSize)
}

func TestReallocGrowsAndPreservesPrefix(t *testing.T) {
	p := newPool(t, 2048, 2048)
	a, err := p.Allocate(32, 8)
	require.NoError(t, err)
	copy(a, []byte("hello-world"))

	grown, err := p.Realloc(a, 256, 8)
	require.NoError(t, err)
	assert.Equal(t, "hello-world", string(grown[:11]))
}
