package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStagingPoolAcquireExhaustsThenReleases(t *testing.T) {
	p := newStagingPool(2, 64)

	_, idx0, ok := p.acquire()
	require.True(t, ok)
	_, _, ok = p.acquire()
	require.True(t, ok)

	_, _, ok = p.acquire()
	require.False(t, ok)

	p.release(idx0)
	_, _, ok = p.acquire()
	require.True(t, ok)
}

func TestStagingPoolSlotLenFloorsToMinimum(t *testing.T) {
	p := newStagingPool(1, 16)
	require.Equal(t, 65536, len(p.backing()))
}

func TestStagingPoolBackingIsContiguous(t *testing.T) {
	p := newStagingPool(4, 65536)
	require.Equal(t, 4*65536, len(p.backing()))

	buf, idx, ok := p.acquire()
	require.True(t, ok)
	buf[0] = 0xAB
	require.Equal(t, byte(0xAB), p.backing()[idx*65536])
}
