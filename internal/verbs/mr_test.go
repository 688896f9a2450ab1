package verbs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMR struct{ id int }

type fakeQueuePair struct {
	nextID      int
	registered  []int
	failWhole   bool
	failAtBlock int // -1 to never fail
}

func (f *fakeQueuePair) Close() error                                   { return nil }
func (f *fakeQueuePair) PostRecv(uint64, []byte) error                  { return nil }
func (f *fakeQueuePair) PostSGRecv(uint64, [][]byte) error              { return nil }
func (f *fakeQueuePair) FlushPosts() (uint32, error)                    { return 0, nil }
func (f *fakeQueuePair) PollCompletions(int) ([]Completion, error)      { return nil, nil }
func (f *fakeQueuePair) CreateFlow() error                              { return nil }
func (f *fakeQueuePair) EnablePromiscuous() error                       { return nil }
func (f *fakeQueuePair) PostSend([]byte) error                         { return nil }

func (f *fakeQueuePair) RegisterMR(buf []byte) (MRHandle, error) {
	if f.failWhole && len(buf) > 4096 {
		f.failWhole = false // only fail the whole-ring attempt once
		return nil, fmt.Errorf("simulated whole-ring registration failure")
	}
	id := f.nextID
	if f.failAtBlock == id {
		return nil, fmt.Errorf("simulated per-block failure at %d", id)
	}
	f.nextID++
	f.registered = append(f.registered, id)
	return &fakeMR{id: id}, nil
}

func (f *fakeQueuePair) DeregisterMR(h MRHandle) error {
	if _, ok := h.(*fakeMR); !ok {
		return fmt.Errorf("invalid MR handle")
	}
	return nil
}

func makeContiguousBlocks(n, size int) [][]byte {
	backing := make([]byte, n*size)
	blocks := make([][]byte, n)
	for i := 0; i < n; i++ {
		blocks[i] = backing[i*size : (i+1)*size]
	}
	return blocks
}

func TestRegisterRingWholeRingWhenContiguous(t *testing.T) {
	blocks := makeContiguousBlocks(4, 8192)
	qp := &fakeQueuePair{failAtBlock: -1}

	set, fellBack, err := RegisterRing(qp, blocks)
	require.NoError(t, err)
	require.False(t, fellBack)
	require.Equal(t, MRWholeRing, set.Strategy())
	require.Len(t, set.handles, 1)
}

func TestRegisterRingFallsBackWhenNotContiguous(t *testing.T) {
	// carve both blocks out of one backing array with a hole between
	// them, so non-contiguity doesn't depend on allocator placement
	backing := make([]byte, 3*8192)
	a := backing[0:8192]
	b := backing[2*8192 : 3*8192]
	qp := &fakeQueuePair{failAtBlock: -1}

	set, fellBack, err := RegisterRing(qp, [][]byte{a, b})
	require.NoError(t, err)
	require.True(t, fellBack)
	require.Equal(t, MRPerBlock, set.Strategy())
	require.Len(t, set.handles, 2)
}

func TestRegisterRingFallsBackWhenWholeRegistrationFails(t *testing.T) {
	blocks := makeContiguousBlocks(2, 8192)
	qp := &fakeQueuePair{failWhole: true, failAtBlock: -1}

	set, fellBack, err := RegisterRing(qp, blocks)
	require.NoError(t, err)
	require.True(t, fellBack)
	require.Equal(t, MRPerBlock, set.Strategy())
}

func TestRegisterRingPropagatesPerBlockFailure(t *testing.T) {
	backing := make([]byte, 3*8192)
	a := backing[0:8192]
	b := backing[2*8192 : 3*8192]
	qp := &fakeQueuePair{failAtBlock: 1}

	_, _, err := RegisterRing(qp, [][]byte{a, b})
	require.Error(t, err)
}

func TestUnregisterAll(t *testing.T) {
	blocks := makeContiguousBlocks(3, 4096)
	qp := &fakeQueuePair{failAtBlock: -1}

	set, _, err := RegisterRing(qp, blocks)
	require.NoError(t, err)
	require.NoError(t, set.UnregisterAll())
	require.Empty(t, set.handles)
}
