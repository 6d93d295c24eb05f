package kvcache

import (
	"testing"

	"github.com/flmrun/flm/internal/flmerr"
	"github.com/stretchr/testify/require"
)

func rowOf(heads, headDim int, fill uint16) []uint16 {
	row := make([]uint16, heads*headDim)
	for i := range row {
		row[i] = fill
	}
	return row
}

func TestInsertAdvancesCurLen(t *testing.T) {
	c, err := New(Config{Layers: 2, Heads: 2, HeadDim: 4, MaxLen: 8, SlidingWindow: 4, IsSliding: []bool{false, true}})
	require.NoError(t, err)

	require.Equal(t, 0, c.CurLen())
	k := []([]uint16){rowOf(2, 4, 1), rowOf(2, 4, 1)}
	v := []([]uint16){rowOf(2, 4, 2), rowOf(2, 4, 2)}
	require.NoError(t, c.Insert(k, v))
	require.Equal(t, 1, c.CurLen())
}

func TestInsertRejectsOverCapacity(t *testing.T) {
	c, err := New(Config{Layers: 1, Heads: 1, HeadDim: 2, MaxLen: 1, SlidingWindow: 1, IsSliding: []bool{false}})
	require.NoError(t, err)

	k := []([]uint16){rowOf(1, 2, 1)}
	v := []([]uint16){rowOf(1, 2, 2)}
	require.NoError(t, c.Insert(k, v))

	err = c.Insert(k, v)
	require.Error(t, err)
	fe, ok := flmerr.As(err)
	require.True(t, ok)
	require.Equal(t, flmerr.MaxContextReached, fe.Code)
}

func TestSlidingLayerWrapsRingBuffer(t *testing.T) {
	c, err := New(Config{Layers: 1, Heads: 1, HeadDim: 1, MaxLen: 16, SlidingWindow: 3, IsSliding: []bool{true}})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		val := uint16(100 + i)
		require.NoError(t, c.Insert([][]uint16{{val}}, [][]uint16{{val}}))
	}
	// positions 0..4 written; slot = t % 3:
	// t=0->slot0, t=1->slot1, t=2->slot2, t=3->slot0, t=4->slot1
	layer := c.Layer(0)
	require.Equal(t, uint16(103), layer.K.ReadSlot(0, 0)[0]) // slot 0 last written at t=3
	require.Equal(t, uint16(104), layer.K.ReadSlot(0, 1)[0]) // slot 1 last written at t=4
	require.Equal(t, uint16(102), layer.K.ReadSlot(0, 2)[0]) // slot 2 last written at t=2
}

func TestReadRangeFullLayer(t *testing.T) {
	c, err := New(Config{Layers: 1, Heads: 1, HeadDim: 1, MaxLen: 16, SlidingWindow: 3, IsSliding: []bool{false}})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Insert([][]uint16{{1}}, [][]uint16{{1}}))
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, c.ReadRange(0))
}

func TestReadRangeSlidingLayerChronological(t *testing.T) {
	c, err := New(Config{Layers: 1, Heads: 1, HeadDim: 1, MaxLen: 16, SlidingWindow: 3, IsSliding: []bool{true}})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Insert([][]uint16{{1}}, [][]uint16{{1}}))
	}
	// cur_len == 5 after 5 inserts, window 3: reads slots for t=2,3,4 in chronological order
	require.Equal(t, []int{2, 0, 1}, c.ReadRange(0))
}

func TestClearContextResetsCurLenNotBytes(t *testing.T) {
	c, err := New(Config{Layers: 1, Heads: 1, HeadDim: 1, MaxLen: 4, SlidingWindow: 2, IsSliding: []bool{false}})
	require.NoError(t, err)
	require.NoError(t, c.Insert([][]uint16{{42}}, [][]uint16{{42}}))
	c.ClearContext()
	require.Equal(t, 0, c.CurLen())
	require.Equal(t, uint16(42), c.Layer(0).K.ReadSlot(0, 0)[0])
}
