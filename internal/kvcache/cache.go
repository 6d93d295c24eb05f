// Package kvcache implements the paged key/value cache the generation
// loop reads and writes one decode step at a time: one K and one V
// buffer per layer, with sliding-window layers wrapping into a ring and
// full-attention layers appending at the true position.
package kvcache

import (
	"fmt"

	"github.com/flmrun/flm/internal/flmerr"
)

// LayerBuffer is one layer's K or V storage: H heads by MaxLen positions
// by D head-dim, stored as 16-bit float (IEEE-754 binary16 bit
// patterns) row-major in that order.
type LayerBuffer struct {
	Heads   int
	MaxLen  int
	HeadDim int
	data    []uint16
}

func newLayerBuffer(heads, maxLen, headDim int) *LayerBuffer {
	return &LayerBuffer{
		Heads:   heads,
		MaxLen:  maxLen,
		HeadDim: headDim,
		data:    make([]uint16, heads*maxLen*headDim),
	}
}

func (b *LayerBuffer) slotOffset(head, slot int) int {
	return (head*b.MaxLen + slot) * b.HeadDim
}

// WriteSlot overwrites one (head, slot) row with headDim values.
func (b *LayerBuffer) WriteSlot(head, slot int, values []uint16) {
	off := b.slotOffset(head, slot)
	copy(b.data[off:off+b.HeadDim], values)
}

// ReadSlot returns the headDim values stored at (head, slot).
func (b *LayerBuffer) ReadSlot(head, slot int) []uint16 {
	off := b.slotOffset(head, slot)
	return b.data[off : off+b.HeadDim]
}

// Layer holds one transformer layer's K and V buffers plus whether it
// attends with a sliding window or over the full context.
type Layer struct {
	IsSliding bool
	K, V      *LayerBuffer
}

// Cache is the per-request paged KV store across all layers. There is a
// single writer, the generation loop; concurrent mutation from more than
// one goroutine is the caller's bug to avoid.
type Cache struct {
	layers []Layer
	window int
	maxLen int
	curLen int
}

// Config describes the cache's fixed shape, set once at construction
// from the model's config.json.
type Config struct {
	Layers        int
	Heads         int
	HeadDim       int
	MaxLen        int
	SlidingWindow int    // W; ignored for full-attention layers
	IsSliding     []bool // per-layer flag, len == Layers
}

// New allocates a cache per cfg. IsSliding must have exactly cfg.Layers
// entries.
func New(cfg Config) (*Cache, error) {
	if len(cfg.IsSliding) != cfg.Layers {
		return nil, fmt.Errorf("kvcache: is_sliding has %d entries, want %d layers", len(cfg.IsSliding), cfg.Layers)
	}
	layers := make([]Layer, cfg.Layers)
	for l := range layers {
		layers[l] = Layer{
			IsSliding: cfg.IsSliding[l],
			K:         newLayerBuffer(cfg.Heads, cfg.MaxLen, cfg.HeadDim),
			V:         newLayerBuffer(cfg.Heads, cfg.MaxLen, cfg.HeadDim),
		}
	}
	return &Cache{layers: layers, window: cfg.SlidingWindow, maxLen: cfg.MaxLen}, nil
}

// CurLen reports the number of positions written so far.
func (c *Cache) CurLen() int { return c.curLen }

// MaxLen reports the cache's fixed capacity in positions.
func (c *Cache) MaxLen() int { return c.maxLen }

// ClearContext resets cur_len to zero without touching buffer bytes;
// stale slots are simply overwritten as new positions are inserted.
func (c *Cache) ClearContext() { c.curLen = 0 }

// slotFor maps position t on a sliding layer to its ring-buffer slot.
func (c *Cache) slotFor(l Layer, t int) int {
	if l.IsSliding {
		return t % c.window
	}
	return t
}

// Insert writes the K and V rows for every head at the next position
// (cur_len) on every layer, then advances cur_len. Fails with
// MaxContextReached if the cache is already at capacity.
func (c *Cache) Insert(perLayerK, perLayerV [][]uint16) error {
	if c.curLen+1 > c.maxLen {
		return flmerr.New(flmerr.MaxContextReached,
			fmt.Sprintf("context length %d exceeds max %d", c.curLen+1, c.maxLen))
	}
	if len(perLayerK) != len(c.layers) || len(perLayerV) != len(c.layers) {
		return fmt.Errorf("kvcache: expected %d layers of K/V, got %d/%d", len(c.layers), len(perLayerK), len(perLayerV))
	}

	t := c.curLen
	for l := range c.layers {
		layer := &c.layers[l]
		slot := c.slotFor(*layer, t)
		heads := layer.K.Heads
		headDim := layer.K.HeadDim
		kRow, vRow := perLayerK[l], perLayerV[l]
		if len(kRow) != heads*headDim || len(vRow) != heads*headDim {
			return fmt.Errorf("kvcache: layer %d expects %d values per K/V row, got %d/%d", l, heads*headDim, len(kRow), len(vRow))
		}
		for h := 0; h < heads; h++ {
			layer.K.WriteSlot(h, slot, kRow[h*headDim:(h+1)*headDim])
			layer.V.WriteSlot(h, slot, vRow[h*headDim:(h+1)*headDim])
		}
	}
	c.curLen++
	return nil
}

// ReadRange reports the chronologically-ordered slot sequence layer l's
// attention should read over, given the cache's current length: the
// full [0, curLen) range for a full-attention layer, or the last
// min(W, curLen) slots in chronological order for a sliding layer.
func (c *Cache) ReadRange(layerIdx int) []int {
	layer := c.layers[layerIdx]
	if !layer.IsSliding {
		out := make([]int, c.curLen)
		for i := range out {
			out[i] = i
		}
		return out
	}

	n := c.curLen
	if n > c.window {
		n = c.window
	}
	start := 0
	if c.curLen-c.window > 0 {
		start = (c.curLen - c.window) % c.window
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = (start + i) % c.window
	}
	return out
}

// Layer exposes one layer's buffers for the attention kernel to read.
func (c *Cache) Layer(idx int) Layer { return c.layers[idx] }

// NumLayers reports the number of layers the cache was built with.
func (c *Cache) NumLayers() int { return len(c.layers) }
