package family

import (
	"github.com/flmrun/flm/internal/flmerr"
	"github.com/flmrun/flm/internal/generate"
	"github.com/flmrun/flm/internal/kvcache"
	"github.com/flmrun/flm/internal/modelcfg"
	"github.com/flmrun/flm/internal/npu"
	"github.com/flmrun/flm/internal/weights"
)

// deviceForwardRunner implements generate.ForwardRunner by issuing the
// per-step embedding-lookup and KV-writeback DMA commands through the
// assembler and awaiting their completion; the matmul/attention/MLP
// arithmetic those commands trigger inside the loaded kernel binary is
// not this package's concern, per the boundary generate.ForwardRunner
// draws.
//
// Two fixed-shape applications are built once, at construction: one
// for a single decode step, one for a PrefillChunkWidth-token prefill
// chunk. Reusing them keeps the compiled-kernel cache warm across every
// call (Application only reassembles when its command sequence's
// version changes, and these never do) — the per-call data moves
// through persistent, reused device buffers instead.
type deviceForwardRunner struct {
	dev  npu.Device
	cfg  *modelcfg.Config
	rows int // heads*headDim per layer, the per-token K or V row width

	embedTable *npu.Buffer
	lmHead     *npu.Buffer

	decodeApp    *npu.Application
	decodeIn     *npu.Buffer
	decodeKVOut  *npu.Buffer
	decodeLogits *npu.Buffer

	prefillApp   *npu.Application
	prefillIn    *npu.Buffer
	prefillKVOut *npu.Buffer
}

const (
	argEmbedIn  uint8 = 0
	argKVOut    uint8 = 1
	argLMHead   uint8 = 2
	argLogitsOut uint8 = 3
)

// kvHeadCount reports the number of K/V heads a model's attention
// actually stores per layer: NumKeyValueHeads for grouped-query
// attention configs, falling back to NumAttentionHeads when a config
// omits it (plain multi-head attention, one K/V head per query head).
func kvHeadCount(cfg *modelcfg.Config) int {
	if cfg.NumKeyValueHeads > 0 {
		return cfg.NumKeyValueHeads
	}
	return cfg.NumAttentionHeads
}

func newDeviceForwardRunner(ctxMgr *npu.HardwareContextManager, dev npu.Device, cfg *modelcfg.Config, embedTable, lmHead *npu.Buffer) (*deviceForwardRunner, error) {
	rowWidth := kvHeadCount(cfg) * cfg.HeadDim
	kvBytesPerToken := cfg.NumHiddenLayers * rowWidth * 2 /* K and V */ * 2 /* f16 */

	r := &deviceForwardRunner{dev: dev, cfg: cfg, rows: rowWidth, embedTable: embedTable, lmHead: lmHead}

	decodeIn, err := allocBuffer(dev, cfg.HiddenSize*2)
	if err != nil {
		return nil, err
	}
	decodeKVOut, err := allocBuffer(dev, kvBytesPerToken)
	if err != nil {
		return nil, err
	}
	decodeLogits, err := allocBuffer(dev, cfg.VocabSize*2)
	if err != nil {
		return nil, err
	}
	r.decodeIn, r.decodeKVOut, r.decodeLogits = decodeIn, decodeKVOut, decodeLogits

	decodeApp, err := buildForwardApplication(ctxMgr, "builtin://decode", cfg, func(seq *npu.CommandSequence) error {
		// argLMHead carries no transfer of its own: the LM head weights
		// are already resident on the device from LoadModel, so its
		// handle is only passed through Launch's args map for the
		// kernel to read directly, not moved on every step.
		if err := appendHostToKernel(seq, argEmbedIn, decodeIn.Len()); err != nil {
			return err
		}
		if err := appendKernelToHost(seq, argKVOut, decodeKVOut.Len()); err != nil {
			return err
		}
		return appendKernelToHost(seq, argLogitsOut, decodeLogits.Len())
	})
	if err != nil {
		return nil, err
	}
	r.decodeApp = decodeApp

	prefillIn, err := allocBuffer(dev, generate.PrefillChunkWidth*cfg.HiddenSize*2)
	if err != nil {
		return nil, err
	}
	prefillKVOut, err := allocBuffer(dev, generate.PrefillChunkWidth*kvBytesPerToken)
	if err != nil {
		return nil, err
	}
	r.prefillIn, r.prefillKVOut = prefillIn, prefillKVOut

	prefillApp, err := buildForwardApplication(ctxMgr, "builtin://prefill", cfg, func(seq *npu.CommandSequence) error {
		if err := appendHostToKernel(seq, argEmbedIn, prefillIn.Len()); err != nil {
			return err
		}
		return appendKernelToHost(seq, argKVOut, prefillKVOut.Len())
	})
	if err != nil {
		return nil, err
	}
	r.prefillApp = prefillApp

	return r, nil
}

func allocBuffer(dev npu.Device, n int) (*npu.Buffer, error) {
	if n <= 0 {
		n = 4
	}
	data, handle, err := dev.Alloc(n)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.DeviceLaunchFailure, "allocate device buffer", err)
	}
	return npu.NewDeviceBuffer(data, handle), nil
}

// buildForwardApplication registers a placeholder binary (the forward
// application's own command sequence is what actually gets compiled
// and loaded on first launch) and runs build against the fresh
// application's sequence.
func buildForwardApplication(ctxMgr *npu.HardwareContextManager, path string, cfg *modelcfg.Config, build func(*npu.CommandSequence) error) (*npu.Application, error) {
	placeholder := npu.NewCommandSequence(npu.Header{Rows: 6, Cols: 8})
	obj, err := placeholder.ToELF()
	if err != nil {
		return nil, err
	}
	slot, err := ctxMgr.RegisterBinary(path, obj)
	if err != nil {
		return nil, err
	}
	app, err := ctxMgr.CreateApplication(slot, npu.Header{Rows: 6, Cols: 8})
	if err != nil {
		return nil, err
	}
	if err := build(app.Sequence()); err != nil {
		return nil, err
	}
	return app, nil
}

// appendHostToKernel emits one DMA transfer moving n bytes from host-
// visible memory into the kernel's input stream at the shim tile (row
// 0), tagged with argIdx so the device-context manager's launch-time
// patch binds the right buffer handle to it.
func appendHostToKernel(seq *npu.CommandSequence, argIdx uint8, n int) error {
	return dmaTransfer(seq, argIdx, n, npu.DirMM2S)
}

// appendKernelToHost emits the matching transfer back out to host
// memory once the kernel has produced n bytes of output.
func appendKernelToHost(seq *npu.CommandSequence, argIdx uint8, n int) error {
	return dmaTransfer(seq, argIdx, n, npu.DirS2MM)
}

func dmaTransfer(seq *npu.CommandSequence, argIdx uint8, n int, dir npu.Direction) error {
	if n <= 0 {
		n = 4
	}
	err := seq.DMAMemcpyND(npu.DMAMemcpyNDParams{
		ElemSize:  4,
		ArgIndex:  argIdx,
		Direction: dir,
		Row:       0, Col: 0,
		BDID:    argIdx,
		Channel: 0,
		Size:    [4]uint32{1, 1, 1, uint32(n) / 4},
		Stride:  [4]uint32{1, 1, 1, 1},
	}, false, 0)
	if err != nil {
		return err
	}
	seq.DMAWait(0, 0, dir, 0)
	return nil
}

func (r *deviceForwardRunner) embedRow(token int) []byte {
	rowLen := r.cfg.HiddenSize * 2
	off := token * rowLen
	return r.embedTable.Bytes()[off : off+rowLen]
}

// Prefill runs chunk through the prefill application one call per
// chunk (chunk is already sized to at most generate.PrefillChunkWidth
// by the caller), writing each token's resulting K/V rows into cache.
func (r *deviceForwardRunner) Prefill(chunk []int, cache *kvcache.Cache) error {
	in := r.prefillIn.Bytes()
	rowLen := r.cfg.HiddenSize * 2
	for i, tok := range chunk {
		copy(in[i*rowLen:(i+1)*rowLen], r.embedRow(tok))
	}

	args := map[uint8]uint64{
		argEmbedIn: r.prefillIn.DeviceHandle(),
		argKVOut:   r.prefillKVOut.DeviceHandle(),
	}
	if _, err := r.prefillApp.Launch(args); err != nil {
		return err
	}

	kvBytesPerToken := r.prefillKVOut.Len() / generate.PrefillChunkWidth
	out := r.prefillKVOut.Bytes()
	for i := range chunk {
		perLayerK, perLayerV := r.splitKV(out[i*kvBytesPerToken : (i+1)*kvBytesPerToken])
		if err := cache.Insert(perLayerK, perLayerV); err != nil {
			return err
		}
	}
	return nil
}

// Decode runs one token through the decode application and returns the
// vocab-sized logits the sampler consumes.
func (r *deviceForwardRunner) Decode(token int, cache *kvcache.Cache) ([]float64, error) {
	copy(r.decodeIn.Bytes(), r.embedRow(token))

	args := map[uint8]uint64{
		argEmbedIn:   r.decodeIn.DeviceHandle(),
		argLMHead:    r.lmHead.DeviceHandle(),
		argKVOut:     r.decodeKVOut.DeviceHandle(),
		argLogitsOut: r.decodeLogits.DeviceHandle(),
	}
	if _, err := r.decodeApp.Launch(args); err != nil {
		return nil, err
	}

	perLayerK, perLayerV := r.splitKV(r.decodeKVOut.Bytes())
	if err := cache.Insert(perLayerK, perLayerV); err != nil {
		return nil, err
	}

	out := r.decodeLogits.Bytes()
	logits := make([]float64, r.cfg.VocabSize)
	for i := range logits {
		bits := uint16(out[i*2]) | uint16(out[i*2+1])<<8
		logits[i] = float64(weights.HalfToFloat32(bits))
	}
	return logits, nil
}

// splitKV slices one token's packed K/V bytes into per-layer rows,
// decoding the raw bytes as native-endian uint16 (half-float bit
// patterns), the layout kvcache.Cache.Insert expects.
func (r *deviceForwardRunner) splitKV(b []byte) (perLayerK, perLayerV [][]uint16) {
	layers := r.cfg.NumHiddenLayers
	rowBytes := r.rows * 2
	perLayerK = make([][]uint16, layers)
	perLayerV = make([][]uint16, layers)
	off := 0
	for l := 0; l < layers; l++ {
		perLayerK[l] = bytesToUint16(b[off : off+rowBytes])
		off += rowBytes
		perLayerV[l] = bytesToUint16(b[off : off+rowBytes])
		off += rowBytes
	}
	return perLayerK, perLayerV
}

func bytesToUint16(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = uint16(b[i*2]) | uint16(b[i*2+1])<<8
	}
	return out
}
