package family

import (
	"fmt"
	"math"
	"sync"

	"github.com/flmrun/flm/internal/flmerr"
	"github.com/flmrun/flm/internal/generate"
	"github.com/flmrun/flm/internal/npu"
	"github.com/flmrun/flm/internal/weights"
)

// maxEmbedTokens bounds the fixed-shape embedding application's input
// buffer, mirroring generate.PrefillChunkWidth's role for the causal
// family: texts longer than this are truncated rather than triggering a
// recompile.
const maxEmbedTokens = 512

const (
	argEmbedTextIn uint8 = 0
	argEmbedOut    uint8 = 1
)

// Encoder is the embedding-only family: no chat history, no KV cache,
// no sampler. One forward pass maps a token sequence straight to a
// single pooled, L2-normalized vector.
type Encoder struct {
	deps Deps

	mu         sync.Mutex
	archive    *weights.Archive
	embedTable *npu.Buffer

	app *npu.Application
	in  *npu.Buffer
	out *npu.Buffer
}

func newEncoder(deps Deps) (*Encoder, error) {
	return &Encoder{deps: deps}, nil
}

// LoadModel opens archivePath and resolves the token embedding table;
// the encoder's own weights (pooling head, projection) stay resident on
// the device behind the compiled kernel, the same way the causal
// family's per-layer matmuls do.
func (e *Encoder) LoadModel(archivePath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.deps.Config
	if err := cfg.CheckCompatible(); err != nil {
		return err
	}

	archive, err := weights.Open(archivePath)
	if err != nil {
		return err
	}
	embedTable, err := loadNamedTensor(archive, e.deps.Device, "token_embedding.weight", cfg.VocabSize*cfg.HiddenSize*2)
	if err != nil {
		archive.Close()
		return err
	}

	in, err := allocBuffer(e.deps.Device, maxEmbedTokens*cfg.HiddenSize*2)
	if err != nil {
		archive.Close()
		return err
	}
	out, err := allocBuffer(e.deps.Device, cfg.HiddenSize*2)
	if err != nil {
		archive.Close()
		return err
	}

	app, err := buildForwardApplication(e.deps.CtxMgr, "builtin://embed", cfg, func(seq *npu.CommandSequence) error {
		if err := appendHostToKernel(seq, argEmbedTextIn, in.Len()); err != nil {
			return err
		}
		return appendKernelToHost(seq, argEmbedOut, out.Len())
	})
	if err != nil {
		archive.Close()
		return err
	}

	e.archive = archive
	e.embedTable = embedTable
	e.app = app
	e.in = in
	e.out = out
	return nil
}

// Embed tokenizes text, runs it through the pooling application, and
// returns the L2-normalized result.
func (e *Encoder) Embed(text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.app == nil {
		return nil, flmerr.New(flmerr.InvalidRequest, "model not loaded")
	}

	tokens := e.deps.Tokenizer.Encode(text)
	if len(tokens) > maxEmbedTokens {
		tokens = tokens[:maxEmbedTokens]
	}

	cfg := e.deps.Config
	rowLen := cfg.HiddenSize * 2
	in := e.in.Bytes()
	for i := range in {
		in[i] = 0
	}
	table := e.embedTable.Bytes()
	for i, tok := range tokens {
		off := tok * rowLen
		copy(in[i*rowLen:(i+1)*rowLen], table[off:off+rowLen])
	}

	args := map[uint8]uint64{
		argEmbedTextIn: e.in.DeviceHandle(),
		argEmbedOut:    e.out.DeviceHandle(),
	}
	if _, err := e.app.Launch(args); err != nil {
		return nil, err
	}

	out := e.out.Bytes()
	vec := make([]float32, cfg.HiddenSize)
	var sumSq float64
	for i := range vec {
		bits := uint16(out[i*2]) | uint16(out[i*2+1])<<8
		v := weights.HalfToFloat32(bits)
		vec[i] = v
		sumSq += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sumSq))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Generate is unsupported: the encoder family produces embeddings, not
// streamed chat text.
func (e *Encoder) Generate(messages []generate.Message, cfg generate.Config, emit func(generate.Chunk)) (*generate.Meta, error) {
	return nil, fmt.Errorf("family: encoder family does not support chat generation, use Embed")
}

// Insert is a no-op: the encoder family has no growing KV cache to
// prime ahead of a request.
func (e *Encoder) Insert(tokens []int) error { return nil }

// ClearContext is a no-op for the same reason.
func (e *Encoder) ClearContext() {}

// GetHistory always reports an empty history: the encoder family is
// stateless across calls.
func (e *Encoder) GetHistory() []generate.Message { return nil }

// ConfigureParameter rejects every name: the encoder family has no
// sampling parameters to adjust.
func (e *Encoder) ConfigureParameter(name string, value float64) error {
	return flmerr.New(flmerr.InvalidRequest, fmt.Sprintf("encoder family has no parameter %q", name))
}
