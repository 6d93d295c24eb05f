package family

import (
	"encoding/binary"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/flmrun/flm/internal/generate"
	"github.com/flmrun/flm/internal/modelcfg"
	"github.com/flmrun/flm/internal/npu"
	"github.com/flmrun/flm/internal/sampler"
	"github.com/flmrun/flm/internal/weights"
	"github.com/stretchr/testify/require"
)

// fakeDevice is an in-memory npu.Device: LoadBinary/Launch/Wait succeed
// immediately and never touch buffer contents, so every decoded logit
// and KV row a test reads back is whatever zero-valued bytes Alloc
// handed out.
type fakeDevice struct {
	nextHandle uint64
}

func (d *fakeDevice) LoadBinary(obj *npu.ELFObject) (uint64, error) {
	return atomic.AddUint64(&d.nextHandle, 1), nil
}

func (d *fakeDevice) Launch(ctxSlot int, binHandle uint64, argAddrs map[uint8]uint64) error {
	return nil
}

func (d *fakeDevice) Wait(ctxSlot int) error { return nil }

func (d *fakeDevice) Alloc(n int) ([]byte, uint64, error) {
	return make([]byte, n), atomic.AddUint64(&d.nextHandle, 1), nil
}

func (d *fakeDevice) Free(handle uint64) error { return nil }

// fakeTokenizer assigns bounded, cyclic token ids so tests can build
// archives sized to a small vocabulary without risking an out-of-range
// embedding-table lookup.
type fakeTokenizer struct{ vocab int }

func (f fakeTokenizer) Encode(text string) []int {
	ids := make([]int, len(text))
	for i := range text {
		ids[i] = i % f.vocab
	}
	return ids
}

func (f fakeTokenizer) Decode(ids []int) string {
	b := make([]byte, len(ids))
	for i, id := range ids {
		b[i] = byte('a' + id)
	}
	return string(b)
}

func (f fakeTokenizer) DecodeToken(id int) string { return string(rune('a' + id)) }
func (f fakeTokenizer) VocabSize() int            { return f.vocab }

// writeArchive builds a minimal weight archive: 8-byte LE header
// length, the JSON tensor-record header, then each tensor's raw bytes
// in record order, mirroring the weights package's own on-disk layout.
func writeArchive(t *testing.T, records map[string]weights.TensorRecord, tensors map[string][]byte) string {
	t.Helper()
	header, err := json.Marshal(records)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.flmw")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(header)))
	_, err = f.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = f.Write(header)
	require.NoError(t, err)
	for name := range records {
		_, err = f.Write(tensors[name])
		require.NoError(t, err)
	}
	return path
}

func testConfig(modelType string) *modelcfg.Config {
	return &modelcfg.Config{
		ModelType:         modelType,
		VocabSize:         4,
		HiddenSize:        2,
		IntermediateSize:  2,
		NumAttentionHeads: 1,
		NumHiddenLayers:   1,
		NumKeyValueHeads:  1,
		HeadDim:           2,
		RMSNormEps:        1e-5,
		RopeTheta:         10000,
		FLMVersion:        1,
	}
}

func embedAndHeadArchive(t *testing.T, cfg *modelcfg.Config) string {
	t.Helper()
	n := cfg.VocabSize * cfg.HiddenSize * 2
	embed := make([]byte, n)
	head := make([]byte, n)
	for i := range embed {
		embed[i] = byte(i + 1)
		head[i] = byte(i + 2)
	}
	records := map[string]weights.TensorRecord{
		"token_embedding.weight": {Shape: []int{cfg.VocabSize, cfg.HiddenSize}, Dtype: weights.DtypeF16, Offsets: [2]int64{0, int64(n)}},
		"lm_head.weight":         {Shape: []int{cfg.VocabSize, cfg.HiddenSize}, Dtype: weights.DtypeF16, Offsets: [2]int64{int64(n), int64(2 * n)}},
	}
	return writeArchive(t, records, map[string][]byte{
		"token_embedding.weight": embed,
		"lm_head.weight":         head,
	})
}

func newTestDeps(t *testing.T, cfg *modelcfg.Config) Deps {
	t.Helper()
	dev := &fakeDevice{}
	return Deps{
		Config:    cfg,
		Device:    dev,
		CtxMgr:    npu.NewHardwareContextManager(dev, npu.PowerModeBalanced, false),
		Tokenizer: fakeTokenizer{vocab: cfg.VocabSize},
		Sampler:   sampler.New(rand.New(rand.NewSource(1))),
	}
}

func TestNewDispatchesCausalLM(t *testing.T) {
	cfg := testConfig("causal-lm")
	f, err := New(newTestDeps(t, cfg))
	require.NoError(t, err)
	_, ok := f.(*CausalLM)
	require.True(t, ok)
}

func TestNewDispatchesEncoder(t *testing.T) {
	cfg := testConfig("encoder")
	f, err := New(newTestDeps(t, cfg))
	require.NoError(t, err)
	_, ok := f.(*Encoder)
	require.True(t, ok)
}

func TestNewRejectsUnknownModelType(t *testing.T) {
	cfg := testConfig("some-unknown-type")
	_, err := New(newTestDeps(t, cfg))
	require.Error(t, err)
}

func TestCausalLMGenerateStopsAtMaxTokensAndRecordsHistory(t *testing.T) {
	cfg := testConfig("causal-lm")
	deps := newTestDeps(t, cfg)
	cl, err := newCausalLM(deps)
	require.NoError(t, err)
	require.NoError(t, cl.LoadModel(embedAndHeadArchive(t, cfg)))

	var chunks []generate.Chunk
	meta, err := cl.Generate(
		[]generate.Message{{Role: "user", Content: "hi"}},
		generate.Config{MaxTokens: 1, Params: sampler.Params{Temperature: 0}},
		func(c generate.Chunk) { chunks = append(chunks, c) },
	)
	require.NoError(t, err)
	require.Equal(t, 1, meta.GeneratedTokens)
	require.Equal(t, generate.StopLengthLimit, meta.StopReason)

	history := cl.GetHistory()
	require.Len(t, history, 2)
	require.Equal(t, "user", history[0].Role)
	require.Equal(t, "assistant", history[1].Role)
}

func TestCausalLMClearContextResetsHistoryAndCache(t *testing.T) {
	cfg := testConfig("causal-lm")
	deps := newTestDeps(t, cfg)
	cl, err := newCausalLM(deps)
	require.NoError(t, err)
	require.NoError(t, cl.LoadModel(embedAndHeadArchive(t, cfg)))
	require.NoError(t, cl.Insert([]int{0, 1}))
	require.Equal(t, 2, cl.cache.CurLen())

	cl.ClearContext()
	require.Equal(t, 0, cl.cache.CurLen())
	require.Empty(t, cl.GetHistory())
}

func TestCausalLMConfigureParameterAppliesAsDefault(t *testing.T) {
	cfg := testConfig("causal-lm")
	deps := newTestDeps(t, cfg)
	cl, err := newCausalLM(deps)
	require.NoError(t, err)
	require.NoError(t, cl.ConfigureParameter("temperature", 0))
	require.Error(t, cl.ConfigureParameter("bogus", 1))
}

func TestEncoderEmbedReturnsHiddenSizedVector(t *testing.T) {
	cfg := testConfig("encoder")
	deps := newTestDeps(t, cfg)
	enc, err := newEncoder(deps)
	require.NoError(t, err)

	n := cfg.VocabSize * cfg.HiddenSize * 2
	embed := make([]byte, n)
	for i := range embed {
		embed[i] = byte(i + 1)
	}
	records := map[string]weights.TensorRecord{
		"token_embedding.weight": {Shape: []int{cfg.VocabSize, cfg.HiddenSize}, Dtype: weights.DtypeF16, Offsets: [2]int64{0, int64(n)}},
	}
	path := writeArchive(t, records, map[string][]byte{"token_embedding.weight": embed})
	require.NoError(t, enc.LoadModel(path))

	vec, err := enc.Embed("ab")
	require.NoError(t, err)
	require.Len(t, vec, cfg.HiddenSize)
}

func TestEncoderGenerateUnsupported(t *testing.T) {
	cfg := testConfig("encoder")
	deps := newTestDeps(t, cfg)
	enc, err := newEncoder(deps)
	require.NoError(t, err)
	_, err = enc.Generate(nil, generate.Config{}, func(generate.Chunk) {})
	require.Error(t, err)
}
