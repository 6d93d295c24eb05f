package family

import (
	"fmt"
	"sync"

	"github.com/flmrun/flm/internal/flmerr"
	"github.com/flmrun/flm/internal/generate"
	"github.com/flmrun/flm/internal/kvcache"
	"github.com/flmrun/flm/internal/modelcfg"
	"github.com/flmrun/flm/internal/npu"
	"github.com/flmrun/flm/internal/sampler"
	"github.com/flmrun/flm/internal/weights"
)

// nTiles is the number of compute columns the quantized matmul weight
// reorder interleaves across; fixed at the accelerator's column count.
const nTiles = 8

// CausalLM is the decoder-only family: one growing chat history, one KV
// cache, one forward runner. Generate appends the caller's turns, runs
// the template-formatted prompt through the decode loop, and appends the
// assistant's reply before returning.
type CausalLM struct {
	deps Deps

	mu       sync.Mutex
	archive  *weights.Archive
	runner   *deviceForwardRunner
	cache    *kvcache.Cache
	engine   *generate.Engine
	history  []generate.Message
	defaults sampler.Params

	// layerWeights keeps every layer's quantized attention and MLP
	// matrices resident on the device; the compiled kernel addresses
	// them by the same tile-interleaved layout LoadQuantizedMatmul
	// produced, so nothing in this package reads them back.
	layerWeights []*npu.Buffer
}

func newCausalLM(deps Deps) (*CausalLM, error) {
	return &CausalLM{deps: deps}, nil
}

// LoadModel opens archivePath, validates the model's flm_version, and
// streams its tensors onto the device: the embedding table and LM head
// the forward runner reads directly, plus every layer's quantized
// weights in tile-interleaved order.
func (c *CausalLM) LoadModel(archivePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := c.deps.Config
	if err := cfg.CheckCompatible(); err != nil {
		return err
	}

	archive, err := weights.Open(archivePath)
	if err != nil {
		return err
	}

	embedTable, err := loadNamedTensor(archive, c.deps.Device, "token_embedding.weight", cfg.VocabSize*cfg.HiddenSize*2)
	if err != nil {
		archive.Close()
		return err
	}
	lmHead, err := loadNamedTensor(archive, c.deps.Device, "lm_head.weight", cfg.VocabSize*cfg.HiddenSize*2)
	if err != nil {
		archive.Close()
		return err
	}

	layerWeights, err := loadLayerWeights(archive, c.deps.Device, cfg)
	if err != nil {
		archive.Close()
		return err
	}

	runner, err := newDeviceForwardRunner(c.deps.CtxMgr, c.deps.Device, cfg, embedTable, lmHead)
	if err != nil {
		archive.Close()
		return err
	}

	cache, err := kvcache.New(kvcache.Config{
		Layers:        cfg.NumHiddenLayers,
		Heads:         kvHeadCount(cfg),
		HeadDim:       cfg.HeadDim,
		MaxLen:        maxContextLen(cfg),
		SlidingWindow: cfg.SlidingWindow,
		IsSliding:     cfg.IsSlidingPattern(),
	})
	if err != nil {
		archive.Close()
		return err
	}

	c.archive = archive
	c.runner = runner
	c.cache = cache
	c.layerWeights = layerWeights
	c.engine = &generate.Engine{
		Tokenizer: c.deps.Tokenizer,
		Cache:     cache,
		Sampler:   c.deps.Sampler,
		Runner:    runner,
	}
	return nil
}

// maxContextLen picks a context length large enough to hold a full
// sliding window's worth of history on every layer plus headroom for the
// longest prompts this build expects; models narrow this down further
// via their own config in a fuller deployment, but nothing in
// modelcfg.Config currently carries an explicit max-position field.
func maxContextLen(cfg *modelcfg.Config) int {
	const defaultMaxLen = 8192
	if cfg.SlidingWindow > defaultMaxLen {
		return cfg.SlidingWindow
	}
	return defaultMaxLen
}

func loadNamedTensor(archive *weights.Archive, dev npu.Device, name string, wantBytes int) (*npu.Buffer, error) {
	if _, ok := archive.Tensor(name); !ok {
		return nil, fmt.Errorf("family: weight archive missing tensor %q", name)
	}
	buf, err := allocBuffer(dev, wantBytes)
	if err != nil {
		return nil, err
	}
	if err := archive.Load(name, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// loadLayerWeights streams every layer's quantized attention and MLP
// projections onto the device in tile-interleaved order.
func loadLayerWeights(archive *weights.Archive, dev npu.Device, cfg *modelcfg.Config) ([]*npu.Buffer, error) {
	var bufs []*npu.Buffer
	for l := 0; l < cfg.NumHiddenLayers; l++ {
		names := []struct {
			tensor  string
			columns int
		}{
			{fmt.Sprintf("layers.%d.self_attn.qkv_proj.weight", l), cfg.HiddenSize},
			{fmt.Sprintf("layers.%d.mlp.gate_up_proj.weight", l), cfg.IntermediateSize},
		}
		for _, n := range names {
			rec, ok := archive.Tensor(n.tensor)
			if !ok {
				continue // some architectures fuse or omit individual projections
			}
			buf, err := allocBuffer(dev, int(rec.Offsets[1]-rec.Offsets[0]))
			if err != nil {
				return nil, err
			}
			if err := archive.LoadQuantizedMatmul(n.tensor, buf, n.columns, nTiles); err != nil {
				return nil, err
			}
			bufs = append(bufs, buf)
		}
	}
	return bufs, nil
}

// Insert primes the KV cache with tokens without running the decode
// loop, so a caller can warm a shared system prompt once and reuse it
// across requests via ClearContext/Insert pairs.
func (c *CausalLM) Insert(tokens []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runner == nil {
		return flmerr.New(flmerr.InvalidRequest, "model not loaded")
	}
	for i := 0; i < len(tokens); i += generate.PrefillChunkWidth {
		end := i + generate.PrefillChunkWidth
		if end > len(tokens) {
			end = len(tokens)
		}
		if err := c.runner.Prefill(tokens[i:end], c.cache); err != nil {
			return err
		}
	}
	return nil
}

// Generate appends messages to the running chat history, renders the
// whole history through the model's chat template, and streams the
// decode loop's output while recording the assistant's reply.
func (c *CausalLM) Generate(messages []generate.Message, cfg generate.Config, emit func(generate.Chunk)) (*generate.Meta, error) {
	c.mu.Lock()
	if c.engine == nil {
		c.mu.Unlock()
		return nil, flmerr.New(flmerr.InvalidRequest, "model not loaded")
	}
	c.history = append(c.history, messages...)
	prompt := generate.TemplateFor(c.deps.Config.ModelType)(c.history)
	engine := c.engine
	if cfg.Params == (sampler.Params{}) {
		cfg.Params = c.defaults
	}
	c.mu.Unlock()

	var reply string
	meta, err := engine.Run(prompt, cfg, func(chunk generate.Chunk) {
		reply += chunk.Text
		emit(chunk)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.history = append(c.history, generate.Message{Role: "assistant", Content: reply})
	c.mu.Unlock()

	return meta, nil
}

// ClearContext drops the chat history and resets the KV cache to empty,
// the only way to free a sliding or full-attention layer's ring without
// discarding the loaded model.
func (c *CausalLM) ClearContext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	if c.cache != nil {
		c.cache.ClearContext()
	}
}

// GetHistory returns the accumulated chat turns.
func (c *CausalLM) GetHistory() []generate.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]generate.Message(nil), c.history...)
}

// ConfigureParameter sets one of the family's default sampling
// parameters, applied by Generate whenever a request's own Config.Params
// is left at its zero value.
func (c *CausalLM) ConfigureParameter(name string, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case "temperature":
		c.defaults.Temperature = value
	case "top_p":
		c.defaults.TopP = value
	case "top_k":
		c.defaults.TopK = int(value)
	case "repeat_penalty":
		c.defaults.RepPenalty = value
	case "frequency_penalty":
		c.defaults.FreqPenalty = value
	default:
		return flmerr.New(flmerr.InvalidRequest, fmt.Sprintf("unknown sampling parameter %q", name))
	}
	return nil
}
