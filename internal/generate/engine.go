// Package generate implements the prefill/decode loop: tokenize, run
// forward passes through the accelerator in prefill chunks, decode one
// token at a time through the sampler, and stream UTF-8-safe,
// channel-filtered text back to the caller.
package generate

import (
	"github.com/flmrun/flm/internal/kvcache"
	"github.com/flmrun/flm/internal/sampler"
	"github.com/flmrun/flm/internal/tokenizer"
)

// PrefillChunkWidth is the token-count width the compiled prefill
// command sequence's shape is built for; the final chunk of a prompt
// may be shorter.
const PrefillChunkWidth = 128

// ForwardRunner executes one prefill chunk or one decode step through
// the accelerator. Its implementation issues the per-layer matmul/
// attention/MLP device commands through the npu assembler and awaits
// their completion; the commands' own semantics are a kernel-binary
// concern this package does not specify.
type ForwardRunner interface {
	// Prefill runs chunk (up to PrefillChunkWidth tokens) through every
	// layer, writing K/V into cache at the positions starting at
	// cache.CurLen().
	Prefill(chunk []int, cache *kvcache.Cache) error
	// Decode runs one token through every layer and the LM head,
	// returning a vocab-sized logits vector.
	Decode(token int, cache *kvcache.Cache) ([]float64, error)
}

// Canceller reports whether a request's cancellation token has fired.
// Decoupled from any particular session/request type so this package
// has no dependency on the HTTP layer.
type Canceller interface {
	Cancelled() bool
}

type neverCancelled struct{}

func (neverCancelled) Cancelled() bool { return false }

// Config bundles one request's generation parameters.
type Config struct {
	MaxTokens  int
	Params     sampler.Params
	StopTokens map[int]bool
	Cancel     Canceller // nil means never cancelled
}

// Chunk is one piece of streamed output text, tagged with which
// chat-template channel it belongs to.
type Chunk struct {
	Text string
	Part ChannelPart
}

// Engine drives one request's prefill and decode loop against a model's
// forward runner, tokenizer, KV cache, and sampler.
type Engine struct {
	Tokenizer tokenizer.Tokenizer
	Cache     *kvcache.Cache
	Sampler   *sampler.Sampler
	Runner    ForwardRunner
}

// Run tokenizes prompt, prefills it in PrefillChunkWidth chunks, then
// decodes until a stop token, the length limit, max context, or
// cancellation, invoking emit for every piece of channel-classified,
// UTF-8-safe text produced. It returns the request's Meta.
func (e *Engine) Run(prompt string, cfg Config, emit func(Chunk)) (*Meta, error) {
	cancel := cfg.Cancel
	if cancel == nil {
		cancel = neverCancelled{}
	}

	total := phaseTimer{}
	total.Start()
	defer total.Stop()

	promptTokens := e.Tokenizer.Encode(prompt)
	meta := &Meta{PromptTokens: len(promptTokens)}

	prefill := phaseTimer{}
	prefill.Start()
	if cancel.Cancelled() {
		meta.StopReason = StopCancelled
		total.Stop()
		meta.TotalNs = total.Nanoseconds()
		return meta, nil
	}
	for i := 0; i < len(promptTokens); i += PrefillChunkWidth {
		end := i + PrefillChunkWidth
		if end > len(promptTokens) {
			end = len(promptTokens)
		}
		if err := e.Runner.Prefill(promptTokens[i:end], e.Cache); err != nil {
			return nil, err
		}
	}
	prefill.Stop()
	meta.PrefillNs = prefill.Nanoseconds()

	history := make(map[int]int, len(promptTokens))
	for _, t := range promptTokens {
		history[t]++
	}

	channel := &ChannelFilter{}
	utf8buf := &UTF8Buffer{}

	decode := phaseTimer{}
	decode.Start()

	stopReason := StopEndOfSequence
	nextToken := promptTokens[len(promptTokens)-1]
	generated := 0

	for {
		if cancel.Cancelled() {
			stopReason = StopCancelled
			break
		}
		if cfg.MaxTokens > 0 && generated >= cfg.MaxTokens {
			stopReason = StopLengthLimit
			break
		}
		if e.Cache.CurLen() >= e.Cache.MaxLen() {
			stopReason = StopMaxContextReached
			break
		}

		logits, err := e.Runner.Decode(nextToken, e.Cache)
		if err != nil {
			return nil, err
		}
		sampled := e.Sampler.Sample(logits, history, cfg.Params)

		if cfg.StopTokens[sampled] {
			stopReason = StopEndOfSequence
			break
		}

		history[sampled]++
		generated++
		nextToken = sampled

		piece := e.Tokenizer.DecodeToken(sampled)
		ready := utf8buf.Push([]byte(piece))
		if len(ready) > 0 {
			part := channel.Classify(string(ready))
			if part != PartChatTemplate {
				emit(Chunk{Text: string(ready), Part: part})
			}
		}

		if cancel.Cancelled() {
			stopReason = StopCancelled
			break
		}
	}

	if rest := utf8buf.Flush(); len(rest) > 0 {
		part := channel.Classify(string(rest))
		if part != PartChatTemplate {
			emit(Chunk{Text: string(rest), Part: part})
		}
	}

	decode.Stop()
	total.Stop()

	meta.GeneratedTokens = generated
	meta.DecodeNs = decode.Nanoseconds()
	meta.TotalNs = total.Nanoseconds()
	meta.StopReason = stopReason
	return meta, nil
}
