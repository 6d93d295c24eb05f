// Package sampler implements the composable next-token sampler the
// decode loop calls once per step: repetition penalty, frequency
// penalty, temperature, top-k, top-p, then a weighted draw over
// whatever survives, with ties broken by token id.
package sampler

import (
	"math"
	"math/rand"
	"sort"
)

// Params configures one sampling call. Zero-value Params samples
// greedily (Temperature <= 0 short-circuits to arg-max, RepPenalty and
// FreqPenalty of zero are no-ops, TopK <= 0 and TopP <= 0 or >= 1 skip
// their stages).
type Params struct {
	RepPenalty  float64
	FreqPenalty float64
	Temperature float64
	TopK        int
	TopP        float64
}

// Sampler applies Params to a logits vector given the token history seen
// so far in the current context.
type Sampler struct {
	rng *rand.Rand
}

// New builds a Sampler drawing from rng. Pass rand.New(rand.NewSource(seed))
// for deterministic tests; production callers pass a process-wide source.
func New(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

// Sample picks one token id from logits (indexed by token id), given the
// counts of each token already present in the context.
func (s *Sampler) Sample(logits []float64, tokenCounts map[int]int, p Params) int {
	adjusted := applyRepetitionPenalty(logits, tokenCounts, p.RepPenalty)
	adjusted = applyFrequencyPenalty(adjusted, tokenCounts, p.FreqPenalty)

	if p.Temperature <= 0 {
		return argmax(adjusted)
	}
	for i := range adjusted {
		adjusted[i] /= p.Temperature
	}

	candidates := topK(adjusted, p.TopK)
	candidates = topP(candidates, p.TopP)
	return s.weightedSample(candidates)
}

// applyRepetitionPenalty divides logits of tokens already in the context
// by repPenalty if positive, multiplies if negative; a no-op at
// repPenalty <= 0.
func applyRepetitionPenalty(logits []float64, tokenCounts map[int]int, repPenalty float64) []float64 {
	out := append([]float64(nil), logits...)
	if repPenalty <= 0 {
		return out
	}
	for id := range tokenCounts {
		if id < 0 || id >= len(out) {
			continue
		}
		if out[id] > 0 {
			out[id] /= repPenalty
		} else {
			out[id] *= repPenalty
		}
	}
	return out
}

// applyFrequencyPenalty subtracts freqPenalty * count(token) from each
// logit.
func applyFrequencyPenalty(logits []float64, tokenCounts map[int]int, freqPenalty float64) []float64 {
	if freqPenalty == 0 {
		return logits
	}
	for id, count := range tokenCounts {
		if id < 0 || id >= len(logits) {
			continue
		}
		logits[id] -= freqPenalty * float64(count)
	}
	return logits
}

func argmax(logits []float64) int {
	best, bestVal := 0, math.Inf(-1)
	for i, v := range logits {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	return best
}

// candidate pairs a token id with its adjusted logit, kept sorted by
// logit descending with id as the tie-break.
type candidate struct {
	id    int
	logit float64
}

func topK(logits []float64, k int) []candidate {
	all := make([]candidate, len(logits))
	for i, v := range logits {
		all[i] = candidate{id: i, logit: v}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].logit != all[j].logit {
			return all[i].logit > all[j].logit
		}
		return all[i].id < all[j].id
	})
	if k > 0 && k < len(all) {
		all = all[:k]
	}
	return all
}

// topP keeps the smallest prefix (in descending-logit order, which
// candidates already are) whose softmax mass reaches p. p <= 0 or >= 1
// is a no-op.
func topP(candidates []candidate, p float64) []candidate {
	if p <= 0 || p >= 1 || len(candidates) == 0 {
		return candidates
	}
	probs := softmax(candidates)
	cum := 0.0
	cut := len(candidates)
	for i, pr := range probs {
		cum += pr
		if cum >= p {
			cut = i + 1
			break
		}
	}
	return candidates[:cut]
}

func softmax(candidates []candidate) []float64 {
	maxLogit := math.Inf(-1)
	for _, c := range candidates {
		if c.logit > maxLogit {
			maxLogit = c.logit
		}
	}
	exps := make([]float64, len(candidates))
	sum := 0.0
	for i, c := range candidates {
		e := math.Exp(c.logit - maxLogit)
		exps[i] = e
		sum += e
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

// weightedSample draws from the renormalized softmax distribution over
// candidates using a single uniform draw.
func (s *Sampler) weightedSample(candidates []candidate) int {
	if len(candidates) == 0 {
		return 0
	}
	if len(candidates) == 1 {
		return candidates[0].id
	}
	probs := softmax(candidates)
	draw := s.rng.Float64()
	cum := 0.0
	for i, pr := range probs {
		cum += pr
		if draw <= cum {
			return candidates[i].id
		}
	}
	return candidates[len(candidates)-1].id
}
