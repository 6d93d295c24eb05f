package bench

import (
	"math"
	"strings"

	"github.com/flmrun/flm/internal/family"
	"github.com/flmrun/flm/internal/generate"
)

// decodeTokenBudget caps how many tokens each stage decodes; the
// measurement only needs a short, steady-state run, not a full reply.
const decodeTokenBudget = 32

// StageResult is one context-length stage's aggregated statistics
// across every iteration run at that length.
type StageResult struct {
	ContextLengthK int
	TTFT           Stats
	PrefillSpeed   Stats
	DecodingSpeed  Stats
}

// Progress is reported once per iteration so a caller can print
// per-iteration lines the way the CLI does while a sweep runs.
type Progress struct {
	ContextLengthK    int
	Iteration         int
	Iterations        int
	TTFTSeconds       float64
	PrefillToksPerSec float64
	DecodeToksPerSec  float64
}

// stageCount mirrors the original sweep's doubling schedule: round
// maxContextTokens up to a power of two, then count how many times
// 1024 doubles fit into it (stage 0 is 1k, stage 1 is 2k, and so on).
func stageCount(maxContextTokens int) int {
	if maxContextTokens < 1024 {
		maxContextTokens = 1024
	}
	maxLen := float64(maxContextTokens)
	log2 := math.Log2(maxLen)
	if log2 != math.Floor(log2) {
		maxLen = float64(int64(1) << (int64(math.Floor(log2)) + 1))
	}
	stages := int(math.Floor(math.Log2(maxLen/1024))) + 1
	if stages < 1 {
		stages = 1
	}
	return stages
}

// Run sweeps context lengths from the largest stage down to 1k,
// repeating each stage iterations times, and returns one StageResult
// per stage ordered smallest-to-largest. Running largest-first means a
// memory failure shows up before smaller, cheaper stages are wasted.
func Run(fam family.Family, prompt string, maxContextTokens, iterations int, onProgress func(Progress)) ([]StageResult, error) {
	stages := stageCount(maxContextTokens)

	ttft := make([][]float64, stages)
	prefillSpeed := make([][]float64, stages)
	decodeSpeed := make([][]float64, stages)

	for it := 0; it < iterations; it++ {
		for stage := stages - 1; stage >= 0; stage-- {
			repeat := 1 << stage
			long := strings.Repeat(prompt, repeat)

			fam.ClearContext()
			cfg := generate.Config{MaxTokens: decodeTokenBudget}
			meta, err := fam.Generate([]generate.Message{{Role: "user", Content: long}}, cfg, func(generate.Chunk) {})
			if err != nil {
				return nil, err
			}

			ttftSeconds := float64(meta.PrefillNs) / 1e9
			prefillToksPerSec := 0.0
			if meta.PrefillNs > 0 {
				prefillToksPerSec = float64(meta.PromptTokens) / (float64(meta.PrefillNs) / 1e9)
			}
			decodeToksPerSec := 0.0
			if meta.DecodeNs > 0 {
				decodeToksPerSec = float64(meta.GeneratedTokens) / (float64(meta.DecodeNs) / 1e9)
			}

			contextLengthK := 1 << stage
			ttft[stage] = append(ttft[stage], ttftSeconds)
			prefillSpeed[stage] = append(prefillSpeed[stage], prefillToksPerSec)
			decodeSpeed[stage] = append(decodeSpeed[stage], decodeToksPerSec)

			if onProgress != nil {
				onProgress(Progress{
					ContextLengthK:    contextLengthK,
					Iteration:         it + 1,
					Iterations:        iterations,
					TTFTSeconds:       ttftSeconds,
					PrefillToksPerSec: prefillToksPerSec,
					DecodeToksPerSec:  decodeToksPerSec,
				})
			}
		}
	}
	fam.ClearContext()

	results := make([]StageResult, stages)
	for stage := 0; stage < stages; stage++ {
		results[stage] = StageResult{
			ContextLengthK: 1 << stage,
			TTFT:           statsFrom(ttft[stage]),
			PrefillSpeed:   statsFrom(prefillSpeed[stage]),
			DecodingSpeed:  statsFrom(decodeSpeed[stage]),
		}
	}
	return results, nil
}
