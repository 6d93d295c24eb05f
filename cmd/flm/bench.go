package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/flmrun/flm/internal/bench"
	"github.com/flmrun/flm/internal/httpapi"
)

const defaultBenchPrompt = "The quick brown fox jumps over the lazy dog. "

func benchCommand(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	promptFile := fs.String("prompt", "", "file containing the prompt text to repeat for each context-length stage")
	maxContext := fs.Int("max-context", 8192, "largest context length, in tokens, the sweep doubles up to")
	iterations := fs.Int("iterations", 3, "repetitions per stage")
	outDir := fs.String("out", ".", "directory the results CSV is written to")
	preemption := fs.Bool("preemption", false, "enable hardware-context preemption")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: flm bench <model> [--prompt file] [--max-context n] [--iterations n]")
	}
	tag := fs.Arg(0)

	prompt := defaultBenchPrompt
	if *promptFile != "" {
		data, err := os.ReadFile(*promptFile)
		if err != nil {
			return fmt.Errorf("read prompt file: %w", err)
		}
		prompt = string(data)
	}

	cfg, cat, err := loadCatalog()
	if err != nil {
		return err
	}

	dev, ctxMgr, cleanup, err := openAccelerator(*preemption, "balanced")
	if err != nil {
		return err
	}
	defer cleanup()

	resolved, _, _, fam, err := httpapi.LoadFamily(cat, cfg.ModelPath, tag, dev, ctxMgr)
	if err != nil {
		return fmt.Errorf("load model %s: %w", tag, err)
	}

	results, err := bench.Run(fam, prompt, *maxContext, *iterations, func(p bench.Progress) {
		fmt.Printf("stage %dk iteration %d/%d: ttft=%.3fs prefill=%.1f tok/s decode=%.1f tok/s\n",
			p.ContextLengthK, p.Iteration, p.Iterations, p.TTFTSeconds, p.PrefillToksPerSec, p.DecodeToksPerSec)
	})
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}

	path, err := bench.WriteCSV(results, resolved.String(), *outDir, time.Now())
	if err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
