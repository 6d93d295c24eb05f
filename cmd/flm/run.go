package main

import (
	"flag"
	"fmt"

	"github.com/flmrun/flm/internal/cliui"
	"github.com/flmrun/flm/internal/httpapi"
)

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	preemption := fs.Bool("preemption", false, "enable hardware-context preemption")
	pmode := fs.String("pmode", "balanced", "power mode: balanced, performance, low-power")
	_ = fs.Int("ctx-len", 0, "override the model's max context length (unused: sized from config.json)")
	_ = fs.Bool("asr", false, "load the model's audio transcription head if present")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: flm run <model> [--preemption] [--pmode mode]")
	}
	tag := fs.Arg(0)

	cfg, cat, err := loadCatalog()
	if err != nil {
		return err
	}

	dev, ctxMgr, cleanup, err := openAccelerator(*preemption, *pmode)
	if err != nil {
		return err
	}
	defer cleanup()

	resolved, _, _, fam, err := httpapi.LoadFamily(cat, cfg.ModelPath, tag, dev, ctxMgr)
	if err != nil {
		return fmt.Errorf("load model %s: %w", tag, err)
	}

	return cliui.Run(fam, resolved.String(), cfg.ModelPath)
}
