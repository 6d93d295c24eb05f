package main

import (
	"flag"
	"fmt"

	"github.com/flmrun/flm/internal/catalog"
)

func pullCommand(args []string) error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	force := fs.Bool("force", false, "re-download even if already installed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: flm pull <model> [--force]")
	}

	cfg, cat, err := loadCatalog()
	if err != nil {
		return err
	}

	resolved, entry, err := cat.Resolve(fs.Arg(0))
	if err != nil {
		return err
	}

	downloader := catalog.NewDownloader(cfg.ModelPath)
	return downloader.Pull(resolved, entry, *force, func(p catalog.Progress) {
		fmt.Printf("[%d/%d] %s (%d bytes)\n", p.FilesDone, p.FilesTotal, p.File, p.BytesWritten)
	})
}
