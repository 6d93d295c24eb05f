package main

import (
	"flag"
	"fmt"

	"github.com/flmrun/flm/internal/catalog"
)

func removeCommand(args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: flm rm <model>")
	}

	cfg, cat, err := loadCatalog()
	if err != nil {
		return err
	}

	resolved, _, err := cat.Resolve(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := catalog.Remove(cfg.ModelPath, resolved); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", resolved)
	return nil
}
