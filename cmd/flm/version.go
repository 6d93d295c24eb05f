package main

import (
	"flag"
	"fmt"

	"github.com/flmrun/flm/internal/catalog"
)

func versionCommand(args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Println(catalog.RuntimeVersion)
	return nil
}
