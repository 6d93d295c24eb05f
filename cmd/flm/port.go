package main

import (
	"flag"
	"fmt"

	"github.com/flmrun/flm/internal/config"
)

func portCommand(args []string) error {
	fs := flag.NewFlagSet("port", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	port, err := config.ReadPortFile()
	if err != nil {
		return fmt.Errorf("no running \"flm serve\" found: %w", err)
	}
	fmt.Println(port)
	return nil
}
