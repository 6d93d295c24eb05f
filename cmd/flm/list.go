package main

import (
	"flag"
	"fmt"

	"github.com/flmrun/flm/internal/catalog"
)

func listCommand(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	filter := fs.String("filter", "all", "all, installed, or not-installed")
	quiet := fs.Bool("quiet", false, "print only model tags")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := parseFilter(*filter)
	if err != nil {
		return err
	}

	cfg, cat, err := loadCatalog()
	if err != nil {
		return err
	}

	listings := cat.List(cfg.ModelPath, f)
	if *quiet {
		for _, l := range listings {
			fmt.Println(l.Tag.String())
		}
		return nil
	}

	fmt.Printf("%-24s %-12s %-8s %s\n", "TAG", "SIZE", "QUANT", "INSTALLED")
	for _, l := range listings {
		fmt.Printf("%-24s %-12s %-8s %v\n", l.Tag.String(), l.Entry.Details.ParameterSize, l.Entry.Details.QuantizationLevel, l.Installed)
	}
	return nil
}

func parseFilter(s string) (catalog.Filter, error) {
	switch s {
	case "", "all":
		return catalog.FilterAll, nil
	case "installed":
		return catalog.FilterInstalled, nil
	case "not-installed":
		return catalog.FilterNotInstalled, nil
	default:
		return 0, fmt.Errorf("unknown --filter %q (want all, installed, or not-installed)", s)
	}
}
