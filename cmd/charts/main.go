// Command charts renders observation counts and geographic ranges per
// species into a single PNG.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"wildspan.exe.dev/srv/charts"
	"wildspan.exe.dev/srv/config"
	"wildspan.exe.dev/srv/logging"
	"wildspan.exe.dev/srv/stats"
	"wildspan.exe.dev/srv/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("charts")
	if err != nil {
		return err
	}

	dataDir := flag.String("data", cfg.Data.Dir, "data directory")
	output := flag.String("o", "species_charts.png", "output PNG file")
	flag.Parse()

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	sum, err := stats.Collect(context.Background(), store.New(*dataDir))
	if err != nil {
		return err
	}

	f, err := os.Create(*output)
	if err != nil {
		return err
	}
	if err := charts.RenderSummary(f, sum); err != nil {
		f.Close()
		os.Remove(*output)
		return fmt.Errorf("render charts: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("Charts saved as %s\n", *output)
	fmt.Printf("%d species with observations\n", len(sum.Species))
	fmt.Printf("%d species with geographic range data\n", sum.SpeciesWithRange)
	return nil
}
