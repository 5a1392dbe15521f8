// Command dataset loads the data directory as an image-classification
// dataset and prints its classes and batch shapes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"wildspan.exe.dev/srv/config"
	"wildspan.exe.dev/srv/dataset"
	"wildspan.exe.dev/srv/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("dataset")
	if err != nil {
		return err
	}

	dataDir := flag.String("data", cfg.Data.Dir, "data directory")
	size := flag.Int("size", dataset.DefaultSize, "resize edge in pixels")
	batchSize := flag.Int("batch", 32, "batch size")
	shuffle := flag.Bool("shuffle", true, "shuffle samples")
	seed := flag.Uint64("seed", 1, "shuffle seed")
	epoch := flag.Int("epoch", 0, "epoch whose shuffled order to load")
	maxBatches := flag.Int("max-batches", 1, "batches to materialise (0 for all)")
	flag.Parse()

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ds, err := dataset.Open(*dataDir)
	if err != nil {
		return err
	}
	fmt.Println("Classes:", ds.Classes)
	fmt.Printf("Samples: %d\n", ds.Len())

	loader := &dataset.Loader{
		Dataset:   ds,
		Transform: dataset.Transform{Width: *size, Height: *size},
		BatchSize: *batchSize,
		Shuffle:   *shuffle,
		Seed:      *seed,
	}
	batches := loader.Batches(*epoch)
	fmt.Printf("Batches: %d\n", len(batches))

	for i, idx := range batches {
		if *maxBatches > 0 && i >= *maxBatches {
			break
		}
		b, err := loader.Load(context.Background(), idx)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		t := b.Images[0]
		fmt.Printf("batch %d: images [%d, %d, %d, %d] labels %v\n", i, len(b.Images), t.C, t.H, t.W, b.Labels)
	}
	return nil
}
