// Command fetchobs downloads research-grade observation photos and metadata
// from iNaturalist into the data directory, one folder per species.
//
// Usage: go run ./cmd/fetchobs -taxon Aves -pages 3
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"wildspan.exe.dev/db"
	"wildspan.exe.dev/srv/catalog"
	"wildspan.exe.dev/srv/config"
	"wildspan.exe.dev/srv/fetch"
	"wildspan.exe.dev/srv/inat"
	"wildspan.exe.dev/srv/logging"
	"wildspan.exe.dev/srv/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("fetchobs")
	if err != nil {
		return err
	}

	taxon := flag.String("taxon", cfg.INat.TaxonName, "scientific name of the taxon to fetch (e.g. Aves, Plantae)")
	perPage := flag.Int("per-page", cfg.INat.PerPage, "observations per page")
	pages := flag.Int("pages", cfg.INat.MaxPages, "maximum number of pages")
	dataDir := flag.String("data", cfg.Data.Dir, "output directory")
	dbPath := flag.String("db", cfg.DB.Path, "catalog database; empty disables it")
	flag.Parse()

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if *perPage < 1 || *perPage > config.MaxPerPage {
		return fmt.Errorf("-per-page must be 1-%d", config.MaxPerPage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := inat.NewClient(cfg.INat.BaseURL,
		inat.WithTimeout(cfg.INat.Timeout()),
		inat.WithRateLimit(cfg.INat.RequestsPerSecond),
	)
	f := &fetch.Fetcher{Source: client, Store: store.New(*dataDir)}

	if *dbPath != "" {
		wdb, err := db.Open(*dbPath)
		if err != nil {
			return err
		}
		defer wdb.Close()
		if err := db.RunMigrations(wdb); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		f.Recorder = catalog.New(wdb)
	}

	slog.Info("fetching observations", "taxon", *taxon, "per_page", *perPage, "pages", *pages, "data_dir", *dataDir)
	rep, err := f.Run(ctx, fetch.Options{
		TaxonName:    *taxon,
		QualityGrade: cfg.INat.QualityGrade,
		PerPage:      *perPage,
		MaxPages:     *pages,
	})

	fmt.Printf("\nDownloaded %d images into %s/\n", rep.Saved, *dataDir)
	fmt.Printf("  pages:               %d\n", rep.Pages)
	fmt.Printf("  observations seen:   %d\n", rep.Seen)
	fmt.Printf("  already stored:      %d\n", rep.AlreadyStored)
	fmt.Printf("  without photos:      %d\n", rep.WithoutPhotos)
	fmt.Printf("  without coordinates: %d\n", rep.WithoutCoordinates)
	fmt.Printf("  failed:              %d\n", rep.Failed)
	if rep.Malformed > 0 {
		fmt.Printf("  malformed:           %d\n", rep.Malformed)
	}
	return err
}
