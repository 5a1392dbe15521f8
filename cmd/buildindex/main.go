// Command buildindex rebuilds the observation catalog from the metadata files
// on disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"wildspan.exe.dev/db"
	"wildspan.exe.dev/srv/catalog"
	"wildspan.exe.dev/srv/config"
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
	cfg, err := config.Load("buildindex")
	if err != nil {
		return err
	}

	dataDir := flag.String("data", cfg.Data.Dir, "data directory")
	dbPath := flag.String("db", cfg.DB.Path, "catalog database")
	flag.Parse()

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	wdb, err := db.Open(*dbPath)
	if err != nil {
		return err
	}
	defer wdb.Close()
	if err := db.RunMigrations(wdb); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	n, err := catalog.New(wdb).Rebuild(context.Background(), store.New(*dataDir))
	if err != nil {
		return err
	}
	slog.Info("catalog rebuilt", "observations", n, "db", *dbPath)
	return nil
}
