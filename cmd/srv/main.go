package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"wildspan.exe.dev/srv"
	"wildspan.exe.dev/srv/cache"
	"wildspan.exe.dev/srv/config"
	"wildspan.exe.dev/srv/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("srv")
	if err != nil {
		return err
	}

	flagListenAddr := flag.String("listen", cfg.Server.Listen, "address to listen on")
	flagDataDir := flag.String("data", cfg.Data.Dir, "path to observation data directory")
	flagDBPath := flag.String("db", cfg.DB.Path, "path to sqlite database")
	flag.Parse()

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	var spanCache *cache.SpanCache
	if cfg.Valkey.Addr != "" {
		vk, err := cache.NewValkey(cfg.Valkey.Addr)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err = vk.Ping(ctx)
			cancel()
			if err != nil {
				vk.Close()
			}
		}
		if err != nil {
			slog.Warn("valkey unavailable, span cache disabled", "addr", cfg.Valkey.Addr, "error", err)
		} else {
			defer vk.Close()
			spanCache = cache.NewSpanCache(vk, time.Duration(cfg.Cache.SpanTTLSec)*time.Second)
			slog.Info("span cache enabled", "addr", cfg.Valkey.Addr)
		}
	}

	server, err := srv.New(srv.Config{
		DBPath:    *flagDBPath,
		DataDir:   *flagDataDir,
		Hostname:  hostname,
		SpanCache: spanCache,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer server.Close()

	return server.Serve(*flagListenAddr)
}
