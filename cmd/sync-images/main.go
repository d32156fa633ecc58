package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kratadata/quartier-atlas/internal/config"
	"github.com/kratadata/quartier-atlas/internal/districts"
	"github.com/kratadata/quartier-atlas/internal/logging"
	"github.com/kratadata/quartier-atlas/internal/placements"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dir := flag.String("dir", cfg.Storage.LocalDir, "directory holding generated images")
	prefix := flag.String("prefix", cfg.Storage.LocalPrefix, "URL prefix the directory is served under")
	caption := flag.String("caption", "object", "caption for new entries")
	watch := flag.Bool("watch", false, "keep running and sync as files appear")
	flag.Parse()

	logger := logging.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := placements.Open(ctx, placements.Options{
		Backend:    cfg.Placements.Backend,
		File:       cfg.Placements.File,
		SQLitePath: cfg.Placements.SQLitePath,
		DSN:        cfg.Placements.DSN,
		Verbose:    cfg.Log.SQL,
	})
	if err != nil {
		log.Fatalf("open placements: %v", err)
	}
	defer store.Close()

	opts := placements.SyncOptions{
		Dir:        *dir,
		URLPrefix:  *prefix,
		Caption:    *caption,
		QuartierID: districts.OutsideID,
		StartZ:     placements.SyncStartZ,
	}

	if *watch {
		logger.Info("watching for new images", "dir", *dir)
		if err := placements.Watch(ctx, store, opts, logger); err != nil {
			log.Fatalf("watch: %v", err)
		}
		return
	}

	added, err := placements.Sync(ctx, store, opts)
	if err != nil {
		log.Fatalf("sync: %v", err)
	}
	for _, u := range added {
		fmt.Println("  +", u)
	}
	fmt.Printf("Added %d images from %s\n", len(added), *dir)
}
