package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kratadata/quartier-atlas/internal/config"
	"github.com/kratadata/quartier-atlas/internal/districts"
	"github.com/kratadata/quartier-atlas/internal/logging"
)

func main() {
	lat := flag.Float64("lat", 0, "latitude in degrees")
	lon := flag.Float64("lon", 0, "longitude in degrees")
	list := flag.Bool("list", false, "print every district in the dataset")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log.Level)

	catalog := districts.NewCatalog(districts.NewHTTPLoader(cfg.Districts.DatasetURL, cfg.Districts.Keys()), logger)
	resolver := districts.NewResolver(catalog, cfg.Districts.OutsideName, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := resolver.EnsureLoaded(ctx); err != nil {
		log.Fatalf("load district dataset: %v", err)
	}

	if *list {
		ds, _ := catalog.Districts()
		fmt.Printf("%d districts in %s\n\n", len(ds), cfg.Districts.DatasetURL)
		for _, d := range ds {
			fmt.Printf("  %2d  %-24s %s (%d parts)\n", d.ID, d.Name, d.DisplayLabel(), len(d.Boundary))
		}
		return
	}

	if *lat == 0 && *lon == 0 {
		fmt.Fprintln(os.Stderr, "usage: check-district -lat 47.5596 -lon 7.5886")
		os.Exit(2)
	}

	d := resolver.Resolve(*lat, *lon)
	if d.IsOutside() {
		fmt.Printf("(%f, %f) is outside every district: %d %s\n", *lat, *lon, d.ID, d.Name)
		return
	}
	fmt.Printf("(%f, %f) is in district %d: %s (%s)\n", *lat, *lon, d.ID, d.Name, d.DisplayLabel())
}
