package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"coachbook/internal/config"
	"coachbook/internal/database"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		catalogPath = flag.String("catalog", "configs/catalog.yaml", "path to catalog.yaml")
		dbPath      = flag.String("db", "./data/coachbook.db", "path to sqlite db")
	)
	flag.Parse()

	catalog, err := config.LoadCatalog(*catalogPath)
	if err != nil {
		return err
	}
	if len(catalog.Providers) == 0 && len(catalog.Offerings) == 0 && len(catalog.Accounts) == 0 {
		return fmt.Errorf("catalog %s is empty", *catalogPath)
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bundles := 0
	for _, o := range catalog.Offerings {
		bundles += len(o.Bundles)
	}

	if err := db.SeedCatalog(ctx, catalog.Providers, catalog.Offerings, catalog.Accounts); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	fmt.Printf("Catalog synced: providers=%d offerings=%d bundles=%d accounts=%d\n",
		len(catalog.Providers), len(catalog.Offerings), bundles, len(catalog.Accounts))
	return nil
}
