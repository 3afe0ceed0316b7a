package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/encounters/internal/config"
	"github.com/kozaktomas/encounters/internal/geocode"
	"github.com/kozaktomas/encounters/internal/graph/postgres"
	"github.com/kozaktomas/encounters/internal/library"
	"github.com/kozaktomas/encounters/internal/scan"
	"github.com/kozaktomas/encounters/internal/tiling"
	"github.com/kozaktomas/encounters/internal/vision"
)

// openStore connects to PostgreSQL and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config) (*postgres.Pool, *postgres.Store, error) {
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return pool, postgres.NewStore(pool), nil
}

// visionClient builds the inference client from config.
func visionClient(cfg *config.Config) *vision.Client {
	return vision.NewClient(cfg.Vision.URL, cfg.Vision.Dim)
}

// tiledDetector builds the tiling detector with the configured policy.
func tiledDetector(cfg *config.Config, client *vision.Client) *tiling.Detector {
	return tiling.NewDetector(client, tiling.Options{
		NMSThreshold:      cfg.Policy.Detect.NMSThreshold,
		TransferThreshold: cfg.Policy.Detect.TransferThreshold,
		MinTilePixels:     cfg.Policy.Detect.MinTilePixels,
	})
}

// photoLibrary authenticates against the configured photo library.
func photoLibrary(ctx context.Context, cfg *config.Config) (library.PhotoLibrary, error) {
	if cfg.Library.URL == "" {
		return nil, errors.New("LIBRARY_URL environment variable is required")
	}
	lib, err := library.NewPhotoPrism(ctx, cfg.Library.URL, cfg.Library.Username, cfg.Library.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to photo library: %w", err)
	}
	return lib, nil
}

// resolver returns the reverse geocoder, or nil when disabled.
func resolver(cfg *config.Config) scan.Resolver {
	if cfg.Geocode.URL == "" {
		return nil
	}
	return geocode.NewClient(cfg.Geocode.URL)
}
