package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/encounters/internal/config"
	"github.com/kozaktomas/encounters/internal/legacy"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import data from external sources",
}

var importLegacyCmd = &cobra.Command{
	Use:   "legacy",
	Short: "Import encounters from the old single-photo database",
	Long: `Import from the legacy MariaDB schema where every encounter was a
single embedded photo. People are matched to existing records by name;
re-running skips everything already imported.`,
	RunE: runImportLegacy,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importLegacyCmd)
}

func runImportLegacy(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()

	if cfg.Legacy.DatabaseURL == "" {
		return errors.New("LEGACY_DATABASE_URL environment variable is required")
	}

	pool, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	fmt.Printf("Connecting to legacy MariaDB...\n")
	legacyPool, err := legacy.NewPool(cfg.Legacy.DatabaseURL)
	if err != nil {
		return err
	}
	defer legacyPool.Close()

	importer := legacy.NewImporter(legacyPool, store)
	result, err := importer.Run(ctx)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported %d encounter(s), %d face(s), created %d new people\n",
		result.Encounters, result.Faces, result.People)
	return nil
}
