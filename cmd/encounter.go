package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/encounters/internal/config"
	"github.com/kozaktomas/encounters/internal/reconcile"
)

var encounterCmd = &cobra.Command{
	Use:   "encounter",
	Short: "Manage encounters",
}

var encounterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List encounters, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ctx := context.Background()

		pool, store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		encounters, err := store.ListEncounters(ctx)
		if err != nil {
			return fmt.Errorf("listing encounters: %w", err)
		}

		for _, e := range encounters {
			line := fmt.Sprintf("%s  %s", e.ID, e.Date.Format("2006-01-02"))
			if e.Occasion != "" {
				line += "  " + e.Occasion
			}
			if e.Location != "" {
				line += "  @ " + e.Location
			}
			fmt.Println(line)
			fmt.Printf("    %d photo(s), %d people\n", len(e.Photos), len(e.PersonIDs))
		}
		fmt.Printf("\n%d encounters\n", len(encounters))
		return nil
	},
}

var encounterMergeCmd = &cobra.Command{
	Use:   "merge <primary-id> <secondary-id>...",
	Short: "Merge encounters into one",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ctx := context.Background()

		primaryID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid primary id: %w", err)
		}
		secondaryIDs := make([]uuid.UUID, 0, len(args)-1)
		for _, raw := range args[1:] {
			id, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("invalid secondary id %q: %w", raw, err)
			}
			secondaryIDs = append(secondaryIDs, id)
		}

		pool, store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		rec := reconcile.NewService(store)
		if err := rec.MergeEncounters(ctx, primaryID, secondaryIDs, mustGetBool(cmd, "combine-notes")); err != nil {
			return fmt.Errorf("merging encounters: %w", err)
		}
		fmt.Printf("Merged %d encounter(s)\n", len(secondaryIDs))
		return nil
	},
}

var encounterDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an encounter",
	Long: `Delete an encounter with its photos and boxes. Face samples learned
from it keep their identity value; only their provenance is cleared.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ctx := context.Background()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}

		pool, store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		rec := reconcile.NewService(store)
		if err := rec.DeleteEncounter(ctx, id); err != nil {
			return fmt.Errorf("deleting encounter: %w", err)
		}
		fmt.Println("Deleted")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(encounterCmd)
	encounterCmd.AddCommand(encounterListCmd)
	encounterCmd.AddCommand(encounterMergeCmd)
	encounterCmd.AddCommand(encounterDeleteCmd)

	encounterMergeCmd.Flags().Bool("combine-notes", false, "Append secondary notes to the primary")
}
