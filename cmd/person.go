package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/encounters/internal/config"
	"github.com/kozaktomas/encounters/internal/reconcile"
)

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Manage people in the identity graph",
}

var personListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known people",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ctx := context.Background()

		pool, store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		people, err := store.ListPeople(ctx)
		if err != nil {
			return fmt.Errorf("listing people: %w", err)
		}

		for _, p := range people {
			line := fmt.Sprintf("%s  %s", p.ID, p.Name)
			if p.Relationship != "" {
				line += fmt.Sprintf(" (%s)", p.Relationship)
			}
			if p.Favorite {
				line += " *"
			}
			fmt.Println(line)
			fmt.Printf("    last seen %s\n", p.LastSeenAt.Format("2006-01-02"))
		}
		fmt.Printf("\n%d people\n", len(people))
		return nil
	},
}

var personMergeCmd = &cobra.Command{
	Use:   "merge <primary-id> <secondary-id>...",
	Short: "Merge duplicate people into one",
	Long: `Merge one or more duplicate person records into the primary. The
primary keeps its profile; embeddings, labels, and encounter membership
of the secondaries move over, and the secondaries are deleted.`,
	Args: cobra.MinimumNArgs(2),
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
		if err := rec.MergePeople(ctx, primaryID, secondaryIDs, mustGetBool(cmd, "combine-notes")); err != nil {
			return fmt.Errorf("merging people: %w", err)
		}

		primary, err := store.GetPerson(ctx, primaryID)
		if err != nil {
			return err
		}
		fmt.Printf("Merged %d record(s) into %s\n", len(secondaryIDs), primary.Name)
		return nil
	},
}

var personRenameCmd = &cobra.Command{
	Use:   "rename <id> <new-name>",
	Short: "Rename a person everywhere",
	Args:  cobra.ExactArgs(2),
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
		if err := rec.RenamePerson(ctx, id, args[1]); err != nil {
			return fmt.Errorf("renaming person: %w", err)
		}
		fmt.Printf("Renamed to %s\n", args[1])
		return nil
	},
}

var personDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a person and their face samples",
	Long: `Delete a person. Their embeddings are removed and every face box
labeled with them survives unlabeled; encounters are kept.`,
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
		if err := rec.DeletePerson(ctx, id); err != nil {
			return fmt.Errorf("deleting person: %w", err)
		}
		fmt.Println("Deleted")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(personCmd)
	personCmd.AddCommand(personListCmd)
	personCmd.AddCommand(personMergeCmd)
	personCmd.AddCommand(personRenameCmd)
	personCmd.AddCommand(personDeleteCmd)

	personMergeCmd.Flags().Bool("combine-notes", false, "Append secondary notes to the primary")
}
