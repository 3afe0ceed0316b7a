package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/encounters/internal/config"
	"github.com/kozaktomas/encounters/internal/library"
	"github.com/kozaktomas/encounters/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the photo library for new encounters",
	Long: `Scan a window of the photo library: detect faces, recognize known
people, and group photos into suggested encounters by time and place.
Suggestions are printed for review; use --save to commit them all.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("preset", "week", "Scan window: today, week, month, year, all")
	scanCmd.Flags().String("from", "", "Scan window start date (YYYY-MM-DD), overrides --preset")
	scanCmd.Flags().String("to", "", "Scan window end date (YYYY-MM-DD), inclusive")
	scanCmd.Flags().Int("limit", 0, "Maximum number of photos to process (0 = no limit)")
	scanCmd.Flags().Int("concurrency", 4, "Number of photos analyzed in parallel")
	scanCmd.Flags().Bool("save", false, "Commit every suggested group as an encounter")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()

	var window library.Range
	var err error
	if from, to := mustGetString(cmd, "from"), mustGetString(cmd, "to"); from != "" || to != "" {
		window, err = library.CustomRange(from, to, time.Now())
	} else {
		window, err = library.PresetRange(library.Preset(mustGetString(cmd, "preset")), time.Now())
	}
	if err != nil {
		return err
	}

	pool, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	client := visionClient(cfg)
	lib, err := photoLibrary(ctx, cfg)
	if err != nil {
		return err
	}

	pipeline := scan.NewPipeline(lib, client, client, store, resolver(cfg), cfg.Policy)
	session := pipeline.NewSession()

	var bar *progressbar.ProgressBar
	result, err := session.Scan(ctx, window, scan.Options{
		Limit:       mustGetInt(cmd, "limit"),
		Concurrency: mustGetInt(cmd, "concurrency"),
		OnProgress: func(info scan.ProgressInfo) {
			if bar == nil {
				bar = progressbar.NewOptions(info.Total,
					progressbar.OptionSetDescription("Scanning library"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("photos"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			_ = bar.Set(info.Current)
		},
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	printScanResult(result, &cfg.Library)

	if !mustGetBool(cmd, "save") {
		if len(result.Groups) > 0 {
			fmt.Println("\nRun again with --save to commit these groups.")
		}
		return nil
	}

	for _, group := range result.Groups {
		enc, err := pipeline.SaveGroup(ctx, group, "")
		if err != nil {
			return fmt.Errorf("saving group %s: %w", group.ID, err)
		}
		fmt.Printf("Saved encounter %s (%d photos)\n", enc.ID, len(enc.Photos))
	}
	return nil
}

func printScanResult(result *scan.Result, lib *config.LibraryConfig) {
	fmt.Printf("Found %d suggested group(s)\n", len(result.Groups))

	for i, group := range result.Groups {
		fmt.Printf("\nGroup %d: %d photo(s)", i+1, len(group.Photos))
		if group.Location != "" {
			fmt.Printf(" near %s", group.Location)
		}
		fmt.Println()
		if len(group.Photos) > 0 {
			first := group.Photos[0].Asset.TakenAt
			last := group.Photos[len(group.Photos)-1].Asset.TakenAt
			fmt.Printf("  %s - %s\n", first.Format("2006-01-02 15:04"), last.Format("15:04"))
		}
		for _, photo := range group.Photos {
			if link := lib.PhotoURL(photo.Asset.ID); link != "" {
				fmt.Printf("    %s\n", link)
			}
		}

		seen := map[string]bool{}
		for _, photo := range group.Photos {
			for _, face := range photo.Faces {
				if face.Match == nil || seen[face.Match.PersonName] {
					continue
				}
				seen[face.Match.PersonName] = true
				marker := " "
				if face.Box.AutoAccepted {
					marker = "*"
				}
				fmt.Printf("  %s %s (%.0f%%, %s)\n", marker, face.Match.PersonName, face.Match.Score*100, face.Match.Confidence)
			}
		}
	}

	if len(result.Skipped) > 0 {
		fmt.Printf("\nSkipped %d unavailable photo(s)\n", len(result.Skipped))
	}
	for _, err := range result.Errors {
		fmt.Printf("Error: %v\n", err)
	}
}
