package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/ytcomments/internal/models"
	"github.com/ternarybob/ytcomments/internal/storage/badger"
)

var errNoLedger = errors.New("run ledger is disabled (ledger.enabled = false)")

func newHistoryCmd() *cobra.Command {
	var (
		limit       int
		disposition string
		video       string
		runID       string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent collector runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.Ledger.Enabled {
				return errNoLedger
			}

			db, err := badger.NewBadgerDB(logger, config.Ledger.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			store := badger.NewRunStorage(db, logger)
			ctx := context.Background()

			var runs []*models.RunSummary
			switch {
			case runID != "":
				run, err := store.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				runs = append(runs, run)
			case video != "":
				run, err := store.LastRunForVideo(ctx, video)
				if err != nil {
					return err
				}
				if run != nil {
					runs = append(runs, run)
				}
			default:
				runs, err = store.ListRuns(ctx, models.Disposition(disposition), limit)
				if err != nil {
					return err
				}
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}
			for _, run := range runs {
				succeeded, failed := run.Counts()
				fmt.Printf("%s  %s  %-9s  %d videos (%d succeeded, %d failed)  %s\n",
					run.StartedAt.Local().Format("2006-01-02 15:04:05"),
					run.RunID,
					run.Disposition,
					len(run.Jobs), succeeded, failed,
					run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 = all)")
	cmd.Flags().StringVar(&disposition, "disposition", "", "Only show runs with this disposition: succeeded, partial, failed")
	cmd.Flags().StringVar(&video, "video", "", "Show the most recent run that included this video ID")
	cmd.Flags().StringVar(&runID, "run", "", "Show one run by ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}
