package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tsuuko/antigravity-usage/internal/config"
	"github.com/Tsuuko/antigravity-usage/internal/store"
	"github.com/Tsuuko/antigravity-usage/internal/tracker"
)

func newStatsCmd() *cobra.Command {
	var passes int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics per model and recent wake-up passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			db, err := store.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			tr := tracker.New(db, keyFunc(cfg), logger)
			keys, err := db.CycleModelKeys()
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Println("No usage history yet. Run `antigravity-usage usage --save` or `watch` first.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tCYCLES\tAVG/CYCLE\tPEAK\tTOTAL\tRESETS IN")
			for _, key := range keys {
				summary, err := tr.UsageSummary(key)
				if err != nil {
					return err
				}
				resetsIn := "-"
				if summary.ResetTime != nil {
					resetsIn = summary.TimeUntilReset.Round(time.Minute).String()
				}
				fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1f%%\t%.1f%%\t%s\n",
					summary.ModelKey, summary.CompletedCycles,
					summary.AvgPerCycle*100, summary.PeakCycle*100, summary.TotalTracked*100,
					resetsIn)
			}
			w.Flush()

			if passes > 0 {
				if err := printRecentPasses(db, passes); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&passes, "passes", 5, "number of recent wake-up passes to list (0 to hide)")
	return cmd
}

func printRecentPasses(db *store.Store, limit int) error {
	recent, err := db.QueryRecentWakePasses(limit)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}

	fmt.Println("\nRecent wake-up passes:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RAN AT\tTRIGGERED\tMODELS\tACCOUNTS\tFAILURES")
	for _, p := range recent {
		models := "-"
		if len(p.TriggeredModels) > 0 {
			models = strings.Join(p.TriggeredModels, ", ")
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%d\t%d\n",
			p.RanAt.Local().Format("2006-01-02 15:04"), p.Triggered, models, p.AccountCount, p.FailureCount)
	}
	w.Flush()
	return nil
}
