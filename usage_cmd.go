package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tsuuko/antigravity-usage/internal/api"
	"github.com/Tsuuko/antigravity-usage/internal/config"
)

func newUsageCmd() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show the current per-model quota snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			snapshot, err := fetchSnapshot(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			if save {
				if err := saveSnapshot(cfg, logger, snapshot); err != nil {
					return err
				}
			}

			printSnapshot(snapshot)
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "record the snapshot in the local history database")
	return cmd
}

func printSnapshot(snapshot *api.QuotaSnapshot) {
	fmt.Printf("Captured: %s (%s)\n", snapshot.CapturedAt.Local().Format(time.RFC3339), snapshot.Method)
	if snapshot.Email != "" {
		fmt.Printf("Account:  %s\n", snapshot.Email)
	}
	if snapshot.PlanName != "" {
		fmt.Printf("Plan:     %s\n", snapshot.PlanName)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tLABEL\tREMAINING\tEXHAUSTED\tRESETS IN")
	for _, m := range snapshot.Models {
		remaining := "-"
		if m.RemainingFraction != nil {
			remaining = fmt.Sprintf("%.1f%%", *m.RemainingFraction*100)
		}
		resetsIn := "-"
		if m.ResetTime != nil {
			d := time.Until(*m.ResetTime)
			if d < 0 {
				d = 0
			}
			resetsIn = d.Round(time.Minute).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", m.ModelID, m.Label, remaining, m.IsExhausted, resetsIn)
	}
	w.Flush()
}
