package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Tsuuko/antigravity-usage/internal/accounts"
	"github.com/Tsuuko/antigravity-usage/internal/api"
	"github.com/Tsuuko/antigravity-usage/internal/config"
	"github.com/Tsuuko/antigravity-usage/internal/detector"
	"github.com/Tsuuko/antigravity-usage/internal/state"
	"github.com/Tsuuko/antigravity-usage/internal/store"
	"github.com/Tsuuko/antigravity-usage/internal/wakeup"
)

func newWakeupCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "wakeup",
		Short: "Run one wake-up pass over the configured accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			result, err := runWakeupPass(cmd, cfg, logger, dryRun)
			if err != nil {
				return err
			}

			printPassResult(result, dryRun)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be triggered without committing or calling out")
	return cmd
}

func runWakeupPass(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, dryRun bool) (*wakeup.PassResult, error) {
	accts, err := accounts.Load(cfg.AccountsPath, cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	resolved := accounts.Resolve(accts, cfg.SelectedAccounts)

	states := state.New(cfg.StatePath, logger)

	history, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Warn("history database unavailable, pass will not be recorded", "error", err)
		history = nil
	} else {
		defer history.Close()
	}

	cloud := api.NewCloudClient(logger)
	runner := wakeup.New(wakeup.Options{
		Enabled:        cfg.WakeEnabled,
		SelectedModels: cfg.SelectedModels,
		Cooldown:       cfg.Cooldown,
		DryRun:         dryRun,
	}, detector.New(keyFunc(cfg)), states, cloudFetcher{cloud}, cloudTrigger{cloud}, history, logger)

	return runner.Run(cmd.Context(), resolved)
}

func printPassResult(result *wakeup.PassResult, dryRun bool) {
	verb := "Triggered"
	if dryRun {
		verb = "Would trigger"
	}

	if !result.Triggered {
		fmt.Println("No models to wake up.")
	} else {
		fmt.Printf("%s %d model(s):\n", verb, len(result.TriggeredModels))
		for _, id := range result.TriggeredModels {
			fmt.Printf("  %s\n", id)
		}
	}

	for _, a := range result.Accounts {
		switch {
		case a.Err != nil:
			fmt.Printf("Account %s: fetch failed: %v\n", a.Account, a.Err)
		case len(a.FailedModels) > 0:
			fmt.Printf("Account %s: %d trigger(s) failed: %v\n", a.Account, len(a.FailedModels), a.FailedModels)
		case len(a.SkippedCooldown) > 0:
			fmt.Printf("Account %s: %d model(s) held back by cooldown\n", a.Account, len(a.SkippedCooldown))
		}
	}
}
