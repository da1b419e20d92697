package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tsuuko/antigravity-usage/internal/accounts"
	"github.com/Tsuuko/antigravity-usage/internal/api"
	"github.com/Tsuuko/antigravity-usage/internal/config"
	"github.com/Tsuuko/antigravity-usage/internal/detector"
	"github.com/Tsuuko/antigravity-usage/internal/state"
	"github.com/Tsuuko/antigravity-usage/internal/store"
	"github.com/Tsuuko/antigravity-usage/internal/tracker"
	"github.com/Tsuuko/antigravity-usage/internal/wakeup"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll quota continuously, record history and wake up reset models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, cfg, logger)
		},
	}
}

// watcher holds the long-lived pieces of the polling loop.
type watcher struct {
	cfg     *config.Config
	logger  *slog.Logger
	history *store.Store
	tracker *tracker.Tracker
	runner  *wakeup.Runner
	accts   []accounts.Account
}

func runWatch(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	history, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer history.Close()

	w := &watcher{
		cfg:     cfg,
		logger:  logger,
		history: history,
		tracker: tracker.New(history, keyFunc(cfg), logger),
	}

	if cfg.WakeEnabled {
		accts, err := accounts.Load(cfg.AccountsPath, cfg.Passphrase)
		if err != nil {
			logger.Warn("wakeup disabled for this session, accounts unavailable", "error", err)
		} else {
			w.accts = accounts.Resolve(accts, cfg.SelectedAccounts)
			cloud := api.NewCloudClient(logger)
			w.runner = wakeup.New(wakeup.Options{
				Enabled:        true,
				SelectedModels: cfg.SelectedModels,
				Cooldown:       cfg.Cooldown,
			}, detector.New(keyFunc(cfg)), state.New(cfg.StatePath, logger), cloudFetcher{cloud}, cloudTrigger{cloud}, history, logger)
		}
	}

	logger.Info("watch started", "interval", cfg.PollInterval, "wakeup", w.runner != nil)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll runs one iteration. Failures are logged and the loop keeps going.
func (w *watcher) poll(ctx context.Context) {
	snapshot, err := fetchSnapshot(ctx, w.cfg, w.logger)
	if err != nil {
		w.logger.Warn("quota fetch failed", "error", err)
	} else {
		if _, err := w.history.InsertSnapshot(snapshot, snapshot.Email); err != nil {
			w.logger.Warn("snapshot not recorded", "error", err)
		}
		if err := w.tracker.Process(snapshot); err != nil {
			w.logger.Warn("cycle tracking failed", "error", err)
		}
	}

	if w.runner == nil {
		return
	}
	result, err := w.runner.Run(ctx, w.accts)
	if err != nil {
		w.logger.Warn("wakeup pass failed", "error", err)
		return
	}
	if result.Triggered {
		w.logger.Info("models woken up", "models", result.TriggeredModels)
	}
}
