// antigravity-usage tracks Antigravity model quota usage and opportunistically
// wakes up models whose quota cycle has just reset.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tsuuko/antigravity-usage/internal/accounts"
	"github.com/Tsuuko/antigravity-usage/internal/api"
	"github.com/Tsuuko/antigravity-usage/internal/config"
	"github.com/Tsuuko/antigravity-usage/internal/detector"
	"github.com/Tsuuko/antigravity-usage/internal/store"
	"github.com/Tsuuko/antigravity-usage/internal/tracker"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "antigravity-usage",
		Short:         "Track Antigravity model quotas and wake up freshly reset models",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newUsageCmd(),
		newWakeupCmd(),
		newWatchCmd(),
		newStatsCmd(),
		newAccountsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the application logger from the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// keyFunc picks the detector key resolution from config.
func keyFunc(cfg *config.Config) detector.KeyFunc {
	if cfg.GroupAliases {
		return detector.FamilyKey
	}
	return detector.RawKey
}

// cloudFetcher adapts the cloud client to the wakeup.Fetcher contract,
// passing each account's token explicitly.
type cloudFetcher struct {
	client *api.CloudClient
}

func (f cloudFetcher) FetchQuota(ctx context.Context, acct accounts.Account) (*api.QuotaSnapshot, error) {
	return f.client.FetchQuota(ctx, acct.AccessToken)
}

// cloudTrigger adapts the cloud client to the wakeup.Trigger contract.
type cloudTrigger struct {
	client *api.CloudClient
}

func (t cloudTrigger) TriggerModel(ctx context.Context, acct accounts.Account, modelID string) error {
	return t.client.TriggerModel(ctx, acct.AccessToken, modelID)
}

// saveSnapshot records a snapshot in the history database and feeds it
// through the cycle tracker.
func saveSnapshot(cfg *config.Config, logger *slog.Logger, snapshot *api.QuotaSnapshot) error {
	db, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.InsertSnapshot(snapshot, snapshot.Email); err != nil {
		return err
	}
	return tracker.New(db, keyFunc(cfg), logger).Process(snapshot)
}

// fetchSnapshot retrieves one snapshot using the configured method. In auto
// mode the local IDE is preferred, falling back to the cloud API with the
// first resolved account.
func fetchSnapshot(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*api.QuotaSnapshot, error) {
	tryLocal := cfg.FetchMethod == config.MethodAuto || cfg.FetchMethod == config.MethodLocal
	tryCloud := cfg.FetchMethod == config.MethodAuto || cfg.FetchMethod == config.MethodCloud

	if tryLocal {
		snapshot, err := api.NewLocalClient(logger).FetchQuota(ctx)
		if err == nil {
			return snapshot, nil
		}
		if !tryCloud {
			return nil, err
		}
		logger.Debug("local fetch failed, falling back to cloud", "error", err)
	}

	accts, err := accounts.Load(cfg.AccountsPath, cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("cloud fetch needs a configured account: %w", err)
	}
	resolved := accounts.Resolve(accts, cfg.SelectedAccounts)
	if len(resolved) == 0 {
		return nil, accounts.ErrNoAccounts
	}
	return api.NewCloudClient(logger).FetchQuota(ctx, resolved[0].AccessToken)
}
