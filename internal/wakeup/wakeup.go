// Package wakeup drives a full trigger pass: it narrows the detector's
// output through selection, alias collapse, and cooldown gating, commits the
// new reset times to the wake state, and fans triggers out across accounts.
package wakeup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tsuuko/antigravity-usage/internal/accounts"
	"github.com/Tsuuko/antigravity-usage/internal/api"
	"github.com/Tsuuko/antigravity-usage/internal/detector"
	"github.com/Tsuuko/antigravity-usage/internal/state"
	"github.com/Tsuuko/antigravity-usage/internal/store"
)

// DefaultCooldown is the minimum gap between triggers for one reset key.
// Upstream resetTime data is noisy; a short cooldown keeps a flapping value
// from re-triggering every pass.
const DefaultCooldown = 10 * time.Minute

const defaultConcurrency = 3

// Fetcher supplies a quota snapshot for one account.
type Fetcher interface {
	FetchQuota(ctx context.Context, acct accounts.Account) (*api.QuotaSnapshot, error)
}

// Trigger issues a wake-up request for one model on one account.
type Trigger interface {
	TriggerModel(ctx context.Context, acct accounts.Account, modelID string) error
}

// Options configures a Runner.
type Options struct {
	Enabled        bool
	SelectedModels []string      // empty means every model in the snapshot
	Cooldown       time.Duration // zero means DefaultCooldown
	Concurrency    int           // bounded fan-out; zero means defaultConcurrency
	DryRun         bool          // decide but do not commit or trigger
}

// AccountOutcome is the per-account result of one pass, reported in the same
// order the accounts were supplied.
type AccountOutcome struct {
	Account         string
	TriggeredModels []string // trigger intents committed for this account
	FailedModels    []string // subset whose trigger call failed
	SkippedCooldown []string // reset keys gated by the cooldown window
	Err             error    // fetch failure; the account contributed nothing
}

// PassResult summarizes one wakeup pass.
type PassResult struct {
	PassID          string
	RanAt           time.Time
	Triggered       bool
	TriggeredModels []string
	Accounts        []AccountOutcome
}

// SuccessCount returns the number of accounts that completed without error.
func (r *PassResult) SuccessCount() int {
	count := 0
	for _, a := range r.Accounts {
		if a.Err == nil && len(a.FailedModels) == 0 {
			count++
		}
	}
	return count
}

// FailureCount returns the number of accounts with a fetch or trigger failure.
func (r *PassResult) FailureCount() int {
	return len(r.Accounts) - r.SuccessCount()
}

// Runner executes wakeup passes.
type Runner struct {
	opts    Options
	det     *detector.Detector
	states  *state.Store
	fetcher Fetcher
	trigger Trigger
	history *store.Store // optional pass log, may be nil
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Runner. history may be nil when no pass log is wanted.
func New(opts Options, det *detector.Detector, states *state.Store, fetcher Fetcher, trigger Trigger, history *store.Store, logger *slog.Logger) *Runner {
	if det == nil {
		det = detector.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Runner{
		opts:    opts,
		det:     det,
		states:  states,
		fetcher: fetcher,
		trigger: trigger,
		history: history,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source (for testing).
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// accountPlan holds the decisions made for one account before triggering.
type accountPlan struct {
	account accounts.Account
	models  []string // model IDs to trigger, snapshot order
}

// Run executes one full pass over the given accounts. The disabled flag and
// an empty account set short-circuit to a no-op result before any fetch.
func (r *Runner) Run(ctx context.Context, accts []accounts.Account) (*PassResult, error) {
	result := &PassResult{
		PassID: uuid.New().String(),
		RanAt:  r.now().UTC(),
	}

	if !r.opts.Enabled {
		r.logger.Debug("wakeup disabled, skipping pass")
		return result, nil
	}
	if len(accts) == 0 {
		r.logger.Debug("no accounts resolved, skipping pass")
		return result, nil
	}

	unlock, err := r.states.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("wakeup: %w", err)
	}
	defer unlock()

	priorState, err := r.states.Load()
	if err != nil {
		return nil, fmt.Errorf("wakeup: %w", err)
	}

	snapshots, fetchErrs := r.fetchAll(ctx, accts)

	// Decide sequentially so two aliases of one reset key, or two passes over
	// the shared state map, cannot race. Detection is cheap; only fetching
	// and triggering go wide.
	var plans []accountPlan
	nextState := priorState.Clone()
	for i, acct := range accts {
		outcome := AccountOutcome{Account: acct.Name}
		if fetchErrs[i] != nil {
			outcome.Err = fetchErrs[i]
			r.logger.Warn("quota fetch failed, account skipped this pass",
				"account", acct.Name, "error", fetchErrs[i])
			result.Accounts = append(result.Accounts, outcome)
			continue
		}

		plan := r.decide(acct, snapshots[i], nextState, &outcome)
		result.Accounts = append(result.Accounts, outcome)
		if len(plan.models) > 0 {
			plans = append(plans, plan)
		}
	}

	for _, plan := range plans {
		for _, modelID := range plan.models {
			if !containsString(result.TriggeredModels, modelID) {
				result.TriggeredModels = append(result.TriggeredModels, modelID)
			}
		}
	}
	result.Triggered = len(result.TriggeredModels) > 0

	if r.opts.DryRun {
		r.logger.Info("dry run: skipping state commit and triggers",
			"passId", result.PassID, "models", result.TriggeredModels)
		return result, nil
	}

	if result.Triggered {
		// Commit before triggering: a crash between commit and trigger loses
		// at most one wake-up, never double-spends one.
		if err := r.states.Save(nextState); err != nil {
			return nil, fmt.Errorf("wakeup: commit state: %w", err)
		}
		r.fanOut(ctx, plans, result)
	}

	r.recordPass(result, len(accts))
	r.logger.Info("wakeup pass finished",
		"passId", result.PassID,
		"triggered", result.Triggered,
		"models", result.TriggeredModels,
		"accounts", len(accts),
		"failures", result.FailureCount(),
	)
	return result, nil
}

// fetchAll fetches snapshots for all accounts with bounded concurrency.
// Results and errors are indexed by account position.
func (r *Runner) fetchAll(ctx context.Context, accts []accounts.Account) ([]*api.QuotaSnapshot, []error) {
	snapshots := make([]*api.QuotaSnapshot, len(accts))
	errs := make([]error, len(accts))

	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup
	for i, acct := range accts {
		wg.Add(1)
		go func(i int, acct accounts.Account) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			snapshots[i], errs[i] = r.fetcher.FetchQuota(ctx, acct)
		}(i, acct)
	}
	wg.Wait()
	return snapshots, errs
}

// decide applies selection, detection, alias collapse, and the cooldown gate
// for one account, and stages state updates for the keys it selects.
func (r *Runner) decide(acct accounts.Account, snapshot *api.QuotaSnapshot, nextState detector.State, outcome *AccountOutcome) accountPlan {
	plan := accountPlan{account: acct}
	if snapshot == nil {
		return plan
	}

	scoped := scopedState(nextState, acct.Name)
	candidates := r.det.FindUnused(filterSelected(snapshot, r.opts.SelectedModels), scoped)
	if len(candidates) == 0 {
		r.logger.Debug("no unused models for account",
			"account", acct.Name, "models", len(snapshot.Models))
		return plan
	}

	now := r.now().UTC()
	seenKeys := make(map[string]bool, len(candidates))
	for _, m := range candidates {
		key := r.det.Key(m.ModelID)

		// One trigger per reset key per pass; the first unused alias wins.
		if seenKeys[key] {
			continue
		}
		seenKeys[key] = true

		if record, ok := scoped[key]; ok && now.Sub(record.LastTriggeredAt) < r.opts.Cooldown {
			outcome.SkippedCooldown = append(outcome.SkippedCooldown, key)
			r.logger.Debug("reset key in cooldown, skipping",
				"account", acct.Name, "key", key,
				"lastTriggered", record.LastTriggeredAt)
			continue
		}

		r.logger.Info("model unused, scheduling trigger",
			"account", acct.Name, "model", m.ModelID, "key", key,
			"resetTime", m.ResetTime)

		nextState[stateKey(acct.Name, key)] = detector.ResetRecord{
			LastResetAt:     m.ResetTime.UTC(),
			LastTriggeredAt: now,
		}
		plan.models = append(plan.models, m.ModelID)
		outcome.TriggeredModels = append(outcome.TriggeredModels, m.ModelID)
	}
	return plan
}

// fanOut issues the trigger calls, one goroutine per account with bounded
// concurrency. A failing account only marks its own outcome.
func (r *Runner) fanOut(ctx context.Context, plans []accountPlan, result *PassResult) {
	outcomeByName := make(map[string]*AccountOutcome, len(result.Accounts))
	for i := range result.Accounts {
		outcomeByName[result.Accounts[i].Account] = &result.Accounts[i]
	}

	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup
	for _, plan := range plans {
		wg.Add(1)
		go func(plan accountPlan) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := outcomeByName[plan.account.Name]
			for _, modelID := range plan.models {
				if err := r.trigger.TriggerModel(ctx, plan.account, modelID); err != nil {
					outcome.FailedModels = append(outcome.FailedModels, modelID)
					r.logger.Warn("trigger failed",
						"account", plan.account.Name, "model", modelID, "error", err)
					continue
				}
				r.logger.Info("model triggered", "account", plan.account.Name, "model", modelID)
			}
		}(plan)
	}
	wg.Wait()
}

func (r *Runner) recordPass(result *PassResult, accountCount int) {
	if r.history == nil {
		return
	}
	pass := &store.WakePass{
		PassID:          result.PassID,
		RanAt:           result.RanAt,
		Triggered:       result.Triggered,
		TriggeredModels: result.TriggeredModels,
		AccountCount:    accountCount,
		FailureCount:    result.FailureCount(),
	}
	if err := r.history.InsertWakePass(pass); err != nil {
		r.logger.Warn("failed to record wake pass", "passId", result.PassID, "error", err)
	}
}

// filterSelected narrows a snapshot to the configured model set. An empty
// selection keeps the snapshot as-is.
func filterSelected(snapshot *api.QuotaSnapshot, selected []string) *api.QuotaSnapshot {
	if len(selected) == 0 {
		return snapshot
	}
	wanted := make(map[string]bool, len(selected))
	for _, id := range selected {
		id = strings.TrimSpace(id)
		if id != "" {
			wanted[strings.ToLower(id)] = true
		}
	}

	filtered := *snapshot
	filtered.Models = nil
	for _, m := range snapshot.Models {
		if wanted[strings.ToLower(m.ModelID)] {
			filtered.Models = append(filtered.Models, m)
		}
	}
	return &filtered
}

// stateKey scopes a reset key to an account so tracked accounts keep
// independent cycles.
func stateKey(account, key string) string {
	return account + "/" + key
}

// scopedState extracts one account's view of the shared state map.
func scopedState(st detector.State, account string) detector.State {
	prefix := account + "/"
	out := detector.State{}
	for k, v := range st {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
