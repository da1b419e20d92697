// Package tracker maintains per-model usage history: it watches successive
// quota snapshots, closes a cycle when the reset time rolls over, and keeps
// peak/delta usage bookkeeping in the store for the stats command.
package tracker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Tsuuko/antigravity-usage/internal/api"
	"github.com/Tsuuko/antigravity-usage/internal/detector"
	"github.com/Tsuuko/antigravity-usage/internal/store"
)

// Tracker records reset cycles and usage deltas per model key.
type Tracker struct {
	store  *store.Store
	key    detector.KeyFunc
	logger *slog.Logger

	lastFractions map[string]float64 // model key -> last remaining fraction
	hasLastValues bool

	onReset func(modelKey string) // called when a cycle rollover is recorded
}

// New creates a Tracker. A nil key func defaults to detector.RawKey.
func New(s *store.Store, key detector.KeyFunc, logger *slog.Logger) *Tracker {
	if key == nil {
		key = detector.RawKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:         s,
		key:           key,
		logger:        logger,
		lastFractions: make(map[string]float64),
	}
}

// SetOnReset registers a callback invoked when a cycle rollover is recorded.
func (t *Tracker) SetOnReset(fn func(string)) {
	t.onReset = fn
}

// Process walks the snapshot's models and updates cycle bookkeeping. Models
// without quota data are skipped; duplicate keys within one snapshot update
// the same cycle once (first occurrence wins).
func (t *Tracker) Process(snapshot *api.QuotaSnapshot) error {
	seen := make(map[string]bool, len(snapshot.Models))
	for _, m := range snapshot.Models {
		if m.ModelID == "" || m.RemainingFraction == nil {
			continue
		}
		key := t.key(m.ModelID)
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := t.processModel(key, m, snapshot.CapturedAt); err != nil {
			return fmt.Errorf("tracker: %s: %w", key, err)
		}
	}
	t.hasLastValues = true
	return nil
}

func (t *Tracker) processModel(key string, m api.ModelQuotaInfo, capturedAt time.Time) error {
	remaining := *m.RemainingFraction
	currentUsage := 1.0 - remaining

	cycle, err := t.store.QueryActiveCycle(key)
	if err != nil {
		return err
	}

	if cycle == nil {
		if _, err := t.store.CreateCycle(key, capturedAt, m.ResetTime); err != nil {
			return err
		}
		if err := t.store.UpdateCycle(key, currentUsage, 0); err != nil {
			return err
		}
		t.lastFractions[key] = remaining
		t.logger.Info("Created new cycle",
			"model", key,
			"resetTime", m.ResetTime,
			"initialUsage", currentUsage,
		)
		return nil
	}

	if t.resetDetected(cycle, m, capturedAt) {
		cycleEnd := capturedAt
		if cycle.ResetTime != nil && capturedAt.After(*cycle.ResetTime) {
			cycleEnd = *cycle.ResetTime
		}
		if err := t.store.CloseCycle(key, cycleEnd, cycle.PeakUsage, cycle.TotalDelta); err != nil {
			return err
		}
		if _, err := t.store.CreateCycle(key, capturedAt, m.ResetTime); err != nil {
			return err
		}
		if err := t.store.UpdateCycle(key, currentUsage, 0); err != nil {
			return err
		}
		t.lastFractions[key] = remaining
		t.logger.Info("Recorded cycle rollover",
			"model", key,
			"oldResetTime", cycle.ResetTime,
			"newResetTime", m.ResetTime,
		)
		if t.onReset != nil {
			t.onReset(key)
		}
		return nil
	}

	// Same cycle: accumulate usage delta and track the peak.
	if last, ok := t.lastFractions[key]; ok && t.hasLastValues {
		if delta := last - remaining; delta > 0 {
			cycle.TotalDelta += delta
		}
	}
	if currentUsage > cycle.PeakUsage {
		cycle.PeakUsage = currentUsage
	}
	if err := t.store.UpdateCycle(key, cycle.PeakUsage, cycle.TotalDelta); err != nil {
		return err
	}
	t.lastFractions[key] = remaining
	return nil
}

// resetDetected reports whether the model's quota cycle rolled over since the
// stored cycle was opened.
func (t *Tracker) resetDetected(cycle *store.ResetCycle, m api.ModelQuotaInfo, capturedAt time.Time) bool {
	// Reset time changed.
	if m.ResetTime != nil && cycle.ResetTime != nil && !m.ResetTime.Equal(*cycle.ResetTime) {
		return true
	}
	// Stored reset time passed and remaining quota climbed back up.
	if cycle.ResetTime != nil && capturedAt.After(*cycle.ResetTime) {
		if last, ok := t.lastFractions[cycle.ModelKey]; ok && *m.RemainingFraction > last {
			return true
		}
	}
	return false
}

// Summary contains computed usage statistics for one model key.
type Summary struct {
	ModelKey        string
	CompletedCycles int
	AvgPerCycle     float64
	PeakCycle       float64
	TotalTracked    float64
	TrackingSince   time.Time
	ResetTime       *time.Time
	TimeUntilReset  time.Duration
}

// UsageSummary returns computed stats for a model key.
func (t *Tracker) UsageSummary(modelKey string) (*Summary, error) {
	active, err := t.store.QueryActiveCycle(modelKey)
	if err != nil {
		return nil, fmt.Errorf("tracker: query active cycle: %w", err)
	}
	history, err := t.store.QueryCycleHistory(modelKey)
	if err != nil {
		return nil, fmt.Errorf("tracker: query cycle history: %w", err)
	}

	summary := &Summary{
		ModelKey:        modelKey,
		CompletedCycles: len(history),
	}

	if len(history) > 0 {
		var totalDelta float64
		summary.TrackingSince = history[len(history)-1].CycleStart
		for _, cycle := range history {
			totalDelta += cycle.TotalDelta
			if cycle.TotalDelta > summary.PeakCycle {
				summary.PeakCycle = cycle.TotalDelta
			}
		}
		summary.AvgPerCycle = totalDelta / float64(len(history))
		summary.TotalTracked = totalDelta
	}

	if active != nil {
		summary.TotalTracked += active.TotalDelta
		if summary.TrackingSince.IsZero() {
			summary.TrackingSince = active.CycleStart
		}
		if active.ResetTime != nil {
			summary.ResetTime = active.ResetTime
			summary.TimeUntilReset = time.Until(*active.ResetTime)
			if summary.TimeUntilReset < 0 {
				summary.TimeUntilReset = 0
			}
		}
	}
	return summary, nil
}
