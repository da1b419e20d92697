// Package testutil provides shared helpers for package tests.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tsuuko/antigravity-usage/internal/api"
	"github.com/Tsuuko/antigravity-usage/internal/state"
	"github.com/Tsuuko/antigravity-usage/internal/store"
)

// DiscardLogger returns a logger that discards all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// InMemoryStore creates an in-memory SQLite store for testing.
// The store is automatically closed when the test completes.
func InMemoryStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("InMemoryStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TempStateStore creates a wake state store backed by a temp directory.
func TempStateStore(t *testing.T) *state.Store {
	t.Helper()
	return state.New(filepath.Join(t.TempDir(), "wake_state.json"), DiscardLogger())
}

// Fraction returns a pointer to f, for building ModelQuotaInfo literals.
func Fraction(f float64) *float64 {
	return &f
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// Model builds a ModelQuotaInfo with quota data, the common test shape.
func Model(id string, remaining float64, resetTime time.Time) api.ModelQuotaInfo {
	return api.ModelQuotaInfo{
		ModelID:           id,
		Label:             id,
		RemainingFraction: Fraction(remaining),
		ResetTime:         TimePtr(resetTime.UTC()),
	}
}

// Snapshot wraps models in a QuotaSnapshot captured now.
func Snapshot(models ...api.ModelQuotaInfo) *api.QuotaSnapshot {
	return &api.QuotaSnapshot{
		CapturedAt: time.Now().UTC(),
		Method:     api.MethodCloud,
		Models:     models,
	}
}
