package detector

import (
	"testing"
	"time"

	"github.com/Tsuuko/antigravity-usage/internal/api"
)

var resetA = time.Date(2026, 2, 23, 20, 0, 0, 0, time.UTC)
var resetB = time.Date(2026, 2, 24, 1, 0, 0, 0, time.UTC)

func frac(f float64) *float64 { return &f }

func model(id string, remaining *float64, reset *time.Time) api.ModelQuotaInfo {
	return api.ModelQuotaInfo{ModelID: id, RemainingFraction: remaining, ResetTime: reset}
}

func TestIsUnused(t *testing.T) {
	d := New(nil)

	tests := []struct {
		name  string
		model api.ModelQuotaInfo
		state State
		want  bool
	}{
		{
			name:  "nil remaining fraction",
			model: model("gemini-3-pro", nil, &resetA),
			want:  false,
		},
		{
			name:  "nil remaining fraction even with prior record",
			model: model("gemini-3-pro", nil, &resetA),
			state: State{"gemini-3-pro": {LastResetAt: resetB}},
			want:  false,
		},
		{
			name:  "below threshold",
			model: model("gemini-3-pro", frac(0.5), &resetA),
			want:  false,
		},
		{
			name:  "just below threshold",
			model: model("gemini-3-pro", frac(0.989), &resetA),
			want:  false,
		},
		{
			name:  "at threshold",
			model: model("gemini-3-pro", frac(0.99), &resetA),
			want:  true,
		},
		{
			name: "full but exhausted",
			model: api.ModelQuotaInfo{
				ModelID:           "gemini-3-pro",
				RemainingFraction: frac(1.0),
				IsExhausted:       true,
				ResetTime:         &resetA,
			},
			want: false,
		},
		{
			name:  "no reset time",
			model: model("gemini-3-pro", frac(1.0), nil),
			want:  false,
		},
		{
			name:  "full with no prior record",
			model: model("gemini-3-pro", frac(1.0), &resetA),
			state: State{},
			want:  true,
		},
		{
			name:  "full with matching prior reset time",
			model: model("gemini-3-pro", frac(1.0), &resetA),
			state: State{"gemini-3-pro": {LastResetAt: resetA}},
			want:  false,
		},
		{
			name:  "full with different prior reset time",
			model: model("gemini-3-pro", frac(1.0), &resetB),
			state: State{"gemini-3-pro": {LastResetAt: resetA}},
			want:  true,
		},
		{
			name:  "partial usage overrides a changed reset time",
			model: model("gemini-3-pro", frac(0.5), &resetB),
			state: State{"gemini-3-pro": {LastResetAt: resetA}},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsUnused(tt.model, tt.state); got != tt.want {
				t.Errorf("IsUnused() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUnusedNilState(t *testing.T) {
	d := New(nil)
	if !d.IsUnused(model("gemini-3-pro", frac(1.0), &resetA), nil) {
		t.Error("full model with nil state should be unused")
	}
}

func TestIsUnusedEqualInstantDifferentLocation(t *testing.T) {
	d := New(nil)
	local := resetA.In(time.FixedZone("JST", 9*3600))
	st := State{"gemini-3-pro": {LastResetAt: resetA}}
	if d.IsUnused(model("gemini-3-pro", frac(1.0), &local), st) {
		t.Error("same instant in a different zone should still match the record")
	}
}

func TestFindUnusedPreservesSnapshotOrder(t *testing.T) {
	d := New(nil)
	snapshot := &api.QuotaSnapshot{Models: []api.ModelQuotaInfo{
		model("claude-sonnet-4-5", frac(1.0), &resetA),
		model("gemini-3-pro", frac(0.3), &resetA),
		model("gpt-oss-120b", frac(1.0), &resetB),
	}}

	unused := d.FindUnused(snapshot, State{})
	if len(unused) != 2 {
		t.Fatalf("FindUnused returned %d models, want 2", len(unused))
	}
	if unused[0].ModelID != "claude-sonnet-4-5" || unused[1].ModelID != "gpt-oss-120b" {
		t.Errorf("order not preserved: %q, %q", unused[0].ModelID, unused[1].ModelID)
	}
}

func TestFindUnusedDuplicateIDFirstWins(t *testing.T) {
	d := New(nil)
	snapshot := &api.QuotaSnapshot{Models: []api.ModelQuotaInfo{
		model("gemini-3-pro", frac(0.3), &resetA), // first occurrence decides
		model("gemini-3-pro", frac(1.0), &resetA),
	}}

	if got := d.FindUnused(snapshot, State{}); len(got) != 0 {
		t.Errorf("duplicate later occurrence should be ignored, got %d models", len(got))
	}
}

func TestFindUnusedSkipsEmptyID(t *testing.T) {
	d := New(nil)
	snapshot := &api.QuotaSnapshot{Models: []api.ModelQuotaInfo{
		model("", frac(1.0), &resetA),
	}}
	if got := d.FindUnused(snapshot, State{}); len(got) != 0 {
		t.Errorf("model without an ID should be skipped, got %d", len(got))
	}
}

func TestHasUnusedMatchesFindUnused(t *testing.T) {
	d := New(nil)
	snapshots := []*api.QuotaSnapshot{
		nil,
		{},
		{Models: []api.ModelQuotaInfo{model("a", frac(0.1), &resetA)}},
		{Models: []api.ModelQuotaInfo{model("a", frac(1.0), &resetA)}},
	}
	for i, snapshot := range snapshots {
		found := d.FindUnused(snapshot, State{})
		if got := d.HasUnused(snapshot, State{}); got != (len(found) > 0) {
			t.Errorf("snapshot %d: HasUnused = %v but FindUnused returned %d", i, got, len(found))
		}
	}
}

func TestDetectionIsIdempotentAfterCommit(t *testing.T) {
	d := New(nil)
	m := model("gemini-3-pro", frac(1.0), &resetA)
	st := State{}

	if !d.IsUnused(m, st) {
		t.Fatal("first observation should be unused")
	}

	// Commit the observed reset time, as a wakeup pass would.
	st[d.Key(m.ModelID)] = ResetRecord{LastResetAt: resetA, LastTriggeredAt: time.Now()}

	if d.IsUnused(m, st) {
		t.Error("same snapshot after commit should no longer be unused")
	}
}

func TestFamilyKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gemini-3-pro", "gemini-3-pro"},
		{"Gemini-3-Pro", "gemini-3-pro"},
		{"models/gemini-3-pro", "gemini-3-pro"},
		{"publishers/google/models/gemini-3-pro", "gemini-3-pro"},
		{"claude-sonnet-4-5-thinking", "claude-sonnet-4-5"},
		{"claude-sonnet-4-5-20250929", "claude-sonnet-4-5"},
		{"gemini-3-pro-high", "gemini-3-pro"},
		{"gemini-3-pro-preview-20251120", "gemini-3-pro"},
		{"-thinking", "-thinking"}, // never strip down to nothing
		{"  gemini-3-pro  ", "gemini-3-pro"},
	}
	for _, tt := range tests {
		if got := FamilyKey(tt.in); got != tt.want {
			t.Errorf("FamilyKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFamilyKeyCollapsesAliases(t *testing.T) {
	d := New(FamilyKey)
	st := State{"claude-sonnet-4-5": {LastResetAt: resetA}}

	// A variant of an already-seen family is not a fresh cycle.
	if d.IsUnused(model("claude-sonnet-4-5-thinking", frac(1.0), &resetA), st) {
		t.Error("variant sharing the family's reset time should not be unused")
	}
	if !d.IsUnused(model("claude-sonnet-4-5-thinking", frac(1.0), &resetB), st) {
		t.Error("variant with a rolled-over reset time should be unused")
	}
}

func TestStateClone(t *testing.T) {
	st := State{"a": {LastResetAt: resetA}}
	clone := st.Clone()
	clone["a"] = ResetRecord{LastResetAt: resetB}
	if !st["a"].LastResetAt.Equal(resetA) {
		t.Error("mutating the clone changed the original")
	}
}
