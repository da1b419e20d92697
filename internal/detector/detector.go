// Package detector decides which models have rolled into a fresh, untouched
// quota cycle. It is a pure function layer: it reads one snapshot and one
// prior-state map and classifies, without logging, I/O, or state mutation.
package detector

import (
	"regexp"
	"strings"
	"time"

	"github.com/Tsuuko/antigravity-usage/internal/api"
)

// FullQuotaThreshold is the remaining fraction at or above which a model
// counts as being at full capacity. Slightly under 1.0 to absorb floating
// rounding in upstream quota math.
const FullQuotaThreshold = 0.99

// ResetRecord is the durable per-key signal: the reset time we last acted on
// and when we last issued a trigger for the key.
type ResetRecord struct {
	LastResetAt     time.Time `json:"lastResetAt"`
	LastTriggeredAt time.Time `json:"lastTriggeredAt"`
}

// State maps a reset key to its record. An empty map is the legitimate
// first-run state.
type State map[string]ResetRecord

// Clone returns a shallow copy. Callers that hand State to a Detector and
// also mutate it should pass a clone, keeping the scan's view stable.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// KeyFunc resolves the comparison key for a model ID.
type KeyFunc func(modelID string) string

// RawKey keeps each model ID as its own key.
func RawKey(modelID string) string {
	return strings.TrimSpace(modelID)
}

var (
	datedSuffixRe = regexp.MustCompile(`-\d{8}$`)

	// Variant suffixes that share the base model family's quota pool.
	familySuffixes = []string{"-thinking", "-high", "-low", "-medium", "-image", "-lite", "-preview"}
)

// FamilyKey folds model ID variants that share one quota pool into a single
// key: case and path prefixes are dropped, then date and variant suffixes
// are stripped (e.g. "claude-sonnet-4-5-thinking" and
// "claude-sonnet-4-5-20250929" both map to "claude-sonnet-4-5").
func FamilyKey(modelID string) string {
	key := strings.ToLower(strings.TrimSpace(modelID))
	key = strings.TrimPrefix(key, "models/")
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		key = key[idx+1:]
	}
	key = datedSuffixRe.ReplaceAllString(key, "")
	for stripped := true; stripped; {
		stripped = false
		for _, suffix := range familySuffixes {
			if strings.HasSuffix(key, suffix) && len(key) > len(suffix) {
				key = strings.TrimSuffix(key, suffix)
				stripped = true
			}
		}
	}
	return key
}

// Detector classifies models against prior state using a pluggable key
// resolution. With RawKey every model tracks its own cycle; with FamilyKey
// aliases sharing a quota pool collapse onto one record.
type Detector struct {
	key KeyFunc
}

// New creates a Detector. A nil key func defaults to RawKey.
func New(key KeyFunc) *Detector {
	if key == nil {
		key = RawKey
	}
	return &Detector{key: key}
}

// Key resolves the state key for a model ID.
func (d *Detector) Key(modelID string) string {
	return d.key(modelID)
}

// IsUnused reports whether a model sits at full capacity in a quota cycle we
// have not acted on yet. Conditions are checked in strict order and the
// first failing one decides:
//
//  1. unknown remaining fraction → false
//  2. below the full-quota threshold → false
//  3. exhausted → false (full and exhausted are mutually exclusive)
//  4. no reset time → false (cannot prove a cycle boundary)
//  5. no prior record for the key → true (first observation)
//  6. prior reset time equals the current one → false (cycle already seen)
//  7. otherwise → true (cycle rolled over)
func (d *Detector) IsUnused(m api.ModelQuotaInfo, state State) bool {
	if m.RemainingFraction == nil {
		return false
	}
	if *m.RemainingFraction < FullQuotaThreshold {
		return false
	}
	if m.IsExhausted {
		return false
	}
	if m.ResetTime == nil {
		return false
	}
	record, ok := state[d.key(m.ModelID)]
	if !ok {
		return true
	}
	return !record.LastResetAt.Equal(*m.ResetTime)
}

// FindUnused filters the snapshot's models through IsUnused, preserving
// snapshot order. Duplicate model IDs are evaluated once: the first
// occurrence wins and later ones are ignored.
func (d *Detector) FindUnused(snapshot *api.QuotaSnapshot, state State) []api.ModelQuotaInfo {
	if snapshot == nil {
		return nil
	}
	seen := make(map[string]bool, len(snapshot.Models))
	var unused []api.ModelQuotaInfo
	for _, m := range snapshot.Models {
		if m.ModelID == "" || seen[m.ModelID] {
			continue
		}
		seen[m.ModelID] = true
		if d.IsUnused(m, state) {
			unused = append(unused, m)
		}
	}
	return unused
}

// HasUnused reports whether FindUnused would return anything.
func (d *Detector) HasUnused(snapshot *api.QuotaSnapshot, state State) bool {
	return len(d.FindUnused(snapshot, state)) > 0
}
