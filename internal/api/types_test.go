package api

import (
	"testing"
	"time"
)

const userStatusJSON = `{
	"userStatus": {
		"name": "users/123",
		"email": "alice@example.com",
		"planStatus": {"planInfo": {"planName": "Pro"}},
		"cascadeModelConfigData": {
			"clientModelConfigs": [
				{
					"label": "Gemini 3 Pro",
					"modelOrAlias": {"model": "gemini-3-pro"},
					"quotaInfo": {
						"remainingFraction": 0.75,
						"resetTime": "2026-02-23T20:00:00Z"
					}
				},
				{
					"label": "Fast Chat",
					"modelOrAlias": {"model": "chat-lite"}
				},
				{
					"label": "No Model"
				},
				{
					"label": "Claude Sonnet 4.5",
					"modelOrAlias": {"model": "claude-sonnet-4-5"},
					"quotaInfo": {
						"remainingFraction": 0,
						"isExhausted": true,
						"resetTime": "2026-02-23T22:00:00Z"
					}
				}
			]
		}
	}
}`

func TestParseUserStatusResponse(t *testing.T) {
	resp, err := ParseUserStatusResponse([]byte(userStatusJSON))
	if err != nil {
		t.Fatalf("ParseUserStatusResponse: %v", err)
	}
	if !resp.Authenticated() {
		t.Fatal("response should be authenticated")
	}

	now := time.Date(2026, 2, 23, 15, 0, 0, 0, time.UTC)
	snapshot := resp.ToSnapshot(now)

	if snapshot.Method != MethodLocal {
		t.Errorf("Method = %q, want local", snapshot.Method)
	}
	if snapshot.Email != "alice@example.com" || snapshot.PlanName != "Pro" {
		t.Errorf("identity fields: email=%q plan=%q", snapshot.Email, snapshot.PlanName)
	}
	// The entry without a model ID is dropped.
	if len(snapshot.Models) != 3 {
		t.Fatalf("got %d models, want 3", len(snapshot.Models))
	}

	gemini := snapshot.Models[0]
	if gemini.ModelID != "gemini-3-pro" || gemini.Label != "Gemini 3 Pro" {
		t.Errorf("first model: %+v", gemini)
	}
	if gemini.RemainingFraction == nil || *gemini.RemainingFraction != 0.75 {
		t.Errorf("RemainingFraction = %v", gemini.RemainingFraction)
	}
	if gemini.ResetTime == nil || !gemini.ResetTime.Equal(time.Date(2026, 2, 23, 20, 0, 0, 0, time.UTC)) {
		t.Errorf("ResetTime = %v", gemini.ResetTime)
	}
	if gemini.TimeUntilReset != 5*time.Hour {
		t.Errorf("TimeUntilReset = %v, want 5h", gemini.TimeUntilReset)
	}

	// A model without a quota block keeps an unknown fraction.
	lite := snapshot.Models[1]
	if lite.RemainingFraction != nil {
		t.Errorf("missing quotaInfo should leave RemainingFraction nil, got %v", *lite.RemainingFraction)
	}

	// Zero remaining implies exhausted even without the flag.
	claude := snapshot.Models[2]
	if !claude.IsExhausted {
		t.Error("zero remaining should be exhausted")
	}
}

func TestParseUserStatusUnauthenticated(t *testing.T) {
	resp, err := ParseUserStatusResponse([]byte(`{"message": "not logged in", "code": "UNAUTHENTICATED"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Authenticated() {
		t.Error("response without userStatus should not be authenticated")
	}
	if snapshot := resp.ToSnapshot(time.Now()); len(snapshot.Models) != 0 {
		t.Errorf("unauthenticated snapshot should be empty, got %d models", len(snapshot.Models))
	}
}

func TestParseAvailableModelsResponse(t *testing.T) {
	raw := `{
		"models": {
			"slot-b": {
				"model": "gemini-3-pro",
				"displayName": "Gemini 3 Pro",
				"quotaInfo": {"remainingFraction": 1.0, "resetTime": "2026-02-23T20:00:00Z"}
			},
			"slot-a": {
				"model": "claude-sonnet-4-5",
				"displayName": "Claude Sonnet 4.5",
				"quotaInfo": {"remainingFraction": 0.25}
			},
			"slot-c": {
				"model": "",
				"displayName": "Unnamed"
			}
		}
	}`
	resp, err := ParseAvailableModelsResponse([]byte(raw))
	if err != nil {
		t.Fatalf("ParseAvailableModelsResponse: %v", err)
	}

	snapshot := resp.ToSnapshot(time.Date(2026, 2, 23, 15, 0, 0, 0, time.UTC))
	if snapshot.Method != MethodCloud {
		t.Errorf("Method = %q, want cloud", snapshot.Method)
	}
	if len(snapshot.Models) != 3 {
		t.Fatalf("got %d models, want 3", len(snapshot.Models))
	}
	// Sorted slot order: slot-a, slot-b, slot-c.
	if snapshot.Models[0].ModelID != "claude-sonnet-4-5" || snapshot.Models[1].ModelID != "gemini-3-pro" {
		t.Errorf("slot order not stable: %q, %q", snapshot.Models[0].ModelID, snapshot.Models[1].ModelID)
	}
	// An empty model field falls back to the slot name.
	if snapshot.Models[2].ModelID != "slot-c" {
		t.Errorf("empty model should use slot name, got %q", snapshot.Models[2].ModelID)
	}
}

func TestNewModelQuotaClampsPastReset(t *testing.T) {
	reset := "2026-02-23T10:00:00Z"
	now := time.Date(2026, 2, 23, 15, 0, 0, 0, time.UTC)
	m := newModelQuota("m", "M", &wireQuotaInfo{RemainingFraction: ptr(0.5), ResetTime: reset}, now)
	if m.TimeUntilReset != 0 {
		t.Errorf("past reset time should clamp to zero, got %v", m.TimeUntilReset)
	}
}

func TestNewModelQuotaIgnoresBadResetTime(t *testing.T) {
	m := newModelQuota("m", "M", &wireQuotaInfo{RemainingFraction: ptr(0.5), ResetTime: "soon"}, time.Now())
	if m.ResetTime != nil {
		t.Errorf("unparseable reset time should stay nil, got %v", m.ResetTime)
	}
}

func TestSnapshotModelIDs(t *testing.T) {
	s := &QuotaSnapshot{Models: []ModelQuotaInfo{
		{ModelID: "b"}, {ModelID: ""}, {ModelID: "a"},
	}}
	ids := s.ModelIDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ModelIDs = %v", ids)
	}
}

func ptr(f float64) *float64 { return &f }
