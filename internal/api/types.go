package api

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Fetch method tags recorded on each snapshot.
const (
	MethodLocal = "local"
	MethodCloud = "cloud"
)

// ModelQuotaInfo is one model's quota state at fetch time.
// RemainingFraction is nil when the API omitted quota data for the model.
type ModelQuotaInfo struct {
	ModelID           string
	Label             string
	RemainingFraction *float64
	IsExhausted       bool
	ResetTime         *time.Time
	TimeUntilReset    time.Duration
}

// QuotaSnapshot is a point-in-time capture of all model quotas for one account.
type QuotaSnapshot struct {
	CapturedAt time.Time
	Method     string
	Email      string
	PlanName   string
	Models     []ModelQuotaInfo
	RawJSON    string
}

// ModelIDs returns the sorted, non-empty model IDs present in the snapshot.
func (s *QuotaSnapshot) ModelIDs() []string {
	var ids []string
	for _, m := range s.Models {
		if m.ModelID != "" {
			ids = append(ids, m.ModelID)
		}
	}
	sort.Strings(ids)
	return ids
}

// modelOrAlias is the model identifier structure in the user status response.
type modelOrAlias struct {
	Model string `json:"model"`
}

// wireQuotaInfo is the quota block attached to a model config.
// RemainingFraction is a pointer so "field absent" survives decoding.
type wireQuotaInfo struct {
	RemainingFraction *float64 `json:"remainingFraction"`
	IsExhausted       bool     `json:"isExhausted"`
	ResetTime         string   `json:"resetTime"`
}

// clientModelConfig is a single model entry in the user status response.
type clientModelConfig struct {
	Label        string         `json:"label"`
	ModelOrAlias *modelOrAlias  `json:"modelOrAlias,omitempty"`
	QuotaInfo    *wireQuotaInfo `json:"quotaInfo,omitempty"`
}

// planInfo holds subscription plan details.
type planInfo struct {
	PlanName string `json:"planName"`
}

// planStatus holds plan status with available credits.
type planStatus struct {
	PlanInfo *planInfo `json:"planInfo,omitempty"`
}

// cascadeModelConfigData wraps the per-model config list.
type cascadeModelConfigData struct {
	ClientModelConfigs []clientModelConfig `json:"clientModelConfigs"`
}

// userStatus is the inner user status payload.
type userStatus struct {
	Name                   string                  `json:"name"`
	Email                  string                  `json:"email"`
	PlanStatus             *planStatus             `json:"planStatus,omitempty"`
	CascadeModelConfigData *cascadeModelConfigData `json:"cascadeModelConfigData,omitempty"`
}

// UserStatusResponse is the full GetUserStatus response from the local
// language server.
type UserStatusResponse struct {
	UserStatus *userStatus `json:"userStatus"`
	Message    string      `json:"message,omitempty"`
	Code       string      `json:"code,omitempty"`
}

// Authenticated reports whether the response carries a user status payload.
func (r *UserStatusResponse) Authenticated() bool {
	return r != nil && r.UserStatus != nil
}

// ToSnapshot converts a user status response to a QuotaSnapshot.
func (r *UserStatusResponse) ToSnapshot(capturedAt time.Time) *QuotaSnapshot {
	snapshot := &QuotaSnapshot{
		CapturedAt: capturedAt,
		Method:     MethodLocal,
	}
	if r == nil || r.UserStatus == nil {
		return snapshot
	}

	snapshot.Email = r.UserStatus.Email
	if r.UserStatus.PlanStatus != nil && r.UserStatus.PlanStatus.PlanInfo != nil {
		snapshot.PlanName = r.UserStatus.PlanStatus.PlanInfo.PlanName
	}

	if r.UserStatus.CascadeModelConfigData != nil {
		for _, cfg := range r.UserStatus.CascadeModelConfigData.ClientModelConfigs {
			modelID := ""
			if cfg.ModelOrAlias != nil {
				modelID = strings.TrimSpace(cfg.ModelOrAlias.Model)
			}
			if modelID == "" {
				continue
			}
			snapshot.Models = append(snapshot.Models, newModelQuota(modelID, cfg.Label, cfg.QuotaInfo, capturedAt))
		}
	}

	if raw, err := json.Marshal(r); err == nil {
		snapshot.RawJSON = string(raw)
	}
	return snapshot
}

// availableModelEntry is one model record in the cloud fetchAvailableModels
// response.
type availableModelEntry struct {
	Model         string         `json:"model"`
	DisplayName   string         `json:"displayName"`
	ModelProvider string         `json:"modelProvider"`
	QuotaInfo     *wireQuotaInfo `json:"quotaInfo,omitempty"`
}

// AvailableModelsResponse is the cloud quota response keyed by model slot.
type AvailableModelsResponse struct {
	Models map[string]availableModelEntry `json:"models"`
}

// ToSnapshot converts a cloud response to a QuotaSnapshot. Entries are
// emitted in sorted slot order so repeated fetches produce a stable layout.
func (r *AvailableModelsResponse) ToSnapshot(capturedAt time.Time) *QuotaSnapshot {
	snapshot := &QuotaSnapshot{
		CapturedAt: capturedAt,
		Method:     MethodCloud,
	}
	if r == nil || len(r.Models) == 0 {
		return snapshot
	}

	slots := make([]string, 0, len(r.Models))
	for slot := range r.Models {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	for _, slot := range slots {
		entry := r.Models[slot]
		modelID := strings.TrimSpace(entry.Model)
		if modelID == "" {
			modelID = strings.TrimSpace(slot)
		}
		if modelID == "" {
			continue
		}
		snapshot.Models = append(snapshot.Models, newModelQuota(modelID, entry.DisplayName, entry.QuotaInfo, capturedAt))
	}

	if raw, err := json.Marshal(r); err == nil {
		snapshot.RawJSON = string(raw)
	}
	return snapshot
}

// newModelQuota builds a ModelQuotaInfo from a wire quota block. A missing
// block yields a model with unknown quota, which the detector treats as
// insufficient data.
func newModelQuota(modelID, label string, info *wireQuotaInfo, now time.Time) ModelQuotaInfo {
	m := ModelQuotaInfo{
		ModelID: modelID,
		Label:   strings.TrimSpace(label),
	}
	if info == nil {
		return m
	}

	if info.RemainingFraction != nil {
		f := *info.RemainingFraction
		m.RemainingFraction = &f
		m.IsExhausted = info.IsExhausted || f <= 0
	} else {
		m.IsExhausted = info.IsExhausted
	}

	if info.ResetTime != "" {
		if t, err := time.Parse(time.RFC3339, info.ResetTime); err == nil {
			t = t.UTC()
			m.ResetTime = &t
			m.TimeUntilReset = t.Sub(now)
			if m.TimeUntilReset < 0 {
				m.TimeUntilReset = 0
			}
		}
	}
	return m
}

// ParseUserStatusResponse parses raw JSON bytes from the local API.
func ParseUserStatusResponse(data []byte) (*UserStatusResponse, error) {
	var resp UserStatusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ParseAvailableModelsResponse parses raw JSON bytes from the cloud API.
func ParseAvailableModelsResponse(data []byte) (*AvailableModelsResponse, error) {
	var resp AvailableModelsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
