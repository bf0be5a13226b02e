package parser

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// Override maps an account's custom pixel or conversion-action types into
// one canonical category. When an override names a category, it fully
// replaces the platform's standard set for that category on that account:
// a custom event and its standard counterpart describe the same physical
// action and must never be summed together.
type Override struct {
	Category        Category `json:"category"`
	ActionTypes     []string `json:"action_types"`
	CampaignPattern string   `json:"campaign_pattern,omitempty"`
}

// OverrideTable is keyed by the vendor account id.
type OverrideTable map[string][]Override

// LoadOverrides reads the per-account override table from a JSON file.
// A missing path yields an empty table.
func LoadOverrides(path string) (OverrideTable, error) {
	if path == "" {
		return OverrideTable{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	var t OverrideTable
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode overrides: %w", err)
	}
	return t, nil
}

func (o Override) appliesTo(campaignName string) bool {
	if o.CampaignPattern == "" {
		return true
	}
	return strings.Contains(strings.ToLower(campaignName), strings.ToLower(o.CampaignPattern))
}

func (o Override) matchSet() MatchSet {
	return exact(o.ActionTypes...)
}
