// Package parser normalizes vendor-native conversion payloads into the
// canonical booking funnel.
//
// Counting rule: within one category the count is the MAXIMUM across all
// matching action entries, not their sum. Vendors report the same physical
// action under several synonym types (a base event plus confirm/pixel
// variants); summing them double- or triple-counts. Purchase values are the
// exception and accumulate across matching action-value entries, because a
// campaign legitimately emits multiple value entries for distinct sales.
package parser

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/stayforge/adsync/internal/metrics"
	"github.com/stayforge/adsync/internal/models"
)

type Parser struct {
	tax       Taxonomy
	overrides OverrideTable
	log       *slog.Logger
}

func New(platform models.Platform, overrides OverrideTable, log *slog.Logger) *Parser {
	if overrides == nil {
		overrides = OverrideTable{}
	}
	return &Parser{tax: TaxonomyFor(platform), overrides: overrides, log: log}
}

// Parse normalizes all campaigns of one account fetch. The returned data
// source is proxy-tagged when any campaign's booking steps were derived
// from checkout proxies instead of configured custom funnel events.
func (p *Parser) Parse(acct models.Account, raws []models.RawInsightRecord) ([]models.CampaignStat, models.DataSource) {
	stats := make([]models.CampaignStat, 0, len(raws))
	proxied := false
	for _, raw := range raws {
		stat, usedProxy := p.parseCampaign(acct, raw)
		proxied = proxied || usedProxy
		stats = append(stats, stat)
	}
	return stats, dataSourceFor(p.tax.Platform, proxied)
}

func (p *Parser) parseCampaign(acct models.Account, raw models.RawInsightRecord) (models.CampaignStat, bool) {
	sets, custom := p.effectiveSets(acct.ExternalID, raw.CampaignName)

	counts := map[Category]float64{}
	for _, a := range raw.Actions {
		cat, ok := classify(sets, a.Type)
		if !ok {
			metrics.UnmappedActions.WithLabelValues(string(p.tax.Platform)).Inc()
			p.log.Debug("unmapped action type",
				slog.String("platform", string(p.tax.Platform)),
				slog.String("account", acct.ExternalID),
				slog.String("action_type", a.Type))
			continue
		}
		v := parseNum(a.Value)
		if v > counts[cat] {
			counts[cat] = v
		}
	}

	// Monetary values accumulate across every qualifying entry. Matching is
	// exact-only: substring matching here would book one sale once per
	// synonym type.
	var purchaseValue float64
	purchaseSet := sets[CatPurchase]
	for _, av := range raw.ActionValues {
		if purchaseSet.matchesExact(normType(av.Type)) {
			purchaseValue += parseNum(av.Value)
		}
	}

	funnel := models.CanonicalFunnelRecord{
		ClickToCall:   round(counts[CatClickToCall]),
		Lead:          round(counts[CatLead]),
		Purchase:      round(counts[CatPurchase]),
		PurchaseValue: purchaseValue,
		BookingStep1:  round(counts[CatBookingStep1]),
		BookingStep2:  round(counts[CatBookingStep2]),
		BookingStep3:  round(counts[CatBookingStep3]),
	}
	usedProxy := !custom && (funnel.BookingStep1 > 0 || funnel.BookingStep2 > 0)

	return models.CampaignStat{
		CampaignID:   raw.CampaignID,
		CampaignName: raw.CampaignName,
		Spend:        maxf(raw.Spend),
		Impressions:  maxi(raw.Impressions),
		Clicks:       maxi(raw.Clicks),
		Funnel:       funnel,
	}, usedProxy
}

// effectiveSets resolves the per-category match sets for one campaign,
// applying account overrides. An override replaces the standard (or proxy)
// set for its category outright, never extends it. The bool reports whether
// any booking step is driven by configured custom events.
func (p *Parser) effectiveSets(accountID, campaignName string) (map[Category]MatchSet, bool) {
	sets := make(map[Category]MatchSet, len(classifyOrder))
	for cat, s := range p.tax.Standard {
		sets[cat] = s
	}
	for cat, s := range p.tax.Proxy {
		sets[cat] = s
	}
	customSteps := false
	for _, o := range p.overrides[accountID] {
		if !o.appliesTo(campaignName) {
			continue
		}
		sets[o.Category] = o.matchSet()
		switch o.Category {
		case CatBookingStep1, CatBookingStep2, CatBookingStep3:
			customSteps = true
		}
	}
	return sets, customSteps
}

// classify assigns one action type to at most one category. Exact matches
// across all categories win before any substring fallback is consulted.
func classify(sets map[Category]MatchSet, actionType string) (Category, bool) {
	t := normType(actionType)
	for _, cat := range classifyOrder {
		if sets[cat].matchesExact(t) {
			return cat, true
		}
	}
	for _, cat := range classifyOrder {
		if sets[cat].matchesSubstring(t) {
			return cat, true
		}
	}
	return "", false
}

func normType(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func parseNum(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func round(f float64) int64 { return int64(math.Round(f)) }

func maxf(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func maxi(i int64) int64 {
	if i < 0 {
		return 0
	}
	return i
}

func dataSourceFor(p models.Platform, proxied bool) models.DataSource {
	switch {
	case p == models.PlatformGoogle && proxied:
		return models.DataSourceGoogleAPIProxy
	case p == models.PlatformGoogle:
		return models.DataSourceGoogleAPI
	case proxied:
		return models.DataSourceMetaAPIProxy
	default:
		return models.DataSourceMetaAPI
	}
}
