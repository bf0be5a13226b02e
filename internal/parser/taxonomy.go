package parser

import (
	"strings"

	"github.com/stayforge/adsync/internal/models"
)

// Category is one canonical funnel bucket every vendor event maps into.
type Category string

const (
	CatClickToCall  Category = "click_to_call"
	CatLead         Category = "lead"
	CatPurchase     Category = "purchase"
	CatBookingStep1 Category = "booking_step_1"
	CatBookingStep2 Category = "booking_step_2"
	CatBookingStep3 Category = "booking_step_3"
)

// MatchSet classifies vendor action types into one category. Exact matches
// are always tried first; substrings are a fallback for taxonomies where the
// vendor appends qualifiers to a stable stem. Purchase never gets
// substrings: a loose purchase test counts one sale once per synonym.
type MatchSet struct {
	Exact      map[string]struct{}
	Substrings []string
}

func exact(types ...string) MatchSet {
	m := make(map[string]struct{}, len(types))
	for _, t := range types {
		m[strings.ToLower(t)] = struct{}{}
	}
	return MatchSet{Exact: m}
}

func (s MatchSet) withSubstrings(subs ...string) MatchSet {
	s.Substrings = subs
	return s
}

func (s MatchSet) matchesExact(actionType string) bool {
	_, ok := s.Exact[actionType]
	return ok
}

func (s MatchSet) matchesSubstring(actionType string) bool {
	for _, sub := range s.Substrings {
		if strings.Contains(actionType, sub) {
			return true
		}
	}
	return false
}

// classifyOrder fixes the category precedence for both match passes. More
// specific buckets come first so a type like "click_to_call_call_confirm"
// can never fall through into a looser bucket via substring matching.
var classifyOrder = []Category{
	CatBookingStep1, CatBookingStep2, CatBookingStep3,
	CatClickToCall, CatPurchase, CatLead,
}

// Taxonomy is one platform's standard mapping. Standard covers events every
// account reports; Proxy covers the documented booking-step approximations
// used when an account has no custom funnel events configured.
type Taxonomy struct {
	Platform models.Platform
	Standard map[Category]MatchSet
	Proxy    map[Category]MatchSet
}

// metaTaxonomy maps the Meta pixel/onsite action types. The purchase set is
// exact on purpose: Meta reports the same sale as "purchase",
// "omni_purchase" and "offsite_conversion.fb_pixel_purchase" at once.
var metaTaxonomy = Taxonomy{
	Platform: models.PlatformMeta,
	Standard: map[Category]MatchSet{
		CatClickToCall: exact(
			"click_to_call",
			"click_to_call_call_confirm",
			"click_to_call_native_call_placed",
			"click_to_call_native_20s_call_connect",
		),
		CatLead: exact(
			"lead",
			"onsite_conversion.lead_grouped",
			"offsite_conversion.fb_pixel_lead",
		),
		CatPurchase: exact(
			"purchase",
			"omni_purchase",
			"onsite_web_purchase",
			"offsite_conversion.fb_pixel_purchase",
		),
	},
	Proxy: map[Category]MatchSet{
		CatBookingStep1: exact(
			"initiate_checkout",
			"omni_initiated_checkout",
			"offsite_conversion.fb_pixel_initiate_checkout",
		),
		CatBookingStep2: exact(
			"add_payment_info",
			"offsite_conversion.fb_pixel_add_payment_info",
		),
		// No safe proxy exists for the final booking step.
	},
}

// googleTaxonomy maps Google Ads conversion-action names, which are
// human-named rather than pixel-typed. Substring fallback covers the call
// variants ("Calls from ads", "Calls from website") that accounts rename.
var googleTaxonomy = Taxonomy{
	Platform: models.PlatformGoogle,
	Standard: map[Category]MatchSet{
		CatClickToCall: exact(
			"click to call",
			"calls from ads",
		).withSubstrings("call"),
		CatLead: exact(
			"lead",
			"submit lead form",
			"contact form",
		),
		CatPurchase: exact(
			"purchase",
			"purchase (website)",
		),
	},
	Proxy: map[Category]MatchSet{
		CatBookingStep1: exact("begin checkout", "initiate checkout"),
		CatBookingStep2: exact("add payment info"),
	},
}

// TaxonomyFor returns the standard mapping for a platform.
func TaxonomyFor(p models.Platform) Taxonomy {
	switch p {
	case models.PlatformGoogle:
		return googleTaxonomy
	default:
		return metaTaxonomy
	}
}
