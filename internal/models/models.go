package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoData is returned when neither a cached snapshot nor an archived
// summary exists for a requested period. Callers must be able to tell this
// apart from a summary whose metrics are legitimately zero.
var ErrNoData = errors.New("no data available for period")

type Platform string

const (
	PlatformMeta   Platform = "meta"
	PlatformGoogle Platform = "google"
)

// LookbackMonths is the hard ceiling on how far back the vendor's API will
// serve insight data. Requests beyond it fail validation before any call.
func (p Platform) LookbackMonths() int {
	switch p {
	case PlatformMeta:
		return 37
	case PlatformGoogle:
		return 48
	default:
		return 0
	}
}

func (p Platform) Valid() bool {
	return p == PlatformMeta || p == PlatformGoogle
}

type SummaryType string

const (
	SummaryWeekly  SummaryType = "weekly"
	SummaryMonthly SummaryType = "monthly"
)

func (t SummaryType) Valid() bool {
	return t == SummaryWeekly || t == SummaryMonthly
}

// DataSource tags which pipeline produced a summary's funnel numbers.
// The *_proxy variants mean booking steps were approximated from standard
// checkout events because the account has no custom funnel events.
type DataSource string

const (
	DataSourceMetaAPI        DataSource = "meta_api"
	DataSourceMetaAPIProxy   DataSource = "meta_api_proxy"
	DataSourceGoogleAPI      DataSource = "google_api"
	DataSourceGoogleAPIProxy DataSource = "google_api_proxy"
)

// DataSources enumerates the tags a summary owned by this platform may carry.
func (p Platform) DataSources() []DataSource {
	switch p {
	case PlatformMeta:
		return []DataSource{DataSourceMetaAPI, DataSourceMetaAPIProxy}
	case PlatformGoogle:
		return []DataSource{DataSourceGoogleAPI, DataSourceGoogleAPIProxy}
	default:
		return nil
	}
}

// Account is one client's identity on one ad platform. The token is
// resolved by the external token module before it reaches this engine.
type Account struct {
	ClientID         string    `json:"client_id"`
	Platform         Platform  `json:"platform"`
	ExternalID       string    `json:"external_id"`
	Token            string    `json:"token"`
	Enabled          bool      `json:"enabled"`
	EarliestActivity time.Time `json:"earliest_activity"`
}

// ActionEntry is one vendor-native action or action-value pair. The value
// arrives as a string on both platforms.
type ActionEntry struct {
	Type  string `json:"action_type"`
	Value string `json:"value"`
}

// RawInsightRecord is one campaign's raw metrics for a date range, straight
// off the vendor wire. Ephemeral: parsed immediately, never persisted.
type RawInsightRecord struct {
	CampaignID   string        `json:"campaign_id"`
	CampaignName string        `json:"campaign_name"`
	Spend        float64       `json:"spend"`
	Impressions  int64         `json:"impressions"`
	Clicks       int64         `json:"clicks"`
	Actions      []ActionEntry `json:"actions"`
	ActionValues []ActionEntry `json:"action_values"`
}

// CanonicalFunnelRecord holds one campaign's normalized conversion counts.
// All fields are non-negative; PurchaseValue accumulates across every
// qualifying action-value entry.
type CanonicalFunnelRecord struct {
	ClickToCall   int64   `json:"click_to_call"`
	Lead          int64   `json:"lead"`
	Purchase      int64   `json:"purchase"`
	PurchaseValue float64 `json:"purchase_value"`
	BookingStep1  int64   `json:"booking_step_1"`
	BookingStep2  int64   `json:"booking_step_2"`
	BookingStep3  int64   `json:"booking_step_3"`
}

// CampaignStat is one campaign's core metrics plus its canonical funnel,
// the unit the aggregator sums over and the row kept in campaign_data.
type CampaignStat struct {
	CampaignID   string                `json:"campaign_id"`
	CampaignName string                `json:"campaign_name"`
	Spend        float64               `json:"spend"`
	Impressions  int64                 `json:"impressions"`
	Clicks       int64                 `json:"clicks"`
	Funnel       CanonicalFunnelRecord `json:"funnel"`
}

// SummaryKey is the composite uniqueness key of the permanent archive.
type SummaryKey struct {
	ClientID    string
	SummaryType SummaryType
	SummaryDate time.Time
	Platform    Platform
}

func (k SummaryKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.ClientID, k.SummaryType, k.SummaryDate.Format("2006-01-02"), k.Platform)
}

// PeriodSummary is the durable aggregate for one closed (or closing) period.
// SummaryDate must be the canonical period start: a Monday for weekly rows,
// the first of the month for monthly rows.
type PeriodSummary struct {
	ID                 int64          `json:"id"`
	ClientID           string         `json:"client_id"`
	Platform           Platform       `json:"platform"`
	SummaryType        SummaryType    `json:"summary_type"`
	SummaryDate        time.Time      `json:"summary_date"`
	TotalSpend         float64        `json:"total_spend"`
	TotalImpressions   int64          `json:"total_impressions"`
	TotalClicks        int64          `json:"total_clicks"`
	TotalConversions   int64          `json:"total_conversions"`
	AverageCTR         float64        `json:"average_ctr"`
	AverageCPC         float64        `json:"average_cpc"`
	AverageCPA         float64        `json:"average_cpa"`
	ROAS               float64        `json:"roas"`
	CostPerReservation float64        `json:"cost_per_reservation"`
	ClickToCall        int64          `json:"click_to_call"`
	Lead               int64          `json:"lead"`
	Purchase           int64          `json:"purchase"`
	PurchaseValue      float64        `json:"purchase_value"`
	BookingStep1       int64          `json:"booking_step_1"`
	BookingStep2       int64          `json:"booking_step_2"`
	BookingStep3       int64          `json:"booking_step_3"`
	CampaignData       []CampaignStat `json:"campaign_data"`
	DataSource         DataSource     `json:"data_source"`
	LastUpdated        time.Time      `json:"last_updated"`
}

func (s *PeriodSummary) Key() SummaryKey {
	return SummaryKey{ClientID: s.ClientID, SummaryType: s.SummaryType, SummaryDate: s.SummaryDate, Platform: s.Platform}
}

// CacheEntry is the short-TTL snapshot for the in-progress period only.
type CacheEntry struct {
	ClientID    string        `json:"client_id"`
	PeriodID    string        `json:"period_id"`
	Data        PeriodSummary `json:"cache_data"`
	LastUpdated time.Time     `json:"last_updated"`
}

type IssueKind string

const (
	IssueDuplicate          IssueKind = "duplicate"
	IssueNonMondayWeek      IssueKind = "non_monday_week"
	IssueZeroData           IssueKind = "zero_data"
	IssueFunnelMonotonicity IssueKind = "funnel_monotonicity"
	IssueWrongDataSource    IssueKind = "wrong_data_source"
)

// ValidationIssue is an advisory finding over the archive. It never blocks
// a read or a write.
type ValidationIssue struct {
	ID          string      `json:"id"`
	ClientID    string      `json:"client_id"`
	Platform    Platform    `json:"platform"`
	SummaryType SummaryType `json:"summary_type"`
	SummaryDate time.Time   `json:"summary_date"`
	Kind        IssueKind   `json:"kind"`
	Detail      string      `json:"detail"`
	DetectedAt  time.Time   `json:"detected_at"`
}

// SyncSource says where the served summary came from.
type SyncSource string

const (
	SourceCache   SyncSource = "cache"   // fresh current-period cache
	SourceLive    SyncSource = "live"    // freshly fetched from the vendor
	SourceArchive SyncSource = "archive" // permanent archive row
	SourceStale   SyncSource = "stale"   // last known-good data after a vendor failure
)

// SyncResult is the outcome of one (client, period) sync request.
type SyncResult struct {
	RunID       string         `json:"run_id"`
	ClientID    string         `json:"client_id"`
	Platform    Platform       `json:"platform"`
	SummaryType SummaryType    `json:"summary_type"`
	PeriodStart time.Time      `json:"period_start"`
	Source      SyncSource     `json:"source"`
	Degraded    bool           `json:"degraded"`
	Error       string         `json:"error,omitempty"`
	Summary     *PeriodSummary `json:"summary,omitempty"`
}
