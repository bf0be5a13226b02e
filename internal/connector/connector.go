// Package connector fetches raw per-campaign insight records from the ad
// platforms. Connectors perform the vendor HTTP calls and nothing else: no
// parsing into canonical form, no aggregation, and no retries — retry
// policy lives in the sync orchestrator.
package connector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stayforge/adsync/internal/models"
	"github.com/stayforge/adsync/internal/period"
)

// Grain selects how the vendor rolls up the rows.
type Grain string

const (
	GrainCampaign      Grain = "campaign"       // one row per campaign for the whole range
	GrainCampaignDaily Grain = "campaign_daily" // one row per campaign per day
)

// Connector is one vendor's fetch contract. The account carries its own
// already-resolved bearer credential; there is no shared client state.
type Connector interface {
	Platform() models.Platform
	FetchInsights(ctx context.Context, acct models.Account, r period.Period, grain Grain) ([]models.RawInsightRecord, error)
}

// ErrorKind classifies vendor failures so the orchestrator can pick a
// policy: credential errors are fatal for the account, rate limits are
// retried with backoff, invalid ranges are caller bugs.
type ErrorKind string

const (
	KindCredential   ErrorKind = "credential"
	KindRateLimited  ErrorKind = "rate_limited"
	KindInvalidRange ErrorKind = "invalid_range"
	KindTransport    ErrorKind = "transport"
	KindVendor       ErrorKind = "vendor"
)

type VendorError struct {
	Platform models.Platform
	Kind     ErrorKind
	Status   int
	Message  string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s: %s (status=%d): %s", e.Platform, e.Kind, e.Status, e.Message)
}

func vendorErr(p models.Platform, kind ErrorKind, status int, msg string) *VendorError {
	return &VendorError{Platform: p, Kind: kind, Status: status, Message: msg}
}

// HTTPClient is satisfied by *http.Client; tests inject fakes through it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}

func fmtDate(t time.Time) string { return t.Format("2006-01-02") }
