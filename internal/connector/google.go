package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/stayforge/adsync/internal/models"
	"github.com/stayforge/adsync/internal/period"
)

// GoogleConnector queries the Google Ads REST search endpoint with GAQL.
// One fetch issues two bounded calls: campaign core metrics, then the
// per-conversion-action breakdown that feeds the funnel parser.
type GoogleConnector struct {
	base   string // e.g. https://googleads.googleapis.com/v16
	client HTTPClient
}

func NewGoogleConnector(base string, client HTTPClient) *GoogleConnector {
	return &GoogleConnector{base: strings.TrimRight(base, "/"), client: client}
}

func (c *GoogleConnector) Platform() models.Platform { return models.PlatformGoogle }

type googleSearchResp struct {
	Results []googleRow       `json:"results"`
	Error   *googleStatusBody `json:"error"`
}

type googleRow struct {
	Campaign struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"campaign"`
	Metrics struct {
		CostMicros          string  `json:"costMicros"`
		Impressions         string  `json:"impressions"`
		Clicks              string  `json:"clicks"`
		AllConversions      float64 `json:"allConversions"`
		AllConversionsValue float64 `json:"allConversionsValue"`
	} `json:"metrics"`
	Segments struct {
		Date                 string `json:"date"`
		ConversionActionName string `json:"conversionActionName"`
	} `json:"segments"`
}

type googleStatusBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (c *GoogleConnector) FetchInsights(ctx context.Context, acct models.Account, r period.Period, grain Grain) ([]models.RawInsightRecord, error) {
	dateClause := fmt.Sprintf("segments.date BETWEEN '%s' AND '%s'", fmtDate(r.Start), fmtDate(r.End))

	coreSelect := "SELECT campaign.id, campaign.name, metrics.cost_micros, metrics.impressions, metrics.clicks, " +
		"metrics.all_conversions, metrics.all_conversions_value"
	if grain == GrainCampaignDaily {
		coreSelect = strings.Replace(coreSelect, "SELECT ", "SELECT segments.date, ", 1)
	}
	coreQuery := coreSelect + " FROM campaign WHERE " + dateClause

	coreRows, err := c.search(ctx, acct, coreQuery)
	if err != nil {
		return nil, err
	}

	byCampaign := make(map[string]*models.RawInsightRecord)
	order := make([]string, 0, len(coreRows))
	for _, row := range coreRows {
		rec, ok := byCampaign[row.Campaign.ID]
		if !ok {
			rec = &models.RawInsightRecord{CampaignID: row.Campaign.ID, CampaignName: row.Campaign.Name}
			byCampaign[row.Campaign.ID] = rec
			order = append(order, row.Campaign.ID)
		}
		rec.Spend += microsToUnits(row.Metrics.CostMicros)
		rec.Impressions += parseGoogleInt(row.Metrics.Impressions)
		rec.Clicks += parseGoogleInt(row.Metrics.Clicks)
	}

	convQuery := "SELECT campaign.id, segments.conversion_action_name, metrics.all_conversions, " +
		"metrics.all_conversions_value FROM campaign WHERE " + dateClause
	convRows, err := c.search(ctx, acct, convQuery)
	if err != nil {
		return nil, err
	}
	for _, row := range convRows {
		rec, ok := byCampaign[row.Campaign.ID]
		if !ok {
			continue
		}
		name := row.Segments.ConversionActionName
		if name == "" {
			continue
		}
		rec.Actions = append(rec.Actions, models.ActionEntry{
			Type:  name,
			Value: strconv.FormatFloat(row.Metrics.AllConversions, 'f', -1, 64),
		})
		if row.Metrics.AllConversionsValue > 0 {
			rec.ActionValues = append(rec.ActionValues, models.ActionEntry{
				Type:  name,
				Value: strconv.FormatFloat(row.Metrics.AllConversionsValue, 'f', -1, 64),
			})
		}
	}

	out := make([]models.RawInsightRecord, 0, len(order))
	for _, id := range order {
		out = append(out, *byCampaign[id])
	}
	return out, nil
}

func (c *GoogleConnector) search(ctx context.Context, acct models.Account, query string) ([]googleRow, error) {
	payload, _ := json.Marshal(map[string]string{"query": query})
	u := fmt.Sprintf("%s/customers/%s/googleAds:search", c.base, acct.ExternalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(payload)))
	if err != nil {
		return nil, vendorErr(models.PlatformGoogle, KindTransport, 0, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+acct.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, vendorErr(models.PlatformGoogle, KindTransport, 0, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, vendorErr(models.PlatformGoogle, KindTransport, resp.StatusCode, err.Error())
	}

	var decoded googleSearchResp
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, vendorErr(models.PlatformGoogle, KindVendor, resp.StatusCode, "undecodable response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyGoogle(resp.StatusCode, decoded.Error)
	}
	return decoded.Results, nil
}

func classifyGoogle(status int, apiErr *googleStatusBody) *VendorError {
	msg, grpcStatus := "", ""
	if apiErr != nil {
		msg, grpcStatus = apiErr.Message, apiErr.Status
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || grpcStatus == "UNAUTHENTICATED" || grpcStatus == "PERMISSION_DENIED":
		return vendorErr(models.PlatformGoogle, KindCredential, status, msg)
	case status == http.StatusTooManyRequests || grpcStatus == "RESOURCE_EXHAUSTED":
		return vendorErr(models.PlatformGoogle, KindRateLimited, status, msg)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "date"):
		return vendorErr(models.PlatformGoogle, KindInvalidRange, status, msg)
	default:
		return vendorErr(models.PlatformGoogle, KindVendor, status, msg)
	}
}

// REST serializes int64 metrics as strings; cost comes in micros.
func microsToUnits(s string) float64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return float64(v) / 1e6
}

func parseGoogleInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

var _ Connector = (*GoogleConnector)(nil)
