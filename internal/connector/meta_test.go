package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayforge/adsync/internal/models"
	"github.com/stayforge/adsync/internal/period"
)

var augWeek = period.Period{
	Type:  models.SummaryWeekly,
	Start: time.Date(2025, 8, 11, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 8, 17, 0, 0, 0, 0, time.UTC),
}

func metaAcct() models.Account {
	return models.Account{ClientID: "c1", Platform: models.PlatformMeta, ExternalID: "act_42", Token: "tok"}
}

func TestMetaFetchDecodesStringMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "act_42/insights")
		assert.Equal(t, "campaign", r.URL.Query().Get("level"))
		assert.Contains(t, r.URL.Query().Get("time_range"), "2025-08-11")
		w.Write([]byte(`{"data":[{
			"campaign_id":"cmp1","campaign_name":"Brand",
			"spend":"100.50","impressions":"1000","clicks":"30",
			"actions":[{"action_type":"purchase","value":"2"}],
			"action_values":[{"action_type":"purchase","value":"200"}]
		}]}`))
	}))
	defer srv.Close()

	c := NewMetaConnector(srv.URL, NewHTTPClient(2*time.Second))
	recs, err := c.FetchInsights(context.Background(), metaAcct(), augWeek, GrainCampaign)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "cmp1", recs[0].CampaignID)
	assert.Equal(t, 100.50, recs[0].Spend)
	assert.Equal(t, int64(1000), recs[0].Impressions)
	assert.Equal(t, int64(30), recs[0].Clicks)
	require.Len(t, recs[0].Actions, 1)
	assert.Equal(t, "purchase", recs[0].Actions[0].Type)
}

func TestMetaEmptyResultIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewMetaConnector(srv.URL, NewHTTPClient(2*time.Second))
	recs, err := c.FetchInsights(context.Background(), metaAcct(), augWeek, GrainCampaign)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMetaErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"expired token", 401, `{"error":{"message":"Error validating access token","code":190}}`, KindCredential},
		{"throttled", 400, `{"error":{"message":"User request limit reached","code":17}}`, KindRateLimited},
		{"insights throttled", 400, `{"error":{"message":"Please reduce the amount of data","code":80004}}`, KindRateLimited},
		{"http 429", 429, `{"error":{"message":"too many calls","code":0}}`, KindRateLimited},
		{"bad range", 400, `{"error":{"message":"Invalid time range","code":100}}`, KindInvalidRange},
		{"server error", 500, `{"error":{"message":"unknown","code":1}}`, KindVendor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewMetaConnector(srv.URL, NewHTTPClient(2*time.Second))
			_, err := c.FetchInsights(context.Background(), metaAcct(), augWeek, GrainCampaign)
			var verr *VendorError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.kind, verr.Kind)
			assert.Equal(t, models.PlatformMeta, verr.Platform)
		})
	}
}

func TestMetaTransportErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewMetaConnector(srv.URL, NewHTTPClient(50*time.Millisecond))
	_, err := c.FetchInsights(context.Background(), metaAcct(), augWeek, GrainCampaign)
	var verr *VendorError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindTransport, verr.Kind)
}
