package syncer

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayforge/adsync/internal/connector"
	"github.com/stayforge/adsync/internal/models"
	"github.com/stayforge/adsync/internal/period"
	"github.com/stayforge/adsync/internal/store"
)

var testNow = time.Date(2025, 8, 14, 12, 0, 0, 0, time.UTC) // Thursday

const metaBody = `{"data":[{
	"campaign_id":"cmp1","campaign_name":"Brand",
	"spend":"100","impressions":"1000","clicks":"30",
	"actions":[{"action_type":"purchase","value":"1"}],
	"action_values":[{"action_type":"purchase","value":"200"}]
},{
	"campaign_id":"cmp2","campaign_name":"Generic",
	"spend":"50","impressions":"500","clicks":"15",
	"actions":[],"action_values":[]
}]}`

type vendorFake struct {
	srv   *httptest.Server
	calls atomic.Int64
}

// newVendorFake serves metaBody until failAfter calls have been made, then
// answers with the given status/body.
func newVendorFake(failAfter int64, status int, body string) *vendorFake {
	f := &vendorFake{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		if failAfter >= 0 && n > failAfter {
			w.WriteHeader(status)
			w.Write([]byte(body))
			return
		}
		w.Write([]byte(metaBody))
	}))
	return f
}

func testOrch(t *testing.T, srvURL string, st store.Store) *Orchestrator {
	t.Helper()
	conn := connector.NewMetaConnector(srvURL, connector.NewHTTPClient(2*time.Second))
	cfg := Config{
		FreshnessThreshold: 3 * time.Hour,
		MaxRetries:         2,
		RetryBase:          time.Millisecond,
		VendorPacing:       time.Millisecond,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, []connector.Connector{conn}, nil, period.FixedClock{T: testNow}, cfg, log)
}

func acct() models.Account {
	return models.Account{ClientID: "clientX", Platform: models.PlatformMeta, ExternalID: "act_1", Token: "t", Enabled: true}
}

func TestCurrentPeriodMissFetchesAndCaches(t *testing.T) {
	f := newVendorFake(-1, 0, "")
	defer f.srv.Close()
	st := store.NewMemoryStore()
	o := testOrch(t, f.srv.URL, st)
	ctx := context.Background()

	res, err := o.Sync(ctx, acct(), models.SummaryWeekly, testNow, false)
	require.NoError(t, err)
	assert.Equal(t, models.SourceLive, res.Source)
	assert.False(t, res.Degraded)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 150.0, res.Summary.TotalSpend)
	assert.Equal(t, int64(1500), res.Summary.TotalImpressions)
	assert.InDelta(t, 1.33, res.Summary.ROAS, 0.01)
	// Canonical week start resolved from a mid-week date.
	assert.Equal(t, time.Date(2025, 8, 11, 0, 0, 0, 0, time.UTC), res.PeriodStart)

	cached, err := st.GetCache(ctx, "clientX", "meta:weekly:2025-08-11")
	require.NoError(t, err)
	assert.Equal(t, 150.0, cached.Data.TotalSpend)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestFreshCacheServedWithoutVendorCall(t *testing.T) {
	f := newVendorFake(-1, 0, "")
	defer f.srv.Close()
	st := store.NewMemoryStore()
	o := testOrch(t, f.srv.URL, st)
	ctx := context.Background()

	_, err := o.Sync(ctx, acct(), models.SummaryWeekly, testNow, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), f.calls.Load())

	res, err := o.Sync(ctx, acct(), models.SummaryWeekly, testNow, false)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, res.Source)
	assert.Equal(t, int64(1), f.calls.Load(), "fresh cache must not trigger a vendor call")
}

func TestStaleCacheTriggersRefresh(t *testing.T) {
	f := newVendorFake(-1, 0, "")
	defer f.srv.Close()
	st := store.NewMemoryStore()
	o := testOrch(t, f.srv.URL, st)
	ctx := context.Background()

	seed := func(age time.Duration) {
		require.NoError(t, st.PutCache(ctx, &models.CacheEntry{
			ClientID:    "clientX",
			PeriodID:    "meta:weekly:2025-08-11",
			Data:        models.PeriodSummary{TotalSpend: 1},
			LastUpdated: testNow.Add(-age),
		}))
	}

	// 2h59m old: served as-is.
	seed(2*time.Hour + 59*time.Minute)
	res, err := o.Sync(ctx, acct(), models.SummaryWeekly, testNow, false)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, res.Source)
	assert.Equal(t, int64(0), f.calls.Load())

	// 3h01m old: refreshed.
	seed(3*time.Hour + time.Minute)
	res, err = o.Sync(ctx, acct(), models.SummaryWeekly, testNow, false)
	require.NoError(t, err)
	assert.Equal(t, models.SourceLive, res.Source)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestForceRefreshBypassesFreshCache(t *testing.T) {
	f := newVendorFake(-1, 0, "")
	defer f.srv.Close()
	st := store.NewMemoryStore()
	o := testOrch(t, f.srv.URL, st)
	ctx := context.Background()

	_, err := o.Sync(ctx, acct(), models.SummaryWeekly, testNow, false)
	require.NoError(t, err)
	_, err = o.Sync(ctx, acct(), models.SummaryWeekly, testNow, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestClosedPeriodArchivedIdempotently(t *testing.T) {
	f := newVendorFake(-1, 0, "")
	defer f.srv.Close()
	st := store.NewMemoryStore()
	o := testOrch(t, f.srv.URL, st)
	ctx := context.Background()

	lastWeek := time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC)

	res, err := o.Sync(ctx, acct(), models.SummaryWeekly, lastWeek, false)
	require.NoError(t, err)
	assert.Equal(t, models.SourceLive, res.Source)
	firstID := res.Summary.ID
	require.NotZero(t, firstID)

	// Second sync of the same closed period is an archive hit.
	res, err = o.Sync(ctx, acct(), models.SummaryWeekly, lastWeek, false)
	require.NoError(t, err)
	assert.Equal(t, models.SourceArchive, res.Source)
	assert.Equal(t, int64(1), f.calls.Load())

	// Forced re-sync rewrites the same row.
	res, err = o.Sync(ctx, acct(), models.SummaryWeekly, lastWeek, true)
	require.NoError(t, err)
	assert.Equal(t, models.SourceLive, res.Source)
	assert.Equal(t, firstID, res.Summary.ID)

	all, err := st.ListSummaries(ctx, store.SummaryFilter{ClientID: "clientX"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClosedPeriodDropsCacheRow(t *testing.T) {
	f := newVendorFake(-1, 0, "")
	defer f.srv.Close()
	st := store.NewMemoryStore()
	o := testOrch(t, f.srv.URL, st)
	ctx := context.Background()

	// Leftover cache row from when the week was still in progress.
	require.NoError(t, st.PutCache(ctx, &models.CacheEntry{
		ClientID: "clientX", PeriodID: "meta:weekly:2025-08-04",
		Data: models.PeriodSummary{TotalSpend: 10}, LastUpdated: testNow.Add(-5 * 24 * time.Hour),
	}))

	_, err := o.Sync(ctx, acct(), models.SummaryWeekly, time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC), false)
	require.NoError(t, err)

	_, err = st.GetCache(ctx, "clientX", "meta:weekly:2025-08-04")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDegradedServesStaleCache(t *testing.T) {
	f := newVendorFake(1, 500, `{"error":{"message":"boom","code":1}}`)
	defer f.srv.Close()
	st := store.NewMemoryStore()
	o := testOrch(t, f.srv.URL, st)
	ctx := context.Background()

	// First sync succeeds and caches.
	_, err := o.Sync(ctx, acct(), models.SummaryWeekly, testNow, false)
	require.NoError(t, err)

	// Vendor now failing; a forced refresh degrades to the stale snapshot.
	res, err := o.Sync(ctx, acct(), models.SummaryWeekly, testNow, true)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, models.SourceStale, res.Source)
	assert.Equal(t, 150.0, res.Summary.TotalSpend)
	assert.NotEmpty(t, res.Error)
}

func TestNoPriorDataSurfacesErrNoData(t *testing.T) {
	f := newVendorFake(0, 500, `{"error":{"message":"boom","code":1}}`)
	defer f.srv.Close()
	st := store.NewMemoryStore()
	o := testOrch(t, f.srv.URL, st)

	_, err := o.Sync(context.Background(), acct(), models.SummaryWeekly, testNow, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNoData)
}

func TestDegradedClosedPeriodMigratesCacheToArchive(t *testing.T) {
	f := newVendorFake(0, 500, `{"error":{"message":"boom","code":1}}`)
	defer f.srv.Close()
	st := store.NewMemoryStore()
	o := testOrch(t, f.srv.URL, st)
	ctx := context.Background()

	lastWeek := time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.PutCache(ctx, &models.CacheEntry{
		ClientID: "clientX", PeriodID: "meta:weekly:2025-08-04",
		Data: models.PeriodSummary{
			ClientID: "clientX", Platform: models.PlatformMeta,
			SummaryType: models.SummaryWeekly, SummaryDate: lastWeek,
			TotalSpend: 42, DataSource: models.DataSourceMetaAPI,
		},
		LastUpdated: testNow.Add(-4 * 24 * time.Hour),
	}))

	res, err := o.Sync(ctx, acct(), models.SummaryWeekly, lastWeek, false)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, models.SourceStale, res.Source)

	archived, err := st.GetSummary(ctx, models.SummaryKey{
		ClientID: "clientX", SummaryType: models.SummaryWeekly,
		SummaryDate: lastWeek, Platform: models.PlatformMeta,
	})
	require.NoError(t, err)
	assert.Equal(t, 42.0, archived.TotalSpend)

	_, err = st.GetCache(ctx, "clientX", "meta:weekly:2025-08-04")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCredentialErrorNotRetried(t *testing.T) {
	f := newVendorFake(0, 401, `{"error":{"message":"Error validating access token","code":190}}`)
	defer f.srv.Close()
	o := testOrch(t, f.srv.URL, store.NewMemoryStore())

	_, err := o.Sync(context.Background(), acct(), models.SummaryWeekly, testNow, false)
	require.Error(t, err)
	assert.Equal(t, int64(1), f.calls.Load(), "credential failures must not be retried")
}

func TestRateLimitedRetriedWithBackoff(t *testing.T) {
	f := newVendorFake(0, 429, `{"error":{"message":"too many calls","code":17}}`)
	defer f.srv.Close()
	o := testOrch(t, f.srv.URL, store.NewMemoryStore())

	_, err := o.Sync(context.Background(), acct(), models.SummaryWeekly, testNow, false)
	require.Error(t, err)
	assert.Equal(t, int64(3), f.calls.Load(), "MaxRetries=2 means three attempts")
}

func TestLookbackViolationFailsBeforeNetwork(t *testing.T) {
	f := newVendorFake(-1, 0, "")
	defer f.srv.Close()
	o := testOrch(t, f.srv.URL, store.NewMemoryStore())

	// A month far beyond Meta's 37-month lookback.
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := o.Sync(context.Background(), acct(), models.SummaryMonthly, old, false)
	var rerr *period.RangeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, int64(0), f.calls.Load(), "validation must precede any vendor call")
}

func TestFuturePeriodRejected(t *testing.T) {
	f := newVendorFake(-1, 0, "")
	defer f.srv.Close()
	o := testOrch(t, f.srv.URL, store.NewMemoryStore())

	future := time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC)
	_, err := o.Sync(context.Background(), acct(), models.SummaryWeekly, future, false)
	var rerr *period.RangeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, int64(0), f.calls.Load())
}

func TestCloseOutArchivesPreviousWeekAndMonth(t *testing.T) {
	f := newVendorFake(-1, 0, "")
	defer f.srv.Close()
	st := store.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Monday 2025-09-08: the closed week began on September 1st, a date that
	// is also a month start. The weekly target must stay weekly.
	clock := period.FixedClock{T: time.Date(2025, 9, 8, 3, 0, 0, 0, time.UTC)}
	conn := connector.NewMetaConnector(f.srv.URL, connector.NewHTTPClient(2*time.Second))
	o := New(st, []connector.Connector{conn}, nil, clock, Config{
		RetryBase:    time.Millisecond,
		VendorPacing: time.Millisecond,
	}, log)

	r := NewRunner(o, StaticAccounts{acct()}, clock, log)
	outcomes := r.CloseOut(context.Background())
	require.Len(t, outcomes, 2)
	for _, oc := range outcomes {
		require.NoError(t, oc.Err)
	}

	week, err := st.GetSummary(context.Background(), models.SummaryKey{
		ClientID: "clientX", SummaryType: models.SummaryWeekly,
		SummaryDate: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), Platform: models.PlatformMeta,
	})
	require.NoError(t, err, "closed week starting on the 1st must be archived as weekly")
	assert.Equal(t, models.SummaryWeekly, week.SummaryType)

	month, err := st.GetSummary(context.Background(), models.SummaryKey{
		ClientID: "clientX", SummaryType: models.SummaryMonthly,
		SummaryDate: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), Platform: models.PlatformMeta,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SummaryMonthly, month.SummaryType)
}

func TestBatchContinuesOnPerClientFailure(t *testing.T) {
	good := newVendorFake(-1, 0, "")
	defer good.srv.Close()
	st := store.NewMemoryStore()
	o := testOrch(t, good.srv.URL, st)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	accounts := StaticAccounts{
		{ClientID: "clientA", Platform: models.PlatformMeta, ExternalID: "act_a", Token: "t", Enabled: true},
		// Unknown platform: its syncs fail, the batch must not abort.
		{ClientID: "clientB", Platform: models.Platform("bing"), ExternalID: "act_b", Token: "t", Enabled: true},
		{ClientID: "clientC", Platform: models.PlatformMeta, ExternalID: "act_c", Token: "t", Enabled: true},
		{ClientID: "clientD", Platform: models.PlatformMeta, ExternalID: "act_d", Token: "t", Enabled: false},
	}
	r := NewRunner(o, accounts, period.FixedClock{T: testNow}, log)
	outcomes := r.RefreshCurrent(context.Background())

	// Three enabled accounts, two period types each.
	require.Len(t, outcomes, 6)
	byClient := map[string]int{}
	failures := 0
	for _, oc := range outcomes {
		byClient[oc.ClientID]++
		if oc.Err != nil {
			failures++
		}
	}
	assert.Equal(t, 2, byClient["clientA"])
	assert.Equal(t, 2, byClient["clientC"])
	assert.Equal(t, 2, failures, "only the unknown-platform client fails")
	assert.Zero(t, byClient["clientD"], "disabled accounts are skipped")
}
