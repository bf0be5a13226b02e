package validate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayforge/adsync/internal/models"
	"github.com/stayforge/adsync/internal/period"
	"github.com/stayforge/adsync/internal/store"
)

var now = time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

func baseSummary() models.PeriodSummary {
	return models.PeriodSummary{
		ID:          1,
		ClientID:    "c1",
		Platform:    models.PlatformMeta,
		SummaryType: models.SummaryWeekly,
		SummaryDate: time.Date(2025, 8, 11, 0, 0, 0, 0, time.UTC), // Monday
		TotalSpend:  100,
		DataSource:  models.DataSourceMetaAPI,
		LastUpdated: now,
	}
}

func kinds(issues []models.ValidationIssue) []models.IssueKind {
	out := make([]models.IssueKind, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Kind)
	}
	return out
}

func TestCleanSummaryHasNoIssues(t *testing.T) {
	s := baseSummary()
	s.BookingStep1, s.BookingStep2, s.BookingStep3 = 10, 8, 5
	assert.Empty(t, Check([]models.PeriodSummary{s}, now))
}

func TestMonotonicityViolationFlagged(t *testing.T) {
	s := baseSummary()
	s.BookingStep1, s.BookingStep2 = 10, 25
	issues := Check([]models.PeriodSummary{s}, now)
	assert.Contains(t, kinds(issues), models.IssueFunnelMonotonicity)

	s = baseSummary()
	s.BookingStep1, s.BookingStep2, s.BookingStep3 = 10, 5, 9
	issues = Check([]models.PeriodSummary{s}, now)
	assert.Contains(t, kinds(issues), models.IssueFunnelMonotonicity)
}

func TestDescendingFunnelNotFlagged(t *testing.T) {
	s := baseSummary()
	s.BookingStep1, s.BookingStep2, s.BookingStep3 = 10, 8, 5
	issues := Check([]models.PeriodSummary{s}, now)
	assert.NotContains(t, kinds(issues), models.IssueFunnelMonotonicity)
}

func TestStep3RuleNeedsEntryVolume(t *testing.T) {
	// With no step-1 volume the funnel has no baseline to violate.
	s := baseSummary()
	s.BookingStep1, s.BookingStep2, s.BookingStep3 = 0, 0, 3
	issues := Check([]models.PeriodSummary{s}, now)
	assert.NotContains(t, kinds(issues), models.IssueFunnelMonotonicity)
}

func TestNonMondayWeekFlagged(t *testing.T) {
	s := baseSummary()
	s.SummaryDate = time.Date(2025, 8, 13, 0, 0, 0, 0, time.UTC) // Wednesday
	issues := Check([]models.PeriodSummary{s}, now)
	assert.Contains(t, kinds(issues), models.IssueNonMondayWeek)

	// Monthly rows are exempt regardless of weekday.
	s = baseSummary()
	s.SummaryType = models.SummaryMonthly
	s.SummaryDate = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC) // Friday
	issues = Check([]models.PeriodSummary{s}, now)
	assert.NotContains(t, kinds(issues), models.IssueNonMondayWeek)
}

func TestZeroDataFlagged(t *testing.T) {
	s := baseSummary()
	s.TotalSpend = 0
	issues := Check([]models.PeriodSummary{s}, now)
	assert.Contains(t, kinds(issues), models.IssueZeroData)
}

func TestWrongDataSourceFlagged(t *testing.T) {
	s := baseSummary()
	s.Platform = models.PlatformGoogle
	s.DataSource = models.DataSourceMetaAPI
	issues := Check([]models.PeriodSummary{s}, now)
	assert.Contains(t, kinds(issues), models.IssueWrongDataSource)

	// Proxy variant of the owning platform is legitimate.
	s = baseSummary()
	s.DataSource = models.DataSourceMetaAPIProxy
	issues = Check([]models.PeriodSummary{s}, now)
	assert.NotContains(t, kinds(issues), models.IssueWrongDataSource)
}

func TestDuplicateKeepsMostRecentAsCanonical(t *testing.T) {
	older := baseSummary()
	older.ID = 1
	older.LastUpdated = now.Add(-2 * time.Hour)
	newer := baseSummary()
	newer.ID = 2
	newer.LastUpdated = now

	issues := Check([]models.PeriodSummary{older, newer}, now)
	var dups []models.ValidationIssue
	for _, is := range issues {
		if is.Kind == models.IssueDuplicate {
			dups = append(dups, is)
		}
	}
	require.Len(t, dups, 1, "only the non-canonical row is flagged")
	assert.Contains(t, dups[0].Detail, "row id 2 is canonical")
}

func TestRunPersistsIssues(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	s := baseSummary()
	s.SummaryDate = time.Date(2025, 8, 13, 0, 0, 0, 0, time.UTC) // non-Monday
	s.TotalSpend = 50
	require.NoError(t, st.UpsertSummary(ctx, &s))

	v := New(st, period.FixedClock{T: now}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	issues, err := v.Run(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, issues)

	saved, err := st.ListIssues(ctx, store.IssueFilter{Kind: models.IssueNonMondayWeek})
	require.NoError(t, err)
	assert.Len(t, saved, 1)
	assert.Equal(t, "c1", saved[0].ClientID)
	assert.NotEmpty(t, saved[0].ID)
}
