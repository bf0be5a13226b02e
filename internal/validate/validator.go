// Package validate sweeps the permanent archive for data-quality anomalies.
// Findings are advisory: nothing here blocks a read or a write, and nothing
// is ever auto-corrected.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stayforge/adsync/internal/metrics"
	"github.com/stayforge/adsync/internal/models"
	"github.com/stayforge/adsync/internal/period"
	"github.com/stayforge/adsync/internal/store"
)

type Validator struct {
	st    store.Store
	clock period.Clock
	log   *slog.Logger
}

func New(st store.Store, clock period.Clock, log *slog.Logger) *Validator {
	return &Validator{st: st, clock: clock, log: log}
}

// Run checks every archived summary, persists the findings and returns them.
func (v *Validator) Run(ctx context.Context) ([]models.ValidationIssue, error) {
	sums, err := v.st.ListSummaries(ctx, store.SummaryFilter{})
	if err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}

	issues := Check(sums, v.clock.Now())
	for _, is := range issues {
		metrics.ValidationIssues.WithLabelValues(string(is.Kind)).Inc()
	}
	if len(issues) > 0 {
		if err := v.st.SaveIssues(ctx, issues); err != nil {
			return nil, fmt.Errorf("save issues: %w", err)
		}
		v.log.Info("validation sweep found issues", slog.Int("count", len(issues)))
	}
	return issues, nil
}

// Check runs all anomaly rules over a summary set. Pure; exported so tests
// and ad hoc tooling can run it without a store.
func Check(sums []models.PeriodSummary, now time.Time) []models.ValidationIssue {
	var issues []models.ValidationIssue
	add := func(s models.PeriodSummary, kind models.IssueKind, detail string) {
		issues = append(issues, models.ValidationIssue{
			ID:          uuid.NewString(),
			ClientID:    s.ClientID,
			Platform:    s.Platform,
			SummaryType: s.SummaryType,
			SummaryDate: s.SummaryDate,
			Kind:        kind,
			Detail:      detail,
			DetectedAt:  now,
		})
	}

	checkDuplicates(sums, add)

	for _, s := range sums {
		if s.SummaryType == models.SummaryWeekly && s.SummaryDate.Weekday() != time.Monday {
			add(s, models.IssueNonMondayWeek,
				fmt.Sprintf("weekly summary starts on %s", s.SummaryDate.Weekday()))
		}
		if s.TotalSpend == 0 && s.TotalImpressions == 0 && s.TotalClicks == 0 {
			add(s, models.IssueZeroData, "spend, impressions and clicks are all zero")
		}
		checkMonotonicity(s, add)
		checkDataSource(s, add)
	}
	return issues
}

// checkDuplicates flags stored rows sharing one composite key group: a
// store-layer defect, since the upsert key should make this impossible. The
// most recently updated row is treated as canonical and not flagged.
func checkDuplicates(sums []models.PeriodSummary, add func(models.PeriodSummary, models.IssueKind, string)) {
	groups := make(map[string][]models.PeriodSummary)
	for _, s := range sums {
		k := s.Key().String()
		groups[k] = append(groups[k], s)
	}
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].LastUpdated.After(group[j].LastUpdated) })
		for _, dup := range group[1:] {
			add(dup, models.IssueDuplicate,
				fmt.Sprintf("%d rows share this period; row id %d is canonical", len(group), group[0].ID))
		}
	}
}

// A funnel cannot gain volume at a later, stricter stage. The step-3 rule
// only applies once the funnel has any entry volume at all.
func checkMonotonicity(s models.PeriodSummary, add func(models.PeriodSummary, models.IssueKind, string)) {
	if s.BookingStep2 > s.BookingStep1 {
		add(s, models.IssueFunnelMonotonicity,
			fmt.Sprintf("booking_step_2 (%d) exceeds booking_step_1 (%d)", s.BookingStep2, s.BookingStep1))
		return
	}
	if s.BookingStep1 > 0 && s.BookingStep3 > s.BookingStep2 {
		add(s, models.IssueFunnelMonotonicity,
			fmt.Sprintf("booking_step_3 (%d) exceeds booking_step_2 (%d)", s.BookingStep3, s.BookingStep2))
	}
}

func checkDataSource(s models.PeriodSummary, add func(models.PeriodSummary, models.IssueKind, string)) {
	for _, allowed := range s.Platform.DataSources() {
		if s.DataSource == allowed {
			return
		}
	}
	add(s, models.IssueWrongDataSource,
		fmt.Sprintf("data_source %q does not belong to platform %q", s.DataSource, s.Platform))
}
