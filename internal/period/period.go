// Package period computes canonical reporting period boundaries. All values
// are date-only times in UTC, built from integral year/month/day so that
// local-clock arithmetic can never shift a boundary.
package period

import (
	"fmt"
	"time"

	"github.com/stayforge/adsync/internal/models"
)

// Clock supplies "today" so range validation and current-period resolution
// are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// Period is an inclusive date range with its summary type.
type Period struct {
	Type  models.SummaryType
	Start time.Time
	End   time.Time
}

// ID is the current-period cache key, e.g. "meta:weekly:2025-08-11".
func (p Period) ID(platform models.Platform) string {
	return fmt.Sprintf("%s:%s:%s", platform, p.Type, p.Start.Format("2006-01-02"))
}

// Closed reports whether the period's last day is fully in the past.
func (p Period) Closed(clock Clock) bool {
	return p.End.Before(Day(clock.Now()))
}

// Day truncates to a date-only UTC value.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthBoundaries returns the first and last calendar day of the month,
// inclusive.
func MonthBoundaries(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return Period{Type: models.SummaryMonthly, Start: start, End: end}
}

// ISOWeekBoundaries returns the Monday-through-Sunday week containing d.
// The start is always a Monday.
func ISOWeekBoundaries(d time.Time) Period {
	day := Day(d)
	offset := (int(day.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	start := day.AddDate(0, 0, -offset)
	return Period{Type: models.SummaryWeekly, Start: start, End: start.AddDate(0, 0, 6)}
}

// For resolves the canonical period of the given type containing date.
func For(t models.SummaryType, date time.Time) Period {
	if t == models.SummaryWeekly {
		return ISOWeekBoundaries(date)
	}
	d := Day(date)
	return MonthBoundaries(d.Year(), d.Month())
}

// Current resolves the in-progress period of the given type.
func Current(t models.SummaryType, clock Clock) Period {
	return For(t, clock.Now())
}

// AllTimeRange spans from the account's earliest activity to today, clamped
// to the vendor's lookback ceiling.
func AllTimeRange(earliest time.Time, lookbackMonths int, clock Clock) Period {
	today := Day(clock.Now())
	floor := today.AddDate(0, -lookbackMonths, 0)
	start := Day(earliest)
	if start.Before(floor) {
		start = floor
	}
	return Period{Start: start, End: today}
}

// RangeError rejects a date range before any vendor call is made.
type RangeError struct {
	Start, End time.Time
	Reason     string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid range %s..%s: %s",
		e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"), e.Reason)
}

// ValidateRange fails when start >= end, when end runs past the last day of
// the current month, or when start precedes the vendor lookback floor.
// Pure and I/O-free; it must run before any network call.
func ValidateRange(start, end time.Time, lookbackMonths int, clock Clock) error {
	start, end = Day(start), Day(end)
	if !start.Before(end) {
		return &RangeError{Start: start, End: end, Reason: "start must precede end"}
	}
	now := Day(clock.Now())
	monthEnd := MonthBoundaries(now.Year(), now.Month()).End
	if end.After(monthEnd) {
		return &RangeError{Start: start, End: end, Reason: "end is beyond the current month"}
	}
	floor := now.AddDate(0, -lookbackMonths, 0)
	if start.Before(floor) {
		return &RangeError{Start: start, End: end,
			Reason: fmt.Sprintf("start precedes the %d-month vendor lookback", lookbackMonths)}
	}
	return nil
}
