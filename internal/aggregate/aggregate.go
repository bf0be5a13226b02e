// Package aggregate folds per-campaign canonical stats into a period
// summary. Every derived ratio resolves division by zero to 0, never
// NaN/Inf.
package aggregate

import (
	"math"
	"time"

	"github.com/stayforge/adsync/internal/models"
)

// Summarize builds the PeriodSummary for one client/platform/period from
// parsed campaign stats. TotalConversions counts the canonical conversion
// events (purchase + lead + click-to-call).
func Summarize(clientID string, platform models.Platform, typ models.SummaryType,
	periodStart time.Time, stats []models.CampaignStat, source models.DataSource,
	now time.Time) models.PeriodSummary {

	s := models.PeriodSummary{
		ClientID:     clientID,
		Platform:     platform,
		SummaryType:  typ,
		SummaryDate:  periodStart,
		CampaignData: stats,
		DataSource:   source,
		LastUpdated:  now,
	}
	for _, c := range stats {
		s.TotalSpend += c.Spend
		s.TotalImpressions += c.Impressions
		s.TotalClicks += c.Clicks
		s.ClickToCall += c.Funnel.ClickToCall
		s.Lead += c.Funnel.Lead
		s.Purchase += c.Funnel.Purchase
		s.PurchaseValue += c.Funnel.PurchaseValue
		s.BookingStep1 += c.Funnel.BookingStep1
		s.BookingStep2 += c.Funnel.BookingStep2
		s.BookingStep3 += c.Funnel.BookingStep3
	}
	s.TotalConversions = s.Purchase + s.Lead + s.ClickToCall

	s.AverageCTR = round4(safeDiv(float64(s.TotalClicks), float64(s.TotalImpressions)))
	s.AverageCPC = round3(safeDiv(s.TotalSpend, float64(s.TotalClicks)))
	s.AverageCPA = round2(safeDiv(s.TotalSpend, float64(s.TotalConversions)))
	s.ROAS = round2(safeDiv(s.PurchaseValue, s.TotalSpend))
	s.CostPerReservation = round2(safeDiv(s.TotalSpend, float64(s.Purchase)))
	return s
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round3(f float64) float64 { return math.Round(f*1000) / 1000 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
