// Package store persists the two cache tiers: the short-TTL current-period
// cache and the permanent period-summary archive, plus advisory validation
// issues.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stayforge/adsync/internal/models"
)

var ErrNotFound = errors.New("store: not found")

// SummaryFilter narrows ListSummaries. Zero values match everything.
type SummaryFilter struct {
	ClientID    string
	Platform    models.Platform
	SummaryType models.SummaryType
}

// IssueFilter narrows ListIssues. Zero values match everything.
type IssueFilter struct {
	ClientID string
	Kind     models.IssueKind
}

// Store is the engine's only shared mutable resource. All summary writes go
// through UpsertSummary, whose composite uniqueness key is the concurrency
// boundary: racing writers converge to one row, last write wins on
// last_updated.
type Store interface {
	// UpsertSummary writes idempotently on (client_id, summary_type,
	// summary_date, platform) and fills s.ID with the stable row id.
	UpsertSummary(ctx context.Context, s *models.PeriodSummary) error
	GetSummary(ctx context.Context, key models.SummaryKey) (*models.PeriodSummary, error)
	ListSummaries(ctx context.Context, f SummaryFilter) ([]models.PeriodSummary, error)

	PutCache(ctx context.Context, e *models.CacheEntry) error
	GetCache(ctx context.Context, clientID, periodID string) (*models.CacheEntry, error)
	DeleteCache(ctx context.Context, clientID, periodID string) error

	SaveIssues(ctx context.Context, issues []models.ValidationIssue) error
	ListIssues(ctx context.Context, f IssueFilter) ([]models.ValidationIssue, error)
}

// Fresh reports whether a cache entry may be served without a refresh.
// Staleness is not an error, only a refresh trigger; the boundary is
// inclusive so an entry exactly at the threshold still counts as fresh.
func Fresh(e *models.CacheEntry, now time.Time, threshold time.Duration) bool {
	if e == nil {
		return false
	}
	return now.Sub(e.LastUpdated) <= threshold
}
