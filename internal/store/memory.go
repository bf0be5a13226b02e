package store

import (
	"context"
	"sync"

	"github.com/stayforge/adsync/internal/models"
)

// MemoryStore keeps both tiers in process memory. It backs tests and the
// no-database deployment mode; semantics mirror the Postgres store.
type MemoryStore struct {
	mu        sync.RWMutex
	summaries map[string]*models.PeriodSummary // SummaryKey.String()
	cache     map[string]*models.CacheEntry    // clientID|periodID
	issues    []models.ValidationIssue
	nextID    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries: make(map[string]*models.PeriodSummary),
		cache:     make(map[string]*models.CacheEntry),
		nextID:    1,
	}
}

func (s *MemoryStore) UpsertSummary(_ context.Context, sum *models.PeriodSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sum.Key().String()
	if existing, ok := s.summaries[k]; ok {
		sum.ID = existing.ID
	} else {
		sum.ID = s.nextID
		s.nextID++
	}
	cp := *sum
	s.summaries[k] = &cp
	return nil
}

func (s *MemoryStore) GetSummary(_ context.Context, key models.SummaryKey) (*models.PeriodSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sum
	return &cp, nil
}

func (s *MemoryStore) ListSummaries(_ context.Context, f SummaryFilter) ([]models.PeriodSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PeriodSummary, 0, len(s.summaries))
	for _, sum := range s.summaries {
		if f.ClientID != "" && sum.ClientID != f.ClientID {
			continue
		}
		if f.Platform != "" && sum.Platform != f.Platform {
			continue
		}
		if f.SummaryType != "" && sum.SummaryType != f.SummaryType {
			continue
		}
		out = append(out, *sum)
	}
	return out, nil
}

func cacheKey(clientID, periodID string) string { return clientID + "|" + periodID }

func (s *MemoryStore) PutCache(_ context.Context, e *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.cache[cacheKey(e.ClientID, e.PeriodID)] = &cp
	return nil
}

func (s *MemoryStore) GetCache(_ context.Context, clientID, periodID string) (*models.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[cacheKey(clientID, periodID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) DeleteCache(_ context.Context, clientID, periodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, cacheKey(clientID, periodID))
	return nil
}

func (s *MemoryStore) SaveIssues(_ context.Context, issues []models.ValidationIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append(s.issues, issues...)
	return nil
}

func (s *MemoryStore) ListIssues(_ context.Context, f IssueFilter) ([]models.ValidationIssue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ValidationIssue
	for _, is := range s.issues {
		if f.ClientID != "" && is.ClientID != f.ClientID {
			continue
		}
		if f.Kind != "" && is.Kind != f.Kind {
			continue
		}
		out = append(out, is)
	}
	return out, nil
}
