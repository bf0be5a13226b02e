// Package syncer decides cache-hit vs refresh for every (client, period)
// request and drives the Connector → Parser → Aggregator → Store pipeline.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/stayforge/adsync/internal/aggregate"
	"github.com/stayforge/adsync/internal/connector"
	"github.com/stayforge/adsync/internal/metrics"
	"github.com/stayforge/adsync/internal/models"
	"github.com/stayforge/adsync/internal/parser"
	"github.com/stayforge/adsync/internal/period"
	"github.com/stayforge/adsync/internal/store"
)

// state names the orchestrator's request lifecycle, used for logging only.
type state string

const (
	stateRequested   state = "REQUESTED"
	stateCacheCheck  state = "CACHE_CHECK"
	stateFetching    state = "FETCHING"
	stateParsing     state = "PARSING"
	stateAggregating state = "AGGREGATING"
	statePersisting  state = "PERSISTING"
	stateServe       state = "SERVE"
	stateDegraded    state = "DEGRADED"
)

type Config struct {
	// FreshnessThreshold is the current-period cache TTL.
	FreshnessThreshold time.Duration
	// MaxRetries bounds retry attempts for retryable vendor failures.
	MaxRetries int
	RetryBase  time.Duration
	// VendorPacing is the minimum gap between consecutive calls to one
	// vendor, shared by all clients.
	VendorPacing time.Duration
}

func (c Config) withDefaults() Config {
	if c.FreshnessThreshold <= 0 {
		c.FreshnessThreshold = 3 * time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.VendorPacing <= 0 {
		c.VendorPacing = 300 * time.Millisecond
	}
	return c
}

type Orchestrator struct {
	st       store.Store
	conns    map[models.Platform]connector.Connector
	parsers  map[models.Platform]*parser.Parser
	limiters map[models.Platform]*rate.Limiter
	breakers map[models.Platform]*gobreaker.CircuitBreaker[[]models.RawInsightRecord]
	clock    period.Clock
	cfg      Config
	log      *slog.Logger
}

func New(st store.Store, conns []connector.Connector, overrides parser.OverrideTable,
	clock period.Clock, cfg Config, log *slog.Logger) *Orchestrator {

	cfg = cfg.withDefaults()
	o := &Orchestrator{
		st:       st,
		conns:    make(map[models.Platform]connector.Connector, len(conns)),
		parsers:  make(map[models.Platform]*parser.Parser, len(conns)),
		limiters: make(map[models.Platform]*rate.Limiter, len(conns)),
		breakers: make(map[models.Platform]*gobreaker.CircuitBreaker[[]models.RawInsightRecord], len(conns)),
		clock:    clock,
		cfg:      cfg,
		log:      log,
	}
	for _, c := range conns {
		p := c.Platform()
		o.conns[p] = c
		o.parsers[p] = parser.New(p, overrides, log)
		// One token per pacing interval serializes consecutive calls to the
		// same vendor across all clients; different vendors never contend.
		o.limiters[p] = rate.NewLimiter(rate.Every(cfg.VendorPacing), 1)
		o.breakers[p] = newBreaker(p, log)
	}
	return o
}

func newBreaker(p models.Platform, log *slog.Logger) *gobreaker.CircuitBreaker[[]models.RawInsightRecord] {
	return gobreaker.NewCircuitBreaker[[]models.RawInsightRecord](gobreaker.Settings{
		Name:        string(p) + "-insights",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// Sync serves one (client, period) request. A connector failure degrades to
// the last known-good cached or archived value instead of propagating; only
// the total absence of any prior data surfaces models.ErrNoData so callers
// can tell "fetch failed" from "legitimately zero activity".
func (o *Orchestrator) Sync(ctx context.Context, acct models.Account, typ models.SummaryType,
	periodStart time.Time, force bool) (*models.SyncResult, error) {

	if !acct.Platform.Valid() {
		return nil, fmt.Errorf("unknown platform %q", acct.Platform)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown summary type %q", typ)
	}

	p := period.For(typ, periodStart)
	res := &models.SyncResult{
		RunID:       uuid.NewString(),
		ClientID:    acct.ClientID,
		Platform:    acct.Platform,
		SummaryType: typ,
		PeriodStart: p.Start,
	}
	log := o.log.With(
		slog.String("run_id", res.RunID),
		slog.String("client_id", acct.ClientID),
		slog.String("platform", string(acct.Platform)),
		slog.String("period", p.ID(acct.Platform)))
	log.Debug("sync", slog.String("state", string(stateRequested)))

	// Range validation is pure and happens before any vendor call.
	fetchRange, err := o.fetchRange(p, acct.Platform)
	if err != nil {
		return nil, err
	}

	if p.Closed(o.clock) {
		return o.syncClosed(ctx, acct, p, fetchRange, force, res, log)
	}
	return o.syncCurrent(ctx, acct, p, fetchRange, force, res, log)
}

// fetchRange clamps the period to today (the vendor has no data for future
// days of an in-progress period) and enforces the platform's lookback
// ceiling. Both bounds are inclusive; a period starting today yields a
// one-day window.
func (o *Orchestrator) fetchRange(p period.Period, platform models.Platform) (period.Period, error) {
	today := period.Day(o.clock.Now())
	r := p
	if r.Start.After(today) {
		return period.Period{}, &period.RangeError{Start: p.Start, End: p.End, Reason: "period is entirely in the future"}
	}
	if r.End.After(today) {
		r.End = today
	}
	floor := today.AddDate(0, -platform.LookbackMonths(), 0)
	if r.Start.Before(floor) {
		return period.Period{}, &period.RangeError{Start: p.Start, End: p.End,
			Reason: fmt.Sprintf("start precedes the %d-month vendor lookback", platform.LookbackMonths())}
	}
	return r, nil
}

func (o *Orchestrator) syncClosed(ctx context.Context, acct models.Account, p, fetchRange period.Period,
	force bool, res *models.SyncResult, log *slog.Logger) (*models.SyncResult, error) {

	key := models.SummaryKey{ClientID: acct.ClientID, SummaryType: p.Type, SummaryDate: p.Start, Platform: acct.Platform}
	if !force {
		if sum, err := o.st.GetSummary(ctx, key); err == nil {
			res.Source = models.SourceArchive
			res.Summary = sum
			metrics.SyncsTotal.WithLabelValues(string(acct.Platform), string(models.SourceArchive)).Inc()
			return res, nil
		}
	}

	sum, err := o.refresh(ctx, acct, p, fetchRange, log)
	if err != nil {
		return o.degradeClosed(ctx, acct, p, key, res, err, log)
	}

	log.Debug("sync", slog.String("state", string(statePersisting)))
	if err := o.st.UpsertSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("persist summary: %w", err)
	}
	// The period is closed: its current-period cache row is obsolete.
	if err := o.st.DeleteCache(ctx, acct.ClientID, p.ID(acct.Platform)); err != nil {
		log.Warn("drop cache row after close", slog.String("err", err.Error()))
	}
	res.Source = models.SourceLive
	res.Summary = sum
	metrics.SyncsTotal.WithLabelValues(string(acct.Platform), string(models.SourceLive)).Inc()
	metrics.LastSyncUnix.WithLabelValues(acct.ClientID, string(acct.Platform)).Set(float64(o.clock.Now().Unix()))
	log.Debug("sync", slog.String("state", string(stateServe)))
	return res, nil
}

func (o *Orchestrator) syncCurrent(ctx context.Context, acct models.Account, p, fetchRange period.Period,
	force bool, res *models.SyncResult, log *slog.Logger) (*models.SyncResult, error) {

	periodID := p.ID(acct.Platform)
	log.Debug("sync", slog.String("state", string(stateCacheCheck)))
	cached, cacheErr := o.st.GetCache(ctx, acct.ClientID, periodID)
	if cacheErr == nil && !force && store.Fresh(cached, o.clock.Now(), o.cfg.FreshnessThreshold) {
		metrics.CacheHits.Inc()
		metrics.SyncsTotal.WithLabelValues(string(acct.Platform), string(models.SourceCache)).Inc()
		res.Source = models.SourceCache
		res.Summary = &cached.Data
		return res, nil
	}
	metrics.CacheMisses.Inc()

	sum, err := o.refresh(ctx, acct, p, fetchRange, log)
	if err != nil {
		return o.degradeCurrent(acct, cached, res, err, log)
	}

	log.Debug("sync", slog.String("state", string(statePersisting)))
	entry := &models.CacheEntry{
		ClientID:    acct.ClientID,
		PeriodID:    periodID,
		Data:        *sum,
		LastUpdated: o.clock.Now(),
	}
	if err := o.st.PutCache(ctx, entry); err != nil {
		return nil, fmt.Errorf("write cache: %w", err)
	}
	res.Source = models.SourceLive
	res.Summary = sum
	metrics.SyncsTotal.WithLabelValues(string(acct.Platform), string(models.SourceLive)).Inc()
	metrics.LastSyncUnix.WithLabelValues(acct.ClientID, string(acct.Platform)).Set(float64(o.clock.Now().Unix()))
	log.Debug("sync", slog.String("state", string(stateServe)))
	return res, nil
}

// refresh runs the full fetch → parse → aggregate cycle. Nothing is written
// until the cycle completes, so an abandoned run leaves at worst a stale row.
func (o *Orchestrator) refresh(ctx context.Context, acct models.Account, p, fetchRange period.Period,
	log *slog.Logger) (*models.PeriodSummary, error) {

	log.Debug("sync", slog.String("state", string(stateFetching)))
	raws, err := o.fetch(ctx, acct, fetchRange)
	if err != nil {
		return nil, err
	}

	log.Debug("sync", slog.String("state", string(stateParsing)))
	stats, source := o.parsers[acct.Platform].Parse(acct, raws)

	log.Debug("sync", slog.String("state", string(stateAggregating)))
	sum := aggregate.Summarize(acct.ClientID, acct.Platform, p.Type, p.Start, stats, source, o.clock.Now())
	return &sum, nil
}

// fetch applies the shared vendor pacing, the circuit breaker and the retry
// policy: rate limits and transport blips retry with exponential backoff;
// credential and range errors fail immediately because retrying cannot fix
// them.
func (o *Orchestrator) fetch(ctx context.Context, acct models.Account, r period.Period) ([]models.RawInsightRecord, error) {
	conn := o.conns[acct.Platform]
	if conn == nil {
		return nil, fmt.Errorf("no connector for platform %q", acct.Platform)
	}
	br := o.breakers[acct.Platform]
	lim := o.limiters[acct.Platform]

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, o.cfg.RetryBase*(1<<(attempt-1))); err != nil {
				return nil, err
			}
		}
		recs, err := br.Execute(func() ([]models.RawInsightRecord, error) {
			if err := lim.Wait(ctx); err != nil {
				return nil, err
			}
			return conn.FetchInsights(ctx, acct, r, connector.GrainCampaign)
		})
		if err == nil {
			return recs, nil
		}
		lastErr = err

		var verr *connector.VendorError
		if errors.As(err, &verr) {
			metrics.SyncFailures.WithLabelValues(string(acct.Platform), string(verr.Kind)).Inc()
			if verr.Kind == connector.KindRateLimited || verr.Kind == connector.KindTransport {
				continue
			}
		}
		return nil, lastErr
	}
	return nil, lastErr
}

func (o *Orchestrator) degradeClosed(ctx context.Context, acct models.Account, p period.Period,
	key models.SummaryKey, res *models.SyncResult, cause error, log *slog.Logger) (*models.SyncResult, error) {

	log.Warn("sync degraded", slog.String("state", string(stateDegraded)), slog.String("err", cause.Error()))
	res.Degraded = true
	res.Error = cause.Error()

	if sum, err := o.st.GetSummary(ctx, key); err == nil {
		res.Source = models.SourceStale
		res.Summary = sum
		metrics.SyncsTotal.WithLabelValues(string(acct.Platform), string(models.SourceStale)).Inc()
		return res, nil
	}
	// The period closed before a refresh ever archived it, but a cache row
	// from when it was current may survive: migrate it into the archive so
	// the data is not lost, then drop the cache row.
	if cached, err := o.st.GetCache(ctx, acct.ClientID, p.ID(acct.Platform)); err == nil {
		sum := cached.Data
		if err := o.st.UpsertSummary(ctx, &sum); err == nil {
			if err := o.st.DeleteCache(ctx, acct.ClientID, cached.PeriodID); err != nil {
				log.Warn("drop migrated cache row", slog.String("err", err.Error()))
			}
			res.Source = models.SourceStale
			res.Summary = &sum
			metrics.SyncsTotal.WithLabelValues(string(acct.Platform), string(models.SourceStale)).Inc()
			return res, nil
		}
	}
	return nil, fmt.Errorf("%w (fetch failed: %s)", models.ErrNoData, cause)
}

func (o *Orchestrator) degradeCurrent(acct models.Account, cached *models.CacheEntry,
	res *models.SyncResult, cause error, log *slog.Logger) (*models.SyncResult, error) {

	log.Warn("sync degraded", slog.String("state", string(stateDegraded)), slog.String("err", cause.Error()))
	res.Degraded = true
	res.Error = cause.Error()

	if cached != nil {
		// Stale-but-available beats nothing.
		res.Source = models.SourceStale
		res.Summary = &cached.Data
		metrics.SyncsTotal.WithLabelValues(string(acct.Platform), string(models.SourceStale)).Inc()
		return res, nil
	}
	return nil, fmt.Errorf("%w (fetch failed: %s)", models.ErrNoData, cause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
