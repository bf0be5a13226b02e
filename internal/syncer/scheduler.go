package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stayforge/adsync/internal/models"
	"github.com/stayforge/adsync/internal/period"
)

// Outcome is one account's result within a batch job. Failures are
// collected, never propagated: one client's vendor trouble must not abort
// the rest of the batch.
type Outcome struct {
	ClientID string
	Platform models.Platform
	Result   *models.SyncResult
	Err      error
}

// Runner executes the batch jobs over every enabled account. Accounts are
// processed concurrently; the orchestrator's per-vendor limiter paces calls
// that land on the same platform.
type Runner struct {
	orch     *Orchestrator
	accounts AccountSource
	clock    period.Clock
	log      *slog.Logger
}

func NewRunner(orch *Orchestrator, accounts AccountSource, clock period.Clock, log *slog.Logger) *Runner {
	return &Runner{orch: orch, accounts: accounts, clock: clock, log: log}
}

// RefreshCurrent re-syncs the in-progress week and month for every account.
func (r *Runner) RefreshCurrent(ctx context.Context) []Outcome {
	return r.run(ctx, func(ctx context.Context, acct models.Account) []Outcome {
		var out []Outcome
		for _, typ := range []models.SummaryType{models.SummaryWeekly, models.SummaryMonthly} {
			p := period.Current(typ, r.clock)
			res, err := r.orch.Sync(ctx, acct, typ, p.Start, false)
			out = append(out, Outcome{ClientID: acct.ClientID, Platform: acct.Platform, Result: res, Err: err})
		}
		return out
	})
}

// CloseOut archives the most recently closed week and month for every
// account, migrating or replacing their current-period cache rows. The
// summary type travels with each start: a week can begin on the 1st of a
// month, so it cannot be recovered from the date.
func (r *Runner) CloseOut(ctx context.Context) []Outcome {
	return r.run(ctx, func(ctx context.Context, acct models.Account) []Outcome {
		today := period.Day(r.clock.Now())
		targets := []struct {
			typ   models.SummaryType
			start time.Time
		}{
			{models.SummaryWeekly, period.ISOWeekBoundaries(today).Start.AddDate(0, 0, -7)},
			{models.SummaryMonthly, period.MonthBoundaries(today.Year(), today.Month()).Start.AddDate(0, -1, 0)},
		}
		var out []Outcome
		for _, tgt := range targets {
			res, err := r.orch.Sync(ctx, acct, tgt.typ, tgt.start, false)
			out = append(out, Outcome{ClientID: acct.ClientID, Platform: acct.Platform, Result: res, Err: err})
		}
		return out
	})
}

func (r *Runner) run(ctx context.Context, job func(context.Context, models.Account) []Outcome) []Outcome {
	accts, err := r.accounts.ListEnabled(ctx)
	if err != nil {
		r.log.Error("list accounts", slog.String("err", err.Error()))
		return nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out []Outcome
	)
	for _, acct := range accts {
		wg.Add(1)
		go func(acct models.Account) {
			defer wg.Done()
			results := job(ctx, acct)
			mu.Lock()
			out = append(out, results...)
			mu.Unlock()
		}(acct)
	}
	wg.Wait()

	for _, oc := range out {
		if oc.Err != nil {
			r.log.Warn("batch sync failed",
				slog.String("client_id", oc.ClientID),
				slog.String("platform", string(oc.Platform)),
				slog.String("err", oc.Err.Error()))
		}
	}
	return out
}

// IssueFinder is the validator surface the scheduler drives out-of-band.
type IssueFinder interface {
	Run(ctx context.Context) ([]models.ValidationIssue, error)
}

// Scheduler owns the engine's background cadence: current-period refresh on
// a fixed interval, nightly close-out, nightly validation sweep.
type Scheduler struct {
	cron      *cron.Cron
	runner    *Runner
	validator IssueFinder
	interval  time.Duration
	log       *slog.Logger
}

func NewScheduler(runner *Runner, validator IssueFinder, refreshInterval time.Duration, log *slog.Logger) *Scheduler {
	if refreshInterval <= 0 {
		refreshInterval = 3 * time.Hour
	}
	return &Scheduler{cron: cron.New(), runner: runner, validator: validator, interval: refreshInterval, log: log}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		outcomes := s.runner.RefreshCurrent(ctx)
		s.log.Info("refresh batch done", slog.Int("accounts_processed", len(outcomes)))
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("15 0 * * *", func() {
		outcomes := s.runner.CloseOut(ctx)
		s.log.Info("close-out batch done", slog.Int("periods_processed", len(outcomes)))
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("45 2 * * *", func() {
		issues, err := s.validator.Run(ctx)
		if err != nil {
			s.log.Error("validation sweep failed", slog.String("err", err.Error()))
			return
		}
		s.log.Info("validation sweep done", slog.Int("issues", len(issues)))
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started", slog.Duration("refresh_interval", s.interval))
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
