package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stayforge/adsync/internal/config"
	"github.com/stayforge/adsync/internal/connector"
	"github.com/stayforge/adsync/internal/httpx"
	"github.com/stayforge/adsync/internal/parser"
	"github.com/stayforge/adsync/internal/period"
	"github.com/stayforge/adsync/internal/store"
	"github.com/stayforge/adsync/internal/syncer"
	"github.com/stayforge/adsync/internal/validate"
)

func main() {
	cfg := config.FromEnv()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("store init", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer pg.Close()
		st = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	overrides, err := parser.LoadOverrides(cfg.OverridesFile)
	if err != nil {
		logger.Error("load overrides", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var accounts syncer.StaticAccounts
	if cfg.AccountsFile != "" {
		accounts, err = syncer.LoadAccounts(cfg.AccountsFile)
		if err != nil {
			logger.Error("load accounts", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}

	clock := period.SystemClock{}
	httpClient := connector.NewHTTPClient(cfg.HTTPTimeout)
	conns := []connector.Connector{
		connector.NewMetaConnector(cfg.MetaBaseURL, httpClient),
		connector.NewGoogleConnector(cfg.GoogleBaseURL, httpClient),
	}

	orch := syncer.New(st, conns, overrides, clock, syncer.Config{
		FreshnessThreshold: cfg.FreshnessThreshold,
		MaxRetries:         cfg.MaxRetries,
		VendorPacing:       cfg.VendorPacing,
	}, logger)

	validator := validate.New(st, clock, logger)
	runner := syncer.NewRunner(orch, accounts, clock, logger)
	sched := syncer.NewScheduler(runner, validator, cfg.RefreshInterval, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler start", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer sched.Stop()

	r := httpx.NewRouter(logger, httpx.Deps{
		Store:          st,
		Orchestrator:   orch,
		Accounts:       accounts,
		Clock:          clock,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server", slog.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
