// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adsync",
		Name:      "syncs_total",
		Help:      "Sync requests by platform and terminal source.",
	}, []string{"platform", "source"})

	SyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adsync",
		Name:      "sync_failures_total",
		Help:      "Vendor failures during sync by platform and error kind.",
	}, []string{"platform", "kind"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adsync",
		Name:      "cache_hits_total",
		Help:      "Current-period cache entries served without a vendor call.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adsync",
		Name:      "cache_misses_total",
		Help:      "Current-period cache misses or stale entries triggering a refresh.",
	})

	UnmappedActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adsync",
		Name:      "unmapped_actions_total",
		Help:      "Vendor action types that matched no canonical category.",
	}, []string{"platform"})

	ValidationIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adsync",
		Name:      "validation_issues_total",
		Help:      "Advisory anomalies found by the validator, by kind.",
	}, []string{"kind"})

	LastSyncUnix = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "adsync",
		Name:      "last_sync_timestamp_seconds",
		Help:      "Unix time of the last successful live sync per client and platform.",
	}, []string{"client_id", "platform"})
)
