// Package httpx exposes the engine's read and trigger surface to the rest
// of the system (dashboards, report generation, automation).
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stayforge/adsync/internal/models"
	"github.com/stayforge/adsync/internal/period"
	"github.com/stayforge/adsync/internal/store"
	"github.com/stayforge/adsync/internal/syncer"
	"github.com/stayforge/adsync/internal/utils"
)

type Deps struct {
	Store          store.Store
	Orchestrator   *syncer.Orchestrator
	Accounts       syncer.AccountSource
	Clock          period.Clock
	RequestTimeout time.Duration
}

func NewRouter(log *slog.Logger, d Deps) http.Handler {
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(log))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ready")) })
	mux.Handle("/metrics", promhttp.Handler())

	h := &handlers{d: d, log: log}
	mux.Route("/v1", func(mux chi.Router) {
		mux.Get("/clients/{clientID}/summaries", h.getSummaries)
		mux.Get("/clients/{clientID}/snapshot", h.getSnapshot)
		mux.Post("/clients/{clientID}/sync", h.triggerSync)
		mux.Get("/validation-issues", h.listIssues)
	})
	return mux
}

type handlers struct {
	d   Deps
	log *slog.Logger
}

type apiError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Code: code, Error: msg})
}

// getSummaries serves archived PeriodSummary rows. With ?start= it returns
// the single period; without, every archived period matching the filter.
func (h *handlers) getSummaries(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	platform := models.Platform(r.URL.Query().Get("platform"))
	typ := models.SummaryType(r.URL.Query().Get("type"))

	if start := r.URL.Query().Get("start"); start != "" {
		if !platform.Valid() || !typ.Valid() {
			writeErr(w, 400, "bad_request", "platform and type are required with start")
			return
		}
		day, err := time.Parse("2006-01-02", start)
		if err != nil {
			writeErr(w, 400, "bad_request", "start must be YYYY-MM-DD")
			return
		}
		p := period.For(typ, day)
		sum, err := h.d.Store.GetSummary(r.Context(), models.SummaryKey{
			ClientID: clientID, SummaryType: typ, SummaryDate: p.Start, Platform: platform,
		})
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, 404, "no_data", "no summary for this period")
			return
		}
		if err != nil {
			writeErr(w, 500, "internal", err.Error())
			return
		}
		writeJSON(w, 200, sum)
		return
	}

	sums, err := h.d.Store.ListSummaries(r.Context(), store.SummaryFilter{
		ClientID: clientID, Platform: platform, SummaryType: typ,
	})
	if err != nil {
		writeErr(w, 500, "internal", err.Error())
		return
	}
	writeJSON(w, 200, sums)
}

// getSnapshot serves the in-progress period's cache entry without
// triggering a refresh.
func (h *handlers) getSnapshot(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	platform := models.Platform(r.URL.Query().Get("platform"))
	typ := models.SummaryType(r.URL.Query().Get("type"))
	if !platform.Valid() {
		writeErr(w, 400, "bad_request", "unknown platform")
		return
	}
	if typ == "" {
		typ = models.SummaryWeekly
	}
	if !typ.Valid() {
		writeErr(w, 400, "bad_request", "unknown summary type")
		return
	}

	p := period.Current(typ, h.d.Clock)
	entry, err := h.d.Store.GetCache(r.Context(), clientID, p.ID(platform))
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, 404, "no_data", "no snapshot for the current period")
		return
	}
	if err != nil {
		writeErr(w, 500, "internal", err.Error())
		return
	}
	writeJSON(w, 200, entry)
}

type syncRequest struct {
	Platform     models.Platform    `json:"platform"`
	PeriodType   models.SummaryType `json:"period_type"`
	PeriodStart  string             `json:"period_start"`
	ForceRefresh bool               `json:"force_refresh"`
}

// triggerSync runs one on-demand sync. Vendor work is bounded by the
// request timeout; a degraded result is a 200 with degraded=true, while
// total data absence is a 404 distinct from a zeroed summary.
func (h *handlers) triggerSync(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, 400, "bad_request", "malformed body")
		return
	}
	if !req.Platform.Valid() || !req.PeriodType.Valid() {
		writeErr(w, 400, "bad_request", "unknown platform or period_type")
		return
	}
	start, err := time.Parse("2006-01-02", req.PeriodStart)
	if err != nil {
		writeErr(w, 400, "bad_request", "period_start must be YYYY-MM-DD")
		return
	}

	acct, ok := h.findAccount(r.Context(), clientID, req.Platform)
	if !ok {
		writeErr(w, 404, "unknown_account", "no enabled account for this client and platform")
		return
	}

	ctx := r.Context()
	if h.d.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.d.RequestTimeout)
		defer cancel()
	}

	res, err := h.d.Orchestrator.Sync(ctx, acct, req.PeriodType, start, req.ForceRefresh)
	switch {
	case errors.Is(err, models.ErrNoData):
		writeErr(w, 404, "no_data", err.Error())
	case err != nil:
		var rerr *period.RangeError
		if errors.As(err, &rerr) {
			writeErr(w, 400, "invalid_range", rerr.Error())
			return
		}
		writeErr(w, 502, "sync_failed", err.Error())
	default:
		writeJSON(w, 200, res)
	}
}

func (h *handlers) listIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := h.d.Store.ListIssues(r.Context(), store.IssueFilter{
		ClientID: r.URL.Query().Get("client_id"),
		Kind:     models.IssueKind(r.URL.Query().Get("kind")),
	})
	if err != nil {
		writeErr(w, 500, "internal", err.Error())
		return
	}
	if issues == nil {
		issues = []models.ValidationIssue{}
	}
	writeJSON(w, 200, issues)
}

func (h *handlers) findAccount(ctx context.Context, clientID string, platform models.Platform) (models.Account, bool) {
	accts, err := h.d.Accounts.ListEnabled(ctx)
	if err != nil {
		h.log.Error("list accounts", slog.String("err", err.Error()))
		return models.Account{}, false
	}
	for _, a := range accts {
		if a.ClientID == clientID && a.Platform == platform {
			return a, true
		}
	}
	return models.Account{}, false
}
