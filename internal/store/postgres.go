package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stayforge/adsync/internal/models"
)

// PostgresStore persists both tiers in Postgres. The archive's composite
// unique index makes UpsertSummary idempotent: re-running a sync rewrites
// the same row without changing its id.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

const upsertSummarySQL = `
INSERT INTO period_summaries (
	client_id, platform, summary_type, summary_date,
	total_spend, total_impressions, total_clicks, total_conversions,
	average_ctr, average_cpc, average_cpa, roas, cost_per_reservation,
	click_to_call, lead, purchase, purchase_value,
	booking_step_1, booking_step_2, booking_step_3,
	campaign_data, data_source, last_updated
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
ON CONFLICT (client_id, summary_type, summary_date, platform) DO UPDATE SET
	total_spend = EXCLUDED.total_spend,
	total_impressions = EXCLUDED.total_impressions,
	total_clicks = EXCLUDED.total_clicks,
	total_conversions = EXCLUDED.total_conversions,
	average_ctr = EXCLUDED.average_ctr,
	average_cpc = EXCLUDED.average_cpc,
	average_cpa = EXCLUDED.average_cpa,
	roas = EXCLUDED.roas,
	cost_per_reservation = EXCLUDED.cost_per_reservation,
	click_to_call = EXCLUDED.click_to_call,
	lead = EXCLUDED.lead,
	purchase = EXCLUDED.purchase,
	purchase_value = EXCLUDED.purchase_value,
	booking_step_1 = EXCLUDED.booking_step_1,
	booking_step_2 = EXCLUDED.booking_step_2,
	booking_step_3 = EXCLUDED.booking_step_3,
	campaign_data = EXCLUDED.campaign_data,
	data_source = EXCLUDED.data_source,
	last_updated = EXCLUDED.last_updated
RETURNING id`

func (s *PostgresStore) UpsertSummary(ctx context.Context, sum *models.PeriodSummary) error {
	campaignData, err := json.Marshal(sum.CampaignData)
	if err != nil {
		return fmt.Errorf("encode campaign_data: %w", err)
	}
	err = s.pool.QueryRow(ctx, upsertSummarySQL,
		sum.ClientID, sum.Platform, sum.SummaryType, sum.SummaryDate,
		sum.TotalSpend, sum.TotalImpressions, sum.TotalClicks, sum.TotalConversions,
		sum.AverageCTR, sum.AverageCPC, sum.AverageCPA, sum.ROAS, sum.CostPerReservation,
		sum.ClickToCall, sum.Lead, sum.Purchase, sum.PurchaseValue,
		sum.BookingStep1, sum.BookingStep2, sum.BookingStep3,
		campaignData, sum.DataSource, sum.LastUpdated,
	).Scan(&sum.ID)
	if err != nil {
		return fmt.Errorf("upsert summary %s: %w", sum.Key(), err)
	}
	return nil
}

const selectSummaryCols = `
	id, client_id, platform, summary_type, summary_date,
	total_spend, total_impressions, total_clicks, total_conversions,
	average_ctr, average_cpc, average_cpa, roas, cost_per_reservation,
	click_to_call, lead, purchase, purchase_value,
	booking_step_1, booking_step_2, booking_step_3,
	campaign_data, data_source, last_updated`

func scanSummary(row pgx.Row) (*models.PeriodSummary, error) {
	var sum models.PeriodSummary
	var campaignData []byte
	err := row.Scan(
		&sum.ID, &sum.ClientID, &sum.Platform, &sum.SummaryType, &sum.SummaryDate,
		&sum.TotalSpend, &sum.TotalImpressions, &sum.TotalClicks, &sum.TotalConversions,
		&sum.AverageCTR, &sum.AverageCPC, &sum.AverageCPA, &sum.ROAS, &sum.CostPerReservation,
		&sum.ClickToCall, &sum.Lead, &sum.Purchase, &sum.PurchaseValue,
		&sum.BookingStep1, &sum.BookingStep2, &sum.BookingStep3,
		&campaignData, &sum.DataSource, &sum.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	if len(campaignData) > 0 {
		if err := json.Unmarshal(campaignData, &sum.CampaignData); err != nil {
			return nil, fmt.Errorf("decode campaign_data: %w", err)
		}
	}
	return &sum, nil
}

func (s *PostgresStore) GetSummary(ctx context.Context, key models.SummaryKey) (*models.PeriodSummary, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+selectSummaryCols+`
		FROM period_summaries
		WHERE client_id = $1 AND summary_type = $2 AND summary_date = $3 AND platform = $4`,
		key.ClientID, key.SummaryType, key.SummaryDate, key.Platform)
	sum, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get summary %s: %w", key, err)
	}
	return sum, nil
}

func (s *PostgresStore) ListSummaries(ctx context.Context, f SummaryFilter) ([]models.PeriodSummary, error) {
	q := `SELECT` + selectSummaryCols + ` FROM period_summaries WHERE 1=1`
	args := []any{}
	if f.ClientID != "" {
		args = append(args, f.ClientID)
		q += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if f.Platform != "" {
		args = append(args, f.Platform)
		q += fmt.Sprintf(" AND platform = $%d", len(args))
	}
	if f.SummaryType != "" {
		args = append(args, f.SummaryType)
		q += fmt.Sprintf(" AND summary_type = $%d", len(args))
	}
	q += " ORDER BY summary_date, client_id, platform"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []models.PeriodSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("list summaries: %w", err)
		}
		out = append(out, *sum)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutCache(ctx context.Context, e *models.CacheEntry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode cache_data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO current_period_cache (client_id, period_id, cache_data, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, period_id) DO UPDATE SET
			cache_data = EXCLUDED.cache_data,
			last_updated = EXCLUDED.last_updated`,
		e.ClientID, e.PeriodID, data, e.LastUpdated)
	if err != nil {
		return fmt.Errorf("put cache %s/%s: %w", e.ClientID, e.PeriodID, err)
	}
	return nil
}

func (s *PostgresStore) GetCache(ctx context.Context, clientID, periodID string) (*models.CacheEntry, error) {
	e := models.CacheEntry{ClientID: clientID, PeriodID: periodID}
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT cache_data, last_updated FROM current_period_cache
		WHERE client_id = $1 AND period_id = $2`,
		clientID, periodID).Scan(&data, &e.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache %s/%s: %w", clientID, periodID, err)
	}
	if err := json.Unmarshal(data, &e.Data); err != nil {
		return nil, fmt.Errorf("decode cache_data: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) DeleteCache(ctx context.Context, clientID, periodID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM current_period_cache WHERE client_id = $1 AND period_id = $2`,
		clientID, periodID)
	if err != nil {
		return fmt.Errorf("delete cache %s/%s: %w", clientID, periodID, err)
	}
	return nil
}

func (s *PostgresStore) SaveIssues(ctx context.Context, issues []models.ValidationIssue) error {
	for _, is := range issues {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO validation_issues (id, client_id, platform, summary_type, summary_date, kind, detail, detected_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO NOTHING`,
			is.ID, is.ClientID, is.Platform, is.SummaryType, is.SummaryDate, is.Kind, is.Detail, is.DetectedAt)
		if err != nil {
			return fmt.Errorf("save issue %s: %w", is.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListIssues(ctx context.Context, f IssueFilter) ([]models.ValidationIssue, error) {
	q := `SELECT id, client_id, platform, summary_type, summary_date, kind, detail, detected_at
		FROM validation_issues WHERE 1=1`
	args := []any{}
	if f.ClientID != "" {
		args = append(args, f.ClientID)
		q += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		q += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	q += " ORDER BY detected_at DESC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var out []models.ValidationIssue
	for rows.Next() {
		var is models.ValidationIssue
		if err := rows.Scan(&is.ID, &is.ClientID, &is.Platform, &is.SummaryType,
			&is.SummaryDate, &is.Kind, &is.Detail, &is.DetectedAt); err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
