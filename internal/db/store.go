package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store runs the SQL the pipeline needs. Every statement goes through the
// circuit-breaker wrapper; struct scanning uses sqlx against the db tags
// on the model types.
type Store struct {
	client *Client
}

// NewStore creates a store over an existing client.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

func scanAll[T any](rows *sql.Rows, dest *[]T) error {
	defer rows.Close()
	return sqlx.StructScan(rows, dest)
}

// ListDrugs returns the full monitored inventory snapshot.
func (s *Store) ListDrugs(ctx context.Context) ([]Drug, error) {
	rows, err := s.client.db.QueryContext(ctx, `
		SELECT id, name, type, current_stock, daily_usage_rate,
		       predicted_daily_usage_rate, burn_rate_days,
		       predicted_burn_rate_days, criticality_rank, price_per_unit,
		       updated_at
		FROM drugs
		ORDER BY criticality_rank, name`)
	if err != nil {
		return nil, fmt.Errorf("list drugs: %w", err)
	}
	var drugs []Drug
	if err := scanAll(rows, &drugs); err != nil {
		return nil, fmt.Errorf("scan drugs: %w", err)
	}
	return drugs, nil
}

// GetDrugByName returns one drug or sql.ErrNoRows.
func (s *Store) GetDrugByName(ctx context.Context, name string) (*Drug, error) {
	rows, err := s.client.db.QueryContext(ctx, `
		SELECT id, name, type, current_stock, daily_usage_rate,
		       predicted_daily_usage_rate, burn_rate_days,
		       predicted_burn_rate_days, criticality_rank, price_per_unit,
		       updated_at
		FROM drugs WHERE name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("get drug: %w", err)
	}
	var drugs []Drug
	if err := scanAll(rows, &drugs); err != nil {
		return nil, fmt.Errorf("scan drug: %w", err)
	}
	if len(drugs) == 0 {
		return nil, sql.ErrNoRows
	}
	return &drugs[0], nil
}

// UpdateDrugPrediction writes the burn-rate results of an inventory pass
// back onto the drug row.
func (s *Store) UpdateDrugPrediction(ctx context.Context, name string, predictedUsage, burnDays, predictedBurnDays float64) error {
	_, err := s.client.db.ExecContext(ctx, `
		UPDATE drugs
		SET predicted_daily_usage_rate = $1,
		    burn_rate_days = $2,
		    predicted_burn_rate_days = $3,
		    updated_at = NOW()
		WHERE name = $4`,
		predictedUsage, burnDays, predictedBurnDays, name)
	if err != nil {
		return fmt.Errorf("update drug prediction: %w", err)
	}
	return nil
}

// ListOpenShortages returns shortages still marked open, bounded to the
// trailing window so stale records age out of aggregation.
func (s *Store) ListOpenShortages(ctx context.Context, window time.Duration) ([]Shortage, error) {
	rows, err := s.client.db.QueryContext(ctx, `
		SELECT id, drug_name, status, severity, reason, source, reported_at
		FROM shortages
		WHERE status = 'open' AND reported_at > $1
		ORDER BY reported_at DESC`,
		time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("list shortages: %w", err)
	}
	var shortages []Shortage
	if err := scanAll(rows, &shortages); err != nil {
		return nil, fmt.Errorf("scan shortages: %w", err)
	}
	return shortages, nil
}

// InsertShortageIfNew records a shortage unless one from the same source
// for the same drug already exists. Returns true when a row was inserted.
func (s *Store) InsertShortageIfNew(ctx context.Context, sh *Shortage) (bool, error) {
	if sh.ID == uuid.Nil {
		sh.ID = uuid.New()
	}
	res, err := s.client.db.ExecContext(ctx, `
		INSERT INTO shortages (id, drug_name, status, severity, reason, source, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (drug_name, source) DO NOTHING`,
		sh.ID, sh.DrugName, sh.Status, sh.Severity, sh.Reason, sh.Source, sh.ReportedAt)
	if err != nil {
		return false, fmt.Errorf("insert shortage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSuppliersForDrug returns active procurement options for one drug.
func (s *Store) ListSuppliersForDrug(ctx context.Context, drugName string) ([]Supplier, error) {
	rows, err := s.client.db.QueryContext(ctx, `
		SELECT id, name, type, drug_name, price_per_unit, lead_time_days,
		       reliability_score, is_nearby_hospital, active
		FROM suppliers
		WHERE drug_name = $1 AND active = TRUE
		ORDER BY name`, drugName)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	var suppliers []Supplier
	if err := scanAll(rows, &suppliers); err != nil {
		return nil, fmt.Errorf("scan suppliers: %w", err)
	}
	return suppliers, nil
}

// UpsertSubstitute records or refreshes a substitution mapping.
func (s *Store) UpsertSubstitute(ctx context.Context, sub *Substitute) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	_, err := s.client.db.ExecContext(ctx, `
		INSERT INTO substitutes (id, drug_name, substitute_name, notes, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (drug_name, substitute_name)
		DO UPDATE SET notes = EXCLUDED.notes, updated_at = NOW()`,
		sub.ID, sub.DrugName, sub.SubstituteName, sub.Notes)
	if err != nil {
		return fmt.Errorf("upsert substitute: %w", err)
	}
	return nil
}

// InsertOrder creates a new order row.
func (s *Store) InsertOrder(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := s.client.db.ExecContext(ctx, `
		INSERT INTO orders (id, drug_name, quantity, status, urgency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		o.ID, o.DrugName, o.Quantity, o.Status, o.Urgency)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrder rewrites the mutable order fields after a lifecycle step.
func (s *Store) UpdateOrder(ctx context.Context, o *Order) error {
	_, err := s.client.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, supplier_id = $2, supplier_name = $3,
		    unit_price = $4, total_price = $5, failure_note = $6,
		    updated_at = NOW()
		WHERE id = $7`,
		o.Status, o.SupplierID, o.SupplierName, o.UnitPrice, o.TotalPrice, o.FailureNote, o.ID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// ListOrdersByStatus returns orders currently in the given status.
func (s *Store) ListOrdersByStatus(ctx context.Context, status string) ([]Order, error) {
	rows, err := s.client.db.QueryContext(ctx, `
		SELECT id, drug_name, quantity, status, urgency, supplier_id,
		       supplier_name, unit_price, total_price, failure_note,
		       created_at, updated_at
		FROM orders
		WHERE status = $1
		ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var orders []Order
	if err := scanAll(rows, &orders); err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	return orders, nil
}

// InsertAlert writes one notification row.
func (s *Store) InsertAlert(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := s.client.db.ExecContext(ctx, `
		INSERT INTO alerts (id, alert_type, drug_name, title, description, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		a.ID, a.AlertType, a.DrugName, a.Title, a.Description, a.Severity)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// DeduplicateAlerts removes older unacknowledged duplicates, keeping the
// newest row per (alert_type, drug_name, title). Acknowledged alerts are
// untouched. Returns the number of rows deleted.
func (s *Store) DeduplicateAlerts(ctx context.Context) (int64, error) {
	res, err := s.client.db.ExecContext(ctx, `
		DELETE FROM alerts a
		USING alerts b
		WHERE a.acknowledged = FALSE
		  AND b.acknowledged = FALSE
		  AND a.alert_type = b.alert_type
		  AND a.drug_name = b.drug_name
		  AND a.title = b.title
		  AND (a.created_at < b.created_at
		       OR (a.created_at = b.created_at AND a.id < b.id))`)
	if err != nil {
		return 0, fmt.Errorf("deduplicate alerts: %w", err)
	}
	return res.RowsAffected()
}

// InsertAgentLog records one task execution for audit.
func (s *Store) InsertAgentLog(ctx context.Context, log *AgentLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	_, err := s.client.db.ExecContext(ctx, `
		INSERT INTO agent_logs (id, run_id, task, status, summary, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		log.ID, log.RunID, log.Task, log.Status, log.Summary, log.Detail)
	if err != nil {
		return fmt.Errorf("insert agent log: %w", err)
	}
	return nil
}

// UpsertRunSummary records the run outcome; the same run id is written
// once at start and again at completion.
func (s *Store) UpsertRunSummary(ctx context.Context, r *RunSummary) error {
	_, err := s.client.db.ExecContext(ctx, `
		INSERT INTO run_summaries (run_id, kind, status, triggered_by, drugs_at_risk,
		                           orders_suggested, error_detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id)
		DO UPDATE SET status = EXCLUDED.status,
		              drugs_at_risk = EXCLUDED.drugs_at_risk,
		              orders_suggested = EXCLUDED.orders_suggested,
		              error_detail = EXCLUDED.error_detail,
		              finished_at = EXCLUDED.finished_at`,
		r.RunID, r.Kind, r.Status, r.Trigger, r.DrugsAtRisk,
		r.OrdersSuggested, r.ErrorDetail, r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("upsert run summary: %w", err)
	}
	return nil
}

// ListUpcomingSurgeries returns procedures scheduled within the horizon;
// their drug requirements feed the predicted usage rates.
func (s *Store) ListUpcomingSurgeries(ctx context.Context, horizon time.Duration) ([]Surgery, error) {
	rows, err := s.client.db.QueryContext(ctx, `
		SELECT id, procedure_name, scheduled_date, drugs_required
		FROM surgery_schedule
		WHERE scheduled_date >= NOW() AND scheduled_date < $1
		ORDER BY scheduled_date`,
		time.Now().Add(horizon))
	if err != nil {
		return nil, fmt.Errorf("list surgeries: %w", err)
	}
	var surgeries []Surgery
	if err := scanAll(rows, &surgeries); err != nil {
		return nil, fmt.Errorf("scan surgeries: %w", err)
	}
	return surgeries, nil
}
