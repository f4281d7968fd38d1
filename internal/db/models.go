package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB handles PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Value implements driver.Valuer for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan JSONB: expected []byte, got %T", value)
	}
	return json.Unmarshal(bytes, j)
}

// Drug is one monitored inventory item. The predicted_* columns are
// rewritten by every full run; the rest is hospital master data.
type Drug struct {
	ID                 uuid.UUID `db:"id"`
	Name               string    `db:"name"`
	Type               string    `db:"type"`
	CurrentStock       float64   `db:"current_stock"`
	DailyUsageRate     float64   `db:"daily_usage_rate"`
	PredictedUsageRate float64   `db:"predicted_daily_usage_rate"`
	BurnRateDays       *float64  `db:"burn_rate_days"`
	PredictedBurnDays  *float64  `db:"predicted_burn_rate_days"`
	CriticalityRank    int       `db:"criticality_rank"`
	PricePerUnit       *float64  `db:"price_per_unit"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// Shortage is an externally reported supply disruption for a drug.
type Shortage struct {
	ID         uuid.UUID `db:"id"`
	DrugName   string    `db:"drug_name"`
	Status     string    `db:"status"`
	Severity   string    `db:"severity"`
	Reason     string    `db:"reason"`
	Source     string    `db:"source"`
	ReportedAt time.Time `db:"reported_at"`
}

// Supplier is a procurement option for one drug. Nearby hospitals appear
// here as suppliers of last resort with their own type.
type Supplier struct {
	ID               uuid.UUID `db:"id"`
	Name             string    `db:"name"`
	Type             string    `db:"type"`
	DrugName         string    `db:"drug_name"`
	PricePerUnit     *float64  `db:"price_per_unit"`
	LeadTimeDays     *int      `db:"lead_time_days"`
	ReliabilityScore *float64  `db:"reliability_score"`
	IsNearbyHospital bool      `db:"is_nearby_hospital"`
	Active           bool      `db:"active"`
}

// Substitute maps a drug to a clinically acceptable replacement.
type Substitute struct {
	ID             uuid.UUID `db:"id"`
	DrugName       string    `db:"drug_name"`
	SubstituteName string    `db:"substitute_name"`
	Notes          string    `db:"notes"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Order is one procurement order moving through the order lifecycle.
// Status values and legal transitions live in the supplier package.
type Order struct {
	ID           uuid.UUID  `db:"id"`
	DrugName     string     `db:"drug_name"`
	Quantity     int        `db:"quantity"`
	Status       string     `db:"status"`
	Urgency      string     `db:"urgency"`
	SupplierID   *uuid.UUID `db:"supplier_id"`
	SupplierName *string    `db:"supplier_name"`
	UnitPrice    *float64   `db:"unit_price"`
	TotalPrice   *float64   `db:"total_price"`
	FailureNote  *string    `db:"failure_note"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Alert is a human-facing notification row.
type Alert struct {
	ID          uuid.UUID `db:"id"`
	AlertType   string    `db:"alert_type"`
	DrugName    string    `db:"drug_name"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Severity    string    `db:"severity"`
	// Acknowledged is flipped by the dashboard; acknowledged alerts are
	// exempt from deduplication.
	Acknowledged bool      `db:"acknowledged"`
	CreatedAt    time.Time `db:"created_at"`
}

// AgentLog records one task execution within a run for audit.
type AgentLog struct {
	ID        uuid.UUID `db:"id"`
	RunID     uuid.UUID `db:"run_id"`
	Task      string    `db:"task"`
	Status    string    `db:"status"`
	Summary   string    `db:"summary"`
	Detail    JSONB     `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}

// RunSummary is the persisted outcome of one pipeline run.
type RunSummary struct {
	RunID           uuid.UUID  `db:"run_id"`
	Kind            string     `db:"kind"`
	Status          string     `db:"status"`
	Trigger         string     `db:"triggered_by"`
	DrugsAtRisk     int        `db:"drugs_at_risk"`
	OrdersSuggested int        `db:"orders_suggested"`
	ErrorDetail     *string    `db:"error_detail"`
	StartedAt       time.Time  `db:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"`
}

// Surgery is one scheduled procedure; DrugsRequired maps drug name to
// expected consumption, feeding the predicted usage rates.
type Surgery struct {
	ID            uuid.UUID `db:"id"`
	ProcedureName string    `db:"procedure_name"`
	ScheduledDate time.Time `db:"scheduled_date"`
	DrugsRequired JSONB     `db:"drugs_required"`
}
