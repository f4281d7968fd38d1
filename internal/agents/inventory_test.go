package agents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/pharmasentinel/orchestrator/internal/db"
	"github.com/pharmasentinel/orchestrator/internal/llm"
)

func TestBaselineBurnRates(t *testing.T) {
	drugs := []db.Drug{
		{Name: "Propofol", CurrentStock: 100, DailyUsageRate: 10},
		{Name: "Insulin", CurrentStock: 50, DailyUsageRate: 0},
	}
	signals := baseline(drugs, nil)

	if len(signals) != 2 {
		t.Fatalf("got %d signals, want 2", len(signals))
	}
	if signals[0].BurnRateDays != 10 {
		t.Errorf("burn rate = %v, want 10", signals[0].BurnRateDays)
	}
	if signals[0].PredictedBurnRateDays != 10 {
		t.Errorf("predicted burn = %v, want 10 with no surgical demand", signals[0].PredictedBurnRateDays)
	}
	if signals[0].Trend != "stable" {
		t.Errorf("trend = %q, want stable", signals[0].Trend)
	}

	// Zero usage must not divide by zero; it reads as infinite runway
	if signals[1].BurnRateDays != 0 || signals[1].PredictedBurnRateDays != 0 {
		t.Errorf("zero-usage drug should report zero burn rates: %+v", signals[1])
	}
}

func TestBaselineSurgicalDemandRaisesUsage(t *testing.T) {
	drugs := []db.Drug{{Name: "Propofol", CurrentStock: 140, DailyUsageRate: 10}}
	// 70 units over the 14-day horizon adds 5/day
	demand := map[string]float64{"Propofol": 70}

	signals := baseline(drugs, demand)
	sig := signals[0]

	if sig.PredictedUsageRate != 15 {
		t.Errorf("predicted usage = %v, want 15", sig.PredictedUsageRate)
	}
	if sig.PredictedBurnRateDays < 9.3 || sig.PredictedBurnRateDays > 9.4 {
		t.Errorf("predicted burn = %v, want ~9.33", sig.PredictedBurnRateDays)
	}
	if sig.Trend != "increasing" {
		t.Errorf("trend = %q, want increasing", sig.Trend)
	}
}

func drugColumns() []string {
	return []string{"id", "name", "type", "current_stock", "daily_usage_rate",
		"predicted_daily_usage_rate", "burn_rate_days", "predicted_burn_rate_days",
		"criticality_rank", "price_per_unit", "updated_at"}
}

func TestInventoryTaskMarksBaselineFallback(t *testing.T) {
	deps, mock, cleanup := newTestDeps(t)
	defer cleanup()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	deps.Reasoner = llm.NewClient(llm.Config{
		BaseURL: srv.URL,
		Timeout: time.Second,
	}, zaptest.NewLogger(t))

	mock.ExpectQuery("SELECT id, name, type").WillReturnRows(
		sqlmock.NewRows(drugColumns()).
			AddRow(uuid.New(), "Propofol", "anesthetic", 100.0, 10.0, 0.0, nil, nil, 2, nil, time.Now()))
	mock.ExpectQuery("SELECT id, procedure_name").WillReturnRows(
		sqlmock.NewRows([]string{"id", "procedure_name", "scheduled_date", "drugs_required"}))
	mock.ExpectExec("UPDATE drugs").WillReturnResult(sqlmock.NewResult(0, 1))

	out := InventoryTask{}.Run(context.Background(), deps)

	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, err = %v", out.Status, out.Err)
	}
	if !out.Fallback {
		t.Error("baseline result after a failed reasoning call must carry fallback provenance")
	}
	if v, ok := out.Detail["fallback"].(bool); !ok || !v {
		t.Errorf("detail fallback = %v, want true", out.Detail["fallback"])
	}
	if len(out.Inventory) != 1 || out.Inventory[0].BurnRateDays != 10 {
		t.Errorf("fallback signals should be the arithmetic baseline: %+v", out.Inventory)
	}
}

func TestInventoryTaskNoFallbackWithoutReasoner(t *testing.T) {
	deps, mock, cleanup := newTestDeps(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, name, type").WillReturnRows(
		sqlmock.NewRows(drugColumns()).
			AddRow(uuid.New(), "Propofol", "anesthetic", 100.0, 10.0, 0.0, nil, nil, 2, nil, time.Now()))
	mock.ExpectQuery("SELECT id, procedure_name").WillReturnRows(
		sqlmock.NewRows([]string{"id", "procedure_name", "scheduled_date", "drugs_required"}))
	mock.ExpectExec("UPDATE drugs").WillReturnResult(sqlmock.NewResult(0, 1))

	out := InventoryTask{}.Run(context.Background(), deps)

	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, err = %v", out.Status, out.Err)
	}
	if out.Fallback {
		t.Error("no reasoning attempt was made, result must not be marked fallback")
	}
}

func TestSurgeryDemand(t *testing.T) {
	surgeries := []db.Surgery{
		{DrugsRequired: db.JSONB{"Propofol": 20.0, "Fentanyl": 5.0}},
		{DrugsRequired: db.JSONB{"Propofol": 10.0}},
		{DrugsRequired: db.JSONB{"Propofol": "not a number"}},
	}
	demand := surgeryDemand(surgeries)

	if demand["Propofol"] != 30 {
		t.Errorf("Propofol demand = %v, want 30", demand["Propofol"])
	}
	if demand["Fentanyl"] != 5 {
		t.Errorf("Fentanyl demand = %v, want 5", demand["Fentanyl"])
	}
}
