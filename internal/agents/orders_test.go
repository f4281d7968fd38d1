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
	"github.com/pharmasentinel/orchestrator/internal/risk"
)

func newTestDeps(t *testing.T) (*Deps, sqlmock.Sqlmock, func()) {
	t.Helper()
	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	client := db.NewClientFromDB(rawDB, zaptest.NewLogger(t))
	deps := &Deps{
		Store:      db.NewStore(client),
		RiskConfig: risk.DefaultConfig(),
		Logger:     zaptest.NewLogger(t),
	}
	return deps, mock, func() { _ = client.Close() }
}

func supplierColumns() []string {
	return []string{"id", "name", "type", "drug_name", "price_per_unit",
		"lead_time_days", "reliability_score", "is_nearby_hospital", "active"}
}

func TestOrderTaskSuggestsCheapestSupplier(t *testing.T) {
	deps, mock, cleanup := newTestDeps(t)
	defer cleanup()

	cheapID := uuid.New()
	rows := sqlmock.NewRows(supplierColumns()).
		AddRow(uuid.New(), "PricierPharm", "distributor", "Propofol", 12.0, 1, 0.99, false, true).
		AddRow(cheapID, "MedSupply Co", "manufacturer", "Propofol", 10.0, 2, 0.9, false, true)

	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1)) // ANALYZING
	mock.ExpectQuery("SELECT id, name, type, drug_name").WithArgs("Propofol").WillReturnRows(rows)
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1)) // SUGGESTED
	mock.ExpectExec("UPDATE orders").
		WithArgs("SUGGESTED", sqlmock.AnyArg(), "MedSupply Co", 10.0, 1000.0, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO alerts").WillReturnResult(sqlmock.NewResult(0, 1))

	task := OrderTask{Requests: []risk.OrderRequest{
		{DrugName: "Propofol", Quantity: 100, Urgency: risk.UrgencyExpedited},
	}}
	out := task.Run(context.Background(), deps)

	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, err = %v", out.Status, out.Err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOrderTaskFallsBackOnInvalidReasonedPick(t *testing.T) {
	deps, mock, cleanup := newTestDeps(t)
	defer cleanup()

	// The service names a supplier outside the candidate set; the
	// deterministic selection must stand and the outcome carry provenance.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output": {"supplier_id": "not-a-candidate", "rationale": "trust me"}}`))
	}))
	defer srv.Close()
	deps.Reasoner = llm.NewClient(llm.Config{
		BaseURL: srv.URL,
		Timeout: time.Second,
	}, zaptest.NewLogger(t))

	cheapID := uuid.New()
	rows := sqlmock.NewRows(supplierColumns()).
		AddRow(uuid.New(), "PricierPharm", "distributor", "Propofol", 12.0, 1, 0.99, false, true).
		AddRow(cheapID, "MedSupply Co", "manufacturer", "Propofol", 10.0, 2, 0.9, false, true)

	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1)) // ANALYZING
	mock.ExpectQuery("SELECT id, name, type, drug_name").WithArgs("Propofol").WillReturnRows(rows)
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1)) // SUGGESTED
	mock.ExpectExec("UPDATE orders").
		WithArgs("SUGGESTED", sqlmock.AnyArg(), "MedSupply Co", 10.0, 1000.0, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO alerts").WillReturnResult(sqlmock.NewResult(0, 1))

	task := OrderTask{Requests: []risk.OrderRequest{
		{DrugName: "Propofol", Quantity: 100, Urgency: risk.UrgencyExpedited},
	}}
	out := task.Run(context.Background(), deps)

	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, err = %v", out.Status, out.Err)
	}
	if !out.Fallback {
		t.Error("rejected reasoning pick must mark the outcome as fallback")
	}
	if v, ok := out.Detail["fallback"].(bool); !ok || !v {
		t.Errorf("detail fallback = %v, want true", out.Detail["fallback"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOrderTaskNoSuppliersFails(t *testing.T) {
	deps, mock, cleanup := newTestDeps(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1)) // ANALYZING
	mock.ExpectQuery("SELECT id, name, type, drug_name").
		WithArgs("Obscuridol").
		WillReturnRows(sqlmock.NewRows(supplierColumns()))
	mock.ExpectExec("UPDATE orders").
		WithArgs("FAILED", nil, nil, nil, nil, "no suppliers for Obscuridol", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	task := OrderTask{Requests: []risk.OrderRequest{
		{DrugName: "Obscuridol", Quantity: 50, Urgency: risk.UrgencyRoutine},
	}}
	out := task.Run(context.Background(), deps)

	if out.Status != StatusFailure {
		t.Fatalf("expected failure when every order fails, got %s", out.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOrderTaskUnpricedSuppliersFailWithDistinctNote(t *testing.T) {
	deps, mock, cleanup := newTestDeps(t)
	defer cleanup()

	rows := sqlmock.NewRows(supplierColumns()).
		AddRow(uuid.New(), "NoPriceCo", "distributor", "Heparin", nil, 3, 0.8, false, true)

	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, name, type, drug_name").WithArgs("Heparin").WillReturnRows(rows)
	mock.ExpectExec("UPDATE orders").
		WithArgs("FAILED", nil, nil, nil, nil, "suppliers exist for Heparin but none have pricing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	task := OrderTask{Requests: []risk.OrderRequest{
		{DrugName: "Heparin", Quantity: 10, Urgency: risk.UrgencyRoutine},
	}}
	out := task.Run(context.Background(), deps)

	if out.Status != StatusFailure {
		t.Fatalf("expected failure, got %s", out.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOrderTaskSkipsWhenNothingRequested(t *testing.T) {
	deps, _, cleanup := newTestDeps(t)
	defer cleanup()

	out := OrderTask{}.Run(context.Background(), deps)
	if out.Status != StatusSkipped {
		t.Errorf("expected skipped, got %s", out.Status)
	}
}
