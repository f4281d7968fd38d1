package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/pharmasentinel/orchestrator/internal/agents"
	"github.com/pharmasentinel/orchestrator/internal/config"
	"github.com/pharmasentinel/orchestrator/internal/db"
	"github.com/pharmasentinel/orchestrator/internal/risk"
	"github.com/pharmasentinel/orchestrator/internal/sources"
	"github.com/pharmasentinel/orchestrator/internal/statecache"
)

type testHarness struct {
	coordinator *Coordinator
	mock        sqlmock.Sqlmock
	cache       *statecache.Cache
	close       func()
}

// newHarness builds a coordinator over sqlmock, miniredis and external
// clients pointing at a dead endpoint. Expectations are unordered because
// the independent tasks run concurrently.
func newHarness(t *testing.T) *testHarness {
	t.Helper()
	rawDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	mock.MatchExpectationsInOrder(false)

	logger := zaptest.NewLogger(t)
	client := db.NewClientFromDB(rawDB, logger)

	mr := miniredis.RunT(t)
	cache := statecache.NewFromClient(
		redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour, logger)

	catalog := &config.Catalog{Drugs: []config.MonitoredDrug{
		{Name: "Epinephrine", Rank: 1},
		{Name: "Propofol", Rank: 2},
	}}

	// 192.0.2.0/24 is TEST-NET; connections fail fast
	deadURL := "http://192.0.2.1:1"
	deps := &agents.Deps{
		Store:      db.NewStore(client),
		FDA:        sources.NewFDAClient(deadURL, time.Second, 100, logger),
		News:       sources.NewNewsClient(deadURL, "k", time.Second, 100, logger),
		Catalog:    catalog,
		RiskConfig: risk.DefaultConfig(),
		Logger:     logger,
	}
	overseer := risk.NewOverseer(risk.DefaultConfig(), catalog.Ranks(), logger)

	var closeOnce sync.Once
	return &testHarness{
		coordinator: NewCoordinator(deps, overseer, cache, client, logger),
		mock:        mock,
		cache:       cache,
		close: func() {
			closeOnce.Do(func() {
				_ = client.Close()
				_ = cache.Close()
			})
		},
	}
}

func TestDeriveStatus(t *testing.T) {
	ok := agents.Outcome{Status: agents.StatusSuccess}
	fail := agents.Outcome{Status: agents.StatusFailure}
	skip := agents.Outcome{Status: agents.StatusSkipped}

	cases := []struct {
		name        string
		independent []agents.Outcome
		dependent   []agents.Outcome
		want        string
	}{
		{"all succeed", []agents.Outcome{ok, ok, ok}, []agents.Outcome{ok, ok}, StatusSucceeded},
		{"one independent fails", []agents.Outcome{ok, fail, ok}, []agents.Outcome{ok, ok}, StatusPartial},
		{"all independent fail", []agents.Outcome{fail, fail, fail}, []agents.Outcome{skip, skip}, StatusFailed},
		{"dependent fails", []agents.Outcome{ok, ok, ok}, []agents.Outcome{ok, fail}, StatusPartial},
		{"skips are neutral", []agents.Outcome{ok, ok, ok}, []agents.Outcome{skip, skip}, StatusSucceeded},
		{"quick run no independents", nil, []agents.Outcome{ok, ok}, StatusSucceeded},
		{"quick run all dependents fail", nil, []agents.Outcome{fail, fail}, StatusFailed},
		{"quick run mixed dependents", nil, []agents.Outcome{ok, fail}, StatusPartial},
	}
	for _, tc := range cases {
		if got := deriveStatus(tc.independent, tc.dependent); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestRunFullAbortsWhenStoreUnreachable(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	h.mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	run, err := h.coordinator.RunFull(context.Background(), "periodic")
	if err == nil {
		t.Fatal("expected error when store is unreachable")
	}
	if !run.Failed() {
		t.Errorf("run status = %s, want failed", run.Status)
	}
	if len(run.Outcomes) != 0 {
		t.Errorf("no task should have run, got %d outcomes", len(run.Outcomes))
	}
}

func TestRunFullAllSignalTasksFailing(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	h.mock.ExpectPing()
	// Start + finish summaries
	h.mock.ExpectExec("INSERT INTO run_summaries").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO run_summaries").WillReturnResult(sqlmock.NewResult(0, 1))
	// Inventory load fails; FDA and news endpoints are dead
	h.mock.ExpectQuery("SELECT id, name, type").WillReturnError(errors.New("relation missing"))
	h.mock.ExpectExec("DELETE FROM alerts").WillReturnResult(sqlmock.NewResult(0, 0))
	// Five agent log rows (3 failed signals, 2 skipped dependents)
	for i := 0; i < 5; i++ {
		h.mock.ExpectExec("INSERT INTO agent_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	}

	run, err := h.coordinator.RunFull(context.Background(), "periodic")
	if err != nil {
		t.Fatalf("task failures must not be run-fatal: %v", err)
	}
	if run.Status != StatusFailed {
		t.Errorf("run status = %s, want failed", run.Status)
	}

	skipped := 0
	for _, o := range run.Outcomes {
		if o.Status == agents.StatusSkipped {
			skipped++
		}
	}
	if skipped != 2 {
		t.Errorf("expected both dependent tasks skipped, got %d", skipped)
	}

	h.close()
	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRunQuickWithCalmSnapshot(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	// Snapshot where nothing is at HIGH or above: dependents are skipped
	if err := h.cache.SaveViews(context.Background(), []risk.DrugRiskView{
		{DrugName: "Epinephrine", Tier: risk.TierLow, TierName: "LOW"},
		{DrugName: "Propofol", Tier: risk.TierMedium, TierName: "MEDIUM"},
	}); err != nil {
		t.Fatalf("SaveViews: %v", err)
	}

	h.mock.ExpectPing()
	h.mock.ExpectExec("INSERT INTO run_summaries").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO run_summaries").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("DELETE FROM alerts").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectExec("INSERT INTO agent_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO agent_logs").WillReturnResult(sqlmock.NewResult(0, 1))

	run, err := h.coordinator.RunQuick(context.Background(), "notification")
	if err != nil {
		t.Fatalf("RunQuick: %v", err)
	}
	if run.Kind != KindQuick {
		t.Errorf("kind = %s, want quick", run.Kind)
	}
	if run.Status != StatusSucceeded {
		t.Errorf("status = %s, want succeeded", run.Status)
	}
	if !run.WorkList.Empty() {
		t.Errorf("expected empty work list, got %+v", run.WorkList)
	}
}

func TestRunQuickEscalatesWithoutSnapshot(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	h.mock.ExpectPing()
	h.mock.ExpectExec("INSERT INTO run_summaries").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("INSERT INTO run_summaries").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery("SELECT id, name, type").WillReturnError(errors.New("relation missing"))
	h.mock.ExpectExec("DELETE FROM alerts").WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 5; i++ {
		h.mock.ExpectExec("INSERT INTO agent_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	}

	run, err := h.coordinator.RunQuick(context.Background(), "notification")
	if err != nil {
		t.Fatalf("RunQuick: %v", err)
	}
	if run.Kind != KindFull {
		t.Errorf("kind = %s, want escalation to full", run.Kind)
	}
}
