package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestOverallHealthAllHealthy(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	if err := m.RegisterChecker(NewStoreChecker(fakePinger{})); err != nil {
		t.Fatalf("RegisterChecker: %v", err)
	}
	if err := m.RegisterChecker(NewCacheChecker(fakePinger{})); err != nil {
		t.Fatalf("RegisterChecker: %v", err)
	}

	overall := m.GetOverallHealth(context.Background())
	if overall.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", overall.Status)
	}
	if !overall.Ready || !overall.Live {
		t.Errorf("expected ready and live: %+v", overall)
	}
}

func TestCriticalFailureMakesUnready(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.RegisterChecker(NewStoreChecker(fakePinger{err: errors.New("connection refused")}))
	m.RegisterChecker(NewCacheChecker(fakePinger{}))

	overall := m.GetOverallHealth(context.Background())
	if overall.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", overall.Status)
	}
	if overall.Ready {
		t.Error("store failure must make the service not ready")
	}
	if !overall.Live {
		t.Error("store failure must not kill liveness")
	}
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.RegisterChecker(NewStoreChecker(fakePinger{}))
	m.RegisterChecker(NewCacheChecker(fakePinger{err: errors.New("redis down")}))
	m.RegisterChecker(NewReasoningChecker(func(ctx context.Context) error {
		return errors.New("service down")
	}))

	overall := m.GetOverallHealth(context.Background())
	if overall.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", overall.Status)
	}
	if !overall.Ready {
		t.Error("degraded service must stay ready")
	}
}

func TestDuplicateCheckerRejected(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	if err := m.RegisterChecker(NewStoreChecker(fakePinger{})); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.RegisterChecker(NewStoreChecker(fakePinger{})); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestHTTPEndpoints(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.RegisterChecker(NewStoreChecker(fakePinger{}))

	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/health", "/health/ready", "/health/live", "/health/detailed"} {
		resp, err := client.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestHTTPUnhealthyIs503(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.RegisterChecker(NewStoreChecker(fakePinger{err: errors.New("down")}))

	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
