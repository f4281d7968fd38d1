package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestCircuitBreakerStates(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.MaxRequests = 5
	config.Timeout = 100 * time.Millisecond
	config.Interval = 200 * time.Millisecond

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", cb.State())
	}

	// Successful calls don't change state
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to remain closed, got %s", cb.State())
	}

	// Failure threshold trips the breaker open
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return errors.New("test error") }); err == nil {
			t.Error("Expected error, got nil")
		}
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected state to be open, got %s", cb.State())
	}

	// Requests while open fail fast
	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}

	// After the timeout the breaker admits probes (half-open) and closes
	// again on enough consecutive successes
	time.Sleep(150 * time.Millisecond)
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected half-open probe to succeed, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to be closed after recovery, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.Timeout = 50 * time.Millisecond

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	if err := cb.Execute(ctx, func() error { return errors.New("boom") }); err == nil {
		t.Fatal("Expected error")
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	time.Sleep(80 * time.Millisecond)

	// A failing probe in half-open goes straight back to open
	if err := cb.Execute(ctx, func() error { return errors.New("still down") }); err == nil {
		t.Fatal("Expected error")
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenLimitsRequests(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.SuccessThreshold = 10 // stay half-open during the test
	config.MaxRequests = 1
	config.Timeout = 30 * time.Millisecond

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("boom") })
	time.Sleep(50 * time.Millisecond)

	block := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = cb.Execute(ctx, func() error { <-block; return nil })
		close(done)
	}()

	// Give the first probe time to occupy the half-open slot
	time.Sleep(20 * time.Millisecond)
	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("Expected ErrTooManyRequests, got %v", err)
	}

	close(block)
	<-done
}

func TestCircuitBreakerDiscardsStaleResult(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	block := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = cb.Execute(ctx, func() error { <-block; return nil })
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	// A failure trips the breaker while the first call is still in flight
	_ = cb.Execute(ctx, func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	// The in-flight success resolved against the old window and must not
	// touch the open breaker's counts or state
	close(block)
	<-done
	if cb.State() != StateOpen {
		t.Errorf("Stale success changed state to %s", cb.State())
	}
	if counts := cb.Counts(); counts.TotalSuccesses != 0 {
		t.Errorf("Stale success counted: %+v", counts)
	}
}

func TestCircuitBreakerCounts(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cb := NewCircuitBreaker("test", DefaultConfig(), logger)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errors.New("x") })

	counts := cb.Counts()
	if counts.TotalSuccesses != 1 || counts.TotalFailures != 1 {
		t.Errorf("Unexpected counts: %+v", counts)
	}
}
