package health

import (
	"context"
	"time"
)

// Pinger covers the store and cache clients; both expose a breaker-guarded
// connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker probes the database. Critical: the store is the system of
// record and the service is not ready without it.
type StoreChecker struct {
	client Pinger
}

func NewStoreChecker(client Pinger) *StoreChecker {
	return &StoreChecker{client: client}
}

func (c *StoreChecker) Name() string           { return "store" }
func (c *StoreChecker) IsCritical() bool       { return true }
func (c *StoreChecker) Timeout() time.Duration { return 5 * time.Second }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	if err := c.client.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "database unreachable",
			Error:   err.Error(),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "database reachable"}
}

// CacheChecker probes the risk-snapshot cache. Non-critical: without it
// quick runs escalate to full runs, which is slower but correct.
type CacheChecker struct {
	cache Pinger
}

func NewCacheChecker(cache Pinger) *CacheChecker {
	return &CacheChecker{cache: cache}
}

func (c *CacheChecker) Name() string           { return "state-cache" }
func (c *CacheChecker) IsCritical() bool       { return false }
func (c *CacheChecker) Timeout() time.Duration { return 3 * time.Second }

func (c *CacheChecker) Check(ctx context.Context) CheckResult {
	if c.cache == nil {
		return CheckResult{Status: StatusDegraded, Message: "cache not configured"}
	}
	if err := c.cache.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "cache unreachable, quick runs escalate to full",
			Error:   err.Error(),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "cache reachable"}
}

// ReasoningChecker probes the reasoning service. Non-critical: every task
// has a deterministic fallback.
type ReasoningChecker struct {
	healthy func(ctx context.Context) error
}

func NewReasoningChecker(healthy func(ctx context.Context) error) *ReasoningChecker {
	return &ReasoningChecker{healthy: healthy}
}

func (c *ReasoningChecker) Name() string           { return "reasoning" }
func (c *ReasoningChecker) IsCritical() bool       { return false }
func (c *ReasoningChecker) Timeout() time.Duration { return 5 * time.Second }

func (c *ReasoningChecker) Check(ctx context.Context) CheckResult {
	if c.healthy == nil {
		return CheckResult{Status: StatusDegraded, Message: "reasoning service not configured"}
	}
	if err := c.healthy(ctx); err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "reasoning unreachable, tasks use deterministic fallbacks",
			Error:   err.Error(),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "reasoning reachable"}
}
