package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/agents"
	"github.com/pharmasentinel/orchestrator/internal/db"
	"github.com/pharmasentinel/orchestrator/internal/metrics"
	"github.com/pharmasentinel/orchestrator/internal/risk"
	"github.com/pharmasentinel/orchestrator/internal/statecache"
	"github.com/pharmasentinel/orchestrator/internal/tracing"
)

// Coordinator owns run execution. It is safe for concurrent use, though
// the scheduler serializes runs in practice.
type Coordinator struct {
	mu       sync.RWMutex
	deps     *agents.Deps
	overseer *risk.Overseer
	cache    *statecache.Cache
	client   *db.Client
	logger   *zap.Logger
}

// NewCoordinator wires a coordinator. cache may be nil, which disables
// quick runs (they escalate to full).
func NewCoordinator(deps *agents.Deps, overseer *risk.Overseer, cache *statecache.Cache, client *db.Client, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		deps:     deps,
		overseer: overseer,
		cache:    cache,
		client:   client,
		logger:   logger,
	}
}

// UpdateRiskConfig swaps the risk thresholds for subsequent runs. Runs
// already in flight keep the snapshot they started with.
func (c *Coordinator) UpdateRiskConfig(rc risk.Config, ranks map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overseer = risk.NewOverseer(rc, ranks, c.logger)
	deps := *c.deps
	deps.RiskConfig = rc
	c.deps = &deps
}

// current returns the deps and overseer a run should use for its whole
// lifetime, so a mid-run config reload cannot mix thresholds.
func (c *Coordinator) current() (*agents.Deps, *risk.Overseer) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deps, c.overseer
}

// RunFull executes the complete pipeline: the three independent signal
// tasks concurrently, aggregation, then the dependent tasks. The only
// run-fatal condition is a store that is unreachable at run start; every
// task failure is contained in the run record.
func (c *Coordinator) RunFull(ctx context.Context, trigger string) (*Run, error) {
	deps, overseer := c.current()
	run := newRun(KindFull, trigger)
	ctx, span := tracing.StartRunSpan(ctx, run.ID.String(), run.Kind)
	defer span.End()

	metrics.RunsStarted.WithLabelValues(run.Kind).Inc()
	c.logger.Info("Run started",
		zap.String("run_id", run.ID.String()),
		zap.String("kind", run.Kind),
		zap.String("trigger", trigger),
	)

	// The store is the system of record; without it no result could be
	// persisted, so the run aborts up front rather than half-running.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := c.client.Ping(pingCtx)
	cancel()
	if err != nil {
		run.Status = StatusFailed
		run.FinishedAt = time.Now()
		metrics.RunsCompleted.WithLabelValues(run.Kind, run.Status).Inc()
		return run, fmt.Errorf("store unreachable, aborting run: %w", err)
	}
	c.recordSummary(ctx, deps, run, 0, 0, nil)

	independent := c.runIndependent(ctx, deps)
	run.Outcomes = append(run.Outcomes, independent...)

	var dependent []agents.Outcome
	if allFailed(independent) {
		// No trustworthy signals; acting on nothing is the safe choice.
		dependent = skipDependents("every signal task failed")
	} else {
		signals := mergeSignals(independent)
		run.Views, run.WorkList = overseer.Aggregate(signals)
		c.publishViews(ctx, run.Views)

		dependent = c.runDependent(ctx, deps, run.WorkList)
	}
	run.Outcomes = append(run.Outcomes, dependent...)

	c.finish(ctx, deps, run, independent, dependent)
	return run, nil
}

// RunQuick re-derives the work list from the cached risk snapshot and runs
// only the dependent tasks. With no usable snapshot it escalates to a full
// run.
func (c *Coordinator) RunQuick(ctx context.Context, trigger string) (*Run, error) {
	if c.cache == nil {
		return c.RunFull(ctx, trigger)
	}
	deps, overseer := c.current()

	views, err := c.cache.LoadViews(ctx)
	if err != nil {
		if !errors.Is(err, statecache.ErrNoSnapshot) {
			c.logger.Warn("Risk snapshot unavailable, escalating to full run", zap.Error(err))
		}
		return c.RunFull(ctx, trigger)
	}

	run := newRun(KindQuick, trigger)
	ctx, span := tracing.StartRunSpan(ctx, run.ID.String(), run.Kind)
	defer span.End()

	metrics.RunsStarted.WithLabelValues(run.Kind).Inc()
	c.logger.Info("Run started",
		zap.String("run_id", run.ID.String()),
		zap.String("kind", run.Kind),
		zap.String("trigger", trigger),
	)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = c.client.Ping(pingCtx)
	cancel()
	if err != nil {
		run.Status = StatusFailed
		run.FinishedAt = time.Now()
		metrics.RunsCompleted.WithLabelValues(run.Kind, run.Status).Inc()
		return run, fmt.Errorf("store unreachable, aborting run: %w", err)
	}
	c.recordSummary(ctx, deps, run, 0, 0, nil)

	run.Views = views
	run.WorkList = overseer.FromViews(views)

	dependent := c.runDependent(ctx, deps, run.WorkList)
	run.Outcomes = append(run.Outcomes, dependent...)

	c.finish(ctx, deps, run, nil, dependent)
	return run, nil
}

// runIndependent executes the three signal tasks concurrently; they share
// no state and an error in one never cancels the others.
func (c *Coordinator) runIndependent(ctx context.Context, deps *agents.Deps) []agents.Outcome {
	tasks := []agents.Task{
		agents.InventoryTask{},
		agents.ShortageTask{},
		agents.NewsTask{},
	}

	outcomes := make([]agents.Outcome, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task agents.Task) {
			defer wg.Done()
			outcomes[i] = agents.Execute(ctx, task, deps)
		}(i, task)
	}
	wg.Wait()
	return outcomes
}

func (c *Coordinator) runDependent(ctx context.Context, deps *agents.Deps, wl risk.WorkList) []agents.Outcome {
	if wl.Empty() {
		return skipDependents("no drug requires action")
	}
	return []agents.Outcome{
		agents.Execute(ctx, agents.SubstituteTask{Drugs: wl.NeedsSubstitute}, deps),
		agents.Execute(ctx, agents.OrderTask{Requests: wl.NeedsOrder}, deps),
	}
}

func skipDependents(reason string) []agents.Outcome {
	return []agents.Outcome{
		agents.Skip("substitutes", reason),
		agents.Skip("orders", reason),
	}
}

// publishViews saves the snapshot for quick runs and updates the at-risk
// gauges. Neither failure is run-fatal.
func (c *Coordinator) publishViews(ctx context.Context, views []risk.DrugRiskView) {
	if c.cache != nil {
		if err := c.cache.SaveViews(ctx, views); err != nil {
			c.logger.Warn("Failed to publish risk snapshot", zap.Error(err))
		}
	}

	counts := map[string]int{}
	for _, v := range views {
		counts[v.TierName]++
	}
	for _, tier := range []risk.Tier{risk.TierLow, risk.TierMedium, risk.TierHigh, risk.TierCritical} {
		metrics.DrugsAtRisk.WithLabelValues(tier.String()).Set(float64(counts[tier.String()]))
	}
}

// finish derives the final status, persists the audit trail and the run
// summary, and runs the alert cleanup pass.
func (c *Coordinator) finish(ctx context.Context, deps *agents.Deps, run *Run, independent, dependent []agents.Outcome) {
	run.Status = deriveStatus(independent, dependent)
	run.FinishedAt = time.Now()

	if deduped, err := deps.Store.DeduplicateAlerts(ctx); err != nil {
		c.logger.Warn("Alert deduplication failed", zap.Error(err))
	} else if deduped > 0 {
		metrics.AlertsDeduplicated.Add(float64(deduped))
		c.logger.Info("Duplicate alerts removed", zap.Int64("count", deduped))
	}

	for _, outcome := range run.Outcomes {
		c.client.EnqueueWrite(db.WriteRequest{
			Type: db.WriteTypeAgentLog,
			Data: &db.AgentLog{
				RunID:   run.ID,
				Task:    outcome.Task,
				Status:  outcome.Status,
				Summary: outcome.Summary,
				Detail:  outcome.Detail,
			},
		})
	}

	var errDetail *string
	if errs := run.TaskErrors(); len(errs) > 0 {
		s := errors.Join(errs...).Error()
		errDetail = &s
	}
	c.recordSummary(ctx, deps, run, atRiskCount(run.Views), len(run.WorkList.NeedsOrder), errDetail)

	duration := run.FinishedAt.Sub(run.StartedAt)
	metrics.RunsCompleted.WithLabelValues(run.Kind, run.Status).Inc()
	metrics.RunDuration.WithLabelValues(run.Kind).Observe(duration.Seconds())
	c.logger.Info("Run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("kind", run.Kind),
		zap.String("status", run.Status),
		zap.Duration("duration", duration),
		zap.Int("orders_suggested", len(run.WorkList.NeedsOrder)),
	)
}

func (c *Coordinator) recordSummary(ctx context.Context, deps *agents.Deps, run *Run, atRisk, orders int, errDetail *string) {
	summary := &db.RunSummary{
		RunID:           run.ID,
		Kind:            run.Kind,
		Status:          run.Status,
		Trigger:         run.Trigger,
		DrugsAtRisk:     atRisk,
		OrdersSuggested: orders,
		ErrorDetail:     errDetail,
		StartedAt:       run.StartedAt,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		summary.FinishedAt = &finished
	}
	if err := deps.Store.UpsertRunSummary(ctx, summary); err != nil {
		c.logger.Warn("Failed to persist run summary",
			zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}

func allFailed(outcomes []agents.Outcome) bool {
	for _, o := range outcomes {
		if o.Status != agents.StatusFailure {
			return false
		}
	}
	return len(outcomes) > 0
}

func mergeSignals(outcomes []agents.Outcome) risk.Signals {
	var merged risk.Signals
	for _, o := range outcomes {
		s := o.Signals()
		merged.Inventory = append(merged.Inventory, s.Inventory...)
		merged.Shortages = append(merged.Shortages, s.Shortages...)
		merged.News = append(merged.News, s.News...)
	}
	return merged
}

func atRiskCount(views []risk.DrugRiskView) int {
	var n int
	for _, v := range views {
		if v.Tier >= risk.TierHigh {
			n++
		}
	}
	return n
}
