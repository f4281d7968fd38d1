// Package agents implements the pipeline's analysis tasks. Independent
// tasks (inventory, shortage, news) produce risk signals from external
// data; dependent tasks (substitutes, orders) consume the aggregated work
// list. Every task failure is contained: a task returns a failure outcome,
// never a panic or a run abort.
package agents

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/config"
	"github.com/pharmasentinel/orchestrator/internal/db"
	"github.com/pharmasentinel/orchestrator/internal/llm"
	"github.com/pharmasentinel/orchestrator/internal/metrics"
	"github.com/pharmasentinel/orchestrator/internal/risk"
	"github.com/pharmasentinel/orchestrator/internal/sources"
	"github.com/pharmasentinel/orchestrator/internal/tracing"
)

// Outcome statuses recorded in agent logs and metrics.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Deps carries the shared collaborators injected into every task. All
// fields except Logger may be nil in tests; tasks check what they use.
type Deps struct {
	Store      *db.Store
	Reasoner   *llm.Client
	FDA        *sources.FDAClient
	News       *sources.NewsClient
	Catalog    *config.Catalog
	RiskConfig risk.Config
	Logger     *zap.Logger
}

// Outcome is the result of one task execution. Signals are only set by
// independent tasks; dependent tasks report through Detail.
type Outcome struct {
	Task   string
	Status string
	Err    error

	// Summary is a one-line human-readable account of what the task did,
	// shown in run summaries and dashboards.
	Summary string

	// Fallback marks results produced by the deterministic local path
	// rather than the reasoning service, so provenance is readable from
	// the persisted payload, not just logs and metrics.
	Fallback bool

	Inventory []risk.InventorySignal
	Shortages []risk.ShortageSignal
	News      []risk.NewsSignal

	// Detail is persisted to the agent log for audit.
	Detail db.JSONB
}

// Signals extracts the risk signals this outcome contributes.
func (o Outcome) Signals() risk.Signals {
	return risk.Signals{Inventory: o.Inventory, Shortages: o.Shortages, News: o.News}
}

// Task is one unit of pipeline work.
type Task interface {
	Name() string
	Run(ctx context.Context, deps *Deps) Outcome
}

// Execute runs a task with tracing, metrics and panic containment. A
// panicking task yields a failure outcome; it never takes the run down.
func Execute(ctx context.Context, task Task, deps *Deps) Outcome {
	ctx, span := tracing.StartTaskSpan(ctx, task.Name())
	defer span.End()

	start := time.Now()
	outcome := func() (out Outcome) {
		defer func() {
			if r := recover(); r != nil {
				deps.Logger.Error("Task panicked",
					zap.String("task", task.Name()),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				out = Failure(task.Name(), fmt.Errorf("task panicked: %v", r))
			}
		}()
		return task.Run(ctx, deps)
	}()

	metrics.TaskDuration.WithLabelValues(task.Name()).Observe(time.Since(start).Seconds())
	metrics.TaskExecutions.WithLabelValues(task.Name(), outcome.Status).Inc()

	if outcome.Err != nil {
		deps.Logger.Warn("Task finished with error",
			zap.String("task", task.Name()),
			zap.String("status", outcome.Status),
			zap.Error(outcome.Err),
		)
	} else {
		deps.Logger.Info("Task finished",
			zap.String("task", task.Name()),
			zap.String("status", outcome.Status),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return outcome
}

// Failure builds a failure outcome.
func Failure(task string, err error) Outcome {
	return Outcome{
		Task:    task,
		Status:  StatusFailure,
		Err:     err,
		Summary: err.Error(),
		Detail:  db.JSONB{"error": err.Error()},
	}
}

// Skip builds a skipped outcome with the reason recorded for audit.
func Skip(task, reason string) Outcome {
	return Outcome{
		Task:    task,
		Status:  StatusSkipped,
		Summary: "skipped: " + reason,
		Detail:  db.JSONB{"reason": reason},
	}
}
