package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/db"
	"github.com/pharmasentinel/orchestrator/internal/risk"
)

// shortageWindow bounds how old an open shortage record can be and still
// contribute to aggregation.
const shortageWindow = 180 * 24 * time.Hour

// ShortageTask checks the FDA enforcement feed for every monitored drug,
// records new shortages and reports all open ones as signals. Per-drug
// lookup failures degrade the result; the task fails only when the feed
// was unreachable for every drug.
type ShortageTask struct{}

func (ShortageTask) Name() string { return "shortage" }

func (t ShortageTask) Run(ctx context.Context, deps *Deps) Outcome {
	drugs := deps.Catalog.Names()

	var lookupErrs int
	var newShortages int
	for _, drug := range drugs {
		reports, err := deps.FDA.SearchEnforcements(ctx, drug)
		if err != nil {
			if ctx.Err() != nil {
				return Failure(t.Name(), ctx.Err())
			}
			lookupErrs++
			deps.Logger.Warn("FDA lookup failed", zap.String("drug", drug), zap.Error(err))
			continue
		}
		for _, report := range reports {
			sh := &db.Shortage{
				DrugName:   drug,
				Status:     "open",
				Severity:   severityForClass(report.Classification),
				Reason:     report.ReasonForRecall,
				Source:     "fda",
				ReportedAt: time.Now(),
			}
			inserted, err := deps.Store.InsertShortageIfNew(ctx, sh)
			if err != nil {
				deps.Logger.Warn("Failed to record shortage",
					zap.String("drug", drug), zap.Error(err))
				continue
			}
			if inserted {
				newShortages++
				if err := deps.Store.InsertAlert(ctx, &db.Alert{
					AlertType:   "shortage",
					DrugName:    drug,
					Title:       fmt.Sprintf("FDA enforcement report for %s", drug),
					Description: report.ReasonForRecall,
					Severity:    sh.Severity,
				}); err != nil {
					deps.Logger.Warn("Failed to write shortage alert",
						zap.String("drug", drug), zap.Error(err))
				}
			}
		}
	}

	if lookupErrs == len(drugs) && len(drugs) > 0 {
		return Failure(t.Name(), fmt.Errorf("fda feed unreachable for all %d drugs", len(drugs)))
	}

	// Signals come from the store, so shortages recorded by earlier runs
	// keep contributing until they close or age out.
	open, err := deps.Store.ListOpenShortages(ctx, shortageWindow)
	if err != nil {
		return Failure(t.Name(), fmt.Errorf("load open shortages: %w", err))
	}

	signals := make([]risk.ShortageSignal, 0, len(open))
	for _, sh := range open {
		signals = append(signals, risk.ShortageSignal{
			DrugName: sh.DrugName,
			Status:   sh.Status,
			Severity: sh.Severity,
			Reason:   sh.Reason,
		})
	}

	return Outcome{
		Task:      t.Name(),
		Status:    StatusSuccess,
		Summary:   fmt.Sprintf("%d open shortages across %d drugs, %d newly recorded", len(signals), len(drugs), newShortages),
		Shortages: signals,
		Detail: db.JSONB{
			"drugs_checked":  len(drugs),
			"lookup_errors":  lookupErrs,
			"new_shortages":  newShortages,
			"open_shortages": len(signals),
		},
	}
}

// severityForClass maps FDA recall classifications to severity labels.
// Class I is the most serious.
func severityForClass(classification string) string {
	switch classification {
	case "Class I":
		return risk.TierCritical.String()
	case "Class II":
		return risk.TierHigh.String()
	case "Class III":
		return risk.TierMedium.String()
	default:
		return risk.TierHigh.String()
	}
}
