package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/db"
	"github.com/pharmasentinel/orchestrator/internal/metrics"
	"github.com/pharmasentinel/orchestrator/internal/risk"
)

// surgeryHorizon bounds how far ahead scheduled procedures influence the
// predicted usage rate.
const surgeryHorizon = 14 * 24 * time.Hour

const inventoryInstructions = `You are a hospital pharmacy inventory analyst.
Given per-drug stock levels, historical daily usage and upcoming surgical
demand, estimate each drug's predicted daily usage rate and predicted
burn-rate days (days until stock-out at the predicted rate). Respond with a
JSON array; one object per input drug with fields: drug_name, current_stock,
daily_usage_rate, predicted_daily_usage_rate, burn_rate_days,
predicted_burn_rate_days, trend (increasing|stable|decreasing), notes.`

// InventoryTask computes per-drug burn rates. The arithmetic baseline is
// always computed first; the reasoning service may refine the predictions
// but an invalid or failed reply falls back to the baseline.
type InventoryTask struct{}

func (InventoryTask) Name() string { return "inventory" }

func (t InventoryTask) Run(ctx context.Context, deps *Deps) Outcome {
	drugs, err := deps.Store.ListDrugs(ctx)
	if err != nil {
		return Failure(t.Name(), fmt.Errorf("load inventory: %w", err))
	}
	if len(drugs) == 0 {
		return Skip(t.Name(), "no drugs in inventory")
	}

	surgeries, err := deps.Store.ListUpcomingSurgeries(ctx, surgeryHorizon)
	if err != nil {
		// Surgical demand is a refinement; historical usage still works.
		deps.Logger.Warn("Surgery schedule unavailable", zap.Error(err))
	}
	demand := surgeryDemand(surgeries)

	signals := baseline(drugs, demand)

	var fellBack bool
	if deps.Reasoner != nil {
		refined, err := t.refine(ctx, deps, drugs, demand, signals)
		if err != nil {
			deps.Logger.Warn("Inventory reasoning unavailable, using arithmetic baseline", zap.Error(err))
			metrics.TaskFallbacks.WithLabelValues(t.Name()).Inc()
			fellBack = true
		} else {
			signals = refined
		}
	}

	var persistErrs int
	for _, sig := range signals {
		if err := deps.Store.UpdateDrugPrediction(ctx, sig.DrugName,
			sig.PredictedUsageRate, sig.BurnRateDays, sig.PredictedBurnRateDays); err != nil {
			persistErrs++
			deps.Logger.Warn("Failed to persist prediction",
				zap.String("drug", sig.DrugName), zap.Error(err))
		}
	}

	return Outcome{
		Task:      t.Name(),
		Status:    StatusSuccess,
		Summary:   fmt.Sprintf("analyzed %d drugs, %d predictions failed to persist", len(signals), persistErrs),
		Fallback:  fellBack,
		Inventory: signals,
		Detail: db.JSONB{
			"drugs_analyzed": len(signals),
			"persist_errors": persistErrs,
			"fallback":       fellBack,
		},
	}
}

// surgeryDemand sums each drug's scheduled consumption over the horizon.
func surgeryDemand(surgeries []db.Surgery) map[string]float64 {
	demand := make(map[string]float64)
	for _, s := range surgeries {
		for drug, qty := range s.DrugsRequired {
			if n, ok := qty.(float64); ok {
				demand[drug] += n
			}
		}
	}
	return demand
}

// baseline computes the arithmetic burn rates: historical usage plus the
// scheduled surgical demand spread over the horizon.
func baseline(drugs []db.Drug, demand map[string]float64) []risk.InventorySignal {
	horizonDays := surgeryHorizon.Hours() / 24
	signals := make([]risk.InventorySignal, 0, len(drugs))
	for _, d := range drugs {
		sig := risk.InventorySignal{
			DrugName:       d.Name,
			CurrentStock:   d.CurrentStock,
			DailyUsageRate: d.DailyUsageRate,
			Trend:          "stable",
		}
		sig.PredictedUsageRate = d.DailyUsageRate + demand[d.Name]/horizonDays
		if d.DailyUsageRate > 0 {
			sig.BurnRateDays = d.CurrentStock / d.DailyUsageRate
		}
		if sig.PredictedUsageRate > 0 {
			sig.PredictedBurnRateDays = d.CurrentStock / sig.PredictedUsageRate
		}
		if sig.PredictedUsageRate > d.DailyUsageRate {
			sig.Trend = "increasing"
		}
		signals = append(signals, sig)
	}
	return signals
}

// refine asks the reasoning service for adjusted predictions and validates
// the reply against the input drug set before accepting it.
func (t InventoryTask) refine(ctx context.Context, deps *Deps, drugs []db.Drug, demand map[string]float64, base []risk.InventorySignal) ([]risk.InventorySignal, error) {
	payload := map[string]interface{}{
		"horizon_days":    surgeryHorizon.Hours() / 24,
		"drugs":           base,
		"surgical_demand": demand,
	}

	var refined []risk.InventorySignal
	if err := deps.Reasoner.Analyze(ctx, inventoryInstructions, payload, &refined); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(drugs))
	for _, d := range drugs {
		known[d.Name] = true
	}
	byName := make(map[string]risk.InventorySignal, len(refined))
	for _, sig := range refined {
		if !known[sig.DrugName] {
			return nil, fmt.Errorf("reasoning returned unknown drug %q", sig.DrugName)
		}
		if sig.PredictedUsageRate < 0 || sig.PredictedBurnRateDays < 0 {
			return nil, fmt.Errorf("reasoning returned negative rates for %q", sig.DrugName)
		}
		byName[sig.DrugName] = sig
	}

	// Merge: refined values where present, baseline for anything omitted.
	out := make([]risk.InventorySignal, len(base))
	copy(out, base)
	for i := range out {
		if sig, ok := byName[out[i].DrugName]; ok {
			out[i] = sig
		}
	}
	return out, nil
}
