package risk

import (
	"math"
	"sort"

	"go.uber.org/zap"
)

// InventorySignal is the per-drug result of the inventory analysis task.
type InventorySignal struct {
	DrugName              string  `json:"drug_name"`
	CurrentStock          float64 `json:"current_stock"`
	DailyUsageRate        float64 `json:"daily_usage_rate"`
	PredictedUsageRate    float64 `json:"predicted_daily_usage_rate"`
	BurnRateDays          float64 `json:"burn_rate_days"`
	PredictedBurnRateDays float64 `json:"predicted_burn_rate_days"`
	Trend                 string  `json:"trend"`
	Notes                 string  `json:"notes,omitempty"`
}

// ShortageSignal is an open shortage reported by the FDA monitor task.
type ShortageSignal struct {
	DrugName string `json:"drug_name"`
	Status   string `json:"status"`
	Severity string `json:"impact_severity"`
	Reason   string `json:"reason,omitempty"`
}

// NewsSignal is a news-derived supply risk from the news analysis task.
type NewsSignal struct {
	DrugName   string  `json:"drug_name"`
	Headline   string  `json:"headline,omitempty"`
	Impact     string  `json:"supply_chain_impact"`
	Confidence float64 `json:"confidence"`
}

// Signals carries everything the Overseer aggregates for one run. A task
// that failed contributes a nil slice, which reads as "no new signal".
type Signals struct {
	Inventory []InventorySignal
	Shortages []ShortageSignal
	News      []NewsSignal
}

// DrugRiskView is the transient per-drug aggregate recomputed every run.
// It is never persisted as its own entity; work lists derive from it.
type DrugRiskView struct {
	DrugName              string  `json:"drug_name"`
	BurnRateDays          float64 `json:"burn_rate_days"`
	PredictedBurnRateDays float64 `json:"predicted_burn_rate_days"`
	PredictedUsageRate    float64 `json:"predicted_usage_rate"`
	ShortageSeverity      string  `json:"shortage_severity,omitempty"`
	NewsImpact            string  `json:"news_impact,omitempty"`
	NewsConfidence        float64 `json:"news_confidence,omitempty"`
	Tier                  Tier    `json:"-"`
	TierName              string  `json:"tier"`
}

// OrderRequest tags a drug needing procurement with quantity and urgency.
type OrderRequest struct {
	DrugName string  `json:"drug_name"`
	Quantity int     `json:"quantity"`
	Urgency  Urgency `json:"urgency"`
}

// WorkList is the Overseer's derived output for one run. It is handed
// unchanged to the dependent tasks and never shared across runs.
type WorkList struct {
	NeedsSubstitute []string       `json:"needs_substitute"`
	NeedsOrder      []OrderRequest `json:"needs_order"`
}

// Empty reports whether aggregation found no drug requiring action.
func (w WorkList) Empty() bool {
	return len(w.NeedsSubstitute) == 0 && len(w.NeedsOrder) == 0
}

// Config holds the aggregation thresholds. Burn-rate days below
// CriticalBurnDays map to CRITICAL, below HighBurnDays to HIGH, below
// MediumBurnDays to MEDIUM. TopCriticalityRank bounds the catalog ranks
// whose shortages escalate to CRITICAL.
type Config struct {
	CriticalBurnDays   float64
	HighBurnDays       float64
	MediumBurnDays     float64
	SafetyStockDays    float64
	TopCriticalityRank int
	ConfidenceFloor    float64
	DefaultOrderQty    int
}

// DefaultConfig returns the thresholds the original deployment ran with.
func DefaultConfig() Config {
	return Config{
		CriticalBurnDays:   7,
		HighBurnDays:       14,
		MediumBurnDays:     30,
		SafetyStockDays:    21,
		TopCriticalityRank: 3,
		ConfidenceFloor:    0.7,
		DefaultOrderQty:    50,
	}
}

// Overseer merges heterogeneous risk signals into one per-drug picture and
// derives the run's work lists. Aggregation is pure: identical signals
// always produce identical output.
type Overseer struct {
	config Config
	ranks  map[string]int // drug name -> criticality rank (1 is most critical)
	logger *zap.Logger
}

// NewOverseer builds an aggregator over the monitored-drug criticality
// ranking. The ranks map is read-only after construction.
func NewOverseer(config Config, ranks map[string]int, logger *zap.Logger) *Overseer {
	return &Overseer{config: config, ranks: ranks, logger: logger}
}

// Aggregate combines the independent tasks' signals into per-drug risk
// views and the derived work list. The combined tier is the max over the
// burn-rate tier, the shortage floor, and the news floor.
func (o *Overseer) Aggregate(sig Signals) ([]DrugRiskView, WorkList) {
	views := make(map[string]*DrugRiskView)

	view := func(name string) *DrugRiskView {
		v, ok := views[name]
		if !ok {
			v = &DrugRiskView{DrugName: name, Tier: TierLow}
			views[name] = v
		}
		return v
	}

	for _, inv := range sig.Inventory {
		v := view(inv.DrugName)
		v.BurnRateDays = inv.BurnRateDays
		v.PredictedBurnRateDays = inv.PredictedBurnRateDays
		v.PredictedUsageRate = inv.PredictedUsageRate
		v.Tier = maxTier(v.Tier, o.burnRateTier(inv.PredictedBurnRateDays))
	}

	for _, sh := range sig.Shortages {
		v := view(sh.DrugName)
		v.ShortageSeverity = sh.Severity
		v.Tier = maxTier(v.Tier, o.shortageTier(sh.DrugName))
	}

	for _, ns := range sig.News {
		if ns.Confidence < o.config.ConfidenceFloor {
			continue
		}
		impact := ParseTier(ns.Impact)
		if impact < TierHigh {
			continue
		}
		v := view(ns.DrugName)
		v.NewsImpact = ns.Impact
		v.NewsConfidence = ns.Confidence
		v.Tier = maxTier(v.Tier, o.newsTier(ns.DrugName))
	}

	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]DrugRiskView, 0, len(views))
	var wl WorkList
	for _, name := range names {
		v := views[name]
		v.TierName = v.Tier.String()
		out = append(out, *v)

		if v.Tier < TierHigh {
			continue
		}
		wl.NeedsSubstitute = append(wl.NeedsSubstitute, name)
		wl.NeedsOrder = append(wl.NeedsOrder, OrderRequest{
			DrugName: name,
			Quantity: o.orderQuantity(v),
			Urgency:  UrgencyForTier(v.Tier),
		})
	}

	if o.logger != nil {
		o.logger.Info("Risk aggregation complete",
			zap.Int("drugs", len(out)),
			zap.Int("needs_substitute", len(wl.NeedsSubstitute)),
			zap.Int("needs_order", len(wl.NeedsOrder)),
		)
	}
	return out, wl
}

// FromViews re-derives a work list from previously persisted risk views.
// Quick runs use this instead of re-running the independent tasks.
func (o *Overseer) FromViews(views []DrugRiskView) WorkList {
	sorted := make([]DrugRiskView, len(views))
	copy(sorted, views)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DrugName < sorted[j].DrugName })

	var wl WorkList
	for i := range sorted {
		v := &sorted[i]
		if v.Tier == TierLow && v.TierName != "" {
			v.Tier = ParseTier(v.TierName)
		}
		if v.Tier < TierHigh {
			continue
		}
		wl.NeedsSubstitute = append(wl.NeedsSubstitute, v.DrugName)
		wl.NeedsOrder = append(wl.NeedsOrder, OrderRequest{
			DrugName: v.DrugName,
			Quantity: o.orderQuantity(v),
			Urgency:  UrgencyForTier(v.Tier),
		})
	}
	return wl
}

func (o *Overseer) burnRateTier(predictedDays float64) Tier {
	switch {
	case predictedDays <= 0:
		// Zero usage reads as infinite runway, not an emergency.
		return TierLow
	case predictedDays < o.config.CriticalBurnDays:
		return TierCritical
	case predictedDays < o.config.HighBurnDays:
		return TierHigh
	case predictedDays < o.config.MediumBurnDays:
		return TierMedium
	default:
		return TierLow
	}
}

// shortageTier floors an open shortage at HIGH, escalating to CRITICAL for
// drugs whose criticality rank is in the top tier.
func (o *Overseer) shortageTier(drugName string) Tier {
	if rank, ok := o.ranks[drugName]; ok && rank <= o.config.TopCriticalityRank {
		return TierCritical
	}
	return TierHigh
}

// newsTier applies the same floor rule as shortages for high-confidence,
// high-impact news signals.
func (o *Overseer) newsTier(drugName string) Tier {
	return o.shortageTier(drugName)
}

// orderQuantity closes the gap to the safety-stock threshold. When the
// predicted usage rate is unknown (inventory task failed or drug surfaced
// only via shortage/news), the configured default quantity applies.
func (o *Overseer) orderQuantity(v *DrugRiskView) int {
	if v.PredictedUsageRate <= 0 {
		return o.config.DefaultOrderQty
	}
	gapDays := o.config.SafetyStockDays - v.PredictedBurnRateDays
	if gapDays <= 0 {
		gapDays = o.config.SafetyStockDays
	}
	qty := int(math.Ceil(gapDays * v.PredictedUsageRate))
	if qty < 1 {
		qty = 1
	}
	return qty
}
