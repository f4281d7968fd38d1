package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/db"
	"github.com/pharmasentinel/orchestrator/internal/metrics"
	"github.com/pharmasentinel/orchestrator/internal/risk"
	"github.com/pharmasentinel/orchestrator/internal/supplier"
)

const orderInstructions = `You are a hospital procurement analyst. Given a
drug, an order quantity and candidate suppliers (each with an id, price per
unit, lead time in days and reliability score), pick the single best
supplier balancing price against delivery speed and reliability. Respond
with a JSON object: {"supplier_id": "<id of one candidate>", "rationale":
"<one sentence>"}.`

type supplierPick struct {
	SupplierID string `json:"supplier_id"`
	Rationale  string `json:"rationale"`
}

// OrderTask turns order requests into supplier-backed order suggestions.
// Every order walks the lifecycle PENDING -> ANALYZING -> SUGGESTED or
// FAILED; a SUGGESTED order waits for human confirmation and is never
// advanced further here. Supplier choice prefers the reasoning service but
// always validates the pick against the candidate set; the deterministic
// selector is both the fallback and the arbiter of last resort.
type OrderTask struct {
	Requests []risk.OrderRequest
}

func (OrderTask) Name() string { return "orders" }

func (t OrderTask) Run(ctx context.Context, deps *Deps) Outcome {
	if len(t.Requests) == 0 {
		return Skip(t.Name(), "no orders requested")
	}

	var suggested, failed int
	var fellBack bool
	for _, req := range t.Requests {
		fb, err := t.process(ctx, deps, req)
		fellBack = fellBack || fb
		if err != nil {
			if ctx.Err() != nil {
				return Failure(t.Name(), ctx.Err())
			}
			failed++
			deps.Logger.Warn("Order processing failed",
				zap.String("drug", req.DrugName), zap.Error(err))
			continue
		}
		suggested++
	}

	if suggested == 0 && failed > 0 {
		return Failure(t.Name(), fmt.Errorf("all %d orders failed", failed))
	}
	return Outcome{
		Task:     t.Name(),
		Status:   StatusSuccess,
		Summary:  fmt.Sprintf("%d of %d orders suggested, %d failed", suggested, len(t.Requests), failed),
		Fallback: fellBack,
		Detail: db.JSONB{
			"requested": len(t.Requests),
			"suggested": suggested,
			"failed":    failed,
			"fallback":  fellBack,
		},
	}
}

// process runs one order through the lifecycle. The returned bool reports
// whether the deterministic selector stood in for a failed or rejected
// reasoning pick.
func (t OrderTask) process(ctx context.Context, deps *Deps, req risk.OrderRequest) (bool, error) {
	order := &db.Order{
		DrugName: req.DrugName,
		Quantity: req.Quantity,
		Status:   string(supplier.OrderPending),
		Urgency:  string(req.Urgency),
	}
	if err := deps.Store.InsertOrder(ctx, order); err != nil {
		return false, fmt.Errorf("create order: %w", err)
	}

	if err := t.advance(ctx, deps, order, supplier.OrderAnalyzing); err != nil {
		return false, err
	}

	rows, err := deps.Store.ListSuppliersForDrug(ctx, req.DrugName)
	if err != nil {
		return false, t.fail(ctx, deps, order, fmt.Sprintf("supplier lookup failed: %v", err))
	}

	candidates := make([]supplier.Candidate, 0, len(rows))
	byID := make(map[string]supplier.Candidate, len(rows))
	for _, s := range rows {
		c := supplier.Candidate{
			ID:               s.ID.String(),
			Name:             s.Name,
			Type:             s.Type,
			PricePerUnit:     s.PricePerUnit,
			LeadTimeDays:     s.LeadTimeDays,
			Reliability:      s.ReliabilityScore,
			IsNearbyHospital: s.IsNearbyHospital,
		}
		candidates = append(candidates, c)
		byID[c.ID] = c
	}

	chosen, err := supplier.Select(candidates)
	if err != nil {
		// Distinguish "nobody sells this" from "sellers without pricing";
		// the failure note is what the pharmacist sees.
		switch {
		case errors.Is(err, supplier.ErrNoSuppliers):
			return false, t.fail(ctx, deps, order, fmt.Sprintf("no suppliers for %s", req.DrugName))
		case errors.Is(err, supplier.ErrNoPricedSuppliers):
			return false, t.fail(ctx, deps, order, fmt.Sprintf("suppliers exist for %s but none have pricing", req.DrugName))
		default:
			return false, t.fail(ctx, deps, order, err.Error())
		}
	}

	var fellBack bool
	if deps.Reasoner != nil && len(candidates) > 1 {
		if pick, ok := t.reasonedPick(ctx, deps, req, candidates, byID); ok {
			chosen = pick
		} else {
			fellBack = true
		}
	}

	if err := t.advance(ctx, deps, order, supplier.OrderSuggested); err != nil {
		return fellBack, err
	}

	unitPrice := *chosen.PricePerUnit
	total := float64(req.Quantity) * unitPrice
	supplierID, supplierName := chosen.ID, chosen.Name
	order.SupplierName = &supplierName
	order.UnitPrice = &unitPrice
	order.TotalPrice = &total
	if uid, err := uuid.Parse(supplierID); err == nil {
		order.SupplierID = &uid
	}
	if err := deps.Store.UpdateOrder(ctx, order); err != nil {
		return fellBack, fmt.Errorf("persist suggestion: %w", err)
	}

	metrics.OrdersRecommended.WithLabelValues(string(req.Urgency)).Inc()
	if err := deps.Store.InsertAlert(ctx, &db.Alert{
		AlertType: "order",
		DrugName:  req.DrugName,
		Title:     fmt.Sprintf("Order suggestion: %d x %s from %s", req.Quantity, req.DrugName, chosen.Name),
		Description: fmt.Sprintf("%d units at %.2f each (total %.2f), urgency %s; awaiting confirmation",
			req.Quantity, unitPrice, total, req.Urgency),
		Severity: string(req.Urgency),
	}); err != nil {
		deps.Logger.Warn("Failed to write order alert",
			zap.String("drug", req.DrugName), zap.Error(err))
	}
	return fellBack, nil
}

// reasonedPick asks the reasoning service to choose among candidates. A
// reply naming an id outside the candidate set, or any error, keeps the
// deterministic choice.
func (t OrderTask) reasonedPick(ctx context.Context, deps *Deps, req risk.OrderRequest, candidates []supplier.Candidate, byID map[string]supplier.Candidate) (supplier.Candidate, bool) {
	payload := map[string]interface{}{
		"drug_name":  req.DrugName,
		"quantity":   req.Quantity,
		"urgency":    req.Urgency,
		"candidates": candidates,
	}
	var pick supplierPick
	if err := deps.Reasoner.Analyze(ctx, orderInstructions, payload, &pick); err != nil {
		deps.Logger.Warn("Supplier reasoning unavailable, using deterministic selection",
			zap.String("drug", req.DrugName), zap.Error(err))
		metrics.TaskFallbacks.WithLabelValues(t.Name()).Inc()
		return supplier.Candidate{}, false
	}
	chosen, ok := byID[pick.SupplierID]
	if !ok || chosen.PricePerUnit == nil {
		deps.Logger.Warn("Supplier reasoning returned invalid pick, using deterministic selection",
			zap.String("drug", req.DrugName), zap.String("supplier_id", pick.SupplierID))
		metrics.TaskFallbacks.WithLabelValues(t.Name()).Inc()
		return supplier.Candidate{}, false
	}
	deps.Logger.Info("Supplier chosen by reasoning",
		zap.String("drug", req.DrugName),
		zap.String("supplier", chosen.Name),
		zap.String("rationale", pick.Rationale),
	)
	return chosen, true
}

// advance validates and persists one lifecycle transition.
func (t OrderTask) advance(ctx context.Context, deps *Deps, order *db.Order, to supplier.OrderStatus) error {
	if err := supplier.Transition(supplier.OrderStatus(order.Status), to); err != nil {
		return err
	}
	order.Status = string(to)
	if err := deps.Store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("persist %s transition: %w", to, err)
	}
	return nil
}

// fail moves the order to FAILED with a diagnostic note and reports the
// note as the processing error.
func (t OrderTask) fail(ctx context.Context, deps *Deps, order *db.Order, note string) error {
	order.FailureNote = &note
	if err := t.advance(ctx, deps, order, supplier.OrderFailed); err != nil {
		return fmt.Errorf("%s (and failed to record: %v)", note, err)
	}
	return errors.New(note)
}
