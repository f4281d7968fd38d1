package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/db"
	"github.com/pharmasentinel/orchestrator/internal/metrics"
	"github.com/pharmasentinel/orchestrator/internal/risk"
	"github.com/pharmasentinel/orchestrator/internal/sources"
)

const newsInstructions = `You are a pharmaceutical supply chain analyst.
Given recent news articles and a list of monitored drug names, identify
which monitored drugs face a supply risk. Respond with a JSON array; one
object per affected drug with fields: drug_name (must be one of the
monitored names), headline, supply_chain_impact (LOW|MEDIUM|HIGH|CRITICAL)
and confidence (0.0-1.0). Drugs without credible supply risk are omitted.`

// fallbackConfidence is assigned by the keyword matcher when the reasoning
// service is unavailable. It sits above the aggregation confidence floor
// so a clear keyword hit still registers.
const fallbackConfidence = 0.75

var riskKeywords = []string{"shortage", "recall", "disruption", "halt", "discontinu", "supply"}

// NewsTask scans recent coverage for supply risks to monitored drugs. The
// reasoning service grades impact and confidence; when it is unavailable a
// keyword matcher provides a coarse fallback.
type NewsTask struct{}

func (NewsTask) Name() string { return "news" }

func (t NewsTask) Run(ctx context.Context, deps *Deps) Outcome {
	drugs := deps.Catalog.Names()

	articles, err := deps.News.SupplyNews(ctx, drugs)
	if err != nil {
		return Failure(t.Name(), fmt.Errorf("fetch news: %w", err))
	}
	if len(articles) == 0 {
		return Outcome{
			Task:    t.Name(),
			Status:  StatusSuccess,
			Summary: "no supply-relevant articles found",
			Detail:  db.JSONB{"articles": 0},
		}
	}

	var signals []risk.NewsSignal
	var graded bool
	if deps.Reasoner != nil {
		signals, err = t.grade(ctx, deps, drugs, articles)
		graded = err == nil
		if err != nil {
			deps.Logger.Warn("News reasoning unavailable, using keyword fallback", zap.Error(err))
			metrics.TaskFallbacks.WithLabelValues(t.Name()).Inc()
		}
	}
	if !graded {
		signals = keywordMatch(drugs, articles)
	}

	for _, sig := range signals {
		if sig.Confidence < deps.RiskConfig.ConfidenceFloor {
			continue
		}
		if err := deps.Store.InsertAlert(ctx, &db.Alert{
			AlertType:   "news",
			DrugName:    sig.DrugName,
			Title:       sig.Headline,
			Description: fmt.Sprintf("supply chain impact %s (confidence %.2f)", sig.Impact, sig.Confidence),
			Severity:    sig.Impact,
		}); err != nil {
			deps.Logger.Warn("Failed to write news alert",
				zap.String("drug", sig.DrugName), zap.Error(err))
		}
	}

	return Outcome{
		Task:     t.Name(),
		Status:   StatusSuccess,
		Summary:  fmt.Sprintf("%d risk signals from %d articles", len(signals), len(articles)),
		Fallback: !graded,
		News:     signals,
		Detail: db.JSONB{
			"articles": len(articles),
			"signals":  len(signals),
			"graded":   graded,
			"fallback": !graded,
		},
	}
}

// grade asks the reasoning service to map articles onto monitored drugs,
// rejecting replies that name drugs outside the monitored set.
func (t NewsTask) grade(ctx context.Context, deps *Deps, drugs []string, articles []sources.Article) ([]risk.NewsSignal, error) {
	payload := map[string]interface{}{
		"monitored_drugs": drugs,
		"articles":        articles,
	}

	var signals []risk.NewsSignal
	if err := deps.Reasoner.Analyze(ctx, newsInstructions, payload, &signals); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(drugs))
	for _, d := range drugs {
		known[d] = true
	}
	for _, sig := range signals {
		if !known[sig.DrugName] {
			return nil, fmt.Errorf("reasoning returned unmonitored drug %q", sig.DrugName)
		}
		if sig.Confidence < 0 || sig.Confidence > 1 {
			return nil, fmt.Errorf("reasoning returned confidence %v for %q", sig.Confidence, sig.DrugName)
		}
	}
	return signals, nil
}

// keywordMatch is the deterministic fallback: an article naming a drug
// alongside a risk keyword yields a HIGH-impact signal at fixed confidence.
func keywordMatch(drugs []string, articles []sources.Article) []risk.NewsSignal {
	var signals []risk.NewsSignal
	seen := make(map[string]bool)
	for _, a := range articles {
		text := strings.ToLower(a.Title + " " + a.Description)
		if !containsAny(text, riskKeywords) {
			continue
		}
		for _, drug := range drugs {
			if seen[drug] || !strings.Contains(text, strings.ToLower(drug)) {
				continue
			}
			seen[drug] = true
			signals = append(signals, risk.NewsSignal{
				DrugName:   drug,
				Headline:   a.Title,
				Impact:     risk.TierHigh.String(),
				Confidence: fallbackConfidence,
			})
		}
	}
	return signals
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
