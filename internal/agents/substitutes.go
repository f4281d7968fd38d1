package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/db"
	"github.com/pharmasentinel/orchestrator/internal/metrics"
)

const substituteInstructions = `You are a hospital clinical pharmacist.
For each drug listed, suggest clinically acceptable substitute drugs with a
short equivalence note. Respond with a JSON array; one object per
suggestion with fields: drug_name (must be one of the listed drugs),
substitute_name, notes. Suggest nothing for drugs with no viable
substitute.`

type substituteSuggestion struct {
	DrugName       string `json:"drug_name"`
	SubstituteName string `json:"substitute_name"`
	Notes          string `json:"notes"`
}

// SubstituteTask maps at-risk drugs to replacements. The curated catalog
// is authoritative; the reasoning service is only consulted for drugs the
// catalog has no entry for, and its suggestions are recorded as unverified.
type SubstituteTask struct {
	Drugs []string
}

func (SubstituteTask) Name() string { return "substitutes" }

func (t SubstituteTask) Run(ctx context.Context, deps *Deps) Outcome {
	if len(t.Drugs) == 0 {
		return Skip(t.Name(), "no drugs need substitutes")
	}

	var recorded, noSubstitute int
	var uncovered []string
	for _, drug := range t.Drugs {
		entries := deps.Catalog.SubstitutesFor(drug)
		if len(entries) == 0 {
			uncovered = append(uncovered, drug)
			continue
		}
		for _, e := range entries {
			if err := deps.Store.UpsertSubstitute(ctx, &db.Substitute{
				DrugName:       drug,
				SubstituteName: e.Name,
				Notes:          e.Notes,
			}); err != nil {
				return Failure(t.Name(), fmt.Errorf("record substitute for %s: %w", drug, err))
			}
			recorded++
		}
	}

	var fellBack bool
	if len(uncovered) > 0 && deps.Reasoner != nil {
		n, err := t.suggest(ctx, deps, uncovered)
		if err != nil {
			deps.Logger.Warn("Substitute reasoning unavailable", zap.Error(err))
			metrics.TaskFallbacks.WithLabelValues(t.Name()).Inc()
			fellBack = true
			noSubstitute = len(uncovered)
		} else {
			recorded += n
		}
	} else {
		noSubstitute = len(uncovered)
	}

	for _, drug := range uncovered {
		if err := deps.Store.InsertAlert(ctx, &db.Alert{
			AlertType:   "substitute",
			DrugName:    drug,
			Title:       fmt.Sprintf("No catalog substitute for %s", drug),
			Description: "at-risk drug has no curated substitution mapping",
			Severity:    "HIGH",
		}); err != nil {
			deps.Logger.Warn("Failed to write substitute alert",
				zap.String("drug", drug), zap.Error(err))
		}
	}

	return Outcome{
		Task:     t.Name(),
		Status:   StatusSuccess,
		Summary:  fmt.Sprintf("%d substitutes recorded for %d drugs, %d without alternatives", recorded, len(t.Drugs), noSubstitute),
		Fallback: fellBack,
		Detail: db.JSONB{
			"drugs":         len(t.Drugs),
			"recorded":      recorded,
			"no_substitute": noSubstitute,
			"fallback":      fellBack,
		},
	}
}

// suggest asks the reasoning service for mappings covering the drugs the
// catalog misses. Suggestions naming drugs outside the request are
// rejected wholesale.
func (t SubstituteTask) suggest(ctx context.Context, deps *Deps, drugs []string) (int, error) {
	var suggestions []substituteSuggestion
	payload := map[string]interface{}{"drugs": drugs}
	if err := deps.Reasoner.Analyze(ctx, substituteInstructions, payload, &suggestions); err != nil {
		return 0, err
	}

	requested := make(map[string]bool, len(drugs))
	for _, d := range drugs {
		requested[d] = true
	}

	var recorded int
	for _, s := range suggestions {
		if !requested[s.DrugName] {
			return 0, fmt.Errorf("reasoning suggested substitute for unrequested drug %q", s.DrugName)
		}
		if s.SubstituteName == "" {
			continue
		}
		notes := s.Notes
		if notes == "" {
			notes = "unverified suggestion"
		} else {
			notes = "unverified suggestion: " + notes
		}
		if err := deps.Store.UpsertSubstitute(ctx, &db.Substitute{
			DrugName:       s.DrugName,
			SubstituteName: s.SubstituteName,
			Notes:          notes,
		}); err != nil {
			return recorded, err
		}
		recorded++
	}
	return recorded, nil
}
