// Package supplier implements the deterministic multi-criteria supplier
// selection used by the order task and the order lifecycle it drives.
package supplier

import (
	"errors"
	"sort"
)

var (
	// ErrNoSuppliers means no candidate at all was available for the drug.
	ErrNoSuppliers = errors.New("no suppliers found for drug")
	// ErrNoPricedSuppliers means candidates existed but none carried pricing.
	ErrNoPricedSuppliers = errors.New("suppliers found but none have pricing")
)

// Candidate is a read-only supplier snapshot fetched per evaluation.
type Candidate struct {
	ID               string
	Name             string
	Type             string
	PricePerUnit     *float64
	LeadTimeDays     *int
	Reliability      *float64
	IsNearbyHospital bool
}

// Select picks the best-priced candidate. Candidates without a price are
// filtered out first. Ranking is ascending price, then ascending lead
// time, then descending reliability, then name; the fixed priority makes
// ties deterministic regardless of arrival order. Missing lead time or
// reliability sorts last within its criterion.
func Select(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoSuppliers
	}

	priced := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.PricePerUnit != nil {
			priced = append(priced, c)
		}
	}
	if len(priced) == 0 {
		return Candidate{}, ErrNoPricedSuppliers
	}

	sort.Slice(priced, func(i, j int) bool {
		a, b := priced[i], priced[j]
		if *a.PricePerUnit != *b.PricePerUnit {
			return *a.PricePerUnit < *b.PricePerUnit
		}
		al, bl := leadOrMax(a.LeadTimeDays), leadOrMax(b.LeadTimeDays)
		if al != bl {
			return al < bl
		}
		ar, br := reliabilityOrMin(a.Reliability), reliabilityOrMin(b.Reliability)
		if ar != br {
			return ar > br
		}
		return a.Name < b.Name
	})

	return priced[0], nil
}

func leadOrMax(d *int) int {
	if d == nil {
		return int(^uint(0) >> 1)
	}
	return *d
}

func reliabilityOrMin(r *float64) float64 {
	if r == nil {
		return -1
	}
	return *r
}
