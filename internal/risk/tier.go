package risk

// Tier is the ordinal per-drug risk level produced by aggregation.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "LOW"
	case TierMedium:
		return "MEDIUM"
	case TierHigh:
		return "HIGH"
	case TierCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseTier maps severity strings from external signals (FDA impact
// severity, news supply-chain impact) onto a Tier. Unknown strings map to
// TierLow so a malformed signal can never raise risk on its own.
func ParseTier(s string) Tier {
	switch s {
	case "CRITICAL":
		return TierCritical
	case "HIGH":
		return TierHigh
	case "MEDIUM":
		return TierMedium
	default:
		return TierLow
	}
}

// maxTier returns the higher of two tiers. Aggregation combines signals
// with max, never averages: one strong signal must not be diluted.
func maxTier(a, b Tier) Tier {
	if b > a {
		return b
	}
	return a
}

// Urgency classifies a procurement request derived from a drug's tier.
type Urgency string

const (
	UrgencyEmergency Urgency = "EMERGENCY"
	UrgencyExpedited Urgency = "EXPEDITED"
	UrgencyRoutine   Urgency = "ROUTINE"
)

// UrgencyForTier maps the combined tier onto order urgency.
func UrgencyForTier(t Tier) Urgency {
	switch t {
	case TierCritical:
		return UrgencyEmergency
	case TierHigh:
		return UrgencyExpedited
	default:
		return UrgencyRoutine
	}
}
