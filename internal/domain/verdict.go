package domain

// Category classifies a verdict.
type Category string

const (
	CategoryOpportunity Category = "opportunity"
	CategoryWarning     Category = "warning"
	CategoryNeutral     Category = "neutral"
)

// String returns the string representation of Category.
func (c Category) String() string {
	return string(c)
}

// ReasonCode is an enumerated flag naming the rule that contributed to a verdict.
type ReasonCode string

const (
	ReasonLPRemoved           ReasonCode = "LP_REMOVED"
	ReasonHolderConcentration ReasonCode = "HOLDER_CONCENTRATION"
	ReasonHoneypotSuspected   ReasonCode = "HONEYPOT_SUSPECTED"
	ReasonMentionSpike        ReasonCode = "MENTION_SPIKE"
	ReasonWhaleAccumulation   ReasonCode = "WHALE_ACCUMULATION"
)

// Score bounds. Verdict scores are always clamped into [ScoreMin, ScoreMax].
const (
	ScoreMin = 0.0
	ScoreMax = 100.0
)

// RuleScore is one triggered rule's weighted contribution.
type RuleScore struct {
	Code     ReasonCode
	Weighted float64
}

// Verdict is a scored risk/opportunity assessment for an entity at a point
// in time. Immutable; superseded by newer verdicts for the same entity.
type Verdict struct {
	EntityID   string
	EntityKind EntityKind
	Score      float64 // ScoreMin..ScoreMax
	Category   Category
	Reasons    []RuleScore // triggered rules, deterministic order
	ProducedAt int64       // ms, taken from the triggering event
	TriggerID  string      // ID of the triggering event
}

// HasReason reports whether the verdict carries the given reason code.
func (v *Verdict) HasReason(code ReasonCode) bool {
	for _, r := range v.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}
