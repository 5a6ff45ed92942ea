package dispatch

import (
	"fmt"
	"strings"
	"time"

	"token-sentinel/internal/domain"
)

// Risk tier boundaries. Scores below Yellow are green, below Red are yellow,
// the rest red.
const (
	TierYellowMin = 30.0
	TierRedMin    = 70.0
)

// Tier maps a score to its risk tier name.
func Tier(score float64) string {
	switch {
	case score >= TierRedMin:
		return "red"
	case score >= TierYellowMin:
		return "yellow"
	default:
		return "green"
	}
}

func tierEmoji(score float64) string {
	switch Tier(score) {
	case "red":
		return "🔴"
	case "yellow":
		return "🟡"
	default:
		return "🟢"
	}
}

var reasonLabels = map[domain.ReasonCode]string{
	domain.ReasonLPRemoved:           "liquidity pulled",
	domain.ReasonHolderConcentration: "holders concentrated",
	domain.ReasonHoneypotSuspected:   "possible honeypot",
	domain.ReasonMentionSpike:        "mention spike",
	domain.ReasonWhaleAccumulation:   "whale accumulation",
}

// FormatAlert renders a signal as the message text posted externally.
func FormatAlert(sig *domain.Signal) string {
	v := &sig.Verdict

	var b strings.Builder
	switch v.Category {
	case domain.CategoryWarning:
		fmt.Fprintf(&b, "⚠️ WARNING %s\n", tierEmoji(v.Score))
	case domain.CategoryOpportunity:
		fmt.Fprintf(&b, "📈 OPPORTUNITY %s\n", tierEmoji(v.Score))
	default:
		fmt.Fprintf(&b, "ℹ️ %s\n", tierEmoji(v.Score))
	}

	fmt.Fprintf(&b, "%s %s\n", v.EntityKind, v.EntityID)
	fmt.Fprintf(&b, "score %.0f/100 (%s)\n", v.Score, Tier(v.Score))

	for _, r := range v.Reasons {
		label, ok := reasonLabels[r.Code]
		if !ok {
			label = string(r.Code)
		}
		fmt.Fprintf(&b, "• %s (+%.1f)\n", label, r.Weighted)
	}

	fmt.Fprintf(&b, "at %s", time.UnixMilli(v.ProducedAt).UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}
