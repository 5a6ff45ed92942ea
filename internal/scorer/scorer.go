package scorer

import (
	"time"

	"token-sentinel/internal/domain"
)

// Config holds every rule threshold and weight. All values must be set
// explicitly; the scorer never invents defaults, so the same config and the
// same snapshot always produce the same verdict.
type Config struct {
	// LP removal rule (warning).
	LiquidityDropPct    float64       // trigger when liquidity falls this % below the window high
	LiquidityDropWindow time.Duration // how far back removals count
	LiquidityWeight     float64

	// Holder concentration rule (warning).
	ConcentrationTopShare float64 // trigger when top-N holders own at least this fraction, 0..1
	ConcentrationWeight   float64

	// Honeypot rule (warning): plenty of buys, almost no sells getting through.
	HoneypotMinBuys      int
	HoneypotMaxSellRatio float64 // sells/buys at or below this ratio is suspicious
	HoneypotWeight       float64

	// Mention spike rule (opportunity).
	MentionSpikeMult   float64 // rate must exceed baseline mean by this multiple
	MentionMinBaseline float64 // baseline mean below this abstains (too little history)
	MentionWeight      float64

	// Whale accumulation rule (opportunity).
	WhaleInflowMin float64 // net inflow in token units to trigger
	WhaleWeight    float64
}

// Scorer evaluates rule sets over entity snapshots. It is pure: no clock, no
// I/O, no mutation of its inputs. Verdict timestamps come from the
// triggering event, so replaying history reproduces identical verdicts.
type Scorer struct {
	cfg Config
}

// New creates a scorer with the given rule configuration.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// evalInput bundles a snapshot with the evaluation anchor. The anchor is the
// triggering event's timestamp and bounds any time-windowed rule, keeping
// replay independent of the wall clock.
type evalInput struct {
	snap   *domain.EntitySnapshot
	anchor int64
}

// rule is one scoring heuristic. Returns (severity in (0,1], true) when it
// fires and (0, false) when it abstains for lack of data or signal.
type rule struct {
	code     domain.ReasonCode
	category domain.Category
	weight   func(c Config) float64
	eval     func(c Config, in evalInput) (float64, bool)
}

// Rules are evaluated in this fixed order so verdict reason lists are
// deterministic.
var rules = []rule{
	{
		code:     domain.ReasonLPRemoved,
		category: domain.CategoryWarning,
		weight:   func(c Config) float64 { return c.LiquidityWeight },
		eval:     evalLiquidityDrop,
	},
	{
		code:     domain.ReasonHolderConcentration,
		category: domain.CategoryWarning,
		weight:   func(c Config) float64 { return c.ConcentrationWeight },
		eval:     evalConcentration,
	},
	{
		code:     domain.ReasonHoneypotSuspected,
		category: domain.CategoryWarning,
		weight:   func(c Config) float64 { return c.HoneypotWeight },
		eval:     evalHoneypot,
	},
	{
		code:     domain.ReasonMentionSpike,
		category: domain.CategoryOpportunity,
		weight:   func(c Config) float64 { return c.MentionWeight },
		eval:     evalMentionSpike,
	},
	{
		code:     domain.ReasonWhaleAccumulation,
		category: domain.CategoryOpportunity,
		weight:   func(c Config) float64 { return c.WhaleWeight },
		eval:     evalWhaleAccumulation,
	},
}

// Score evaluates all rules against a snapshot and returns the verdict.
// The triggering event supplies ProducedAt and TriggerID and anchors the
// liquidity window; its payload is never read.
func (sc *Scorer) Score(snap *domain.EntitySnapshot, trigger *domain.Event) *domain.Verdict {
	v := &domain.Verdict{
		EntityID:   snap.ID,
		EntityKind: snap.Kind,
		Category:   domain.CategoryNeutral,
		ProducedAt: trigger.Timestamp,
		TriggerID:  trigger.ID,
	}

	in := evalInput{snap: snap, anchor: trigger.Timestamp}

	var warning, opportunity bool
	for _, r := range rules {
		severity, fired := r.eval(sc.cfg, in)
		if !fired {
			continue
		}
		weighted := r.weight(sc.cfg) * severity
		if weighted <= 0 {
			continue
		}
		v.Reasons = append(v.Reasons, domain.RuleScore{Code: r.code, Weighted: weighted})
		v.Score += weighted
		switch r.category {
		case domain.CategoryWarning:
			warning = true
		case domain.CategoryOpportunity:
			opportunity = true
		}
	}

	if v.Score > domain.ScoreMax {
		v.Score = domain.ScoreMax
	}
	if v.Score < domain.ScoreMin {
		v.Score = domain.ScoreMin
	}

	// Warnings outrank opportunities when both kinds of rule fire.
	switch {
	case warning:
		v.Category = domain.CategoryWarning
	case opportunity:
		v.Category = domain.CategoryOpportunity
	}
	return v
}

func evalLiquidityDrop(c Config, in evalInput) (float64, bool) {
	s := in.snap
	if c.LiquidityDropPct <= 0 || len(s.Liquidity.Deltas) == 0 {
		return 0, false
	}

	cutoff := in.anchor - c.LiquidityDropWindow.Milliseconds()
	high := s.Liquidity.Current
	removed := false
	for _, d := range s.Liquidity.Deltas {
		if d.Timestamp < cutoff {
			continue
		}
		if before := d.After - d.Delta; before > high {
			high = before
		}
		if d.After > high {
			high = d.After
		}
		if d.Delta < 0 {
			removed = true
		}
	}
	if !removed || high <= 0 {
		return 0, false
	}

	dropFrac := (high - s.Liquidity.Current) / high
	if dropFrac*100 < c.LiquidityDropPct {
		return 0, false
	}
	return dropFrac, true
}

func evalConcentration(c Config, in evalInput) (float64, bool) {
	s := in.snap
	if c.ConcentrationTopShare <= 0 || s.Holders.ObservedAt == 0 {
		return 0, false
	}
	if s.Holders.TopShare < c.ConcentrationTopShare {
		return 0, false
	}
	return s.Holders.TopShare, true
}

func evalHoneypot(c Config, in evalInput) (float64, bool) {
	s := in.snap
	if c.HoneypotMinBuys <= 0 || s.Trading.Buys < c.HoneypotMinBuys {
		return 0, false
	}
	sellRatio := float64(s.Trading.Sells) / float64(s.Trading.Buys)
	if sellRatio > c.HoneypotMaxSellRatio {
		return 0, false
	}
	return 1 - sellRatio, true
}

func evalMentionSpike(c Config, in evalInput) (float64, bool) {
	m := in.snap.Mentions
	if c.MentionSpikeMult <= 0 || m.BaselineCount == 0 || m.BaselineMean < c.MentionMinBaseline {
		return 0, false
	}
	threshold := c.MentionSpikeMult * m.BaselineMean
	if threshold <= 0 || m.RatePerMinute < threshold {
		return 0, false
	}
	severity := (m.RatePerMinute - m.BaselineMean) / (c.MentionSpikeMult * m.BaselineMean)
	if severity > 1 {
		severity = 1
	}
	return severity, true
}

func evalWhaleAccumulation(c Config, in evalInput) (float64, bool) {
	s := in.snap
	if c.WhaleInflowMin <= 0 || s.Whale.NetInflow < c.WhaleInflowMin {
		return 0, false
	}
	severity := s.Whale.NetInflow / (2 * c.WhaleInflowMin)
	if severity > 1 {
		severity = 1
	}
	return severity, true
}
