package engine

import "github.com/eddiefleurent/mifflin_matcher/internal/models"

// validate runs the final sanity checks. Validation only ever lowers
// confidence and adds flags; it never reclassifies or drops a match.
func (e *Engine) validate(candidates []*candidate) {
	for _, c := range candidates {
		e.checkQuantitySymmetry(c)
		e.checkTimeSpan(c)
	}
}

// checkQuantitySymmetry demands equal absolute quantities across the legs
// of defined-risk structures. A lopsided iron condor is either a ratio
// trade or a grouping mistake; either way a human should look.
func (e *Engine) checkQuantitySymmetry(c *candidate) {
	if !c.strategy.DefinedRisk() {
		return
	}
	want := 0
	for _, leg := range c.legs {
		if leg.IsStock {
			continue
		}
		q := abs(leg.Quantity)
		if want == 0 {
			want = q
			continue
		}
		if q != want {
			e.logger.Printf("validator: %s %s has asymmetric leg quantities", c.strategy, c.group.key)
			c.confidence = models.ConfidenceLow
			c.addFlag(models.FlagManualReview)
			return
		}
	}
}

// checkTimeSpan downgrades multi-leg structures assembled by timing whose
// fills are spread implausibly far apart. Order-id groups are exempt: the
// broker vouched for them.
func (e *Engine) checkTimeSpan(c *candidate) {
	if c.group.method == models.GroupByOrderID {
		return
	}
	span := c.group.span()

	var limit = e.cfg.SameSessionWindow.Std()
	switch c.strategy {
	case models.StrategyIronCondor, models.StrategyIronButterfly, models.StrategyButterfly:
		limit = e.cfg.RapidExecutionWindow.Std()
	case models.StrategyBullCallSpread, models.StrategyBullPutSpread,
		models.StrategyBearCallSpread, models.StrategyBearPutSpread,
		models.StrategyVerticalSpread:
		limit = e.cfg.SameSessionWindow.Std()
	default:
		return
	}
	if c.group.method == models.GroupByCrossOrder || c.group.method == models.GroupByRollFusion {
		return
	}
	if span > limit {
		e.logger.Printf("validator: %s %s assembled over %s, beyond the plausible window",
			c.strategy, c.group.key, span)
		if c.confidence == models.ConfidenceHigh {
			c.confidence = models.ConfidenceMedium
		} else {
			c.confidence = models.ConfidenceLow
		}
		c.addFlag(models.FlagManualReview)
	}
}
