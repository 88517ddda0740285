package engine

import (
	"sort"
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// fuseRolls pairs a closing-only candidate with a subsequent pure-opening
// candidate for the same account, underlying, and trading day within the
// fusion window, producing one roll-flagged candidate. A single economic
// roll often arrives as two separate orders; this stage reunites them.
// Each candidate is consumed at most once, processed in chronological
// order per bucket. Independently, two same-day pure-opening candidates
// whose combined legs form an iron condor or iron butterfly at one
// expiration are fused the same way (a put spread wing and a call spread
// wing placed as separate orders).
func (e *Engine) fuseRolls(candidates []*candidate) []*candidate {
	buckets := make(map[fusionKey][]*candidate)
	var order []fusionKey
	var unfusable []*candidate

	loc := e.loc
	for _, c := range candidates {
		at, ok := c.earliest()
		if !ok {
			unfusable = append(unfusable, c)
			continue
		}
		k := fusionKey{
			account:    c.accountID(),
			underlying: c.underlying(),
			day:        at.In(loc).Format("2006-01-02"),
		}
		if _, seen := buckets[k]; !seen {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], c)
	}

	var out []*candidate
	out = append(out, unfusable...)
	for _, k := range order {
		out = append(out, e.fuseBucket(buckets[k])...)
	}
	return out
}

type fusionKey struct {
	account    string
	underlying string
	day        string
}

func (e *Engine) fuseBucket(bucket []*candidate) []*candidate {
	sort.SliceStable(bucket, func(i, j int) bool {
		ti, _ := bucket[i].earliest()
		tj, _ := bucket[j].earliest()
		return ti.Before(tj)
	})

	consumed := make([]bool, len(bucket))
	var out []*candidate

	for i, closer := range bucket {
		if consumed[i] || !closer.allClosing() || closer.optionLegCount() == 0 {
			continue
		}
		closeLatest, _ := closer.latest()
		for j := i + 1; j < len(bucket); j++ {
			opener := bucket[j]
			if consumed[j] || !opener.allOpening() || opener.optionLegCount() == 0 {
				continue
			}
			openEarliest, _ := opener.earliest()
			if openEarliest.Before(closeLatest) ||
				openEarliest.Sub(closeLatest) > e.cfg.RollFusionWindow.Std() {
				continue
			}
			out = append(out, e.fuseRollPair(closer, opener))
			consumed[i], consumed[j] = true, true
			break
		}
	}

	// Second pass: fuse complementary pure-opening wings into a single
	// four-strike structure.
	for i, first := range bucket {
		if consumed[i] || !first.allOpening() {
			continue
		}
		for j := i + 1; j < len(bucket); j++ {
			second := bucket[j]
			if consumed[j] || !second.allOpening() {
				continue
			}
			combined, ok := e.combineOpeningWings(first, second)
			if !ok {
				continue
			}
			out = append(out, combined)
			consumed[i], consumed[j] = true, true
			break
		}
	}

	for i, c := range bucket {
		if !consumed[i] {
			out = append(out, c)
		}
	}
	return out
}

// fuseRollPair builds the fused roll candidate. The strategy type comes
// from the opening side.
func (e *Engine) fuseRollPair(closer, opener *candidate) *candidate {
	combined := &group{
		key:    closer.group.key + "_roll_" + opener.group.key,
		method: models.GroupByRollFusion,
		txns:   append(append([]*logical{}, closer.txns...), opener.txns...),
		times:  append(append([]time.Time{}, closer.group.times...), opener.group.times...),
	}
	c := e.newCandidate(opener.strategy, combined.txns, combined)
	c.id = opener.id
	c.roll = true
	if c.precedence < models.StrategyStraddle.Precedence() {
		c.precedence = models.StrategyStraddle.Precedence()
	}
	c.confidence = models.ConfidenceMedium
	c.flags = []models.QualityFlag{models.FlagAssumed}
	c.stockContext = opener.stockContext
	e.logger.Printf("roll fuser: fused %s closing with %s opening for %s/%s",
		closer.group.key, opener.group.key, c.accountID(), c.underlying())
	return c
}

// combineOpeningWings merges two option-only pure-opening candidates when
// their combined legs form an iron condor or iron butterfly: one
// expiration, two calls and two puts. Returns false when the combined
// shape is nothing stronger than its parts.
func (e *Engine) combineOpeningWings(first, second *candidate) (*candidate, bool) {
	legs := append(optionLegs(first.legs), optionLegs(second.legs)...)
	if len(legs) != 4 ||
		first.optionLegCount() != len(first.legs) || second.optionLegCount() != len(second.legs) {
		return nil, false
	}

	calls, puts := 0, 0
	expirations := make(map[string]struct{})
	strikes := make(map[float64]struct{})
	for _, leg := range legs {
		if leg.Contract.Type == models.OptionCall {
			calls++
		} else {
			puts++
		}
		expirations[leg.Contract.Expiration] = struct{}{}
		strikes[leg.Contract.Strike] = struct{}{}
	}
	if len(expirations) != 1 || calls != 2 || puts != 2 {
		return nil, false
	}

	var strategy models.StrategyType
	switch len(strikes) {
	case 4:
		strategy = models.StrategyIronCondor
	case 3:
		strategy = models.StrategyIronButterfly
	default:
		return nil, false
	}

	combined := &group{
		key:    first.group.key + "_wing_" + second.group.key,
		method: models.GroupByCrossOrder,
		txns:   append(append([]*logical{}, first.txns...), second.txns...),
		times:  append(append([]time.Time{}, first.group.times...), second.group.times...),
	}
	c := e.newCandidate(strategy, combined.txns, combined)
	c.id = first.id
	c.confidence = lowerConfidence(first.confidence, second.confidence)
	c.flags = []models.QualityFlag{models.FlagAssumed}
	e.logger.Printf("roll fuser: combined wings %s + %s into %s for %s/%s",
		first.group.key, second.group.key, strategy, c.accountID(), c.underlying())
	return c, true
}

func lowerConfidence(a, b models.Confidence) models.Confidence {
	rank := map[models.Confidence]int{
		models.ConfidenceHigh:   3,
		models.ConfidenceMedium: 2,
		models.ConfidenceLow:    1,
	}
	if rank[a] <= rank[b] {
		return a
	}
	return b
}
