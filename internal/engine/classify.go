package engine

import (
	"sort"

	"github.com/google/uuid"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// classifyGroup assigns strategy shapes to one transaction group. Covered
// short calls are carved out first: a short-call-opening leg backed by
// enough historical shares becomes its own Covered Call match no matter
// what else shares the group. The remaining legs are classified by
// leg count and shape.
func (e *Engine) classifyGroup(g *group) []*candidate {
	var options, stocks []*logical
	for _, txn := range g.txns {
		switch {
		case txn.InstrumentType.IsOption() && txn.contract != nil:
			options = append(options, txn)
		case txn.InstrumentType.IsOption():
			// Unparsable option symbol: excluded from structural matching,
			// picked up by the final single-transaction pass.
			e.logger.Printf("group %s: option symbol %q unparsable, skipping structural match", g.key, txn.Symbol)
		default:
			stocks = append(stocks, txn)
		}
	}

	var out []*candidate

	covered, remaining := e.carveCoveredCalls(g, options)
	out = append(out, covered...)
	options = remaining

	if len(options) > 0 {
		if c := e.classifyOptionShape(g, options); c != nil {
			out = append(out, c)
		}
	}

	if len(stocks) > 0 && len(options) == 0 {
		if c := e.classifyStock(g, stocks); c != nil {
			out = append(out, c)
		}
	}

	return out
}

// carveCoveredCalls checks every short-call-opening leg against the
// account's historical stock position at that leg's execution time. Legs
// with sufficient coverage become standalone Covered Call candidates and
// are removed from shape classification.
func (e *Engine) carveCoveredCalls(g *group, options []*logical) ([]*candidate, []*logical) {
	var covered []*candidate
	var remaining []*logical

	for _, txn := range options {
		if txn.contract.Type != models.OptionCall ||
			!txn.Action.IsOpening() || !txn.Action.IsSell() {
			remaining = append(remaining, txn)
			continue
		}
		at, ok := txn.earliest()
		if !ok {
			// No execution time means no position replay; fall through to
			// shape classification as an ordinary short call.
			remaining = append(remaining, txn)
			continue
		}
		sharesHeld := e.lookup.SharesAt(txn.AccountID, txn.contract.Underlying, at)
		sharesNeeded := abs(txn.Quantity) * models.SharesPerContract
		if sharesHeld < sharesNeeded {
			remaining = append(remaining, txn)
			continue
		}

		c := e.newCandidate(models.StrategyCoveredCall, []*logical{txn}, g)
		c.confidence = e.groupConfidence(g, false)
		c.flags = []models.QualityFlag{models.FlagVerified}
		c.stockContext = sharesHeld
		covered = append(covered, c)
	}
	return covered, remaining
}

// classifyStock nets stock transactions by sign. A net-zero group is a
// completed round trip and produces no match; its members fall through to
// the single-transaction pass.
func (e *Engine) classifyStock(g *group, stocks []*logical) *candidate {
	net := 0
	for _, txn := range stocks {
		net += txn.SignedQuantity()
	}
	var strategy models.StrategyType
	switch {
	case net > 0:
		strategy = models.StrategyLongStock
	case net < 0:
		strategy = models.StrategyShortStock
	default:
		return nil
	}
	c := e.newCandidate(strategy, stocks, g)
	c.confidence = models.ConfidenceHigh
	c.flags = []models.QualityFlag{models.FlagVerified}
	return c
}

// classifyOptionShape classifies option legs by count and structure.
func (e *Engine) classifyOptionShape(g *group, options []*logical) *candidate {
	sorted := make([]*logical, len(options))
	copy(sorted, options)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].contract, sorted[j].contract
		if a.Expiration != b.Expiration {
			return a.Expiration < b.Expiration
		}
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		return a.Type < b.Type
	})

	switch len(sorted) {
	case 1:
		return e.classifySingle(g, sorted[0])
	case 2:
		return e.classifyPair(g, sorted)
	case 3:
		return e.classifyTriple(g, sorted)
	case 4:
		return e.classifyQuad(g, sorted)
	default:
		return e.classifyWide(g, sorted)
	}
}

// singleShape maps one option leg to a strategy. Coverage for short calls
// is checked by the caller (carveCoveredCalls) before this runs, so a
// short opening call here is naked. System closures carry no direction
// and land in Unknown.
func singleShape(txn *logical) models.StrategyType {
	sign := txn.positionSign()
	if sign == 0 {
		return models.StrategyUnknown
	}
	if txn.contract.Type == models.OptionCall {
		if sign > 0 {
			return models.StrategyLongCall
		}
		return models.StrategyNakedCall
	}
	if sign > 0 {
		return models.StrategyLongPut
	}
	return models.StrategyCashSecuredPut
}

func (e *Engine) classifySingle(g *group, txn *logical) *candidate {
	strategy := singleShape(txn)
	c := e.newCandidate(strategy, []*logical{txn}, g)
	c.confidence = e.groupConfidence(g, false)
	if strategy == models.StrategyUnknown {
		c.confidence = models.ConfidenceLow
		c.flags = []models.QualityFlag{models.FlagManualReview}
	} else {
		c.flags = []models.QualityFlag{models.FlagVerified}
	}
	return c
}

func (e *Engine) classifyPair(g *group, pair []*logical) *candidate {
	a, b := pair[0], pair[1]
	ca, cb := a.contract, b.contract

	if ca.Expiration == cb.Expiration {
		var strategy models.StrategyType
		if ca.Type == cb.Type {
			strategy = verticalShape(a, b)
		} else if ca.Strike == cb.Strike {
			strategy = models.StrategyStraddle
		} else {
			strategy = models.StrategyStrangle
		}
		c := e.newCandidate(strategy, pair, g)
		c.confidence = e.groupConfidence(g, false)
		c.flags = []models.QualityFlag{models.FlagVerified}
		return c
	}

	// Different expirations: a roll (closing one contract, opening a
	// related one) outranks the calendar/diagonal reading.
	if ca.Type == cb.Type {
		var closing, opening *logical
		switch {
		case a.Action.IsClosing() && b.Action.IsOpening():
			closing, opening = a, b
		case a.Action.IsOpening() && b.Action.IsClosing():
			closing, opening = b, a
		}
		if opening != nil && closing != nil {
			return e.rollCandidate(g, pair, []*logical{opening})
		}
	}
	var strategy models.StrategyType
	if ca.Strike == cb.Strike && ca.Type == cb.Type {
		strategy = models.StrategyCalendarSpread
	} else {
		strategy = models.StrategyDiagonalSpread
	}
	c := e.newCandidate(strategy, pair, g)
	c.confidence = e.groupConfidence(g, true)
	c.flags = []models.QualityFlag{models.FlagVerified}
	return c
}

// verticalShape determines the vertical spread direction from which leg is
// long vs short. The legs arrive sorted by strike ascending.
func verticalShape(low, high *logical) models.StrategyType {
	isCall := low.contract.Type == models.OptionCall
	switch {
	case low.positionSign() > 0 && high.positionSign() < 0:
		if isCall {
			return models.StrategyBullCallSpread
		}
		return models.StrategyBullPutSpread
	case low.positionSign() < 0 && high.positionSign() > 0:
		if isCall {
			return models.StrategyBearCallSpread
		}
		return models.StrategyBearPutSpread
	default:
		return models.StrategyVerticalSpread
	}
}

func (e *Engine) classifyTriple(g *group, legs []*logical) *candidate {
	sameExpiration := legs[0].contract.Expiration == legs[1].contract.Expiration &&
		legs[1].contract.Expiration == legs[2].contract.Expiration
	sameType := legs[0].contract.Type == legs[1].contract.Type &&
		legs[1].contract.Type == legs[2].contract.Type

	strikes := make(map[float64]struct{})
	for _, leg := range legs {
		strikes[leg.contract.Strike] = struct{}{}
	}

	// Butterfly: three distinct strikes with long wings around a short
	// double body (legs sorted by strike ascending).
	isButterfly := sameExpiration && sameType && len(strikes) == 3 &&
		legs[0].positionSign() > 0 && legs[1].positionSign() < 0 && legs[2].positionSign() > 0

	if isButterfly {
		c := e.newCandidate(models.StrategyButterfly, legs, g)
		c.confidence = e.groupConfidence(g, !sameExpiration)
		c.flags = []models.QualityFlag{models.FlagAssumed}
		return c
	}
	c := e.newCandidate(models.StrategyComplex, legs, g)
	c.confidence = e.groupConfidence(g, !sameExpiration)
	c.flags = []models.QualityFlag{models.FlagAssumed, models.FlagManualReview}
	return c
}

func (e *Engine) classifyQuad(g *group, legs []*logical) *candidate {
	var closing, opening []*logical
	for _, leg := range legs {
		if leg.Action.IsClosing() {
			closing = append(closing, leg)
		} else if leg.Action.IsOpening() {
			opening = append(opening, leg)
		}
	}

	// Double-leg roll: two closing plus two opening legs of the same
	// option types, e.g. rolling a vertical spread out in time.
	if len(closing) == 2 && len(opening) == 2 {
		closingTypes := typeSet(closing)
		openingTypes := typeSet(opening)
		if len(closingTypes) == 1 && setsEqual(closingTypes, openingTypes) {
			return e.rollCandidate(g, legs, opening)
		}
		c := e.newCandidate(models.StrategyComplex, legs, g)
		c.confidence = e.groupConfidence(g, true)
		c.flags = []models.QualityFlag{models.FlagAssumed, models.FlagManualReview}
		return c
	}

	calls, puts := 0, 0
	expirations := make(map[string]struct{})
	strikes := make(map[float64]struct{})
	for _, leg := range legs {
		if leg.contract.Type == models.OptionCall {
			calls++
		} else {
			puts++
		}
		expirations[leg.contract.Expiration] = struct{}{}
		strikes[leg.contract.Strike] = struct{}{}
	}

	strategy := models.StrategyComplex
	if len(expirations) == 1 && calls == 2 && puts == 2 {
		switch len(strikes) {
		case 3:
			strategy = models.StrategyIronButterfly
		case 4:
			strategy = models.StrategyIronCondor
		}
	}

	c := e.newCandidate(strategy, legs, g)
	c.confidence = e.groupConfidence(g, len(expirations) > 1)
	if c.confidence == models.ConfidenceHigh {
		c.flags = []models.QualityFlag{models.FlagVerified}
	} else {
		c.flags = []models.QualityFlag{models.FlagAssumed}
	}
	if strategy == models.StrategyComplex {
		c.addFlag(models.FlagManualReview)
	}
	return c
}

// classifyWide handles groups of more than four option legs: Complex with
// manual review, unless the group is recognizably a roll, in which case
// the opening side's shape names the strategy.
func (e *Engine) classifyWide(g *group, legs []*logical) *candidate {
	var closing, opening []*logical
	for _, leg := range legs {
		if leg.Action.IsClosing() {
			closing = append(closing, leg)
		} else if leg.Action.IsOpening() {
			opening = append(opening, leg)
		}
	}
	if len(closing) > 0 && len(opening) > 0 && setsEqual(typeSet(closing), typeSet(opening)) {
		return e.rollCandidate(g, legs, opening)
	}

	c := e.newCandidate(models.StrategyComplex, legs, g)
	c.confidence = models.ConfidenceLow
	c.flags = []models.QualityFlag{models.FlagManualReview}
	return c
}

// rollCandidate builds a roll-flagged candidate whose strategy type is
// taken from the opening side's shape.
func (e *Engine) rollCandidate(g *group, all, opening []*logical) *candidate {
	strategy := e.openingShape(g, opening)
	c := e.newCandidate(strategy, all, g)
	c.roll = true
	// Roll precedence sits in the straddle tier regardless of the opening
	// side's own shape score.
	if c.precedence < models.StrategyStraddle.Precedence() {
		c.precedence = models.StrategyStraddle.Precedence()
	}
	if g.method == models.GroupByOrderID {
		c.confidence = models.ConfidenceHigh
		c.flags = []models.QualityFlag{models.FlagVerified}
	} else {
		// Rolls assembled without an order id are less certain.
		c.confidence = models.ConfidenceMedium
		c.flags = []models.QualityFlag{models.FlagAssumed}
	}
	return c
}

// openingShape names the strategy formed by a roll's opening legs.
func (e *Engine) openingShape(g *group, opening []*logical) models.StrategyType {
	switch len(opening) {
	case 0:
		return models.StrategyUnknown
	case 1:
		txn := opening[0]
		// A covered short call stays a covered call even inside a roll.
		if txn.contract.Type == models.OptionCall && txn.Action.IsSell() {
			if at, ok := txn.earliest(); ok {
				needed := abs(txn.Quantity) * models.SharesPerContract
				if e.lookup.SharesAt(txn.AccountID, txn.contract.Underlying, at) >= needed {
					return models.StrategyCoveredCall
				}
			}
		}
		return singleShape(txn)
	case 2:
		a, b := opening[0], opening[1]
		if a.contract.Strike > b.contract.Strike {
			a, b = b, a
		}
		if a.contract.Expiration == b.contract.Expiration {
			if a.contract.Type == b.contract.Type {
				return verticalShape(a, b)
			}
			if a.contract.Strike == b.contract.Strike {
				return models.StrategyStraddle
			}
			return models.StrategyStrangle
		}
		return models.StrategyDiagonalSpread
	default:
		return models.StrategyComplex
	}
}

// groupConfidence applies the standard confidence ladder: order-id grouped
// is HIGH; timing-grouped at a single expiration is MEDIUM; anything
// looser is LOW.
func (e *Engine) groupConfidence(g *group, multiExpiration bool) models.Confidence {
	if g.method == models.GroupByOrderID {
		return models.ConfidenceHigh
	}
	if multiExpiration {
		return models.ConfidenceLow
	}
	return models.ConfidenceMedium
}

// newCandidate builds a candidate with legs derived from the member
// transactions and the strategy's static precedence score.
func (e *Engine) newCandidate(strategy models.StrategyType, txns []*logical, g *group) *candidate {
	return &candidate{
		id:         uuid.NewString(),
		strategy:   strategy,
		txns:       txns,
		precedence: strategy.Precedence(),
		group:      g,
		legs:       buildLegs(txns),
	}
}

// buildLegs folds transactions into immutable per-contract leg snapshots.
// The leg's long/short designation is always derived from the signed net
// quantity.
func buildLegs(txns []*logical) []models.Leg {
	type legAccum struct {
		leg models.Leg
	}
	byKey := make(map[models.ContractKey]*legAccum)
	var order []models.ContractKey

	for _, txn := range txns {
		var key models.ContractKey
		isStock := !txn.InstrumentType.IsOption()
		if isStock {
			key = models.ContractKey{Underlying: txn.Underlying()}
		} else if txn.contract != nil {
			key = txn.contract.Key()
		} else {
			key = models.ContractKey{Underlying: txn.Symbol}
		}

		acc, ok := byKey[key]
		if !ok {
			acc = &legAccum{leg: models.Leg{
				Contract:   key,
				IsStock:    isStock,
				EntryPrice: txn.Price,
			}}
			byKey[key] = acc
			order = append(order, key)
		}
		acc.leg.Quantity += txn.SignedQuantity()
		acc.leg.TransactionIDs = append(acc.leg.TransactionIDs, txn.ids...)
		acc.leg.Actions = append(acc.leg.Actions, txn.Action)
		acc.leg.Timestamps = append(acc.leg.Timestamps, txn.times...)
	}

	legs := make([]models.Leg, 0, len(order))
	for _, key := range order {
		legs = append(legs, byKey[key].leg)
	}
	return legs
}

func typeSet(txns []*logical) map[models.OptionType]struct{} {
	set := make(map[models.OptionType]struct{})
	for _, txn := range txns {
		if txn.contract != nil {
			set[txn.contract.Type] = struct{}{}
		}
	}
	return set
}

func setsEqual(a, b map[models.OptionType]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
