package engine

import (
	"sort"
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// matchClosings retroactively attaches orphaned all-closing candidates to
// the best-matching earlier opening candidate, across order and grouping
// boundaries. Acceptance is strict: same account, disjoint order ids,
// closing strictly after the opening's latest fill, equal option leg
// counts, and exactly opposite signs on every matched leg. The structural
// score is discounted by age and only accepted past the configured
// threshold. One-to-one: a consumed opening leaves the pool.
func (e *Engine) matchClosings(candidates []*candidate) []*candidate {
	if len(candidates) == 0 {
		return candidates
	}

	var openers []*candidate
	var orphans []*candidate
	for _, c := range candidates {
		if c.allClosing() && c.optionLegCount() > 0 {
			orphans = append(orphans, c)
		} else {
			openers = append(openers, c)
		}
	}
	orphans = e.combineSameContractOrphans(orphans)

	sort.SliceStable(orphans, func(i, j int) bool {
		ti, oki := orphans[i].earliest()
		tj, okj := orphans[j].earliest()
		if oki != okj {
			return oki
		}
		return ti.Before(tj)
	})

	var merged []*candidate
	var standalone []*candidate

	for _, orphan := range orphans {
		var best *candidate
		bestScore := 0.0
		bestIdx := -1

		for i, opener := range openers {
			score := e.closingMatchScore(opener, orphan)
			if score >= e.cfg.ClosingMatchThreshold && score > bestScore {
				best = opener
				bestScore = score
				bestIdx = i
			}
		}

		if best != nil {
			e.logger.Printf("closing matcher: merged %s closing into %s %s (score %.2f)",
				orphan.underlying(), best.strategy, best.group.key, bestScore)
			merged = append(merged, e.mergeClosing(best, orphan))
			openers = append(openers[:bestIdx], openers[bestIdx+1:]...)
		} else {
			// Unmatched orphans remain standalone closing-only matches.
			standalone = append(standalone, orphan)
		}
	}

	out := make([]*candidate, 0, len(openers)+len(merged)+len(standalone))
	out = append(out, openers...)
	out = append(out, merged...)
	out = append(out, standalone...)
	return out
}

// combineSameContractOrphans merges orphaned closings that close the same
// contract set in the same account, e.g. an STC split across two orders.
func (e *Engine) combineSameContractOrphans(orphans []*candidate) []*candidate {
	type orphanKey struct {
		account string
		legs    string
	}
	byKey := make(map[orphanKey]*candidate)
	var order []orphanKey

	for _, orphan := range orphans {
		keys := make([]string, 0, len(orphan.legs))
		for _, leg := range orphan.legs {
			if !leg.IsStock {
				keys = append(keys, leg.Contract.String())
			}
		}
		sort.Strings(keys)
		k := orphanKey{account: orphan.accountID(), legs: joinKeys(keys)}

		if existing, ok := byKey[k]; ok {
			combined := &group{
				key:    existing.group.key + "+" + orphan.group.key,
				method: existing.group.method,
				txns:   append(append([]*logical{}, existing.txns...), orphan.txns...),
				times:  append(append([]time.Time{}, existing.group.times...), orphan.group.times...),
			}
			next := e.newCandidate(existing.strategy, combined.txns, combined)
			next.confidence = existing.confidence
			next.flags = append([]models.QualityFlag{}, existing.flags...)
			next.addFlag(models.FlagPartial)
			byKey[k] = next
			continue
		}
		byKey[k] = orphan
		order = append(order, k)
	}

	out := make([]*candidate, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

// closingMatchScore computes the discounted structural match score between
// an opening candidate and an orphaned closing candidate. Zero means the
// hard constraints failed.
func (e *Engine) closingMatchScore(opener, orphan *candidate) float64 {
	if opener.accountID() != orphan.accountID() {
		return 0
	}
	if opener.underlying() != orphan.underlying() {
		return 0
	}
	// A shared order id means the order grouper already had its say.
	openerOrders := opener.orderIDs()
	for id := range orphan.orderIDs() {
		if _, clash := openerOrders[id]; clash {
			return 0
		}
	}

	openLegs := optionLegs(opener.legs)
	closeLegs := optionLegs(orphan.legs)
	if len(openLegs) == 0 || len(openLegs) != len(closeLegs) {
		return 0
	}

	closeByKey := make(map[models.ContractKey]models.Leg, len(closeLegs))
	for _, leg := range closeLegs {
		closeByKey[leg.Contract] = leg
	}

	matches := 0
	systemOnly := true
	for _, openLeg := range openLegs {
		closeLeg, ok := closeByKey[openLeg.Contract]
		if !ok {
			systemOnly = false
			continue
		}
		// Every matched pair must reverse the opening: exactly opposite
		// signs (system closures carry no side and are accepted), with
		// partial closes allowed.
		if !oppositeSigns(openLeg, closeLeg) {
			return 0
		}
		if !allSystem(closeLeg.Actions) {
			systemOnly = false
		}
		if abs(closeLeg.Quantity) > abs(openLeg.Quantity) {
			continue
		}
		matches++
	}
	score := float64(matches) / float64(len(openLegs))

	openLatest, openOK := opener.latest()
	closeEarliest, closeOK := orphan.earliest()
	switch {
	case !openOK || !closeOK:
		score *= e.cfg.UnparsableDiscount
	case !closeEarliest.After(openLatest):
		// The close must come strictly after the opening's last fill.
		return 0
	case systemOnly:
		// Expirations and assignments land at expiry by definition, so
		// their age says nothing about match quality.
	default:
		age := closeEarliest.Sub(openLatest)
		if age > e.cfg.StaleCloseAfter.Std() {
			score *= e.cfg.StaleCloseDiscount
		} else if age > e.cfg.AgingCloseAfter.Std() {
			score *= e.cfg.AgingCloseDiscount
		}
	}
	return score
}

// mergeClosing folds an accepted closing candidate into its opening
// candidate: combined members, exit prices attached to the opening legs
// via copy-on-write, high confidence, verified.
func (e *Engine) mergeClosing(opener, orphan *candidate) *candidate {
	combined := &group{
		key:    opener.group.key + "_merged_" + orphan.group.key,
		method: models.GroupByCrossOrder,
		txns:   append(append([]*logical{}, opener.txns...), orphan.txns...),
		times:  append(append([]time.Time{}, opener.group.times...), orphan.group.times...),
	}

	closingByKey := make(map[models.ContractKey]*logical)
	for _, txn := range orphan.txns {
		if txn.contract != nil {
			closingByKey[txn.contract.Key()] = txn
		}
	}

	legs := make([]models.Leg, 0, len(opener.legs))
	for _, leg := range opener.legs {
		if closer, ok := closingByKey[leg.Contract]; ok {
			legs = append(legs, leg.WithExit(closer.Price, closer.ids, []models.Action{closer.Action}, closer.times))
		} else {
			legs = append(legs, leg)
		}
	}

	merged := &candidate{
		id:           opener.id,
		strategy:     opener.strategy,
		txns:         combined.txns,
		confidence:   models.ConfidenceHigh,
		flags:        []models.QualityFlag{models.FlagVerified},
		precedence:   opener.precedence,
		group:        combined,
		roll:         opener.roll,
		legs:         legs,
		stockContext: opener.stockContext,
	}
	return merged
}

func optionLegs(legs []models.Leg) []models.Leg {
	out := make([]models.Leg, 0, len(legs))
	for _, leg := range legs {
		if !leg.IsStock {
			out = append(out, leg)
		}
	}
	return out
}

// oppositeSigns reports whether the closing leg reverses the opening leg.
// System closures (expiration, assignment) have no buy/sell side; their
// net sign may be anything, so only the contract identity binds them.
func oppositeSigns(openLeg, closeLeg models.Leg) bool {
	for _, a := range closeLeg.Actions {
		if a.IsSystem() {
			return true
		}
	}
	return openLeg.Quantity*closeLeg.Quantity < 0
}

func allSystem(actions []models.Action) bool {
	for _, a := range actions {
		if !a.IsSystem() {
			return false
		}
	}
	return len(actions) > 0
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "|"
		}
		out += k
	}
	return out
}
