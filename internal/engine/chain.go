package engine

import (
	"sort"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// linkChains walks each account/underlying lane chronologically and
// connects rolls to the positions they replace. A roll's closing legs
// name contracts some earlier match opened; that earlier match is
// annotated as closed by the roll. Rolls themselves get a status
// record: forced open while they still carry a live opening side,
// forced closed when only the closing side survived.
func (e *Engine) linkChains(candidates []*candidate) {
	lanes := make(map[string][]*candidate)
	var order []string
	for _, c := range candidates {
		key := c.accountID() + "/" + c.underlying()
		if _, seen := lanes[key]; !seen {
			order = append(order, key)
		}
		lanes[key] = append(lanes[key], c)
	}

	for _, key := range order {
		e.linkLane(lanes[key])
	}
}

func (e *Engine) linkLane(lane []*candidate) {
	sort.SliceStable(lane, func(i, j int) bool {
		ti, oki := lane[i].earliest()
		tj, okj := lane[j].earliest()
		if oki != okj {
			return oki
		}
		return ti.Before(tj)
	})

	for i, roll := range lane {
		if !roll.roll {
			continue
		}

		if roll.hasOpening() {
			roll.status = &models.StatusInfo{
				ForcedOpen: true,
				Reason:     "roll carries an unclosed opening side",
			}
		} else {
			roll.status = &models.StatusInfo{
				ForcedClosed: true,
				Reason:       "roll closing side only",
			}
		}

		closed := closingContracts(roll)
		if len(closed) == 0 {
			continue
		}
		rollAt, rollTimed := roll.earliest()

		// Every earlier match that opened one of the closed contracts is
		// superseded by this roll. One roll can retire several positions,
		// e.g. a double-leg roll closing puts from two separate orders.
		for j := i - 1; j >= 0; j-- {
			prior := lane[j]
			if prior == roll || prior.rollClosure != nil {
				continue
			}
			if !opensAny(prior, closed) {
				continue
			}
			prior.rollClosure = &models.RollClosureInfo{ClosedByMatchID: roll.id}
			if rollTimed {
				prior.rollClosure.ClosedAt = rollAt
			}
			e.logger.Printf("chain linker: %s %s closed by roll %s",
				prior.strategy, prior.group.key, roll.group.key)
		}
	}
}

// closingContracts returns the contract keys of the roll's closing legs.
func closingContracts(c *candidate) map[models.ContractKey]struct{} {
	out := make(map[models.ContractKey]struct{})
	for _, leg := range c.legs {
		if !leg.IsStock && leg.HasClosingAction() {
			out[leg.Contract] = struct{}{}
		}
	}
	return out
}

// opensAny reports whether the candidate opened any contract in want.
func opensAny(c *candidate, want map[models.ContractKey]struct{}) bool {
	for _, leg := range c.legs {
		if leg.IsStock || !leg.HasOpeningAction() {
			continue
		}
		if _, ok := want[leg.Contract]; ok {
			return true
		}
	}
	return false
}
