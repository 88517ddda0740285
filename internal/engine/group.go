package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// groupByOrder collects logical transactions sharing a non-empty order id
// into one group per (account, order id). Keying includes the account so a
// colliding order id from another account can never blend in. Returns the
// order groups and the transactions left for timing-based grouping.
func groupByOrder(txns []*logical) ([]*group, []*logical) {
	byKey := make(map[string]*group)
	var order []string
	var ungrouped []*logical

	for _, txn := range txns {
		if txn.OrderID == "" {
			ungrouped = append(ungrouped, txn)
			continue
		}
		key := txn.AccountID + "/" + txn.OrderID
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key, method: models.GroupByOrderID}
			byKey[key] = g
			order = append(order, key)
		}
		g.add(txn)
	}

	groups := make([]*group, 0, len(order))
	for _, key := range order {
		groups = append(groups, byKey[key])
	}
	return groups, ungrouped
}

// groupByTiming accretes the remaining transactions into groups while
// successive gaps stay inside a window chosen from the running group's
// composition. A gap past the window, a change of underlying, or a change
// of account closes the group. Transactions with unparsable timestamps
// cannot be placed on the timeline and are returned separately; they fall
// through to the final single-transaction pass.
func (e *Engine) groupByTiming(txns []*logical) ([]*group, []*logical) {
	var timed []*logical
	var untimed []*logical
	for _, txn := range txns {
		if len(txn.times) == 0 {
			untimed = append(untimed, txn)
			continue
		}
		timed = append(timed, txn)
	}

	sort.SliceStable(timed, func(i, j int) bool {
		ti, _ := timed[i].earliest()
		tj, _ := timed[j].earliest()
		return ti.Before(tj)
	})

	var groups []*group
	var current *group

	for _, txn := range timed {
		ts, _ := txn.earliest()
		if current == nil {
			current = newTimingGroup(txn, ts)
			continue
		}

		last, _ := current.latest()
		sameScope := txn.AccountID == current.txns[0].AccountID &&
			txn.Underlying() == current.txns[0].Underlying()
		window := e.timingWindow(current.txns, txn)

		if sameScope && ts.Sub(last) <= window {
			current.add(txn)
		} else {
			groups = append(groups, current)
			current = newTimingGroup(txn, ts)
		}
	}
	if current != nil {
		groups = append(groups, current)
	}
	return groups, untimed
}

func newTimingGroup(txn *logical, ts time.Time) *group {
	g := &group{
		key:    fmt.Sprintf("timing_%s", ts.Format(time.RFC3339Nano)),
		method: models.GroupByTiming,
	}
	g.add(txn)
	return g
}

// timingWindow picks the accretion window from the composition of the
// running group plus the incoming transaction. Stock+option combinations
// are only ever trusted via the coverage check, never via timing, so they
// get the tightest window.
func (e *Engine) timingWindow(existing []*logical, incoming *logical) time.Duration {
	m := e.cfg
	hasOptions := false
	for _, txn := range existing {
		if txn.InstrumentType.IsOption() {
			hasOptions = true
			break
		}
	}
	incomingIsOption := incoming.InstrumentType.IsOption()

	switch {
	case hasOptions && incomingIsOption:
		expirations := make(map[string]struct{})
		strikes := make(map[float64]struct{})
		for _, txn := range append(append([]*logical{}, existing...), incoming) {
			if txn.contract != nil {
				expirations[txn.contract.Expiration] = struct{}{}
				strikes[txn.contract.Strike] = struct{}{}
			}
		}
		switch {
		case len(expirations) > 1:
			// Different expirations almost always mean separate trades;
			// effectively forces a split outside the order-id path.
			return m.SameSecondWindow.Std()
		case len(existing) >= 3:
			return m.RapidExecutionWindow.Std()
		case len(strikes) > 1:
			return m.SameMinuteWindow.Std()
		default:
			return m.SameSessionWindow.Std()
		}
	case hasOptions != incomingIsOption:
		return m.SameSecondWindow.Std()
	default:
		return m.SameDayWindow.Std()
	}
}
