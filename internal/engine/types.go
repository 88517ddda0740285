// Package engine implements the transaction matching pipeline: partial-fill
// consolidation, order-id and timing grouping, strategy classification,
// cross-order closing matching, same-day roll fusion, conflict resolution,
// roll chain linking, and final validation. The engine is synchronous and
// in-memory; one call reconciles one batch and returns a complete
// replacement result set.
package engine

import (
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// logical is a consolidated logical transaction: one or more partial fills
// merged into a single economic execution. The embedded Transaction carries
// the representative fields with Quantity replaced by the summed magnitude.
type logical struct {
	models.Transaction
	// ids are the raw constituent transaction ids, in arrival order.
	ids []string
	// times are the parsed constituent timestamps; may be shorter than ids
	// when some timestamps were unparsable.
	times []time.Time
	// contract is non-nil for options whose symbol parsed.
	contract *models.OptionContract
}

func (l *logical) earliest() (time.Time, bool) {
	if len(l.times) == 0 {
		return time.Time{}, false
	}
	min := l.times[0]
	for _, ts := range l.times[1:] {
		if ts.Before(min) {
			min = ts
		}
	}
	return min, true
}

// positionSign is the sign of the position the transaction establishes or
// tears down: +1 long, -1 short, 0 unknowable (system closures carry no
// buy/sell side). Opening buys and closing sells act on long positions;
// opening sells and closing buys on short ones.
func (l *logical) positionSign() int {
	a := l.Action
	switch {
	case a.IsSystem():
		return 0
	case a.IsOpening() && a.IsBuy(), a.IsClosing() && a.IsSell():
		return 1
	case a.IsOpening() && a.IsSell(), a.IsClosing() && a.IsBuy():
		return -1
	}
	return 0
}

// group is a candidate set of logical transactions produced by one of the
// grouping stages. Ephemeral; never persisted.
type group struct {
	key    string
	method models.GroupingMethod
	txns   []*logical
	times  []time.Time
}

func (g *group) add(txn *logical) {
	g.txns = append(g.txns, txn)
	g.times = append(g.times, txn.times...)
}

func (g *group) earliest() (time.Time, bool) {
	if len(g.times) == 0 {
		return time.Time{}, false
	}
	min := g.times[0]
	for _, ts := range g.times[1:] {
		if ts.Before(min) {
			min = ts
		}
	}
	return min, true
}

func (g *group) latest() (time.Time, bool) {
	if len(g.times) == 0 {
		return time.Time{}, false
	}
	max := g.times[0]
	for _, ts := range g.times[1:] {
		if ts.After(max) {
			max = ts
		}
	}
	return max, true
}

func (g *group) span() time.Duration {
	early, ok1 := g.earliest()
	late, ok2 := g.latest()
	if !ok1 || !ok2 {
		return 0
	}
	return late.Sub(early)
}

// candidate is a provisional strategy match. Candidates compete for
// transactions until the conflict resolver picks winners; survivors are
// finalized into models.Match records.
type candidate struct {
	id           string
	strategy     models.StrategyType
	txns         []*logical
	confidence   models.Confidence
	flags        []models.QualityFlag
	precedence   int
	group        *group
	roll         bool
	legs         []models.Leg
	stockContext int
	status       *models.StatusInfo
	rollClosure  *models.RollClosureInfo
}

func (c *candidate) addFlag(f models.QualityFlag) {
	for _, have := range c.flags {
		if have == f {
			return
		}
	}
	c.flags = append(c.flags, f)
}

func (c *candidate) rawIDs() []string {
	var ids []string
	for _, txn := range c.txns {
		ids = append(ids, txn.ids...)
	}
	return ids
}

func (c *candidate) orderIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, txn := range c.txns {
		if txn.OrderID != "" {
			ids[txn.OrderID] = struct{}{}
		}
	}
	return ids
}

func (c *candidate) accountID() string {
	if len(c.txns) == 0 {
		return ""
	}
	return c.txns[0].AccountID
}

func (c *candidate) underlying() string {
	if len(c.txns) == 0 {
		return ""
	}
	return c.txns[0].Underlying()
}

// allClosing reports whether every member transaction is a closing action.
func (c *candidate) allClosing() bool {
	if len(c.txns) == 0 {
		return false
	}
	for _, txn := range c.txns {
		if !txn.Action.IsClosing() {
			return false
		}
	}
	return true
}

// allOpening reports whether every member transaction is an opening action.
func (c *candidate) allOpening() bool {
	if len(c.txns) == 0 {
		return false
	}
	for _, txn := range c.txns {
		if !txn.Action.IsOpening() {
			return false
		}
	}
	return true
}

func (c *candidate) hasOpening() bool {
	for _, txn := range c.txns {
		if txn.Action.IsOpening() {
			return true
		}
	}
	return false
}

func (c *candidate) optionLegCount() int {
	n := 0
	for _, leg := range c.legs {
		if !leg.IsStock {
			n++
		}
	}
	return n
}

// earliest and latest derive the candidate's time bounds from its own
// member transactions. A candidate carved out of a larger group, like a
// covered call, must not inherit the whole group's span.
func (c *candidate) earliest() (time.Time, bool) {
	var min time.Time
	found := false
	for _, txn := range c.txns {
		for _, ts := range txn.times {
			if !found || ts.Before(min) {
				min = ts
				found = true
			}
		}
	}
	return min, found
}

func (c *candidate) latest() (time.Time, bool) {
	var max time.Time
	found := false
	for _, txn := range c.txns {
		for _, ts := range txn.times {
			if !found || ts.After(max) {
				max = ts
				found = true
			}
		}
	}
	return max, found
}
