package engine

import (
	"io"
	"log"
	"sort"
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/config"
	"github.com/eddiefleurent/mifflin_matcher/internal/models"
	"github.com/eddiefleurent/mifflin_matcher/internal/positions"
)

// Engine reconciles a flat batch of brokerage transactions into strategy
// matches. Not safe for concurrent use; run one engine per account shard.
type Engine struct {
	cfg    config.MatcherConfig
	loc    *time.Location
	logger *log.Logger

	// external is an optional share-position source. When nil, each batch
	// replays its own stock transactions.
	external positions.Lookup
	lookup   positions.Lookup
}

// NewEngine builds an engine from the matcher section of the config. A nil
// lookup means covered-call checks replay stock history from the batch
// itself; a nil logger discards output.
func NewEngine(cfg *config.Config, lookup positions.Lookup, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{
		cfg:      cfg.Matcher,
		loc:      cfg.ExchangeLocation(),
		logger:   logger,
		external: lookup,
	}
}

// Reconcile runs the full pipeline over one batch and returns a complete
// replacement result set. The same input always produces the same output;
// re-running over a grown batch supersedes earlier results rather than
// appending to them.
func (e *Engine) Reconcile(txns []models.Transaction) ([]models.Match, error) {
	if err := validateInput(txns); err != nil {
		return nil, err
	}
	if e.external != nil {
		e.lookup = e.external
	} else {
		e.lookup = positions.NewMemoizedLookup(txns)
	}

	logicals := consolidate(txns)
	e.logger.Printf("engine: %d transactions consolidated into %d logical executions", len(txns), len(logicals))

	orderGroups, ungrouped := groupByOrder(logicals)
	timingGroups, untimed := e.groupByTiming(ungrouped)
	if len(untimed) > 0 {
		e.logger.Printf("engine: %d executions lack parsable timestamps, deferring to singles pass", len(untimed))
	}

	var candidates []*candidate
	for _, g := range orderGroups {
		candidates = append(candidates, e.classifyGroup(g)...)
	}
	for _, g := range timingGroups {
		candidates = append(candidates, e.classifyGroup(g)...)
	}

	candidates = e.matchClosings(candidates)
	candidates = e.fuseRolls(candidates)
	candidates = e.resolveConflicts(candidates)
	candidates = append(candidates, e.singlesPass(txns, claimedRawIDs(candidates))...)

	e.linkChains(candidates)
	e.validate(candidates)

	matches := e.finalize(candidates)
	e.logger.Printf("engine: produced %d matches from %d candidates", len(matches), len(candidates))
	return matches, nil
}

// singlesPass sweeps up every raw transaction no surviving candidate
// claimed and emits a standalone match per logical execution. This is the
// floor guarantee: nothing the caller hands in goes unaccounted for.
func (e *Engine) singlesPass(txns []models.Transaction, claimed map[string]struct{}) []*candidate {
	var leftover []models.Transaction
	for i := range txns {
		if _, ok := claimed[txns[i].ID]; !ok {
			leftover = append(leftover, txns[i])
		}
	}
	if len(leftover) == 0 {
		return nil
	}

	var out []*candidate
	for _, l := range consolidate(leftover) {
		g := &group{key: "single_" + l.ids[0], method: models.GroupBySingle}
		g.add(l)

		if l.InstrumentType.IsOption() && l.contract == nil {
			e.logger.Printf("singles pass: option symbol %q unparsable, emitting unknown match", l.Symbol)
			c := e.newCandidate(models.StrategyUnknown, []*logical{l}, g)
			c.confidence = models.ConfidenceLow
			c.flags = []models.QualityFlag{models.FlagManualReview}
			out = append(out, c)
			continue
		}
		out = append(out, e.classifyGroup(g)...)
	}
	return out
}

// finalize converts surviving candidates to output records, ordered by
// earliest execution time with the group key as tiebreaker.
func (e *Engine) finalize(candidates []*candidate) []models.Match {
	matches := make([]models.Match, 0, len(candidates))
	for _, c := range candidates {
		m := models.Match{
			ID:              c.id,
			AccountID:       c.accountID(),
			Underlying:      c.underlying(),
			Strategy:        c.strategy,
			TransactionIDs:  c.rawIDs(),
			Confidence:      c.confidence,
			QualityFlags:    c.flags,
			PrecedenceScore: c.precedence,
			Roll:            c.roll,
			RollClosure:     c.rollClosure,
			Status:          c.status,
			GroupKey:        c.group.key,
			GroupingMethod:  c.group.method,
			Legs:            c.legs,
			StockContext:    c.stockContext,
		}
		if at, ok := c.earliest(); ok {
			m.EarliestAt = at
		}
		if at, ok := c.latest(); ok {
			m.LatestAt = at
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].EarliestAt.Equal(matches[j].EarliestAt) {
			return matches[i].EarliestAt.Before(matches[j].EarliestAt)
		}
		return matches[i].GroupKey < matches[j].GroupKey
	})
	return matches
}
