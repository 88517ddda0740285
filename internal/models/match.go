package models

import "time"

// StrategyType is the resolved shape of a matched group.
type StrategyType string

const (
	StrategyIronCondor     StrategyType = "Iron Condor"
	StrategyIronButterfly  StrategyType = "Iron Butterfly"
	StrategyButterfly      StrategyType = "Butterfly"
	StrategyBullCallSpread StrategyType = "Bull Call Spread"
	StrategyBullPutSpread  StrategyType = "Bull Put Spread"
	StrategyBearCallSpread StrategyType = "Bear Call Spread"
	StrategyBearPutSpread  StrategyType = "Bear Put Spread"
	StrategyVerticalSpread StrategyType = "Vertical Spread"
	StrategyStraddle       StrategyType = "Straddle"
	StrategyStrangle       StrategyType = "Strangle"
	StrategyCalendarSpread StrategyType = "Calendar Spread"
	StrategyDiagonalSpread StrategyType = "Diagonal Spread"
	StrategyCoveredCall    StrategyType = "Covered Call"
	StrategyCashSecuredPut StrategyType = "Cash Secured Put"
	StrategyNakedCall      StrategyType = "Naked Call"
	StrategyLongCall       StrategyType = "Long Call"
	StrategyLongPut        StrategyType = "Long Put"
	StrategyLongStock      StrategyType = "Long Stock"
	StrategyShortStock     StrategyType = "Short Stock"
	StrategyComplex        StrategyType = "Complex Strategy"
	StrategyUnknown        StrategyType = "Unknown"
)

// strategyPrecedence ranks strategy shapes for conflict resolution. A
// transaction claimed by two candidates goes to the higher score; complex
// multi-leg structures outrank standard spreads, which outrank straddles
// and rolls, then calendars/diagonals, coverage-dependent singles, plain
// single legs, stock, and finally unknown.
var strategyPrecedence = map[StrategyType]int{
	StrategyIronCondor:     100,
	StrategyComplex:        95,
	StrategyIronButterfly:  90,
	StrategyButterfly:      85,
	StrategyBullCallSpread: 80,
	StrategyBullPutSpread:  80,
	StrategyBearCallSpread: 80,
	StrategyBearPutSpread:  80,
	StrategyVerticalSpread: 80,
	StrategyStraddle:       75,
	StrategyStrangle:       75,
	StrategyCalendarSpread: 70,
	StrategyDiagonalSpread: 70,
	StrategyCoveredCall:    60,
	StrategyCashSecuredPut: 60,
	StrategyNakedCall:      10,
	StrategyLongCall:       10,
	StrategyLongPut:        10,
	StrategyLongStock:      5,
	StrategyShortStock:     5,
	StrategyUnknown:        0,
}

// Precedence returns the static conflict-resolution score for the strategy.
func (s StrategyType) Precedence() int {
	return strategyPrecedence[s]
}

// DefinedRisk reports whether the strategy requires symmetric quantities
// across legs (soft invariant; violations downgrade, never reject).
func (s StrategyType) DefinedRisk() bool {
	switch s {
	case StrategyIronCondor, StrategyIronButterfly,
		StrategyBullCallSpread, StrategyBullPutSpread,
		StrategyBearCallSpread, StrategyBearPutSpread,
		StrategyVerticalSpread:
		return true
	default:
		return false
	}
}

// Confidence grades how certain the engine is about a match.
type Confidence string

const (
	// ConfidenceHigh means order-id grouping plus logical consistency.
	ConfidenceHigh Confidence = "HIGH"
	// ConfidenceMedium means timing grouping plus logical consistency.
	ConfidenceMedium Confidence = "MEDIUM"
	// ConfidenceLow means a partial match or a conflict resolved by precedence.
	ConfidenceLow Confidence = "LOW"
)

// QualityFlag annotates how a match was arrived at.
type QualityFlag string

const (
	FlagVerified     QualityFlag = "VERIFIED"
	FlagAssumed      QualityFlag = "ASSUMED"
	FlagConflicted   QualityFlag = "CONFLICTED"
	FlagPartial      QualityFlag = "PARTIAL"
	FlagManualReview QualityFlag = "MANUAL_REVIEW"
)

// GroupingMethod records how a match's member transactions were grouped.
type GroupingMethod string

const (
	GroupByOrderID GroupingMethod = "order_id"
	GroupByTiming  GroupingMethod = "timing"
	GroupBySingle  GroupingMethod = "single"
	// GroupByCrossOrder marks an opening group merged with a closing group
	// found under a different order id.
	GroupByCrossOrder GroupingMethod = "cross_order_matched"
	// GroupByRollFusion marks a closing-only and an opening-only group fused
	// into one roll.
	GroupByRollFusion GroupingMethod = "roll_fusion"
)

// RollClosureInfo records that a position was closed by a later roll.
// Attached as an explicit field rather than mutated on after the fact.
type RollClosureInfo struct {
	ClosedByMatchID string    `json:"closed_by_match_id"`
	ClosedAt        time.Time `json:"closed_at"`
}

// StatusInfo carries forced open/closed annotations for roll matches.
type StatusInfo struct {
	ForcedOpen   bool   `json:"forced_open,omitempty"`
	ForcedClosed bool   `json:"forced_closed,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Match is the engine's output record: one resolved strategy and the
// transactions that make it up.
type Match struct {
	ID              string           `json:"id"`
	AccountID       string           `json:"account_id"`
	Underlying      string           `json:"underlying"`
	Strategy        StrategyType     `json:"strategy"`
	TransactionIDs  []string         `json:"transaction_ids"`
	Confidence      Confidence       `json:"confidence"`
	QualityFlags    []QualityFlag    `json:"quality_flags"`
	PrecedenceScore int              `json:"precedence_score"`
	Roll            bool             `json:"roll"`
	RollClosure     *RollClosureInfo `json:"roll_closure,omitempty"`
	Status          *StatusInfo      `json:"status,omitempty"`
	GroupKey        string           `json:"group_key"`
	GroupingMethod  GroupingMethod   `json:"grouping_method"`
	Legs            []Leg            `json:"legs,omitempty"`
	// StockContext is the share count backing a covered call at the time
	// the call was sold; zero otherwise.
	StockContext int       `json:"stock_context,omitempty"`
	EarliestAt   time.Time `json:"earliest_at"`
	LatestAt     time.Time `json:"latest_at"`
}

// HasFlag reports whether the match carries the given quality flag.
func (m *Match) HasFlag(f QualityFlag) bool {
	for _, have := range m.QualityFlags {
		if have == f {
			return true
		}
	}
	return false
}

// AddFlag appends a quality flag if not already present.
func (m *Match) AddFlag(f QualityFlag) {
	if !m.HasFlag(f) {
		m.QualityFlags = append(m.QualityFlags, f)
	}
}
