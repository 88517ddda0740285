// Package models defines the data types shared across the reconciliation
// pipeline: brokerage transactions, option contracts, strategy legs, and
// the Match records the engine emits.
package models

import (
	"strings"
	"time"
)

// SharesPerContract is the standard equity option multiplier.
const SharesPerContract = 100

// InstrumentType identifies the kind of instrument a transaction traded.
type InstrumentType string

const (
	// InstrumentEquity is a plain stock transaction.
	InstrumentEquity InstrumentType = "Equity"
	// InstrumentEquityOption is an exchange-listed equity option.
	InstrumentEquityOption InstrumentType = "Equity Option"
)

// IsOption returns true for option instrument types.
func (i InstrumentType) IsOption() bool {
	return strings.Contains(strings.ToUpper(string(i)), "OPTION")
}

// Action is the normalized order action token on a transaction.
type Action string

const (
	ActionBuyToOpen   Action = "BUY_TO_OPEN"
	ActionSellToOpen  Action = "SELL_TO_OPEN"
	ActionBuyToClose  Action = "BUY_TO_CLOSE"
	ActionSellToClose Action = "SELL_TO_CLOSE"
	// System actions generated by the clearing process rather than an order.
	ActionAssigned  Action = "ASSIGNED"
	ActionExercised Action = "EXERCISED"
	ActionExpired   Action = "EXPIRED"
)

// NormalizeAction maps common brokerage action spellings (STO, "Sell to Open",
// SELL_TO_OPEN) onto the canonical Action tokens. Unrecognized tokens are
// returned upper-cased so the raw value is still visible downstream.
func NormalizeAction(raw string) Action {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	switch s {
	case "BTO", "BUY_TO_OPEN":
		return ActionBuyToOpen
	case "STO", "SELL_TO_OPEN":
		return ActionSellToOpen
	case "BTC", "BUY_TO_CLOSE":
		return ActionBuyToClose
	case "STC", "SELL_TO_CLOSE":
		return ActionSellToClose
	case "ASSIGNED", "ASSIGNMENT":
		return ActionAssigned
	case "EXERCISED", "EXERCISE":
		return ActionExercised
	case "EXPIRED", "EXPIRATION", "CASH_SETTLED_EXERCISE":
		return ActionExpired
	}
	return Action(s)
}

// IsBuy reports whether the action is on the buy side.
func (a Action) IsBuy() bool { return strings.Contains(string(a), "BUY") }

// IsSell reports whether the action is on the sell side.
func (a Action) IsSell() bool { return strings.Contains(string(a), "SELL") }

// IsOpening reports whether the action opens a position.
func (a Action) IsOpening() bool { return strings.Contains(string(a), "OPEN") }

// IsClosing reports whether the action closes a position. System actions
// (assignment, exercise, expiration) terminate a position and count as
// closing for matching purposes.
func (a Action) IsClosing() bool {
	return strings.Contains(string(a), "CLOSE") || a.IsSystem()
}

// IsSystem reports whether the action was generated by the clearing process.
func (a Action) IsSystem() bool {
	switch a {
	case ActionAssigned, ActionExercised, ActionExpired:
		return true
	default:
		return false
	}
}

// Transaction is a single brokerage execution record. The engine treats it
// as immutable input and never writes to it.
type Transaction struct {
	ID             string         `json:"id"`
	AccountID      string         `json:"account_id"`
	OrderID        string         `json:"order_id,omitempty"`
	InstrumentType InstrumentType `json:"instrument_type"`
	Symbol         string         `json:"symbol"`
	Action         Action         `json:"action"`
	// Quantity is an unsigned magnitude; the sign is derived from the action.
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
	ExecutedAt string  `json:"executed_at"` // ISO-8601, any offset
}

// SignedQuantity returns the quantity with short positions negative.
// Sell actions produce short exposure; buy actions long.
func (t *Transaction) SignedQuantity() int {
	if t.Action.IsSell() {
		return -abs(t.Quantity)
	}
	return abs(t.Quantity)
}

// Time parses the execution timestamp. ok is false when the timestamp is
// missing or not ISO-8601; callers degrade rather than fail on that.
func (t *Transaction) Time() (time.Time, bool) {
	return ParseTimestamp(t.ExecutedAt)
}

// Underlying returns the underlying symbol: the ticker itself for equities,
// the leading token of the OCC symbol for options.
func (t *Transaction) Underlying() string {
	if t.InstrumentType.IsOption() {
		if c, err := ParseOCCSymbol(t.Symbol); err == nil {
			return c.Underlying
		}
		// Fall back to the first token so malformed option symbols still
		// land in a per-underlying bucket.
		if i := strings.IndexByte(t.Symbol, ' '); i > 0 {
			return t.Symbol[:i]
		}
	}
	return strings.TrimSpace(t.Symbol)
}

// ParseTimestamp parses an ISO-8601 timestamp with any offset.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
