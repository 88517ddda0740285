package models

import "time"

// Leg is an immutable snapshot of one distinct contract (or the stock
// component) within a candidate group: its net signed quantity and the
// transactions that built it. Closing details are attached via WithExit,
// which copies rather than mutating a shared leg.
type Leg struct {
	Contract       ContractKey `json:"contract"`
	IsStock        bool        `json:"is_stock,omitempty"`
	Quantity       int         `json:"quantity"` // signed; negative = short
	EntryPrice     float64     `json:"entry_price"`
	ExitPrice      *float64    `json:"exit_price,omitempty"`
	TransactionIDs []string    `json:"transaction_ids"`
	Actions        []Action    `json:"actions"`
	Timestamps     []time.Time `json:"timestamps,omitempty"`
	ExitTimestamps []time.Time `json:"exit_timestamps,omitempty"`
}

// IsLong reports whether the leg's net exposure is long. Always derived
// from the signed quantity, never stored separately.
func (l Leg) IsLong() bool { return l.Quantity > 0 }

// IsShort reports whether the leg's net exposure is short.
func (l Leg) IsShort() bool { return l.Quantity < 0 }

// WithExit returns a copy of the leg with the closing fill folded in.
func (l Leg) WithExit(price float64, txnIDs []string, actions []Action, timestamps []time.Time) Leg {
	out := l
	out.ExitPrice = &price
	out.TransactionIDs = append(append([]string(nil), l.TransactionIDs...), txnIDs...)
	out.Actions = append(append([]Action(nil), l.Actions...), actions...)
	out.ExitTimestamps = append(append([]time.Time(nil), l.ExitTimestamps...), timestamps...)
	return out
}

// HasOpeningAction reports whether any constituent action opened a position.
func (l Leg) HasOpeningAction() bool {
	for _, a := range l.Actions {
		if a.IsOpening() {
			return true
		}
	}
	return false
}

// HasClosingAction reports whether any constituent action closed a position.
func (l Leg) HasClosingAction() bool {
	for _, a := range l.Actions {
		if a.IsClosing() {
			return true
		}
	}
	return false
}
