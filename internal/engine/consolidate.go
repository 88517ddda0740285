package engine

import (
	"fmt"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// consolidationKey merges partial fills of the same economic execution.
// Order id is part of the key so fills from different orders never blend,
// even when every other field coincides.
type consolidationKey struct {
	symbol     string
	date       string // YYYY-MM-DD prefix of the execution timestamp
	action     models.Action
	strike     float64
	optionType models.OptionType
	orderID    string
}

// consolidate merges partial fills into logical transactions, preserving
// all constituent ids and timestamps. Input order determines the order of
// the output, keyed by first appearance.
func consolidate(txns []models.Transaction) []*logical {
	byKey := make(map[consolidationKey]*logical)
	var order []consolidationKey

	for i := range txns {
		txn := txns[i]
		key := consolidationKey{
			symbol:  txn.Symbol,
			date:    datePrefix(txn.ExecutedAt),
			action:  txn.Action,
			orderID: txn.OrderID,
		}
		var contract *models.OptionContract
		if txn.InstrumentType.IsOption() {
			if c, err := models.ParseOCCSymbol(txn.Symbol); err == nil {
				contract = &c
				key.strike = c.Strike
				key.optionType = c.Type
			}
		}

		ts, tsOK := txn.Time()

		if existing, ok := byKey[key]; ok {
			existing.Quantity += abs(txn.Quantity)
			existing.ids = append(existing.ids, txn.ID)
			if tsOK {
				existing.times = append(existing.times, ts)
			}
			continue
		}

		merged := &logical{
			Transaction: txn,
			ids:         []string{txn.ID},
			contract:    contract,
		}
		merged.Quantity = abs(txn.Quantity)
		if tsOK {
			merged.times = append(merged.times, ts)
		}
		byKey[key] = merged
		order = append(order, key)
	}

	out := make([]*logical, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// validateInput rejects transactions missing required fields. This is the
// only failure the engine propagates; everything else degrades.
func validateInput(txns []models.Transaction) error {
	for i := range txns {
		if txns[i].ID == "" {
			return fmt.Errorf("transaction at index %d: missing id", i)
		}
		if txns[i].AccountID == "" {
			return fmt.Errorf("transaction %s: missing account id", txns[i].ID)
		}
	}
	return nil
}

func datePrefix(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
