// Package positions computes historical stock positions from equity
// transaction history. The matching engine uses it for coverage checks
// (covered call vs naked call) and nothing else.
package positions

import (
	"sort"
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// Lookup answers "how many shares of underlying did account hold strictly
// before cutoff". Positive is long, negative is short.
type Lookup interface {
	SharesAt(accountID, underlying string, cutoff time.Time) int
}

// HistoryLookup replays a caller-supplied equity transaction history on
// every call. O(n) per call; fine for batch reconciliation runs. The
// history may be a superset of the transactions being reconciled.
type HistoryLookup struct {
	history []models.Transaction
}

// NewHistoryLookup builds a replay lookup over the given history.
// Non-equity transactions and records with unparsable timestamps are
// ignored; an execution we cannot place in time cannot participate in a
// strictly-before cutoff.
func NewHistoryLookup(history []models.Transaction) *HistoryLookup {
	return &HistoryLookup{history: history}
}

// SharesAt implements Lookup by summing signed share quantities of every
// equity transaction for (account, underlying) executed strictly before
// cutoff.
func (l *HistoryLookup) SharesAt(accountID, underlying string, cutoff time.Time) int {
	total := 0
	for i := range l.history {
		txn := &l.history[i]
		if txn.AccountID != accountID || txn.InstrumentType.IsOption() {
			continue
		}
		if txn.Underlying() != underlying {
			continue
		}
		ts, ok := txn.Time()
		if !ok || !ts.Before(cutoff) {
			continue
		}
		total += txn.SignedQuantity()
	}
	return total
}

// MemoizedLookup precomputes sorted prefix sums per (account, underlying)
// and binary-searches the cutoff. Semantically identical to HistoryLookup;
// an optimization for large histories, not a requirement.
type MemoizedLookup struct {
	series map[posKey]positionSeries
}

type posKey struct {
	account    string
	underlying string
}

type positionSeries struct {
	times []time.Time // ascending execution times
	sums  []int       // sums[i] = shares held after times[i]'s execution
}

// NewMemoizedLookup builds the prefix-sum index from the history.
func NewMemoizedLookup(history []models.Transaction) *MemoizedLookup {
	type event struct {
		at  time.Time
		qty int
	}
	events := make(map[posKey][]event)
	for i := range history {
		txn := &history[i]
		if txn.InstrumentType.IsOption() {
			continue
		}
		ts, ok := txn.Time()
		if !ok {
			continue
		}
		k := posKey{account: txn.AccountID, underlying: txn.Underlying()}
		events[k] = append(events[k], event{at: ts, qty: txn.SignedQuantity()})
	}

	series := make(map[posKey]positionSeries, len(events))
	for k, evs := range events {
		sort.Slice(evs, func(i, j int) bool { return evs[i].at.Before(evs[j].at) })
		s := positionSeries{
			times: make([]time.Time, len(evs)),
			sums:  make([]int, len(evs)),
		}
		running := 0
		for i, ev := range evs {
			running += ev.qty
			s.times[i] = ev.at
			s.sums[i] = running
		}
		series[k] = s
	}
	return &MemoizedLookup{series: series}
}

// SharesAt implements Lookup.
func (l *MemoizedLookup) SharesAt(accountID, underlying string, cutoff time.Time) int {
	s, ok := l.series[posKey{account: accountID, underlying: underlying}]
	if !ok || len(s.times) == 0 {
		return 0
	}
	// Index of the first execution at or after cutoff; everything before it
	// is strictly earlier.
	idx := sort.Search(len(s.times), func(i int) bool { return !s.times[i].Before(cutoff) })
	if idx == 0 {
		return 0
	}
	return s.sums[idx-1]
}

var (
	_ Lookup = (*HistoryLookup)(nil)
	_ Lookup = (*MemoizedLookup)(nil)
)
