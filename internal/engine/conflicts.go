package engine

import (
	"sort"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// resolveConflicts arbitrates candidates that claim the same raw
// transaction. The higher-precedence strategy wins; on a tie the larger
// leg count, then the later group timestamp. Losers are discarded
// entirely and their unshared transactions resurface in the singles
// pass. Winners that had to beat someone are flagged CONFLICTED.
func (e *Engine) resolveConflicts(candidates []*candidate) []*candidate {
	claims := make(map[string][]int)
	for i, c := range candidates {
		for _, id := range c.rawIDs() {
			claims[id] = append(claims[id], i)
		}
	}

	eliminated := make([]bool, len(candidates))
	contested := make([]bool, len(candidates))

	ids := make([]string, 0, len(claims))
	for id := range claims {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		indices := claims[id]
		if len(indices) < 2 {
			continue
		}
		winner := -1
		for _, idx := range indices {
			if eliminated[idx] {
				continue
			}
			if winner == -1 || outranks(candidates[idx], candidates[winner]) {
				winner = idx
			}
		}
		if winner == -1 {
			continue
		}
		survivors := 0
		for _, idx := range indices {
			if !eliminated[idx] {
				survivors++
			}
		}
		if survivors < 2 {
			continue
		}
		for _, idx := range indices {
			if idx != winner && !eliminated[idx] {
				eliminated[idx] = true
				e.logger.Printf("conflict resolver: %s (%s) displaced by %s (%s) over transaction %s",
					candidates[idx].strategy, candidates[idx].group.key,
					candidates[winner].strategy, candidates[winner].group.key, id)
			}
		}
		contested[winner] = true
	}

	out := make([]*candidate, 0, len(candidates))
	for i, c := range candidates {
		if eliminated[i] {
			continue
		}
		if contested[i] {
			c.addFlag(models.FlagConflicted)
		}
		out = append(out, c)
	}
	return out
}

// outranks reports whether a beats b under the arbitration order:
// precedence, then leg count, then later group timestamp.
func outranks(a, b *candidate) bool {
	if a.precedence != b.precedence {
		return a.precedence > b.precedence
	}
	if len(a.legs) != len(b.legs) {
		return len(a.legs) > len(b.legs)
	}
	ta, okA := a.latest()
	tb, okB := b.latest()
	if okA != okB {
		return okA
	}
	if !okA {
		return false
	}
	return ta.After(tb)
}

// claimedRawIDs collects every raw transaction id owned by the surviving
// candidates, for the singles pass to skip.
func claimedRawIDs(candidates []*candidate) map[string]struct{} {
	claimed := make(map[string]struct{})
	for _, c := range candidates {
		for _, id := range c.rawIDs() {
			claimed[id] = struct{}{}
		}
	}
	return claimed
}
