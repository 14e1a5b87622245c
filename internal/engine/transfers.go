package engine

import (
	"sort"

	"github.com/jask/ledgerlens/internal/database/repository"
)

// IdentifyInternalTransfers returns the ids of transactions that form
// internal-transfer pairs: equal absolute amount, opposite sign, dated within
// windowDays of each other.
//
// Pairing is a greedy forward scan over each date-sorted magnitude group, so
// ties resolve to the nearest available candidate in scan order rather than a
// global optimum. Downstream consumers depend on that bias; keep it.
func IdentifyInternalTransfers(txs []repository.Transaction, windowDays int) map[string]bool {
	byMagnitude := make(map[int64][]repository.Transaction)
	for _, tx := range txs {
		if tx.AmountCents == 0 {
			continue
		}
		mag := tx.AmountCents
		if mag < 0 {
			mag = -mag
		}
		byMagnitude[mag] = append(byMagnitude[mag], tx)
	}

	matched := make(map[string]bool)
	for _, group := range byMagnitude {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Date.Before(group[j].Date) })
		for i := 0; i < len(group); i++ {
			if matched[group[i].ID] {
				continue
			}
			for j := i + 1; j < len(group); j++ {
				if matched[group[j].ID] {
					continue
				}
				gap := group[j].Date.Sub(group[i].Date).Hours() / 24
				if gap > float64(windowDays) {
					// date-sorted, no later candidate can be closer
					break
				}
				if (group[i].AmountCents < 0) == (group[j].AmountCents < 0) {
					continue
				}
				matched[group[i].ID] = true
				matched[group[j].ID] = true
				break
			}
		}
	}
	return matched
}
