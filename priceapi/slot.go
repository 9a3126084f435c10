// Package priceapi fetches day-ahead spot prices, stacks network/tax components onto them, and produces the
// 96-slot, 22:00-anchored PriceSlot day that the scheduler and energy-debt tracker operate on.
package priceapi

import (
	"sort"
	"time"

	timeutils "github.com/cepro/energymgr/time_utils"
)

// Slot represents one 15-minute tariff interval (spec §3 "PriceSlot").
type Slot struct {
	Timestamp   time.Time
	SpotPrice   float64 // EUR/kWh, post-VAT, includes fixed per-kWh components
	NetworkFee  float64 // EUR/kWh, post-VAT
	TotalPrice  float64 // SpotPrice + NetworkFee
	SlotIndex   int     // 0..95
	Hour        int     // wall clock hour of Timestamp

	AlwaysOn  bool
	AlwaysOff bool
}

// Day is 96 slots covering a single 22:00-to-22:00 window.
type Day []Slot

// Clone returns a deep copy of the day so that per-device constraint marks (AlwaysOn/AlwaysOff) don't leak
// between devices (spec §4.4 "per-device deep copy").
func (d Day) Clone() Day {
	out := make(Day, len(d))
	copy(out, d)
	return out
}

// Validate checks the slot-count and monotonic-timestamp invariants from spec §8 invariant 1.
func (d Day) Validate() bool {
	if len(d) != timeutils.SlotsPerDay {
		return false
	}
	for i, s := range d {
		if s.SlotIndex != i {
			return false
		}
		if i > 0 && !s.Timestamp.Equal(d[i-1].Timestamp.Add(timeutils.SlotDuration)) {
			return false
		}
	}
	return true
}

// rankedIndex pairs an original slot index with its price, used for stable percentile ranking.
type rankedIndex struct {
	index int
	price float64
}

// GetCheapestSlots returns up to n indices (relative to the given slots slice) of the cheapest slots by
// TotalPrice, optionally filtered to a percentile rank window. Percentile rank of the i'th cheapest slot
// (0-indexed, after a stable ascending sort) is 100*i/len(slots).
//
// Per spec §9, minRank is applied with a strict `<` exclusion below it and maxRank with a strict `>`
// exclusion above it: a slot whose rank equals minRank is INCLUDED, one whose rank equals maxRank is also
// included, but this asymmetric naming matches the source's observable behaviour of filtering by
// `rank < minRank` / `rank > maxRank`, not a symmetric inclusive policy both ways.
func GetCheapestSlots(slots []Slot, n int, minRank, maxRank *float64) []int {
	ranked := make([]rankedIndex, len(slots))
	for i, s := range slots {
		ranked[i] = rankedIndex{index: i, price: s.TotalPrice}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].price < ranked[j].price
	})

	filtered := make([]int, 0, len(ranked))
	total := len(ranked)
	for i, r := range ranked {
		rank := 100.0 * float64(i) / float64(total)
		if minRank != nil && rank < *minRank {
			continue
		}
		if maxRank != nil && rank > *maxRank {
			continue
		}
		filtered = append(filtered, r.index)
	}

	if n < 0 {
		n = 0
	}
	if n > len(filtered) {
		n = len(filtered)
	}
	return filtered[:n]
}
