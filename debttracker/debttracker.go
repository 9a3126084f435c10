// Package debttracker accounts for scheduled-vs-actual load divergence and opportunistically recovers
// missed minutes in later cheap unscheduled slots (spec C5 "Energy-Debt Tracker").
package debttracker

import (
	"math"
	"sort"
	"time"

	"github.com/cepro/energymgr/priceapi"
	"github.com/cepro/energymgr/scheduler"
	timeutils "github.com/cepro/energymgr/time_utils"
)

// MFRRMode, when active, suspends recovery commands (spec §4.5 "skip silently if the external mFRR mode
// flag is frrup or frrdown").
type MFRRMode string

const (
	MFRRNone MFRRMode = ""
	MFRRUp   MFRRMode = "frrup"
	MFRRDown MFRRMode = "frrdown"
)

// Recovery describes a single opportunistic-payback decision for this minute.
type Recovery struct {
	DeviceName string
	SlotIndex  int
	Timestamp  time.Time
}

// Tick runs once per minute for a single device: updates its energy debt from the (scheduled, actual) pair,
// and decides whether this minute should be an opportunistic recovery command (spec §4.5).
//
// now must fall within the day's 22:00-anchored window; callers should skip devices entirely when it
// doesn't (handled by returning ok=false).
func Tick(dev *scheduler.LoadDevice, day priceapi.Day, now time.Time, loc *time.Location, actualOn bool, mfrrMode MFRRMode) (recovery *Recovery, ok bool) {
	slotIdx, inWindow := timeutils.SlotIndexAt(now, loc)
	if !inWindow {
		return nil, false
	}

	scheduledOn := dev.ScheduledSlots[slotIdx]

	switch {
	case scheduledOn && !actualOn:
		dev.EnergyDebt = min(dev.EnergyDebt+1, dev.MaxEnergyDebt)
	case !scheduledOn && actualOn:
		dev.EnergyDebt = max(dev.EnergyDebt-1, 0)
	}

	if scheduledOn || actualOn || dev.EnergyDebt <= 0 {
		return nil, true
	}

	if mfrrMode == MFRRUp || mfrrMode == MFRRDown {
		return nil, true
	}

	candidates := collectRecoveryCandidates(day, dev, slotIdx)
	needed := int(math.Ceil(float64(dev.EnergyDebt) / 15.0))
	if needed > len(candidates) {
		needed = len(candidates)
	}
	chosen := candidates[:needed]

	for _, c := range chosen {
		if c.index == slotIdx {
			return &Recovery{DeviceName: dev.Name, SlotIndex: slotIdx, Timestamp: now}, true
		}
	}
	return nil, true
}

type recoveryCandidate struct {
	index int
	price float64
}

// collectRecoveryCandidates gathers unscheduled slots within the device's recovery window whose price is at
// or below its max_recovery_price, sorted cheapest-first (spec §4.5).
func collectRecoveryCandidates(day priceapi.Day, dev *scheduler.LoadDevice, fromSlot int) []recoveryCandidate {
	windowSlots := dev.RecoveryWindowHours * 4
	end := fromSlot + windowSlots
	if end > len(day) {
		end = len(day)
	}

	candidates := make([]recoveryCandidate, 0, windowSlots)
	for i := fromSlot; i < end; i++ {
		if dev.ScheduledSlots[i] {
			continue
		}
		if day[i].TotalPrice*100 <= dev.MaxRecoveryPrice {
			candidates = append(candidates, recoveryCandidate{index: i, price: day[i].TotalPrice})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].price < candidates[j].price })
	return candidates
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
