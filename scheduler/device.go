// Package scheduler selects the 96-slot ON/OFF pattern for each schedulable load (spec C4 "Scheduler") and
// materializes it onto the device's smart switch.
package scheduler

import (
	"github.com/cepro/energymgr/priceapi"
	timeutils "github.com/cepro/energymgr/time_utils"
)

// Mode selects which scheduling algorithm a device uses.
type Mode string

const (
	ModePeriod    Mode = "PERIOD"
	ModeThreshold Mode = "THRESHOLD"
)

// validPeriodHours are the only period lengths that evenly divide a day (spec §3 LoadDevice.period_hours).
var validPeriodHours = map[int]bool{1: true, 2: true, 3: true, 4: true, 6: true, 8: true, 12: true, 24: true}

// LoadDevice is a schedulable switchable load (spec §3 "LoadDevice").
type LoadDevice struct {
	Name                string
	EntityID            string
	SwitchEndpoint      string
	EstimatedPowerWatts int
	SchedulingEnabled   bool

	ScheduleMode Mode

	// PERIOD fields.
	DesiredOnHours int
	PeriodHours    int
	MinPriceRank   *float64
	MaxPriceRank   *float64

	WeatherAdjustment bool
	HeatingCurve      float64
	PowerFactor       float64

	InvertedLogic bool

	AlwaysOnHours  map[int]bool
	AlwaysOffHours map[int]bool
	AlwaysOnPrice  float64 // cents/kWh; zero means unset

	EnergyDebt          int
	MaxEnergyDebt       int
	RecoveryWindowHours int
	MaxRecoveryPrice    float64

	// Runtime state, mutated only by Schedule (daily) and the debt tracker (per minute).
	ScheduledSlots [96]bool
	ScheduleIDs    map[string]int // keyed by minute-offset string, e.g. "0", "15", "30", "45"
}

// ValidatePeriodHours reports whether p is one of the divisors of 24 the scheduler accepts.
func ValidatePeriodHours(p int) bool {
	return validPeriodHours[p]
}

// applyTimeConstraints marks always_on/always_off slots from the device's configured hour sets (spec §4.4
// step 1). Off dominates on: an hour marked in both sets ends up always_off with always_on cleared.
func applyTimeConstraints(day priceapi.Day, dev *LoadDevice) {
	for hour := range dev.AlwaysOnHours {
		offset := timeutils.SlotOffsetForHour(hour)
		for i := offset; i < offset+4; i++ {
			day[i].AlwaysOn = true
		}
	}
	for hour := range dev.AlwaysOffHours {
		offset := timeutils.SlotOffsetForHour(hour)
		for i := offset; i < offset+4; i++ {
			day[i].AlwaysOff = true
			day[i].AlwaysOn = false
		}
	}
}

// applyPriceConstraint marks always_on for any slot cheaper than the device's always_on_price threshold,
// unless already marked always_off (spec §4.4 step 2).
func applyPriceConstraint(day priceapi.Day, dev *LoadDevice) {
	if dev.AlwaysOnPrice == 0 {
		return
	}
	for i := range day {
		if day[i].AlwaysOff {
			continue
		}
		if day[i].TotalPrice*100 < dev.AlwaysOnPrice {
			day[i].AlwaysOn = true
		}
	}
}
