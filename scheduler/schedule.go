package scheduler

import (
	"math"

	"github.com/cepro/energymgr/priceapi"
	"github.com/cepro/energymgr/weather"
)

// slotsPerDay mirrors timeutils.SlotsPerDay as a package-local constant used throughout slot arithmetic.
const slotsPerDay = 96

// WeatherInput carries the pre-fetched forecast average needed by weather-adjusted PERIOD devices, so that
// Schedule itself stays a pure function of its arguments.
type WeatherInput struct {
	ForecastAvgTempCelsius float64
	Available              bool
}

// Schedule computes the 96-slot ON/OFF pattern for dev against a per-device clone of the day's prices,
// mutating dev.ScheduledSlots. day must already satisfy priceapi.Day.Validate(); the caller is expected to
// pass day.Clone() so constraint marks never leak between devices (spec §4.4).
func Schedule(day priceapi.Day, dev *LoadDevice, weatherInput WeatherInput) {
	applyTimeConstraints(day, dev)
	applyPriceConstraint(day, dev)

	switch dev.ScheduleMode {
	case ModePeriod:
		schedulePeriod(day, dev, weatherInput)
	case ModeThreshold:
		scheduleThreshold(day, dev)
	}
}

// schedulePeriod implements spec §4.4's PERIOD algorithm: divide the day into 24/period_hours equal
// periods and, within each, top up to the required slot count with the cheapest remaining slots.
func schedulePeriod(day priceapi.Day, dev *LoadDevice, weatherInput WeatherInput) {
	var scheduled [slotsPerDay]bool
	for i := range day {
		scheduled[i] = day[i].AlwaysOn
	}

	slotsPerPeriod := slotsPerDay / (24 / dev.PeriodHours)

	numSlotsPerPeriod := dev.DesiredOnHours * 4
	if dev.WeatherAdjustment {
		minSlots := dev.DesiredOnHours * 4
		powerFactor := dev.PowerFactor
		if powerFactor == 0 {
			powerFactor = 0.5
		}
		avgTemp := 16.0
		if weatherInput.Available {
			avgTemp = weatherInput.ForecastAvgTempCelsius
		}
		numSlotsPerPeriod = weather.RequiredSlots(avgTemp, dev.HeatingCurve, powerFactor, dev.PeriodHours, minSlots)
	}

	numPeriods := 24 / dev.PeriodHours
	for p := 0; p < numPeriods; p++ {
		start := p * slotsPerPeriod
		end := start + slotsPerPeriod

		alreadyOn := 0
		periodSlots := make([]priceapi.Slot, 0, slotsPerPeriod)
		periodIndices := make([]int, 0, slotsPerPeriod)
		for i := start; i < end; i++ {
			if scheduled[i] {
				alreadyOn++
				continue
			}
			if day[i].AlwaysOff {
				continue
			}
			periodSlots = append(periodSlots, day[i])
			periodIndices = append(periodIndices, i)
		}

		remaining := numSlotsPerPeriod
		if dev.WeatherAdjustment {
			remaining = int(math.Max(0, float64(numSlotsPerPeriod-alreadyOn)))
		}

		cheapest := priceapi.GetCheapestSlots(periodSlots, remaining, dev.MinPriceRank, dev.MaxPriceRank)
		for _, relIdx := range cheapest {
			scheduled[periodIndices[relIdx]] = true
		}
	}

	dev.ScheduledSlots = scheduled
}

// scheduleThreshold implements spec §4.4's THRESHOLD algorithm: seed always-on slots, then mark every
// non-always_off slot whose percentile rank falls at or below max_price_rank.
func scheduleThreshold(day priceapi.Day, dev *LoadDevice) {
	var scheduled [slotsPerDay]bool
	for i := range day {
		scheduled[i] = day[i].AlwaysOn
	}

	candidates := make([]priceapi.Slot, 0, slotsPerDay)
	candidateIndices := make([]int, 0, slotsPerDay)
	for i := range day {
		if day[i].AlwaysOff {
			continue
		}
		candidates = append(candidates, day[i])
		candidateIndices = append(candidateIndices, i)
	}

	selected := priceapi.GetCheapestSlots(candidates, len(candidates), dev.MinPriceRank, dev.MaxPriceRank)
	for _, relIdx := range selected {
		scheduled[candidateIndices[relIdx]] = true
	}

	dev.ScheduledSlots = scheduled
}
