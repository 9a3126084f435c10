package config

import (
	"github.com/cepro/energymgr/scheduler"
)

// ToLoadDevice converts a configured device into the scheduler's runtime LoadDevice, expanding the
// hour-list fields into sets.
func (d DeviceConfig) ToLoadDevice() *scheduler.LoadDevice {
	onHours := make(map[int]bool, len(d.AlwaysOnHours))
	for _, h := range d.AlwaysOnHours {
		onHours[h] = true
	}
	offHours := make(map[int]bool, len(d.AlwaysOffHours))
	for _, h := range d.AlwaysOffHours {
		offHours[h] = true
	}

	mode := scheduler.ModePeriod
	if d.ScheduleMode == "threshold" {
		mode = scheduler.ModeThreshold
	}

	powerFactor := d.PowerFactor
	if powerFactor == 0 {
		powerFactor = 0.5
	}

	return &scheduler.LoadDevice{
		Name:                d.Name,
		EntityID:            d.EntityID,
		SwitchEndpoint:      d.SwitchEndpoint,
		EstimatedPowerWatts: d.EstimatedPowerWatts,
		SchedulingEnabled:   d.SchedulingEnabled,
		ScheduleMode:        mode,
		DesiredOnHours:      d.DesiredOnHours,
		PeriodHours:         d.PeriodHours,
		MinPriceRank:        d.MinPriceRank,
		MaxPriceRank:        d.MaxPriceRank,
		WeatherAdjustment:   d.WeatherAdjustment,
		HeatingCurve:        d.HeatingCurve,
		PowerFactor:         powerFactor,
		InvertedLogic:       d.InvertedLogic,
		AlwaysOnHours:       onHours,
		AlwaysOffHours:      offHours,
		AlwaysOnPrice:       d.AlwaysOnPrice,
		MaxEnergyDebt:       d.MaxEnergyDebt,
		RecoveryWindowHours: d.RecoveryWindowHours,
		MaxRecoveryPrice:    d.MaxRecoveryPrice,
		ScheduleIDs:         make(map[string]int),
	}
}
