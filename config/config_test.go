package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePeriodModeRejectsNonDivisorPeriod(t *testing.T) {
	cfg := Config{Devices: []DeviceConfig{{Name: "boiler", ScheduleMode: "period", PeriodHours: 5, DesiredOnHours: 1}}}
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not divide 24")
}

func TestValidatePeriodModeRejectsDesiredOnHoursExceedingPeriod(t *testing.T) {
	cfg := Config{Devices: []DeviceConfig{{Name: "boiler", ScheduleMode: "period", PeriodHours: 4, DesiredOnHours: 5}}}
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds periodHours")
}

func TestValidatePeriodModeRejectsOutOfRangeHeatingCurve(t *testing.T) {
	cfg := Config{Devices: []DeviceConfig{{
		Name: "boiler", ScheduleMode: "period", PeriodHours: 24, DesiredOnHours: 4,
		WeatherAdjustment: true, HeatingCurve: 20,
	}}}
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of range")
}

func TestValidateThresholdModeRequiresMaxPriceRank(t *testing.T) {
	cfg := Config{Devices: []DeviceConfig{{Name: "heater", ScheduleMode: "threshold"}}}
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "requires maxPriceRank")
}

func TestValidateRejectsUnknownScheduleMode(t *testing.T) {
	cfg := Config{Devices: []DeviceConfig{{Name: "pump", ScheduleMode: "weird"}}}
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown scheduleMode")
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	maxRank := 50.0
	cfg := Config{Devices: []DeviceConfig{
		{Name: "boiler", ScheduleMode: "period", PeriodHours: 6, DesiredOnHours: 2},
		{Name: "pump", ScheduleMode: "threshold", MaxPriceRank: &maxRank},
	}}
	require.NoError(t, Validate(cfg))
}

func TestReadParsesAndValidatesFile(t *testing.T) {
	cfg := Config{
		Location: "Europe/Tallinn",
		Devices:  []DeviceConfig{{Name: "boiler", ScheduleMode: "period", PeriodHours: 24, DesiredOnHours: 4}},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	loaded, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, "Europe/Tallinn", loaded.Location)
}

func TestToLoadDeviceExpandsHourListsAndDefaultsPowerFactor(t *testing.T) {
	dc := DeviceConfig{
		Name:           "boiler",
		ScheduleMode:   "threshold",
		AlwaysOnHours:  []int{6, 7},
		AlwaysOffHours: []int{23},
	}

	dev := dc.ToLoadDevice()

	require.Equal(t, 0.5, dev.PowerFactor, "zero-valued PowerFactor should default to 0.5")
	require.True(t, dev.AlwaysOnHours[6])
	require.True(t, dev.AlwaysOnHours[7])
	require.True(t, dev.AlwaysOffHours[23])
	require.False(t, dev.AlwaysOnHours[8])
}

func TestReadReturnsErrorForInvalidConfig(t *testing.T) {
	cfg := Config{Devices: []DeviceConfig{{Name: "boiler", ScheduleMode: "period", PeriodHours: 5}}}
	data, _ := json.Marshal(cfg)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err := Read(path)
	require.Error(t, err)
}
