package stateengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func phaseTarget(v float64) *float64 { return &v }

func TestComputeReturnsNilWithoutPhaseTarget(t *testing.T) {
	state := SystemState{Phases: [3]float64{100, 100, 100}}
	desired := Compute(state, ModeNormal, Inputs{})
	require.Nil(t, desired)
}

func TestComputeWithinRangeHoldsBatteryFlowAtZero(t *testing.T) {
	state := SystemState{Phases: [3]float64{50, 50, 50}, BatterySOC: 50}
	low, high := 0.0, 100.0
	desired := Compute(state, ModeNormal, Inputs{PhaseTarget: phaseTarget(20), RangeLow: &low, RangeHigh: &high})

	require.NotNil(t, desired)
	require.Equal(t, 0.0, desired.EnergyFlow.BatteryFlowChange)
	require.Equal(t, "within range", desired.Reasoning)
}

// TestComputeWithinRangeNoAction mirrors the within-range scenario literally: phases [200, 250, 220],
// phase_target 200, range 150-300 yields no adjustment.
func TestComputeWithinRangeNoAction(t *testing.T) {
	state := SystemState{Phases: [3]float64{200, 250, 220}, BatterySOC: 50}
	low, high := 150.0, 300.0
	desired := Compute(state, ModeNormal, Inputs{PhaseTarget: phaseTarget(200), RangeLow: &low, RangeHigh: &high})

	require.NotNil(t, desired)
	require.Equal(t, 0.0, desired.EnergyFlow.BatteryFlowChange)
}

// TestComputeNormalDeficitScales mirrors the normal-deficit scenario literally: phases [-400, -350, -300],
// phase_target 200, range 150-300, SOC 50% yields most_negative=-400, power_balance=-600,
// total_power_adjustment=-1800.
func TestComputeNormalDeficitScales(t *testing.T) {
	state := SystemState{Phases: [3]float64{-400, -350, -300}, BatterySOC: 50}
	low, high := 150.0, 300.0
	desired := Compute(state, ModeNormal, Inputs{PhaseTarget: phaseTarget(200), RangeLow: &low, RangeHigh: &high})

	require.NotNil(t, desired)
	require.Equal(t, -1800.0, desired.EnergyFlow.BatteryFlowChange)
}

func TestComputeModeBuyForcesPositiveChargeTarget(t *testing.T) {
	state := SystemState{Phases: [3]float64{100, 100, 100}, BatterySOC: 50}
	desired := Compute(state, ModeBuy, Inputs{PhaseTarget: phaseTarget(20), QwPowerLimit: 1000})

	require.NotNil(t, desired)
	require.Equal(t, 1000.0, desired.EnergyFlow.BatteryFlowChange,
		"buy mode's absolute forced_charging target must be positive or clampTarget zeroes it")
}

func TestComputeModeSellForcesNegativeDischargeTarget(t *testing.T) {
	state := SystemState{Phases: [3]float64{-100, -100, -100}, BatterySOC: 50}
	desired := Compute(state, ModeSell, Inputs{PhaseTarget: phaseTarget(20), QwPowerLimit: 1000})

	require.NotNil(t, desired)
	require.Equal(t, -1000.0, desired.EnergyFlow.BatteryFlowChange,
		"sell mode's absolute forced_discharging target negates remaining to get a positive discharge watts value")
}

func TestComputeLowBatterySOCBlocksDischargeIncrease(t *testing.T) {
	state := SystemState{Phases: [3]float64{-500, -500, -500}, BatterySOC: 3}
	desired := Compute(state, ModeNormal, Inputs{PhaseTarget: phaseTarget(20)})

	require.NotNil(t, desired)
	require.Equal(t, 0.0, desired.EnergyFlow.BatteryFlowChange)
	require.Contains(t, desired.Reasoning, "battery SOC too low")
}

func TestComputeHeatingActiveBlocksDischargeIncrease(t *testing.T) {
	state := SystemState{Phases: [3]float64{-500, -500, -500}, BatterySOC: 50, HeatingActive: true}
	desired := Compute(state, ModeNormal, Inputs{PhaseTarget: phaseTarget(20)})

	require.NotNil(t, desired)
	require.Equal(t, 0.0, desired.EnergyFlow.BatteryFlowChange)
	require.True(t, desired.Constraints[ConstraintHeatingActive])
}

func TestComputeFRRModesExemptFromConstraintClamps(t *testing.T) {
	state := SystemState{Phases: [3]float64{-500, -500, -500}, BatterySOC: 3, HeatingActive: true}
	desired := Compute(state, ModeFRRUp, Inputs{PhaseTarget: phaseTarget(20), QwPowerLimit: 0})

	require.NotNil(t, desired)
	require.NotContains(t, desired.Reasoning, "battery SOC too low")
}

func TestApplyDeadbandZeroesSmallAdjustments(t *testing.T) {
	require.Equal(t, 0.0, applyDeadband(10, frrDeadbandWatts))
	require.Equal(t, 50.0, applyDeadband(50, frrDeadbandWatts))
}

func TestMostNegativePicksLowestPhase(t *testing.T) {
	state := SystemState{Phases: [3]float64{10, -30, 5}}
	require.Equal(t, -30.0, state.MostNegative())
}
