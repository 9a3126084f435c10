// Package stateengine computes the controller's desired energy-flow adjustment from the current system
// state and operating mode (spec C8 "State Engine").
package stateengine

import (
	"fmt"
	"math"
	"time"
)

// Constraint flags a condition that narrows which actuator behaviour is currently permitted.
type Constraint string

const (
	ConstraintBatterySOCTooLow  Constraint = "BATTERY_SOC_TOO_LOW"
	ConstraintHeatingActive     Constraint = "HEATING_ACTIVE"
	ConstraintBoilerOutsideHours Constraint = "BOILER_OUTSIDE_HOURS"
	ConstraintBoilerDaytime     Constraint = "BOILER_DAYTIME"
)

// batterySOCMinimumForDischarging mirrors the actuator boundary of the same name (spec §4.6).
const batterySOCMinimumForDischarging = 6.0

// frrDeadbandWatts is the tolerance applied around the mFRR target grid flow before an adjustment is made.
const frrDeadbandWatts = 15.0

// SystemState is a single PBC cycle's snapshot of the inverter and house (spec §3 "SystemState").
type SystemState struct {
	Phases            [3]float64
	BatterySOC        float64
	BatteryPower      float64
	SolarInput        float64
	ChargingRateLimit float64
	DischargingRateLimit float64
	ForcedPowerFlow   int
	HeatingActive     bool
	BoilerActive      bool
	Timestamp         time.Time
}

// MostNegative returns the most negative (most import-heavy) of the three phase readings.
func (s SystemState) MostNegative() float64 {
	m := s.Phases[0]
	for _, p := range s.Phases[1:] {
		if p < m {
			m = p
		}
	}
	return m
}

// TotalGridFlow is the signed sum of all three phases.
func (s SystemState) TotalGridFlow() float64 {
	return s.Phases[0] + s.Phases[1] + s.Phases[2]
}

// EnergyFlow is the battery/export adjustment portion of a DesiredState.
type EnergyFlow struct {
	BatteryFlowChange float64
	ExportLimit       *float64
}

// DesiredState is the State Engine's output: a target phase power, an energy-flow delta, an optional
// hysteresis band, and the constraints currently in force (spec §3 "DesiredState").
type DesiredState struct {
	TargetPhase float64
	EnergyFlow  EnergyFlow
	RangeLow    *float64
	RangeHigh   *float64
	Constraints map[Constraint]bool
	Reasoning   string
}

// Mode is the controller's current operating mode (spec §3 "Mode").
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeLimitExport Mode = "limitexport"
	ModePVSell      Mode = "pvsell"
	ModeNoBattery   Mode = "nobattery"
	ModeSaveBattery Mode = "savebattery"
	ModeBuy         Mode = "buy"
	ModeSell        Mode = "sell"
	ModeFRRUp       Mode = "frrup"
	ModeFRRDown     Mode = "frrdown"
)

// Inputs bundles the configuration values the State Engine needs alongside SystemState and Mode.
type Inputs struct {
	PhaseTarget   *float64
	RangeLow      *float64
	RangeHigh     *float64
	QwPowerLimit  float64
	LocalHour     int
}

// Compute derives a DesiredState from state, mode and inputs, per spec §4.8. It returns nil if no desired
// state can be produced (e.g. missing phase_target).
func Compute(state SystemState, mode Mode, in Inputs) *DesiredState {
	if in.PhaseTarget == nil {
		return nil
	}
	phaseTarget := *in.PhaseTarget

	mostNegative := state.MostNegative()

	if in.RangeLow != nil && in.RangeHigh != nil && mostNegative >= *in.RangeLow && mostNegative <= *in.RangeHigh {
		return &DesiredState{
			TargetPhase: phaseTarget,
			EnergyFlow:  EnergyFlow{BatteryFlowChange: 0},
			RangeLow:    in.RangeLow,
			RangeHigh:   in.RangeHigh,
			Constraints: map[Constraint]bool{},
			Reasoning:   "within range",
		}
	}

	powerBalance := mostNegative - phaseTarget
	totalPowerAdjustment := 3 * powerBalance

	constraints := deriveConstraints(state, in.LocalHour)

	var flowChange float64
	reasoning := ""

	switch mode {
	case ModeBuy:
		// Positive = surplus to absorb; forced_charging's absolute-target branch treats a positive remaining
		// directly as the watts to charge at (spec §4.9 dispatch, actuator.ForcedCharging.Execute).
		flowChange = math.Abs(in.QwPowerLimit)
		reasoning = "buy mode: forced charge at fixed power"
	case ModeSell:
		// Negative = deficit to cover; forced_discharging's absolute-target branch negates remaining to get
		// the positive discharge watts (actuator.ForcedDischarging.Execute).
		flowChange = -math.Abs(in.QwPowerLimit)
		reasoning = "sell mode: forced discharge at fixed power"
	case ModeFRRUp:
		target := in.QwPowerLimit
		adjustment := target - sumPhases(state)
		adjustment = applyDeadband(adjustment, frrDeadbandWatts)
		flowChange = -adjustment
		reasoning = "frrup: tracking target grid export"
	case ModeFRRDown:
		target := -in.QwPowerLimit
		adjustment := target - sumPhases(state)
		adjustment = applyDeadband(adjustment, frrDeadbandWatts)
		flowChange = -adjustment
		reasoning = "frrdown: tracking target grid import"
	case ModeNoBattery, ModeSaveBattery:
		flowChange = 0
		reasoning = fmt.Sprintf("%s: battery held idle", mode)
	case ModePVSell:
		flowChange = -math.Max(0, -totalPowerAdjustment)
		reasoning = "pvsell: discharge only as needed, no charging"
	case ModeLimitExport:
		flowChange = totalPowerAdjustment
		reasoning = "limitexport: pass through adjustment"
	case ModeNormal:
		flowChange = totalPowerAdjustment
		reasoning = "normal: balancing toward phase target"
	default:
		flowChange = totalPowerAdjustment
		reasoning = "unrecognised mode: defaulting to normal balancing"
	}

	// mFRR modes are exempt from the constraint clamps below (spec §4.8 step 6).
	if mode != ModeFRRUp && mode != ModeFRRDown {
		if constraints[ConstraintBatterySOCTooLow] && flowChange > 0 {
			flowChange = 0
			reasoning += "; battery SOC too low, discharge increase blocked"
		}
		if constraints[ConstraintHeatingActive] || constraints[ConstraintBoilerOutsideHours] {
			if flowChange > 0 {
				flowChange = 0
				reasoning += "; discharge blocked by heating/boiler interlock"
			}
		}
	}

	return &DesiredState{
		TargetPhase: phaseTarget,
		EnergyFlow:  EnergyFlow{BatteryFlowChange: flowChange},
		RangeLow:    in.RangeLow,
		RangeHigh:   in.RangeHigh,
		Constraints: constraints,
		Reasoning:   reasoning,
	}
}

func deriveConstraints(state SystemState, localHour int) map[Constraint]bool {
	constraints := map[Constraint]bool{}
	if state.BatterySOC < batterySOCMinimumForDischarging {
		constraints[ConstraintBatterySOCTooLow] = true
	}
	if state.HeatingActive {
		constraints[ConstraintHeatingActive] = true
	}
	if state.BoilerActive {
		if localHour >= 7 && localHour < 22 {
			constraints[ConstraintBoilerDaytime] = true
		} else {
			constraints[ConstraintBoilerOutsideHours] = true
		}
	}
	return constraints
}

func sumPhases(state SystemState) float64 {
	return state.Phases[0] + state.Phases[1] + state.Phases[2]
}

func applyDeadband(adjustment, deadband float64) float64 {
	if math.Abs(adjustment) < deadband {
		return 0
	}
	return adjustment
}
