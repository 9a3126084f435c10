package pbc

import (
	"time"

	"github.com/cepro/energymgr/datamgr"
	"github.com/cepro/energymgr/modemgr"
	"github.com/cepro/energymgr/stateengine"
)

// systemStateWithInputs bundles the State Engine's SystemState with the two optional control-loop inputs
// (phase_target, range_low/high) that are read from the sensor cache but aren't part of SystemState itself.
type systemStateWithInputs struct {
	stateengine.SystemState
	phaseTarget *float64
	rangeLow    *float64
	rangeHigh   *float64
}

// buildSystemState reads the current cached sensor values into a SystemState (spec §4.9 step 3). It is only
// called after IsSystemValid() has passed, so every critical entity is assumed present.
func (o *Orchestrator) buildSystemState() systemStateWithInputs {
	phaseA := o.readFloat(datamgr.EntityPhaseA)
	phaseB := o.readFloat(datamgr.EntityPhaseB)
	phaseC := o.readFloat(datamgr.EntityPhaseC)
	batterySOC := o.readFloat(datamgr.EntityBatterySoc)
	batteryPower := o.readFloat(datamgr.EntityBatteryPower)
	solarInput, _ := o.data.Get("solar_power", 0, true)

	heatingActive := o.readBool("heating_active")
	boilerActive := o.readBool("boiler_active")

	forcedStatus, _ := o.data.Get("forced_power_flow_status", 0, false)
	forcedPowerFlow := datamgr.ParseForcedPowerFlow(toString(forcedStatus))

	state := systemStateWithInputs{
		SystemState: stateengine.SystemState{
			Phases:          [3]float64{phaseA, phaseB, phaseC},
			BatterySOC:      batterySOC,
			BatteryPower:    batteryPower,
			SolarInput:      toFloat(solarInput),
			ForcedPowerFlow: forcedPowerFlow,
			HeatingActive:   heatingActive,
			BoilerActive:    boilerActive,
			Timestamp:       time.Now(),
		},
	}

	if v, ok := o.data.Get(datamgr.EntityPhaseTarget, 0, true); ok {
		f := toFloat(v)
		state.phaseTarget = &f
	}
	if v, ok := o.data.Get("range_low", 0, true); ok {
		f := toFloat(v)
		state.rangeLow = &f
	}
	if v, ok := o.data.Get("range_high", 0, true); ok {
		f := toFloat(v)
		state.rangeHigh = &f
	}

	return state
}

// resolveModeAndSource reads the mode/source/power-limit entities and validates them (spec §4.9 step 4).
func (o *Orchestrator) resolveModeAndSource() (stateengine.Mode, modemgr.Source, float64, bool) {
	modeVal, _ := o.data.Get("mode", 0, true)
	sourceVal, _ := o.data.Get("source", 0, true)
	qwVal, _ := o.data.Get("qw_power_limit", 0, true)

	mode := stateengine.Mode(toString(modeVal))
	source := modemgr.Source(toString(sourceVal))

	if err := modemgr.Resolve(mode, source); err != nil {
		o.logger.Warn("PBC cycle skipped: mode/source invalid", "mode", mode, "source", source, "error", err)
		return "", "", 0, false
	}

	return mode, source, toFloat(qwVal), true
}

func (o *Orchestrator) readFloat(entity string) float64 {
	v, _ := o.data.Get(entity, 0, true)
	return toFloat(v)
}

func (o *Orchestrator) readBool(entity string) bool {
	v, ok := o.data.Get(entity, 0, true)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
