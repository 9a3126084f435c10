// Package pbc implements the Phase-Balancing Control loop (spec C9 "PBC Orchestrator"): the periodic plus
// event-triggered cycle that reads live sensors, resolves the operating mode, computes a desired
// energy-flow adjustment, and sequences actuator tools to realize it.
package pbc

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cepro/energymgr/actuator"
	"github.com/cepro/energymgr/modemgr"
	"github.com/cepro/energymgr/stateengine"
)

// minRemainingWatts is the convergence threshold at which the tool-sequence walk stops (spec §4.9 step 11).
const minRemainingWatts = 1.0

// heatingForceDiscardModes force discharging_rate_limit to 0 and cancel any active forced-discharge, but
// continue balancing for the rest of the cycle (spec §4.9 step 7, first bullet).
var heatingForceDiscardModes = map[stateengine.Mode]bool{
	stateengine.ModeBuy:         true,
	stateengine.ModeFRRDown:     true,
	stateengine.ModeFRRUp:       true,
	stateengine.ModeSaveBattery: true,
	stateengine.ModeNoBattery:   true,
	stateengine.ModeNormal:      true,
}

// heatingSkipBalancingModes additionally skip all balancing for the cycle (spec §4.9 step 7, second
// bullet). The two sets intentionally overlap; per spec's REDESIGN FLAGS the observable behavior to
// preserve is "heating interlock always enforces discharge=0, continues for buy/frrdown, skips for the
// rest" — so membership here always wins over the discard-only set.
var heatingSkipBalancingModes = map[stateengine.Mode]bool{
	stateengine.ModeNormal:      true,
	stateengine.ModeLimitExport: true,
	stateengine.ModePVSell:      true,
	stateengine.ModeNoBattery:   true,
	stateengine.ModeSaveBattery: true,
	stateengine.ModeSell:        true,
	stateengine.ModeFRRUp:       true,
}

// SensorReader is the subset of datamgr.Manager the orchestrator needs to build SystemState and resolve
// mode/source/power-limit inputs.
type SensorReader interface {
	RefreshAll(ctx context.Context)
	IsSystemValid() bool
	Get(entity string, overrideMaxAge time.Duration, useFallback bool) (any, bool)
}

// Inverter is the fire-and-forget inverter command surface (also implemented by inverter.Client).
type Inverter = actuator.InverterServices

// Tools bundles the six actuator tools the orchestrator sequences each cycle.
type Tools struct {
	ForcedCharging       *actuator.ForcedCharging
	ForcedDischarging    *actuator.ForcedDischarging
	ChargingAdjustment   *actuator.ChargingAdjustment
	DischargeLimitation  *actuator.DischargeLimitation
	ExportLimitation     *actuator.ExportLimitation
	LoadSwitching        *actuator.LoadSwitching
}

// Limits tracks the three mutable rate/export limits the tools read and adjust. They are shared pointers so
// a tool's limit-raise side effect (spec §4.6) is visible across cycles and to NewForcedCharging/
// NewForcedDischarging, which hold pointers into the same struct.
type Limits struct {
	ChargingRateLimit    float64
	DischargingRateLimit float64
	ExportLimit          float64
}

// Orchestrator runs the PBC cycle (spec §4.9).
type Orchestrator struct {
	data        SensorReader
	modeMgr     *modemgr.Manager
	tools       Tools
	limits      *Limits
	devices     func() []actuator.Device
	deviceID    string
	loc         *time.Location
	maxBattery  float64
	maxFeedGrid float64

	actionsEnabled bool
	lastEnabledLog bool

	lastHeatingActive   bool
	lastExecution       time.Time
	lastQwPowerLimit    float64
	lastForcedPowerFlow float64

	logger *slog.Logger

	// OnEvent, if set, is called for major occurrences worth recording in the history log (mode
	// transitions, load switching) — spec C11, grounded on PbrHistoryManager.add_event. Left nil in tests
	// that don't need it.
	OnEvent func(eventType, message string, details map[string]any)
}

// New creates an Orchestrator. devices is called fresh each cycle to snapshot the current load-switching
// candidate set (spec §4.6's device list is runtime state owned by the scheduler/debt tracker).
func New(data SensorReader, modeMgr *modemgr.Manager, tools Tools, limits *Limits, devices func() []actuator.Device,
	deviceID string, loc *time.Location, maxBattery, maxFeedGrid float64) *Orchestrator {
	return &Orchestrator{
		data:           data,
		modeMgr:        modeMgr,
		tools:          tools,
		limits:         limits,
		devices:        devices,
		deviceID:       deviceID,
		loc:            loc,
		maxBattery:     maxBattery,
		maxFeedGrid:    maxFeedGrid,
		actionsEnabled: true,
		logger:         slog.Default(),
	}
}

// SetActionsEnabled toggles the global actions-enabled flag (spec §4.9 step 1, §7 "Actions enabled").
func (o *Orchestrator) SetActionsEnabled(enabled bool) {
	o.actionsEnabled = enabled
}

// Cycle runs one PBC iteration (spec §4.9). fastTrigger is consulted by the caller to decide whether to
// invoke Cycle out-of-band; it is not read here.
func (o *Orchestrator) Cycle(ctx context.Context) {
	// Step 1: actions-enabled gate.
	if !o.actionsEnabled {
		if o.lastEnabledLog {
			o.logger.Info("PBC actions disabled, applying safe-state reset and skipping cycles")
			o.applyInitialState(modemgr.InitialStateFor(stateengine.ModeNormal, o.maxBattery, o.maxFeedGrid))
			o.lastEnabledLog = false
		}
		return
	}
	o.lastEnabledLog = true

	// Step 2: synchronous sensor refresh.
	o.data.RefreshAll(ctx)

	// Step 3: build SystemState; skip if invalid.
	if !o.data.IsSystemValid() {
		o.logger.Warn("PBC cycle skipped: critical sensor invalid")
		return
	}
	state := o.buildSystemState()
	o.lastForcedPowerFlow = float64(state.ForcedPowerFlow)

	// Step 4: resolve mode/source/power-limit.
	mode, source, qwPowerLimit, ok := o.resolveModeAndSource()
	if !ok {
		return
	}
	o.lastQwPowerLimit = qwPowerLimit

	// Step 5: fast-trigger subscription is updated by the caller (it owns the Trigger instance); nothing to
	// do here beyond exposing state.BatterySOC, which the caller already has from this same cycle's inputs.

	// Step 6: heating state transition.
	if o.lastHeatingActive && !state.HeatingActive {
		initial := modemgr.InitialStateFor(mode, o.maxBattery, o.maxFeedGrid)
		o.limits.DischargingRateLimit = initial.DischargingLimit
	}
	o.lastHeatingActive = state.HeatingActive

	// Step 7: heating protection interlock.
	if state.HeatingActive {
		if heatingForceDiscardModes[mode] {
			limitResult := o.tools.DischargeLimitation.Execute(ctx, o.limits.DischargingRateLimit, o.limits.DischargingRateLimit)
			if limitResult.ActionIssued || o.limits.DischargingRateLimit < 1 {
				o.limits.DischargingRateLimit = 0
			}
			if state.ForcedPowerFlow < 0 {
				o.tools.ForcedCharging.Execute(ctx, 0, float64(state.ForcedPowerFlow), state.BatteryPower, true, true)
			}
			o.tools.ForcedDischarging.Reset()
			o.tools.ChargingAdjustment.Execute(ctx, 0, o.limits.ChargingRateLimit, state.BatteryPower, false, false)
		}
		if heatingSkipBalancingModes[mode] {
			o.logger.Info("PBC cycle skipped: heating protection interlock", "mode", mode)
			return
		}
	}

	// Step 8: mode-manager dispatch.
	transition := o.modeMgr.HandleModeChange(mode, source, o.maxBattery, o.maxFeedGrid)
	if transition.Changed {
		o.applyInitialState(transition.InitialState)
		if o.OnEvent != nil {
			o.OnEvent("mode_change", fmt.Sprintf("mode changed to %s (source %s)", mode, source),
				map[string]any{"mode": string(mode), "source": string(source)})
		}
	}

	// Step 9: compute desired state.
	in := stateengine.Inputs{
		PhaseTarget:  state.phaseTarget,
		RangeLow:     state.rangeLow,
		RangeHigh:    state.rangeHigh,
		QwPowerLimit: qwPowerLimit,
		LocalHour:    time.Now().In(o.loc).Hour(),
	}
	desired := stateengine.Compute(state.SystemState, mode, in)
	if desired == nil {
		o.logger.Warn("PBC cycle skipped: no phase target available")
		return
	}

	// Step 10: surplus/deficit orientation and tool sequence.
	flowChange := desired.EnergyFlow.BatteryFlowChange
	var surplus bool
	switch mode {
	case stateengine.ModeFRRDown:
		surplus = flowChange < 0
	case stateengine.ModeFRRUp:
		surplus = flowChange > 0
	default:
		surplus = flowChange > 0
	}

	sequence := modemgr.ToolSequence(mode)
	if surplus {
		sequence = reversed(sequence)
	}

	// Step 11: walk the sequence.
	remaining := flowChange
	if mode == stateengine.ModeFRRDown {
		remaining = -remaining
	}

	for _, name := range sequence {
		if math.Abs(remaining) < minRemainingWatts {
			break
		}
		remaining = o.dispatch(ctx, name, mode, remaining, state)
	}

	o.lastExecution = time.Now()
}

// dispatch runs a single named tool (spec §4.9 step 11-12) and returns its updated remaining.
func (o *Orchestrator) dispatch(ctx context.Context, name string, mode stateengine.Mode, remaining float64, state systemStateWithInputs) float64 {
	absoluteTarget := mode == stateengine.ModeBuy || mode == stateengine.ModeSell
	batteryDischarging := state.BatteryPower < 0
	isFRRDownDeficit := mode == stateengine.ModeFRRDown && remaining < 0

	forcedPowerFlow := float64(state.ForcedPowerFlow)
	o.lastForcedPowerFlow = forcedPowerFlow

	var result actuator.Result
	switch name {
	case "forced_charging":
		result = o.tools.ForcedCharging.Execute(ctx, remaining, forcedPowerFlow, state.BatteryPower, absoluteTarget, false)
	case "forced_discharging":
		result = o.tools.ForcedDischarging.Execute(ctx, remaining, forcedPowerFlow, state.BatteryPower, absoluteTarget)
	case "charging_adjustment":
		result = o.tools.ChargingAdjustment.Execute(ctx, remaining, o.limits.ChargingRateLimit, state.BatteryPower, batteryDischarging, isFRRDownDeficit)
		if result.ActionIssued {
			o.limits.ChargingRateLimit += (remaining - result.Remaining)
		}
	case "discharge_limitation":
		result = o.tools.DischargeLimitation.Execute(ctx, remaining, o.limits.DischargingRateLimit)
		if result.ActionIssued {
			o.limits.DischargingRateLimit -= (remaining - result.Remaining)
		}
	case "export_limitation":
		result = o.tools.ExportLimitation.Execute(ctx, remaining, o.limits.ExportLimit)
		if result.ActionIssued {
			o.limits.ExportLimit -= (remaining - result.Remaining)
		}
	case "load_switching":
		result = o.tools.LoadSwitching.Execute(ctx, o.devices(), remaining, mode == stateengine.ModeFRRUp)
	default:
		return remaining
	}

	if result.ActionIssued {
		o.logger.Info("PBC action issued", "tool", name, "mode", mode, "remaining_before", remaining, "remaining_after", result.Remaining, "reason", result.Reason)
		if name == "load_switching" && o.OnEvent != nil {
			o.OnEvent("load_switching", result.Reason, map[string]any{"mode": string(mode)})
		}
	}
	return result.Remaining
}

// applyInitialState pushes a mode's initial-state table entry to the inverter (spec §4.7).
func (o *Orchestrator) applyInitialState(initial modemgr.InitialState) {
	o.limits.ChargingRateLimit = initial.ChargingLimit
	o.limits.DischargingRateLimit = initial.DischargingLimit
	if initial.ExportLimit != nil {
		o.limits.ExportLimit = *initial.ExportLimit
	}

	switch initial.ForcedAction {
	case modemgr.ForcedStop:
		o.tools.ForcedCharging.Execute(context.Background(), 0, o.lastForcedPowerFlow, 0, true, true)
		o.tools.ForcedDischarging.Execute(context.Background(), 0, o.lastForcedPowerFlow, 0, true)
	case modemgr.ForcedStartCharge:
		o.tools.ForcedCharging.Execute(context.Background(), o.lastQwPowerLimit, o.lastForcedPowerFlow, 0, true, true)
	case modemgr.ForcedStartDischarge:
		o.tools.ForcedDischarging.Execute(context.Background(), -math.Abs(o.lastQwPowerLimit), o.lastForcedPowerFlow, 0, true)
	}
}

func reversed(seq []string) []string {
	out := make([]string, len(seq))
	for i, v := range seq {
		out[len(seq)-1-i] = v
	}
	return out
}
