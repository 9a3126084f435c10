// Package modemgr maps the external mode string to the controller's internal Mode, enforces source
// compatibility, and applies each mode's initial state on transition (spec C7 "Mode Manager").
package modemgr

import (
	"fmt"
	"log/slog"

	"github.com/cepro/energymgr/stateengine"
)

// Source is who/what requested the current mode.
type Source string

const (
	SourceTimer     Source = "timer"
	SourceNoTimer   Source = "notimer"
	SourceOptimizer Source = "optimizer"
	SourceManual    Source = "manual"
	SourceKratt     Source = "kratt"
)

// ErrUnknownMode is returned when the external mode string doesn't map to a known Mode.
var ErrUnknownMode = fmt.Errorf("unknown mode")

// ErrSourceMismatch is returned when source is not permitted for the resolved mode.
var ErrSourceMismatch = fmt.Errorf("source not permitted for mode")

// Resolve validates (mode, source) per spec §3: kratt is the only source valid for frrup/frrdown, and is
// invalid for every other mode.
func Resolve(mode stateengine.Mode, source Source) error {
	switch mode {
	case stateengine.ModeNormal, stateengine.ModeLimitExport, stateengine.ModePVSell, stateengine.ModeNoBattery,
		stateengine.ModeSaveBattery, stateengine.ModeBuy, stateengine.ModeSell:
		if source == SourceKratt {
			return ErrSourceMismatch
		}
		return nil
	case stateengine.ModeFRRUp, stateengine.ModeFRRDown:
		if source != SourceKratt {
			return ErrSourceMismatch
		}
		return nil
	default:
		return ErrUnknownMode
	}
}

// InitialState is the set of limits/forced-action applied once, on entry to a mode (spec §4.7 table).
type InitialState struct {
	ExportLimit       *float64 // nil means "keep" (don't change)
	ChargingLimit     float64
	DischargingLimit  float64
	ForcedAction      ForcedAction
}

// ForcedAction names the forced charge/discharge action (if any) a mode's entry performs.
type ForcedAction string

const (
	ForcedStop            ForcedAction = "stop"
	ForcedStartCharge     ForcedAction = "start_charge"  // buy: start forced-charge at qw_powerlimit
	ForcedStartDischarge  ForcedAction = "start_discharge" // sell: start forced-discharge at qw_powerlimit
)

// InitialStateFor returns the initial state to apply for mode, given the battery/export maxima.
func InitialStateFor(mode stateengine.Mode, maxBatteryPower, maxFeedGridPower float64) InitialState {
	max := maxFeedGridPower
	switch mode {
	case stateengine.ModeNormal:
		return InitialState{ExportLimit: &max, ChargingLimit: maxBatteryPower, DischargingLimit: maxBatteryPower, ForcedAction: ForcedStop}
	case stateengine.ModeLimitExport:
		return InitialState{ExportLimit: nil, ChargingLimit: maxBatteryPower, DischargingLimit: maxBatteryPower, ForcedAction: ForcedStop}
	case stateengine.ModePVSell:
		return InitialState{ExportLimit: &max, ChargingLimit: 0, DischargingLimit: maxBatteryPower, ForcedAction: ForcedStop}
	case stateengine.ModeNoBattery:
		return InitialState{ExportLimit: &max, ChargingLimit: maxBatteryPower, DischargingLimit: 0, ForcedAction: ForcedStop}
	case stateengine.ModeSaveBattery:
		return InitialState{ExportLimit: &max, ChargingLimit: maxBatteryPower, DischargingLimit: 0, ForcedAction: ForcedStop}
	case stateengine.ModeBuy:
		return InitialState{ExportLimit: &max, ChargingLimit: maxBatteryPower, DischargingLimit: maxBatteryPower, ForcedAction: ForcedStartCharge}
	case stateengine.ModeSell:
		return InitialState{ExportLimit: &max, ChargingLimit: maxBatteryPower, DischargingLimit: maxBatteryPower, ForcedAction: ForcedStartDischarge}
	case stateengine.ModeFRRUp, stateengine.ModeFRRDown:
		return InitialState{ExportLimit: &max, ChargingLimit: maxBatteryPower, DischargingLimit: maxBatteryPower, ForcedAction: ForcedStop}
	default:
		return InitialState{ExportLimit: &max, ChargingLimit: maxBatteryPower, DischargingLimit: maxBatteryPower, ForcedAction: ForcedStop}
	}
}

// ToolSequence returns the deficit-order tool sequence for mode (spec §4.7 table). Callers reverse it for
// surplus before execution.
func ToolSequence(mode stateengine.Mode) []string {
	switch mode {
	case stateengine.ModeNormal:
		return []string{"charging_adjustment", "forced_discharging"}
	case stateengine.ModeLimitExport:
		return []string{"charging_adjustment", "export_limitation", "forced_discharging"}
	case stateengine.ModePVSell:
		return []string{"charging_adjustment", "forced_discharging"}
	case stateengine.ModeNoBattery:
		return []string{"forced_discharging", "charging_adjustment"}
	case stateengine.ModeSaveBattery:
		return []string{"charging_adjustment", "forced_discharging"}
	case stateengine.ModeBuy:
		return []string{"forced_charging"}
	case stateengine.ModeSell:
		return []string{"forced_discharging"}
	case stateengine.ModeFRRUp:
		return []string{"load_switching", "charging_adjustment", "forced_discharging"}
	case stateengine.ModeFRRDown:
		return []string{"load_switching", "discharge_limitation", "charging_adjustment", "forced_charging"}
	default:
		return nil
	}
}

// Manager tracks the currently active (mode, source) pair and detects transitions.
type Manager struct {
	currentMode   stateengine.Mode
	currentSource Source
	hasMode       bool
	logger        *slog.Logger
}

// New creates an empty Manager; the first call to HandleModeChange always counts as a transition.
func New() *Manager {
	return &Manager{logger: slog.Default()}
}

// TransitionResult describes what HandleModeChange determined happened.
type TransitionResult struct {
	Changed      bool
	InitialState InitialState
}

// HandleModeChange detects whether (mode, source) differs from the currently tracked pair; if so it updates
// the tracked pair and returns the initial state to apply (spec §4.7 "handle_mode_change").
func (m *Manager) HandleModeChange(mode stateengine.Mode, source Source, maxBatteryPower, maxFeedGridPower float64) TransitionResult {
	changed := !m.hasMode || mode != m.currentMode || source != m.currentSource

	if changed {
		m.logger.Info("Mode transition", "from", m.currentMode, "to", mode, "source", source)
		m.currentMode = mode
		m.currentSource = source
		m.hasMode = true
	}

	return TransitionResult{
		Changed:      changed,
		InitialState: InitialStateFor(mode, maxBatteryPower, maxFeedGridPower),
	}
}

// CurrentMode returns the last mode handled by HandleModeChange.
func (m *Manager) CurrentMode() (stateengine.Mode, bool) {
	return m.currentMode, m.hasMode
}
