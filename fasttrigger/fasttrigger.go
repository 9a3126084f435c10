// Package fasttrigger subscribes to per-phase power readings and triggers an early PBC cycle when a large
// load appears, subject to a minimum inter-execution interval and SOC gating (spec C10 "Fast Phase
// Trigger").
package fasttrigger

import (
	"time"

	"github.com/cepro/energymgr/stateengine"
)

// Defaults per spec §4.10.
const (
	DefaultThresholdWatts   = -300.0
	DefaultMinimumInterval  = 10 * time.Second
	historyLength           = 2
)

// Trigger maintains a length-2 history per phase and decides when to fire an early control-loop execution.
type Trigger struct {
	threshold       float64
	minimumInterval time.Duration

	history map[int][]float64

	subscribed bool
}

// New creates a Trigger using the given threshold (watts, typically negative) and minimum interval between
// fast-triggered executions.
func New(threshold float64, minimumInterval time.Duration) *Trigger {
	return &Trigger{
		threshold:       threshold,
		minimumInterval: minimumInterval,
		history:         make(map[int][]float64),
	}
}

// UpdateSubscription re-evaluates the SOC gate each PBC cycle: subscribed only while SOC strictly exceeds
// the discharge-eligibility minimum (spec §4.10 "SOC gating").
func (t *Trigger) UpdateSubscription(batterySOC float64) {
	t.subscribed = batterySOC > stateEngineMinSOC
}

// stateEngineMinSOC mirrors stateengine's battery SOC minimum for discharging, duplicated here as a literal
// because stateengine's own constant is unexported.
const stateEngineMinSOC = 6.0

// IsSubscribed reports whether phase updates are currently being observed.
func (t *Trigger) IsSubscribed() bool {
	return t.subscribed
}

// Observe pushes a new phase reading and reports whether a fast trigger should fire (spec §4.10).
//
// mode and heatingActive are read by the caller from the latest known state; lastExecution is the time of
// the last PBC cycle (periodic or triggered).
func (t *Trigger) Observe(phase int, value float64, mode stateengine.Mode, heatingActive bool, now, lastExecution time.Time) bool {
	if !t.subscribed {
		return false
	}

	hist := append(t.history[phase], value)
	if len(hist) > historyLength {
		hist = hist[len(hist)-historyLength:]
	}
	t.history[phase] = hist

	if heatingActive {
		return false // swallow the event silently
	}

	if len(hist) < historyLength {
		return false
	}
	for _, v := range hist {
		if v > t.threshold {
			return false
		}
	}

	if !modeEligible(mode) {
		return false
	}

	if now.Sub(lastExecution) < t.minimumInterval {
		return false
	}

	return true
}

func modeEligible(mode stateengine.Mode) bool {
	switch mode {
	case stateengine.ModeNormal, stateengine.ModeLimitExport, stateengine.ModePVSell:
		return true
	default:
		return false
	}
}
