// Package actuator implements the six control tools the PBC orchestrator sequences each cycle: forced
// charging, forced discharging, charging-rate adjustment, discharge-rate limitation, export limitation and
// load switching (spec C6 "Actuator Tools").
package actuator

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Boundaries shared by every tool (spec §4.6).
const (
	MaxBatteryPower               = 5000.0
	MaxFeedGridPower              = 8800.0
	BatterySOCMinimumForDischarging = 6.0
	BatterySOCMaximumForCharging  = 100.0

	forcedCooldown            = 5 * time.Second
	chargingAdjustCooldown    = 3 * time.Second
	exportLimitCooldown       = 3 * time.Second

	minChargingAdjustWatts = 10.0
	minExportAdjustWatts   = 200.0
	minDischargeAdjustWatts = 10.0

	idempotentLogThrottle = 5 * time.Minute

	forcedDischargeRealizationOverrideAttempts = 3
)

// InverterServices is the outbound, fire-and-forget interface to the inverter (spec §6 "Inverter
// services"). Every call is asynchronous; completion is observed only via later sensor readings.
type InverterServices interface {
	ForcibleChargeSOC(ctx context.Context, targetSOCPercent int, powerWatts int, deviceID string)
	ForcibleDischargeSOC(ctx context.Context, targetSOCPercent int, powerWatts int, deviceID string)
	StopForcibleCharge(ctx context.Context, deviceID string)
	SetMaximumFeedGridPower(ctx context.Context, powerWatts int, deviceID string)
	ResetMaximumFeedGridPower(ctx context.Context, deviceID string)
	SetNumberValue(ctx context.Context, entity string, valueWatts int)
}

// SwitchCommand is a single load on/off action the load-switching tool decides to issue.
type SwitchCommand struct {
	DeviceName string
	On         bool
}

// LoadSwitcher issues the fire-and-forget physical switch command for the load-switching tool.
type LoadSwitcher interface {
	SetSwitch(ctx context.Context, deviceName string, on bool)
}

// Device describes one schedulable load as seen by the load-switching tool (spec §4.6).
type Device struct {
	Name               string
	EstimatedPower     float64
	CurrentlyOn        bool
	Enabled            bool
	WeatherAdjusted    bool
	MinimumSlotsMet    bool // true if a weather-adjusted device has already delivered its minimum slots today
}

// clampTarget rounds to integer watts and clamps to [0, max] (spec §4.6 "All target values...").
func clampTarget(target, max float64) int {
	if target < 0 {
		target = 0
	}
	if target > max {
		target = max
	}
	return int(math.Round(target))
}

// cooldownState is embedded into each tool to track per-tool rate limiting.
type cooldownState struct {
	lastCommandTime time.Time
	lastIdempotentLog time.Time
}

func (c *cooldownState) readyAfter(cooldown time.Duration, override bool) bool {
	if override {
		return true
	}
	return time.Since(c.lastCommandTime) >= cooldown
}

func (c *cooldownState) recordCommand() {
	c.lastCommandTime = time.Now()
}

func (c *cooldownState) logIdempotentSkip(logger *slog.Logger, tool string, value float64) {
	if time.Since(c.lastIdempotentLog) < idempotentLogThrottle {
		return
	}
	c.lastIdempotentLog = time.Now()
	logger.Info("Actuator idempotent skip", "tool", tool, "value", value)
}

// Result describes what a tool did this call: whether a command was issued, and the new remaining
// battery_flow_change for the rest of the sequence (spec §4.9 step 11).
type Result struct {
	ActionIssued bool
	Remaining    float64
	Reason       string
}
