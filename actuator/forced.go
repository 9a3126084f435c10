package actuator

import (
	"context"
	"log/slog"
	"math"
)

// realizationTolerance returns the allowed gap between a commanded forced-power-flow and the observed
// battery power before a new command is suppressed (spec §4.6 "Realization gate").
func realizationTolerance(commanded float64) float64 {
	return math.Max(200, 0.15*math.Abs(commanded))
}

// ForcedCharging is the forced-charging tool (spec §4.6, §4.9 "forced_charging").
type ForcedCharging struct {
	cooldownState
	inverter         InverterServices
	deviceID         string
	chargingRateLimit *float64 // pointer so a limit-raise can be observed by the caller
	logger           *slog.Logger
}

// NewForcedCharging creates a ForcedCharging tool bound to the given inverter device and a pointer to the
// current charging_rate_limit so limit-raising side effects (spec §4.6) are visible to the caller.
func NewForcedCharging(inverter InverterServices, deviceID string, chargingRateLimit *float64) *ForcedCharging {
	return &ForcedCharging{inverter: inverter, deviceID: deviceID, chargingRateLimit: chargingRateLimit, logger: slog.Default()}
}

// Execute applies a deficit/surplus delta to the charging target. In buy/sell modes the delta is an
// absolute target; otherwise it's incremental against the current forced_power_flow.
//
// remaining is positive = surplus to absorb (charge more), as per the §4.9 sign convention. current is the
// current forced_power_flow (positive = charging).
func (t *ForcedCharging) Execute(ctx context.Context, remaining, current, batteryPower float64, absoluteTarget bool, override bool) Result {
	var target float64
	if absoluteTarget {
		target = remaining
	} else {
		target = current + remaining
	}

	clamped := clampTarget(target, MaxBatteryPower)

	if float64(clamped) == current {
		t.logIdempotentSkip(t.logger, "forced_charging", float64(clamped))
		return Result{ActionIssued: false, Remaining: 0, Reason: "idempotent"}
	}

	if !t.readyAfter(forcedCooldown, override) {
		return Result{ActionIssued: false, Remaining: remaining, Reason: "cooldown"}
	}

	if !override && realizationGateBlocks(current, batteryPower) {
		return Result{ActionIssued: false, Remaining: remaining, Reason: "not realized"}
	}

	if t.chargingRateLimit != nil && float64(clamped) > *t.chargingRateLimit {
		*t.chargingRateLimit = math.Max(float64(clamped), MaxBatteryPower)
		t.inverter.SetNumberValue(ctx, "charging_rate_limit", int(*t.chargingRateLimit))
	}

	if clamped == 0 {
		t.inverter.StopForcibleCharge(ctx, t.deviceID)
	} else {
		t.inverter.ForcibleChargeSOC(ctx, int(BatterySOCMaximumForCharging), clamped, t.deviceID)
	}
	t.recordCommand()

	return Result{ActionIssued: true, Remaining: 0, Reason: "issued"}
}

// ForcedDischarging is the forced-discharging tool (spec §4.6, §4.9 "forced_discharging").
type ForcedDischarging struct {
	cooldownState
	inverter            InverterServices
	deviceID            string
	dischargingRateLimit *float64
	suppressedAttempts  int
	logger              *slog.Logger
}

// NewForcedDischarging creates a ForcedDischarging tool.
func NewForcedDischarging(inverter InverterServices, deviceID string, dischargingRateLimit *float64) *ForcedDischarging {
	return &ForcedDischarging{inverter: inverter, deviceID: deviceID, dischargingRateLimit: dischargingRateLimit, logger: slog.Default()}
}

// Execute mirrors ForcedCharging.Execute with the deficit/surplus sign interpretation flipped: a negative
// remaining raises the discharge target. current is the current forced_power_flow (negative = discharging).
func (t *ForcedDischarging) Execute(ctx context.Context, remaining, current, batteryPower float64, absoluteTarget bool) Result {
	currentDischarge := -current
	var target float64
	if absoluteTarget {
		target = -remaining
	} else {
		target = currentDischarge - remaining
	}

	clamped := clampTarget(target, MaxBatteryPower)

	if float64(clamped) == currentDischarge {
		t.logIdempotentSkip(t.logger, "forced_discharging", float64(clamped))
		t.suppressedAttempts = 0
		return Result{ActionIssued: false, Remaining: 0, Reason: "idempotent"}
	}

	override := t.suppressedAttempts >= forcedDischargeRealizationOverrideAttempts

	if !t.readyAfter(forcedCooldown, override) {
		return Result{ActionIssued: false, Remaining: remaining, Reason: "cooldown"}
	}

	if !override && realizationGateBlocks(current, batteryPower) {
		t.suppressedAttempts++
		return Result{ActionIssued: false, Remaining: remaining, Reason: "not realized"}
	}

	if t.dischargingRateLimit != nil && float64(clamped) > *t.dischargingRateLimit {
		*t.dischargingRateLimit = math.Max(float64(clamped), MaxBatteryPower)
		t.inverter.SetNumberValue(ctx, "discharging_rate_limit", int(*t.dischargingRateLimit))
	}

	if clamped == 0 {
		t.inverter.StopForcibleCharge(ctx, t.deviceID)
	} else {
		t.inverter.ForcibleDischargeSOC(ctx, int(BatterySOCMinimumForDischarging), clamped, t.deviceID)
	}
	t.recordCommand()
	t.suppressedAttempts = 0

	return Result{ActionIssued: true, Remaining: 0, Reason: "issued"}
}

// Reset clears the suppressed-attempt counter (spec §4.6: "reset the counter on realization or emergency").
func (t *ForcedDischarging) Reset() {
	t.suppressedAttempts = 0
}

// realizationGateBlocks reports whether the previous forced command has not yet been realized by the
// inverter (spec §4.6 "Realization gate").
func realizationGateBlocks(commanded, observed float64) bool {
	return math.Abs(observed-commanded) > realizationTolerance(commanded)
}
