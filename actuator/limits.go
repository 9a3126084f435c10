package actuator

import (
	"context"
	"log/slog"
	"math"
)

// ChargingAdjustment is the charging-rate-limit adjustment tool (spec §4.6, §4.9 "charging_adjustment").
type ChargingAdjustment struct {
	cooldownState
	inverter InverterServices
	logger   *slog.Logger
}

// NewChargingAdjustment creates a ChargingAdjustment tool.
func NewChargingAdjustment(inverter InverterServices) *ChargingAdjustment {
	return &ChargingAdjustment{inverter: inverter, logger: slog.Default()}
}

// Execute raises the charging limit on surplus, or lowers it on deficit, per the §4.9 tool handler table.
// batteryDischarging reports whether the battery is currently discharging (blocks a limit raise);
// isFRRDownDeficit reports whether this call is for frrdown-mode deficit handling, which skips entirely to
// preserve headroom for the forced charger.
func (t *ChargingAdjustment) Execute(ctx context.Context, remaining, currentLimit, currentBatteryPower float64, batteryDischarging, isFRRDownDeficit bool) Result {
	if remaining < 0 && isFRRDownDeficit {
		return Result{ActionIssued: false, Remaining: remaining, Reason: "skipped for frrdown deficit"}
	}

	var target float64
	if remaining > 0 {
		if batteryDischarging {
			return Result{ActionIssued: false, Remaining: remaining, Reason: "battery discharging, raise skipped"}
		}
		target = currentLimit + math.Min(remaining, MaxBatteryPower-currentLimit)
	} else {
		if currentBatteryPower != 0 {
			target = currentBatteryPower + remaining
		} else {
			target = currentLimit + remaining
		}
	}

	clamped := clampTarget(target, MaxBatteryPower)

	if math.Abs(float64(clamped)-currentLimit) < minChargingAdjustWatts {
		t.logIdempotentSkip(t.logger, "charging_adjustment", float64(clamped))
		return Result{ActionIssued: false, Remaining: 0, Reason: "below minimum change"}
	}

	if !t.readyAfter(chargingAdjustCooldown, false) {
		return Result{ActionIssued: false, Remaining: remaining, Reason: "cooldown"}
	}

	t.inverter.SetNumberValue(ctx, "charging_rate_limit", clamped)
	t.recordCommand()

	consumed := float64(clamped) - currentLimit
	return Result{ActionIssued: true, Remaining: remaining - consumed, Reason: "issued"}
}

// DischargeLimitation is the bidirectional discharge-rate-limit tool (spec §4.9 "discharge_limitation").
type DischargeLimitation struct {
	cooldownState
	inverter InverterServices
	logger   *slog.Logger
}

// NewDischargeLimitation creates a DischargeLimitation tool.
func NewDischargeLimitation(inverter InverterServices) *DischargeLimitation {
	return &DischargeLimitation{inverter: inverter, logger: slog.Default()}
}

// Execute lowers or raises the discharge cap to absorb `remaining` (positive = surplus, negative = deficit).
func (t *DischargeLimitation) Execute(ctx context.Context, remaining, currentLimit float64) Result {
	target := currentLimit - remaining
	clamped := clampTarget(target, MaxBatteryPower)

	if math.Abs(float64(clamped)-currentLimit) < minDischargeAdjustWatts {
		t.logIdempotentSkip(t.logger, "discharge_limitation", float64(clamped))
		return Result{ActionIssued: false, Remaining: 0, Reason: "below minimum change"}
	}

	if !t.readyAfter(chargingAdjustCooldown, false) {
		return Result{ActionIssued: false, Remaining: remaining, Reason: "cooldown"}
	}

	t.inverter.SetNumberValue(ctx, "discharging_rate_limit", clamped)
	t.recordCommand()

	consumed := currentLimit - float64(clamped)
	return Result{ActionIssued: true, Remaining: remaining - consumed, Reason: "issued"}
}

// ExportLimitation is the export-limitation tool, surplus-only, used in limitexport mode (spec §4.6, §4.9).
type ExportLimitation struct {
	cooldownState
	inverter InverterServices
	deviceID string
	logger   *slog.Logger
}

// NewExportLimitation creates an ExportLimitation tool.
func NewExportLimitation(inverter InverterServices, deviceID string) *ExportLimitation {
	return &ExportLimitation{inverter: inverter, deviceID: deviceID, logger: slog.Default()}
}

// Execute lowers the feed-grid-power limit by `remaining` watts of surplus. Deficit calls are a no-op.
func (t *ExportLimitation) Execute(ctx context.Context, remaining, currentLimit float64) Result {
	if remaining <= 0 {
		return Result{ActionIssued: false, Remaining: remaining, Reason: "export limitation is surplus-only"}
	}

	target := currentLimit - remaining
	clamped := clampTarget(target, MaxFeedGridPower)

	if math.Abs(float64(clamped)-currentLimit) < minExportAdjustWatts {
		t.logIdempotentSkip(t.logger, "export_limitation", float64(clamped))
		return Result{ActionIssued: false, Remaining: 0, Reason: "below minimum change"}
	}

	if !t.readyAfter(exportLimitCooldown, false) {
		return Result{ActionIssued: false, Remaining: remaining, Reason: "cooldown"}
	}

	if clamped >= int(MaxFeedGridPower) {
		t.inverter.ResetMaximumFeedGridPower(ctx, t.deviceID)
	} else {
		t.inverter.SetMaximumFeedGridPower(ctx, clamped, t.deviceID)
	}
	t.recordCommand()

	consumed := currentLimit - float64(clamped)
	return Result{ActionIssued: true, Remaining: remaining - consumed, Reason: "issued"}
}
