package actuator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeInverter struct {
	chargeCalls    int
	dischargeCalls int
	stopCalls      int
	numberCalls    []int
}

func (f *fakeInverter) ForcibleChargeSOC(ctx context.Context, targetSOCPercent int, powerWatts int, deviceID string) {
	f.chargeCalls++
}
func (f *fakeInverter) ForcibleDischargeSOC(ctx context.Context, targetSOCPercent int, powerWatts int, deviceID string) {
	f.dischargeCalls++
}
func (f *fakeInverter) StopForcibleCharge(ctx context.Context, deviceID string) { f.stopCalls++ }
func (f *fakeInverter) SetMaximumFeedGridPower(ctx context.Context, powerWatts int, deviceID string) {}
func (f *fakeInverter) ResetMaximumFeedGridPower(ctx context.Context, deviceID string)                {}
func (f *fakeInverter) SetNumberValue(ctx context.Context, entity string, valueWatts int) {
	f.numberCalls = append(f.numberCalls, valueWatts)
}

func TestForcedChargingIdempotentNoOp(t *testing.T) {
	inv := &fakeInverter{}
	limit := MaxBatteryPower
	tool := NewForcedCharging(inv, "dev1", &limit)

	// current forced_power_flow already at 1000W; incremental remaining=0 keeps target==current.
	result := tool.Execute(context.Background(), 0, 1000, 1000, false, false)

	require.False(t, result.ActionIssued)
	require.Equal(t, 0, inv.chargeCalls)
	require.Equal(t, 0, inv.stopCalls)
}

func TestForcedDischargingRealizationGateBlocksThenOverridesAfterThreeAttempts(t *testing.T) {
	inv := &fakeInverter{}
	limit := MaxBatteryPower
	tool := NewForcedDischarging(inv, "dev1", &limit)

	// commanded=0 (current), observed battery power far off -> gate should block until override.
	for i := 0; i < forcedDischargeRealizationOverrideAttempts; i++ {
		result := tool.Execute(context.Background(), -500, 0, 2000, false)
		require.False(t, result.ActionIssued, "attempt %d should be blocked", i)
	}

	result := tool.Execute(context.Background(), -500, 0, 2000, false)
	require.True(t, result.ActionIssued, "4th attempt should override the realization gate")
	require.Equal(t, 1, inv.dischargeCalls)
}

func TestRealizationGateBlocksWhenNotRealized(t *testing.T) {
	require.True(t, realizationGateBlocks(1000, 0))
	require.False(t, realizationGateBlocks(1000, 950))
}

func TestChargingAdjustmentSkipsBelowMinimumChange(t *testing.T) {
	inv := &fakeInverter{}
	tool := NewChargingAdjustment(inv)

	result := tool.Execute(context.Background(), 5, 1000, 0, false, false)

	require.False(t, result.ActionIssued)
	require.Empty(t, inv.numberCalls)
}

func TestLoadSwitchingPrefersUndershoot(t *testing.T) {
	switcher := &fakeSwitcher{}
	tool := NewLoadSwitching(switcher)

	devices := []Device{
		{Name: "big", EstimatedPower: 3000, CurrentlyOn: true, Enabled: true},
		{Name: "small", EstimatedPower: 800, CurrentlyOn: true, Enabled: true},
	}

	result := tool.Execute(context.Background(), devices, -1000, true)

	require.True(t, result.ActionIssued)
	require.Equal(t, []string{"small"}, switcher.turnedOff)
}

type fakeSwitcher struct {
	turnedOff []string
	turnedOn  []string
}

func (f *fakeSwitcher) SetSwitch(ctx context.Context, deviceName string, on bool) {
	if on {
		f.turnedOn = append(f.turnedOn, deviceName)
	} else {
		f.turnedOff = append(f.turnedOff, deviceName)
	}
}
