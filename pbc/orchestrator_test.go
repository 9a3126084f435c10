package pbc

import (
	"context"
	"testing"
	"time"

	"github.com/cepro/energymgr/actuator"
	"github.com/cepro/energymgr/modemgr"
	"github.com/cepro/energymgr/stateengine"
	"github.com/stretchr/testify/require"
)

type fakeInverter struct {
	chargeCalls    int
	dischargeCalls int
	stopCalls      int
	numberCalls    int
}

func (f *fakeInverter) ForcibleChargeSOC(ctx context.Context, targetSOCPercent, powerWatts int, deviceID string) {
	f.chargeCalls++
}
func (f *fakeInverter) ForcibleDischargeSOC(ctx context.Context, targetSOCPercent, powerWatts int, deviceID string) {
	f.dischargeCalls++
}
func (f *fakeInverter) StopForcibleCharge(ctx context.Context, deviceID string) { f.stopCalls++ }
func (f *fakeInverter) SetMaximumFeedGridPower(ctx context.Context, powerWatts int, deviceID string) {
}
func (f *fakeInverter) ResetMaximumFeedGridPower(ctx context.Context, deviceID string) {}
func (f *fakeInverter) SetNumberValue(ctx context.Context, entity string, valueWatts int) {
	f.numberCalls++
}

type fakeSwitcher struct{}

func (fakeSwitcher) SetSwitch(ctx context.Context, deviceName string, on bool) {}

type fakeSensors struct {
	values map[string]any
	valid  bool
}

func (f *fakeSensors) RefreshAll(ctx context.Context) {}
func (f *fakeSensors) IsSystemValid() bool            { return f.valid }
func (f *fakeSensors) Get(entity string, overrideMaxAge time.Duration, useFallback bool) (any, bool) {
	v, ok := f.values[entity]
	return v, ok
}

func newTestOrchestrator(t *testing.T, sensors *fakeSensors) (*Orchestrator, *fakeInverter) {
	t.Helper()
	inv := &fakeInverter{}
	limits := &Limits{ChargingRateLimit: 5000, DischargingRateLimit: 5000, ExportLimit: 8800}
	tools := Tools{
		ForcedCharging:      actuator.NewForcedCharging(inv, "inverter", &limits.ChargingRateLimit),
		ForcedDischarging:   actuator.NewForcedDischarging(inv, "inverter", &limits.DischargingRateLimit),
		ChargingAdjustment:  actuator.NewChargingAdjustment(inv),
		DischargeLimitation: actuator.NewDischargeLimitation(inv),
		ExportLimitation:    actuator.NewExportLimitation(inv, "inverter"),
		LoadSwitching:       actuator.NewLoadSwitching(fakeSwitcher{}),
	}
	loc := time.UTC
	orch := New(sensors, modemgr.New(), tools, limits, func() []actuator.Device { return nil }, "inverter", loc, 5000, 8800)
	return orch, inv
}

func TestCycleSkipsWhenSystemInvalid(t *testing.T) {
	sensors := &fakeSensors{valid: false, values: map[string]any{}}
	orch, inv := newTestOrchestrator(t, sensors)

	orch.Cycle(context.Background())

	require.Equal(t, 0, inv.chargeCalls)
	require.Equal(t, 0, inv.dischargeCalls)
}

func TestCycleSkipsOnUnknownMode(t *testing.T) {
	sensors := &fakeSensors{valid: true, values: map[string]any{
		"phase_a_power": 100.0, "phase_b_power": 100.0, "phase_c_power": 100.0,
		"battery_soc": 50.0, "battery_power": 0.0, "phase_target": 20.0,
		"mode": "not-a-real-mode", "source": "optimizer", "qw_power_limit": 0.0,
	}}
	orch, inv := newTestOrchestrator(t, sensors)

	orch.Cycle(context.Background())

	require.Equal(t, 0, inv.chargeCalls)
	require.Equal(t, 0, inv.dischargeCalls)
}

func TestCycleAppliesInitialStateOnModeTransitionIntoBuy(t *testing.T) {
	sensors := &fakeSensors{valid: true, values: map[string]any{
		"phase_a_power": 100.0, "phase_b_power": 100.0, "phase_c_power": 100.0,
		"battery_soc": 50.0, "battery_power": 0.0, "phase_target": 20.0,
		"mode": string(stateengine.ModeBuy), "source": string(modemgr.SourceOptimizer), "qw_power_limit": 1000.0,
	}}
	orch, inv := newTestOrchestrator(t, sensors)

	var events []string
	orch.OnEvent = func(eventType, message string, details map[string]any) {
		events = append(events, eventType)
	}

	orch.Cycle(context.Background())

	require.Equal(t, 1, inv.chargeCalls, "buy mode's initial state should start a forced charge at qw_power_limit")
	require.Contains(t, events, "mode_change", "entering buy mode for the first time should fire a mode_change event")
}

func TestCycleHeatingInterlockSkipsBalancingInNormalMode(t *testing.T) {
	sensors := &fakeSensors{valid: true, values: map[string]any{
		"phase_a_power": -500.0, "phase_b_power": -500.0, "phase_c_power": -500.0,
		"battery_soc": 50.0, "battery_power": 0.0, "phase_target": 20.0,
		"mode": string(stateengine.ModeNormal), "source": string(modemgr.SourceOptimizer), "qw_power_limit": 0.0,
		"heating_active": true,
	}}
	orch, inv := newTestOrchestrator(t, sensors)

	orch.Cycle(context.Background())

	require.Equal(t, 0, inv.dischargeCalls)
	require.Equal(t, float64(0), orch.limits.DischargingRateLimit)
}
