package modemgr

import (
	"testing"

	"github.com/cepro/energymgr/stateengine"
	"github.com/stretchr/testify/require"
)

func TestResolveOnlyKrattPermittedForFRRModes(t *testing.T) {
	require.NoError(t, Resolve(stateengine.ModeFRRUp, SourceKratt))
	require.ErrorIs(t, Resolve(stateengine.ModeFRRUp, SourceOptimizer), ErrSourceMismatch)
	require.ErrorIs(t, Resolve(stateengine.ModeFRRDown, SourceManual), ErrSourceMismatch)
}

func TestResolveKrattRejectedForNonFRRModes(t *testing.T) {
	require.ErrorIs(t, Resolve(stateengine.ModeNormal, SourceKratt), ErrSourceMismatch)
	require.NoError(t, Resolve(stateengine.ModeNormal, SourceOptimizer))
}

func TestResolveUnknownMode(t *testing.T) {
	require.ErrorIs(t, Resolve(stateengine.Mode("not-a-mode"), SourceOptimizer), ErrUnknownMode)
}

func TestInitialStateForBuyStartsForcedCharge(t *testing.T) {
	initial := InitialStateFor(stateengine.ModeBuy, 5000, 8800)
	require.Equal(t, ForcedStartCharge, initial.ForcedAction)
	require.Equal(t, 5000.0, initial.ChargingLimit)
}

func TestInitialStateForPVSellBlocksCharging(t *testing.T) {
	initial := InitialStateFor(stateengine.ModePVSell, 5000, 8800)
	require.Equal(t, 0.0, initial.ChargingLimit)
	require.Equal(t, 5000.0, initial.DischargingLimit)
}

func TestInitialStateForLimitExportKeepsCurrentExportLimit(t *testing.T) {
	initial := InitialStateFor(stateengine.ModeLimitExport, 5000, 8800)
	require.Nil(t, initial.ExportLimit, "limitexport should not reset the export limit")
}

func TestToolSequenceBuySellAreSingleStep(t *testing.T) {
	require.Equal(t, []string{"forced_charging"}, ToolSequence(stateengine.ModeBuy))
	require.Equal(t, []string{"forced_discharging"}, ToolSequence(stateengine.ModeSell))
}

func TestHandleModeChangeDetectsFirstAndRepeatTransitions(t *testing.T) {
	m := New()

	first := m.HandleModeChange(stateengine.ModeNormal, SourceOptimizer, 5000, 8800)
	require.True(t, first.Changed, "first call always counts as a transition")

	repeat := m.HandleModeChange(stateengine.ModeNormal, SourceOptimizer, 5000, 8800)
	require.False(t, repeat.Changed)

	sourceOnly := m.HandleModeChange(stateengine.ModeNormal, SourceManual, 5000, 8800)
	require.True(t, sourceOnly.Changed, "a source change alone is still a transition")

	mode, ok := m.CurrentMode()
	require.True(t, ok)
	require.Equal(t, stateengine.ModeNormal, mode)
}
