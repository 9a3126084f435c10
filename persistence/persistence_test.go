package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.json"))

	snap, err := store.Load()

	require.NoError(t, err)
	require.Equal(t, Snapshot{}, snap)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "snapshot.json"))
	want := Snapshot{Package: "vork4", WeatherAvgTemp: 12.5, Devices: []DeviceSnapshot{{Name: "boiler", EnergyDebt: 4}}}

	require.NoError(t, store.Save(want))
	got, err := store.Load()

	require.NoError(t, err)
	require.Equal(t, want.Package, got.Package)
	require.Equal(t, want.Devices, got.Devices)
}

func TestPatchDebtUpdatesOnlyTheNamedDevice(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "snapshot.json"))
	require.NoError(t, store.Save(Snapshot{Devices: []DeviceSnapshot{
		{Name: "boiler", EnergyDebt: 10},
		{Name: "heater", EnergyDebt: 5},
	}}))

	require.NoError(t, store.PatchDebt("boiler", 2, &Recovery{DeviceName: "boiler", SlotIndex: 4}))

	snap, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 2, snap.Devices[0].EnergyDebt)
	require.Equal(t, 5, snap.Devices[1].EnergyDebt)
	require.Len(t, snap.RecentRecoveries, 1)
}

func TestPatchDebtCapsRecentRecoveries(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "snapshot.json"))
	require.NoError(t, store.Save(Snapshot{Devices: []DeviceSnapshot{{Name: "boiler"}}}))

	for i := 0; i < maxRecentRecoveries+5; i++ {
		require.NoError(t, store.PatchDebt("boiler", i, &Recovery{DeviceName: "boiler", SlotIndex: i}))
	}

	snap, err := store.Load()
	require.NoError(t, err)
	require.Len(t, snap.RecentRecoveries, maxRecentRecoveries)
	require.Equal(t, maxRecentRecoveries+4, snap.RecentRecoveries[len(snap.RecentRecoveries)-1].SlotIndex)
}

func TestResetDebtZeroesOnlyRequestedDevices(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "snapshot.json"))
	require.NoError(t, store.Save(Snapshot{Devices: []DeviceSnapshot{
		{Name: "boiler", EnergyDebt: 10},
		{Name: "heater", EnergyDebt: 5},
	}}))

	reset, err := store.ResetDebt([]string{"boiler"})

	require.NoError(t, err)
	require.Equal(t, []string{"boiler"}, reset)

	snap, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 0, snap.Devices[0].EnergyDebt)
	require.Equal(t, 5, snap.Devices[1].EnergyDebt)
}

func TestResetDebtWithNoNamesResetsAll(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "snapshot.json"))
	require.NoError(t, store.Save(Snapshot{Devices: []DeviceSnapshot{
		{Name: "boiler", EnergyDebt: 10},
		{Name: "heater", EnergyDebt: 5},
	}}))

	reset, err := store.ResetDebt(nil)

	require.NoError(t, err)
	require.ElementsMatch(t, []string{"boiler", "heater"}, reset)
}
