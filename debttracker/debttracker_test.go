package debttracker

import (
	"testing"
	"time"

	"github.com/cepro/energymgr/priceapi"
	"github.com/cepro/energymgr/scheduler"
	timeutils "github.com/cepro/energymgr/time_utils"
	"github.com/stretchr/testify/require"
)

func buildDay(loc *time.Location, target time.Time) priceapi.Day {
	start := timeutils.WindowStart(target, loc)
	day := make(priceapi.Day, timeutils.SlotsPerDay)
	for i := range day {
		day[i] = priceapi.Slot{
			Timestamp:  start.Add(time.Duration(i) * timeutils.SlotDuration),
			TotalPrice: 0.10,
			SlotIndex:  i,
		}
	}
	return day
}

func TestTickAccruesDebtWhenScheduledOnButActualOff(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)
	day := buildDay(loc, now)

	dev := &scheduler.LoadDevice{Name: "boiler", MaxEnergyDebt: 100}
	idx, ok := timeutils.SlotIndexAt(now, loc)
	require.True(t, ok)
	dev.ScheduledSlots[idx] = true

	_, ok = Tick(dev, day, now, loc, false, MFRRNone)
	require.True(t, ok)
	require.Equal(t, 1, dev.EnergyDebt)
}

func TestTickPaysBackDebtWhenScheduledOffButActualOn(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)
	day := buildDay(loc, now)

	dev := &scheduler.LoadDevice{Name: "boiler", MaxEnergyDebt: 100, EnergyDebt: 5}

	_, ok := Tick(dev, day, now, loc, true, MFRRNone)
	require.True(t, ok)
	require.Equal(t, 4, dev.EnergyDebt)
}

func TestTickSkipsRecoveryDuringMFRR(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)
	day := buildDay(loc, now)

	dev := &scheduler.LoadDevice{
		Name: "boiler", MaxEnergyDebt: 100, EnergyDebt: 20,
		RecoveryWindowHours: 4, MaxRecoveryPrice: 50,
	}

	recovery, ok := Tick(dev, day, now, loc, false, MFRRUp)
	require.True(t, ok)
	require.Nil(t, recovery)
}

func TestTickRecoversInCheapestUnscheduledSlot(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)
	day := buildDay(loc, now)
	idx, _ := timeutils.SlotIndexAt(now, loc)
	day[idx].TotalPrice = 0.01 // make the current slot the cheapest candidate

	dev := &scheduler.LoadDevice{
		Name: "boiler", MaxEnergyDebt: 100, EnergyDebt: 15,
		RecoveryWindowHours: 4, MaxRecoveryPrice: 50,
	}

	recovery, ok := Tick(dev, day, now, loc, false, MFRRNone)
	require.True(t, ok)
	require.NotNil(t, recovery)
	require.Equal(t, idx, recovery.SlotIndex)
}

// TestTickRecoversAtEarlierOfTwoNeededSlots mirrors a 30-minute debt needing two 15-minute recovery slots:
// with the two cheapest unscheduled candidates at the current slot and three slots later, both make the
// cut and the current minute fires a turn-on.
func TestTickRecoversAtEarlierOfTwoNeededSlots(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)
	day := buildDay(loc, now)
	k, _ := timeutils.SlotIndexAt(now, loc)
	day[k].TotalPrice = 0.01
	day[k+3].TotalPrice = 0.02

	dev := &scheduler.LoadDevice{
		Name: "boiler", MaxEnergyDebt: 100, EnergyDebt: 30,
		RecoveryWindowHours: 4, MaxRecoveryPrice: 50,
	}

	recovery, ok := Tick(dev, day, now, loc, false, MFRRNone)
	require.True(t, ok)
	require.NotNil(t, recovery)
	require.Equal(t, k, recovery.SlotIndex)
}
