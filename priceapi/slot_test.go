package priceapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func buildDay(prices []float64) Day {
	start := time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)
	day := make(Day, len(prices))
	for i, p := range prices {
		day[i] = Slot{Timestamp: start.Add(time.Duration(i) * 15 * time.Minute), TotalPrice: p, SlotIndex: i}
	}
	return day
}

func TestDayValidateRejectsWrongLength(t *testing.T) {
	day := buildDay(make([]float64, 10))
	require.False(t, day.Validate())
}

func TestDayValidateAcceptsFullMonotonicDay(t *testing.T) {
	day := buildDay(make([]float64, 96))
	require.True(t, day.Validate())
}

func TestDayValidateRejectsGapInTimestamps(t *testing.T) {
	day := buildDay(make([]float64, 96))
	day[50].Timestamp = day[50].Timestamp.Add(time.Hour)
	require.False(t, day.Validate())
}

func TestDayCloneIsIndependent(t *testing.T) {
	day := buildDay([]float64{1, 2, 3})
	clone := day.Clone()
	clone[0].AlwaysOn = true

	require.False(t, day[0].AlwaysOn, "mutating the clone must not affect the original")
}

func TestGetCheapestSlotsReturnsCheapestNByPrice(t *testing.T) {
	slots := []Slot{
		{TotalPrice: 5}, {TotalPrice: 1}, {TotalPrice: 3}, {TotalPrice: 2}, {TotalPrice: 4},
	}
	indices := GetCheapestSlots(slots, 2, nil, nil)
	require.Equal(t, []int{1, 3}, indices)
}

func TestGetCheapestSlotsRespectsPercentileRankWindow(t *testing.T) {
	slots := make([]Slot, 10)
	for i := range slots {
		slots[i] = Slot{TotalPrice: float64(i)}
	}
	minRank, maxRank := 50.0, 100.0
	indices := GetCheapestSlots(slots, 10, &minRank, &maxRank)

	// ranks are 100*i/10; only i>=5 satisfies rank>=50.
	require.Equal(t, []int{5, 6, 7, 8, 9}, indices)
}

func TestGetCheapestSlotsClampsNToAvailableCount(t *testing.T) {
	slots := []Slot{{TotalPrice: 1}, {TotalPrice: 2}}
	require.Len(t, GetCheapestSlots(slots, 10, nil, nil), 2)
	require.Empty(t, GetCheapestSlots(slots, -1, nil, nil))
}
