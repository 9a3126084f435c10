package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequiredSlotsReturnsMinSlotsAboveThreshold(t *testing.T) {
	require.Equal(t, 4, RequiredSlots(20, 1.5, 0.5, 24, 4))
}

func TestRequiredSlotsIncreasesAsTemperatureDrops(t *testing.T) {
	warm := RequiredSlots(10, 1.5, 0.5, 24, 4)
	cold := RequiredSlots(-5, 1.5, 0.5, 24, 4)
	require.Greater(t, cold, warm)
}

func TestRequiredSlotsDefaultsPowerFactorWhenZero(t *testing.T) {
	withZero := RequiredSlots(5, 1.5, 0, 24, 4)
	withDefault := RequiredSlots(5, 1.5, defaultPowerFactor, 24, 4)
	require.Equal(t, withDefault, withZero)
}

func TestRequiredSlotsClampsToPeriodMaximum(t *testing.T) {
	slots := RequiredSlots(-30, 5, 2, 6, 4)
	require.LessOrEqual(t, slots, 6*4)
}

func TestRequiredSlotsScalesDownForShorterPeriod(t *testing.T) {
	full := RequiredSlots(-5, 1.5, 0.5, 24, 0)
	half := RequiredSlots(-5, 1.5, 0.5, 12, 0)
	require.LessOrEqual(t, half, full)
}

func TestAverageTempAtAveragesPointsWithinWindow(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []HourlyPoint{
		{Time: from, TempCelsius: 10},
		{Time: from.Add(time.Hour), TempCelsius: 20},
		{Time: from.Add(2 * time.Hour), TempCelsius: 30}, // outside a 2h window
	}

	avg, ok := AverageTempAt(points, from, 2)
	require.True(t, ok)
	require.Equal(t, 15.0, avg)
}

func TestAverageTempAtReturnsFalseWithNoPoints(t *testing.T) {
	_, ok := AverageTempAt(nil, time.Now(), 24)
	require.False(t, ok)
}
