package datamgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpdateAndGetFresh(t *testing.T) {
	m := New([]EntitySpec{
		{Name: "x", Kind: KindNumeric, MaxAge: time.Second, InvalidAge: time.Minute},
	}, nil)

	m.Update("x", "12.5")
	v, ok := m.Get("x", 0, false)
	require.True(t, ok)
	require.Equal(t, 12.5, v)
}

func TestGetStaleFallsBackToLastKnownWithinInvalidAge(t *testing.T) {
	m := New([]EntitySpec{
		{Name: "x", Kind: KindNumeric, MaxAge: time.Millisecond, InvalidAge: time.Hour},
	}, nil)

	m.Update("x", 7.0)
	time.Sleep(5 * time.Millisecond)

	v, ok := m.Get("x", 0, false)
	require.True(t, ok)
	require.Equal(t, 7.0, v)
}

func TestGetInvalidWithFallback(t *testing.T) {
	m := New([]EntitySpec{
		{Name: EntityPhaseTarget, Kind: KindNumeric, MaxAge: time.Millisecond, InvalidAge: time.Millisecond},
	}, nil)

	m.Update(EntityPhaseTarget, 99.0)
	time.Sleep(5 * time.Millisecond)

	v, ok := m.Get(EntityPhaseTarget, 0, true)
	require.True(t, ok)
	require.Equal(t, FallbackPhaseTarget, v)
}

func TestGetInvalidWithoutFallback(t *testing.T) {
	m := New([]EntitySpec{
		{Name: "x", Kind: KindNumeric, MaxAge: time.Millisecond, InvalidAge: time.Millisecond},
	}, nil)

	m.Update("x", 1.0)
	time.Sleep(5 * time.Millisecond)

	_, ok := m.Get("x", 0, false)
	require.False(t, ok)
}

func TestIsSystemValidRequiresAllCriticalEntities(t *testing.T) {
	specs := []EntitySpec{}
	for _, name := range criticalEntities {
		specs = append(specs, EntitySpec{Name: name, Kind: KindNumeric, MaxAge: time.Minute, InvalidAge: time.Minute})
	}
	m := New(specs, nil)

	require.False(t, m.IsSystemValid())

	for _, name := range criticalEntities {
		m.Update(name, 1.0)
	}
	require.True(t, m.IsSystemValid())
}

func TestParseForcedPowerFlow(t *testing.T) {
	cases := []struct {
		status string
		want   int
	}{
		{"Stopped", 0},
		{"Charging at 1500W", 1500},
		{"Discharging at 800W", -800},
		{"garbage", 0},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ParseForcedPowerFlow(c.status), c.status)
	}
}
