package fasttrigger

import (
	"testing"
	"time"

	"github.com/cepro/energymgr/stateengine"
	"github.com/stretchr/testify/require"
)

func TestObserveTriggersAfterTwoConsecutiveLowReadings(t *testing.T) {
	trig := New(DefaultThresholdWatts, DefaultMinimumInterval)
	trig.UpdateSubscription(50)

	now := time.Now()
	lastExec := now.Add(-time.Minute)

	require.False(t, trig.Observe(0, -400, stateengine.ModeNormal, false, now, lastExec))
	require.True(t, trig.Observe(0, -400, stateengine.ModeNormal, false, now, lastExec))
}

func TestObserveIgnoredWhenHeatingActive(t *testing.T) {
	trig := New(DefaultThresholdWatts, DefaultMinimumInterval)
	trig.UpdateSubscription(50)

	now := time.Now()
	lastExec := now.Add(-time.Minute)
	trig.Observe(0, -400, stateengine.ModeNormal, true, now, lastExec)
	require.False(t, trig.Observe(0, -400, stateengine.ModeNormal, true, now, lastExec))
}

func TestObserveRespectsMinimumInterval(t *testing.T) {
	trig := New(DefaultThresholdWatts, DefaultMinimumInterval)
	trig.UpdateSubscription(50)

	now := time.Now()
	recentExec := now.Add(-time.Second)

	trig.Observe(0, -400, stateengine.ModeNormal, false, now, recentExec)
	require.False(t, trig.Observe(0, -400, stateengine.ModeNormal, false, now, recentExec))
}

func TestUnsubscribedBelowSOCThreshold(t *testing.T) {
	trig := New(DefaultThresholdWatts, DefaultMinimumInterval)
	trig.UpdateSubscription(3)
	require.False(t, trig.IsSubscribed())

	now := time.Now()
	require.False(t, trig.Observe(0, -400, stateengine.ModeNormal, false, now, now.Add(-time.Minute)))
}
