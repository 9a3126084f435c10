package actuator

import (
	"context"
	"log/slog"
	"sort"
)

// LoadSwitching implements the mFRR load-switching tool (spec §4.6 "Load-switching tool").
type LoadSwitching struct {
	cooldownState
	switcher LoadSwitcher
	logger   *slog.Logger
}

// NewLoadSwitching creates a LoadSwitching tool.
func NewLoadSwitching(switcher LoadSwitcher) *LoadSwitching {
	return &LoadSwitching{switcher: switcher, logger: slog.Default()}
}

// Execute selects devices to switch off (frrup, need more export) or on (frrdown, need more import), greedily
// preferring undershoot of the remaining power need, and issues the switching actions.
//
// isFRRUp selects among currently-ON eligible devices to turn OFF; otherwise among currently-OFF eligible
// devices to turn ON. remaining must already carry the correct sign per the mode (negative for frrup,
// positive for frrdown) as computed by the caller.
func (t *LoadSwitching) Execute(ctx context.Context, devices []Device, remaining float64, isFRRUp bool) Result {
	need := remaining
	if isFRRUp {
		need = -remaining
	}
	if need <= 0 {
		return Result{ActionIssued: false, Remaining: remaining, Reason: "no load-switching need"}
	}

	eligible := make([]Device, 0, len(devices))
	for _, d := range devices {
		if !d.Enabled {
			continue
		}
		if d.WeatherAdjusted && !d.MinimumSlotsMet {
			continue // commitment honored: minimum slots must already be delivered
		}
		if isFRRUp && d.CurrentlyOn {
			eligible = append(eligible, d)
		}
		if !isFRRUp && !d.CurrentlyOn {
			eligible = append(eligible, d)
		}
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].EstimatedPower > eligible[j].EstimatedPower })

	selected := selectUndershoot(eligible, need)
	if len(selected) == 0 {
		return Result{ActionIssued: false, Remaining: remaining, Reason: "no eligible devices"}
	}

	var satisfied float64
	commands := make([]SwitchCommand, 0, len(selected))
	for _, d := range selected {
		t.switcher.SetSwitch(ctx, d.Name, !isFRRUp)
		commands = append(commands, SwitchCommand{DeviceName: d.Name, On: !isFRRUp})
		satisfied += d.EstimatedPower
	}
	t.recordCommand()

	consumed := satisfied
	if isFRRUp {
		consumed = -consumed
	}
	return Result{ActionIssued: true, Remaining: remaining - consumed, Reason: "issued"}
}

// selectUndershoot greedily picks devices (already sorted by descending power) whose cumulative power stays
// within `need`, preferring to undershoot rather than overshoot the target.
func selectUndershoot(devices []Device, need float64) []Device {
	selected := make([]Device, 0, len(devices))
	var cumulative float64
	for _, d := range devices {
		if cumulative+d.EstimatedPower <= need {
			selected = append(selected, d)
			cumulative += d.EstimatedPower
		}
	}
	if len(selected) == 0 && len(devices) > 0 {
		// Nothing fits without overshoot; take the single smallest device as the closest undershoot attempt.
		smallest := devices[len(devices)-1]
		selected = append(selected, smallest)
	}
	return selected
}
