package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	timeutils "github.com/cepro/energymgr/time_utils"
	"github.com/cepro/energymgr/switchclient"
)

// autoOffDelaySeconds covers one 15-minute slot plus margin (spec §4.4 materialization).
const autoOffDelaySeconds = 910

// switchID is always 0: every managed device exposes a single relay.
const switchID = 0

// Materializer pushes a device's ScheduledSlots onto its physical smart switch as auto-off config plus one
// cron-like Schedule.Create call per distinct minute offset.
type Materializer struct {
	interOpDelay time.Duration
	windowStart  func(now time.Time) time.Time
	logger       *slog.Logger
}

// NewMaterializer creates a Materializer that waits interOpDelay between mutating switch calls (spec §4.4:
// "between any two mutating switch calls, wait the configured inter-operation delay").
func NewMaterializer(interOpDelay time.Duration) *Materializer {
	return &Materializer{interOpDelay: interOpDelay, logger: slog.Default()}
}

// Materialize deletes any schedules the device already has recorded, reconfigures the switch's auto-off (or
// auto-on, if InvertedLogic) delay, and creates one schedule per minute offset (0/15/30/45) among
// dev.ScheduledSlots, storing the new ids on dev.ScheduleIDs.
func (m *Materializer) Materialize(ctx context.Context, client *switchclient.Client, dev *LoadDevice) error {
	for offset, id := range dev.ScheduleIDs {
		if err := client.DeleteSchedule(ctx, id); err != nil {
			m.logger.Error("Failed to delete existing schedule", "device", dev.Name, "offset", offset, "error", err)
		}
		m.wait()
	}
	dev.ScheduleIDs = make(map[string]int)

	if err := client.SetConfig(ctx, switchID, dev.InvertedLogic, autoOffDelaySeconds); err != nil {
		m.logger.Error("Failed to configure switch auto-off", "device", dev.Name, "error", err)
		return err
	}
	m.wait()

	byOffset := groupByMinuteOffset(dev.ScheduledSlots)

	offsets := make([]int, 0, len(byOffset))
	for offset := range byOffset {
		offsets = append(offsets, offset)
	}
	sort.Ints(offsets)

	onCommand := !dev.InvertedLogic

	for _, offset := range offsets {
		hours := byOffset[offset]
		id, err := client.CreateSchedule(ctx, switchID, offset, hours, onCommand)
		if err != nil {
			m.logger.Error("Failed to create schedule", "device", dev.Name, "offset", offset, "error", err)
			return err
		}
		dev.ScheduleIDs[minuteOffsetKey(offset)] = id
		m.wait()
	}

	return nil
}

func (m *Materializer) wait() {
	if m.interOpDelay > 0 {
		time.Sleep(m.interOpDelay)
	}
}

// groupByMinuteOffset converts the 96-slot boolean pattern into a map of minute-offset (0/15/30/45) to the
// sorted list of wall-clock hours that are ON at that offset.
func groupByMinuteOffset(scheduled [96]bool) map[int][]int {
	out := map[int][]int{}
	for i, on := range scheduled {
		if !on {
			continue
		}
		hour := timeutils.HourOfSlot(i)
		offset := minuteOffsetOfSlot(i)
		out[offset] = append(out[offset], hour)
	}
	for offset := range out {
		sort.Ints(out[offset])
	}
	return out
}

// minuteOffsetOfSlot returns which quarter-hour (0/15/30/45) slot index i falls on.
func minuteOffsetOfSlot(i int) int {
	return (i % 4) * 15
}

func minuteOffsetKey(offset int) string {
	switch offset {
	case 0:
		return "0"
	case 15:
		return "15"
	case 30:
		return "30"
	default:
		return "45"
	}
}
