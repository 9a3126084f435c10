// Package persistence implements the JSON-file snapshot store and the optional rolling-buffer/cloud mirrors
// described in spec §6 "Persistence": a daily API-response snapshot that doubles as the energy-debt store,
// touched field-wise so unrelated keys survive a write.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Recovery is one opportunistic energy-debt payback event, capped at the last 20 (spec §6).
type Recovery struct {
	DeviceName string    `json:"device_name"`
	SlotIndex  int       `json:"slot_index"`
	Timestamp  time.Time `json:"timestamp"`
}

const maxRecentRecoveries = 20

// DeviceSnapshot is the persisted per-device portion of the daily snapshot.
type DeviceSnapshot struct {
	Name       string `json:"name"`
	Slots      [96]bool `json:"slots"`
	EnergyDebt int    `json:"energy_debt"`
}

// PriceSlotSnapshot is the persisted representation of a single priceapi.Slot.
type PriceSlotSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	SpotPrice  float64   `json:"spot_price"`
	NetworkFee float64   `json:"network_fee"`
	TotalPrice float64   `json:"total_price"`
	SlotIndex  int       `json:"slot_index"`
	Hour       int       `json:"hour"`
}

// Snapshot is the full daily persisted document (spec §6 "a daily API response snapshot").
type Snapshot struct {
	CalculatedAt      time.Time           `json:"calculated_at"`
	Prices            []PriceSlotSnapshot `json:"prices"`
	Devices           []DeviceSnapshot    `json:"devices"`
	WeatherAvgTemp    float64             `json:"weather"`
	Package           string              `json:"package"`
	RecentRecoveries  []Recovery          `json:"recent_recoveries"`
}

// Store manages atomic read/write access to the snapshot file.
type Store struct {
	path string
}

// NewStore creates a Store backed by the JSON file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the current snapshot from disk. A missing file yields a zero-value Snapshot and no error.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot file: %w", err)
	}
	return snap, nil
}

// Save writes the full snapshot atomically (write to a temp file, then rename), per spec §6's recommended
// write discipline.
func (s *Store) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp snapshot file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp snapshot file into place: %w", err)
	}
	return nil
}

// PatchDebt updates only the energy_debt field of the named device (and appends recoveries), leaving every
// other key of the persisted document untouched (spec §6, §4.5 "touched field-wise").
func (s *Store) PatchDebt(deviceName string, newDebt int, recovery *Recovery) error {
	snap, err := s.Load()
	if err != nil {
		return err
	}

	found := false
	for i := range snap.Devices {
		if snap.Devices[i].Name == deviceName {
			snap.Devices[i].EnergyDebt = newDebt
			found = true
			break
		}
	}
	if !found {
		snap.Devices = append(snap.Devices, DeviceSnapshot{Name: deviceName, EnergyDebt: newDebt})
	}

	if recovery != nil {
		snap.RecentRecoveries = append(snap.RecentRecoveries, *recovery)
		if len(snap.RecentRecoveries) > maxRecentRecoveries {
			snap.RecentRecoveries = snap.RecentRecoveries[len(snap.RecentRecoveries)-maxRecentRecoveries:]
		}
	}

	return s.Save(snap)
}

// ResetDebt zeroes the energy_debt field for the given device names (or all devices, if names is empty),
// returning the list of device names actually reset (spec §6 "load_scheduler_reset_debt").
func (s *Store) ResetDebt(names []string) ([]string, error) {
	snap, err := s.Load()
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var reset []string
	for i := range snap.Devices {
		if len(want) > 0 && !want[snap.Devices[i].Name] {
			continue
		}
		snap.Devices[i].EnergyDebt = 0
		reset = append(reset, snap.Devices[i].Name)
	}

	if err := s.Save(snap); err != nil {
		return nil, err
	}
	return reset, nil
}
