// Package history keeps the two-tier history the dashboard's history view reads from: an in-memory
// circular buffer of once-a-minute state snapshots covering the last 24h, and a persistent log of the
// major events (mode transitions, load switching) that a snapshot alone can't explain. Grounded on
// PbrHistoryManager in the original implementation.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxSnapshots covers 24h of once-a-minute snapshots.
const maxSnapshots = 24 * 60

// maxEvents bounds the in-memory and persisted event log; older events are dropped.
const maxEvents = 100

// Snapshot is a single once-a-minute state sample.
type Snapshot struct {
	Timestamp    time.Time `json:"ts"`
	Phases       [3]float64 `json:"phases"`
	BatterySOC   float64   `json:"battery_soc"`
	GridPower    float64   `json:"grid_power"`
	SolarPower   float64   `json:"solar_power"`
	BatteryPower float64   `json:"battery_power"`
	Mode         string    `json:"mode"`
}

// Event is a significant, human-readable occurrence such as a mode transition or a load switching command.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      string         `json:"type"`
	Message   string         `json:"msg"`
	Details   map[string]any `json:"details,omitempty"`
}

// Window is the result of a history query: every snapshot and event newer than the requested cutoff.
type Window struct {
	Snapshots []Snapshot `json:"snapshots"`
	Events    []Event    `json:"events"`
}

// Manager accumulates snapshots in memory and events in memory plus on disk. It is safe for concurrent use;
// the PBC orchestrator and the debt-tick loop write to it while the dashboard reads from it.
type Manager struct {
	mu        sync.Mutex
	path      string
	snapshots []Snapshot
	events    []Event
}

// NewManager creates a Manager whose event log is persisted at path. Any events already on disk are loaded
// immediately so a restart doesn't lose recent history.
func NewManager(path string) *Manager {
	m := &Manager{path: path}
	m.loadEvents()
	return m
}

// AddSnapshot appends a once-a-minute state sample, dropping the oldest once the 24h buffer is full.
func (m *Manager) AddSnapshot(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots = append(m.snapshots, s)
	if len(m.snapshots) > maxSnapshots {
		m.snapshots = m.snapshots[len(m.snapshots)-maxSnapshots:]
	}
}

// AddEvent records a significant event and persists the updated log. Persistence failures are returned but
// never lose the in-memory record, matching the original's log-and-continue behavior.
func (m *Manager) AddEvent(eventType, message string, details map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, Event{Timestamp: time.Now(), Type: eventType, Message: message, Details: details})
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
	return m.saveEventsLocked()
}

// GetHistory returns every snapshot and event newer than now-within.
func (m *Manager) GetHistory(within time.Duration) Window {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-within)
	w := Window{}
	for _, s := range m.snapshots {
		if s.Timestamp.After(cutoff) {
			w.Snapshots = append(w.Snapshots, s)
		}
	}
	for _, e := range m.events {
		if e.Timestamp.After(cutoff) {
			w.Events = append(w.Events, e)
		}
	}
	return w
}

func (m *Manager) loadEvents() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return
	}
	m.events = events
}

func (m *Manager) saveEventsLocked() error {
	data, err := json.Marshal(m.events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".events-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp events file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp events file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp events file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp events file into place: %w", err)
	}
	return nil
}
