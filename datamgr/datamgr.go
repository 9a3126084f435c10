// Package datamgr caches sensor readings with per-entity freshness thresholds, and provides the fallback
// policy and system-validity predicate that the rest of the controller relies on.
//
// It is the sole owner of the sensor cache (spec §3 "Ownership"): every other component holds a read-only
// handle and must go through Get/IsSensorValid/IsSystemValid rather than keeping its own copy.
package datamgr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Kind is the declared type of an entity's value.
type Kind string

const (
	KindNumeric Kind = "numeric"
	KindString  Kind = "string"
	KindBoolean Kind = "boolean"
)

// refreshThrottle bounds how often a stale entity is actively re-fetched.
const refreshThrottle = 5 * time.Second

// Critical entity names used by IsSystemValid, per spec §4.1.
const (
	EntityPhaseA      = "phase_a_power"
	EntityPhaseB      = "phase_b_power"
	EntityPhaseC      = "phase_c_power"
	EntityTotalGrid   = "total_grid_power"
	EntityBatterySoc  = "battery_soc"
	EntityBatteryPower = "battery_power"
	EntityPhaseTarget = "phase_target"
)

var criticalEntities = []string{
	EntityPhaseA, EntityPhaseB, EntityPhaseC, EntityTotalGrid, EntityBatterySoc, EntityBatteryPower, EntityPhaseTarget,
}

// Refresher performs a synchronous fetch of a single entity's current value (e.g. an MQTT retained-message
// read, or an inverter register poll). It returns the raw value to store.
type Refresher func(entity string) (any, error)

// entry holds the cached state for a single entity.
type entry struct {
	value             any
	timestamp         time.Time
	lastRefreshAttempt time.Time
	refreshCount      int
	errorCount        int
	avgUpdateInterval time.Duration
	lastUpdate        time.Time

	kind           Kind
	maxAge         time.Duration
	invalidAge     time.Duration
}

// Manager is the Data Manager (spec C1): it caches sensor readings and exposes freshness-aware reads.
type Manager struct {
	mu        sync.Mutex
	entries   map[string]*entry
	refresher Refresher
	logger    *slog.Logger
}

// EntitySpec declares the kind and freshness thresholds for a monitored entity.
type EntitySpec struct {
	Name       string
	Kind       Kind
	MaxAge     time.Duration
	InvalidAge time.Duration
}

// New creates a Manager that knows about the given entities, using refresher for active refreshes.
func New(specs []EntitySpec, refresher Refresher) *Manager {
	entries := make(map[string]*entry, len(specs))
	for _, s := range specs {
		entries[s.Name] = &entry{
			kind:       s.Kind,
			maxAge:     s.MaxAge,
			invalidAge: s.InvalidAge,
		}
	}
	return &Manager{
		entries:   entries,
		refresher: refresher,
		logger:    slog.Default(),
	}
}

// Update stores a freshly observed value for entity, coercing numeric kinds to float64 where possible, and
// updates the rolling average of the inter-update interval with an alpha=0.1 exponential smoothing.
func (m *Manager) Update(entity string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entity]
	if !ok {
		e = &entry{kind: KindString, maxAge: time.Minute, invalidAge: 5 * time.Minute}
		m.entries[entity] = e
	}

	now := time.Now()
	if e.kind == KindNumeric {
		value = coerceFloat(value)
	}

	if !e.lastUpdate.IsZero() {
		interval := now.Sub(e.lastUpdate)
		if e.avgUpdateInterval == 0 {
			e.avgUpdateInterval = interval
		} else {
			e.avgUpdateInterval = time.Duration(0.1*float64(interval) + 0.9*float64(e.avgUpdateInterval))
		}
	}

	e.value = value
	e.timestamp = now
	e.lastUpdate = now
}

// coerceFloat attempts to convert value to a float64; on failure the original value is returned unchanged
// (spec §4.1: "failed coercion preserves the original string").
func coerceFloat(value any) any {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return v
		}
		return f
	default:
		return v
	}
}

// Get returns the cached value for entity if it is fresh enough, performing a throttled synchronous
// refresh attempt if it's stale. overrideMaxAge, if non-zero, replaces the entity's configured max age for
// this call. If useFallback is true and the value turns out to be invalid, the spec §4.1 fallback value for
// that entity is returned instead of ok=false.
func (m *Manager) Get(entity string, overrideMaxAge time.Duration, useFallback bool) (any, bool) {
	m.mu.Lock()
	e, ok := m.entries[entity]
	if !ok {
		m.mu.Unlock()
		return fallbackFor(entity, useFallback)
	}

	maxAge := e.maxAge
	if overrideMaxAge > 0 {
		maxAge = overrideMaxAge
	}

	now := time.Now()
	age := now.Sub(e.timestamp)
	fresh := e.timestamp.IsZero() == false && age <= maxAge
	value := e.value
	invalid := e.timestamp.IsZero() || now.Sub(e.timestamp) > e.invalidAge

	canRefresh := m.refresher != nil && now.Sub(e.lastRefreshAttempt) >= refreshThrottle
	m.mu.Unlock()

	if fresh {
		return value, true
	}

	if canRefresh {
		m.refresh(entity, e)
		m.mu.Lock()
		value = e.value
		fresh = now.Sub(e.timestamp) <= maxAge
		invalid = now.Sub(e.timestamp) > e.invalidAge
		m.mu.Unlock()
		if fresh {
			return value, true
		}
	}

	if invalid {
		return fallbackFor(entity, useFallback)
	}

	// Stale but not yet invalid: return the last known value (TransientSensorStale, spec §7).
	return value, true
}

// refresh performs a synchronous fetch via the configured Refresher, throttled to at most once per 5s.
func (m *Manager) refresh(entity string, e *entry) {
	m.mu.Lock()
	e.lastRefreshAttempt = time.Now()
	m.mu.Unlock()

	value, err := m.refresher(entity)

	m.mu.Lock()
	defer m.mu.Unlock()
	e.refreshCount++
	if err != nil {
		e.errorCount++
		m.logger.Error("Sensor refresh failed", "entity", entity, "error", err)
		return
	}
	if e.kind == KindNumeric {
		value = coerceFloat(value)
	}
	e.value = value
	e.timestamp = time.Now()
}

// IsSensorValid returns true if entity's last update is within its configured invalid_age.
func (m *Manager) IsSensorValid(entity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entity]
	if !ok || e.timestamp.IsZero() {
		return false
	}
	return time.Since(e.timestamp) <= e.invalidAge
}

// IsSystemValid returns true only if every critical entity (phase powers, total grid, battery SOC, battery
// power, phase target) is currently valid.
func (m *Manager) IsSystemValid() bool {
	for _, name := range criticalEntities {
		if !m.IsSensorValid(name) {
			return false
		}
	}
	return true
}

// Fallback values, applied only when use_fallback=true and the underlying value is invalid (spec §4.1).
const (
	FallbackMode         = "normal"
	FallbackSource       = "optimizer"
	FallbackSwitchOn     = false
	FallbackPhaseTarget  = 20.0
	FallbackRangeLow     = 15.0
	FallbackRangeHigh    = 50.0
)

func fallbackFor(entity string, useFallback bool) (any, bool) {
	if !useFallback {
		return nil, false
	}
	switch entity {
	case "mode":
		return FallbackMode, true
	case "source":
		return FallbackSource, true
	case EntityPhaseTarget:
		return FallbackPhaseTarget, true
	case "range_low":
		return FallbackRangeLow, true
	case "range_high":
		return FallbackRangeHigh, true
	default:
		if isSwitchEntity(entity) {
			return FallbackSwitchOn, true
		}
		return nil, false
	}
}

func isSwitchEntity(entity string) bool {
	return len(entity) > 7 && entity[len(entity)-7:] == "_switch"
}

// ParseForcedPowerFlow maps the inverter's forced-charge status string to a signed watt value: positive for
// charging, negative for discharging, 0 for "Stopped" or any unrecognised string.
func ParseForcedPowerFlow(status string) int {
	var watts int
	switch {
	case status == "Stopped":
		return 0
	case scanForced(status, "Charging at %dW", &watts):
		return watts
	case scanForced(status, "Discharging at %dW", &watts):
		return -watts
	default:
		slog.Default().Error("Failed to parse forced power status", "status", status)
		return 0
	}
}

func scanForced(status, format string, out *int) bool {
	_, err := fmt.Sscanf(status, format, out)
	return err == nil
}

// RefreshAll actively refreshes every known entity; intended to be called synchronously once per PBC cycle
// (spec §4.9 step 2 "Synchronously refresh all monitored sensors").
func (m *Manager) RefreshAll(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.Get(name, 0, false)
	}
}
